package security

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/pulseboard/pulseboard/internal/audit"
	"github.com/pulseboard/pulseboard/internal/shared"
)

// AuditRecorder appends entries to the audit trail, best effort.
type AuditRecorder interface {
	Record(ctx context.Context, entry audit.Entry)
}

// BanList maintains the IP-keyed ban registry. Bans are created
// automatically when an address accumulates rate-limit violations and
// cleared either by TTL expiry or an explicit, audited unban.
type BanList struct {
	store  Store
	policy Policy
	audits AuditRecorder
	logger *slog.Logger
	now    func() time.Time
}

// NewBanList constructs a BanList.
func NewBanList(store Store, policy Policy, audits AuditRecorder, logger *slog.Logger) *BanList {
	if logger == nil {
		logger = slog.Default()
	}
	return &BanList{store: store, policy: policy, audits: audits, logger: logger, now: time.Now}
}

// IsBanned reports whether the address is currently blocked. A store error
// is logged and reported as not banned; the limiter behind this check
// still fails closed, so an outage cannot be exploited for volume.
func (b *BanList) IsBanned(ctx context.Context, ip string) (BanEntry, bool) {
	entry, ok, err := b.store.GetBan(ctx, ip)
	if err != nil {
		b.logger.Error("ban lookup failed", slog.String("ip", ip), slog.Any("error", err))
		return BanEntry{}, false
	}
	return entry, ok
}

// RecordViolation counts one rate-limit violation for the address and
// escalates to a ban once the configured threshold is crossed within the
// violation interval. Repeat offenses while banned move up the tier
// ladder; the expiry never moves earlier than it already was.
func (b *BanList) RecordViolation(ctx context.Context, ip string) (*BanEntry, error) {
	count, err := b.store.IncrViolations(ctx, ip, b.policy.ViolationInterval)
	if err != nil {
		return nil, fmt.Errorf("security: record violation: %w", err)
	}
	if count < int64(b.policy.ViolationThreshold) {
		return nil, nil
	}

	now := b.now()
	offense := 1
	expiresAt := now.Add(b.policy.TierTTL(offense))
	if existing, ok, err := b.store.GetBan(ctx, ip); err != nil {
		return nil, fmt.Errorf("security: load existing ban: %w", err)
	} else if ok {
		offense = existing.Violations + 1
		escalated := now.Add(b.policy.TierTTL(offense))
		if escalated.After(existing.ExpiresAt) {
			expiresAt = escalated
		} else {
			expiresAt = existing.ExpiresAt
		}
	}

	entry := BanEntry{
		IP:         ip,
		BannedAt:   now,
		ExpiresAt:  expiresAt,
		Violations: offense,
	}
	if err := b.store.PutBan(ctx, entry); err != nil {
		return nil, err
	}
	if err := b.store.ResetViolations(ctx, ip); err != nil {
		b.logger.Warn("reset violations failed", slog.String("ip", ip), slog.Any("error", err))
	}
	b.logger.Warn("address banned",
		slog.String("ip", ip),
		slog.Int("offense", offense),
		slog.Time("expires_at", expiresAt))
	return &entry, nil
}

// ListActive returns every live ban sorted by remaining TTL, longest first.
func (b *BanList) ListActive(ctx context.Context) ([]BanEntry, error) {
	entries, err := b.store.ListBans(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ExpiresAt.After(entries[j].ExpiresAt)
	})
	return entries, nil
}

// Unban clears a ban immediately, regardless of remaining TTL. The action
// is audited with the operator's identity.
func (b *BanList) Unban(ctx context.Context, actor shared.Actor, ip string) error {
	removed, err := b.store.DeleteBan(ctx, ip)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("security: no active ban for %s: %w", ip, shared.ErrNotFound)
	}
	if err := b.store.ResetViolations(ctx, ip); err != nil {
		b.logger.Warn("reset violations failed", slog.String("ip", ip), slog.Any("error", err))
	}
	if b.audits != nil {
		b.audits.Record(ctx, audit.Entry{
			Action:    ActionIPUnbanned,
			Resource:  "ban_entry",
			EntityID:  ip,
			ActorID:   actor.UserID,
			IP:        actor.IP,
			UserAgent: actor.UserAgent,
		})
	}
	return nil
}

// PruneExpired reclaims expired state; wired to the background sweep job.
func (b *BanList) PruneExpired(ctx context.Context) (int, error) {
	return b.store.PruneExpired(ctx)
}

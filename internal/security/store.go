package security

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists rate windows, violation counters and ban entries. The
// Redis implementation survives restarts and serves multiple instances;
// the in-memory implementation serves a single process and tests.
type Store interface {
	// IncrWindow atomically increments the counter for a window key,
	// arming its expiry on first increment, and returns the new count.
	IncrWindow(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// IncrViolations bumps the per-address violation counter, arming the
	// interval expiry on first increment.
	IncrViolations(ctx context.Context, ip string, interval time.Duration) (int64, error)
	ResetViolations(ctx context.Context, ip string) error

	PutBan(ctx context.Context, entry BanEntry) error
	GetBan(ctx context.Context, ip string) (BanEntry, bool, error)
	DeleteBan(ctx context.Context, ip string) (bool, error)
	ListBans(ctx context.Context) ([]BanEntry, error)

	// PruneExpired reclaims expired windows and ban index entries.
	PruneExpired(ctx context.Context) (int, error)
}

const (
	banKeyPrefix       = "security:ban:"
	banIndexKey        = "security:bans"
	violationKeyPrefix = "security:violations:"
)

// RedisStore backs the abuse-prevention layer with Redis.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisStore constructs a RedisStore.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

// IncrWindow increments a window counter; the TTL carries a grace period so
// a window outlives its own duration slightly before reclamation.
func (s *RedisStore) IncrWindow(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("security: incr window: %w", err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("security: arm window expiry: %w", err)
		}
	}
	return count, nil
}

func (s *RedisStore) IncrViolations(ctx context.Context, ip string, interval time.Duration) (int64, error) {
	key := violationKeyPrefix + ip
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("security: incr violations: %w", err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, key, interval).Err(); err != nil {
			return 0, fmt.Errorf("security: arm violation expiry: %w", err)
		}
	}
	return count, nil
}

func (s *RedisStore) ResetViolations(ctx context.Context, ip string) error {
	return s.client.Del(ctx, violationKeyPrefix+ip).Err()
}

func (s *RedisStore) PutBan(ctx context.Context, entry BanEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	ttl := entry.TTLRemaining(s.now())
	if ttl <= 0 {
		return errors.New("security: ban already expired")
	}
	if err := s.client.Set(ctx, banKeyPrefix+entry.IP, payload, ttl).Err(); err != nil {
		return fmt.Errorf("security: put ban: %w", err)
	}
	score := float64(entry.ExpiresAt.Unix())
	if err := s.client.ZAdd(ctx, banIndexKey, redis.Z{Score: score, Member: entry.IP}).Err(); err != nil {
		return fmt.Errorf("security: index ban: %w", err)
	}
	return nil
}

func (s *RedisStore) GetBan(ctx context.Context, ip string) (BanEntry, bool, error) {
	payload, err := s.client.Get(ctx, banKeyPrefix+ip).Bytes()
	if errors.Is(err, redis.Nil) {
		return BanEntry{}, false, nil
	}
	if err != nil {
		return BanEntry{}, false, fmt.Errorf("security: get ban: %w", err)
	}
	var entry BanEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return BanEntry{}, false, err
	}
	if !entry.Active(s.now()) {
		return BanEntry{}, false, nil
	}
	return entry, true, nil
}

func (s *RedisStore) DeleteBan(ctx context.Context, ip string) (bool, error) {
	removed, err := s.client.Del(ctx, banKeyPrefix+ip).Result()
	if err != nil {
		return false, fmt.Errorf("security: delete ban: %w", err)
	}
	if err := s.client.ZRem(ctx, banIndexKey, ip).Err(); err != nil {
		return false, fmt.Errorf("security: unindex ban: %w", err)
	}
	return removed > 0, nil
}

func (s *RedisStore) ListBans(ctx context.Context) ([]BanEntry, error) {
	now := s.now()
	ips, err := s.client.ZRangeByScore(ctx, banIndexKey, &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", now.Unix()),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("security: list bans: %w", err)
	}
	entries := make([]BanEntry, 0, len(ips))
	for _, ip := range ips {
		entry, ok, err := s.GetBan(ctx, ip)
		if err != nil {
			return nil, err
		}
		if ok {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// PruneExpired trims expired members from the ban index; the ban keys
// themselves expire via their TTL.
func (s *RedisStore) PruneExpired(ctx context.Context) (int, error) {
	removed, err := s.client.ZRemRangeByScore(ctx, banIndexKey, "-inf",
		fmt.Sprintf("%d", s.now().Unix())).Result()
	if err != nil {
		return 0, fmt.Errorf("security: prune bans: %w", err)
	}
	return int(removed), nil
}

const memoryShards = 16

type memoryCounter struct {
	count     int64
	expiresAt time.Time
}

type memoryShard struct {
	mu       sync.Mutex
	counters map[string]*memoryCounter
}

// MemoryStore is a sharded in-process Store for single-instance
// deployments and tests.
type MemoryStore struct {
	shards [memoryShards]*memoryShard

	mu         sync.Mutex
	bans       map[string]BanEntry
	violations map[string]*memoryCounter

	now func() time.Time
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		bans:       make(map[string]BanEntry),
		violations: make(map[string]*memoryCounter),
		now:        time.Now,
	}
	for i := range s.shards {
		s.shards[i] = &memoryShard{counters: make(map[string]*memoryCounter)}
	}
	return s
}

func (s *MemoryStore) shard(key string) *memoryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%memoryShards]
}

func (s *MemoryStore) IncrWindow(_ context.Context, key string, ttl time.Duration) (int64, error) {
	shard := s.shard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	now := s.now()
	counter, ok := shard.counters[key]
	if !ok || counter.expiresAt.Before(now) {
		counter = &memoryCounter{expiresAt: now.Add(ttl)}
		shard.counters[key] = counter
	}
	counter.count++
	return counter.count, nil
}

func (s *MemoryStore) IncrViolations(_ context.Context, ip string, interval time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	counter, ok := s.violations[ip]
	if !ok || counter.expiresAt.Before(now) {
		counter = &memoryCounter{expiresAt: now.Add(interval)}
		s.violations[ip] = counter
	}
	counter.count++
	return counter.count, nil
}

func (s *MemoryStore) ResetViolations(_ context.Context, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.violations, ip)
	return nil
}

func (s *MemoryStore) PutBan(_ context.Context, entry BanEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bans[entry.IP] = entry
	return nil
}

func (s *MemoryStore) GetBan(_ context.Context, ip string) (BanEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.bans[ip]
	if !ok || !entry.Active(s.now()) {
		return BanEntry{}, false, nil
	}
	return entry, true, nil
}

func (s *MemoryStore) DeleteBan(_ context.Context, ip string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.bans[ip]
	delete(s.bans, ip)
	return ok, nil
}

func (s *MemoryStore) ListBans(_ context.Context) ([]BanEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	entries := make([]BanEntry, 0, len(s.bans))
	for _, entry := range s.bans {
		if entry.Active(now) {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (s *MemoryStore) PruneExpired(_ context.Context) (int, error) {
	now := s.now()
	removed := 0
	for _, shard := range s.shards {
		shard.mu.Lock()
		for key, counter := range shard.counters {
			if counter.expiresAt.Before(now) {
				delete(shard.counters, key)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	s.mu.Lock()
	for ip, entry := range s.bans {
		if !entry.Active(now) {
			delete(s.bans, ip)
			removed++
		}
	}
	for ip, counter := range s.violations {
		if counter.expiresAt.Before(now) {
			delete(s.violations, ip)
			removed++
		}
	}
	s.mu.Unlock()
	return removed, nil
}

package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"
)

// Pruner reclaims expired abuse-prevention state.
type Pruner interface {
	PruneExpired(ctx context.Context) (int, error)
}

// SecuritySweepJob runs the periodic reclamation of expired rate windows,
// violation counters and ban index entries.
type SecuritySweepJob struct {
	pruner Pruner
	logger *slog.Logger
}

// NewSecuritySweepJob constructs a SecuritySweepJob.
func NewSecuritySweepJob(pruner Pruner, logger *slog.Logger) *SecuritySweepJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &SecuritySweepJob{pruner: pruner, logger: logger}
}

// Handle processes TaskSecuritySweep tasks.
func (j *SecuritySweepJob) Handle(ctx context.Context, _ *asynq.Task) error {
	removed, err := j.pruner.PruneExpired(ctx)
	if err != nil {
		j.logger.Error("security sweep failed", slog.Any("error", err))
		return err
	}
	j.logger.Info("security sweep done",
		slog.String("job", "security_sweep"),
		slog.Int("removed", removed))
	return nil
}

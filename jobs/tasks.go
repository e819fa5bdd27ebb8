package jobs

import (
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSecuritySweep reclaims expired rate windows and ban index entries.
	TaskSecuritySweep = "security:sweep"
)

// NewSecuritySweepTask constructs an Asynq task. The sweep carries no
// payload; everything it needs lives in the store.
func NewSecuritySweepTask() *asynq.Task {
	return asynq.NewTask(TaskSecuritySweep, nil)
}

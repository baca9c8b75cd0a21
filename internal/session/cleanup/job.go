// Package cleanup runs the periodic sweep of expired and revoked refresh sessions on asynq.
package cleanup

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/hibiken/asynq"

	"edge-guard/backend/internal/telemetry"
	"edge-guard/backend/internal/telemetry/domain"
)

// TaskType is the asynq task name of the sweep.
const TaskType = "session:cleanup"

const (
	// DefaultCronSpec runs the sweep hourly.
	DefaultCronSpec = "@every 1h"
	// DefaultRetention keeps expired or revoked sessions for a day before deletion.
	DefaultRetention = 24 * time.Hour
	taskTimeout      = 2 * time.Minute
)

// Sweeper deletes sessions that expired or were revoked before a cutoff.
type Sweeper interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// NewTask returns the sweep task. It is unique per retention window so overlapping schedules do not pile up.
func NewTask() *asynq.Task {
	return asynq.NewTask(TaskType, nil, asynq.MaxRetry(1), asynq.Timeout(taskTimeout), asynq.Unique(time.Minute))
}

// Handler processes sweep tasks.
type Handler struct {
	sessions  Sweeper
	retention time.Duration
	events    telemetry.EventEmitter
	now       func() time.Time
}

// NewHandler returns a Handler deleting sessions older than retention. events may be nil.
func NewHandler(sessions Sweeper, retention time.Duration, events telemetry.EventEmitter) *Handler {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Handler{sessions: sessions, retention: retention, events: events, now: time.Now}
}

// ProcessTask implements asynq.Handler.
func (h *Handler) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	cutoff := h.now().UTC().Add(-h.retention)
	n, err := h.sessions.DeleteExpired(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("session cleanup: %w", err)
	}
	log.Printf("session cleanup: deleted %d sessions older than %s", n, cutoff.Format(time.RFC3339))
	if n > 0 {
		telemetry.EmitAsync(h.events, &domain.SecurityEvent{
			Type:     domain.EventSessionsPurged,
			Source:   "worker",
			Metadata: map[string]string{"deleted": strconv.FormatInt(n, 10), "cutoff": cutoff.Format(time.RFC3339)},
		})
	}
	return nil
}

// Register routes TaskType to h on mux.
func Register(mux *asynq.ServeMux, h *Handler) {
	mux.Handle(TaskType, h)
}

// Schedule registers the sweep on scheduler with cronspec (DefaultCronSpec when empty) and returns the entry id.
func Schedule(scheduler *asynq.Scheduler, cronspec string) (string, error) {
	if cronspec == "" {
		cronspec = DefaultCronSpec
	}
	id, err := scheduler.Register(cronspec, NewTask())
	if err != nil {
		return "", fmt.Errorf("session cleanup: schedule %q: %w", cronspec, err)
	}
	return id, nil
}

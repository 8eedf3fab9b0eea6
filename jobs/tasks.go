// Package jobs defines the background tasks that repair auth state the
// request path could only handle best-effort.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/lexofis/lexofis/internal/auth"
	"github.com/lexofis/lexofis/internal/profile"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeProfileReconcile retries creation of a profile record whose
	// credential identity was already registered.
	TaskTypeProfileReconcile = "auth:profile_reconcile"
	// TaskTypeLastLoginStamp retries a failed last-login update.
	TaskTypeLastLoginStamp = "auth:last_login_stamp"
)

// ProfileReconcilePayload carries the profile record to (re)create.
type ProfileReconcilePayload struct {
	User auth.User `json:"user"`
}

// LastLoginStampPayload carries a pending last-login update.
type LastLoginStampPayload struct {
	UserID string    `json:"user_id"`
	At     time.Time `json:"at"`
}

// NewProfileReconcileTask constructs an Asynq task.
func NewProfileReconcileTask(payload ProfileReconcilePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeProfileReconcile, data), nil
}

// NewLastLoginStampTask constructs an Asynq task.
func NewLastLoginStampTask(payload LastLoginStampPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeLastLoginStamp, data), nil
}

// Handlers processes auth repair tasks against the profile repository.
type Handlers struct {
	profiles auth.ProfileRepository
	logger   *slog.Logger
	metrics  *Metrics
}

// NewHandlers constructs task handlers. metrics may be nil.
func NewHandlers(profiles auth.ProfileRepository, logger *slog.Logger, metrics *Metrics) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{profiles: profiles, logger: logger, metrics: metrics}
}

func (h *Handlers) track(task string) *Tracker {
	if h.metrics == nil {
		return nil
	}
	return h.metrics.Track(task)
}

// HandleProfileReconcile processes TaskTypeProfileReconcile tasks. A profile
// that appeared in the meantime counts as reconciled.
func (h *Handlers) HandleProfileReconcile(ctx context.Context, t *asynq.Task) error {
	tracker := h.track(TaskTypeProfileReconcile)
	var payload ProfileReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return tracker.End(asynq.SkipRetry)
	}
	err := h.profiles.Create(ctx, &payload.User)
	if err != nil {
		if errors.Is(err, profile.ErrExists) {
			return tracker.End(nil)
		}
		return tracker.End(err)
	}
	h.logger.Info("profile reconciled", slog.String("user_id", payload.User.ID))
	return tracker.End(nil)
}

// HandleLastLoginStamp processes TaskTypeLastLoginStamp tasks. A missing
// profile is not retried; the reconcile task owns that case.
func (h *Handlers) HandleLastLoginStamp(ctx context.Context, t *asynq.Task) error {
	tracker := h.track(TaskTypeLastLoginStamp)
	var payload LastLoginStampPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return tracker.End(asynq.SkipRetry)
	}
	if err := h.profiles.TouchLastLogin(ctx, payload.UserID, payload.At); err != nil {
		if errors.Is(err, auth.ErrProfileMissing) {
			return tracker.End(asynq.SkipRetry)
		}
		return tracker.End(err)
	}
	return tracker.End(nil)
}

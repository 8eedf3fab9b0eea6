package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Reconciler folds externally observed auth state changes into the locally
// held session. Both its events and manual calls mutate state through the
// same manager, so a single ordering applies.
type Reconciler struct {
	manager *Manager
	source  EventSource
	logger  *slog.Logger
}

// NewReconciler constructs a Reconciler.
func NewReconciler(manager *Manager, source EventSource, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{manager: manager, source: source, logger: logger}
}

// Run consumes events until the context is cancelled or the source closes.
func (r *Reconciler) Run(ctx context.Context) error {
	events, err := r.source.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("reconciler: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			r.apply(ctx, ev)
		}
	}
}

func (r *Reconciler) apply(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventSignedOut:
		// The grant is already dead elsewhere; drop local state without a
		// second revoke round-trip.
		r.manager.ReconcileSignOut(ctx)
		r.logger.Info("external sign-out reconciled")
	case EventRotated:
		// Pull our view in sync through the one refresh code path instead
		// of trusting the event payload.
		if err := r.manager.RefreshSession(ctx); err != nil {
			if errors.Is(err, ErrNotAuthenticated) {
				return
			}
			r.logger.Warn("reconcile rotation", slog.Any("error", err))
		}
	default:
		r.logger.Warn("unknown auth event", slog.String("kind", string(ev.Kind)))
	}
}

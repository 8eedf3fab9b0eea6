package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/lexofis/lexofis/internal/auth"
)

// Worker wraps the Asynq server processing auth repair tasks.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *slog.Logger
}

// WorkerConfig collects dependencies required to bootstrap the worker.
type WorkerConfig struct {
	RedisOpts asynq.RedisClientOpt
	Logger    *slog.Logger
	Handlers  *Handlers
}

// NewWorker constructs a Worker instance.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Handlers == nil {
		return nil, errors.New("worker: handlers are required")
	}
	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: 5,
		Queues: map[string]int{
			QueueDefault: 1,
		},
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeProfileReconcile, cfg.Handlers.HandleProfileReconcile)
	mux.HandleFunc(TaskTypeLastLoginStamp, cfg.Handlers.HandleLastLoginStamp)

	return &Worker{server: srv, mux: mux, logger: cfg.Logger}, nil
}

// Run starts processing jobs until context cancellation.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("worker: not configured")
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Run(w.mux)
	}()
	select {
	case <-ctx.Done():
		w.server.Shutdown()
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Client submits auth repair jobs to the queue. It implements auth.Backlog.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// EnqueueProfileReconcile queues creation of a missing profile record.
func (c *Client) EnqueueProfileReconcile(ctx context.Context, user auth.User) error {
	task, err := NewProfileReconcileTask(ProfileReconcilePayload{User: user})
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueDefault), asynq.MaxRetry(10), asynq.Timeout(30*time.Second))
	return err
}

// EnqueueLastLoginStamp queues a pending last-login update.
func (c *Client) EnqueueLastLoginStamp(ctx context.Context, userID string, at time.Time) error {
	task, err := NewLastLoginStampTask(LastLoginStampPayload{UserID: userID, At: at})
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueDefault), asynq.MaxRetry(5), asynq.Timeout(30*time.Second))
	return err
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}

var _ auth.Backlog = (*Client)(nil)

package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

type GenerateJobArgs struct {
	JobID uuid.UUID `json:"job_id"`
}

func (GenerateJobArgs) Kind() string { return "generate_image" }

// Runner executes one generation job to a terminal state.
type Runner interface {
	Run(ctx context.Context, jobID uuid.UUID) error
}

type GenerateWorker struct {
	river.WorkerDefaults[GenerateJobArgs]
	runner  Runner
	timeout time.Duration
}

// NewGenerateWorker returns a River worker whose per-job timeout matches the
// generation watchdog.
func NewGenerateWorker(r Runner, timeout time.Duration) *GenerateWorker {
	return &GenerateWorker{runner: r, timeout: timeout}
}

func (w *GenerateWorker) Timeout(*river.Job[GenerateJobArgs]) time.Duration {
	return w.timeout
}

func (w *GenerateWorker) Work(ctx context.Context, job *river.Job[GenerateJobArgs]) error {
	if err := w.runner.Run(ctx, job.Args.JobID); err != nil {
		return fmt.Errorf("run generation %s: %w", job.Args.JobID, err)
	}
	return nil
}

// RiverDispatcher enqueues generation jobs durably in Postgres.
type RiverDispatcher struct {
	client *river.Client[pgx.Tx]
}

func NewRiverDispatcher(client *river.Client[pgx.Tx]) *RiverDispatcher {
	return &RiverDispatcher{client: client}
}

// Dispatch inserts a single-attempt River job. Retrying happens inside the
// provider adapter, and a second attempt would find the job no longer queued.
func (d *RiverDispatcher) Dispatch(ctx context.Context, jobID uuid.UUID) error {
	_, err := d.client.Insert(ctx, GenerateJobArgs{JobID: jobID}, &river.InsertOpts{MaxAttempts: 1})
	return err
}

// PoolDispatcher feeds generation jobs to an in-process Pool.
type PoolDispatcher struct {
	pool    *Pool
	runner  Runner
	timeout time.Duration
}

// NewPoolDispatcher waits at most enqueueTimeout for queue space.
func NewPoolDispatcher(pool *Pool, runner Runner, enqueueTimeout time.Duration) *PoolDispatcher {
	return &PoolDispatcher{pool: pool, runner: runner, timeout: enqueueTimeout}
}

func (d *PoolDispatcher) Dispatch(ctx context.Context, jobID uuid.UUID) error {
	submitCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	err := d.pool.Submit(submitCtx, func(ctx context.Context) {
		_ = d.runner.Run(ctx, jobID)
	})
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// ErrorHandler logs failed and panicking River jobs. Generation jobs left
// running by a panic are closed by the watchdog or the stale-job sweep.
type ErrorHandler struct {
	log *slog.Logger
}

func NewErrorHandler(log *slog.Logger) *ErrorHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ErrorHandler{log: log}
}

var _ river.ErrorHandler = (*ErrorHandler)(nil)

func (h *ErrorHandler) HandleError(ctx context.Context, job *rivertype.JobRow, err error) *river.ErrorHandlerResult {
	h.log.ErrorContext(ctx, "river job failed", "kind", job.Kind, "river_job_id", job.ID, "attempt", job.Attempt, "error", err)
	return nil
}

func (h *ErrorHandler) HandlePanic(ctx context.Context, job *rivertype.JobRow, panicVal any, trace string) *river.ErrorHandlerResult {
	h.log.ErrorContext(ctx, "river job panicked", "kind", job.Kind, "river_job_id", job.ID, "panic", panicVal, "trace", trace)
	return &river.ErrorHandlerResult{SetCancelled: true}
}

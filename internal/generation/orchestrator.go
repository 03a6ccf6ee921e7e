package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mochiface/backend/internal/cache"
	"github.com/mochiface/backend/internal/jobs"
	"github.com/mochiface/backend/internal/ledger"
	"github.com/mochiface/backend/internal/models"
	"github.com/mochiface/backend/internal/provider"
)

var (
	ErrInsufficientCredits = ledger.ErrInsufficientCredits
	ErrUnknownStyle        = errors.New("unknown style")
	ErrMissingSource       = errors.New("source_ref is required")
	ErrTimeoutExceeded     = errors.New("generation timed out")
	ErrQueueUnavailable    = errors.New("generation queue is full")
	ErrNoDispatcher        = errors.New("generation dispatcher not configured")
	ErrJobActive           = errors.New("generation is still in progress")
)

const (
	defaultListLimit = 50
	abandonedMessage = "generation abandoned before completion"
)

// Generator produces a styled image. Satisfied by *provider.Adapter.
type Generator interface {
	Generate(ctx context.Context, source []byte, style string) provider.Result
}

// SourceFetcher resolves a source reference into image bytes.
type SourceFetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// ResultStore persists generated images and returns a client-facing reference.
type ResultStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, ref string) error
}

// Dispatcher hands a queued job to whatever executes it asynchronously.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID uuid.UUID) error
}

type Options struct {
	Cost            int64
	Watchdog        time.Duration
	RefundOnFailure bool
}

type Deps struct {
	Jobs      jobs.Store
	Ledger    ledger.Service
	Cache     cache.Cache
	Generator Generator
	Fetcher   SourceFetcher
	Results   ResultStore
}

// Orchestrator runs generation jobs end to end: charge, persist, dispatch,
// execute, and bound every job by the watchdog.
type Orchestrator struct {
	jobs      jobs.Store
	ledger    ledger.Service
	cache     cache.Cache
	generator Generator
	fetcher   SourceFetcher
	results   ResultStore
	opts      Options
	log       *slog.Logger
	now       func() time.Time

	mu         sync.Mutex
	dispatcher Dispatcher
	watchdogs  map[uuid.UUID]*time.Timer
}

func NewOrchestrator(deps Deps, opts Options, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	if opts.Cost <= 0 {
		opts.Cost = 1
	}
	if opts.Watchdog <= 0 {
		opts.Watchdog = 5 * time.Minute
	}
	if deps.Cache == nil {
		deps.Cache = cache.Disabled{}
	}
	return &Orchestrator{
		jobs:      deps.Jobs,
		ledger:    deps.Ledger,
		cache:     deps.Cache,
		generator: deps.Generator,
		fetcher:   deps.Fetcher,
		results:   deps.Results,
		opts:      opts,
		log:       log,
		now:       time.Now,
		watchdogs: make(map[uuid.UUID]*time.Timer),
	}
}

// SetDispatcher wires the executor. It is separate from the constructor
// because dispatchers call back into Run.
func (o *Orchestrator) SetDispatcher(d Dispatcher) {
	o.mu.Lock()
	o.dispatcher = d
	o.mu.Unlock()
}

func (o *Orchestrator) timeoutMessage() string {
	return fmt.Sprintf("%s after %s", ErrTimeoutExceeded, o.opts.Watchdog)
}

// CreateAndDispatch charges the user, records a queued job and hands it to
// the dispatcher. It returns without waiting for the provider.
func (o *Orchestrator) CreateAndDispatch(ctx context.Context, userID uuid.UUID, sourceRef, style string) (*models.GenerationJob, error) {
	if sourceRef == "" {
		return nil, ErrMissingSource
	}
	if _, ok := provider.LookupStyle(style); !ok {
		return nil, ErrUnknownStyle
	}
	o.mu.Lock()
	dispatcher := o.dispatcher
	o.mu.Unlock()
	if dispatcher == nil {
		return nil, ErrNoDispatcher
	}

	jobID := uuid.New()
	ok, err := o.ledger.Deduct(ctx, userID, o.opts.Cost, models.ReasonImageGeneration, jobID.String())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInsufficientCredits
	}

	job := &models.GenerationJob{
		ID:           jobID,
		UserID:       userID,
		SourceRef:    sourceRef,
		Style:        style,
		Status:       models.JobQueued,
		CreditsSpent: o.opts.Cost,
	}
	if err := o.jobs.Insert(ctx, job); err != nil {
		o.refund(context.WithoutCancel(ctx), job)
		return nil, fmt.Errorf("insert job: %w", err)
	}

	o.arm(jobID)
	if err := dispatcher.Dispatch(ctx, jobID); err != nil {
		o.log.Error("dispatch generation failed", "job_id", jobID, "error", err)
		o.disarm(jobID)
		bg := context.WithoutCancel(ctx)
		if ctx.Err() != nil {
			o.failQueued(bg, jobID, "generation request cancelled before dispatch")
			o.refund(bg, job)
			return nil, fmt.Errorf("dispatch generation: %w", err)
		}
		o.failQueued(bg, jobID, ErrQueueUnavailable.Error())
		o.refund(bg, job)
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	o.log.Info("generation queued", "job_id", jobID, "user_id", userID, "style", style)
	return job, nil
}

// Run executes a queued job. It is safe to call more than once; only the
// caller that moves the job out of queued does any work.
func (o *Orchestrator) Run(ctx context.Context, jobID uuid.UUID) error {
	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	ok, err := o.jobs.Transition(ctx, jobID, models.JobQueued, models.JobRunning, jobs.Update{})
	if err != nil {
		return err
	}
	if !ok {
		o.log.Info("generation already picked up or finished", "job_id", jobID)
		return nil
	}
	defer o.disarm(jobID)

	runCtx, cancel := context.WithDeadline(ctx, job.CreatedAt.Add(o.opts.Watchdog))
	defer cancel()

	start := o.now()
	ref, genErr := o.generate(runCtx, job)
	persistCtx := context.WithoutCancel(ctx)

	if genErr != nil {
		msg := genErr.Error()
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			msg = o.timeoutMessage()
		}
		o.log.Error("generation failed", "job_id", jobID, "duration", o.now().Sub(start), "error", genErr)
		_, err := o.markFailed(persistCtx, job, msg)
		return err
	}

	ok, err = o.jobs.Transition(persistCtx, jobID, models.JobRunning, models.JobSuccess, jobs.Update{ResultRef: &ref})
	if err != nil {
		return err
	}
	if !ok {
		o.log.Warn("generation finished after job was closed, result discarded", "job_id", jobID)
		return nil
	}
	o.log.Info("generation succeeded", "job_id", jobID, "duration", o.now().Sub(start))
	return nil
}

func (o *Orchestrator) generate(ctx context.Context, job *models.GenerationJob) (string, error) {
	if data, ok := o.cache.Get(ctx, job.Style, job.SourceRef); ok {
		o.log.Info("generation served from cache", "job_id", job.ID)
		return o.storeResult(ctx, job, data, provider.DetectMIME(data))
	}

	src, err := o.fetcher.Fetch(ctx, job.SourceRef)
	if err != nil {
		return "", err
	}
	res := o.generator.Generate(ctx, src, job.Style)
	if res.Err != nil {
		return "", res.Err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ref, err := o.storeResult(ctx, job, res.Image, res.MIMEType)
	if err != nil {
		return "", err
	}
	if res.Outcome != provider.OutcomePlaceholder {
		o.cache.Put(ctx, job.Style, job.SourceRef, res.Image)
	}
	return ref, nil
}

func (o *Orchestrator) storeResult(ctx context.Context, job *models.GenerationJob, data []byte, mimeType string) (string, error) {
	key := fmt.Sprintf("results/result_%s_%d.%s", job.ID, o.now().UnixMilli(), provider.Extension(mimeType))
	ref, err := o.results.Upload(ctx, key, data, mimeType)
	if err != nil {
		return "", fmt.Errorf("upload result: %w", err)
	}
	return ref, nil
}

// markFailed moves a running job to failed and applies the refund policy.
func (o *Orchestrator) markFailed(ctx context.Context, job *models.GenerationJob, msg string) (bool, error) {
	ok, err := o.jobs.Transition(ctx, job.ID, models.JobRunning, models.JobFailed, jobs.Update{ErrorMessage: &msg})
	if err != nil {
		o.log.Error("mark generation failed", "job_id", job.ID, "error", err)
		return false, err
	}
	if ok && o.opts.RefundOnFailure {
		o.refund(ctx, job)
	}
	return ok, nil
}

// failQueued walks a job that never ran through running to failed.
func (o *Orchestrator) failQueued(ctx context.Context, jobID uuid.UUID, msg string) {
	if _, err := o.jobs.Transition(ctx, jobID, models.JobQueued, models.JobRunning, jobs.Update{}); err != nil {
		o.log.Error("close queued generation", "job_id", jobID, "error", err)
		return
	}
	if _, err := o.jobs.Transition(ctx, jobID, models.JobRunning, models.JobFailed, jobs.Update{ErrorMessage: &msg}); err != nil {
		o.log.Error("close queued generation", "job_id", jobID, "error", err)
	}
}

func (o *Orchestrator) refund(ctx context.Context, job *models.GenerationJob) {
	err := o.ledger.Add(ctx, job.UserID, job.CreditsSpent, models.ReasonRefund, job.ID.String())
	if err != nil && !errors.Is(err, ledger.ErrDuplicateRef) {
		o.log.Error("refund generation credits", "job_id", job.ID, "user_id", job.UserID, "error", err)
		return
	}
	if err == nil {
		o.log.Info("generation credits refunded", "job_id", job.ID, "credits", job.CreditsSpent)
	}
}

// forceFail closes a job that is still open when its watchdog fires,
// whether or not a worker ever started it.
func (o *Orchestrator) forceFail(ctx context.Context, jobID uuid.UUID, msg string) {
	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		o.log.Error("watchdog lookup", "job_id", jobID, "error", err)
		return
	}
	neverStarted := false
	switch job.Status {
	case models.JobQueued:
		ok, err := o.jobs.Transition(ctx, jobID, models.JobQueued, models.JobRunning, jobs.Update{})
		if err != nil {
			o.log.Error("watchdog transition", "job_id", jobID, "error", err)
			return
		}
		neverStarted = ok
	case models.JobRunning:
	default:
		return
	}
	ok, err := o.markFailed(ctx, job, msg)
	if err != nil || !ok {
		return
	}
	o.log.Warn("generation forced to failed", "job_id", jobID, "reason", msg)
	// No provider attempt was made, so the credit goes back regardless of
	// the refund policy.
	if neverStarted {
		o.refund(ctx, job)
	}
}

func (o *Orchestrator) arm(jobID uuid.UUID) {
	t := time.AfterFunc(o.opts.Watchdog, func() {
		o.mu.Lock()
		delete(o.watchdogs, jobID)
		o.mu.Unlock()
		o.forceFail(context.Background(), jobID, o.timeoutMessage())
	})
	o.mu.Lock()
	o.watchdogs[jobID] = t
	o.mu.Unlock()
}

func (o *Orchestrator) disarm(jobID uuid.UUID) {
	o.mu.Lock()
	t, ok := o.watchdogs[jobID]
	delete(o.watchdogs, jobID)
	o.mu.Unlock()
	if ok {
		t.Stop()
	}
}

// GetJobStatus returns the job if it belongs to userID.
func (o *Orchestrator) GetJobStatus(ctx context.Context, jobID, userID uuid.UUID) (*models.GenerationJob, error) {
	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, jobs.ErrNotFound
	}
	return job, nil
}

func (o *Orchestrator) ListJobs(ctx context.Context, userID uuid.UUID) ([]*models.GenerationJob, error) {
	return o.jobs.ListByUser(ctx, userID, defaultListLimit)
}

// Sweep closes jobs left open past twice the watchdog bound, typically
// because the process that owned their watchdog exited.
func (o *Orchestrator) Sweep(ctx context.Context) (int, error) {
	stale, err := o.jobs.ListStale(ctx, o.now().Add(-2*o.opts.Watchdog))
	if err != nil {
		return 0, err
	}
	closed := 0
	for _, j := range stale {
		o.forceFail(ctx, j.ID, abandonedMessage)
		if cur, err := o.jobs.Get(ctx, j.ID); err == nil && cur.Status == models.JobFailed {
			closed++
		}
	}
	if closed > 0 {
		o.log.Info("stale generations closed", "count", closed)
	}
	return closed, nil
}

// DeleteJob removes a finished job owned by userID together with its stored
// result. Jobs still queued or running return ErrJobActive.
func (o *Orchestrator) DeleteJob(ctx context.Context, jobID, userID uuid.UUID) error {
	job, err := o.GetJobStatus(ctx, jobID, userID)
	if err != nil {
		return err
	}
	if !job.Terminal() {
		return ErrJobActive
	}
	ok, err := o.jobs.DeleteTerminal(ctx, jobID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return jobs.ErrNotFound
	}
	if job.ResultRef != nil {
		if err := o.results.Delete(ctx, *job.ResultRef); err != nil {
			o.log.Warn("delete generation result", "job_id", jobID, "ref", *job.ResultRef, "error", err)
		}
	}
	o.log.Info("generation deleted", "job_id", jobID, "user_id", userID)
	return nil
}

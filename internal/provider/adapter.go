package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type Outcome int

const (
	OutcomeSuccess Outcome = iota
	// OutcomeDegraded means the relaxed second attempt produced the image.
	OutcomeDegraded
	OutcomePlaceholder
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeDegraded:
		return "degraded"
	case OutcomePlaceholder:
		return "placeholder"
	default:
		return "unknown"
	}
}

// Result is the single return value of Generate. When Outcome is
// OutcomePlaceholder, Err is set unless the adapter runs offline.
type Result struct {
	Image    []byte
	MIMEType string
	Outcome  Outcome
	Err      *ProviderError
}

type Options struct {
	Timeout       time.Duration
	MaxRetries    int
	BaseDelay     time.Duration
	SlowThreshold time.Duration
}

// Adapter wraps a Client with per-call timeouts, bounded exponential backoff,
// a degraded second attempt and placeholder fallback.
type Adapter struct {
	client Client
	opts   Options
	log    *slog.Logger
}

// NewAdapter returns an adapter over client. A nil client puts the adapter in
// offline mode, where every call returns the placeholder without error.
func NewAdapter(client Client, opts Options, log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Adapter{client: client, opts: opts, log: log}
}

func (a *Adapter) Generate(ctx context.Context, source []byte, style string) Result {
	if a.client == nil {
		a.log.Warn("image provider not configured, returning placeholder", "style", style)
		return Result{Image: Placeholder(), MIMEType: MIMEPNG, Outcome: OutcomePlaceholder}
	}

	prompt := PromptFor(style)
	resp, err := a.call(ctx, Request{
		Model:       PrimaryModel,
		Prompt:      prompt,
		Image:       source,
		MIMEType:    DetectMIME(source),
		Temperature: 0.7,
		TopK:        40,
		TopP:        0.95,
	})
	if err == nil && len(resp.Image) > 0 {
		return Result{Image: resp.Image, MIMEType: imageMIME(resp), Outcome: OutcomeSuccess}
	}

	if err == nil {
		a.log.Info("provider returned no image, trying relaxed request", "style", style)
		resp, err = a.call(ctx, Request{
			Model:       FallbackModel,
			Prompt:      fmt.Sprintf("Create a high-quality %s style image. %s", style, prompt),
			Temperature: 0.8,
			TopK:        40,
			TopP:        0.95,
		})
		if err == nil && len(resp.Image) > 0 {
			return Result{Image: resp.Image, MIMEType: imageMIME(resp), Outcome: OutcomeDegraded}
		}
		if err == nil {
			err = terminal(ErrEmptyPayload)
		}
	}

	pe := classify(err)
	a.log.Error("image generation failed", "style", style, "kind", pe.Kind.String(), "error", pe.Err)
	return Result{Image: Placeholder(), MIMEType: MIMEPNG, Outcome: OutcomePlaceholder, Err: pe}
}

// call runs one logical request with retries. Each attempt gets its own
// timeout; cancellation of ctx stops retrying.
func (a *Adapter) call(ctx context.Context, req Request) (*Response, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = a.opts.BaseDelay
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = a.opts.BaseDelay << 10
	exp.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(a.opts.MaxRetries)), ctx)

	var resp *Response
	attempt := 0
	op := func() error {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
		defer cancel()

		start := time.Now()
		r, err := a.client.GenerateContent(attemptCtx, req)
		if elapsed := time.Since(start); a.opts.SlowThreshold > 0 && elapsed > a.opts.SlowThreshold {
			a.log.Warn("slow provider call", "model", req.Model, "attempt", attempt, "duration", elapsed)
		}
		if err == nil {
			resp = r
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(terminal(ctx.Err()))
		}
		pe := classify(err)
		if pe.Kind == Terminal {
			return backoff.Permanent(pe)
		}
		return pe
	}
	notify := func(err error, wait time.Duration) {
		a.log.Warn("provider call failed, retrying", "model", req.Model, "attempt", attempt, "wait", wait, "error", err)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		if ctx.Err() != nil {
			return nil, terminal(ctx.Err())
		}
		return nil, err
	}
	return resp, nil
}

// classify maps any error from a client into a ProviderError. Unclassified
// errors, including per-attempt timeouts, are transient.
func classify(err error) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	return retryable(err)
}

func imageMIME(resp *Response) string {
	switch resp.MIMEType {
	case MIMEJPEG, MIMEPNG, MIMEGIF, MIMEWebP:
		return resp.MIMEType
	}
	return DetectMIME(resp.Image)
}

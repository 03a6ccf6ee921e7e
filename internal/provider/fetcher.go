package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Downloader retrieves the bytes behind a source reference.
type Downloader interface {
	Download(ctx context.Context, ref string) ([]byte, error)
}

type FetcherOptions struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxBytes   int64
	// PlaceholderOnFailure substitutes a synthetic source image when the
	// download keeps failing, for deployments that favour availability.
	PlaceholderOnFailure bool
}

type Fetcher struct {
	dl   Downloader
	opts FetcherOptions
	log  *slog.Logger
}

func NewFetcher(dl Downloader, opts FetcherOptions, log *slog.Logger) *Fetcher {
	if log == nil {
		log = slog.Default()
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	return &Fetcher{dl: dl, opts: opts, log: log}
}

// Fetch downloads ref with bounded retries. Failures wrap ErrSourceFetchFailed.
func (f *Fetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = f.opts.BaseDelay
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(max(f.opts.MaxRetries, 0))), ctx)

	var data []byte
	err := backoff.Retry(func() error {
		b, err := f.dl.Download(ctx, ref)
		if err != nil {
			return err
		}
		if f.opts.MaxBytes > 0 && int64(len(b)) > f.opts.MaxBytes {
			return backoff.Permanent(fmt.Errorf("%w: %d bytes", ErrSourceTooLarge, len(b)))
		}
		data = b
		return nil
	}, policy)
	if err == nil {
		return data, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if f.opts.PlaceholderOnFailure && !errors.Is(err, ErrSourceTooLarge) {
		f.log.Warn("source fetch failed, using placeholder source", "ref", ref, "error", err)
		return Placeholder(), nil
	}
	return nil, fmt.Errorf("%w: %w", ErrSourceFetchFailed, err)
}

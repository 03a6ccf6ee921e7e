package provider

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyDownloader struct {
	failures int32
	calls    atomic.Int32
	data     []byte
}

func (d *flakyDownloader) Download(context.Context, string) ([]byte, error) {
	n := d.calls.Add(1)
	if n <= d.failures {
		return nil, errors.New("connection refused")
	}
	return d.data, nil
}

func TestFetcher_RetriesThenSucceeds(t *testing.T) {
	dl := &flakyDownloader{failures: 2, data: jpegSource}
	f := NewFetcher(dl, FetcherOptions{MaxRetries: 2, BaseDelay: time.Millisecond}, nil)

	b, err := f.Fetch(context.Background(), "https://img/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, jpegSource, b)
	assert.Equal(t, int32(3), dl.calls.Load())
}

func TestFetcher_ExhaustedFails(t *testing.T) {
	dl := &flakyDownloader{failures: 10}
	f := NewFetcher(dl, FetcherOptions{MaxRetries: 1, BaseDelay: time.Millisecond}, nil)

	_, err := f.Fetch(context.Background(), "https://img/a.jpg")
	assert.ErrorIs(t, err, ErrSourceFetchFailed)
	assert.Equal(t, int32(2), dl.calls.Load())
}

func TestFetcher_PlaceholderProfile(t *testing.T) {
	dl := &flakyDownloader{failures: 10}
	f := NewFetcher(dl, FetcherOptions{MaxRetries: 1, BaseDelay: time.Millisecond, PlaceholderOnFailure: true}, nil)

	b, err := f.Fetch(context.Background(), "https://img/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, Placeholder(), b)
}

func TestFetcher_TooLargeIsNotRetried(t *testing.T) {
	dl := &flakyDownloader{data: make([]byte, 100)}
	f := NewFetcher(dl, FetcherOptions{MaxRetries: 3, BaseDelay: time.Millisecond, MaxBytes: 10, PlaceholderOnFailure: true}, nil)

	_, err := f.Fetch(context.Background(), "https://img/a.jpg")
	assert.ErrorIs(t, err, ErrSourceTooLarge)
	assert.ErrorIs(t, err, ErrSourceFetchFailed)
	assert.Equal(t, int32(1), dl.calls.Load())
}

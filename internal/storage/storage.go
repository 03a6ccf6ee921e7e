package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

// ObjectStore uploads generated results and downloads source images.
// Delete only accepts references the store itself produced.
type ObjectStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Download(ctx context.Context, ref string) ([]byte, error)
	Delete(ctx context.Context, ref string) error
}

type Downloader interface {
	Download(ctx context.Context, ref string) ([]byte, error)
}

// HTTPDownloader fetches http(s) references.
type HTTPDownloader struct {
	client   *http.Client
	maxBytes int64
}

func NewHTTPDownloader(timeout time.Duration, maxBytes int64) *HTTPDownloader {
	return &HTTPDownloader{client: &http.Client{Timeout: timeout}, maxBytes: maxBytes}
}

func (d *HTTPDownloader) Download(ctx context.Context, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", ref, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrObjectNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download %s: status %d", ref, resp.StatusCode)
	}
	body := io.Reader(resp.Body)
	if d.maxBytes > 0 {
		// One extra byte lets the caller see the payload was too large.
		body = io.LimitReader(resp.Body, d.maxBytes+1)
	}
	return io.ReadAll(body)
}

const memoryScheme = "mem://"

// MemoryStore keeps objects in process and falls back to fallback for
// references it did not create.
type MemoryStore struct {
	mu       sync.RWMutex
	bucket   string
	objects  map[string]object
	fallback Downloader
}

type object struct {
	data        []byte
	contentType string
}

func NewMemoryStore(bucket string, fallback Downloader) *MemoryStore {
	return &MemoryStore{bucket: bucket, objects: make(map[string]object), fallback: fallback}
}

var _ ObjectStore = (*MemoryStore)(nil)

func (m *MemoryStore) Upload(_ context.Context, key string, data []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.objects[key] = object{data: cp, contentType: contentType}
	return memoryScheme + m.bucket + "/" + key, nil
}

func (m *MemoryStore) Download(ctx context.Context, ref string) ([]byte, error) {
	if !strings.HasPrefix(ref, memoryScheme) {
		if m.fallback == nil {
			return nil, ErrObjectNotFound
		}
		return m.fallback.Download(ctx, ref)
	}
	key := strings.TrimPrefix(ref, memoryScheme+m.bucket+"/")
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return o.data, nil
}

func (m *MemoryStore) Delete(_ context.Context, ref string) error {
	if !strings.HasPrefix(ref, memoryScheme) {
		return ErrObjectNotFound
	}
	key := strings.TrimPrefix(ref, memoryScheme+m.bucket+"/")
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return ErrObjectNotFound
	}
	delete(m.objects, key)
	return nil
}

// ContentType returns the content type recorded for key.
func (m *MemoryStore) ContentType(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.objects[key].contentType
}

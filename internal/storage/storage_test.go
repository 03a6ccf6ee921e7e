package storage

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_RoundTrip(t *testing.T) {
	m := NewMemoryStore("bucket", nil)
	ctx := context.Background()

	url, err := m.Upload(ctx, "results/a.png", []byte("png"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "mem://bucket/results/a.png", url)
	assert.Equal(t, "image/png", m.ContentType("results/a.png"))

	got, err := m.Download(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), got)

	_, err = m.Download(ctx, "mem://bucket/missing")
	assert.ErrorIs(t, err, ErrObjectNotFound)
	_, err = m.Download(ctx, "https://elsewhere/x.png")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	require.NoError(t, m.Delete(ctx, url))
	assert.ErrorIs(t, m.Delete(ctx, url), ErrObjectNotFound)
	_, err = m.Download(ctx, url)
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestHTTPDownloader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.jpg":
			_, _ = w.Write([]byte{0xFF, 0xD8, 0xFF})
		case "/big.jpg":
			_, _ = w.Write(make([]byte, 64))
		case "/missing.jpg":
			http.NotFound(w, r)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	d := NewHTTPDownloader(time.Second, 16)
	ctx := context.Background()

	b, err := d.Download(ctx, srv.URL+"/ok.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xD8, 0xFF}, b)

	b, err = d.Download(ctx, srv.URL+"/big.jpg")
	require.NoError(t, err)
	assert.Len(t, b, 17)

	_, err = d.Download(ctx, srv.URL+"/missing.jpg")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	_, err = d.Download(ctx, srv.URL+"/broken.jpg")
	assert.Error(t, err)

	m := NewMemoryStore("bucket", d)
	b, err = m.Download(ctx, srv.URL+"/ok.jpg")
	require.NoError(t, err)
	assert.Len(t, b, 3)
}

type fakeS3 struct {
	objects map[string][]byte
	types   map[string]string
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	k := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	f.objects[k] = b
	f.types[k] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	b, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Store(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
	s := NewS3StoreWithClient(fake, S3Config{Bucket: "mochiface-bucket", Region: "us-east-1"}, nil)
	ctx := context.Background()

	url, err := s.Upload(ctx, "results/result_1_2.jpg", []byte("jpeg"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "https://mochiface-bucket.s3.us-east-1.amazonaws.com/results/result_1_2.jpg", url)
	assert.Equal(t, "image/jpeg", fake.types["mochiface-bucket/results/result_1_2.jpg"])

	b, err := s.Download(ctx, "s3://mochiface-bucket/results/result_1_2.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), b)

	_, err = s.Download(ctx, "s3://mochiface-bucket/nope.jpg")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	_, err = s.Download(ctx, "s3://no-key")
	assert.Error(t, err)

	// Public URLs of this store are read through the API, not over HTTP.
	b, err = s.Download(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), b)

	require.NoError(t, s.Delete(ctx, url))
	_, err = s.Download(ctx, "s3://mochiface-bucket/results/result_1_2.jpg")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	assert.ErrorIs(t, s.Delete(ctx, "https://elsewhere.example/a.png"), ErrObjectNotFound)
}

func TestS3Store_CustomEndpointURL(t *testing.T) {
	s := NewS3StoreWithClient(nil, S3Config{Bucket: "b", Endpoint: "http://minio:9000/"}, nil)
	assert.Equal(t, "http://minio:9000/b/k.png", s.PublicURL("k.png"))
}

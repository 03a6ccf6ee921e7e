package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const s3Scheme = "s3://"

type S3Config struct {
	Bucket string
	Region string

	// Endpoint overrides the AWS endpoint for S3-compatible services.
	Endpoint string

	// Static keys; when empty the default AWS credential chain is used.
	AccessKeyID     string
	SecretAccessKey string
}

// S3API is the subset of the S3 client used here.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type S3Store struct {
	client S3API
	cfg    S3Config
	http   *HTTPDownloader
}

// NewS3Store loads AWS credentials from cfg or, failing that, the environment.
func NewS3Store(ctx context.Context, cfg S3Config, httpDL *HTTPDownloader) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3StoreWithClient(client, cfg, httpDL), nil
}

func NewS3StoreWithClient(client S3API, cfg S3Config, httpDL *HTTPDownloader) *S3Store {
	return &S3Store{client: client, cfg: cfg, http: httpDL}
}

var _ ObjectStore = (*S3Store)(nil)

func (s *S3Store) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return s.PublicURL(key), nil
}

// PublicURL is the address clients use to fetch key.
func (s *S3Store) PublicURL(key string) string {
	if s.cfg.Endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.cfg.Endpoint, "/"), s.cfg.Bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.Bucket, s.cfg.Region, key)
}

// locate resolves an s3:// reference or one of this store's public URLs to a
// bucket and key. ok is false for foreign references.
func (s *S3Store) locate(ref string) (bucket, key string, ok bool, err error) {
	if strings.HasPrefix(ref, s3Scheme) {
		bucket, key, found := strings.Cut(strings.TrimPrefix(ref, s3Scheme), "/")
		if !found || key == "" {
			return "", "", false, fmt.Errorf("malformed reference %q", ref)
		}
		return bucket, key, true, nil
	}
	if prefix := s.PublicURL(""); strings.HasPrefix(ref, prefix) && len(ref) > len(prefix) {
		return s.cfg.Bucket, strings.TrimPrefix(ref, prefix), true, nil
	}
	return "", "", false, nil
}

// Download reads references to this store through the S3 API and anything
// else over HTTP.
func (s *S3Store) Download(ctx context.Context, ref string) ([]byte, error) {
	bucket, key, ok, err := s.locate(ref)
	if err != nil {
		return nil, err
	}
	if !ok {
		if s.http == nil {
			return nil, ErrObjectNotFound
		}
		return s.http.Download(ctx, ref)
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("get %s: %w", ref, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *S3Store) Delete(ctx context.Context, ref string) error {
	bucket, key, ok, err := s.locate(ref)
	if err != nil {
		return err
	}
	if !ok {
		return ErrObjectNotFound
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)}); err != nil {
		return fmt.Errorf("delete %s: %w", ref, err)
	}
	return nil
}

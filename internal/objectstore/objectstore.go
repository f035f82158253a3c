// Package objectstore is the Object Store Adapter (C3, §4.3): scoped
// read/write/signed-URL access to PDFs, extracted images, and generated
// Markdown, keyed by the ownership path grammar of §6.5.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"

	"github.com/jepras/constructionrag/internal/apperr"
	"github.com/jepras/constructionrag/internal/reqcontext"
)

// Config holds the two credential sets the adapter chooses between: an
// elevated service identity for server-side ingestion/generation, and a
// scoped identity for user-initiated reads (§4.3).
type Config struct {
	Endpoint       string
	UseSSL         bool
	Bucket         string
	ElevatedKey    string
	ElevatedSecret string
	ScopedKey      string
	ScopedSecret   string
}

// Store wraps two minio-go clients behind the elevated/scoped distinction.
type Store struct {
	bucket   string
	elevated *minio.Client
	scoped   *minio.Client
	logger   *logrus.Logger
}

// New constructs both clients against the given endpoint.
func New(cfg Config, logger *logrus.Logger) (*Store, error) {
	elevated, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.ElevatedKey, cfg.ElevatedSecret, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create elevated client: %w", err)
	}

	scoped, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.ScopedKey, cfg.ScopedSecret, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create scoped client: %w", err)
	}

	return &Store{bucket: cfg.Bucket, elevated: elevated, scoped: scoped, logger: logger}, nil
}

// clientFor picks the elevated client for server-side worker identities and
// the scoped client otherwise, per §3.3/§4.3: workers operate with elevated
// identity, user-initiated reads go through the scoped client.
func (s *Store) clientFor(rc reqcontext.RequestContext) *minio.Client {
	if rc.HasRole("worker") {
		return s.elevated
	}
	return s.scoped
}

// Put uploads content at path using the elevated identity — every write in
// this system originates from a server-side pipeline step (§4.3).
func (s *Store) Put(ctx context.Context, path string, reader io.Reader, size int64, contentType string) error {
	_, err := s.elevated.PutObject(ctx, s.bucket, path, reader, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return apperr.New("storage.put_failed", apperr.CategoryStorage, fmt.Sprintf("put %s: %v", path, err))
	}
	return nil
}

// Get retrieves an object, using the elevated client for worker identities
// and the scoped client for end-user reads.
func (s *Store) Get(ctx context.Context, rc reqcontext.RequestContext, path string) (io.ReadCloser, error) {
	obj, err := s.clientFor(rc).GetObject(ctx, s.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, apperr.New("storage.get_failed", apperr.CategoryStorage, fmt.Sprintf("get %s: %v", path, err))
	}
	if _, err := obj.Stat(); err != nil {
		return nil, apperr.NewNotFound("object", path)
	}
	return obj, nil
}

// ListPrefix lists object keys under a prefix.
func (s *Store) ListPrefix(ctx context.Context, rc reqcontext.RequestContext, prefix string) ([]string, error) {
	var keys []string
	for obj := range s.clientFor(rc).ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, apperr.New("storage.list_failed", apperr.CategoryStorage, obj.Err.Error())
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

// SignedURL issues a time-limited presigned GET URL for user-facing links
// (wiki page downloads, PDF previews) per §4.3.
func (s *Store) SignedURL(ctx context.Context, rc reqcontext.RequestContext, path string, ttl time.Duration) (string, error) {
	u, err := s.clientFor(rc).PresignedGetObject(ctx, s.bucket, path, ttl, nil)
	if err != nil {
		return "", apperr.New("storage.sign_failed", apperr.CategoryStorage, fmt.Sprintf("sign %s: %v", path, err))
	}
	return u.String(), nil
}

// DeletePrefix removes every object under a prefix, used when a run or
// project is torn down.
func (s *Store) DeletePrefix(ctx context.Context, prefix string) error {
	errCh := s.elevated.RemoveObjects(ctx, s.bucket, objectKeysUnder(ctx, s.elevated, s.bucket, prefix), minio.RemoveObjectsOptions{})
	for result := range errCh {
		if result.Err != nil {
			return apperr.New("storage.delete_failed", apperr.CategoryStorage, fmt.Sprintf("delete %s: %v", result.ObjectName, result.Err))
		}
	}
	return nil
}

func objectKeysUnder(ctx context.Context, c *minio.Client, bucket, prefix string) <-chan minio.ObjectInfo {
	out := make(chan minio.ObjectInfo)
	go func() {
		defer close(out)
		for obj := range c.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
			out <- obj
		}
	}()
	return out
}

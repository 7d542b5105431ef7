// Package objectstore holds video sources and transcoded outputs in a blob
// store and signs time-bounded URLs for direct client access.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound       = errors.New("object not found")
	ErrInvalidLocator = errors.New("invalid object locator")
)

const locatorScheme = "s3://"

// Store is the blob storage interface. Keys are bucket-relative; locators are
// the durable s3://bucket/key form persisted on jobs.
type Store interface {
	PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	Exists(ctx context.Context, key string) (bool, error)
	Metadata(ctx context.Context, key string) (*Metadata, error)
	Delete(ctx context.Context, key string) error
	Upload(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string) (string, error)
	Locator(key string) string
	KeyFromLocator(locator string) (string, error)
}

// Metadata is the subset of HEAD object fields the service uses.
type Metadata struct {
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type"`
	LastModified time.Time `json:"last_modified"`
	ETag         string    `json:"etag,omitempty"`
}

// GenerateKey builds prefix/<unixmillis>-<random>-<basename><ext> from a
// client-supplied filename. Directory components are dropped.
func GenerateKey(filename, prefix string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" {
		name = "upload"
	}
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%s/%d-%s-%s%s", prefix, time.Now().UnixMilli(), random, base, ext)
}

// Locator formats bucket and key as s3://bucket/key.
func Locator(bucket, key string) string {
	return locatorScheme + bucket + "/" + key
}

// ParseLocator splits an s3://bucket/key locator.
func ParseLocator(locator string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(locator, locatorScheme)
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidLocator, locator)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidLocator, locator)
	}
	return bucket, key, nil
}

// Package storage is the object-store collaborator that holds immutable audit
// artifacts. Objects are addressed by gs://bucket/key URIs and carry a
// generation number that conditional writes and deletes are checked against.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrObjectExists is returned by a conditional Put when the key is taken
	ErrObjectExists = errors.New("object already exists")

	// ErrObjectNotFound is returned when no object lives at the URI
	ErrObjectNotFound = errors.New("object not found")

	// ErrGenerationMismatch is returned when a conditional delete targets a stale generation
	ErrGenerationMismatch = errors.New("object generation mismatch")

	// ErrInvalidURI is returned for URIs that are not gs://bucket/key
	ErrInvalidURI = errors.New("invalid object uri")
)

// URIScheme prefixes every object URI
const URIScheme = "gs://"

// ObjectInfo describes a stored object
type ObjectInfo struct {
	Bucket         string
	Key            string
	URI            string
	Generation     int64
	Metageneration int64
	Size           int64
}

// ObjectStore stores write-once artifacts
type ObjectStore interface {
	// Put writes data to bucket/key. With ifNotExists the write fails with
	// ErrObjectExists when an object is already present.
	Put(ctx context.Context, bucket, key string, data []byte, contentType string, ifNotExists bool) (ObjectInfo, error)

	// Get reads the object at uri
	Get(ctx context.Context, uri string) ([]byte, error)

	// Delete removes the object at uri. A nil ifGeneration deletes any
	// generation. Returns false without error when nothing was there.
	Delete(ctx context.Context, uri string, ifGeneration *int64) (bool, error)
}

// FormatURI renders bucket and key as a gs:// URI
func FormatURI(bucket, key string) string {
	return URIScheme + bucket + "/" + key
}

// ParseURI splits a gs:// URI into bucket and key
func ParseURI(uri string) (bucket, key string, err error) {
	if !strings.HasPrefix(uri, URIScheme) {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}
	rest := strings.TrimPrefix(uri, URIScheme)
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}
	return bucket, key, nil
}

// SafeObjectName cleans a caller-supplied object name: surrounding spaces and
// leading slashes are removed. Empty names and parent-directory segments are rejected.
func SafeObjectName(name string) (string, error) {
	cleaned := strings.TrimLeft(strings.TrimSpace(name), "/")
	if cleaned == "" {
		return "", errors.New("object name must not be empty")
	}
	for _, segment := range strings.Split(cleaned, "/") {
		if segment == ".." {
			return "", fmt.Errorf("object name %q must not contain '..'", name)
		}
	}
	return cleaned, nil
}

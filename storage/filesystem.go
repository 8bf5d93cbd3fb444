package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const generationDir = ".generations"

// FileStore lays objects out on local disk as root/bucket/key. Each object's
// generation lives in a sidecar file under root/.generations/bucket/key.gen.
type FileStore struct {
	root   string
	logger *zap.Logger
	mu     sync.Mutex
}

// NewFileStore creates the root directory if needed
func NewFileStore(root string, logger *zap.Logger) (*FileStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("storage root must not be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &FileStore{root: root, logger: logger}, nil
}

func (s *FileStore) paths(bucket, key string) (objectPath, genPath string, err error) {
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." {
		return "", "", fmt.Errorf("%w: bucket %q", ErrInvalidURI, bucket)
	}
	cleanKey, err := SafeObjectName(key)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}
	rel := filepath.FromSlash(cleanKey)
	objectPath = filepath.Join(s.root, bucket, rel)
	genPath = filepath.Join(s.root, generationDir, bucket, rel+".gen")
	return objectPath, genPath, nil
}

// Put writes the object. Conditional writes rely on O_EXCL so a concurrent
// writer from another process also loses.
func (s *FileStore) Put(ctx context.Context, bucket, key string, data []byte, contentType string, ifNotExists bool) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}
	objectPath, genPath, err := s.paths(bucket, key)
	if err != nil {
		return ObjectInfo{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(objectPath), 0o755); err != nil {
		return ObjectInfo{}, fmt.Errorf("failed to create object directory: %w", err)
	}

	if ifNotExists {
		f, err := os.OpenFile(objectPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			if errors.Is(err, os.ErrExist) {
				return ObjectInfo{}, ErrObjectExists
			}
			return ObjectInfo{}, fmt.Errorf("failed to create object: %w", err)
		}
		_, writeErr := f.Write(data)
		closeErr := f.Close()
		if writeErr != nil || closeErr != nil {
			_ = os.Remove(objectPath)
			return ObjectInfo{}, fmt.Errorf("failed to write object: %w", errors.Join(writeErr, closeErr))
		}
	} else {
		tmp := objectPath + ".tmp"
		if err := os.WriteFile(tmp, data, 0o644); err != nil {
			return ObjectInfo{}, fmt.Errorf("failed to write object: %w", err)
		}
		if err := os.Rename(tmp, objectPath); err != nil {
			_ = os.Remove(tmp)
			return ObjectInfo{}, fmt.Errorf("failed to replace object: %w", err)
		}
	}

	// Every stored object has a generation record.
	generation := time.Now().UnixNano()
	if err := writeGeneration(genPath, generation); err != nil {
		if rmErr := os.Remove(objectPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			s.logger.Error("failed to remove object after generation write failure",
				zap.String("path", objectPath), zap.Error(rmErr))
		}
		return ObjectInfo{}, err
	}

	s.logger.Debug("object written",
		zap.String("bucket", bucket),
		zap.String("key", key),
		zap.Int64("generation", generation),
		zap.String("content_type", contentType))

	return ObjectInfo{
		Bucket:         bucket,
		Key:            key,
		URI:            FormatURI(bucket, key),
		Generation:     generation,
		Metageneration: 1,
		Size:           int64(len(data)),
	}, nil
}

// Get reads the object at uri
func (s *FileStore) Get(ctx context.Context, uri string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	objectPath, _, err := s.paths(bucket, key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(objectPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return data, nil
}

// Delete removes the object and its generation record
func (s *FileStore) Delete(ctx context.Context, uri string, ifGeneration *int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return false, err
	}
	objectPath, genPath, err := s.paths(bucket, key)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(objectPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat object: %w", err)
	}

	if ifGeneration != nil {
		current, err := readGeneration(genPath)
		if err != nil {
			return false, err
		}
		if current != *ifGeneration {
			return false, ErrGenerationMismatch
		}
	}

	if err := os.Remove(objectPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("failed to delete object: %w", err)
	}
	if err := os.Remove(genPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("failed to remove generation record", zap.String("uri", uri), zap.Error(err))
	}
	return true, nil
}

func writeGeneration(path string, generation int64) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create generation directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatInt(generation, 10)), 0o644); err != nil {
		return fmt.Errorf("failed to record generation: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to record generation: %w", err)
	}
	return nil
}

func readGeneration(path string) (int64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read generation: %w", err)
	}
	generation, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt generation record %s: %w", path, err)
	}
	return generation, nil
}

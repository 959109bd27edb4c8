package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	contentSuffix    = ".bin"
	descriptorSuffix = ".json"
)

// LocalStorage persists files on disk under a base directory. Each object is
// written once as <id>.bin with a sidecar <id>.json descriptor.
type LocalStorage struct {
	baseDir string
}

var _ ContentStore = (*LocalStorage)(nil)

// NewLocalStorage ensures the base directory exists and returns a handle.
func NewLocalStorage(baseDir string) (*LocalStorage, error) {
	if baseDir == "" {
		baseDir = "./storage"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &LocalStorage{baseDir: baseDir}, nil
}

// Put copies the reader into a new object and returns its id.
func (s *LocalStorage) Put(ctx context.Context, name string, r io.Reader, meta map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	path := s.resolve(id + contentSuffix)

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create content file: %w", err)
	}
	size, copyErr := io.Copy(file, r)
	closeErr := file.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(path)
		if copyErr != nil {
			return "", fmt.Errorf("write content stream: %w", copyErr)
		}
		return "", fmt.Errorf("close content file: %w", closeErr)
	}

	desc := Descriptor{
		ID:          id,
		Name:        name,
		ContentType: meta[MetaContentType],
		Size:        size,
		UploadedAt:  time.Now().UTC(),
		Metadata:    copyMetadata(meta),
	}
	payload, err := json.Marshal(desc)
	if err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("encode descriptor: %w", err)
	}
	if err := os.WriteFile(s.resolve(id+descriptorSuffix), payload, 0o644); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("write descriptor: %w", err)
	}
	return id, nil
}

// Get opens the stored object for reading.
func (s *LocalStorage) Get(ctx context.Context, id string) (io.ReadCloser, *Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if !validID(id) {
		return nil, nil, ErrNotFound
	}
	desc, err := s.readDescriptor(id + descriptorSuffix)
	if err != nil {
		return nil, nil, err
	}
	file, err := os.Open(s.resolve(id + contentSuffix))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("open content file: %w", err)
	}
	return file, desc, nil
}

// Delete removes a stored object if present.
func (s *LocalStorage) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validID(id) {
		return nil
	}
	for _, suffix := range []string{contentSuffix, descriptorSuffix} {
		if err := os.Remove(s.resolve(id + suffix)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete content file: %w", err)
		}
	}
	return nil
}

// FindByMetadata scans descriptors and returns those whose metadata contains every match pair.
func (s *LocalStorage) FindByMetadata(ctx context.Context, match map[string]string) ([]Descriptor, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("list storage directory: %w", err)
	}
	result := make([]Descriptor, 0)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), descriptorSuffix) {
			continue
		}
		desc, err := s.readDescriptor(entry.Name())
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if metadataMatches(desc.Metadata, match) {
			result = append(result, *desc)
		}
	}
	return result, nil
}

func (s *LocalStorage) readDescriptor(filename string) (*Descriptor, error) {
	payload, err := os.ReadFile(s.resolve(filename))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read descriptor: %w", err)
	}
	var desc Descriptor
	if err := json.Unmarshal(payload, &desc); err != nil {
		return nil, fmt.Errorf("decode descriptor %s: %w", filename, err)
	}
	return &desc, nil
}

func (s *LocalStorage) resolve(filename string) string {
	return filepath.Join(s.baseDir, filename)
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func copyMetadata(meta map[string]string) map[string]string {
	if len(meta) == 0 {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}

package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when no stored content matches an id.
var ErrNotFound = errors.New("storage: content not found")

// Metadata keys attached to assignment uploads.
const (
	MetaEmail       = "email"
	MetaTitle       = "title"
	MetaStudentID   = "student_id"
	MetaContentType = "content_type"
)

// Descriptor describes one stored object.
type Descriptor struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	ContentType string            `json:"contentType"`
	Size        int64             `json:"size"`
	UploadedAt  time.Time         `json:"uploadedAt"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ContentStore persists opaque file bytes addressed by a generated id.
type ContentStore interface {
	Put(ctx context.Context, name string, r io.Reader, meta map[string]string) (string, error)
	Get(ctx context.Context, id string) (io.ReadCloser, *Descriptor, error)
	Delete(ctx context.Context, id string) error
	FindByMetadata(ctx context.Context, match map[string]string) ([]Descriptor, error)
}

func metadataMatches(meta, match map[string]string) bool {
	for key, want := range match {
		if meta[key] != want {
			return false
		}
	}
	return true
}

package core

import (
	"context"
	"io"
)

type (
	// StoredFile describes a file saved by a FileStore.
	StoredFile struct {
		Path        string `json:"path"` // relative to the store root
		URL         string `json:"url"`
		ContentType string `json:"content_type"`
		Size        int64  `json:"size"`
	}

	// FileStore persists uploaded files (applicant photos).
	FileStore interface {
		Save(ctx context.Context, r io.Reader, filename string) (StoredFile, error)
		Open(ctx context.Context, path string) (io.ReadCloser, error)
		Delete(ctx context.Context, path string) error
	}

	// SerialAllocator hands out monotonically increasing serial numbers per scope (e.g. "admission:2025").
	SerialAllocator interface {
		Next(ctx context.Context, scope string) (int, error)
	}
)

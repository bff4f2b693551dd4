package domain

import (
	"context"
	"io"
	"time"
)

// BlobObject is a payload to store at Path. Size is the exact body length;
// a negative Size means unknown.
type BlobObject struct {
	Path        string
	Body        io.Reader
	Size        int64
	ContentType string
	Metadata    map[string]string
}

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	Metadata     map[string]string
	LastModified time.Time
}

// BlobWriter uploads objects to cold storage.
type BlobWriter interface {
	Put(ctx context.Context, obj BlobObject) error
}

// BlobReader inspects stored objects.
type BlobReader interface {
	// Stat returns ErrNotFound when nothing is stored at path.
	Stat(ctx context.Context, path string) (BlobInfo, error)
}

// Archiver moves terminal intents from the database to cold storage.
type Archiver interface {
	ArchiveIntents(ctx context.Context, before time.Time) (int64, error)
}

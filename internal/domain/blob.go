package domain

import (
	"context"
	"io"
)

// BlobInfo is one object in the block archive bucket.
type BlobInfo struct {
	Path string
	Size int64
}

// BlobWriter uploads archive segments.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader lists and streams archive segments back for replay.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// BlockArchiver exports persisted blocks to cold storage.
type BlockArchiver interface {
	// ArchiveBlocks exports every block after the stored cursor up to and
	// including upTo, returning the number of blocks written.
	ArchiveBlocks(ctx context.Context, upTo uint64) (int64, error)
}

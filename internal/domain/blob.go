package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// MinuteArchiver copies minute rows to cold storage before they are pruned.
type MinuteArchiver interface {
	ArchiveMinutes(ctx context.Context, source string, before time.Time, rows []MinuteRecord) (string, error)
}

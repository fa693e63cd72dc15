package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

// multipartThreshold switches uploads to the multipart manager.
const multipartThreshold = 16 * 1024 * 1024

// ExistsChecker reports whether an object key is taken.
type ExistsChecker interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// MinuteArchiver writes pruned minute rows as JSONL objects at
// archive/minutes/<source>/<YYYY-MM-DD>/<HHMM>.jsonl, keyed by the prune
// cutoff. An existing object is never overwritten; a numeric suffix is
// added instead.
type MinuteArchiver struct {
	writer domain.BlobWriter
	exists ExistsChecker
}

// NewMinuteArchiver creates a MinuteArchiver. exists may be nil, in which
// case keys are not checked before upload.
func NewMinuteArchiver(writer domain.BlobWriter, exists ExistsChecker) *MinuteArchiver {
	return &MinuteArchiver{writer: writer, exists: exists}
}

// ArchiveMinutes uploads rows and returns the object key used.
func (a *MinuteArchiver) ArchiveMinutes(ctx context.Context, source string, before time.Time, rows []domain.MinuteRecord) (string, error) {
	if len(rows) == 0 {
		return "", nil
	}
	buf, err := marshalJSONL(rows)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive minutes marshal: %w", err)
	}

	key, err := a.freeKey(ctx, archivePath(source, before))
	if err != nil {
		return "", err
	}

	if len(buf) >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, key+".jsonl", bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, key+".jsonl", bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive minutes upload: %w", err)
	}
	return key + ".jsonl", nil
}

func (a *MinuteArchiver) freeKey(ctx context.Context, base string) (string, error) {
	if a.exists == nil {
		return base, nil
	}
	key := base
	for i := 1; ; i++ {
		taken, err := a.exists.Exists(ctx, key+".jsonl")
		if err != nil {
			return "", fmt.Errorf("s3blob: archive minutes exists: %w", err)
		}
		if !taken {
			return key, nil
		}
		key = fmt.Sprintf("%s-%d", base, i)
	}
}

// archivePath returns the key stem for a source and cutoff, without the
// extension.
//
//	archive/minutes/binance/2026-01-02/1504
func archivePath(source string, before time.Time) string {
	u := before.UTC()
	return fmt.Sprintf("archive/minutes/%s/%s/%s", source, u.Format("2006-01-02"), u.Format("1504"))
}

// marshalJSONL encodes one compact JSON document per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.MinuteArchiver = (*MinuteArchiver)(nil)

package s3blob

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

type memWriter struct {
	objects map[string]string
	err     error
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if w.err != nil {
		return w.err
	}
	b, _ := io.ReadAll(data)
	w.objects[path] = string(b)
	return nil
}

func (w *memWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return w.Put(ctx, path, data, "")
}

func (w *memWriter) Exists(_ context.Context, path string) (bool, error) {
	_, ok := w.objects[path]
	return ok, nil
}

func TestArchiveMinutesWritesJSONL(t *testing.T) {
	w := &memWriter{objects: map[string]string{}}
	a := NewMinuteArchiver(w, w)
	before := time.Date(2026, 1, 2, 15, 4, 0, 0, time.UTC)
	bid := 100.5
	rows := []domain.MinuteRecord{
		{Source: "binance", Symbol: "BTC", Timestamp: before.Add(-2 * time.Hour), AvgBid: &bid, TickCount: 12},
		{Source: "binance", Symbol: "ETH", Timestamp: before.Add(-2 * time.Hour), TickCount: 3},
	}

	key, err := a.ArchiveMinutes(context.Background(), "binance", before, rows)
	if err != nil {
		t.Fatal(err)
	}
	if key != "archive/minutes/binance/2026-01-02/1504.jsonl" {
		t.Fatalf("key = %q", key)
	}
	lines := strings.Split(strings.TrimSpace(w.objects[key]), "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], `"avg_bid":100.5`) || !strings.Contains(lines[1], `"avg_bid":null`) {
		t.Fatalf("object = %q", w.objects[key])
	}

	// Same cutoff again must not overwrite.
	key2, err := a.ArchiveMinutes(context.Background(), "binance", before, rows)
	if err != nil {
		t.Fatal(err)
	}
	if key2 != "archive/minutes/binance/2026-01-02/1504-1.jsonl" {
		t.Fatalf("second key = %q", key2)
	}
}

func TestArchiveMinutesUploadError(t *testing.T) {
	w := &memWriter{objects: map[string]string{}, err: errors.New("denied")}
	a := NewMinuteArchiver(w, nil)
	_, err := a.ArchiveMinutes(context.Background(), "x", time.Now(), []domain.MinuteRecord{{Symbol: "BTC"}})
	if err == nil {
		t.Fatal("expected upload error")
	}
}

func TestNormaliseEndpoint(t *testing.T) {
	cases := map[string]struct {
		in   string
		ssl  bool
		want string
	}{
		"keeps scheme": {"https://s3.example.com", false, "https://s3.example.com"},
		"bare host":    {"minio:9000", false, "http://minio:9000"},
		"bare ssl":     {"e2.idrive.com", true, "https://e2.idrive.com"},
	}
	for name, tc := range cases {
		if got := normaliseEndpoint(tc.in, tc.ssl); got != tc.want {
			t.Errorf("%s: got %q, want %q", name, got, tc.want)
		}
	}
}

func TestJoinKey(t *testing.T) {
	if got := joinKey("", "/a/b"); got != "a/b" {
		t.Fatalf("got %q", got)
	}
	if got := joinKey("prod", "a/b"); got != "prod/a/b" {
		t.Fatalf("got %q", got)
	}
}

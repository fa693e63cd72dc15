package notify

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// ConsoleSender writes alerts as plain text lines to w.
type ConsoleSender struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

// NewConsoleSender creates a ConsoleSender writing to w.
func NewConsoleSender(w io.Writer) *ConsoleSender {
	return &ConsoleSender{w: w, now: time.Now}
}

// Send writes one line per alert.
func (c *ConsoleSender) Send(_ context.Context, title, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintf(c.w, "%s [%s] %s\n", c.now().UTC().Format(time.RFC3339), title, message); err != nil {
		return fmt.Errorf("console: write: %w", err)
	}
	return nil
}

// Name returns the sender identifier.
func (c *ConsoleSender) Name() string {
	return "console"
}

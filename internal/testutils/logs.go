package testutils

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"

	"github.com/nfrund/modhost/internal/logging"
)

// LogBuffer is a goroutine-safe buffer for captured log output.
type LogBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *LogBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// CaptureLogs redirects the default slog logger into a buffer at trace level
// for the duration of the test.
func CaptureLogs(t *testing.T) *LogBuffer {
	t.Helper()

	buf := &LogBuffer{}
	original := slog.Default()
	slog.SetDefault(logging.NewLogger(buf, "text", "trace"))
	t.Cleanup(func() { slog.SetDefault(original) })
	return buf
}

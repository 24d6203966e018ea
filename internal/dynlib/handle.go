package dynlib

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nfrund/modhost/internal/logging"
)

// Handle owns one loaded library. It is closed at most once.
type Handle struct {
	platform Platform
	raw      uintptr
	path     string

	mu     sync.Mutex
	closed bool
}

// Open loads the library at path and wraps it in a Handle.
func Open(p Platform, path string) (*Handle, error) {
	raw, err := p.Load(path)
	if err != nil {
		return nil, err
	}
	return &Handle{platform: p, raw: raw, path: path}, nil
}

// Path returns the path the library was loaded from.
func (h *Handle) Path() string {
	return h.path
}

// Closed reports whether Close has already run.
func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Lookup resolves the exported symbol name into fptr.
func (h *Handle) Lookup(name string, fptr any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	return h.platform.Resolve(h.raw, name, fptr)
}

// Close unloads the library. Failures are returned and never retried: a handle
// whose unload failed is considered leaked. Callers report the error.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	h.closed = true

	if err := h.platform.Close(h.raw); err != nil {
		slog.Debug("Failed to unload the shared library", "path", h.path, "error", err)
		return fmt.Errorf("unload %s: %w", h.path, err)
	}

	slog.Log(context.Background(), logging.LevelTrace, "Lazy unloaded the shared library", "path", h.path)
	return nil
}

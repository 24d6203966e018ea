package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nfrund/modhost/internal/module"
)

// Host boots components in order and shuts them down in reverse.
type Host struct {
	components []module.Component
	booted     []module.Component
}

// NewHost creates a Host for components.
func NewHost(components ...module.Component) *Host {
	return &Host{components: components}
}

// Boot starts every component. If one fails, those already started are shut
// down again and the error is returned.
func (h *Host) Boot(ctx context.Context) error {
	for _, c := range h.components {
		slog.Info("Booting component", "component", c.Name())
		if err := c.Boot(ctx); err != nil {
			bootErr := fmt.Errorf("boot %s: %w", c.Name(), err)
			return errors.Join(bootErr, h.Shutdown(ctx))
		}
		h.booted = append(h.booted, c)
	}
	return nil
}

// Shutdown stops every booted component, last booted first.
func (h *Host) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(h.booted) - 1; i >= 0; i-- {
		c := h.booted[i]
		slog.Info("Shutting down component", "component", c.Name())
		if err := c.Shutdown(ctx); err != nil {
			slog.Error("Component shutdown failed", "component", c.Name(), "error", err)
			errs = append(errs, fmt.Errorf("shutdown %s: %w", c.Name(), err))
		}
	}
	h.booted = nil
	return errors.Join(errs...)
}

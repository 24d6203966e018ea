package module

import (
	"context"
)

// Component defines the contract for a self-contained part of the host
// process that starts after configuration and stops on shutdown.
type Component interface {
	// Name returns a unique identifier for the component.
	Name() string

	// Boot is called once the module loader is initialized.
	// This is the phase for starting background processes.
	Boot(ctx context.Context) error

	// Shutdown is called during graceful process shutdown.
	// This is the phase for cleaning up resources and stopping background processes.
	Shutdown(ctx context.Context) error
}

// BaseComponent provides default no-op implementations for Component methods.
// Components can embed this to avoid implementing methods they don't need.
type BaseComponent struct{}

func (c *BaseComponent) Boot(ctx context.Context) error     { return nil }
func (c *BaseComponent) Shutdown(ctx context.Context) error { return nil }

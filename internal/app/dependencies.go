package app

import (
	"github.com/nfrund/modhost/internal/config"
	"github.com/nfrund/modhost/internal/modloader"
	"github.com/nfrund/modhost/internal/pubsub"
)

// Dependencies holds the core services the host components are built from.
type Dependencies struct {
	Config     config.Provider
	Loader     *modloader.Loader
	Subscriber pubsub.Subscriber
}

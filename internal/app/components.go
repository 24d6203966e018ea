package app

import (
	"github.com/nfrund/modhost/internal/modloader"
	"github.com/nfrund/modhost/internal/module"
	"github.com/nfrund/modhost/internal/server"
)

// NewComponents returns the components of the host process in boot order.
// This is the single source of truth for which features are enabled.
func NewComponents(deps Dependencies) []module.Component {
	components := []module.Component{
		NewEventLog(deps.Subscriber),
	}
	if deps.Config.GetHotReload() {
		components = append(components,
			modloader.NewWatcher(deps.Loader.ModulesDir(), deps.Loader.Naming(), deps.Loader))
	}
	return append(components, server.New(deps.Config.GetAdminAddr(), deps.Loader))
}

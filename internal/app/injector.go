package app

import (
	"context"

	"github.com/nfrund/modhost/internal/config"
	"github.com/nfrund/modhost/internal/modloader"
	"github.com/nfrund/modhost/internal/pubsub"
	"github.com/nfrund/modhost/internal/realm"
	"github.com/nfrund/modhost/internal/world"
	"github.com/samber/do/v2"
	"go.opentelemetry.io/otel/trace"
)

// Tracing is the tracer used for module events and the func that flushes it.
type Tracing struct {
	Tracer   trace.Tracer
	Shutdown func(context.Context) error
}

// NewInjector registers every host service for cfg. Services are built
// lazily on first invoke.
func NewInjector(cfg *config.Config) do.Injector {
	i := do.New()

	do.ProvideValue(i, cfg)

	do.Provide(i, func(i do.Injector) (*Tracing, error) {
		tc := do.MustInvoke[*config.Config](i).GetTracing()
		tracer, shutdown, err := pubsub.SetupTracing(context.Background(), pubsub.TracingConfig{
			Enabled:     tc.Enabled,
			ServiceName: tc.ServiceName,
			ZipkinURL:   tc.ZipkinURL,
		})
		if err != nil {
			return nil, err
		}
		return &Tracing{Tracer: tracer, Shutdown: shutdown}, nil
	})

	do.Provide(i, func(i do.Injector) (*pubsub.WatermillBridge, error) {
		return pubsub.NewWatermillBridgeWithTracer(do.MustInvoke[*Tracing](i).Tracer), nil
	})

	do.Provide(i, func(i do.Injector) (*modloader.Loader, error) {
		cfg := do.MustInvoke[*config.Config](i)
		bridge := do.MustInvoke[*pubsub.WatermillBridge](i)
		return modloader.New(modloader.Options{
			ModulesDir: cfg.GetModulesDir(),
			CacheDir:   cfg.GetModulesCacheDir(),
			Contexts:   cfg.GetModulesContexts(),
		}, modloader.Dependencies{Publisher: bridge}), nil
	})

	do.Provide(i, func(i do.Injector) (*world.World, error) {
		return world.New(do.MustInvoke[*config.Config](i).GetWorldTick()), nil
	})

	do.Provide(i, func(i do.Injector) (*realm.Realm, error) {
		return realm.New(do.MustInvoke[*config.Config](i).GetRealm())
	})

	do.Provide(i, func(i do.Injector) (*Host, error) {
		return NewHost(NewComponents(Dependencies{
			Config:     do.MustInvoke[*config.Config](i),
			Loader:     do.MustInvoke[*modloader.Loader](i),
			Subscriber: do.MustInvoke[*pubsub.WatermillBridge](i),
		})...), nil
	})

	return i
}

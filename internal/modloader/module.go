// Package modloader loads game logic modules from shared libraries, keeps them
// alive while references exist and swaps in rebuilt binaries at runtime.
//
// Releasing the last reference to a module never unloads it on the spot: the
// caller may be executing code that lives inside that very library. The module
// is queued on a Reclaimer instead and closed by the next Loader.Update.
package modloader

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nfrund/modhost/internal/dynlib"
)

// Exported entry points every module binary must provide.
const (
	SymbolRevisionHash   = "GetScriptModuleRevisionHash"
	SymbolAddScripts     = "AddScripts"
	SymbolScriptModule   = "GetScriptModule"
	SymbolBuildDirective = "GetBuildDirective"
)

// ReleaseFunc receives a module whose last share was released.
type ReleaseFunc func(*Module)

type entryPoints struct {
	revisionHash   func() string
	addScripts     func()
	scriptModule   func() string
	buildDirective func() string
}

// Module is one loaded module binary with its resolved entry points.
// It is shared by the Loader and every outstanding Reference.
type Module struct {
	handle   *dynlib.Handle
	entry    entryPoints
	path     string
	context  string
	id       uuid.UUID
	loadedAt time.Time

	shares    atomic.Int64
	onRelease ReleaseFunc
	addOnce   sync.Once
	reclaimed atomic.Bool
}

// CreateFromPath loads the library at path and resolves the four required
// entry points. It either returns a complete Module holding one share owned
// by the caller, or an error with no library left loaded.
//
// onRelease runs when the share count drops to zero; it must not unload.
// Failures are returned, not logged at error level; reporting them is up to the caller.
func CreateFromPath(p dynlib.Platform, path string, onRelease ReleaseFunc) (*Module, error) {
	return createFromPath(p, path, "", onRelease)
}

// createFromPath is CreateFromPath for a module that will be published to
// moduleContext. The context is fixed for the lifetime of the Module.
func createFromPath(p dynlib.Platform, path, moduleContext string, onRelease ReleaseFunc) (*Module, error) {
	handle, err := dynlib.Open(p, path)
	if err != nil {
		slog.Debug("Could not load the shared library", "path", path, "error", err)
		return nil, NewLoaderError(ErrorTypeLoad, moduleContext, path, "could not load the shared library", err)
	}

	// Owned here until the Module takes it over.
	keep := false
	defer func() {
		if !keep {
			_ = handle.Close()
		}
	}()

	var entry entryPoints
	symbols := []struct {
		name string
		fptr any
	}{
		{SymbolRevisionHash, &entry.revisionHash},
		{SymbolAddScripts, &entry.addScripts},
		{SymbolScriptModule, &entry.scriptModule},
		{SymbolBuildDirective, &entry.buildDirective},
	}

	var missing []string
	for _, sym := range symbols {
		if err := handle.Lookup(sym.name, sym.fptr); err != nil {
			slog.Debug("Failed to resolve module entry point", "path", path, "symbol", sym.name, "error", err)
			missing = append(missing, sym.name)
		}
	}
	if len(missing) > 0 {
		slog.Debug("Could not extract all required functions from the shared library",
			"path", path, "missing", missing)
		return nil, NewLoaderError(ErrorTypeSymbol, moduleContext, path,
			fmt.Sprintf("missing entry points %v", missing), nil)
	}

	if onRelease == nil {
		onRelease = func(*Module) {}
	}
	m := &Module{
		handle:    handle,
		entry:     entry,
		path:      path,
		context:   moduleContext,
		id:        uuid.New(),
		loadedAt:  time.Now(),
		onRelease: onRelease,
	}
	m.shares.Store(1)
	keep = true

	slog.Debug("Loaded module binary", "path", path, "load_id", m.id)
	return m, nil
}

// GetScriptModuleRevisionHash returns the build identifier exported by the module.
func (m *Module) GetScriptModuleRevisionHash() string {
	m.mustBeLive()
	return m.entry.revisionHash()
}

// GetScriptModule returns the module name.
func (m *Module) GetScriptModule() string {
	m.mustBeLive()
	return m.entry.scriptModule()
}

// GetBuildDirective returns the build configuration the module was compiled with.
func (m *Module) GetBuildDirective() string {
	m.mustBeLive()
	return m.entry.buildDirective()
}

// GetModulePath returns the path the library was loaded from.
func (m *Module) GetModulePath() string {
	return m.path
}

// Context returns the loader context the module was published to, if any.
func (m *Module) Context() string {
	return m.context
}

// ID identifies this particular load of the binary in logs and events.
func (m *Module) ID() uuid.UUID {
	return m.id
}

// LoadedAt returns when the library was loaded.
func (m *Module) LoadedAt() time.Time {
	return m.loadedAt
}

// Shares returns the current number of owners.
func (m *Module) Shares() int64 {
	return m.shares.Load()
}

// Reclaimed reports whether the library has been unloaded.
func (m *Module) Reclaimed() bool {
	return m.reclaimed.Load()
}

// activate runs AddScripts the first time it is called and reports whether it did.
func (m *Module) activate() bool {
	ran := false
	m.addOnce.Do(func() {
		m.mustBeLive()
		m.entry.addScripts()
		ran = true
	})
	return ran
}

// tryRetain adds a share unless the module already dropped to zero.
func (m *Module) tryRetain() bool {
	for {
		n := m.shares.Load()
		if n <= 0 {
			return false
		}
		if m.shares.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// release drops one share and hands the module to onRelease on the last one.
func (m *Module) release() {
	switch n := m.shares.Add(-1); {
	case n == 0:
		m.onRelease(m)
	case n < 0:
		panic(fmt.Sprintf("modloader: module %s released more often than retained", m.path))
	}
}

// reclaim closes the library. Only the Reclaimer calls it.
func (m *Module) reclaim() error {
	m.reclaimed.Store(true)
	return m.handle.Close()
}

func (m *Module) mustBeLive() {
	if m.reclaimed.Load() {
		panic(fmt.Sprintf("modloader: entry point called on reclaimed module %s", m.path))
	}
}

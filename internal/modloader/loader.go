package modloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nfrund/modhost/internal/dynlib"
	"github.com/nfrund/modhost/internal/pubsub"
	"github.com/spf13/afero"
)

// Options configures where the Loader finds module binaries.
type Options struct {
	// ModulesDir is scanned on Initialize for existing binaries.
	ModulesDir string
	// CacheDir receives private copies of loaded binaries. Empty loads in place,
	// which prevents reloading a binary from the same path.
	CacheDir string
	// Naming is the file name convention; the zero value means the host platform's.
	Naming dynlib.Naming
	// Contexts restricts which contexts may be loaded. Empty allows any.
	Contexts []string
}

// Dependencies holds all the services that the Loader requires to operate
type Dependencies struct {
	Platform  dynlib.Platform
	Fs        afero.Fs
	Publisher pubsub.Publisher
}

// activation is the content of a context slot.
type activation struct {
	module      *Module
	source      string
	activatedAt time.Time
}

type slot struct {
	active atomic.Pointer[activation]
}

// Loader tracks the active module of every context and swaps in rebuilt
// binaries. Initialize, Update and Unload must be called from the single
// goroutine that owns world state; AcquireModuleReferenceOfContext, Notify and
// Snapshot are safe from any goroutine.
type Loader struct {
	opts      Options
	platform  dynlib.Platform
	fs        afero.Fs
	publisher pubsub.Publisher
	cache     *libraryCache
	allowed   map[string]struct{}

	slots     sync.Map // context -> *slot
	reclaimer *Reclaimer

	pendingMu sync.Mutex
	pending   []string
	queued    map[string]struct{}
}

// New creates a Loader. Nothing is loaded until Initialize or Update runs.
func New(opts Options, deps Dependencies) *Loader {
	if opts.Naming.Extension == "" {
		opts.Naming = dynlib.NativeNaming()
	} else {
		opts.Naming = dynlib.NewNaming(opts.Naming.Prefix, opts.Naming.Extension)
	}
	if deps.Platform == nil {
		deps.Platform = dynlib.Native()
	}
	if deps.Fs == nil {
		deps.Fs = afero.NewOsFs()
	}

	l := &Loader{
		opts:      opts,
		platform:  deps.Platform,
		fs:        deps.Fs,
		publisher: deps.Publisher,
		queued:    make(map[string]struct{}),
	}
	if opts.CacheDir != "" {
		l.cache = &libraryCache{fs: deps.Fs, dir: opts.CacheDir, naming: opts.Naming}
	}
	if len(opts.Contexts) > 0 {
		l.allowed = make(map[string]struct{}, len(opts.Contexts))
		for _, c := range opts.Contexts {
			l.allowed[c] = struct{}{}
		}
	}
	l.reclaimer = NewReclaimer(l.afterReclaim)
	return l
}

// Naming returns the file name convention in use.
func (l *Loader) Naming() dynlib.Naming {
	return l.opts.Naming
}

// ModulesDir returns the directory scanned for module binaries.
func (l *Loader) ModulesDir() string {
	return l.opts.ModulesDir
}

// Initialize prepares the cache directory and loads every valid module binary
// already present in the modules directory. Modules loaded by an earlier
// Initialize are unloaded first.
func (l *Loader) Initialize() error {
	if len(l.Contexts()) > 0 || l.PendingReclaims() > 0 {
		l.Unload()
	}

	logSystem(slog.LevelInfo, "Initializing module loader",
		slog.String("modules_dir", l.opts.ModulesDir),
		slog.String("cache_dir", l.opts.CacheDir),
	)

	if l.cache != nil {
		if err := l.cache.prepare(); err != nil {
			logLoaderError(NewLoaderError(ErrorTypeCache, "", l.opts.CacheDir, "failed to prepare module cache", err))
			return err
		}
	}

	entries, err := afero.ReadDir(l.fs, l.opts.ModulesDir)
	if err != nil {
		if os.IsNotExist(err) {
			logSystem(slog.LevelInfo, "Modules directory does not exist, nothing to load",
				slog.String("modules_dir", l.opts.ModulesDir))
			return nil
		}
		return fmt.Errorf("failed to read modules directory %s: %w", l.opts.ModulesDir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && l.opts.Naming.Valid(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	loaded := 0
	for _, name := range names {
		if l.load(filepath.Join(l.opts.ModulesDir, name)) {
			loaded++
		}
	}

	logSystem(slog.LevelInfo, "Module loader initialized",
		slog.Int("candidates", len(names)),
		slog.Int("loaded", loaded),
	)
	return nil
}

// Notify tells the loader that a fresh binary is available at path. The
// binary is picked up by the next Update. Repeated notifications for the same
// path before that are coalesced.
func (l *Loader) Notify(path string) {
	l.pendingMu.Lock()
	defer l.pendingMu.Unlock()

	if _, ok := l.queued[path]; ok {
		return
	}
	l.queued[path] = struct{}{}
	l.pending = append(l.pending, path)
}

// NotifyContext queues the source binary of moduleContext for reloading and
// returns its path.
func (l *Loader) NotifyContext(moduleContext string) string {
	path := filepath.Join(l.opts.ModulesDir, l.opts.Naming.FileName(moduleContext))
	if s := l.lookup(moduleContext); s != nil {
		if a := s.active.Load(); a != nil && a.source != "" {
			path = a.source
		}
	}
	l.Notify(path)
	return path
}

// Update is the safe point for unloading. It first closes every library whose
// last reference was released, then loads and publishes pending binaries.
// It must be called periodically from the goroutine that owns world state.
func (l *Loader) Update() {
	if n := l.reclaimer.Drain(); n > 0 {
		logSystem(slog.LevelDebug, "Reclaimed unused modules", slog.Int("count", n))
	}

	for _, path := range l.takePending() {
		l.load(path)
	}
}

// Unload empties every context and unloads whatever is no longer referenced.
// Modules still held by references are unloaded by a later Update.
func (l *Loader) Unload() {
	unloaded := 0
	l.slots.Range(func(key, value any) bool {
		s := value.(*slot)
		if old := s.active.Swap(nil); old != nil {
			logLifecycle(slog.LevelInfo, "Unloading module", key.(string), old.source)
			l.emit(TopicModuleUnloaded, key.(string), Event{
				Path:   old.module.path,
				Source: old.source,
				LoadID: old.module.id.String(),
			})
			old.module.release()
			unloaded++
		}
		return true
	})

	l.pendingMu.Lock()
	l.pending = nil
	l.queued = make(map[string]struct{})
	l.pendingMu.Unlock()

	reclaimed := l.reclaimer.Drain()
	logSystem(slog.LevelInfo, "Module loader unloaded",
		slog.Int("contexts", unloaded),
		slog.Int("reclaimed", reclaimed),
	)
}

// AcquireModuleReferenceOfContext returns an owning reference to the active
// module of moduleContext, or false if the context has none.
func (l *Loader) AcquireModuleReferenceOfContext(moduleContext string) (Reference, bool) {
	s := l.lookup(moduleContext)
	if s == nil {
		return nil, false
	}
	for {
		a := s.active.Load()
		if a == nil {
			return nil, false
		}
		if a.module.tryRetain() {
			return newReference(a.module), true
		}
		// The module dropped to zero between Load and retain, so the slot
		// has already moved on; look again.
	}
}

// PendingReclaims returns how many released modules await unloading.
func (l *Loader) PendingReclaims() int {
	return l.reclaimer.Pending()
}

// Contexts returns the names of all contexts that currently have an active module.
func (l *Loader) Contexts() []string {
	var names []string
	l.slots.Range(func(key, value any) bool {
		if value.(*slot).active.Load() != nil {
			names = append(names, key.(string))
		}
		return true
	})
	sort.Strings(names)
	return names
}

// ContextStatus describes the active module of one context.
type ContextStatus struct {
	Context        string    `json:"context"`
	ScriptModule   string    `json:"script_module"`
	RevisionHash   string    `json:"revision_hash"`
	BuildDirective string    `json:"build_directive"`
	Path           string    `json:"path"`
	Source         string    `json:"source"`
	LoadID         string    `json:"load_id"`
	LoadedAt       time.Time `json:"loaded_at"`
	ActivatedAt    time.Time `json:"activated_at"`
	References     int64     `json:"references"`
}

// Status describes the active module of moduleContext.
func (l *Loader) Status(moduleContext string) (ContextStatus, bool) {
	s := l.lookup(moduleContext)
	if s == nil {
		return ContextStatus{}, false
	}
	for {
		a := s.active.Load()
		if a == nil {
			return ContextStatus{}, false
		}
		if !a.module.tryRetain() {
			continue
		}
		m := a.module
		st := ContextStatus{
			Context:        moduleContext,
			ScriptModule:   m.GetScriptModule(),
			RevisionHash:   m.GetScriptModuleRevisionHash(),
			BuildDirective: m.GetBuildDirective(),
			Path:           m.path,
			Source:         a.source,
			LoadID:         m.id.String(),
			LoadedAt:       m.loadedAt,
			ActivatedAt:    a.activatedAt,
			References:     max(m.Shares()-2, 0), // minus the slot's share and ours
		}
		m.release()
		return st, true
	}
}

// Snapshot describes every context with an active module.
func (l *Loader) Snapshot() []ContextStatus {
	var out []ContextStatus
	for _, name := range l.Contexts() {
		if st, ok := l.Status(name); ok {
			out = append(out, st)
		}
	}
	return out
}

// load runs the filename gate and the loading algorithm for path and
// publishes the result. It reports whether a module was published.
func (l *Loader) load(path string) bool {
	moduleContext, ok := l.opts.Naming.Match(path)
	if !ok {
		logSystem(slog.LevelDebug, "Ignoring file that is not a module binary", slog.String("path", path))
		return false
	}
	if !l.isAllowed(moduleContext) {
		logLifecycle(slog.LevelDebug, "Ignoring module of unknown context", moduleContext, path)
		return false
	}
	if _, err := l.fs.Stat(path); err != nil {
		logLifecycle(slog.LevelInfo, "Module binary disappeared before it could be loaded, keeping current module",
			moduleContext, path, slog.String("error", err.Error()))
		return false
	}

	loadPath := path
	if l.cache != nil {
		staged, err := l.cache.stage(path, moduleContext)
		if err != nil {
			l.fail(NewLoaderError(ErrorTypeCache, moduleContext, path, "failed to stage module binary", err))
			return false
		}
		loadPath = staged
	}

	m, err := createFromPath(l.platform, loadPath, moduleContext, l.reclaimer.Schedule)
	if err != nil {
		if l.cache != nil {
			l.cache.remove(loadPath)
		}
		l.fail(err)
		return false
	}

	l.publish(moduleContext, path, m)
	return true
}

// publish makes m the active module of moduleContext, handing over the
// caller's share, and runs its AddScripts entry point.
func (l *Loader) publish(moduleContext, source string, m *Module) {
	s, _ := l.slots.LoadOrStore(moduleContext, &slot{})
	old := s.(*slot).active.Swap(&activation{
		module:      m,
		source:      source,
		activatedAt: time.Now(),
	})

	m.activate()

	revision := m.GetScriptModuleRevisionHash()
	name := m.GetScriptModule()
	fields := []slog.Attr{
		slog.String("script_module", name),
		slog.String("revision_hash", revision),
		slog.String("build_directive", m.GetBuildDirective()),
		slog.String("load_id", m.id.String()),
	}
	if old != nil {
		fields = append(fields, slog.String("replaced_load_id", old.module.id.String()))
		logLifecycle(slog.LevelInfo, "Reloaded module", moduleContext, source, fields...)
	} else {
		logLifecycle(slog.LevelInfo, "Loaded module", moduleContext, source, fields...)
	}

	l.emit(TopicModuleLoaded, moduleContext, Event{
		Path:           m.path,
		Source:         source,
		LoadID:         m.id.String(),
		RevisionHash:   revision,
		ScriptModule:   name,
		BuildDirective: m.GetBuildDirective(),
		Replaced:       old != nil,
	})

	if old != nil {
		old.module.release()
	}
}

func (l *Loader) fail(err error) {
	logLoaderError(err)

	ev := Event{Error: err.Error()}
	moduleContext := ""
	var le *LoaderError
	if errors.As(err, &le) {
		ev.Path = le.Path
		ev.ErrorType = string(le.Type)
		moduleContext = le.Context
	}
	l.emit(TopicModuleLoadFailed, moduleContext, ev)
}

// afterReclaim runs on the Update goroutine for every unloaded module.
func (l *Loader) afterReclaim(m *Module, err error) {
	if l.cache != nil {
		l.cache.remove(m.path)
	}

	ev := Event{Path: m.path, LoadID: m.id.String()}
	if err != nil {
		ev.Error = err.Error()
		ev.ErrorType = string(ErrorTypeUnload)
	}
	logLifecycle(slog.LevelDebug, "Reclaimed module", m.context, m.path, slog.String("load_id", m.id.String()))
	l.emit(TopicModuleReclaimed, m.context, ev)
}

func (l *Loader) takePending() []string {
	l.pendingMu.Lock()
	defer l.pendingMu.Unlock()

	pending := l.pending
	l.pending = nil
	l.queued = make(map[string]struct{})
	return pending
}

func (l *Loader) lookup(moduleContext string) *slot {
	s, ok := l.slots.Load(moduleContext)
	if !ok {
		return nil
	}
	return s.(*slot)
}

func (l *Loader) isAllowed(moduleContext string) bool {
	if l.allowed == nil {
		return true
	}
	_, ok := l.allowed[moduleContext]
	return ok
}

func (l *Loader) emit(topic, moduleContext string, ev Event) {
	if l.publisher == nil {
		return
	}
	ev.Context = moduleContext
	if err := publishEvent(context.Background(), l.publisher, topic, ev); err != nil {
		logSystem(slog.LevelWarn, "Failed to publish module event",
			slog.String("topic", topic), slog.String("error", err.Error()))
	}
}

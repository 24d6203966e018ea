package testutils

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/spf13/afero"
)

// ErrNoSuchBuild is returned by FakePlatform.Load for files whose content is
// not a registered build.
var ErrNoSuchBuild = errors.New("fake dlopen: not a loadable library")

// FakeLibrary is an in-memory stand-in for a compiled module binary.
type FakeLibrary struct {
	// Symbols maps exported names to Go funcs of the matching signature.
	Symbols map[string]any
	// CloseErr is returned when the library is unloaded.
	CloseErr error
}

// NewModuleBuild returns a library exporting all four module entry points.
// addScripts may be nil.
func NewModuleBuild(name, revision string, addScripts func()) *FakeLibrary {
	if addScripts == nil {
		addScripts = func() {}
	}
	return &FakeLibrary{
		Symbols: map[string]any{
			"GetScriptModuleRevisionHash": func() string { return revision },
			"AddScripts":                  addScripts,
			"GetScriptModule":             func() string { return name },
			"GetBuildDirective":           func() string { return "RelWithDebInfo" },
		},
	}
}

// Without returns a copy of the library with the given symbols removed.
func (l *FakeLibrary) Without(names ...string) *FakeLibrary {
	symbols := make(map[string]any, len(l.Symbols))
	for k, v := range l.Symbols {
		symbols[k] = v
	}
	for _, name := range names {
		delete(symbols, name)
	}
	return &FakeLibrary{Symbols: symbols, CloseErr: l.CloseErr}
}

type openLib struct {
	path string
	lib  *FakeLibrary
}

// FakePlatform implements dynlib.Platform over an afero filesystem. A file
// "is" a library when its content equals a key registered with AddBuild,
// so copying the file keeps it loadable.
type FakePlatform struct {
	fs afero.Fs

	mu     sync.Mutex
	builds map[string]*FakeLibrary
	open   map[uintptr]openLib
	next   uintptr
	loads  int
	closed []string
}

// NewFakePlatform creates a platform reading candidate files from fs.
func NewFakePlatform(fs afero.Fs) *FakePlatform {
	return &FakePlatform{
		fs:     fs,
		builds: make(map[string]*FakeLibrary),
		open:   make(map[uintptr]openLib),
		next:   1,
	}
}

// AddBuild registers lib as the library produced by files containing content.
func (p *FakePlatform) AddBuild(content string, lib *FakeLibrary) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.builds[content] = lib
}

// WriteBuild writes content to path and registers lib for it.
func (p *FakePlatform) WriteBuild(path, content string, lib *FakeLibrary) error {
	p.AddBuild(content, lib)
	return afero.WriteFile(p.fs, path, []byte(content), 0o644)
}

func (p *FakePlatform) Load(path string) (uintptr, error) {
	data, err := afero.ReadFile(p.fs, path)
	if err != nil {
		return 0, fmt.Errorf("fake dlopen %s: %w", path, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	lib, ok := p.builds[string(data)]
	if !ok {
		return 0, fmt.Errorf("fake dlopen %s: %w", path, ErrNoSuchBuild)
	}
	handle := p.next
	p.next++
	p.loads++
	p.open[handle] = openLib{path: path, lib: lib}
	return handle, nil
}

func (p *FakePlatform) Resolve(handle uintptr, name string, fptr any) error {
	p.mu.Lock()
	lib, ok := p.open[handle]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("fake dlsym %s: invalid handle %d", name, handle)
	}

	fn, ok := lib.lib.Symbols[name]
	if !ok {
		return fmt.Errorf("fake dlsym %s: undefined symbol", name)
	}

	dst := reflect.ValueOf(fptr)
	if dst.Kind() != reflect.Pointer || dst.Elem().Kind() != reflect.Func {
		return fmt.Errorf("fake dlsym %s: fptr must be a pointer to a func", name)
	}
	src := reflect.ValueOf(fn)
	if !src.Type().AssignableTo(dst.Elem().Type()) {
		return fmt.Errorf("fake dlsym %s: symbol type %s does not match %s", name, src.Type(), dst.Elem().Type())
	}
	dst.Elem().Set(src)
	return nil
}

func (p *FakePlatform) Close(handle uintptr) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	lib, ok := p.open[handle]
	if !ok {
		return fmt.Errorf("fake dlclose: invalid handle %d", handle)
	}
	delete(p.open, handle)
	p.closed = append(p.closed, lib.path)
	return lib.lib.CloseErr
}

// OpenCount returns how many libraries are currently loaded.
func (p *FakePlatform) OpenCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.open)
}

// LoadCount returns how many successful loads happened in total.
func (p *FakePlatform) LoadCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loads
}

// ClosedPaths returns the paths of closed libraries in close order.
func (p *FakePlatform) ClosedPaths() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.closed...)
}

package modloader

import "sync/atomic"

// Reference is an owning, read-only handle to a loaded module. The library
// stays loaded until every Reference to it has been released.
//
// Acquire one through Loader.AcquireModuleReferenceOfContext.
type Reference interface {
	// GetScriptModuleRevisionHash returns the revision hash of the referenced module.
	GetScriptModuleRevisionHash() string
	// GetScriptModule returns the name of the referenced module.
	GetScriptModule() string
	// GetModulePath returns the path of the referenced module binary.
	GetModulePath() string
	// Release gives up this reference. Calling it again is a no-op; calling any
	// other method afterwards panics.
	Release()
}

type moduleRef struct {
	m atomic.Pointer[Module]
}

func newReference(m *Module) *moduleRef {
	r := &moduleRef{}
	r.m.Store(m)
	return r
}

func (r *moduleRef) module() *Module {
	m := r.m.Load()
	if m == nil {
		panic("modloader: use of released module reference")
	}
	return m
}

func (r *moduleRef) GetScriptModuleRevisionHash() string {
	return r.module().GetScriptModuleRevisionHash()
}

func (r *moduleRef) GetScriptModule() string {
	return r.module().GetScriptModule()
}

func (r *moduleRef) GetModulePath() string {
	return r.module().GetModulePath()
}

func (r *moduleRef) Release() {
	if m := r.m.Swap(nil); m != nil {
		m.release()
	}
}

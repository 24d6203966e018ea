package modloader

import "sync/atomic"

var defaultLoader atomic.Pointer[Loader]

// Default returns the process-wide Loader installed with SetDefault, or nil.
func Default() *Loader {
	return defaultLoader.Load()
}

// SetDefault installs l as the process-wide Loader and returns the previous one.
func SetDefault(l *Loader) *Loader {
	return defaultLoader.Swap(l)
}

// AcquireModuleReferenceOfContext acquires a reference from the process-wide Loader.
func AcquireModuleReferenceOfContext(moduleContext string) (Reference, bool) {
	l := Default()
	if l == nil {
		return nil, false
	}
	return l.AcquireModuleReferenceOfContext(moduleContext)
}

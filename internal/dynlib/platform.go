// Package dynlib wraps the operating system's dynamic library loader.
//
// A Platform exposes the three primitives the module host needs (load, resolve,
// close). Handle owns one loaded library and guarantees it is released at most once.
package dynlib

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by operations on a Handle that was already closed.
var ErrClosed = errors.New("dynlib: handle already closed")

// Platform is the OS-level dynamic library capability.
type Platform interface {
	// Load maps the library at path and returns its native handle.
	Load(path string) (uintptr, error)

	// Resolve looks up the exported symbol name and binds it into fptr,
	// which must be a pointer to a func variable.
	Resolve(handle uintptr, name string, fptr any) error

	// Close releases the native handle.
	Close(handle uintptr) error
}

// Native returns the Platform backed by the host operating system.
func Native() Platform {
	return nativePlatform{}
}

// bindSymbol turns a resolved symbol address into a callable Go func.
// purego panics on signatures it cannot translate, so that is reported as an error.
func bindSymbol(name string, fptr any, sym uintptr, register func(any, uintptr)) (err error) {
	if sym == 0 {
		return fmt.Errorf("symbol %q resolved to a nil address", name)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bind symbol %q: %v", name, r)
		}
	}()
	register(fptr, sym)
	return nil
}

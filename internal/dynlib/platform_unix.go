//go:build !windows

package dynlib

import (
	"fmt"

	"github.com/ebitengine/purego"
)

type nativePlatform struct{}

func (nativePlatform) Load(path string) (uintptr, error) {
	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_LOCAL)
	if err != nil {
		return 0, fmt.Errorf("dlopen %s: %w", path, err)
	}
	if handle == 0 {
		return 0, fmt.Errorf("dlopen %s: nil handle", path)
	}
	return handle, nil
}

func (nativePlatform) Resolve(handle uintptr, name string, fptr any) error {
	sym, err := purego.Dlsym(handle, name)
	if err != nil {
		return fmt.Errorf("dlsym %s: %w", name, err)
	}
	return bindSymbol(name, fptr, sym, purego.RegisterFunc)
}

func (nativePlatform) Close(handle uintptr) error {
	if handle == 0 {
		return nil
	}
	return purego.Dlclose(handle)
}

//go:build windows

package dynlib

import (
	"fmt"

	"github.com/ebitengine/purego"
	"golang.org/x/sys/windows"
)

type nativePlatform struct{}

func (nativePlatform) Load(path string) (uintptr, error) {
	handle, err := windows.LoadLibrary(path)
	if err != nil {
		return 0, fmt.Errorf("LoadLibrary %s: %w", path, err)
	}
	if handle == 0 {
		return 0, fmt.Errorf("LoadLibrary %s: nil handle", path)
	}
	return uintptr(handle), nil
}

func (nativePlatform) Resolve(handle uintptr, name string, fptr any) error {
	proc, err := windows.GetProcAddress(windows.Handle(handle), name)
	if err != nil {
		return fmt.Errorf("GetProcAddress %s: %w", name, err)
	}
	return bindSymbol(name, fptr, proc, purego.RegisterFunc)
}

func (nativePlatform) Close(handle uintptr) error {
	if handle == 0 {
		return nil
	}
	return windows.FreeLibrary(windows.Handle(handle))
}

//go:build !windows && !darwin

package dynlib

const (
	nativePrefix    = "libmod"
	nativeExtension = "so"
)

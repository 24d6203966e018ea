package dynlib

const (
	nativePrefix    = "libmod"
	nativeExtension = "dylib"
)

package dynlib

const (
	nativePrefix    = ""
	nativeExtension = "dll"
)

package dynlib

import (
	"fmt"
	"path/filepath"
	"regexp"
)

// Naming describes the platform file name convention for module binaries:
// <Prefix>_<identifier>.<Extension>. An empty prefix drops the separator.
type Naming struct {
	Prefix    string
	Extension string

	pattern *regexp.Regexp
}

// NewNaming compiles the file name pattern for prefix and extension.
func NewNaming(prefix, extension string) Naming {
	head := ""
	if prefix != "" {
		head = regexp.QuoteMeta(prefix) + "_"
	}
	return Naming{
		Prefix:    prefix,
		Extension: extension,
		pattern:   regexp.MustCompile("^" + head + `([a-zA-Z0-9_-]+)\.` + regexp.QuoteMeta(extension) + "$"),
	}
}

// NativeNaming returns the convention of the host platform.
func NativeNaming() Naming {
	return NewNaming(nativePrefix, nativeExtension)
}

// Match reports whether the base name of path follows the convention and
// returns the identifier it carries.
func (n Naming) Match(path string) (string, bool) {
	if n.pattern == nil {
		n = NewNaming(n.Prefix, n.Extension)
	}
	m := n.pattern.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Valid reports whether name is an acceptable module file name.
func (n Naming) Valid(name string) bool {
	_, ok := n.Match(name)
	return ok
}

// FileName builds the canonical file name for identifier.
func (n Naming) FileName(identifier string) string {
	return n.fileName(identifier, "")
}

// CacheFileName builds a unique file name for a cached copy of identifier.
// The result intentionally does not pass Match so a watched cache directory
// never feeds its own copies back into the loader.
func (n Naming) CacheFileName(identifier, tag string) string {
	return n.fileName(identifier, "."+tag)
}

func (n Naming) fileName(identifier, tag string) string {
	if n.Prefix == "" {
		return fmt.Sprintf("%s%s.%s", identifier, tag, n.Extension)
	}
	return fmt.Sprintf("%s_%s%s.%s", n.Prefix, identifier, tag, n.Extension)
}

package modloader

import (
	"github.com/nfrund/modhost/internal/dynlib"
)

// Info describes a module binary without activating it.
type Info struct {
	Path           string `json:"path"`
	Context        string `json:"context,omitempty"`
	ScriptModule   string `json:"script_module"`
	RevisionHash   string `json:"revision_hash"`
	BuildDirective string `json:"build_directive"`
}

// Inspect loads the binary at path, reads its metadata entry points and
// unloads it again. AddScripts is never called. Context is set when the file
// name follows naming.
func Inspect(p dynlib.Platform, naming dynlib.Naming, path string) (Info, error) {
	r := NewReclaimer(nil)
	m, err := CreateFromPath(p, path, r.Schedule)
	if err != nil {
		return Info{}, err
	}

	info := Info{
		Path:           path,
		ScriptModule:   m.GetScriptModule(),
		RevisionHash:   m.GetScriptModuleRevisionHash(),
		BuildDirective: m.GetBuildDirective(),
	}
	if ctx, ok := naming.Match(path); ok {
		info.Context = ctx
	}

	m.release()
	r.Drain()
	return info, nil
}

// CheckName returns the context carried by the file name of path, or an
// invalid_name LoaderError when the name does not follow naming.
func CheckName(naming dynlib.Naming, path string) (string, error) {
	ctx, ok := naming.Match(path)
	if !ok {
		return "", NewLoaderError(ErrorTypeInvalidName, "", path,
			"file name must look like "+naming.FileName("<identifier>"), nil)
	}
	return ctx, nil
}

// Package libhandle wraps the OS dynamic-symbol-resolution primitive
// (dlopen/LoadLibrary) behind a small platform-neutral interface. Per
// spec.md's scope note, this is an external collaborator the loader
// consumes rather than reimplements — the files in this package are thin
// cgo/syscall shims, nothing more.
package libhandle

import "fmt"

// OSLibrary is one OS-level mapping of one load-file path.
type OSLibrary interface {
	// Symbol resolves a named export. The returned address is only valid
	// while the OSLibrary remains open.
	Symbol(name string) (uintptr, error)
	// Close releases the OS mapping. Calling it twice is a programmer error.
	Close() error
}

// Opener loads a shared library file and returns its OS-level handle.
type Opener func(path string) (OSLibrary, error)

// Default is the platform Opener, wired to the cgo (unix) or syscall
// (windows) implementation compiled for the current GOOS.
var Default Opener = open

// ErrSymbolNotFound is returned by Symbol when the export is absent.
type ErrSymbolNotFound struct {
	Name string
}

func (e *ErrSymbolNotFound) Error() string {
	return fmt.Sprintf("symbol not found: %s", e.Name)
}

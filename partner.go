package liveload

import "github.com/liveload/liveload/internal/libhandle"

// RawHandle is the OS-level resource a Partner may read symbols from. It
// stays valid for the entire lifetime between Construct and Destruct.
type RawHandle struct {
	lib      libhandle.OSLibrary
	loadPath string
}

// Symbol resolves a named export from the loaded library.
func (h *RawHandle) Symbol(name string) (uintptr, error) {
	return h.lib.Symbol(name)
}

// LoadPath returns the on-disk path the OS actually mapped for this handle.
func (h *RawHandle) LoadPath() string { return h.loadPath }

// Partner is host-defined per-library state derived from a library's
// symbols (vtables, registrations, cached function pointers). Construct
// always runs after a successful OS load; Destruct always runs before OS
// unload, and its error is logged but never aborts the reload.
type Partner[P any] interface {
	Construct(h *RawHandle) (P, error)
	Destruct(p P, h *RawHandle) error
}

// UnitPartner is the trivial default Partner: no per-library state.
type UnitPartner struct{}

func (UnitPartner) Construct(*RawHandle) (struct{}, error) { return struct{}{}, nil }
func (UnitPartner) Destruct(struct{}, *RawHandle) error    { return nil }

//go:build windows

package libhandle

import (
	"fmt"

	"golang.org/x/sys/windows"
)

type windowsLibrary struct {
	handle windows.Handle
	path   string
}

func open(path string) (OSLibrary, error) {
	h, err := windows.LoadLibraryEx(path, 0, windows.LOAD_WITH_ALTERED_SEARCH_PATH)
	if err != nil {
		return nil, fmt.Errorf("LoadLibraryEx %s: %w", path, err)
	}
	return &windowsLibrary{handle: h, path: path}, nil
}

func (l *windowsLibrary) Symbol(name string) (uintptr, error) {
	addr, err := windows.GetProcAddress(l.handle, name)
	if err != nil {
		return 0, &ErrSymbolNotFound{Name: name}
	}
	return addr, nil
}

func (l *windowsLibrary) Close() error {
	if err := windows.FreeLibrary(l.handle); err != nil {
		return fmt.Errorf("FreeLibrary %s: %w", l.path, err)
	}
	return nil
}

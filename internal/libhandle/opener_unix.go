//go:build unix

package libhandle

/*
#cgo LDFLAGS: -ldl
#include <dlfcn.h>
#include <stdlib.h>
*/
import "C"

import (
	"fmt"
	"unsafe"
)

type unixLibrary struct {
	handle unsafe.Pointer
	path   string
}

func open(path string) (OSLibrary, error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	// RTLD_NOW so a bad export is caught at load time, not on first call.
	h := C.dlopen(cpath, C.RTLD_NOW)
	if h == nil {
		return nil, fmt.Errorf("dlopen %s: %s", path, dlerrorString())
	}
	return &unixLibrary{handle: h, path: path}, nil
}

func (l *unixLibrary) Symbol(name string) (uintptr, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))

	C.dlerror() // clear any pending error
	sym := C.dlsym(l.handle, cname)
	if sym == nil {
		if errStr := dlerrorString(); errStr != "" {
			return 0, &ErrSymbolNotFound{Name: name}
		}
	}
	return uintptr(sym), nil
}

func (l *unixLibrary) Close() error {
	if C.dlclose(l.handle) != 0 {
		return fmt.Errorf("dlclose %s: %s", l.path, dlerrorString())
	}
	return nil
}

func dlerrorString() string {
	cerr := C.dlerror()
	if cerr == nil {
		return ""
	}
	return C.GoString(cerr)
}

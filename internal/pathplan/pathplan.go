// Package pathplan resolves a logical library name to an on-disk origin
// file and generates the sibling "_live" load-file names the loader
// copies into and maps, per spec.md §4.1.
package pathplan

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// ErrNotFound is returned by Locate when no search directory contains the
// decorated library name.
var ErrNotFound = errors.New("library not found in any search directory")

// liveSuffix is the literal infix spec.md §3 mandates between the logical
// name and the disambiguator.
const liveSuffix = "_live"

// Decorate returns the platform's customary shared-library prefix/suffix
// for goos. Unknown goos values fall back to the unix family decoration.
func Decorate(goos, name string) (prefix, suffix string) {
	switch goos {
	case "windows":
		return "", ".dll"
	case "darwin", "ios":
		return "lib", ".dylib"
	default:
		return "lib", ".so"
	}
}

// FileName returns prefix+name+suffix for the current platform.
func FileName(name string) string {
	prefix, suffix := Decorate(runtime.GOOS, name)
	return prefix + name + suffix
}

// Locate returns the first dirs[i]/FileName(name) that exists on disk.
// Order is significant: earlier directories shadow later ones.
func Locate(dirs []string, name string) (string, error) {
	fileName := FileName(name)
	for _, dir := range dirs {
		candidate := filepath.Join(dir, fileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%s: %w", name, ErrNotFound)
}

// NextLoadPath composes the next available _liveN sibling of name in dir,
// reclaiming an orphaned slot left by a previous process instance when
// possible. It implements the three-step algorithm of spec.md §4.1:
//
//  1. If the candidate does not exist, return it.
//  2. If it exists and can be deleted, return it (freedExisting=true tells the
//     caller to drop any matching pending-delete entry).
//  3. If deletion fails, advance the disambiguator and retry.
func NextLoadPath(dir, name string) (path string, freedExisting bool, err error) {
	prefix, suffix := Decorate(runtime.GOOS, name)
	for j := 0; ; j++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s%s%s%d%s", prefix, name, liveSuffix, j, suffix))
		if _, statErr := os.Stat(candidate); statErr != nil {
			return candidate, false, nil
		}
		if rmErr := os.Remove(candidate); rmErr == nil {
			return candidate, true, nil
		}
		// Deletion failed (likely still mapped on this platform); try the
		// next disambiguator. No upper bound — see spec.md §4.1 rationale.
	}
}

// StripDecoration removes the platform prefix/suffix from fileName and
// returns the bare logical name, or ok=false if fileName doesn't match the
// current platform's decoration. This mirrors the original Rust
// implementation's utils::extract_lib_name, kept here as a small exported
// helper for hosts that want a human-readable name from a raw watch path.
func StripDecoration(fileName string) (name string, ok bool) {
	prefix, suffix := Decorate(runtime.GOOS, "")
	if len(fileName) <= len(prefix)+len(suffix) {
		return "", false
	}
	if prefix != "" && fileName[:len(prefix)] != prefix {
		return "", false
	}
	if suffix != "" && fileName[len(fileName)-len(suffix):] != suffix {
		return "", false
	}
	return fileName[len(prefix) : len(fileName)-len(suffix)], true
}

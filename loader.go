// Package liveload is a hot-reloading dynamic library loader: a runtime
// component embedded in a host process that loads native shared libraries
// by logical name, invokes their exported symbols, and transparently
// swaps in a new version whenever the on-disk file changes — without
// restarting the host.
package liveload

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/liveload/liveload/internal/libhandle"
	"github.com/liveload/liveload/internal/pathplan"
	"github.com/liveload/liveload/internal/pendingdelete"
	"github.com/liveload/liveload/internal/watch"
)

// ShutdownDrainInterval is how long Close sleeps between retries while
// blocking on a stubborn pending delete, per spec.md §4.4.
const ShutdownDrainInterval = 100 * time.Millisecond

// entry is one LoadedEntry: the bundle of LogicalName, OriginPath,
// LoadPath, LibraryHandle and Partner spec.md §3 describes.
type entry[P any] struct {
	name     string
	origin   string
	loadPath string
	lib      libhandle.OSLibrary
	partner  P
}

// Loader is the Reload Coordinator: the top-level object that holds the
// name↔origin↔handle maps and enforces the invariants of spec.md §3.
type Loader[P any] struct {
	searchDirs []string
	partner    Partner[P]
	opener     libhandle.Opener
	bridge     *watch.Bridge
	pending    *pendingdelete.Queue
	logger     *slog.Logger

	byName   map[string]*entry[P]
	byOrigin map[string]string // origin path -> logical name

	debounceOverride *time.Duration
}

// Option configures optional Loader behavior.
type Option[P any] func(*Loader[P])

// WithLogger overrides the default slog.Default() logger.
func WithLogger[P any](l *slog.Logger) Option[P] {
	return func(ld *Loader[P]) { ld.logger = l }
}

// WithDebounce overrides the watch bridge's default 2-second debounce
// window. Only safe to shrink on platforms whose watcher signals
// write-completion atomically, per spec.md §9.
func WithDebounce[P any](d time.Duration) Option[P] {
	return func(ld *Loader[P]) {
		// Read in New, which constructs the bridge with this value.
		ld.debounceOverride = &d
	}
}

// withOpener is unexported: only the package's own tests substitute a fake
// OS loader, the same way the teacher's loader_test.go substitutes a mock
// Unix-socket server instead of driving the real simulator loader process.
func withOpener[P any](o libhandle.Opener) Option[P] {
	return func(ld *Loader[P]) { ld.opener = o }
}

// New constructs a Loader. The search list is extraSearchDirs followed by
// the directory containing the current executable; if that directory is
// named "deps" (a common test-binary layout), its parent is appended
// instead, per spec.md §6.
func New[P any](partner Partner[P], extraSearchDirs []string, opts ...Option[P]) (*Loader[P], error) {
	dirs, err := defaultSearchDirs(extraSearchDirs)
	if err != nil {
		return nil, fmt.Errorf("liveload: %w", err)
	}

	ld := &Loader[P]{
		searchDirs: dirs,
		partner:    partner,
		opener:     libhandle.Default,
		pending:    pendingdelete.New(),
		logger:     slog.Default(),
		byName:     make(map[string]*entry[P]),
		byOrigin:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(ld)
	}

	debounce := watch.DebounceWindow
	if ld.debounceOverride != nil {
		debounce = *ld.debounceOverride
	}
	bridge, err := watch.NewWithDebounce(debounce)
	if err != nil {
		return nil, fmt.Errorf("liveload: %w", err)
	}
	ld.bridge = bridge

	return ld, nil
}

func defaultSearchDirs(extra []string) ([]string, error) {
	dirs := append([]string{}, extra...)

	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolving executable path: %w", err)
	}
	exeDir := filepath.Dir(exe)
	if filepath.Base(exeDir) == "deps" {
		exeDir = filepath.Dir(exeDir)
	}
	dirs = append(dirs, exeDir)
	return dirs, nil
}

// AddLibrary loads the library named name, or is a no-op success if it is
// already loaded. On any failure, no state change is made: the origin is
// never partially published, and a load-file copy (if one was made) is
// removed or, failing that, queued for removal.
func (l *Loader[P]) AddLibrary(name string) error {
	if _, ok := l.byName[name]; ok {
		return nil
	}

	origin, err := pathplan.Locate(l.searchDirs, name)
	if err != nil {
		return newErr(KindNotFound, "AddLibrary", name, err)
	}

	e, err := l.load(name, origin)
	if err != nil {
		return err
	}

	if err := l.bridge.Watch(origin); err != nil {
		// Roll back: undo the load so the entry is never half-present.
		l.destroyEntry(e)
		return newErr(KindIoFailure, "AddLibrary", name, err)
	}

	l.byName[name] = e
	l.byOrigin[origin] = name
	return nil
}

// RemoveLibrary unloads name. It is idempotent: removing an unknown name
// is a no-op success.
func (l *Loader[P]) RemoveLibrary(name string) error {
	e, ok := l.byName[name]
	if !ok {
		return nil
	}

	var unwatchErr error
	if err := l.bridge.Unwatch(e.origin); err != nil {
		unwatchErr = newErr(KindIoFailure, "RemoveLibrary", name, err)
	}

	delete(l.byName, name)
	delete(l.byOrigin, e.origin)
	l.destroyEntry(e)

	return unwatchErr
}

// Get returns the handle and partner for name if loaded. The returned
// *RawHandle is invalidated by the next Update that reloads name; callers
// must not retain it across calls to Update.
func (l *Loader[P]) Get(name string) (h *RawHandle, partner P, ok bool) {
	e, ok := l.byName[name]
	if !ok {
		var zero P
		return nil, zero, false
	}
	return &RawHandle{lib: e.lib, loadPath: e.loadPath}, e.partner, true
}

// Update processes one round of pending-delete retries and drained watch
// events, per spec.md §4.5. It returns the first error encountered; a
// WatcherDisconnected error is fatal and will recur on every subsequent
// call.
func (l *Loader[P]) Update() error {
	l.pending.RetryOnce()

	events, drainErr := l.bridge.Drain()
	for _, ev := range events {
		switch ev.Kind {
		case watch.Vanished:
			l.logger.Info("liveload: origin file vanished", "path", ev.Origin)
		case watch.Changed:
			name, ok := l.byOrigin[ev.Origin]
			if !ok {
				// Unknown origin: dropped silently, per spec.md §4.5.
				continue
			}
			if err := l.reload(name, ev.Origin); err != nil {
				return err
			}
		}
	}

	if drainErr != nil {
		return newErr(KindWatcherDisconnected, "Update", "", drainErr)
	}
	return nil
}

// reload replaces the load file, OS mapping and partner for name, keeping
// the name bound in both maps (origin is unchanged, so byOrigin's key
// doesn't move) per spec.md §4.5.
func (l *Loader[P]) reload(name, origin string) error {
	old := l.byName[name]

	l.destructPartner(old)
	if err := old.lib.Close(); err != nil {
		l.logger.Warn("liveload: OS unload failed", "name", name, "err", err)
	}
	l.queueDelete(old.loadPath)

	e, err := l.load(name, origin)
	if err != nil {
		// Per spec.md's state machine: Loaded -(Changed, new load fails)->
		// Absent. The entry is gone; the failure is surfaced here.
		delete(l.byName, name)
		delete(l.byOrigin, origin)
		return err
	}

	l.byName[name] = e
	// byOrigin's key (origin) is unchanged; nothing to update there.
	return nil
}

// load performs the copy→OS-load→partner-construct sequence shared by
// AddLibrary and reload. On failure it cleans up everything it created.
func (l *Loader[P]) load(name, origin string) (*entry[P], error) {
	dir := filepath.Dir(origin)
	loadPath, freedExisting, err := pathplan.NextLoadPath(dir, name)
	if err != nil {
		return nil, newErr(KindIoFailure, "load", name, err)
	}
	if freedExisting {
		l.pending.Remove(loadPath)
	}

	if err := copyFile(origin, loadPath); err != nil {
		return nil, newErr(KindIoFailure, "load", name, err)
	}

	lib, err := l.opener(loadPath)
	if err != nil {
		l.queueDelete(loadPath)
		return nil, newErr(KindOsLoadFailure, "load", name, err)
	}

	raw := &RawHandle{lib: lib, loadPath: loadPath}
	p, err := l.partner.Construct(raw)
	if err != nil {
		if closeErr := lib.Close(); closeErr != nil {
			l.logger.Warn("liveload: OS unload failed", "name", name, "err", closeErr)
		}
		l.queueDelete(loadPath)
		return nil, newErr(KindLoadError, "load", name, err)
	}

	return &entry[P]{name: name, origin: origin, loadPath: loadPath, lib: lib, partner: p}, nil
}

// destructPartner runs the Partner's Destruct, logging (never returning)
// any failure, per spec.md §7's UnloadError policy.
func (l *Loader[P]) destructPartner(e *entry[P]) {
	if err := l.partner.Destruct(e.partner, &RawHandle{lib: e.lib, loadPath: e.loadPath}); err != nil {
		l.logger.Warn("liveload: partner teardown failed", "name", e.name, "err", err)
	}
}

// destroyEntry tears down an entry's partner and OS mapping, in that
// order (spec.md §4.3's central safety property), then attempts the
// load-file delete, queueing it on failure rather than dropping it —
// the OS library was successfully opened, so per §4.3 step 3 this file
// must stay tracked for retry even if it can't be removed right away.
func (l *Loader[P]) destroyEntry(e *entry[P]) {
	l.destructPartner(e)
	if err := e.lib.Close(); err != nil {
		l.logger.Warn("liveload: OS unload failed", "name", e.name, "err", err)
	}
	l.queueDelete(e.loadPath)
}

func (l *Loader[P]) queueDelete(path string) {
	if err := os.Remove(path); err != nil {
		l.logger.Warn("liveload: load-file delete failed, queued for retry", "path", path, "err", err)
		l.pending.Push(path)
	}
}

// Close tears down every loaded entry and blocks until the pending-delete
// queue drains, per spec.md §4.5's shutdown sequence: the origin→name map
// is cleared first so no in-flight event can resolve to a name being torn
// down.
func (l *Loader[P]) Close() error {
	l.byOrigin = make(map[string]string)

	for name, e := range l.byName {
		delete(l.byName, name)
		l.destroyEntry(e)
	}

	l.pending.DrainBlocking(ShutdownDrainInterval)

	return l.bridge.Close()
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("reading %s: %w", src, err)
	}
	if err := os.WriteFile(dst, data, 0o755); err != nil {
		return fmt.Errorf("writing %s: %w", dst, err)
	}
	return nil
}

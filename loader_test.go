package liveload

import (
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/liveload/liveload/internal/libhandle"
	"github.com/liveload/liveload/internal/pathplan"
)

// countingPartner records how many times Construct/Destruct run, and can
// be told to fail either one, for testing P4 and the LoadError/UnloadError
// policies of spec.md §7.
type countingPartner struct {
	constructs    int32
	destructs     int32
	failConstruct bool
	failDestruct  bool
}

func (p *countingPartner) Construct(h *RawHandle) (string, error) {
	if p.failConstruct {
		return "", errors.New("injected construct failure")
	}
	atomic.AddInt32(&p.constructs, 1)
	return h.LoadPath(), nil
}

func (p *countingPartner) Destruct(v string, h *RawHandle) error {
	atomic.AddInt32(&p.destructs, 1)
	if p.failDestruct {
		return errors.New("injected destruct failure")
	}
	return nil
}

func newTestLoader(t *testing.T, dirs []string) (*Loader[string], *libhandle.Fake) {
	t.Helper()
	fake := &libhandle.Fake{}
	ld, err := New[string](&countingPartner{}, dirs, withOpener[string](fake.NewFakeOpener()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = ld.Close() })
	return ld, fake
}

func writeLib(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, pathplan.FileName(name))
	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestAddLibrary_ColdLoad(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	writeLib(t, b, "foo")

	ld, _ := newTestLoader(t, []string{a, b})

	if err := ld.AddLibrary("foo"); err != nil {
		t.Fatalf("AddLibrary: %v", err)
	}

	h, _, ok := ld.Get("foo")
	if !ok {
		t.Fatal("Get(foo) should be present")
	}
	if _, err := os.Stat(h.LoadPath()); err != nil {
		t.Errorf("load path %s should exist on disk: %v", h.LoadPath(), err)
	}
	wantBase := pathplan.FileName("foo_live0")
	if filepath.Base(h.LoadPath()) != wantBase {
		t.Errorf("load path basename = %q, want %q", filepath.Base(h.LoadPath()), wantBase)
	}
}

func TestAddLibrary_Shadowing(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	originA := writeLib(t, a, "foo")
	writeLib(t, b, "foo")

	ld, _ := newTestLoader(t, []string{a, b})

	if err := ld.AddLibrary("foo"); err != nil {
		t.Fatalf("AddLibrary: %v", err)
	}
	h, _, _ := ld.Get("foo")
	if filepath.Dir(h.LoadPath()) != a {
		t.Errorf("expected shadowing dir %s to win, got load path %s", a, h.LoadPath())
	}

	if err := ld.RemoveLibrary("foo"); err != nil {
		t.Fatalf("RemoveLibrary: %v", err)
	}
	if err := os.Remove(originA); err != nil {
		t.Fatal(err)
	}

	if err := ld.AddLibrary("foo"); err != nil {
		t.Fatalf("AddLibrary (second): %v", err)
	}
	h, _, _ = ld.Get("foo")
	if filepath.Dir(h.LoadPath()) != b {
		t.Errorf("expected dir %s to win after origin removal, got load path %s", b, h.LoadPath())
	}
}

func TestAddLibrary_NoOpWhenAlreadyLoaded(t *testing.T) {
	dir := t.TempDir()
	writeLib(t, dir, "foo")

	ld, fake := newTestLoader(t, []string{dir})
	if err := ld.AddLibrary("foo"); err != nil {
		t.Fatalf("AddLibrary: %v", err)
	}
	if err := ld.AddLibrary("foo"); err != nil {
		t.Fatalf("second AddLibrary should be a no-op success: %v", err)
	}
	if got := len(fake.Opened()); got != 1 {
		t.Errorf("opener called %d times, want 1 (second add should be a no-op)", got)
	}
}

func TestAddLibrary_NotFound(t *testing.T) {
	dir := t.TempDir()
	ld, _ := newTestLoader(t, []string{dir})

	err := ld.AddLibrary("nope")
	if err == nil {
		t.Fatal("expected NotFound error")
	}
	var le *Error
	if !errors.As(err, &le) || le.Kind != KindNotFound {
		t.Errorf("error = %v, want Kind=NotFound", err)
	}
	if _, _, ok := ld.Get("nope"); ok {
		t.Error("maps should be unchanged after a failed AddLibrary")
	}
}

func TestRemoveLibrary_UnknownIsNoOp(t *testing.T) {
	ld, _ := newTestLoader(t, []string{t.TempDir()})
	if err := ld.RemoveLibrary("nope"); err != nil {
		t.Errorf("RemoveLibrary on unknown name should be a no-op success: %v", err)
	}
}

func TestRemoveLibrary_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	writeLib(t, dir, "foo")
	ld, _ := newTestLoader(t, []string{dir})

	if err := ld.AddLibrary("foo"); err != nil {
		t.Fatalf("AddLibrary: %v", err)
	}
	h, _, _ := ld.Get("foo")
	firstLoadPath := h.LoadPath()

	if err := ld.RemoveLibrary("foo"); err != nil {
		t.Fatalf("RemoveLibrary: %v", err)
	}
	if _, _, ok := ld.Get("foo"); ok {
		t.Error("Get should report absent after RemoveLibrary")
	}
	if _, err := os.Stat(firstLoadPath); !os.IsNotExist(err) {
		t.Errorf("load path %s should be deleted after RemoveLibrary", firstLoadPath)
	}

	if err := ld.AddLibrary("foo"); err != nil {
		t.Fatalf("AddLibrary (round trip): %v", err)
	}
	if _, _, ok := ld.Get("foo"); !ok {
		t.Error("Get should report present after re-adding")
	}
}

func TestUpdate_ReloadOnOriginChange(t *testing.T) {
	dir := t.TempDir()
	origin := writeLib(t, dir, "foo")

	partner := &countingPartner{}
	fake := &libhandle.Fake{}
	ld, err := New[string](partner, []string{dir},
		withOpener[string](fake.NewFakeOpener()),
		WithDebounce[string](20*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = ld.Close() }()

	if err := ld.AddLibrary("foo"); err != nil {
		t.Fatalf("AddLibrary: %v", err)
	}
	if err := os.WriteFile(origin, []byte("v2"), 0o644); err != nil {
		t.Fatal(err)
	}

	// Detect the reload via the partner construct count rather than the
	// load path: the fake opener holds no real OS lock, so the freed
	// _live0 slot is legitimately reclaimed by the new load (the same
	// outcome a platform with an immediate, successful unlink would see).
	deadline := time.Now().Add(3 * time.Second)
	var reloaded bool
	for time.Now().Before(deadline) {
		if err := ld.Update(); err != nil {
			t.Fatalf("Update: %v", err)
		}
		if atomic.LoadInt32(&partner.constructs) >= 2 {
			reloaded = true
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !reloaded {
		t.Fatal("expected a reload (second Construct call) within the debounce window")
	}
	if atomic.LoadInt32(&partner.destructs) != 1 {
		t.Errorf("old partner should have been destructed exactly once, got %d", partner.destructs)
	}

	after, _, ok := ld.Get("foo")
	if !ok {
		t.Fatal("foo should still be loaded after reload")
	}
	if _, err := os.Stat(after.LoadPath()); err != nil {
		t.Errorf("reloaded load path %s should exist on disk: %v", after.LoadPath(), err)
	}
	if got := len(fake.Opened()); got != 2 {
		t.Errorf("opener should have been called twice (initial load + reload), got %d", got)
	}
}

func TestLoad_PartnerConstructFailureRollsBack(t *testing.T) {
	dir := t.TempDir()
	writeLib(t, dir, "foo")

	partner := &countingPartner{failConstruct: true}
	fake := &libhandle.Fake{}
	ld, err := New[string](partner, []string{dir}, withOpener[string](fake.NewFakeOpener()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = ld.Close() }()

	err = ld.AddLibrary("foo")
	if err == nil {
		t.Fatal("expected LoadError")
	}
	var le *Error
	if !errors.As(err, &le) || le.Kind != KindLoadError {
		t.Errorf("error = %v, want Kind=LoadError", err)
	}
	if _, _, ok := ld.Get("foo"); ok {
		t.Error("entry should not be published when Construct fails")
	}
	if got := len(fake.Closed()); got != 1 {
		t.Errorf("OS library should have been closed on rollback, Closed() = %v", fake.Closed())
	}
	loadPath := filepath.Join(dir, pathplan.FileName("foo_live0"))
	if _, statErr := os.Stat(loadPath); !os.IsNotExist(statErr) {
		t.Errorf("rolled-back load path %s should have been deleted", loadPath)
	}
}

func TestDestructFailure_IsLoggedNotReturned(t *testing.T) {
	dir := t.TempDir()
	writeLib(t, dir, "foo")

	partner := &countingPartner{failDestruct: true}
	fake := &libhandle.Fake{}
	ld, err := New[string](partner, []string{dir}, withOpener[string](fake.NewFakeOpener()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = ld.Close() }()

	if err := ld.AddLibrary("foo"); err != nil {
		t.Fatalf("AddLibrary: %v", err)
	}
	if err := ld.RemoveLibrary("foo"); err != nil {
		t.Errorf("RemoveLibrary should succeed even though Destruct failed: %v", err)
	}
	if atomic.LoadInt32(&partner.destructs) != 1 {
		t.Errorf("Destruct should have been called exactly once")
	}
}

// TestDestroyEntry_QueuesDeleteOnRemoveFailure proves the fix for the
// Library Handle drop the maintainer flagged: when the load-file delete
// fails, destroyEntry must hand the path to the pending-delete queue
// rather than discarding the failure, per spec.md §4.3 step 3. The
// load path is a non-empty directory, which os.Remove always refuses
// (ENOTEMPTY), regardless of the calling user's privileges.
func TestDestroyEntry_QueuesDeleteOnRemoveFailure(t *testing.T) {
	dir := t.TempDir()
	partner := &countingPartner{}
	fake := &libhandle.Fake{}
	ld, err := New[string](partner, []string{dir}, withOpener[string](fake.NewFakeOpener()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = ld.Close() }()

	stuck := filepath.Join(dir, "stuck_live0.so")
	if err := os.Mkdir(stuck, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(stuck, "keep-non-empty"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	lib, err := fake.NewFakeOpener()(stuck)
	if err != nil {
		t.Fatalf("opener: %v", err)
	}
	e := &entry[string]{name: "stuck", origin: filepath.Join(dir, "stuck.so"), loadPath: stuck, lib: lib}

	ld.destroyEntry(e)

	if atomic.LoadInt32(&partner.destructs) != 1 {
		t.Errorf("Destruct should have been called exactly once, got %d", partner.destructs)
	}
	if got := ld.pending.Len(); got != 1 {
		t.Fatalf("pending queue length = %d, want 1", got)
	}
	if got := ld.pending.Paths()[0]; got != stuck {
		t.Errorf("queued path = %q, want %q", got, stuck)
	}
	if got := fake.Closed(); len(got) != 1 || got[0] != stuck {
		t.Errorf("OS library should have been closed, Closed() = %v", got)
	}
	if _, statErr := os.Stat(stuck); statErr != nil {
		t.Errorf("undeletable load path should still exist on disk: %v", statErr)
	}

	// Unstick the directory so the deferred Close's blocking drain doesn't
	// spin forever waiting on a deletion that can never succeed.
	if err := os.Remove(filepath.Join(stuck, "keep-non-empty")); err != nil {
		t.Fatal(err)
	}
}

func TestClose_DrainsEverythingAndClearsMaps(t *testing.T) {
	dir := t.TempDir()
	writeLib(t, dir, "foo")
	writeLib(t, dir, "bar")
	writeLib(t, dir, "baz")

	fake := &libhandle.Fake{}
	ld, err := New[string](&countingPartner{}, []string{dir}, withOpener[string](fake.NewFakeOpener()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for _, n := range []string{"foo", "bar", "baz"} {
		if err := ld.AddLibrary(n); err != nil {
			t.Fatalf("AddLibrary(%s): %v", n, err)
		}
	}

	var loadPaths []string
	for _, n := range []string{"foo", "bar", "baz"} {
		h, _, _ := ld.Get(n)
		loadPaths = append(loadPaths, h.LoadPath())
	}

	if err := ld.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	for _, p := range loadPaths {
		if _, statErr := os.Stat(p); !os.IsNotExist(statErr) {
			t.Errorf("load path %s should be gone after Close", p)
		}
	}
	for _, n := range []string{"foo", "bar", "baz"} {
		if _, _, ok := ld.Get(n); ok {
			t.Errorf("%s should be absent after Close", n)
		}
	}
}

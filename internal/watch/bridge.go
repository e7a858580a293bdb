// Package watch wraps fsnotify with the 2-second debounce window spec.md
// §4.2 requires, translating raw filesystem notifications into the small
// semantic event set the Reload Coordinator acts on.
package watch

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DebounceWindow is the coalescing window spec.md §4.2 and §9 call
// load-bearing for correctness against linkers that write a file in
// several syscalls.
const DebounceWindow = 2 * time.Second

// ErrDisconnected is returned by Drain once the underlying watcher's
// background thread has terminated. It is fatal to the Coordinator.
var ErrDisconnected = errors.New("watch: underlying watcher disconnected")

// EventKind distinguishes the two semantic events the Bridge surfaces.
type EventKind int

const (
	// Changed means an origin file was unambiguously written or (re)created.
	Changed EventKind = iota
	// Vanished means an origin file was removed or renamed away. It is
	// informational only; the Coordinator never treats it as a reload
	// trigger (see SPEC_FULL.md's Open Questions decision).
	Vanished
)

func (k EventKind) String() string {
	if k == Vanished {
		return "Vanished"
	}
	return "Changed"
}

// Event is one semantic notification about a watched origin path.
type Event struct {
	Kind   EventKind
	Origin string
}

// Bridge debounces a fsnotify.Watcher and exposes Changed/Vanished events.
type Bridge struct {
	w      *fsnotify.Watcher
	events chan Event
	done   chan struct{}

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
	broken bool
}

// New constructs a Bridge with the default 2-second debounce window.
func New() (*Bridge, error) {
	return NewWithDebounce(DebounceWindow)
}

// NewWithDebounce constructs a Bridge with a custom debounce window.
// Shorter values are only safe with a watcher that signals write
// completion atomically, per spec.md §9.
func NewWithDebounce(debounce time.Duration) (*Bridge, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: creating watcher: %w", err)
	}
	b := &Bridge{
		w:      w,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
		timers: make(map[string]*time.Timer),
	}
	go b.run(debounce)
	return b, nil
}

// Watch begins non-recursive monitoring of origin.
func (b *Bridge) Watch(origin string) error {
	if err := b.w.Add(origin); err != nil {
		return fmt.Errorf("watch: adding %s: %w", origin, err)
	}
	return nil
}

// Unwatch stops monitoring origin.
func (b *Bridge) Unwatch(origin string) error {
	if err := b.w.Remove(origin); err != nil {
		return fmt.Errorf("watch: removing %s: %w", origin, err)
	}
	b.mu.Lock()
	if t, ok := b.timers[origin]; ok {
		t.Stop()
		delete(b.timers, origin)
	}
	b.mu.Unlock()
	return nil
}

// Drain returns zero or more events buffered since the last call, in
// arrival order, without blocking. Once the watcher's background thread
// has terminated, Drain returns ErrDisconnected on every subsequent call.
func (b *Bridge) Drain() ([]Event, error) {
	var out []Event
	for {
		select {
		case e := <-b.events:
			out = append(out, e)
		default:
			b.mu.Lock()
			broken := b.broken
			b.mu.Unlock()
			if broken {
				return out, ErrDisconnected
			}
			return out, nil
		}
	}
}

// Close releases the underlying watcher and all debounce timers.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, t := range b.timers {
		t.Stop()
	}
	b.mu.Unlock()
	return b.w.Close()
}

// run reads the raw fsnotify channels and maintains one debounce timer per
// path, mapping each underlying notification per the table in spec.md
// §4.2: only Create/Write fire a debounced Changed; Remove/Rename fire an
// immediate (undebounced) Vanished; everything else is swallowed.
func (b *Bridge) run(debounce time.Duration) {
	defer close(b.done)
	for {
		select {
		case ev, ok := <-b.w.Events:
			if !ok {
				b.markBroken()
				return
			}
			switch {
			case ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create):
				b.scheduleChanged(ev.Name, debounce)
			case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
				b.emit(Event{Kind: Vanished, Origin: ev.Name})
			}
			// Chmod, and any other transient/advisory notification, is
			// swallowed: a partially written file must never trigger a
			// reload, per spec.md §4.2's conservative mapping.
		case _, ok := <-b.w.Errors:
			if !ok {
				b.markBroken()
				return
			}
			// Transient watcher errors are ignored, per spec.md §4.2's table.
		}
	}
}

func (b *Bridge) scheduleChanged(path string, debounce time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if t, ok := b.timers[path]; ok {
		t.Stop()
	}
	b.timers[path] = time.AfterFunc(debounce, func() {
		b.emit(Event{Kind: Changed, Origin: path})
	})
}

func (b *Bridge) emit(e Event) {
	select {
	case b.events <- e:
	default:
		// Buffer full: drop the oldest rather than block the watcher's
		// background thread — Update() is the rendezvous point and will
		// catch up on the next tick regardless.
		select {
		case <-b.events:
		default:
		}
		b.events <- e
	}
}

func (b *Bridge) markBroken() {
	b.mu.Lock()
	b.broken = true
	b.mu.Unlock()
}

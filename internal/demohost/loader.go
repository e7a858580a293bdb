// Package demohost wires a liveload.Loader into the bookkeeping the demo
// CLI and monitor TUI both need but the loader itself doesn't track:
// per-name reload counts and a recent-event log, derived by diffing load
// paths across Update calls.
package demohost

import (
	"fmt"
	"sync"
	"time"

	"github.com/liveload/liveload"
)

// Loader wraps a liveload.Loader[struct{}]; the host doesn't need a
// partner type of its own, so it uses liveload.UnitPartner.
type Loader struct {
	ld *liveload.Loader[struct{}]

	mu       sync.Mutex
	names    []string
	loadPath map[string]string
	reloads  map[string]int
	events   []string
}

const maxEventLog = 50

func New(dirs []string, debounce time.Duration) (*Loader, error) {
	var opts []liveload.Option[struct{}]
	if debounce > 0 {
		opts = append(opts, liveload.WithDebounce[struct{}](debounce))
	}

	ld, err := liveload.New[struct{}](liveload.UnitPartner{}, dirs, opts...)
	if err != nil {
		return nil, err
	}
	return &Loader{
		ld:       ld,
		loadPath: make(map[string]string),
		reloads:  make(map[string]int),
	}, nil
}

func (d *Loader) AddLibrary(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ld.AddLibrary(name); err != nil {
		return err
	}
	if _, tracked := d.loadPath[name]; !tracked {
		d.names = append(d.names, name)
	}
	h, _, _ := d.ld.Get(name)
	d.loadPath[name] = h.LoadPath()
	d.logf("added %s (%s)", name, h.LoadPath())
	return nil
}

func (d *Loader) RemoveLibrary(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ld.RemoveLibrary(name); err != nil {
		return err
	}
	delete(d.loadPath, name)
	delete(d.reloads, name)
	d.names = removeString(d.names, name)
	d.logf("removed %s", name)
	return nil
}

// Poll runs one Update cycle and returns whatever new event lines it
// produced, for a caller that wants to render them.
func (d *Loader) Poll() ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Collect new lines as they are logged: logf trims the log at
	// maxEventLog, so a slice of d.events taken by index would miss them.
	var lines []string
	logf := func(format string, args ...any) {
		d.logf(format, args...)
		lines = append(lines, d.events[len(d.events)-1])
	}
	if err := d.ld.Update(); err != nil {
		logf("update error: %v", err)
		return lines, err
	}

	for _, name := range d.names {
		h, _, ok := d.ld.Get(name)
		if !ok {
			continue
		}
		if prev := d.loadPath[name]; prev != "" && prev != h.LoadPath() {
			d.reloads[name]++
			logf("reloaded %s -> %s (reload #%d)", name, h.LoadPath(), d.reloads[name])
		}
		d.loadPath[name] = h.LoadPath()
	}
	return lines, nil
}

type StatusRow struct {
	Name     string
	LoadPath string
	Reloads  int
}

func (d *Loader) Status() []StatusRow {
	d.mu.Lock()
	defer d.mu.Unlock()

	rows := make([]StatusRow, 0, len(d.names))
	for _, name := range d.names {
		rows = append(rows, StatusRow{
			Name:     name,
			LoadPath: d.loadPath[name],
			Reloads:  d.reloads[name],
		})
	}
	return rows
}

func (d *Loader) RecentEvents() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.events))
	copy(out, d.events)
	return out
}

func (d *Loader) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ld.Close()
}

func (d *Loader) logf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	d.events = append(d.events, line)
	if len(d.events) > maxEventLog {
		d.events = d.events[len(d.events)-maxEventLog:]
	}
}

func removeString(s []string, v string) []string {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

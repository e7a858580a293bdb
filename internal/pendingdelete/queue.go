// Package pendingdelete tracks load-file paths the OS refused to delete,
// retrying them on every tick and at shutdown, per spec.md §4.4.
package pendingdelete

import (
	"container/list"
	"os"
	"time"
)

// Queue is an ordered set of load-file paths awaiting deletion. It mirrors
// the shape of the Rust original's LinkedList<PathBuf> in
// original_source/src/lib.rs, with idempotent Push.
type Queue struct {
	l      *list.List
	lookup map[string]*list.Element
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{l: list.New(), lookup: make(map[string]*list.Element)}
}

// Push enqueues path if it isn't already present.
func (q *Queue) Push(path string) {
	if _, ok := q.lookup[path]; ok {
		return
	}
	q.lookup[path] = q.l.PushBack(path)
}

// Remove drops path from the queue if present, without attempting deletion.
// Used when a fresh NextLoadPath reclaim already removed the file.
func (q *Queue) Remove(path string) {
	if e, ok := q.lookup[path]; ok {
		q.l.Remove(e)
		delete(q.lookup, path)
	}
}

// Paths returns the queued paths in order, for tests and diagnostics.
func (q *Queue) Paths() []string {
	out := make([]string, 0, q.l.Len())
	for e := q.l.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(string))
	}
	return out
}

// Len reports how many paths are queued.
func (q *Queue) Len() int { return q.l.Len() }

// RetryOnce walks the queue front-to-back, deleting files that still exist
// and popping entries that succeed (or are already gone). It stops at the
// first entry whose deletion fails, preserving order so the next call
// resumes there, per spec.md §4.4.
func (q *Queue) RetryOnce() {
	for {
		e := q.l.Front()
		if e == nil {
			return
		}
		path := e.Value.(string)
		if _, err := os.Stat(path); err != nil {
			// Already gone.
			q.l.Remove(e)
			delete(q.lookup, path)
			continue
		}
		if err := os.Remove(path); err != nil {
			return
		}
		q.l.Remove(e)
		delete(q.lookup, path)
	}
}

// DrainBlocking retries the queue until it's empty, sleeping between
// attempts. It's used only at shutdown: spec.md §4.4 accepts a short spin
// because a handle can linger briefly after unmap on some platforms.
func (q *Queue) DrainBlocking(sleep time.Duration) {
	for q.Len() > 0 {
		before := q.Len()
		q.RetryOnce()
		if q.Len() == before {
			time.Sleep(sleep)
		}
	}
}

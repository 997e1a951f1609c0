package fs

import (
	"fmt"
	"slices"
	"sync"
)

// Ledger is a snapshot of the handles acquired through a [Tracked].
type Ledger struct {
	Opens  int // successful OpenFile calls
	Closes int // first Close call per handle, failed or not
	// Redundant counts Close calls on a handle that was already closed.
	Redundant int
	// Outstanding lists the paths of handles that were never closed, in
	// open order.
	Outstanding []string
}

// Balanced reports whether every acquired handle was released exactly once.
func (l Ledger) Balanced() bool {
	return l.Opens == l.Closes && l.Redundant == 0 && len(l.Outstanding) == 0
}

func (l Ledger) String() string {
	return fmt.Sprintf("opens=%d closes=%d redundant=%d outstanding=%v",
		l.Opens, l.Closes, l.Redundant, l.Outstanding)
}

// Tracked wraps an [FS] and records every handle it hands out.
type Tracked struct {
	fs FS

	mu        sync.Mutex
	seq       int
	opens     int
	closes    int
	redundant int
	open      map[*trackedFile]int
}

// NewTracked returns a [Tracked] around fsys with an empty ledger.
func NewTracked(fsys FS) *Tracked {
	return &Tracked{fs: fsys, open: make(map[*trackedFile]int)}
}

// Ledger returns the current counts.
func (t *Tracked) Ledger() Ledger {
	t.mu.Lock()
	defer t.mu.Unlock()

	type entry struct {
		seq  int
		path string
	}

	entries := make([]entry, 0, len(t.open))
	for f, seq := range t.open {
		entries = append(entries, entry{seq: seq, path: f.path})
	}

	slices.SortFunc(entries, func(a, b entry) int { return a.seq - b.seq })

	l := Ledger{Opens: t.opens, Closes: t.closes, Redundant: t.redundant}
	for _, e := range entries {
		l.Outstanding = append(l.Outstanding, e.path)
	}

	return l
}

func (t *Tracked) ShareModel() ShareModel { return ModelOf(t.fs) }

func (t *Tracked) OpenFile(path string, opts OpenOptions) (File, error) {
	f, err := t.fs.OpenFile(path, opts)
	if err != nil {
		return nil, err
	}

	tf := &trackedFile{File: f, t: t, path: path}

	t.mu.Lock()
	t.seq++
	t.opens++
	t.open[tf] = t.seq
	t.mu.Unlock()

	return tf, nil
}

func (t *Tracked) Rename(oldpath, newpath string) error { return t.fs.Rename(oldpath, newpath) }

func (t *Tracked) Remove(path string) error { return t.fs.Remove(path) }

func (t *Tracked) Exists(path string) (bool, error) { return t.fs.Exists(path) }

func (t *Tracked) MkdirAll(path string) error { return t.fs.MkdirAll(path) }

func (t *Tracked) WriteFile(path string, data []byte) error { return t.fs.WriteFile(path, data) }

type trackedFile struct {
	File

	t    *Tracked
	path string
}

func (f *trackedFile) Close() error {
	f.t.mu.Lock()
	if _, ok := f.t.open[f]; ok {
		delete(f.t.open, f)
		f.t.closes++
	} else {
		f.t.redundant++
	}
	f.t.mu.Unlock()

	return f.File.Close()
}

// Compile-time interface checks.
var (
	_ FS           = (*Tracked)(nil)
	_ ShareModeler = (*Tracked)(nil)
	_ File         = (*trackedFile)(nil)
)

package fs

import (
	"io"
	"os"
	"path/filepath"
	"sync"
)

// SimOptions configures [Sim].
type SimOptions struct {
	// StaleFinalPath makes FinalPath report the name a handle was opened
	// with, even after a rename. Some SMB/CIFS configurations behave this
	// way.
	StaleFinalPath bool

	// RemovalLag is the number of Exists calls that still see a deleted
	// file after its last handle was closed. While the name lingers it also
	// blocks creating a new file under it.
	RemovalLag int

	// Volume is the serial number reported in identities.
	// Zero selects a fixed default.
	Volume uint64
}

const defaultSimVolume = 0x5eed_cafe

// Sim is an in-memory [FS] with Windows NT sharing and deletion semantics:
//
//   - opens are negotiated against every open handle with [ShareModelNT]
//   - handle rename and mark-delete need a handle opened with [AccessDelete]
//   - path rename and remove implicitly open the file for delete with full
//     sharing, so they fail if any open handle doesn't share delete
//   - a rename can't replace a file that is open
//   - a file marked for deletion keeps its name and stays usable through
//     the handles already open; new opens fail with [ErrDeletePending];
//     the name disappears when the last handle closes
//
// Sim is safe for concurrent use.
type Sim struct {
	mu         sync.Mutex
	opts       SimOptions
	names      map[string]*simNode
	dirs       map[string]bool
	nextIndex  uint64
	nextHandle uintptr
}

type simNode struct {
	index         uint64
	data          []byte
	name          string
	handles       map[*simFile]struct{}
	deletePending bool

	// removed is set once the file is gone but its name still lingers
	// for lingering more Exists calls.
	removed   bool
	lingering int
}

// NewSim returns an empty [Sim]. Only the current directory exists.
func NewSim(opts SimOptions) *Sim {
	if opts.Volume == 0 {
		opts.Volume = defaultSimVolume
	}

	return &Sim{
		opts:       opts,
		names:      make(map[string]*simNode),
		dirs:       map[string]bool{".": true, string(filepath.Separator): true},
		nextIndex:  0x10000,
		nextHandle: 0x100,
	}
}

// ShareModel reports the NT table.
func (s *Sim) ShareModel() ShareModel {
	return ShareModelNT
}

// OpenHandles returns the number of open handles to the file at path.
func (s *Sim) OpenHandles(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	node := s.lookup(filepath.Clean(path))
	if node == nil {
		return 0
	}

	return len(node.handles)
}

func (s *Sim) OpenFile(path string, opts OpenOptions) (File, error) {
	p := filepath.Clean(path)

	s.mu.Lock()
	defer s.mu.Unlock()

	node := s.lookup(p)

	if node != nil && (node.removed || node.deletePending) {
		return nil, &os.PathError{Op: "open", Path: path, Err: ErrDeletePending}
	}

	if node == nil {
		if opts.Disposition != CreateAlways {
			return nil, &os.PathError{Op: "open", Path: path, Err: os.ErrNotExist}
		}

		if !s.dirs[filepath.Dir(p)] {
			return nil, &os.PathError{Op: "open", Path: path, Err: os.ErrNotExist}
		}

		node = s.newNode(p, nil)
	} else {
		for h := range node.handles {
			if !ShareModelNT.Permits(h.opts, opts) {
				return nil, &os.PathError{Op: "open", Path: path, Err: ErrSharingViolation}
			}
		}

		if opts.Disposition == CreateAlways {
			node.data = nil
		}
	}

	f := &simFile{sim: s, node: node, opts: opts, handle: s.nextHandle, openedAs: p}
	s.nextHandle += 4
	node.handles[f] = struct{}{}

	return f, nil
}

// Rename behaves like MoveFileEx with MOVEFILE_REPLACE_EXISTING.
func (s *Sim) Rename(oldpath, newpath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	node := s.lookup(filepath.Clean(oldpath))
	if node == nil || node.removed {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: os.ErrNotExist}
	}

	if err := s.implicitDeleteOpen(node); err != nil {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: err}
	}

	if err := s.rename(node, filepath.Clean(newpath), true); err != nil {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: err}
	}

	return nil
}

// Remove behaves like DeleteFile: the file is marked for deletion and
// disappears once no handle is open.
func (s *Sim) Remove(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	node := s.lookup(filepath.Clean(path))
	if node == nil || node.removed {
		return &os.PathError{Op: "remove", Path: path, Err: os.ErrNotExist}
	}

	if err := s.implicitDeleteOpen(node); err != nil {
		return &os.PathError{Op: "remove", Path: path, Err: err}
	}

	node.deletePending = true
	if len(node.handles) == 0 {
		s.unlink(node)
	}

	return nil
}

func (s *Sim) Exists(path string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node := s.lookup(filepath.Clean(path))
	if node == nil {
		return false, nil
	}

	if node.removed {
		node.lingering--
	}

	return true, nil
}

func (s *Sim) MkdirAll(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := filepath.Clean(path)
	for {
		if _, isFile := s.names[p]; isFile {
			return &os.PathError{Op: "mkdir", Path: p, Err: os.ErrExist}
		}

		s.dirs[p] = true

		parent := filepath.Dir(p)
		if parent == p {
			return nil
		}

		p = parent
	}
}

// WriteFile replaces path with a new file holding data, like a temp file
// renamed over the destination.
func (s *Sim) WriteFile(path string, data []byte) error {
	p := filepath.Clean(path)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirs[filepath.Dir(p)] {
		return &os.PathError{Op: "write", Path: path, Err: os.ErrNotExist}
	}

	if node := s.lookup(p); node != nil {
		if node.removed || node.deletePending || len(node.handles) > 0 {
			return &os.PathError{Op: "write", Path: path, Err: ErrAccessDenied}
		}

		delete(s.names, p)
	}

	s.newNode(p, append([]byte(nil), data...))

	return nil
}

// --- Private api ---

func (s *Sim) newNode(p string, data []byte) *simNode {
	node := &simNode{
		index:   s.nextIndex,
		data:    data,
		name:    p,
		handles: make(map[*simFile]struct{}),
	}
	s.nextIndex++
	s.names[p] = node

	return node
}

// lookup returns the node named p, dropping names whose lag ran out.
func (s *Sim) lookup(p string) *simNode {
	node := s.names[p]
	if node != nil && node.removed && node.lingering <= 0 {
		delete(s.names, p)

		return nil
	}

	return node
}

// implicitDeleteOpen checks that a path operation, which opens the file
// for delete with full sharing, would be granted.
func (s *Sim) implicitDeleteOpen(node *simNode) error {
	if node.deletePending {
		return ErrDeletePending
	}

	want := OpenOptions{Access: AccessDelete, Share: ShareAll}
	for h := range node.handles {
		if !ShareModelNT.Permits(h.opts, want) {
			return ErrSharingViolation
		}
	}

	return nil
}

func (s *Sim) rename(node *simNode, dst string, replace bool) error {
	if node.deletePending {
		return ErrDeletePending
	}

	if dst == node.name {
		return nil
	}

	if !s.dirs[filepath.Dir(dst)] {
		return os.ErrNotExist
	}

	if target := s.lookup(dst); target != nil {
		if !replace {
			return os.ErrExist
		}

		if target.removed || target.deletePending || len(target.handles) > 0 {
			return ErrAccessDenied
		}

		delete(s.names, dst)
	}

	delete(s.names, node.name)
	node.name = dst
	s.names[dst] = node

	return nil
}

func (s *Sim) unlink(node *simNode) {
	if s.opts.RemovalLag > 0 {
		node.removed = true
		node.lingering = s.opts.RemovalLag

		return
	}

	delete(s.names, node.name)
}

type simFile struct {
	sim      *Sim
	node     *simNode
	opts     OpenOptions
	handle   uintptr
	openedAs string
	pos      int64
	closed   bool
}

func (f *simFile) Read(p []byte) (int, error) {
	f.sim.mu.Lock()
	defer f.sim.mu.Unlock()

	if err := f.check("read", AccessRead); err != nil {
		return 0, err
	}

	if f.pos >= int64(len(f.node.data)) {
		return 0, io.EOF
	}

	n := copy(p, f.node.data[f.pos:])
	f.pos += int64(n)

	return n, nil
}

func (f *simFile) Write(p []byte) (int, error) {
	f.sim.mu.Lock()
	defer f.sim.mu.Unlock()

	if err := f.check("write", AccessWrite); err != nil {
		return 0, err
	}

	end := f.pos + int64(len(p))
	if end > int64(len(f.node.data)) {
		grown := make([]byte, end)
		copy(grown, f.node.data)
		f.node.data = grown
	}

	copy(f.node.data[f.pos:], p)
	f.pos = end

	return len(p), nil
}

func (f *simFile) Seek(offset int64, whence int) (int64, error) {
	f.sim.mu.Lock()
	defer f.sim.mu.Unlock()

	if err := f.check("seek", 0); err != nil {
		return 0, err
	}

	var base int64

	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = f.pos
	case io.SeekEnd:
		base = int64(len(f.node.data))
	default:
		return 0, &os.PathError{Op: "seek", Path: f.openedAs, Err: os.ErrInvalid}
	}

	if base+offset < 0 {
		return 0, &os.PathError{Op: "seek", Path: f.openedAs, Err: os.ErrInvalid}
	}

	f.pos = base + offset

	return f.pos, nil
}

// Close is not idempotent: a second call returns [os.ErrClosed].
func (f *simFile) Close() error {
	f.sim.mu.Lock()
	defer f.sim.mu.Unlock()

	if f.closed {
		return os.ErrClosed
	}

	f.closed = true
	delete(f.node.handles, f)

	if len(f.node.handles) == 0 && f.node.deletePending {
		f.sim.unlink(f.node)
	}

	return nil
}

func (f *simFile) Handle() uintptr { return f.handle }

func (f *simFile) Identity() (Identity, error) {
	f.sim.mu.Lock()
	defer f.sim.mu.Unlock()

	if err := f.check("identity", 0); err != nil {
		return Identity{}, err
	}

	return IdentityFromIndex(f.sim.opts.Volume, f.node.index), nil
}

func (f *simFile) FinalPath() (string, error) {
	f.sim.mu.Lock()
	defer f.sim.mu.Unlock()

	if err := f.check("final path", 0); err != nil {
		return "", err
	}

	if f.sim.opts.StaleFinalPath {
		return f.openedAs, nil
	}

	return f.node.name, nil
}

func (f *simFile) RenameTo(newpath string, replace bool) error {
	f.sim.mu.Lock()
	defer f.sim.mu.Unlock()

	if err := f.check("rename", AccessDelete); err != nil {
		return err
	}

	old := f.node.name

	if err := f.sim.rename(f.node, filepath.Clean(newpath), replace); err != nil {
		return &os.LinkError{Op: "rename", Old: old, New: newpath, Err: err}
	}

	return nil
}

func (f *simFile) MarkDelete() error {
	f.sim.mu.Lock()
	defer f.sim.mu.Unlock()

	if err := f.check("mark delete", AccessDelete); err != nil {
		return err
	}

	f.node.deletePending = true

	return nil
}

// check fails if the handle is closed or lacks need. Callers hold sim.mu.
func (f *simFile) check(op string, need Access) error {
	if f.closed {
		return &os.PathError{Op: op, Path: f.openedAs, Err: os.ErrClosed}
	}

	if !f.opts.Access.Has(need) {
		return &os.PathError{Op: op, Path: f.openedAs, Err: ErrAccessDenied}
	}

	return nil
}

// Compile-time interface checks.
var (
	_ FS           = (*Sim)(nil)
	_ ShareModeler = (*Sim)(nil)
)

package fs

import (
	"io/fs"
	"math/rand"
	"sync"
	"sync/atomic"
	"syscall"
)

// ChaosConfig controls fault injection probabilities.
// Each rate is a float64 from 0.0 (never) to 1.0 (always).
type ChaosConfig struct {
	// Handle acquisition
	OpenFailRate float64 // Fail OpenFile

	// I/O through a handle
	ReadFailRate     float64 // Fail reads entirely
	PartialReadRate  float64 // Return short reads
	WriteFailRate    float64 // Fail writes entirely
	PartialWriteRate float64 // Write half the data then fail

	// Namespace and handle metadata
	RenameFailRate     float64 // Fail Rename and File.RenameTo
	RemoveFailRate     float64 // Fail Remove
	MarkDeleteFailRate float64 // Fail File.MarkDelete
	ExistsFailRate     float64 // Fail Exists
	IdentityFailRate   float64 // Fail File.Identity
	FinalPathFailRate  float64 // Fail File.FinalPath
}

// DefaultChaosConfig returns a config with reasonable fault rates for testing.
func DefaultChaosConfig() ChaosConfig {
	return ChaosConfig{
		OpenFailRate:       0.02,
		ReadFailRate:       0.02,
		PartialReadRate:    0.02,
		WriteFailRate:      0.02,
		PartialWriteRate:   0.03,
		RenameFailRate:     0.02,
		RemoveFailRate:     0.02,
		MarkDeleteFailRate: 0.02,
		ExistsFailRate:     0.01,
		IdentityFailRate:   0.01,
		FinalPathFailRate:  0.02,
	}
}

// PathState tracks the fault state of a path for consistent error injection.
type PathState int

const (
	// PathNormal means no persistent fault - errors are transient.
	// This is the zero value, so untracked paths are normal.
	PathNormal PathState = iota
	// PathIOError is sticky - the path has a "bad sector" and always returns EIO.
	PathIOError
	// PathReadOnly is sticky for mutations - returns EROFS.
	PathReadOnly
	// PathNoPermission is semi-sticky - operations return EACCES 80% of the time.
	PathNoPermission
)

// ChaosMode controls how Chaos behaves.
type ChaosMode uint8

const (
	// ChaosModePassthrough behaves like the underlying FS.
	// It ignores fault rates and also ignores any sticky path state.
	ChaosModePassthrough ChaosMode = iota

	// ChaosModeInject enables fault-rate injection and sticky path state.
	ChaosModeInject

	// ChaosModeStickyOnly applies only sticky path state. Fault rates are disabled.
	ChaosModeStickyOnly
)

// Chaos wraps an [FS] and injects random failures.
//
// Errors are state-aware: once a path gets EIO (bad sector), it stays broken.
// Errors are also reality-aware: ENOENT is only returned if the file really
// doesn't exist on the underlying filesystem.
//
// Injected errors are *fs.PathError values holding a syscall.Errno, so
// errors.Is keeps working. Use [IsInjected] to tell them from real ones.
//
// Use [Chaos.SetMode] to control behavior.
// Use [Chaos.Stats] to inspect how many faults were injected.
type Chaos struct {
	fs     FS
	rng    *rand.Rand
	config ChaosConfig
	mode   atomic.Uint32

	mu         sync.RWMutex
	pathStates map[string]PathState

	openFails       atomic.Int64
	readFails       atomic.Int64
	partialReads    atomic.Int64
	writeFails      atomic.Int64
	partialWrites   atomic.Int64
	renameFails     atomic.Int64
	removeFails     atomic.Int64
	markDeleteFails atomic.Int64
	existsFails     atomic.Int64
	identityFails   atomic.Int64
	finalPathFails  atomic.Int64
}

// NewChaos creates a new Chaos filesystem wrapping the given [FS].
// The seed controls random fault injection for reproducibility.
//
// A new Chaos starts in [ChaosModePassthrough].
func NewChaos(fsys FS, seed int64, config ChaosConfig) *Chaos {
	return &Chaos{
		fs:         fsys,
		rng:        rand.New(rand.NewSource(seed)),
		config:     config,
		pathStates: make(map[string]PathState),
	}
}

// SetMode updates Chaos behavior. It is safe to call concurrently with
// filesystem operations. Switching modes never clears sticky path state.
func (c *Chaos) SetMode(m ChaosMode) { c.mode.Store(uint32(m)) }

// ShareModel reports the model of the wrapped filesystem.
func (c *Chaos) ShareModel() ShareModel { return ModelOf(c.fs) }

// ChaosStats contains counts of injected faults.
type ChaosStats struct {
	OpenFails       int64
	ReadFails       int64
	PartialReads    int64
	WriteFails      int64
	PartialWrites   int64
	RenameFails     int64
	RemoveFails     int64
	MarkDeleteFails int64
	ExistsFails     int64
	IdentityFails   int64
	FinalPathFails  int64
}

// Stats returns the current fault injection counts.
func (c *Chaos) Stats() ChaosStats {
	return ChaosStats{
		OpenFails:       c.openFails.Load(),
		ReadFails:       c.readFails.Load(),
		PartialReads:    c.partialReads.Load(),
		WriteFails:      c.writeFails.Load(),
		PartialWrites:   c.partialWrites.Load(),
		RenameFails:     c.renameFails.Load(),
		RemoveFails:     c.removeFails.Load(),
		MarkDeleteFails: c.markDeleteFails.Load(),
		ExistsFails:     c.existsFails.Load(),
		IdentityFails:   c.identityFails.Load(),
		FinalPathFails:  c.finalPathFails.Load(),
	}
}

// TotalFaults returns the total number of injected faults.
func (c *Chaos) TotalFaults() int64 {
	s := c.Stats()

	return s.OpenFails + s.ReadFails + s.PartialReads + s.WriteFails +
		s.PartialWrites + s.RenameFails + s.RemoveFails + s.MarkDeleteFails +
		s.ExistsFails + s.IdentityFails + s.FinalPathFails
}

// PathState returns the current fault state for a path (for testing).
func (c *Chaos) PathState(path string) PathState {
	return c.getState(path)
}

// ResetAllPathStates clears all fault states (for testing).
func (c *Chaos) ResetAllPathStates() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pathStates = make(map[string]PathState)
}

// --- FS ---

func (c *Chaos) OpenFile(path string, opts OpenOptions) (File, error) {
	op := "open"
	if opts.Disposition == CreateAlways {
		op = "create"
	}

	if err := c.gate(op, path, c.config.OpenFailRate, &c.openFails); err != nil {
		return nil, err
	}

	f, err := c.fs.OpenFile(path, opts)
	if err != nil {
		return nil, err
	}

	return &chaosFile{f: f, chaos: c, path: path}, nil
}

func (c *Chaos) Rename(oldpath, newpath string) error {
	if err := c.gate("rename", newpath, 0, &c.renameFails); err != nil {
		return err
	}

	if err := c.gate("rename", oldpath, c.config.RenameFailRate, &c.renameFails); err != nil {
		return err
	}

	return c.fs.Rename(oldpath, newpath)
}

func (c *Chaos) Remove(path string) error {
	if err := c.gate("remove", path, c.config.RemoveFailRate, &c.removeFails); err != nil {
		return err
	}

	return c.fs.Remove(path)
}

func (c *Chaos) Exists(path string) (bool, error) {
	if err := c.gate("stat", path, c.config.ExistsFailRate, &c.existsFails); err != nil {
		return false, err
	}

	return c.fs.Exists(path)
}

// MkdirAll is never faulted.
func (c *Chaos) MkdirAll(path string) error {
	return c.fs.MkdirAll(path)
}

func (c *Chaos) WriteFile(path string, data []byte) error {
	if err := c.gate("create", path, c.config.WriteFailRate, &c.writeFails); err != nil {
		return err
	}

	return c.fs.WriteFile(path, data)
}

// --- Private api ---

// gate decides whether op on path fails. A nil result lets the call
// through to the wrapped filesystem. A zero rate only applies sticky state.
func (c *Chaos) gate(op, path string, rate float64, fails *atomic.Int64) error {
	mode := ChaosMode(c.mode.Load())
	if mode == ChaosModePassthrough {
		return nil
	}

	state := c.getState(path)

	if state == PathNoPermission {
		// 80%: still denied, 20%: "permission recovered"
		if c.randFloat() < 0.8 {
			fails.Add(1)

			return pathError(op, path, syscall.EACCES)
		}

		c.setState(path, PathNormal)
		state = PathNormal
	}

	if state == PathIOError {
		fails.Add(1)

		return pathError(op, path, syscall.EIO)
	}

	if state == PathReadOnly && isMutation(op) {
		fails.Add(1)

		return pathError(op, path, syscall.EROFS)
	}

	if c.should(mode, rate) {
		errno, err := c.pickError(op, path)
		if err != nil {
			return err
		}

		fails.Add(1)

		return pathError(op, path, errno)
	}

	return nil
}

// should returns true with the given probability when chaos is injecting.
func (c *Chaos) should(mode ChaosMode, rate float64) bool {
	if mode != ChaosModeInject || rate <= 0 {
		return false
	}

	return c.randFloat() < rate
}

func (c *Chaos) randFloat() float64 {
	c.mu.Lock()
	result := c.rng.Float64()
	c.mu.Unlock()

	return result
}

func (c *Chaos) randIntn(n int) int {
	c.mu.Lock()
	result := c.rng.Intn(n)
	c.mu.Unlock()

	return result
}

func (c *Chaos) getState(path string) PathState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.pathStates[path]
}

func (c *Chaos) setState(path string, state PathState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if state == PathNormal {
		delete(c.pathStates, path)
	} else {
		c.pathStates[path] = state
	}
}

// errToState converts an error to a path state for tracking.
func errToState(err syscall.Errno) PathState {
	switch err {
	case syscall.EIO:
		return PathIOError // Sticky - bad sector
	case syscall.EROFS:
		return PathReadOnly // Sticky for mutations
	case syscall.EACCES, syscall.EPERM:
		return PathNoPermission // Semi-sticky
	default:
		return PathNormal // Transient
	}
}

func isMutation(op string) bool {
	switch op {
	case "create", "write", "remove", "rename", "mark delete":
		return true
	}

	return false
}

// pathError creates an *fs.PathError and registers it as injected.
func pathError(op, path string, errno syscall.Errno) error {
	pe := &fs.PathError{Op: op, Path: path, Err: errno}
	markInjectedPathError(pe)

	return pe
}

// pickError selects an error consistent with the operation, the sticky
// path state and whether the file really exists.
func (c *Chaos) pickError(op string, path string) (syscall.Errno, error) {
	var realExists bool

	switch op {
	case "open", "remove", "rename", "stat":
		// If the existence check itself fails, surface the real error rather
		// than fabricating an injected error based on a guess.
		exists, err := c.fs.Exists(path)
		if err != nil {
			return 0, err
		}

		realExists = exists
	}

	var valid []syscall.Errno

	switch op {
	case "open":
		if realExists {
			valid = []syscall.Errno{syscall.EACCES, syscall.EIO, syscall.EMFILE, syscall.ENFILE}
		} else {
			valid = []syscall.Errno{syscall.ENOENT, syscall.EACCES, syscall.EIO, syscall.EMFILE}
		}

	case "create":
		valid = []syscall.Errno{syscall.EACCES, syscall.EIO, syscall.ENOSPC, syscall.EROFS}

	case "read":
		// Already opened - can't get ENOENT
		valid = []syscall.Errno{syscall.EIO, syscall.EINTR}

	case "write":
		valid = []syscall.Errno{syscall.EIO, syscall.ENOSPC, syscall.EROFS}

	case "remove":
		if realExists {
			valid = []syscall.Errno{syscall.EACCES, syscall.EIO, syscall.EBUSY, syscall.EPERM}
		} else {
			valid = []syscall.Errno{syscall.ENOENT}
		}

	case "rename":
		if realExists {
			valid = []syscall.Errno{syscall.EACCES, syscall.EIO, syscall.EBUSY, syscall.EXDEV}
		} else {
			valid = []syscall.Errno{syscall.ENOENT, syscall.EIO}
		}

	case "stat":
		if realExists {
			valid = []syscall.Errno{syscall.EACCES, syscall.EIO}
		} else {
			valid = []syscall.Errno{syscall.ENOENT, syscall.EACCES, syscall.EIO}
		}

	case "mark delete":
		valid = []syscall.Errno{syscall.EACCES, syscall.EIO, syscall.EBUSY}

	default:
		valid = []syscall.Errno{syscall.EIO}
	}

	errno := valid[c.randIntn(len(valid))]
	c.setState(path, errToState(errno))

	return errno, nil
}

// --- chaosFile wraps a File and injects faults ---

type chaosFile struct {
	f     File
	chaos *Chaos
	path  string
}

func (cf *chaosFile) Read(p []byte) (int, error) {
	c := cf.chaos

	if err := c.gate("read", cf.path, c.config.ReadFailRate, &c.readFails); err != nil {
		return 0, err
	}

	// Partial read: limit the underlying read, don't just shrink the
	// returned count, otherwise the offset advances past unreturned data.
	if c.should(ChaosMode(c.mode.Load()), c.config.PartialReadRate) && len(p) > 1 {
		c.partialReads.Add(1)

		cutoff := c.randIntn(len(p)-1) + 1 // [1, len(p)-1]

		return cf.f.Read(p[:cutoff])
	}

	return cf.f.Read(p)
}

func (cf *chaosFile) Write(p []byte) (int, error) {
	c := cf.chaos

	if err := c.gate("write", cf.path, c.config.WriteFailRate, &c.writeFails); err != nil {
		return 0, err
	}

	if c.should(ChaosMode(c.mode.Load()), c.config.PartialWriteRate) && len(p) > 1 {
		c.partialWrites.Add(1)

		wrote, err := cf.f.Write(p[:len(p)/2])
		if err != nil {
			return wrote, err
		}

		errno, err := c.pickError("write", cf.path)
		if err != nil {
			return wrote, err
		}

		return wrote, pathError("write", cf.path, errno)
	}

	return cf.f.Write(p)
}

func (cf *chaosFile) Seek(offset int64, whence int) (int64, error) {
	return cf.f.Seek(offset, whence)
}

// Close is never faulted so that injected failures can't leak handles.
func (cf *chaosFile) Close() error {
	return cf.f.Close()
}

func (cf *chaosFile) Handle() uintptr {
	return cf.f.Handle()
}

func (cf *chaosFile) Identity() (Identity, error) {
	c := cf.chaos

	if err := c.gate("identity", cf.path, c.config.IdentityFailRate, &c.identityFails); err != nil {
		return Identity{}, err
	}

	return cf.f.Identity()
}

func (cf *chaosFile) FinalPath() (string, error) {
	c := cf.chaos

	if err := c.gate("final path", cf.path, c.config.FinalPathFailRate, &c.finalPathFails); err != nil {
		return "", err
	}

	return cf.f.FinalPath()
}

func (cf *chaosFile) RenameTo(newpath string, replace bool) error {
	c := cf.chaos

	if err := c.gate("rename", newpath, 0, &c.renameFails); err != nil {
		return err
	}

	if err := c.gate("rename", cf.path, c.config.RenameFailRate, &c.renameFails); err != nil {
		return err
	}

	err := cf.f.RenameTo(newpath, replace)
	if err == nil {
		cf.path = newpath
	}

	return err
}

func (cf *chaosFile) MarkDelete() error {
	c := cf.chaos

	if err := c.gate("mark delete", cf.path, c.config.MarkDeleteFailRate, &c.markDeleteFails); err != nil {
		return err
	}

	return cf.f.MarkDelete()
}

// Compile-time interface checks.
var (
	_ FS           = (*Chaos)(nil)
	_ ShareModeler = (*Chaos)(nil)
	_ File         = (*chaosFile)(nil)
)

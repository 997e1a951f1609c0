//go:build unix

package fs

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// ShareModel reports the flock emulation, see [shareLock].
func (r *Real) ShareModel() ShareModel {
	return ShareModelExclusive
}

// OpenFile opens path with open(2) and takes the share lock for opts.Share.
//
// Truncation for [CreateAlways] happens only after the share lock is held,
// so a refused open never destroys the content another handle is using.
func (r *Real) OpenFile(path string, opts OpenOptions) (File, error) {
	flag := openFlag(opts.Access)
	if opts.Disposition == CreateAlways {
		flag |= os.O_CREATE
	}

	f, err := os.OpenFile(path, flag, filePerms)
	if err != nil {
		return nil, err
	}

	lock := newShareLock()

	err = lock.acquire(int(f.Fd()), opts.Share)
	if err != nil {
		_ = f.Close()

		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}

	uf := &unixFile{f: f, path: path, access: opts.Access, lock: lock}

	if opts.Disposition == CreateAlways {
		err = f.Truncate(0)
		if err != nil {
			return nil, errors.Join(err, uf.Close())
		}
	}

	return uf, nil
}

// Remove calls unlink(2).
func (r *Real) Remove(path string) error {
	err := unix.Unlink(path)
	if err != nil {
		return &os.PathError{Op: "remove", Path: path, Err: err}
	}

	return nil
}

// Exists checks if a file exists using [os.Stat].
// Directories count as "no file".
func (r *Real) Exists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err == nil {
		return !info.IsDir(), nil
	}

	if os.IsNotExist(err) {
		return false, nil
	}

	return false, err
}

type unixFile struct {
	f      *os.File
	path   string
	access Access
	lock   shareLock
	closed bool
}

func (u *unixFile) Read(p []byte) (int, error) { return u.f.Read(p) }

func (u *unixFile) Write(p []byte) (int, error) { return u.f.Write(p) }

func (u *unixFile) Seek(offset int64, whence int) (int64, error) {
	return u.f.Seek(offset, whence)
}

// Close releases the share lock and the descriptor.
// A second call returns [os.ErrClosed].
func (u *unixFile) Close() error {
	if u.closed {
		return os.ErrClosed
	}

	u.closed = true

	return u.lock.release(u.f)
}

func (u *unixFile) Handle() uintptr { return u.f.Fd() }

// Identity returns (st_dev, st_ino) of the descriptor.
func (u *unixFile) Identity() (Identity, error) {
	var st unix.Stat_t

	err := unix.Fstat(int(u.f.Fd()), &st)
	if err != nil {
		return Identity{}, &os.PathError{Op: "fstat", Path: u.path, Err: err}
	}

	return IdentityFromIndex(uint64(st.Dev), uint64(st.Ino)), nil
}

func (u *unixFile) FinalPath() (string, error) {
	return fdPath(u.f)
}

// RenameTo resolves the path the descriptor currently has, checks that it
// still names this file and renames it with rename(2).
//
// Like the Windows call, it requires [AccessDelete].
func (u *unixFile) RenameTo(newpath string, replace bool) error {
	if !u.access.Has(AccessDelete) {
		return &os.LinkError{Op: "rename", Old: u.path, New: newpath, Err: ErrAccessDenied}
	}

	cur, err := u.verifiedPath()
	if err != nil {
		return &os.LinkError{Op: "rename", Old: u.path, New: newpath, Err: err}
	}

	if !replace {
		if _, statErr := os.Lstat(newpath); statErr == nil {
			return &os.LinkError{Op: "rename", Old: cur, New: newpath, Err: os.ErrExist}
		}
	}

	err = unix.Rename(cur, newpath)
	if err != nil {
		return &os.LinkError{Op: "rename", Old: cur, New: newpath, Err: err}
	}

	return nil
}

// MarkDelete unlinks the path the descriptor currently has. Unix removes
// the name immediately; the data stays reachable through open descriptors
// until the last one is closed.
func (u *unixFile) MarkDelete() error {
	if !u.access.Has(AccessDelete) {
		return &os.PathError{Op: "mark delete", Path: u.path, Err: ErrAccessDenied}
	}

	cur, err := u.verifiedPath()
	if err != nil {
		return &os.PathError{Op: "mark delete", Path: u.path, Err: err}
	}

	err = unix.Unlink(cur)
	if err != nil {
		return &os.PathError{Op: "mark delete", Path: cur, Err: err}
	}

	return nil
}

func (u *unixFile) verifiedPath() (string, error) {
	cur, err := u.FinalPath()
	if errors.Is(err, ErrUnsupported) {
		// Without a way to ask the kernel, fall back to the name the
		// handle was opened with and rely on the inode check.
		cur, err = u.path, nil
	}

	if err != nil {
		return "", err
	}

	match, err := inodeMatchesPath(cur, u.f)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrIdentityMismatch
		}

		return "", err
	}

	if !match {
		return "", ErrIdentityMismatch
	}

	return cur, nil
}

func openFlag(a Access) int {
	switch {
	case a.Has(AccessRead | AccessWrite):
		return os.O_RDWR
	case a.Has(AccessWrite):
		return os.O_WRONLY
	default:
		return os.O_RDONLY
	}
}

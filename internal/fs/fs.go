// Package fs provides the handle-level filesystem used by the probes.
//
// Unlike the path-oriented [os] helpers, every operation here is phrased in
// terms of an open handle and the sharing rules it was opened with, so the
// same scenario can run against different operating system mechanisms.
//
// The main types are:
//   - [FS]: interface for opening handles and path-based mutations
//   - [File]: interface for an open handle
//   - [Real]: the host operating system (Windows or Unix backend)
//   - [Sim]: in-memory filesystem with Windows NT sharing semantics
//   - [Chaos]: wrapper that injects failures
//   - [Tracked]: wrapper that keeps a ledger of open handles
//
// Example usage:
//
//	fsys := fs.NewReal()
//	f, err := fsys.OpenFile("test_data/file_A.txt", fs.OpenOptions{
//	    Access:      fs.AccessRead | fs.AccessWrite | fs.AccessDelete,
//	    Share:       fs.ShareAll,
//	    Disposition: fs.CreateAlways,
//	})
//	if err != nil {
//	    return err
//	}
//	defer f.Close()
//
//	id, _ := f.Identity()
//	fmt.Println(id)
package fs

import (
	"io"
)

// Disposition selects what OpenFile does when the path exists or not.
type Disposition int

const (
	// OpenExisting fails with [os.ErrNotExist] if the path is missing.
	OpenExisting Disposition = iota
	// CreateAlways creates the file, truncating it if it already exists.
	CreateAlways
)

func (d Disposition) String() string {
	switch d {
	case OpenExisting:
		return "open-existing"
	case CreateAlways:
		return "create-always"
	default:
		return "unknown"
	}
}

// OpenOptions describes a single open request.
type OpenOptions struct {
	Access      Access
	Share       Share
	Disposition Disposition
}

// File is an open handle.
//
// A File is owned by whoever opened it and must be closed exactly once.
// Implementations are not required to be safe for concurrent use; the
// probes issue one call at a time.
type File interface {
	// Embedded interfaces from [io] package.
	// These provide Read, Write, Close, and Seek methods.
	io.ReadWriteCloser
	io.Seeker

	// Handle returns the OS-issued handle value (a HANDLE on Windows, a
	// file descriptor on Unix, a synthetic counter on [Sim]). It is only
	// meant for diagnostics.
	Handle() uintptr

	// Identity returns the on-disk identity of the file the handle refers
	// to, independent of its current name.
	Identity() (Identity, error)

	// FinalPath returns the path the handle currently resolves to.
	// Returns [ErrUnsupported] if the backend cannot answer.
	FinalPath() (string, error)

	// RenameTo renames the file through the handle itself. The handle must
	// have been opened with [AccessDelete].
	RenameTo(newpath string, replace bool) error

	// MarkDelete asks for the file to be removed once every handle to it
	// is closed. The handle must have been opened with [AccessDelete].
	MarkDelete() error
}

// FS opens handles and performs path-based mutations.
//
// Paths use OS semantics (like the os package and path/filepath).
type FS interface {
	// OpenFile opens path with the requested access, sharing and
	// disposition. A sharing conflict returns an error satisfying
	// errors.Is(err, [ErrSharingViolation]).
	OpenFile(path string, opts OpenOptions) (File, error)

	// Rename atomically replaces newpath with oldpath without needing a
	// handle (MoveFileEx with MOVEFILE_REPLACE_EXISTING, rename(2)).
	Rename(oldpath, newpath string) error

	// Remove deletes path (DeleteFile, unlink(2)). On Windows the file is
	// only marked for deletion while other handles are open.
	Remove(path string) error

	// Exists reports whether a file is visible at path.
	// A directory at path counts as "no file".
	// Returns (false, nil) if not found, (false, err) on other errors.
	Exists(path string) (bool, error)

	// MkdirAll creates a directory and all parents.
	// No error if the directory already exists.
	MkdirAll(path string) error

	// WriteFile atomically replaces the content of path. Used to seed
	// fixtures.
	WriteFile(path string, data []byte) error
}

// ShareModeler is implemented by backends that can describe which sharing
// rules they enforce.
type ShareModeler interface {
	ShareModel() ShareModel
}

// ModelOf returns the sharing model fsys reports through [ShareModeler].
// It doesn't unwrap anything; the decorators in this package forward
// ShareModel to the backend they wrap. Backends that don't implement
// [ShareModeler] are assumed to enforce nothing.
func ModelOf(fsys FS) ShareModel {
	if m, ok := fsys.(ShareModeler); ok {
		return m.ShareModel()
	}

	return ShareModelNone
}

package fs

import (
	"bytes"
	"os"

	"github.com/natefinch/atomic"
)

const (
	filePerms = 0o644
	dirPerms  = 0o755
)

// Real implements [FS] on the host operating system.
//
// On Windows every operation maps to the Win32 call the probes are meant
// to exercise (CreateFileW, MoveFileExW, DeleteFileW,
// SetFileInformationByHandle). On Unix the same contract is expressed with
// open(2), rename(2), unlink(2) and flock(2); see real_unix.go for where the
// emulation differs.
type Real struct{}

// NewReal returns a new [Real] filesystem.
func NewReal() *Real {
	return &Real{}
}

// Rename replaces newpath with oldpath in one step. On Windows this is
// MoveFileEx with MOVEFILE_REPLACE_EXISTING, on Unix rename(2).
func (r *Real) Rename(oldpath, newpath string) error {
	return atomic.ReplaceFile(oldpath, newpath)
}

// A passthrough wrapper for [os.MkdirAll].
func (r *Real) MkdirAll(path string) error {
	return os.MkdirAll(path, dirPerms)
}

// WriteFile writes data to a temp file and renames it over path.
func (r *Real) WriteFile(path string, data []byte) error {
	return atomic.WriteFile(path, bytes.NewReader(data))
}

// Compile-time interface checks.
var (
	_ FS           = (*Real)(nil)
	_ ShareModeler = (*Real)(nil)
)

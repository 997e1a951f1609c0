//go:build windows

package fs

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/windows"
)

// Standard access right that allows renaming or deleting through a handle.
const accessDelete = 0x00010000

const errorDeletePending = windows.Errno(303)

// fileRenameInfo mirrors FILE_RENAME_INFO. FileName is variable length and
// continues past the end of the struct.
type fileRenameInfo struct {
	ReplaceIfExists uint32
	RootDirectory   windows.Handle
	FileNameLength  uint32
	FileName        [1]uint16
}

// fileDispositionInfo mirrors FILE_DISPOSITION_INFO.
type fileDispositionInfo struct {
	DeleteFile uint8
}

// ShareModel reports that Windows enforces the documented NT table.
func (r *Real) ShareModel() ShareModel {
	return ShareModelNT
}

// OpenFile calls CreateFileW with the access, share and disposition of opts.
func (r *Real) OpenFile(path string, opts OpenOptions) (File, error) {
	name, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}

	h, err := windows.CreateFile(
		name,
		desiredAccess(opts.Access),
		shareMode(opts.Share),
		nil,
		creationDisposition(opts.Disposition),
		windows.FILE_ATTRIBUTE_NORMAL,
		0,
	)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: path, Err: classifyWinErr(err)}
	}

	return &winFile{h: h, path: path}, nil
}

// Remove calls DeleteFileW.
func (r *Real) Remove(path string) error {
	name, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return &os.PathError{Op: "remove", Path: path, Err: err}
	}

	err = windows.DeleteFile(name)
	if err != nil {
		return &os.PathError{Op: "remove", Path: path, Err: classifyWinErr(err)}
	}

	return nil
}

// Exists calls GetFileAttributesW. Directories count as "no file".
func (r *Real) Exists(path string) (bool, error) {
	name, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return false, &os.PathError{Op: "stat", Path: path, Err: err}
	}

	attrs, err := windows.GetFileAttributes(name)
	if err != nil {
		if errors.Is(err, windows.ERROR_FILE_NOT_FOUND) || errors.Is(err, windows.ERROR_PATH_NOT_FOUND) {
			return false, nil
		}

		return false, &os.PathError{Op: "stat", Path: path, Err: classifyWinErr(err)}
	}

	return attrs&windows.FILE_ATTRIBUTE_DIRECTORY == 0, nil
}

type winFile struct {
	h    windows.Handle
	path string
}

func (f *winFile) Read(p []byte) (int, error) {
	if f.h == windows.InvalidHandle {
		return 0, os.ErrClosed
	}

	var n uint32

	err := windows.ReadFile(f.h, p, &n, nil)
	if err != nil {
		return int(n), f.pathErr("read", err)
	}

	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}

	return int(n), nil
}

func (f *winFile) Write(p []byte) (int, error) {
	if f.h == windows.InvalidHandle {
		return 0, os.ErrClosed
	}

	var n uint32

	err := windows.WriteFile(f.h, p, &n, nil)
	if err != nil {
		return int(n), f.pathErr("write", err)
	}

	if int(n) < len(p) {
		return int(n), io.ErrShortWrite
	}

	return int(n), nil
}

func (f *winFile) Seek(offset int64, whence int) (int64, error) {
	pos, err := windows.Seek(f.h, offset, whence)
	if err != nil {
		return 0, f.pathErr("seek", err)
	}

	return pos, nil
}

// Close is not idempotent: a second call returns [os.ErrClosed].
func (f *winFile) Close() error {
	if f.h == windows.InvalidHandle {
		return os.ErrClosed
	}

	err := windows.CloseHandle(f.h)
	f.h = windows.InvalidHandle

	if err != nil {
		return f.pathErr("close", err)
	}

	return nil
}

func (f *winFile) Handle() uintptr {
	return uintptr(f.h)
}

func (f *winFile) Identity() (Identity, error) {
	var info windows.ByHandleFileInformation

	err := windows.GetFileInformationByHandle(f.h, &info)
	if err != nil {
		return Identity{}, f.pathErr("identity", err)
	}

	return Identity{
		Volume:    uint64(info.VolumeSerialNumber),
		IndexHigh: info.FileIndexHigh,
		IndexLow:  info.FileIndexLow,
	}, nil
}

// FinalPath calls GetFinalPathNameByHandleW with FILE_NAME_OPENED.
func (f *winFile) FinalPath() (string, error) {
	buf := make([]uint16, windows.MAX_PATH)

	for {
		n, err := windows.GetFinalPathNameByHandle(f.h, &buf[0], uint32(len(buf)), windows.FILE_NAME_OPENED)
		if err != nil {
			return "", f.pathErr("final path", err)
		}

		if n < uint32(len(buf)) {
			return windows.UTF16ToString(buf[:n]), nil
		}

		// n is the required size including the terminator.
		buf = make([]uint16, n)
	}
}

// RenameTo calls SetFileInformationByHandle with FileRenameInfo.
func (f *winFile) RenameTo(newpath string, replace bool) error {
	abs, err := filepath.Abs(newpath)
	if err != nil {
		return &os.LinkError{Op: "rename", Old: f.path, New: newpath, Err: err}
	}

	name, err := windows.UTF16FromString(abs)
	if err != nil {
		return &os.LinkError{Op: "rename", Old: f.path, New: newpath, Err: err}
	}

	var hdr fileRenameInfo

	size := int(unsafe.Offsetof(hdr.FileName)) + len(name)*2
	size = max(size, int(unsafe.Sizeof(hdr)))

	buf := make([]byte, size)
	info := (*fileRenameInfo)(unsafe.Pointer(&buf[0]))

	if replace {
		info.ReplaceIfExists = 1
	}

	// FileNameLength is in bytes and excludes the terminator.
	info.FileNameLength = uint32((len(name) - 1) * 2)
	copy(unsafe.Slice(&info.FileName[0], len(name)), name)

	err = windows.SetFileInformationByHandle(f.h, windows.FileRenameInfo, &buf[0], uint32(size))
	if err != nil {
		return &os.LinkError{Op: "rename", Old: f.path, New: newpath, Err: classifyWinErr(err)}
	}

	return nil
}

// MarkDelete calls SetFileInformationByHandle with FileDispositionInfo.
func (f *winFile) MarkDelete() error {
	info := fileDispositionInfo{DeleteFile: 1}

	err := windows.SetFileInformationByHandle(
		f.h,
		windows.FileDispositionInfo,
		(*byte)(unsafe.Pointer(&info)),
		uint32(unsafe.Sizeof(info)),
	)
	if err != nil {
		return f.pathErr("mark delete", err)
	}

	return nil
}

func (f *winFile) pathErr(op string, err error) error {
	return &os.PathError{Op: op, Path: f.path, Err: classifyWinErr(err)}
}

func desiredAccess(a Access) uint32 {
	var v uint32

	if a.Has(AccessRead) {
		v |= windows.GENERIC_READ
	}

	if a.Has(AccessWrite) {
		v |= windows.GENERIC_WRITE
	}

	if a.Has(AccessDelete) {
		v |= accessDelete
	}

	return v
}

func shareMode(s Share) uint32 {
	var v uint32

	if s.Has(ShareRead) {
		v |= windows.FILE_SHARE_READ
	}

	if s.Has(ShareWrite) {
		v |= windows.FILE_SHARE_WRITE
	}

	if s.Has(ShareDelete) {
		v |= windows.FILE_SHARE_DELETE
	}

	return v
}

func creationDisposition(d Disposition) uint32 {
	if d == CreateAlways {
		return windows.CREATE_ALWAYS
	}

	return windows.OPEN_EXISTING
}

func classifyWinErr(err error) error {
	switch {
	case errors.Is(err, windows.ERROR_SHARING_VIOLATION):
		return classify(ErrSharingViolation, err)
	case errors.Is(err, errorDeletePending):
		return classify(ErrDeletePending, err)
	case errors.Is(err, windows.ERROR_ACCESS_DENIED):
		return classify(ErrAccessDenied, err)
	default:
		return err
	}
}

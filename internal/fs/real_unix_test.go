//go:build unix

package fs

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// =============================================================================
// Real FS Tests (Unix)
//
// We're NOT testing open(2) or rename(2) themselves. We ARE testing:
//   - the flock share emulation
//   - handle rename / mark-delete through the resolved path
//   - Exists treating directories as missing
// =============================================================================

func openRWD(t *testing.T, fsys FS, path string) File {
	t.Helper()

	f, err := fsys.OpenFile(path, OpenOptions{
		Access:      AccessRead | AccessWrite | AccessDelete,
		Share:       ShareAll,
		Disposition: CreateAlways,
	})
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}

	return f
}

func TestReal_ShareNoneConflicts(t *testing.T) {
	t.Parallel()

	fsys := NewReal()
	path := filepath.Join(t.TempDir(), "f.txt")

	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	h1, err := fsys.OpenFile(path, OpenOptions{Access: AccessRead, Share: ShareNone})
	if err != nil {
		t.Fatalf("first open: %v", err)
	}

	defer h1.Close()

	_, err = fsys.OpenFile(path, OpenOptions{Access: AccessRead, Share: ShareAll})
	if !errors.Is(err, ErrSharingViolation) {
		t.Fatalf("second open err=%v, want ErrSharingViolation", err)
	}
}

func TestReal_SharedOpensCoexist(t *testing.T) {
	t.Parallel()

	fsys := NewReal()
	path := filepath.Join(t.TempDir(), "f.txt")

	if err := os.WriteFile(path, []byte("keep"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	h1, err := fsys.OpenFile(path, OpenOptions{Access: AccessRead, Share: ShareRead})
	if err != nil {
		t.Fatalf("first open: %v", err)
	}

	defer h1.Close()

	h2, err := fsys.OpenFile(path, OpenOptions{Access: AccessRead, Share: ShareRead})
	if err != nil {
		t.Fatalf("second open: %v", err)
	}

	if err := h2.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestReal_RefusedCreateDoesNotTruncate(t *testing.T) {
	t.Parallel()

	fsys := NewReal()
	path := filepath.Join(t.TempDir(), "f.txt")

	if err := os.WriteFile(path, []byte("keep"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	h1, err := fsys.OpenFile(path, OpenOptions{Access: AccessRead, Share: ShareNone})
	if err != nil {
		t.Fatalf("first open: %v", err)
	}

	defer h1.Close()

	_, err = fsys.OpenFile(path, OpenOptions{Access: AccessWrite, Share: ShareAll, Disposition: CreateAlways})
	if !errors.Is(err, ErrSharingViolation) {
		t.Fatalf("err=%v, want ErrSharingViolation", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if got, want := string(data), "keep"; got != want {
		t.Fatalf("content=%q, want=%q", got, want)
	}
}

func TestReal_HandleRenamePreservesIdentityAndContent(t *testing.T) {
	t.Parallel()

	fsys := NewReal()
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "file_A.txt")
	newPath := filepath.Join(dir, "file_B.txt")

	f := openRWD(t, fsys, oldPath)

	before, err := f.Identity()
	if err != nil {
		t.Fatalf("identity: %v", err)
	}

	if _, err := f.Write([]byte("asdf")); err != nil {
		t.Fatalf("write a: %v", err)
	}

	if err := f.RenameTo(newPath, true); err != nil {
		t.Fatalf("rename: %v", err)
	}

	if runtime.GOOS == "linux" {
		got, err := f.FinalPath()
		if err != nil {
			t.Fatalf("final path: %v", err)
		}

		if filepath.Base(got) != "file_B.txt" {
			t.Fatalf("final path=%q, want suffix file_B.txt", got)
		}
	}

	if _, err := f.Write([]byte("jkl")); err != nil {
		t.Fatalf("write b: %v", err)
	}

	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	g, err := fsys.OpenFile(newPath, OpenOptions{Access: AccessRead, Share: ShareAll})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}

	defer g.Close()

	after, err := g.Identity()
	if err != nil {
		t.Fatalf("identity after: %v", err)
	}

	if got, want := after, before; got != want {
		t.Fatalf("identity=%v, want=%v", got, want)
	}

	data, err := io.ReadAll(g)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if got, want := string(data), "asdfjkl"; got != want {
		t.Fatalf("content=%q, want=%q", got, want)
	}
}

func TestReal_MarkDeleteKeepsHandleUsable(t *testing.T) {
	t.Parallel()

	fsys := NewReal()
	path := filepath.Join(t.TempDir(), "file_A.txt")

	f := openRWD(t, fsys, path)

	if _, err := f.Write([]byte("asdf")); err != nil {
		t.Fatalf("write a: %v", err)
	}

	if err := f.MarkDelete(); err != nil {
		t.Fatalf("mark delete: %v", err)
	}

	if _, err := f.Write([]byte("jkl")); err != nil {
		t.Fatalf("write b: %v", err)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("seek: %v", err)
	}

	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if got, want := string(data), "asdfjkl"; got != want {
		t.Fatalf("content=%q, want=%q", got, want)
	}

	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	exists, err := fsys.Exists(path)
	if err != nil {
		t.Fatalf("exists: %v", err)
	}

	if exists {
		t.Fatal("file still visible after last close")
	}
}

func TestReal_HandleOpsNeedDeleteAccess(t *testing.T) {
	t.Parallel()

	fsys := NewReal()
	path := filepath.Join(t.TempDir(), "f.txt")

	f, err := fsys.OpenFile(path, OpenOptions{Access: AccessRead | AccessWrite, Share: ShareAll, Disposition: CreateAlways})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	defer f.Close()

	if err := f.MarkDelete(); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("MarkDelete err=%v, want ErrAccessDenied", err)
	}

	if err := f.RenameTo(path+".new", true); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("RenameTo err=%v, want ErrAccessDenied", err)
	}
}

func TestReal_HandleRenameDetectsReplacedPath(t *testing.T) {
	t.Parallel()

	fsys := NewReal()
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")

	f := openRWD(t, fsys, path)
	defer f.Close()

	// Someone else puts a different file at the handle's name.
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if err := os.WriteFile(path, []byte("other"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if runtime.GOOS != "linux" {
		err := f.RenameTo(filepath.Join(dir, "g.txt"), true)
		if !errors.Is(err, ErrIdentityMismatch) {
			t.Fatalf("err=%v, want ErrIdentityMismatch", err)
		}

		return
	}

	// On Linux the descriptor resolves to "f.txt (deleted)", which no
	// longer names anything.
	err := f.MarkDelete()
	if !errors.Is(err, ErrIdentityMismatch) {
		t.Fatalf("err=%v, want ErrIdentityMismatch", err)
	}

	if _, statErr := os.Stat(path); statErr != nil {
		t.Fatalf("replacement file was touched: %v", statErr)
	}
}

func TestReal_ExistsTreatsDirectoryAsMissing(t *testing.T) {
	t.Parallel()

	fsys := NewReal()
	dir := t.TempDir()

	exists, err := fsys.Exists(dir)
	if err != nil {
		t.Fatalf("exists: %v", err)
	}

	if exists {
		t.Fatal("directory reported as file")
	}

	exists, err = fsys.Exists(filepath.Join(dir, "missing"))
	if err != nil || exists {
		t.Fatalf("missing: exists=%v err=%v", exists, err)
	}
}

func TestReal_CloseTwiceFails(t *testing.T) {
	t.Parallel()

	f := openRWD(t, NewReal(), filepath.Join(t.TempDir(), "f.txt"))

	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := f.Close(); !errors.Is(err, os.ErrClosed) {
		t.Fatalf("second close err=%v, want os.ErrClosed", err)
	}
}

func TestReal_ReportsExclusiveModel(t *testing.T) {
	t.Parallel()

	if got, want := ModelOf(NewReal()), ShareModelExclusive; got != want {
		t.Fatalf("model=%v, want=%v", got, want)
	}
}

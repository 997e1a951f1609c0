//go:build unix

package fs

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Unix has no share modes, so [Real] approximates them with flock(2) taken
// on every handle it opens:
//
//   - [ShareNone] takes LOCK_EX: nobody else may hold the file open.
//   - any other share mode takes LOCK_SH: other sharing handles coexist.
//
// flock locks belong to the open file description, so two opens of the same
// path within this process conflict exactly like two processes would. The
// locks are advisory; only handles opened through [Real] take part. This is
// [ShareModelExclusive].
type shareLock struct {
	flock func(fd int, how int) error
}

func newShareLock() shareLock {
	return shareLock{flock: unix.Flock}
}

// acquire takes the lock that models share on fd without blocking.
//
// Returns an error satisfying errors.Is(err, [ErrSharingViolation]) if
// another handle holds a conflicting lock.
func (l shareLock) acquire(fd int, share Share) error {
	how := unix.LOCK_SH
	if share == ShareNone {
		how = unix.LOCK_EX
	}

	err := flockRetryEINTR(l.flock, fd, how|unix.LOCK_NB)
	if err == nil {
		return nil
	}

	if isWouldBlock(err) {
		return classify(ErrSharingViolation, err)
	}

	return fmt.Errorf("flock: %w", err)
}

// release drops the lock and closes the file. Closing alone would release
// the lock too, the explicit unlock keeps the order obvious.
//
// If both unlocking and closing fail, the returned error wraps both (see
// [errors.Join]).
func (l shareLock) release(f *os.File) error {
	unlockErr := flockRetryEINTR(l.flock, int(f.Fd()), unix.LOCK_UN)
	closeErr := f.Close()

	if unlockErr != nil {
		unlockErr = fmt.Errorf("unlocking share lock: %w", unlockErr)
	}

	return errors.Join(unlockErr, closeErr)
}

// inodeMatchesPath verifies that f (the open file descriptor) still refers
// to the file currently at path.
//
// Handle-based rename and delete on Unix are performed through the path the
// handle resolves to. Between resolving and acting, that path can be
// replaced; without this check the operation would hit a different file.
func inodeMatchesPath(path string, f *os.File) (bool, error) {
	var openStat unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &openStat); err != nil {
		return false, err
	}

	var pathStat unix.Stat_t
	if err := unix.Lstat(path, &pathStat); err != nil {
		return false, err
	}

	return openStat.Dev == pathStat.Dev && openStat.Ino == pathStat.Ino, nil
}

func isWouldBlock(err error) bool {
	return errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN)
}

// flockRetryEINTR wraps flock, retrying on EINTR.
//
// EINTR means the syscall was interrupted by a signal before it could
// complete; it didn't fail, it just needs to be retried. Retries are capped
// to avoid spinning forever under pathological signal storms.
func flockRetryEINTR(flock func(fd int, how int) error, fd int, how int) error {
	const maxEINTRRetries = 10000

	var err error
	for range maxEINTRRetries {
		err = flock(fd, how)
		if err == nil || !errors.Is(err, unix.EINTR) {
			return err
		}
	}

	return err
}

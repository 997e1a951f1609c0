//go:build linux

package fs

import (
	"os"
	"strconv"
)

// fdPath asks procfs which path the descriptor resolves to. A file whose
// last name was unlinked resolves to "<path> (deleted)".
func fdPath(f *os.File) (string, error) {
	p, err := os.Readlink("/proc/self/fd/" + strconv.Itoa(int(f.Fd())))
	if err != nil {
		return "", err
	}

	return p, nil
}

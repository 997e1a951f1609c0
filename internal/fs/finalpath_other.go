//go:build unix && !linux

package fs

import "os"

func fdPath(*os.File) (string, error) {
	return "", ErrUnsupported
}

package probe

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"runtime"
	"strings"
)

// ErrReadLimit is returned when a file holds more than the configured
// maximum number of bytes.
var ErrReadLimit = errors.New("content exceeds read limit")

// DefaultMaxReadBytes bounds verification reads.
const DefaultMaxReadBytes = 1 << 20

// readAll reads r to EOF into a growing buffer, failing once more than
// limit bytes arrive. Nothing is sized from a prior length query, so a file
// that grows or shrinks between calls can't cause a short or oversized read.
func readAll(r io.Reader, limit int64) ([]byte, error) {
	var buf bytes.Buffer

	// One byte past the limit tells "exactly limit" from "too much".
	capped := limit
	if capped < math.MaxInt64 {
		capped++
	}

	n, err := buf.ReadFrom(io.LimitReader(r, capped))
	if err != nil {
		return nil, err
	}

	if n > limit {
		return nil, fmt.Errorf("%w of %d bytes", ErrReadLimit, limit)
	}

	return buf.Bytes(), nil
}

// pathHasName reports whether the last element of p is name. Windows
// names compare case-insensitively, and the \\?\ prefix of final paths is
// ignored.
func pathHasName(p, name string) bool {
	p = strings.TrimPrefix(p, `\\?\`)
	base := filepath.Base(p)

	if runtime.GOOS == "windows" {
		return strings.EqualFold(base, name)
	}

	return base == name
}

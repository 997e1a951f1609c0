package probe

import (
	"errors"
	"fmt"
	"strings"

	"github.com/calvinalkan/handleprobe/internal/fs"
)

var (
	// ErrUnknownStrategy is returned for names not in a registry.
	ErrUnknownStrategy = errors.New("unknown strategy")

	// ErrStrategyExcluded is returned for strategies that are known but
	// can't run against a handle that stays open.
	ErrStrategyExcluded = errors.New("strategy excluded")
)

// RenameStrategy is one way of asking the OS to rename a file that has an
// open handle.
type RenameStrategy interface {
	Name() string
	// Mechanism names the OS facility, e.g. "MoveFileEx".
	Mechanism() string
	// NeedsHandle reports whether the strategy acts through the open handle,
	// which then must have been opened with delete access.
	NeedsHandle() bool
	Rename(fsys fs.FS, f fs.File, oldpath, newpath string) error
}

// DeleteStrategy is one way of asking the OS to delete a file that has an
// open handle.
type DeleteStrategy interface {
	Name() string
	Mechanism() string
	NeedsHandle() bool
	Delete(fsys fs.FS, f fs.File, path string) error
}

// ExcludedStrategy is a known strategy that is never run.
type ExcludedStrategy struct {
	Name      string
	Mechanism string
	Reason    string
}

type renameByPath struct{}

func (renameByPath) Name() string      { return "by-path" }
func (renameByPath) Mechanism() string { return "MoveFileEx" }
func (renameByPath) NeedsHandle() bool { return false }

func (renameByPath) Rename(fsys fs.FS, _ fs.File, oldpath, newpath string) error {
	return fsys.Rename(oldpath, newpath)
}

type renameByHandle struct{}

func (renameByHandle) Name() string      { return "by-handle" }
func (renameByHandle) Mechanism() string { return "SetFileInformationByHandle" }
func (renameByHandle) NeedsHandle() bool { return true }

func (renameByHandle) Rename(_ fs.FS, f fs.File, _, newpath string) error {
	return f.RenameTo(newpath, true)
}

type deleteByPath struct{}

func (deleteByPath) Name() string      { return "by-path" }
func (deleteByPath) Mechanism() string { return "DeleteFile" }
func (deleteByPath) NeedsHandle() bool { return false }

func (deleteByPath) Delete(fsys fs.FS, _ fs.File, path string) error {
	return fsys.Remove(path)
}

type deleteByHandle struct{}

func (deleteByHandle) Name() string      { return "by-handle" }
func (deleteByHandle) Mechanism() string { return "SetFileInformationByHandle" }
func (deleteByHandle) NeedsHandle() bool { return true }

func (deleteByHandle) Delete(_ fs.FS, f fs.File, _ string) error {
	return f.MarkDelete()
}

var renameStrategies = [...]RenameStrategy{renameByPath{}, renameByHandle{}}

var deleteStrategies = [...]DeleteStrategy{deleteByPath{}, deleteByHandle{}}

var excludedRenameStrategies = [...]ExcludedStrategy{
	{
		Name:      "by-replace",
		Mechanism: "ReplaceFile",
		Reason:    "opens the source without sharing, so it always conflicts with the handle under test",
	},
}

// RenameStrategies returns the runnable rename strategies in registry order.
func RenameStrategies() []RenameStrategy {
	out := make([]RenameStrategy, len(renameStrategies))
	copy(out, renameStrategies[:])

	return out
}

// DeleteStrategies returns the runnable delete strategies in registry order.
func DeleteStrategies() []DeleteStrategy {
	out := make([]DeleteStrategy, len(deleteStrategies))
	copy(out, deleteStrategies[:])

	return out
}

// ExcludedRenameStrategies returns the known rename strategies that never run.
func ExcludedRenameStrategies() []ExcludedStrategy {
	out := make([]ExcludedStrategy, len(excludedRenameStrategies))
	copy(out, excludedRenameStrategies[:])

	return out
}

// ParseRenameStrategy resolves a rename strategy by name.
func ParseRenameStrategy(name string) (RenameStrategy, error) {
	name = strings.ToLower(strings.TrimSpace(name))

	for _, s := range renameStrategies {
		if s.Name() == name {
			return s, nil
		}
	}

	for _, e := range excludedRenameStrategies {
		if e.Name == name {
			return nil, fmt.Errorf("%w: rename %q (%s) %s", ErrStrategyExcluded, name, e.Mechanism, e.Reason)
		}
	}

	return nil, fmt.Errorf("%w: rename %q", ErrUnknownStrategy, name)
}

// ParseDeleteStrategy resolves a delete strategy by name.
func ParseDeleteStrategy(name string) (DeleteStrategy, error) {
	name = strings.ToLower(strings.TrimSpace(name))

	for _, s := range deleteStrategies {
		if s.Name() == name {
			return s, nil
		}
	}

	return nil, fmt.Errorf("%w: delete %q", ErrUnknownStrategy, name)
}

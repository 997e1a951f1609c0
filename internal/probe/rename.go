package probe

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/calvinalkan/handleprobe/internal/fs"
)

const (
	stepIdentityBefore = "identity-before"
	stepRename         = "rename"
	stepFinalPath      = "final-path"
	stepReopen         = "reopen"
	stepIdentityAfter  = "identity-after"
	stepContent        = "content"
	stepCloseReopened  = "close-reopened"
)

// createOptions is how the rename and delete scenarios open their file:
// read, write and delete access with full sharing, truncating any leftover.
var createOptions = fs.OpenOptions{
	Access:      fs.AccessRead | fs.AccessWrite | fs.AccessDelete,
	Share:       fs.ShareAll,
	Disposition: fs.CreateAlways,
}

var reopenOptions = fs.OpenOptions{
	Access:      fs.AccessRead,
	Share:       fs.ShareAll,
	Disposition: fs.OpenExisting,
}

// VerifyRename renames a file while a handle to it stays open, once per
// configured strategy, and verifies that the handle follows the file, that
// the file keeps its identity and that writes before and after the rename
// both land in it.
func (h *Harness) VerifyRename(ctx context.Context) (ScenarioReport, error) {
	strategies := h.opts.Rename.Strategies

	labels := make([]string, len(strategies))
	for i, s := range strategies {
		labels[i] = s.Name()
	}

	if err := h.fsys.MkdirAll(h.opts.DataDir); err != nil {
		err = &FatalError{Scenario: ScenarioRename, Label: "setup", Step: "data-dir", Err: err}

		return ScenarioReport{Name: ScenarioRename, Iterations: []Iteration{}, Fatal: err.Error(), Skipped: labels}, err
	}

	return h.runIterations(ctx, ScenarioRename, labels, func(_ context.Context, i int, r *iterRun) error {
		return h.renameOnce(r, strategies[i])
	})
}

func (h *Harness) renameOnce(r *iterRun, s RenameStrategy) (err error) {
	oldPath := filepath.Join(h.opts.DataDir, h.opts.Rename.OldName)
	newPath := filepath.Join(h.opts.DataDir, h.opts.Rename.NewName)

	f, openErr := r.fsys.OpenFile(oldPath, createOptions)
	if openErr != nil {
		return r.fatal(stepCreate, openErr)
	}

	r.pass(stepCreate, "h = %#x", f.Handle())

	held := f

	defer func() {
		if held == nil {
			return
		}

		if closeErr := r.release(stepClose, held); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	before, idErr := f.Identity()
	if idErr != nil {
		return r.fatal(stepIdentityBefore, idErr)
	}

	r.it.IdentityBefore = &before
	r.pass(stepIdentityBefore, "%s", before)

	if err := writeExact(f, h.opts.FragmentA); err != nil {
		r.abort(stepWriteA, err)

		return nil
	}

	r.pass(stepWriteA, "%q", h.opts.FragmentA)

	if err := s.Rename(r.fsys, f, oldPath, newPath); err != nil {
		r.abort(stepRename, err)

		return nil
	}

	r.pass(stepRename, "%s %s -> %s", s.Mechanism(), oldPath, newPath)

	h.checkFinalPath(r, f)

	if err := writeExact(f, h.opts.FragmentB); err != nil {
		r.fail(stepWriteB, "%v", err)
	} else {
		r.pass(stepWriteB, "%q", h.opts.FragmentB)
	}

	held = nil

	if err := r.release(stepClose, f); err != nil {
		return err
	}

	g, openErr := r.fsys.OpenFile(newPath, reopenOptions)
	if openErr != nil {
		return r.fatal(stepReopen, openErr)
	}

	r.pass(stepReopen, "h = %#x", g.Handle())

	verifyErr := h.verifyReopened(r, g, before)

	if closeErr := r.release(stepCloseReopened, g); closeErr != nil && verifyErr == nil {
		verifyErr = closeErr
	}

	return verifyErr
}

// checkFinalPath asks where the handle resolves to after the rename. Some
// remote file systems keep reporting the old name although the rename
// succeeded, so that outcome is an anomaly rather than a failure.
func (h *Harness) checkFinalPath(r *iterRun, f fs.File) {
	p, err := f.FinalPath()

	switch {
	case errors.Is(err, fs.ErrUnsupported):
		r.skip(stepFinalPath, "backend can't resolve handle paths")
	case err != nil:
		r.skip(stepFinalPath, "%v", err)
	case pathHasName(p, h.opts.Rename.NewName):
		r.pass(stepFinalPath, "%s", p)
	case pathHasName(p, h.opts.Rename.OldName):
		r.anomaly(stepFinalPath, "handle still resolves to the old name: %s", p)
	default:
		r.anomaly(stepFinalPath, "handle resolves to neither name: %s", p)
	}
}

func (h *Harness) verifyReopened(r *iterRun, g fs.File, before fs.Identity) error {
	after, err := g.Identity()
	if err != nil {
		return r.fatal(stepIdentityAfter, err)
	}

	r.it.IdentityAfter = &after

	if after == before {
		r.pass(stepIdentityAfter, "%s", after)
	} else {
		r.fail(stepIdentityAfter, "identity changed: before %s, after %s", before, after)
	}

	want := h.opts.FragmentA + h.opts.FragmentB

	data, err := readAll(g, h.opts.MaxReadBytes)

	switch {
	case err != nil:
		r.fail(stepContent, "%v", err)
	case string(data) != want:
		r.fail(stepContent, "got %q, want %q", data, want)
	default:
		r.pass(stepContent, "%q", data)
	}

	return nil
}

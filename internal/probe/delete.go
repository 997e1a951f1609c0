package probe

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"
)

const (
	stepMarkDelete = "mark-delete"
	stepSeek       = "seek"
	stepReadVerify = "read-verify"
	stepVisibility = "visibility"
)

// VerifyDelete marks a file for deletion while a handle to it stays open,
// once per configured strategy, and verifies that the handle remains fully
// usable until it is closed and that the name disappears afterwards.
func (h *Harness) VerifyDelete(ctx context.Context) (ScenarioReport, error) {
	strategies := h.opts.Delete.Strategies

	labels := make([]string, len(strategies))
	for i, s := range strategies {
		labels[i] = s.Name()
	}

	if err := h.fsys.MkdirAll(h.opts.DataDir); err != nil {
		err = &FatalError{Scenario: ScenarioDelete, Label: "setup", Step: "data-dir", Err: err}

		return ScenarioReport{Name: ScenarioDelete, Iterations: []Iteration{}, Fatal: err.Error(), Skipped: labels}, err
	}

	return h.runIterations(ctx, ScenarioDelete, labels, func(ctx context.Context, i int, r *iterRun) error {
		return h.deleteOnce(ctx, r, strategies[i])
	})
}

func (h *Harness) deleteOnce(ctx context.Context, r *iterRun, s DeleteStrategy) (err error) {
	path := filepath.Join(h.opts.DataDir, h.opts.Delete.Name)

	f, openErr := r.fsys.OpenFile(path, createOptions)
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

	if err := writeExact(f, h.opts.FragmentA); err != nil {
		r.abort(stepWriteA, err)

		return nil
	}

	r.pass(stepWriteA, "%q", h.opts.FragmentA)

	if err := s.Delete(r.fsys, f, path); err != nil {
		r.abort(stepMarkDelete, err)

		return nil
	}

	r.pass(stepMarkDelete, "%s %s", s.Mechanism(), path)

	if err := writeExact(f, h.opts.FragmentB); err != nil {
		r.fail(stepWriteB, "%v", err)
	} else {
		r.pass(stepWriteB, "%q", h.opts.FragmentB)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return r.fatal(stepSeek, err)
	}

	want := h.opts.FragmentA + h.opts.FragmentB

	data, readErr := readAll(f, h.opts.MaxReadBytes)

	switch {
	case readErr != nil:
		r.fail(stepReadVerify, "%v", readErr)
	case string(data) != want:
		r.fail(stepReadVerify, "got %q, want %q", data, want)
	default:
		r.pass(stepReadVerify, "%q", data)
	}

	held = nil

	if err := r.release(stepClose, f); err != nil {
		return err
	}

	return h.checkGone(ctx, r, path)
}

// checkGone polls until path no longer names a file. A name seen after the
// last close and gone later is an anomaly recording how many checks saw
// it. Failed queries are not sightings.
func (h *Harness) checkGone(ctx context.Context, r *iterRun, path string) error {
	attempts := h.opts.Visibility.Attempts

	var (
		lastErr   error
		sightings int
		failures  int
	)

	for attempt := 1; attempt <= attempts; attempt++ {
		exists, err := r.fsys.Exists(path)

		switch {
		case err != nil:
			lastErr = err
			failures++
		case !exists && sightings > 0:
			r.anomaly(stepVisibility, "%s was still visible for %d checks after the last close", path, sightings)

			return nil
		case !exists && failures > 0:
			r.pass(stepVisibility, "%s is gone (after %d failed queries)", path, failures)

			return nil
		case !exists:
			r.pass(stepVisibility, "%s is gone", path)

			return nil
		default:
			lastErr = nil
			sightings++
		}

		if attempt == attempts {
			break
		}

		if err := sleepCtx(ctx, h.opts.Visibility.Interval); err != nil {
			if sightings > 0 {
				r.fail(stepVisibility, "cancelled while %s was still visible", path)
			} else {
				r.fail(stepVisibility, "cancelled before %s could be queried", path)
			}

			return err
		}
	}

	if lastErr != nil {
		r.fail(stepVisibility, "querying %s: %v", path, lastErr)

		return nil
	}

	r.fail(stepVisibility, "%s still visible after %d checks", path, attempts)

	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("visibility poll: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}

package probe

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/calvinalkan/handleprobe/internal/fs"
)

// ErrFixtureMissing is returned when the conflict fixture doesn't exist and
// seeding is off.
var ErrFixtureMissing = errors.New("conflict fixture does not exist")

const (
	stepOpenFirst   = "open-1"
	stepNegotiation = "negotiation"
	stepCloseSecond = "close-2"
	stepCloseFirst  = "close-1"
)

type modePair struct {
	access fs.AccessMode
	share  fs.ShareMode
}

func (p modePair) String() string {
	return p.access.Name + "/" + p.share.Name
}

// ProbeConflicts opens the fixture twice for every ordered pair of
// (access, share) combinations and compares whether the second open
// succeeded with what the backend's share model predicts.
//
// Open failures are data, not errors. The fixture content is never
// modified.
func (h *Harness) ProbeConflicts(ctx context.Context) (ScenarioReport, error) {
	opts := h.opts.Conflicts
	path := filepath.Join(h.opts.DataDir, opts.File)

	if err := h.ensureFixture(path); err != nil {
		err = &FatalError{Scenario: ScenarioConflicts, Label: "fixture", Step: "fixture", Err: err}

		return ScenarioReport{Name: ScenarioConflicts, Iterations: []Iteration{}, Fatal: err.Error()}, err
	}

	var pairs []modePair

	for _, a := range opts.Access {
		for _, s := range opts.Share {
			pairs = append(pairs, modePair{access: a, share: s})
		}
	}

	type combo struct{ first, second modePair }

	combos := make([]combo, 0, len(pairs)*len(pairs))
	labels := make([]string, 0, len(pairs)*len(pairs))

	for _, first := range pairs {
		for _, second := range pairs {
			combos = append(combos, combo{first: first, second: second})
			labels = append(labels, first.String()+" vs "+second.String())
		}
	}

	model := fs.ModelOf(h.fsys)

	return h.runIterations(ctx, ScenarioConflicts, labels, func(_ context.Context, i int, r *iterRun) error {
		return probePair(r, model, path, combos[i].first, combos[i].second)
	})
}

func (h *Harness) ensureFixture(path string) error {
	exists, err := h.fsys.Exists(path)
	if err != nil {
		return fmt.Errorf("checking fixture: %w", err)
	}

	if exists {
		return nil
	}

	if !h.opts.Conflicts.SeedFixture {
		return fmt.Errorf("%w: %s", ErrFixtureMissing, path)
	}

	if err := h.fsys.MkdirAll(filepath.Dir(path)); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	if err := h.fsys.WriteFile(path, []byte(h.opts.Conflicts.SeedContent)); err != nil {
		return fmt.Errorf("seeding fixture: %w", err)
	}

	h.log.Info("seeded conflict fixture", "path", path)

	return nil
}

// probePair runs one ordered pair. Handle 1 is opened and recorded before
// handle 2 is attempted, so the first handle's share mode gates the second
// open.
func probePair(r *iterRun, model fs.ShareModel, path string, first, second modePair) error {
	firstOpts := fs.OpenOptions{Access: first.access.Access, Share: first.share.Share, Disposition: fs.OpenExisting}
	secondOpts := fs.OpenOptions{Access: second.access.Access, Share: second.share.Share, Disposition: fs.OpenExisting}

	c := &Conflict{
		First:  OpenAttempt{Access: first.access.Name, Share: first.share.Name},
		Second: OpenAttempt{Access: second.access.Name, Share: second.share.Name},
	}
	r.it.Conflict = c

	h1, err := r.fsys.OpenFile(path, firstOpts)
	if err != nil {
		c.First.Error = err.Error()
		r.fail(stepOpenFirst, "first open refused with nothing else open: %v", err)
		r.firstOpenAttempted()

		return nil
	}

	c.First.Opened = true
	c.First.Handle = h1.Handle()
	r.pass(stepOpenFirst, "h1 = %#x", h1.Handle())
	r.firstOpenAttempted()

	expected := model.Permits(firstOpts, secondOpts)
	c.Expected = &expected

	h2, err := r.fsys.OpenFile(path, secondOpts)
	if err == nil {
		c.Second.Opened = true
		c.Second.Handle = h2.Handle()
	} else {
		c.Second.Error = err.Error()
	}

	switch {
	case expected && err == nil:
		r.pass(stepNegotiation, "opened as %s predicts", model)
	case !expected && errors.Is(err, fs.ErrSharingViolation):
		r.pass(stepNegotiation, "refused as %s predicts", model)
	case expected:
		r.fail(stepNegotiation, "%s predicts success, open failed: %v", model, err)
	case err == nil:
		r.fail(stepNegotiation, "%s predicts a sharing violation, open succeeded", model)
	default:
		r.fail(stepNegotiation, "%s predicts a sharing violation, got: %v", model, err)
	}

	var releaseErr error

	if h2 != nil {
		releaseErr = r.release(stepCloseSecond, h2)
	}

	if err := r.release(stepCloseFirst, h1); err != nil && releaseErr == nil {
		releaseErr = err
	}

	return releaseErr
}

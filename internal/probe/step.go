package probe

import (
	"fmt"
	"log/slog"

	"github.com/calvinalkan/handleprobe/internal/fs"
)

// Step names shared by the scenarios.
const (
	stepCreate          = "create"
	stepClose           = "close"
	stepWriteA          = "write-a"
	stepWriteB          = "write-b"
	stepHandlesReleased = "handles-released"
)

// iterRun records the checks of one iteration. Every iteration opens its
// handles through its own ledger so the released check only sees its own
// handles.
type iterRun struct {
	it       *Iteration
	fsys     *fs.Tracked
	log      *slog.Logger
	observer Observer
}

func (h *Harness) newIterRun(scenario, label string) *iterRun {
	return &iterRun{
		it:       &Iteration{Scenario: scenario, Label: label, Checks: []Check{}},
		fsys:     fs.NewTracked(h.fsys),
		log:      h.log.With("scenario", scenario, "label", label),
		observer: h.observer,
	}
}

// firstOpenAttempted passes the iteration so far to an [OpenObserver].
func (r *iterRun) firstOpenAttempted() {
	if o, ok := r.observer.(OpenObserver); ok {
		o.FirstOpenAttempted(*r.it)
	}
}

func (r *iterRun) record(step string, status Status, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.it.Checks = append(r.it.Checks, Check{Step: step, Status: status, Message: msg})
	r.log.Debug("step", "step", step, "status", string(status), "message", msg)
}

func (r *iterRun) pass(step, format string, args ...any) {
	r.record(step, StatusPass, format, args...)
}

func (r *iterRun) fail(step, format string, args ...any) {
	r.record(step, StatusFail, format, args...)
}

func (r *iterRun) anomaly(step, format string, args ...any) {
	r.record(step, StatusAnomaly, format, args...)
}

func (r *iterRun) skip(step, format string, args ...any) {
	r.record(step, StatusSkip, format, args...)
}

// abort records err and marks the iteration as ended early.
func (r *iterRun) abort(step string, err error) {
	r.it.Aborted = true
	r.record(step, StatusAbort, "%v", err)
}

// fatal records err and returns the error that ends the scenario.
func (r *iterRun) fatal(step string, err error) error {
	r.record(step, StatusFatal, "%v", err)

	return &FatalError{Scenario: r.it.Scenario, Label: r.it.Label, Step: step, Err: err}
}

// release closes f. A failed close is fatal.
func (r *iterRun) release(step string, f fs.File) error {
	if err := f.Close(); err != nil {
		return r.fatal(step, err)
	}

	r.log.Debug("step", "step", step, "status", string(StatusPass))

	return nil
}

// writeExact writes data and fails unless every byte was accepted.
func writeExact(f fs.File, data string) error {
	n, err := f.Write([]byte(data))
	if err != nil {
		return err
	}

	if n != len(data) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(data))
	}

	return nil
}

// checkLedger adds the handles-released check.
func (r *iterRun) checkLedger() {
	l := r.fsys.Ledger()

	if l.Balanced() {
		r.pass(stepHandlesReleased, "%d opened, %d closed", l.Opens, l.Closes)

		return
	}

	r.fail(stepHandlesReleased, "%s", l)
}

// Package probe verifies how file handles behave under competing share
// modes and when the file they refer to is renamed or deleted.
//
// A [Harness] runs up to three scenarios in order: the conflict matrix,
// rename-under-handle and delete-under-handle. Every step produces a typed
// [Check]; nothing terminates the process. Failures that make the rest of a
// scenario meaningless end that scenario with a [FatalError] and the run
// continues with the next one.
package probe

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/calvinalkan/handleprobe/internal/fs"
)

// Scenario names.
const (
	ScenarioConflicts = "conflicts"
	ScenarioRename    = "rename"
	ScenarioDelete    = "delete"
)

// Observer receives progress while a run is in flight. It is the surface
// the console trace is printed from.
type Observer interface {
	ScenarioStarted(name string)
	IterationFinished(it Iteration)
	ScenarioFinished(sr ScenarioReport)
}

// OpenObserver is optionally implemented by an [Observer] that wants each
// conflict pair's first open as soon as it returns, before the second open
// is attempted.
type OpenObserver interface {
	FirstOpenAttempted(it Iteration)
}

// ConflictOptions configures the conflict matrix.
type ConflictOptions struct {
	Enabled bool
	// File is the fixture name inside the data directory.
	File string
	// SeedFixture writes SeedContent to File when it is missing.
	SeedFixture bool
	SeedContent string
	Access      []fs.AccessMode
	Share       []fs.ShareMode
}

// RenameOptions configures rename-under-handle.
type RenameOptions struct {
	Enabled    bool
	OldName    string
	NewName    string
	Strategies []RenameStrategy
}

// DeleteOptions configures delete-under-handle.
type DeleteOptions struct {
	Enabled    bool
	Name       string
	Strategies []DeleteStrategy
}

// VisibilityOptions bounds the poll for a deleted name to disappear.
type VisibilityOptions struct {
	Attempts int
	Interval time.Duration
}

// Options configures a [Harness].
type Options struct {
	DataDir string
	// Backend labels the report.
	Backend string

	Conflicts ConflictOptions
	Rename    RenameOptions
	Delete    DeleteOptions

	FragmentA string
	FragmentB string

	Visibility   VisibilityOptions
	MaxReadBytes int64

	// AbortOnFatal stops the whole run at the first fatal scenario.
	AbortOnFatal bool
}

// DefaultOptions returns options with every scenario disabled.
func DefaultOptions() Options {
	return Options{
		DataDir: "test_data",
		Backend: "os",
		Conflicts: ConflictOptions{
			File:        "text_file.txt",
			SeedContent: "handleprobe conflict fixture\n",
			Access:      fs.DefaultAccessModes(),
			Share:       fs.ShareModes(),
		},
		Rename: RenameOptions{
			OldName:    "file_A.txt",
			NewName:    "file_B.txt",
			Strategies: RenameStrategies(),
		},
		Delete: DeleteOptions{
			Name:       "file_A.txt",
			Strategies: DeleteStrategies(),
		},
		FragmentA:    "asdf",
		FragmentB:    "jkl",
		Visibility:   VisibilityOptions{Attempts: 10, Interval: 10 * time.Millisecond},
		MaxReadBytes: DefaultMaxReadBytes,
	}
}

// Option customizes a [Harness].
type Option func(*Harness)

// WithObserver registers o for progress callbacks.
func WithObserver(o Observer) Option {
	return func(h *Harness) { h.observer = o }
}

// WithLogger sets the diagnostics logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) { h.log = l }
}

// WithClock replaces time.Now for report timestamps.
func WithClock(now func() time.Time) Option {
	return func(h *Harness) { h.now = now }
}

// Harness runs the scenarios against one filesystem.
type Harness struct {
	fsys     fs.FS
	opts     Options
	observer Observer
	log      *slog.Logger
	now      func() time.Time
}

// New returns a harness for fsys.
func New(fsys fs.FS, opts Options, options ...Option) *Harness {
	h := &Harness{
		fsys: fsys,
		opts: opts,
		log:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:  time.Now,
	}

	for _, o := range options {
		o(h)
	}

	if h.opts.MaxReadBytes <= 0 {
		h.opts.MaxReadBytes = DefaultMaxReadBytes
	}

	if h.opts.Visibility.Attempts <= 0 {
		h.opts.Visibility.Attempts = 1
	}

	return h
}

// Run executes the enabled scenarios in order: conflicts, rename, delete.
//
// The returned report is never nil. The error is non-nil only when ctx was
// cancelled, or when AbortOnFatal is set and a scenario hit a fatal step;
// in both cases the report holds everything gathered until then.
func (h *Harness) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		RunID:      uuid.NewString(),
		Backend:    h.opts.Backend,
		ShareModel: fs.ModelOf(h.fsys).String(),
		StartedAt:  h.now(),
	}

	finish := func(err error) (*Report, error) {
		report.FinishedAt = h.now()
		report.summarize()

		return report, err
	}

	type scenario struct {
		name    string
		enabled bool
		run     func(context.Context) (ScenarioReport, error)
	}

	scenarios := []scenario{
		{ScenarioConflicts, h.opts.Conflicts.Enabled, h.ProbeConflicts},
		{ScenarioRename, h.opts.Rename.Enabled, h.VerifyRename},
		{ScenarioDelete, h.opts.Delete.Enabled, h.VerifyDelete},
	}

	h.log.Info("run starting", "run_id", report.RunID, "backend", report.Backend, "share_model", report.ShareModel)

	for _, sc := range scenarios {
		if !sc.enabled {
			continue
		}

		if h.observer != nil {
			h.observer.ScenarioStarted(sc.name)
		}

		sr, err := sc.run(ctx)
		report.Scenarios = append(report.Scenarios, sr)

		if h.observer != nil {
			h.observer.ScenarioFinished(sr)
		}

		if err == nil {
			continue
		}

		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			h.log.Info("run cancelled", "scenario", sc.name)

			return finish(err)
		}

		h.log.Warn("scenario ended fatally", "scenario", sc.name, "error", err)

		if h.opts.AbortOnFatal {
			return finish(err)
		}
	}

	return finish(nil)
}

// runIterations drives the iterations of one scenario. next runs the i-th
// iteration; labels names all of them so the ones skipped after a fatal
// error can be reported.
func (h *Harness) runIterations(
	ctx context.Context,
	name string,
	labels []string,
	next func(ctx context.Context, i int, r *iterRun) error,
) (ScenarioReport, error) {
	sr := ScenarioReport{Name: name, Iterations: []Iteration{}}

	for i, label := range labels {
		if err := ctx.Err(); err != nil {
			return sr, err
		}

		r := h.newIterRun(name, label)
		err := next(ctx, i, r)
		r.checkLedger()

		sr.Iterations = append(sr.Iterations, *r.it)

		if h.observer != nil {
			h.observer.IterationFinished(*r.it)
		}

		if err == nil {
			continue
		}

		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return sr, err
		}

		sr.Fatal = err.Error()
		sr.Skipped = append(sr.Skipped, labels[i+1:]...)

		return sr, err
	}

	return sr, nil
}

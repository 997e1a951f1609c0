package probe

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/handleprobe/internal/fs"
)

// claimedModel reports a share model the wrapped backend doesn't enforce.
type claimedModel struct {
	*fs.Sim

	model fs.ShareModel
}

func (c claimedModel) ShareModel() fs.ShareModel { return c.model }

// openOrder records when each conflict pair's first open is reported
// relative to the end of its iteration.
type openOrder struct {
	recorder

	order  []string
	firsts []Conflict
}

func (o *openOrder) FirstOpenAttempted(it Iteration) {
	o.order = append(o.order, "first "+it.Label)
	o.firsts = append(o.firsts, *it.Conflict)
}

func (o *openOrder) IterationFinished(it Iteration) {
	o.order = append(o.order, "finished "+it.Label)
}

func conflictsOnly(modify func(*ConflictOptions)) func(*Options) {
	return func(o *Options) {
		o.Conflicts.Enabled = true
		o.Conflicts.SeedFixture = true

		if modify != nil {
			modify(&o.Conflicts)
		}
	}
}

func mustAccess(t *testing.T, names ...string) []fs.AccessMode {
	t.Helper()

	out := make([]fs.AccessMode, 0, len(names))

	for _, n := range names {
		m, err := fs.ParseAccess(n)
		require.NoError(t, err)

		out = append(out, m)
	}

	return out
}

func mustShare(t *testing.T, names ...string) []fs.ShareMode {
	t.Helper()

	out := make([]fs.ShareMode, 0, len(names))

	for _, n := range names {
		m, err := fs.ParseShare(n)
		require.NoError(t, err)

		out = append(out, m)
	}

	return out
}

func TestProbeConflicts_MatchesNTTable(t *testing.T) {
	t.Parallel()

	sim := fs.NewSim(fs.SimOptions{})

	report, err := New(sim, testOptions(conflictsOnly(nil))).Run(context.Background())
	require.NoError(t, err)

	sr, ok := report.Scenario(ScenarioConflicts)
	require.True(t, ok)
	require.Len(t, sr.Iterations, 24*24)

	refused := 0

	for _, it := range sr.Iterations {
		require.Equal(t, StatusPass, it.Status(), "%s: %+v", it.Label, it.Checks)
		require.NotNil(t, it.Conflict)
		require.NotNil(t, it.Conflict.Expected)
		require.Equal(t, *it.Conflict.Expected, it.Conflict.Second.Opened, it.Label)

		if !it.Conflict.Second.Opened {
			refused++

			require.Zero(t, it.Conflict.Second.Handle)
			require.Contains(t, it.Conflict.Second.Error, fs.ErrSharingViolation.Error())
		}
	}

	require.Positive(t, refused)
	require.Zero(t, sim.OpenHandles("test_data/text_file.txt"))
}

func TestProbeConflicts_RecordsBothAttempts(t *testing.T) {
	t.Parallel()

	report := runSim(t, fs.SimOptions{}, conflictsOnly(func(c *ConflictOptions) {
		c.Access = mustAccess(t, "read")
		c.Share = mustShare(t, "none", "read")
	}))

	sr, _ := report.Scenario(ScenarioConflicts)

	labels := make([]string, 0, len(sr.Iterations))
	for _, it := range sr.Iterations {
		labels = append(labels, it.Label)
	}

	require.Equal(t, []string{
		"read/none vs read/none",
		"read/none vs read/read",
		"read/read vs read/none",
		"read/read vs read/read",
	}, labels)

	it := sr.Iterations[1]
	require.True(t, it.Conflict.First.Opened)
	require.NotZero(t, it.Conflict.First.Handle)
	require.False(t, it.Conflict.Second.Opened)
	require.False(t, *it.Conflict.Expected)

	it = sr.Iterations[3]
	require.True(t, it.Conflict.Second.Opened)
	require.NotEqual(t, it.Conflict.First.Handle, it.Conflict.Second.Handle)
}

func TestConflicts_FirstOpenReportedBeforeSecondAttempt(t *testing.T) {
	t.Parallel()

	obs := &openOrder{}
	opts := testOptions(conflictsOnly(func(c *ConflictOptions) {
		c.Access = mustAccess(t, "read")
		c.Share = mustShare(t, "none")
	}))

	_, err := New(fs.NewSim(fs.SimOptions{}), opts, WithObserver(obs)).Run(context.Background())
	require.NoError(t, err)

	label := "read/none vs read/none"
	require.Equal(t, []string{"first " + label, "finished " + label}, obs.order)

	require.Len(t, obs.firsts, 1)

	first := obs.firsts[0]
	require.True(t, first.First.Opened)
	require.NotZero(t, first.First.Handle)
	require.Nil(t, first.Expected)
	require.False(t, first.Second.Opened)
	require.Empty(t, first.Second.Error)
}

func TestConflicts_RefusedFirstOpenIsReportedOnce(t *testing.T) {
	t.Parallel()

	sim := fs.NewSim(fs.SimOptions{})
	require.NoError(t, sim.MkdirAll("test_data"))
	require.NoError(t, sim.WriteFile("test_data/text_file.txt", []byte("x")))

	// Nothing may share with this handle, so every first open is refused.
	held, err := sim.OpenFile("test_data/text_file.txt", fs.OpenOptions{Access: fs.AccessRead, Share: fs.ShareNone})
	require.NoError(t, err)

	defer held.Close()

	obs := &openOrder{}
	opts := testOptions(conflictsOnly(func(c *ConflictOptions) {
		c.Access = mustAccess(t, "read")
		c.Share = mustShare(t, "read")
	}))

	_, err = New(sim, opts, WithObserver(obs)).Run(context.Background())
	require.NoError(t, err)

	label := "read/read vs read/read"
	require.Equal(t, []string{"first " + label, "finished " + label}, obs.order)
	require.False(t, obs.firsts[0].First.Opened)
	require.NotEmpty(t, obs.firsts[0].First.Error)
}

func TestProbeConflicts_WrongModelFailsNegotiation(t *testing.T) {
	t.Parallel()

	fsys := claimedModel{Sim: fs.NewSim(fs.SimOptions{}), model: fs.ShareModelNone}
	opts := testOptions(conflictsOnly(func(c *ConflictOptions) {
		c.Access = mustAccess(t, "read")
		c.Share = mustShare(t, "none")
	}))

	report, err := New(fsys, opts).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, "none", report.ShareModel)

	sr, _ := report.Scenario(ScenarioConflicts)
	require.Len(t, sr.Iterations, 1)

	c := requireStatus(t, sr.Iterations[0], stepNegotiation, StatusFail)
	require.Contains(t, c.Message, "predicts success")
	require.True(t, report.HasFailures())
}

func TestProbeConflicts_LeavesFixtureUntouched(t *testing.T) {
	t.Parallel()

	sim := fs.NewSim(fs.SimOptions{})
	require.NoError(t, sim.MkdirAll("test_data"))
	require.NoError(t, sim.WriteFile("test_data/text_file.txt", []byte("keep me")))

	opts := testOptions(conflictsOnly(func(c *ConflictOptions) { c.SeedFixture = false }))

	_, err := New(sim, opts).Run(context.Background())
	require.NoError(t, err)

	f, err := sim.OpenFile("test_data/text_file.txt", fs.OpenOptions{Access: fs.AccessRead, Share: fs.ShareAll})
	require.NoError(t, err)

	defer f.Close()

	data, err := io.ReadAll(f)
	require.NoError(t, err)
	require.Equal(t, "keep me", string(data))
}

func TestProbeConflicts_SeedsMissingFixture(t *testing.T) {
	t.Parallel()

	sim := fs.NewSim(fs.SimOptions{})
	opts := testOptions(conflictsOnly(func(c *ConflictOptions) {
		c.Access = mustAccess(t, "read")
		c.Share = mustShare(t, "read")
	}))
	opts.DataDir = "nested/data"

	_, err := New(sim, opts).Run(context.Background())
	require.NoError(t, err)

	exists, err := sim.Exists("nested/data/text_file.txt")
	require.NoError(t, err)
	require.True(t, exists)
}

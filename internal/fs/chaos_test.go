package fs

import (
	"errors"
	"io"
	"os"
	"syscall"
	"testing"
)

// =============================================================================
// Chaos FS Tests
//
// Chaos wraps a Sim here so the tests don't depend on the host filesystem.
// =============================================================================

func allFailing() ChaosConfig {
	return ChaosConfig{
		OpenFailRate:       1,
		ReadFailRate:       1,
		WriteFailRate:      1,
		RenameFailRate:     1,
		RemoveFailRate:     1,
		MarkDeleteFailRate: 1,
		ExistsFailRate:     1,
		IdentityFailRate:   1,
		FinalPathFailRate:  1,
	}
}

func newChaosSim(t *testing.T, cfg ChaosConfig) (*Chaos, *Sim) {
	t.Helper()

	sim := NewSim(SimOptions{})
	if err := sim.MkdirAll("data"); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	if err := sim.WriteFile("data/a.txt", []byte("hello")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	return NewChaos(sim, 12345, cfg), sim
}

func TestChaos_PassesThroughByDefault(t *testing.T) {
	t.Parallel()

	c, _ := newChaosSim(t, allFailing())

	f, err := c.OpenFile("data/a.txt", OpenOptions{Access: AccessRead, Share: ShareAll})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if got, want := string(data), "hello"; got != want {
		t.Fatalf("content=%q, want=%q", got, want)
	}

	if got, want := c.TotalFaults(), int64(0); got != want {
		t.Fatalf("TotalFaults=%d, want=%d", got, want)
	}
}

func TestChaos_InjectsOnEveryOperation(t *testing.T) {
	t.Parallel()

	c, sim := newChaosSim(t, ChaosConfig{})

	f, err := c.OpenFile("data/a.txt", OpenOptions{Access: AccessRead | AccessWrite | AccessDelete, Share: ShareAll})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	c.config = allFailing()
	c.SetMode(ChaosModeInject)

	checks := []struct {
		name string
		err  error
	}{
		{"read", func() error { _, err := f.Read(make([]byte, 4)); return err }()},
		{"write", func() error { _, err := f.Write([]byte("x")); return err }()},
		{"identity", func() error { _, err := f.Identity(); return err }()},
		{"final path", func() error { _, err := f.FinalPath(); return err }()},
		{"rename", f.RenameTo("data/b.txt", true)},
		{"mark delete", f.MarkDelete()},
		{"exists", func() error { _, err := c.Exists("data/a.txt"); return err }()},
		{"remove", c.Remove("data/a.txt")},
		{"open", func() error { _, err := c.OpenFile("data/a.txt", OpenOptions{Access: AccessRead, Share: ShareAll}); return err }()},
	}

	for _, check := range checks {
		if check.err == nil {
			t.Fatalf("%s: expected injected error", check.name)
		}

		if !IsInjected(check.err) {
			t.Fatalf("%s: IsInjected(%v)=false", check.name, check.err)
		}
	}

	// Close is never faulted.
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got, want := sim.OpenHandles("data/a.txt"), 0; got != want {
		t.Fatalf("open handles=%d, want=%d", got, want)
	}
}

func TestChaos_StickyIOErrorPersists(t *testing.T) {
	t.Parallel()

	c, _ := newChaosSim(t, ChaosConfig{})
	c.setState("data/a.txt", PathIOError)
	c.SetMode(ChaosModeStickyOnly)

	for range 3 {
		_, err := c.OpenFile("data/a.txt", OpenOptions{Access: AccessRead, Share: ShareAll})
		if !errors.Is(err, syscall.EIO) {
			t.Fatalf("err=%v, want EIO", err)
		}
	}

	if got, want := c.Stats().OpenFails, int64(3); got != want {
		t.Fatalf("OpenFails=%d, want=%d", got, want)
	}

	c.SetMode(ChaosModePassthrough)

	f, err := c.OpenFile("data/a.txt", OpenOptions{Access: AccessRead, Share: ShareAll})
	if err != nil {
		t.Fatalf("passthrough open: %v", err)
	}

	_ = f.Close()

	c.ResetAllPathStates()

	if got, want := c.PathState("data/a.txt"), PathNormal; got != want {
		t.Fatalf("state=%v, want=%v", got, want)
	}
}

func TestChaos_NeverInjectsNotExistForExistingFile(t *testing.T) {
	t.Parallel()

	c, _ := newChaosSim(t, ChaosConfig{OpenFailRate: 1})
	c.SetMode(ChaosModeInject)

	for range 50 {
		_, err := c.OpenFile("data/a.txt", OpenOptions{Access: AccessRead, Share: ShareAll})
		if err == nil {
			t.Fatal("expected injected error")
		}

		if errors.Is(err, os.ErrNotExist) {
			t.Fatalf("injected ENOENT for an existing file: %v", err)
		}

		c.ResetAllPathStates()
	}
}

func TestChaos_PartialWriteLeavesPrefix(t *testing.T) {
	t.Parallel()

	c, _ := newChaosSim(t, ChaosConfig{PartialWriteRate: 1})

	f, err := c.OpenFile("data/p.txt", OpenOptions{Access: AccessRead | AccessWrite, Share: ShareAll, Disposition: CreateAlways})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	defer f.Close()

	c.SetMode(ChaosModeInject)

	n, err := f.Write([]byte("abcdef"))
	if err == nil {
		t.Fatal("expected partial write error")
	}

	if got, want := n, 3; got != want {
		t.Fatalf("n=%d, want=%d", got, want)
	}

	if got, want := c.Stats().PartialWrites, int64(1); got != want {
		t.Fatalf("PartialWrites=%d, want=%d", got, want)
	}
}

func TestChaos_ForwardsShareModel(t *testing.T) {
	t.Parallel()

	c, _ := newChaosSim(t, ChaosConfig{})

	if got, want := ModelOf(c), ShareModelNT; got != want {
		t.Fatalf("ModelOf=%v, want=%v", got, want)
	}
}

func TestIsInjected_RejectsRealErrors(t *testing.T) {
	t.Parallel()

	if IsInjected(nil) {
		t.Fatal("IsInjected(nil)=true")
	}

	realErr := &os.PathError{Op: "open", Path: "x", Err: syscall.EIO}
	if IsInjected(realErr) {
		t.Fatal("IsInjected(real)=true")
	}
}

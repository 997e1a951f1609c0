package fs

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTracked_Ledger(t *testing.T) {
	t.Parallel()

	sim := NewSim(SimOptions{})
	if err := sim.MkdirAll("data"); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	tr := NewTracked(sim)
	opts := OpenOptions{Access: AccessRead | AccessWrite, Share: ShareAll, Disposition: CreateAlways}

	a, err := tr.OpenFile("data/a.txt", opts)
	if err != nil {
		t.Fatalf("open a: %v", err)
	}

	b, err := tr.OpenFile("data/b.txt", opts)
	if err != nil {
		t.Fatalf("open b: %v", err)
	}

	// A failed open isn't counted.
	if _, err := tr.OpenFile("data/missing.txt", OpenOptions{Access: AccessRead}); err == nil {
		t.Fatal("expected open of missing file to fail")
	}

	got := tr.Ledger()
	want := Ledger{Opens: 2, Outstanding: []string{"data/a.txt", "data/b.txt"}}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ledger mismatch (-want +got):\n%s", diff)
	}

	if got.Balanced() {
		t.Fatal("ledger with open handles reported balanced")
	}

	_ = a.Close()
	_ = b.Close()

	if got := tr.Ledger(); !got.Balanced() {
		t.Fatalf("ledger not balanced after closing: %s", got)
	}

	_ = a.Close()

	got = tr.Ledger()
	if got.Balanced() || got.Redundant != 1 {
		t.Fatalf("redundant close not recorded: %s", got)
	}

	if !strings.Contains(got.String(), "redundant=1") {
		t.Fatalf("String()=%q", got.String())
	}
}

func TestTraced_RecordsBoundedHistory(t *testing.T) {
	t.Parallel()

	sim := NewSim(SimOptions{})
	tr := NewTraced(sim, 3)

	if err := tr.MkdirAll("data"); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	f, err := tr.OpenFile("data/a.txt", OpenOptions{Access: AccessRead | AccessWrite | AccessDelete, Share: ShareAll, Disposition: CreateAlways})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if _, err := f.Write([]byte("asdf")); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := f.RenameTo("data/b.txt", true); err != nil {
		t.Fatalf("rename: %v", err)
	}

	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got, want := tr.Len(), 3; got != want {
		t.Fatalf("Len=%d, want=%d", got, want)
	}

	lines := strings.Split(tr.Trace(), "\n")

	if got, want := len(lines), 3; got != want {
		t.Fatalf("lines=%d, want=%d\n%s", got, want, tr.Trace())
	}

	if !strings.HasPrefix(lines[0], "#3 file.write") {
		t.Fatalf("oldest kept=%q, want #3 file.write", lines[0])
	}

	if !strings.Contains(lines[2], `file.close path="data/b.txt" ok`) {
		t.Fatalf("last=%q, want close under the new name", lines[2])
	}
}

func TestTraced_ZeroCapacityDisables(t *testing.T) {
	t.Parallel()

	tr := NewTraced(NewSim(SimOptions{}), 0)

	if _, err := tr.Exists("x"); err != nil {
		t.Fatalf("exists: %v", err)
	}

	if got := tr.Trace(); got != "" {
		t.Fatalf("Trace=%q, want empty", got)
	}
}

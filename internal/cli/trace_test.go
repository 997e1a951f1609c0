package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/calvinalkan/handleprobe/internal/fs"
	"github.com/calvinalkan/handleprobe/internal/probe"
)

func TestTracePrinter_Conflict(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	p := newTracePrinter(&buf)
	p.IterationFinished(probe.Iteration{
		Scenario: probe.ScenarioConflicts,
		Label:    "read/none vs read/none",
		Conflict: &probe.Conflict{
			First:  probe.OpenAttempt{Access: "read", Share: "none", Opened: true, Handle: 0x100},
			Second: probe.OpenAttempt{Access: "read", Share: "none", Error: "sharing violation"},
		},
		Checks: []probe.Check{{Step: "negotiation", Status: probe.StatusPass}},
	})

	want := strings.Join([]string{
		"h1: access=read; share=none;",
		"h1 = 0x100",
		"h2: access=read; share=none;",
		"h2 = INVALID_HANDLE_VALUE",
		"  [PASS] negotiation",
		strings.Repeat("-", 32),
		"",
	}, "\n")

	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}
}

func TestTracePrinter_PrintsFirstHandleBeforeSecondOpen(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	conflict := &probe.Conflict{
		First:  probe.OpenAttempt{Access: "read", Share: "none", Opened: true, Handle: 0x100},
		Second: probe.OpenAttempt{Access: "read", Share: "none"},
	}

	p := newTracePrinter(&buf)
	p.FirstOpenAttempted(probe.Iteration{Scenario: probe.ScenarioConflicts, Conflict: conflict})

	if diff := cmp.Diff("h1: access=read; share=none;\nh1 = 0x100\n", buf.String()); diff != "" {
		t.Fatalf("h1 not printed up front (-want +got):\n%s", diff)
	}

	conflict.Second.Error = "sharing violation"

	p.IterationFinished(probe.Iteration{
		Scenario: probe.ScenarioConflicts,
		Conflict: conflict,
		Checks:   []probe.Check{{Step: "negotiation", Status: probe.StatusPass}},
	})

	want := strings.Join([]string{
		"h1: access=read; share=none;",
		"h1 = 0x100",
		"h2: access=read; share=none;",
		"h2 = INVALID_HANDLE_VALUE",
		"  [PASS] negotiation",
		strings.Repeat("-", 32),
		"",
	}, "\n")

	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}

	// The next pair starts over with its own h1.
	buf.Reset()
	p.IterationFinished(probe.Iteration{Conflict: conflict})

	if got := strings.Count(buf.String(), "h1 = 0x100"); got != 1 {
		t.Errorf("h1 printed %d times for the next pair:\n%s", got, buf.String())
	}
}

func TestTracePrinter_SkipsSecondAttemptWhenFirstFailed(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	p := newTracePrinter(&buf)
	p.IterationFinished(probe.Iteration{
		Conflict: &probe.Conflict{
			First: probe.OpenAttempt{Access: "write", Share: "read", Error: "access denied"},
		},
		Checks: []probe.Check{{Step: "open-first", Status: probe.StatusFail, Message: "access denied"}},
	})

	got := buf.String()

	if !strings.Contains(got, "h1 = INVALID_HANDLE_VALUE\n  [FAIL] open-first: access denied\n") {
		t.Errorf("unexpected trace:\n%s", got)
	}

	if strings.Contains(got, "h2") {
		t.Errorf("h2 printed although h1 failed:\n%s", got)
	}
}

func TestTracePrinter_Strategy(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	before := fs.IdentityFromIndex(0xab, 0x1_0000_0002)
	after := before

	p := newTracePrinter(&buf)
	p.ScenarioStarted(probe.ScenarioRename)
	p.IterationFinished(probe.Iteration{
		Scenario:       probe.ScenarioRename,
		Label:          "by-handle",
		IdentityBefore: &before,
		IdentityAfter:  &after,
		Checks: []probe.Check{
			{Step: "content", Status: probe.StatusPass, Message: `"asdfjkl"`},
			{Step: "final-path", Status: probe.StatusAnomaly, Message: "still reports the old name"},
		},
	})

	want := strings.Join([]string{
		strings.Repeat("-", 64),
		"rename",
		strings.Repeat("-", 64),
		"- by-handle:",
		"  identity before: volume = ab id_high = 1 id_low = 2",
		"  identity after:  volume = ab id_high = 1 id_low = 2",
		`  [PASS] content: "asdfjkl"`,
		"  [ANOMALY] final-path: still reports the old name",
		strings.Repeat("-", 32),
		"",
	}, "\n")

	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}
}

func TestTracePrinter_FatalScenario(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	p := newTracePrinter(&buf)
	p.ScenarioFinished(probe.ScenarioReport{Name: probe.ScenarioDelete})
	p.ScenarioFinished(probe.ScenarioReport{
		Name:    probe.ScenarioDelete,
		Fatal:   "delete pending",
		Skipped: []string{"by-handle"},
	})

	want := "  [FATAL] delete: delete pending\n  skipped: by-handle\n"

	if got := buf.String(); got != want {
		t.Errorf("got=%q, want=%q", got, want)
	}
}

func TestReportFormat(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		path, explicit, want string
	}{
		{path: "r.json", want: formatJSON},
		{path: "r.YAML", want: formatYAML},
		{path: "r.yml", want: formatYAML},
		{path: "r", want: formatJSON},
		{path: "r.json", explicit: "yaml", want: formatYAML},
		{path: "r.yaml", explicit: "JSON", want: formatJSON},
	} {
		got, err := reportFormat(tt.path, tt.explicit)
		if err != nil {
			t.Fatalf("reportFormat(%q, %q): %v", tt.path, tt.explicit, err)
		}

		if got != tt.want {
			t.Errorf("reportFormat(%q, %q)=%q, want=%q", tt.path, tt.explicit, got, tt.want)
		}
	}
}

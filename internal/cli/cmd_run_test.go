package cli_test

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/calvinalkan/handleprobe/internal/cli"
	"github.com/calvinalkan/handleprobe/internal/probe"
)

const smallMatrixConfig = `{
	// two share modes keep the matrix at 4 pairs
	"backend": "sim",
	"conflicts": {
		"seed_fixture": true,
		"access_modes": ["read"],
		"share_modes": ["none", "read"],
	},
}`

func Test_Run_Without_Scenarios_Prints_Notice(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout := c.MustRun("run", "--backend", "sim")

	cli.AssertContains(t, stdout, "no scenarios enabled")
	cli.AssertNotContains(t, stdout, "iterations:")
}

func Test_Run_Rename_On_Sim_Prints_Trace(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout, stderr, code := c.Run("run", "--backend", "sim", "--rename")

	if got, want := code, 0; got != want {
		t.Fatalf("exitCode=%d, want=%d\nstderr: %s", got, want, stderr)
	}

	cli.AssertContains(t, stdout, strings.Repeat("-", 64)+"\nrename\n"+strings.Repeat("-", 64))
	cli.AssertContains(t, stdout, "- by-path:")
	cli.AssertContains(t, stdout, "- by-handle:")
	cli.AssertContains(t, stdout, "  identity before: volume = ")
	cli.AssertContains(t, stdout, "  [PASS] content: ")
	cli.AssertContains(t, stdout, "on sim (nt share model)")
	cli.AssertContains(t, stdout, "2 iterations: 2 passed, 0 anomalies, 0 aborted, 0 failed, 0 skipped, 0 fatal scenarios")
	cli.AssertNotContains(t, stdout, "[FAIL]")

	// Plain output when stdout is not a terminal.
	cli.AssertNotContains(t, stdout, "\x1b[")
}

func Test_Run_Conflicts_Prints_Invalid_Handle_For_Refused_Open(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.WriteConfig(smallMatrixConfig)

	stdout := c.MustRun("run", "--conflicts")

	cli.AssertContains(t, stdout, "h1: access=read; share=none;\nh1 = 0x")
	cli.AssertContains(t, stdout, "h2 = INVALID_HANDLE_VALUE")
	cli.AssertContains(t, stdout, "4 iterations: 4 passed")
}

func Test_Run_Conflicts_Missing_Fixture_Is_Fatal(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout := c.MustRun("run", "--backend", "sim", "--conflicts")

	cli.AssertContains(t, stdout, "[FATAL] conflicts:")
	cli.AssertContains(t, stdout, "1 fatal scenarios")
}

func Test_Run_Strict_Exits_Non_Zero_On_Failures(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.WriteConfig(`{
		"backend": "sim",
		"sim": {"removal_lag": 1000},
		"visibility": {"attempts": 2, "interval": "1ms"},
	}`)

	// Failures alone keep the exit code at 0.
	stdout := c.MustRun("run", "--delete")
	cli.AssertContains(t, stdout, "[FAIL] visibility: ")

	stdout, stderr, code := c.Run("run", "--delete", "--strict")

	if got, want := code, 1; got != want {
		t.Errorf("exitCode=%d, want=%d", got, want)
	}

	cli.AssertContains(t, stdout, "[FAIL] visibility: ")
	cli.AssertContains(t, stderr, "iterations failed")
	cli.AssertContains(t, stderr, "1 scenarios fatal")
	cli.AssertContains(t, stderr, "see the trace above")
}

func Test_Run_Writes_Json_Report(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.MustRun("run", "--backend", "sim", "--rename", "--rename-strategy", "by-handle", "--report", "out.json")

	var report probe.Report

	require.NoError(t, json.Unmarshal([]byte(c.ReadFile("out.json")), &report))

	require.Equal(t, "sim", report.Backend)
	require.Equal(t, "nt", report.ShareModel)
	require.NotEmpty(t, report.RunID)
	require.Len(t, report.Scenarios, 1)
	require.Equal(t, probe.ScenarioRename, report.Scenarios[0].Name)
	require.Len(t, report.Scenarios[0].Iterations, 1)
	require.Equal(t, "by-handle", report.Scenarios[0].Iterations[0].Label)
	require.Equal(t, 1, report.Summary.Passed)
}

func Test_Run_Writes_Yaml_Report(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		name string
		args []string
		file string
	}{
		{name: "by extension", args: []string{"--report", "out.yaml"}, file: "out.yaml"},
		{name: "explicit format", args: []string{"--report", "out.txt", "--format", "yml"}, file: "out.txt"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := cli.NewCLI(t)
			c.MustRun(append([]string{"run", "--backend", "sim", "--delete"}, tt.args...)...)

			content := c.ReadFile(tt.file)
			cli.AssertContains(t, content, "run_id: ")
			cli.AssertContains(t, content, "share_model: nt")

			var doc map[string]any

			require.NoError(t, yaml.Unmarshal([]byte(content), &doc))
			require.Contains(t, doc, "summary")
		})
	}
}

func Test_Run_Resolves_Relative_Report_Path_Against_Cwd(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	if err := os.Mkdir(filepath.Join(c.Dir, "reports"), 0o750); err != nil {
		t.Fatal(err)
	}

	name := filepath.Join("reports", "relative-report.json")
	c.MustRun("run", "--backend", "sim", "--rename", "--report", name)

	cli.AssertContains(t, c.ReadFile(name), `"run_id"`)

	// Nothing lands in the working directory of the test process.
	if _, err := os.Stat(name); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("report written relative to the process directory: stat err=%v", err)
	}
}

func Test_Run_Keeps_Absolute_Report_Path(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	path := filepath.Join(t.TempDir(), "abs.yaml")

	c.MustRun("run", "--backend", "sim", "--delete", "--report", path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	cli.AssertContains(t, string(data), "share_model: nt")
}

func Test_Run_Rejects_Unknown_Report_Format(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stderr := c.MustFail("run", "--backend", "sim", "--rename", "--report", "out.xml", "--format", "xml")

	cli.AssertContains(t, stderr, "unknown report format")
}

func Test_Run_Rejects_Invalid_Overrides(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		name string
		args []string
		want string
	}{
		{name: "empty data dir", args: []string{"--data-dir="}, want: "data-dir cannot be empty"},
		{name: "excluded strategy", args: []string{"--rename", "--rename-strategy", "by-replace"}, want: "ReplaceFile"},
		{name: "unknown backend", args: []string{"--backend", "nfs"}, want: "backend"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := cli.NewCLI(t)
			stderr := c.MustFail(append([]string{"run"}, tt.args...)...)

			cli.AssertContains(t, stderr, "error:")
			cli.AssertContains(t, stderr, tt.want)
		})
	}
}

func Test_Run_Scenarios_From_Env(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.Env["HANDLEPROBE_SCENARIOS"] = "delete"
	c.Env["HANDLEPROBE_BACKEND"] = "sim"

	stdout := c.MustRun("run")

	cli.AssertContains(t, stdout, "\ndelete\n")
	cli.AssertNotContains(t, stdout, "\nrename\n")
}

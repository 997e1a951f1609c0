package cli_test

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/calvinalkan/handleprobe/internal/cli"
)

func Test_Strategies_Lists_Registries(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout, stderr, code := c.Run("strategies")

	if got, want := code, 0; got != want {
		t.Fatalf("exitCode=%d, want=%d\nstderr: %s", got, want, stderr)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "strategies", []byte(stdout))
}

func Test_Strategies_Ignores_Invalid_Config(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.WriteConfig(`{"backend": "nfs"}`)

	stdout := c.MustRun("strategies")

	cli.AssertContains(t, stdout, "# rename")
}

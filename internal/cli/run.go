package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/handleprobe/internal/config"
)

// globalOptions are the flags accepted before the command name.
type globalOptions struct {
	workDir    string
	configPath string
	help       bool
}

func newGlobalFlags(g *globalOptions) *flag.FlagSet {
	flags := flag.NewFlagSet("handleprobe", flag.ContinueOnError)
	flags.SetInterspersed(false)
	flags.SetOutput(io.Discard)
	flags.StringVarP(&g.workDir, "cwd", "C", "", "Run as if started in `dir`")
	flags.StringVarP(&g.configPath, "config", "c", "", "Use specified config `file`")
	flags.BoolVarP(&g.help, "help", "h", false, "Show help")

	return flags
}

// Run is the main entry point. Returns exit code.
//
// sigCh may be nil. A signal received on it cancels the running command;
// a probe run then stops between steps and still prints what it gathered.
func Run(in io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	o := NewIO(out, errOut)

	var g globalOptions

	globalFlags := newGlobalFlags(&g)

	if len(args) > 0 {
		args = args[1:]
	}

	if err := globalFlags.Parse(args); err != nil {
		o.ErrPrintln("error:", err)
		o.ErrPrintln()
		printUsage(o.errOut, globalFlags, nil)

		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if sigCh != nil {
		go func() {
			select {
			case <-sigCh:
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	load := func(overrides config.Overrides) (config.Config, error) {
		return config.Load(config.LoadInput{
			WorkDirOverride: g.workDir,
			ConfigPath:      g.configPath,
			Env:             env,
			Overrides:       overrides,
		})
	}

	commands := []*Command{
		RunCmd(load),
		StrategiesCmd(),
		PrintConfigCmd(load),
		ExploreCmd(load, in),
	}

	rest := globalFlags.Args()

	if g.help || len(args) == 0 {
		printUsage(o.out, globalFlags, commands)

		return 0
	}

	if len(rest) == 0 {
		o.ErrPrintln("error: no command provided")
		o.ErrPrintln()
		printUsage(o.errOut, globalFlags, commands)

		return 1
	}

	name := rest[0]

	for _, cmd := range commands {
		if cmd.Name() == name {
			if code := cmd.Run(ctx, o, rest[1:]); code != 0 {
				return code
			}

			return o.Finish()
		}
	}

	o.ErrPrintln("error: unknown command:", name)
	o.ErrPrintln()
	printUsage(o.errOut, globalFlags, commands)

	return 1
}

func printUsage(w io.Writer, globalFlags *flag.FlagSet, commands []*Command) {
	fprintln(w, `handleprobe - verify how a file system treats files that are still open

Usage: handleprobe [global flags] <command> [flags]`)

	fprintln(w)
	fprintln(w, "Global flags:")

	var buf strings.Builder

	globalFlags.SetOutput(&buf)
	globalFlags.PrintDefaults()
	globalFlags.SetOutput(io.Discard)

	_, _ = io.WriteString(w, buf.String())

	if len(commands) == 0 {
		return
	}

	fprintln(w)
	fprintln(w, "Commands:")

	for _, cmd := range commands {
		fprintln(w, cmd.HelpLine())
	}

	fprintln(w)
	fprintln(w, `Run "handleprobe <command> --help" for command flags.`)
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

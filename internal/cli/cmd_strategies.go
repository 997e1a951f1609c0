package cli

import (
	"context"
	"fmt"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/handleprobe/internal/fs"
	"github.com/calvinalkan/handleprobe/internal/probe"
)

// StrategiesCmd returns the strategies command.
func StrategiesCmd() *Command {
	return &Command{
		Flags: flag.NewFlagSet("strategies", flag.ContinueOnError),
		Usage: "strategies",
		Short: "List strategies and access/share modes",
		Long: `List the rename and delete strategies, the strategies that are known but
never run, and the access and share modes the conflict matrix can use.`,
		Exec: func(_ context.Context, o *IO, _ []string) error {
			execStrategies(o)

			return nil
		},
	}
}

func execStrategies(o *IO) {
	row := func(format string, a ...any) {
		o.Println(strings.TrimRight(fmt.Sprintf(format, a...), " "))
	}

	o.Println("# rename")

	for _, s := range probe.RenameStrategies() {
		row("%-12s %-28s %s", s.Name(), s.Mechanism(), handleNote(s.NeedsHandle()))
	}

	for _, e := range probe.ExcludedRenameStrategies() {
		row("%-12s %-28s excluded: %s", e.Name, e.Mechanism, e.Reason)
	}

	o.Println()
	o.Println("# delete")

	for _, s := range probe.DeleteStrategies() {
		row("%-12s %-28s %s", s.Name(), s.Mechanism(), handleNote(s.NeedsHandle()))
	}

	o.Println()
	o.Println("# access modes")

	for _, m := range fs.AccessModes() {
		note := ""
		if m.Reserved {
			note = "not in the default matrix"
		}

		row("%-18s 0x%02x %s", m.Name, uint8(m.Access), note)
	}

	o.Println()
	o.Println("# share modes")

	for _, m := range fs.ShareModes() {
		row("%-18s 0x%02x", m.Name, uint8(m.Share))
	}
}

func handleNote(needsHandle bool) string {
	if needsHandle {
		return "through the open handle"
	}

	return "by path"
}

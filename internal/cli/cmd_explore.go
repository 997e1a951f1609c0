package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/handleprobe/internal/config"
	"github.com/calvinalkan/handleprobe/internal/fs"
)

// ErrUnknownHandle is returned for handle names the explorer never issued
// or already closed.
var ErrUnknownHandle = errors.New("unknown handle")

// exploreReadLimit caps what the read command prints.
const exploreReadLimit = 64 << 10

// ExploreCmd returns the explore command. Commands are read from in; when
// in is the process stdin, line editing and history are enabled.
func ExploreCmd(load loadFunc, in io.Reader) *Command {
	flags := flag.NewFlagSet("explore", flag.ContinueOnError)
	flags.String("backend", "", "Backend to explore: os or sim")
	flags.String("data-dir", "", "Directory relative paths resolve against")

	return &Command{
		Flags: flags,
		Usage: "explore [flags]",
		Short: "Open handles and mutate files by hand",
		Long: `Start an interactive session against the configured backend.

Handles opened in the session are named h1, h2, ... and stay open until
closed or until the session ends. Relative paths resolve against the data
directory. Type 'help' in the session for the command list.`,
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			return execExplore(ctx, o, flags, load, in)
		},
	}
}

func execExplore(ctx context.Context, o *IO, flags *flag.FlagSet, load loadFunc, in io.Reader) error {
	var overrides config.Overrides

	overrides.Backend, _ = flags.GetString("backend")
	overrides.DataDir, _ = flags.GetString("data-dir")

	if flags.Changed("data-dir") && overrides.DataDir == "" {
		return ErrDataDirEmpty
	}

	cfg, err := load(overrides)
	if err != nil {
		return err
	}

	fsys, err := cfg.OpenFS()
	if err != nil {
		return err
	}

	e := newExplorer(o, fsys, cfg.DataDirAbs)

	if err := e.fsys.MkdirAll(e.dir); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	o.Printf("exploring %s in %s (%s share model)\n", cfg.BackendLabel(), e.dir, fs.ModelOf(e.fsys))
	o.Println("Type 'help' for available commands.")

	defer e.closeAll()

	if f, ok := in.(*os.File); ok && f == os.Stdin {
		return e.runLiner(ctx)
	}

	return e.runScanner(ctx, in)
}

// explorer is the interactive session state.
type explorer struct {
	o       *IO
	fsys    *fs.Traced
	ledger  *fs.Tracked
	dir     string
	handles map[string]fs.File
	paths   map[string]string
	next    int
}

func newExplorer(o *IO, fsys fs.FS, dir string) *explorer {
	tracked := fs.NewTracked(fsys)

	return &explorer{
		o:       o,
		fsys:    fs.NewTraced(tracked, fs.DefaultTraceCapacity),
		ledger:  tracked,
		dir:     dir,
		handles: make(map[string]fs.File),
		paths:   make(map[string]string),
	}
}

var exploreCommands = []string{
	"open", "close", "read", "write", "rename", "renameh", "rm", "deleteh",
	"identity", "path", "exists", "handles", "trace", "help", "quit",
}

func (e *explorer) printHelp() {
	e.o.Println(`Commands:
  open <path> <access> <share> [create]   open a handle (see 'handleprobe strategies' for modes)
  close <h>                               close a handle
  read <h>                                read the whole file through a handle
  write <h> <text...>                     write text at the handle's position
  rename <old> <new>                      rename by path, replacing <new>
  renameh <h> <new>                       rename through a handle, replacing <new>
  rm <path>                               delete by path
  deleteh <h>                             mark for deletion through a handle
  identity <h>                            print the on-disk identity
  path <h>                                print the path the handle resolves to
  exists <path>                           check whether a file is visible
  handles                                 list open handles
  trace                                   print recent file system operations
  quit                                    close every handle and exit`)
}

func (e *explorer) runLiner(ctx context.Context) error {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(func(prefix string) []string {
		var out []string

		for _, c := range exploreCommands {
			if strings.HasPrefix(c, prefix) {
				out = append(out, c)
			}
		}

		return out
	})

	historyPath := historyFile()
	if f, err := os.Open(historyPath); err == nil {
		_, _ = line.ReadHistory(f)
		_ = f.Close()
	}

	defer func() {
		if historyPath == "" {
			return
		}

		if f, err := os.Create(historyPath); err == nil {
			_, _ = line.WriteHistory(f)
			_ = f.Close()
		}
	}()

	for ctx.Err() == nil {
		input, err := line.Prompt("handleprobe> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}

			return fmt.Errorf("reading input: %w", err)
		}

		if strings.TrimSpace(input) != "" {
			line.AppendHistory(input)
		}

		if e.exec(input) {
			return nil
		}
	}

	return ctx.Err()
}

func (e *explorer) runScanner(ctx context.Context, in io.Reader) error {
	if in == nil {
		return nil
	}

	sc := bufio.NewScanner(in)

	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		if e.exec(sc.Text()) {
			return nil
		}
	}

	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	return nil
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".handleprobe_history")
}

// exec runs one command line and reports whether the session should end.
// Command errors are printed, never returned.
func (e *explorer) exec(input string) bool {
	fields := strings.Fields(input)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
		return false
	}

	cmd, args := strings.ToLower(fields[0]), fields[1:]

	var err error

	switch cmd {
	case "quit", "exit", "q":
		return true
	case "help", "?":
		e.printHelp()
	case "open":
		err = e.open(args)
	case "close":
		err = e.withHandle(args, 1, func(name string, f fs.File) error {
			delete(e.handles, name)
			delete(e.paths, name)

			if err := f.Close(); err != nil {
				return err
			}

			e.o.Println("closed " + name)

			return nil
		})
	case "read":
		err = e.withHandle(args, 1, func(_ string, f fs.File) error {
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				return err
			}

			data, err := io.ReadAll(io.LimitReader(f, exploreReadLimit))
			if err != nil {
				return err
			}

			e.o.Println(strconv.Quote(string(data)))

			return nil
		})
	case "write":
		err = e.withHandle(args, 2, func(_ string, f fs.File) error {
			n, err := f.Write([]byte(strings.Join(args[1:], " ")))
			if err != nil {
				return err
			}

			e.o.Printf("wrote %d bytes\n", n)

			return nil
		})
	case "rename":
		err = e.withPaths(args, 2, func(p []string) error { return e.fsys.Rename(p[0], p[1]) })
	case "renameh":
		err = e.withHandle(args, 2, func(name string, f fs.File) error {
			newpath := e.resolve(args[1])
			if err := f.RenameTo(newpath, true); err != nil {
				return err
			}

			e.paths[name] = newpath

			return nil
		})
	case "rm":
		err = e.withPaths(args, 1, func(p []string) error { return e.fsys.Remove(p[0]) })
	case "deleteh":
		err = e.withHandle(args, 1, func(_ string, f fs.File) error { return f.MarkDelete() })
	case "identity":
		err = e.withHandle(args, 1, func(_ string, f fs.File) error {
			id, err := f.Identity()
			if err != nil {
				return err
			}

			e.o.Println(id.String())

			return nil
		})
	case "path":
		err = e.withHandle(args, 1, func(_ string, f fs.File) error {
			p, err := f.FinalPath()
			if err != nil {
				return err
			}

			e.o.Println(p)

			return nil
		})
	case "exists":
		err = e.withPaths(args, 1, func(p []string) error {
			ok, err := e.fsys.Exists(p[0])
			if err != nil {
				return err
			}

			e.o.Println(strconv.FormatBool(ok))

			return nil
		})
	case "handles":
		e.listHandles()
	case "trace":
		if t := e.fsys.Trace(); t != "" {
			e.o.Println(t)
		}
	default:
		e.o.Printf("unknown command: %s (type 'help' for commands)\n", cmd)

		return false
	}

	if err != nil {
		e.o.Println("error:", err)
	} else if cmd == "rename" || cmd == "renameh" || cmd == "rm" || cmd == "deleteh" {
		e.o.Println("ok")
	}

	return false
}

func (e *explorer) open(args []string) error {
	if len(args) < 3 || len(args) > 4 {
		return errors.New("usage: open <path> <access> <share> [create]")
	}

	access, err := fs.ParseAccess(args[1])
	if err != nil {
		return err
	}

	share, err := fs.ParseShare(args[2])
	if err != nil {
		return err
	}

	disp := fs.OpenExisting

	if len(args) == 4 {
		if args[3] != "create" {
			return fmt.Errorf("unknown open flag %q (want create)", args[3])
		}

		disp = fs.CreateAlways
	}

	path := e.resolve(args[0])

	f, err := e.fsys.OpenFile(path, fs.OpenOptions{Access: access.Access, Share: share.Share, Disposition: disp})
	if err != nil {
		e.o.Printf("%s: %v\n", invalidHandle, err)

		return nil
	}

	e.next++
	name := "h" + strconv.Itoa(e.next)
	e.handles[name] = f
	e.paths[name] = path

	e.o.Printf("%s = %#x\n", name, f.Handle())

	return nil
}

func (e *explorer) withHandle(args []string, minArgs int, fn func(name string, f fs.File) error) error {
	if len(args) < minArgs {
		return fmt.Errorf("want at least %d arguments, got %d", minArgs, len(args))
	}

	f, ok := e.handles[args[0]]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHandle, args[0])
	}

	return fn(args[0], f)
}

func (e *explorer) withPaths(args []string, n int, fn func(paths []string) error) error {
	if len(args) != n {
		return fmt.Errorf("want %d arguments, got %d", n, len(args))
	}

	paths := make([]string, n)
	for i, a := range args {
		paths[i] = e.resolve(a)
	}

	return fn(paths)
}

func (e *explorer) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}

	return filepath.Join(e.dir, p)
}

// handleNames returns the open handle names in the order they were issued.
func (e *explorer) handleNames() []string {
	names := make([]string, 0, len(e.handles))
	for name := range e.handles {
		names = append(names, name)
	}

	slices.SortFunc(names, func(a, b string) int {
		na, _ := strconv.Atoi(a[1:])
		nb, _ := strconv.Atoi(b[1:])

		return na - nb
	})

	return names
}

func (e *explorer) listHandles() {
	for _, name := range e.handleNames() {
		e.o.Printf("%s = %#x %s\n", name, e.handles[name].Handle(), e.paths[name])
	}

	e.o.Println("ledger: " + e.ledger.Ledger().String())
}

// closeAll releases every handle still open when the session ends.
func (e *explorer) closeAll() {
	for _, name := range e.handleNames() {
		if err := e.handles[name].Close(); err != nil {
			e.o.Printf("closing %s: %v\n", name, err)

			continue
		}

		e.o.Println("closed " + name)
	}

	clear(e.handles)
	clear(e.paths)
}

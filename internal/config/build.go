package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/calvinalkan/handleprobe/internal/fs"
	"github.com/calvinalkan/handleprobe/internal/probe"
)

// ProbeOptions resolves the configured names into harness options.
func (c Config) ProbeOptions() (probe.Options, error) {
	access := make([]fs.AccessMode, 0, len(c.Conflicts.AccessModes))

	for _, name := range c.Conflicts.AccessModes {
		m, err := fs.ParseAccess(name)
		if err != nil {
			return probe.Options{}, err
		}

		access = append(access, m)
	}

	share := make([]fs.ShareMode, 0, len(c.Conflicts.ShareModes))

	for _, name := range c.Conflicts.ShareModes {
		m, err := fs.ParseShare(name)
		if err != nil {
			return probe.Options{}, err
		}

		share = append(share, m)
	}

	renames := make([]probe.RenameStrategy, 0, len(c.Rename.Strategies))

	for _, name := range c.Rename.Strategies {
		s, err := probe.ParseRenameStrategy(name)
		if err != nil {
			return probe.Options{}, err
		}

		renames = append(renames, s)
	}

	deletes := make([]probe.DeleteStrategy, 0, len(c.Delete.Strategies))

	for _, name := range c.Delete.Strategies {
		s, err := probe.ParseDeleteStrategy(name)
		if err != nil {
			return probe.Options{}, err
		}

		deletes = append(deletes, s)
	}

	dataDir := c.DataDirAbs
	if dataDir == "" {
		dataDir = c.DataDir
	}

	return probe.Options{
		DataDir: dataDir,
		Backend: c.BackendLabel(),
		Conflicts: probe.ConflictOptions{
			Enabled:     c.Scenarios.Conflicts,
			File:        c.Conflicts.File,
			SeedFixture: c.Conflicts.SeedFixture,
			SeedContent: c.Conflicts.SeedContent,
			Access:      access,
			Share:       share,
		},
		Rename: probe.RenameOptions{
			Enabled:    c.Scenarios.Rename,
			OldName:    c.Rename.OldName,
			NewName:    c.Rename.NewName,
			Strategies: renames,
		},
		Delete: probe.DeleteOptions{
			Enabled:    c.Scenarios.Delete,
			Name:       c.Delete.Name,
			Strategies: deletes,
		},
		FragmentA: c.Content.FragmentA,
		FragmentB: c.Content.FragmentB,
		Visibility: probe.VisibilityOptions{
			Attempts: c.Visibility.Attempts,
			Interval: time.Duration(c.Visibility.Interval),
		},
		MaxReadBytes: c.MaxReadBytes,
		AbortOnFatal: c.AbortOnFatal,
	}, nil
}

// BackendLabel names the backend in reports, e.g. "sim+chaos".
func (c Config) BackendLabel() string {
	if c.Chaos.Enabled {
		return c.Backend + "+chaos"
	}

	return c.Backend
}

// OpenFS returns the configured backend, wrapped in fault injection when
// chaos is enabled.
func (c Config) OpenFS() (fs.FS, error) {
	var fsys fs.FS

	switch c.Backend {
	case BackendOS:
		fsys = fs.NewReal()
	case BackendSim:
		fsys = fs.NewSim(fs.SimOptions{
			StaleFinalPath: c.Sim.StaleFinalPath,
			RemovalLag:     c.Sim.RemovalLag,
		})
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrConfigInvalid, c.Backend)
	}

	if !c.Chaos.Enabled {
		return fsys, nil
	}

	chaos := fs.NewChaos(fsys, c.Chaos.Seed, c.Chaos.chaosConfig())
	chaos.SetMode(fs.ChaosModeInject)

	return chaos, nil
}

// SlogLevel maps log_level to a [slog.Level].
func (c Config) SlogLevel() slog.Level {
	var l slog.Level

	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelWarn
	}

	return l
}

func (c Chaos) chaosConfig() fs.ChaosConfig {
	return fs.ChaosConfig{
		OpenFailRate:       c.OpenFailRate,
		ReadFailRate:       c.ReadFailRate,
		PartialReadRate:    c.PartialReadRate,
		WriteFailRate:      c.WriteFailRate,
		PartialWriteRate:   c.PartialWriteRate,
		RenameFailRate:     c.RenameFailRate,
		RemoveFailRate:     c.RemoveFailRate,
		MarkDeleteFailRate: c.MarkDeleteFailRate,
		ExistsFailRate:     c.ExistsFailRate,
		IdentityFailRate:   c.IdentityFailRate,
		FinalPathFailRate:  c.FinalPathFailRate,
	}
}

func defaultChaos() Chaos {
	d := fs.DefaultChaosConfig()

	return Chaos{
		Seed:               1,
		OpenFailRate:       d.OpenFailRate,
		ReadFailRate:       d.ReadFailRate,
		PartialReadRate:    d.PartialReadRate,
		WriteFailRate:      d.WriteFailRate,
		PartialWriteRate:   d.PartialWriteRate,
		RenameFailRate:     d.RenameFailRate,
		RemoveFailRate:     d.RemoveFailRate,
		MarkDeleteFailRate: d.MarkDeleteFailRate,
		ExistsFailRate:     d.ExistsFailRate,
		IdentityFailRate:   d.IdentityFailRate,
		FinalPathFailRate:  d.FinalPathFailRate,
	}
}

func accessNames(modes []fs.AccessMode) []string {
	out := make([]string, len(modes))
	for i, m := range modes {
		out[i] = m.Name
	}

	return out
}

func shareNames(modes []fs.ShareMode) []string {
	out := make([]string, len(modes))
	for i, m := range modes {
		out[i] = m.Name
	}

	return out
}

func strategyNames[S interface{ Name() string }](strategies []S) []string {
	out := make([]string, len(strategies))
	for i, s := range strategies {
		out[i] = s.Name()
	}

	return out
}

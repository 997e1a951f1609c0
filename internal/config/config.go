// Package config loads the handleprobe configuration from JSONC files, the
// environment and command-line overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tailscale/hujson"

	"github.com/calvinalkan/handleprobe/internal/probe"
)

// Error variables for loading configuration.
var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigFileRead     = errors.New("cannot read config file")
	ErrConfigInvalid      = errors.New("invalid config")
	ErrUnknownScenario    = errors.New("unknown scenario")
	ErrInvalidEnv         = errors.New("invalid environment variable")
)

// Environment variables read by [Load].
const (
	EnvScenarios = "HANDLEPROBE_SCENARIOS"
	EnvBackend   = "HANDLEPROBE_BACKEND"
)

// FileName is the project config file name.
const FileName = ".handleprobe.json"

// Backend names.
const (
	BackendOS  = "os"
	BackendSim = "sim"
)

// Config holds all configuration options.
type Config struct {
	DataDir      string     `json:"data_dir" validate:"required"`
	Backend      string     `json:"backend" validate:"oneof=os sim"`
	Scenarios    Scenarios  `json:"scenarios"`
	Conflicts    Conflicts  `json:"conflicts"`
	Rename       Rename     `json:"rename"`
	Delete       Delete     `json:"delete"`
	Content      Content    `json:"content"`
	Visibility   Visibility `json:"visibility"`
	MaxReadBytes int64      `json:"max_read_bytes" validate:"gt=0,lte=1073741824"`
	AbortOnFatal bool       `json:"abort_on_fatal"`
	LogLevel     string     `json:"log_level" validate:"oneof=debug info warn error"`
	Sim          Sim        `json:"sim"`
	Chaos        Chaos      `json:"chaos"`

	// Resolved paths (computed, not serialized)
	EffectiveCwd string `json:"-"` // Absolute working directory (from -C flag or os.Getwd)
	DataDirAbs   string `json:"-"` // Absolute path to the data directory

	// Sources tracks where the effective values came from (for diagnostics)
	Sources Sources `json:"-"`
}

// Scenarios selects which scenarios run. All are off by default.
type Scenarios struct {
	Conflicts bool `json:"conflicts"`
	Rename    bool `json:"rename"`
	Delete    bool `json:"delete"`
}

// Names returns the enabled scenarios in run order.
func (s Scenarios) Names() []string {
	var out []string

	if s.Conflicts {
		out = append(out, probe.ScenarioConflicts)
	}

	if s.Rename {
		out = append(out, probe.ScenarioRename)
	}

	if s.Delete {
		out = append(out, probe.ScenarioDelete)
	}

	return out
}

// Any reports whether at least one scenario is enabled.
func (s Scenarios) Any() bool { return s.Conflicts || s.Rename || s.Delete }

type Conflicts struct {
	File        string   `json:"file" validate:"required,filename"`
	SeedFixture bool     `json:"seed_fixture"`
	SeedContent string   `json:"seed_content"`
	AccessModes []string `json:"access_modes" validate:"min=1,dive,required"`
	ShareModes  []string `json:"share_modes" validate:"min=1,dive,required"`
}

type Rename struct {
	OldName    string   `json:"old_name" validate:"required,filename"`
	NewName    string   `json:"new_name" validate:"required,filename,nefield=OldName"`
	Strategies []string `json:"strategies" validate:"min=1,dive,required"`
}

type Delete struct {
	Name       string   `json:"name" validate:"required,filename"`
	Strategies []string `json:"strategies" validate:"min=1,dive,required"`
}

type Content struct {
	FragmentA string `json:"fragment_a"`
	FragmentB string `json:"fragment_b"`
}

type Visibility struct {
	Attempts int      `json:"attempts" validate:"gte=1"`
	Interval Duration `json:"interval"`
}

// Sim configures the in-memory backend.
type Sim struct {
	StaleFinalPath bool `json:"stale_final_path"`
	RemovalLag     int  `json:"removal_lag" validate:"gte=0"`
}

// Chaos configures fault injection around the selected backend.
type Chaos struct {
	Enabled            bool    `json:"enabled"`
	Seed               int64   `json:"seed"`
	OpenFailRate       float64 `json:"open_fail_rate" validate:"gte=0,lte=1"`
	ReadFailRate       float64 `json:"read_fail_rate" validate:"gte=0,lte=1"`
	PartialReadRate    float64 `json:"partial_read_rate" validate:"gte=0,lte=1"`
	WriteFailRate      float64 `json:"write_fail_rate" validate:"gte=0,lte=1"`
	PartialWriteRate   float64 `json:"partial_write_rate" validate:"gte=0,lte=1"`
	RenameFailRate     float64 `json:"rename_fail_rate" validate:"gte=0,lte=1"`
	RemoveFailRate     float64 `json:"remove_fail_rate" validate:"gte=0,lte=1"`
	MarkDeleteFailRate float64 `json:"mark_delete_fail_rate" validate:"gte=0,lte=1"`
	ExistsFailRate     float64 `json:"exists_fail_rate" validate:"gte=0,lte=1"`
	IdentityFailRate   float64 `json:"identity_fail_rate" validate:"gte=0,lte=1"`
	FinalPathFailRate  float64 `json:"final_path_fail_rate" validate:"gte=0,lte=1"`
}

// Sources tracks which config layers contributed.
type Sources struct {
	Global  string   // Path to global config if loaded, empty otherwise
	Project string   // Path to project or explicit config if loaded, empty otherwise
	Env     []string // Environment variables that were applied
}

// Duration is a [time.Duration] written as a string like "10ms" in config
// files.
type Duration time.Duration

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string

	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"10ms\": %w", err)
	}

	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}

	*d = Duration(v)

	return nil
}

// Default returns the default configuration.
func Default() Config {
	p := probe.DefaultOptions()

	return Config{
		DataDir: p.DataDir,
		Backend: BackendOS,
		Conflicts: Conflicts{
			File:        p.Conflicts.File,
			SeedContent: p.Conflicts.SeedContent,
			AccessModes: accessNames(p.Conflicts.Access),
			ShareModes:  shareNames(p.Conflicts.Share),
		},
		Rename: Rename{
			OldName:    p.Rename.OldName,
			NewName:    p.Rename.NewName,
			Strategies: strategyNames(p.Rename.Strategies),
		},
		Delete: Delete{
			Name:       p.Delete.Name,
			Strategies: strategyNames(p.Delete.Strategies),
		},
		Content:      Content{FragmentA: p.FragmentA, FragmentB: p.FragmentB},
		Visibility:   Visibility{Attempts: p.Visibility.Attempts, Interval: Duration(p.Visibility.Interval)},
		MaxReadBytes: p.MaxReadBytes,
		LogLevel:     "warn",
		Chaos:        defaultChaos(),
	}
}

// getGlobalConfigPath returns the path to the global config file.
// Uses $XDG_CONFIG_HOME/handleprobe/config.json if set, otherwise
// ~/.config/handleprobe/config.json. Returns empty string if the home
// directory cannot be determined.
func getGlobalConfigPath(env map[string]string) string {
	if xdgConfig := env["XDG_CONFIG_HOME"]; xdgConfig != "" {
		return filepath.Join(xdgConfig, "handleprobe", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "handleprobe", "config.json")
	}

	return ""
}

// Overrides are values from command-line flags. Zero values leave the
// configured value alone.
type Overrides struct {
	DataDir          string
	Backend          string
	Scenarios        []string // replaces the enabled set when non-empty
	RenameStrategies []string
	DeleteStrategies []string
	LogLevel         string
}

// LoadInput holds the inputs for [Load].
type LoadInput struct {
	WorkDirOverride string            // -C/--cwd flag value; if empty, os.Getwd() is used
	ConfigPath      string            // -c/--config flag value
	Env             map[string]string // environment variables
	Overrides       Overrides
}

// Load loads configuration with the following precedence (highest wins):
// 1. Defaults
// 2. Global user config ($XDG_CONFIG_HOME/handleprobe/config.json)
// 3. Project config file (.handleprobe.json, if it exists) or the
// explicit config file given with -c
// 4. Environment (HANDLEPROBE_SCENARIOS, HANDLEPROBE_BACKEND)
// 5. CLI overrides.
//
// Each file layer only changes the keys it sets. The data directory in
// the returned Config is resolved to an absolute path.
func Load(input LoadInput) (Config, error) {
	workDir := input.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	cfg := Default()

	globalPath, err := loadGlobalConfig(&cfg, input.Env)
	if err != nil {
		return Config{}, err
	}

	cfg.Sources.Global = globalPath

	projectPath, err := loadProjectConfig(&cfg, workDir, input.ConfigPath)
	if err != nil {
		return Config{}, err
	}

	cfg.Sources.Project = projectPath

	applied, err := applyEnv(&cfg, input.Env)
	if err != nil {
		return Config{}, err
	}

	cfg.Sources.Env = applied

	if err := applyOverrides(&cfg, input.Overrides); err != nil {
		return Config{}, err
	}

	if err := Validate(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}

	cfg.EffectiveCwd = workDir

	if filepath.IsAbs(cfg.DataDir) {
		cfg.DataDirAbs = cfg.DataDir
	} else {
		cfg.DataDirAbs = filepath.Join(workDir, cfg.DataDir)
	}

	return cfg, nil
}

// loadGlobalConfig applies the global user config file if it exists.
// Returns the path if loaded.
func loadGlobalConfig(cfg *Config, env map[string]string) (string, error) {
	globalCfgPath := getGlobalConfigPath(env)
	if globalCfgPath == "" {
		return "", nil
	}

	loaded, err := loadConfigFile(cfg, globalCfgPath, false)
	if err != nil || !loaded {
		return "", err
	}

	return globalCfgPath, nil
}

// loadProjectConfig applies the project config file (.handleprobe.json) or
// an explicit config file. Returns the path if loaded.
func loadProjectConfig(cfg *Config, workDir, configPath string) (string, error) {
	var cfgFile string

	var mustExist bool

	if configPath != "" {
		// Explicit config file - must exist
		cfgFile = configPath
		if !filepath.IsAbs(cfgFile) {
			cfgFile = filepath.Join(workDir, cfgFile)
		}

		mustExist = true

		_, statErr := os.Stat(cfgFile)
		if statErr != nil {
			return "", fmt.Errorf("%w: %s", ErrConfigFileNotFound, configPath)
		}
	} else {
		// Default project config file - optional
		cfgFile = filepath.Join(workDir, FileName)
	}

	loaded, err := loadConfigFile(cfg, cfgFile, mustExist)
	if err != nil || !loaded {
		return "", err
	}

	return cfgFile, nil
}

// loadConfigFile decodes a config file over cfg. If mustExist is false,
// a missing file is not an error. Reports whether the file was loaded.
func loadConfigFile(cfg *Config, path string, mustExist bool) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return false, nil
		}

		if mustExist {
			return false, fmt.Errorf("%w: %s", ErrConfigFileRead, path)
		}

		return false, nil
	}

	if err := parseInto(cfg, data); err != nil {
		return false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	return true, nil
}

// parseInto decodes JSONC over cfg. Keys absent from data keep their
// current value; lists are replaced as a whole.
func parseInto(cfg *Config, data []byte) error {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fmt.Errorf("invalid JSONC: %w", err)
	}

	if err := json.Unmarshal(standardized, cfg); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	return nil
}

func applyEnv(cfg *Config, env map[string]string) ([]string, error) {
	var applied []string

	if v, ok := env[EnvScenarios]; ok {
		names := splitList(v)

		s, err := parseScenarios(names)
		if err != nil {
			return nil, fmt.Errorf("%w %s: %w", ErrInvalidEnv, EnvScenarios, err)
		}

		cfg.Scenarios = s

		applied = append(applied, EnvScenarios)
	}

	if v := strings.TrimSpace(env[EnvBackend]); v != "" {
		cfg.Backend = v

		applied = append(applied, EnvBackend)
	}

	return applied, nil
}

func applyOverrides(cfg *Config, o Overrides) error {
	if o.DataDir != "" {
		cfg.DataDir = o.DataDir
	}

	if o.Backend != "" {
		cfg.Backend = o.Backend
	}

	if len(o.Scenarios) > 0 {
		s, err := parseScenarios(o.Scenarios)
		if err != nil {
			return err
		}

		cfg.Scenarios = s
	}

	if len(o.RenameStrategies) > 0 {
		cfg.Rename.Strategies = o.RenameStrategies
	}

	if len(o.DeleteStrategies) > 0 {
		cfg.Delete.Strategies = o.DeleteStrategies
	}

	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}

	return nil
}

// parseScenarios turns scenario names into the enabled set. "all" enables
// every scenario.
func parseScenarios(names []string) (Scenarios, error) {
	var s Scenarios

	for _, name := range names {
		switch strings.ToLower(name) {
		case probe.ScenarioConflicts:
			s.Conflicts = true
		case probe.ScenarioRename:
			s.Rename = true
		case probe.ScenarioDelete:
			s.Delete = true
		case "all":
			s = Scenarios{Conflicts: true, Rename: true, Delete: true}
		default:
			return Scenarios{}, fmt.Errorf("%w: %q", ErrUnknownScenario, name)
		}
	}

	return s, nil
}

func splitList(v string) []string {
	var out []string

	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}

	return out
}

// Lines renders the effective configuration as sorted key=value lines, the
// format print-config uses.
func (c Config) Lines() []string {
	lines := []string{
		"data_dir=" + c.DataDirAbs,
		"backend=" + c.Backend,
		"scenarios=" + strings.Join(c.Scenarios.Names(), ","),
		"conflicts.file=" + c.Conflicts.File,
		"conflicts.seed_fixture=" + strconv.FormatBool(c.Conflicts.SeedFixture),
		"conflicts.access_modes=" + strings.Join(c.Conflicts.AccessModes, ","),
		"conflicts.share_modes=" + strings.Join(c.Conflicts.ShareModes, ","),
		"rename.old_name=" + c.Rename.OldName,
		"rename.new_name=" + c.Rename.NewName,
		"rename.strategies=" + strings.Join(c.Rename.Strategies, ","),
		"delete.name=" + c.Delete.Name,
		"delete.strategies=" + strings.Join(c.Delete.Strategies, ","),
		"content.fragment_a=" + strconv.Quote(c.Content.FragmentA),
		"content.fragment_b=" + strconv.Quote(c.Content.FragmentB),
		"visibility.attempts=" + strconv.Itoa(c.Visibility.Attempts),
		"visibility.interval=" + c.Visibility.Interval.String(),
		"max_read_bytes=" + strconv.FormatInt(c.MaxReadBytes, 10),
		"abort_on_fatal=" + strconv.FormatBool(c.AbortOnFatal),
		"log_level=" + c.LogLevel,
		"sim.stale_final_path=" + strconv.FormatBool(c.Sim.StaleFinalPath),
		"sim.removal_lag=" + strconv.Itoa(c.Sim.RemovalLag),
		"chaos.enabled=" + strconv.FormatBool(c.Chaos.Enabled),
		"chaos.seed=" + strconv.FormatInt(c.Chaos.Seed, 10),
	}

	return lines
}

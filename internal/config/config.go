// Package config loads postgate's layered JSONC configuration.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tailscale/hujson"
)

// Errors returned by [Load]. File-level errors are wrapped with the path.
var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigFileRead     = errors.New("cannot read config file")
	ErrConfigInvalid      = errors.New("invalid config file")
	ErrMeRequired         = errors.New("me is required")
	ErrMeInvalid          = errors.New("me must be an absolute http(s) URL")
	ErrOutputDirEmpty     = errors.New("output_dir cannot be empty")
	ErrStateDirEmpty      = errors.New("state_dir cannot be empty")
	ErrDriverInvalid      = errors.New("store.driver must be sqlite or postgres")
	ErrDSNRequired        = errors.New("store.dsn is required for postgres")
	ErrExtensionInvalid   = errors.New("extension must start with a dot and contain no separator")
	ErrRetriesNegative    = errors.New("create_retries cannot be negative")
	ErrLogLevelInvalid    = errors.New("invalid log_level")
	ErrLogFormatInvalid   = errors.New("log_format must be text or json")
)

// Store driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Log formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// FileName is the project config file looked up in the working directory.
const FileName = ".postgate.json"

// SQLiteFileName is the default database file inside the state directory.
const SQLiteFileName = "posts.sqlite"

// LockFileName is the sync lock inside the state directory.
const LockFileName = "sync.lock"

// Config holds all configuration options.
type Config struct {
	Me            string   `json:"me"`
	OutputDir     string   `json:"output_dir"`
	StateDir      string   `json:"state_dir"`
	Store         Store    `json:"store"`
	Extension     string   `json:"extension"`
	Preserve      []string `json:"preserve"`
	CreateRetries int      `json:"create_retries"`
	Scopes        []string `json:"scopes"`
	LogLevel      string   `json:"log_level"`
	LogFormat     string   `json:"log_format"`

	// Resolved values (computed, not serialized)
	EffectiveCwd string `json:"-"`
	OutputDirAbs string `json:"-"`
	StateDirAbs  string `json:"-"`

	// Sources tracks which config files were loaded (for diagnostics)
	Sources Sources `json:"-"`
}

// Store selects the record store backend.
type Store struct {
	Driver string `json:"driver"`

	// DSN is a file path for sqlite and a connection URL for postgres.
	// Empty means <state_dir>/posts.sqlite.
	DSN string `json:"dsn,omitempty"`
}

// Sources tracks which config files were loaded.
type Sources struct {
	Global  string // Path to global config if loaded, empty otherwise
	Project string // Path to project config if loaded, empty otherwise
}

// Default returns the default configuration. Me has no default.
func Default() Config {
	return Config{
		OutputDir:     "content",
		StateDir:      ".postgate",
		Store:         Store{Driver: DriverSQLite},
		Extension:     ".md",
		Preserve:      []string{"_index.md"},
		CreateRetries: 3,
		Scopes:        []string{"create", "update", "delete"},
		LogLevel:      "info",
		LogFormat:     LogFormatText,
	}
}

// LockPath is the absolute path of the cross-process sync lock.
func (c Config) LockPath() string {
	return filepath.Join(c.StateDirAbs, LockFileName)
}

// StoreDSN returns the DSN to open. Relative SQLite paths are resolved
// against the working directory.
func (c Config) StoreDSN() string {
	if c.Store.Driver == DriverPostgres {
		return c.Store.DSN
	}

	dsn := c.Store.DSN
	if dsn == "" {
		return filepath.Join(c.StateDirAbs, SQLiteFileName)
	}

	if dsn == ":memory:" || strings.HasPrefix(dsn, "file:") || filepath.IsAbs(dsn) {
		return dsn
	}

	return filepath.Join(c.EffectiveCwd, dsn)
}

// globalPath returns $XDG_CONFIG_HOME/postgate/config.json, falling back to
// ~/.config. Empty if neither is known.
func globalPath(env map[string]string) string {
	if xdgConfig := env["XDG_CONFIG_HOME"]; xdgConfig != "" {
		return filepath.Join(xdgConfig, "postgate", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "postgate", "config.json")
	}

	return ""
}

// LoadInput holds the inputs for [Load].
type LoadInput struct {
	WorkDirOverride   string            // -C/--cwd flag value; if empty, os.Getwd() is used
	ConfigPath        string            // -c/--config flag value
	OutputDirOverride string            // --output-dir flag value; empty means no override
	Verbose           bool              // -v/--verbose forces log_level debug
	Env               map[string]string // environment variables
}

// Load loads configuration with the following precedence (highest wins):
// 1. Defaults
// 2. Global user config ($XDG_CONFIG_HOME/postgate/config.json)
// 3. Project config file (.postgate.json) or the explicit -c file
// 4. CLI overrides.
//
// All paths in the returned Config are resolved to absolute paths.
func Load(input LoadInput) (Config, error) {
	workDir := input.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	workDir, err := filepath.Abs(workDir)
	if err != nil {
		return Config{}, fmt.Errorf("resolve working directory: %w", err)
	}

	cfg := Default()

	if path := globalPath(input.Env); path != "" {
		layer, loaded, err := loadFile(path, false)
		if err != nil {
			return Config{}, err
		}

		if loaded {
			cfg = layer.apply(cfg)
			cfg.Sources.Global = path
		}
	}

	projectPath, mustExist := filepath.Join(workDir, FileName), false
	if input.ConfigPath != "" {
		projectPath, mustExist = input.ConfigPath, true
		if !filepath.IsAbs(projectPath) {
			projectPath = filepath.Join(workDir, projectPath)
		}
	}

	layer, loaded, err := loadFile(projectPath, mustExist)
	if err != nil {
		return Config{}, err
	}

	if loaded {
		cfg = layer.apply(cfg)
		cfg.Sources.Project = projectPath
	}

	if input.OutputDirOverride != "" {
		cfg.OutputDir = input.OutputDirOverride
	}

	if input.Verbose {
		cfg.LogLevel = logrus.DebugLevel.String()
	}

	err = Validate(cfg)
	if err != nil {
		return Config{}, err
	}

	cfg.EffectiveCwd = workDir
	cfg.OutputDirAbs = absUnder(workDir, cfg.OutputDir)
	cfg.StateDirAbs = absUnder(workDir, cfg.StateDir)

	return cfg, nil
}

func absUnder(base, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}

	return filepath.Join(base, path)
}

// fileLayer is one config file. Nil fields were not set in the file.
type fileLayer struct {
	Me            *string    `json:"me"`
	OutputDir     *string    `json:"output_dir"`
	StateDir      *string    `json:"state_dir"`
	Store         *storeFile `json:"store"`
	Extension     *string    `json:"extension"`
	Preserve      *[]string  `json:"preserve"`
	CreateRetries *int       `json:"create_retries"`
	Scopes        *[]string  `json:"scopes"`
	LogLevel      *string    `json:"log_level"`
	LogFormat     *string    `json:"log_format"`
}

type storeFile struct {
	Driver *string `json:"driver"`
	DSN    *string `json:"dsn"`
}

// loadFile reads a config file. If mustExist is false, a missing file is not
// an error and loaded is false.
func loadFile(path string, mustExist bool) (fileLayer, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if mustExist {
				return fileLayer{}, false, fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
			}

			return fileLayer{}, false, nil
		}

		return fileLayer{}, false, fmt.Errorf("%w: %s: %w", ErrConfigFileRead, path, err)
	}

	layer, err := parse(data)
	if err != nil {
		return fileLayer{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	return layer, true, nil
}

func parse(data []byte) (fileLayer, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fileLayer{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(standardized))
	dec.DisallowUnknownFields()

	var layer fileLayer

	err = dec.Decode(&layer)
	if err != nil {
		return fileLayer{}, fmt.Errorf("invalid JSON: %w", err)
	}

	// Explicitly emptied directories are a mistake, not "use the default".
	if layer.OutputDir != nil && *layer.OutputDir == "" {
		return fileLayer{}, ErrOutputDirEmpty
	}

	if layer.StateDir != nil && *layer.StateDir == "" {
		return fileLayer{}, ErrStateDirEmpty
	}

	return layer, nil
}

func (l fileLayer) apply(base Config) Config {
	setString(&base.Me, l.Me)
	setString(&base.OutputDir, l.OutputDir)
	setString(&base.StateDir, l.StateDir)
	setString(&base.Extension, l.Extension)
	setString(&base.LogLevel, l.LogLevel)
	setString(&base.LogFormat, l.LogFormat)

	if l.Store != nil {
		setString(&base.Store.Driver, l.Store.Driver)
		setString(&base.Store.DSN, l.Store.DSN)
	}

	if l.Preserve != nil {
		base.Preserve = *l.Preserve
	}

	if l.Scopes != nil {
		base.Scopes = *l.Scopes
	}

	if l.CreateRetries != nil {
		base.CreateRetries = *l.CreateRetries
	}

	return base
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

// Validate checks a merged configuration.
func Validate(cfg Config) error {
	if cfg.Me == "" {
		return ErrMeRequired
	}

	u, err := url.Parse(cfg.Me)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrMeInvalid, cfg.Me)
	}

	if cfg.OutputDir == "" {
		return ErrOutputDirEmpty
	}

	if cfg.StateDir == "" {
		return ErrStateDirEmpty
	}

	switch cfg.Store.Driver {
	case DriverSQLite:
	case DriverPostgres:
		if cfg.Store.DSN == "" {
			return ErrDSNRequired
		}
	default:
		return fmt.Errorf("%w: %q", ErrDriverInvalid, cfg.Store.Driver)
	}

	if !strings.HasPrefix(cfg.Extension, ".") || len(cfg.Extension) < 2 || strings.ContainsAny(cfg.Extension, `/\`) {
		return fmt.Errorf("%w: %q", ErrExtensionInvalid, cfg.Extension)
	}

	if cfg.CreateRetries < 0 {
		return ErrRetriesNegative
	}

	_, err = logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrLogLevelInvalid, cfg.LogLevel)
	}

	if cfg.LogFormat != LogFormatText && cfg.LogFormat != LogFormatJSON {
		return fmt.Errorf("%w: %q", ErrLogFormatInvalid, cfg.LogFormat)
	}

	return nil
}

// Package config resolves docstore settings from defaults, config files,
// the environment and command-line flags.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/joho/godotenv"
	"github.com/tailscale/hujson"
	"go.uber.org/zap/zapcore"

	"github.com/calvinalkan/docstore/pkg/doccache"
)

// Backend names.
const (
	BackendLocal  = "local"
	BackendRemote = "remote"
	BackendSQLite = "sqlite"
)

var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigFileRead     = errors.New("cannot read config file")
	ErrConfigInvalid      = errors.New("invalid config file")
	ErrInvalid            = errors.New("invalid configuration")
)

// Config holds all configuration options.
type Config struct {
	Backend  string `json:"backend,omitempty"`
	Path     string `json:"path,omitempty"`
	URL      string `json:"url,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Codec    string `json:"codec,omitempty"`
	LogLevel string `json:"log_level,omitempty"`

	// Timeout bounds each remote session, e.g. "30s".
	Timeout string `json:"timeout,omitempty"`

	// KnownHosts and InsecureSkipHostKey configure SFTP host verification.
	KnownHosts          string `json:"known_hosts,omitempty"`
	InsecureSkipHostKey bool   `json:"insecure_skip_host_key,omitempty"`

	// Resolved values (computed, not serialized)
	EffectiveCwd    string        `json:"-"`
	PathAbs         string        `json:"-"`
	TimeoutDuration time.Duration `json:"-"`
	Level           zapcore.Level `json:"-"`

	// Sources tracks which files were loaded (for print-config)
	Sources Sources `json:"-"`
}

// Sources tracks which config files were loaded.
type Sources struct {
	Global  string
	Project string
	DotEnv  string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Backend:  BackendLocal,
		Path:     ".docstore.json",
		Codec:    doccache.CodecJSON,
		LogLevel: "warn",
	}
}

// ProjectFileName is the project config file looked up in the working
// directory.
const ProjectFileName = ".docstore.jsonc"

// DotEnvFileName is the dotenv file looked up in the working directory.
const DotEnvFileName = ".env"

// Environment variable names.
const (
	EnvBackend  = "DOCSTORE_BACKEND"
	EnvPath     = "DOCSTORE_PATH"
	EnvURL      = "DOCSTORE_URL"
	EnvUsername = "DOCSTORE_USERNAME"
	EnvPassword = "DOCSTORE_PASSWORD"
	EnvCodec    = "DOCSTORE_CODEC"
	EnvLogLevel = "DOCSTORE_LOG_LEVEL"
)

// globalConfigPath returns $XDG_CONFIG_HOME/docstore/config.json, falling
// back to ~/.config/docstore/config.json. Empty if neither is known.
func globalConfigPath(env map[string]string) string {
	if xdg := env["XDG_CONFIG_HOME"]; xdg != "" {
		return filepath.Join(xdg, "docstore", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "docstore", "config.json")
	}

	return ""
}

// Overrides are command-line flag values. Empty fields do not override.
type Overrides struct {
	Backend  string
	Path     string
	URL      string
	Username string
	Password string
}

// Input holds the inputs for [Load].
type Input struct {
	WorkDir    string            // if empty, os.Getwd() is used
	ConfigPath string            // -c/--config flag value
	Env        map[string]string // process environment
	Flags      Overrides
}

// Load resolves configuration with the following precedence (highest wins):
//  1. Defaults
//  2. Global user config
//  3. Project config (.docstore.jsonc) or the explicit config file
//  4. .env in the working directory, then the process environment
//  5. Flag overrides
//
// The process environment is never modified.
func Load(in Input) (Config, error) {
	workDir := in.WorkDir
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	cfg := DefaultConfig()

	globalPath := globalConfigPath(in.Env)
	if globalPath != "" {
		globalCfg, loaded, err := loadFile(globalPath, false)
		if err != nil {
			return Config{}, err
		}

		if loaded {
			cfg.Sources.Global = globalPath
			cfg = merge(cfg, globalCfg)
		}
	}

	projectPath, mustExist := filepath.Join(workDir, ProjectFileName), false
	if in.ConfigPath != "" {
		projectPath, mustExist = in.ConfigPath, true
		if !filepath.IsAbs(projectPath) {
			projectPath = filepath.Join(workDir, projectPath)
		}
	}

	projectCfg, loaded, err := loadFile(projectPath, mustExist)
	if err != nil {
		return Config{}, err
	}

	if loaded {
		cfg.Sources.Project = projectPath
		cfg = merge(cfg, projectCfg)
	}

	env, dotEnvPath, err := environment(workDir, in.Env)
	if err != nil {
		return Config{}, err
	}

	cfg.Sources.DotEnv = dotEnvPath
	cfg = merge(cfg, fromEnv(env))

	cfg = merge(cfg, Config{
		Backend:  in.Flags.Backend,
		Path:     in.Flags.Path,
		URL:      in.Flags.URL,
		Username: in.Flags.Username,
		Password: in.Flags.Password,
	})

	if err := resolve(&cfg, workDir); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// loadFile parses a JSONC config file. Missing optional files report
// loaded=false.
func loadFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if mustExist {
				return Config{}, false, fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
			}

			return Config{}, false, nil
		}

		return Config{}, false, fmt.Errorf("%w %s: %w", ErrConfigFileRead, path, err)
	}

	cfg, err := parse(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	return cfg, true, nil
}

func parse(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config

	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return cfg, nil
}

// environment reads .env from workDir, if present, and overlays env on top.
func environment(workDir string, env map[string]string) (map[string]string, string, error) {
	path := filepath.Join(workDir, DotEnvFileName)

	merged, err := godotenv.Read(path)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		merged, path = map[string]string{}, ""
	default:
		return nil, "", fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	for k, v := range env {
		merged[k] = v
	}

	return merged, path, nil
}

func fromEnv(env map[string]string) Config {
	return Config{
		Backend:  env[EnvBackend],
		Path:     env[EnvPath],
		URL:      env[EnvURL],
		Username: env[EnvUsername],
		Password: env[EnvPassword],
		Codec:    env[EnvCodec],
		LogLevel: env[EnvLogLevel],
	}
}

func merge(base, overlay Config) Config {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}

	set(&base.Backend, overlay.Backend)
	set(&base.Path, overlay.Path)
	set(&base.URL, overlay.URL)
	set(&base.Username, overlay.Username)
	set(&base.Password, overlay.Password)
	set(&base.Codec, overlay.Codec)
	set(&base.LogLevel, overlay.LogLevel)
	set(&base.Timeout, overlay.Timeout)
	set(&base.KnownHosts, overlay.KnownHosts)

	if overlay.InsecureSkipHostKey {
		base.InsecureSkipHostKey = true
	}

	return base
}

// resolve validates cfg and fills in the computed fields.
func resolve(cfg *Config, workDir string) error {
	backends := []string{BackendLocal, BackendRemote, BackendSQLite}
	if !slices.Contains(backends, cfg.Backend) {
		return fmt.Errorf("%w: backend %q (want one of %v)", ErrInvalid, cfg.Backend, backends)
	}

	if cfg.Path == "" {
		return fmt.Errorf("%w: path cannot be empty", ErrInvalid)
	}

	if cfg.Backend == BackendRemote && cfg.URL == "" {
		return fmt.Errorf("%w: remote backend requires url", ErrInvalid)
	}

	if !slices.Contains(doccache.CodecNames(), cfg.Codec) {
		return fmt.Errorf("%w: codec %q (want one of %v)", ErrInvalid, cfg.Codec, doccache.CodecNames())
	}

	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("%w: log_level: %w", ErrInvalid, err)
	}

	cfg.Level = level
	cfg.EffectiveCwd = workDir

	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil || d <= 0 {
			return fmt.Errorf("%w: timeout %q must be a positive duration", ErrInvalid, cfg.Timeout)
		}

		cfg.TimeoutDuration = d
	}

	switch {
	case cfg.Backend == BackendRemote:
		cfg.PathAbs = cfg.Path
	case filepath.IsAbs(cfg.Path):
		cfg.PathAbs = cfg.Path
	default:
		cfg.PathAbs = filepath.Join(workDir, cfg.Path)
	}

	return nil
}

// Redacted returns a copy of cfg with the password masked.
func (c Config) Redacted() Config {
	if c.Password != "" {
		c.Password = "********"
	}

	return c
}

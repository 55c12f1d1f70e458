package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
)

// Load reads the configuration file, applies defaults, loads the project
// descriptor and validates the result. A missing file is only tolerated for the
// default file name, in which case the defaults are used as-is.
func Load(configPath string) (*Config, error) {
	loadEnvFiles()

	cfg := Default()
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, errors.WrapError(err, errors.CategoryConfig, "failed to unmarshal config").
				Fatal().WithContext("file", configPath).Build()
		}
	case os.IsNotExist(err) && filepath.Base(configPath) == DefaultConfigFile:
		slog.Debug("No configuration file found, using defaults", "path", configPath)
	case os.IsNotExist(err):
		return nil, errors.ConfigError("configuration file not found").WithContext("file", configPath).Build()
	default:
		return nil, errors.WrapError(err, errors.CategoryFileSystem, "failed to read config file").
			WithContext("file", configPath).Build()
	}

	base, err := filepath.Abs(filepath.Dir(configPath))
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryConfig, "resolve config directory").Build()
	}
	cfg.BaseDir = base

	project, err := LoadProject(cfg.Resolve(cfg.ProjectFile))
	if err != nil {
		return nil, err
	}
	cfg.Project = project

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadEnvFiles loads .env and .env.local. Existing process variables win.
func loadEnvFiles() {
	for _, name := range []string{".env", ".env.local"} {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		if err := godotenv.Load(name); err != nil {
			slog.Warn("Failed to load env file", "file", name, "error", err)
			continue
		}
		slog.Debug("Loaded environment variables", "file", name)
	}
}

// LoadProject reads the project descriptor. A missing descriptor yields a
// project named after its directory with every flag off.
func LoadProject(path string) (Project, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		abs, _ := filepath.Abs(filepath.Dir(path))
		return Project{Name: filepath.Base(abs)}, nil
	}
	if err != nil {
		return Project{}, errors.WrapError(err, errors.CategoryFileSystem, "failed to read project descriptor").
			WithContext("file", path).Build()
	}
	var p Project
	if err := json.Unmarshal(data, &p); err != nil {
		return Project{}, errors.WrapError(err, errors.CategoryConfig, "invalid project descriptor").
			Fatal().WithContext("file", path).Build()
	}
	return p, nil
}

// Resolve anchors a configured path on BaseDir.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.BaseDir == "" {
		return filepath.Clean(p)
	}
	return filepath.Join(c.BaseDir, p)
}

// CacheID returns the identifier used for the service worker cache.
func (c *Config) CacheID() string {
	switch {
	case c.ServiceWorker.CacheID != "":
		return c.ServiceWorker.CacheID
	case c.Project.Name != "":
		return c.Project.Name
	default:
		return c.Project.Description
	}
}

// PagespeedURL returns the audited URL.
func (c *Config) PagespeedURL() string {
	if c.Pagespeed.URL != "" {
		return c.Pagespeed.URL
	}
	return c.Project.URL
}

// Init writes an example configuration file.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return errors.ConfigError(fmt.Sprintf("configuration file already exists: %s (use --force to overwrite)", configPath)).Build()
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return errors.WrapError(err, errors.CategoryInternal, "marshal example config").Build()
	}
	header := []byte("# assetbuilder configuration\n# Paths are relative to this file.\n")
	if err := os.WriteFile(configPath, append(header, data...), 0o600); err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, "write config file").WithContext("file", configPath).Build()
	}
	slog.Info("Configuration file created", "path", configPath)
	return nil
}

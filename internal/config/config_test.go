package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestLoadAppliesDefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "assetbuilder.yaml")
	writeFile(t, cfgPath, `
paths:
  dist: ./public
styles:
  output_style: compressed
browsers: ["chrome >= 60"]
`)
	writeFile(t, filepath.Join(dir, "package.json"), `{"name":"salmon","production":true,"url":"https://example.com"}`)

	cfg, err := Load(cfgPath)
	require.NoError(t, err)

	assert.Equal(t, "./public", cfg.Paths.Dist)
	assert.Equal(t, "./app/css/", cfg.Paths.Styles, "unset fields keep defaults")
	assert.Equal(t, "compressed", cfg.Styles.OutputStyle)
	assert.Equal(t, []string{"chrome >= 60"}, cfg.Browsers)
	assert.Equal(t, dir, cfg.BaseDir)
	assert.Equal(t, filepath.Join(dir, "public"), cfg.Resolve(cfg.Paths.Dist))
	assert.True(t, cfg.Project.Production)
	assert.Equal(t, "salmon", cfg.CacheID())
	assert.Equal(t, "https://example.com", cfg.PagespeedURL())
}

func TestLoadExpandsEnvironment(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "custom.yaml")
	t.Setenv("ASSETBUILDER_TEST_NATS", "nats://127.0.0.1:4222")
	writeFile(t, cfgPath, "notify:\n  mode: nats\n  nats_url: ${ASSETBUILDER_TEST_NATS}\n")

	cfg, err := Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.Notify.NATSURL)
}

func TestLoadMissingFiles(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(filepath.Join(dir, DefaultConfigFile))
	require.NoError(t, err, "missing default config falls back to defaults")
	assert.Equal(t, filepath.Base(dir), cfg.Project.Name)
	assert.False(t, cfg.Project.Production)

	_, err = Load(filepath.Join(dir, "other.yaml"))
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryConfig))
}

func TestLoadRejectsInvalidProject(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "package.json"), "{not json")

	_, err := Load(filepath.Join(dir, DefaultConfigFile))
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryConfig))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad style", func(c *Config) { c.Styles.OutputStyle = "compact" }},
		{"empty dist", func(c *Config) { c.Paths.Dist = "" }},
		{"port out of range", func(c *Config) { c.Serve.Port = 70000 }},
		{"unknown notify mode", func(c *Config) { c.Notify.Mode = "desktop" }},
		{"nats without url", func(c *Config) { c.Notify.Mode = NotifyNATS }},
		{"bad strategy", func(c *Config) { c.Pagespeed.Strategy = "tablet" }},
		{"bad schedule", func(c *Config) { c.Pagespeed.Schedule = "hourly" }},
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }},
		{"unknown backoff", func(c *Config) { c.Pagespeed.Backoff = "random" }},
		{"negative retries", func(c *Config) { c.Pagespeed.Retries = -1 }},
	}
	require.NoError(t, Default().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.HasCategory(err, errors.CategoryValidation))
		})
	}
}

func TestDefaultStyleIsExpanded(t *testing.T) {
	assert.Equal(t, "expanded", Default().Styles.OutputStyle, "only production builds minify styles")
}

func TestPagespeedInterval(t *testing.T) {
	cfg := Default()
	assert.Zero(t, cfg.PagespeedInterval())
	cfg.Pagespeed.Schedule = "30m"
	assert.Equal(t, "30m0s", cfg.PagespeedInterval().String())
}

func TestInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assetbuilder.yaml")
	require.NoError(t, Init(path, false))
	require.Error(t, Init(path, false), "existing file is not overwritten")
	require.NoError(t, Init(path, true))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default().Paths, cfg.Paths)
	assert.Equal(t, Default().Pagespeed, cfg.Pagespeed)
}

func TestLoadNormalizesEnumerations(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "assetbuilder.yaml")
	writeFile(t, cfgPath, "styles:\n  output_style: Expanded\npagespeed:\n  strategy: ' DESKTOP'\n  backoff: Linear\n")

	cfg, err := Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "expanded", cfg.Styles.OutputStyle)
	assert.Equal(t, "desktop", cfg.Pagespeed.Strategy)
	assert.Equal(t, "linear", cfg.Pagespeed.Backoff)
}

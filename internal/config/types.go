package config

import "time"

// Config represents the assetbuilder configuration.
// It is read once at startup and never mutated afterwards.
type Config struct {
	Paths         PathsConfig         `yaml:"paths"`
	Browsers      []string            `yaml:"browsers"`
	Styles        StylesConfig        `yaml:"styles"`
	Scripts       ScriptsConfig       `yaml:"scripts"`
	Images        ImagesConfig        `yaml:"images"`
	Copy          CopyConfig          `yaml:"copy"`
	HTML          HTMLConfig          `yaml:"html"`
	ServiceWorker ServiceWorkerConfig `yaml:"service_worker"`
	Serve         ServeConfig         `yaml:"serve"`
	Pagespeed     PagespeedConfig     `yaml:"pagespeed"`
	Notify        NotifyConfig        `yaml:"notify"`
	Cache         CacheConfig         `yaml:"cache"`
	Lint          LintConfig          `yaml:"lint"`
	Concurrency   int                 `yaml:"concurrency"`
	ProjectFile   string              `yaml:"project_file"`

	// BaseDir anchors every relative path. Load sets it to the directory of the
	// configuration file.
	BaseDir string `yaml:"-"`
	// Project is populated from ProjectFile by Load.
	Project Project `yaml:"-"`
}

// PathsConfig names the source and output directories of the project.
type PathsConfig struct {
	App     string   `yaml:"app"`
	Styles  string   `yaml:"styles"`
	Scripts string   `yaml:"scripts"`
	Images  string   `yaml:"images"`
	Fonts   string   `yaml:"fonts"`
	Vendor  []string `yaml:"vendor"` // extra style include paths
	Dist    string   `yaml:"dist"`
	Tmp     string   `yaml:"tmp"`
}

// StylesConfig configures the style compilation stage.
type StylesConfig struct {
	OutputStyle string `yaml:"output_style"` // compressed, expanded, nested
	Precision   int    `yaml:"precision"`
	// Compiler is the Dart Sass executable speaking the embedded protocol.
	Compiler string `yaml:"compiler"`
}

// ScriptsConfig configures the script stage.
type ScriptsConfig struct {
	Target  string `yaml:"target"`   // esbuild target, e.g. es2015
	DistDir string `yaml:"dist_dir"` // relative to paths.dist
}

// ImagesConfig configures the image optimisation stage.
type ImagesConfig struct {
	JPEGQuality  int `yaml:"jpeg_quality"`
	MaxDimension int `yaml:"max_dimension"` // 0 disables down-scaling
}

// CopyConfig configures the copy stage.
type CopyConfig struct {
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
	// ServerConfig points at an Apache config to ship; empty uses the built-in one.
	ServerConfig     string `yaml:"server_config"`
	ServerConfigName string `yaml:"server_config_name"`
}

// HTMLConfig configures the build-block (useref) stage.
type HTMLConfig struct {
	Pages []string `yaml:"pages"`
}

// ServiceWorkerConfig configures offline manifest generation.
type ServiceWorkerConfig struct {
	Output        string   `yaml:"output"`
	CacheID       string   `yaml:"cache_id"`
	ImportScripts []string `yaml:"import_scripts"`
	StaticGlobs   []string `yaml:"static_globs"`
}

// ServeConfig configures the development servers.
type ServeConfig struct {
	Host      string   `yaml:"host"`
	Port      int      `yaml:"port"`
	DistPort  int      `yaml:"dist_port"`
	Roots     []string `yaml:"roots"`
	LogPrefix string   `yaml:"log_prefix"`
	Metrics   bool     `yaml:"metrics"`
}

// PagespeedConfig configures the optional page performance audit.
type PagespeedConfig struct {
	URL       string `yaml:"url"` // overrides the project url
	Strategy  string `yaml:"strategy"`
	APIKey    string `yaml:"api_key"`
	Endpoint  string `yaml:"endpoint"`
	Schedule  string `yaml:"schedule"` // Go duration, empty disables
	InDefault bool   `yaml:"in_default"`
	Retries   int    `yaml:"retries"`
	// Backoff is fixed, linear or exponential.
	Backoff    string        `yaml:"backoff"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	Timeout    time.Duration `yaml:"timeout"`
}

// NotifyConfig selects where notify-policy failures are reported.
type NotifyConfig struct {
	Mode    string `yaml:"mode"` // console or nats
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// CacheConfig configures the staleness cache. An empty path keeps it in memory.
type CacheConfig struct {
	Path string `yaml:"path"`
}

// LintConfig configures both linters.
type LintConfig struct {
	Styles  StyleLintConfig  `yaml:"styles"`
	Scripts ScriptLintConfig `yaml:"scripts"`
}

type StyleLintConfig struct {
	Config      string `yaml:"config"`
	FailOnError bool   `yaml:"fail_on_error"`
}

type ScriptLintConfig struct {
	FailOnError bool `yaml:"fail_on_error"`
	MaxLen      int  `yaml:"max_len"`
}

// Project mirrors the fields read from the project descriptor (package.json).
type Project struct {
	Name             string `json:"name"`
	Description      string `json:"description"`
	URL              string `json:"url"`
	Debug            bool   `json:"debug"`
	Production       bool   `json:"production"`
	NotifyViaConsole bool   `json:"notifyViaConsole"`
	EnableSync       bool   `json:"enableSync"`
}

// Notify modes.
const (
	NotifyConsole = "console"
	NotifyNATS    = "nats"
)

package config

import "time"

// DefaultConfigFile is the configuration file looked up when -c is not given.
const DefaultConfigFile = "assetbuilder.yaml"

// Default returns the configuration used when no file overrides a field.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			App:     "./app/",
			Styles:  "./app/css/",
			Scripts: "./app/javascript/salmon/modules/",
			Images:  "./app/images/",
			Fonts:   "./app/css/font/",
			Vendor:  []string{"./bower_components", "./node_modules"},
			Dist:    "./dist",
			Tmp:     ".tmp",
		},
		Browsers: []string{
			"last 3 versions", "ie >= 8", "ie_mob >= 10", "ff >= 21", "chrome >= 28",
			"safari >= 6", "opera >= 11", "ios >= 7", "android >= 4.4", "bb >= 10", "> 1%",
		},
		Styles: StylesConfig{
			OutputStyle: "expanded",
			Precision:   10,
			Compiler:    "sass",
		},
		Scripts: ScriptsConfig{
			Target:  "es2015",
			DistDir: "scripts",
		},
		Images: ImagesConfig{
			JPEGQuality: 85,
		},
		Copy: CopyConfig{
			Include:          []string{"**"},
			Exclude:          []string{"Magento/**", "*.html"},
			ServerConfigName: ".htaccess",
		},
		HTML: HTMLConfig{
			Pages: []string{"*.html"},
		},
		ServiceWorker: ServiceWorkerConfig{
			Output:        "./dist/service-worker.js",
			ImportScripts: []string{"./node_modules/sw-toolbox/sw-toolbox.js", "runtime-caching.js"},
			StaticGlobs: []string{
				"images/**/*.{gif,jpg,png,svg}",
				"javascript/salmon/modules/**/*.js",
				"css/**/*.css",
				"**/*.{php,jsp,jspf,htm,html}",
			},
		},
		Serve: ServeConfig{
			Host:      "localhost",
			Port:      3000,
			DistPort:  3001,
			Roots:     []string{".tmp", "./app/"},
			LogPrefix: "WSK",
		},
		Pagespeed: PagespeedConfig{
			Strategy:   "mobile",
			Endpoint:   "https://www.googleapis.com/pagespeedonline/v5/runPagespeed",
			Retries:    2,
			Backoff:    "exponential",
			RetryDelay: time.Second,
			Timeout:    60 * time.Second,
		},
		Notify: NotifyConfig{
			Mode:    NotifyConsole,
			Subject: "assetbuilder.errors",
		},
		Lint: LintConfig{
			Styles:  StyleLintConfig{Config: "lint.yml"},
			Scripts: ScriptLintConfig{FailOnError: true, MaxLen: 80},
		},
		Concurrency: 6,
		ProjectFile: "package.json",
	}
}

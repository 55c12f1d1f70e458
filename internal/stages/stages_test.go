package stages

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/assetbuilder/internal/assets"
	"git.home.luguber.info/inful/assetbuilder/internal/config"
	ferrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuilder/internal/notify"
	"git.home.luguber.info/inful/assetbuilder/internal/pipeline"
)

var importLine = regexp.MustCompile(`(?m)^\s*@import[^;]*;\s*$`)

// fakeSass strips imports and returns the rest as CSS.
type fakeSass struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeSass) Compile(_ context.Context, req assets.StyleRequest) (assets.StyleResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, filepath.Base(req.Path))
	f.mu.Unlock()
	if strings.Contains(req.Source, "@error") {
		return assets.StyleResult{}, errors.New("Error: broken")
	}
	return assets.StyleResult{CSS: importLine.ReplaceAllString(req.Source, "")}, nil
}

func (f *fakeSass) Close() error { return nil }

func (f *fakeSass) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Notify(_ context.Context, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingNotifier) files() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		out = append(out, ev.File)
	}
	return out
}

type fixture struct {
	root        string
	cfg         *config.Config
	env         *Env
	sass        *fakeSass
	notifier    *recordingNotifier
	out         *bytes.Buffer
	interactive bool
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testRun() *pipeline.Run { return &pipeline.Run{ID: "run-1", Logger: quiet()} }

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.BaseDir = root
	cfg.Project = config.Project{Name: "salmon"}
	if mutate != nil {
		mutate(cfg)
	}
	f := &fixture{root: root, cfg: cfg, sass: &fakeSass{}, notifier: &recordingNotifier{}, out: &bytes.Buffer{}}
	env, err := New(cfg,
		WithStyleCompiler(f.sass),
		WithPlumber(&notify.Plumber{Notifier: f.notifier, Project: "salmon", Logger: quiet()}),
		WithInteractive(func() bool { return f.interactive }),
		WithOutput(f.out),
		WithRevision(func(string) (string, error) { return "abc1234", nil }),
	)
	require.NoError(t, err)
	f.env = env
	return f
}

func (f *fixture) write(t *testing.T, rel, content string) string {
	t.Helper()
	p := filepath.Join(f.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o750))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func (f *fixture) read(t *testing.T, rel string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(f.root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(b)
}

func (f *fixture) exists(rel string) bool {
	_, err := os.Stat(filepath.Join(f.root, filepath.FromSlash(rel)))
	return err == nil
}

func TestCleanKeepsDistGit(t *testing.T) {
	f := newFixture(t, nil)
	f.write(t, "dist/.git/HEAD", "ref")
	f.write(t, "dist/scripts/app.min.js", "x")
	f.write(t, "dist/index.html", "x")
	f.write(t, ".tmp/styles/main.css", "x")

	require.NoError(t, f.env.Clean(t.Context(), testRun()))
	assert.True(t, f.exists("dist/.git/HEAD"))
	assert.False(t, f.exists("dist/scripts"))
	assert.False(t, f.exists("dist/index.html"))
	assert.False(t, f.exists(".tmp"))

	require.NoError(t, os.RemoveAll(filepath.Join(f.root, "dist")))
	require.NoError(t, f.env.Clean(t.Context(), testRun()), "missing dist is fine")
}

func TestSassCompilesNonPartialsNextToSource(t *testing.T) {
	f := newFixture(t, nil)
	f.write(t, "app/css/_vars.scss", ".v { color: red; }\n")
	f.write(t, "app/css/main.scss", "@import 'vars';\n.a { user-select: none; }\n")
	f.write(t, "app/css/pages/home.sass", ".h { color: blue; }\n")

	require.NoError(t, f.env.Sass(t.Context(), testRun()))
	assert.Equal(t, 2, f.sass.count())
	assert.Contains(t, f.read(t, "app/css/main.css"), "user-select")
	assert.True(t, f.exists("app/css/pages/home.css"))
	assert.False(t, f.exists("app/css/_vars.css"))
	assert.False(t, f.exists("app/css/main.css.map"), "no source maps without debug")

	require.NoError(t, f.env.Sass(t.Context(), testRun()))
	assert.Equal(t, 2, f.sass.count(), "unchanged sources are skipped")

	f.write(t, "app/css/_vars.scss", ".v { color: green; }\n")
	require.NoError(t, f.env.Sass(t.Context(), testRun()))
	assert.Equal(t, 3, f.sass.count(), "changing a partial recompiles its importer only")
	assert.Equal(t, "main.scss", f.sass.calls[2])
}

func TestSassDebugWritesSourceMap(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Project.Debug = true })
	f.write(t, "app/css/main.scss", ".a { color: red; }\n")

	require.NoError(t, f.env.Sass(t.Context(), testRun()))
	assert.True(t, f.exists("app/css/main.css.map"))
	assert.Contains(t, f.read(t, "app/css/main.css"), "sourceMappingURL=main.css.map")
}

func TestSassFailureIsIgnoredPerFile(t *testing.T) {
	f := newFixture(t, nil)
	f.write(t, "app/css/bad.scss", "@error 'nope';\n")
	f.write(t, "app/css/good.scss", ".a { color: red; }\n")

	require.NoError(t, f.env.Sass(t.Context(), testRun()))
	assert.False(t, f.exists("app/css/bad.css"))
	assert.True(t, f.exists("app/css/good.css"))
	assert.Empty(t, f.notifier.files(), "sass errors use the ignore policy")
}

func TestScssLintFailsOnlyWhenNotInteractive(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Lint.Styles.FailOnError = true })
	f.write(t, "lint.yml", "linters:\n  IdSelector:\n    severity: error\n")
	f.write(t, "app/css/main.scss", "#header { color: red; }\n")

	err := f.env.ScssLint(t.Context(), testRun())
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryLint))
	assert.Contains(t, f.out.String(), "main.scss")

	f.interactive = true
	require.NoError(t, f.env.ScssLint(t.Context(), testRun()))
}

func TestScssLintPassesByDefault(t *testing.T) {
	f := newFixture(t, nil)
	f.write(t, "app/css/main.scss", "#header { color: red !important; }\n")
	require.NoError(t, f.env.ScssLint(t.Context(), testRun()))
}

func TestJSLint(t *testing.T) {
	f := newFixture(t, nil)
	f.write(t, "app/javascript/salmon/modules/app.js", "var x = 1;\n")
	f.write(t, "app/javascript/salmon/modules/vendor.min.js", "var y=2;\n")

	err := f.env.JSLint(t.Context(), testRun())
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryLint))
	assert.Contains(t, f.out.String(), "no-var")
	assert.NotContains(t, f.out.String(), "vendor.min.js")

	f.interactive = true
	require.NoError(t, f.env.JSLint(t.Context(), testRun()), "failing files are linted again and tolerated")
}

func TestJSLintWarningsDoNotFail(t *testing.T) {
	f := newFixture(t, nil)
	f.write(t, "app/javascript/salmon/modules/app.js", "const x = 1;\nif (x == 1) {\n  console.log(x);\n}\n")
	require.NoError(t, f.env.JSLint(t.Context(), testRun()))
	assert.Contains(t, f.out.String(), "eqeqeq")
}

func TestJSMinWritesInPlaceAndToDist(t *testing.T) {
	f := newFixture(t, nil)
	f.write(t, "app/javascript/salmon/modules/app.js", "const greeting = 'hello';\nconsole.log(greeting);\n")
	f.write(t, "app/javascript/salmon/modules/nested/util.js", "/*! keep me */\nexport const id = (v) => v;\n")
	f.write(t, "app/javascript/salmon/modules/vendor.min.js", "var y=2;\n")
	f.write(t, "app/javascript/salmon/modules/broken.js", "const = ;\n")

	require.NoError(t, f.env.JSMin(t.Context(), testRun()))

	inPlace := f.read(t, "app/javascript/salmon/modules/app.min.js")
	assert.Contains(t, inPlace, "hello")
	assert.Equal(t, inPlace, f.read(t, "dist/scripts/app.min.js"))
	assert.Contains(t, f.read(t, "dist/scripts/nested/util.min.js"), "keep me")
	assert.False(t, f.exists("app/javascript/salmon/modules/vendor.min.min.js"))
	assert.Equal(t, []string{"broken.js"}, f.notifier.files())
}

func TestImagesOptimiseInPlace(t *testing.T) {
	f := newFixture(t, nil)
	svg := `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 10 10">
  <!-- a comment -->
  <rect width="10" height="10" />
</svg>
`
	f.write(t, "app/images/logo.svg", svg)
	f.write(t, "app/images/broken.png", "not a png")

	require.NoError(t, f.env.Images(t.Context(), testRun()))
	out := f.read(t, "app/images/logo.svg")
	assert.Less(t, len(out), len(svg))
	assert.Contains(t, out, "viewBox")
	assert.Equal(t, "not a png", f.read(t, "app/images/broken.png"))
	assert.Equal(t, []string{"broken.png"}, f.notifier.files())
}

func TestProductionMinifiesAndReportsSizes(t *testing.T) {
	for _, production := range []bool{false, true} {
		t.Run(map[bool]string{false: "development", true: "production"}[production], func(t *testing.T) {
			f := newFixture(t, func(c *config.Config) { c.Project.Production = production })
			f.write(t, "app/css/main.scss", ".a { color: red; }\n")
			f.write(t, "app/javascript/salmon/modules/app.js", "console.log('hi');\n")
			f.write(t, "app/images/logo.svg", `<svg xmlns="http://www.w3.org/2000/svg"><!-- c --><rect width="1" height="1" /></svg>`)

			var logs bytes.Buffer
			run := &pipeline.Run{ID: "run-1", Logger: slog.New(slog.NewTextHandler(&logs, nil))}
			require.NoError(t, f.env.Sass(t.Context(), run))
			require.NoError(t, f.env.JSMin(t.Context(), run))
			require.NoError(t, f.env.Images(t.Context(), run))

			css := f.read(t, "app/css/main.css")
			if production {
				assert.Contains(t, css, ".a{color:red}")
			} else {
				assert.Contains(t, css, "color: red")
			}
			for _, title := range []string{"styles", "scripts", "images"} {
				assert.Equal(t, production, strings.Contains(logs.String(), title+" all files"), title)
			}
		})
	}
}

func TestCopy(t *testing.T) {
	f := newFixture(t, nil)
	f.write(t, "app/index.html", "<p>top</p>")
	f.write(t, "app/pages/about.html", "<p>about</p>")
	f.write(t, "app/.well-known/security.txt", "contact")
	f.write(t, "app/Magento/skin.css", "x")
	f.write(t, "app/theme/Magento/skin.css", "x")
	f.write(t, "app/css/main.css", "a{}")

	require.NoError(t, f.env.Copy(t.Context(), testRun()))
	assert.False(t, f.exists("dist/index.html"), "top-level pages come from the html task")
	assert.True(t, f.exists("dist/pages/about.html"))
	assert.True(t, f.exists("dist/.well-known/security.txt"))
	assert.False(t, f.exists("dist/Magento/skin.css"), "the app's Magento tree stays out of dist")
	assert.True(t, f.exists("dist/theme/Magento/skin.css"))
	assert.Equal(t, "a{}", f.read(t, "dist/css/main.css"))
	assert.Equal(t, string(defaultServerConfig), f.read(t, "dist/.htaccess"))
}

func TestCopyCustomServerConfig(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Copy.ServerConfig = "server/.htaccess" })
	f.write(t, "server/.htaccess", "Options -Indexes\n")
	require.NoError(t, f.env.Copy(t.Context(), testRun()))
	assert.Equal(t, "Options -Indexes\n", f.read(t, "dist/.htaccess"))
}

const page = `<html>
<head>
  <!-- build:css styles/main.min.css -->
  <link rel="stylesheet" href="css/main.css">
  <!-- endbuild -->
</head>
<body>
  <p>hello</p>
</body>
</html>
`

func TestHTMLBuildsPages(t *testing.T) {
	f := newFixture(t, nil)
	f.write(t, "app/index.html", page)
	f.write(t, "app/css/main.css", ".a {\n  color: #ff0000;\n}\n")

	require.NoError(t, f.env.HTML(t.Context(), testRun()))
	out := f.read(t, "dist/index.html")
	assert.Contains(t, out, `href="styles/main.min.css"`)
	assert.Contains(t, out, "\n  <p>hello</p>\n", "pages are not minified outside production")
	assert.Equal(t, ".a{color:red}", f.read(t, "dist/styles/main.min.css"))
}

func TestHTMLProductionMinifiesAndPlumbsFailures(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Project.Production = true })
	f.write(t, "app/index.html", page)
	f.write(t, "app/css/main.css", ".a { color: red; }\n")
	f.write(t, "app/broken.html", "<!-- build:js out.js --><script src=\"missing.js\"></script><!-- endbuild -->")

	require.NoError(t, f.env.HTML(t.Context(), testRun()))
	assert.NotContains(t, f.read(t, "dist/index.html"), "\n  <p>")
	assert.False(t, f.exists("dist/broken.html"))
	assert.Equal(t, []string{"broken.html"}, f.notifier.files())
}

func TestServiceWorker(t *testing.T) {
	f := newFixture(t, nil)
	f.write(t, "node_modules/sw-toolbox/sw-toolbox.js", "toolbox")
	f.write(t, "app/images/logo.svg", "<svg/>")
	f.write(t, "app/index.html", "<p>")

	require.NoError(t, f.env.CopySWScripts(t.Context(), testRun()))
	assert.Equal(t, "toolbox", f.read(t, "dist/scripts/sw-toolbox.js"))
	assert.Equal(t, []string{"runtime-caching.js"}, f.notifier.files())

	require.NoError(t, f.env.GSW(t.Context(), testRun()))
	sw := f.read(t, "dist/service-worker.js")
	assert.Contains(t, sw, `"salmon-abc1234"`)
	assert.Contains(t, sw, `"images/logo.svg"`)
	assert.Contains(t, sw, `importScripts("scripts/sw-toolbox.js");`)
}

func TestWriterRefusesOutsideRoots(t *testing.T) {
	f := newFixture(t, nil)
	w := f.env.newWriter("test", nil, filepath.Join(f.root, "dist"))
	require.NoError(t, w.write(filepath.Join(f.root, "dist", "a.txt"), []byte("a"), 0))
	err := w.write(filepath.Join(f.root, "app", "a.txt"), []byte("a"), 0)
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryInternal))
	assert.False(t, f.exists("app/a.txt"))
}

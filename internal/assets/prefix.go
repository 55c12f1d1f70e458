package assets

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

var browserQuery = regexp.MustCompile(`^\s*([a-z_]+)\s*>=\s*([\d.]+)\s*$`)

var browserEngines = map[string]api.EngineName{
	"chrome":  api.EngineChrome,
	"edge":    api.EngineEdge,
	"ff":      api.EngineFirefox,
	"firefox": api.EngineFirefox,
	"ie":      api.EngineIE,
	"ios":     api.EngineIOS,
	"ios_saf": api.EngineIOS,
	"opera":   api.EngineOpera,
	"safari":  api.EngineSafari,
}

// ParseBrowsers converts a browserslist style list into esbuild engines.
// Queries without an engine equivalent ("last 3 versions", "> 1%", "bb >= 10")
// are returned in skipped.
func ParseBrowsers(list []string) (engines []api.Engine, skipped []string) {
	for _, q := range list {
		m := browserQuery.FindStringSubmatch(strings.ToLower(q))
		if m == nil {
			skipped = append(skipped, q)
			continue
		}
		name, ok := browserEngines[m[1]]
		if !ok {
			skipped = append(skipped, q)
			continue
		}
		engines = append(engines, api.Engine{Name: name, Version: m[2]})
	}
	return engines, skipped
}

// Prefixer adds vendor prefixes for the configured browsers.
type Prefixer struct {
	engines []api.Engine
	skipped []string
}

func NewPrefixer(browsers []string) *Prefixer {
	engines, skipped := ParseBrowsers(browsers)
	return &Prefixer{engines: engines, skipped: skipped}
}

// Skipped lists the browser queries the prefixer cannot honour.
func (p *Prefixer) Skipped() []string { return p.skipped }

// PrefixOptions tunes a single Prefix call.
type PrefixOptions struct {
	// SourceMap honours an inline input map in css and returns an external map.
	SourceMap bool
	// Minify compresses the output in the same pass so the map stays exact.
	Minify bool
}

// Prefix rewrites css for the target engines.
func (p *Prefixer) Prefix(css []byte, file string, po PrefixOptions) (out, outMap []byte, err error) {
	opts := api.TransformOptions{
		Loader:           api.LoaderCSS,
		Engines:          p.engines,
		Sourcefile:       file,
		LegalComments:    api.LegalCommentsInline,
		LogLevel:         api.LogLevelSilent,
		MinifyWhitespace: po.Minify,
		MinifySyntax:     po.Minify,
	}
	if po.SourceMap {
		opts.Sourcemap = api.SourceMapExternal
	}
	res := api.Transform(string(css), opts)
	if len(res.Errors) > 0 {
		return nil, nil, messagesError(file, res.Errors)
	}
	return res.Code, res.Map, nil
}

func messagesError(file string, msgs []api.Message) error {
	first := msgs[0]
	line := 0
	if first.Location != nil {
		line = first.Location.Line
	}
	if len(msgs) == 1 {
		return fmt.Errorf("%s:%d: %s", file, line, first.Text)
	}
	return fmt.Errorf("%s:%d: %s (and %d more)", file, line, first.Text, len(msgs)-1)
}

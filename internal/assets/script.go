package assets

import (
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

var scriptTargets = map[string]api.Target{
	"es5":    api.ES5,
	"es2015": api.ES2015,
	"es6":    api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
	"esnext": api.ESNext,
}

// ParseTarget resolves a configured language target.
func ParseTarget(name string) (api.Target, error) {
	t, ok := scriptTargets[strings.ToLower(name)]
	if !ok {
		return api.DefaultTarget, fmt.Errorf("unknown script target %q", name)
	}
	return t, nil
}

// ScriptOptions tunes a single transform.
type ScriptOptions struct {
	Minify    bool
	SourceMap bool
}

// ScriptTransformer transpiles scripts down to a language target.
type ScriptTransformer struct {
	target api.Target
}

func NewScriptTransformer(target string) (*ScriptTransformer, error) {
	t, err := ParseTarget(target)
	if err != nil {
		return nil, err
	}
	return &ScriptTransformer{target: t}, nil
}

// Transform transpiles src. Legal comments (/*! ... */) are kept inline.
func (s *ScriptTransformer) Transform(src []byte, file string, opts ScriptOptions) (code, sourceMap []byte, err error) {
	topts := api.TransformOptions{
		Loader:            api.LoaderJS,
		Target:            s.target,
		Sourcefile:        file,
		LegalComments:     api.LegalCommentsInline,
		LogLevel:          api.LogLevelSilent,
		MinifyWhitespace:  opts.Minify,
		MinifyIdentifiers: opts.Minify,
		MinifySyntax:      opts.Minify,
	}
	if opts.SourceMap {
		topts.Sourcemap = api.SourceMapExternal
	}
	res := api.Transform(string(src), topts)
	if len(res.Errors) > 0 {
		return nil, nil, messagesError(file, res.Errors)
	}
	return res.Code, res.Map, nil
}

// Package assets adapts the external transformation libraries used by the
// stages: style compiler, prefixer, minifiers, script transpiler and image
// codecs.
package assets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bep/godartsass/v2"
)

// StyleRequest is one stylesheet to compile.
type StyleRequest struct {
	Path         string // absolute source path
	Source       string
	OutputStyle  string // compressed, expanded or nested
	IncludePaths []string
	SourceMap    bool
}

// StyleResult holds the compiled stylesheet.
type StyleResult struct {
	CSS       string
	SourceMap string
}

// StyleCompiler compiles Sass and SCSS sources to CSS.
type StyleCompiler interface {
	Compile(ctx context.Context, req StyleRequest) (StyleResult, error)
	Close() error
}

// DartSass compiles through the Dart Sass embedded protocol. The compiler
// process is started on first use and shared by all callers.
type DartSass struct {
	binary string

	mu sync.Mutex
	tr *godartsass.Transpiler
}

// NewDartSass uses binary as the Dart Sass executable; empty means "sass" on PATH.
func NewDartSass(binary string) *DartSass {
	return &DartSass{binary: binary}
}

func (d *DartSass) transpiler() (*godartsass.Transpiler, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tr != nil && !d.tr.IsShutDown() {
		return d.tr, nil
	}
	tr, err := godartsass.Start(godartsass.Options{
		DartSassEmbeddedFilename: d.binary,
		LogEventHandler: func(ev godartsass.LogEvent) {
			slog.Warn("Sass", "message", ev.Message)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("start dart sass: %w", err)
	}
	d.tr = tr
	return tr, nil
}

// Compile implements StyleCompiler.
func (d *DartSass) Compile(ctx context.Context, req StyleRequest) (StyleResult, error) {
	if err := ctx.Err(); err != nil {
		return StyleResult{}, err
	}
	tr, err := d.transpiler()
	if err != nil {
		return StyleResult{}, err
	}
	res, err := tr.Execute(godartsass.Args{
		Source:          req.Source,
		URL:             fileURL(req.Path),
		SourceSyntax:    sourceSyntax(req.Path),
		OutputStyle:     OutputStyle(req.OutputStyle),
		IncludePaths:    req.IncludePaths,
		EnableSourceMap: req.SourceMap,
	})
	if err != nil {
		return StyleResult{}, err
	}
	return StyleResult{CSS: res.CSS, SourceMap: res.SourceMap}, nil
}

// Close stops the compiler process.
func (d *DartSass) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tr == nil {
		return nil
	}
	err := d.tr.Close()
	d.tr = nil
	if errors.Is(err, godartsass.ErrShutdown) {
		return nil
	}
	return err
}

// OutputStyle maps a configured style name. Dart Sass has no nested style, it
// falls back to expanded.
func OutputStyle(name string) godartsass.OutputStyle {
	if strings.EqualFold(name, "compressed") {
		return godartsass.OutputStyleCompressed
	}
	return godartsass.OutputStyleExpanded
}

func sourceSyntax(path string) godartsass.SourceSyntax {
	switch filepath.Ext(path) {
	case ".sass":
		return godartsass.SourceSyntaxSASS
	case ".css":
		return godartsass.SourceSyntaxCSS
	default:
		return godartsass.SourceSyntaxSCSS
	}
}

func fileURL(path string) string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return u.String()
}

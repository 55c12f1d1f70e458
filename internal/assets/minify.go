package assets

import (
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"
	"github.com/tdewolff/minify/v2/svg"
)

// Media types understood by Minifier.
const (
	MediaCSS  = "text/css"
	MediaJS   = "application/javascript"
	MediaSVG  = "image/svg+xml"
	MediaHTML = "text/html"
)

// Minifier wraps a tdewolff minifier configured for the asset types.
type Minifier struct {
	m *minify.M
}

func NewMinifier() *Minifier {
	m := minify.New()
	m.AddFunc(MediaCSS, css.Minify)
	m.AddFunc(MediaJS, js.Minify)
	m.AddFunc(MediaSVG, svg.Minify)
	m.Add(MediaHTML, &html.Minifier{
		KeepDocumentTags: true,
		KeepEndTags:      true,
		KeepQuotes:       true,
	})
	return &Minifier{m: m}
}

// Minify minifies b as mediatype.
func (mn *Minifier) Minify(mediatype string, b []byte) ([]byte, error) {
	return mn.m.Bytes(mediatype, b)
}

func (mn *Minifier) CSS(b []byte) ([]byte, error)  { return mn.Minify(MediaCSS, b) }
func (mn *Minifier) JS(b []byte) ([]byte, error)   { return mn.Minify(MediaJS, b) }
func (mn *Minifier) SVG(b []byte) ([]byte, error)  { return mn.Minify(MediaSVG, b) }
func (mn *Minifier) HTML(b []byte) ([]byte, error) { return mn.Minify(MediaHTML, b) }

// Package useref replaces build blocks in HTML pages by references to concatenated assets.
//
// A block looks like
//
//	<!-- build:js(app,.tmp) scripts/main.min.js -->
//	<script src="scripts/a.js"></script>
//	<script src="scripts/b.js"></script>
//	<!-- endbuild -->
//
// and becomes a single script tag pointing at scripts/main.min.js. Supported
// types are js, css and remove.
package useref

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	ferrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
)

// Block types.
const (
	TypeJS     = "js"
	TypeCSS    = "css"
	TypeRemove = "remove"
)

var (
	startRe = regexp.MustCompile(`^\s*build:(\w+)(?:\(([^)]*)\))?\s*(\S*)\s*$`)
	endRe   = regexp.MustCompile(`^\s*endbuild\s*$`)
)

// Block is one build block of a page.
type Block struct {
	Type        string
	Output      string
	SearchPaths []string
	Refs        []string
}

// Asset is the concatenation of one block's references.
type Asset struct {
	Path    string
	Type    string
	Sources []string
	Content []byte
}

// Result is a processed page.
type Result struct {
	HTML   []byte
	Blocks []Block
	Assets []Asset
}

// Process rewrites page. References are resolved against the block's search
// paths, relative to baseDir, or baseDir itself when none are given.
func Process(page []byte, baseDir string) (*Result, error) {
	blocks, out, err := rewrite(page)
	if err != nil {
		return nil, err
	}
	res := &Result{HTML: out, Blocks: blocks}
	for _, b := range blocks {
		if b.Type == TypeRemove {
			continue
		}
		asset, err := concat(b, baseDir)
		if err != nil {
			return nil, err
		}
		res.Assets = append(res.Assets, asset)
	}
	return res, nil
}

func rewrite(page []byte) ([]Block, []byte, error) {
	var (
		out    bytes.Buffer
		blocks []Block
		cur    *Block
	)
	z := html.NewTokenizer(bytes.NewReader(page))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if err := z.Err(); err != io.EOF {
				return nil, nil, ferrors.CompileError("parse html").WithCause(err).Build()
			}
			break
		}
		raw := append([]byte(nil), z.Raw()...)
		tok := z.Token()

		if tt == html.CommentToken {
			if m := startRe.FindStringSubmatch(tok.Data); m != nil {
				if cur != nil {
					return nil, nil, ferrors.CompileError("nested build block").WithContext("block", cur.Output).Build()
				}
				cur = &Block{Type: m[1], Output: m[3]}
				if m[2] != "" {
					for _, p := range strings.Split(m[2], ",") {
						if p = strings.TrimSpace(p); p != "" {
							cur.SearchPaths = append(cur.SearchPaths, p)
						}
					}
				}
				switch cur.Type {
				case TypeJS, TypeCSS:
					if cur.Output == "" {
						return nil, nil, ferrors.CompileError(fmt.Sprintf("build:%s block without output path", cur.Type)).Build()
					}
				case TypeRemove:
				default:
					return nil, nil, ferrors.CompileError(fmt.Sprintf("unknown build block type %q", cur.Type)).Build()
				}
				continue
			}
			if endRe.MatchString(tok.Data) {
				if cur == nil {
					return nil, nil, ferrors.CompileError("endbuild without build block").Build()
				}
				out.WriteString(replacement(*cur))
				blocks = append(blocks, *cur)
				cur = nil
				continue
			}
		}

		if cur == nil {
			out.Write(raw)
			continue
		}
		if tt == html.StartTagToken || tt == html.SelfClosingTagToken {
			if ref := reference(tok, cur.Type); ref != "" {
				cur.Refs = append(cur.Refs, ref)
			}
		}
	}
	if cur != nil {
		return nil, nil, ferrors.CompileError("unterminated build block").WithContext("block", cur.Output).Build()
	}
	return blocks, out.Bytes(), nil
}

func reference(tok html.Token, typ string) string {
	attr := func(name string) string {
		for _, a := range tok.Attr {
			if a.Key == name {
				return a.Val
			}
		}
		return ""
	}
	switch {
	case tok.DataAtom == atom.Script && typ != TypeCSS:
		return attr("src")
	case tok.DataAtom == atom.Link && typ != TypeJS && strings.EqualFold(attr("rel"), "stylesheet"):
		return attr("href")
	}
	return ""
}

func replacement(b Block) string {
	switch b.Type {
	case TypeJS:
		return fmt.Sprintf(`<script src="%s"></script>`, html.EscapeString(b.Output))
	case TypeCSS:
		return fmt.Sprintf(`<link rel="stylesheet" href="%s">`, html.EscapeString(b.Output))
	}
	return ""
}

func concat(b Block, baseDir string) (Asset, error) {
	asset := Asset{Path: b.Output, Type: b.Type}
	sep := "\n"
	if b.Type == TypeJS {
		sep = ";\n"
	}
	var buf bytes.Buffer
	for i, ref := range b.Refs {
		file, err := resolve(ref, b.SearchPaths, baseDir)
		if err != nil {
			return Asset{}, err
		}
		data, err := os.ReadFile(file) // #nosec G304 -- resolved under the page's search paths
		if err != nil {
			return Asset{}, ferrors.FileSystemError("read build block reference").WithCause(err).WithContext("file", file).Build()
		}
		if i > 0 {
			buf.WriteString(sep)
		}
		buf.Write(bytes.TrimRight(data, "\n"))
		asset.Sources = append(asset.Sources, file)
	}
	buf.WriteString("\n")
	asset.Content = buf.Bytes()
	return asset, nil
}

func resolve(ref string, searchPaths []string, baseDir string) (string, error) {
	clean := ref
	if i := strings.IndexAny(clean, "?#"); i >= 0 {
		clean = clean[:i]
	}
	clean = strings.TrimPrefix(path.Clean("/"+clean), "/")
	dirs := searchPaths
	if len(dirs) == 0 {
		dirs = []string{"."}
	}
	for _, d := range dirs {
		candidate := filepath.Join(baseDir, filepath.FromSlash(d), filepath.FromSlash(clean))
		if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() {
			return candidate, nil
		}
	}
	return "", ferrors.NewError(ferrors.CategoryNotFound, fmt.Sprintf("build block reference %s not found", ref)).
		WithContext("search_paths", strings.Join(dirs, ",")).
		Build()
}

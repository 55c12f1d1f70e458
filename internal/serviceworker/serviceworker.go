// Package serviceworker generates the offline-resource manifest and the worker serving it.
package serviceworker

import (
	"bytes"
	"crypto/md5" // #nosec G501 -- content fingerprint, not a security boundary
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"text/template"

	"git.home.luguber.info/inful/assetbuilder/internal/fileset"
	ferrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
)

// Entry is one precached resource.
type Entry struct {
	URL  string
	Hash string
}

// MarshalJSON encodes the entry as a [url, hash] pair.
func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{e.URL, e.Hash})
}

// Options describes a worker.
type Options struct {
	// Root is the directory stripped from file paths to form URLs.
	Root  string
	Globs []string
	// CacheID namespaces the cache; Revision, when set, is appended to it.
	CacheID       string
	Revision      string
	ImportScripts []string
}

var tmpl = template.Must(template.New("service-worker").Parse(workerTemplate))

// Manifest hashes every file under root matching globs, sorted by URL.
func Manifest(root string, globs []string) ([]Entry, error) {
	files, err := fileset.Glob(root, globs, nil, fileset.Options{})
	if err != nil {
		return nil, ferrors.FileSystemError("collect precache files").WithCause(err).WithContext("root", root).Build()
	}
	entries := make([]Entry, 0, len(files))
	for _, rel := range files {
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel))) // #nosec G304 -- path from directory walk
		if err != nil {
			return nil, ferrors.FileSystemError("read precache file").WithCause(err).WithContext("file", rel).Build()
		}
		sum := md5.Sum(data) // #nosec G401 -- content fingerprint
		entries = append(entries, Entry{URL: rel, Hash: hex.EncodeToString(sum[:])})
	}
	return entries, nil
}

// CacheName joins the cache id and revision.
func (o Options) CacheName() string {
	if o.Revision == "" {
		return o.CacheID
	}
	return o.CacheID + "-" + o.Revision
}

// Generate renders the worker script and returns it with its manifest.
func Generate(opts Options) ([]byte, []Entry, error) {
	entries, err := Manifest(opts.Root, opts.Globs)
	if err != nil {
		return nil, nil, err
	}
	precache, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, nil, ferrors.InternalError("encode precache list").WithCause(err).Build()
	}
	quote := func(s string) string {
		b, _ := json.Marshal(s)
		return string(b)
	}
	imports := make([]string, 0, len(opts.ImportScripts))
	for _, s := range opts.ImportScripts {
		imports = append(imports, quote(s))
	}
	var buf bytes.Buffer
	err = tmpl.Execute(&buf, struct {
		Precache      string
		CacheID       string
		ImportScripts []string
	}{
		Precache:      string(precache),
		CacheID:       quote(opts.CacheName()),
		ImportScripts: imports,
	})
	if err != nil {
		return nil, nil, ferrors.InternalError("render service worker").WithCause(err).Build()
	}
	return buf.Bytes(), entries, nil
}

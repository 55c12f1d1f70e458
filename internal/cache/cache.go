// Package cache decides whether a source file needs to be processed again.
//
// A file is stale when its content fingerprint differs from the one recorded
// after the last successful write, or when any of its outputs is missing or
// older than the source.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"sort"
)

// Store persists fingerprints per bucket (usually a stage name) and key
// (usually a source path).
type Store interface {
	Get(ctx context.Context, bucket, key string) (string, bool, error)
	Put(ctx context.Context, bucket, key, fingerprint string) error
	Close() error
}

// Open returns a SQLite store for path, or an in-memory store when path is empty.
func Open(path string) (Store, error) {
	if path == "" {
		return NewMemoryStore(), nil
	}
	return NewSQLiteStore(path)
}

// Fingerprint hashes content together with the fingerprints of its
// dependencies. Dependency order does not matter.
func Fingerprint(content []byte, deps ...string) string {
	h := sha256.New()
	h.Write(content)
	sorted := append([]string(nil), deps...)
	sort.Strings(sorted)
	for _, d := range sorted {
		h.Write([]byte{0})
		h.Write([]byte(d))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Checker combines the fingerprint store with output timestamps.
type Checker struct {
	store Store
}

func NewChecker(store Store) *Checker {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Checker{store: store}
}

// Stale reports whether src must be processed again.
func (c *Checker) Stale(ctx context.Context, bucket, src, fingerprint string, outputs ...string) (bool, error) {
	prev, ok, err := c.store.Get(ctx, bucket, src)
	if err != nil {
		return true, err
	}
	if !ok || prev != fingerprint {
		return true, nil
	}
	if len(outputs) == 0 {
		return false, nil
	}
	srcInfo, err := os.Stat(src)
	if err != nil {
		return true, nil
	}
	for _, out := range outputs {
		info, err := os.Stat(out)
		if err != nil {
			return true, nil
		}
		if info.ModTime().Before(srcInfo.ModTime()) {
			return true, nil
		}
	}
	return false, nil
}

// Record stores fingerprint for src after its outputs were written.
func (c *Checker) Record(ctx context.Context, bucket, src, fingerprint string) error {
	return c.store.Put(ctx, bucket, src, fingerprint)
}

// Close releases the underlying store.
func (c *Checker) Close() error { return c.store.Close() }

// Package discovery enumerates candidate documents under a source root.
// Scans are read-only, streamed, and deterministic so that repeated
// sweeps over an unchanged tree visit files in the same order.
package discovery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultExtensions are the scanned image formats.
var DefaultExtensions = []string{".jpg", ".jpeg", ".png", ".webp", ".tif", ".tiff", ".bmp"}

// Candidate is a discovered source file, before fingerprinting.
type Candidate struct {
	Path    string // absolute path
	RelPath string // relative to the scan root
	Name    string
	Size    int64
}

// Options control a scan.
type Options struct {
	Root       string
	Recursive  bool
	Limit      int // 0 = unlimited
	Extensions []string
}

var errStopScan = errors.New("scan limit reached")

// Scan walks the root and calls fn for each candidate in deterministic
// order (case-insensitive name sort per directory). Directory entries
// that cannot be read are logged and skipped; the sweep continues.
func Scan(ctx context.Context, opts Options, log *slog.Logger, fn func(Candidate) error) error {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return err
	}
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errors.New("input root is not a directory: " + root)
	}

	exts := make(map[string]bool)
	for _, e := range opts.Extensions {
		exts[strings.ToLower(e)] = true
	}
	if len(exts) == 0 {
		for _, e := range DefaultExtensions {
			exts[e] = true
		}
	}

	yielded := 0
	var walk func(dir string) error
	walk = func(dir string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			log.Warn("skipping unreadable directory", "dir", dir, "error", err)
			return nil
		}
		sort.Slice(entries, func(i, j int) bool {
			return strings.ToLower(entries[i].Name()) < strings.ToLower(entries[j].Name())
		})
		for _, e := range entries {
			name := e.Name()
			if strings.HasPrefix(name, ".") {
				continue
			}
			full := filepath.Join(dir, name)
			if e.IsDir() {
				if opts.Recursive {
					if err := walk(full); err != nil {
						return err
					}
				}
				continue
			}
			if !exts[strings.ToLower(filepath.Ext(name))] {
				continue
			}
			fi, err := e.Info()
			if err != nil {
				log.Warn("skipping unreadable entry", "path", full, "error", err)
				continue
			}
			rel, err := filepath.Rel(root, full)
			if err != nil {
				rel = name
			}
			if err := fn(Candidate{Path: full, RelPath: rel, Name: name, Size: fi.Size()}); err != nil {
				return err
			}
			yielded++
			if opts.Limit > 0 && yielded >= opts.Limit {
				return errStopScan
			}
		}
		return nil
	}

	if err := walk(root); err != nil && !errors.Is(err, errStopScan) {
		return err
	}
	return nil
}

// Collect runs Scan and materializes the result.
func Collect(ctx context.Context, opts Options, log *slog.Logger) ([]Candidate, error) {
	var out []Candidate
	err := Scan(ctx, opts, log, func(c Candidate) error {
		out = append(out, c)
		return nil
	})
	return out, err
}

// Fingerprint streams the file through sha256 without loading it whole.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, 1<<20)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

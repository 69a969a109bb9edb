// Package artifact persists extraction outputs to the file system.
// Artifacts are written before the terminal ledger commit so a done run
// always has a corresponding output on disk.
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var safeStemRe = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

const maxStemLen = 180

// SafeStem derives a filesystem-safe directory stem from a file name.
// Keeps [A-Za-z0-9._-], replaces everything else with '_'.
func SafeStem(name string) string {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	stem = safeStemRe.ReplaceAllString(stem, "_")
	stem = strings.Trim(stem, "._-")
	if stem == "" {
		stem = "file"
	}
	if len(stem) > maxStemLen {
		stem = stem[:maxStemLen]
	}
	return stem
}

// Paths locates the artifacts of one processed document.
type Paths struct {
	BaseDir  string
	TextPath string
	JSONPath string
	MetaPath string
}

// Writer lays out artifacts under an output root, preserving the
// source tree's relative directory structure:
//
//	out_root/<rel_dir>/<safe_stem>/{result.txt,result.json,meta.json}
type Writer struct {
	OutRoot string
}

// NewWriter creates a writer rooted at outRoot.
func NewWriter(outRoot string) *Writer {
	return &Writer{OutRoot: outRoot}
}

// PathsFor computes the artifact layout for a source file.
func (w *Writer) PathsFor(relPath, fileName string) Paths {
	base := filepath.Join(w.OutRoot, filepath.Dir(relPath), SafeStem(fileName))
	return Paths{
		BaseDir:  base,
		TextPath: filepath.Join(base, "result.txt"),
		JSONPath: filepath.Join(base, "result.json"),
		MetaPath: filepath.Join(base, "meta.json"),
	}
}

// Write persists text (if any), structured data (if any), and metadata
// (always). Returns the layout on success.
func (w *Writer) Write(relPath, fileName, text string, data map[string]any, meta map[string]any) (Paths, error) {
	paths := w.PathsFor(relPath, fileName)

	if err := os.MkdirAll(paths.BaseDir, 0o755); err != nil {
		return paths, fmt.Errorf("failed to create artifact dir: %w", err)
	}

	if text != "" {
		if err := os.WriteFile(paths.TextPath, []byte(text), 0o644); err != nil {
			return paths, fmt.Errorf("failed to write result text: %w", err)
		}
	}
	if data != nil {
		if err := writeJSON(paths.JSONPath, data); err != nil {
			return paths, err
		}
	}
	if err := writeJSON(paths.MetaPath, meta); err != nil {
		return paths, err
	}
	return paths, nil
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

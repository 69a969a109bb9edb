package artifact

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSafeStem(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"scan_001.png", "scan_001"},
		{"Invoice #42 (final).jpeg", "Invoice_42_final"},
		{"...---...", "file"},
		{"über détente.png", "ber_d_tente"},
		{"no_extension", "no_extension"},
	}
	for _, tt := range tests {
		if got := SafeStem(tt.in); got != tt.want {
			t.Errorf("SafeStem(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	long := strings.Repeat("a", 300) + ".png"
	if got := SafeStem(long); len(got) != 180 {
		t.Errorf("long stem not truncated, len = %d", len(got))
	}
}

func TestWriter_LayoutMirrorsSourceTree(t *testing.T) {
	w := NewWriter("/out")
	paths := w.PathsFor(filepath.Join("invoices", "2024", "scan 01.png"), "scan 01.png")

	wantBase := filepath.Join("/out", "invoices", "2024", "scan_01")
	if paths.BaseDir != wantBase {
		t.Errorf("base = %s, want %s", paths.BaseDir, wantBase)
	}
	if filepath.Base(paths.TextPath) != "result.txt" ||
		filepath.Base(paths.JSONPath) != "result.json" ||
		filepath.Base(paths.MetaPath) != "meta.json" {
		t.Errorf("unexpected artifact names: %+v", paths)
	}
}

func TestWriter_Write(t *testing.T) {
	out := t.TempDir()
	w := NewWriter(out)

	data := map[string]any{"total": "42.00"}
	meta := map[string]any{"source_path": "/in/a.png", "attempt_no": 1}

	paths, err := w.Write("a.png", "a.png", "extracted text", data, meta)
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	text, err := os.ReadFile(paths.TextPath)
	if err != nil {
		t.Fatalf("read text: %v", err)
	}
	if string(text) != "extracted text" {
		t.Errorf("text = %q", text)
	}

	var gotMeta map[string]any
	b, err := os.ReadFile(paths.MetaPath)
	if err != nil {
		t.Fatalf("read meta: %v", err)
	}
	if err := json.Unmarshal(b, &gotMeta); err != nil {
		t.Fatalf("meta is not valid json: %v", err)
	}
	if gotMeta["source_path"] != "/in/a.png" {
		t.Errorf("meta = %v", gotMeta)
	}

	if _, err := os.Stat(paths.JSONPath); err != nil {
		t.Errorf("result.json missing: %v", err)
	}
}

func TestWriter_OmitsEmptySections(t *testing.T) {
	out := t.TempDir()
	w := NewWriter(out)

	paths, err := w.Write("b.png", "b.png", "", nil, map[string]any{"ok": true})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(paths.TextPath); !os.IsNotExist(err) {
		t.Errorf("empty text must not produce result.txt")
	}
	if _, err := os.Stat(paths.JSONPath); !os.IsNotExist(err) {
		t.Errorf("nil data must not produce result.json")
	}
	if _, err := os.Stat(paths.MetaPath); err != nil {
		t.Errorf("meta.json must always exist: %v", err)
	}
}

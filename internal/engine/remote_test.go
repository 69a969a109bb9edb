package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vietddude/ocrsweep/internal/core/domain"
)

func testConfig(endpoint string) Config {
	return Config{
		Endpoint:          endpoint,
		RequestTimeout:    time.Second,
		StartTimeout:      time.Second,
		GenerationTimeout: time.Second,
		PollInterval:      5 * time.Millisecond,
	}
}

func writeDoc(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.png")
	if err := os.WriteFile(path, []byte("image bytes"), 0o644); err != nil {
		t.Fatalf("write doc: %v", err)
	}
	return path
}

func TestRemoteEngine_ProcessHappyPath(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/ocr":
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Errorf("upload is not multipart: %v", err)
			}
			if got := r.FormValue("prompt"); got != "extract-v1" {
				t.Errorf("prompt = %q, want extract-v1", got)
			}
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(map[string]string{"job_id": "job-1"})
		case r.Method == http.MethodGet && r.URL.Path == "/ocr/job-1":
			if polls.Add(1) < 3 {
				json.NewEncoder(w).Encode(map[string]string{"status": "generating"})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"status": "done",
				"text":   "hello world",
				"data":   map[string]any{"pages": 1.0},
			})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	eng := NewRemoteEngine(testConfig(srv.URL))
	result, err := eng.Process(context.Background(), writeDoc(t), "extract-v1")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Text != "hello world" {
		t.Errorf("text = %q", result.Text)
	}
	if result.Data["pages"] != 1.0 {
		t.Errorf("data = %v", result.Data)
	}
}

func TestRemoteEngine_UploadRejectedIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unsupported media type", http.StatusUnsupportedMediaType)
	}))
	defer srv.Close()

	eng := NewRemoteEngine(testConfig(srv.URL))
	_, err := eng.Process(context.Background(), writeDoc(t), "extract-v1")
	if err == nil {
		t.Fatalf("expected upload failure")
	}
	var f *Failure
	if !errors.As(err, &f) || f.Status != http.StatusUnsupportedMediaType {
		t.Fatalf("expected status 415 failure, got %v", err)
	}
	if Classify(err) != domain.ErrorKindPermanent {
		t.Errorf("415 should classify permanent")
	}
}

func TestRemoteEngine_GenerationTimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			json.NewEncoder(w).Encode(map[string]string{"job_id": "job-1"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "pending"})
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.GenerationTimeout = 30 * time.Millisecond
	eng := NewRemoteEngine(cfg)

	_, err := eng.Process(context.Background(), writeDoc(t), "extract-v1")
	if err == nil {
		t.Fatalf("expected timeout failure")
	}
	var f *Failure
	if !errors.As(err, &f) || f.Phase != "extract" {
		t.Fatalf("expected extract-phase failure, got %v", err)
	}
	if Classify(err) != domain.ErrorKindTransient {
		t.Errorf("generation timeout should classify transient")
	}
}

func TestRemoteEngine_FailedJobCarriesSidecarError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			json.NewEncoder(w).Encode(map[string]string{"job_id": "job-1"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "failed", "error": "target closed"})
	}))
	defer srv.Close()

	eng := NewRemoteEngine(testConfig(srv.URL))
	_, err := eng.Process(context.Background(), writeDoc(t), "extract-v1")
	if err == nil {
		t.Fatalf("expected job failure")
	}
	if Classify(err) != domain.ErrorKindTransient {
		t.Errorf("sidecar 'target closed' should classify transient, got %v", err)
	}
}

func TestRemoteEngine_MissingSourceFile(t *testing.T) {
	eng := NewRemoteEngine(testConfig("http://127.0.0.1:0"))
	_, err := eng.Process(context.Background(), filepath.Join(t.TempDir(), "missing.png"), "extract-v1")
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
	if Classify(err) != domain.ErrorKindPermanent {
		t.Errorf("missing source file should classify permanent, got %v", Classify(err))
	}
}

func TestRemoteEngine_StartWaitsForHealth(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	eng := NewRemoteEngine(testConfig(srv.URL))
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if calls.Load() < 2 {
		t.Errorf("expected Start to poll until healthy")
	}
}

func TestRemoteEngine_RecoverResetsSession(t *testing.T) {
	var reset atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/session/reset" {
			reset.Add(1)
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	eng := NewRemoteEngine(testConfig(srv.URL))
	if err := eng.Recover(context.Background()); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if reset.Load() != 1 {
		t.Errorf("expected one reset call, got %d", reset.Load())
	}
}

func TestRemoteEngine_UploadRetriesConnectionErrors(t *testing.T) {
	// A server that immediately closes gives a connection-level upload
	// error, which Process retries once before giving up.
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Errorf("hijack unsupported")
			return
		}
		conn, _, err := hj.Hijack()
		if err != nil {
			t.Errorf("hijack: %v", err)
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	eng := NewRemoteEngine(cfg)
	_, err := eng.Process(context.Background(), writeDoc(t), "extract-v1")
	if err == nil {
		t.Fatalf("expected upload failure")
	}
	if got := attempts.Load(); got != 2 {
		t.Errorf("expected 1 retry (2 attempts), got %d", got)
	}
}

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ligustah/portal/pkg/upload"
)

func fastOptions() Options {
	opts := DefaultOptions()
	opts.RetryBackoff = time.Millisecond
	opts.RetryMaxBackoff = 5 * time.Millisecond
	return opts
}

func TestStartUpload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/uploads" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req["filename"] != "movie.mkv" {
			t.Errorf("expected filename movie.mkv, got %v", req["filename"])
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(upload.SessionInfo{ID: "abc", Filename: "movie.mkv", TotalChunks: 8})
	}))
	defer server.Close()

	client := NewClient(server.URL, fastOptions())
	info, err := client.StartUpload(context.Background(), "movie.mkv", 1<<20, 8)
	if err != nil {
		t.Fatalf("StartUpload: %v", err)
	}
	if info.ID != "abc" {
		t.Errorf("expected id abc, got %s", info.ID)
	}
	if info.TotalChunks != 8 {
		t.Errorf("expected 8 chunks, got %d", info.TotalChunks)
	}
}

func TestStartUploadIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, fastOptions())
	_, err := client.StartUpload(context.Background(), "x", 1, 1)
	if !errors.Is(err, ErrServerError) {
		t.Errorf("expected ErrServerError, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
}

func TestUploadChunkRetriesWithFullBody(t *testing.T) {
	data := []byte("0123456789abcdefghij")

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if r.Method != http.MethodPut || r.URL.Path != "/api/uploads/sess/chunks/1" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "abcdefghij" {
			t.Errorf("attempt %d: expected second half, got %q", n, body)
		}
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "complete"})
	}))
	defer server.Close()

	client := NewClient(server.URL, fastOptions())
	status, err := client.UploadChunk(context.Background(), "sess", 1, bytes.NewReader(data), 10, 10)
	if err != nil {
		t.Fatalf("UploadChunk: %v", err)
	}
	if status != upload.StatusComplete {
		t.Errorf("expected complete, got %s", status)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestUploadChunkBadRequestNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"upload: session not found: sess"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, fastOptions())
	_, err := client.UploadChunk(context.Background(), "sess", 0, bytes.NewReader([]byte("x")), 0, 1)
	if !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
	if want := "http: bad request: upload: session not found: sess"; err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
}

func TestRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	opts := fastOptions()
	opts.RetryAttempts = 2
	client := NewClient(server.URL, opts)

	_, err := client.UploadStatus(context.Background(), "sess")
	if !errors.Is(err, ErrServerError) {
		t.Errorf("expected ErrServerError, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
}

func TestDownload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.EscapedPath() {
		case "/download/my%20docs/a.txt":
			w.Header().Set("Content-Disposition", `attachment; filename=a.txt`)
			w.Write([]byte("hello"))
		case "/download_zip/my%20docs":
			w.Header().Set("Content-Disposition", `attachment; filename="my docs.zip"`)
			w.Write([]byte("PK"))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"portal: not found"}`))
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, fastOptions())
	ctx := context.Background()

	d, err := client.DownloadFile(ctx, "my docs/a.txt")
	if err != nil {
		t.Fatalf("DownloadFile: %v", err)
	}
	body, _ := io.ReadAll(d.Body)
	d.Body.Close()
	if string(body) != "hello" || d.Name != "a.txt" {
		t.Errorf("got name %q body %q", d.Name, body)
	}

	d, err = client.DownloadArchive(ctx, "/my docs/")
	if err != nil {
		t.Fatalf("DownloadArchive: %v", err)
	}
	d.Body.Close()
	if d.Name != "my docs.zip" {
		t.Errorf("expected name 'my docs.zip', got %q", d.Name)
	}

	_, err = client.DownloadFile(ctx, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("path"); got != "a b/c" {
			t.Errorf("expected path 'a b/c', got %q", got)
		}
		w.Write([]byte(`{"path":"a b/c","items":[{"name":"x","path":"a b/c/x","size":3}],"breadcrumbs":[]}`))
	}))
	defer server.Close()

	l, err := NewClient(server.URL, fastOptions()).List(context.Background(), "a b/c")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(l.Items) != 1 || l.Items[0].Size != 3 {
		t.Errorf("unexpected listing %+v", l)
	}
}

func TestContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	opts := fastOptions()
	opts.RetryBackoff = time.Second
	opts.RetryMaxBackoff = time.Second
	client := NewClient(server.URL, opts)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.UploadStatus(ctx, "sess")
	if err == nil {
		t.Fatal("expected error")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("cancellation took %v", time.Since(start))
	}
}

package loader

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/atvirokodosprendimai/gbfsvalidator/internal/core/domain"
)

func TestLoadV3DiscoveryOverHTTP(t *testing.T) {
	var mu sync.Mutex
	headers := map[string]string{}

	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/gbfs.json", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		headers[r.URL.Path] = r.Header.Get("Et-Client-Name")
		mu.Unlock()
		fmt.Fprintf(w, `{"last_updated":"2024-01-01T00:00:00Z","ttl":0,"version":"3.0","data":{"feeds":[
			{"name":"system_information","url":"%s/system_information.json"},
			{"name":"station_status","url":"station_status.json"},
			{"name":"vehicle_status","url":"%s/missing.json"}
		]}}`, srv.URL, srv.URL)
	})
	mux.HandleFunc("/system_information.json", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		headers[r.URL.Path] = r.Header.Get("Et-Client-Name")
		mu.Unlock()
		_, _ = w.Write([]byte(`{"data":{"system_id":"x"}}`))
	})
	mux.HandleFunc("/station_status.json", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"stations":[]}}`))
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	files, err := New(Options{}, nil).Load(context.Background(), srv.URL+"/gbfs.json")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(files) != 4 {
		t.Fatalf("expected discovery plus three feeds, got %d", len(files))
	}

	want := []string{"gbfs", "system_information", "station_status", "vehicle_status"}
	for i, name := range want {
		if files[i].Name != name {
			t.Fatalf("file %d: expected %s, got %s", i, name, files[i].Name)
		}
	}
	if string(files[1].Content) != `{"data":{"system_id":"x"}}` {
		t.Fatalf("unexpected system_information content: %s", files[1].Content)
	}
	if files[2].Content == nil || files[2].URL != "station_status.json" {
		t.Fatalf("relative feed url not resolved or not kept: %+v", files[2])
	}
	if files[3].Content != nil || len(files[3].Errors) != 1 || files[3].Errors[0].Kind != domain.DiagnosticConnectionError {
		t.Fatalf("expected connection error for 404, got %+v", files[3])
	}
	if headers["/gbfs.json"] != ClientName || headers["/system_information.json"] != ClientName {
		t.Fatalf("client name header missing: %v", headers)
	}
}

func TestLoadPreV3DiscoveryKeepsLanguages(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "gbfs.json", `{"last_updated":1,"ttl":0,"version":"2.3","data":{
		"en":{"feeds":[{"name":"system_information","url":"en/system_information.json"}]},
		"fr":{"feeds":[{"name":"system_information","url":"fr/system_information.json"}]}
	}}`)
	writeFile(t, dir, filepath.Join("en", "system_information.json"), `{"lang":"en"}`)
	writeFile(t, dir, filepath.Join("fr", "system_information.json"), `{"lang":"fr"}`)

	files, err := New(Options{}, nil).Load(context.Background(), filepath.Join(dir, "gbfs.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("expected three files, got %d", len(files))
	}
	if files[1].Language != "en" || string(files[1].Content) != `{"lang":"en"}` {
		t.Fatalf("unexpected en file: %+v", files[1])
	}
	if files[2].Language != "fr" || string(files[2].Content) != `{"lang":"fr"}` {
		t.Fatalf("unexpected fr file: %+v", files[2])
	}
}

func TestLoadFileURL(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "gbfs.json", `{"version":"3.0","data":{"feeds":[{"name":"manifest","url":"manifest.json"}]}}`)

	files, err := New(Options{}, nil).Load(context.Background(), "file://"+filepath.ToSlash(filepath.Join(dir, "gbfs.json")))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected two files, got %d", len(files))
	}
	if files[1].Content != nil || len(files[1].Errors) != 1 || files[1].Errors[0].Kind != domain.DiagnosticFileNotFound {
		t.Fatalf("expected FILE_NOT_FOUND for manifest, got %+v", files[1])
	}
}

func TestLoadDiscoveryFailures(t *testing.T) {
	l := New(Options{}, nil)

	files, err := l.Load(context.Background(), "ftp://example.com/gbfs.json")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(files) != 1 || files[0].Errors[0].Kind != domain.DiagnosticUnsupportedScheme {
		t.Fatalf("expected UNSUPPORTED_SCHEME, got %+v", files)
	}

	files, err = l.Load(context.Background(), filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(files) != 1 || files[0].Errors[0].Kind != domain.DiagnosticFileNotFound {
		t.Fatalf("expected FILE_NOT_FOUND, got %+v", files)
	}

	dir := t.TempDir()
	writeFile(t, dir, "gbfs.json", `{"version": "2.3", "data": [`)
	files, err = l.Load(context.Background(), filepath.Join(dir, "gbfs.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(files) != 1 || files[0].Content == nil {
		t.Fatalf("expected malformed discovery returned as-is, got %+v", files)
	}
}

func TestLoadRejectsOversizedFiles(t *testing.T) {
	const limit = 64
	big := `{"version": "3.0", "data": {"feeds": []}, "padding": "` + strings.Repeat("x", limit) + `"}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/chunked.json" {
			w.(http.Flusher).Flush()
		}
		fmt.Fprint(w, big)
	}))
	defer srv.Close()

	dir := t.TempDir()
	writeFile(t, dir, "gbfs.json", big)

	l := New(Options{MaxFileSize: limit}, nil)
	for _, target := range []string{
		srv.URL + "/gbfs.json",
		srv.URL + "/chunked.json",
		filepath.Join(dir, "gbfs.json"),
	} {
		files, err := l.Load(context.Background(), target)
		if err != nil {
			t.Fatalf("load %s: %v", target, err)
		}
		if len(files) != 1 || files[0].Content != nil || len(files[0].Errors) != 1 {
			t.Fatalf("%s: expected one oversized-file diagnostic, got %+v", target, files)
		}
		diag := files[0].Errors[0]
		if diag.Kind != domain.DiagnosticReadError || !strings.Contains(diag.Message, "file too large") {
			t.Errorf("%s: diagnostic = %+v, want READ_ERROR about file size", target, diag)
		}
	}
}

func TestLoadAcceptsFileAtSizeLimit(t *testing.T) {
	body := `{"version": "3.0", "data": {"feeds": []}}`
	dir := t.TempDir()
	writeFile(t, dir, "gbfs.json", body)

	files, err := New(Options{MaxFileSize: int64(len(body))}, nil).Load(context.Background(), filepath.Join(dir, "gbfs.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(files) != 1 || string(files[0].Content) != body {
		t.Fatalf("expected the whole file, got %+v", files)
	}
}

func TestLoadTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	files, err := New(Options{Timeout: 50 * time.Millisecond}, nil).Load(context.Background(), srv.URL+"/gbfs.json")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(files) != 1 || files[0].Errors[0].Kind != domain.DiagnosticConnectionError {
		t.Fatalf("expected CONNECTION_ERROR on timeout, got %+v", files)
	}
}

func TestLoadCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(Options{}, nil).Load(ctx, "https://example.invalid/gbfs.json"); err == nil {
		t.Fatal("expected context error")
	}
}

func TestResolve(t *testing.T) {
	cases := []struct {
		base, ref, want string
	}{
		{"https://a.example/gbfs/gbfs.json", "en/station_status.json", "https://a.example/gbfs/en/station_status.json"},
		{"https://a.example/gbfs/gbfs.json", "https://b.example/x.json", "https://b.example/x.json"},
		{"file:///data/gbfs.json", "vehicle_types.json", "file:///data/vehicle_types.json"},
		{filepath.Join("data", "gbfs.json"), "en/system_information.json", filepath.Join("data", "en", "system_information.json")},
	}
	for _, tc := range cases {
		if got := resolve(tc.base, tc.ref); got != tc.want {
			t.Fatalf("resolve(%q, %q) = %q, want %q", tc.base, tc.ref, got, tc.want)
		}
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

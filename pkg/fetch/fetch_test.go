package fetch

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-rpki/cache/pkg/logging"
)

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.LevelDisabled, io.Discard)
}

func TestHTTPSFetcherDetectsChange(t *testing.T) {
	body := "first"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer server.Close()

	fetcher := &HTTPSFetcher{DestinationRoot: t.TempDir(), Logger: testLogger()}

	code, changed := fetcher.Fetch(server.URL + "/object.cer")
	if code != 0 || !changed {
		t.Fatalf("first fetch: code=%d changed=%v, want 0/true", code, changed)
	}

	code, changed = fetcher.Fetch(server.URL + "/object.cer")
	if code != 0 || changed {
		t.Fatalf("repeat fetch: code=%d changed=%v, want 0/false", code, changed)
	}

	body = "second"
	code, changed = fetcher.Fetch(server.URL + "/object.cer")
	if code != 0 || !changed {
		t.Fatalf("changed fetch: code=%d changed=%v, want 0/true", code, changed)
	}
}

func TestHTTPSFetcherWritesDestination(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("content"))
	}))
	defer server.Close()

	root := t.TempDir()
	fetcher := &HTTPSFetcher{DestinationRoot: root, Logger: testLogger()}

	if code, _ := fetcher.Fetch(server.URL + "/repo/object.cer"); code != 0 {
		t.Fatalf("Fetch returned code %d", code)
	}

	relative := httpsRelativePath(server.URL + "/repo/object.cer")
	data, err := os.ReadFile(filepath.Join(root, relative))
	if err != nil {
		t.Fatalf("expected object written to disk: %v", err)
	}
	if string(data) != "content" {
		t.Fatalf("written content = %q, want %q", data, "content")
	}
}

func TestHTTPSFetcherReportsNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	fetcher := &HTTPSFetcher{DestinationRoot: t.TempDir(), Logger: testLogger()}
	code, changed := fetcher.Fetch(server.URL + "/missing.cer")
	if code != http.StatusNotFound {
		t.Fatalf("code = %d, want %d", code, http.StatusNotFound)
	}
	if changed {
		t.Fatal("changed should be false on a failed fetch")
	}
}

func TestRsyncRelativePath(t *testing.T) {
	if got := rsyncRelativePath("rsync://host/path/to/repo"); got != "host/path/to/repo" {
		t.Errorf("rsyncRelativePath = %q", got)
	}
}

func TestHTTPSRelativePath(t *testing.T) {
	cases := map[string]string{
		"https://host/a/b.cer": "host/a/b.cer",
		"http://host/a/b.cer":  "host/a/b.cer",
	}
	for in, want := range cases {
		if got := httpsRelativePath(in); got != want {
			t.Errorf("httpsRelativePath(%q) = %q, want %q", in, got, want)
		}
	}
}

package cache

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-rpki/cache/pkg/cachetree"
	"github.com/go-rpki/cache/pkg/logging"
)

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.LevelDisabled, io.Discard)
}

func newTestCache(t *testing.T, fetchSubtree SubtreeFetcher, fetchObject ObjectFetcher) *Cache {
	t.Helper()
	root := t.TempDir()
	c := New(root, fetchSubtree, fetchObject, testLogger())
	if err := c.Prepare(); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	return c
}

// TestColdStartHTTPSFetch covers the cold-start scenario from the narrative
// walkthrough: the first download of an object creates its whole ancestor
// chain and performs exactly one fetch.
func TestColdStartHTTPSFetch(t *testing.T) {
	fetches := 0
	c := newTestCache(t, nil, func(uri string) (int, bool) {
		fetches++
		return 0, true
	})
	defer c.Teardown()

	var changed bool
	code := c.Download("https://rpki.example.org/repo/object.cer", &changed)
	if code != 0 {
		t.Fatalf("Download returned code %d, want 0", code)
	}
	if fetches != 1 {
		t.Fatalf("expected exactly one fetch, got %d", fetches)
	}
	if !changed {
		t.Fatal("expected changed=true on cold-start fetch")
	}

	node, ok := c.httpsRoot.Child("rpki.example.org")
	if !ok {
		t.Fatal("host segment was not materialized")
	}
	node, ok = node.Child("repo")
	if !ok {
		t.Fatal("path segment was not materialized")
	}
	node, ok = node.Child("object.cer")
	if !ok {
		t.Fatal("leaf segment was not materialized")
	}
	if !node.Flags().Has(cachetree.Direct | cachetree.Success | cachetree.File) {
		t.Fatalf("leaf node flags = %v, want Direct|Success|File", node.Flags())
	}
}

// TestRepeatFreshDownloadSkipsFetch verifies that a second Download call
// against an already-fresh node (same Prepare startup time) does not invoke
// the fetcher again.
func TestRepeatFreshDownloadSkipsFetch(t *testing.T) {
	fetches := 0
	c := newTestCache(t, nil, func(uri string) (int, bool) {
		fetches++
		return 0, true
	})
	defer c.Teardown()

	uri := "https://rpki.example.org/repo/object.cer"
	c.Download(uri, nil)
	c.Download(uri, nil)

	if fetches != 1 {
		t.Fatalf("expected the second call to be satisfied by freshness, got %d fetches", fetches)
	}
}

// TestFileToDirectoryModeFlip covers the scenario where a node previously
// fetched as a leaf file is later addressed as an ancestor directory: the
// stale file entry is removed from disk and the node's flags are cleared
// before descent continues.
func TestFileToDirectoryModeFlip(t *testing.T) {
	fetchCount := 0
	c := newTestCache(t, nil, func(uri string) (int, bool) {
		fetchCount++
		return 0, true
	})
	defer c.Teardown()

	// First: fetch https://x/y.cer as a leaf file.
	c.Download("https://x/y.cer", nil)

	leafPath, err := c.diskPath(cachetree.HTTPSLabel, []string{"x", "y.cer"})
	if err != nil {
		t.Fatalf("diskPath failed: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(leafPath), 0o755); err != nil {
		t.Fatalf("unable to prepare disk fixture: %v", err)
	}
	if err := os.WriteFile(leafPath, []byte("stale"), 0o644); err != nil {
		t.Fatalf("unable to write stale leaf file: %v", err)
	}

	// Now descend through y.cer as if it were a directory.
	c.Download("https://x/y.cer/z.cer", nil)

	if _, err := os.Stat(leafPath); !os.IsNotExist(err) {
		t.Fatalf("stale leaf file was not removed during mode-flip, stat err = %v", err)
	}

	host, ok := c.httpsRoot.Child("x")
	if !ok {
		t.Fatal("host node missing")
	}
	flippedDir, ok := host.Child("y.cer")
	if !ok {
		t.Fatal("y.cer node missing after flip")
	}
	if flippedDir.Flags().Has(cachetree.File) {
		t.Fatal("y.cer node still carries File flag after becoming a directory")
	}
	if fetchCount != 2 {
		t.Fatalf("expected two fetches (leaf, then new leaf under flipped directory), got %d", fetchCount)
	}
}

// TestRecursiveAncestorFreshnessShortCircuit covers the file-sync scenario:
// once an ancestor directory has been freshly and successfully fetched as a
// whole subtree, a subsequent download of a descendant path is satisfied by
// that ancestor's freshness without an additional fetch.
func TestRecursiveAncestorFreshnessShortCircuit(t *testing.T) {
	fetches := 0
	c := newTestCache(t, func(uri string) int {
		fetches++
		return 0
	}, nil)
	defer c.Teardown()

	c.Download("rsync://r/p/", nil)
	if fetches != 1 {
		t.Fatalf("expected one fetch for the initial subtree download, got %d", fetches)
	}

	code := c.Download("rsync://r/p/q", nil)
	if code != 0 {
		t.Fatalf("Download returned code %d, want 0", code)
	}
	if fetches != 1 {
		t.Fatalf("expected the descendant download to be covered by ancestor freshness, got %d fetches", fetches)
	}
}

// TestDownloadPanicsOnUnknownTransport verifies the documented
// programmer-error panic for an unclassifiable URI.
func TestDownloadPanicsOnUnknownTransport(t *testing.T) {
	c := newTestCache(t, nil, nil)
	defer c.Teardown()

	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic for an unrecognized URI scheme")
		}
	}()
	c.Download("ftp://example.org/file", nil)
}

// TestDownloadPanicsBeforePrepare verifies the documented panic for use
// before Prepare.
func TestDownloadPanicsBeforePrepare(t *testing.T) {
	c := New(t.TempDir(), nil, nil, testLogger())

	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic for Download before Prepare")
		}
	}()
	c.Download("https://example.org/file.cer", nil)
}

// TestCleanupRemovesOrphanFile verifies that cache_cleanup removes a disk
// entry that no longer corresponds to any node in the tree.
func TestCleanupRemovesOrphanFile(t *testing.T) {
	c := newTestCache(t, nil, func(uri string) (int, bool) { return 0, true })
	defer c.Teardown()

	c.Download("https://x/y.cer", nil)

	leafPath, err := c.diskPath(cachetree.HTTPSLabel, []string{"x", "y.cer"})
	if err != nil {
		t.Fatalf("diskPath failed: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(leafPath), 0o755); err != nil {
		t.Fatalf("unable to prepare disk fixture: %v", err)
	}
	if err := os.WriteFile(leafPath, []byte("live"), 0o644); err != nil {
		t.Fatalf("unable to write live fixture: %v", err)
	}

	orphanPath, err := c.diskPath(cachetree.HTTPSLabel, []string{"x", "orphan.cer"})
	if err != nil {
		t.Fatalf("diskPath failed: %v", err)
	}
	if err := os.WriteFile(orphanPath, []byte("orphan"), 0o644); err != nil {
		t.Fatalf("unable to write orphan fixture: %v", err)
	}

	if err := c.Cleanup(); err != nil {
		t.Fatalf("Cleanup returned error: %v", err)
	}

	if _, err := os.Stat(orphanPath); !os.IsNotExist(err) {
		t.Fatalf("orphan disk entry was not removed, stat err = %v", err)
	}

	host, ok := c.httpsRoot.Child("x")
	if !ok {
		t.Fatal("host node missing after cleanup")
	}
	if _, ok := host.Child("y.cer"); !ok {
		t.Fatal("live node was incorrectly removed during cleanup")
	}
}

// TestCleanupRemovesStaleNodeMissingFromDisk verifies that a node whose
// on-disk entry has vanished is orphaned from the tree during cleanup.
func TestCleanupRemovesStaleNodeMissingFromDisk(t *testing.T) {
	c := newTestCache(t, nil, func(uri string) (int, bool) { return 0, true })
	defer c.Teardown()

	c.Download("https://x/y.cer", nil)
	leafPath, err := c.diskPath(cachetree.HTTPSLabel, []string{"x", "y.cer"})
	if err != nil {
		t.Fatalf("diskPath failed: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(leafPath), 0o755); err != nil {
		t.Fatalf("unable to prepare disk fixture: %v", err)
	}
	if err := os.WriteFile(leafPath, []byte("live"), 0o644); err != nil {
		t.Fatalf("unable to write live fixture: %v", err)
	}
	if err := os.Remove(leafPath); err != nil {
		t.Fatalf("unable to remove fixture leaf: %v", err)
	}

	if err := c.Cleanup(); err != nil {
		t.Fatalf("Cleanup returned error: %v", err)
	}

	host, ok := c.httpsRoot.Child("x")
	if ok {
		if _, childOK := host.Child("y.cer"); childOK {
			t.Fatal("node for vanished disk entry was not orphaned")
		}
	}
}

func TestClassifyURI(t *testing.T) {
	cases := []struct {
		uri      string
		wantType Transport
		wantSegs []string
	}{
		{"rsync://host/path/to/obj", TransportRsync, []string{"host", "path", "to", "obj"}},
		{"https://host/obj.cer", TransportHTTPS, []string{"host", "obj.cer"}},
		{"http://host/obj.cer", TransportHTTPS, []string{"host", "obj.cer"}},
		{"ftp://host/obj", TransportUnknown, nil},
	}
	for _, c := range cases {
		transport, segs := classify(c.uri)
		if transport != c.wantType {
			t.Errorf("classify(%q) transport = %v, want %v", c.uri, transport, c.wantType)
		}
		if transport != TransportUnknown && !equalSegments(segs, c.wantSegs) {
			t.Errorf("classify(%q) segments = %v, want %v", c.uri, segs, c.wantSegs)
		}
	}
}

func equalSegments(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestLockMetadataPreventsConcurrentPrepare(t *testing.T) {
	root := t.TempDir()

	first := New(root, nil, nil, testLogger()).WithLockMetadata()
	if err := first.Prepare(); err != nil {
		t.Fatalf("first Prepare failed: %v", err)
	}
	defer first.Teardown()

	second := New(root, nil, nil, testLogger()).WithLockMetadata()
	if err := second.Prepare(); err == nil {
		t.Fatal("expected second Prepare to fail while the lock is held")
	}

	first.Teardown()

	third := New(root, nil, nil, testLogger()).WithLockMetadata()
	if err := third.Prepare(); err != nil {
		t.Fatalf("Prepare after Teardown released the lock should succeed, got: %v", err)
	}
	third.Teardown()
}

func TestLockMetadataDisabledByDefault(t *testing.T) {
	root := t.TempDir()

	first := New(root, nil, nil, testLogger())
	if err := first.Prepare(); err != nil {
		t.Fatalf("first Prepare failed: %v", err)
	}
	defer first.Teardown()

	second := New(root, nil, nil, testLogger())
	if err := second.Prepare(); err != nil {
		t.Fatalf("second Prepare should succeed without lockMetadata enabled, got: %v", err)
	}
	second.Teardown()
}

// TestDownloadRejectsOverlongPath verifies that a URI whose materialized
// disk path would exceed pathbuilder.MaxPathLength is rejected rather than
// handed to a fetcher.
func TestDownloadRejectsOverlongPath(t *testing.T) {
	fetches := 0
	c := newTestCache(t, nil, func(uri string) (int, bool) {
		fetches++
		return 0, true
	})
	defer c.Teardown()

	huge := strings.Repeat("x", 5000)
	code := c.Download("https://host/"+huge, nil)
	if code == 0 {
		t.Fatal("expected a nonzero code for an overlong cache path")
	}
	if fetches != 0 {
		t.Fatalf("fetcher should not have been invoked, got %d calls", fetches)
	}
}

func TestIsFreshRequiresDirectAndRecentAttempt(t *testing.T) {
	c := newTestCache(t, nil, nil)
	defer c.Teardown()

	node := cachetree.AddChild(c.httpsRoot, "x")
	if c.isFresh(node) {
		t.Fatal("freshly created node without Direct should not be fresh")
	}

	node.AddFlags(cachetree.Direct)
	node.SetTimestampAttempt(c.startupTime.Add(-time.Hour))
	if c.isFresh(node) {
		t.Fatal("node attempted before startup time should not be fresh")
	}

	node.SetTimestampAttempt(c.startupTime)
	if !c.isFresh(node) {
		t.Fatal("node with Direct and attempt at startup time should be fresh")
	}
}

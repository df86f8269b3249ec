// Package cache implements the local artifact cache of an RPKI relying-party
// validator: a persistent, path-structured state machine over an on-disk
// tree of rsync- and HTTPS-fetched objects, with freshness tracking,
// mode-flip recovery, and a shutdown sweep that reconciles the tree against
// disk.
//
// The cache is single-threaded with respect to its own state: callers must
// serialize Prepare, Download, Cleanup, and Teardown. No internal locking is
// performed.
package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-rpki/cache/pkg/cachecodec"
	"github.com/go-rpki/cache/pkg/cachetree"
	"github.com/go-rpki/cache/pkg/logging"
	"github.com/go-rpki/cache/pkg/pathbuilder"
)

// nowFunc is a seam for tests that need to control the clock; production
// code always uses time.Now.
var nowFunc = time.Now

// SubtreeFetcher performs a synchronous whole-subtree fetch for the given
// URI, returning a fetch result code (0 for success).
type SubtreeFetcher func(uri string) int

// ObjectFetcher performs a synchronous single-object fetch for the given
// URI, returning a fetch result code (0 for success) and whether the
// object's bytes differ from a prior fetch.
type ObjectFetcher func(uri string) (code int, changed bool)

// Cache bundles the two process-wide roots, the run's startup time, and the
// injected fetcher callbacks into a single explicit value, in place of the
// global mutable state the original design sketched.
type Cache struct {
	localRepositoryRoot string
	rsyncRoot           *cachetree.Node
	httpsRoot           *cachetree.Node
	startupTime         time.Time
	prepared            bool

	lockMetadata bool
	lockHeld     bool

	fetchSubtree SubtreeFetcher
	fetchObject  ObjectFetcher

	logger *logging.Logger
}

// New constructs a Cache rooted at localRepositoryRoot, using the given
// fetcher callbacks. Prepare must be called before Download, Cleanup, or
// Teardown.
func New(localRepositoryRoot string, fetchSubtree SubtreeFetcher, fetchObject ObjectFetcher, logger *logging.Logger) *Cache {
	return &Cache{
		localRepositoryRoot: localRepositoryRoot,
		fetchSubtree:        fetchSubtree,
		fetchObject:         fetchObject,
		logger:              logger,
	}
}

// WithLockMetadata enables the opt-in exclusive lock on metadata.json for
// the duration of Prepare through Teardown, guarding against two cache
// instances sharing a repository root. It must be called before Prepare.
func (c *Cache) WithLockMetadata() *Cache {
	c.lockMetadata = true
	return c
}

// Prepare is idempotent: it stamps the cache's startup time and, on its
// first call, loads metadata.json (synthesizing empty roots if the file is
// absent or unparsable).
func (c *Cache) Prepare() error {
	c.startupTime = time.Now()
	if c.prepared {
		return nil
	}

	if err := os.MkdirAll(c.localRepositoryRoot, 0o755); err != nil {
		return fmt.Errorf("unable to create local repository root: %w", err)
	}

	if c.lockMetadata {
		if err := c.acquireLock(); err != nil {
			return err
		}
	}

	rsyncRoot, httpsRoot, err := cachecodec.Load(c.localRepositoryRoot, c.logger)
	if err != nil {
		c.releaseLock()
		return fmt.Errorf("unable to load metadata: %w", err)
	}
	c.rsyncRoot = rsyncRoot
	c.httpsRoot = httpsRoot
	c.prepared = true
	return nil
}

// Teardown frees both roots, including the roots themselves, and releases
// the metadata lock if one was acquired. The Cache must not be used after
// Teardown.
func (c *Cache) Teardown() {
	c.releaseLock()
	if c.rsyncRoot != nil {
		cachetree.DeleteNode(c.rsyncRoot, true)
	}
	if c.httpsRoot != nil {
		cachetree.DeleteNode(c.httpsRoot, true)
	}
	c.rsyncRoot = nil
	c.httpsRoot = nil
	c.prepared = false
}

// rootPath returns the on-disk path for the given transport root's
// directory (<local_repository_root>/rsync or .../https).
func (c *Cache) rootPath(label string) string {
	return filepath.Join(c.localRepositoryRoot, label)
}

// diskPath returns the on-disk path corresponding to a node, given its
// transport root label and the chain of basenames from the root to the
// node (exclusive of the root's own label, which rootPath already
// supplies). It is built through pathbuilder.Builder rather than a bare
// filepath.Join so that a pathologically deep or long-named node chain is
// rejected with an error instead of silently producing a path the
// filesystem may refuse.
func (c *Cache) diskPath(label string, segments []string) (string, error) {
	builder := pathbuilder.New()
	if err := builder.Append(c.rootPath(label)); err != nil {
		return "", err
	}
	for _, segment := range segments {
		if err := builder.Append(segment); err != nil {
			return "", fmt.Errorf("cannot build disk path under %q: %w", label, err)
		}
	}
	return builder.Compile(), nil
}

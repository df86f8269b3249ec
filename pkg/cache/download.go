package cache

import (
	"fmt"
	"os"

	"github.com/go-rpki/cache/pkg/cachetree"
)

// Download implements cache_download. For HTTP URIs, changed is set to
// whether the fetched object's bytes differed from the prior fetch; it is
// left untouched for file-sync URIs. The returned int is the fetch result
// code (0 on success, or the code last recorded for this node if satisfied
// by freshness without a fetch).
//
// Download panics if uri does not classify to a known transport: an
// unrecognized URI scheme reaching the cache is a programmer error in the
// caller, not a recoverable condition (see the invariant-violation error
// kind in the design documentation).
func (c *Cache) Download(uri string, changed *bool) int {
	if !c.prepared {
		panic("cache: Download called before Prepare")
	}

	transport, segments := classify(uri)

	var root *cachetree.Node
	var label string
	var recursive bool
	switch transport {
	case TransportRsync:
		root, label, recursive = c.rsyncRoot, cachetree.RsyncLabel, true
	case TransportHTTPS:
		root, label, recursive = c.httpsRoot, cachetree.HTTPSLabel, false
	default:
		panic(fmt.Sprintf("cache: unrecognized URI transport for %q", uri))
	}

	if len(segments) == 0 {
		panic(fmt.Sprintf("cache: URI %q has no path segments to cache", uri))
	}

	node, _, fetchNow, err := c.descend(root, label, recursive, segments)
	if err != nil {
		c.logger.Warn(fmt.Errorf("download of %q abandoned: %w", uri, err))
		return 1
	}
	if !fetchNow {
		// The descent short-circuited on an already-fresh node (either the
		// final target or, for a recursive transport, a fresh ancestor).
		return node.Error()
	}

	return c.fetchAndUpdate(node, uri, transport, changed)
}

// descend walks segments under root, creating nodes as needed and applying
// file-to-directory mode-flip cleanup along the way. It returns the node to
// act on, the path segments (root-relative) leading to it, and whether a
// fetch is still required (false means the returned node's stored Error
// should be returned directly, without invoking a fetcher). An error is
// returned if the accumulated disk path for any node along the descent
// exceeds pathbuilder.MaxPathLength.
func (c *Cache) descend(root *cachetree.Node, label string, recursive bool, segments []string) (node *cachetree.Node, pathSegments []string, fetchNow bool, err error) {
	node = root
	pathSegments = nil

	for i, segment := range segments {
		// Check the node we're about to descend through for a stale FILE
		// flag: a remote file becoming a directory.
		if node.Flags().Has(cachetree.File) {
			path, pathErr := c.diskPath(label, pathSegments)
			if pathErr != nil {
				return nil, nil, false, pathErr
			}
			c.logger.Debugf("mode-flip: %s was a file, now descended as a directory", path)
			c.removeDiskEntry(path)
			node.ClearFlags()
		}

		child, ok := node.Child(segment)
		if !ok {
			// From this point, every remaining segment is materialized as a
			// fresh child chain.
			cur := node
			curPath := pathSegments
			for _, remaining := range segments[i:] {
				cur = cachetree.AddChild(cur, remaining)
				curPath = append(curPath, remaining)
			}
			if _, pathErr := c.diskPath(label, curPath); pathErr != nil {
				return nil, nil, false, pathErr
			}
			return cur, curPath, true, nil
		}

		childPath := append(append([]string{}, pathSegments...), segment)

		if recursive && c.isFresh(child) && child.Flags().Has(cachetree.Success) {
			return child, childPath, false, nil
		}

		node = child
		pathSegments = childPath
	}

	if c.isFresh(node) {
		return node, pathSegments, false, nil
	}

	if !recursive && !node.Flags().Has(cachetree.File) {
		// Directory-to-file transition: remove the stale directory tree
		// before fetching the leaf object in its place.
		path, pathErr := c.diskPath(label, pathSegments)
		if pathErr != nil {
			return nil, nil, false, pathErr
		}
		c.removeDiskEntry(path)
	}

	return node, pathSegments, true, nil
}

// isFresh implements the freshness predicate of 4.4.1: Direct is set and
// the last attempt occurred at or after the cache's startup time.
func (c *Cache) isFresh(node *cachetree.Node) bool {
	return node.Flags().Has(cachetree.Direct) && !node.TimestampAttempt().Before(c.startupTime)
}

// fetchAndUpdate invokes the appropriate fetcher for node, updates its
// flags and timestamps per the fetch outcome, drops its children, and
// returns the fetch result code.
func (c *Cache) fetchAndUpdate(node *cachetree.Node, uri string, transport Transport, changed *bool) int {
	var code int
	switch transport {
	case TransportRsync:
		code = c.fetchSubtree(uri)
	case TransportHTTPS:
		var objectChanged bool
		code, objectChanged = c.fetchObject(uri)
		if changed != nil {
			*changed = objectChanged
		}
	}

	attempt := nowFunc()
	node.SetError(code)
	node.AddFlags(cachetree.Direct)
	node.SetTimestampAttempt(attempt)

	if code == 0 {
		node.AddFlags(cachetree.Success)
		if transport == TransportHTTPS {
			node.AddFlags(cachetree.File)
		}
		node.SetTimestampSuccess(attempt)
	}

	// Dropping children is semantically essential for recursive transports
	// (descendants are now covered by the parent fetch); for non-recursive
	// transports it is a no-op in practice since a freshly fetched leaf has
	// no children and a directory-to-file transition already cleared them.
	cachetree.DropChildren(node)

	return code
}

// removeDiskEntry best-effort removes whatever is at path, tolerating a
// nonexistent path.
func (c *Cache) removeDiskEntry(path string) {
	if err := os.RemoveAll(path); err != nil && !os.IsNotExist(err) {
		c.logger.Warn(fmt.Errorf("unable to remove stale cache entry %q: %w", path, err))
	}
}

package cache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-rpki/cache/pkg/cachecodec"
	"github.com/go-rpki/cache/pkg/cachetree"
)

// Cleanup implements cache_cleanup: a best-effort, depth-first
// reconciliation of both transport roots against the filesystem, followed
// by serializing the surviving tree. Stat, readdir, and remove errors are
// logged and bypassed; the sweep never fails the caller.
func (c *Cache) Cleanup() error {
	if !c.prepared {
		panic("cache: Cleanup called before Prepare")
	}

	c.sweepNode(c.rsyncRoot, c.rootPath(cachetree.RsyncLabel))
	c.sweepNode(c.httpsRoot, c.rootPath(cachetree.HTTPSLabel))

	if err := cachecodec.Dump(c.localRepositoryRoot, c.rsyncRoot, c.httpsRoot); err != nil {
		return fmt.Errorf("unable to persist metadata: %w", err)
	}
	return nil
}

// sweepNode reconciles node against the filesystem entry at path. It
// returns whether node survived the sweep; if it did not, it has already
// been unlinked from its parent (unless it was a root, which always
// survives regardless of the return value).
func (c *Cache) sweepNode(node *cachetree.Node, path string) bool {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			c.orphan(node)
			return false
		}
		c.logger.Warn(fmt.Errorf("unable to stat %q during cleanup: %w", path, err))
		return true
	}

	if c.isFresh(node) && node.Error() == 0 {
		return true
	}

	mode := info.Mode()
	switch {
	case mode.IsRegular():
		c.removeDiskEntry(path)
		c.orphan(node)
		return false
	case mode.IsDir():
		return c.sweepDirectory(node, path)
	default:
		// Symlink, device, socket, or other non-regular, non-directory
		// entry: not something the cache ever wrote, so it is removed
		// along with the node that (incorrectly) tracks it.
		c.removeDiskEntry(path)
		c.orphan(node)
		return false
	}
}

// sweepDirectory implements the directory branch of the sweep: matching
// disk entries against node children, removing unmatched disk entries,
// dropping unmatched children, and removing the directory itself if it
// ends up empty.
func (c *Cache) sweepDirectory(node *cachetree.Node, path string) bool {
	entries, err := os.ReadDir(path)
	if err != nil {
		c.logger.Warn(fmt.Errorf("unable to read directory %q during cleanup: %w", path, err))
		return true
	}

	for _, entry := range entries {
		name := entry.Name()
		if name == "." || name == ".." {
			continue
		}
		childPath := filepath.Join(path, name)
		if child, ok := node.Child(name); ok {
			child.AddFlags(cachetree.Found)
			c.sweepNode(child, childPath)
		} else {
			c.removeDiskEntry(childPath)
		}
	}

	for _, child := range node.Children() {
		if child.Flags().Has(cachetree.Found) {
			child.SetFlags(child.Flags() &^ cachetree.Found)
		} else {
			cachetree.DeleteNode(child, false)
		}
	}

	if len(node.Children()) == 0 && !node.IsRoot() {
		c.removeDiskEntry(path)
		c.orphan(node)
		return false
	}
	return true
}

// orphan deletes node from its parent, tolerating roots (which DeleteNode
// refuses to remove without force; roots are never orphaned by the sweep).
func (c *Cache) orphan(node *cachetree.Node) {
	if node.IsRoot() {
		return
	}
	cachetree.DeleteNode(node, false)
}

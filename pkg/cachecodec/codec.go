// Package cachecodec implements the bidirectional mapping between the
// cache's in-memory node tree and the metadata.json side-car document that
// persists it between validator runs.
package cachecodec

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-rpki/cache/pkg/cachetree"
	"github.com/go-rpki/cache/pkg/logging"
)

// timestampLayout matches the original %Y-%m-%dT%H:%M:%S%z format: an
// ISO-8601 timestamp with a numeric, non-colon-separated zone offset.
const timestampLayout = "2006-01-02T15:04:05-0700"

// MetadataFileName is the name of the side-car persistence document under
// local_repository_root.
const MetadataFileName = "metadata.json"

// nodeDocument is the on-disk JSON shape of a single node, recursively.
type nodeDocument struct {
	Basename  string          `json:"basename"`
	Flags     uint8           `json:"flags"`
	TSSuccess string          `json:"ts_success,omitempty"`
	TSAttempt string          `json:"ts_attempt,omitempty"`
	Error     int             `json:"error"`
	Children  []*nodeDocument `json:"children,omitempty"`
}

// tt2json formats a timestamp for persistence using the local timezone's
// offset. A zero time formats to the empty string.
func tt2json(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format(timestampLayout)
}

// json2tt parses a persisted timestamp. An empty string yields the zero
// time with no error, matching the "field absent" case.
func json2tt(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timestampLayout, s)
}

// node2document converts a node subtree into its JSON document shape.
func node2document(n *cachetree.Node) *nodeDocument {
	doc := &nodeDocument{
		Basename:  n.Basename(),
		Flags:     uint8(n.Flags()),
		TSSuccess: tt2json(n.TimestampSuccess()),
		TSAttempt: tt2json(n.TimestampAttempt()),
		Error:     n.Error(),
	}
	children := n.Children()
	if len(children) > 0 {
		doc.Children = make([]*nodeDocument, 0, len(children))
		for _, child := range children {
			doc.Children = append(doc.Children, node2document(child))
		}
	}
	return doc
}

// document2node deserializes doc into a freshly attached child of parent.
// Malformed fields cause the offending node (and its already-loaded
// subtree) to be discarded with a warning rather than aborting the whole
// load, per the codec's defensive-parsing contract.
func document2node(doc *nodeDocument, parent *cachetree.Node, logger *logging.Logger) {
	if doc.Basename == "" {
		logger.RecordWarn("metadata node", fmt.Errorf("empty basename under %q", parent.Basename()))
		return
	}
	if doc.Basename == "." || doc.Basename == ".." || strings.ContainsRune(doc.Basename, '/') {
		logger.RecordWarn("metadata node", fmt.Errorf("invalid basename %q under %q", doc.Basename, parent.Basename()))
		return
	}
	if _, exists := parent.Child(doc.Basename); exists {
		logger.RecordWarn("metadata node", fmt.Errorf("duplicate basename %q under %q", doc.Basename, parent.Basename()))
		return
	}

	tsSuccess, err := json2tt(doc.TSSuccess)
	if err != nil {
		logger.RecordWarn("metadata node", fmt.Errorf("node %q has malformed ts_success: %w", doc.Basename, err))
		return
	}
	tsAttempt, err := json2tt(doc.TSAttempt)
	if err != nil {
		logger.RecordWarn("metadata node", fmt.Errorf("node %q has malformed ts_attempt: %w", doc.Basename, err))
		return
	}

	node := cachetree.AddChild(parent, doc.Basename)
	node.SetFlags(cachetree.Flag(doc.Flags))
	node.SetTimestampSuccess(tsSuccess)
	node.SetTimestampAttempt(tsAttempt)
	node.SetError(doc.Error)

	for _, childDoc := range doc.Children {
		document2node(childDoc, node, logger)
	}
}

// populateRoot copies doc's flags, timestamps, error and children onto an
// existing root node (which already carries the correct label and nil
// parent), applying the same defensive per-child decoding as any other
// node.
func populateRoot(doc *nodeDocument, root *cachetree.Node, logger *logging.Logger) {
	root.SetFlags(cachetree.Flag(doc.Flags))
	if ts, err := json2tt(doc.TSSuccess); err == nil {
		root.SetTimestampSuccess(ts)
	} else {
		logger.RecordWarn("metadata root", fmt.Errorf("root %q has malformed ts_success: %w", doc.Basename, err))
	}
	if ts, err := json2tt(doc.TSAttempt); err == nil {
		root.SetTimestampAttempt(ts)
	} else {
		logger.RecordWarn("metadata root", fmt.Errorf("root %q has malformed ts_attempt: %w", doc.Basename, err))
	}
	root.SetError(doc.Error)
	for _, childDoc := range doc.Children {
		document2node(childDoc, root, logger)
	}
}

// Load reads <localRepositoryRoot>/metadata.json and returns the two
// process-wide roots. A missing metadata file is a silent fresh start, and
// one that is not valid JSON is a fresh start with a logged warning: in
// both cases both roots are returned empty with no error. Any node (and
// its subtree) that fails to decode is discarded with a warning; the
// overall load never fails because of per-node corruption.
func Load(localRepositoryRoot string, logger *logging.Logger) (rsyncRoot, httpsRoot *cachetree.Node, err error) {
	rsyncRoot = cachetree.NewRoot(cachetree.RsyncLabel)
	httpsRoot = cachetree.NewRoot(cachetree.HTTPSLabel)

	path := metadataPath(localRepositoryRoot)
	data, readErr := os.ReadFile(path)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return rsyncRoot, httpsRoot, nil
		}
		return nil, nil, fmt.Errorf("unable to read metadata file: %w", readErr)
	}

	var topLevel []*nodeDocument
	if err := json.Unmarshal(data, &topLevel); err != nil {
		logger.Warn(fmt.Errorf("metadata file is not valid JSON, starting fresh: %w", err))
		return rsyncRoot, httpsRoot, nil
	}

	var sawRsync, sawHTTPS bool
	for _, doc := range topLevel {
		switch strings.ToLower(doc.Basename) {
		case cachetree.RsyncLabel:
			if sawRsync {
				logger.RecordWarn("metadata top level", fmt.Errorf("duplicate %q root, ignoring", doc.Basename))
				continue
			}
			sawRsync = true
			populateRoot(doc, rsyncRoot, logger)
		case cachetree.HTTPSLabel:
			if sawHTTPS {
				logger.RecordWarn("metadata top level", fmt.Errorf("duplicate %q root, ignoring", doc.Basename))
				continue
			}
			sawHTTPS = true
			populateRoot(doc, httpsRoot, logger)
		default:
			logger.RecordWarn("metadata top level", fmt.Errorf("unrecognized root basename %q", doc.Basename))
		}
	}

	return rsyncRoot, httpsRoot, nil
}

// Dump writes the current tree for both roots to metadata.json, compactly
// and atomically, using a temporary-file-plus-rename strategy.
func Dump(localRepositoryRoot string, rsyncRoot, httpsRoot *cachetree.Node) error {
	docs := []*nodeDocument{node2document(rsyncRoot), node2document(httpsRoot)}

	data, err := json.Marshal(docs)
	if err != nil {
		return fmt.Errorf("unable to marshal metadata: %w", err)
	}

	path := metadataPath(localRepositoryRoot)
	temporary, err := os.CreateTemp(filepath.Dir(path), ".metadata-*.tmp")
	if err != nil {
		return fmt.Errorf("unable to create temporary metadata file: %w", err)
	}
	tempName := temporary.Name()
	if _, err := temporary.Write(data); err != nil {
		temporary.Close()
		os.Remove(tempName)
		return fmt.Errorf("unable to write temporary metadata file: %w", err)
	}
	if err := temporary.Close(); err != nil {
		os.Remove(tempName)
		return fmt.Errorf("unable to close temporary metadata file: %w", err)
	}
	if err := os.Rename(tempName, path); err != nil {
		os.Remove(tempName)
		return fmt.Errorf("unable to finalize metadata file: %w", err)
	}
	return nil
}

func metadataPath(localRepositoryRoot string) string {
	return filepath.Join(localRepositoryRoot, MetadataFileName)
}

package cache

import "strings"

// Transport identifies which of the two fetcher families a URI belongs to.
type Transport uint8

const (
	// TransportUnknown indicates a URI that could not be classified. Callers
	// that reach this value have handed the cache a URI scheme the validator
	// should never produce; the coordinator treats it as a fatal programmer
	// error rather than a recoverable one.
	TransportUnknown Transport = iota
	// TransportRsync is the file-synchronization transport: recursive,
	// whole-subtree fetches.
	TransportRsync
	// TransportHTTPS is the single-object HTTP transport: non-recursive,
	// one-object-at-a-time fetches.
	TransportHTTPS
)

// rsyncPrefixes and httpsPrefixes list the URI scheme prefixes recognized
// for each transport. Full URI parsing (host/port/credential extraction) is
// out of scope for the cache; it only needs the transport classification
// and the path portion used to walk the node tree.
var (
	rsyncPrefixes = []string{"rsync://"}
	httpsPrefixes = []string{"https://", "http://"}
)

// classify determines the transport for a URI and returns everything that
// follows the scheme (the host, then the path), tokenized on '/'. It mirrors the
// prefix-matching style the wider dependency family uses for its own URI
// dispatch (matching a literal scheme prefix rather than invoking a general
// URI parser for a shape this constrained).
func classify(uri string) (Transport, []string) {
	for _, prefix := range rsyncPrefixes {
		if strings.HasPrefix(uri, prefix) {
			return TransportRsync, tokenize(uri[len(prefix):])
		}
	}
	for _, prefix := range httpsPrefixes {
		if strings.HasPrefix(uri, prefix) {
			return TransportHTTPS, tokenize(uri[len(prefix):])
		}
	}
	return TransportUnknown, nil
}

// tokenize splits a post-scheme URI remainder (host plus path) on '/',
// dropping empty segments produced by leading, trailing, or repeated
// slashes.
func tokenize(remainder string) []string {
	raw := strings.Split(remainder, "/")
	segments := make([]string, 0, len(raw))
	for _, s := range raw {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

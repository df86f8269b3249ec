package cache

import (
	"github.com/go-rpki/cache/pkg/overlay"
)

// LoadOverlay implements overlay_load: parses and validates the
// locally-authored exception document at location. It is a no-op
// (returning a nil result and nil error) when location is empty, matching
// the "no-op when overlay_location is unset" contract; any other failure
// to read or parse the document is returned as an error.
func (c *Cache) LoadOverlay(location string) (*overlay.LoadResult, error) {
	if location == "" {
		return nil, nil
	}
	return overlay.Load(location, c.logger)
}

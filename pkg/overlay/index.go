package overlay

import (
	"net/netip"

	"github.com/gaissmai/bart"
)

// Index provides longest-prefix-match lookup over a loaded overlay's
// prefix filters and assertions, resolving the distilled specification's
// deferred "downstream consumer" for prefix records: a relying-party
// validator checking a ROA against the overlay needs exactly this lookup
// for every prefix it validates, rather than a linear scan of the loaded
// record slices.
type Index struct {
	table *bart.Table[[]*PrefixRecord]
}

// buildIndex inserts every record carrying a concrete prefix into a single
// longest-prefix-match table, keyed by that prefix; records sharing an
// exact prefix accumulate under the same entry.
func buildIndex(filters, assertions []*PrefixRecord) *Index {
	table := new(bart.Table[[]*PrefixRecord])
	insert := func(records []*PrefixRecord) {
		for _, record := range records {
			if record.Present&FieldPrefix == 0 {
				continue
			}
			existing, _ := table.Get(record.Prefix)
			table.Insert(record.Prefix, append(existing, record))
		}
	}
	insert(filters)
	insert(assertions)
	return &Index{table: table}
}

// LookupPrefix returns the most specific overlay records whose prefix
// covers pfx, if any.
func (idx *Index) LookupPrefix(pfx netip.Prefix) ([]*PrefixRecord, bool) {
	if idx == nil || idx.table == nil {
		return nil, false
	}
	_, records, ok := idx.table.LookupPrefixLPM(pfx)
	return records, ok
}

// Lookup returns the most specific overlay records covering addr, if any.
func (idx *Index) Lookup(addr netip.Addr) ([]*PrefixRecord, bool) {
	if idx == nil || idx.table == nil {
		return nil, false
	}
	records, ok := idx.table.Lookup(addr)
	return records, ok
}

// Size reports the number of distinct prefixes indexed.
func (idx *Index) Size() int {
	if idx == nil || idx.table == nil {
		return 0
	}
	return idx.table.Size()
}

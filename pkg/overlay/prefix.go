package overlay

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// PresentField is a bitset indicating which optional fields a record
// carries, independent of whether the record's mode requires them.
type PresentField uint8

const (
	// FieldPrefix marks that the prefix field was present.
	FieldPrefix PresentField = 1 << iota
	// FieldASN marks that the asn field was present.
	FieldASN
	// FieldMaxPrefixLength marks that the maxPrefixLength field was present.
	FieldMaxPrefixLength
	// FieldComment marks that the comment field was present.
	FieldComment
)

// PrefixRecord is a validated prefix-origin overlay record: an address
// family, prefix bits/length, optional max length, optional ASN, and an
// optional comment.
type PrefixRecord struct {
	Mode            Mode
	Present         PresentField
	Prefix          netip.Prefix // zero value if Present lacks FieldPrefix
	MaxPrefixLength int          // meaningful only if Present has FieldMaxPrefixLength
	ASN             uint32       // meaningful only if Present has FieldASN
	Comment         string
}

const (
	maxASN = 1<<32 - 1
	minASN = 1
)

// validateASN enforces asn ∈ [1, 2^32 - 1].
func validateASN(asn int64) (uint32, error) {
	if asn < minASN || asn > maxASN {
		return 0, fmt.Errorf("asn %d out of range [%d, %d]", asn, minASN, maxASN)
	}
	return uint32(asn), nil
}

// familyMax returns the maximum valid prefix length for the address family
// of addr (32 for v4, 128 for v6).
func familyMax(addr netip.Addr) int {
	if addr.Is4() {
		return 32
	}
	return 128
}

// parsePrefixString parses "addr/len", validating that host bits below the
// prefix length are zero (i.e. the address is canonically a prefix of that
// length) and that the length is within the family's valid range.
func parsePrefixString(raw string) (netip.Prefix, error) {
	slashIndex := strings.IndexByte(raw, '/')
	if slashIndex < 0 {
		return netip.Prefix{}, fmt.Errorf("prefix %q missing '/'", raw)
	}
	addrPart, lengthPart := raw[:slashIndex], raw[slashIndex+1:]

	addr, err := netip.ParseAddr(addrPart)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("prefix %q has invalid address: %w", raw, err)
	}

	length, err := strconv.Atoi(lengthPart)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("prefix %q has invalid length: %w", raw, err)
	}
	if length < 0 || length > familyMax(addr) {
		return netip.Prefix{}, fmt.Errorf("prefix %q length %d out of range [0, %d]", raw, length, familyMax(addr))
	}

	prefix := netip.PrefixFrom(addr, length)
	if prefix.Masked() != prefix {
		return netip.Prefix{}, fmt.Errorf("prefix %q has non-zero host bits below /%d", raw, length)
	}

	return prefix, nil
}

// validatePrefix validates a single prefix element according to its mode.
// For assertions, asn and prefix are required, and maxPrefixLength (when
// present) must satisfy prefix_length <= max <= family_max and is honored;
// on filters, prefix and asn are both optional and maxPrefixLength, even if
// present, has no assertion-only semantics to enforce beyond its own range
// check.
func validatePrefix(elem rawPrefixElement, mode Mode) (*PrefixRecord, error) {
	record := &PrefixRecord{Mode: mode}

	if elem.Comment != nil {
		record.Present |= FieldComment
		record.Comment = *elem.Comment
	}

	if elem.Prefix != nil {
		record.Present |= FieldPrefix
		prefix, err := parsePrefixString(*elem.Prefix)
		if err != nil {
			return nil, err
		}
		record.Prefix = prefix
	} else if mode == ModeAssertion {
		return nil, fmt.Errorf("assertion missing required prefix")
	}

	if elem.ASN != nil {
		record.Present |= FieldASN
		asn, err := validateASN(*elem.ASN)
		if err != nil {
			return nil, err
		}
		record.ASN = asn
	} else if mode == ModeAssertion {
		return nil, fmt.Errorf("assertion missing required asn")
	}

	if elem.MaxPrefixLength != nil && *elem.MaxPrefixLength != 0 {
		record.Present |= FieldMaxPrefixLength
		max := *elem.MaxPrefixLength
		if record.Present&FieldPrefix == 0 {
			return nil, fmt.Errorf("maxPrefixLength specified without prefix")
		}
		familyLimit := familyMax(record.Prefix.Addr())
		if max < int64(record.Prefix.Bits()) || max > int64(familyLimit) {
			return nil, fmt.Errorf("maxPrefixLength %d out of range [%d, %d]", max, record.Prefix.Bits(), familyLimit)
		}
		record.MaxPrefixLength = int(max)
	}

	return record, nil
}

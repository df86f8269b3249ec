// Package overlay implements the loader for the locally-authored exception
// document (the "validation-output filters and locally-added assertions"
// file): a strictly-versioned JSON document declaring filters and
// assertions over prefix-origin and BGP-signing records.
package overlay

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// SupportedVersion is the only slurmVersion this loader accepts.
const SupportedVersion = 1

// Mode distinguishes a filter record (partially optional fields, used to
// suppress validator output) from an assertion record (mandatory
// identifying fields, injected as if validated).
type Mode uint8

const (
	// ModeFilter marks a record from validationOutputFilters.
	ModeFilter Mode = iota
	// ModeAssertion marks a record from locallyAddedAssertions.
	ModeAssertion
)

// String renders a Mode for logging.
func (m Mode) String() string {
	if m == ModeAssertion {
		return "assertion"
	}
	return "filter"
}

// rawDocument mirrors the top-level SLURM-style JSON schema. The two
// sub-objects are pointers so that an absent member (as opposed to one
// present but empty) is distinguishable and rejected by Load.
type rawDocument struct {
	SlurmVersion            int              `json:"slurmVersion"`
	ValidationOutputFilters *rawFilterSet    `json:"validationOutputFilters"`
	LocallyAddedAssertions  *rawAssertionSet `json:"locallyAddedAssertions"`
}

// rawFilterSet's array fields are pointers for the same reason: a document
// that names validationOutputFilters but omits prefixFilters or
// bgpsecFilters entirely must fail, not be treated as supplying an empty
// list.
type rawFilterSet struct {
	PrefixFilters *[]rawPrefixElement `json:"prefixFilters"`
	BGPsecFilters *[]rawBGPsecElement `json:"bgpsecFilters"`
}

type rawAssertionSet struct {
	PrefixAssertions *[]rawPrefixElement `json:"prefixAssertions"`
	BGPsecAssertions *[]rawBGPsecElement `json:"bgpsecAssertions"`
}

type rawPrefixElement struct {
	Prefix          *string `json:"prefix"`
	ASN             *int64  `json:"asn"`
	MaxPrefixLength *int64  `json:"maxPrefixLength"`
	Comment         *string `json:"comment"`
}

type rawBGPsecElement struct {
	ASN              *int64  `json:"asn"`
	SKI              *string `json:"SKI"`
	RouterPublicKey  *string `json:"routerPublicKey"`
	Comment          *string `json:"comment"`
}

// LoadResult is the boundary artifact this loader hands to a downstream
// consumer: every record that passed validation, plus a longest-prefix
// lookup index over the prefix records.
type LoadResult struct {
	PrefixFilters    []*PrefixRecord
	PrefixAssertions []*PrefixRecord
	BGPsecFilters    []*BGPsecRecord
	BGPsecAssertions []*BGPsecRecord
	Index            *Index
}

// Logger is the minimal logging surface the loader needs: per-record
// validation warnings. It is satisfied by *logging.Logger without this
// package importing it directly, keeping the overlay package's dependency
// surface limited to what the JSON schema and record validation need.
type Logger interface {
	RecordWarn(description string, err error)
}

// Load reads and validates the overlay document at path. slurmVersion must
// equal 1; validationOutputFilters and locallyAddedAssertions, and all four
// of their child arrays, must be present (each may be empty, but not
// absent). Elements that fail validation are logged via logger and
// skipped; the load only fails outright on a structural problem with the
// document itself (missing file, invalid JSON, duplicate members, a member
// name unknown to the schema at any level including inside an element,
// wrong version, or a required member entirely absent).
func Load(path string, logger Logger) (*LoadResult, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read overlay document: %w", err)
	}

	if err := rejectDuplicateMembers(data); err != nil {
		return nil, fmt.Errorf("overlay document has duplicate members: %w", err)
	}

	var raw rawDocument
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("overlay document is not valid JSON: %w", err)
	}

	if raw.SlurmVersion != SupportedVersion {
		return nil, fmt.Errorf("unsupported slurmVersion %d, expected %d", raw.SlurmVersion, SupportedVersion)
	}

	if raw.ValidationOutputFilters == nil {
		return nil, fmt.Errorf("overlay document is missing required member validationOutputFilters")
	}
	if raw.LocallyAddedAssertions == nil {
		return nil, fmt.Errorf("overlay document is missing required member locallyAddedAssertions")
	}
	if raw.ValidationOutputFilters.PrefixFilters == nil {
		return nil, fmt.Errorf("validationOutputFilters is missing required member prefixFilters")
	}
	if raw.ValidationOutputFilters.BGPsecFilters == nil {
		return nil, fmt.Errorf("validationOutputFilters is missing required member bgpsecFilters")
	}
	if raw.LocallyAddedAssertions.PrefixAssertions == nil {
		return nil, fmt.Errorf("locallyAddedAssertions is missing required member prefixAssertions")
	}
	if raw.LocallyAddedAssertions.BGPsecAssertions == nil {
		return nil, fmt.Errorf("locallyAddedAssertions is missing required member bgpsecAssertions")
	}

	result := &LoadResult{}

	for _, elem := range *raw.ValidationOutputFilters.PrefixFilters {
		if record, err := validatePrefix(elem, ModeFilter); err != nil {
			logger.RecordWarn("prefix filter", err)
		} else {
			result.PrefixFilters = append(result.PrefixFilters, record)
		}
	}
	for _, elem := range *raw.LocallyAddedAssertions.PrefixAssertions {
		if record, err := validatePrefix(elem, ModeAssertion); err != nil {
			logger.RecordWarn("prefix assertion", err)
		} else {
			result.PrefixAssertions = append(result.PrefixAssertions, record)
		}
	}
	for _, elem := range *raw.ValidationOutputFilters.BGPsecFilters {
		if record, err := validateBGPsec(elem, ModeFilter); err != nil {
			logger.RecordWarn("bgpsec filter", err)
		} else {
			result.BGPsecFilters = append(result.BGPsecFilters, record)
		}
	}
	for _, elem := range *raw.LocallyAddedAssertions.BGPsecAssertions {
		if record, err := validateBGPsec(elem, ModeAssertion); err != nil {
			logger.RecordWarn("bgpsec assertion", err)
		} else {
			result.BGPsecAssertions = append(result.BGPsecAssertions, record)
		}
	}

	result.Index = buildIndex(result.PrefixFilters, result.PrefixAssertions)

	return result, nil
}

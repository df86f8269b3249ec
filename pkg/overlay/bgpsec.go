package overlay

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// BGPsecRecord is a validated BGP-signing overlay record: an ASN, a
// subject key identifier, an optional router public key, and an optional
// comment.
type BGPsecRecord struct {
	Mode            Mode
	Present         PresentField
	ASN             uint32
	SKI             []byte
	RouterPublicKey []byte
	Comment         string
}

// FieldSKI and FieldRouterPublicKey extend PresentField for BGPsec records.
const (
	FieldSKI PresentField = 1 << (iota + 4)
	FieldRouterPublicKey
)

// decodeBase64URLNoPad decodes s as base64url without trailing padding: the
// '-'/'_' alphabet, no '=' characters permitted in the input. It rejects
// any input containing '=', translates the alphabet to standard base64,
// pads to a multiple of 4, and decodes as standard base64. The decoded
// length must be non-zero.
func decodeBase64URLNoPad(s string) ([]byte, error) {
	if strings.ContainsRune(s, '=') {
		return nil, fmt.Errorf("base64url value %q contains padding", s)
	}

	translated := strings.NewReplacer("-", "+", "_", "/").Replace(s)
	if pad := len(translated) % 4; pad != 0 {
		translated += strings.Repeat("=", 4-pad)
	}

	decoded, err := base64.StdEncoding.DecodeString(translated)
	if err != nil {
		return nil, fmt.Errorf("base64url value %q is malformed: %w", s, err)
	}
	if len(decoded) == 0 {
		return nil, fmt.Errorf("base64url value %q decodes to zero bytes", s)
	}
	return decoded, nil
}

// validateBGPsec validates a single bgpsec element according to its mode.
// SKI and routerPublicKey are required for assertions; on filters, only SKI
// applies and routerPublicKey is ignored even if present.
func validateBGPsec(elem rawBGPsecElement, mode Mode) (*BGPsecRecord, error) {
	record := &BGPsecRecord{Mode: mode}

	if elem.Comment != nil {
		record.Present |= FieldComment
		record.Comment = *elem.Comment
	}

	if elem.ASN == nil {
		return nil, fmt.Errorf("missing required asn")
	}
	asn, err := validateASN(*elem.ASN)
	if err != nil {
		return nil, err
	}
	record.ASN = asn
	record.Present |= FieldASN

	if elem.SKI != nil {
		ski, err := decodeBase64URLNoPad(*elem.SKI)
		if err != nil {
			return nil, fmt.Errorf("SKI: %w", err)
		}
		record.SKI = ski
		record.Present |= FieldSKI
	} else if mode == ModeAssertion {
		return nil, fmt.Errorf("assertion missing required SKI")
	}

	if mode == ModeAssertion {
		if elem.RouterPublicKey == nil {
			return nil, fmt.Errorf("assertion missing required routerPublicKey")
		}
		key, err := decodeBase64URLNoPad(*elem.RouterPublicKey)
		if err != nil {
			return nil, fmt.Errorf("routerPublicKey: %w", err)
		}
		record.RouterPublicKey = key
		record.Present |= FieldRouterPublicKey
	}
	// On filters, routerPublicKey is ignored even if present.

	return record, nil
}

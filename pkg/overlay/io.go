package overlay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// readFile loads the overlay document from disk. An absent file is a hard
// failure here (the caller, cache.LoadOverlay, is responsible for treating
// an unset overlay_location as a no-op before ever calling readFile).
func readFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// rejectDuplicateMembers walks the raw JSON token stream and returns an
// error if any JSON object in the document repeats a member name at the
// same nesting level. encoding/json's default decoder silently keeps the
// last occurrence of a duplicate key, which the overlay format's strict
// framing does not allow.
func rejectDuplicateMembers(data []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	return checkObjectTokens(decoder)
}

// checkObjectTokens recursively walks decoder's token stream starting at
// the next token, descending into objects and arrays and checking each
// object's member names for duplicates within that object.
func checkObjectTokens(decoder *json.Decoder) error {
	token, err := decoder.Token()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return err
	}

	delim, ok := token.(json.Delim)
	if !ok {
		return nil
	}

	switch delim {
	case '{':
		seen := make(map[string]bool)
		for decoder.More() {
			keyToken, err := decoder.Token()
			if err != nil {
				return err
			}
			key, ok := keyToken.(string)
			if !ok {
				return fmt.Errorf("unexpected non-string object key %v", keyToken)
			}
			if seen[key] {
				return fmt.Errorf("duplicate member %q", key)
			}
			seen[key] = true
			if err := checkObjectTokens(decoder); err != nil {
				return err
			}
		}
		// Consume the closing '}'.
		if _, err := decoder.Token(); err != nil {
			return err
		}
	case '[':
		for decoder.More() {
			if err := checkObjectTokens(decoder); err != nil {
				return err
			}
		}
		// Consume the closing ']'.
		if _, err := decoder.Token(); err != nil {
			return err
		}
	}

	return nil
}

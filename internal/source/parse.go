package source

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	// ErrEmptyAddress is returned when an address endpoint answers with nothing usable.
	ErrEmptyAddress = errors.New("address endpoint returned an empty address")

	// ErrInvalidJSON is returned when a JSON address endpoint returns a malformed body.
	ErrInvalidJSON = errors.New("address endpoint returned invalid JSON")
)

// ParseExitList splits a whitespace-delimited exit list body.
// Empty input yields an empty, non-nil slice.
func ParseExitList(body string) []string {
	fields := strings.Fields(body)
	if fields == nil {
		return []string{}
	}
	return fields
}

// ParseAddress extracts the caller's address from an address endpoint body.
//
// Plain-text endpoints such as api.ipify.org return the address verbatim;
// surrounding whitespace is trimmed. When field is non-empty the body is
// treated as JSON and field is a gjson path (e.g. "IP" for
// check.torproject.org/api/ip).
func ParseAddress(body, field string) (string, error) {
	if field == "" {
		addr := strings.TrimSpace(body)
		if addr == "" {
			return "", ErrEmptyAddress
		}
		return addr, nil
	}

	if !gjson.Valid(body) {
		return "", ErrInvalidJSON
	}
	value := gjson.Get(body, field)
	if !value.Exists() {
		return "", fmt.Errorf("address field %q not found in response", field)
	}
	addr := strings.TrimSpace(value.String())
	if addr == "" {
		return "", ErrEmptyAddress
	}
	return addr, nil
}

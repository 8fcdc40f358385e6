package domain

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Cursor is the opaque (timestamp, document id) sort key of the last
// document a tail page delivered. A nil Cursor means "start from now".
type Cursor []any

// IsZero reports whether the cursor is unset.
func (c Cursor) IsZero() bool {
	return len(c) == 0
}

// Encode renders the cursor as URL-safe text.
func (c Cursor) Encode() string {
	if c.IsZero() {
		return ""
	}
	b, err := json.Marshal([]any(c))
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

func (c Cursor) String() string {
	return c.Encode()
}

// ParseCursor decodes text produced by Encode. Empty input yields a nil cursor.
func ParseCursor(s string) (Cursor, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor: %w", err)
	}
	var values []any
	if err := json.Unmarshal(b, &values); err != nil {
		return nil, fmt.Errorf("invalid cursor: %w", err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("invalid cursor: empty sort key")
	}
	return Cursor(values), nil
}

package cache

import (
	"context"
	"encoding/json"
	"fmt"
)

// Serialize converts a value to the stored content string. Strings and byte
// slices are kept verbatim, nil becomes "", anything else is JSON-encoded.
// Values JSON cannot encode fall back to their fmt representation.
func Serialize(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.RawMessage:
		return string(v)
	case []byte:
		return string(v)
	}
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprint(value)
	}
	return string(b)
}

// GetJSON reads id and decodes its JSON content into T. Content that does not
// decode fails with ErrDecode.
func GetJSON[T any](ctx context.Context, s *Store, id string) (T, bool, error) {
	var zero T
	content, ok, err := s.Get(ctx, id)
	if err != nil || !ok {
		return zero, false, err
	}
	var v T
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return zero, false, fmt.Errorf("%w: %q: %w", ErrDecode, id, err)
	}
	return v, true, nil
}

package cachestore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// maxKeyLength is the longest key handed to a storage backend. Longer keys
// are replaced by a fixed-length hash so backends with key-length limits are
// never violated.
const maxKeyLength = 200

// BuildKey derives a deterministic cache key from an operation name and its
// parameters. Parameters are sorted by name so insertion order never changes
// the key; slice and map values are serialized to a canonical JSON string
// first.
func BuildKey(operation string, params map[string]any) string {
	if len(params) == 0 {
		return shortenKey(operation)
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names)+1)
	parts = append(parts, operation)
	for _, name := range names {
		parts = append(parts, name+"="+stringifyParam(params[name]))
	}
	return shortenKey(strings.Join(parts, ":"))
}

// stringifyParam renders a parameter value as a stable string.
func stringifyParam(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	case int, int32, int64, uint, uint32, uint64, float32, float64, bool:
		return fmt.Sprintf("%v", v)
	default:
		// Composite values (slices, maps, structs) get a canonical JSON form.
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

// shortenKey hashes keys that exceed the backend length bound.
func shortenKey(key string) string {
	if len(key) <= maxKeyLength {
		return key
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

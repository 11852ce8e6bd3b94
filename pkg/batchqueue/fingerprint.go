package batchqueue

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// Fingerprint derives a deterministic hash of a request type and its
// parameters. Two logically identical requests always share a fingerprint
// regardless of parameter insertion order, which is what makes in-flight
// deduplication possible.
func Fingerprint(requestType string, params map[string]string) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	h.Write([]byte(requestType))
	for _, name := range names {
		h.Write([]byte{0})
		h.Write([]byte(name))
		h.Write([]byte{'='})
		h.Write([]byte(params[name]))
	}
	return hex.EncodeToString(h.Sum(nil))
}

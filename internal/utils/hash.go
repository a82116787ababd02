package utils

import (
	"hash/fnv"
	"strings"
)

// HashFields hashes the parts joined with a NUL separator, so ("a","bc")
// and ("ab","c") map to different values.
func HashFields(parts ...string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.Join(parts, "\x00")))
	return h.Sum64()
}

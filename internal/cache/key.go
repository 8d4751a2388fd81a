package cache

import (
	"encoding/hex"
	"sort"
	"strings"

	"lukechampine.com/blake3"
)

// Key computes the cache key of a changed-file set. Separators are
// normalized to '/', duplicates are dropped and the remaining paths are
// sorted before hashing, so the key depends only on the set of paths.
func Key(files []string) string {
	seen := make(map[string]struct{}, len(files))
	normalized := make([]string, 0, len(files))
	for _, f := range files {
		f = strings.ReplaceAll(f, `\`, "/")
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		normalized = append(normalized, f)
	}
	sort.Strings(normalized)

	sum := blake3.Sum256([]byte(strings.Join(normalized, "|")))
	return hex.EncodeToString(sum[:])
}

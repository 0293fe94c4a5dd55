package lockout

import "strings"

// Key builds a ledger key from its segments. Delimiter characters inside a
// segment are escaped so a user-controlled identifier containing ':' cannot
// collide with an adjacent key.
func Key(segments ...string) string {
	sanitized := make([]string, len(segments))
	for i, seg := range segments {
		sanitized[i] = strings.ReplaceAll(seg, ":", "_")
	}
	return strings.Join(sanitized, ":")
}

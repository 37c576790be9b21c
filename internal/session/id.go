package session

import (
	"fmt"
	"strconv"
	"strings"
)

// ID is a dense monotonic session identifier, assigned at create and
// never reused within a process lifetime.
type ID uint64

// String renders the canonical form "sess-XXXXXXXX" (zero-padded, 8 hex
// digits), per spec.md §3.
func (id ID) String() string {
	return fmt.Sprintf("sess-%08x", uint64(id))
}

// ParseID parses the canonical "sess-XXXXXXXX" form back into an ID.
func ParseID(s string) (ID, error) {
	hex, ok := strings.CutPrefix(s, "sess-")
	if !ok {
		return 0, fmt.Errorf("session: malformed id %q", s)
	}
	n, err := strconv.ParseUint(hex, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("session: malformed id %q: %w", s, err)
	}
	return ID(n), nil
}

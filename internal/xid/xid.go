package xid

import (
	"strings"

	"github.com/google/uuid"
)

// New returns prefix followed by a random UUIDv4 without dashes,
// e.g. "sale-1f0c…". Identifiers are opaque; callers never parse them.
func New(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "-" + id
}

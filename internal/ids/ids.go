// Package ids generates identifiers for members, requests and audit events.
package ids

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New returns a lexicographically sortable identifier for request and
// audit correlation.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewMemberID returns a random UUID used as the member's primary key.
func NewMemberID() string {
	return uuid.NewString()
}

// ValidMemberID reports whether raw parses as a UUID.
func ValidMemberID(raw string) bool {
	_, err := uuid.Parse(raw)
	return err == nil
}

// Short returns the first eight characters of id in upper case, as printed
// on the member card.
func Short(id string) string {
	id = strings.ToUpper(strings.TrimSpace(id))
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

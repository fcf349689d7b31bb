package ids

import (
	"crypto/rand"
	"encoding/hex"
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier suitable for storage keys.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Slug builds a URL-safe key from a display name plus a random disambiguator,
// e.g. "Maria Silva" -> "maria-silva-9f86d081".
func Slug(name string) string {
	var suffix [4]byte
	_, _ = rand.Read(suffix[:])
	return NormalizeSlug(name) + "-" + hex.EncodeToString(suffix[:])
}

// NormalizeSlug lower-cases name and collapses every run of characters outside
// [a-z0-9] into a single dash.
func NormalizeSlug(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	dash := false
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash {
			b.WriteByte('-')
			dash = true
		}
	}
	return b.String()
}

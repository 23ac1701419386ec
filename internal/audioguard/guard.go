// Package audioguard drops repeated submissions of the same recorded audio.
//
// Browser recorders resend their last blob on every page refresh; the guard
// remembers the digest of the last accepted payload and rejects exact repeats.
// The digest is not cryptographic and only needs to tell blobs apart.
package audioguard

import (
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Guard remembers the digest of the last accepted payload.
type Guard struct {
	mu   sync.Mutex
	last string
}

// New creates a guard with no remembered payload.
func New() *Guard {
	return &Guard{}
}

// Digest returns the hex digest used to compare payloads.
func Digest(audio []byte) string {
	return strconv.FormatUint(xxhash.Sum64(audio), 16)
}

// Accept returns true if audio differs from the last accepted payload and
// records it. Empty payloads are never accepted.
func (g *Guard) Accept(audio []byte) bool {
	if len(audio) == 0 {
		return false
	}
	sum := Digest(audio)

	g.mu.Lock()
	defer g.mu.Unlock()
	if sum == g.last {
		return false
	}
	g.last = sum
	return true
}

// Last returns the digest of the last accepted payload, or "" if none.
func (g *Guard) Last() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}

// Reset forgets the last accepted payload.
func (g *Guard) Reset() {
	g.mu.Lock()
	g.last = ""
	g.mu.Unlock()
}

package tracker

import (
	"fmt"

	"github.com/google/uuid"
)

const clientTag = "dips-001-"

// NewPeerID returns a 20-byte peer id beginning with the client tag
// followed by 11 decimal digits derived from per-process entropy
// (spec.md §4.2). uuid.New() supplies that entropy rather than the
// startup timestamp directly, since a timestamp alone collides across
// two processes started in the same second.
func NewPeerID() [20]byte {
	u := uuid.New()
	n := uint64(0)
	for _, b := range u[:8] {
		n = n<<8 | uint64(b)
	}
	digits := fmt.Sprintf("%011d", n%100000000000)
	var id [20]byte
	copy(id[:], clientTag+digits)
	return id
}

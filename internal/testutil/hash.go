package testutil

import (
	"crypto/sha256"

	"ebakup-go/internal/ebakup"
)

// SHA256ContentID returns the content id a sha256 collection assigns to data
// when no other blob shares its checksum.
func SHA256ContentID(data []byte) ebakup.ContentID {
	h := sha256.Sum256(data)
	return ebakup.ContentID(h[:])
}

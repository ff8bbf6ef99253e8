package ebakup

import "encoding/hex"

// ContentID identifies a stored blob. It is normally the blob's checksum,
// with a suffix appended when two different blobs share a checksum.
// A ContentID holds raw bytes; use Hex for display.
type ContentID string

// Hex returns the id as a lowercase hex string.
func (id ContentID) Hex() string {
	return hex.EncodeToString([]byte(id))
}

func (id ContentID) String() string { return id.Hex() }

// ParseContentID decodes a hex-encoded content id.
func ParseContentID(s string) (ContentID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return "", Usagef("invalid content id %q: %v", s, err)
	}
	return ContentID(b), nil
}

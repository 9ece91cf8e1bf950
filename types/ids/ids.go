package ids

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ID is a 32-byte content hash. Interned labels and event ids are stored
// under this fixed-width form instead of variable-length strings.
type ID [32]byte

// Empty is the zero-value ID (all zeros)
var Empty ID

// NewID generates a new ID by hashing input bytes
func NewID(data []byte) ID {
	hash := sha256.Sum256(data)
	return ID(hash)
}

// FromString parses a hex string into an ID
func FromString(s string) (ID, error) {
	var id ID
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("id must be %d bytes, got %d", len(id), len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

// String converts an ID back to a hex string
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns the first 8 hex chars, for log lines.
func (id ID) Short() string {
	return hex.EncodeToString(id[:4])
}

// IsZero reports whether the ID is all zeros.
func (id ID) IsZero() bool {
	return id == Empty
}

// MarshalText makes IDs serialize as hex strings in JSON rather than
// base64 byte arrays.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := FromString(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

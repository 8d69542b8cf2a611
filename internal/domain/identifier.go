package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// IdentifierLength is the fixed width of a price identifier.
const IdentifierLength = 32

// Identifier names a price feed (e.g. "ETH/USD"). It is opaque to the
// adapter and compared by equality only.
type Identifier [IdentifierLength]byte

// NewIdentifier right-pads a UTF-8 name with zero bytes.
func NewIdentifier(name string) (Identifier, error) {
	var id Identifier
	if name == "" {
		return id, fmt.Errorf("domain: identifier: empty name")
	}
	if len(name) > IdentifierLength {
		return id, fmt.Errorf("domain: identifier %q: longer than %d bytes", name, IdentifierLength)
	}
	copy(id[:], name)
	return id, nil
}

// ParseIdentifier accepts either a 0x-prefixed 32-byte hex string or a
// plain name.
func ParseIdentifier(s string) (Identifier, error) {
	if strings.HasPrefix(s, "0x") && len(s) == 2+2*IdentifierLength {
		raw, err := hexutil.Decode(s)
		if err != nil {
			return Identifier{}, fmt.Errorf("domain: identifier %q: %w", s, err)
		}
		var id Identifier
		copy(id[:], raw)
		return id, nil
	}
	return NewIdentifier(s)
}

// MustIdentifier is NewIdentifier for constants and tests.
func MustIdentifier(name string) Identifier {
	id, err := NewIdentifier(name)
	if err != nil {
		panic(err)
	}
	return id
}

// IsZero reports whether the identifier is all zero bytes.
func (id Identifier) IsZero() bool {
	return id == Identifier{}
}

// Hex returns the 0x-prefixed hex encoding of all 32 bytes.
func (id Identifier) Hex() string {
	return hexutil.Encode(id[:])
}

// String returns the name when the identifier is printable UTF-8, the hex
// form otherwise.
func (id Identifier) String() string {
	trimmed := bytes.TrimRight(id[:], "\x00")
	if len(trimmed) == 0 || !utf8.Valid(trimmed) || bytes.IndexByte(trimmed, 0) >= 0 {
		return id.Hex()
	}
	for _, r := range string(trimmed) {
		if r < 0x20 {
			return id.Hex()
		}
	}
	return string(trimmed)
}

func (id Identifier) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

func (id *Identifier) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseIdentifier(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

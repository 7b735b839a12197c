package crypto

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// AddressLength is the byte length of every ledger identity.
const AddressLength = 20

// Address identifies an account participating in the ledger: a depositor, a
// borrower, the pool owner, or one of the module treasury accounts.
type Address [AddressLength]byte

// ZeroAddress is the all-zero address. It is never a valid participant.
var ZeroAddress Address

var errInvalidAddress = errors.New("crypto: invalid address")

// ParseAddress decodes a hex-encoded address, with or without the 0x prefix.
func ParseAddress(s string) (Address, error) {
	trimmed := strings.TrimSpace(s)
	trimmed = strings.TrimPrefix(trimmed, "0x")
	trimmed = strings.TrimPrefix(trimmed, "0X")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %s", errInvalidAddress, s)
	}
	if len(raw) != AddressLength {
		return Address{}, fmt.Errorf("%w: expected %d bytes, got %d", errInvalidAddress, AddressLength, len(raw))
	}
	var addr Address
	copy(addr[:], raw)
	return addr, nil
}

// MustParseAddress is ParseAddress for compile-time constants. It panics on
// malformed input.
func MustParseAddress(s string) Address {
	addr, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return addr
}

// Bytes returns a copy of the raw address bytes.
func (a Address) Bytes() []byte {
	cloned := make([]byte, AddressLength)
	copy(cloned, a[:])
	return cloned
}

// Hex renders the address as 0x-prefixed lowercase hex.
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

// String implements fmt.Stringer.
func (a Address) String() string { return a.Hex() }

// IsZero reports whether the address is the zero value.
func (a Address) IsZero() bool { return a == ZeroAddress }

// MarshalText encodes the address as hex for JSON and text encoders.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.Hex()), nil
}

// UnmarshalText decodes a hex-encoded address.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

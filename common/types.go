// Package common holds the small fixed-size value types shared by the
// corenet wire protocol and the authority index: content hashes, public
// keys, and signatures. None of these types know how to produce or verify
// themselves — signing and verification are the job of the Signer/Verifier
// collaborators in corenet.
package common

import (
	"encoding/hex"
	"fmt"
)

// HashLength is the byte length of a transaction or block id.
const HashLength = 32

// Hash is a 32-byte content identifier (transaction id or block id).
type Hash [HashLength]byte

// BytesToHash right-aligns b into a Hash, truncating from the left if b is
// longer than HashLength.
func BytesToHash(b []byte) Hash {
	var h Hash
	if len(b) > HashLength {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
	return h
}

// Bytes returns a copy of the hash bytes.
func (h Hash) Bytes() []byte { return h[:] }

// Hex returns the 0x-prefixed hex encoding of the hash.
func (h Hash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

// String implements fmt.Stringer.
func (h Hash) String() string { return h.Hex() }

// Short returns an 8-hex-character prefix, used in log lines the way the
// teacher truncates node ids for readability.
func (h Hash) Short() string {
	s := hex.EncodeToString(h[:])
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool { return h == Hash{} }

// MarshalJSON implements json.Marshaler.
func (h Hash) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", h.Hex())), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := unquote(data, &s); err != nil {
		return err
	}
	b, err := hex.DecodeString(trim0x(s))
	if err != nil {
		return err
	}
	*h = BytesToHash(b)
	return nil
}

// PubKeyLength is the byte length of a canonical public key encoding.
const PubKeyLength = 33

// PubKey is a compressed public key, canonically encoded.
type PubKey [PubKeyLength]byte

// Hex returns the 0x-prefixed hex encoding.
func (k PubKey) Hex() string { return "0x" + hex.EncodeToString(k[:]) }

// String implements fmt.Stringer.
func (k PubKey) String() string { return k.Hex() }

// IsZero reports whether k is the zero key.
func (k PubKey) IsZero() bool { return k == PubKey{} }

// SignatureLength is the byte length of a canonical signature encoding.
const SignatureLength = 65

// Signature is a canonical, recoverable signature.
type Signature [SignatureLength]byte

// Hex returns the 0x-prefixed hex encoding.
func (s Signature) Hex() string { return "0x" + hex.EncodeToString(s[:]) }

func trim0x(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

func unquote(data []byte, out *string) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("common: expected JSON string, got %q", data)
	}
	*out = string(data[1 : len(data)-1])
	return nil
}

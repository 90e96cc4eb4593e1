// Package commitment produces the canonical byte form of grids and engine
// states and the Keccak-256 commitments and Merkle roots built on it.
package commitment

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "github.com/DarbotLM/Detris/internal/errors"
)

// DigestLength is the size of a commitment in bytes.
const DigestLength = common.HashLength

// Digest is a Keccak-256 commitment. Its text form is lowercase hex without
// a prefix.
type Digest [DigestLength]byte

// HashBytes commits to the concatenation of parts.
func HashBytes(parts ...[]byte) Digest {
	return Digest(crypto.Keccak256Hash(parts...))
}

// ParseDigest decodes 64 lowercase hex characters. A leading 0x is tolerated;
// upper-case digits are rejected so a digest has a single text form.
func ParseDigest(s string) (Digest, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s) != 2*DigestLength {
		return Digest{}, xerrors.New(xerrors.CodeMalformedInput, fmt.Sprintf("digest must be %d hex characters, got %d", 2*DigestLength, len(s)))
	}
	if !IsLowerHex(s) {
		return Digest{}, xerrors.New(xerrors.CodeMalformedInput, "digest must be lowercase hex")
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Digest{}, xerrors.Wrap(xerrors.CodeMalformedInput, err, "decode digest")
	}
	var d Digest
	copy(d[:], raw)
	return d, nil
}

// IsLowerHex reports whether s consists only of 0-9 and a-f.
func IsLowerHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// Bytes returns a copy of the digest bytes.
func (d Digest) Bytes() []byte { return append([]byte(nil), d[:]...) }

// IsZero reports whether d is the zero digest.
func (d Digest) IsZero() bool { return d == Digest{} }

// Hash converts d into the go-ethereum hash type.
func (d Digest) Hash() common.Hash { return common.Hash(d) }

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := ParseDigest(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

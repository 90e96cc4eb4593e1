package proofs

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/hex"
	"strings"

	"github.com/blockberries/cramberry/pkg/cramberry"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/DarbotLM/Detris/internal/commitment"
	xerrors "github.com/DarbotLM/Detris/internal/errors"
)

// Signer signs proof payload digests.
type Signer interface {
	Sign(digest commitment.Digest) ([]byte, error)
	PublicKey() []byte
}

// KeySigner signs with a secp256k1 private key. Signatures are 65 bytes in
// [R || S || V] form.
type KeySigner struct {
	key *ecdsa.PrivateKey
}

// NewKeySigner wraps an existing private key.
func NewKeySigner(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{key: key}
}

// GenerateKeySigner creates a signer with a fresh random key.
func GenerateKeySigner() (*KeySigner, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "generate signing key")
	}
	return &KeySigner{key: key}, nil
}

// LoadKeySigner parses a hex-encoded private key.
func LoadKeySigner(hexKey string) (*KeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "parse signing key")
	}
	return &KeySigner{key: key}, nil
}

// Sign implements Signer.
func (s *KeySigner) Sign(digest commitment.Digest) ([]byte, error) {
	sig, err := crypto.Sign(digest[:], s.key)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "sign digest")
	}
	return sig, nil
}

// PublicKey returns the uncompressed 65-byte public key.
func (s *KeySigner) PublicKey() []byte {
	return crypto.FromECDSAPub(&s.key.PublicKey)
}

// Address is the Ethereum-style address of the signing key.
func (s *KeySigner) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

// PrivateKeyHex exports the private key for storage in a key file.
func (s *KeySigner) PrivateKeyHex() string {
	return hex.EncodeToString(crypto.FromECDSA(s.key))
}

// VerifySignature checks a 65-byte [R || S || V] signature over digest
// against publicKey, which may be compressed or uncompressed. V must be 0 or 1
// and recover publicKey itself, so every byte of the signature is bound.
func VerifySignature(publicKey []byte, digest commitment.Digest, sig []byte) bool {
	if len(sig) != crypto.SignatureLength || len(publicKey) == 0 {
		return false
	}
	if v := sig[crypto.RecoveryIDOffset]; v > 1 {
		return false
	}
	if !crypto.VerifySignature(publicKey, digest[:], sig[:crypto.RecoveryIDOffset]) {
		return false
	}
	want := publicKey
	if len(publicKey) == 33 {
		pub, err := crypto.DecompressPubkey(publicKey)
		if err != nil {
			return false
		}
		want = crypto.FromECDSAPub(pub)
	}
	recovered, err := crypto.Ecrecover(digest[:], sig)
	return err == nil && bytes.Equal(recovered, want)
}

// RecoverPublicKey returns the uncompressed public key that produced sig.
func RecoverPublicKey(digest commitment.Digest, sig []byte) ([]byte, error) {
	pub, err := crypto.SigToPub(digest[:], sig)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeVerificationFailed, err, "recover public key")
	}
	return crypto.FromECDSAPub(pub), nil
}

// ParsePublicKey decodes a hex public key and checks it lies on the curve.
// Compressed keys are expanded.
func ParsePublicKey(text string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(text), "0x"))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeMalformedInput, err, "decode public key")
	}
	if len(raw) == 33 {
		pub, err := crypto.DecompressPubkey(raw)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeMalformedInput, err, "decompress public key")
		}
		return crypto.FromECDSAPub(pub), nil
	}
	if _, err := crypto.UnmarshalPubkey(raw); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeMalformedInput, err, "parse public key")
	}
	return raw, nil
}

// PayloadDigest encodes v with cramberry and commits to the encoding. Both
// proof layers sign digests produced here, so payload structs must only use
// fixed-width or length-prefixed fields.
func PayloadDigest(v any) (commitment.Digest, error) {
	raw, err := cramberry.Marshal(v)
	if err != nil {
		return commitment.Digest{}, xerrors.Wrap(xerrors.CodeUnknown, err, "encode signing payload")
	}
	return commitment.HashBytes(raw), nil
}

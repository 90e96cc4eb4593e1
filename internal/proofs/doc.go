// Package proofs holds the signing capability shared by the placement and
// learning proof layers: a secp256k1 signer, signature verification and
// public-key recovery, and the deterministic payload digests that get signed.
package proofs

// Package hashutil centralizes the keccak hashing used as the chain-link
// between an accumulator root and its 256-byte wire encoding, built on
// go-ethereum's crypto.Keccak256 — the same primitive the commitment
// contract's real on-chain counterpart would use.
package hashutil

import "github.com/ethereum/go-ethereum/crypto"

// RootHash hashes a 256-byte big-endian accumulator encoding into the
// 32-byte root_hash/parent_hash chain-link.
func RootHash(encodedRoot []byte) [32]byte {
	return crypto.Keccak256Hash(encodedRoot)
}

// Sum is a general-purpose keccak256, used for domain-separated operation
// hashes in the multi-sig manager.
func Sum(parts ...[]byte) [32]byte {
	return crypto.Keccak256Hash(parts...)
}

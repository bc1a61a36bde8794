// Package domain holds the shared data model: device records, commitment
// state, and operation records. These are plain structs with no behavior
// of their own — the packages that mutate them (db/kv, gateway,
// contract/commitment) own the invariants.
package domain

import (
	"math/big"
	"time"

	"github.com/meshguard/accumulator-gateway/crypto/signature"
)

// DeviceStatus is one of the two states in a device's lifecycle:
// ACTIVE -> REVOKED is a one-way, terminal transition.
type DeviceStatus string

const (
	DeviceActive  DeviceStatus = "ACTIVE"
	DeviceRevoked DeviceStatus = "REVOKED"
)

// Device is one enrolled identity.
type Device struct {
	DeviceID       [32]byte
	PublicKey      []byte
	KeyType        signature.KeyType
	PrimeP         *big.Int
	Status         DeviceStatus
	CurrentWitness *big.Int // meaningless once Status == DeviceRevoked

	Nonce          []byte // nil when not in an outstanding auth handshake
	NonceExpiresAt time.Time
}

// Clone deep-copies a Device so a reader's snapshot can't be mutated by a
// concurrent writer — readers always obtain a consistent snapshot.
func (d *Device) Clone() *Device {
	if d == nil {
		return nil
	}
	clone := *d
	clone.PublicKey = append([]byte(nil), d.PublicKey...)
	if d.PrimeP != nil {
		clone.PrimeP = new(big.Int).Set(d.PrimeP)
	}
	if d.CurrentWitness != nil {
		clone.CurrentWitness = new(big.Int).Set(d.CurrentWitness)
	}
	clone.Nonce = append([]byte(nil), d.Nonce...)
	return &clone
}

// CommitmentState mirrors the state kept by both the gateway's persistence
// layer and the commitment contract.
type CommitmentState struct {
	Root            *big.Int // the accumulator element
	RootHash        [32]byte // hash of Root's 256-byte encoding
	Version         uint64   // monotonically increasing, initialized to 1
	LastUpdateBlock uint64

	// PreviousRoot/PreviousRootHash are the root this one superseded, kept
	// so an authentication proof computed against a witness that hasn't
	// been refreshed yet can still verify as stale rather than invalid.
	// Nil/zero on the genesis state, which has no predecessor.
	PreviousRoot     *big.Int
	PreviousRootHash [32]byte
}

// OperationKind enumerates the mutation kinds.
type OperationKind string

const (
	OpUpdate         OperationKind = "UPDATE"
	OpRegister       OperationKind = "REGISTER"
	OpRevoke         OperationKind = "REVOKE"
	OpBatchRegister  OperationKind = "BATCH_REGISTER"
	OpBatchRevoke    OperationKind = "BATCH_REVOKE"
)

// Operation is the ephemeral record proposed for a single mutation and
// retired once the chain confirms or rejects it.
type Operation struct {
	OperationID [32]byte
	ParentHash  [32]byte
	NewRoot     *big.Int
	Kind        OperationKind
	DeviceIDs   [][32]byte // REGISTER/REVOKE: len 1. BATCH_*: 1..50.
}

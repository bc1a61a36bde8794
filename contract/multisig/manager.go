// Package multisig implements the timelocked owner/threshold manager,
// orthogonal to accumulator mutations and out of the hot path: queue ->
// 24-hour wait -> execute for owner/threshold changes, and pre-execution
// cancellation by a designated emergency admin. The manager has no
// emergency pause toggle; pausing is contract/commitment's Ledger.SetPaused.
package multisig

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/meshguard/accumulator-gateway/gwerrors"
	"github.com/meshguard/accumulator-gateway/internal/hashutil"
)

// TimelockDelay is the fixed queue-to-execute wait.
const TimelockDelay = 24 * time.Hour

// OpType enumerates the kinds of timelocked manager operations.
type OpType string

const (
	OpSetThreshold OpType = "SET_THRESHOLD"
	OpSetOwners    OpType = "SET_OWNERS"
)

// PendingOp is a queued, not-yet-executable owner/threshold change.
type PendingOp struct {
	Hash        [32]byte
	Type        OpType
	Params      []byte // packed by EncodeSetThreshold/EncodeSetOwners; Execute decodes it by Type
	QueuedAt    time.Time
	ExecutableAt time.Time
	Cancelled   bool
	Executed    bool
	Nonce       uint64
}

// Manager tracks the chain ID and manager address used to domain-separate
// operation hashes by (op_type, params, chainId, manager_address,
// monotonic_nonce), the pending-operation queue, the emergency admin, and
// the current threshold/owner set it governs.
type Manager struct {
	ChainID        *big.Int
	Address        common.Address
	EmergencyAdmin common.Address

	Threshold int
	Owners    []common.Address

	nonce   uint64
	pending map[[32]byte]*PendingOp
}

// NewManager constructs a Manager for a deployed commitment contract's
// authority.
func NewManager(chainID *big.Int, address, emergencyAdmin common.Address, threshold int, owners []common.Address) *Manager {
	return &Manager{
		ChainID:        chainID,
		Address:        address,
		EmergencyAdmin: emergencyAdmin,
		Threshold:      threshold,
		Owners:         owners,
		pending:        make(map[[32]byte]*PendingOp),
	}
}

// opHash domain-separates a queued operation by (op_type, params, chainId,
// manager_address, monotonic_nonce) so the same params queued twice (or
// replayed against a different manager/chain) never collide.
func (m *Manager) opHash(opType OpType, params []byte, nonce uint64) [32]byte {
	return hashutil.Sum(
		[]byte(opType),
		params,
		m.ChainID.Bytes(),
		m.Address.Bytes(),
		new(big.Int).SetUint64(nonce).Bytes(),
	)
}

// Queue proposes a timelocked owner/threshold change. now is supplied by
// the caller (the manager is a pure state machine; it never calls time.Now
// itself so it stays deterministic and testable).
func (m *Manager) Queue(opType OpType, params []byte, now time.Time) (*PendingOp, error) {
	if opType != OpSetThreshold && opType != OpSetOwners {
		return nil, gwerrors.New(gwerrors.InvalidInput, "unknown manager operation type")
	}
	m.nonce++
	hash := m.opHash(opType, params, m.nonce)
	op := &PendingOp{
		Hash:         hash,
		Type:         opType,
		Params:       params,
		QueuedAt:     now,
		ExecutableAt: now.Add(TimelockDelay),
		Nonce:        m.nonce,
	}
	m.pending[hash] = op
	return op, nil
}

// EncodeSetThreshold packs a new threshold into the single-byte Params
// payload Queue(OpSetThreshold, ...) expects.
func EncodeSetThreshold(threshold int) []byte {
	return []byte{byte(threshold)}
}

// EncodeSetOwners packs a new owner set into the Params payload
// Queue(OpSetOwners, ...) expects: owner addresses concatenated, 20 bytes
// each, in the new set's order.
func EncodeSetOwners(owners []common.Address) []byte {
	buf := make([]byte, 0, len(owners)*common.AddressLength)
	for _, owner := range owners {
		buf = append(buf, owner.Bytes()...)
	}
	return buf
}

func decodeSetThreshold(params []byte) (int, error) {
	if len(params) != 1 {
		return 0, gwerrors.New(gwerrors.InvalidInput, "malformed SET_THRESHOLD params")
	}
	return int(params[0]), nil
}

func decodeSetOwners(params []byte) ([]common.Address, error) {
	if len(params) == 0 || len(params)%common.AddressLength != 0 {
		return nil, gwerrors.New(gwerrors.InvalidInput, "malformed SET_OWNERS params")
	}
	owners := make([]common.Address, 0, len(params)/common.AddressLength)
	for offset := 0; offset < len(params); offset += common.AddressLength {
		owners = append(owners, common.BytesToAddress(params[offset:offset+common.AddressLength]))
	}
	return owners, nil
}

// wellFormed checks the same bounds contract/commitment.Authority enforces
// on-chain: threshold >= 2, owner count in [3, 10], threshold <= owner
// count. Applied before a governance change is committed so Execute can
// never leave the Manager in a state the contract itself would reject.
func wellFormed(threshold int, owners []common.Address) error {
	if threshold < 2 {
		return gwerrors.New(gwerrors.InvalidInput, "multi-sig threshold must be >= 2")
	}
	if len(owners) < 3 || len(owners) > 10 {
		return gwerrors.New(gwerrors.InvalidInput, "multi-sig owner count must be in [3, 10]")
	}
	if threshold > len(owners) {
		return gwerrors.New(gwerrors.InvalidInput, "multi-sig threshold must be <= owner count")
	}
	return nil
}

// Execute applies a queued operation once its timelock has elapsed,
// decoding Params by Type and writing the result into Threshold/Owners.
func (m *Manager) Execute(hash [32]byte, now time.Time) (*PendingOp, error) {
	op, ok := m.pending[hash]
	if !ok {
		return nil, gwerrors.New(gwerrors.NotFound, "no such queued operation")
	}
	if op.Cancelled {
		return nil, gwerrors.New(gwerrors.Conflict, "operation was cancelled")
	}
	if op.Executed {
		return nil, gwerrors.New(gwerrors.Conflict, "operation already executed")
	}
	if now.Before(op.ExecutableAt) {
		return nil, gwerrors.New(gwerrors.Precondition, "timelock has not elapsed")
	}

	switch op.Type {
	case OpSetThreshold:
		threshold, err := decodeSetThreshold(op.Params)
		if err != nil {
			return nil, err
		}
		if err := wellFormed(threshold, m.Owners); err != nil {
			return nil, err
		}
		m.Threshold = threshold
	case OpSetOwners:
		owners, err := decodeSetOwners(op.Params)
		if err != nil {
			return nil, err
		}
		if err := wellFormed(m.Threshold, owners); err != nil {
			return nil, err
		}
		m.Owners = owners
	default:
		return nil, gwerrors.New(gwerrors.InvalidInput, "unknown manager operation type")
	}

	op.Executed = true
	return op, nil
}

// Cancel is callable only by the emergency admin, and only before
// execution.
func (m *Manager) Cancel(caller common.Address, hash [32]byte) error {
	if caller != m.EmergencyAdmin {
		return gwerrors.New(gwerrors.Unauthorized, "only the emergency admin may cancel")
	}
	op, ok := m.pending[hash]
	if !ok {
		return gwerrors.New(gwerrors.NotFound, "no such queued operation")
	}
	if op.Executed {
		return gwerrors.New(gwerrors.Conflict, "operation already executed")
	}
	op.Cancelled = true
	return nil
}

// Pending returns the queued operation for hash, if any.
func (m *Manager) Pending(hash [32]byte) (*PendingOp, bool) {
	op, ok := m.pending[hash]
	return op, ok
}

// NewOperationID generates a fresh, non-zero operation_id for a commitment
// mutation proposal.
func NewOperationID() [32]byte {
	var id [32]byte
	u := uuid.New()
	copy(id[:16], u[:])
	// the remaining 16 bytes stay zero; a uuid already carries 122 bits of
	// randomness, comfortably exceeding what a replay guard needs.
	return id
}

// Package commitment reimplements the on-chain commitment contract as the
// authoritative Go ledger the chain package's production path and tests
// both run against — the same idiom go-ethereum's
// accounts/abi/bind/backends.SimulatedBackend uses for a single
// in-process authoritative chain state with an event log.
package commitment

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/meshguard/accumulator-gateway/domain"
	"github.com/meshguard/accumulator-gateway/gwerrors"
	"github.com/meshguard/accumulator-gateway/internal/hashutil"
)

// MinBlockDelay is the default rate-limiting throttle between mutations:
// block.number must be >= last_update_block + MinBlockDelay.
const MinBlockDelay = 1

// MaxBatchSize and MinBatchSize bound batch mutation payloads.
const (
	MinBatchSize = 1
	MaxBatchSize = 50
)

// Authority is the multi-sig authority configuration gating every mutating
// entry point. The contract enforces only well-formedness and that the
// caller matches Address; it trusts the threshold-signature scheme itself
// to have already been satisfied upstream — multi-sig wallet internals
// are an external collaborator, not this package's concern.
type Authority struct {
	Address   common.Address
	Threshold int
	Owners    []common.Address
}

// WellFormed checks the required bounds: threshold >= 2, owner count in
// [3, 10], threshold <= owner count.
func (a Authority) WellFormed() error {
	if a.Threshold < 2 {
		return gwerrors.New(gwerrors.Internal, "multi-sig threshold must be >= 2")
	}
	if len(a.Owners) < 3 || len(a.Owners) > 10 {
		return gwerrors.New(gwerrors.Internal, "multi-sig owner count must be in [3, 10]")
	}
	if a.Threshold > len(a.Owners) {
		return gwerrors.New(gwerrors.Internal, "multi-sig threshold must be <= owner count")
	}
	return nil
}

// DeviceChainStatus mirrors the three-valued device_status map:
// unknown/active/revoked.
type DeviceChainStatus uint8

const (
	DeviceUnknown DeviceChainStatus = iota
	DeviceActiveOnChain
	DeviceRevokedOnChain
)

// BlockSource supplies the current block height, so the ledger can run
// embedded (its own monotonic counter) or mirror a real chain (an
// ethclient-backed source, see the chain package).
type BlockSource func() uint64

// Event is emitted on every successful mutation: exactly one event whose
// topics include new_hash, new_version, and executor.
type Event struct {
	Kind        domain.OperationKind
	NewHash     [32]byte
	NewVersion  uint64
	Executor    common.Address
	NewAccumulator []byte
	DeviceIDs   [][32]byte
	Block       uint64
}

// Ledger is the authoritative commitment contract state.
type Ledger struct {
	mu sync.Mutex

	authority     Authority
	minBlockDelay uint64
	blockSource   BlockSource

	currentAccumulator []byte
	currentHash        [32]byte
	version            uint64
	lastUpdateBlock    uint64
	executedOperations map[[32]byte]bool
	deviceStatus       map[[32]byte]DeviceChainStatus
	paused             bool

	events []Event
}

// New constructs a Ledger at genesis (version 1).
func New(authority Authority, genesisAccumulator []byte, blockSource BlockSource) (*Ledger, error) {
	if err := authority.WellFormed(); err != nil {
		return nil, err
	}
	if len(genesisAccumulator) != 256 {
		return nil, gwerrors.New(gwerrors.InvalidInput, "genesis accumulator must be 256 bytes")
	}
	if blockSource == nil {
		var counter uint64
		blockSource = func() uint64 { counter++; return counter }
	}
	return &Ledger{
		authority:          authority,
		minBlockDelay:       MinBlockDelay,
		blockSource:         blockSource,
		currentAccumulator:  append([]byte(nil), genesisAccumulator...),
		currentHash:         hashutil.RootHash(genesisAccumulator),
		version:             1,
		executedOperations:  make(map[[32]byte]bool),
		deviceStatus:        make(map[[32]byte]DeviceChainStatus),
	}, nil
}

// GetCurrentState implements the ABI's getCurrentState().
func (l *Ledger) GetCurrentState() (accumulator []byte, hash [32]byte, version uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]byte(nil), l.currentAccumulator...), l.currentHash, l.version
}

// Paused reports the emergency-pause flag.
func (l *Ledger) Paused() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.paused
}

// SetPaused is the emergency pause toggle. It performs no caller check;
// contract/multisig does not call it, and the manager there holds no
// pause state of its own.
func (l *Ledger) SetPaused(paused bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paused = paused
}

// DeviceStatus reports a device's on-chain status.
func (l *Ledger) DeviceStatus(deviceID [32]byte) DeviceChainStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.deviceStatus[deviceID]
}

// Events returns all events emitted so far, for a chain client's "tail the
// event log" path in an embedded deployment.
func (l *Ledger) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

type mutationRequest struct {
	caller     common.Address
	kind       domain.OperationKind
	newAcc     []byte
	parentHash [32]byte
	opID       [32]byte
	deviceIDs  [][32]byte
}

// preconditions runs the ordered checks common to every mutating entry
// point (paused, authority, well-formedness, block delay, parent hash,
// replay, payload shape); device-state preconditions are checked per-kind
// by the caller after this returns.
func (l *Ledger) preconditions(req mutationRequest) error {
	if l.paused {
		return gwerrors.New(gwerrors.Precondition, "contract is paused")
	}
	if req.caller != l.authority.Address {
		return gwerrors.New(gwerrors.Unauthorized, "caller is not the configured multi-sig authority")
	}
	if err := l.authority.WellFormed(); err != nil {
		return err
	}
	if l.blockSource() < l.lastUpdateBlock+l.minBlockDelay {
		return gwerrors.New(gwerrors.Precondition, "block-delay not elapsed")
	}
	if req.parentHash != l.currentHash {
		return gwerrors.New(gwerrors.Precondition, "stale parent_hash")
	}
	var zero [32]byte
	if req.opID == zero {
		return gwerrors.New(gwerrors.InvalidInput, "operation_id must be non-zero")
	}
	if l.executedOperations[req.opID] {
		return gwerrors.New(gwerrors.Conflict, "duplicate operation_id")
	}
	if len(req.newAcc) != 256 {
		return gwerrors.New(gwerrors.InvalidInput, "accumulator must be 256 bytes")
	}
	if req.kind == domain.OpBatchRegister || req.kind == domain.OpBatchRevoke {
		if len(req.deviceIDs) < MinBatchSize || len(req.deviceIDs) > MaxBatchSize {
			return gwerrors.New(gwerrors.InvalidInput, "batch size must be in [1, 50]")
		}
		seen := make(map[[32]byte]bool, len(req.deviceIDs))
		for _, id := range req.deviceIDs {
			if seen[id] {
				return gwerrors.New(gwerrors.InvalidInput, "duplicate device_id within batch")
			}
			seen[id] = true
		}
	}
	return nil
}

// commit applies newAcc/opID, advances version, flips device statuses, and
// appends the resulting event. Caller must already hold l.mu.
func (l *Ledger) commit(req mutationRequest, statusAfter DeviceChainStatus) Event {
	l.currentAccumulator = append([]byte(nil), req.newAcc...)
	l.currentHash = hashutil.RootHash(req.newAcc)
	l.version++
	l.lastUpdateBlock = l.blockSource()
	l.executedOperations[req.opID] = true
	for _, id := range req.deviceIDs {
		l.deviceStatus[id] = statusAfter
	}
	event := Event{
		Kind:           req.kind,
		NewHash:        l.currentHash,
		NewVersion:     l.version,
		Executor:       req.caller,
		NewAccumulator: append([]byte(nil), req.newAcc...),
		DeviceIDs:      req.deviceIDs,
		Block:          l.lastUpdateBlock,
	}
	l.events = append(l.events, event)
	return event
}

// UpdateAccumulator implements updateAccumulator(bytes,bytes32,bytes32).
func (l *Ledger) UpdateAccumulator(caller common.Address, newAcc []byte, parentHash, opID [32]byte) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	req := mutationRequest{caller: caller, kind: domain.OpUpdate, newAcc: newAcc, parentHash: parentHash, opID: opID}
	if err := l.preconditions(req); err != nil {
		return Event{}, err
	}
	return l.commit(req, DeviceUnknown), nil
}

// RegisterDevice implements registerDevice(bytes,bytes,bytes32,bytes32).
func (l *Ledger) RegisterDevice(caller common.Address, deviceID [32]byte, newAcc []byte, parentHash, opID [32]byte) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	req := mutationRequest{caller: caller, kind: domain.OpRegister, newAcc: newAcc, parentHash: parentHash, opID: opID, deviceIDs: [][32]byte{deviceID}}
	if err := l.preconditions(req); err != nil {
		return Event{}, err
	}
	if status := l.deviceStatus[deviceID]; status == DeviceActiveOnChain || status == DeviceRevokedOnChain {
		return Event{}, gwerrors.New(gwerrors.Conflict, "device already registered")
	}
	return l.commit(req, DeviceActiveOnChain), nil
}

// RevokeDevice implements revokeDevice(bytes,bytes,bytes32,bytes32).
func (l *Ledger) RevokeDevice(caller common.Address, deviceID [32]byte, newAcc []byte, parentHash, opID [32]byte) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	req := mutationRequest{caller: caller, kind: domain.OpRevoke, newAcc: newAcc, parentHash: parentHash, opID: opID, deviceIDs: [][32]byte{deviceID}}
	if err := l.preconditions(req); err != nil {
		return Event{}, err
	}
	if l.deviceStatus[deviceID] != DeviceActiveOnChain {
		return Event{}, gwerrors.New(gwerrors.Conflict, "device is not active")
	}
	return l.commit(req, DeviceRevokedOnChain), nil
}

// BatchRegisterDevices implements batchRegisterDevices(bytes[],bytes,bytes32,bytes32).
func (l *Ledger) BatchRegisterDevices(caller common.Address, deviceIDs [][32]byte, newAcc []byte, parentHash, opID [32]byte) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	req := mutationRequest{caller: caller, kind: domain.OpBatchRegister, newAcc: newAcc, parentHash: parentHash, opID: opID, deviceIDs: deviceIDs}
	if err := l.preconditions(req); err != nil {
		return Event{}, err
	}
	for _, id := range deviceIDs {
		if status := l.deviceStatus[id]; status == DeviceActiveOnChain || status == DeviceRevokedOnChain {
			return Event{}, errors.Wrapf(gwerrors.New(gwerrors.Conflict, "device already registered"), "device %x", id)
		}
	}
	return l.commit(req, DeviceActiveOnChain), nil
}

// BatchRevokeDevices implements batchRevokeDevices(bytes[],bytes,bytes32,bytes32).
func (l *Ledger) BatchRevokeDevices(caller common.Address, deviceIDs [][32]byte, newAcc []byte, parentHash, opID [32]byte) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	req := mutationRequest{caller: caller, kind: domain.OpBatchRevoke, newAcc: newAcc, parentHash: parentHash, opID: opID, deviceIDs: deviceIDs}
	if err := l.preconditions(req); err != nil {
		return Event{}, err
	}
	for _, id := range deviceIDs {
		if l.deviceStatus[id] != DeviceActiveOnChain {
			return Event{}, errors.Wrapf(gwerrors.New(gwerrors.Conflict, "device is not active"), "device %x", id)
		}
	}
	return l.commit(req, DeviceRevokedOnChain), nil
}

// HashesEqual compares two 256-bit hashes supplied as big-endian []byte
// rather than [32]byte arrays — the shape a hex-decoded parent_hash arrives
// in at the API boundary before the gateway has validated its length and
// can safely convert it to [32]byte.
func HashesEqual(a, b []byte) bool {
	var ua, ub uint256.Int
	ua.SetBytes(a)
	ub.SetBytes(b)
	return ua.Eq(&ub)
}

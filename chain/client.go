// Package chain is the gateway's chain client: it submits mutations to
// the commitment contract as the configured authority address (one
// backend call per attempt), tails the contract's event log from a
// persisted last_processed_block cursor, and serves the (root, version)
// view to readers, coalescing concurrent reads; the view is not cached
// between calls.
//
// The underlying blockchain transport is out of scope for this system,
// so Client talks to a Backend interface rather than dialing a JSON-RPC
// endpoint directly; contract/commitment.Ledger satisfies Backend today,
// and a real go-ethereum ethclient-backed implementation would satisfy it
// without changing anything above this package.
package chain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/meshguard/accumulator-gateway/contract/commitment"
	"github.com/meshguard/accumulator-gateway/domain"
	"github.com/meshguard/accumulator-gateway/gwerrors"
)

var log = logrus.WithField("prefix", "chain")

// Backend is the subset of the commitment contract's surface the chain
// client needs. contract/commitment.Ledger implements it directly.
type Backend interface {
	GetCurrentState() (root []byte, rootHash [32]byte, version uint64)
	DeviceStatus(deviceID [32]byte) commitment.DeviceChainStatus
	Events() []commitment.Event

	UpdateAccumulator(caller common.Address, newAccumulator []byte, parentHash [32]byte, operationID [32]byte) (commitment.Event, error)
	RegisterDevice(caller common.Address, deviceID [32]byte, newAccumulator []byte, parentHash [32]byte, operationID [32]byte) (commitment.Event, error)
	RevokeDevice(caller common.Address, deviceID [32]byte, newAccumulator []byte, parentHash [32]byte, operationID [32]byte) (commitment.Event, error)
	BatchRegisterDevices(caller common.Address, deviceIDs [][32]byte, newAccumulator []byte, parentHash [32]byte, operationID [32]byte) (commitment.Event, error)
	BatchRevokeDevices(caller common.Address, deviceIDs [][32]byte, newAccumulator []byte, parentHash [32]byte, operationID [32]byte) (commitment.Event, error)
}

// RetryPolicy governs submission retries, with jitter on transient
// failure.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Jitter      func(attempt int, base time.Duration) time.Duration
}

// DefaultRetryPolicy backs off linearly with a deterministic pseudo-jitter
// derived from the attempt number, keeping submission retries reproducible
// in tests without reaching for math/rand.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		Jitter: func(attempt int, base time.Duration) time.Duration {
			return base + time.Duration(attempt)*50*time.Millisecond
		},
	}
}

// Client is the gateway's handle onto the commitment contract.
type Client struct {
	backend Backend
	caller  common.Address
	retry   RetryPolicy

	sf singleflight.Group

	lastProcessedBlock uint64
}

// NewClient constructs a chain Client. caller is the gateway's own
// multi-sig-authorized address used on every mutation submission.
func NewClient(backend Backend, caller common.Address, retry RetryPolicy) (*Client, error) {
	if backend == nil {
		return nil, errNilBackend
	}
	return &Client{backend: backend, caller: caller, retry: retry}, nil
}

// CurrentView returns the backend's current (root, version) snapshot,
// read fresh on every call that is not already in flight, coalescing
// concurrent callers onto a single backend read via singleflight — the
// same "fold duplicate concurrent work into one call" idiom
// golang.org/x/sync/singleflight exists for.
func (c *Client) CurrentView(_ context.Context) (root *big.Int, rootHash [32]byte, version uint64, err error) {
	v, err, _ := c.sf.Do("current-view", func() (interface{}, error) {
		r, h, ver := c.backend.GetCurrentState()
		return currentView{root: new(big.Int).SetBytes(r), rootHash: h, version: ver}, nil
	})
	if err != nil {
		return nil, [32]byte{}, 0, gwerrors.Wrap(gwerrors.ChainFailure, err, "failed to read current accumulator state")
	}
	view := v.(currentView)
	return view.root, view.rootHash, view.version, nil
}

type currentView struct {
	root     *big.Int
	rootHash [32]byte
	version  uint64
}

// DeviceStatus reports a device's on-chain revocation status.
func (c *Client) DeviceStatus(deviceID [32]byte) commitment.DeviceChainStatus {
	return c.backend.DeviceStatus(deviceID)
}

// submit runs fn with DefaultRetryPolicy-style retries, only retrying
// gwerrors.ChainFailure — anything else (Conflict, Precondition,
// InvalidInput) reflects a malformed proposal that retrying won't fix.
func (c *Client) submit(ctx context.Context, fn func() (commitment.Event, error)) (commitment.Event, error) {
	var lastErr error
	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		event, err := fn()
		if err == nil {
			return event, nil
		}
		if gwerrors.KindOf(err) != gwerrors.ChainFailure {
			return commitment.Event{}, err
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return commitment.Event{}, gwerrors.Wrap(gwerrors.ChainFailure, ctx.Err(), "submission cancelled")
		case <-time.After(c.retry.Jitter(attempt, c.retry.BaseDelay)):
		}
	}
	return commitment.Event{}, gwerrors.Wrap(gwerrors.ChainFailure, lastErr, "submission exhausted retries")
}

// NewOperationID mints a random, non-zero operation_id for a proposal.
func NewOperationID() [32]byte {
	var id [32]byte
	u := uuid.New()
	copy(id[:16], u[:])
	return id
}

// ProposeUpdateAccumulator submits a bare accumulator-root update.
func (c *Client) ProposeUpdateAccumulator(ctx context.Context, newAccumulator []byte, parentHash [32]byte) (commitment.Event, error) {
	opID := NewOperationID()
	return c.submit(ctx, func() (commitment.Event, error) {
		return c.backend.UpdateAccumulator(c.caller, newAccumulator, parentHash, opID)
	})
}

// ProposeRegisterDevice submits a single-device enrollment mutation.
func (c *Client) ProposeRegisterDevice(ctx context.Context, deviceID [32]byte, newAccumulator []byte, parentHash [32]byte) (commitment.Event, error) {
	opID := NewOperationID()
	return c.submit(ctx, func() (commitment.Event, error) {
		return c.backend.RegisterDevice(c.caller, deviceID, newAccumulator, parentHash, opID)
	})
}

// ProposeRevokeDevice submits a single-device revocation mutation.
func (c *Client) ProposeRevokeDevice(ctx context.Context, deviceID [32]byte, newAccumulator []byte, parentHash [32]byte) (commitment.Event, error) {
	opID := NewOperationID()
	return c.submit(ctx, func() (commitment.Event, error) {
		return c.backend.RevokeDevice(c.caller, deviceID, newAccumulator, parentHash, opID)
	})
}

// ProposeBatchRegisterDevices submits a batch enrollment mutation.
func (c *Client) ProposeBatchRegisterDevices(ctx context.Context, deviceIDs [][32]byte, newAccumulator []byte, parentHash [32]byte) (commitment.Event, error) {
	opID := NewOperationID()
	return c.submit(ctx, func() (commitment.Event, error) {
		return c.backend.BatchRegisterDevices(c.caller, deviceIDs, newAccumulator, parentHash, opID)
	})
}

// ProposeBatchRevokeDevices submits a batch revocation mutation.
func (c *Client) ProposeBatchRevokeDevices(ctx context.Context, deviceIDs [][32]byte, newAccumulator []byte, parentHash [32]byte) (commitment.Event, error) {
	opID := NewOperationID()
	return c.submit(ctx, func() (commitment.Event, error) {
		return c.backend.BatchRevokeDevices(c.caller, deviceIDs, newAccumulator, parentHash, opID)
	})
}

// TailEvents returns every event strictly after the client's persisted
// last_processed_block cursor, and advances the cursor. Reorg tolerance
// comes from the backend's own linear, parent-hash-checked history: there
// is no fork to reconcile because a conflicting mutation is rejected at
// proposal time, not after the fact.
func (c *Client) TailEvents(_ context.Context) ([]commitment.Event, error) {
	all := c.backend.Events()
	var fresh []commitment.Event
	for _, e := range all {
		if e.Block > c.lastProcessedBlock {
			fresh = append(fresh, e)
			if e.Block > c.lastProcessedBlock {
				c.lastProcessedBlock = e.Block
			}
		}
	}
	return fresh, nil
}

// LastProcessedBlock returns the client's current tail cursor.
func (c *Client) LastProcessedBlock() uint64 {
	return c.lastProcessedBlock
}

// SetLastProcessedBlock seeds the tail cursor from persisted state
// (db/kv.CommitmentState.LastUpdateBlock) on startup.
func (c *Client) SetLastProcessedBlock(block uint64) {
	c.lastProcessedBlock = block
}

// ApplyEventToCommitmentState folds a single chain event into a
// domain.CommitmentState, the shape the gateway persists via
// db/kv.Store.SaveCommitmentState. state is the state this event
// supersedes (nil on genesis); its root carries forward as the new
// state's PreviousRoot so a witness computed against it is still
// verifiable as stale rather than invalid.
func ApplyEventToCommitmentState(state *domain.CommitmentState, event commitment.Event) *domain.CommitmentState {
	newState := &domain.CommitmentState{
		Root:            new(big.Int).SetBytes(event.NewAccumulator),
		RootHash:        event.NewHash,
		Version:         event.NewVersion,
		LastUpdateBlock: event.Block,
	}
	if state != nil {
		newState.PreviousRoot = state.Root
		newState.PreviousRootHash = state.RootHash
	}
	return newState
}

var errNilBackend = errors.New("chain: backend must not be nil")

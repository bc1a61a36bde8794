// Package gateway orchestrates device enrollment, authentication, and
// revocation by composing the accumulator engine, the persistence layer,
// and the chain client behind a single-writer lock. Readers
// (authentication, witness lookups) never block behind a writer: they
// take a deep-copied snapshot of whatever device record and commitment
// state happen to be current.
package gateway

import (
	"bytes"
	"context"
	"crypto/subtle"
	"math/big"
	"sync"
	"time"

	cache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	mutexasserts "github.com/trailofbits/go-mutexasserts"
	"golang.org/x/sync/errgroup"

	"github.com/meshguard/accumulator-gateway/chain"
	"github.com/meshguard/accumulator-gateway/crypto/accumulator"
	"github.com/meshguard/accumulator-gateway/crypto/signature"
	"github.com/meshguard/accumulator-gateway/domain"
	"github.com/meshguard/accumulator-gateway/gwerrors"
)

var log = logrus.WithField("prefix", "gateway")

// DefaultNonceTTL bounds how long a single-use authentication challenge
// stays valid when a caller doesn't override it via config.
const DefaultNonceTTL = 2 * time.Minute

// Store is the persistence surface the gateway depends on; db/kv.Store
// implements it.
type Store interface {
	SaveDevice(ctx context.Context, device *domain.Device) error
	Device(ctx context.Context, deviceID [32]byte) (*domain.Device, error)
	DevicesByStatus(ctx context.Context, status domain.DeviceStatus) ([][32]byte, error)
	SaveCommitmentState(ctx context.Context, state *domain.CommitmentState) error
	CommitmentState(ctx context.Context) (*domain.CommitmentState, error)
}

// Gateway is the orchestration layer described above.
type Gateway struct {
	writeMu sync.Mutex

	store Store
	chain *chain.Client

	// params carries the trapdoor (Lambda) only for a gateway instance
	// authorized to mutate; a read-only instance is constructed with a
	// Params whose Lambda is nil (see accumulator.Params's own doc comment).
	params *accumulator.Params

	nonceTTL time.Duration
	nonces   *cache.Cache
}

// New constructs a Gateway. params.Lambda may be nil for a gateway
// instance that only ever serves reads (it can verify and issue
// authentication challenges but never enroll or revoke). nonceTTL of 0
// falls back to DefaultNonceTTL.
func New(store Store, chainClient *chain.Client, params *accumulator.Params, nonceTTL time.Duration) *Gateway {
	if nonceTTL <= 0 {
		nonceTTL = DefaultNonceTTL
	}
	return &Gateway{
		store:    store,
		chain:    chainClient,
		params:   params,
		nonceTTL: nonceTTL,
		nonces:   cache.New(nonceTTL, nonceTTL*2),
	}
}

// assertWriteLockHeld uses trailofbits/go-mutexasserts' reflection-based
// check to catch, in tests, a mutation path that was refactored to no
// longer hold the required single-writer lock.
func (g *Gateway) assertWriteLockHeld() {
	if !mutexasserts.MutexLocked(&g.writeMu) {
		panic("gateway: mutation path called without holding the write lock")
	}
}

// EnrollDevice adds a new device to the accumulator, persists its record
// and witness, and proposes the REGISTER mutation on-chain. Holds the
// single-writer lock for its duration. deviceID is hashutil.Sum(publicKey)
// computed by the caller for the registry lookup key; the accumulator
// prime is derived from publicKey itself, not from deviceID, so enrolling
// the same key twice (even via two different hash-derivation paths) always
// yields the same prime.
func (g *Gateway) EnrollDevice(ctx context.Context, deviceID [32]byte, publicKey []byte, keyType signature.KeyType) (*domain.Device, error) {
	if g.params.Lambda == nil {
		return nil, gwerrors.New(gwerrors.Unauthorized, "this gateway instance cannot mutate the accumulator")
	}
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	g.assertWriteLockHeld()

	if _, err := g.store.Device(ctx, deviceID); err == nil {
		return nil, gwerrors.New(gwerrors.Conflict, "device already enrolled")
	} else if gwerrors.KindOf(err) != gwerrors.NotFound {
		return nil, err
	}

	state, err := g.store.CommitmentState(ctx)
	if err != nil {
		return nil, err
	}

	prime, err := accumulator.HashToPrimeCoprimeToLambda(publicKey, g.params.Lambda)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.CryptoFailure, err, "failed to derive device prime")
	}

	newRoot, err := g.params.Add(state.Root, prime)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.CryptoFailure, err, "failed to fold new member into accumulator")
	}
	witness := state.Root // the pre-add root is this device's witness

	encodedRoot, err := g.params.Encode(newRoot)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.Internal, err, "failed to encode new root")
	}

	event, err := g.chain.ProposeRegisterDevice(ctx, deviceID, encodedRoot, state.RootHash)
	if err != nil {
		return nil, err
	}

	device := &domain.Device{
		DeviceID:       deviceID,
		PublicKey:      publicKey,
		KeyType:        keyType,
		PrimeP:         prime,
		Status:         domain.DeviceActive,
		CurrentWitness: witness,
	}
	if err := g.store.SaveDevice(ctx, device); err != nil {
		return nil, err
	}
	if err := g.store.SaveCommitmentState(ctx, chain.ApplyEventToCommitmentState(state, event)); err != nil {
		return nil, err
	}

	if err := g.refreshWitnessesOnAdd(ctx, deviceID, prime); err != nil {
		log.WithError(err).Warn("witness refresh after enrollment did not complete for all devices")
	}

	return device.Clone(), nil
}

// UpdateAccumulator proposes a direct root replacement (the
// `accumulator/update` endpoint) without touching any individual device record —
// used for out-of-band recovery (e.g. re-deriving the root from a full
// device export) rather than the normal enroll/revoke path. Witnesses are
// not refreshed: a caller invoking this endpoint is expected to know it
// invalidates every outstanding witness.
func (g *Gateway) UpdateAccumulator(ctx context.Context, newRoot *big.Int, parentHash [32]byte) (*domain.CommitmentState, error) {
	if g.params.Lambda == nil {
		return nil, gwerrors.New(gwerrors.Unauthorized, "this gateway instance cannot mutate the accumulator")
	}
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	g.assertWriteLockHeld()

	state, err := g.store.CommitmentState(ctx)
	if err != nil {
		return nil, err
	}
	if !VerifyParentHash(parentHash[:], state.RootHash) {
		return nil, gwerrors.New(gwerrors.Precondition, "stale parent_hash")
	}

	encodedRoot, err := g.params.Encode(newRoot)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.InvalidInput, err, "failed to encode new root")
	}

	event, err := g.chain.ProposeUpdateAccumulator(ctx, encodedRoot, state.RootHash)
	if err != nil {
		return nil, err
	}

	newState := chain.ApplyEventToCommitmentState(state, event)
	if err := g.store.SaveCommitmentState(ctx, newState); err != nil {
		return nil, err
	}
	return newState, nil
}

// refreshWitnessesOnAdd fan-outs RefreshWitnessOnAdd across every other
// active device's stored witness after a successful Add, using errgroup
// since each goroutine performs an independent read-modify-write on a
// distinct device record with no shared mutable state once deviceIDs has
// been listed.
func (g *Gateway) refreshWitnessesOnAdd(ctx context.Context, addedDeviceID [32]byte, addedPrime *big.Int) error {
	ids, err := g.store.DevicesByStatus(ctx, domain.DeviceActive)
	if err != nil {
		return err
	}
	grp, ctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		if id == addedDeviceID {
			continue
		}
		grp.Go(func() error {
			device, err := g.store.Device(ctx, id)
			if err != nil {
				return err
			}
			refreshed, err := g.params.RefreshWitnessOnAdd(device.CurrentWitness, addedPrime)
			if err != nil {
				return err
			}
			device.CurrentWitness = refreshed
			return g.store.SaveDevice(ctx, device)
		})
	}
	return grp.Wait()
}

// RevokeDevice removes a device from the accumulator via the trapdoor
// path and proposes the REVOKE mutation. Terminal: a revoked device can
// never re-enroll under the same device_id.
func (g *Gateway) RevokeDevice(ctx context.Context, deviceID [32]byte) error {
	if g.params.Lambda == nil {
		return gwerrors.New(gwerrors.Unauthorized, "this gateway instance cannot mutate the accumulator")
	}
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	g.assertWriteLockHeld()

	device, err := g.store.Device(ctx, deviceID)
	if err != nil {
		return err
	}
	if device.Status != domain.DeviceActive {
		return gwerrors.New(gwerrors.Precondition, "device is not active")
	}

	state, err := g.store.CommitmentState(ctx)
	if err != nil {
		return err
	}

	newRoot, err := g.params.TrapdoorRemove(state.Root, device.PrimeP)
	if err != nil {
		return gwerrors.Wrap(gwerrors.CryptoFailure, err, "trapdoor removal failed")
	}
	encodedRoot, err := g.params.Encode(newRoot)
	if err != nil {
		return gwerrors.Wrap(gwerrors.Internal, err, "failed to encode new root")
	}

	event, err := g.chain.ProposeRevokeDevice(ctx, deviceID, encodedRoot, state.RootHash)
	if err != nil {
		return err
	}

	device.Status = domain.DeviceRevoked
	device.CurrentWitness = nil
	if err := g.store.SaveDevice(ctx, device); err != nil {
		return err
	}
	if err := g.store.SaveCommitmentState(ctx, chain.ApplyEventToCommitmentState(state, event)); err != nil {
		return err
	}

	if err := g.refreshWitnessesOnRemove(ctx, deviceID, newRoot); err != nil {
		log.WithError(err).Warn("witness refresh after revocation did not complete for all devices")
	}
	return nil
}

// refreshWitnessesOnRemove recomputes every surviving active device's
// witness against newRoot using the trapdoor shortcut
// (accumulator.Params.RefreshWitnessOnRemove): O(1) per survivor, since
// each refresh only needs that survivor's own prime and the already-known
// post-removal root, not the full surviving-primes set.
func (g *Gateway) refreshWitnessesOnRemove(ctx context.Context, removedDeviceID [32]byte, newRoot *big.Int) error {
	ids, err := g.store.DevicesByStatus(ctx, domain.DeviceActive)
	if err != nil {
		return err
	}
	grp, ctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		if id == removedDeviceID {
			continue
		}
		grp.Go(func() error {
			device, err := g.store.Device(ctx, id)
			if err != nil {
				return err
			}
			refreshed, err := g.params.RefreshWitnessOnRemove(newRoot, device.PrimeP)
			if err != nil {
				return err
			}
			device.CurrentWitness = refreshed
			return g.store.SaveDevice(ctx, device)
		})
	}
	return grp.Wait()
}

// StartAuthentication issues a fresh, single-use nonce for deviceID.
// Read-only: takes no write lock.
func (g *Gateway) StartAuthentication(ctx context.Context, deviceID [32]byte) ([]byte, error) {
	device, err := g.store.Device(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if device.Status != domain.DeviceActive {
		return nil, gwerrors.New(gwerrors.Precondition, "device is not active")
	}
	nonce, err := accumulator.HashToPrime(append(deviceID[:], big.NewInt(time.Now().UnixNano()).Bytes()...))
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.CryptoFailure, err, "failed to derive nonce")
	}
	nonceBytes := nonce.Bytes()
	g.nonces.Set(string(deviceID[:]), nonceBytes, g.nonceTTL)
	return nonceBytes, nil
}

// VerifyAuthentication runs the full challenge-response proof check:
// the submitted nonce must match the outstanding challenge
// (constant-time, consuming it so it cannot be replayed), the submitted
// prime_p must match the device's enrolled prime, the signature must
// verify over the nonce, and the submitted membership witness must
// verify against either the current root or the previous one.
//
// A witness that only verifies against the previous root is stale, not
// invalid (step 6): this returns ok=true along with the device's current
// witness so the caller can refresh. A witness that verifies against
// neither root is treated the same as a bad signature: CryptoFailure.
func (g *Gateway) VerifyAuthentication(ctx context.Context, deviceID [32]byte, submittedNonce []byte, primeP, witness *big.Int, signatureBytes []byte) (ok bool, refreshedWitness *big.Int, err error) {
	raw, found := g.nonces.Get(string(deviceID[:]))
	if !found {
		return false, nil, gwerrors.New(gwerrors.Precondition, "no outstanding authentication challenge")
	}
	g.nonces.Delete(string(deviceID[:]))
	nonce := raw.([]byte)

	if subtle.ConstantTimeCompare(nonce, submittedNonce) != 1 {
		return false, nil, gwerrors.New(gwerrors.CryptoFailure, "submitted nonce does not match the outstanding challenge")
	}

	device, err := g.store.Device(ctx, deviceID)
	if err != nil {
		return false, nil, err
	}
	if device.Status != domain.DeviceActive {
		return false, nil, gwerrors.New(gwerrors.Precondition, "device is not active")
	}

	if primeP == nil || device.PrimeP == nil || primeP.Cmp(device.PrimeP) != 0 {
		return false, nil, gwerrors.New(gwerrors.CryptoFailure, "submitted prime_p does not match the enrolled device")
	}

	if err := signature.Verify(device.KeyType, device.PublicKey, nonce, signatureBytes); err != nil {
		return false, nil, gwerrors.Wrap(gwerrors.CryptoFailure, err, "signature verification failed")
	}

	if witness == nil {
		return false, nil, gwerrors.New(gwerrors.CryptoFailure, "missing membership witness")
	}
	state, err := g.store.CommitmentState(ctx)
	if err != nil {
		return false, nil, err
	}
	if g.params.Verify(witness, primeP, state.Root) {
		return true, nil, nil
	}
	if state.PreviousRoot != nil && g.params.Verify(witness, primeP, state.PreviousRoot) {
		return true, device.CurrentWitness, nil
	}
	return false, nil, gwerrors.New(gwerrors.CryptoFailure, "membership witness failed to verify against the current or previous root")
}

// Witness returns deviceID's current membership witness and the
// commitment root it verifies against, for external clients to check
// membership themselves.
func (g *Gateway) Witness(ctx context.Context, deviceID [32]byte) (witness, root *big.Int, err error) {
	device, err := g.store.Device(ctx, deviceID)
	if err != nil {
		return nil, nil, err
	}
	if device.Status != domain.DeviceActive {
		return nil, nil, gwerrors.New(gwerrors.Precondition, "device is not active")
	}
	state, err := g.store.CommitmentState(ctx)
	if err != nil {
		return nil, nil, err
	}
	return device.CurrentWitness, state.Root, nil
}

// VerifyParentHash is a constant-time-adjacent helper for comparing a
// caller-supplied hex-decoded parent_hash against the gateway's current
// root_hash, at the API boundary before either value has been trusted
// enough to convert to a [32]byte.
func VerifyParentHash(claimed []byte, current [32]byte) bool {
	return bytes.Equal(claimed, current[:])
}

// ConstantTimeEqual wraps crypto/subtle.ConstantTimeCompare for admin
// shared-secret comparisons — a static shared secret compared in constant
// time, deliberately not a JWT/claims scheme (see DESIGN.md).
func ConstantTimeEqual(a, b []byte) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare(a, b) == 1
}

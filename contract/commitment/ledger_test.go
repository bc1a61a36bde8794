package commitment

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/meshguard/accumulator-gateway/internal/testing/assert"
	"github.com/meshguard/accumulator-gateway/internal/testing/require"
)

func testAuthority() Authority {
	return Authority{
		Address: common.HexToAddress("0xA11CE00000000000000000000000000000AAAA"),
		Threshold: 2,
		Owners: []common.Address{
			common.HexToAddress("0x1"),
			common.HexToAddress("0x2"),
			common.HexToAddress("0x3"),
		},
	}
}

func genesisAccumulator() []byte {
	return make([]byte, 256)
}

// newTestLedger backs the ledger with a block source that advances by one
// on every call, so a test exercising several successive mutations never
// trips the block-delay precondition (MinBlockDelay == 1) before reaching
// the check it actually means to exercise.
func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	block := uint64(9)
	l, err := New(testAuthority(), genesisAccumulator(), func() uint64 { block++; return block })
	require.NoError(t, err)
	return l
}

func opID(b byte) [32]byte {
	var id [32]byte
	id[31] = b
	return id
}

func TestReplayProtection(t *testing.T) {
	l := newTestLedger(t)
	_, hash, _ := l.GetCurrentState()
	newAcc := make([]byte, 256)
	newAcc[255] = 1

	_, err := l.UpdateAccumulator(testAuthority().Address, newAcc, hash, opID(1))
	require.NoError(t, err)

	// Replaying the same operation_id against the *new* parent hash must
	// still be rejected: the operation_id itself is the replay guard.
	_, curHash, _ := l.GetCurrentState()
	_, err = l.UpdateAccumulator(testAuthority().Address, newAcc, curHash, opID(1))
	assert.ErrorContains(t, "duplicate operation_id", err)
}

func TestParentHashMismatchRejected(t *testing.T) {
	l := newTestLedger(t)
	var wrongParent [32]byte
	wrongParent[0] = 0xFF
	newAcc := make([]byte, 256)
	_, err := l.UpdateAccumulator(testAuthority().Address, newAcc, wrongParent, opID(1))
	assert.ErrorContains(t, "stale parent_hash", err)

	_, _, version := l.GetCurrentState()
	assert.Equal(t, uint64(1), version, "a rejected mutation must not advance state")
}

func TestConcurrentMutationsOnlyOneWins(t *testing.T) {
	l := newTestLedger(t)
	_, parentHash, _ := l.GetCurrentState()
	accA := make([]byte, 256)
	accA[255] = 1
	accB := make([]byte, 256)
	accB[255] = 2

	_, errA := l.UpdateAccumulator(testAuthority().Address, accA, parentHash, opID(1))
	_, errB := l.UpdateAccumulator(testAuthority().Address, accB, parentHash, opID(2))

	require.NoError(t, errA)
	assert.ErrorContains(t, "stale parent_hash", errB)

	_, _, version := l.GetCurrentState()
	assert.Equal(t, uint64(2), version)
}

func TestBatchSizeBounds(t *testing.T) {
	l := newTestLedger(t)
	_, parentHash, _ := l.GetCurrentState()
	newAcc := make([]byte, 256)

	_, err := l.BatchRegisterDevices(testAuthority().Address, nil, newAcc, parentHash, opID(1))
	assert.ErrorContains(t, "batch size must be in", err)

	tooMany := make([][32]byte, 51)
	_, err = l.BatchRegisterDevices(testAuthority().Address, tooMany, newAcc, parentHash, opID(2))
	assert.ErrorContains(t, "batch size must be in", err)
}

func TestDuplicateDeviceIDWithinBatchRejected(t *testing.T) {
	l := newTestLedger(t)
	_, parentHash, _ := l.GetCurrentState()
	newAcc := make([]byte, 256)
	id := opID(9)
	_, err := l.BatchRegisterDevices(testAuthority().Address, [][32]byte{id, id}, newAcc, parentHash, opID(1))
	assert.ErrorContains(t, "duplicate device_id", err)
}

func TestRevokeNeverEnrolledDeviceRejected(t *testing.T) {
	l := newTestLedger(t)
	_, parentHash, _ := l.GetCurrentState()
	newAcc := make([]byte, 256)
	_, err := l.RevokeDevice(testAuthority().Address, opID(77), newAcc, parentHash, opID(1))
	assert.ErrorContains(t, "device is not active", err)
}

func TestRegisterThenDoubleRegisterRejected(t *testing.T) {
	l := newTestLedger(t)
	deviceID := opID(1)
	_, parentHash, _ := l.GetCurrentState()
	accAfterRegister := make([]byte, 256)
	accAfterRegister[255] = 1
	_, err := l.RegisterDevice(testAuthority().Address, deviceID, accAfterRegister, parentHash, opID(1))
	require.NoError(t, err)

	_, parentHash2, _ := l.GetCurrentState()
	accAfterSecond := make([]byte, 256)
	accAfterSecond[255] = 2
	_, err = l.RegisterDevice(testAuthority().Address, deviceID, accAfterSecond, parentHash2, opID(2))
	assert.ErrorContains(t, "already registered", err)
}

func TestUnauthorizedCallerRejected(t *testing.T) {
	l := newTestLedger(t)
	_, parentHash, _ := l.GetCurrentState()
	newAcc := make([]byte, 256)
	_, err := l.UpdateAccumulator(common.HexToAddress("0xBAD"), newAcc, parentHash, opID(1))
	assert.ErrorContains(t, "not the configured multi-sig authority", err)
}

func TestMalformedAuthorityRejectedAtConstruction(t *testing.T) {
	bad := testAuthority()
	bad.Threshold = 1
	_, err := New(bad, genesisAccumulator(), nil)
	assert.ErrorContains(t, "threshold must be >= 2", err)
}

func TestPausedRejectsMutations(t *testing.T) {
	l := newTestLedger(t)
	l.SetPaused(true)
	_, parentHash, _ := l.GetCurrentState()
	newAcc := make([]byte, 256)
	_, err := l.UpdateAccumulator(testAuthority().Address, newAcc, parentHash, opID(1))
	assert.ErrorContains(t, "contract is paused", err)
}

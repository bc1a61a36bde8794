package multisig

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/meshguard/accumulator-gateway/internal/testing/assert"
	"github.com/meshguard/accumulator-gateway/internal/testing/require"
)

func testManager() *Manager {
	return NewManager(
		big.NewInt(1337),
		common.HexToAddress("0xMANAGER"),
		common.HexToAddress("0xEMERGENCY"),
		2,
		[]common.Address{common.HexToAddress("0x1"), common.HexToAddress("0x2"), common.HexToAddress("0x3")},
	)
}

func TestQueueThenExecuteAfterDelay(t *testing.T) {
	m := testManager()
	now := time.Unix(1_700_000_000, 0)
	op, err := m.Queue(OpSetThreshold, []byte{3}, now)
	require.NoError(t, err)

	_, err = m.Execute(op.Hash, now.Add(TimelockDelay-time.Second))
	assert.ErrorContains(t, "timelock has not elapsed", err)

	executed, err := m.Execute(op.Hash, now.Add(TimelockDelay))
	require.NoError(t, err)
	assert.Equal(t, op.Hash, executed.Hash)
	assert.Equal(t, 3, m.Threshold)
}

func TestExecuteAppliesNewOwnerSet(t *testing.T) {
	m := testManager()
	now := time.Unix(1_700_000_000, 0)
	newOwners := []common.Address{
		common.HexToAddress("0x4"), common.HexToAddress("0x5"), common.HexToAddress("0x6"),
	}
	op, err := m.Queue(OpSetOwners, EncodeSetOwners(newOwners), now)
	require.NoError(t, err)

	_, err = m.Execute(op.Hash, now.Add(TimelockDelay))
	require.NoError(t, err)
	assert.Equal(t, newOwners, m.Owners)
}

func TestExecuteRejectsMalformedOwnerParams(t *testing.T) {
	m := testManager()
	now := time.Unix(1_700_000_000, 0)
	op, err := m.Queue(OpSetOwners, []byte{0xAA}, now)
	require.NoError(t, err)

	_, err = m.Execute(op.Hash, now.Add(TimelockDelay))
	assert.ErrorContains(t, "malformed SET_OWNERS params", err)
}

func TestExecuteTwiceRejected(t *testing.T) {
	m := testManager()
	now := time.Unix(1_700_000_000, 0)
	op, err := m.Queue(OpSetThreshold, []byte{2}, now)
	require.NoError(t, err)

	_, err = m.Execute(op.Hash, now.Add(TimelockDelay))
	require.NoError(t, err)

	_, err = m.Execute(op.Hash, now.Add(TimelockDelay))
	assert.ErrorContains(t, "already executed", err)
}

func TestCancelOnlyByEmergencyAdmin(t *testing.T) {
	m := testManager()
	now := time.Unix(1_700_000_000, 0)
	op, err := m.Queue(OpSetThreshold, []byte{3}, now)
	require.NoError(t, err)

	err = m.Cancel(common.HexToAddress("0x1"), op.Hash)
	assert.ErrorContains(t, "only the emergency admin", err)

	err = m.Cancel(common.HexToAddress("0xEMERGENCY"), op.Hash)
	require.NoError(t, err)

	_, err = m.Execute(op.Hash, now.Add(TimelockDelay))
	assert.ErrorContains(t, "cancelled", err)
}

func TestCancelAfterExecuteRejected(t *testing.T) {
	m := testManager()
	now := time.Unix(1_700_000_000, 0)
	op, err := m.Queue(OpSetThreshold, []byte{3}, now)
	require.NoError(t, err)

	_, err = m.Execute(op.Hash, now.Add(TimelockDelay))
	require.NoError(t, err)

	err = m.Cancel(common.HexToAddress("0xEMERGENCY"), op.Hash)
	assert.ErrorContains(t, "already executed", err)
}

func TestSameParamsQueuedTwiceProduceDistinctHashes(t *testing.T) {
	m := testManager()
	now := time.Unix(1_700_000_000, 0)
	op1, err := m.Queue(OpSetThreshold, []byte{3}, now)
	require.NoError(t, err)
	op2, err := m.Queue(OpSetThreshold, []byte{3}, now)
	require.NoError(t, err)

	assert.NotEqual(t, op1.Hash, op2.Hash, "the monotonic nonce must domain-separate identical proposals")
}

func TestNewOperationIDIsNonZero(t *testing.T) {
	id := NewOperationID()
	var zero [32]byte
	assert.NotEqual(t, zero, id)
}

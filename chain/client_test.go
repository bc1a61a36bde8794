package chain

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/meshguard/accumulator-gateway/contract/commitment"
	"github.com/meshguard/accumulator-gateway/internal/testing/assert"
	"github.com/meshguard/accumulator-gateway/internal/testing/require"
)

func testAuthority() commitment.Authority {
	return commitment.Authority{
		Address:   common.HexToAddress("0xA11CE00000000000000000000000000000AAAA"),
		Threshold: 2,
		Owners: []common.Address{
			common.HexToAddress("0x1"),
			common.HexToAddress("0x2"),
			common.HexToAddress("0x3"),
		},
	}
}

func newTestClient(t *testing.T) (*Client, *commitment.Ledger) {
	t.Helper()
	block := uint64(9)
	ledger, err := commitment.New(testAuthority(), make([]byte, 256), func() uint64 { block++; return block })
	require.NoError(t, err)
	client, err := NewClient(ledger, testAuthority().Address, DefaultRetryPolicy())
	require.NoError(t, err)
	return client, ledger
}

func TestNewClientRejectsNilBackend(t *testing.T) {
	_, err := NewClient(nil, testAuthority().Address, DefaultRetryPolicy())
	assert.ErrorContains(t, "backend must not be nil", err)
}

func TestCurrentViewReflectsGenesis(t *testing.T) {
	client, _ := newTestClient(t)
	root, _, version, err := client.CurrentView(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), version)
	assert.Equal(t, "0", root.String())
}

func TestProposeRegisterDeviceAdvancesView(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()
	_, parentHash, _, err := client.CurrentView(ctx)
	require.NoError(t, err)

	var deviceID [32]byte
	deviceID[31] = 7
	newAcc := make([]byte, 256)
	newAcc[255] = 9

	event, err := client.ProposeRegisterDevice(ctx, deviceID, newAcc, parentHash)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), event.NewVersion)

	_, _, version, err := client.CurrentView(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), version)
	assert.Equal(t, commitment.DeviceActiveOnChain, client.DeviceStatus(deviceID))
}

func TestProposeWithStaleParentHashIsNotRetried(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()
	var wrongParent [32]byte
	wrongParent[0] = 0xFF
	var deviceID [32]byte
	deviceID[31] = 1
	newAcc := make([]byte, 256)

	_, err := client.ProposeRegisterDevice(ctx, deviceID, newAcc, wrongParent)
	assert.ErrorContains(t, "stale parent_hash", err)
}

func TestTailEventsAdvancesCursorAndDoesNotRepeat(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()
	_, parentHash, _, err := client.CurrentView(ctx)
	require.NoError(t, err)

	var deviceID [32]byte
	deviceID[31] = 3
	newAcc := make([]byte, 256)
	newAcc[255] = 1
	_, err = client.ProposeRegisterDevice(ctx, deviceID, newAcc, parentHash)
	require.NoError(t, err)

	events, err := client.TailEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, len(events))

	events, err = client.TailEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, len(events))
}

func TestApplyEventToCommitmentStateMapsFields(t *testing.T) {
	event := commitment.Event{
		NewAccumulator: append(make([]byte, 255), 5),
		NewHash:        [32]byte{1, 2, 3},
		NewVersion:     4,
		Block:          99,
	}
	state := ApplyEventToCommitmentState(nil, event)
	assert.Equal(t, uint64(4), state.Version)
	assert.Equal(t, uint64(99), state.LastUpdateBlock)
	assert.Equal(t, "5", state.Root.String())
}

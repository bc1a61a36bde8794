package api

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"

	"github.com/meshguard/accumulator-gateway/chain"
	"github.com/meshguard/accumulator-gateway/contract/commitment"
	"github.com/meshguard/accumulator-gateway/crypto/accumulator"
	"github.com/meshguard/accumulator-gateway/db/kv"
	"github.com/meshguard/accumulator-gateway/domain"
	"github.com/meshguard/accumulator-gateway/gateway"
	"github.com/meshguard/accumulator-gateway/internal/hashutil"
	"github.com/meshguard/accumulator-gateway/internal/testing/assert"
	"github.com/meshguard/accumulator-gateway/internal/testing/require"
	"github.com/meshguard/accumulator-gateway/ratelimit"
)

func TestServer_Customized(t *testing.T) {
	s := &Server{}
	r := mux.NewRouter()
	origins := []string{"https://example.test"}
	secret := []byte("topsecret")
	limiter := ratelimit.New(ratelimit.DefaultLimits())

	s = s.WithRouter(r).WithAllowedOrigins(origins).WithAdminSecret(secret).WithRateLimiter(limiter)

	assert.Equal(t, r, s.router)
	assert.Equal(t, 1, len(s.allowedOrigins))
	assert.Equal(t, origins[0], s.allowedOrigins[0])
	assert.DeepEqual(t, secret, s.adminSecret)
	assert.Equal(t, limiter, s.limiter)
}

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

func toyParams(t *testing.T) *accumulator.Params {
	t.Helper()
	p, err := accumulator.NewParams(big.NewInt(209), big.NewInt(4), big.NewInt(90))
	require.NoError(t, err)
	return p
}

const testAdminSecret = "s3cret-admin-header"

func setupServer(t *testing.T) (*Server, *kv.Store) {
	t.Helper()
	ctx := context.Background()
	params := toyParams(t)
	pubParams := &accumulator.Params{N: params.N, G: params.G}

	store, err := kv.NewKVStore(ctx, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })

	encodedGenesis, err := params.Encode(params.G)
	require.NoError(t, err)
	require.NoError(t, store.SaveCommitmentState(ctx, &domain.CommitmentState{
		Root:     params.G,
		RootHash: hashutil.RootHash(encodedGenesis),
		Version:  1,
	}))
	require.NoError(t, store.SaveParameters(ctx, params.N.Bytes(), params.G.Bytes(), params.Lambda.Bytes()))

	block := uint64(9)
	ledger, err := commitment.New(testAuthority(), encodedGenesis, func() uint64 { block++; return block })
	require.NoError(t, err)
	chainClient, err := chain.NewClient(ledger, testAuthority().Address, chain.DefaultRetryPolicy())
	require.NoError(t, err)

	gw := gateway.New(store, chainClient, params, 0)
	s := New(ctx, gw, store, chainClient, pubParams, "", ratelimit.DefaultLimits())
	s = s.WithAdminSecret([]byte(testAdminSecret))
	return s, store
}

package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/meshguard/accumulator-gateway/internal/testing/assert"
	"github.com/meshguard/accumulator-gateway/internal/testing/require"
)

func testContext(t *testing.T, args []string) *cli.Context {
	t.Helper()
	app := &cli.App{Flags: Flags}
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	for _, f := range Flags {
		require.NoError(t, f.Apply(set))
	}
	require.NoError(t, set.Parse(args))
	return cli.NewContext(app, set, nil)
}

func TestFromContextAppliesFlagDefaults(t *testing.T) {
	ctx := testContext(t, nil)
	cfg, err := FromContext(ctx)
	require.NoError(t, err)

	assert.Equal(t, uint64(300), cfg.NonceTTLSeconds)
	assert.Equal(t, uint64(20), cfg.IPRateLimitPerMinute)
	assert.Equal(t, uint64(5), cfg.DeviceRateLimitPer5Minutes)
	assert.Equal(t, "./gateway-data", cfg.DBPath)
}

func TestFromContextOverlaysYAMLFileForUnsetFlags(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
rsa_n: "0xdeadbeef"
chain_rpc_url: "https://rpc.example.test"
ip_rate_limit_per_minute: 42
`), 0o600))

	ctx := testContext(t, []string{"--config-file", yamlPath})
	cfg, err := FromContext(ctx)
	require.NoError(t, err)

	assert.Equal(t, "0xdeadbeef", cfg.RSAN)
	assert.Equal(t, "https://rpc.example.test", cfg.ChainRPCURL)
	assert.Equal(t, uint64(42), cfg.IPRateLimitPerMinute)
	// a flag's explicit default still wins for anything the YAML didn't set
	assert.Equal(t, uint64(5), cfg.DeviceRateLimitPer5Minutes)
}

func TestFromContextExplicitFlagWinsOverYAML(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`ip_rate_limit_per_minute: 42`), 0o600))

	ctx := testContext(t, []string{"--config-file", yamlPath, "--ip-rate-limit-per-minute", "7"})
	cfg, err := FromContext(ctx)
	require.NoError(t, err)

	assert.Equal(t, uint64(7), cfg.IPRateLimitPerMinute)
}

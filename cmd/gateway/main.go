// Command gateway runs the revocable IoT device identity gateway: it
// serves the HTTP surface over a bbolt-backed device registry and an
// in-process commitment ledger, polling that ledger's event log and
// applying confirmed mutations to local state.
package main

import (
	"context"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/meshguard/accumulator-gateway/api"
	"github.com/meshguard/accumulator-gateway/chain"
	"github.com/meshguard/accumulator-gateway/config"
	"github.com/meshguard/accumulator-gateway/contract/commitment"
	"github.com/meshguard/accumulator-gateway/crypto/accumulator"
	"github.com/meshguard/accumulator-gateway/db/kv"
	"github.com/meshguard/accumulator-gateway/domain"
	"github.com/meshguard/accumulator-gateway/gateway"
	"github.com/meshguard/accumulator-gateway/internal/hashutil"
	"github.com/meshguard/accumulator-gateway/ratelimit"
)

var log = logrus.WithField("prefix", "main")

func main() {
	app := cli.NewApp()
	app.Name = "gateway"
	app.Usage = "revocable IoT device identity gateway"
	app.Flags = config.Flags
	app.Commands = []*cli.Command{adminCommand()}
	app.Action = runGateway

	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("gateway exited with an error")
	}
}

func runGateway(cliCtx *cli.Context) error {
	if _, err := maxprocs.Set(maxprocs.Logger(log.Infof)); err != nil {
		log.WithError(err).Warn("failed to set GOMAXPROCS from cgroup quota")
	}

	cfg, err := config.FromContext(cliCtx)
	if err != nil {
		return err
	}
	configureLogging(cfg.LogFormat)

	ctx, cancel := context.WithCancel(cliCtx.Context)
	defer cancel()

	params, err := parseParams(cfg)
	if err != nil {
		return err
	}

	store, err := kv.NewKVStore(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	authority, err := loadAuthority(cfg)
	if err != nil {
		return err
	}

	if err := bootstrapGenesisState(ctx, store, params); err != nil {
		return err
	}

	state, err := store.CommitmentState(ctx)
	if err != nil {
		return err
	}
	encodedRoot, err := params.Encode(state.Root)
	if err != nil {
		return err
	}

	ledger, err := commitment.New(authority, encodedRoot, func() uint64 { return uint64(time.Now().Unix()) })
	if err != nil {
		return err
	}
	ledger.SetPaused(false)
	chainClient, err := chain.NewClient(ledger, authority.Address, chain.DefaultRetryPolicy())
	if err != nil {
		return err
	}
	chainClient.SetLastProcessedBlock(state.LastUpdateBlock)

	gw := gateway.New(store, chainClient, params, cfg.NonceTTL)
	pubParams := &accumulator.Params{N: params.N, G: params.G}

	var adminSecret []byte
	if cfg.AdminSecretFile != "" {
		watcher, err := config.NewAdminSecretWatcher(cfg.AdminSecretFile)
		if err != nil {
			return err
		}
		defer watcher.Close()
		adminSecret = watcher.Current()
	}

	limits := ratelimit.LimitsFromConfig(cfg.IPRateLimitPerMinute, cfg.DeviceRateLimitPer5Minutes)
	server := api.New(ctx, gw, store, chainClient, pubParams, cfg.APIAddress, limits).
		WithAllowedOrigins(cfg.AllowedOrigins).
		WithAdminSecret(adminSecret)
	server.Start()
	defer server.Stop()

	go pollEvents(ctx, chainClient, store, server, cfg.EventPollInterval)

	log.WithField("address", cfg.APIAddress).Info("gateway is serving")
	return waitForShutdown(ctx)
}

// pollEvents runs a background polling loop: tail the ledger's event log
// on an interval and fold confirmed mutations into local state and the
// SSE stream.
func pollEvents(ctx context.Context, client *chain.Client, store *kv.Store, server *api.Server, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			events, err := client.TailEvents(ctx)
			if err != nil {
				log.WithError(err).Warn("failed to tail commitment events")
				continue
			}
			previous, err := store.CommitmentState(ctx)
			if err != nil {
				log.WithError(err).Error("failed to read current commitment state before applying polled events")
				continue
			}
			for _, event := range events {
				state := chain.ApplyEventToCommitmentState(previous, event)
				if err := store.SaveCommitmentState(ctx, state); err != nil {
					log.WithError(err).Error("failed to persist polled commitment state")
					continue
				}
				previous = state
				rootHex := new(big.Int).SetBytes(event.NewAccumulator).Text(16)
				server.PublishRootUpdate("0x"+rootHex, event.NewVersion)
			}
		}
	}
}

func waitForShutdown(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		log.Info("shutdown signal received")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func parseParams(cfg *config.Config) (*accumulator.Params, error) {
	n, ok := new(big.Int).SetString(trimHex(cfg.RSAN), 16)
	if !ok {
		return nil, errInvalidParam("rsa-n")
	}
	g, ok := new(big.Int).SetString(trimHex(cfg.RSAG), 16)
	if !ok {
		return nil, errInvalidParam("rsa-g")
	}
	var lambda *big.Int
	if cfg.RSALambda != "" {
		lambda, ok = new(big.Int).SetString(trimHex(cfg.RSALambda), 16)
		if !ok {
			return nil, errInvalidParam("rsa-lambda")
		}
	}
	return accumulator.NewParams(n, g, lambda)
}

func loadAuthority(cfg *config.Config) (commitment.Authority, error) {
	addr := cfg.MultisigAuthority
	if cfg.AdminSigningKeyPath != "" {
		decrypted, err := loadAdminSigningAddress(cfg.AdminSigningKeyPath)
		if err != nil {
			return commitment.Authority{}, err
		}
		addr = decrypted
	}
	if addr == "" {
		return commitment.Authority{}, errInvalidParam("multisig-authority")
	}
	return commitment.Authority{
		Address:   common.HexToAddress(addr),
		Threshold: 1,
		Owners:    []common.Address{common.HexToAddress(addr)},
	}, nil
}

// bootstrapGenesisState seeds commitment state and RSA parameters on a
// fresh database so the first startup of a new deployment has something
// for the ledger's genesis accumulator to agree with.
func bootstrapGenesisState(ctx context.Context, store *kv.Store, params *accumulator.Params) error {
	if _, err := store.CommitmentState(ctx); err == nil {
		return nil
	}
	encodedRoot, err := params.Encode(params.G)
	if err != nil {
		return err
	}
	if err := store.SaveCommitmentState(ctx, &domain.CommitmentState{
		Root:     params.G,
		RootHash: hashutil.RootHash(encodedRoot),
		Version:  1,
	}); err != nil {
		return err
	}
	return store.SaveParameters(ctx, params.N.Bytes(), params.G.Bytes(), nil)
}

func trimHex(s string) string {
	if len(s) >= 2 && (s[0:2] == "0x" || s[0:2] == "0X") {
		return s[2:]
	}
	return s
}

type errInvalidParam string

func (e errInvalidParam) Error() string { return "missing or malformed --" + string(e) }

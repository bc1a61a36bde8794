// Package config defines the gateway's configuration surface: urfave/cli
// flags (one per configuration knob), an optional YAML file layered
// underneath them, and a watched admin-secret file for hot rotation.
package config

import (
	"github.com/urfave/cli/v2"
)

var (
	RSANFlag = &cli.StringFlag{
		Name:  "rsa-n",
		Usage: "RSA accumulator modulus N, hex-encoded",
	}
	RSAGFlag = &cli.StringFlag{
		Name:  "rsa-g",
		Usage: "RSA accumulator generator g, hex-encoded",
	}
	RSALambdaFlag = &cli.StringFlag{
		Name:  "rsa-lambda",
		Usage: "RSA accumulator trapdoor lambda, hex-encoded (never logged or persisted in cleartext)",
	}
	ChainRPCURLFlag = &cli.StringFlag{
		Name:  "chain-rpc-url",
		Usage: "JSON-RPC endpoint of the chain the commitment contract is deployed on",
	}
	ContractAddressFlag = &cli.StringFlag{
		Name:  "contract-address",
		Usage: "address of the deployed commitment contract",
	}
	AdminSigningKeyPathFlag = &cli.StringFlag{
		Name:  "admin-signing-key-path",
		Usage: "path to the keystorev4-encrypted admin chain-signing key",
	}
	MultisigAuthorityFlag = &cli.StringFlag{
		Name:  "multisig-authority",
		Usage: "address of the multi-sig authority authorized to mutate the commitment contract",
	}
	NonceTTLSecondsFlag = &cli.Uint64Flag{
		Name:  "nonce-ttl-seconds",
		Usage: "authentication challenge lifetime, in seconds",
		Value: 300,
	}
	IPRateLimitPerMinuteFlag = &cli.Uint64Flag{
		Name:  "ip-rate-limit-per-minute",
		Usage: "requests/minute a single source address may sustain",
		Value: 20,
	}
	DeviceRateLimitPer5MinutesFlag = &cli.Uint64Flag{
		Name:  "device-rate-limit-per-5-minutes",
		Usage: "mutating operations a single device_id may be the subject of within a 5-minute window",
		Value: 5,
	}
	EventPollIntervalSecondsFlag = &cli.Uint64Flag{
		Name:  "event-poll-interval-seconds",
		Usage: "how often to poll the chain client for new commitment events",
		Value: 5,
	}
	ConfigFileFlag = &cli.StringFlag{
		Name:  "config-file",
		Usage: "YAML file providing defaults for any flag not set on the command line",
	}
	AdminSecretFileFlag = &cli.StringFlag{
		Name:  "admin-secret-file",
		Usage: "path to the admin shared-secret file, watched for rotation without a restart",
	}
	DBPathFlag = &cli.StringFlag{
		Name:  "db-path",
		Usage: "directory for the bbolt device/commitment-state database",
		Value: "./gateway-data",
	}
	APIAddressFlag = &cli.StringFlag{
		Name:  "api-address",
		Usage: "address the HTTP API listens on",
		Value: "0.0.0.0:8080",
	}
	AllowedOriginsFlag = &cli.StringSliceFlag{
		Name:  "allowed-origin",
		Usage: "CORS allowed origin (repeatable)",
	}
	LogFormatFlag = &cli.StringFlag{
		Name:  "log-format",
		Usage: "log output format: text, json, or journald",
		Value: "text",
	}
)

// Flags is the full set registered on the cmd/gateway app.
var Flags = []cli.Flag{
	RSANFlag,
	RSAGFlag,
	RSALambdaFlag,
	ChainRPCURLFlag,
	ContractAddressFlag,
	AdminSigningKeyPathFlag,
	MultisigAuthorityFlag,
	NonceTTLSecondsFlag,
	IPRateLimitPerMinuteFlag,
	DeviceRateLimitPer5MinutesFlag,
	EventPollIntervalSecondsFlag,
	ConfigFileFlag,
	AdminSecretFileFlag,
	DBPathFlag,
	APIAddressFlag,
	AllowedOriginsFlag,
	LogFormatFlag,
}

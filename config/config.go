package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v2"
)

// Config is the resolved configuration surface, after flags and any
// --config-file YAML overlay have been merged: a flag the
// caller set explicitly always wins over the YAML file, matching the
// precedence urfave/cli apps conventionally give the command line over a
// config file.
type Config struct {
	RSAN                       string        `yaml:"rsa_n"`
	RSAG                       string        `yaml:"rsa_g"`
	RSALambda                  string        `yaml:"rsa_lambda"`
	ChainRPCURL                string        `yaml:"chain_rpc_url"`
	ContractAddress            string        `yaml:"contract_address"`
	AdminSigningKeyPath        string        `yaml:"admin_signing_key_path"`
	MultisigAuthority          string        `yaml:"multisig_authority"`
	NonceTTL                   time.Duration `yaml:"-"`
	IPRateLimitPerMinute       uint64        `yaml:"ip_rate_limit_per_minute"`
	DeviceRateLimitPer5Minutes uint64        `yaml:"device_rate_limit_per_5_minutes"`
	EventPollInterval          time.Duration `yaml:"-"`
	AdminSecretFile            string        `yaml:"admin_secret_file"`
	DBPath                     string        `yaml:"db_path"`
	APIAddress                 string        `yaml:"api_address"`
	AllowedOrigins             []string       `yaml:"allowed_origins"`
	LogFormat                  string        `yaml:"log_format"`

	NonceTTLSeconds          uint64 `yaml:"nonce_ttl_seconds"`
	EventPollIntervalSeconds uint64 `yaml:"event_poll_interval_seconds"`
}

// FromContext resolves a Config from cli flags, applying any --config-file
// YAML overlay for flags the caller did not set explicitly on the command
// line.
func FromContext(ctx *cli.Context) (*Config, error) {
	cfg := &Config{
		RSAN:                       ctx.String(RSANFlag.Name),
		RSAG:                       ctx.String(RSAGFlag.Name),
		RSALambda:                  ctx.String(RSALambdaFlag.Name),
		ChainRPCURL:                ctx.String(ChainRPCURLFlag.Name),
		ContractAddress:            ctx.String(ContractAddressFlag.Name),
		AdminSigningKeyPath:        ctx.String(AdminSigningKeyPathFlag.Name),
		MultisigAuthority:          ctx.String(MultisigAuthorityFlag.Name),
		NonceTTLSeconds:            ctx.Uint64(NonceTTLSecondsFlag.Name),
		IPRateLimitPerMinute:       ctx.Uint64(IPRateLimitPerMinuteFlag.Name),
		DeviceRateLimitPer5Minutes: ctx.Uint64(DeviceRateLimitPer5MinutesFlag.Name),
		EventPollIntervalSeconds:   ctx.Uint64(EventPollIntervalSecondsFlag.Name),
		AdminSecretFile:            ctx.String(AdminSecretFileFlag.Name),
		DBPath:                     ctx.String(DBPathFlag.Name),
		APIAddress:                 ctx.String(APIAddressFlag.Name),
		AllowedOrigins:             ctx.StringSlice(AllowedOriginsFlag.Name),
		LogFormat:                  ctx.String(LogFormatFlag.Name),
	}

	if path := ctx.String(ConfigFileFlag.Name); path != "" {
		if err := overlayYAMLFile(ctx, cfg, path); err != nil {
			return nil, errors.Wrap(err, "failed to load --config-file")
		}
	}

	cfg.NonceTTL = time.Duration(cfg.NonceTTLSeconds) * time.Second
	cfg.EventPollInterval = time.Duration(cfg.EventPollIntervalSeconds) * time.Second
	return cfg, nil
}

// overlayYAMLFile fills in any field the caller left at its flag default
// with the YAML file's value. Only fields that are meaningfully
// zero-valued are candidates, so an explicit "" or 0 on the command line
// can't be distinguished from "unset" — an accepted limitation of
// urfave/cli v2's IsSet tracking for flags with non-empty defaults (the
// uint64 flags and the db-path, api-address and log-format flags ship
// non-empty defaults, so IsSet is checked for those instead).
func overlayYAMLFile(ctx *cli.Context, cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var file Config
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return errors.Wrap(err, "malformed YAML")
	}

	if cfg.RSAN == "" {
		cfg.RSAN = file.RSAN
	}
	if cfg.RSAG == "" {
		cfg.RSAG = file.RSAG
	}
	if cfg.RSALambda == "" {
		cfg.RSALambda = file.RSALambda
	}
	if cfg.ChainRPCURL == "" {
		cfg.ChainRPCURL = file.ChainRPCURL
	}
	if cfg.ContractAddress == "" {
		cfg.ContractAddress = file.ContractAddress
	}
	if cfg.AdminSigningKeyPath == "" {
		cfg.AdminSigningKeyPath = file.AdminSigningKeyPath
	}
	if cfg.MultisigAuthority == "" {
		cfg.MultisigAuthority = file.MultisigAuthority
	}
	if cfg.AdminSecretFile == "" {
		cfg.AdminSecretFile = file.AdminSecretFile
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = file.AllowedOrigins
	}
	if !ctx.IsSet(NonceTTLSecondsFlag.Name) && file.NonceTTLSeconds != 0 {
		cfg.NonceTTLSeconds = file.NonceTTLSeconds
	}
	if !ctx.IsSet(IPRateLimitPerMinuteFlag.Name) && file.IPRateLimitPerMinute != 0 {
		cfg.IPRateLimitPerMinute = file.IPRateLimitPerMinute
	}
	if !ctx.IsSet(DeviceRateLimitPer5MinutesFlag.Name) && file.DeviceRateLimitPer5Minutes != 0 {
		cfg.DeviceRateLimitPer5Minutes = file.DeviceRateLimitPer5Minutes
	}
	if !ctx.IsSet(EventPollIntervalSecondsFlag.Name) && file.EventPollIntervalSeconds != 0 {
		cfg.EventPollIntervalSeconds = file.EventPollIntervalSeconds
	}
	if !ctx.IsSet(DBPathFlag.Name) && file.DBPath != "" {
		cfg.DBPath = file.DBPath
	}
	if !ctx.IsSet(APIAddressFlag.Name) && file.APIAddress != "" {
		cfg.APIAddress = file.APIAddress
	}
	if !ctx.IsSet(LogFormatFlag.Name) && file.LogFormat != "" {
		cfg.LogFormat = file.LogFormat
	}
	return nil
}

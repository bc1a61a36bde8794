package main

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/crypto"
	jsoniter "github.com/json-iterator/go"
	keystorev4 "github.com/wealdtech/go-eth2-wallet-encryptor-keystorev4"
)

const adminKeystorePasswordEnv = "GATEWAY_ADMIN_KEYSTORE_PASSWORD"

// loadAdminSigningAddress decrypts an EIP-2335 keystore (the same format
// wealdtech's validator tooling uses for consensus signing keys, reused
// here for the gateway's admin/multisig-owner secp256k1 key) and derives
// its Ethereum address, so operators don't keep the raw owner address in
// plaintext config alongside the key that controls it.
func loadAdminSigningAddress(path string) (string, error) {
	password := os.Getenv(adminKeystorePasswordEnv)
	if password == "" {
		return "", fmt.Errorf("%s must be set to decrypt %s", adminKeystorePasswordEnv, path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var ks map[string]interface{}
	if err := jsoniter.Unmarshal(raw, &ks); err != nil {
		return "", fmt.Errorf("parsing keystore %s: %w", path, err)
	}
	secret, err := keystorev4.New().Decrypt(ks, password)
	if err != nil {
		return "", fmt.Errorf("decrypting admin signing keystore: %w", err)
	}
	privKey, err := crypto.ToECDSA(secret)
	if err != nil {
		return "", fmt.Errorf("admin keystore secret is not a valid secp256k1 key: %w", err)
	}
	return crypto.PubkeyToAddress(privKey.PublicKey).Hex(), nil
}

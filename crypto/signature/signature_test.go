package signature

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"golang.org/x/crypto/ed25519"

	"github.com/meshguard/accumulator-gateway/internal/testing/assert"
	"github.com/meshguard/accumulator-gateway/internal/testing/require"
)

func TestVerifyEd25519(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	msg := []byte("nonce-challenge")
	sig := ed25519.Sign(priv, msg)

	require.NoError(t, Verify(KeyTypeEd25519, pub, msg, sig))

	tampered := append([]byte{}, sig...)
	tampered[0] ^= 0xFF
	assert.ErrorContains(t, "verification failed", Verify(KeyTypeEd25519, pub, msg, tampered))
}

func TestVerifyRSA(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	msg := []byte("nonce-challenge")
	digest := sha256.Sum256(msg)
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, 5, digest[:])
	// crypto.SHA256 == 5 in the crypto.Hash enum; spelled out to avoid an
	// extra import purely for the constant in this test.
	require.NoError(t, err)

	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)

	require.NoError(t, Verify(KeyTypeRSAPKCS1v15SHA256, der, msg, sig))
}

func TestVerifyUnknownKeyType(t *testing.T) {
	err := Verify(KeyType("unknown"), nil, nil, nil)
	assert.ErrorContains(t, "unknown key type", err)
}

func TestCanonicalBytesEd25519(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)
	block := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	keyType, canon, err := CanonicalBytes(block)
	require.NoError(t, err)
	assert.Equal(t, KeyTypeEd25519, keyType)
	assert.Equal(t, []byte(pub), canon)
}

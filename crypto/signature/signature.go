// Package signature verifies device signatures under the two supported
// schemes: Ed25519 and RSA-PKCS1v15-over-SHA256. Dispatch is on a stored
// KeyType, mirroring go-ethereum crypto's pattern of one verify function
// per scheme rather than a polymorphic key interface.
package signature

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ed25519"
)

// KeyType identifies which scheme a device's public key uses.
type KeyType string

const (
	KeyTypeEd25519        KeyType = "ed25519"
	KeyTypeRSAPKCS1v15SHA256 KeyType = "rsa-pkcs1v15-sha256"
)

var (
	ErrUnknownKeyType  = errors.New("signature: unknown key type")
	ErrInvalidKey      = errors.New("signature: invalid public key encoding")
	ErrInvalidSignature = errors.New("signature: verification failed")
)

// Verify checks sig over message under pubKey, dispatching on keyType.
func Verify(keyType KeyType, pubKey []byte, message, sig []byte) error {
	switch keyType {
	case KeyTypeEd25519:
		return verifyEd25519(pubKey, message, sig)
	case KeyTypeRSAPKCS1v15SHA256:
		return verifyRSA(pubKey, message, sig)
	default:
		return errors.Wrapf(ErrUnknownKeyType, "key type %q", keyType)
	}
}

func verifyEd25519(pubKey, message, sig []byte) error {
	if len(pubKey) != ed25519.PublicKeySize {
		return errors.Wrap(ErrInvalidKey, "ed25519 public key must be 32 bytes")
	}
	if !ed25519.Verify(ed25519.PublicKey(pubKey), message, sig) {
		return ErrInvalidSignature
	}
	return nil
}

func verifyRSA(pubKey, message, sig []byte) error {
	key, err := parseRSAPublicKey(pubKey)
	if err != nil {
		return err
	}
	digest := sha256.Sum256(message)
	if err := rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], sig); err != nil {
		return errors.Wrap(ErrInvalidSignature, err.Error())
	}
	return nil
}

func parseRSAPublicKey(der []byte) (*rsa.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidKey, err.Error())
	}
	rsaKey, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.Wrap(ErrInvalidKey, "not an RSA public key")
	}
	return rsaKey, nil
}

// CanonicalBytes returns the canonical DER/raw-key bytes for a PEM-wrapped
// key submitted at the API boundary, and detects which KeyType it is. This
// is the canonicalization step enrollment uses to derive device_id.
func CanonicalBytes(pemBytes []byte) (KeyType, []byte, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return "", nil, errors.Wrap(ErrInvalidKey, "not a PEM block")
	}
	switch block.Type {
	case "PUBLIC KEY":
		pub, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return "", nil, errors.Wrap(ErrInvalidKey, err.Error())
		}
		switch k := pub.(type) {
		case ed25519.PublicKey:
			return KeyTypeEd25519, []byte(k), nil
		case *rsa.PublicKey:
			return KeyTypeRSAPKCS1v15SHA256, block.Bytes, nil
		default:
			return "", nil, errors.Wrap(ErrInvalidKey, "unsupported key algorithm")
		}
	default:
		return "", nil, errors.Wrapf(ErrInvalidKey, "unsupported PEM block type %q", block.Type)
	}
}

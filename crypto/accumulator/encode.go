package accumulator

import (
	"encoding/hex"
	"math/big"
	"strings"

	"github.com/wealdtech/go-bytesutil"
)

// RootWidth is the fixed-width big-endian wire encoding for an accumulator
// element, on-chain and on the API boundary.
const RootWidth = 256

// Encode serializes an accumulator element to its fixed 256-byte
// big-endian form, normalized into [0, N).
func (p *Params) Encode(a *big.Int) ([]byte, error) {
	if a == nil {
		return nil, wrapInvalidParameter("value must not be nil")
	}
	normalized := p.normalize(a)
	raw := normalized.Bytes()
	if len(raw) > RootWidth {
		return nil, wrapInvalidParameter("value does not fit in the 256-byte wire width")
	}
	return bytesutil.PadLeft(raw, RootWidth), nil
}

// Decode parses a fixed-width big-endian accumulator element. It accepts
// only raw bytes of exactly RootWidth; hex strings go through DecodeHex.
func Decode(b []byte) (*big.Int, error) {
	if len(b) != RootWidth {
		return nil, wrapInvalidParameter("encoded value must be exactly 256 bytes")
	}
	return new(big.Int).SetBytes(b), nil
}

// DecodeHex parses a hex string (with or without "0x" prefix) into a big
// integer, left-padding an odd-length string with one "0". It applies no
// width check and no reduction mod N.
func DecodeHex(s string) (*big.Int, error) {
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	if len(s)%2 != 0 {
		s = "0" + s
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, wrapInvalidParameter("malformed hex: " + err.Error())
	}
	return new(big.Int).SetBytes(raw), nil
}

// EncodeHex is Encode rendered as a "0x"-prefixed hex string, the canonical
// representation handed back across the API boundary.
func (p *Params) EncodeHex(a *big.Int) (string, error) {
	raw, err := p.Encode(a)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(raw), nil
}

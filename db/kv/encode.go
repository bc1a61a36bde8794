package kv

import (
	"encoding/binary"
	"math/big"
	"time"

	"github.com/meshguard/accumulator-gateway/crypto/signature"
	"github.com/meshguard/accumulator-gateway/domain"
	"github.com/meshguard/accumulator-gateway/gwerrors"
)

func newBigIntFromBytes(b []byte) *big.Int {
	return new(big.Int).SetBytes(b)
}

// encodeDevice serializes a domain.Device into a flat, length-prefixed
// record. This repo has no protobuf/SSZ schema — the wire format is JSON
// over HTTP and 256-byte big-endian on-chain; bbolt storage gets its own
// simple encoding rather than borrowing either.
func encodeDevice(d *domain.Device) ([]byte, error) {
	buf := make([]byte, 0, 512)
	buf = appendLenPrefixed(buf, d.DeviceID[:])
	buf = appendLenPrefixed(buf, d.PublicKey)
	buf = appendLenPrefixed(buf, []byte(d.KeyType))
	buf = appendLenPrefixed(buf, d.PrimeP.Bytes())
	buf = appendLenPrefixed(buf, []byte(d.Status))
	witness := []byte{}
	if d.CurrentWitness != nil {
		witness = d.CurrentWitness.Bytes()
	}
	buf = appendLenPrefixed(buf, witness)
	buf = appendLenPrefixed(buf, d.Nonce)
	nonceExpiry := make([]byte, 8)
	binary.BigEndian.PutUint64(nonceExpiry, uint64(d.NonceExpiresAt.Unix()))
	buf = append(buf, nonceExpiry...)
	return buf, nil
}

func decodeDevice(b []byte) (*domain.Device, error) {
	r := byteReader{b: b}
	deviceID, err := r.lenPrefixed()
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.Internal, err, "corrupt device record")
	}
	publicKey, err := r.lenPrefixed()
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.Internal, err, "corrupt device record")
	}
	keyType, err := r.lenPrefixed()
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.Internal, err, "corrupt device record")
	}
	primeBytes, err := r.lenPrefixed()
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.Internal, err, "corrupt device record")
	}
	status, err := r.lenPrefixed()
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.Internal, err, "corrupt device record")
	}
	witnessBytes, err := r.lenPrefixed()
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.Internal, err, "corrupt device record")
	}
	nonce, err := r.lenPrefixed()
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.Internal, err, "corrupt device record")
	}
	if len(r.b) < r.off+8 {
		return nil, gwerrors.New(gwerrors.Internal, "corrupt device record: truncated nonce expiry")
	}
	expiry := binary.BigEndian.Uint64(r.b[r.off : r.off+8])

	d := &domain.Device{
		PublicKey: publicKey,
		KeyType:   signature.KeyType(keyType),
		PrimeP:    new(big.Int).SetBytes(primeBytes),
		Status:    domain.DeviceStatus(status),
		Nonce:     nonce,
	}
	copy(d.DeviceID[:], deviceID)
	if len(witnessBytes) > 0 {
		d.CurrentWitness = new(big.Int).SetBytes(witnessBytes)
	}
	if expiry != 0 {
		d.NonceExpiresAt = time.Unix(int64(expiry), 0)
	}
	return d, nil
}

func appendLenPrefixed(buf, data []byte) []byte {
	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(data)))
	buf = append(buf, length...)
	return append(buf, data...)
}

type byteReader struct {
	b   []byte
	off int
}

func (r *byteReader) lenPrefixed() ([]byte, error) {
	if len(r.b) < r.off+4 {
		return nil, gwerrors.New(gwerrors.Internal, "truncated length prefix")
	}
	length := binary.BigEndian.Uint32(r.b[r.off : r.off+4])
	r.off += 4
	if len(r.b) < r.off+int(length) {
		return nil, gwerrors.New(gwerrors.Internal, "truncated field")
	}
	field := r.b[r.off : r.off+int(length)]
	r.off += int(length)
	return field, nil
}

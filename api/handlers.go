package api

import (
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/meshguard/accumulator-gateway/crypto/accumulator"
	"github.com/meshguard/accumulator-gateway/crypto/signature"
	"github.com/meshguard/accumulator-gateway/domain"
	"github.com/meshguard/accumulator-gateway/gwerrors"
	"github.com/meshguard/accumulator-gateway/internal/hashutil"
)

// --- health / status -------------------------------------------------

type healthResponse struct {
	OK             bool   `json:"ok"`
	Service        string `json:"service"`
	Version        string `json:"version"`
	DB             bool   `json:"db"`
	Chain          bool   `json:"chain"`
	ContractLoaded bool   `json:"contractLoaded"`
}

// ServiceName and ServiceVersion are surfaced verbatim in /health;
// ServiceVersion is overridden at build time via -ldflags in cmd/gateway.
var (
	ServiceName    = "accumulator-gateway"
	ServiceVersion = "dev"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	_, dbErr := s.store.CommitmentState(ctx)
	_, _, _, chainErr := s.chain.CurrentView(ctx)

	writeJSON(w, http.StatusOK, healthResponse{
		OK:             dbErr == nil && chainErr == nil,
		Service:        ServiceName,
		Version:        ServiceVersion,
		DB:             dbErr == nil,
		Chain:          chainErr == nil,
		ContractLoaded: s.chain != nil,
	})
}

type statusResponse struct {
	Version         uint64 `json:"version"`
	LastUpdateBlock uint64 `json:"lastUpdateBlock"`
	ActiveDevices   int    `json:"activeDevices"`
	RevokedDevices  int    `json:"revokedDevices"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	state, err := s.store.CommitmentState(ctx)
	if err != nil {
		writeError(w, requestIDFromContext(ctx), err)
		return
	}
	active, err := s.store.DevicesByStatus(ctx, domain.DeviceActive)
	if err != nil {
		writeError(w, requestIDFromContext(ctx), err)
		return
	}
	revoked, err := s.store.DevicesByStatus(ctx, domain.DeviceRevoked)
	if err != nil {
		writeError(w, requestIDFromContext(ctx), err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Version:         state.Version,
		LastUpdateBlock: state.LastUpdateBlock,
		ActiveDevices:   len(active),
		RevokedDevices:  len(revoked),
	})
}

// --- accumulator -------------------------------------------------

type accumulatorResponse struct {
	RootHex       string `json:"rootHex"`
	RootHash      string `json:"rootHash"`
	Version       uint64 `json:"version"`
	Block         uint64 `json:"block"`
	ActiveDevices int    `json:"activeDevices"`
}

func (s *Server) handleAccumulatorRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	state, err := s.store.CommitmentState(ctx)
	if err != nil {
		writeError(w, requestIDFromContext(ctx), err)
		return
	}
	rootHex, err := s.pubParams.EncodeHex(state.Root)
	if err != nil {
		writeError(w, requestIDFromContext(ctx), gwerrors.Wrap(gwerrors.Internal, err, "failed to encode root"))
		return
	}
	active, err := s.store.DevicesByStatus(ctx, domain.DeviceActive)
	if err != nil {
		writeError(w, requestIDFromContext(ctx), err)
		return
	}
	writeJSON(w, http.StatusOK, accumulatorResponse{
		RootHex:       rootHex,
		RootHash:      "0x" + hex.EncodeToString(state.RootHash[:]),
		Version:       state.Version,
		Block:         state.LastUpdateBlock,
		ActiveDevices: len(active),
	})
}

type accumulatorUpdateRequest struct {
	NewRootHex string `json:"newRootHex"`
	ParentHash string `json:"parentHash"`
}

type accumulatorUpdateResponse struct {
	TxHash      string `json:"txHash"`
	BlockNumber uint64 `json:"blockNumber"`
	NewRoot     string `json:"newRoot"`
}

func (s *Server) handleAccumulatorUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestIDFromContext(ctx)
	var req accumulatorUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, requestID, gwerrors.Wrap(gwerrors.InvalidInput, err, "malformed request body"))
		return
	}
	newRoot, err := accumulator.DecodeHex(req.NewRootHex)
	if err != nil {
		writeError(w, requestID, gwerrors.Wrap(gwerrors.InvalidInput, err, "malformed newRootHex"))
		return
	}
	parentHash, err := decodeHash32(req.ParentHash)
	if err != nil {
		writeError(w, requestID, err)
		return
	}

	state, err := s.gw.UpdateAccumulator(ctx, newRoot, parentHash)
	if err != nil {
		writeError(w, requestID, err)
		return
	}
	rootHex, err := s.pubParams.EncodeHex(state.Root)
	if err != nil {
		writeError(w, requestID, gwerrors.Wrap(gwerrors.Internal, err, "failed to encode new root"))
		return
	}
	writeJSON(w, http.StatusOK, accumulatorUpdateResponse{
		TxHash:      "0x" + hex.EncodeToString(state.RootHash[:]),
		BlockNumber: state.LastUpdateBlock,
		NewRoot:     rootHex,
	})
}

// --- enroll / revoke -------------------------------------------------

type enrollRequest struct {
	PubkeyPem string `json:"pubkeyPem"`
	KeyType   string `json:"keyType"`
}

type enrollResponse struct {
	DeviceIDHex string `json:"deviceIdHex"`
	PrimeP      string `json:"primeP"`
	WitnessHex  string `json:"witnessHex"`
	RootHex     string `json:"rootHex"`
}

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestIDFromContext(ctx)
	var req enrollRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, requestID, gwerrors.Wrap(gwerrors.InvalidInput, err, "malformed request body"))
		return
	}
	keyType, canonical, err := signature.CanonicalBytes([]byte(req.PubkeyPem))
	if err != nil {
		writeError(w, requestID, gwerrors.Wrap(gwerrors.InvalidInput, err, "malformed pubkeyPem"))
		return
	}

	deviceID := hashutil.Sum(canonical)
	device, err := s.gw.EnrollDevice(ctx, deviceID, canonical, keyType)
	if err != nil {
		writeError(w, requestID, err)
		return
	}
	state, err := s.store.CommitmentState(ctx)
	if err != nil {
		writeError(w, requestID, err)
		return
	}
	witnessHex, err := s.pubParams.EncodeHex(device.CurrentWitness)
	if err != nil {
		writeError(w, requestID, gwerrors.Wrap(gwerrors.Internal, err, "failed to encode witness"))
		return
	}
	rootHex, err := s.pubParams.EncodeHex(state.Root)
	if err != nil {
		writeError(w, requestID, gwerrors.Wrap(gwerrors.Internal, err, "failed to encode root"))
		return
	}
	writeJSON(w, http.StatusOK, enrollResponse{
		DeviceIDHex: "0x" + hex.EncodeToString(deviceID[:]),
		PrimeP:      device.PrimeP.String(),
		WitnessHex:  witnessHex,
		RootHex:     rootHex,
	})
}

type revokeRequest struct {
	DeviceIDHex string `json:"deviceIdHex"`
}

type revokeResponse struct {
	RootHex string `json:"rootHex"`
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestIDFromContext(ctx)
	var req revokeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, requestID, gwerrors.Wrap(gwerrors.InvalidInput, err, "malformed request body"))
		return
	}
	deviceID, err := decodeHash32(req.DeviceIDHex)
	if err != nil {
		writeError(w, requestID, err)
		return
	}
	if err := s.gw.RevokeDevice(ctx, deviceID); err != nil {
		writeError(w, requestID, err)
		return
	}
	state, err := s.store.CommitmentState(ctx)
	if err != nil {
		writeError(w, requestID, err)
		return
	}
	rootHex, err := s.pubParams.EncodeHex(state.Root)
	if err != nil {
		writeError(w, requestID, gwerrors.Wrap(gwerrors.Internal, err, "failed to encode root"))
		return
	}
	writeJSON(w, http.StatusOK, revokeResponse{RootHex: rootHex})
}

// --- authentication -------------------------------------------------

type authStartRequest struct {
	DeviceID string `json:"deviceId"`
}

type authStartResponse struct {
	Nonce     string `json:"nonce"`
	ExpiresAt string `json:"expiresAt"`
}

func (s *Server) handleAuthStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestIDFromContext(ctx)
	var req authStartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, requestID, gwerrors.Wrap(gwerrors.InvalidInput, err, "malformed request body"))
		return
	}
	deviceID, err := decodeHash32(req.DeviceID)
	if err != nil {
		writeError(w, requestID, err)
		return
	}
	if err := s.limiter.AllowDevice(deviceID); err != nil {
		writeError(w, requestID, err)
		return
	}
	nonce, err := s.gw.StartAuthentication(ctx, deviceID)
	if err != nil {
		writeError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, authStartResponse{
		Nonce:     base64.StdEncoding.EncodeToString(nonce),
		ExpiresAt: nonceExpiryHint,
	})
}

// nonceExpiryHint documents the TTL rather than a wall-clock timestamp:
// the gateway's go-cache store doesn't expose an item's expiry moment
// directly, only a relative TTL passed in at Set time.
const nonceExpiryHint = "see NONCE_TTL_SECONDS configuration"

type authVerifyRequest struct {
	DeviceID     string `json:"deviceId"`
	PrimeHex     string `json:"primeHex"`
	WitnessHex   string `json:"witnessHex"`
	SignatureB64 string `json:"signatureB64"`
	Nonce        string `json:"nonce"`
}

type authVerifyResponse struct {
	OK            bool   `json:"ok"`
	NewWitnessHex string `json:"newWitnessHex,omitempty"`
}

func (s *Server) handleAuthVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestIDFromContext(ctx)
	var req authVerifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, requestID, gwerrors.Wrap(gwerrors.InvalidInput, err, "malformed request body"))
		return
	}
	deviceID, err := decodeHash32(req.DeviceID)
	if err != nil {
		writeError(w, requestID, err)
		return
	}
	if err := s.limiter.AllowDevice(deviceID); err != nil {
		writeError(w, requestID, err)
		return
	}
	sig, err := base64.StdEncoding.DecodeString(req.SignatureB64)
	if err != nil {
		writeError(w, requestID, gwerrors.Wrap(gwerrors.InvalidInput, err, "malformed signatureB64"))
		return
	}
	nonce, err := base64.StdEncoding.DecodeString(req.Nonce)
	if err != nil {
		writeError(w, requestID, gwerrors.Wrap(gwerrors.InvalidInput, err, "malformed nonce"))
		return
	}
	prime, err := accumulator.DecodeHex(req.PrimeHex)
	if err != nil {
		writeError(w, requestID, gwerrors.Wrap(gwerrors.InvalidInput, err, "malformed primeHex"))
		return
	}
	witness, err := accumulator.DecodeHex(req.WitnessHex)
	if err != nil {
		writeError(w, requestID, gwerrors.Wrap(gwerrors.InvalidInput, err, "malformed witnessHex"))
		return
	}

	ok, refreshed, err := s.gw.VerifyAuthentication(ctx, deviceID, nonce, prime, witness, sig)
	if err != nil {
		writeError(w, requestID, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, authVerifyResponse{OK: false})
		return
	}

	resp := authVerifyResponse{OK: true}
	if refreshed != nil {
		if hex, err := s.pubParams.EncodeHex(refreshed); err == nil {
			resp.NewWitnessHex = hex
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- witness -------------------------------------------------

type witnessRequest struct {
	DeviceIDHex string `json:"deviceIdHex"`
}

type witnessResponse struct {
	WitnessHex string `json:"witnessHex"`
	Version    uint64 `json:"version"`
}

func (s *Server) handleWitness(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestIDFromContext(ctx)
	var req witnessRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, requestID, gwerrors.Wrap(gwerrors.InvalidInput, err, "malformed request body"))
		return
	}
	deviceID, err := decodeHash32(req.DeviceIDHex)
	if err != nil {
		writeError(w, requestID, err)
		return
	}
	witness, _, err := s.gw.Witness(ctx, deviceID)
	if err != nil {
		writeError(w, requestID, err)
		return
	}
	state, err := s.store.CommitmentState(ctx)
	if err != nil {
		writeError(w, requestID, err)
		return
	}
	witnessHex, err := s.pubParams.EncodeHex(witness)
	if err != nil {
		writeError(w, requestID, gwerrors.Wrap(gwerrors.Internal, err, "failed to encode witness"))
		return
	}
	writeJSON(w, http.StatusOK, witnessResponse{WitnessHex: witnessHex, Version: state.Version})
}

// --- shared wire helpers -------------------------------------------------

// decodeHash32 parses a 32-byte hex string (with or without "0x"), the
// device_id/parent_hash wire shape.
func decodeHash32(s string) ([32]byte, error) {
	var out [32]byte
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, gwerrors.Wrap(gwerrors.InvalidInput, err, "malformed hex")
	}
	if len(raw) != 32 {
		return out, gwerrors.New(gwerrors.InvalidInput, "expected a 32-byte value")
	}
	copy(out[:], raw)
	return out, nil
}

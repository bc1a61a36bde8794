package api

import (
	"bytes"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/meshguard/accumulator-gateway/internal/testing/assert"
	"github.com/meshguard/accumulator-gateway/internal/testing/require"
	"github.com/meshguard/accumulator-gateway/ratelimit"
)

func pemFor(t *testing.T, pub ed25519.PublicKey) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, pem.Encode(&buf, &pem.Block{Type: "PUBLIC KEY", Bytes: der}))
	return buf.String()
}

func doRequest(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpointReportsOK(t *testing.T) {
	s, _ := setupServer(t)
	rec := doRequest(t, s.handler(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.OK, "health check must report ok when db and chain are reachable")
}

func TestAccumulatorReadReturnsGenesisRoot(t *testing.T) {
	s, _ := setupServer(t)
	rec := doRequest(t, s.handler(), http.MethodGet, "/accumulator", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp accumulatorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, uint64(1), resp.Version)
	assert.Equal(t, 0, resp.ActiveDevices)
}

func TestEnrollWithoutAdminSecretRejected(t *testing.T) {
	s, _ := setupServer(t)
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	rec := doRequest(t, s.handler(), http.MethodPost, "/enroll", enrollRequest{PubkeyPem: pemFor(t, pub)})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEnrollThenWitnessRoundTrip(t *testing.T) {
	s, _ := setupServer(t)
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/enroll", jsonBody(t, enrollRequest{PubkeyPem: pemFor(t, pub)}))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(adminSecretHeader, testAdminSecret)
	rec := httptest.NewRecorder()
	s.handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var enrollResp enrollResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &enrollResp))
	assert.True(t, enrollResp.DeviceIDHex != "", "expected a non-empty device id")

	witnessRec := doRequest(t, s.handler(), http.MethodPost, "/witness", witnessRequest{DeviceIDHex: enrollResp.DeviceIDHex})
	assert.Equal(t, http.StatusOK, witnessRec.Code)
	var witnessResp witnessResponse
	require.NoError(t, json.Unmarshal(witnessRec.Body.Bytes(), &witnessResp))
	assert.Equal(t, uint64(2), witnessResp.Version)
}

func TestAuthenticationHandshakeOverHTTP(t *testing.T) {
	s, _ := setupServer(t)
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/enroll", jsonBody(t, enrollRequest{PubkeyPem: pemFor(t, pub)}))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(adminSecretHeader, testAdminSecret)
	rec := httptest.NewRecorder()
	s.handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var enrollResp enrollResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &enrollResp))

	startRec := doRequest(t, s.handler(), http.MethodPost, "/auth/start", authStartRequest{DeviceID: enrollResp.DeviceIDHex})
	require.Equal(t, http.StatusOK, startRec.Code)
	var startResp authStartResponse
	require.NoError(t, json.Unmarshal(startRec.Body.Bytes(), &startResp))

	nonce, err := base64.StdEncoding.DecodeString(startResp.Nonce)
	require.NoError(t, err)
	sig := ed25519.Sign(priv, nonce)
	prime, ok := new(big.Int).SetString(enrollResp.PrimeP, 10)
	require.True(t, ok, "enroll response must carry a decimal prime")

	verifyRec := doRequest(t, s.handler(), http.MethodPost, "/auth/verify", authVerifyRequest{
		DeviceID:     enrollResp.DeviceIDHex,
		PrimeHex:     prime.Text(16),
		WitnessHex:   enrollResp.WitnessHex,
		SignatureB64: base64.StdEncoding.EncodeToString(sig),
		Nonce:        startResp.Nonce,
	})
	assert.Equal(t, http.StatusOK, verifyRec.Code)
	var verifyResp authVerifyResponse
	require.NoError(t, json.Unmarshal(verifyRec.Body.Bytes(), &verifyResp))
	assert.True(t, verifyResp.OK, "a correctly signed nonce must authenticate over HTTP")
}

func TestRateLimitedEndpointReturnsTooManyRequests(t *testing.T) {
	s, _ := setupServer(t)
	s.limiter = ratelimit.New(ratelimit.Limits{PerSourceRate: 1, PerSourceBurst: 1, PerDeviceWindow: 0, PerDeviceMax: 100})

	var deviceID [32]byte
	first := doRequest(t, s.handler(), http.MethodPost, "/auth/start", authStartRequest{DeviceID: "0x" + hexString(deviceID)})
	assert.Equal(t, http.StatusNotFound, first.Code) // unknown device, but consumes the bucket slot

	second := doRequest(t, s.handler(), http.MethodPost, "/auth/start", authStartRequest{DeviceID: "0x" + hexString(deviceID)})
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func jsonBody(t *testing.T, v interface{}) *bytes.Reader {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(raw)
}

func hexString(b [32]byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, 64)
	for i, c := range b {
		out[i*2] = hextable[c>>4]
		out[i*2+1] = hextable[c&0x0f]
	}
	return string(out)
}

package crypto

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Address derived from the secp256k1 private key with scalar value 1.
const keyOneAddress = "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf"

func TestNewSignerDerivesAddress(t *testing.T) {
	s, err := NewSigner("0x"+testKeyHex, 137)
	require.NoError(t, err)
	assert.Equal(t, keyOneAddress, s.Address().Hex())
}

func TestNewSignerRejectsBadKey(t *testing.T) {
	_, err := NewSigner("nope", 137)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid private key")
}

func TestSignAuthMessage(t *testing.T) {
	s, err := NewSigner(testKeyHex, 137)
	require.NoError(t, err)

	sig, err := s.SignAuthMessage(keyOneAddress, 1700000000, 0)
	require.NoError(t, err)

	// 0x prefix plus 65 bytes hex-encoded.
	assert.Len(t, sig, 132)
	assert.Equal(t, "0x", sig[:2])

	// secp256k1 signing is deterministic; the same inputs reproduce the
	// same signature.
	again, err := s.SignAuthMessage(keyOneAddress, 1700000000, 0)
	require.NoError(t, err)
	assert.Equal(t, sig, again)

	other, err := s.SignAuthMessage(keyOneAddress, 1700000001, 0)
	require.NoError(t, err)
	assert.NotEqual(t, sig, other)
}

func TestSignOrder(t *testing.T) {
	s, err := NewSigner(testKeyHex, 137)
	require.NoError(t, err)

	payload := OrderPayload{
		Salt:          "123456789",
		Maker:         keyOneAddress,
		Signer:        keyOneAddress,
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       "71321045679252212594626385532706912750332728571942532289631379312455583992563",
		MakerAmount:   "4000000",
		TakerAmount:   "10000000",
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          0,
		SignatureType: 0,
	}

	sig, err := s.SignOrder(payload)
	require.NoError(t, err)
	assert.Len(t, sig, 132)
}

func TestSignOrderRejectsMalformedNumbers(t *testing.T) {
	s, err := NewSigner(testKeyHex, 137)
	require.NoError(t, err)

	payload := OrderPayload{
		Salt:        "not-a-number",
		TokenID:     "1",
		MakerAmount: "1",
		TakerAmount: "1",
		Expiration:  "0",
		Nonce:       "0",
		FeeRateBps:  "0",
	}

	_, err = s.SignOrder(payload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid salt")
}

func TestL2HeadersAt(t *testing.T) {
	auth := &HMACAuth{
		Key:        "api-key-1",
		Secret:     base64.StdEncoding.EncodeToString([]byte("shared-secret")),
		Passphrase: "pass",
	}

	h := auth.L2HeadersAt("0xabc", "GET", "/orders", "", 1700000000)

	assert.Equal(t, "0xabc", h["POLY_ADDRESS"])
	assert.Equal(t, "api-key-1", h["POLY_API_KEY"])
	assert.Equal(t, "1700000000", h["POLY_TIMESTAMP"])
	assert.Equal(t, "pass", h["POLY_PASSPHRASE"])
	require.NotEmpty(t, h["POLY_SIGNATURE"])

	// The signature is standard base64.
	_, err := base64.StdEncoding.DecodeString(h["POLY_SIGNATURE"])
	require.NoError(t, err)

	// Same inputs reproduce the signature; a different body changes it.
	again := auth.L2HeadersAt("0xabc", "GET", "/orders", "", 1700000000)
	assert.Equal(t, h["POLY_SIGNATURE"], again["POLY_SIGNATURE"])

	posted := auth.L2HeadersAt("0xabc", "POST", "/orders", `{"id":"x"}`, 1700000000)
	assert.NotEqual(t, h["POLY_SIGNATURE"], posted["POLY_SIGNATURE"])
}

func TestHMACAuthStringIsRedacted(t *testing.T) {
	auth := &HMACAuth{Key: "api-key-12345", Secret: "c2VjcmV0cw=="}
	out := auth.String()

	assert.NotContains(t, out, "12345")
	assert.Contains(t, out, "api-****")
}

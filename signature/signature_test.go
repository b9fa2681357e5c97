package signature

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return priv
}

func TestSignThenVerifyRoundTrips(t *testing.T) {
	priv := generateKey(t)
	pub := &priv.PublicKey

	payload := map[string]any{"sessionId": "s1", "planHash": "abc"}
	payloadHash, sigB64, alg, err := Sign(priv, payload)
	require.NoError(t, err)

	err = Verify(pub, alg, payload, payloadHash, sigB64)
	assert.NoError(t, err)
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	priv := generateKey(t)
	pub := &priv.PublicKey

	payload := map[string]any{"sessionId": "s1"}
	payloadHash, sigB64, alg, err := Sign(priv, payload)
	require.NoError(t, err)

	tampered := map[string]any{"sessionId": "s2"}
	err = Verify(pub, alg, tampered, payloadHash, sigB64)
	assert.Error(t, err)
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	priv := generateKey(t)
	other := generateKey(t)

	payload := map[string]any{"x": 1}
	payloadHash, sigB64, alg, err := Sign(priv, payload)
	require.NoError(t, err)

	err = Verify(&other.PublicKey, alg, payload, payloadHash, sigB64)
	assert.Error(t, err)
}

func TestParsePublicKeyPEMRoundTrips(t *testing.T) {
	priv := generateKey(t)
	pem, err := MarshalPublicKeyPEM(&priv.PublicKey)
	require.NoError(t, err)

	pub, err := ParsePublicKeyPEM(pem)
	require.NoError(t, err)
	assert.Equal(t, priv.PublicKey.N, pub.N)
}

func TestParsePublicKeyPEMRejectsGarbage(t *testing.T) {
	_, err := ParsePublicKeyPEM("not pem at all")
	assert.Error(t, err)
}

func TestParsePublicKeyPEMRejectsUndersizedModulus(t *testing.T) {
	small, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	pemStr, err := MarshalPublicKeyPEM(&small.PublicKey)
	require.NoError(t, err)

	_, err = ParsePublicKeyPEM(pemStr)
	assert.Error(t, err)
}

func TestSupportedAlgorithm(t *testing.T) {
	assert.True(t, SupportedAlgorithm("RSA-SHA256"))
	assert.False(t, SupportedAlgorithm("ed25519"))
}

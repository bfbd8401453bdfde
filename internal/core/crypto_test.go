package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateClientID(t *testing.T) {
	a := GenerateClientID()
	b := GenerateClientID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestCurveKeysSharedSecret(t *testing.T) {
	alice := GenerateCurveKeys()
	bob := GenerateCurveKeys()

	s1, err := SharedSecret(alice.Private, bob.Public[:])
	require.NoError(t, err)
	s2, err := SharedSecret(bob.Private, alice.Public[:])
	require.NoError(t, err)

	assert.Equal(t, s1, s2)
	assert.Len(t, s1, 32)
}

func TestHKDFDeterministic(t *testing.T) {
	ikm := []byte("shared-secret-material")

	out1, err := HKDF(ikm, 80, nil)
	require.NoError(t, err)
	out2, err := HKDF(ikm, 80, nil)
	require.NoError(t, err)

	assert.Equal(t, out1, out2)
	assert.Len(t, out1, 80)
}

func TestHMACVerify(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	data := []byte("admin,challenge")

	sig := HMACSHA256(data, key)
	assert.True(t, VerifyHMACSHA256(data, key, sig))

	tampered := append([]byte{}, sig...)
	tampered[0] ^= 0xff
	assert.False(t, VerifyHMACSHA256(data, key, tampered))
}

func TestAESCBCRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	plaintext := []byte("a message that spans more than one cipher block boundary")

	ciphertext, err := AESCBCEncrypt(plaintext, key)
	require.NoError(t, err)

	decrypted, err := AESCBCDecrypt(ciphertext, key)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestAESCBCDecryptRejectsShortInput(t *testing.T) {
	key := make([]byte, 32)
	_, err := AESCBCDecrypt([]byte{1, 2, 3}, key)
	assert.Error(t, err)
}

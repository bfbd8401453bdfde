// WASession Go - WhatsApp Session Gateway
// Copyright (c) 2026 Nullpointer Dev
// Licensed under MIT License
// https://github.com/nullpointer-dev/wasession-go

package core

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// randomBytes returns n cryptographically secure random bytes.
func randomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err) // crypto/rand failing is not a recoverable condition
	}
	return b
}

// GenerateClientID returns a fresh 22-character base64 identifier,
// stable for the lifetime of a logical session.
func GenerateClientID() string {
	return base64.StdEncoding.EncodeToString(randomBytes(16))
}

// CurveKeys is an ephemeral Curve25519 keypair, live only for the
// duration of a fresh-session handshake.
type CurveKeys struct {
	Private [32]byte
	Public  [32]byte
}

// NewCurveKeys derives a keypair from a 32-byte seed, per §4.1.
func NewCurveKeys(seed [32]byte) CurveKeys {
	var keys CurveKeys
	keys.Private = seed
	// clamp per curve25519 convention, as ScalarBaseMult expects
	keys.Private[0] &= 248
	keys.Private[31] &= 127
	keys.Private[31] |= 64
	curve25519.ScalarBaseMult(&keys.Public, &keys.Private)
	return keys
}

// GenerateCurveKeys allocates a fresh random seed and derives a keypair.
func GenerateCurveKeys() CurveKeys {
	var seed [32]byte
	copy(seed[:], randomBytes(32))
	return NewCurveKeys(seed)
}

// SharedSecret computes the Curve25519 ECDH shared secret.
func SharedSecret(private [32]byte, peerPublic []byte) ([]byte, error) {
	if len(peerPublic) != 32 {
		return nil, errors.New("core: peer public key must be 32 bytes")
	}
	var pub [32]byte
	copy(pub[:], peerPublic)
	shared, err := curve25519.X25519(private[:], pub[:])
	if err != nil {
		return nil, err
	}
	return shared, nil
}

// HKDF expands ikm to length bytes using HKDF-SHA256 with a zero salt
// of 32 bytes and the given info tag (may be empty), per §4.1.
func HKDF(ikm []byte, length int, info []byte) ([]byte, error) {
	salt := make([]byte, sha256.Size)
	reader := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}

// HMACSHA256 returns the 32-byte HMAC-SHA256 of data under key.
func HMACSHA256(data, key []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// VerifyHMACSHA256 reports whether sig is the HMAC-SHA256 of data
// under key, in constant time.
func VerifyHMACSHA256(data, key, sig []byte) bool {
	return hmac.Equal(HMACSHA256(data, key), sig)
}

// AESCBCEncrypt encrypts plaintext under a 32-byte key with PKCS#7
// padding and a fresh random 16-byte IV, prefixed to the ciphertext.
func AESCBCEncrypt(plaintext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(plaintext, block.BlockSize())
	iv := randomBytes(block.BlockSize())
	out := make([]byte, len(iv)+len(padded))
	copy(out, iv)
	mode := cipher.NewCBCEncrypter(block, iv)
	mode.CryptBlocks(out[len(iv):], padded)
	return out, nil
}

// AESCBCDecrypt decrypts ciphertext produced by AESCBCEncrypt: the
// leading 16 bytes are the IV, the padding is stripped on return.
func AESCBCDecrypt(ciphertext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	bs := block.BlockSize()
	if len(ciphertext) < bs || (len(ciphertext)-bs)%bs != 0 {
		return nil, errors.New("core: ciphertext is not a valid length")
	}
	iv := ciphertext[:bs]
	body := ciphertext[bs:]
	return aesCBCDecryptWithIV(block, body, iv)
}

// AESCBCDecryptWithIV decrypts ciphertext using an explicit IV,
// without expecting it to be embedded in the ciphertext. Used for
// media downloads, where the IV travels out of band.
func AESCBCDecryptWithIV(ciphertext, key, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return aesCBCDecryptWithIV(block, ciphertext, iv)
}

func aesCBCDecryptWithIV(block cipher.Block, ciphertext, iv []byte) ([]byte, error) {
	bs := block.BlockSize()
	if len(ciphertext) == 0 || len(ciphertext)%bs != 0 {
		return nil, errors.New("core: ciphertext is not a multiple of the block size")
	}
	out := make([]byte, len(ciphertext))
	mode := cipher.NewCBCDecrypter(block, iv)
	mode.CryptBlocks(out, ciphertext)
	return pkcs7Unpad(out, bs)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("core: empty plaintext")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, errors.New("core: invalid pkcs7 padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, errors.New("core: invalid pkcs7 padding")
		}
	}
	return data[:len(data)-padLen], nil
}

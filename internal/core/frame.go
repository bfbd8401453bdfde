// WASession Go - WhatsApp Session Gateway
// Copyright (c) 2026 Nullpointer Dev
// Licensed under MIT License
// https://github.com/nullpointer-dev/wasession-go

package core

import (
	"bytes"
	"strings"
)

const hmacLen = 32

// EncryptFrame implements §4.2: AES-CBC(payload, encKey), prefixed
// with HMAC-SHA256(ciphertext, macKey), prefixed with "tag,".
func EncryptFrame(tag string, payload, encKey, macKey []byte) ([]byte, error) {
	ciphertext, err := AESCBCEncrypt(payload, encKey)
	if err != nil {
		return nil, err
	}
	mac := HMACSHA256(ciphertext, macKey)

	out := make([]byte, 0, len(tag)+1+len(mac)+len(ciphertext))
	out = append(out, tag...)
	out = append(out, ',')
	out = append(out, mac...)
	out = append(out, ciphertext...)
	return out, nil
}

// DecryptFrame implements §4.2. It splits the outer "tag,body"
// envelope, then either returns the body as-is for plaintext JSON (a
// leading '[' or '{'), or verifies the leading 32-byte HMAC and
// AES-CBC decrypts the remainder, handing the plaintext to decoder.
//
// A text body decodes to a nil BinaryNode with Raw set to the JSON
// bytes; callers distinguish the two cases by checking Raw.
type DecodedFrame struct {
	Tag  string
	Node *BinaryNode // set for binary payloads
	Raw  []byte      // set for plaintext JSON payloads
}

func DecryptFrame(frame []byte, macKey, encKey []byte, decoder BinaryDecoder) (*DecodedFrame, error) {
	tag, body, ok := splitTagBody(frame)
	if !ok {
		return nil, errMalformed("frame missing tag delimiter")
	}

	if len(body) > 0 && (body[0] == '[' || body[0] == '{') {
		return &DecodedFrame{Tag: tag, Raw: body}, nil
	}

	if len(body) < hmacLen {
		return nil, errMalformed("frame shorter than hmac length")
	}
	mac, ciphertext := body[:hmacLen], body[hmacLen:]
	if !VerifyHMACSHA256(ciphertext, macKey, mac) {
		return nil, ErrHmacMismatch
	}

	plaintext, err := AESCBCDecrypt(ciphertext, encKey)
	if err != nil {
		return nil, errMalformed("aes-cbc decrypt: " + err.Error())
	}

	node, err := decoder.Decode(plaintext)
	if err != nil {
		return nil, errMalformed("binary decode: " + err.Error())
	}

	return &DecodedFrame{Tag: tag, Node: node}, nil
}

func splitTagBody(frame []byte) (tag string, body []byte, ok bool) {
	idx := bytes.IndexByte(frame, ',')
	if idx < 0 {
		return "", nil, false
	}
	return string(frame[:idx]), frame[idx+1:], true
}

// IsHeartbeatFrame reports whether frame is the server's "!<unix-ms>"
// liveness reply, and parses the timestamp if so.
func IsHeartbeatFrame(frame []byte) (ms int64, ok bool) {
	if len(frame) < 2 || frame[0] != '!' {
		return 0, false
	}
	digits := string(frame[1:])
	if strings.TrimFunc(digits, isASCIIDigit) != "" {
		return 0, false
	}
	var v int64
	for _, c := range digits {
		v = v*10 + int64(c-'0')
	}
	return v, true
}

func isASCIIDigit(r rune) bool { return r >= '0' && r <= '9' }

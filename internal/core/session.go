// WASession Go - WhatsApp Session Gateway
// Copyright (c) 2026 Nullpointer Dev
// Licensed under MIT License
// https://github.com/nullpointer-dev/wasession-go

package core

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"
)

// AuthInfo is the persisted identity of a logical session (§3). The
// four key fields are either all present ("restorable") or all absent
// ("fresh") — see Validate.
type AuthInfo struct {
	ClientID    string
	ClientToken string
	ServerToken string
	EncKey      []byte // 32 bytes once populated
	MacKey      []byte // 32 bytes once populated
}

// Restorable reports whether AuthInfo carries a prior validation's keys.
func (a *AuthInfo) Restorable() bool {
	return a.EncKey != nil && a.MacKey != nil
}

// Validate enforces the all-or-nothing invariant on the restore fields.
func (a *AuthInfo) Validate() error {
	present := a.EncKey != nil
	if present != (a.MacKey != nil) || present != (a.ServerToken != "") {
		return errMalformed("AuthInfo: encKey/macKey/serverToken must be all present or all absent")
	}
	return nil
}

// UserMetaData is the identity the validation algorithm produces (§3).
type UserMetaData struct {
	ID    string
	Name  string
	Phone interface{}
}

// QRPayload is what's surfaced to onReadyForPhoneAuthentication.
type QRPayload struct {
	Ref       string
	PublicKey string // base64
	ClientID  string
}

// Phase is the closed SessionPhase sum type of §3. Implementations are
// small value types; callers switch on the concrete type.
type Phase interface {
	phase()
}

type (
	PhaseDisconnected         struct{}
	PhaseOpening              struct{}
	PhaseAwaitingInit         struct{}
	PhaseAwaitingQRScan       struct {
		Ref       string
		OurPublic [32]byte
	}
	PhaseAwaitingLoginAck     struct{}
	PhaseAwaitingChallengeAck struct{}
	PhaseAwaitingValidation   struct{}
	PhaseLive                 struct{ Since time.Time }
	PhaseReconnecting         struct{ Attempt int }
)

func (PhaseDisconnected) phase()         {}
func (PhaseOpening) phase()              {}
func (PhaseAwaitingInit) phase()         {}
func (PhaseAwaitingQRScan) phase()       {}
func (PhaseAwaitingLoginAck) phase()     {}
func (PhaseAwaitingChallengeAck) phase() {}
func (PhaseAwaitingValidation) phase()   {}
func (PhaseLive) phase()                 {}
func (PhaseReconnecting) phase()         {}

// frameSender is the minimal outbound surface the state machine needs
// from the Supervisor: send a plaintext JSON-array handshake message
// and await its correlated reply.
type frameSender interface {
	sendJSON(ctx context.Context, tag string, msg []interface{}) error
	awaitTag(ctx context.Context, tag string, timeout time.Duration) (interface{}, error)
}

// handshakeDeps bundles everything authenticate needs beyond the
// frameSender, so the state machine stays a pure function of its
// inputs and is unit-testable without a real socket.
type handshakeDeps struct {
	version             []interface{}
	browserDescription  []interface{}
	onReadyForPhoneAuth func(QRPayload)
	setPhase            func(Phase)
	nextTag             func() string
}

const handshakeTimeout = 35 * time.Second

// authenticate drives §4.4's state machine to completion, mutating
// auth in place and returning the validated user identity.
func authenticate(ctx context.Context, sender frameSender, auth *AuthInfo, deps handshakeDeps) (*UserMetaData, error) {
	if auth.ClientID == "" {
		auth.ClientID = GenerateClientID()
	}

	deps.setPhase(PhaseAwaitingInit{})
	initTag := deps.nextTag()
	initMsg := []interface{}{"admin", "init", deps.version, deps.browserDescription, auth.ClientID, true}
	if err := sender.sendJSON(ctx, initTag, initMsg); err != nil {
		return nil, err
	}
	initReplyRaw, err := sender.awaitTag(ctx, initTag, handshakeTimeout)
	if err != nil {
		return nil, err
	}
	if status, ok := extractStatus(initReplyRaw); ok && status != 200 {
		return nil, errStatus(status, initReplyRaw)
	}

	var curveKeys CurveKeys
	restoring := auth.Restorable()

	if restoring {
		deps.setPhase(PhaseAwaitingLoginAck{})
		loginMsg := []interface{}{"admin", "login", auth.ClientToken, auth.ServerToken, auth.ClientID, "takeover"}
		if err := sender.sendJSON(ctx, "s1", loginMsg); err != nil {
			return nil, err
		}
	} else {
		curveKeys = GenerateCurveKeys()
		ref, ok := extractRef(initReplyRaw)
		if !ok {
			return nil, errMalformed("init reply missing ref")
		}
		deps.setPhase(PhaseAwaitingQRScan{Ref: ref, OurPublic: curveKeys.Public})
		if deps.onReadyForPhoneAuth != nil {
			deps.onReadyForPhoneAuth(QRPayload{
				Ref:       ref,
				PublicKey: base64.StdEncoding.EncodeToString(curveKeys.Public[:]),
				ClientID:  auth.ClientID,
			})
		}
	}

	secondRaw, err := sender.awaitTag(ctx, "s1", handshakeTimeout)
	if err != nil {
		return nil, err
	}

	if status, ok := extractStatus(secondRaw); ok {
		if status != 200 {
			return nil, errStatus(status, secondRaw)
		}
	} else if challenge, ok := extractChallenge(secondRaw); ok {
		deps.setPhase(PhaseAwaitingChallengeAck{})
		if err := respondToChallenge(ctx, sender, auth, challenge); err != nil {
			return nil, err
		}
		secondRaw, err = sender.awaitTag(ctx, "s2", handshakeTimeout)
		if err != nil {
			return nil, err
		}
	}

	deps.setPhase(PhaseAwaitingValidation{})
	validationPayload, ok := extractValidationPayload(secondRaw)
	if !ok {
		return nil, errMalformed("expected validation payload")
	}

	return validateNewConnection(auth, curveKeys, validationPayload)
}

// respondToChallenge implements §4.4.1.
func respondToChallenge(ctx context.Context, sender frameSender, auth *AuthInfo, challengeB64 string) error {
	challenge, err := base64.StdEncoding.DecodeString(challengeB64)
	if err != nil {
		return errMalformed("challenge is not valid base64")
	}
	sig := HMACSHA256(challenge, auth.MacKey)
	msg := []interface{}{"admin", "challenge", base64.StdEncoding.EncodeToString(sig), auth.ServerToken, auth.ClientID}
	return sender.sendJSON(ctx, "s2", msg)
}

// validationPayload mirrors the fields this client reads off the
// server's validation frame (§4.4.2). Unknown fields are ignored.
type validationPayload struct {
	Connected   *bool       `json:"connected"`
	Secret      *string     `json:"secret"`
	Wid         string      `json:"wid"`
	Pushname    string      `json:"pushname"`
	Phone       interface{} `json:"phone"`
	ClientToken string      `json:"clientToken"`
	ServerToken string      `json:"serverToken"`
}

// validateNewConnection implements §4.4.2.
func validateNewConnection(auth *AuthInfo, curveKeys CurveKeys, raw interface{}) (*UserMetaData, error) {
	v, err := decodeValidationPayload(raw)
	if err != nil {
		return nil, err
	}
	if v.Connected == nil || !*v.Connected {
		return nil, errMalformed("validation payload missing connected:true")
	}

	if v.Secret == nil {
		return &UserMetaData{
			ID:    rewriteJID(v.Wid),
			Name:  v.Pushname,
			Phone: v.Phone,
		}, nil
	}

	secret, err := base64.StdEncoding.DecodeString(*v.Secret)
	if err != nil || len(secret) != 144 {
		return nil, errMalformed("secret must decode to exactly 144 bytes")
	}

	shared, err := SharedSecret(curveKeys.Private, secret[:32])
	if err != nil {
		return nil, errMalformed("curve25519 with server secret failed")
	}
	expanded, err := HKDF(shared, 80, nil)
	if err != nil {
		return nil, errMalformed("hkdf expansion failed")
	}

	hmacInput := append(append([]byte{}, secret[:32]...), secret[64:144]...)
	if !VerifyHMACSHA256(hmacInput, expanded[32:64], secret[32:64]) {
		return nil, ErrHmacMismatch
	}

	encryptedKeys := append(append([]byte{}, expanded[64:80]...), secret[64:144]...)
	keyMaterial, err := AESCBCDecrypt(encryptedKeys, expanded[0:32])
	if err != nil || len(keyMaterial) < 64 {
		return nil, errMalformed("key material decrypt failed")
	}

	auth.EncKey = append([]byte{}, keyMaterial[0:32]...)
	auth.MacKey = append([]byte{}, keyMaterial[32:64]...)
	auth.ClientToken = v.ClientToken
	auth.ServerToken = v.ServerToken

	return &UserMetaData{
		ID:    rewriteJID(v.Wid),
		Name:  v.Pushname,
		Phone: v.Phone,
	}, nil
}

func rewriteJID(wid string) string {
	return strings.Replace(wid, "@c.us", "@s.whatsapp.net", 1)
}

func decodeValidationPayload(raw interface{}) (*validationPayload, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, errMalformed("validation payload not json-representable")
	}
	var v validationPayload
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, errMalformed("validation payload malformed json")
	}
	return &v, nil
}

// extractStatus pulls a numeric "status" field out of a decoded
// handshake reply, which is always a JSON object or [_, object] array.
func extractStatus(raw interface{}) (int, bool) {
	obj := unwrapObject(raw)
	if obj == nil {
		return 0, false
	}
	v, ok := obj["status"]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	if !ok {
		return 0, false
	}
	return int(f), true
}

func extractRef(raw interface{}) (string, bool) {
	obj := unwrapObject(raw)
	if obj == nil {
		return "", false
	}
	ref, ok := obj["ref"].(string)
	return ref, ok
}

func extractChallenge(raw interface{}) (string, bool) {
	obj := unwrapObject(raw)
	if obj == nil {
		return "", false
	}
	ch, ok := obj["challenge"].(string)
	return ch, ok
}

// extractValidationPayload returns payload[1] from a [_, validation]
// array shape, per §4.4 step 4.
func extractValidationPayload(raw interface{}) (interface{}, bool) {
	arr, ok := raw.([]interface{})
	if !ok || len(arr) < 2 {
		return unwrapObject(raw), unwrapObject(raw) != nil
	}
	return arr[1], true
}

// unwrapObject handles both a bare JSON object and a [_, object] array,
// which is how the reference front-end shapes handshake replies.
func unwrapObject(raw interface{}) map[string]interface{} {
	switch t := raw.(type) {
	case map[string]interface{}:
		return t
	case []interface{}:
		if len(t) >= 2 {
			if obj, ok := t[1].(map[string]interface{}); ok {
				return obj
			}
		}
	}
	return nil
}

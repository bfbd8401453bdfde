package client

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/nullpointer-dev/wasession-go/internal/core"
)

// CredentialStore is the persistence adapter spec.md's §6 names
// (credentials.loadFromBase64 / saveToBase64), realized here as a
// filesystem-backed store keyed by session ID.
type CredentialStore interface {
	LoadFromBase64(sessionID string) (*core.AuthInfo, error)
	SaveToBase64(sessionID string, auth *core.AuthInfo) (string, error)
}

// FileCredentialStore persists AuthInfo as base64-encoded JSON under
// <dataDir>/<sessionID>/creds.json, following the teacher's existing
// creds.json file layout.
type FileCredentialStore struct {
	dataDir string
}

func NewFileCredentialStore(dataDir string) *FileCredentialStore {
	return &FileCredentialStore{dataDir: dataDir}
}

type storedAuth struct {
	ClientID    string `json:"clientId"`
	ClientToken string `json:"clientToken,omitempty"`
	ServerToken string `json:"serverToken,omitempty"`
	EncKey      string `json:"encKey,omitempty"` // base64
	MacKey      string `json:"macKey,omitempty"` // base64
}

func (f *FileCredentialStore) credsPath(sessionID string) string {
	return filepath.Join(f.dataDir, sessionID, "creds.json")
}

// LoadFromBase64 reads and decodes a session's persisted AuthInfo. A
// missing file is not an error — it simply means the session is fresh.
func (f *FileCredentialStore) LoadFromBase64(sessionID string) (*core.AuthInfo, error) {
	data, err := os.ReadFile(f.credsPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return &core.AuthInfo{}, nil
		}
		return nil, err
	}

	raw, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, err
	}
	var s storedAuth
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}

	auth := &core.AuthInfo{
		ClientID:    s.ClientID,
		ClientToken: s.ClientToken,
		ServerToken: s.ServerToken,
	}
	if s.EncKey != "" {
		if auth.EncKey, err = base64.StdEncoding.DecodeString(s.EncKey); err != nil {
			return nil, err
		}
	}
	if s.MacKey != "" {
		if auth.MacKey, err = base64.StdEncoding.DecodeString(s.MacKey); err != nil {
			return nil, err
		}
	}
	return auth, nil
}

// SaveToBase64 persists auth and returns the base64 blob it wrote.
func (f *FileCredentialStore) SaveToBase64(sessionID string, auth *core.AuthInfo) (string, error) {
	s := storedAuth{
		ClientID:    auth.ClientID,
		ClientToken: auth.ClientToken,
		ServerToken: auth.ServerToken,
	}
	if auth.EncKey != nil {
		s.EncKey = base64.StdEncoding.EncodeToString(auth.EncKey)
	}
	if auth.MacKey != nil {
		s.MacKey = base64.StdEncoding.EncodeToString(auth.MacKey)
	}

	raw, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	encoded := base64.StdEncoding.EncodeToString(raw)

	path := f.credsPath(sessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(encoded), 0600); err != nil {
		return "", err
	}
	return encoded, nil
}

// HasCredentials reports whether a session has a persisted creds.json.
func (f *FileCredentialStore) HasCredentials(sessionID string) bool {
	_, err := os.Stat(f.credsPath(sessionID))
	return err == nil
}

// Remove deletes a session's persisted data directory.
func (f *FileCredentialStore) Remove(sessionID string) error {
	return os.RemoveAll(filepath.Join(f.dataDir, sessionID))
}

package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeys() (encKey, macKey []byte) {
	encKey = make([]byte, 32)
	macKey = make([]byte, 32)
	for i := range encKey {
		encKey[i] = byte(i)
		macKey[i] = byte(i + 1)
	}
	return
}

func TestEncryptDecryptFrameRoundTrip(t *testing.T) {
	encKey, macKey := testKeys()
	node := &BinaryNode{Tag: "response", Attrs: map[string]string{"type": "chat"}, AttrOrder: []string{"type"}}
	payload := EncodeBinaryNode(node)

	frame, err := EncryptFrame("1.--1", payload, encKey, macKey)
	require.NoError(t, err)

	decoded, err := DecryptFrame(frame, macKey, encKey, TagDictionaryCodec{})
	require.NoError(t, err)
	assert.Equal(t, "1.--1", decoded.Tag)
	require.NotNil(t, decoded.Node)
	assert.Equal(t, "response", decoded.Node.Tag)
	assert.Nil(t, decoded.Raw)
}

func TestDecryptFramePlaintextJSON(t *testing.T) {
	frame := []byte(`s1,{"status":200}`)
	decoded, err := DecryptFrame(frame, nil, nil, TagDictionaryCodec{})
	require.NoError(t, err)
	assert.Equal(t, "s1", decoded.Tag)
	assert.Equal(t, []byte(`{"status":200}`), decoded.Raw)
	assert.Nil(t, decoded.Node)
}

func TestDecryptFrameRejectsTamperedHMAC(t *testing.T) {
	encKey, macKey := testKeys()
	payload := EncodeBinaryNode(&BinaryNode{Tag: "ack"})
	frame, err := EncryptFrame("s2", payload, encKey, macKey)
	require.NoError(t, err)

	frame[len(frame)-1] ^= 0xff
	_, err = DecryptFrame(frame, macKey, encKey, TagDictionaryCodec{})
	assert.ErrorIs(t, err, ErrHmacMismatch)
}

func TestDecryptFrameMissingDelimiter(t *testing.T) {
	_, err := DecryptFrame([]byte("no-delimiter-here"), nil, nil, TagDictionaryCodec{})
	assert.Error(t, err)
}

func TestIsHeartbeatFrame(t *testing.T) {
	ms, ok := IsHeartbeatFrame([]byte("!1700000000000"))
	assert.True(t, ok)
	assert.Equal(t, int64(1700000000000), ms)

	_, ok = IsHeartbeatFrame([]byte("s1,{}"))
	assert.False(t, ok)
}

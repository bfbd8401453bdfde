package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBinaryNodeRoundTrip(t *testing.T) {
	node := &BinaryNode{
		Tag:       "action",
		Attrs:     map[string]string{"add": "last", "type": "chat"},
		AttrOrder: []string{"add", "type"},
		Content: []*BinaryNode{
			{Tag: "chat", Attrs: map[string]string{"jid": "123@s.whatsapp.net"}, AttrOrder: []string{"jid"}},
		},
	}

	encoded := EncodeBinaryNode(node)
	decoded, err := DecodeBinaryNode(encoded)
	require.NoError(t, err)

	assert.Equal(t, node.Tag, decoded.Tag)
	assert.Equal(t, node.Attrs, decoded.Attrs)
	assert.Equal(t, node.AttrOrder, decoded.AttrOrder)
	assert.Equal(t, "chat", decoded.FirstChildTag())
}

func TestBinaryNodeChildrenOnLeaf(t *testing.T) {
	node := &BinaryNode{Tag: "text", Content: []byte("hello")}
	assert.Nil(t, node.Children())
	assert.Equal(t, "", node.FirstChildTag())
}

func TestTagDictionaryCodecDelegates(t *testing.T) {
	codec := TagDictionaryCodec{}
	node := &BinaryNode{Tag: "ack", Attrs: map[string]string{"id": "1"}, AttrOrder: []string{"id"}}

	encoded := codec.Encode(node)
	decoded, err := codec.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, "ack", decoded.Tag)
}

func TestDecodeBinaryNodePreservesAttrOrder(t *testing.T) {
	node := &BinaryNode{
		Tag:       "response",
		Attrs:     map[string]string{"type": "contacts", "count": "5"},
		AttrOrder: []string{"count", "type"},
	}
	decoded, err := DecodeBinaryNode(EncodeBinaryNode(node))
	require.NoError(t, err)
	assert.Equal(t, []string{"count", "type"}, decoded.AttrOrder)
}

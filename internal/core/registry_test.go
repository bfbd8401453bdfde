package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryAwaitTagDelivery(t *testing.T) {
	r := NewRegistry()
	done := make(chan struct{})
	var got interface{}

	go func() {
		v, err := r.AwaitTag(context.Background(), "s1", time.Second)
		require.NoError(t, err)
		got = v
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	r.Dispatch("s1", map[string]interface{}{"status": float64(200)}, nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("await never delivered")
	}
	assert.Equal(t, map[string]interface{}{"status": float64(200)}, got)
}

func TestRegistryAwaitTagTimeout(t *testing.T) {
	r := NewRegistry()
	_, err := r.AwaitTag(context.Background(), "never", 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestRegistryAwaitTagCancellation(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.AwaitTag(ctx, "s1", time.Second)
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestRegistryExactTagDeliveredOnce(t *testing.T) {
	r := NewRegistry()
	calls := 0
	r.RegisterHandler(HandlerPath{Function: "action"}, func(payload interface{}) { calls++ })

	go r.AwaitTag(context.Background(), "s1", time.Second)
	time.Sleep(10 * time.Millisecond)

	r.Dispatch("s1", &BinaryNode{Tag: "action"}, nil)
	assert.Equal(t, 0, calls, "exact-tag match must short-circuit structural dispatch")
}

func TestRegistryStructuralDispatchByAttrValue(t *testing.T) {
	r := NewRegistry()
	var fired string
	r.RegisterHandler(HandlerPath{Function: "action", AttrKey: "add", AttrVal: "last"}, func(payload interface{}) {
		fired = "last"
	})
	r.RegisterHandler(HandlerPath{Function: "action", AttrKey: "add"}, func(payload interface{}) {
		fired = "generic-add"
	})

	node := &BinaryNode{Tag: "action", Attrs: map[string]string{"add": "last"}, AttrOrder: []string{"add"}}
	r.Dispatch(node.Tag, node, nil)
	assert.Equal(t, "last", fired)
}

func TestRegistryStructuralDispatchFallsBackToGenericKey(t *testing.T) {
	r := NewRegistry()
	var fired string
	r.RegisterHandler(HandlerPath{Function: "action", AttrKey: "add"}, func(payload interface{}) {
		fired = "generic-add"
	})

	node := &BinaryNode{Tag: "action", Attrs: map[string]string{"add": "before"}, AttrOrder: []string{"add"}}
	r.Dispatch(node.Tag, node, nil)
	assert.Equal(t, "generic-add", fired)
}

func TestRegistryStructuralDispatchByChildTag(t *testing.T) {
	r := NewRegistry()
	var fired bool
	path := HandlerPath{Function: "response", AttrKey: "type", AttrVal: "chat", ChildTag: "chat"}
	r.RegisterHandler(path, func(payload interface{}) { fired = true })

	node := &BinaryNode{
		Tag:       "response",
		Attrs:     map[string]string{"type": "chat"},
		AttrOrder: []string{"type"},
		Content:   []*BinaryNode{{Tag: "chat"}},
	}
	r.Dispatch(node.Tag, node, nil)
	assert.True(t, fired)
}

func TestRegistryUnhandledFallback(t *testing.T) {
	r := NewRegistry()
	var unhandled bool
	r.Dispatch("unknown", &BinaryNode{Tag: "unknown"}, func(payload interface{}) { unhandled = true })
	assert.True(t, unhandled)
}

func TestRegistryDeregisterHandler(t *testing.T) {
	r := NewRegistry()
	path := HandlerPath{Function: "action", AttrKey: "add", AttrVal: "last"}
	called := false
	r.RegisterHandler(path, func(payload interface{}) { called = true })
	r.DeregisterHandler(path)

	node := &BinaryNode{Tag: "action", Attrs: map[string]string{"add": "last"}, AttrOrder: []string{"add"}}
	r.Dispatch(node.Tag, node, nil)
	assert.False(t, called)
}

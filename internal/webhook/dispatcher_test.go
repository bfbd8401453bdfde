package webhook

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDispatcherRegisterAndList(t *testing.T) {
	d := NewDispatcher(zap.NewNop().Sugar())

	wh, err := d.Register("https://example.com/hook", []string{EventSessionConnected}, "shh")
	require.NoError(t, err)
	assert.NotEmpty(t, wh.ID)

	list := d.List()
	require.Len(t, list, 1)
	assert.Equal(t, "***", list[0].Secret)
}

func TestDispatcherUnregisterMissing(t *testing.T) {
	d := NewDispatcher(zap.NewNop().Sugar())
	err := d.Unregister("does-not-exist")
	assert.ErrorIs(t, err, ErrWebhookNotFound)
}

func TestDispatcherDeliversMatchingEvent(t *testing.T) {
	var mu sync.Mutex
	var received Event

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		json.NewDecoder(r.Body).Decode(&received)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewDispatcher(zap.NewNop().Sugar())
	_, err := d.Register(server.URL, []string{EventSessionQRReady}, "")
	require.NoError(t, err)

	d.Dispatch(EventSessionQRReady, map[string]interface{}{"sessionId": "s1"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return received.Type == EventSessionQRReady
	}, time.Second, 10*time.Millisecond)
}

func TestDispatcherSkipsNonMatchingEvent(t *testing.T) {
	hit := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewDispatcher(zap.NewNop().Sugar())
	_, err := d.Register(server.URL, []string{EventMessageSent}, "")
	require.NoError(t, err)

	d.Dispatch(EventSessionConnected, map[string]interface{}{})
	time.Sleep(50 * time.Millisecond)
	assert.False(t, hit)
}

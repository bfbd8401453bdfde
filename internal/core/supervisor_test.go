package core

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport is an in-process wireTransport double: writes from the
// Supervisor land on outbound, and scriptedReplies lets a test push
// frames back in on Read.
type fakeTransport struct {
	outbound chan []byte
	inbound  chan []byte
	closed   chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		outbound: make(chan []byte, 16),
		inbound:  make(chan []byte, 16),
		closed:   make(chan struct{}),
	}
}

func (f *fakeTransport) Write(ctx context.Context, data []byte) error {
	select {
	case f.outbound <- append([]byte{}, data...):
		return nil
	case <-f.closed:
		return errTransportClosed("closed")
	}
}

func (f *fakeTransport) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-f.inbound:
		return data, nil
	case <-f.closed:
		return nil, errTransportClosed("closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) Close(reason string) error {
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	return nil
}

// fakeInitReply answers the "admin init" handshake with a fixed ref.
func fakeInitReply(tag, ref string) []byte {
	body, _ := json.Marshal(map[string]interface{}{"status": 200, "ref": ref})
	return append([]byte(tag+","), body...)
}

func TestSupervisorConnectSlimFreshSessionReachesQR(t *testing.T) {
	trans := newFakeTransport()
	var qrRef string
	qrReceived := make(chan struct{})

	sup := NewSupervisor(SupervisorConfig{
		Dialer: func(ctx context.Context) (wireTransport, error) { return trans, nil },
		OnReadyForPhoneAuth: func(qr QRPayload) {
			qrRef = qr.Ref
			close(qrReceived)
		},
	})

	go func() {
		sup.ConnectSlim(context.Background(), &AuthInfo{}, 2*time.Second)
	}()

	var initMsg []byte
	select {
	case initMsg = <-trans.outbound:
	case <-time.After(time.Second):
		t.Fatal("supervisor never sent init frame")
	}

	tag, _, ok := splitTagBody(initMsg)
	require.True(t, ok)
	trans.inbound <- fakeInitReply(tag, "ref-xyz")

	select {
	case <-qrReceived:
	case <-time.After(time.Second):
		t.Fatal("QR callback never fired")
	}
	assert.Equal(t, "ref-xyz", qrRef)

	_, ok = sup.Phase().(PhaseAwaitingQRScan)
	assert.True(t, ok)

	sup.Close()
}

func TestSupervisorRefusesWhenAlreadyLive(t *testing.T) {
	sup := NewSupervisor(SupervisorConfig{})
	sup.setPhase(PhaseLive{Since: time.Now()})

	_, err := sup.ConnectSlim(context.Background(), &AuthInfo{}, time.Second)
	assert.ErrorIs(t, err, ErrAlreadyConnected)
}

func TestSupervisorNextTagIsUnique(t *testing.T) {
	sup := NewSupervisor(SupervisorConfig{})
	a := sup.nextTag()
	b := sup.nextTag()
	assert.NotEqual(t, a, b)
}

func TestChatUnreadCountClampsNegativeAndInvalid(t *testing.T) {
	assert.Equal(t, 0, chatUnreadCount(&BinaryNode{Attrs: map[string]string{"count": "-3"}}))
	assert.Equal(t, 0, chatUnreadCount(&BinaryNode{Attrs: map[string]string{"count": "not-a-number"}}))
	assert.Equal(t, 5, chatUnreadCount(&BinaryNode{Attrs: map[string]string{"count": "5"}}))
	assert.Equal(t, 0, chatUnreadCount(nil))
}

package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nullpointer-dev/wasession-go/internal/core"
	"github.com/nullpointer-dev/wasession-go/internal/webhook"
	"go.uber.org/zap"
)

// Session status constants
type SessionStatus string

const (
	StatusInitializing SessionStatus = "INITIALIZING"
	StatusConnecting   SessionStatus = "CONNECTING"
	StatusQRReady      SessionStatus = "QR_READY"
	StatusReady        SessionStatus = "READY"
	StatusDisconnected SessionStatus = "DISCONNECTED"
)

// Common errors
var (
	ErrSessionExists   = errors.New("session already exists")
	ErrSessionNotFound = errors.New("session not found")
	ErrNotConnected    = errors.New("not connected")
)

// WAClient represents a WhatsApp client session, driving a
// core.Supervisor through the legacy handshake and keep-alive lifecycle.
type WAClient struct {
	ID               string
	status           SessionStatus
	phoneNumber      string
	qrCode           string
	qrCodeBase64     string
	connectedAt      *time.Time
	lastActivityAt   time.Time
	messagesSent     int
	messagesReceived int

	mu         sync.RWMutex
	logger     *zap.SugaredLogger
	dataDir    string
	creds      CredentialStore
	dispatcher *webhook.Dispatcher

	sup       *core.Supervisor
	qrGen     *core.QRGenerator
	cancelCtx context.CancelFunc

	// Event handlers
	onQR      func(string)
	onReady   func()
	onMessage func(Message)
}

// Message represents a WhatsApp message
type Message struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	FromName  string    `json:"fromName"`
	To        string    `json:"to"`
	Text      string    `json:"text"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	IsFromMe  bool      `json:"isFromMe"`
}

// NewWAClient creates a new WhatsApp client
func NewWAClient(sessionID string, logger *zap.SugaredLogger, dataDir string) *WAClient {
	return &WAClient{
		ID:             sessionID,
		status:         StatusInitializing,
		lastActivityAt: time.Now(),
		logger:         logger,
		dataDir:        dataDir,
		creds:          NewFileCredentialStore(dataDir),
		qrGen:          core.NewQRGenerator(),
	}
}

// Connect establishes connection to WhatsApp, restoring persisted
// credentials when available and falling back to a fresh QR pairing.
func (c *WAClient) Connect() error {
	c.mu.Lock()
	c.status = StatusConnecting
	c.mu.Unlock()

	c.logger.Infof("Connecting session %s...", c.ID)

	auth, err := c.creds.LoadFromBase64(c.ID)
	if err != nil {
		c.logger.Warnf("failed to load credentials for %s: %v", c.ID, err)
		auth = &core.AuthInfo{}
	}

	c.sup = core.NewSupervisor(core.SupervisorConfig{
		Logger:        c.logger,
		AutoReconnect: true,
		OnReadyForPhoneAuth: func(qr core.QRPayload) {
			c.handleQR(qr)
		},
		OnUnexpectedDisconnect: func(err error) {
			c.mu.Lock()
			c.status = StatusDisconnected
			c.mu.Unlock()
			c.logger.Warnf("session %s disconnected: %v", c.ID, err)
			if c.dispatcher != nil {
				c.dispatcher.Dispatch(webhook.EventSessionDisconnected, map[string]interface{}{
					"sessionId": c.ID,
					"reason":    err.Error(),
				})
			}
		},
		OnReconnecting: func(attempt int) {
			c.mu.Lock()
			c.status = StatusConnecting
			c.mu.Unlock()
			if c.dispatcher != nil {
				c.dispatcher.Dispatch(webhook.EventSessionReconnecting, map[string]interface{}{
					"sessionId": c.ID,
					"attempt":   attempt,
				})
			}
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	c.cancelCtx = cancel

	go func() {
		user, chats, err := c.sup.Connect(ctx, auth, 60*time.Second)
		if err != nil {
			c.logger.Errorf("connection failed for %s: %v", c.ID, err)
			c.mu.Lock()
			c.status = StatusDisconnected
			c.mu.Unlock()
			if c.dispatcher != nil {
				c.dispatcher.Dispatch(authFailureEvent(err), map[string]interface{}{
					"sessionId": c.ID,
					"reason":    err.Error(),
				})
			}
			return
		}

		if _, err := c.creds.SaveToBase64(c.ID, auth); err != nil {
			c.logger.Warnf("failed to persist credentials for %s: %v", c.ID, err)
		}

		c.mu.Lock()
		now := time.Now()
		c.status = StatusReady
		c.connectedAt = &now
		c.lastActivityAt = now
		if user != nil {
			c.phoneNumber = formatPhone(user.Phone)
		}
		c.mu.Unlock()

		c.logger.Infof("Session %s connected!", c.ID)
		if c.dispatcher != nil {
			c.dispatcher.Dispatch(webhook.EventSessionConnected, map[string]interface{}{
				"sessionId":   c.ID,
				"phoneNumber": c.GetPhoneNumber(),
			})
			if chats != nil {
				c.dispatcher.Dispatch(webhook.EventChatsSynced, map[string]interface{}{
					"sessionId":      c.ID,
					"chats":          len(chats.Chats),
					"contacts":       len(chats.Contacts),
					"unreadMessages": len(chats.UnreadMessages),
				})
			}
		}
		if c.onReady != nil {
			c.onReady()
		}
	}()

	return nil
}

// authFailureEvent distinguishes the handshake's named auth failures
// (Unpaired/Denied) from a generic disconnect so subscribers can tell
// "the phone unlinked this session" apart from a transient drop.
func authFailureEvent(err error) string {
	var coreErr *core.Error
	if errors.As(err, &coreErr) {
		switch coreErr.Kind {
		case core.KindUnpaired, core.KindDenied:
			return webhook.EventSessionAuthFailed
		}
	}
	return webhook.EventSessionDisconnected
}

func (c *WAClient) handleQR(qr core.QRPayload) {
	data := core.QRString(qr)

	c.mu.Lock()
	c.status = StatusQRReady
	c.qrCode = data
	if b64, err := c.qrGen.GenerateBase64(data); err == nil {
		c.qrCodeBase64 = b64
	}
	c.lastActivityAt = time.Now()
	c.mu.Unlock()

	c.logger.Infof("QR code ready for session %s", c.ID)
	if c.dispatcher != nil {
		c.dispatcher.Dispatch(webhook.EventSessionQRReady, map[string]interface{}{
			"sessionId": c.ID,
			"qr":        data,
		})
	}
	if c.onQR != nil {
		c.onQR(data)
	}
}

func formatPhone(phone interface{}) string {
	if s, ok := phone.(string); ok {
		return s
	}
	return ""
}

// Disconnect closes the WhatsApp connection
func (c *WAClient) Disconnect() {
	c.mu.Lock()
	sup := c.sup
	cancel := c.cancelCtx
	c.status = StatusDisconnected
	c.qrCode = ""
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sup != nil {
		sup.Close()
	}
	if c.dispatcher != nil {
		c.dispatcher.Dispatch(webhook.EventSessionDisconnected, map[string]interface{}{
			"sessionId": c.ID,
			"reason":    "closed by caller",
		})
	}
	c.logger.Infof("Session %s disconnected", c.ID)
}

// GetStatus returns current session status
func (c *WAClient) GetStatus() SessionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// GetQRCode returns the current QR code payload string
// (ref,base64(pub),clientID) as sent to the phone's scanner.
func (c *WAClient) GetQRCode() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.qrCode
}

// GetQRCodeBase64 returns the QR code rendered as a base64 PNG, ready
// to embed directly in an <img> tag.
func (c *WAClient) GetQRCodeBase64() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.qrCodeBase64
}

// GetPhoneNumber returns the connected phone number
func (c *WAClient) GetPhoneNumber() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phoneNumber
}

// GetSession returns session info
func (c *WAClient) GetSession() SessionInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return SessionInfo{
		ID:               c.ID,
		Status:           c.status,
		PhoneNumber:      c.phoneNumber,
		ConnectedAt:      c.connectedAt,
		LastActivityAt:   c.lastActivityAt,
		MessagesSent:     c.messagesSent,
		MessagesReceived: c.messagesReceived,
	}
}

// SendText sends a text message
func (c *WAClient) SendText(to, text string) (*MessageResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != StatusReady {
		return nil, ErrNotConnected
	}

	// TODO: Implement actual message sending
	c.messagesSent++
	c.lastActivityAt = time.Now()

	return &MessageResult{
		MessageID: "MSG_" + time.Now().Format("20060102150405"),
		Timestamp: time.Now(),
	}, nil
}

// SessionInfo holds session information
type SessionInfo struct {
	ID               string        `json:"id"`
	Status           SessionStatus `json:"status"`
	PhoneNumber      string        `json:"phoneNumber,omitempty"`
	ConnectedAt      *time.Time    `json:"connectedAt,omitempty"`
	LastActivityAt   time.Time     `json:"lastActivityAt"`
	MessagesSent     int           `json:"messagesSent"`
	MessagesReceived int           `json:"messagesReceived"`
}

// MessageResult holds the result of sending a message
type MessageResult struct {
	MessageID string    `json:"messageId"`
	Timestamp time.Time `json:"timestamp"`
}

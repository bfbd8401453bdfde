// WASession Go - WhatsApp Session Gateway
// Copyright (c) 2026 Nullpointer Dev
// Licensed under MIT License
// https://github.com/nullpointer-dev/wasession-go

package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// WhatsApp Web session endpoint, per §6.
const (
	WAWebSocketURL = "wss://web.whatsapp.com/ws"
	WAOrigin       = "https://web.whatsapp.com"
)

const (
	keepAliveInterval = 20 * time.Second
	keepAliveStale    = 25 * time.Second
	reconnectCeiling  = 30 * time.Second
)

// wireTransport is the minimal socket surface the Supervisor drives,
// narrowed from *websocket.Conn so tests can substitute an in-process
// double (per SPEC_FULL §2 test tooling).
type wireTransport interface {
	Write(ctx context.Context, data []byte) error
	Read(ctx context.Context) ([]byte, error)
	Close(reason string) error
}

// wsTransport adapts nhooyr.io/websocket to wireTransport.
type wsTransport struct{ conn *websocket.Conn }

func (w *wsTransport) Write(ctx context.Context, data []byte) error {
	return w.conn.Write(ctx, websocket.MessageText, data)
}

func (w *wsTransport) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.conn.Read(ctx)
	return data, err
}

func (w *wsTransport) Close(reason string) error {
	return w.conn.Close(websocket.StatusNormalClosure, reason)
}

// Dialer opens the wireTransport; production code uses dialWebSocket,
// tests inject a fake.
type Dialer func(ctx context.Context) (wireTransport, error)

func dialWebSocket(ctx context.Context) (wireTransport, error) {
	conn, _, err := websocket.Dial(ctx, WAWebSocketURL, &websocket.DialOptions{
		HTTPHeader: map[string][]string{"Origin": {WAOrigin}},
	})
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return &wsTransport{conn: conn}, nil
}

// SupervisorConfig configures a Supervisor instance.
type SupervisorConfig struct {
	Dialer                 Dialer
	Decoder                BinaryDecoder
	Logger                 *zap.SugaredLogger
	Version                []interface{}
	BrowserDescription     []interface{}
	AutoReconnect          bool
	OnReadyForPhoneAuth    func(QRPayload)
	OnUnexpectedDisconnect func(error)
	OnReconnecting         func(attempt int)
}

// Supervisor is the Connection Supervisor of §4.5: it owns the
// WebSocket, routes inbound frames between the liveness sentinel and
// the Frame Codec, invokes the Correlation Registry, runs the
// keep-alive ticker, and drives reconnection.
type Supervisor struct {
	cfg      SupervisorConfig
	log      *zap.SugaredLogger
	registry *Registry

	mu       sync.Mutex
	phase    Phase
	auth     *AuthInfo
	trans    wireTransport
	lastSeen time.Time
	cancel   context.CancelFunc

	tagCounter int64
}

// NewSupervisor constructs a Supervisor. cfg.Decoder defaults to
// TagDictionaryCodec{} when nil.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.Dialer == nil {
		cfg.Dialer = dialWebSocket
	}
	if cfg.Decoder == nil {
		cfg.Decoder = TagDictionaryCodec{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.Version == nil {
		cfg.Version = []interface{}{2, 2147, 10}
	}
	if cfg.BrowserDescription == nil {
		cfg.BrowserDescription = []interface{}{"WASession", "Chrome", "1.0"}
	}
	return &Supervisor{
		cfg:      cfg,
		log:      cfg.Logger,
		registry: NewRegistry(),
		phase:    PhaseDisconnected{},
	}
}

func (s *Supervisor) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

// Phase returns the current SessionPhase.
func (s *Supervisor) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Supervisor) nextTag() string {
	n := atomic.AddInt64(&s.tagCounter, 1)
	return fmt.Sprintf("%d.--%d", time.Now().UnixMilli(), n)
}

// ConnectSlim implements §4.5: opens the socket, runs the handshake,
// and on success starts the keep-alive ticker and returns the
// identity. It refuses if a connection is already live.
func (s *Supervisor) ConnectSlim(ctx context.Context, auth *AuthInfo, timeout time.Duration) (*UserMetaData, error) {
	if _, ok := s.Phase().(PhaseLive); ok {
		return nil, ErrAlreadyConnected
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	s.setPhase(PhaseOpening{})
	trans, err := s.cfg.Dialer(ctx)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.trans = trans
	s.auth = auth
	s.cancel = cancel
	s.lastSeen = time.Now()
	s.mu.Unlock()

	go s.readLoop(runCtx, trans)

	deps := handshakeDeps{
		version:             s.cfg.Version,
		browserDescription:  s.cfg.BrowserDescription,
		onReadyForPhoneAuth: s.cfg.OnReadyForPhoneAuth,
		setPhase:            s.setPhase,
		nextTag:             s.nextTag,
	}

	user, err := authenticate(ctx, s, auth, deps)
	if err != nil {
		cancel()
		trans.Close("handshake failed")
		s.setPhase(PhaseDisconnected{})
		return nil, err
	}

	s.setPhase(PhaseLive{Since: time.Now()})
	go s.keepAliveLoop(runCtx)

	return user, nil
}

// Connect composes ConnectSlim with receiveChatsAndContacts (§4.5).
func (s *Supervisor) Connect(ctx context.Context, auth *AuthInfo, timeout time.Duration) (*UserMetaData, *ChatsAndContacts, error) {
	user, err := s.ConnectSlim(ctx, auth, timeout)
	if err != nil {
		return nil, nil, err
	}
	data, err := s.receiveChatsAndContacts(ctx)
	if err != nil {
		return user, nil, err
	}
	return user, data, nil
}

// sendJSON implements frameSender: plaintext JSON-array handshake frames.
func (s *Supervisor) sendJSON(ctx context.Context, tag string, msg []interface{}) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	frame := append([]byte(tag+","), body...)
	return s.write(ctx, frame)
}

// awaitTag implements frameSender. Handshake replies are delivered
// already unmarshaled (see handleFrame), so no further decoding is
// needed here.
func (s *Supervisor) awaitTag(ctx context.Context, tag string, timeout time.Duration) (interface{}, error) {
	return s.registry.AwaitTag(ctx, tag, timeout)
}

func (s *Supervisor) write(ctx context.Context, data []byte) error {
	s.mu.Lock()
	trans := s.trans
	s.mu.Unlock()
	if trans == nil {
		return errTransportClosed("not connected")
	}
	return trans.Write(ctx, data)
}

// readLoop pulls frames off the transport and routes them (§4.5):
// heartbeat replies update lastSeen; everything else goes through the
// Frame Codec (once keys exist) and into the Correlation Registry.
func (s *Supervisor) readLoop(ctx context.Context, trans wireTransport) {
	for {
		data, err := trans.Read(ctx)
		if err != nil {
			s.handleTransportClosed(err)
			return
		}
		s.handleFrame(data)
	}
}

func (s *Supervisor) handleFrame(data []byte) {
	if ms, ok := IsHeartbeatFrame(data); ok {
		s.mu.Lock()
		s.lastSeen = time.Unix(0, ms*int64(time.Millisecond))
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	auth := s.auth
	s.mu.Unlock()

	if auth == nil || !auth.Restorable() {
		// Pre-validation: frames are plaintext "tag,json" (§4.4).
		tag, body, ok := splitTagBody(data)
		if !ok {
			s.log.Warnw("dropping frame without tag delimiter")
			return
		}
		s.deliverRaw(tag, body)
		return
	}

	df, err := DecryptFrame(data, auth.MacKey, auth.EncKey, s.cfg.Decoder)
	if err != nil {
		s.log.Warnw("dropping undecodable frame", "error", err)
		return
	}
	if df.Raw != nil {
		s.deliverRaw(df.Tag, df.Raw)
		return
	}
	s.registry.Dispatch(df.Tag, df.Node, func(payload interface{}) {
		s.log.Debugw("unhandled frame", "tag", df.Tag)
	})
}

// deliverRaw unmarshals a plaintext JSON frame body and dispatches it
// by tag. Plaintext frames never carry a BinaryNode shape, so only
// exact-tag correlation (never structural matching) applies to them.
func (s *Supervisor) deliverRaw(tag string, body []byte) {
	var v interface{}
	if err := json.Unmarshal(body, &v); err != nil {
		s.log.Warnw("dropping non-json plaintext frame", "tag", tag, "error", err)
		return
	}
	s.registry.Dispatch(tag, v, func(payload interface{}) {
		s.log.Debugw("unhandled plaintext frame", "tag", tag)
	})
}

func (s *Supervisor) handleTransportClosed(err error) {
	wasLive := false
	s.mu.Lock()
	if _, ok := s.phase.(PhaseLive); ok {
		wasLive = true
	}
	s.trans = nil
	s.mu.Unlock()

	if !wasLive {
		return // handshake-phase closes surface through the pending await
	}

	s.setPhase(PhaseDisconnected{})
	if s.cfg.AutoReconnect {
		go s.reconnectLoop()
		return
	}
	if s.cfg.OnUnexpectedDisconnect != nil {
		s.cfg.OnUnexpectedDisconnect(errTransportClosed(err.Error()))
	}
}

// keepAliveLoop implements §4.5's liveness subsystem: every 20s, if
// the server hasn't been heard from in 25s, the connection is
// considered lost.
func (s *Supervisor) keepAliveLoop(ctx context.Context) {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			stale := time.Since(s.lastSeen) > keepAliveStale
			trans := s.trans
			s.mu.Unlock()

			if stale {
				if trans != nil {
					trans.Close("lost connection")
				}
				s.handleTransportClosed(errTransportClosed("lost connection"))
				return
			}

			_ = s.write(ctx, []byte("?,,"))
		}
	}
}

// reconnectLoop implements §4.5/§9: indefinite retries with capped
// exponential backoff (see DESIGN.md's Open Question decision).
func (s *Supervisor) reconnectLoop() {
	attempt := 0
	for {
		attempt++
		s.setPhase(PhaseReconnecting{Attempt: attempt})
		if s.cfg.OnReconnecting != nil {
			s.cfg.OnReconnecting(attempt)
		}

		auth := &AuthInfo{}
		s.mu.Lock()
		if s.auth != nil {
			auth = s.auth
		}
		s.mu.Unlock()

		_, _, err := s.Connect(context.Background(), auth, 25*time.Second)
		if err == nil {
			return
		}
		s.log.Warnw("reconnect attempt failed", "attempt", attempt, "error", err)

		backoff := time.Duration(1<<uint(min(attempt, 5))) * time.Second
		if backoff > reconnectCeiling {
			backoff = reconnectCeiling
		}
		time.Sleep(backoff)
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Close implements cancellation (§5): closes the socket and drains
// pending awaits with Cancelled.
func (s *Supervisor) Close() {
	s.mu.Lock()
	cancel := s.cancel
	trans := s.trans
	s.trans = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if trans != nil {
		trans.Close("closing")
	}
	s.setPhase(PhaseDisconnected{})
}

// ChatsAndContacts is the result of receiveChatsAndContacts.
type ChatsAndContacts struct {
	Chats           []*BinaryNode
	Contacts        []*BinaryNode
	UnreadMessages  []*BinaryNode
}

// receiveChatsAndContacts implements §4.5's post-validation data load.
// The initial chats snapshot arrives via the one-shot ("response",
// "type:chat") path, one unread budget per chat; incremental
// "action","add:before"/"add:unread" pushes are forwarded into
// UnreadMessages until that chat's budget is spent, and
// "action","add:last" marks the incremental stream's end. Completion
// requires both the contacts snapshot and a last==true chat update,
// in either order; the three persistent handlers are deregistered
// once both have arrived.
func (s *Supervisor) receiveChatsAndContacts(ctx context.Context) (*ChatsAndContacts, error) {
	result := &ChatsAndContacts{}
	var mu sync.Mutex
	unreadBudget := 0
	lastSeen := false
	contactsSeen := false
	done := make(chan struct{})
	var closeOnce sync.Once

	maybeComplete := func() {
		mu.Lock()
		complete := lastSeen && contactsSeen
		mu.Unlock()
		if complete {
			closeOnce.Do(func() { close(done) })
		}
	}

	pathLast := HandlerPath{Function: "action", AttrKey: "add", AttrVal: "last"}
	pathBefore := HandlerPath{Function: "action", AttrKey: "add", AttrVal: "before"}
	pathUnread := HandlerPath{Function: "action", AttrKey: "add", AttrVal: "unread"}

	forward := func(payload interface{}) {
		node, _ := payload.(*BinaryNode)
		mu.Lock()
		if unreadBudget > 0 {
			unreadBudget--
			result.UnreadMessages = append(result.UnreadMessages, node)
		}
		mu.Unlock()
	}
	s.registry.RegisterHandler(pathBefore, forward)
	s.registry.RegisterHandler(pathUnread, forward)
	s.registry.RegisterHandler(pathLast, func(payload interface{}) {
		forward(payload)
		mu.Lock()
		lastSeen = true
		mu.Unlock()
		maybeComplete()
	})
	defer s.registry.DeregisterHandler(pathLast)
	defer s.registry.DeregisterHandler(pathBefore)
	defer s.registry.DeregisterHandler(pathUnread)

	chatsPayload, err := s.awaitResponseType(ctx, "chat")
	if err != nil {
		return nil, err
	}
	if node, ok := chatsPayload.(*BinaryNode); ok {
		chats := node.Children()
		mu.Lock()
		result.Chats = chats
		for _, chat := range chats {
			unreadBudget += chatUnreadCount(chat)
		}
		mu.Unlock()
	}

	contactsPayload, err := s.awaitResponseType(ctx, "contacts")
	if err != nil {
		return nil, err
	}
	if node, ok := contactsPayload.(*BinaryNode); ok {
		result.Contacts = node.Children()
	}
	mu.Lock()
	contactsSeen = true
	mu.Unlock()
	maybeComplete()

	select {
	case <-done:
	case <-ctx.Done():
		return nil, ErrCancelled
	}

	return result, nil
}

// awaitResponseType awaits the one-shot ("response","type:<kind>")
// structural path by installing a temporary handler, since the
// Registry's one-shot path is tag-keyed rather than structural.
func (s *Supervisor) awaitResponseType(ctx context.Context, kind string) (interface{}, error) {
	path := HandlerPath{Function: "response", AttrKey: "type", AttrVal: kind}
	ch := make(chan interface{}, 1)
	s.registry.RegisterHandler(path, func(payload interface{}) {
		select {
		case ch <- payload:
		default:
		}
	})
	defer s.registry.DeregisterHandler(path)

	select {
	case payload := <-ch:
		return payload, nil
	case <-ctx.Done():
		return nil, ErrCancelled
	}
}

// chatUnreadCount parses a chat node's "count" attribute per §4.5 and
// the Open Question decision in DESIGN.md: negative or unparseable
// values clamp to zero rather than propagating an error.
func chatUnreadCount(node *BinaryNode) int {
	if node == nil {
		return 0
	}
	raw, ok := node.Attrs["count"]
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

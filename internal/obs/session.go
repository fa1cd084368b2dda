package obs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/obsmix/obs-midi-mixer/internal/config"
	"github.com/obsmix/obs-midi-mixer/internal/events"
)

// State is the connection lifecycle state of the session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingHello
	StateAwaitingIdentify
	StateIdentified
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingHello:
		return "awaiting-hello"
	case StateAwaitingIdentify:
		return "awaiting-identify"
	case StateIdentified:
		return "identified"
	}
	return "unknown"
}

var (
	// ErrNotReady is returned for requests issued before the session is
	// identified.
	ErrNotReady = errors.New("session not identified")
	// ErrCancelled rejects pending requests invalidated by an explicit
	// disconnect.
	ErrCancelled = errors.New("request cancelled")
	// ErrRequestTimeout rejects a single request whose response never came.
	ErrRequestTimeout = errors.New("request timed out")
	// ErrHandshakeTimeout reports that identification did not complete in time.
	ErrHandshakeTimeout = errors.New("handshake timed out")
)

// RequestError is a rejection reported by the remote end.
type RequestError struct {
	Code    int
	Comment string
}

func (e *RequestError) Error() string {
	if e.Comment != "" {
		return fmt.Sprintf("request failed (code %d): %s", e.Code, e.Comment)
	}
	return fmt.Sprintf("request failed (code %d)", e.Code)
}

const (
	handshakeTimeout      = 15 * time.Second
	defaultRequestTimeout = 10 * time.Second
	healthInterval        = 10 * time.Second
	healthMissedLimit     = 3
	reconnectBase         = time.Second
	reconnectCap          = 30 * time.Second
	maxReconnectAttempts  = 5
)

type callResult struct {
	data json.RawMessage
	err  error
}

type pendingRequest struct {
	ch      chan callResult
	created time.Time
}

// conn is one transport connection. The uuid generation token lets handlers
// that outlive their connection be discarded instead of corrupting the state
// of a newer one.
type conn struct {
	id         uuid.UUID
	ws         *websocket.Conn
	identified chan struct{}
	done       chan struct{}
	err        error
}

// Session manages exactly one logical connection to the remote mixing
// application's control socket.
type Session struct {
	logger *zap.SugaredLogger
	bus    *events.Bus
	cfg    *config.Store

	requestTimeout  time.Duration
	handshakeWindow time.Duration

	writeMu sync.Mutex

	mu                sync.Mutex
	state             State
	cur               *conn
	url               string
	password          string
	explicit          bool
	nextID            uint64
	pending           map[string]*pendingRequest
	reconnectTimer    *time.Timer
	reconnectAttempts int
	healthStop        chan struct{}
	lastMessage       time.Time
	missed            int
}

// NewSession creates a disconnected session.
func NewSession(cfg *config.Store, bus *events.Bus, logger *zap.SugaredLogger) *Session {
	return &Session{
		logger:          logger.Named("obs"),
		bus:             bus,
		cfg:             cfg,
		requestTimeout:  defaultRequestTimeout,
		handshakeWindow: handshakeTimeout,
		pending:         make(map[string]*pendingRequest),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ready reports whether the session is identified and may issue requests.
func (s *Session) Ready() bool {
	return s.State() == StateIdentified
}

// Connect opens the control connection and blocks until the session is
// identified, the handshake window elapses, or the transport fails. Calling
// it while connected or connecting is a no-op.
func (s *Session) Connect(url, password string) error {
	return s.connect(url, password, false)
}

func (s *Session) connect(url, password string, fromReconnect bool) error {
	s.mu.Lock()
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return nil
	}
	if !fromReconnect {
		// An explicit connect starts a fresh retry budget.
		s.reconnectAttempts = 0
		if s.reconnectTimer != nil {
			s.reconnectTimer.Stop()
			s.reconnectTimer = nil
		}
	}
	s.state = StateConnecting
	s.url = url
	s.password = password
	s.explicit = false
	s.mu.Unlock()

	s.bus.Publish(events.Connecting{URL: url})
	s.logger.Infow("connecting", "url", url)

	dialer := websocket.Dialer{HandshakeTimeout: s.handshakeWindow}
	ws, _, err := dialer.Dial(url, nil)
	if err != nil {
		s.mu.Lock()
		s.state = StateDisconnected
		s.mu.Unlock()
		s.logger.Warnw("dial failed", "url", url, "error", err)
		s.bus.Publish(events.ConnectionError{Err: err})
		s.bus.Publish(events.Disconnected{Reason: err.Error()})
		s.scheduleReconnect()
		return fmt.Errorf("transport: %w", err)
	}

	c := &conn{
		id:         uuid.New(),
		ws:         ws,
		identified: make(chan struct{}),
		done:       make(chan struct{}),
	}

	s.mu.Lock()
	s.cur = c
	s.state = StateAwaitingHello
	s.lastMessage = time.Now()
	s.missed = 0
	s.mu.Unlock()

	go s.readPump(c)

	// The server speaks first; wait for the full hello/identify exchange.
	select {
	case <-c.identified:
		return nil
	case <-c.done:
		if c.err != nil {
			return c.err
		}
		return ErrCancelled
	case <-time.After(s.handshakeWindow):
		s.logger.Errorw("identification did not complete in time", "conn", c.id)
		s.teardown(c, ErrHandshakeTimeout)
		return ErrHandshakeTimeout
	}
}

// Disconnect closes the connection, cancels in-flight requests with
// ErrCancelled and suppresses automatic reconnection. Idempotent.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.explicit = true
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	s.reconnectAttempts = 0
	c := s.cur
	s.mu.Unlock()

	if c != nil {
		s.teardown(c, ErrCancelled)
	}
}

// Call issues a request and waits for the correlated response. Only valid
// while identified. Exactly one of response, timeout or cancellation resolves
// each call.
func (s *Session) Call(ctx context.Context, requestType string, requestData any) (json.RawMessage, error) {
	s.mu.Lock()
	if s.state != StateIdentified || s.cur == nil {
		s.mu.Unlock()
		return nil, ErrNotReady
	}
	c := s.cur
	s.nextID++
	id := fmt.Sprintf("req_%d", s.nextID)
	ch := make(chan callResult, 1)
	s.pending[id] = &pendingRequest{ch: ch, created: time.Now()}
	s.mu.Unlock()

	req := requestEnvelope{RequestType: requestType, RequestID: id, RequestData: requestData}
	if err := s.send(c, opRequest, req); err != nil {
		s.abandon(id)
		return nil, fmt.Errorf("transport: %w", err)
	}

	timer := time.NewTimer(s.requestTimeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		return r.data, r.err
	case <-timer.C:
		if s.abandon(id) {
			s.logger.Warnw("request timed out", "type", requestType, "id", id)
			return nil, ErrRequestTimeout
		}
		// The response won the race against the timer.
		r := <-ch
		return r.data, r.err
	case <-ctx.Done():
		if s.abandon(id) {
			return nil, ctx.Err()
		}
		r := <-ch
		return r.data, r.err
	}
}

// abandon removes a pending request if the response has not claimed it yet.
func (s *Session) abandon(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[id]; !ok {
		return false
	}
	delete(s.pending, id)
	return true
}

func (s *Session) send(c *conn, op int, d any) error {
	raw, err := marshalEnvelope(op, d)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, raw)
}

func (s *Session) readPump(c *conn) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			s.mu.Lock()
			stale := s.cur != c
			s.mu.Unlock()
			if !stale {
				s.logger.Warnw("transport closed", "conn", c.id, "error", err)
				s.bus.Publish(events.ConnectionError{Err: err})
				s.teardown(c, fmt.Errorf("transport: %w", err))
			}
			return
		}
		s.handleMessage(c, data)
	}
}

// teardown moves the session to Disconnected, cancels pending requests and
// schedules a reconnect unless the caller disconnected explicitly. Calls for
// a connection that is no longer current are ignored.
func (s *Session) teardown(c *conn, cause error) {
	s.mu.Lock()
	if s.cur != c {
		s.mu.Unlock()
		return
	}
	s.cur = nil
	s.state = StateDisconnected
	pending := s.pending
	s.pending = make(map[string]*pendingRequest)
	if s.healthStop != nil {
		close(s.healthStop)
		s.healthStop = nil
	}
	explicit := s.explicit
	s.mu.Unlock()

	c.err = cause
	close(c.done)
	c.ws.Close()

	for id, p := range pending {
		s.logger.Debugw("cancelling in-flight request", "id", id)
		p.ch <- callResult{err: cause}
	}

	s.logger.Infow("disconnected", "conn", c.id, "reason", cause.Error())
	s.bus.Publish(events.Disconnected{Reason: cause.Error()})

	if !explicit {
		s.scheduleReconnect()
	}
}

func (s *Session) handleMessage(c *conn, data []byte) {
	s.mu.Lock()
	if s.cur != c {
		s.mu.Unlock()
		return
	}
	s.lastMessage = time.Now()
	s.missed = 0
	s.mu.Unlock()

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.logger.Warnw("dropping malformed envelope", "error", err)
		return
	}

	switch env.Op {
	case opHello:
		s.handleHello(c, env.D)
	case opIdentified:
		s.handleIdentified(c)
	case opEvent:
		s.handleEvent(env.D)
	case opRequestResponse:
		s.handleResponse(env.D)
	default:
		s.logger.Debugw("ignoring opcode", "op", env.Op)
	}
}

func (s *Session) handleHello(c *conn, d json.RawMessage) {
	var hello helloData
	if err := json.Unmarshal(d, &hello); err != nil {
		s.logger.Warnw("dropping malformed hello", "error", err)
		return
	}

	// Both the standard set and the separate high-volume meters bit. Without
	// the meters bit the session connects fine but live levels never arrive.
	identify := identifyData{
		RPCVersion:         rpcVersion,
		EventSubscriptions: subStandard | subInputVolumeMeters,
	}

	if hello.Authentication != nil {
		s.mu.Lock()
		password := s.password
		s.mu.Unlock()
		identify.Authentication = authResponse(password, hello.Authentication.Salt, hello.Authentication.Challenge)
	}

	s.mu.Lock()
	if s.cur == c {
		s.state = StateAwaitingIdentify
	}
	s.mu.Unlock()

	if err := s.send(c, opIdentify, identify); err != nil {
		s.logger.Warnw("failed to send identify", "error", err)
	}
}

func (s *Session) handleIdentified(c *conn) {
	s.mu.Lock()
	if s.cur != c {
		s.mu.Unlock()
		return
	}
	s.state = StateIdentified
	s.reconnectAttempts = 0
	stop := make(chan struct{})
	s.healthStop = stop
	s.mu.Unlock()

	go s.healthLoop(c, stop)

	close(c.identified)
	s.logger.Infow("identified", "conn", c.id)
	s.bus.Publish(events.Connected{})
}

// healthLoop force-disconnects the session when no traffic arrives for
// several check windows in a row; the normal reconnect path takes over.
func (s *Session) healthLoop(c *conn, stop chan struct{}) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			if time.Since(s.lastMessage) >= healthInterval {
				s.missed++
			} else {
				s.missed = 0
			}
			missed := s.missed
			s.mu.Unlock()

			if missed >= healthMissedLimit {
				err := fmt.Errorf("no traffic for %v", time.Duration(missed)*healthInterval)
				s.logger.Warnw("connection unhealthy, forcing reconnect", "error", err)
				s.bus.Publish(events.ConnectionError{Err: err})
				s.teardown(c, err)
				return
			}
		}
	}
}

func (s *Session) handleResponse(d json.RawMessage) {
	var resp responseEnvelope
	if err := json.Unmarshal(d, &resp); err != nil {
		s.logger.Warnw("dropping malformed response", "error", err)
		return
	}

	s.mu.Lock()
	p, ok := s.pending[resp.RequestID]
	if ok {
		delete(s.pending, resp.RequestID)
	}
	s.mu.Unlock()

	if !ok {
		// Late response for a timed-out or cancelled request.
		s.logger.Debugw("dropping response with no pending request", "id", resp.RequestID)
		return
	}

	if !resp.RequestStatus.Result {
		p.ch <- callResult{err: &RequestError{Code: resp.RequestStatus.Code, Comment: resp.RequestStatus.Comment}}
		return
	}
	p.ch <- callResult{data: resp.ResponseData}
}

func (s *Session) handleEvent(d json.RawMessage) {
	var ev eventEnvelope
	if err := json.Unmarshal(d, &ev); err != nil {
		s.logger.Warnw("dropping malformed event", "error", err)
		return
	}

	switch ev.EventType {
	case "InputVolumeMeters":
		var data volumeMetersEvent
		if err := json.Unmarshal(ev.EventData, &data); err != nil {
			s.logger.Warnw("dropping malformed meter batch", "error", err)
			return
		}
		batch := events.MeterBatch{Levels: make([]events.MeterLevel, 0, len(data.Inputs))}
		for _, in := range data.Inputs {
			batch.Levels = append(batch.Levels, events.MeterLevel{
				Source:    in.InputName,
				Amplitude: firstLevel(in.InputLevelsMul, 0),
				Db:        firstLevel(in.InputLevelsDb, -100),
			})
		}
		s.bus.Publish(batch)

	case "InputVolumeChanged":
		var data inputVolumeChangedEvent
		if err := json.Unmarshal(ev.EventData, &data); err != nil {
			s.logger.Warnw("dropping malformed event", "type", ev.EventType, "error", err)
			return
		}
		s.bus.Publish(events.VolumeChanged{Source: data.InputName, Volume: data.InputVolumeMul})

	case "InputMuteStateChanged":
		var data inputMuteChangedEvent
		if err := json.Unmarshal(ev.EventData, &data); err != nil {
			s.logger.Warnw("dropping malformed event", "type", ev.EventType, "error", err)
			return
		}
		s.bus.Publish(events.MuteChanged{Source: data.InputName, Muted: data.InputMuted})

	case "InputCreated":
		var data inputCreatedEvent
		if err := json.Unmarshal(ev.EventData, &data); err != nil {
			s.logger.Warnw("dropping malformed event", "type", ev.EventType, "error", err)
			return
		}
		s.bus.Publish(events.InputCreated{Source: data.InputName, SourceKind: data.InputKind})

	case "InputRemoved":
		var data inputRemovedEvent
		if err := json.Unmarshal(ev.EventData, &data); err != nil {
			s.logger.Warnw("dropping malformed event", "type", ev.EventType, "error", err)
			return
		}
		s.bus.Publish(events.InputRemoved{Source: data.InputName})

	case "CurrentProgramSceneChanged":
		var data sceneNameEvent
		if err := json.Unmarshal(ev.EventData, &data); err != nil {
			s.logger.Warnw("dropping malformed event", "type", ev.EventType, "error", err)
			return
		}
		s.bus.Publish(events.SceneChanged{Scene: data.SceneName})

	case "SceneCreated":
		var data sceneNameEvent
		if err := json.Unmarshal(ev.EventData, &data); err != nil {
			s.logger.Warnw("dropping malformed event", "type", ev.EventType, "error", err)
			return
		}
		s.bus.Publish(events.SceneCreated{Scene: data.SceneName})

	case "SceneRemoved":
		var data sceneNameEvent
		if err := json.Unmarshal(ev.EventData, &data); err != nil {
			s.logger.Warnw("dropping malformed event", "type", ev.EventType, "error", err)
			return
		}
		s.bus.Publish(events.SceneRemoved{Scene: data.SceneName})

	default:
		s.logger.Debugw("ignoring event", "type", ev.EventType)
	}
}

// scheduleReconnect arms the backoff timer for the next attempt. Skipped when
// the caller disconnected explicitly, auto-connect is off, a timer is already
// armed, or the attempt budget is spent.
func (s *Session) scheduleReconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.explicit || s.reconnectTimer != nil {
		return
	}
	if s.reconnectAttempts >= maxReconnectAttempts {
		s.logger.Errorw("giving up after repeated reconnect failures", "attempts", s.reconnectAttempts)
		return
	}
	if !s.cfg.GetBool("obs.autoConnect", true) {
		s.logger.Info("auto-connect disabled, not reconnecting")
		return
	}

	delay := reconnectDelay(s.reconnectAttempts)
	attempt := s.reconnectAttempts + 1
	url, password := s.url, s.password

	s.logger.Infow("scheduling reconnect", "attempt", attempt, "max", maxReconnectAttempts, "delay", delay)
	s.reconnectTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		s.reconnectTimer = nil
		s.reconnectAttempts = attempt
		s.mu.Unlock()

		if err := s.connect(url, password, true); err != nil {
			s.logger.Warnw("reconnect attempt failed", "attempt", attempt, "error", err)
		}
	})
}

// reconnectDelay is the exponential backoff schedule: 1s, 2s, 4s, 8s, 16s,
// capped at 30s.
func reconnectDelay(attempt int) time.Duration {
	d := reconnectBase << attempt
	if d > reconnectCap {
		return reconnectCap
	}
	return d
}

func firstLevel(levels [][]float64, def float64) float64 {
	if len(levels) == 0 || len(levels[0]) == 0 {
		return def
	}
	return levels[0][0]
}

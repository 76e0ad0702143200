package relay

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/rideline/ride-relay/config"
)

const websocketRetryDelay = 200 * time.Millisecond

// ClientSession is one live websocket connection. Driver connections bind a
// driver identity on register; rider connections stay anonymous and only
// receive request/response replies.
type ClientSession struct {
	ID string

	conn          *websocket.Conn
	cfg           *config.WebSocketConfig
	ctx           context.Context
	cancel        context.CancelFunc
	lastActivity  atomic.Int64
	pingTicker    *time.Ticker
	activityTimer *time.Timer
	mu            sync.Mutex

	// driverID is set by the register handler, read only from this
	// connection's own read loop.
	driverID string
}

// NewClientSession creates a session around an upgraded connection.
func NewClientSession(id string, conn *websocket.Conn, cfg *config.WebSocketConfig) *ClientSession {
	ctx, cancel := context.WithCancel(context.Background())
	cs := &ClientSession{
		ID:     id,
		conn:   conn,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}
	cs.lastActivity.Store(time.Now().Unix())
	return cs
}

// Send pushes one outbound event frame to the connection. Implements
// registry.Sender.
func (s *ClientSession) Send(event string, data interface{}) error {
	return s.safeWriteJSON(struct {
		Event string      `json:"event"`
		Data  interface{} `json:"data"`
	}{Event: event, Data: data})
}

// safeWriteJSON writes to the websocket with retry capability. Writes are
// serialized by the session mutex.
func (s *ClientSession) safeWriteJSON(data interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	operation := func() error {
		return s.conn.WriteJSON(data)
	}

	backoffStrategy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(websocketRetryDelay), 3),
		s.ctx,
	)

	return backoff.RetryNotify(operation, backoffStrategy, func(err error, d time.Duration) {
		log.Printf("Retrying websocket write to %s: %v (next attempt in %s)", s.ID, err, d)
	})
}

// UpdateActivity refreshes the last activity timestamp and resets the
// inactivity timer. Called for real client messages.
func (s *ClientSession) UpdateActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastActivity.Store(time.Now().Unix())
	if s.activityTimer != nil {
		s.activityTimer.Stop()
		s.activityTimer = time.AfterFunc(
			time.Duration(s.cfg.ActivityTimeout)*time.Second,
			s.onActivityTimeout,
		)
	}
}

// UpdateLastSeen updates only the timestamp, without resetting the
// inactivity timer. Used for pong responses.
func (s *ClientSession) UpdateLastSeen() {
	s.lastActivity.Store(time.Now().Unix())
}

// StartTimers arms the inactivity timeout and the ping loop.
func (s *ClientSession) StartTimers() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.activityTimer = time.AfterFunc(
		time.Duration(s.cfg.ActivityTimeout)*time.Second,
		s.onActivityTimeout,
	)
	s.pingTicker = time.NewTicker(time.Duration(s.cfg.PingInterval) * time.Second)
	go s.pingLoop()
}

func (s *ClientSession) pingLoop() {
	defer s.pingTicker.Stop()
	for {
		select {
		case <-s.pingTicker.C:
			if err := s.sendPing(); err != nil {
				log.Printf("Failed to send ping to %s: %v", s.ID, err)
				s.Close(websocket.CloseInternalServerErr, "Ping failure")
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *ClientSession) onActivityTimeout() {
	log.Printf("Connection %s timed out", s.ID)
	s.Close(websocket.ClosePolicyViolation, "Inactivity timeout")
}

func (s *ClientSession) sendPing() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(
		websocket.PingMessage,
		[]byte{},
		time.Now().Add(time.Duration(s.cfg.WriteTimeout)*time.Second),
	)
}

// PongHandler returns the pong handler for this session's connection.
func (s *ClientSession) PongHandler() func(string) error {
	return func(string) error {
		if s.cfg.KeepAlive {
			s.UpdateActivity()
		} else {
			s.UpdateLastSeen()
		}
		return nil
	}
}

// Close stops the timers and closes the connection with a close handshake.
func (s *ClientSession) Close(code int, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pingTicker != nil {
		s.pingTicker.Stop()
	}
	if s.activityTimer != nil {
		s.activityTimer.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}

	writeTimeout := time.Duration(s.cfg.WriteTimeout) * time.Second
	err := s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text),
		time.Now().Add(writeTimeout),
	)
	if err != nil {
		log.Printf("Error sending close message to %s: %v", s.ID, err)
	}
	return s.conn.Close()
}

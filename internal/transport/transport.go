// Package transport implements the secure WebSocket channel beneath the
// protocol session. The channel is poll driven: Connect returns immediately,
// and all connection progress, frame delivery, and failure reporting happen
// inside Service, which the host is expected to call once per tick.
package transport

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// State describes the lifecycle of the underlying WebSocket connection.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateEstablished
	StateClosing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateConnecting:
		return "Connecting"
	case StateEstablished:
		return "Established"
	case StateClosing:
		return "Closing"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var (
	// ErrInvalidEndpoint is returned by Connect for endpoints that cannot be
	// turned into a WebSocket URL.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrBusy is returned by Connect while a previous attempt is still live.
	ErrBusy = errors.New("connection attempt already in progress")
)

const (
	writeTimeout = 10 * time.Second
	closeTimeout = time.Second
)

// FrameHandler receives one complete inbound frame. Invoked synchronously
// from Service on the tick goroutine.
type FrameHandler func(frame []byte)

// StateHandler is notified of every connection state transition. Invoked
// synchronously from the call that caused the transition.
type StateHandler func(old, new State)

// ErrorHandler receives each transport failure exactly once.
type ErrorHandler func(err error)

// Channel owns one WebSocket connection and the outbound frame queue.
//
// The queue is the only structure shared across goroutines: any caller may
// Send, while Service (tick goroutine) drains and transmits. A dedicated
// reader goroutine stages complete inbound frames, and a short-lived dial
// goroutine stages the connect outcome; both are applied during Service so
// every handler runs on the tick goroutine.
type Channel struct {
	logger *logrus.Logger
	dialer websocket.Dialer

	mu    sync.Mutex
	state State
	conn  *websocket.Conn
	// gen identifies the current connection attempt. Bumping it orphans any
	// reader or dial goroutine still running for a previous attempt.
	gen uint64

	outbound [][]byte
	inbound  [][]byte
	dialConn *websocket.Conn
	dialErr  error
	readErr  error

	framesSent         uint64
	framesReceived     uint64
	connectionAttempts uint64

	onFrame FrameHandler
	onState StateHandler
	onError ErrorHandler
}

// NewChannel returns an idle channel. Handlers should be registered before
// the first Connect.
func NewChannel(logger *logrus.Logger) *Channel {
	return &Channel{logger: logger}
}

// SetFrameHandler registers the handler for inbound frames, replacing any
// previous one.
func (c *Channel) SetFrameHandler(h FrameHandler) {
	c.mu.Lock()
	c.onFrame = h
	c.mu.Unlock()
}

// SetStateHandler registers the handler for state transitions, replacing any
// previous one.
func (c *Channel) SetStateHandler(h StateHandler) {
	c.mu.Lock()
	c.onState = h
	c.mu.Unlock()
}

// SetErrorHandler registers the handler for transport failures, replacing any
// previous one.
func (c *Channel) SetErrorHandler(h ErrorHandler) {
	c.mu.Lock()
	c.onError = h
	c.mu.Unlock()
}

// canonicalEndpoint normalizes an endpoint ("host:port" or a URL in any
// scheme) into a wss:// URL. The protocol requires TLS, so any scheme the
// caller supplied is overridden.
func canonicalEndpoint(endpoint string) (string, error) {
	if endpoint == "" {
		return "", ErrInvalidEndpoint
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "wss://" + endpoint
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	if u.Host == "" {
		return "", ErrInvalidEndpoint
	}

	u.Scheme = "wss"
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

// Connect starts a non-blocking connection attempt to the endpoint. The call
// only validates input; establishment or failure is observed through the
// state and error handlers during subsequent Service calls.
func (c *Channel) Connect(endpoint string, timeout time.Duration) error {
	target, err := canonicalEndpoint(endpoint)
	if err != nil {
		return err
	}

	c.mu.Lock()
	switch c.state {
	case StateConnecting, StateEstablished, StateClosing:
		c.mu.Unlock()
		return ErrBusy
	}

	c.gen++
	gen := c.gen
	c.outbound = nil
	c.inbound = nil
	c.dialConn = nil
	c.dialErr = nil
	c.readErr = nil
	c.connectionAttempts++

	old := c.state
	c.state = StateConnecting
	onState := c.onState
	c.mu.Unlock()

	c.logger.Infof("connecting to %s", target)
	if onState != nil {
		onState(old, StateConnecting)
	}

	dialer := c.dialer
	dialer.HandshakeTimeout = timeout
	go func() {
		conn, resp, err := dialer.Dial(target, nil)
		if err != nil && resp != nil && resp.Body != nil {
			resp.Body.Close()
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.gen || c.state != StateConnecting {
			// The attempt was abandoned while we were dialing.
			if conn != nil {
				conn.Close()
			}
			return
		}
		if err != nil {
			c.dialErr = fmt.Errorf("dialing %s: %w", target, err)
			return
		}
		c.dialConn = conn
	}()

	return nil
}

// Service drives the channel: it applies the outcome of a pending dial,
// flushes the outbound queue, surfaces reader failures, and delivers staged
// inbound frames. It never blocks beyond bounded write deadlines and is a
// no-op while the channel is idle.
func (c *Channel) Service() {
	var (
		changes [][2]State
		frames  [][]byte
		failure error
	)

	c.mu.Lock()

	// Apply the outcome of a pending dial.
	if c.state == StateConnecting {
		if c.dialErr != nil {
			failure = c.dialErr
			c.dialErr = nil
			changes = append(changes, [2]State{c.state, StateFailed})
			c.state = StateFailed
		} else if c.dialConn != nil {
			c.conn = c.dialConn
			c.dialConn = nil
			changes = append(changes, [2]State{c.state, StateEstablished})
			c.state = StateEstablished
			go c.readLoop(c.conn, c.gen)
		}
	}

	// Flush queued outbound frames.
	if c.state == StateEstablished {
		for len(c.outbound) > 0 {
			frame := c.outbound[0]
			c.outbound = c.outbound[1:]

			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				failure = fmt.Errorf("writing frame: %w", err)
				break
			}
			c.framesSent++
		}
	}

	// Surface a reader failure if nothing else already failed the channel.
	if failure == nil && c.readErr != nil && c.state == StateEstablished {
		failure = fmt.Errorf("reading frame: %w", c.readErr)
		c.readErr = nil
	}
	if failure != nil && c.state == StateEstablished {
		changes = append(changes, [2]State{c.state, StateFailed})
		c.state = StateFailed
		c.closeLocked()
	}

	if len(c.inbound) > 0 {
		frames = c.inbound
		c.inbound = nil
	}

	onFrame, onState, onError := c.onFrame, c.onState, c.onError
	c.mu.Unlock()

	// Handlers run outside the lock so they can safely call back into the
	// channel (e.g. Send) from the tick goroutine.
	for _, change := range changes {
		c.logger.Debugf("transport state %s -> %s", change[0], change[1])
		if onState != nil {
			onState(change[0], change[1])
		}
	}
	if failure != nil {
		c.logger.Warnf("transport failure: %v", failure)
		if onError != nil {
			onError(failure)
		}
	}
	for _, frame := range frames {
		if onFrame != nil {
			onFrame(frame)
		}
	}
}

// readLoop stages complete inbound frames until the connection dies or the
// attempt is abandoned. gorilla reassembles fragmented WebSocket messages
// inside ReadMessage, so every staged frame is complete.
func (c *Channel) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, frame, err := conn.ReadMessage()

		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			return
		}
		if err != nil {
			c.readErr = err
			c.mu.Unlock()
			return
		}
		c.inbound = append(c.inbound, frame)
		c.framesReceived++
		c.mu.Unlock()
	}
}

// Send appends a frame to the outbound queue. It returns false if the channel
// is in a state that can never transmit the frame; true means the frame was
// accepted for transmission on a later Service call, not that it was
// delivered.
func (c *Channel) Send(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateConnecting, StateEstablished:
	default:
		return false
	}

	queued := make([]byte, len(frame))
	copy(queued, frame)
	c.outbound = append(c.outbound, queued)
	return true
}

// Disconnect requests an orderly close. The close handshake is best effort;
// the channel does not wait for the peer's reply and in-flight frames may be
// lost. The channel always ends up Idle and reusable.
func (c *Channel) Disconnect() {
	var changes [][2]State

	c.mu.Lock()
	switch c.state {
	case StateIdle:
		c.mu.Unlock()
		return
	case StateFailed:
		changes = append(changes, [2]State{c.state, StateIdle})
		c.state = StateIdle
	default:
		if c.conn != nil {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeTimeout))
		}
		changes = append(changes, [2]State{c.state, StateClosing})
		c.state = StateClosing
		changes = append(changes, [2]State{c.state, StateIdle})
		c.state = StateIdle
	}

	c.closeLocked()
	c.outbound = nil
	c.inbound = nil
	c.dialErr = nil
	c.readErr = nil
	if c.dialConn != nil {
		c.dialConn.Close()
		c.dialConn = nil
	}

	onState := c.onState
	c.mu.Unlock()

	for _, change := range changes {
		c.logger.Debugf("transport state %s -> %s", change[0], change[1])
		if onState != nil {
			onState(change[0], change[1])
		}
	}
}

// closeLocked tears down the connection and orphans any goroutines belonging
// to the current attempt. Callers must hold c.mu.
func (c *Channel) closeLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.gen++
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// FramesSent returns the number of frames transmitted over the lifetime of
// the channel.
func (c *Channel) FramesSent() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.framesSent
}

// FramesReceived returns the number of complete frames read over the lifetime
// of the channel.
func (c *Channel) FramesReceived() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.framesReceived
}

// ConnectionAttempts returns how many times Connect has been accepted.
func (c *Channel) ConnectionAttempts() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectionAttempts
}

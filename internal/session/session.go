// Package session implements the multiworld protocol session on top of the
// transport channel: the ordered handshake (room info, data package exchange,
// authentication) and the steady-state application operations available once
// the server has accepted the client.
package session

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/relink-mw/relink/internal/core"
	"github.com/relink-mw/relink/internal/core/debug"
	"github.com/relink-mw/relink/internal/protocol"
	"github.com/relink-mw/relink/internal/transport"
)

// State describes the session's progression through the protocol handshake.
// It advances strictly forward; the only exceptions are the terminal Failed,
// reachable from any non-terminal state, and Disconnected after an explicit
// Disconnect.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingRoomInfo
	StateAwaitingDataPackage
	StateAuthenticating
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateAwaitingRoomInfo:
		return "AwaitingRoomInfo"
	case StateAwaitingDataPackage:
		return "AwaitingDataPackage"
	case StateAuthenticating:
		return "Authenticating"
	case StateConnected:
		return "Connected"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ErrSessionActive is returned by Connect while a previous attempt is still
// live. Disconnect first to start over.
var ErrSessionActive = errors.New("a session is already active")

// Channel is the transport surface the session drives. *transport.Channel is
// the production implementation.
type Channel interface {
	Connect(endpoint string, timeout time.Duration) error
	Disconnect()
	Service()
	Send(frame []byte) bool
	State() transport.State
	SetFrameHandler(transport.FrameHandler)
	SetStateHandler(transport.StateHandler)
	SetErrorHandler(transport.ErrorHandler)
}

var _ Channel = (*transport.Channel)(nil)

// Attempt is the immutable configuration of one connection attempt.
type Attempt struct {
	Endpoint string
	Slot     string
	Password string
}

// RoomMetadata holds the server-declared facts about the room, populated once
// from the RoomInfo packet and replaced wholesale on the next handshake.
type RoomMetadata struct {
	SeedName            string
	PasswordRequired    bool
	HintCost            int
	LocationCheckPoints int
	Tags                []string
	Permissions         map[string]int
	Version             protocol.Version
}

// Item is one granted item. Name is populated only if a data package with the
// relevant name table has been resolved.
type Item struct {
	ID       int64
	Location int64
	Player   int
	Flags    int
	Name     string
}

// Session is the protocol state machine for one client instance. Everything
// except the transport's outbound queue is confined to the goroutine that
// calls Service; application operations must be invoked from that same
// goroutine.
type Session struct {
	logger  *logrus.Logger
	channel Channel

	game             string
	token            string
	defaultEndpoint  string
	defaultSlot      string
	defaultPassword  string
	dialTimeout      time.Duration
	handshakeTimeout time.Duration

	state    State
	attempt  *Attempt
	room     *RoomMetadata
	slot     int
	checked  map[int64]struct{}
	items    []Item
	names    *nameTable
	refusals []string
	deadline time.Time

	events events
}

// New returns a session backed by its own transport channel.
func New(cfg *core.Config, logger *logrus.Logger) *Session {
	return newWithChannel(cfg, logger, transport.NewChannel(logger))
}

func newWithChannel(cfg *core.Config, logger *logrus.Logger, channel Channel) *Session {
	s := &Session{
		logger:           logger,
		channel:          channel,
		game:             cfg.Client.Game,
		token:            newCorrelationToken(),
		defaultEndpoint:  cfg.ServerAddress(),
		defaultSlot:      cfg.Client.Slot,
		defaultPassword:  cfg.Client.Password,
		dialTimeout:      cfg.DialTimeout(),
		handshakeTimeout: cfg.HandshakeTimeout(),
		checked:          make(map[int64]struct{}),
		names:            newNameTable(),
	}

	channel.SetFrameHandler(s.handleFrame)
	channel.SetStateHandler(s.handleTransportState)
	channel.SetErrorHandler(s.handleTransportError)

	logger.Debugf("session created with correlation token %s", s.token)
	return s
}

// Connect begins a fresh connection attempt. Empty arguments fall back to the
// configured defaults. The call returns once the attempt is initiated;
// handshake progress is observed through the state handler across subsequent
// Service calls.
func (s *Session) Connect(endpoint, slot, password string) error {
	switch s.state {
	case StateDisconnected, StateFailed:
	default:
		return ErrSessionActive
	}

	if endpoint == "" {
		endpoint = s.defaultEndpoint
	}
	if slot == "" {
		slot = s.defaultSlot
	}
	if password == "" {
		password = s.defaultPassword
	}

	// Reset whatever the previous attempt left behind, including a transport
	// that failed or was left established after a refusal.
	s.channel.Disconnect()
	s.resetAttemptState()
	s.attempt = &Attempt{Endpoint: endpoint, Slot: slot, Password: password}

	s.logger.Infof("connecting to %s as %q", endpoint, slot)
	s.transition(StateConnecting)

	if err := s.channel.Connect(endpoint, s.dialTimeout); err != nil {
		s.transition(StateFailed)
		return err
	}
	s.armDeadline()
	return nil
}

// Disconnect closes the session and returns it to Disconnected. The assigned
// identity and room metadata are cleared; a later Connect starts a fresh
// handshake.
func (s *Session) Disconnect() {
	s.channel.Disconnect()
	s.slot = 0
	s.room = nil
	s.attempt = nil
	s.deadline = time.Time{}
	s.transition(StateDisconnected)
}

// Service drives one tick: transport I/O, frame dispatch, and the optional
// handshake deadline. It never blocks and is safe to call indefinitely,
// including while disconnected.
func (s *Session) Service() {
	s.channel.Service()
	s.checkHandshakeDeadline()
}

func (s *Session) checkHandshakeDeadline() {
	if s.handshakeTimeout <= 0 || s.deadline.IsZero() {
		return
	}
	switch s.state {
	case StateConnecting, StateAwaitingRoomInfo, StateAwaitingDataPackage, StateAuthenticating:
	default:
		s.deadline = time.Time{}
		return
	}
	if time.Now().Before(s.deadline) {
		return
	}

	s.logger.Warnf("handshake stalled in %s for more than %v", s.state, s.handshakeTimeout)
	s.deadline = time.Time{}
	s.channel.Disconnect()
	s.transition(StateFailed)
}

func (s *Session) armDeadline() {
	if s.handshakeTimeout > 0 {
		s.deadline = time.Now().Add(s.handshakeTimeout)
	}
}

func (s *Session) resetAttemptState() {
	s.room = nil
	s.slot = 0
	s.items = nil
	s.checked = make(map[int64]struct{})
	s.refusals = nil
	s.deadline = time.Time{}
}

// transition advances the session state and fires the state notification in
// the same step, so an observer can never see the new state before its
// notification or the notification before the state.
func (s *Session) transition(to State) {
	if s.state == to {
		return
	}
	old := s.state
	s.state = to
	s.logger.Infof("session state %s -> %s", old, to)
	s.emitState(old, to)
}

func (s *Session) handleTransportState(old, new transport.State) {
	switch new {
	case transport.StateEstablished:
		if s.state == StateConnecting {
			s.transition(StateAwaitingRoomInfo)
			s.armDeadline()
		}
	case transport.StateFailed:
		switch s.state {
		case StateDisconnected, StateFailed:
		default:
			s.transition(StateFailed)
		}
	}
}

func (s *Session) handleTransportError(err error) {
	s.logger.Errorf("transport error: %v", err)
	s.emitPrint("Connection error: "+err.Error(), 0)
}

// CheckLocation reports a single location check. Re-checking a location the
// server already knows about is a silent no-op. The location-confirmed event
// fires on local acceptance, not on a server acknowledgment.
func (s *Session) CheckLocation(id int64) {
	if !s.requireConnected("CheckLocation") {
		return
	}
	if _, done := s.checked[id]; done {
		return
	}

	s.checked[id] = struct{}{}
	s.sendPacket(&protocol.LocationChecks{
		Cmd:       protocol.LocationChecksType,
		Locations: []int64{id},
	})
	s.emitLocation(id)
}

// CheckLocations reports a batch of location checks in a single frame,
// filtering out any location already checked. No frame is sent if nothing
// new remains.
func (s *Session) CheckLocations(ids []int64) {
	if !s.requireConnected("CheckLocations") {
		return
	}

	var fresh []int64
	for _, id := range ids {
		if _, done := s.checked[id]; done {
			continue
		}
		s.checked[id] = struct{}{}
		fresh = append(fresh, id)
	}
	if len(fresh) == 0 {
		return
	}

	s.sendPacket(&protocol.LocationChecks{
		Cmd:       protocol.LocationChecksType,
		Locations: fresh,
	})
	for _, id := range fresh {
		s.emitLocation(id)
	}
}

// UpdateStatus reports the client's goal progression. Fire and forget.
func (s *Session) UpdateStatus(code int) {
	if !s.requireConnected("UpdateStatus") {
		return
	}
	s.sendPacket(&protocol.StatusUpdate{Cmd: protocol.StatusUpdateType, Status: code})
}

// Say sends a chat message to the room. Fire and forget.
func (s *Session) Say(text string) {
	if !s.requireConnected("Say") {
		return
	}
	s.sendPacket(&protocol.Say{Cmd: protocol.SayType, Text: text})
}

// RequestHint asks the server to create a hint for the location.
func (s *Session) RequestHint(locationID int64) {
	if !s.requireConnected("RequestHint") {
		return
	}
	s.sendPacket(&protocol.LocationScouts{
		Cmd:          protocol.LocationScoutsType,
		Locations:    []int64{locationID},
		CreateAsHint: 1,
	})
}

func (s *Session) requireConnected(op string) bool {
	if s.state == StateConnected {
		return true
	}
	s.logger.Warnf("%s rejected: session is %s, not Connected", op, s.state)
	return false
}

func (s *Session) sendPacket(packet interface{}) {
	frame, err := protocol.Encode(packet)
	if err != nil {
		s.logger.Errorf("dropping outbound packet: %v", err)
		return
	}
	if debug.Enabled() {
		s.logger.Debug(debug.DumpFrame("send", packet))
	}
	if !s.channel.Send(frame) {
		s.logger.Warnf("transport rejected outbound %T", packet)
	}
}

// State returns the current session state.
func (s *Session) State() State { return s.state }

// IsConnected reports whether the handshake has completed successfully.
func (s *Session) IsConnected() bool { return s.state == StateConnected }

// Slot returns the participant identifier assigned by the server, or zero if
// the session has not been accepted.
func (s *Session) Slot() int { return s.slot }

// CorrelationToken returns the client-generated token sent during
// authentication. Stable for the lifetime of the session instance.
func (s *Session) CorrelationToken() string { return s.token }

// Room returns the metadata declared by the server during the handshake.
func (s *Session) Room() (RoomMetadata, bool) {
	if s.room == nil {
		return RoomMetadata{}, false
	}
	return *s.room, true
}

// Items returns a copy of the received-items log in arrival order.
func (s *Session) Items() []Item {
	items := make([]Item, len(s.items))
	copy(items, s.items)
	return items
}

// CheckedLocations returns the set of locations this client has reported,
// in ascending order.
func (s *Session) CheckedLocations() []int64 {
	ids := make([]int64, 0, len(s.checked))
	for id := range s.checked {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// RefusalReasons returns the reasons the server gave for refusing the
// handshake, if it did.
func (s *Session) RefusalReasons() []string {
	reasons := make([]string, len(s.refusals))
	copy(reasons, s.refusals)
	return reasons
}

// StatusMessage renders the session state as a line suitable for a status
// display.
func (s *Session) StatusMessage() string {
	switch s.state {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting..."
	case StateAwaitingRoomInfo:
		return "Waiting for room info..."
	case StateAwaitingDataPackage:
		return "Waiting for data package..."
	case StateAuthenticating:
		return "Authenticating..."
	case StateConnected:
		return fmt.Sprintf("Connected (slot %d)", s.slot)
	case StateFailed:
		if len(s.refusals) > 0 {
			return "Connection refused: " + strings.Join(titleReasons(s.refusals), ", ")
		}
		return "Connection error"
	default:
		return "Unknown"
	}
}

// titleReasons formats the server's machine-flavored refusal reasons
// (e.g. "InvalidSlot") for human display.
func titleReasons(reasons []string) []string {
	caser := cases.Title(language.English)
	titled := make([]string, len(reasons))
	for i, reason := range reasons {
		titled[i] = caser.String(reason)
	}
	return titled
}

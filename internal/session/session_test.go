package session

import (
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"

	"github.com/relink-mw/relink/internal/core"
	"github.com/relink-mw/relink/internal/protocol"
	"github.com/relink-mw/relink/internal/transport"
)

// fakeChannel stands in for the WebSocket transport so the state machine can
// be driven entirely from the test.
type fakeChannel struct {
	state       transport.State
	sent        [][]byte
	connects    int
	disconnects int

	onFrame transport.FrameHandler
	onState transport.StateHandler
	onError transport.ErrorHandler
}

func (f *fakeChannel) Connect(endpoint string, timeout time.Duration) error {
	f.connects++
	f.setState(transport.StateConnecting)
	return nil
}

func (f *fakeChannel) Disconnect() {
	f.disconnects++
	if f.state == transport.StateIdle {
		return
	}
	f.setState(transport.StateClosing)
	f.setState(transport.StateIdle)
}

func (f *fakeChannel) Service() {}

func (f *fakeChannel) Send(frame []byte) bool {
	switch f.state {
	case transport.StateConnecting, transport.StateEstablished:
	default:
		return false
	}
	f.sent = append(f.sent, frame)
	return true
}

func (f *fakeChannel) State() transport.State { return f.state }

func (f *fakeChannel) SetFrameHandler(h transport.FrameHandler) { f.onFrame = h }
func (f *fakeChannel) SetStateHandler(h transport.StateHandler) { f.onState = h }
func (f *fakeChannel) SetErrorHandler(h transport.ErrorHandler) { f.onError = h }

func (f *fakeChannel) setState(to transport.State) {
	old := f.state
	f.state = to
	if old != to && f.onState != nil {
		f.onState(old, to)
	}
}

// establish simulates the WebSocket connection completing.
func (f *fakeChannel) establish() {
	f.setState(transport.StateEstablished)
}

// fail simulates a socket-level failure.
func (f *fakeChannel) fail(err error) {
	f.setState(transport.StateFailed)
	if f.onError != nil {
		f.onError(err)
	}
}

// deliver hands the session one frame containing the given records.
func (f *fakeChannel) deliver(t *testing.T, records ...interface{}) {
	t.Helper()
	frame, err := json.Marshal(records)
	if err != nil {
		t.Fatalf("marshaling test frame: %v", err)
	}
	f.onFrame(frame)
}

// sentCmds decodes the command tag of every frame sent so far.
func (f *fakeChannel) sentCmds(t *testing.T) []string {
	t.Helper()
	var cmds []string
	for _, frame := range f.sent {
		messages, _, err := protocol.Decode(frame)
		if err != nil {
			t.Fatalf("decoding sent frame: %v", err)
		}
		for _, msg := range messages {
			cmds = append(cmds, msg.Cmd)
		}
	}
	return cmds
}

func newTestSession(t *testing.T) (*Session, *fakeChannel) {
	t.Helper()

	cfg := &core.Config{}
	cfg.Server.Host = "multiworld.example.com"
	cfg.Server.Port = 38281
	cfg.Server.DialTimeoutMs = 1000
	cfg.Client.Game = "Selaco"
	cfg.Client.Slot = "Dawn"

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	fake := &fakeChannel{}
	return newWithChannel(cfg, logger, fake), fake
}

func roomInfoRecord() map[string]interface{} {
	return map[string]interface{}{
		"cmd":       protocol.RoomInfoType,
		"seed_name": "D2483024481067609480",
		"password":  false,
		"hint_cost": 10,
	}
}

func dataPackageRecord() map[string]interface{} {
	return map[string]interface{}{"cmd": protocol.DataPackageType}
}

func connectedRecord(slot int) map[string]interface{} {
	return map[string]interface{}{"cmd": protocol.ConnectedType, "slot": slot, "team": 0}
}

// completeHandshake drives the session from Disconnected to Connected.
func completeHandshake(t *testing.T, s *Session, fake *fakeChannel) {
	t.Helper()

	if err := s.Connect("", "", ""); err != nil {
		t.Fatalf("Connect() returned error: %v", err)
	}
	fake.establish()
	fake.deliver(t, roomInfoRecord())
	fake.deliver(t, dataPackageRecord())
	fake.deliver(t, connectedRecord(4))

	if s.State() != StateConnected {
		t.Fatalf("handshake did not complete; state = %s", s.State())
	}
}

func TestSession_HandshakeHappyPath(t *testing.T) {
	s, fake := newTestSession(t)

	if err := s.Connect("", "", ""); err != nil {
		t.Fatalf("Connect() returned error: %v", err)
	}
	if s.State() != StateConnecting {
		t.Errorf("state want = Connecting, got = %s", s.State())
	}

	fake.establish()
	if s.State() != StateAwaitingRoomInfo {
		t.Errorf("state want = AwaitingRoomInfo, got = %s", s.State())
	}

	fake.deliver(t, roomInfoRecord())
	if s.State() != StateAwaitingDataPackage {
		t.Errorf("state want = AwaitingDataPackage, got = %s", s.State())
	}

	fake.deliver(t, dataPackageRecord())
	if s.State() != StateAuthenticating {
		t.Errorf("state want = Authenticating, got = %s", s.State())
	}

	fake.deliver(t, connectedRecord(4))
	if s.State() != StateConnected {
		t.Errorf("state want = Connected, got = %s", s.State())
	}
	if s.Slot() != 4 {
		t.Errorf("Slot() want = 4, got = %d", s.Slot())
	}

	// Exactly one GetDataPackage and one Connect, in that order.
	expected := []string{protocol.GetDataPackageType, protocol.ConnectType}
	if diff := cmp.Diff(expected, fake.sentCmds(t)); diff != "" {
		t.Errorf("outbound frames mismatch; diff:\n%s", diff)
	}

	room, ok := s.Room()
	if !ok {
		t.Fatal("Room() want metadata after handshake")
	}
	if room.SeedName != "D2483024481067609480" {
		t.Errorf("Room().SeedName want = D2483024481067609480, got = %s", room.SeedName)
	}
	if room.HintCost != 10 {
		t.Errorf("Room().HintCost want = 10, got = %d", room.HintCost)
	}
}

func TestSession_ConnectPacketContents(t *testing.T) {
	s, fake := newTestSession(t)
	completeHandshake(t, s, fake)

	messages, _, err := protocol.Decode(fake.sent[1])
	if err != nil {
		t.Fatalf("decoding Connect frame: %v", err)
	}

	var connect protocol.Connect
	if err := messages[0].Unmarshal(&connect); err != nil {
		t.Fatalf("Unmarshal() returned error: %v", err)
	}

	if connect.Name != "Dawn" {
		t.Errorf("Name want = Dawn, got = %s", connect.Name)
	}
	if connect.Game != "Selaco" {
		t.Errorf("Game want = Selaco, got = %s", connect.Game)
	}
	if connect.UUID != s.CorrelationToken() {
		t.Errorf("UUID want = %s, got = %s", s.CorrelationToken(), connect.UUID)
	}
	if connect.ItemsHandling != protocol.ItemsHandlingAll {
		t.Errorf("ItemsHandling want = %d, got = %d", protocol.ItemsHandlingAll, connect.ItemsHandling)
	}
	if diff := cmp.Diff([]string{protocol.ClientTag, "Selaco"}, connect.Tags); diff != "" {
		t.Errorf("Tags mismatch; diff:\n%s", diff)
	}
}

func TestSession_ConnectionRefused(t *testing.T) {
	s, fake := newTestSession(t)

	if err := s.Connect("", "", ""); err != nil {
		t.Fatalf("Connect() returned error: %v", err)
	}
	fake.establish()
	fake.deliver(t, roomInfoRecord())

	fake.deliver(t, map[string]interface{}{
		"cmd":    protocol.ConnectionRefusedType,
		"errors": []string{"invalid slot name"},
	})

	if s.State() != StateFailed {
		t.Fatalf("state want = Failed, got = %s", s.State())
	}
	if diff := cmp.Diff([]string{"invalid slot name"}, s.RefusalReasons()); diff != "" {
		t.Errorf("RefusalReasons() mismatch; diff:\n%s", diff)
	}

	// No further outbound frames, even if operations are attempted.
	framesBefore := len(fake.sent)
	s.CheckLocation(10)
	s.Say("hello?")
	s.UpdateStatus(protocol.StatusGoal)
	if len(fake.sent) != framesBefore {
		t.Errorf("operations after refusal enqueued %d frame(s)", len(fake.sent)-framesBefore)
	}
}

func TestSession_CheckLocationDeduplicates(t *testing.T) {
	s, fake := newTestSession(t)
	completeHandshake(t, s, fake)

	var confirmed []int64
	s.SetLocationHandler(func(id int64) {
		confirmed = append(confirmed, id)
	})

	framesBefore := len(fake.sent)
	s.CheckLocation(1201)
	s.CheckLocation(1201)

	if got := len(fake.sent) - framesBefore; got != 1 {
		t.Errorf("LocationChecks frames want = 1, got = %d", got)
	}
	if diff := cmp.Diff([]int64{1201}, confirmed); diff != "" {
		t.Errorf("confirmed locations mismatch; diff:\n%s", diff)
	}
	if diff := cmp.Diff([]int64{1201}, s.CheckedLocations()); diff != "" {
		t.Errorf("CheckedLocations() mismatch; diff:\n%s", diff)
	}
}

func TestSession_CheckLocationsFiltersBatch(t *testing.T) {
	s, fake := newTestSession(t)
	completeHandshake(t, s, fake)

	s.CheckLocation(10)

	framesBefore := len(fake.sent)
	s.CheckLocations([]int64{10, 10, 20})

	if got := len(fake.sent) - framesBefore; got != 1 {
		t.Fatalf("LocationChecks frames want = 1, got = %d", got)
	}

	messages, _, err := protocol.Decode(fake.sent[len(fake.sent)-1])
	if err != nil {
		t.Fatalf("decoding frame: %v", err)
	}
	var checks protocol.LocationChecks
	if err := messages[0].Unmarshal(&checks); err != nil {
		t.Fatalf("Unmarshal() returned error: %v", err)
	}
	if diff := cmp.Diff([]int64{20}, checks.Locations); diff != "" {
		t.Errorf("Locations mismatch; diff:\n%s", diff)
	}

	// A batch with nothing new sends nothing.
	framesBefore = len(fake.sent)
	s.CheckLocations([]int64{10, 20})
	if len(fake.sent) != framesBefore {
		t.Errorf("fully duplicate batch enqueued a frame")
	}
}

func TestSession_OperationsRejectedBeforeConnected(t *testing.T) {
	s, fake := newTestSession(t)

	var callbacks int
	s.SetLocationHandler(func(int64) { callbacks++ })
	s.SetItemHandler(func(Item) { callbacks++ })

	attempt := func() {
		s.CheckLocation(10)
		s.CheckLocations([]int64{11, 12})
		s.UpdateStatus(protocol.StatusPlaying)
		s.Say("too early")
		s.RequestHint(13)
	}

	// Disconnected.
	attempt()
	if len(fake.sent) != 0 {
		t.Errorf("operations while Disconnected enqueued %d frame(s)", len(fake.sent))
	}

	// Mid-handshake.
	if err := s.Connect("", "", ""); err != nil {
		t.Fatalf("Connect() returned error: %v", err)
	}
	fake.establish()
	fake.deliver(t, roomInfoRecord())
	framesBefore := len(fake.sent)
	attempt()
	if len(fake.sent) != framesBefore {
		t.Errorf("operations while %s enqueued %d frame(s)", s.State(), len(fake.sent)-framesBefore)
	}

	if callbacks != 0 {
		t.Errorf("rejected operations invoked %d callback(s)", callbacks)
	}
}

func TestSession_NonSequenceFrameDropped(t *testing.T) {
	s, fake := newTestSession(t)
	completeHandshake(t, s, fake)

	fake.onFrame([]byte(`{"cmd": "ReceivedItems", "items": [{"item": 1, "location": 2, "player": 3}]}`))

	if s.State() != StateConnected {
		t.Errorf("state want = Connected, got = %s", s.State())
	}
	if got := len(s.Items()); got != 0 {
		t.Errorf("received-items log want empty, got = %d item(s)", got)
	}
}

func TestSession_RecordMissingCmdSkipped(t *testing.T) {
	s, fake := newTestSession(t)

	if err := s.Connect("", "", ""); err != nil {
		t.Fatalf("Connect() returned error: %v", err)
	}
	fake.establish()

	// The untagged record is skipped; the RoomInfo beside it still counts.
	fake.deliver(t, map[string]interface{}{"seed_name": "untagged"}, roomInfoRecord())

	if s.State() != StateAwaitingDataPackage {
		t.Errorf("state want = AwaitingDataPackage, got = %s", s.State())
	}
}

func TestSession_UnrecognizedCommandIgnored(t *testing.T) {
	s, fake := newTestSession(t)
	completeHandshake(t, s, fake)

	fake.deliver(t, map[string]interface{}{"cmd": "Bounced", "tags": []string{"DeathLink"}})

	if s.State() != StateConnected {
		t.Errorf("state want = Connected, got = %s", s.State())
	}
}

func TestSession_TransportFailureForcesFailed(t *testing.T) {
	s, fake := newTestSession(t)

	var printed []string
	s.SetPrintHandler(func(text string, priority int) {
		printed = append(printed, text)
	})

	if err := s.Connect("", "", ""); err != nil {
		t.Fatalf("Connect() returned error: %v", err)
	}
	fake.establish()
	fake.deliver(t, roomInfoRecord())

	fake.fail(errors.New("connection reset by peer"))

	if s.State() != StateFailed {
		t.Errorf("state want = Failed, got = %s", s.State())
	}
	if len(printed) != 1 {
		t.Errorf("error message want exactly one print, got = %d", len(printed))
	}
}

func TestSession_ReceivedItemsAppendsLogAndResolvesNames(t *testing.T) {
	s, fake := newTestSession(t)

	if err := s.Connect("", "", ""); err != nil {
		t.Fatalf("Connect() returned error: %v", err)
	}
	fake.establish()
	fake.deliver(t, roomInfoRecord())
	fake.deliver(t, map[string]interface{}{
		"cmd": protocol.DataPackageType,
		"data": map[string]interface{}{
			"games": map[string]interface{}{
				"Selaco": map[string]interface{}{
					"item_name_to_id":     map[string]int64{"Plasma Rifle": 9001},
					"location_name_to_id": map[string]int64{"Armory Crate": 1201},
				},
			},
		},
	})
	fake.deliver(t, connectedRecord(4))

	var received []Item
	s.SetItemHandler(func(item Item) {
		received = append(received, item)
	})

	fake.deliver(t, map[string]interface{}{
		"cmd":   protocol.ReceivedItemsType,
		"index": 0,
		"items": []map[string]interface{}{
			{"item": 9001, "location": 1201, "player": 2, "flags": 1},
			{"item": 4242, "location": 77, "player": 1},
		},
	})

	expected := []Item{
		{ID: 9001, Location: 1201, Player: 2, Flags: 1, Name: "Plasma Rifle"},
		{ID: 4242, Location: 77, Player: 1},
	}
	if diff := cmp.Diff(expected, received); diff != "" {
		t.Errorf("item callbacks mismatch; diff:\n%s", diff)
	}
	if diff := cmp.Diff(expected, s.Items()); diff != "" {
		t.Errorf("received-items log mismatch; diff:\n%s", diff)
	}
}

func TestSession_DisconnectResetsSession(t *testing.T) {
	s, fake := newTestSession(t)
	completeHandshake(t, s, fake)

	s.Disconnect()

	if s.State() != StateDisconnected {
		t.Errorf("state want = Disconnected, got = %s", s.State())
	}
	if s.Slot() != 0 {
		t.Errorf("Slot() want = 0 after disconnect, got = %d", s.Slot())
	}
	if _, ok := s.Room(); ok {
		t.Error("Room() want cleared after disconnect")
	}

	// A later connect runs the whole handshake again from scratch.
	fake.sent = nil
	completeHandshake(t, s, fake)
	expected := []string{protocol.GetDataPackageType, protocol.ConnectType}
	if diff := cmp.Diff(expected, fake.sentCmds(t)); diff != "" {
		t.Errorf("reconnect frames mismatch; diff:\n%s", diff)
	}
}

func TestSession_StateTransitionsNotified(t *testing.T) {
	s, fake := newTestSession(t)

	var transitions [][2]State
	s.SetStateHandler(func(old, new State) {
		transitions = append(transitions, [2]State{old, new})
	})

	completeHandshake(t, s, fake)

	expected := [][2]State{
		{StateDisconnected, StateConnecting},
		{StateConnecting, StateAwaitingRoomInfo},
		{StateAwaitingRoomInfo, StateAwaitingDataPackage},
		{StateAwaitingDataPackage, StateAuthenticating},
		{StateAuthenticating, StateConnected},
	}
	if diff := cmp.Diff(expected, transitions); diff != "" {
		t.Errorf("transitions mismatch; diff:\n%s", diff)
	}
}

func TestSession_SlotVisibleWhenConnectedNotificationFires(t *testing.T) {
	s, fake := newTestSession(t)

	var slotAtNotification int
	s.SetStateHandler(func(old, new State) {
		if new == StateConnected {
			slotAtNotification = s.Slot()
		}
	})

	completeHandshake(t, s, fake)

	if slotAtNotification != 4 {
		t.Errorf("Slot() during Connected notification want = 4, got = %d", slotAtNotification)
	}
}

func TestSession_HandshakeTimeoutForcesFailed(t *testing.T) {
	cfg := &core.Config{}
	cfg.Server.Host = "multiworld.example.com"
	cfg.Server.Port = 38281
	cfg.Client.Game = "Selaco"
	cfg.Client.Slot = "Dawn"
	cfg.Client.HandshakeTimeoutMs = 1

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	fake := &fakeChannel{}
	s := newWithChannel(cfg, logger, fake)

	if err := s.Connect("", "", ""); err != nil {
		t.Fatalf("Connect() returned error: %v", err)
	}
	fake.establish()

	// Never deliver RoomInfo; the deadline must fail the session.
	time.Sleep(10 * time.Millisecond)
	s.Service()

	if s.State() != StateFailed {
		t.Errorf("state want = Failed, got = %s", s.State())
	}
}

func TestSession_ConnectWhileActive(t *testing.T) {
	s, fake := newTestSession(t)
	completeHandshake(t, s, fake)

	if err := s.Connect("", "", ""); !errors.Is(err, ErrSessionActive) {
		t.Errorf("Connect() while active want ErrSessionActive, got = %v", err)
	}
}

func TestSession_StatusMessage(t *testing.T) {
	s, fake := newTestSession(t)

	if s.StatusMessage() != "Disconnected" {
		t.Errorf("StatusMessage() want = Disconnected, got = %s", s.StatusMessage())
	}

	completeHandshake(t, s, fake)
	if s.StatusMessage() != "Connected (slot 4)" {
		t.Errorf("StatusMessage() want = Connected (slot 4), got = %s", s.StatusMessage())
	}
}

package session

import (
	"strings"
	"time"

	"github.com/relink-mw/relink/internal/core/debug"
	"github.com/relink-mw/relink/internal/protocol"
)

// handleFrame is the transport's frame callback. It decodes the frame and
// dispatches each tagged record. Malformed frames are dropped and logged;
// they never terminate the session.
func (s *Session) handleFrame(frame []byte) {
	messages, skipped, err := protocol.Decode(frame)
	if err != nil {
		s.logger.Warnf("dropping malformed frame: %v", err)
		return
	}
	if skipped > 0 {
		s.logger.Warnf("skipped %d record(s) missing a cmd tag", skipped)
	}
	if debug.Enabled() {
		s.logger.Debug(debug.DumpFrame("recv", messages))
	}

	for _, msg := range messages {
		s.dispatch(msg)
	}
}

func (s *Session) dispatch(msg protocol.Message) {
	switch msg.Cmd {
	case protocol.RoomInfoType:
		s.handleRoomInfo(msg)
	case protocol.DataPackageType:
		s.handleDataPackage(msg)
	case protocol.ConnectedType:
		s.handleConnected(msg)
	case protocol.ConnectionRefusedType:
		s.handleConnectionRefused(msg)
	case protocol.ReceivedItemsType:
		s.handleReceivedItems(msg)
	case protocol.PrintJSONType:
		s.handlePrintJSON(msg)
	case protocol.RetrievedType, protocol.SetReplyType, protocol.LocationInfoType:
		// Accepted but currently informational only.
		s.logger.Debugf("ignoring %s reply", msg.Cmd)
	default:
		// Unrecognized tags are expected from newer servers; never an error.
		s.logger.Infof("ignoring unrecognized command %q", msg.Cmd)
	}
}

func (s *Session) handleRoomInfo(msg protocol.Message) {
	if s.state != StateAwaitingRoomInfo {
		s.logger.Warnf("ignoring RoomInfo in state %s", s.state)
		return
	}

	var pkt protocol.RoomInfo
	if err := msg.Unmarshal(&pkt); err != nil {
		s.logger.Warnf("ignoring unparseable RoomInfo: %v", err)
		return
	}

	s.room = &RoomMetadata{
		SeedName:            pkt.SeedName,
		PasswordRequired:    pkt.Password,
		HintCost:            pkt.HintCost,
		LocationCheckPoints: pkt.LocationCheckPoints,
		Tags:                pkt.Tags,
		Permissions:         pkt.Permissions,
		Version:             pkt.Version,
	}
	s.logger.Infof("room info received (seed %s)", pkt.SeedName)

	s.transition(StateAwaitingDataPackage)
	s.armDeadline()
	s.sendPacket(&protocol.GetDataPackage{
		Cmd:   protocol.GetDataPackageType,
		Games: []string{s.game},
	})
}

func (s *Session) handleDataPackage(msg protocol.Message) {
	if s.state != StateAwaitingDataPackage {
		s.logger.Warnf("ignoring DataPackage in state %s", s.state)
		return
	}

	// The packet's presence alone advances the handshake; the name tables are
	// an optional enrichment.
	var pkt protocol.DataPackage
	if err := msg.Unmarshal(&pkt); err != nil {
		s.logger.Warnf("data package payload unparseable, continuing without names: %v", err)
	} else {
		s.names.load(pkt.Data.Games)
	}
	s.logger.Info("data package received")

	s.transition(StateAuthenticating)
	s.armDeadline()
	s.sendPacket(&protocol.Connect{
		Cmd:           protocol.ConnectType,
		Password:      s.attempt.Password,
		Game:          s.game,
		Name:          s.attempt.Slot,
		UUID:          s.token,
		Version:       protocol.ClientVersion,
		ItemsHandling: protocol.ItemsHandlingAll,
		Tags:          []string{protocol.ClientTag, s.game},
	})
}

func (s *Session) handleConnected(msg protocol.Message) {
	if s.state != StateAuthenticating {
		s.logger.Warnf("ignoring Connected in state %s", s.state)
		return
	}

	var pkt protocol.Connected
	if err := msg.Unmarshal(&pkt); err != nil {
		s.logger.Warnf("ignoring unparseable Connected: %v", err)
		return
	}

	// The assigned identity must be visible by the time the state
	// notification fires.
	s.slot = pkt.Slot
	s.deadline = time.Time{}
	s.logger.Infof("authenticated as slot %d", pkt.Slot)
	s.transition(StateConnected)
}

func (s *Session) handleConnectionRefused(msg protocol.Message) {
	switch s.state {
	case StateDisconnected, StateFailed:
		s.logger.Warnf("ignoring ConnectionRefused in state %s", s.state)
		return
	}

	var pkt protocol.ConnectionRefused
	if err := msg.Unmarshal(&pkt); err != nil {
		s.logger.Warnf("connection refused with unparseable reasons: %v", err)
	}
	s.refusals = pkt.Errors

	reason := "unknown reason"
	if len(pkt.Errors) > 0 {
		reason = strings.Join(titleReasons(pkt.Errors), ", ")
	}
	s.logger.Errorf("connection refused: %s", reason)

	s.transition(StateFailed)
	s.emitPrint("Connection refused: "+reason, 0)
}

func (s *Session) handleReceivedItems(msg protocol.Message) {
	if s.state != StateConnected {
		s.logger.Warnf("ignoring ReceivedItems in state %s", s.state)
		return
	}

	var pkt protocol.ReceivedItems
	if err := msg.Unmarshal(&pkt); err != nil {
		s.logger.Warnf("ignoring unparseable ReceivedItems: %v", err)
		return
	}

	for _, granted := range pkt.Items {
		item := Item{
			ID:       granted.Item,
			Location: granted.Location,
			Player:   granted.Player,
			Flags:    granted.Flags,
			Name:     s.names.itemName(s.game, granted.Item),
		}
		s.items = append(s.items, item)
		s.logger.Infof("received item %d from player %d", item.ID, item.Player)
		s.emitItem(item)
	}
}

func (s *Session) handlePrintJSON(msg protocol.Message) {
	var pkt protocol.PrintJSON
	if err := msg.Unmarshal(&pkt); err != nil {
		s.logger.Warnf("ignoring unparseable PrintJSON: %v", err)
		return
	}
	if pkt.Text == "" {
		return
	}
	s.emitPrint(pkt.Text, pkt.Priority)
}

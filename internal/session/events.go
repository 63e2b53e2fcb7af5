package session

// Handlers for the events the session surfaces to its host. All handlers run
// synchronously on the goroutine that called Service (or the application
// operation that produced the event), so they must not block.
type (
	// ItemHandler receives each granted item as it is appended to the
	// received-items log.
	ItemHandler func(item Item)

	// LocationHandler is notified when a location check is accepted locally.
	LocationHandler func(locationID int64)

	// StateHandler is notified of every session state transition.
	StateHandler func(old, new State)

	// PrintHandler receives printable messages: server chat and status text
	// as well as locally surfaced connection errors.
	PrintHandler func(text string, priority int)
)

// events is the registration table: at most one handler per event kind, and
// registering again replaces the previous handler.
type events struct {
	item     ItemHandler
	location LocationHandler
	state    StateHandler
	print    PrintHandler
}

// SetItemHandler registers the item-received handler.
func (s *Session) SetItemHandler(h ItemHandler) { s.events.item = h }

// SetLocationHandler registers the location-confirmed handler.
func (s *Session) SetLocationHandler(h LocationHandler) { s.events.location = h }

// SetStateHandler registers the state-transition handler.
func (s *Session) SetStateHandler(h StateHandler) { s.events.state = h }

// SetPrintHandler registers the printable-message handler.
func (s *Session) SetPrintHandler(h PrintHandler) { s.events.print = h }

func (s *Session) emitItem(item Item) {
	if s.events.item != nil {
		s.events.item(item)
	}
}

func (s *Session) emitLocation(locationID int64) {
	if s.events.location != nil {
		s.events.location(locationID)
	}
}

func (s *Session) emitState(old, new State) {
	if s.events.state != nil {
		s.events.state(old, new)
	}
}

func (s *Session) emitPrint(text string, priority int) {
	if s.events.print != nil {
		s.events.print(text, priority)
	}
}

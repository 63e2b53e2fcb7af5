package session

import (
	"github.com/patrickmn/go-cache"

	"github.com/relink-mw/relink/internal/protocol"
)

// gameNames holds the inverted name tables for one game.
type gameNames struct {
	items map[int64]string
}

// nameTable resolves item identifiers to display names using whatever data
// packages have been received. Data packages are static per game, so the
// tables are kept for the life of the process and survive reconnects.
type nameTable struct {
	games *cache.Cache
}

func newNameTable() *nameTable {
	return &nameTable{games: cache.New(cache.NoExpiration, 0)}
}

func (n *nameTable) load(games map[string]protocol.GameData) {
	for game, data := range games {
		names := &gameNames{items: make(map[int64]string, len(data.ItemNameToID))}
		for name, id := range data.ItemNameToID {
			names.items[id] = name
		}
		n.games.Set(game, names, cache.DefaultExpiration)
	}
}

// itemName returns the display name for an item, preferring the client's own
// game but falling back to any other game whose table is cached. Returns the
// empty string if the item is unknown.
func (n *nameTable) itemName(game string, id int64) string {
	if v, ok := n.games.Get(game); ok {
		if name, ok := v.(*gameNames).items[id]; ok {
			return name
		}
	}
	for _, entry := range n.games.Items() {
		if name, ok := entry.Object.(*gameNames).items[id]; ok {
			return name
		}
	}
	return ""
}

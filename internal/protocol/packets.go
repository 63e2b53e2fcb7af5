// Package protocol defines the wire format spoken with the multiworld server:
// every frame is a JSON array of records, and every record carries a "cmd"
// tag identifying the packet type.
package protocol

// Command tags for packets received from the server.
const (
	RoomInfoType          = "RoomInfo"
	DataPackageType       = "DataPackage"
	ConnectedType         = "Connected"
	ConnectionRefusedType = "ConnectionRefused"
	ReceivedItemsType     = "ReceivedItems"
	LocationInfoType      = "LocationInfo"
	PrintJSONType         = "PrintJSON"
	RetrievedType         = "Retrieved"
	SetReplyType          = "SetReply"
)

// Command tags for packets sent to the server.
const (
	GetDataPackageType = "GetDataPackage"
	ConnectType        = "Connect"
	LocationChecksType = "LocationChecks"
	LocationScoutsType = "LocationScouts"
	StatusUpdateType   = "StatusUpdate"
	SayType            = "Say"
)

// Tag identifying this client implementation in the Connect packet.
const ClientTag = "RelinkClient"

// ItemsHandlingAll sets all three items_handling bits: receive items found in
// our own world, receive our starting inventory, and receive items found by
// other participants.
const ItemsHandlingAll = 0b111

// Client status codes accepted by StatusUpdate.
const (
	StatusPlaying   = 0
	StatusCompleted = 1
	StatusGoal      = 2
)

// Version identifies the protocol version the client speaks. The Class field
// must be set to "Version" on outbound packets.
type Version struct {
	Major int    `json:"major"`
	Minor int    `json:"minor"`
	Build int    `json:"build"`
	Class string `json:"class,omitempty"`
}

// ClientVersion is the protocol version declared during authentication.
var ClientVersion = Version{Major: 0, Minor: 5, Build: 0, Class: "Version"}

// RoomInfo is the first packet the server sends after the transport connects.
type RoomInfo struct {
	Cmd                 string         `json:"cmd"`
	SeedName            string         `json:"seed_name"`
	Password            bool           `json:"password"`
	HintCost            int            `json:"hint_cost"`
	LocationCheckPoints int            `json:"location_check_points"`
	Tags                []string       `json:"tags"`
	Permissions         map[string]int `json:"permissions"`
	Version             Version        `json:"version"`
}

// GameData is the per-game name table carried in a DataPackage.
type GameData struct {
	ItemNameToID     map[string]int64 `json:"item_name_to_id"`
	LocationNameToID map[string]int64 `json:"location_name_to_id"`
}

// DataPackage carries static per-game data. Receipt of the packet advances
// the handshake regardless of whether any name tables are present.
type DataPackage struct {
	Cmd  string `json:"cmd"`
	Data struct {
		Games map[string]GameData `json:"games"`
	} `json:"data"`
}

// Connected is the terminal success packet of the handshake.
type Connected struct {
	Cmd  string `json:"cmd"`
	Team int    `json:"team"`
	Slot int    `json:"slot"`
}

// ConnectionRefused is the terminal failure packet of the handshake.
type ConnectionRefused struct {
	Cmd    string   `json:"cmd"`
	Errors []string `json:"errors"`
}

// NetworkItem describes one granted item within a ReceivedItems packet.
type NetworkItem struct {
	Item     int64 `json:"item"`
	Location int64 `json:"location"`
	Player   int   `json:"player"`
	Flags    int   `json:"flags"`
}

// ReceivedItems grants items to this client.
type ReceivedItems struct {
	Cmd   string        `json:"cmd"`
	Index int           `json:"index"`
	Items []NetworkItem `json:"items"`
}

// PrintJSON carries a printable chat or status message.
type PrintJSON struct {
	Cmd      string `json:"cmd"`
	Text     string `json:"text"`
	Priority int    `json:"priority"`
}

// GetDataPackage requests the name tables for the listed games.
type GetDataPackage struct {
	Cmd   string   `json:"cmd"`
	Games []string `json:"games"`
}

// Connect authenticates this client against a slot in the room.
type Connect struct {
	Cmd           string   `json:"cmd"`
	Password      string   `json:"password"`
	Game          string   `json:"game"`
	Name          string   `json:"name"`
	UUID          string   `json:"uuid"`
	Version       Version  `json:"version"`
	ItemsHandling int      `json:"items_handling"`
	Tags          []string `json:"tags"`
}

// LocationChecks reports newly checked locations to the server.
type LocationChecks struct {
	Cmd       string  `json:"cmd"`
	Locations []int64 `json:"locations"`
}

// LocationScouts asks the server about the listed locations; with CreateAsHint
// set the results are broadcast as hints.
type LocationScouts struct {
	Cmd          string  `json:"cmd"`
	Locations    []int64 `json:"locations"`
	CreateAsHint int     `json:"create_as_hint"`
}

// StatusUpdate reports the client's goal progression.
type StatusUpdate struct {
	Cmd    string `json:"cmd"`
	Status int    `json:"status"`
}

// Say sends a chat message to the room.
type Say struct {
	Cmd  string `json:"cmd"`
	Text string `json:"text"`
}

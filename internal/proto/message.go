package proto

import "encoding/json"

// ProtocolVersion is bumped on breaking wire changes.
const ProtocolVersion = 1

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	InboundTypeSelectCharacter = "select_character"
	InboundTypeToggleReady     = "toggle_ready"
	InboundTypeStartMatch      = "start_match"
	InboundTypeSwapRequest     = "swap_request"
	InboundTypeSwapAccept      = "swap_accept"
	InboundTypeSwapDecline     = "swap_decline"
	InboundTypeHeartbeat       = "heartbeat"
	InboundTypeResync          = "resync"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"
)

// SelectCharacterData picks a character; a null id clears the selection.
type SelectCharacterData struct {
	CharacterID *string `json:"character_id"`
}

// SwapRequestData opens a swap negotiation with another member.
type SwapRequestData struct {
	ToUID string `json:"to_uid"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// Outbound event names.
const (
	EventSnapshot      = "snapshot"
	EventMemberJoined  = "member_joined"
	EventMemberUpdated = "member_updated"
	EventMemberLeft    = "member_left"
	EventRoomUpdated   = "room_updated"
	EventPresence      = "presence"
	EventSwapIncoming  = "swap_incoming"
	EventSwapDeclined  = "swap_declined"
	EventSwapCompleted = "swap_completed"
	EventSwapFailed    = "swap_failed"
)

// RoomData describes the room row to clients.
type RoomData struct {
	ID      string  `json:"id"`
	Code    string  `json:"code"`
	Status  string  `json:"status"`
	HostUID *string `json:"host_uid"`
	Seed    string  `json:"seed"`
}

// MemberData describes one membership row to clients.
type MemberData struct {
	UID         string  `json:"uid"`
	SeatIndex   int     `json:"seat_index"`
	DisplayName string  `json:"display_name"`
	CharacterID *string `json:"character_id"`
	IsReady     bool    `json:"is_ready"`
}

// SnapshotData is the full authoritative room state.
type SnapshotData struct {
	Room    RoomData     `json:"room"`
	Members []MemberData `json:"members"`
}

// MemberLeftData names the departed member.
type MemberLeftData struct {
	UID string `json:"uid"`
}

// PresenceData is the advisory online set for the room.
type PresenceData struct {
	Online []string `json:"online"`
}

// SwapIncomingData surfaces an accepted incoming swap request.
type SwapIncomingData struct {
	FromUID  string `json:"from_uid"`
	FromChar string `json:"from_char"`
	ToChar   string `json:"to_char"`
}

// SwapResultData reports how a negotiation ended.
type SwapResultData struct {
	Reason string `json:"reason,omitempty"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

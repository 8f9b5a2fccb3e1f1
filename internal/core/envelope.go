package core

import (
	"encoding/json"

	"github.com/dkeye/voicemesh/internal/domain"
)

// Inbound envelope types.
const (
	TypeConnected    = "connected"
	TypeUserJoined   = "user_joined"
	TypeUserLeft     = "user_left"
	TypeChat         = "chat"
	TypeWebRTCSignal = "webrtc_signal"
	TypeRoomDeleted  = "room_deleted"
	TypeError        = "error"
)

// webrtc_signal sub-types.
const (
	SignalOffer     = "offer"
	SignalAnswer    = "answer"
	SignalCandidate = "ice-candidate"
)

// Envelope is the union of all server->client messages.
type Envelope struct {
	Type                 string          `json:"type"`
	RoomID               domain.RoomID   `json:"room_id,omitempty"`
	UserID               domain.UserID   `json:"user_id,omitempty"`
	Username             string          `json:"username,omitempty"`
	Message              string          `json:"message,omitempty"`
	Timestamp            string          `json:"timestamp,omitempty"`
	TempID               string          `json:"temp_id,omitempty"`
	FromUserID           domain.UserID   `json:"from_user_id,omitempty"`
	SignalType           string          `json:"signal_type,omitempty"`
	Data                 json.RawMessage `json:"data,omitempty"`
	Code                 string          `json:"code,omitempty"`
	User                 *domain.User    `json:"user,omitempty"`
	ExistingParticipants []domain.User   `json:"existing_participants,omitempty"`
}

// SignalMessage is the client->server negotiation relay.
type SignalMessage struct {
	Type         string        `json:"type"`
	SignalType   string        `json:"signal_type"`
	TargetUserID domain.UserID `json:"target_user_id"`
	Data         any           `json:"data"`
}

func NewSignalMessage(signalType string, target domain.UserID, data any) SignalMessage {
	return SignalMessage{Type: TypeWebRTCSignal, SignalType: signalType, TargetUserID: target, Data: data}
}

// ChatOut is the client->server chat message.
type ChatOut struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	TempID    string `json:"temp_id"`
}

// MuteStatus is the only side-channel payload. Never seen by the server.
type MuteStatus struct {
	Type    string `json:"type"`
	IsMuted bool   `json:"isMuted"`
}

const TypeMuteStatus = "mute_status"

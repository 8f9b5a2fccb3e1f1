package domain

import "time"

type DeliveryStatus string

const (
	StatusSending DeliveryStatus = "sending"
	StatusSent    DeliveryStatus = "sent"
	StatusFailed  DeliveryStatus = "failed"
)

// ChatMessage is a room chat entry. CorrelationID is set only for messages
// that originated locally.
type ChatMessage struct {
	RoomID        RoomID         `json:"room_id"`
	UserID        UserID         `json:"user_id"`
	Username      string         `json:"username"`
	Text          string         `json:"message"`
	Timestamp     time.Time      `json:"timestamp"`
	Status        DeliveryStatus `json:"status"`
	CorrelationID string         `json:"temp_id,omitempty"`
	IsOwn         bool           `json:"isOwn"`
}

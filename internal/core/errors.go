package core

import "errors"

var (
	ErrNotConnected = errors.New("signal channel not connected")
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("closed")
)

// Server error codes carried by error envelopes.
const (
	CodeAuthFailed   = "AUTH_FAILED"
	CodeRoomNotFound = "ROOM_NOT_FOUND"
	CodeRoomNotLive  = "ROOM_NOT_LIVE"
)

var codeText = map[string]string{
	CodeAuthFailed:   "Authentication failed. Please log in again.",
	CodeRoomNotFound: "Room not found or has been deleted.",
	CodeRoomNotLive:  "Room is not currently active.",
}

const fallbackErrorText = "Connection error occurred"

// RoomError is a room-level failure surfaced to the UI.
type RoomError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *RoomError) Error() string { return e.Message }

// NewCodedError maps a server error code to user text; unknown codes
// keep the server's text.
func NewCodedError(code, serverText string) *RoomError {
	if text, ok := codeText[code]; ok {
		return &RoomError{Code: code, Message: text}
	}
	if serverText == "" {
		serverText = fallbackErrorText
	}
	return &RoomError{Code: code, Message: serverText}
}

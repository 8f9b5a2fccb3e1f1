package domain

type RoomID string

// Room is the read-mostly snapshot fetched when entering a room.
type Room struct {
	ID                   RoomID `json:"id"`
	Title                string `json:"title"`
	HostID               UserID `json:"host_id"`
	IsLive               bool   `json:"is_live"`
	CreatedAt            string `json:"created_at"`
	Host                 *User  `json:"host,omitempty"`
	ActiveParticipants   int    `json:"active_participants"`
	ExistingParticipants []User `json:"existing_participants,omitempty"`
}

func (r *Room) IsHost(id UserID) bool { return r != nil && r.HostID == id }

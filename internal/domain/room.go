package domain

import "time"

const MaxRoomNameLen = 36

// RoomLink is the public share link of a room.
type RoomLink string

// RoomSummary is the read-only view of a room handed to API clients.
type RoomSummary struct {
	Name        string    `json:"name"`
	HostName    string    `json:"host_name"`
	ShareLink   RoomLink  `json:"share_link"`
	MemberCount int       `json:"member_count"`
	CreatedAt   time.Time `json:"created_at"`
	Hosting     bool      `json:"hosting"`
}

// TrimRoomName cuts a room name to MaxRoomNameLen runes.
func TrimRoomName(name string) string {
	r := []rune(name)
	if len(r) > MaxRoomNameLen {
		return string(r[:MaxRoomNameLen])
	}
	return name
}

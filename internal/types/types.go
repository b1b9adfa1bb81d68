package types

import (
	"time"
)

const (
	EventRoomCreated    = "room.created"
	EventRoomDeleted    = "room.deleted"
	EventMessageCreated = "message.created"
)

type Room struct {
	Id        int       `json:"id"`
	Name      string    `json:"name"`
	Messages  []Message `json:"messages,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

type Message struct {
	Id         int       `json:"id"`
	RoomId     int       `json:"chatroom_id"`
	Content    string    `json:"content"`
	SenderName string    `json:"sender_name"`
	CreatedAt  time.Time `json:"created_at"`
}

// RoomDeleted is the data of a room.deleted event.
type RoomDeleted struct {
	Id   int    `json:"id"`
	Name string `json:"name"`
}

// Event is the envelope published on every topic. Recipients dispatch on
// Event.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type ActiveNames struct {
	ActiveNames []string `json:"active_names"`
}

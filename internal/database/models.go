package database

import (
	"strings"
	"time"
)

const DefaultRoomName = "General"

type Room struct {
	Id        int
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsDefault reports whether r is the room that always exists.
func (r Room) IsDefault() bool {
	return strings.EqualFold(r.Name, DefaultRoomName)
}

type Message struct {
	Id         int
	RoomId     int
	Content    string
	SenderName string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type CreateRoomParams struct {
	Name string
}

type CreateMessageParams struct {
	RoomId     int
	Content    string
	SenderName string
}

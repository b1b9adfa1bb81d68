package database

import "errors"

var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrDuplicateRoomName = errors.New("room name has already been taken")
)

type GoChatRepository interface {
	Ping() error
	ListRooms() ([]Room, error)
	GetRoom(id int) (Room, error)
	EnsureDefaultRoom() (Room, error)
	CreateRoom(params CreateRoomParams) (Room, error)
	DeleteRoom(id int) error
	CreateMessage(params CreateMessageParams) (Message, error)
	GetMessages(roomId int) ([]Message, error)
}

package server

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/npezzotti/go-chatroom/internal/channel"
	"github.com/npezzotti/go-chatroom/internal/database"
)

// RoomLookup adapts the room repository to channel.RoomFinder.
type RoomLookup struct {
	db database.GoChatRepository
}

func NewRoomLookup(db database.GoChatRepository) *RoomLookup {
	return &RoomLookup{db: db}
}

func (l *RoomLookup) FindRoom(_ context.Context, roomID string) error {
	// only canonical ids, so presence keys match the ids the REST layer uses
	id, err := strconv.Atoi(roomID)
	if err != nil || strconv.Itoa(id) != roomID {
		return channel.ErrRoomNotFound
	}

	if _, err := l.db.GetRoom(id); err != nil {
		if errors.Is(err, database.ErrRoomNotFound) {
			return channel.ErrRoomNotFound
		}
		return fmt.Errorf("get room %d: %w", id, err)
	}

	return nil
}

package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

type PgGoChatRepository struct {
	conn *sql.DB
}

func NewPgGoChatRepository(dsn string) (*PgGoChatRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PgGoChatRepository{conn: db}, nil
}

func (db *PgGoChatRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

func (db *PgGoChatRepository) Ping() error {
	return db.conn.Ping()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func (db *PgGoChatRepository) ListRooms() ([]Room, error) {
	rows, err := db.conn.Query("SELECT id, name, created_at, updated_at FROM rooms ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		var room Room
		if err := rows.Scan(&room.Id, &room.Name, &room.CreatedAt, &room.UpdatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}

	return rooms, rows.Err()
}

func (db *PgGoChatRepository) GetRoom(id int) (Room, error) {
	row := db.conn.QueryRow(
		"SELECT id, name, created_at, updated_at FROM rooms WHERE id = $1",
		id,
	)

	var room Room
	err := row.Scan(&room.Id, &room.Name, &room.CreatedAt, &room.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Room{}, ErrRoomNotFound
	}

	return room, err
}

func (db *PgGoChatRepository) getRoomByName(name string) (Room, error) {
	row := db.conn.QueryRow(
		"SELECT id, name, created_at, updated_at FROM rooms WHERE LOWER(name) = LOWER($1) LIMIT 1",
		name,
	)

	var room Room
	err := row.Scan(&room.Id, &room.Name, &room.CreatedAt, &room.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Room{}, ErrRoomNotFound
	}

	return room, err
}

// EnsureDefaultRoom returns the default room, creating it if needed.
func (db *PgGoChatRepository) EnsureDefaultRoom() (Room, error) {
	room, err := db.getRoomByName(DefaultRoomName)
	if err == nil || !errors.Is(err, ErrRoomNotFound) {
		return room, err
	}

	now := time.Now().UTC()
	_, err = db.conn.Exec(
		"INSERT INTO rooms (name, created_at, updated_at) VALUES ($1, $2, $3) "+
			"ON CONFLICT (LOWER(name)) DO NOTHING",
		DefaultRoomName,
		now,
		now,
	)
	if err != nil {
		return Room{}, fmt.Errorf("create default room: %w", err)
	}

	return db.getRoomByName(DefaultRoomName)
}

func (db *PgGoChatRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	now := time.Now().UTC()
	res := db.conn.QueryRow(
		"INSERT INTO rooms (name, created_at, updated_at) "+
			"VALUES ($1, $2, $3) RETURNING id, name, created_at, updated_at",
		strings.TrimSpace(params.Name),
		now,
		now,
	)

	var room Room
	err := res.Scan(&room.Id, &room.Name, &room.CreatedAt, &room.UpdatedAt)
	if isUniqueViolation(err) {
		return Room{}, ErrDuplicateRoomName
	}

	return room, err
}

// DeleteRoom removes a room. Its messages are removed by the foreign key
// cascade.
func (db *PgGoChatRepository) DeleteRoom(id int) error {
	res, err := db.conn.Exec("DELETE FROM rooms WHERE id = $1", id)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRoomNotFound
	}

	return nil
}

func (db *PgGoChatRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	now := time.Now().UTC()
	res := db.conn.QueryRow(
		"INSERT INTO messages (room_id, content, sender_name, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING id, room_id, content, sender_name, created_at, updated_at",
		params.RoomId,
		params.Content,
		params.SenderName,
		now,
		now,
	)

	var msg Message
	err := res.Scan(&msg.Id, &msg.RoomId, &msg.Content, &msg.SenderName, &msg.CreatedAt, &msg.UpdatedAt)
	return msg, err
}

func (db *PgGoChatRepository) GetMessages(roomId int) ([]Message, error) {
	rows, err := db.conn.Query(
		"SELECT id, room_id, content, sender_name, created_at, updated_at FROM messages "+
			"WHERE room_id = $1 ORDER BY created_at ASC, id ASC",
		roomId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.Id, &msg.RoomId, &msg.Content, &msg.SenderName, &msg.CreatedAt, &msg.UpdatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

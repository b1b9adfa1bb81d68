package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatroom/internal/channel"
	"github.com/npezzotti/go-chatroom/internal/database"
	"github.com/npezzotti/go-chatroom/internal/presence"
	"github.com/npezzotti/go-chatroom/internal/stats"
	"github.com/npezzotti/go-chatroom/internal/types"
)

type CreateRoomRequest struct {
	Name string `json:"name"`
}

type CreateMessageRequest struct {
	Content    string `json:"content"`
	SenderName string `json:"sender_name"`
}

func (s *GoChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("json encode", "err", err)
	}
}

func (s *GoChatApp) writeError(w http.ResponseWriter, r *http.Request, e *ApiError) {
	if e.Err != nil {
		reqId, _ := RequestId(r.Context())
		s.log.Error("request failed", "request_id", reqId, "path", r.URL.Path, "err", e.Err)
	}
	s.writeJson(w, e.StatusCode, e)
}

// publish fans an event out to topic. Delivery is best effort; a failed
// publish never fails the request.
func (s *GoChatApp) publish(topic, event string, data any) {
	payload, err := json.Marshal(types.Event{Event: event, Data: data})
	if err != nil {
		s.log.Error("marshal event", "event", event, "err", err)
		return
	}

	if err := s.events.Publish(topic, payload); err != nil {
		s.log.Warn("publish event", "topic", topic, "event", event, "err", err)
		return
	}
	s.stats.Incr(stats.NumPublishedEvents)
}

func roomId(r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func toRoom(room database.Room) types.Room {
	return types.Room{
		Id:        room.Id,
		Name:      room.Name,
		CreatedAt: room.CreatedAt,
		UpdatedAt: room.UpdatedAt,
	}
}

func toMessage(msg database.Message) types.Message {
	return types.Message{
		Id:         msg.Id,
		RoomId:     msg.RoomId,
		Content:    msg.Content,
		SenderName: msg.SenderName,
		CreatedAt:  msg.CreatedAt,
	}
}

func (s *GoChatApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.writeError(w, r, NewInternalServerError(err))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *GoChatApp) listRooms(w http.ResponseWriter, r *http.Request) {
	if _, err := s.db.EnsureDefaultRoom(); err != nil {
		s.writeError(w, r, NewInternalServerError(err))
		return
	}

	dbRooms, err := s.db.ListRooms()
	if err != nil {
		s.writeError(w, r, NewInternalServerError(err))
		return
	}

	rooms := make([]types.Room, 0, len(dbRooms))
	for _, room := range dbRooms {
		rooms = append(rooms, toRoom(room))
	}

	s.writeJson(w, http.StatusOK, rooms)
}

func (s *GoChatApp) createRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, NewBadRequestError())
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		s.writeError(w, r, NewUnprocessableEntityError("Name can't be blank"))
		return
	}

	newRoom, err := s.db.CreateRoom(database.CreateRoomParams{Name: name})
	if err != nil {
		if errors.Is(err, database.ErrDuplicateRoomName) {
			s.writeError(w, r, NewUnprocessableEntityError("Name has already been taken"))
			return
		}
		s.writeError(w, r, NewInternalServerError(err))
		return
	}

	room := toRoom(newRoom)
	s.publish(channel.RoomsTopic, types.EventRoomCreated, room)

	s.writeJson(w, http.StatusCreated, room)
}

func (s *GoChatApp) getRoom(w http.ResponseWriter, r *http.Request) {
	id, ok := roomId(r)
	if !ok {
		s.writeError(w, r, NewNotFoundError())
		return
	}

	dbRoom, err := s.db.GetRoom(id)
	if err != nil {
		if errors.Is(err, database.ErrRoomNotFound) {
			s.writeError(w, r, NewNotFoundError())
			return
		}
		s.writeError(w, r, NewInternalServerError(err))
		return
	}

	dbMessages, err := s.db.GetMessages(id)
	if err != nil {
		s.writeError(w, r, NewInternalServerError(err))
		return
	}

	room := toRoom(dbRoom)
	room.Messages = make([]types.Message, 0, len(dbMessages))
	for _, msg := range dbMessages {
		room.Messages = append(room.Messages, toMessage(msg))
	}

	s.writeJson(w, http.StatusOK, room)
}

func (s *GoChatApp) deleteRoom(w http.ResponseWriter, r *http.Request) {
	id, ok := roomId(r)
	if !ok {
		s.writeError(w, r, NewNotFoundError())
		return
	}

	room, err := s.db.GetRoom(id)
	if err != nil {
		if errors.Is(err, database.ErrRoomNotFound) {
			s.writeError(w, r, NewNotFoundError())
			return
		}
		s.writeError(w, r, NewInternalServerError(err))
		return
	}

	if room.IsDefault() {
		s.writeError(w, r, NewUnprocessableEntityError("The default room cannot be deleted."))
		return
	}

	if err := s.db.DeleteRoom(room.Id); err != nil {
		if errors.Is(err, database.ErrRoomNotFound) {
			s.writeError(w, r, NewNotFoundError())
			return
		}
		s.writeError(w, r, NewInternalServerError(err))
		return
	}

	s.publish(channel.RoomsTopic, types.EventRoomDeleted, types.RoomDeleted{Id: room.Id, Name: room.Name})

	if err := s.presence.ClearRoom(r.Context(), strconv.Itoa(room.Id)); err != nil {
		s.log.Warn("clear room presence", "room_id", room.Id, "err", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *GoChatApp) roomPresence(w http.ResponseWriter, r *http.Request) {
	id, ok := roomId(r)
	if !ok {
		s.writeError(w, r, NewNotFoundError())
		return
	}

	if _, err := s.db.GetRoom(id); err != nil {
		if errors.Is(err, database.ErrRoomNotFound) {
			s.writeError(w, r, NewNotFoundError())
			return
		}
		s.writeError(w, r, NewInternalServerError(err))
		return
	}

	names, err := s.presence.ActiveNames(r.Context(), strconv.Itoa(id))
	if err != nil {
		s.writeError(w, r, presenceError(err))
		return
	}

	s.writeJson(w, http.StatusOK, types.ActiveNames{ActiveNames: nonNil(names)})
}

func (s *GoChatApp) onlineUsers(w http.ResponseWriter, r *http.Request) {
	names, err := s.presence.AllActiveNames(r.Context())
	if err != nil {
		s.writeError(w, r, presenceError(err))
		return
	}

	s.writeJson(w, http.StatusOK, types.ActiveNames{ActiveNames: nonNil(names)})
}

func presenceError(err error) *ApiError {
	if errors.Is(err, presence.ErrStoreUnavailable) {
		return NewServiceUnavailableError(err)
	}
	return NewInternalServerError(err)
}

func nonNil(names []string) []string {
	if names == nil {
		return []string{}
	}
	return names
}

func (s *GoChatApp) getMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := roomId(r)
	if !ok {
		s.writeError(w, r, NewNotFoundError())
		return
	}

	if _, err := s.db.GetRoom(id); err != nil {
		if errors.Is(err, database.ErrRoomNotFound) {
			s.writeError(w, r, NewNotFoundError())
			return
		}
		s.writeError(w, r, NewInternalServerError(err))
		return
	}

	dbMessages, err := s.db.GetMessages(id)
	if err != nil {
		s.writeError(w, r, NewInternalServerError(err))
		return
	}

	messages := make([]types.Message, 0, len(dbMessages))
	for _, msg := range dbMessages {
		messages = append(messages, toMessage(msg))
	}

	s.writeJson(w, http.StatusOK, messages)
}

func (s *GoChatApp) createMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := roomId(r)
	if !ok {
		s.writeError(w, r, NewNotFoundError())
		return
	}

	var req CreateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, NewBadRequestError())
		return
	}

	if _, err := s.db.GetRoom(id); err != nil {
		if errors.Is(err, database.ErrRoomNotFound) {
			s.writeError(w, r, NewNotFoundError())
			return
		}
		s.writeError(w, r, NewInternalServerError(err))
		return
	}

	var errs []string
	if strings.TrimSpace(req.Content) == "" {
		errs = append(errs, "Content can't be blank")
	}
	if strings.TrimSpace(req.SenderName) == "" {
		errs = append(errs, "Sender name can't be blank")
	}
	if len(errs) > 0 {
		s.writeError(w, r, NewUnprocessableEntityError(errs...))
		return
	}

	dbMsg, err := s.db.CreateMessage(database.CreateMessageParams{
		RoomId:     id,
		Content:    req.Content,
		SenderName: strings.TrimSpace(req.SenderName),
	})
	if err != nil {
		s.writeError(w, r, NewInternalServerError(err))
		return
	}

	msg := toMessage(dbMsg)
	s.publish(channel.RoomTopic(strconv.Itoa(id)), types.EventMessageCreated, msg)

	s.writeJson(w, http.StatusCreated, msg)
}

func (s *GoChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("error upgrading connection", "err", err)
		return
	}

	if _, err := s.cs.Connect(conn); err != nil {
		s.log.Error("connect client", "err", err)
		conn.Close()
	}
}

package server

import (
	"encoding/json"
	"net/http"
	"time"
)

const (
	ChannelRoom  = "room"
	ChannelRooms = "rooms"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ClientMessage struct {
	BaseMessage
	Subscribe   *Subscribe   `json:"subscribe,omitempty"`
	Unsubscribe *Unsubscribe `json:"unsubscribe,omitempty"`
}

type Subscribe struct {
	Channel  string `json:"channel"`
	RoomId   string `json:"room_id,omitempty"`
	UserName string `json:"user_name,omitempty"`
}

type Unsubscribe struct {
	Channel string `json:"channel"`
}

type ServerMessage struct {
	BaseMessage
	Response  *Response  `json:"response,omitempty"`
	Broadcast *Broadcast `json:"broadcast,omitempty"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

// Broadcast carries a payload published on a topic the connection is
// subscribed to.
type Broadcast struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

func NoErrOK(id int, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

// Welcome tells a new connection its participant id.
func Welcome(participantId string) *ServerMessage {
	return NoErrOK(0, map[string]any{"participant_id": participantId})
}

func NewBroadcast(topic string, payload []byte) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Broadcast: &Broadcast{
			Topic:   topic,
			Payload: json.RawMessage(payload),
		},
	}
}

func errResponse(id, code int, msg string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: code,
			Error:        msg,
		},
	}
}

func ErrRoomNotFound(id int) *ServerMessage {
	return errResponse(id, http.StatusNotFound, "room not found")
}

func ErrNameTaken(id int) *ServerMessage {
	return errResponse(id, http.StatusConflict, "name is already in use")
}

func ErrAlreadySubscribed(id int) *ServerMessage {
	return errResponse(id, http.StatusConflict, "already subscribed to a room")
}

func ErrInvalidName(id int) *ServerMessage {
	return errResponse(id, http.StatusBadRequest, "name must not be blank")
}

func ErrInternalError(id int) *ServerMessage {
	return errResponse(id, http.StatusInternalServerError, "internal server error")
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return errResponse(id, http.StatusServiceUnavailable, "service unavailable")
}

func ErrInvalidMessage(id int) *ServerMessage {
	if id < 0 {
		id = 0
	}
	return errResponse(id, http.StatusBadRequest, "invalid message format")
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}

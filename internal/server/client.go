package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatroom/internal/channel"
	"github.com/npezzotti/go-chatroom/internal/presence"
	"github.com/npezzotti/go-chatroom/internal/stats"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 1024
	joinTimeout    = 5 * time.Second
)

// Client is one websocket connection. Room and feed sessions are only
// touched from the Read goroutine.
type Client struct {
	id         string
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *slog.Logger
	send       chan *ServerMessage
	stop       chan struct{}
	stopOnce   sync.Once

	mu   sync.Mutex
	room *channel.RoomSession
	feed *channel.FeedSession
}

func NewClient(id string, conn *websocket.Conn, cs *ChatServer, l *slog.Logger) *Client {
	c := &Client{
		id:         id,
		conn:       conn,
		chatServer: cs,
		log:        l.With("participant_id", id),
		send:       make(chan *ServerMessage, 256),
		stop:       make(chan struct{}),
	}
	c.feed = channel.NewFeedSession(c, cs.topics)
	return c
}

// Deliver queues a broadcast for the connection. It never blocks.
func (c *Client) Deliver(topic string, payload []byte) {
	c.queueMessage(NewBroadcast(topic, payload))
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug("write exiting")
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.Error("failed to serialize message", "err", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.sendMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Debug("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warn("ws read", "err", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Debug("error parsing message", "err", err)
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}
		msg.Timestamp = Now()

		c.dispatch(&msg)
	}
}

func (c *Client) dispatch(msg *ClientMessage) {
	switch {
	case msg.Subscribe != nil:
		switch msg.Subscribe.Channel {
		case ChannelRoom:
			c.subscribeRoom(msg)
		case ChannelRooms:
			c.feed.Subscribe()
			c.queueMessage(NoErrOK(msg.Id, map[string]any{"channel": ChannelRooms}))
		default:
			c.queueMessage(ErrInvalidMessage(msg.Id))
		}
	case msg.Unsubscribe != nil:
		switch msg.Unsubscribe.Channel {
		case ChannelRoom:
			c.leaveRoom()
			c.queueMessage(NoErrOK(msg.Id, map[string]any{"channel": ChannelRoom}))
		case ChannelRooms:
			c.feed.Unsubscribe()
			c.queueMessage(NoErrOK(msg.Id, map[string]any{"channel": ChannelRooms}))
		default:
			c.queueMessage(ErrInvalidMessage(msg.Id))
		}
	default:
		c.queueMessage(ErrInvalidMessage(msg.Id))
	}
}

func (c *Client) subscribeRoom(msg *ClientMessage) {
	c.mu.Lock()
	if c.room != nil {
		switch c.room.State() {
		case channel.Joining, channel.Subscribed:
			c.mu.Unlock()
			c.queueMessage(ErrAlreadySubscribed(msg.Id))
			return
		}
	}
	sess := c.chatServer.newRoomSession(c)
	c.room = sess
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), joinTimeout)
	defer cancel()

	roomId := msg.Subscribe.RoomId
	if err := sess.Join(ctx, roomId, msg.Subscribe.UserName); err != nil {
		if errors.Is(err, channel.ErrSessionEnded) {
			return
		}
		c.chatServer.stats.Incr(stats.NumRejectedJoins)
		c.queueMessage(c.joinErrorResponse(msg.Id, err))
		return
	}

	c.chatServer.stats.Incr(stats.NumRoomSessions)
	c.queueMessage(NoErrOK(msg.Id, map[string]any{
		"channel":   ChannelRoom,
		"room_id":   roomId,
		"user_name": strings.TrimSpace(msg.Subscribe.UserName),
	}))
}

func (c *Client) joinErrorResponse(id int, err error) *ServerMessage {
	switch {
	case errors.Is(err, channel.ErrRoomNotFound):
		return ErrRoomNotFound(id)
	case errors.Is(err, presence.ErrNameTaken):
		return ErrNameTaken(id)
	case errors.Is(err, channel.ErrInvalidName):
		return ErrInvalidName(id)
	case errors.Is(err, presence.ErrStoreUnavailable):
		c.log.Warn("presence store unavailable", "err", err)
		return ErrServiceUnavailable(id)
	default:
		c.log.Error("join failed", "err", err)
		return ErrInternalError(id)
	}
}

// leaveRoom ends the current room session, if any.
func (c *Client) leaveRoom() {
	c.mu.Lock()
	sess := c.room
	c.room = nil
	c.mu.Unlock()

	if sess == nil {
		return
	}

	wasSubscribed := sess.State() == channel.Subscribed

	ctx, cancel := context.WithTimeout(context.Background(), joinTimeout)
	defer cancel()
	sess.Leave(ctx)

	if wasSubscribed {
		c.chatServer.stats.Decr(stats.NumRoomSessions)
	}
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Warn("failed to send message to client, channel is full")
		return false
	}

	return true
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Warn("write message", "err", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Client) cleanup() {
	c.leaveRoom()
	c.feed.Unsubscribe()
	c.chatServer.deRegister(c)
	c.stopClient()
}

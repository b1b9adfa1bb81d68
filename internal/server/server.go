package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatroom/internal/channel"
	"github.com/npezzotti/go-chatroom/internal/stats"
)

// ChatServer tracks the live websocket connections and builds their room
// sessions.
type ChatServer struct {
	log            *slog.Logger
	rooms          channel.RoomFinder
	presence       channel.Presence
	topics         channel.Subscriptions
	stats          stats.StatsProvider
	clients        map[*Client]struct{}
	clientsLock    sync.Mutex
	registerChan   chan *Client
	deRegisterChan chan *Client
	stop           chan struct{}
	stopOnce       sync.Once
	done           chan struct{}
}

func NewChatServer(logger *slog.Logger, rooms channel.RoomFinder, p channel.Presence, topics channel.Subscriptions, su stats.StatsProvider) *ChatServer {
	su.RegisterMetric(stats.NumConnections)
	su.RegisterMetric(stats.NumRoomSessions)
	su.RegisterMetric(stats.NumRejectedJoins)

	cs := &ChatServer{
		log:            logger,
		rooms:          rooms,
		presence:       p,
		topics:         topics,
		stats:          su,
		clients:        make(map[*Client]struct{}),
		registerChan:   make(chan *Client),
		deRegisterChan: make(chan *Client),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
	su.RegisterGauge(stats.NumClients, cs.NumClients)

	return cs
}

func (cs *ChatServer) Run() {
	for {
		select {
		case client := <-cs.registerChan:
			cs.log.Debug("adding connection", "participant_id", client.id)
			cs.addClient(client)
			cs.stats.Incr(stats.NumConnections)
		case client := <-cs.deRegisterChan:
			cs.log.Debug("removing connection", "participant_id", client.id)
			if cs.removeClient(client) {
				cs.stats.Decr(stats.NumConnections)
			}
		case <-cs.stop:
			close(cs.done)
			return
		}
	}
}

// Connect assigns the connection a participant id, registers it and starts
// its pumps.
func (cs *ChatServer) Connect(conn *websocket.Conn) (*Client, error) {
	// Participant ids must be unique across every instance sharing the
	// presence store.
	id := uuid.NewString()

	c := NewClient(id, conn, cs, cs.log)
	if !cs.register(c) {
		return nil, fmt.Errorf("chat server is shutting down")
	}

	c.queueMessage(Welcome(id))
	go c.Write()
	go c.Read()

	return c, nil
}

func (cs *ChatServer) register(c *Client) bool {
	select {
	case cs.registerChan <- c:
		return true
	case <-cs.done:
		return false
	}
}

func (cs *ChatServer) deRegister(c *Client) {
	select {
	case cs.deRegisterChan <- c:
	case <-cs.done:
	}
}

func (cs *ChatServer) newRoomSession(c *Client) *channel.RoomSession {
	return channel.NewRoomSession(c.id, c, cs.rooms, cs.presence, cs.topics, c.log)
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	cs.clients[c] = struct{}{}
}

func (cs *ChatServer) removeClient(c *Client) bool {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	if _, ok := cs.clients[c]; !ok {
		return false
	}
	delete(cs.clients, c)
	return true
}

// NumClients returns the number of registered connections.
func (cs *ChatServer) NumClients() int {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	return len(cs.clients)
}

// Shutdown closes every connection and stops Run. Each connection's read
// loop tears down its sessions as it exits.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Info("shutting down chat server")

	cs.clientsLock.Lock()
	for c := range cs.clients {
		c.stopClient()
	}
	cs.clientsLock.Unlock()

	cs.stopOnce.Do(func() { close(cs.stop) })

	select {
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("chat server shutdown: %w", ctx.Err())
	}
}

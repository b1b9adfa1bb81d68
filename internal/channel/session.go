// Package channel ties a client connection to a room's live feed. A
// RoomSession gates the subscription on presence; a FeedSession is a plain
// subscription to room lifecycle events.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/npezzotti/go-chatroom/internal/broker"
	"github.com/npezzotti/go-chatroom/internal/presence"
)

// RoomsTopic carries room lifecycle events.
const RoomsTopic = "rooms"

// RoomTopic is the topic carrying the events of one room.
func RoomTopic(roomID string) string {
	return "room." + roomID
}

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrInvalidName  = errors.New("name must not be blank")
	ErrNameTaken    = presence.ErrNameTaken
	ErrInvalidState = errors.New("session cannot join in its current state")
	ErrSessionEnded = errors.New("session ended while joining")
)

type State int

const (
	Unattached State = iota
	Joining
	Subscribed
	Rejected
	Terminated
)

func (s State) String() string {
	switch s {
	case Unattached:
		return "unattached"
	case Joining:
		return "joining"
	case Subscribed:
		return "subscribed"
	case Rejected:
		return "rejected"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// RoomFinder resolves a room id. It returns ErrRoomNotFound when the room
// does not exist.
type RoomFinder interface {
	FindRoom(ctx context.Context, roomID string) error
}

type Presence interface {
	Join(ctx context.Context, roomID, participantID, displayName string) error
	Leave(ctx context.Context, roomID, participantID string) error
}

type Subscriptions interface {
	Subscribe(topic string, sub broker.Subscriber) *broker.Subscription
}

// RoomSession is the per-connection state machine for a room feed:
//
//	Unattached -> Joining -> Subscribed -> Terminated
//	Unattached -> Joining -> Rejected -> Terminated
//
// It is owned by a single connection.
type RoomSession struct {
	participantID string
	conn          broker.Subscriber
	rooms         RoomFinder
	presence      Presence
	topics        Subscriptions
	log           *slog.Logger

	mu     sync.Mutex
	state  State
	roomID string
	sub    *broker.Subscription
}

func NewRoomSession(participantID string, conn broker.Subscriber, rooms RoomFinder, p Presence, topics Subscriptions, logger *slog.Logger) *RoomSession {
	return &RoomSession{
		participantID: participantID,
		conn:          conn,
		rooms:         rooms,
		presence:      p,
		topics:        topics,
		log:           logger,
		state:         Unattached,
	}
}

func (s *RoomSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *RoomSession) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

func (s *RoomSession) ParticipantID() string {
	return s.participantID
}

// Join validates the request, admits the participant into the room's
// presence and subscribes the connection to the room topic. Any failure
// leaves the session Rejected.
func (s *RoomSession) Join(ctx context.Context, roomID, displayName string) error {
	s.mu.Lock()
	if s.state != Unattached {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrInvalidState, state)
	}
	s.state = Joining
	s.roomID = roomID
	s.mu.Unlock()

	if err := s.rooms.FindRoom(ctx, roomID); err != nil {
		return s.reject(err)
	}

	name := strings.TrimSpace(displayName)
	if name == "" {
		return s.reject(ErrInvalidName)
	}

	if err := s.presence.Join(ctx, roomID, s.participantID, name); err != nil {
		return s.reject(err)
	}

	s.mu.Lock()
	if s.state != Joining {
		// Leave ran while the registry call was in flight.
		s.mu.Unlock()
		s.leavePresence(roomID)
		return ErrSessionEnded
	}
	s.sub = s.topics.Subscribe(RoomTopic(roomID), s.conn)
	s.state = Subscribed
	s.mu.Unlock()

	s.log.Debug("joined room", "room_id", roomID, "participant_id", s.participantID, "name", name)
	return nil
}

func (s *RoomSession) reject(err error) error {
	s.mu.Lock()
	if s.state == Joining {
		s.state = Rejected
	}
	s.mu.Unlock()

	s.log.Debug("join rejected", "room_id", s.RoomID(), "participant_id", s.participantID, "err", err)
	return err
}

// Leave unsubscribes the connection and removes its presence entry, then
// terminates the session. It may be called in any state, more than once.
func (s *RoomSession) Leave(ctx context.Context) {
	s.mu.Lock()
	prev := s.state
	roomID := s.roomID
	sub := s.sub
	s.sub = nil
	s.state = Terminated
	s.mu.Unlock()

	sub.Unsubscribe()

	switch prev {
	case Joining, Subscribed:
		s.leavePresenceCtx(ctx, roomID)
	}
}

func (s *RoomSession) leavePresence(roomID string) {
	s.leavePresenceCtx(context.Background(), roomID)
}

func (s *RoomSession) leavePresenceCtx(ctx context.Context, roomID string) {
	if err := s.presence.Leave(ctx, roomID, s.participantID); err != nil {
		s.log.Warn("presence leave failed", "room_id", roomID, "participant_id", s.participantID, "err", err)
	}
}

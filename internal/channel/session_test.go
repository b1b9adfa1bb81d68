package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/npezzotti/go-chatroom/internal/broker"
	"github.com/npezzotti/go-chatroom/internal/presence"
	"github.com/npezzotti/go-chatroom/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRooms struct {
	mock.Mock
}

func (m *mockRooms) FindRoom(ctx context.Context, roomID string) error {
	args := m.Called(roomID)
	return args.Error(0)
}

type mockPresence struct {
	mock.Mock
}

func (m *mockPresence) Join(ctx context.Context, roomID, participantID, displayName string) error {
	args := m.Called(roomID, participantID, displayName)
	return args.Error(0)
}

func (m *mockPresence) Leave(ctx context.Context, roomID, participantID string) error {
	args := m.Called(roomID, participantID)
	return args.Error(0)
}

type conn struct {
	mu       sync.Mutex
	payloads []string
}

func (c *conn) Deliver(topic string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, topic+":"+string(payload))
}

func (c *conn) received() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.payloads...)
}

func TestRoomTopic(t *testing.T) {
	assert.Equal(t, "room.5", RoomTopic("5"))
	assert.Equal(t, "rooms", RoomsTopic)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "unattached", Unattached.String())
	assert.Equal(t, "joining", Joining.String())
	assert.Equal(t, "subscribed", Subscribed.String())
	assert.Equal(t, "rejected", Rejected.String())
	assert.Equal(t, "terminated", Terminated.String())
	assert.Equal(t, "State(9)", State(9).String())
}

func TestRoomSession_Join(t *testing.T) {
	storeErr := fmt.Errorf("%w: hgetall: dial tcp: refused", presence.ErrStoreUnavailable)

	tcases := []struct {
		name        string
		roomID      string
		displayName string
		findErr     error
		callsJoin   bool
		joinErr     error
		expectErr   error
		expectState State
	}{
		{
			name:        "successful join",
			roomID:      "1",
			displayName: "Alex",
			callsJoin:   true,
			expectState: Subscribed,
		},
		{
			name:        "room not found",
			roomID:      "missing",
			displayName: "Alex",
			findErr:     ErrRoomNotFound,
			expectErr:   ErrRoomNotFound,
			expectState: Rejected,
		},
		{
			name:        "blank name",
			roomID:      "1",
			displayName: "   ",
			expectErr:   ErrInvalidName,
			expectState: Rejected,
		},
		{
			name:        "name taken",
			roomID:      "1",
			displayName: "Alex",
			callsJoin:   true,
			joinErr:     fmt.Errorf("%w: %q", presence.ErrNameTaken, "Alex"),
			expectErr:   ErrNameTaken,
			expectState: Rejected,
		},
		{
			name:        "store unavailable",
			roomID:      "1",
			displayName: "Alex",
			callsJoin:   true,
			joinErr:     storeErr,
			expectErr:   presence.ErrStoreUnavailable,
			expectState: Rejected,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			rooms := &mockRooms{}
			defer rooms.AssertExpectations(t)
			p := &mockPresence{}
			defer p.AssertExpectations(t)

			rooms.On("FindRoom", tc.roomID).Return(tc.findErr).Once()
			if tc.callsJoin {
				p.On("Join", tc.roomID, "p1", "Alex").Return(tc.joinErr).Once()
			}

			b := broker.New()
			c := &conn{}
			s := NewRoomSession("p1", c, rooms, p, b, testutil.TestLogger(t))
			assert.Equal(t, Unattached, s.State())

			err := s.Join(context.Background(), tc.roomID, tc.displayName)
			if tc.expectErr != nil {
				assert.ErrorIs(t, err, tc.expectErr)
			} else {
				assert.NoError(t, err)
			}

			assert.Equal(t, tc.expectState, s.State())
			assert.Equal(t, tc.roomID, s.RoomID())
			assert.Equal(t, "p1", s.ParticipantID())

			subscribed := 0
			if tc.expectState == Subscribed {
				subscribed = 1
			}
			assert.Equal(t, subscribed, b.Subscribers(RoomTopic(tc.roomID)))
		})
	}
}

func TestRoomSession_StoreErrorIsNotNameTaken(t *testing.T) {
	rooms := &mockRooms{}
	rooms.On("FindRoom", "1").Return(nil)
	p := &mockPresence{}
	p.On("Join", "1", "p1", "Alex").Return(presence.ErrStoreUnavailable)

	s := NewRoomSession("p1", &conn{}, rooms, p, broker.New(), testutil.TestLogger(t))
	err := s.Join(context.Background(), "1", "Alex")

	assert.ErrorIs(t, err, presence.ErrStoreUnavailable)
	assert.False(t, errors.Is(err, ErrNameTaken))
	assert.Equal(t, Rejected, s.State())
}

func TestRoomSession_JoinOnlyFromUnattached(t *testing.T) {
	rooms := &mockRooms{}
	rooms.On("FindRoom", "1").Return(nil).Once()
	p := &mockPresence{}
	p.On("Join", "1", "p1", "Alex").Return(nil).Once()
	p.On("Leave", "1", "p1").Return(nil).Once()
	defer p.AssertExpectations(t)

	s := NewRoomSession("p1", &conn{}, rooms, p, broker.New(), testutil.TestLogger(t))
	require.NoError(t, s.Join(context.Background(), "1", "Alex"))

	err := s.Join(context.Background(), "1", "Alex")
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, Subscribed, s.State())

	s.Leave(context.Background())
	assert.ErrorIs(t, s.Join(context.Background(), "1", "Alex"), ErrInvalidState)
	assert.Equal(t, Terminated, s.State())
}

func TestRoomSession_ReceivesRoomEvents(t *testing.T) {
	rooms := &mockRooms{}
	rooms.On("FindRoom", "1").Return(nil)
	p := &mockPresence{}
	p.On("Join", "1", "p1", "Alex").Return(nil)
	p.On("Leave", "1", "p1").Return(nil)

	b := broker.New()
	c := &conn{}
	s := NewRoomSession("p1", c, rooms, p, b, testutil.TestLogger(t))

	b.Publish(RoomTopic("1"), []byte("before"))
	require.NoError(t, s.Join(context.Background(), "1", "Alex"))
	b.Publish(RoomTopic("1"), []byte("during"))
	b.Publish(RoomTopic("2"), []byte("elsewhere"))
	s.Leave(context.Background())
	b.Publish(RoomTopic("1"), []byte("after"))

	assert.Equal(t, []string{"room.1:during"}, c.received())
}

func TestRoomSession_Leave(t *testing.T) {
	t.Run("subscribed session leaves presence and topic", func(t *testing.T) {
		rooms := &mockRooms{}
		rooms.On("FindRoom", "1").Return(nil)
		p := &mockPresence{}
		p.On("Join", "1", "p1", "Alex").Return(nil)
		p.On("Leave", "1", "p1").Return(nil).Once()
		defer p.AssertExpectations(t)

		b := broker.New()
		s := NewRoomSession("p1", &conn{}, rooms, p, b, testutil.TestLogger(t))
		require.NoError(t, s.Join(context.Background(), "1", "Alex"))

		s.Leave(context.Background())
		s.Leave(context.Background())

		assert.Equal(t, Terminated, s.State())
		assert.Equal(t, 0, b.Subscribers(RoomTopic("1")))
	})

	t.Run("unattached session makes no presence call", func(t *testing.T) {
		p := &mockPresence{}
		defer p.AssertExpectations(t)

		s := NewRoomSession("p1", &conn{}, &mockRooms{}, p, broker.New(), testutil.TestLogger(t))
		s.Leave(context.Background())

		assert.Equal(t, Terminated, s.State())
		p.AssertNotCalled(t, "Leave", mock.Anything, mock.Anything)
	})

	t.Run("rejected session makes no presence call", func(t *testing.T) {
		rooms := &mockRooms{}
		rooms.On("FindRoom", "missing").Return(ErrRoomNotFound)
		p := &mockPresence{}
		defer p.AssertExpectations(t)

		s := NewRoomSession("p1", &conn{}, rooms, p, broker.New(), testutil.TestLogger(t))
		assert.ErrorIs(t, s.Join(context.Background(), "missing", "Alex"), ErrRoomNotFound)

		s.Leave(context.Background())
		assert.Equal(t, Terminated, s.State())
		p.AssertNotCalled(t, "Leave", mock.Anything, mock.Anything)
	})

	t.Run("presence leave failure is not fatal", func(t *testing.T) {
		rooms := &mockRooms{}
		rooms.On("FindRoom", "1").Return(nil)
		p := &mockPresence{}
		p.On("Join", "1", "p1", "Alex").Return(nil)
		p.On("Leave", "1", "p1").Return(presence.ErrStoreUnavailable).Once()
		defer p.AssertExpectations(t)

		b := broker.New()
		s := NewRoomSession("p1", &conn{}, rooms, p, b, testutil.TestLogger(t))
		require.NoError(t, s.Join(context.Background(), "1", "Alex"))

		assert.NotPanics(t, func() { s.Leave(context.Background()) })
		assert.Equal(t, Terminated, s.State())
		assert.Equal(t, 0, b.Subscribers(RoomTopic("1")))
	})
}

// blockingPresence holds Join until release is closed.
type blockingPresence struct {
	started chan struct{}
	release chan struct{}

	mu     sync.Mutex
	joined map[string]bool
	leaves int
}

func (p *blockingPresence) Join(ctx context.Context, roomID, participantID, displayName string) error {
	close(p.started)
	<-p.release
	p.mu.Lock()
	defer p.mu.Unlock()
	p.joined[participantID] = true
	return nil
}

func (p *blockingPresence) Leave(ctx context.Context, roomID, participantID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.joined, participantID)
	p.leaves++
	return nil
}

func TestRoomSession_LeaveDuringJoin(t *testing.T) {
	rooms := &mockRooms{}
	rooms.On("FindRoom", "1").Return(nil)
	p := &blockingPresence{
		started: make(chan struct{}),
		release: make(chan struct{}),
		joined:  make(map[string]bool),
	}

	b := broker.New()
	s := NewRoomSession("p1", &conn{}, rooms, p, b, testutil.TestLogger(t))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Join(context.Background(), "1", "Alex")
	}()

	select {
	case <-p.started:
	case <-time.After(time.Second):
		t.Fatal("timeout: join did not reach the presence registry")
	}

	assert.Equal(t, Joining, s.State())
	s.Leave(context.Background())
	assert.Equal(t, Terminated, s.State())

	close(p.release)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrSessionEnded)
	case <-time.After(time.Second):
		t.Fatal("timeout: join did not return")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Empty(t, p.joined, "the completed join must be undone")
	assert.Equal(t, 2, p.leaves)
	assert.Equal(t, 0, b.Subscribers(RoomTopic("1")), "a terminated session must not subscribe")
}

func TestRoomSession_WithRegistry(t *testing.T) {
	rooms := &mockRooms{}
	rooms.On("FindRoom", mock.Anything).Return(nil)

	reg := presence.NewRegistry(presence.NewMemoryStore(), testutil.TestLogger(t))
	b := broker.New()
	ctx := context.Background()

	u1 := NewRoomSession("u1", &conn{}, rooms, reg, b, testutil.TestLogger(t))
	require.NoError(t, u1.Join(ctx, "1", "Alex"))

	u2 := NewRoomSession("u2", &conn{}, rooms, reg, b, testutil.TestLogger(t))
	assert.ErrorIs(t, u2.Join(ctx, "2", "alex"), ErrNameTaken)
	assert.Equal(t, Rejected, u2.State())

	u1.Leave(ctx)

	retry := NewRoomSession("u2", &conn{}, rooms, reg, b, testutil.TestLogger(t))
	require.NoError(t, retry.Join(ctx, "2", "alex"))

	names, err := reg.ActiveNames(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, []string{"alex"}, names)
}

func TestFeedSession(t *testing.T) {
	b := broker.New()
	c := &conn{}
	f := NewFeedSession(c, b)
	assert.False(t, f.Subscribed())

	b.Publish(RoomsTopic, []byte("missed"))
	f.Subscribe()
	f.Subscribe()
	assert.True(t, f.Subscribed())
	assert.Equal(t, 1, b.Subscribers(RoomsTopic))

	b.Publish(RoomsTopic, []byte("created"))
	f.Unsubscribe()
	f.Unsubscribe()
	b.Publish(RoomsTopic, []byte("deleted"))

	assert.False(t, f.Subscribed())
	assert.Equal(t, []string{"rooms:created"}, c.received())
}

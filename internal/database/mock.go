package database

import (
	"github.com/stretchr/testify/mock"
)

type MockGoChatRepository struct {
	mock.Mock
}

func (m *MockGoChatRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockGoChatRepository) ListRooms() ([]Room, error) {
	args := m.Called()
	if rooms, ok := args.Get(0).([]Room); ok {
		return rooms, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockGoChatRepository) GetRoom(id int) (Room, error) {
	args := m.Called(id)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockGoChatRepository) EnsureDefaultRoom() (Room, error) {
	args := m.Called()
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockGoChatRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	args := m.Called(params)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockGoChatRepository) DeleteRoom(id int) error {
	args := m.Called(id)
	return args.Error(0)
}
func (m *MockGoChatRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockGoChatRepository) GetMessages(roomId int) ([]Message, error) {
	args := m.Called(roomId)
	if msgs, ok := args.Get(0).([]Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}

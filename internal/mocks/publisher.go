package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"
)

// PublisherMock stands in for the AMQP event publisher.
type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	args := m.Called(ctx, routingKey, event, headers)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

// Push is one event handed to a PushRecorder.
type Push struct {
	Event    string
	Data     any
	Channels []string
}

// PushRecorder records realtime pushes instead of delivering them.
type PushRecorder struct {
	mu     sync.Mutex
	pushes []Push
}

func (r *PushRecorder) Publish(event string, data any, channels ...string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushes = append(r.pushes, Push{Event: event, Data: data, Channels: channels})
	return len(channels)
}

func (r *PushRecorder) JoinGroupChannelForUser(groupID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushes = append(r.pushes, Push{Event: "join", Data: userID, Channels: []string{groupID}})
}

func (r *PushRecorder) LeaveGroupChannel(groupID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushes = append(r.pushes, Push{Event: "leave", Data: userID, Channels: []string{groupID}})
}

func (r *PushRecorder) DropGroupChannel(groupID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushes = append(r.pushes, Push{Event: "drop", Channels: []string{groupID}})
}

// Pushes returns a copy of everything recorded so far.
func (r *PushRecorder) Pushes() []Push {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Push, len(r.pushes))
	copy(out, r.pushes)
	return out
}

// Events returns the recorded pushes with the given event name.
func (r *PushRecorder) Events(event string) []Push {
	var out []Push
	for _, p := range r.Pushes() {
		if p.Event == event {
			out = append(out, p)
		}
	}
	return out
}

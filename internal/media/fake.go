package media

import (
	"context"
	"fmt"
	"sync"
)

// FakeProvider is an in-memory Provider for tests and headless environments.
// ProvisionRoom never fails unless FailProvision is set, and Join hands back a
// FakeSession whose event stream the test drives explicitly.
type FakeProvider struct {
	AppName       string
	FailProvision error
	FailJoin      error

	mu       sync.Mutex
	rooms    map[string]Room
	sessions []*FakeSession
}

func NewFakeProvider(appName string) *FakeProvider {
	return &FakeProvider{
		AppName: appName,
		rooms:   make(map[string]Room),
	}
}

func (p *FakeProvider) Name() string { return "fake" }

func (p *FakeProvider) HealthCheck(ctx context.Context) error { return nil }

func (p *FakeProvider) ProvisionRoom(ctx context.Context, roomName string) (Room, error) {
	if p.FailProvision != nil {
		return Room{}, p.FailProvision
	}
	if roomName == "" {
		return Room{}, fmt.Errorf("%w: room name required", ErrRoomProvisioning)
	}
	room := Room{RoomName: roomName, AppName: p.AppName}
	p.mu.Lock()
	p.rooms[roomName] = room
	p.mu.Unlock()
	return room, nil
}

func (p *FakeProvider) Join(ctx context.Context, req JoinRequest) (Session, error) {
	if p.FailJoin != nil {
		return nil, p.FailJoin
	}
	sess := NewFakeSession()
	p.mu.Lock()
	p.sessions = append(p.sessions, sess)
	p.mu.Unlock()
	return sess, nil
}

// Rooms returns the room names provisioned so far, for assertions.
func (p *FakeProvider) Rooms() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.rooms))
	for name := range p.rooms {
		names = append(names, name)
	}
	return names
}

// Sessions returns every session handed out by Join, in order.
func (p *FakeProvider) Sessions() []*FakeSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*FakeSession, len(p.sessions))
	copy(out, p.sessions)
	return out
}

// FakeSession is a scripted Session. Tests call Emit to inject events and
// inspect Left/AudioEnabled/VideoEnabled after the code under test runs.
type FakeSession struct {
	mu     sync.Mutex
	events chan Event
	left   bool
	audio  bool
	video  bool
}

func NewFakeSession() *FakeSession {
	return &FakeSession{
		events: make(chan Event, 16),
		audio:  true,
		video:  true,
	}
}

func (s *FakeSession) Events() <-chan Event { return s.events }

// Emit injects an event into the session's stream. No-op after Leave.
func (s *FakeSession) Emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.left {
		return
	}
	s.events <- ev
}

func (s *FakeSession) Leave(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.left {
		return nil
	}
	s.left = true
	close(s.events)
	return nil
}

func (s *FakeSession) SetAudioEnabled(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.left {
		return fmt.Errorf("media: session already left")
	}
	s.audio = enabled
	return nil
}

func (s *FakeSession) SetVideoEnabled(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.left {
		return fmt.Errorf("media: session already left")
	}
	s.video = enabled
	return nil
}

func (s *FakeSession) Left() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.left
}

func (s *FakeSession) AudioEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audio
}

func (s *FakeSession) VideoEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.video
}

package relay

import (
	"sync"
	"time"

	"github.com/lanclass/relay/pkg/api"
	"github.com/lanclass/relay/pkg/com"
)

type Role uint8

const (
	Coordinator Role = iota + 1
	Agent
)

func (r Role) String() string {
	switch r {
	case Coordinator:
		return api.RoleCoordinator
	case Agent:
		return api.RoleAgent
	}
	return "unknown"
}

// Sender is the connection surface a session needs: fire-and-forget
// packet delivery plus identity and teardown.
type Sender interface {
	Id() com.Uid
	Notify(t api.PT, payload any)
	Route(in api.In, payload any)
	Disconnect()
}

// Session is the relay's record of one connected participant.
// Its role is immutable after registration.
type Session struct {
	id           com.Uid
	conn         Sender // nil for placeholder sessions
	role         Role
	addr         string // host as seen by the relay
	name         string
	registeredAt time.Time

	mu     sync.Mutex
	locked bool
}

func (s *Session) Id() com.Uid   { return s.id }
func (s *Session) Role() Role    { return s.role }
func (s *Session) Addr() string  { return s.addr }
func (s *Session) Name() string  { return s.name }
func (s *Session) String() string {
	return s.role.String() + ":" + s.id.Short()
}

// IsPlaceholder says whether the session was synthesized for a datagram
// source that streams ahead of its control-channel registration.
func (s *Session) IsPlaceholder() bool { return s.conn == nil }

func (s *Session) Locked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked
}

func (s *Session) setLocked(v bool) {
	s.mu.Lock()
	s.locked = v
	s.mu.Unlock()
}

// Notify forwards to the underlying connection; a placeholder session
// silently swallows sends since it has nowhere to deliver them.
func (s *Session) Notify(t api.PT, payload any) {
	if s.conn == nil {
		return
	}
	s.conn.Notify(t, payload)
}

func (s *Session) Info() api.ClientInfo {
	return api.ClientInfo{Id: s.id.String(), Ip: s.addr, Name: s.name}
}

package relay

import (
	"fmt"
	"sync"
	"time"

	"github.com/lanclass/relay/pkg/api"
	"github.com/lanclass/relay/pkg/com"
	"github.com/lanclass/relay/pkg/logger"
)

// Registry tracks connected participants and their roles; it is the
// single source of truth for "who is online". Every agent membership
// change pushes a full client-list snapshot to all coordinators.
// Full, not a delta, so independently-computed views cannot drift.
type Registry struct {
	mu       sync.Mutex
	sessions map[com.Uid]*Session
	order    []com.Uid // registration order

	log *logger.Logger
}

func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		sessions: make(map[com.Uid]*Session, 16),
		log:      log,
	}
}

// Register creates a session for the connection. A duplicate register on
// the same connection keeps the original session untouched, role change
// included; duplicate client messages are tolerated, not punished.
// An agent whose host was already streaming datagrams replaces its
// placeholder session, so one machine never shows up as two rows and
// commands land on a session that can actually deliver them.
func (r *Registry) Register(conn Sender, role Role, name, addr string) *Session {
	r.mu.Lock()
	if s, ok := r.sessions[conn.Id()]; ok {
		if s.role != role {
			r.log.Warn().Msgf("%v attempted role change to %v, kept %v", s, role, s.role)
		}
		r.mu.Unlock()
		return s
	}
	s := &Session{
		id:           conn.Id(),
		conn:         conn,
		role:         role,
		addr:         addr,
		name:         name,
		registeredAt: time.Now(),
	}
	var ghost *Session
	if role == Agent {
		ghost = r.evictPlaceholderLocked(addr)
	}
	r.sessions[s.id] = s
	r.order = append(r.order, s.id)
	r.mu.Unlock()

	if ghost != nil {
		r.log.Info().Msgf("- %v placeholder replaced by %v", ghost, s)
		agentsOnline.Dec()
	}
	r.log.Info().Msgf("+ %v (%v) %v", s, name, addr)
	if role == Agent {
		agentsOnline.Inc()
		r.broadcastSnapshot()
	}
	return s
}

// evictPlaceholderLocked drops a connectionless agent session for the
// host, if any. Callers hold r.mu.
func (r *Registry) evictPlaceholderLocked(addr string) *Session {
	for i, id := range r.order {
		if s := r.sessions[id]; s.role == Agent && s.conn == nil && s.addr == addr {
			delete(r.sessions, id)
			r.order = append(r.order[:i], r.order[i+1:]...)
			return s
		}
	}
	return nil
}

// AddPlaceholder synthesizes an agent session for a datagram source that
// has no control connection yet.
func (r *Registry) AddPlaceholder(addr string) *Session {
	s := &Session{
		id:           com.NewUid(),
		role:         Agent,
		addr:         addr,
		name:         fmt.Sprintf("agent@%s", addr),
		registeredAt: time.Now(),
	}
	r.mu.Lock()
	r.sessions[s.id] = s
	r.order = append(r.order, s.id)
	r.mu.Unlock()

	r.log.Info().Msgf("+ %v placeholder for %v", s, addr)
	agentsOnline.Inc()
	r.broadcastSnapshot()
	return s
}

// Remove drops a session by connection id; idempotent, unknown ids are
// a no-op. Removing an agent broadcasts a fresh snapshot so every
// coordinator's view converges within one round trip.
func (r *Registry) Remove(id com.Uid) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	r.log.Info().Msgf("- %v", s)
	if s.role == Agent {
		agentsOnline.Dec()
		r.broadcastSnapshot()
	}
}

func (r *Registry) Find(id com.Uid) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

// FindAgent resolves an agent session by id; non-agents don't count.
func (r *Registry) FindAgent(id com.Uid) *Session {
	if s := r.Find(id); s != nil && s.role == Agent {
		return s
	}
	return nil
}

// FindAgentByAddr matches an agent by the control-channel host. Agents
// stream datagrams from an ephemeral port, so only the host is compared.
func (r *Registry) FindAgentByAddr(host string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		if s := r.sessions[id]; s.role == Agent && s.addr == host {
			return s
		}
	}
	return nil
}

// ListAgents returns the snapshot rows ordered by registration.
func (r *Registry) ListAgents() []api.ClientInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := make([]api.ClientInfo, 0, len(r.order))
	for _, id := range r.order {
		if s := r.sessions[id]; s.role == Agent {
			list = append(list, s.Info())
		}
	}
	return list
}

// Agents returns agent sessions ordered by registration.
func (r *Registry) Agents() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.order))
	for _, id := range r.order {
		if s := r.sessions[id]; s.role == Agent {
			out = append(out, s)
		}
	}
	return out
}

func (r *Registry) AgentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sessions {
		if s.role == Agent {
			n++
		}
	}
	return n
}

func (r *Registry) coordinators() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, 2)
	for _, id := range r.order {
		if s := r.sessions[id]; s.role == Coordinator {
			out = append(out, s)
		}
	}
	return out
}

// BroadcastToCoordinators delivers the event to every registered
// coordinator. Zero coordinators is a no-op, agents keep functioning
// headless. Delivery is attempted per recipient; one dead peer cannot
// abort the loop.
func (r *Registry) BroadcastToCoordinators(t api.PT, payload any) {
	for _, c := range r.coordinators() {
		c.Notify(t, payload)
	}
}

func (r *Registry) broadcastSnapshot() {
	r.BroadcastToCoordinators(api.ClientList, r.ListAgents())
}

// SendSnapshot pushes the current client list to a single session,
// used when a coordinator joins after agents are already online.
func (r *Registry) SendSnapshot(s *Session) {
	s.Notify(api.ClientList, r.ListAgents())
}

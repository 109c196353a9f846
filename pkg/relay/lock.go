package relay

import (
	"github.com/lanclass/relay/pkg/api"
	"github.com/lanclass/relay/pkg/com"
	"github.com/lanclass/relay/pkg/logger"
)

// LockMachine drives the per-agent locked/unlocked state. Commands are
// optimistic fire-and-forget: state flips immediately and the event goes
// out without waiting for agent confirmation. State transitions are
// idempotent but event delivery is not deduplicated: a repeated lock
// command reaches the agent again.
type LockMachine struct {
	registry *Registry
	log      *logger.Logger
}

func NewLockMachine(registry *Registry, log *logger.Logger) *LockMachine {
	return &LockMachine{registry: registry, log: log}
}

// LockOne locks a single agent; false when the target is unknown,
// which is silently tolerated per the relay's best-effort policy.
func (m *LockMachine) LockOne(id com.Uid, message string) bool {
	s := m.registry.FindAgent(id)
	if s == nil {
		m.log.Debug().Msgf("lock for unknown agent %v", id.Short())
		return false
	}
	m.lock(s, message)
	return true
}

func (m *LockMachine) UnlockOne(id com.Uid) bool {
	s := m.registry.FindAgent(id)
	if s == nil {
		m.log.Debug().Msgf("unlock for unknown agent %v", id.Short())
		return false
	}
	m.unlock(s)
	return true
}

// LockAll locks every registered agent, returns the number of emitted
// lock events.
func (m *LockMachine) LockAll(message string) int {
	agents := m.registry.Agents()
	for _, s := range agents {
		m.lock(s, message)
	}
	return len(agents)
}

func (m *LockMachine) UnlockAll() int {
	agents := m.registry.Agents()
	for _, s := range agents {
		m.unlock(s)
	}
	return len(agents)
}

func (m *LockMachine) lock(s *Session, message string) {
	s.setLocked(true)
	s.Notify(api.Lock, api.LockEvent{Message: message})
}

func (m *LockMachine) unlock(s *Session) {
	s.setLocked(false)
	s.Notify(api.Unlock, nil)
}

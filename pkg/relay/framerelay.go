package relay

import (
	"net"
	"sync"

	"github.com/lanclass/relay/pkg/api"
	"github.com/lanclass/relay/pkg/com"
	"github.com/lanclass/relay/pkg/logger"
)

// FrameRelay fans completed frames out to every coordinator, tagged with
// the originating agent session. It is a latest-value pipeline, not a
// lossless stream: while a fan-out for an agent is in flight, a newer
// frame overwrites the pending one instead of queueing behind it.
type FrameRelay struct {
	registry *Registry
	log      *logger.Logger

	mu    sync.Mutex
	slots map[com.Uid]*frameSlot
}

type frameSlot struct {
	pending *outFrame
	busy    bool
}

type outFrame struct {
	t       api.PT
	payload any
}

func NewFrameRelay(registry *Registry, log *logger.Logger) *FrameRelay {
	return &FrameRelay{
		registry: registry,
		log:      log,
		slots:    make(map[com.Uid]*frameSlot, 8),
	}
}

// RelayFromSession handles the reliable-channel path: the frame arrived
// as a control packet on an agent's own connection.
func (f *FrameRelay) RelayFromSession(s *Session, image string) {
	f.push(s.id, outFrame{t: api.ScreenFrame, payload: api.ScreenFrameEvent{Id: s.id.String(), Image: image}})
}

// RelayDatagramFrame handles the reassembled UDP path. The source is an
// address, not a session id, so it is resolved against registered agents:
// if nothing matches and no agent is registered at all, a placeholder
// session is synthesized so the frame is not silently dropped, since
// agents may stream before their registration is acknowledged. With
// other agents present an unmatched source stays ambiguous and the
// frame is dropped. Sources behind one NAT address share this
// limitation.
func (f *FrameRelay) RelayDatagramFrame(src string, seq uint32, frame []byte) {
	host := src
	if h, _, err := net.SplitHostPort(src); err == nil {
		host = h
	}
	s := f.registry.FindAgentByAddr(host)
	if s == nil {
		if f.registry.AgentCount() > 0 {
			framesDropped.Inc()
			f.log.Debug().Msgf("dropped unattributable frame from %v", src)
			return
		}
		s = f.registry.AddPlaceholder(host)
	}
	f.push(s.id, outFrame{t: api.H264Frame, payload: api.H264FrameEvent{Id: s.id.String(), Seq: seq, Data: frame}})
}

// push stores the frame as the latest value for the agent and makes sure
// exactly one delivery loop is draining the slot.
func (f *FrameRelay) push(id com.Uid, frame outFrame) {
	f.mu.Lock()
	slot, ok := f.slots[id]
	if !ok {
		slot = &frameSlot{}
		f.slots[id] = slot
	}
	if slot.pending != nil {
		framesDropped.Inc()
	}
	slot.pending = &frame
	if !slot.busy {
		slot.busy = true
		go f.drain(id, slot)
	}
	f.mu.Unlock()
}

func (f *FrameRelay) drain(id com.Uid, slot *frameSlot) {
	for {
		f.mu.Lock()
		frame := slot.pending
		slot.pending = nil
		if frame == nil {
			slot.busy = false
			f.mu.Unlock()
			return
		}
		f.mu.Unlock()

		f.registry.BroadcastToCoordinators(frame.t, frame.payload)
		framesRelayed.Inc()
	}
}

// Forget drops the delivery slot of a gone agent.
func (f *FrameRelay) Forget(id com.Uid) {
	f.mu.Lock()
	delete(f.slots, id)
	f.mu.Unlock()
}

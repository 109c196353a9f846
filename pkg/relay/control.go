package relay

import (
	"github.com/goccy/go-json"

	"github.com/lanclass/relay/pkg/api"
	"github.com/lanclass/relay/pkg/com"
	"github.com/lanclass/relay/pkg/logger"
)

// size assumed until the target answers the negotiation request
var defaultScreenSize = api.ScreenSize{Width: 1920, Height: 1080}

// binding records which agent a coordinator currently remote-controls,
// at most one per coordinator.
type binding struct {
	coordinator *Session
	target      com.Uid
	size        api.ScreenSize
}

// ControlRouter forwards input events to a bound target. It is stateless
// except for the bindings that answer where a screen-size negotiation
// response goes. Input is forwarded verbatim: coordinate bounds are the
// agent's responsibility and mouse-move throttling is the caller's.
type ControlRouter struct {
	registry *Registry
	log      *logger.Logger
	bindings com.Map[com.Uid, *binding] // by coordinator id
}

func NewControlRouter(registry *Registry, log *logger.Logger) *ControlRouter {
	return &ControlRouter{
		registry: registry,
		log:      log,
		bindings: com.NewMap[com.Uid, *binding](),
	}
}

// StartControl creates or overwrites the coordinator's binding and
// immediately asks the target for its screen size.
func (c *ControlRouter) StartControl(coordinator *Session, target com.Uid) bool {
	s := c.registry.FindAgent(target)
	if s == nil {
		c.log.Debug().Msgf("control start for unknown agent %v", target.Short())
		return false
	}
	c.bindings.Put(coordinator.id, &binding{coordinator: coordinator, target: target, size: defaultScreenSize})
	s.Notify(api.RequestScreenSize, nil)
	return true
}

// StopControl removes the binding. The agent is not told anything: it
// has no notion of being controlled, only of receiving input events.
func (c *ControlRouter) StopControl(coordinator com.Uid) {
	c.bindings.RemoveByKey(coordinator)
}

// OnScreenSize stores the negotiated size and relays it to every
// coordinator bound to the agent, not only the one that asked.
func (c *ControlRouter) OnScreenSize(agent com.Uid, size api.ScreenSize) {
	event := api.ScreenSizeEvent{Id: agent.String(), Width: size.Width, Height: size.Height}
	var targets []*Session
	c.bindings.ForEach(func(b *binding) {
		if b.target == agent {
			b.size = size
			targets = append(targets, b.coordinator)
		}
	})
	for _, s := range targets {
		s.Notify(api.ScreenSizeResponse, event)
	}
}

// ForwardInput relays a mouse/key event payload verbatim to the target.
func (c *ControlRouter) ForwardInput(t api.PT, target com.Uid, payload json.RawMessage) {
	s := c.registry.FindAgent(target)
	if s == nil {
		c.log.Debug().Msgf("input for unknown agent %v", target.Short())
		return
	}
	s.Notify(t, payload)
}

// DropPeer removes any bindings involving a disconnected session,
// whichever side of the binding it was on.
func (c *ControlRouter) DropPeer(id com.Uid) {
	c.bindings.RemoveByKey(id)
	var orphans []com.Uid
	c.bindings.ForEach(func(b *binding) {
		if b.target == id {
			orphans = append(orphans, b.coordinator.id)
		}
	})
	for _, coordinator := range orphans {
		c.bindings.RemoveByKey(coordinator)
	}
}

// Binding reports the target and negotiated size for a coordinator.
func (c *ControlRouter) Binding(coordinator com.Uid) (target com.Uid, size api.ScreenSize, ok bool) {
	c.bindings.ForEach(func(b *binding) {
		if b.coordinator.id == coordinator {
			target, size, ok = b.target, b.size, true
		}
	})
	return
}

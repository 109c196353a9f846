package relay

import (
	"net"
	"net/http"

	"github.com/lanclass/relay/pkg/api"
	"github.com/lanclass/relay/pkg/com"
)

// handleConnection upgrades an inbound websocket and drives one
// connection lifecycle. The first packet must be a register; anything
// else, or a register that fails validation, tears the connection down
// before any session state exists.
func (h *Hub) handleConnection(w http.ResponseWriter, r *http.Request) {
	client, err := h.connector.NewServer(w, r, h.log)
	if err != nil {
		h.log.Error().Err(err).Msg("couldn't init client connection")
		return
	}

	var session *Session
	// packets arrive from a single reader goroutine, no lock needed
	client.OnPacket(func(in api.In) {
		if session == nil {
			if session = h.register(client, in); session == nil {
				client.Disconnect()
			}
			return
		}
		switch session.role {
		case Coordinator:
			h.coordinatorPacket(client, session, in)
		case Agent:
			h.agentPacket(session, in)
		}
	})
	done := client.Listen()
	<-done

	if session != nil {
		h.drop(session)
	}
}

// register validates the first packet and creates the session.
// Returns nil when the connection must be dropped.
func (h *Hub) register(client *com.Client, in api.In) *Session {
	if in.T != api.Register {
		h.log.Warn().Msgf("%v before register from %v", in.T, client.RemoteAddr())
		return nil
	}
	req := api.Unwrap[api.RegisterRequest](in.Payload)
	if req == nil {
		h.log.Warn().Msgf("malformed register from %v", client.RemoteAddr())
		return nil
	}
	if h.conf.Token != "" && req.Token != h.conf.Token {
		h.log.Warn().Msgf("register with a bad token from %v", client.RemoteAddr())
		return nil
	}
	var role Role
	switch req.Role {
	case api.RoleCoordinator:
		role = Coordinator
	case api.RoleAgent:
		role = Agent
	default:
		h.log.Warn().Msgf("register with unknown role %q from %v", req.Role, client.RemoteAddr())
		return nil
	}

	host := client.RemoteAddr()
	if v, _, err := net.SplitHostPort(host); err == nil {
		host = v
	}
	s := h.registry.Register(client, role, req.Name, host)
	if in.Id != "" {
		client.Route(in, s.Info())
	}
	if role == Coordinator {
		h.registry.SendSnapshot(s)
	}
	return s
}

func (h *Hub) coordinatorPacket(client *com.Client, s *Session, in api.In) {
	switch in.T {
	case api.Register:
		// re-register is tolerated as a no-op
	case api.LockClient:
		if req := api.Unwrap[api.LockRequest](in.Payload); req != nil {
			h.locks.LockOne(uid(req.Id), req.Message)
		}
	case api.UnlockClient:
		if req := api.Unwrap[api.LockRequest](in.Payload); req != nil {
			h.locks.UnlockOne(uid(req.Id))
		}
	case api.LockAll:
		var message string
		if req := api.Unwrap[api.LockRequest](in.Payload); req != nil {
			message = req.Message
		}
		h.locks.LockAll(message)
	case api.UnlockAll:
		h.locks.UnlockAll()
	case api.StartControl:
		if req := api.Unwrap[api.TargetedRequest](in.Payload); req != nil {
			h.control.StartControl(s, uid(req.Id))
		}
	case api.StopControl:
		h.control.StopControl(s.id)
	case api.MouseMove, api.MouseClick, api.MouseScroll, api.KeyPress:
		// the payload travels verbatim, only the target id is peeked at
		if req := api.Unwrap[api.TargetedRequest](in.Payload); req != nil {
			h.control.ForwardInput(in.T, uid(req.Id), in.Payload)
		}
	case api.FileStart:
		if req := api.Unwrap[api.FileStartRequest](in.Payload); req != nil {
			client.Route(in, h.transfers.Start(*req))
		}
	case api.FileChunk:
		if req := api.Unwrap[api.FileChunkRequest](in.Payload); req != nil {
			h.transfers.SendChunk(*req)
		}
	case api.FileResume:
		if req := api.Unwrap[api.FileResumeRequest](in.Payload); req != nil {
			client.Route(in, api.FileResumeResponse{
				TransferId: req.TransferId,
				Target:     req.Target,
				Missing:    h.transfers.Missing(req.TransferId, uid(req.Target)),
			})
		}
	case api.FileCancel:
		if req := api.Unwrap[api.FileCancelRequest](in.Payload); req != nil {
			h.transfers.Cancel(req.TransferId)
		}
	default:
		h.log.Debug().Msgf("unhandled %v from %v", in.T, s)
	}
}

func (h *Hub) agentPacket(s *Session, in api.In) {
	switch in.T {
	case api.Register:
		// re-register is tolerated as a no-op
	case api.ScreenFrame:
		if req := api.Unwrap[api.ScreenFrameRequest](in.Payload); req != nil {
			h.frames.RelayFromSession(s, req.Image)
		}
	case api.ScreenSizeResponse:
		if req := api.Unwrap[api.ScreenSize](in.Payload); req != nil {
			h.control.OnScreenSize(s.id, *req)
		}
	case api.FileProgress:
		if req := api.Unwrap[api.FileProgressEvent](in.Payload); req != nil {
			h.transfers.OnProgress(s.id, *req)
		}
	case api.FileComplete:
		if req := api.Unwrap[api.FileCompleteEvent](in.Payload); req != nil {
			h.transfers.OnComplete(s.id, req.TransferId)
		}
	case api.FileError:
		if req := api.Unwrap[api.FileErrorEvent](in.Payload); req != nil {
			h.transfers.OnError(s.id, req.TransferId, req.Reason)
		}
	default:
		h.log.Debug().Msgf("unhandled %v from %v", in.T, s)
	}
}

// uid parses a wire id; malformed ids map to the nil id, which no
// lookup can ever match.
func uid(s string) com.Uid {
	id, _ := com.UidFrom(s)
	return id
}

// drop releases everything a departed session touched.
func (h *Hub) drop(s *Session) {
	h.registry.Remove(s.id)
	h.control.DropPeer(s.id)
	if s.role == Agent {
		h.frames.Forget(s.id)
		h.transfers.DropTarget(s.id)
	}
}

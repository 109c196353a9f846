package relay

import (
	"testing"
	"time"

	"github.com/lanclass/relay/pkg/api"
)

func TestSessionFrameFanOut(t *testing.T) {
	r := NewRegistry(testLog)
	f := NewFrameRelay(r, testLog)
	console := newFakeConn()
	r.Register(console, Coordinator, "console", "10.0.0.100")
	agent := r.Register(newFakeConn(), Agent, "pc-01", "10.0.0.1")

	f.RelayFromSession(agent, "base64jpeg")
	if !console.waitFor(api.ScreenFrame, 1) {
		t.Fatal("frame never arrived")
	}
	p, _ := console.last(api.ScreenFrame)
	ev := p.Payload.(api.ScreenFrameEvent)
	if ev.Id != agent.Id().String() || ev.Image != "base64jpeg" {
		t.Errorf("wrong frame event: %+v", ev)
	}
}

func TestDatagramFrameAttribution(t *testing.T) {
	r := NewRegistry(testLog)
	f := NewFrameRelay(r, testLog)
	console := newFakeConn()
	r.Register(console, Coordinator, "console", "10.0.0.100")
	agent := r.Register(newFakeConn(), Agent, "pc-01", "10.0.0.1")

	// the datagram source port is ephemeral, only the host matters
	f.RelayDatagramFrame("10.0.0.1:54321", 7, []byte("nal"))
	if !console.waitFor(api.H264Frame, 1) {
		t.Fatal("frame never arrived")
	}
	p, _ := console.last(api.H264Frame)
	ev := p.Payload.(api.H264FrameEvent)
	if ev.Id != agent.Id().String() || ev.Seq != 7 || string(ev.Data) != "nal" {
		t.Errorf("wrong frame event: %+v", ev)
	}
	if n := r.AgentCount(); n != 1 {
		t.Errorf("attribution created a session, count %d", n)
	}
}

func TestPlaceholderForUnregisteredSource(t *testing.T) {
	r := NewRegistry(testLog)
	f := NewFrameRelay(r, testLog)
	console := newFakeConn()
	r.Register(console, Coordinator, "console", "10.0.0.100")

	f.RelayDatagramFrame("10.0.0.9:5000", 1, []byte("x"))
	s := r.FindAgentByAddr("10.0.0.9")
	if s == nil {
		t.Fatal("no placeholder session")
	}
	if !s.IsPlaceholder() {
		t.Error("session should be a placeholder")
	}
	if !console.waitFor(api.H264Frame, 1) {
		t.Fatal("placeholder frame never arrived")
	}
	// the same source reuses its placeholder
	f.RelayDatagramFrame("10.0.0.9:5000", 2, []byte("y"))
	if n := r.AgentCount(); n != 1 {
		t.Errorf("placeholder duplicated, count %d", n)
	}
}

func TestStreamBeforeRegisterHandsOver(t *testing.T) {
	r := NewRegistry(testLog)
	f := NewFrameRelay(r, testLog)
	m := NewLockMachine(r, testLog)
	console := newFakeConn()
	r.Register(console, Coordinator, "console", "10.0.0.100")

	// the agent streams ahead of its registration
	f.RelayDatagramFrame("10.0.0.9:5000", 1, []byte("early"))
	if !console.waitFor(api.H264Frame, 1) {
		t.Fatal("early frame never arrived")
	}

	agentConn := newFakeConn()
	agent := r.Register(agentConn, Agent, "pc-09", "10.0.0.9")
	if n := r.AgentCount(); n != 1 {
		t.Fatalf("one machine shows as %d sessions", n)
	}

	// later frames attribute to the real session
	f.RelayDatagramFrame("10.0.0.9:5001", 2, []byte("late"))
	deadline := time.Now().Add(2 * time.Second)
	for {
		if p, ok := console.last(api.H264Frame); ok {
			if ev := p.Payload.(api.H264FrameEvent); ev.Seq == 2 {
				if ev.Id != agent.Id().String() {
					t.Fatalf("frame attributed to %v, want %v", ev.Id, agent.Id())
				}
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatal("late frame never arrived")
		}
		time.Sleep(2 * time.Millisecond)
	}

	// the id a coordinator sees now accepts commands
	p, _ := console.last(api.ClientList)
	list := p.Payload.([]api.ClientInfo)
	if len(list) != 1 {
		t.Fatalf("snapshot has %d rows", len(list))
	}
	if !m.LockOne(uid(list[0].Id), "sit down") {
		t.Fatal("visible id rejected the lock")
	}
	if agentConn.count(api.Lock) != 1 {
		t.Error("lock never reached the agent connection")
	}
}

func TestAmbiguousSourceDropped(t *testing.T) {
	r := NewRegistry(testLog)
	f := NewFrameRelay(r, testLog)
	console := newFakeConn()
	r.Register(console, Coordinator, "console", "10.0.0.100")
	r.Register(newFakeConn(), Agent, "pc-01", "10.0.0.1")

	f.RelayDatagramFrame("10.0.0.77:5000", 1, []byte("x"))
	if n := r.AgentCount(); n != 1 {
		t.Fatalf("unattributable source spawned a session, count %d", n)
	}
	time.Sleep(20 * time.Millisecond)
	if n := console.count(api.H264Frame); n != 0 {
		t.Errorf("dropped frame was delivered %d times", n)
	}
}

func TestLatestValueOverwrite(t *testing.T) {
	r := NewRegistry(testLog)
	f := NewFrameRelay(r, testLog)
	agent := r.Register(newFakeConn(), Agent, "pc-01", "10.0.0.1")

	// no coordinator yet: delivery is a no-op but the slot still drains,
	// so pushes cannot pile up unboundedly
	for i := 0; i < 100; i++ {
		f.RelayFromSession(agent, "frame")
	}

	console := newFakeConn()
	r.Register(console, Coordinator, "console", "10.0.0.100")
	f.RelayFromSession(agent, "latest")

	deadline := time.Now().Add(2 * time.Second)
	for {
		if p, ok := console.last(api.ScreenFrame); ok {
			if ev := p.Payload.(api.ScreenFrameEvent); ev.Image == "latest" {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatal("the latest frame never arrived")
		}
		time.Sleep(2 * time.Millisecond)
	}

	f.Forget(agent.Id())
}

package relay

import (
	"sync"
	"time"

	"github.com/lanclass/relay/pkg/api"
	"github.com/lanclass/relay/pkg/com"
	"github.com/lanclass/relay/pkg/logger"
)

var testLog = logger.Default()

// fakeConn records every packet pushed into it.
type fakeConn struct {
	id com.Uid

	mu   sync.Mutex
	sent []fakePacket
}

type fakePacket struct {
	T       api.PT
	Payload any
}

func newFakeConn() *fakeConn { return &fakeConn{id: com.NewUid()} }

func (f *fakeConn) Id() com.Uid { return f.id }

func (f *fakeConn) Notify(t api.PT, payload any) {
	f.mu.Lock()
	f.sent = append(f.sent, fakePacket{T: t, Payload: payload})
	f.mu.Unlock()
}

func (f *fakeConn) Route(in api.In, payload any) {
	f.mu.Lock()
	f.sent = append(f.sent, fakePacket{T: in.T, Payload: payload})
	f.mu.Unlock()
}

func (f *fakeConn) Disconnect() {}

func (f *fakeConn) packets(t api.PT) []fakePacket {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fakePacket
	for _, p := range f.sent {
		if p.T == t {
			out = append(out, p)
		}
	}
	return out
}

func (f *fakeConn) count(t api.PT) int { return len(f.packets(t)) }

func (f *fakeConn) last(t api.PT) (fakePacket, bool) {
	ps := f.packets(t)
	if len(ps) == 0 {
		return fakePacket{}, false
	}
	return ps[len(ps)-1], true
}

// waitFor polls until at least n packets of type t arrived; used for
// paths with asynchronous fan-out.
func (f *fakeConn) waitFor(t api.PT, n int) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f.count(t) >= n {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return false
}

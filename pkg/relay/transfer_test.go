package relay

import (
	"reflect"
	"testing"

	"github.com/lanclass/relay/pkg/api"
	"github.com/lanclass/relay/pkg/com"
)

func testMeta(chunks int) api.FileMeta {
	return api.FileMeta{Name: "homework.pdf", Size: int64(chunks * 1024), ChunkSize: 1024, Chunks: chunks}
}

func TestTransferTargetsAreIsolated(t *testing.T) {
	r := NewRegistry(testLog)
	h := NewTransferHub(r, testLog)
	console := newFakeConn()
	r.Register(console, Coordinator, "console", "10.0.0.100")
	connA, connB := newFakeConn(), newFakeConn()
	a := r.Register(connA, Agent, "pc-a", "10.0.0.1")
	b := r.Register(connB, Agent, "pc-b", "10.0.0.2")

	ev := h.Start(api.FileStartRequest{
		Targets: []string{a.Id().String(), b.Id().String()},
		Meta:    testMeta(3),
	})
	if ev.TransferId == "" {
		t.Fatal("no transfer id assigned")
	}
	for i, c := range []*fakeConn{connA, connB} {
		if c.count(api.FileStart) != 1 {
			t.Fatalf("target %d did not get the metadata", i)
		}
	}

	h.OnError(a.Id(), ev.TransferId, "disk full")
	p, ok := console.last(api.FileError)
	if !ok {
		t.Fatal("error not relayed")
	}
	if fe := p.Payload.(api.FileErrorEvent); fe.Target != a.Id().String() || fe.Reason != "disk full" {
		t.Errorf("wrong error event: %+v", fe)
	}

	// the other target proceeds as if nothing happened
	h.OnProgress(b.Id(), api.FileProgressEvent{TransferId: ev.TransferId, Acked: []int{0, 1}})
	p, ok = console.last(api.FileProgress)
	if !ok {
		t.Fatal("progress not relayed")
	}
	fp := p.Payload.(api.FileProgressEvent)
	if fp.Target != b.Id().String() || !reflect.DeepEqual(fp.Acked, []int{0, 1}) {
		t.Errorf("wrong progress event: %+v", fp)
	}
	if missing := h.Missing(ev.TransferId, b.Id()); !reflect.DeepEqual(missing, []int{2}) {
		t.Errorf("missing = %v", missing)
	}

	h.OnComplete(b.Id(), ev.TransferId)
	if p, ok = console.last(api.FileComplete); !ok {
		t.Fatal("completion not relayed")
	}
	if fc := p.Payload.(api.FileCompleteEvent); fc.Target != b.Id().String() {
		t.Errorf("wrong completion event: %+v", fc)
	}
	// both targets terminal, the transfer is gone
	if missing := h.Missing(ev.TransferId, b.Id()); missing != nil {
		t.Errorf("finished transfer still tracked: %v", missing)
	}
}

func TestProgressIsMonotonic(t *testing.T) {
	r := NewRegistry(testLog)
	h := NewTransferHub(r, testLog)
	console := newFakeConn()
	r.Register(console, Coordinator, "console", "10.0.0.100")
	a := r.Register(newFakeConn(), Agent, "pc-a", "10.0.0.1")

	ev := h.Start(api.FileStartRequest{Targets: []string{a.Id().String()}, Meta: testMeta(4)})
	h.OnProgress(a.Id(), api.FileProgressEvent{TransferId: ev.TransferId, Acked: []int{0, 2}})
	// a stale, reordered report cannot take acks back
	h.OnProgress(a.Id(), api.FileProgressEvent{TransferId: ev.TransferId, Acked: []int{2}})

	p, _ := console.last(api.FileProgress)
	if fp := p.Payload.(api.FileProgressEvent); !reflect.DeepEqual(fp.Acked, []int{0, 2}) {
		t.Errorf("acks regressed: %v", fp.Acked)
	}
	if missing := h.Missing(ev.TransferId, a.Id()); !reflect.DeepEqual(missing, []int{1, 3}) {
		t.Errorf("missing = %v", missing)
	}
}

func TestProgressIgnoresOutOfRangeIndices(t *testing.T) {
	r := NewRegistry(testLog)
	h := NewTransferHub(r, testLog)
	a := r.Register(newFakeConn(), Agent, "pc-a", "10.0.0.1")

	ev := h.Start(api.FileStartRequest{Targets: []string{a.Id().String()}, Meta: testMeta(2)})
	h.OnProgress(a.Id(), api.FileProgressEvent{TransferId: ev.TransferId, Acked: []int{-1, 0, 7}})
	if missing := h.Missing(ev.TransferId, a.Id()); !reflect.DeepEqual(missing, []int{1}) {
		t.Errorf("missing = %v", missing)
	}
}

func TestChunkForwarding(t *testing.T) {
	r := NewRegistry(testLog)
	h := NewTransferHub(r, testLog)
	connA := newFakeConn()
	a := r.Register(connA, Agent, "pc-a", "10.0.0.1")

	ev := h.Start(api.FileStartRequest{Targets: []string{a.Id().String()}, Meta: testMeta(2)})
	req := api.FileChunkRequest{TransferId: ev.TransferId, Target: a.Id().String(), Index: 0, Data: []byte("abc")}
	h.SendChunk(req)
	p, ok := connA.last(api.FileChunk)
	if !ok {
		t.Fatal("chunk not forwarded")
	}
	if got := p.Payload.(api.FileChunkRequest); got.Index != 0 || string(got.Data) != "abc" {
		t.Errorf("wrong chunk: %+v", got)
	}

	// chunks after a terminal state are dropped
	h.OnError(a.Id(), ev.TransferId, "gone")
	h.SendChunk(api.FileChunkRequest{TransferId: ev.TransferId, Target: a.Id().String(), Index: 1})
	if n := connA.count(api.FileChunk); n != 1 {
		t.Errorf("chunk delivered past a terminal state, %d total", n)
	}
}

func TestCompletionImpliesFullAck(t *testing.T) {
	r := NewRegistry(testLog)
	h := NewTransferHub(r, testLog)
	b := r.Register(newFakeConn(), Agent, "pc-b", "10.0.0.2")
	keep := r.Register(newFakeConn(), Agent, "pc-c", "10.0.0.3")

	ev := h.Start(api.FileStartRequest{
		Targets: []string{b.Id().String(), keep.Id().String()},
		Meta:    testMeta(5),
	})
	// no progress reports at all, then completion out of the blue
	h.OnComplete(b.Id(), ev.TransferId)
	if missing := h.Missing(ev.TransferId, b.Id()); len(missing) != 0 {
		t.Errorf("complete target still missing %v", missing)
	}
	if missing := h.Missing(ev.TransferId, keep.Id()); len(missing) != 5 {
		t.Errorf("other target affected: %v", missing)
	}
}

func TestCancelNotifiesActiveTargetsOnly(t *testing.T) {
	r := NewRegistry(testLog)
	h := NewTransferHub(r, testLog)
	connA, connB := newFakeConn(), newFakeConn()
	a := r.Register(connA, Agent, "pc-a", "10.0.0.1")
	b := r.Register(connB, Agent, "pc-b", "10.0.0.2")

	ev := h.Start(api.FileStartRequest{
		Targets: []string{a.Id().String(), b.Id().String()},
		Meta:    testMeta(2),
	})
	h.OnComplete(a.Id(), ev.TransferId)
	h.Cancel(ev.TransferId)

	if n := connA.count(api.FileCancel); n != 0 {
		t.Errorf("finished target cancelled %d times", n)
	}
	if n := connB.count(api.FileCancel); n != 1 {
		t.Errorf("active target got %d cancels", n)
	}
}

func TestStartSkipsUnknownTargets(t *testing.T) {
	r := NewRegistry(testLog)
	h := NewTransferHub(r, testLog)
	connA := newFakeConn()
	a := r.Register(connA, Agent, "pc-a", "10.0.0.1")

	ev := h.Start(api.FileStartRequest{
		Targets: []string{a.Id().String(), com.NewUid().String(), "not-an-id"},
		Meta:    testMeta(1),
	})
	if ev.TransferId == "" {
		t.Fatal("no transfer id")
	}
	if connA.count(api.FileStart) != 1 {
		t.Error("known target skipped")
	}
}

func TestStartWithNoReachableTargets(t *testing.T) {
	r := NewRegistry(testLog)
	h := NewTransferHub(r, testLog)

	ev := h.Start(api.FileStartRequest{
		Targets: []string{com.NewUid().String()},
		Meta:    testMeta(1),
	})
	if ev.TransferId == "" {
		t.Fatal("no transfer id")
	}
	// no target can ever report, so nothing may be left to track
	h.mu.Lock()
	n := len(h.transfers)
	h.mu.Unlock()
	if n != 0 {
		t.Errorf("%d transfers linger with nobody to finish them", n)
	}
	if missing := h.Missing(ev.TransferId, com.NewUid()); missing != nil {
		t.Errorf("finished transfer still tracked: %v", missing)
	}
}

func TestAgentDisconnectFailsItsLeg(t *testing.T) {
	r := NewRegistry(testLog)
	h := NewTransferHub(r, testLog)
	console := newFakeConn()
	r.Register(console, Coordinator, "console", "10.0.0.100")
	a := r.Register(newFakeConn(), Agent, "pc-a", "10.0.0.1")
	b := r.Register(newFakeConn(), Agent, "pc-b", "10.0.0.2")

	ev := h.Start(api.FileStartRequest{
		Targets: []string{a.Id().String(), b.Id().String()},
		Meta:    testMeta(2),
	})
	h.DropTarget(a.Id())

	p, ok := console.last(api.FileError)
	if !ok {
		t.Fatal("disconnect not reported")
	}
	if fe := p.Payload.(api.FileErrorEvent); fe.Target != a.Id().String() || fe.Reason != "disconnected" {
		t.Errorf("wrong error: %+v", fe)
	}
	if missing := h.Missing(ev.TransferId, b.Id()); len(missing) != 2 {
		t.Errorf("survivor affected: %v", missing)
	}
}

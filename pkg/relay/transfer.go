package relay

import (
	"sort"
	"sync"

	"github.com/lanclass/relay/pkg/api"
	"github.com/lanclass/relay/pkg/com"
	"github.com/lanclass/relay/pkg/logger"
)

type transferStatus int

const (
	transferPending transferStatus = iota
	transferInProgress
	transferComplete
	transferError
)

// targetState is per-target bookkeeping. Targets never share state:
// one slow or failed machine does not touch the others' progress.
type targetState struct {
	status transferStatus
	acked  map[int]struct{}
}

type transfer struct {
	id      string
	meta    api.FileMeta
	targets map[com.Uid]*targetState
}

// TransferHub coordinates bulk file distribution. The relay never holds
// file contents beyond the chunk in flight; it tracks which chunks each
// target has acknowledged so a coordinator can resume after a restart
// without resending everything.
type TransferHub struct {
	registry *Registry
	log      *logger.Logger

	mu        sync.Mutex
	transfers map[string]*transfer
}

func NewTransferHub(registry *Registry, log *logger.Logger) *TransferHub {
	return &TransferHub{
		registry:  registry,
		log:       log,
		transfers: make(map[string]*transfer, 2),
	}
}

// Start registers a transfer for the requested targets and pushes the
// file metadata to each. Unknown targets are skipped; an empty resolved
// target set still yields a transfer id so the coordinator gets a
// consistent answer, but nothing is tracked for it.
func (h *TransferHub) Start(req api.FileStartRequest) api.FileStartEvent {
	t := &transfer{
		id:      com.NewUid().String(),
		meta:    req.Meta,
		targets: make(map[com.Uid]*targetState, len(req.Targets)),
	}
	var sessions []*Session
	for _, raw := range req.Targets {
		id, err := com.UidFrom(raw)
		if err != nil {
			continue
		}
		s := h.registry.FindAgent(id)
		if s == nil {
			h.log.Debug().Msgf("transfer %s skips unknown target %s", t.id, raw)
			continue
		}
		t.targets[id] = &targetState{status: transferPending, acked: make(map[int]struct{}, req.Meta.Chunks)}
		sessions = append(sessions, s)
	}
	// a transfer with no reachable target is finished before it starts,
	// tracking it would leak the entry since no report can ever close it
	if len(t.targets) > 0 {
		h.mu.Lock()
		h.transfers[t.id] = t
		h.mu.Unlock()
	}

	event := api.FileStartEvent{TransferId: t.id, Meta: req.Meta}
	for _, s := range sessions {
		s.Notify(api.FileStart, event)
	}
	h.log.Info().Msgf("transfer %s: %q (%d chunks) to %d targets", t.id, req.Meta.Name, req.Meta.Chunks, len(sessions))
	return event
}

// SendChunk forwards one chunk to a single target. Chunks to targets
// already in a terminal state are dropped, the coordinator may still be
// flushing its pipeline after an error report.
func (h *TransferHub) SendChunk(req api.FileChunkRequest) {
	target, err := com.UidFrom(req.Target)
	if err != nil {
		return
	}
	h.mu.Lock()
	t, ok := h.transfers[req.TransferId]
	if !ok {
		h.mu.Unlock()
		h.log.Debug().Msgf("chunk for unknown transfer %s", req.TransferId)
		return
	}
	ts, ok := t.targets[target]
	if !ok || ts.status == transferComplete || ts.status == transferError {
		h.mu.Unlock()
		return
	}
	ts.status = transferInProgress
	h.mu.Unlock()

	if s := h.registry.FindAgent(target); s != nil {
		s.Notify(api.FileChunk, req)
	}
}

// OnProgress merges a target's acknowledged chunk indices and relays the
// cumulative set to every coordinator. The merge is monotonic: an ack
// cannot be taken back, a stale or reordered report can only be a no-op.
func (h *TransferHub) OnProgress(agent com.Uid, report api.FileProgressEvent) {
	h.mu.Lock()
	t, ok := h.transfers[report.TransferId]
	if !ok {
		h.mu.Unlock()
		return
	}
	ts, ok := t.targets[agent]
	if !ok {
		h.mu.Unlock()
		return
	}
	for _, idx := range report.Acked {
		if idx >= 0 && idx < t.meta.Chunks {
			ts.acked[idx] = struct{}{}
		}
	}
	if ts.status == transferPending {
		ts.status = transferInProgress
	}
	acked := ackedList(ts)
	h.mu.Unlock()

	h.registry.BroadcastToCoordinators(api.FileProgress, api.FileProgressEvent{
		TransferId: report.TransferId,
		Target:     agent.String(),
		Acked:      acked,
	})
}

// OnComplete marks the target done. Completion implies every chunk was
// received, so the ack set is filled in even if progress reports were
// lost along the way.
func (h *TransferHub) OnComplete(agent com.Uid, transferId string) {
	h.mu.Lock()
	t, ok := h.transfers[transferId]
	if !ok {
		h.mu.Unlock()
		return
	}
	ts, ok := t.targets[agent]
	if !ok {
		h.mu.Unlock()
		return
	}
	ts.status = transferComplete
	for i := 0; i < t.meta.Chunks; i++ {
		ts.acked[i] = struct{}{}
	}
	done := h.allTerminal(t)
	h.mu.Unlock()

	h.registry.BroadcastToCoordinators(api.FileComplete, api.FileCompleteEvent{
		TransferId: transferId,
		Target:     agent.String(),
	})
	if done {
		h.finish(transferId)
	}
}

// OnError marks a single target failed; the rest of the transfer is not
// affected.
func (h *TransferHub) OnError(agent com.Uid, transferId, reason string) {
	h.mu.Lock()
	t, ok := h.transfers[transferId]
	if !ok {
		h.mu.Unlock()
		return
	}
	ts, ok := t.targets[agent]
	if !ok {
		h.mu.Unlock()
		return
	}
	ts.status = transferError
	done := h.allTerminal(t)
	h.mu.Unlock()

	h.log.Warn().Msgf("transfer %s failed on %v: %s", transferId, agent.Short(), reason)
	h.registry.BroadcastToCoordinators(api.FileError, api.FileErrorEvent{
		TransferId: transferId,
		Target:     agent.String(),
		Reason:     reason,
	})
	if done {
		h.finish(transferId)
	}
}

// Missing lists the chunk indices a target has not acknowledged, in
// ascending order. Nil means the transfer or target is unknown; an
// empty list means nothing is missing.
func (h *TransferHub) Missing(transferId string, target com.Uid) []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.transfers[transferId]
	if !ok {
		return nil
	}
	ts, ok := t.targets[target]
	if !ok {
		return nil
	}
	missing := make([]int, 0, t.meta.Chunks-len(ts.acked))
	for i := 0; i < t.meta.Chunks; i++ {
		if _, ok := ts.acked[i]; !ok {
			missing = append(missing, i)
		}
	}
	return missing
}

// Cancel drops a transfer and tells the still-active targets to stop.
func (h *TransferHub) Cancel(transferId string) {
	h.mu.Lock()
	t, ok := h.transfers[transferId]
	if !ok {
		h.mu.Unlock()
		return
	}
	var active []com.Uid
	for id, ts := range t.targets {
		if ts.status == transferPending || ts.status == transferInProgress {
			active = append(active, id)
		}
	}
	delete(h.transfers, transferId)
	h.mu.Unlock()

	for _, id := range active {
		if s := h.registry.FindAgent(id); s != nil {
			s.Notify(api.FileCancel, api.FileCancelRequest{TransferId: transferId})
		}
	}
	h.log.Info().Msgf("transfer %s cancelled", transferId)
}

// DropTarget fails the target's leg of every transfer it participates
// in, used when an agent disconnects mid-transfer.
func (h *TransferHub) DropTarget(agent com.Uid) {
	h.mu.Lock()
	var failed []string
	var finished []string
	for id, t := range h.transfers {
		ts, ok := t.targets[agent]
		if !ok || ts.status == transferComplete || ts.status == transferError {
			continue
		}
		ts.status = transferError
		failed = append(failed, id)
		if h.allTerminal(t) {
			finished = append(finished, id)
		}
	}
	h.mu.Unlock()

	for _, id := range failed {
		h.registry.BroadcastToCoordinators(api.FileError, api.FileErrorEvent{
			TransferId: id,
			Target:     agent.String(),
			Reason:     "disconnected",
		})
	}
	for _, id := range finished {
		h.finish(id)
	}
}

func (h *TransferHub) finish(transferId string) {
	h.mu.Lock()
	delete(h.transfers, transferId)
	h.mu.Unlock()
	h.log.Info().Msgf("transfer %s finished", transferId)
}

func (h *TransferHub) allTerminal(t *transfer) bool {
	for _, ts := range t.targets {
		if ts.status != transferComplete && ts.status != transferError {
			return false
		}
	}
	return true
}

func ackedList(ts *targetState) []int {
	out := make([]int, 0, len(ts.acked))
	for idx := range ts.acked {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

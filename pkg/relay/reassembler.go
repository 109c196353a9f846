package relay

import (
	"bytes"
	"encoding/binary"
	"sync"
	"time"

	"github.com/lanclass/relay/pkg/logger"
)

// Datagram header: sequence u32 | chunkIndex u16 | totalChunks u16,
// all big-endian, followed by the fragment payload.
const headerLen = 8

// FrameFunc receives a completed frame tagged with its source address.
type FrameFunc func(src string, seq uint32, frame []byte)

// Reassembler turns out-of-order, lossy datagrams into complete frames,
// one buffer per source address. An incomplete frame is never worth
// finishing once a newer sequence has started: the buffer restarts on
// any sequence change, which bounds latency instead of bounding loss
// and lets the pipeline self-heal within one frame interval.
type Reassembler struct {
	mu      sync.Mutex
	buffers map[string]*frameBuffer
	ttl     time.Duration
	onFrame FrameFunc
	log     *logger.Logger

	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

type frameBuffer struct {
	seq          uint32
	total        uint16
	slots        [][]byte
	received     uint16
	lastActivity time.Time
}

func NewReassembler(ttl time.Duration, onFrame FrameFunc, log *logger.Logger) *Reassembler {
	if ttl <= 0 {
		ttl = 3 * time.Second
	}
	return &Reassembler{
		buffers: make(map[string]*frameBuffer, 8),
		ttl:     ttl,
		onFrame: onFrame,
		log:     log,
		done:    make(chan struct{}),
	}
}

// Feed consumes one datagram from src. Malformed input is discarded
// without effect; there are no retries, a lost chunk just means that
// one frame never completes.
func (r *Reassembler) Feed(src string, dgram []byte) {
	datagramsReceived.Inc()
	if len(dgram) < headerLen {
		datagramsDropped.Inc()
		return
	}
	seq := binary.BigEndian.Uint32(dgram[0:4])
	idx := binary.BigEndian.Uint16(dgram[4:6])
	total := binary.BigEndian.Uint16(dgram[6:8])
	if total == 0 || idx >= total {
		datagramsDropped.Inc()
		return
	}
	payload := dgram[headerLen:]

	var complete []byte
	r.mu.Lock()
	buf, ok := r.buffers[src]
	if !ok {
		buf = &frameBuffer{}
		buf.reset(seq, total)
		r.buffers[src] = buf
	} else if seq != buf.seq {
		// last-writer-wins on sequence change: drop the partial frame
		if buf.received > 0 {
			framesSuperseded.Inc()
		}
		buf.reset(seq, total)
	} else if total != buf.total {
		// same sequence with a different chunk count is garbage
		r.mu.Unlock()
		datagramsDropped.Inc()
		return
	}
	if buf.slots[idx] != nil {
		// duplicate, e.g. from retransmission; never double-count
		r.mu.Unlock()
		datagramsDropped.Inc()
		return
	}
	buf.slots[idx] = bytes.Clone(payload)
	buf.received++
	buf.lastActivity = time.Now()
	if buf.received == buf.total {
		complete = bytes.Join(buf.slots, nil)
		delete(r.buffers, src)
	}
	r.mu.Unlock()

	if complete != nil {
		framesReassembled.Inc()
		r.onFrame(src, seq, complete)
	}
}

func (b *frameBuffer) reset(seq uint32, total uint16) {
	b.seq = seq
	b.total = total
	b.slots = make([][]byte, total)
	b.received = 0
	b.lastActivity = time.Now()
}

// Run starts the inactivity sweep that bounds memory for sources that
// stall mid-frame or never complete one.
func (r *Reassembler) Run() {
	r.ticker = time.NewTicker(r.ttl / 2)
	go func() {
		for {
			select {
			case <-r.ticker.C:
				if n := r.sweep(time.Now()); n > 0 {
					r.log.Debug().Msgf("swept %d stalled frame buffers", n)
				}
			case <-r.done:
				return
			}
		}
	}()
}

func (r *Reassembler) Stop() {
	r.once.Do(func() {
		if r.ticker != nil {
			r.ticker.Stop()
		}
		close(r.done)
	})
}

func (r *Reassembler) sweep(now time.Time) (removed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for src, buf := range r.buffers {
		if now.Sub(buf.lastActivity) > r.ttl {
			delete(r.buffers, src)
			framesExpired.Inc()
			removed++
		}
	}
	return
}

// pending reports the buffered chunk count for a source, test hook.
func (r *Reassembler) pending(src string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if buf, ok := r.buffers[src]; ok {
		return int(buf.received)
	}
	return 0
}

package fleet

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-lifx/internal/protocol"
)

// sender abstracts the transport subset the retry engine needs, so
// retry behaviour is testable without real sockets.
type sender interface {
	Send(addr *net.UDPAddr, data []byte) error
}

// pendingKey correlates responses to outstanding requests. Devices
// echo our sequence number, so together with the peer address it
// identifies exactly one attempt chain.
type pendingKey struct {
	addr string
	seq  uint8
}

// resolution is the terminal signal delivered to a request goroutine.
type resolution struct {
	payload   protocol.Payload // non-nil when a response matched
	cancelled bool
}

// pendingRequest is one tracked request. The packet is encoded once
// and resent verbatim on every attempt, so all attempts share one
// sequence number and any of them may satisfy the request.
type pendingRequest struct {
	key    pendingKey
	serial protocol.Serial
	addr   *net.UDPAddr
	via    sender
	data   []byte

	// done carries the resolution. Capacity one; the resolver sends
	// while holding the engine mutex, immediately after removing the
	// request from the pending table, so exactly one send ever occurs.
	done chan resolution
}

// seqState allocates sequence numbers for one device. The counter
// wraps at 256 and skips numbers still outstanding, keeping sequence
// numbers unique among that device's inflight requests.
type seqState struct {
	next        uint8
	outstanding map[uint8]*pendingRequest
}

// retryEngine delivers requests over a lossy transport: send, wait,
// resend with the same sequence number, give up after a fixed budget.
// Responses are matched on (address, sequence); late and duplicate
// datagrams fail the lookup and are counted, never delivered twice.
type retryEngine struct {
	timeout  time.Duration
	attempts int

	mu      sync.Mutex
	pending map[pendingKey]*pendingRequest
	seqs    map[protocol.Serial]*seqState
	closed  bool

	// Statistics (atomic for performance)
	datagramsTx atomic.Uint64
	sendErrors  atomic.Uint64
	resends     atomic.Uint64
	matched     atomic.Uint64
	unmatched   atomic.Uint64
	exhausted   atomic.Uint64
	cancelled   atomic.Uint64
}

func newRetryEngine(timeout time.Duration, attempts int) *retryEngine {
	return &retryEngine{
		timeout:  timeout,
		attempts: attempts,
		pending:  make(map[pendingKey]*pendingRequest),
		seqs:     make(map[protocol.Serial]*seqState),
	}
}

// begin allocates a sequence number, encodes the packet and registers
// the request for correlation. The caller must follow up with run,
// which owns resolution from here on.
func (e *retryEngine) begin(hdr protocol.Header, payload protocol.Payload, addr *net.UDPAddr, via sender) (*pendingRequest, error) {
	if addr == nil || via == nil {
		return nil, ErrInvalidAddress
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}

	st := e.seqs[hdr.Target]
	if st == nil {
		st = &seqState{outstanding: make(map[uint8]*pendingRequest)}
		e.seqs[hdr.Target] = st
	}
	seq, ok := st.allocate()
	if !ok {
		return nil, ErrSequenceExhausted
	}

	hdr.Sequence = seq
	req := &pendingRequest{
		key:    pendingKey{addr: addr.String(), seq: seq},
		serial: hdr.Target,
		addr:   addr,
		via:    via,
		data:   protocol.EncodePacket(hdr, payload),
		done:   make(chan resolution, 1),
	}
	e.pending[req.key] = req
	st.outstanding[seq] = req
	return req, nil
}

func (st *seqState) allocate() (uint8, bool) {
	for i := 0; i < 256; i++ {
		seq := st.next
		st.next++
		if _, busy := st.outstanding[seq]; !busy {
			return seq, true
		}
	}
	return 0, false
}

// run executes the attempt loop and returns the terminal outcome. It
// blocks until a response matches, the retry budget is spent, or the
// request is cancelled via ctx or engine shutdown.
func (e *retryEngine) run(ctx context.Context, req *pendingRequest) Outcome {
	start := time.Now()
	timer := time.NewTimer(e.timeout)
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		if attempt > 1 {
			// Previous timer fired and was drained, safe to reset.
			timer.Reset(e.timeout)
			e.resends.Add(1)
		}
		if err := req.via.Send(req.addr, req.data); err != nil {
			// The datagram never left. Treat it like a lost packet and
			// let the timeout drive the next attempt.
			e.sendErrors.Add(1)
		} else {
			e.datagramsTx.Add(1)
		}

		select {
		case res := <-req.done:
			return e.outcomeFor(req, res, attempt, start)

		case <-timer.C:
			if attempt < e.attempts {
				continue
			}
			res, claimed := e.takeOver(req)
			if !claimed {
				// A response squeezed in between the final timeout and
				// the table lookup. It counts.
				return e.outcomeFor(req, res, attempt, start)
			}
			e.exhausted.Add(1)
			return Outcome{
				Serial:   req.serial,
				Attempts: attempt,
				Elapsed:  time.Since(start),
				Err:      ErrRequestExhausted,
			}

		case <-ctx.Done():
			res, claimed := e.takeOver(req)
			if !claimed {
				return e.outcomeFor(req, res, attempt, start)
			}
			e.cancelled.Add(1)
			return Outcome{
				Serial:   req.serial,
				Attempts: attempt,
				Elapsed:  time.Since(start),
				Err:      ErrRequestCancelled,
			}
		}
	}
}

// outcomeFor translates a delivered resolution into an Outcome.
func (e *retryEngine) outcomeFor(req *pendingRequest, res resolution, attempts int, start time.Time) Outcome {
	out := Outcome{
		Serial:   req.serial,
		Attempts: attempts,
		Elapsed:  time.Since(start),
	}
	if res.cancelled {
		e.cancelled.Add(1)
		out.Err = ErrRequestCancelled
		return out
	}
	out.Response = res.payload
	return out
}

// takeOver removes the request from the pending table, claiming the
// right to resolve it. When a concurrent resolver won the race the
// buffered resolution is returned instead; claimed reports which way
// it went.
func (e *retryEngine) takeOver(req *pendingRequest) (resolution, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pending[req.key] == req {
		e.removeLocked(req)
		return resolution{}, true
	}
	// Already resolved: the resolution was buffered before the request
	// left the table, so this receive never blocks.
	return <-req.done, false
}

// handleResponse matches an inbound packet to a pending request and
// reports whether it was consumed. Unmatched packets are late arrivals,
// duplicates or traffic for someone else; they are counted and dropped.
func (e *retryEngine) handleResponse(addr *net.UDPAddr, pkt protocol.Packet) bool {
	key := pendingKey{addr: addr.String(), seq: pkt.Header.Sequence}

	e.mu.Lock()
	req, ok := e.pending[key]
	if ok {
		e.removeLocked(req)
		req.done <- resolution{payload: pkt.Payload}
	}
	e.mu.Unlock()

	if !ok {
		e.unmatched.Add(1)
		return false
	}
	e.matched.Add(1)
	return true
}

// cancelDevice resolves every outstanding request for a device as
// cancelled. Used when a device is removed.
func (e *retryEngine) cancelDevice(serial protocol.Serial) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.seqs[serial]
	if st == nil {
		return 0
	}
	n := 0
	for _, req := range st.outstanding {
		delete(e.pending, req.key)
		req.done <- resolution{cancelled: true}
		n++
	}
	delete(e.seqs, serial)
	return n
}

// close resolves every outstanding request as cancelled and rejects
// future begins.
func (e *retryEngine) close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	e.closed = true
	for _, req := range e.pending {
		req.done <- resolution{cancelled: true}
	}
	e.pending = make(map[pendingKey]*pendingRequest)
	e.seqs = make(map[protocol.Serial]*seqState)
}

// outstandingFor reports how many requests a device has inflight from
// the engine's point of view.
func (e *retryEngine) outstandingFor(serial protocol.Serial) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st := e.seqs[serial]; st != nil {
		return len(st.outstanding)
	}
	return 0
}

// removeLocked unlinks a request from both indexes. The caller must
// hold e.mu. Sequence state survives so the wrapping counter keeps
// advancing; predictable reuse straight after release would invite
// stale responses to match fresh requests.
func (e *retryEngine) removeLocked(req *pendingRequest) {
	delete(e.pending, req.key)
	if st := e.seqs[req.serial]; st != nil {
		delete(st.outstanding, req.key.seq)
	}
}

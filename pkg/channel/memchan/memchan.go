// Package memchan provides an in-memory channel pair used for tests and
// loss simulations. Each direction drops datagrams independently with a
// configurable probability, and queues are capacity-bounded so a stalled
// reader behaves like a full socket buffer.
package memchan

import (
	"math/rand"
	"sync"

	golrtp "github.com/fountaincode/golrtp"
)

const defaultQueueLen = 8192

type Options struct {
	LossAToB float64 // per-datagram drop probability, a -> b direction
	LossBToA float64 // per-datagram drop probability, b -> a direction
	Seed     int64   // deterministic loss pattern, 0 picks a fixed default
	QueueLen int     // per-direction queue capacity, 0 picks the default
}

// Endpoint is one side of an in-memory channel pair.
type Endpoint struct {
	in     chan []byte
	peer   *Endpoint
	loss   float64
	mu     sync.Mutex
	rng    *rand.Rand
	closed bool
	// Counters for test instrumentation
	sent    uint64
	dropped uint64
}

// NewPair returns the two connected endpoints of an in-memory channel.
func NewPair(opts Options) (*Endpoint, *Endpoint) {
	if opts.QueueLen <= 0 {
		opts.QueueLen = defaultQueueLen
	}
	seed := opts.Seed
	if seed == 0 {
		seed = 42
	}
	a := &Endpoint{
		in:   make(chan []byte, opts.QueueLen),
		loss: opts.LossAToB,
		rng:  rand.New(rand.NewSource(seed)),
	}
	b := &Endpoint{
		in:   make(chan []byte, opts.QueueLen),
		loss: opts.LossBToA,
		rng:  rand.New(rand.NewSource(seed + 1)),
	}
	a.peer = b
	b.peer = a
	return a, b
}

func (e *Endpoint) Send(buf []byte) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return golrtp.ErrChannelClosed
	}
	e.sent++
	drop := e.loss > 0 && e.rng.Float64() < e.loss
	if drop {
		e.dropped++
	}
	e.mu.Unlock()
	if drop {
		return nil
	}
	cp := make([]byte, len(buf))
	copy(cp, buf)
	select {
	case e.peer.in <- cp:
	default:
		// Queue full, behaves like a kernel buffer overrun
		e.mu.Lock()
		e.dropped++
		e.mu.Unlock()
	}
	return nil
}

func (e *Endpoint) Recv(buf []byte) (int, error) {
	select {
	case dgram := <-e.in:
		if len(dgram) > len(buf) {
			return 0, golrtp.ErrDatagramSize
		}
		return copy(buf, dgram), nil
	default:
		e.mu.Lock()
		closed := e.closed
		e.mu.Unlock()
		if closed {
			return 0, golrtp.ErrChannelClosed
		}
		return 0, golrtp.ErrNoData
	}
}

func (e *Endpoint) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

// Stats returns how many datagrams this endpoint sent and dropped.
func (e *Endpoint) Stats() (sent, dropped uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sent, e.dropped
}

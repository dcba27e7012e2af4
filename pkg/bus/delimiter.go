// Package bus turns a raw serial byte stream into discrete request/response
// transactions. RTU frames carry no length prefix or delimiter; the only
// usable boundary on a half-duplex link is silence, so the delimiter emits
// whatever accumulated between two quiet periods and leaves validation to
// the frame codec.
package bus

import (
	"sync"
	"time"
)

// DefaultQuietPeriod is the inter-byte silence that ends a frame. It trades
// latency against the risk of splitting one logical frame in two on slow or
// jittery links, so it is configurable per connection.
const DefaultQuietPeriod = 50 * time.Millisecond

// Delimiter accumulates incoming byte chunks and emits one candidate frame
// after each quiet period. It never inspects the bytes; a candidate may be
// too short to be a frame and still gets emitted.
type Delimiter struct {
	mu     sync.Mutex
	quiet  time.Duration
	buf    []byte
	timer  *time.Timer
	frames chan []byte
}

// NewDelimiter creates a delimiter with the given quiet period. A zero or
// negative period falls back to DefaultQuietPeriod.
func NewDelimiter(quiet time.Duration) *Delimiter {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	return &Delimiter{
		quiet:  quiet,
		frames: make(chan []byte, 4),
	}
}

// Push appends a received chunk and restarts the quiet-period timer.
func (d *Delimiter) Push(chunk []byte) {
	if len(chunk) == 0 {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.buf = append(d.buf, chunk...)

	if d.timer == nil {
		d.timer = time.AfterFunc(d.quiet, d.flush)
	} else {
		d.timer.Reset(d.quiet)
	}
}

// Frames returns the channel of delimited candidate frames.
func (d *Delimiter) Frames() <-chan []byte {
	return d.frames
}

// Reset discards any partially accumulated bytes and any already delimited
// frames nobody consumed. The coordinator calls this before each transmit so
// stale bytes from a previous exchange never leak into the next.
func (d *Delimiter) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.buf = d.buf[:0]

	// Drain under the same lock flush enqueues under, so a flush racing
	// this Reset either lands before the drain or finds the buffer empty.
	for {
		select {
		case <-d.frames:
		default:
			return
		}
	}
}

// flush runs when the quiet period elapses with no further bytes. The
// enqueue happens under the lock; both channel operations are
// non-blocking, so neither side can stall the other.
func (d *Delimiter) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.buf) == 0 {
		return
	}
	frame := make([]byte, len(d.buf))
	copy(frame, d.buf)
	d.buf = d.buf[:0]

	// If nobody is waiting the frame is already stale; drop rather than
	// block the timer goroutine.
	select {
	case d.frames <- frame:
	default:
	}
}

package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mouliraj56/webSerial-modbus/pkg/logger"
	"github.com/mouliraj56/webSerial-modbus/pkg/metrics"
	"github.com/mouliraj56/webSerial-modbus/pkg/modbus"
	"github.com/mouliraj56/webSerial-modbus/pkg/transport"
)

// Coordinator errors.
var (
	ErrBusy      = errors.New("bus: transaction already in flight")
	ErrTimeout   = errors.New("bus: response timeout")
	ErrCancelled = errors.New("bus: transaction cancelled")
	ErrClosed    = errors.New("bus: coordinator closed")
)

// DefaultTimeout is the per-transaction response timeout, fixed at connect
// time.
const DefaultTimeout = 2 * time.Second

// Recorder receives a copy of everything that crosses the wire. The traffic
// log implements it.
type Recorder interface {
	RecordTx(frame []byte)
	RecordRx(frame []byte)
	RecordError(err error)
}

// Options configures a Coordinator.
type Options struct {
	// Name labels log entries and metrics for this connection.
	Name string

	// Timeout is the per-transaction response timeout.
	Timeout time.Duration

	// QuietPeriod is the inter-byte silence that delimits frames.
	QuietPeriod time.Duration

	// QueueSize bounds how many submitted transactions may wait their turn.
	QueueSize int

	// Recorder, if set, receives every frame and error.
	Recorder Recorder

	// Logger, if nil, falls back to the global logger.
	Logger *logger.Logger
}

type request struct {
	frame modbus.Frame
	resp  chan result
}

type result struct {
	frame modbus.Frame
	err   error
}

// Coordinator owns the shared transport and serializes transactions on it.
// A single worker goroutine drains a FIFO queue, so exactly one request is
// ever on the wire; the single-in-flight invariant is structural, not a
// calling convention. Response correlation is positional: the next delimited
// frame is by construction the response to the last sent frame, which is
// only safe because of that invariant.
type Coordinator struct {
	name    string
	tr      transport.Transport
	delim   *Delimiter
	timeout time.Duration
	rec     Recorder
	log     *logger.Logger

	requests chan *request
	inFlight atomic.Int32

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewCoordinator creates a coordinator over the given transport. The
// transport must already be connected; Start begins servicing requests.
func NewCoordinator(tr transport.Transport, opts Options) *Coordinator {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	if opts.Logger == nil {
		opts.Logger = logger.Global()
	}
	if opts.Name == "" {
		opts.Name = tr.Info().ID
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		name:     opts.Name,
		tr:       tr,
		delim:    NewDelimiter(opts.QuietPeriod),
		timeout:  opts.Timeout,
		rec:      opts.Recorder,
		log:      opts.Logger,
		requests: make(chan *request, opts.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the receive loop and the transaction worker.
func (c *Coordinator) Start() {
	c.wg.Add(2)
	go c.receiveLoop()
	go c.worker()
}

// Close stops servicing requests. Queued and pending transactions fail with
// ErrCancelled, never ErrTimeout. The transport itself is left for the owner
// to close.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
	})
	c.wg.Wait()

	// Fail whatever is still queued.
	for {
		select {
		case req := <-c.requests:
			req.resp <- result{err: ErrCancelled}
		default:
			return
		}
	}
}

// Execute submits a transaction and blocks until it completes, fails, or the
// caller's context is done. Submissions are serviced in FIFO order.
func (c *Coordinator) Execute(ctx context.Context, frame modbus.Frame) (modbus.Frame, error) {
	c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	return c.submit(ctx, frame)
}

// TryExecute behaves like Execute but fails immediately with ErrBusy when a
// transaction is already in flight or queued, instead of waiting its turn.
// The in-flight slot is reserved atomically, so two racing TryExecute calls
// never both queue.
func (c *Coordinator) TryExecute(ctx context.Context, frame modbus.Frame) (modbus.Frame, error) {
	if !c.inFlight.CompareAndSwap(0, 1) {
		return nil, ErrBusy
	}
	defer c.inFlight.Add(-1)
	return c.submit(ctx, frame)
}

// submit queues one transaction and awaits its result. The caller holds an
// in-flight slot.
func (c *Coordinator) submit(ctx context.Context, frame modbus.Frame) (modbus.Frame, error) {
	req := &request{frame: frame, resp: make(chan result, 1)}

	select {
	case <-c.ctx.Done():
		return nil, ErrCancelled
	case <-ctx.Done():
		return nil, ctx.Err()
	case c.requests <- req:
	}

	select {
	case res := <-req.resp:
		return res.frame, res.err
	case <-c.ctx.Done():
		return nil, ErrCancelled
	case <-ctx.Done():
		// The worker still owns the wire exchange; its result is discarded.
		return nil, ctx.Err()
	}
}

// receiveLoop feeds transport chunks into the delimiter.
func (c *Coordinator) receiveLoop() {
	defer c.wg.Done()

	for {
		chunk, err := c.tr.Receive(c.ctx)
		if c.ctx.Err() != nil {
			return
		}
		if err != nil {
			c.log.Debug("receive error", "connection", c.name, "err", err)
			// The port may be gone entirely; back off instead of spinning.
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
			}
			continue
		}
		if len(chunk) == 0 {
			continue
		}
		metrics.AddBytes(c.name, metrics.DirectionRx, len(chunk))
		c.delim.Push(chunk)
	}
}

// worker drains the request queue, one exchange at a time.
func (c *Coordinator) worker() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		case req := <-c.requests:
			req.resp <- c.exchange(req.frame)
		}
	}
}

// exchange performs one request/response cycle on the wire.
func (c *Coordinator) exchange(frame modbus.Frame) result {
	// Stale bytes from a previous exchange must never leak into this one.
	c.delim.Reset()

	if c.rec != nil {
		c.rec.RecordTx(frame)
	}
	c.log.Debug("tx", "connection", c.name, "frame", frame.Hex())

	n, err := c.tr.Send(c.ctx, frame)
	if err != nil {
		c.recordError(err)
		metrics.IncTransaction(c.name, metrics.StatusTransport)
		return result{err: err}
	}
	metrics.AddBytes(c.name, metrics.DirectionTx, n)

	// The timeout clock starts at send time.
	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case <-c.ctx.Done():
		c.recordError(ErrCancelled)
		metrics.IncTransaction(c.name, metrics.StatusCancelled)
		return result{err: ErrCancelled}

	case <-timer.C:
		// Partial bytes accumulated so far belong to no transaction.
		c.delim.Reset()
		c.recordError(ErrTimeout)
		metrics.IncTransaction(c.name, metrics.StatusTimeout)
		return result{err: ErrTimeout}

	case raw := <-c.delim.Frames():
		response := modbus.Frame(raw)
		if c.rec != nil {
			c.rec.RecordRx(response)
		}
		c.log.Debug("rx", "connection", c.name, "frame", response.Hex())

		if !response.ValidateCRC() {
			c.recordError(modbus.ErrInvalidCRC)
			metrics.IncTransaction(c.name, metrics.StatusCRC)
			return result{err: modbus.ErrInvalidCRC}
		}
		metrics.IncTransaction(c.name, metrics.StatusCompleted)
		return result{frame: response}
	}
}

func (c *Coordinator) recordError(err error) {
	if c.rec != nil {
		c.rec.RecordError(err)
	}
}

package poll

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mouliraj56/webSerial-modbus/pkg/logger"
	"github.com/mouliraj56/webSerial-modbus/pkg/metrics"
)

// Scheduler errors.
var (
	ErrAlreadyScheduled = errors.New("poll: group already scheduled")
	ErrNotScheduled     = errors.New("poll: group not scheduled")
	ErrInvalidPeriod    = errors.New("poll: period must be positive")
)

// GroupReader performs one coalesced read of a register group through the
// bus coordinator. Implementations must honor context cancellation so a
// cancelled job's in-flight result is discarded rather than applied.
type GroupReader interface {
	ReadGroup(ctx context.Context, groupID string) error
}

// Job binds a register group to a polling period.
type Job struct {
	GroupID string
	Period  time.Duration
}

type runningJob struct {
	cancel   context.CancelFunc
	done     chan struct{}
	inFlight atomic.Bool
	dropped  atomic.Uint64
}

// Scheduler owns one independent timer per scheduled group. Polling periods
// are a soft real-time hint: if a tick fires while the previous tick's
// transaction has not resolved, the new tick is dropped and logged, never
// queued — the bus is the scarce resource.
type Scheduler struct {
	mu     sync.Mutex
	jobs   map[string]*runningJob
	reader GroupReader
	log    *logger.Logger
	closed bool
}

// NewScheduler creates a scheduler reading groups through reader.
func NewScheduler(reader GroupReader, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.Global()
	}
	return &Scheduler{
		jobs:   make(map[string]*runningJob),
		reader: reader,
		log:    log,
	}
}

// Schedule starts periodic polling for the job's group.
func (s *Scheduler) Schedule(job Job) error {
	if job.Period <= 0 {
		return ErrInvalidPeriod
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNotScheduled
	}
	if _, ok := s.jobs[job.GroupID]; ok {
		return ErrAlreadyScheduled
	}

	ctx, cancel := context.WithCancel(context.Background())
	rj := &runningJob{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.jobs[job.GroupID] = rj
	metrics.SetActivePollJobs(len(s.jobs))

	go s.run(ctx, job, rj)
	return nil
}

// Cancel stops the group's timer. A transaction already in flight finishes
// or times out normally; its result is discarded through the cancelled
// context.
func (s *Scheduler) Cancel(groupID string) error {
	s.mu.Lock()
	rj, ok := s.jobs[groupID]
	if ok {
		delete(s.jobs, groupID)
		metrics.SetActivePollJobs(len(s.jobs))
	}
	s.mu.Unlock()

	if !ok {
		return ErrNotScheduled
	}
	rj.cancel()
	<-rj.done
	return nil
}

// Active returns the ids of all currently scheduled groups.
func (s *Scheduler) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	return ids
}

// Dropped returns how many ticks have been dropped for a scheduled group.
func (s *Scheduler) Dropped(groupID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rj, ok := s.jobs[groupID]; ok {
		return rj.dropped.Load()
	}
	return 0
}

// Close cancels every scheduled job.
func (s *Scheduler) Close() {
	s.mu.Lock()
	jobs := s.jobs
	s.jobs = make(map[string]*runningJob)
	s.closed = true
	metrics.SetActivePollJobs(0)
	s.mu.Unlock()

	for _, rj := range jobs {
		rj.cancel()
	}
	for _, rj := range jobs {
		<-rj.done
	}
}

func (s *Scheduler) run(ctx context.Context, job Job, rj *runningJob) {
	defer close(rj.done)

	ticker := time.NewTicker(job.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, job, rj)
		}
	}
}

// tick launches one group read unless the previous one is still in flight,
// in which case the tick is dropped and logged.
func (s *Scheduler) tick(ctx context.Context, job Job, rj *runningJob) {
	if !rj.inFlight.CompareAndSwap(false, true) {
		rj.dropped.Add(1)
		metrics.IncDroppedTick(job.GroupID)
		s.log.Warn("poll tick dropped, previous read still in flight",
			"group", job.GroupID, "period", job.Period)
		return
	}

	go func() {
		defer rj.inFlight.Store(false)
		if err := s.reader.ReadGroup(ctx, job.GroupID); err != nil {
			if ctx.Err() != nil {
				return // job cancelled, result discarded
			}
			s.log.Warn("poll read failed", "group", job.GroupID, "err", err)
		}
	}()
}

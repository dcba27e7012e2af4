// Package core ties one serial connection's transport, transaction
// coordinator, poll scheduler and traffic log together into a Session,
// and provides a Manager that owns the sessions described by a topology
// document.
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mouliraj56/webSerial-modbus/pkg/bus"
	"github.com/mouliraj56/webSerial-modbus/pkg/config"
	"github.com/mouliraj56/webSerial-modbus/pkg/logger"
	"github.com/mouliraj56/webSerial-modbus/pkg/metrics"
	"github.com/mouliraj56/webSerial-modbus/pkg/modbus"
	"github.com/mouliraj56/webSerial-modbus/pkg/poll"
	"github.com/mouliraj56/webSerial-modbus/pkg/traffic"
	"github.com/mouliraj56/webSerial-modbus/pkg/transport"
)

// Session errors.
var (
	ErrSessionNotStarted = errors.New("session not started")
	ErrGroupNotFound     = errors.New("group not found")
	ErrReadOnlySpace     = errors.New("register space is read-only")
	ErrUnitIDMismatch    = errors.New("response unit id does not match request")
)

// SessionState represents the session state.
type SessionState int

const (
	SessionStateStopped SessionState = iota
	SessionStateStarting
	SessionStateRunning
	SessionStateStopping
	SessionStateError
)

func (s SessionState) String() string {
	switch s {
	case SessionStateStopped:
		return "stopped"
	case SessionStateStarting:
		return "starting"
	case SessionStateRunning:
		return "running"
	case SessionStateStopping:
		return "stopping"
	case SessionStateError:
		return "error"
	default:
		return "unknown"
	}
}

// point is one configured register and its last-known value.
type point struct {
	cfg       config.Register
	addr      modbus.Address
	value     uint16
	valid     bool
	updatedAt time.Time
}

// groupState is the runtime state of one register group.
type groupState struct {
	cfg      config.Group
	unitID   byte
	points   []point
	lastPoll time.Time
	lastErr  error
}

// Session drives one serial bus: it owns the transport, the transaction
// coordinator that serializes access to it, the poll scheduler, and the
// last-known values of every configured register.
type Session struct {
	mu sync.RWMutex

	cfg     config.Connection
	tr      transport.Transport
	coord   *bus.Coordinator
	sched   *poll.Scheduler
	traffic *traffic.Log
	log     *logger.Logger

	state     SessionState
	lastError error
	startedAt *time.Time

	groups map[string]*groupState
}

// NewSession builds a session for a connection. The transport is owned
// by the session once started; the traffic log is shared with callers
// that want to export or stream it.
func NewSession(cfg config.Connection, tr transport.Transport, trafficLog *traffic.Log, log *logger.Logger) (*Session, error) {
	if log == nil {
		log = logger.Global()
	}
	if trafficLog == nil {
		trafficLog = traffic.NewLog(traffic.DefaultCapacity)
	}

	s := &Session{
		cfg:     cfg,
		tr:      tr,
		traffic: trafficLog,
		log:     log,
		state:   SessionStateStopped,
		groups:  make(map[string]*groupState),
	}

	for _, slave := range cfg.Slaves {
		for _, group := range slave.Groups {
			if _, ok := s.groups[group.ID]; ok {
				return nil, fmt.Errorf("duplicate group id %q", group.ID)
			}
			gs := &groupState{cfg: group, unitID: slave.UnitID}
			for _, reg := range group.Registers {
				addr, err := reg.ProtocolAddress()
				if err != nil {
					return nil, fmt.Errorf("group %q register %d: %w", group.ID, reg.Address, err)
				}
				gs.points = append(gs.points, point{cfg: reg, addr: addr})
			}
			s.groups[group.ID] = gs
		}
	}

	s.coord = bus.NewCoordinator(tr, bus.Options{
		Name:        cfg.Name,
		Timeout:     cfg.Timeout,
		QuietPeriod: cfg.QuietPeriod,
		Recorder:    trafficLog,
		Logger:      log,
	})
	s.sched = poll.NewScheduler(s, log)

	return s, nil
}

// Name returns the connection name.
func (s *Session) Name() string {
	return s.cfg.Name
}

// TrafficLog returns the session's traffic log.
func (s *Session) TrafficLog() *traffic.Log {
	return s.traffic
}

// Start connects the transport and starts the coordinator.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == SessionStateRunning {
		return nil
	}

	s.state = SessionStateStarting
	if err := s.tr.Connect(ctx); err != nil {
		s.state = SessionStateError
		s.lastError = err
		return err
	}

	s.coord.Start()

	now := time.Now()
	s.startedAt = &now
	s.state = SessionStateRunning

	s.log.Info("session started", "connection", s.cfg.Name, "groups", len(s.groups))
	return nil
}

// Close stops polling, shuts down the coordinator and closes the
// transport. In-flight and queued transactions fail with
// bus.ErrCancelled.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == SessionStateStopped {
		s.mu.Unlock()
		return nil
	}
	s.state = SessionStateStopping
	s.mu.Unlock()

	s.sched.Close()
	s.coord.Close()
	err := s.tr.Close()

	s.mu.Lock()
	s.state = SessionStateStopped
	if err != nil {
		s.lastError = err
	}
	s.mu.Unlock()

	s.log.Info("session closed", "connection", s.cfg.Name)
	return err
}

// TestConnection probes a device by reading one holding register at
// offset zero. Any well-formed reply proves the device is present: an
// exception response (for example Illegal Data Address) still counts as
// a successful probe. The round-trip time of the transaction is
// returned.
func (s *Session) TestConnection(ctx context.Context, unitID byte) (time.Duration, error) {
	frame := modbus.BuildReadFrame(unitID, modbus.FuncReadHoldingRegisters, 0, 1)

	start := time.Now()
	resp, err := s.coord.Execute(ctx, frame)
	rtt := time.Since(start)
	if err != nil {
		return rtt, err
	}
	if resp.UnitID() != unitID {
		s.recordProtocolError(ErrUnitIDMismatch)
		return rtt, ErrUnitIDMismatch
	}

	var exc *modbus.ExceptionError
	if _, err := modbus.ParseReadRegisters(resp, modbus.FuncReadHoldingRegisters); err != nil && !errors.As(err, &exc) {
		s.recordProtocolError(err)
		return rtt, err
	}
	return rtt, nil
}

// ReadGroup reads every register of a group in as few bus transactions
// as possible and updates the last-known values. It implements
// poll.GroupReader, so the scheduler drives it directly.
func (s *Session) ReadGroup(ctx context.Context, groupID string) error {
	s.mu.RLock()
	gs, ok := s.groups[groupID]
	if !ok {
		s.mu.RUnlock()
		return ErrGroupNotFound
	}
	unitID := gs.unitID
	addrs := make([]modbus.Address, len(gs.points))
	for i, p := range gs.points {
		addrs[i] = p.addr
	}
	s.mu.RUnlock()

	for _, req := range poll.Coalesce(addrs) {
		fc := req.Space.ReadFunctionCode()
		frame := modbus.BuildReadFrame(unitID, fc, req.Start, req.Quantity)

		resp, err := s.coord.Execute(ctx, frame)
		if err != nil {
			s.setGroupError(groupID, err)
			return err
		}
		if resp.UnitID() != unitID {
			s.recordProtocolError(ErrUnitIDMismatch)
			s.setGroupError(groupID, ErrUnitIDMismatch)
			return ErrUnitIDMismatch
		}

		if req.Space.Bit() {
			bits, err := modbus.ParseReadBits(resp, fc, req.Quantity)
			if err != nil {
				s.recordProtocolError(err)
				s.setGroupError(groupID, err)
				return err
			}
			s.applyBits(groupID, req, bits)
		} else {
			regs, err := modbus.ParseReadRegisters(resp, fc)
			if err != nil {
				s.recordProtocolError(err)
				s.setGroupError(groupID, err)
				return err
			}
			s.applyRegisters(groupID, req, regs)
		}
	}

	s.mu.Lock()
	if gs, ok := s.groups[groupID]; ok {
		gs.lastPoll = time.Now()
		gs.lastErr = nil
	}
	s.mu.Unlock()
	return nil
}

// ReadAddress reads a run of registers or bits starting at an arbitrary
// address, outside of any configured group. Runs longer than one request
// allows are split. Bits are returned as 0 or 1.
func (s *Session) ReadAddress(ctx context.Context, unitID byte, addr modbus.Address, quantity uint16) ([]uint16, error) {
	if quantity == 0 {
		quantity = 1
	}

	fc := addr.Space.ReadFunctionCode()
	max := uint16(addr.Space.MaxPerRead())
	out := make([]uint16, 0, quantity)

	for start, remaining := addr.Offset, quantity; remaining > 0; {
		qty := remaining
		if qty > max {
			qty = max
		}

		frame := modbus.BuildReadFrame(unitID, fc, start, qty)
		resp, err := s.coord.Execute(ctx, frame)
		if err != nil {
			return nil, err
		}
		if resp.UnitID() != unitID {
			s.recordProtocolError(ErrUnitIDMismatch)
			return nil, ErrUnitIDMismatch
		}

		if addr.Space.Bit() {
			bits, err := modbus.ParseReadBits(resp, fc, qty)
			if err != nil {
				s.recordProtocolError(err)
				return nil, err
			}
			for _, b := range bits {
				if b {
					out = append(out, 1)
				} else {
					out = append(out, 0)
				}
			}
		} else {
			regs, err := modbus.ParseReadRegisters(resp, fc)
			if err != nil {
				s.recordProtocolError(err)
				return nil, err
			}
			out = append(out, regs...)
		}

		start += qty
		remaining -= qty
	}

	return out, nil
}

// WriteRegister writes a single holding register or coil. It never
// queues behind other traffic: if a transaction is already in flight
// the write fails immediately with bus.ErrBusy.
func (s *Session) WriteRegister(ctx context.Context, unitID byte, addr modbus.Address, value uint16) error {
	var frame modbus.Frame
	var fc byte

	switch addr.Space {
	case modbus.SpaceHoldingRegister:
		fc = modbus.FuncWriteSingleRegister
		frame = modbus.BuildWriteSingleRegister(unitID, addr.Offset, value)
	case modbus.SpaceCoil:
		fc = modbus.FuncWriteSingleCoil
		frame = modbus.BuildWriteSingleCoil(unitID, addr.Offset, value != 0)
	default:
		return fmt.Errorf("%w: %s", ErrReadOnlySpace, addr.Space)
	}

	resp, err := s.coord.TryExecute(ctx, frame)
	if err != nil {
		return err
	}
	if resp.UnitID() != unitID {
		s.recordProtocolError(ErrUnitIDMismatch)
		return ErrUnitIDMismatch
	}
	if err := modbus.ParseWriteResponse(resp, fc); err != nil {
		s.recordProtocolError(err)
		return err
	}

	s.applyWrite(unitID, addr, value)
	return nil
}

// WriteRegisters writes a block of consecutive holding registers.
func (s *Session) WriteRegisters(ctx context.Context, unitID byte, addr modbus.Address, values []uint16) error {
	if addr.Space != modbus.SpaceHoldingRegister {
		return fmt.Errorf("%w: %s", ErrReadOnlySpace, addr.Space)
	}

	frame := modbus.BuildWriteMultipleRegisters(unitID, addr.Offset, values)
	resp, err := s.coord.TryExecute(ctx, frame)
	if err != nil {
		return err
	}
	if resp.UnitID() != unitID {
		s.recordProtocolError(ErrUnitIDMismatch)
		return ErrUnitIDMismatch
	}
	if err := modbus.ParseWriteResponse(resp, modbus.FuncWriteMultipleRegisters); err != nil {
		s.recordProtocolError(err)
		return err
	}

	for i, v := range values {
		s.applyWrite(unitID, modbus.Address{Space: addr.Space, Offset: addr.Offset + uint16(i)}, v)
	}
	return nil
}

// StartPolling begins periodic reads of a group at its configured
// period.
func (s *Session) StartPolling(groupID string) error {
	s.mu.RLock()
	gs, ok := s.groups[groupID]
	s.mu.RUnlock()
	if !ok {
		return ErrGroupNotFound
	}

	return s.sched.Schedule(poll.Job{GroupID: groupID, Period: gs.cfg.Period})
}

// StopPolling cancels periodic reads of a group. The group's last-known
// values are retained.
func (s *Session) StopPolling(groupID string) error {
	return s.sched.Cancel(groupID)
}

// Polling returns the ids of groups currently being polled.
func (s *Session) Polling() []string {
	return s.sched.Active()
}

// ExportTraffic returns a structured snapshot of the traffic log.
func (s *Session) ExportTraffic() traffic.Export {
	return s.traffic.ExportDocument()
}

// Values returns the last-known values of a group.
func (s *Session) Values(groupID string) ([]PointValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	gs, ok := s.groups[groupID]
	if !ok {
		return nil, ErrGroupNotFound
	}
	return gs.values(), nil
}

// Status returns a snapshot of the session and every group.
func (s *Session) Status() SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	active := make(map[string]bool)
	for _, id := range s.sched.Active() {
		active[id] = true
	}

	status := SessionStatus{
		Name:          s.cfg.Name,
		State:         s.state.String(),
		TransportInfo: s.tr.Info(),
	}
	if s.lastError != nil {
		errStr := s.lastError.Error()
		status.LastError = &errStr
	}
	if s.startedAt != nil {
		status.Uptime = time.Since(*s.startedAt)
	}

	for id, gs := range s.groups {
		g := GroupStatus{
			ID:       id,
			Name:     gs.cfg.Name,
			UnitID:   gs.unitID,
			Period:   gs.cfg.Period,
			Polling:  active[id],
			Dropped:  s.sched.Dropped(id),
			LastPoll: gs.lastPoll,
			Values:   gs.values(),
		}
		if gs.lastErr != nil {
			errStr := gs.lastErr.Error()
			g.LastError = &errStr
		}
		status.Groups = append(status.Groups, g)
	}
	return status
}

// recordProtocolError puts a parse-level failure (exception response,
// unexpected function code, unit id mismatch) into the traffic log.
// Wire-level failures never reach the session: the coordinator records
// timeouts, CRC and transport errors before handing the frame over.
func (s *Session) recordProtocolError(err error) {
	s.traffic.RecordError(err)

	var exc *modbus.ExceptionError
	if errors.As(err, &exc) {
		metrics.IncTransaction(s.cfg.Name, metrics.StatusException)
	}
}

// setGroupError records a failed poll. Last-known values are retained.
func (s *Session) setGroupError(groupID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gs, ok := s.groups[groupID]; ok {
		gs.lastErr = err
	}
}

// applyRegisters stores register values read by one chunked request.
func (s *Session) applyRegisters(groupID string, req poll.ReadRequest, regs []uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()

	gs, ok := s.groups[groupID]
	if !ok {
		return
	}
	now := time.Now()
	for i := range gs.points {
		p := &gs.points[i]
		if p.addr.Space != req.Space || p.addr.Offset < req.Start {
			continue
		}
		idx := int(p.addr.Offset - req.Start)
		if idx < len(regs) {
			p.value = regs[idx]
			p.valid = true
			p.updatedAt = now
		}
	}
}

// applyBits stores coil or discrete input values read by one chunked
// request.
func (s *Session) applyBits(groupID string, req poll.ReadRequest, bits []bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	gs, ok := s.groups[groupID]
	if !ok {
		return
	}
	now := time.Now()
	for i := range gs.points {
		p := &gs.points[i]
		if p.addr.Space != req.Space || p.addr.Offset < req.Start {
			continue
		}
		idx := int(p.addr.Offset - req.Start)
		if idx < len(bits) {
			p.value = 0
			if bits[idx] {
				p.value = 1
			}
			p.valid = true
			p.updatedAt = now
		}
	}
}

// applyWrite reflects a confirmed write into the local model, if the
// written register is configured in any group of that device.
func (s *Session) applyWrite(unitID byte, addr modbus.Address, value uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, gs := range s.groups {
		if gs.unitID != unitID {
			continue
		}
		for i := range gs.points {
			p := &gs.points[i]
			if p.addr == addr {
				p.value = value
				p.valid = true
				p.updatedAt = now
			}
		}
	}
}

// values snapshots a group's points. Caller holds s.mu.
func (gs *groupState) values() []PointValue {
	out := make([]PointValue, len(gs.points))
	for i, p := range gs.points {
		out[i] = PointValue{
			Alias:     p.cfg.Alias,
			Space:     p.addr.Space.String(),
			Address:   p.cfg.Address,
			Value:     p.value,
			Valid:     p.valid,
			UpdatedAt: p.updatedAt,
		}
	}
	return out
}

// PointValue is the last-known value of one configured register.
type PointValue struct {
	Alias     string    `json:"alias,omitempty"`
	Space     string    `json:"space"`
	Address   uint32    `json:"address"`
	Value     uint16    `json:"value"`
	Valid     bool      `json:"valid"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GroupStatus is a snapshot of one register group.
type GroupStatus struct {
	ID        string        `json:"id"`
	Name      string        `json:"name,omitempty"`
	UnitID    byte          `json:"unit_id"`
	Period    time.Duration `json:"period"`
	Polling   bool          `json:"polling"`
	Dropped   uint64        `json:"dropped_ticks"`
	LastPoll  time.Time     `json:"last_poll"`
	LastError *string       `json:"last_error,omitempty"`
	Values    []PointValue  `json:"values"`
}

// SessionStatus is a snapshot of one session.
type SessionStatus struct {
	Name          string         `json:"name"`
	State         string         `json:"state"`
	TransportInfo transport.Info `json:"transport_info"`
	Uptime        time.Duration  `json:"uptime"`
	LastError     *string        `json:"last_error,omitempty"`
	Groups        []GroupStatus  `json:"groups"`
}

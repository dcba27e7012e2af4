package core

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mouliraj56/webSerial-modbus/pkg/bus"
	"github.com/mouliraj56/webSerial-modbus/pkg/config"
	"github.com/mouliraj56/webSerial-modbus/pkg/logger"
	"github.com/mouliraj56/webSerial-modbus/pkg/modbus"
	"github.com/mouliraj56/webSerial-modbus/pkg/poll"
	"github.com/mouliraj56/webSerial-modbus/pkg/traffic"
	"github.com/mouliraj56/webSerial-modbus/pkg/transport"
	"github.com/mouliraj56/webSerial-modbus/pkg/utils/crc"
)

// scriptedBus is an in-memory transport backed by a request handler. A
// nil reply from the handler means the device stays silent.
type scriptedBus struct {
	mu       sync.Mutex
	incoming chan []byte
	writes   [][]byte
	handler  func(req modbus.Frame) []byte
}

func newScriptedBus(handler func(req modbus.Frame) []byte) *scriptedBus {
	return &scriptedBus{
		incoming: make(chan []byte, 16),
		handler:  handler,
	}
}

func (b *scriptedBus) Connect(ctx context.Context) error { return nil }
func (b *scriptedBus) Close() error                      { return nil }
func (b *scriptedBus) IsConnected() bool                 { return true }

func (b *scriptedBus) Send(ctx context.Context, data []byte) (int, error) {
	cp := make([]byte, len(data))
	copy(cp, data)

	b.mu.Lock()
	b.writes = append(b.writes, cp)
	b.mu.Unlock()

	go func() {
		if resp := b.handler(cp); resp != nil {
			b.incoming <- resp
		}
	}()
	return len(data), nil
}

func (b *scriptedBus) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case chunk := <-b.incoming:
		return chunk, nil
	}
}

func (b *scriptedBus) Info() transport.Info {
	return transport.Info{ID: "scripted", Type: "fake"}
}

func (b *scriptedBus) writeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.writes)
}

func withCRC(body []byte) []byte {
	c := crc.CalculateCRC16(body)
	return append(body, byte(c), byte(c>>8))
}

// deviceHandler simulates a slave: holding and input registers read back
// as offset+100, coils and discrete inputs are on at even offsets, and
// writes are echoed.
func deviceHandler(req modbus.Frame) []byte {
	unit, fc := req[0], req[1]
	switch fc {
	case modbus.FuncReadHoldingRegisters, modbus.FuncReadInputRegisters:
		start := binary.BigEndian.Uint16(req[2:4])
		qty := binary.BigEndian.Uint16(req[4:6])
		body := []byte{unit, fc, byte(qty * 2)}
		for i := uint16(0); i < qty; i++ {
			v := start + i + 100
			body = append(body, byte(v>>8), byte(v))
		}
		return withCRC(body)
	case modbus.FuncReadCoils, modbus.FuncReadDiscreteInputs:
		start := binary.BigEndian.Uint16(req[2:4])
		qty := binary.BigEndian.Uint16(req[4:6])
		packed := make([]byte, (qty+7)/8)
		for i := uint16(0); i < qty; i++ {
			if (start+i)%2 == 0 {
				packed[i/8] |= 1 << (i % 8)
			}
		}
		body := append([]byte{unit, fc, byte(len(packed))}, packed...)
		return withCRC(body)
	case modbus.FuncWriteSingleRegister, modbus.FuncWriteSingleCoil,
		modbus.FuncWriteMultipleRegisters, modbus.FuncWriteMultipleCoils:
		return append([]byte(nil), req...)
	}
	return nil
}

func testConnection() config.Connection {
	return config.Connection{
		Name:        "bench",
		Timeout:     500 * time.Millisecond,
		QuietPeriod: 10 * time.Millisecond,
		Slaves: []config.Slave{
			{
				UnitID: 1,
				Groups: []config.Group{
					{
						ID:     "meters",
						Period: 50 * time.Millisecond,
						Registers: []config.Register{
							{Space: "holding_register", Address: 40001, Alias: "speed"},
							{Space: "holding_register", Address: 40002, Alias: "torque"},
							{Space: "coil", Address: 1, Alias: "running"},
						},
					},
					{ID: "manual", Registers: []config.Register{
						{Space: "holding_register", Address: 40010},
					}},
				},
			},
		},
	}
}

func newTestSession(t *testing.T, handler func(req modbus.Frame) []byte) (*Session, *scriptedBus) {
	t.Helper()
	tr := newScriptedBus(handler)
	sess, err := NewSession(testConnection(), tr, nil, logger.New(logger.Config{Level: "error"}))
	require.NoError(t, err)
	require.NoError(t, sess.Start(context.Background()))
	t.Cleanup(func() { sess.Close() })
	return sess, tr
}

func TestSessionReadGroupUpdatesValues(t *testing.T) {
	sess, tr := newTestSession(t, deviceHandler)

	require.NoError(t, sess.ReadGroup(context.Background(), "meters"))

	// Two consecutive holding registers coalesce into one transaction,
	// plus one for the coil.
	assert.Equal(t, 2, tr.writeCount())

	values, err := sess.Values("meters")
	require.NoError(t, err)
	require.Len(t, values, 3)

	byAlias := make(map[string]PointValue)
	for _, v := range values {
		byAlias[v.Alias] = v
	}

	assert.Equal(t, uint16(100), byAlias["speed"].Value)
	assert.Equal(t, uint16(101), byAlias["torque"].Value)
	assert.Equal(t, uint16(1), byAlias["running"].Value)
	for _, v := range values {
		assert.True(t, v.Valid)
		assert.False(t, v.UpdatedAt.IsZero())
	}
}

func TestSessionReadGroupUnknown(t *testing.T) {
	sess, _ := newTestSession(t, deviceHandler)
	assert.ErrorIs(t, sess.ReadGroup(context.Background(), "nope"), ErrGroupNotFound)
}

func TestSessionReadGroupKeepsValuesOnTimeout(t *testing.T) {
	var silent bool
	var mu sync.Mutex
	sess, _ := newTestSession(t, func(req modbus.Frame) []byte {
		mu.Lock()
		defer mu.Unlock()
		if silent {
			return nil
		}
		return deviceHandler(req)
	})

	require.NoError(t, sess.ReadGroup(context.Background(), "meters"))

	mu.Lock()
	silent = true
	mu.Unlock()

	err := sess.ReadGroup(context.Background(), "meters")
	assert.ErrorIs(t, err, bus.ErrTimeout)

	// Last-known values survive the failed poll.
	values, err := sess.Values("meters")
	require.NoError(t, err)
	for _, v := range values {
		assert.True(t, v.Valid)
	}

	status := sess.Status()
	for _, g := range status.Groups {
		if g.ID == "meters" {
			require.NotNil(t, g.LastError)
		}
	}
}

func TestSessionReadAddress(t *testing.T) {
	sess, tr := newTestSession(t, deviceHandler)

	addr := modbus.Address{Space: modbus.SpaceHoldingRegister, Offset: 5}
	values, err := sess.ReadAddress(context.Background(), 1, addr, 3)
	require.NoError(t, err)
	assert.Equal(t, []uint16{105, 106, 107}, values)
	assert.Equal(t, 1, tr.writeCount())

	// A run longer than one request allows is split.
	values, err = sess.ReadAddress(context.Background(), 1, addr, 130)
	require.NoError(t, err)
	assert.Len(t, values, 130)
	assert.Equal(t, 3, tr.writeCount())
}

func TestSessionReadAddressBits(t *testing.T) {
	sess, _ := newTestSession(t, deviceHandler)

	addr := modbus.Address{Space: modbus.SpaceCoil, Offset: 0}
	values, err := sess.ReadAddress(context.Background(), 1, addr, 4)
	require.NoError(t, err)
	assert.Equal(t, []uint16{1, 0, 1, 0}, values)
}

func TestSessionTestConnection(t *testing.T) {
	sess, _ := newTestSession(t, deviceHandler)

	rtt, err := sess.TestConnection(context.Background(), 1)
	require.NoError(t, err)
	assert.Greater(t, rtt, time.Duration(0))
}

func TestSessionTestConnectionExceptionStillCounts(t *testing.T) {
	sess, _ := newTestSession(t, func(req modbus.Frame) []byte {
		return withCRC([]byte{req[0], req[1] | 0x80, modbus.ExceptionIllegalDataAddress})
	})

	_, err := sess.TestConnection(context.Background(), 1)
	assert.NoError(t, err)
}

func TestSessionTestConnectionSilence(t *testing.T) {
	sess, _ := newTestSession(t, func(req modbus.Frame) []byte { return nil })

	_, err := sess.TestConnection(context.Background(), 1)
	assert.ErrorIs(t, err, bus.ErrTimeout)
}

func TestSessionWriteRegister(t *testing.T) {
	sess, _ := newTestSession(t, deviceHandler)

	addr := modbus.Address{Space: modbus.SpaceHoldingRegister, Offset: 0}
	require.NoError(t, sess.WriteRegister(context.Background(), 1, addr, 1234))

	// The write is reflected into the local model.
	values, err := sess.Values("meters")
	require.NoError(t, err)
	for _, v := range values {
		if v.Alias == "speed" {
			assert.Equal(t, uint16(1234), v.Value)
			assert.True(t, v.Valid)
		}
	}
}

func TestSessionWriteCoil(t *testing.T) {
	sess, _ := newTestSession(t, deviceHandler)

	addr := modbus.Address{Space: modbus.SpaceCoil, Offset: 0}
	assert.NoError(t, sess.WriteRegister(context.Background(), 1, addr, 1))
}

func TestSessionWriteReadOnlySpace(t *testing.T) {
	sess, _ := newTestSession(t, deviceHandler)

	addr := modbus.Address{Space: modbus.SpaceInputRegister, Offset: 0}
	err := sess.WriteRegister(context.Background(), 1, addr, 1)
	assert.ErrorIs(t, err, ErrReadOnlySpace)

	err = sess.WriteRegisters(context.Background(), 1, modbus.Address{Space: modbus.SpaceCoil}, []uint16{1})
	assert.ErrorIs(t, err, ErrReadOnlySpace)
}

func TestSessionWriteMultipleRegisters(t *testing.T) {
	sess, _ := newTestSession(t, deviceHandler)

	addr := modbus.Address{Space: modbus.SpaceHoldingRegister, Offset: 0}
	require.NoError(t, sess.WriteRegisters(context.Background(), 1, addr, []uint16{7, 8}))

	values, err := sess.Values("meters")
	require.NoError(t, err)
	byAlias := make(map[string]PointValue)
	for _, v := range values {
		byAlias[v.Alias] = v
	}
	assert.Equal(t, uint16(7), byAlias["speed"].Value)
	assert.Equal(t, uint16(8), byAlias["torque"].Value)
}

func TestSessionPollingLifecycle(t *testing.T) {
	sess, _ := newTestSession(t, deviceHandler)

	require.NoError(t, sess.StartPolling("meters"))
	assert.Contains(t, sess.Polling(), "meters")

	require.Eventually(t, func() bool {
		values, err := sess.Values("meters")
		if err != nil {
			return false
		}
		for _, v := range values {
			if !v.Valid {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, sess.StopPolling("meters"))
	assert.Empty(t, sess.Polling())

	// A group without a period cannot be polled.
	assert.ErrorIs(t, sess.StartPolling("manual"), poll.ErrInvalidPeriod)
	assert.ErrorIs(t, sess.StartPolling("nope"), ErrGroupNotFound)
}

func TestSessionTrafficExport(t *testing.T) {
	sess, _ := newTestSession(t, deviceHandler)

	require.NoError(t, sess.ReadGroup(context.Background(), "meters"))

	doc := sess.ExportTraffic()
	require.NotEmpty(t, doc.Entries)
	assert.False(t, doc.ExportedAt.IsZero())
}

func TestSessionTrafficExportRecordsExceptions(t *testing.T) {
	sess, _ := newTestSession(t, func(req modbus.Frame) []byte {
		return withCRC([]byte{req[0], req[1] | 0x80, modbus.ExceptionIllegalDataAddress})
	})

	var exc *modbus.ExceptionError
	require.ErrorAs(t, sess.ReadGroup(context.Background(), "meters"), &exc)
	assert.Equal(t, byte(modbus.ExceptionIllegalDataAddress), exc.ExceptionCode)

	addr := modbus.Address{Space: modbus.SpaceHoldingRegister, Offset: 9}
	require.ErrorAs(t, sess.WriteRegister(context.Background(), 1, addr, 42), &exc)

	var errEntries int
	for _, e := range sess.ExportTraffic().Entries {
		if e.Kind == traffic.KindError {
			errEntries++
		}
	}
	assert.Equal(t, 2, errEntries)
}

func TestSessionStatus(t *testing.T) {
	sess, _ := newTestSession(t, deviceHandler)

	status := sess.Status()
	assert.Equal(t, "bench", status.Name)
	assert.Equal(t, "running", status.State)
	assert.Len(t, status.Groups, 2)
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	sess, _ := newTestSession(t, deviceHandler)

	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())

	_, err := sess.TestConnection(context.Background(), 1)
	assert.ErrorIs(t, err, bus.ErrCancelled)
}

func TestNewSessionRejectsDuplicateGroup(t *testing.T) {
	cfg := testConnection()
	cfg.Slaves[0].Groups = append(cfg.Slaves[0].Groups, config.Group{ID: "meters"})

	_, err := NewSession(cfg, newScriptedBus(deviceHandler), nil, nil)
	require.Error(t, err)

	cfg = testConnection()
	cfg.Slaves[0].Groups[0].Registers[0].Space = "bogus"
	_, err = NewSession(cfg, newScriptedBus(deviceHandler), nil, nil)
	assert.Error(t, err)
}

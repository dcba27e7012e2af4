package serial

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mouliraj56/webSerial-modbus/pkg/transport"
	"go.bug.st/serial"
)

// stubPort is an in-memory serial.Port. Each Read fills the destination
// with a fresh marker byte, so a chunk returned by Receive is corrupt the
// moment it carries more than one value.
type stubPort struct {
	marker atomic.Uint32
}

func (p *stubPort) Read(b []byte) (int, error) {
	m := byte(p.marker.Add(1))
	n := 8
	if n > len(b) {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		b[i] = m
	}
	return n, nil
}

func (p *stubPort) Write(b []byte) (int, error)          { return len(b), nil }
func (p *stubPort) Close() error                         { return nil }
func (p *stubPort) SetMode(mode *serial.Mode) error      { return nil }
func (p *stubPort) Drain() error                         { return nil }
func (p *stubPort) ResetInputBuffer() error              { return nil }
func (p *stubPort) ResetOutputBuffer() error             { return nil }
func (p *stubPort) SetDTR(dtr bool) error                { return nil }
func (p *stubPort) SetRTS(rts bool) error                { return nil }
func (p *stubPort) SetReadTimeout(t time.Duration) error { return nil }
func (p *stubPort) Break(d time.Duration) error          { return nil }
func (p *stubPort) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	return &serial.ModemStatusBits{}, nil
}

// newStubTransport wires a transport to a stub port, bypassing Connect.
func newStubTransport(cfg Config) (*Transport, *stubPort) {
	port := &stubPort{}
	t := New(cfg)
	t.port = port
	t.state = transport.StateConnected
	return t, port
}

func TestNewFillsDefaults(t *testing.T) {
	tr := New(Config{Port: "/dev/ttyUSB0"})

	def := DefaultConfig()
	assert.Equal(t, def.BaudRate, tr.config.BaudRate)
	assert.Equal(t, def.DataBits, tr.config.DataBits)
	assert.Equal(t, def.Parity, tr.config.Parity)
	assert.Equal(t, def.StopBits, tr.config.StopBits)
	assert.Equal(t, def.BufferSize, tr.config.BufferSize)
	assert.False(t, tr.IsConnected())
}

func TestReceiveNotOpen(t *testing.T) {
	tr := New(Config{Port: "/dev/ttyUSB0"})
	_, err := tr.Receive(context.Background())
	assert.ErrorIs(t, err, ErrPortNotOpen)

	_, err = tr.Send(context.Background(), []byte{0x01})
	assert.ErrorIs(t, err, ErrPortNotOpen)
}

func TestReceiveConcurrentChunksStayIntact(t *testing.T) {
	tr, _ := newStubTransport(Config{Port: "stub", BufferSize: 64})

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				chunk, err := tr.Receive(context.Background())
				if !assert.NoError(t, err) {
					return
				}
				for _, b := range chunk {
					if b != chunk[0] {
						t.Errorf("torn chunk: %x", chunk)
						return
					}
				}
			}
		}()
	}

	// Sends in parallel must not be held up by blocking reads.
	for i := 0; i < 50; i++ {
		_, err := tr.Send(context.Background(), []byte{0x01, 0x03})
		require.NoError(t, err)
	}
	wg.Wait()

	stats := tr.Info().Statistics
	assert.NotZero(t, stats.BytesReceived)
	assert.Equal(t, uint64(100), stats.BytesSent)
}

// Package serial implements the transport contract on an RS-232/RS-485
// serial port.
package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mouliraj56/webSerial-modbus/pkg/transport"
	"go.bug.st/serial"
)

// Common errors.
var (
	ErrPortNotOpen = errors.New("serial port not open")
)

// Config holds serial port configuration.
type Config struct {
	// Port is the serial port path (e.g., "/dev/ttyUSB0", "COM1").
	Port string `yaml:"port" json:"port"`

	// BaudRate is the baud rate (e.g., 9600, 115200).
	BaudRate int `yaml:"baudrate" json:"baudrate"`

	// DataBits is the number of data bits (5, 6, 7, 8).
	DataBits int `yaml:"databits" json:"databits"`

	// Parity is the parity mode ("none", "odd", "even", "mark", "space").
	Parity string `yaml:"parity" json:"parity"`

	// StopBits is the number of stop bits (1, 1.5, 2).
	StopBits float64 `yaml:"stopbits" json:"stopbits"`

	// ReadTimeout bounds a single blocking read. It controls how quickly
	// Receive notices cancellation, not frame boundaries; delimiting is the
	// bus layer's job.
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// BufferSize is the read buffer size.
	BufferSize int `yaml:"buffer_size" json:"buffer_size"`
}

// DefaultConfig returns a default serial configuration.
func DefaultConfig() Config {
	return Config{
		BaudRate:    9600,
		DataBits:    8,
		Parity:      "none",
		StopBits:    1,
		ReadTimeout: 20 * time.Millisecond,
		BufferSize:  4096,
	}
}

// Transport implements transport.Transport for serial ports.
type Transport struct {
	mu sync.RWMutex

	config Config

	// Port handle
	port serial.Port

	id          string
	state       transport.ConnectionState
	stats       transport.Statistics
	connectedAt *time.Time

	// readMu serializes concurrent Receive calls over the shared read
	// buffer. It is separate from mu so a blocking port read never holds
	// up Send or the state accessors.
	readMu     sync.Mutex
	readBuffer []byte
}

// New creates a new serial transport.
func New(config Config) *Transport {
	def := DefaultConfig()
	if config.BaudRate == 0 {
		config.BaudRate = def.BaudRate
	}
	if config.DataBits == 0 {
		config.DataBits = def.DataBits
	}
	if config.Parity == "" {
		config.Parity = def.Parity
	}
	if config.StopBits == 0 {
		config.StopBits = def.StopBits
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = def.ReadTimeout
	}
	if config.BufferSize <= 0 {
		config.BufferSize = def.BufferSize
	}

	return &Transport{
		config:     config,
		id:         fmt.Sprintf("serial-%s", config.Port),
		state:      transport.StateDisconnected,
		readBuffer: make([]byte, config.BufferSize),
	}
}

// Connect opens the serial port.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == transport.StateConnected {
		return nil
	}

	t.state = transport.StateConnecting

	mode := &serial.Mode{
		BaudRate: t.config.BaudRate,
		DataBits: t.config.DataBits,
		Parity:   t.parseParity(),
		StopBits: t.parseStopBits(),
	}

	port, err := serial.Open(t.config.Port, mode)
	if err != nil {
		t.state = transport.StateError
		return fmt.Errorf("could not open %s: %w", t.config.Port, err)
	}

	if err := port.SetReadTimeout(t.config.ReadTimeout); err != nil {
		port.Close()
		t.state = transport.StateError
		return err
	}

	t.port = port

	now := time.Now()
	t.connectedAt = &now
	t.state = transport.StateConnected

	return nil
}

// Close closes the serial port.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == transport.StateDisconnected {
		return nil
	}

	var err error
	if t.port != nil {
		err = t.port.Close()
		t.port = nil
	}

	t.state = transport.StateDisconnected
	t.connectedAt = nil

	return err
}

// IsConnected returns true if the port is open.
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state == transport.StateConnected
}

// Send writes data to the serial port.
func (t *Transport) Send(ctx context.Context, data []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != transport.StateConnected || t.port == nil {
		return 0, ErrPortNotOpen
	}

	n, err := t.port.Write(data)
	if err != nil {
		t.stats.Errors++
		return n, err
	}

	t.stats.BytesSent += uint64(n)
	return n, nil
}

// Receive reads the next chunk from the serial port. A read timeout yields
// (nil, nil) so the caller can poll for cancellation between chunks.
func (t *Transport) Receive(ctx context.Context) ([]byte, error) {
	t.mu.RLock()
	if t.state != transport.StateConnected || t.port == nil {
		t.mu.RUnlock()
		return nil, ErrPortNotOpen
	}
	port := t.port
	t.mu.RUnlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	t.readMu.Lock()
	n, err := port.Read(t.readBuffer)
	if err != nil {
		t.readMu.Unlock()
		if err == io.EOF {
			return nil, ErrPortNotOpen
		}
		return nil, err
	}

	// go.bug.st/serial returns n == 0 without error on read timeout.
	if n == 0 {
		t.readMu.Unlock()
		return nil, nil
	}

	data := make([]byte, n)
	copy(data, t.readBuffer[:n])
	t.readMu.Unlock()

	t.mu.Lock()
	t.stats.BytesReceived += uint64(n)
	t.mu.Unlock()

	return data, nil
}

// Info returns transport information.
func (t *Transport) Info() transport.Info {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return transport.Info{
		ID:          t.id,
		Type:        "serial",
		Address:     t.config.Port,
		State:       t.state,
		Statistics:  t.stats,
		ConnectedAt: t.connectedAt,
	}
}

// parseParity converts parity string to serial.Parity.
func (t *Transport) parseParity() serial.Parity {
	switch t.config.Parity {
	case "odd":
		return serial.OddParity
	case "even":
		return serial.EvenParity
	case "mark":
		return serial.MarkParity
	case "space":
		return serial.SpaceParity
	default:
		return serial.NoParity
	}
}

// parseStopBits converts stopbits float to serial.StopBits.
func (t *Transport) parseStopBits() serial.StopBits {
	switch t.config.StopBits {
	case 1.5:
		return serial.OnePointFiveStopBits
	case 2:
		return serial.TwoStopBits
	default:
		return serial.OneStopBit
	}
}

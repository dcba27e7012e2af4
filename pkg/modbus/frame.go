package modbus

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/mouliraj56/webSerial-modbus/pkg/utils/crc"
)

const (
	// MinFrameSize is unit id, function code and CRC with an empty payload.
	MinFrameSize = 4
	// MaxFrameSize is the RTU ADU ceiling.
	MaxFrameSize = 256
)

// Frame is a complete RTU application data unit:
// [unitID, functionCode, payload..., crcLo, crcHi].
// Frames are immutable once built; parsing never modifies them.
type Frame []byte

// UnitID returns the addressed slave id.
func (f Frame) UnitID() byte { return f[0] }

// FunctionCode returns the function code byte, exception flag included.
func (f Frame) FunctionCode() byte { return f[1] }

// Payload returns the function-specific data between header and CRC.
func (f Frame) Payload() []byte { return f[2 : len(f)-2] }

// Hex renders the frame as an uppercase, space-separated hex string.
func (f Frame) Hex() string {
	var b strings.Builder
	for i, x := range f {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%02X", x)
	}
	return b.String()
}

// ValidateCRC reports whether the trailing checksum matches the frame body.
func (f Frame) ValidateCRC() bool {
	if len(f) < MinFrameSize {
		return false
	}
	sum := crc.CalculateCRC16(f[:len(f)-2])
	return sum == binary.LittleEndian.Uint16(f[len(f)-2:])
}

// appendCRC seals a frame body with its checksum, low byte first.
func appendCRC(body []byte) Frame {
	sum := crc.CalculateCRC16(body)
	return Frame(append(body, byte(sum), byte(sum>>8)))
}

// BuildReadFrame builds a read request for any of the four register spaces.
// The codec does not clamp quantity; chunking reads to the protocol limits
// is the caller's job.
func BuildReadFrame(unitID, functionCode byte, startAddress, quantity uint16) Frame {
	body := make([]byte, 6)
	body[0] = unitID
	body[1] = functionCode
	binary.BigEndian.PutUint16(body[2:], startAddress)
	binary.BigEndian.PutUint16(body[4:], quantity)
	return appendCRC(body)
}

// BuildWriteSingleRegister builds a write request for one holding register.
func BuildWriteSingleRegister(unitID byte, address, value uint16) Frame {
	body := make([]byte, 6)
	body[0] = unitID
	body[1] = FuncWriteSingleRegister
	binary.BigEndian.PutUint16(body[2:], address)
	binary.BigEndian.PutUint16(body[4:], value)
	return appendCRC(body)
}

// BuildWriteSingleCoil builds a write request for one coil. The wire encodes
// ON as 0xFF00 and OFF as 0x0000.
func BuildWriteSingleCoil(unitID byte, address uint16, on bool) Frame {
	var value uint16
	if on {
		value = 0xFF00
	}
	body := make([]byte, 6)
	body[0] = unitID
	body[1] = FuncWriteSingleCoil
	binary.BigEndian.PutUint16(body[2:], address)
	binary.BigEndian.PutUint16(body[4:], value)
	return appendCRC(body)
}

// BuildWriteMultipleRegisters builds a write request for a block of holding
// registers.
func BuildWriteMultipleRegisters(unitID byte, startAddress uint16, values []uint16) Frame {
	body := make([]byte, 7+2*len(values))
	body[0] = unitID
	body[1] = FuncWriteMultipleRegisters
	binary.BigEndian.PutUint16(body[2:], startAddress)
	binary.BigEndian.PutUint16(body[4:], uint16(len(values)))
	body[6] = byte(2 * len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(body[7+2*i:], v)
	}
	return appendCRC(body)
}

// BuildWriteMultipleCoils builds a write request for a block of coils.
// Booleans are packed eight per byte, LSB first within each byte.
func BuildWriteMultipleCoils(unitID byte, startAddress uint16, values []bool) Frame {
	byteCount := (len(values) + 7) / 8
	body := make([]byte, 7+byteCount)
	body[0] = unitID
	body[1] = FuncWriteMultipleCoils
	binary.BigEndian.PutUint16(body[2:], startAddress)
	binary.BigEndian.PutUint16(body[4:], uint16(len(values)))
	body[6] = byte(byteCount)
	for i, on := range values {
		if on {
			body[7+i/8] |= 1 << (i % 8)
		}
	}
	return appendCRC(body)
}

// checkResponse runs the checks shared by every response: length, CRC,
// exception flag and function code match. It returns the payload.
func checkResponse(frame Frame, expectedFunctionCode byte) ([]byte, error) {
	if len(frame) < MinFrameSize {
		return nil, ErrInvalidLength
	}
	if !frame.ValidateCRC() {
		return nil, ErrInvalidCRC
	}
	fc := frame.FunctionCode()
	if fc&exceptionFlag != 0 {
		e := &ExceptionError{FunctionCode: fc &^ exceptionFlag}
		if len(frame) >= 5 {
			e.ExceptionCode = frame[2]
		}
		return nil, e
	}
	if fc != expectedFunctionCode {
		return nil, fmt.Errorf("%w: got 0x%02X, requested 0x%02X",
			ErrUnexpectedFunctionCode, fc, expectedFunctionCode)
	}
	return frame.Payload(), nil
}

// ParseReadRegisters parses a holding- or input-register read response into
// the ordered register values, big-endian 16-bit words.
func ParseReadRegisters(frame Frame, expectedFunctionCode byte) ([]uint16, error) {
	payload, err := checkResponse(frame, expectedFunctionCode)
	if err != nil {
		return nil, err
	}
	if len(payload) < 1 {
		return nil, ErrInvalidLength
	}
	count := int(payload[0])
	data := payload[1:]
	if count != len(data) || count%2 != 0 {
		return nil, fmt.Errorf("modbus: byte count %d does not match payload size %d", count, len(data))
	}
	values := make([]uint16, count/2)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(data[2*i:])
	}
	return values, nil
}

// ParseReadBits parses a coil or discrete-input read response into the
// ordered bit values, LSB first per byte in transmission order. quantity is
// the number of points requested; trailing pad bits are discarded.
func ParseReadBits(frame Frame, expectedFunctionCode byte, quantity uint16) ([]bool, error) {
	payload, err := checkResponse(frame, expectedFunctionCode)
	if err != nil {
		return nil, err
	}
	if len(payload) < 1 {
		return nil, ErrInvalidLength
	}
	count := int(payload[0])
	data := payload[1:]
	if count != len(data) || count < (int(quantity)+7)/8 {
		return nil, fmt.Errorf("modbus: byte count %d does not match payload size %d", count, len(data))
	}
	values := make([]bool, quantity)
	for i := range values {
		values[i] = data[i/8]&(1<<(i%8)) != 0
	}
	return values, nil
}

// ParseWriteResponse validates a write acknowledgement. Any non-exception
// response of the expected function code is success; the echoed payload is
// not inspected because the caller already knows what it wrote.
func ParseWriteResponse(frame Frame, expectedFunctionCode byte) error {
	_, err := checkResponse(frame, expectedFunctionCode)
	return err
}

// Package modbus implements the Modbus RTU frame codec: frame construction,
// CRC validation, response parsing, exception decoding and address-space
// conversion. The package is pure; it performs no I/O and keeps no state.
package modbus

import (
	"errors"
	"fmt"
)

// Function codes.
const (
	FuncReadCoils              = 0x01
	FuncReadDiscreteInputs     = 0x02
	FuncReadHoldingRegisters   = 0x03
	FuncReadInputRegisters     = 0x04
	FuncWriteSingleCoil        = 0x05
	FuncWriteSingleRegister    = 0x06
	FuncWriteMultipleCoils     = 0x0F
	FuncWriteMultipleRegisters = 0x10
)

// exceptionFlag is set on the function code of an exception response.
const exceptionFlag = 0x80

// Protocol limits for a single read request.
const (
	MaxRegistersPerRead = 125
	MaxCoilsPerRead     = 2000
)

// Error definitions.
var (
	ErrInvalidLength          = errors.New("modbus: invalid frame length")
	ErrInvalidCRC             = errors.New("modbus: invalid crc")
	ErrUnexpectedFunctionCode = errors.New("modbus: unexpected function code")
)

// Exception codes reported by devices.
const (
	ExceptionIllegalFunction              = 0x01
	ExceptionIllegalDataAddress           = 0x02
	ExceptionIllegalDataValue             = 0x03
	ExceptionSlaveDeviceFailure           = 0x04
	ExceptionAcknowledge                  = 0x05
	ExceptionSlaveDeviceBusy              = 0x06
	ExceptionMemoryParityError            = 0x08
	ExceptionGatewayPathUnavailable       = 0x0A
	ExceptionGatewayTargetFailedToRespond = 0x0B
)

// ExceptionName returns the human-readable name for a Modbus exception code.
// Unrecognized codes fall back to a generic message.
func ExceptionName(code byte) string {
	switch code {
	case ExceptionIllegalFunction:
		return "Illegal Function"
	case ExceptionIllegalDataAddress:
		return "Illegal Data Address"
	case ExceptionIllegalDataValue:
		return "Illegal Data Value"
	case ExceptionSlaveDeviceFailure:
		return "Slave Device Failure"
	case ExceptionAcknowledge:
		return "Acknowledge"
	case ExceptionSlaveDeviceBusy:
		return "Slave Device Busy"
	case ExceptionMemoryParityError:
		return "Memory Parity Error"
	case ExceptionGatewayPathUnavailable:
		return "Gateway Path Unavailable"
	case ExceptionGatewayTargetFailedToRespond:
		return "Gateway Target Device Failed To Respond"
	default:
		return fmt.Sprintf("unknown exception 0x%02X", code)
	}
}

// ExceptionError is a device-reported Modbus exception response.
type ExceptionError struct {
	FunctionCode  byte // function code with the exception flag stripped
	ExceptionCode byte
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("modbus: exception 0x%02X (%s), function 0x%02X",
		e.ExceptionCode, ExceptionName(e.ExceptionCode), e.FunctionCode)
}

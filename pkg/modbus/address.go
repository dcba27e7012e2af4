package modbus

import "fmt"

// RegisterSpace identifies one of the four disjoint Modbus address spaces.
type RegisterSpace int

const (
	SpaceCoil RegisterSpace = iota
	SpaceDiscreteInput
	SpaceInputRegister
	SpaceHoldingRegister
)

func (s RegisterSpace) String() string {
	switch s {
	case SpaceCoil:
		return "coil"
	case SpaceDiscreteInput:
		return "discrete_input"
	case SpaceInputRegister:
		return "input_register"
	case SpaceHoldingRegister:
		return "holding_register"
	default:
		return "unknown"
	}
}

// ParseSpace converts a register space name as used in configuration files
// back to its RegisterSpace.
func ParseSpace(name string) (RegisterSpace, error) {
	switch name {
	case "coil":
		return SpaceCoil, nil
	case "discrete_input":
		return SpaceDiscreteInput, nil
	case "input_register":
		return SpaceInputRegister, nil
	case "holding_register":
		return SpaceHoldingRegister, nil
	default:
		return 0, fmt.Errorf("modbus: unknown register space %q", name)
	}
}

// ReadFunctionCode returns the function code that reads this space.
func (s RegisterSpace) ReadFunctionCode() byte {
	switch s {
	case SpaceCoil:
		return FuncReadCoils
	case SpaceDiscreteInput:
		return FuncReadDiscreteInputs
	case SpaceInputRegister:
		return FuncReadInputRegisters
	default:
		return FuncReadHoldingRegisters
	}
}

// Bit reports whether the space holds single bits rather than 16-bit words.
func (s RegisterSpace) Bit() bool {
	return s == SpaceCoil || s == SpaceDiscreteInput
}

// MaxPerRead returns the protocol ceiling for one read request in this space.
func (s RegisterSpace) MaxPerRead() uint32 {
	if s.Bit() {
		return MaxCoilsPerRead
	}
	return MaxRegistersPerRead
}

// Address is a protocol-level register location: a space plus a zero-based
// offset within it.
type Address struct {
	Space  RegisterSpace
	Offset uint16
}

// ConvertAddress maps user-facing decimal notation (40001 for the first
// holding register, 1 for the first coil, and so on) to the zero-based
// protocol offset within the given space. Values outside the canonical
// decimal range for that space are treated as already zero-based and pass
// through unchanged.
func ConvertAddress(space RegisterSpace, address uint32) uint16 {
	switch space {
	case SpaceCoil:
		if address >= 1 && address <= 9999 {
			return uint16(address - 1)
		}
	case SpaceDiscreteInput:
		if address >= 10001 && address <= 19999 {
			return uint16(address - 10001)
		}
	case SpaceInputRegister:
		if address >= 30001 && address <= 39999 {
			return uint16(address - 30001)
		}
	case SpaceHoldingRegister:
		if address >= 40001 && address <= 49999 {
			return uint16(address - 40001)
		}
	}
	return uint16(address)
}

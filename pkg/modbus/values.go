package modbus

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// WordOrder selects how 16-bit registers combine into wider values. For a
// 32-bit value held in two registers with bytes A B (first register) and
// C D (second register), the four usual device conventions are:
//
//	ABCD  big-endian words, big-endian bytes
//	CDAB  word-swapped
//	BADC  byte-swapped
//	DCBA  fully reversed
type WordOrder int

const (
	OrderABCD WordOrder = iota
	OrderCDAB
	OrderBADC
	OrderDCBA
)

func (o WordOrder) String() string {
	switch o {
	case OrderABCD:
		return "ABCD"
	case OrderCDAB:
		return "CDAB"
	case OrderBADC:
		return "BADC"
	case OrderDCBA:
		return "DCBA"
	default:
		return "unknown"
	}
}

// ParseWordOrder resolves a word order by name, case-insensitively.
func ParseWordOrder(name string) (WordOrder, error) {
	switch strings.ToUpper(name) {
	case "ABCD":
		return OrderABCD, nil
	case "CDAB":
		return OrderCDAB, nil
	case "BADC":
		return OrderBADC, nil
	case "DCBA":
		return OrderDCBA, nil
	default:
		return 0, fmt.Errorf("unknown word order %q", name)
	}
}

// reorder32 lays out two registers as four bytes in the requested order.
func reorder32(hi, lo uint16, order WordOrder) [4]byte {
	var d [4]byte
	binary.BigEndian.PutUint16(d[0:], hi) // A B
	binary.BigEndian.PutUint16(d[2:], lo) // C D
	switch order {
	case OrderCDAB:
		return [4]byte{d[2], d[3], d[0], d[1]}
	case OrderBADC:
		return [4]byte{d[1], d[0], d[3], d[2]}
	case OrderDCBA:
		return [4]byte{d[3], d[2], d[1], d[0]}
	default:
		return d
	}
}

// Int16 reinterprets one register as a signed 16-bit value.
func Int16(reg uint16) int16 { return int16(reg) }

// Uint32 combines two registers into an unsigned 32-bit value.
func Uint32(first, second uint16, order WordOrder) uint32 {
	d := reorder32(first, second, order)
	return binary.BigEndian.Uint32(d[:])
}

// Int32 combines two registers into a signed 32-bit value.
func Int32(first, second uint16, order WordOrder) int32 {
	return int32(Uint32(first, second, order))
}

// Float32 combines two registers into an IEEE-754 single.
func Float32(first, second uint16, order WordOrder) float32 {
	return math.Float32frombits(Uint32(first, second, order))
}

// Float64 combines four registers into an IEEE-754 double. Only the two
// word orderings seen in the field are supported: OrderABCD keeps register
// transmission order, OrderCDAB swaps 16-bit words end to end.
func Float64(regs [4]uint16, order WordOrder) float64 {
	var d [8]byte
	if order == OrderCDAB {
		regs = [4]uint16{regs[3], regs[2], regs[1], regs[0]}
	}
	for i, r := range regs {
		binary.BigEndian.PutUint16(d[2*i:], r)
	}
	return math.Float64frombits(binary.BigEndian.Uint64(d[:]))
}

// ASCII extracts printable text from register high/low bytes in transmission
// order. Non-printable bytes render as '.'; this is a best-effort diagnostic
// view, not a codec.
func ASCII(regs []uint16) string {
	var b strings.Builder
	for _, r := range regs {
		for _, c := range []byte{byte(r >> 8), byte(r)} {
			if c >= 0x20 && c <= 0x7E {
				b.WriteByte(c)
			} else {
				b.WriteByte('.')
			}
		}
	}
	return b.String()
}

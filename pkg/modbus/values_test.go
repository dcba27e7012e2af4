package modbus

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUint32WordOrders(t *testing.T) {
	tests := []struct {
		order         WordOrder
		first, second uint16
	}{
		{OrderABCD, 0x1234, 0x5678},
		{OrderCDAB, 0x5678, 0x1234},
		{OrderBADC, 0x3412, 0x7856},
		{OrderDCBA, 0x7856, 0x3412},
	}
	for _, tt := range tests {
		t.Run(tt.order.String(), func(t *testing.T) {
			assert.Equal(t, uint32(0x12345678), Uint32(tt.first, tt.second, tt.order))
		})
	}
}

func TestInt16(t *testing.T) {
	assert.Equal(t, int16(-1), Int16(0xFFFF))
	assert.Equal(t, int16(0x7FFF), Int16(0x7FFF))
}

func TestInt32(t *testing.T) {
	assert.Equal(t, int32(-2), Int32(0xFFFF, 0xFFFE, OrderABCD))
}

func TestFloat32WordOrders(t *testing.T) {
	// 1.5 is 0x3FC00000.
	tests := []struct {
		order         WordOrder
		first, second uint16
	}{
		{OrderABCD, 0x3FC0, 0x0000},
		{OrderCDAB, 0x0000, 0x3FC0},
		{OrderBADC, 0xC03F, 0x0000},
		{OrderDCBA, 0x0000, 0xC03F},
	}
	for _, tt := range tests {
		t.Run(tt.order.String(), func(t *testing.T) {
			assert.Equal(t, float32(1.5), Float32(tt.first, tt.second, tt.order))
		})
	}
}

func TestFloat64(t *testing.T) {
	// 1.5 is 0x3FF8000000000000.
	assert.Equal(t, 1.5, Float64([4]uint16{0x3FF8, 0, 0, 0}, OrderABCD))
	assert.Equal(t, 1.5, Float64([4]uint16{0, 0, 0, 0x3FF8}, OrderCDAB))
}

func TestASCII(t *testing.T) {
	// "AB" "CD" in register high/low bytes; 0x0001 is not printable.
	assert.Equal(t, "ABCD..", ASCII([]uint16{0x4142, 0x4344, 0x0001}))
}

func TestParseWordOrder(t *testing.T) {
	for _, name := range []string{"ABCD", "cdab", "Badc", "DCBA"} {
		order, err := ParseWordOrder(name)
		assert.NoError(t, err)
		assert.Equal(t, strings.ToUpper(name), order.String())
	}

	_, err := ParseWordOrder("ACBD")
	assert.Error(t, err)
}

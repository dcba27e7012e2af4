package poll

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mouliraj56/webSerial-modbus/pkg/modbus"
)

func holding(offsets ...uint16) []modbus.Address {
	addrs := make([]modbus.Address, len(offsets))
	for i, o := range offsets {
		addrs[i] = modbus.Address{Space: modbus.SpaceHoldingRegister, Offset: o}
	}
	return addrs
}

func TestCoalesceSplitsWideSpans(t *testing.T) {
	// {0,1,2,200}: one request spanning 0-200 would read 201 registers,
	// beyond the per-request ceiling, so exactly two requests result.
	requests := Coalesce(holding(0, 1, 2, 200))

	require.Len(t, requests, 2)
	assert.Equal(t, ReadRequest{Space: modbus.SpaceHoldingRegister, Start: 0, Quantity: 3}, requests[0])
	assert.Equal(t, ReadRequest{Space: modbus.SpaceHoldingRegister, Start: 200, Quantity: 1}, requests[1])
}

func TestCoalesceCoversGaps(t *testing.T) {
	// A small gap is cheaper to read through than to split.
	requests := Coalesce(holding(0, 5))

	require.Len(t, requests, 1)
	assert.Equal(t, ReadRequest{Space: modbus.SpaceHoldingRegister, Start: 0, Quantity: 6}, requests[0])
}

func TestCoalesceRespectsRegisterCeiling(t *testing.T) {
	requests := Coalesce(holding(0, 124))
	require.Len(t, requests, 1)
	assert.EqualValues(t, 125, requests[0].Quantity)

	requests = Coalesce(holding(0, 125))
	require.Len(t, requests, 2)
}

func TestCoalesceCoilCeiling(t *testing.T) {
	addrs := []modbus.Address{
		{Space: modbus.SpaceCoil, Offset: 0},
		{Space: modbus.SpaceCoil, Offset: 1999},
		{Space: modbus.SpaceCoil, Offset: 2000},
	}
	requests := Coalesce(addrs)

	require.Len(t, requests, 2)
	assert.EqualValues(t, 2000, requests[0].Quantity)
	assert.EqualValues(t, 2000, requests[0].Start+requests[0].Quantity)
	assert.Equal(t, ReadRequest{Space: modbus.SpaceCoil, Start: 2000, Quantity: 1}, requests[1])
}

func TestCoalesceMixedSpaces(t *testing.T) {
	addrs := []modbus.Address{
		{Space: modbus.SpaceHoldingRegister, Offset: 10},
		{Space: modbus.SpaceCoil, Offset: 3},
		{Space: modbus.SpaceHoldingRegister, Offset: 11},
		{Space: modbus.SpaceInputRegister, Offset: 0},
	}
	requests := Coalesce(addrs)

	require.Len(t, requests, 3)
	assert.Equal(t, ReadRequest{Space: modbus.SpaceCoil, Start: 3, Quantity: 1}, requests[0])
	assert.Equal(t, ReadRequest{Space: modbus.SpaceInputRegister, Start: 0, Quantity: 1}, requests[1])
	assert.Equal(t, ReadRequest{Space: modbus.SpaceHoldingRegister, Start: 10, Quantity: 2}, requests[2])
}

func TestCoalesceDeduplicatesAndSorts(t *testing.T) {
	requests := Coalesce(holding(7, 3, 3, 5))

	require.Len(t, requests, 1)
	assert.Equal(t, ReadRequest{Space: modbus.SpaceHoldingRegister, Start: 3, Quantity: 5}, requests[0])
}

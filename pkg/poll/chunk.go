// Package poll drives periodic reads of register groups through the bus
// coordinator, one independent timer per group, without ever overlapping two
// requests for the same group.
package poll

import (
	"sort"

	"github.com/mouliraj56/webSerial-modbus/pkg/modbus"
)

// ReadRequest is one coalesced read covering a contiguous address span
// within a single register space.
type ReadRequest struct {
	Space    modbus.RegisterSpace
	Start    uint16
	Quantity uint16
}

// Coalesce merges the addresses of interest into the fewest read requests
// that respect the protocol's per-request ceiling. Addresses are grouped by
// register space and sorted; adjacent addresses merge greedily as long as
// the merged span stays within the ceiling. A merged span may cover unused
// addresses between two registers of interest; reading a few dead registers
// is cheaper than another bus round trip.
func Coalesce(addrs []modbus.Address) []ReadRequest {
	bySpace := make(map[modbus.RegisterSpace][]uint16)
	for _, a := range addrs {
		bySpace[a.Space] = append(bySpace[a.Space], a.Offset)
	}

	// Deterministic space order keeps request sequences stable across runs.
	spaces := make([]modbus.RegisterSpace, 0, len(bySpace))
	for s := range bySpace {
		spaces = append(spaces, s)
	}
	sort.Slice(spaces, func(i, j int) bool { return spaces[i] < spaces[j] })

	var requests []ReadRequest
	for _, space := range spaces {
		offsets := bySpace[space]
		sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })

		max := space.MaxPerRead()
		start := offsets[0]
		end := offsets[0]
		for _, off := range offsets[1:] {
			if off == end {
				continue // duplicate
			}
			if uint32(off)-uint32(start)+1 <= max {
				end = off
				continue
			}
			requests = append(requests, ReadRequest{
				Space:    space,
				Start:    start,
				Quantity: end - start + 1,
			})
			start, end = off, off
		}
		requests = append(requests, ReadRequest{
			Space:    space,
			Start:    start,
			Quantity: end - start + 1,
		})
	}
	return requests
}

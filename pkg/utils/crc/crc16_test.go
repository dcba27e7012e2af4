package crc

import "testing"

func TestCalculateCRC16(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want uint16
	}{
		{
			name: "Read Holding Registers Request",
			data: []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01},
			want: 0x0A84, // 84 0A in little endian wire format
		},
		{
			name: "Read Holding Registers Request Unit 2",
			data: []byte{0x02, 0x03, 0x01, 0x00, 0x00, 0x02},
			want: 0xC4C5,
		},
		{
			name: "Exception Response",
			data: []byte{0x01, 0x83, 0x02},
			want: 0xF1C0,
		},
		{
			name: "Empty Data",
			data: []byte{},
			want: 0xFFFF,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CalculateCRC16(tt.data); got != tt.want {
				t.Errorf("CalculateCRC16() = %04X, want %04X", got, tt.want)
			}
		})
	}
}

// CRC-16 guarantees detection of any single-bit error. Flip every bit of a
// reference frame in turn and verify the checksum always changes.
func TestCalculateCRC16SingleBitError(t *testing.T) {
	frame := []byte{0x01, 0x03, 0x02, 0x00, 0x2A}
	want := CalculateCRC16(frame)

	for i := range frame {
		for bit := uint(0); bit < 8; bit++ {
			flipped := make([]byte, len(frame))
			copy(flipped, frame)
			flipped[i] ^= 1 << bit

			if got := CalculateCRC16(flipped); got == want {
				t.Errorf("flipping byte %d bit %d left checksum unchanged (%04X)", i, bit, got)
			}
		}
	}
}

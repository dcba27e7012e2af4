// Package crc implements the CRC-16 checksum used by Modbus RTU.
package crc

// CalculateCRC16 computes the Modbus CRC-16 of data: reflected polynomial
// 0xA001, initial value 0xFFFF. The returned value is transmitted on the
// wire low byte first.
func CalculateCRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&0x0001 != 0 {
				crc >>= 1
				crc ^= 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

package ext4

import (
	"encoding/binary"
	"hash/crc32"
)

var crc32Tab = crc32.MakeTable(crc32.Castagnoli)

func crc32c_update(crc uint32, input []byte) uint32 {
	return ^crc32.Update(^crc, crc32Tab, input)
}

func crc32c_update_u32(crc uint32, n uint32) uint32 {
	var data [4]byte
	binary.LittleEndian.PutUint32(data[:], n)
	return ^crc32.Update(^crc, crc32Tab, data[:])
}

// crc16 per the ANSI polynomial, as used by the older uninit_bg group
// descriptor checksums
var crc16Tab [256]uint16

func init() {
	for i := 0; i < 256; i++ {
		crc := uint16(i)
		for j := 0; j < 8; j++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ 0xa001
			} else {
				crc >>= 1
			}
		}
		crc16Tab[i] = crc
	}
}

func crc16_update(crc uint16, input []byte) uint16 {
	for _, b := range input {
		crc = (crc >> 8) ^ crc16Tab[byte(crc)^b]
	}
	return crc
}

func crc16_update_u32(crc uint16, n uint32) uint16 {
	var data [4]byte
	binary.LittleEndian.PutUint32(data[:], n)
	return crc16_update(crc, data[:])
}

package ext4

import (
	"encoding/binary"
	"fmt"
)

type blockGroupFlag uint16

const (
	blockGroupFlagInodesUninitialized      blockGroupFlag = 0x1
	blockGroupFlagBlockBitmapUninitialized blockGroupFlag = 0x2
	blockGroupFlagInodeTableZeroed         blockGroupFlag = 0x4
)

type blockGroupFlags struct {
	inodesUninitialized      bool
	blockBitmapUninitialized bool
	inodeTableZeroed         bool
}

// groupDescriptors is a structure holding all of the group descriptors for all of the block groups
type groupDescriptors struct {
	descriptors []*groupDescriptor
}

// groupDescriptor is a structure holding the data about a single block group
type groupDescriptor struct {
	blockGroupNumber    uint32
	blockBitmapLocation uint64
	inodeBitmapLocation uint64
	inodeTableLocation  uint64
	freeBlocks          uint32
	freeInodes          uint32
	usedDirectories     uint32
	flags               blockGroupFlags
	unusedInodes        uint32
}

// groupDescriptorsFromBytes create a groupDescriptors struct from bytes
func groupDescriptorsFromBytes(b []byte, sb *superblock) (*groupDescriptors, error) {
	gds := groupDescriptors{}

	gdSize := sb.getGroupDescriptorSize()
	count := len(b) / gdSize
	gdSlice := make([]*groupDescriptor, count)

	// go through them gdSize bytes at a time
	for i := 0; i < count; i++ {
		start := i * gdSize
		end := start + gdSize
		gd, err := groupDescriptorFromBytes(b[start:end], sb, uint32(i))
		if err != nil {
			return nil, fmt.Errorf("%w: group descriptor %d: %v", ErrCorruptMetadata, i, err)
		}
		gdSlice[i] = gd
	}
	gds.descriptors = gdSlice

	return &gds, nil
}

// groupDescriptorFromBytes create a groupDescriptor struct from bytes
func groupDescriptorFromBytes(b []byte, sb *superblock, blockGroupNumber uint32) (*groupDescriptor, error) {
	// location fields have high words only in 64-bit mode
	blockBitmapLocation := make([]byte, 8)
	inodeBitmapLocation := make([]byte, 8)
	inodeTableLocation := make([]byte, 8)
	freeBlocks := make([]byte, 4)
	freeInodes := make([]byte, 4)
	usedDirectories := make([]byte, 4)
	unusedInodes := make([]byte, 4)

	copy(blockBitmapLocation[0:4], b[0x0:0x4])
	copy(inodeBitmapLocation[0:4], b[0x4:0x8])
	copy(inodeTableLocation[0:4], b[0x8:0xc])
	copy(freeBlocks[0:2], b[0xc:0xe])
	copy(freeInodes[0:2], b[0xe:0x10])
	copy(usedDirectories[0:2], b[0x10:0x12])
	copy(unusedInodes[0:2], b[0x1c:0x1e])

	if sb.features.fs64Bit && len(b) >= 64 {
		copy(blockBitmapLocation[4:8], b[0x20:0x24])
		copy(inodeBitmapLocation[4:8], b[0x24:0x28])
		copy(inodeTableLocation[4:8], b[0x28:0x2c])
		copy(freeBlocks[2:4], b[0x2c:0x2e])
		copy(freeInodes[2:4], b[0x2e:0x30])
		copy(usedDirectories[2:4], b[0x30:0x32])
		copy(unusedInodes[2:4], b[0x32:0x34])
	}

	// only bother with checking the checksum if the filesystem records one
	if sb.features.metadataChecksums || sb.features.gdtChecksum {
		checksum := binary.LittleEndian.Uint16(b[0x1e:0x20])
		actualChecksum := groupDescriptorChecksum(b, sb, blockGroupNumber)
		if checksum != actualChecksum {
			return nil, fmt.Errorf("checksum mismatch, on disk %x, actual %x", checksum, actualChecksum)
		}
	}

	gd := groupDescriptor{
		blockGroupNumber:    blockGroupNumber,
		blockBitmapLocation: binary.LittleEndian.Uint64(blockBitmapLocation),
		inodeBitmapLocation: binary.LittleEndian.Uint64(inodeBitmapLocation),
		inodeTableLocation:  binary.LittleEndian.Uint64(inodeTableLocation),
		freeBlocks:          binary.LittleEndian.Uint32(freeBlocks),
		freeInodes:          binary.LittleEndian.Uint32(freeInodes),
		usedDirectories:     binary.LittleEndian.Uint32(usedDirectories),
		unusedInodes:        binary.LittleEndian.Uint32(unusedInodes),
		flags:               parseBlockGroupFlags(blockGroupFlag(binary.LittleEndian.Uint16(b[0x12:0x14]))),
	}

	return &gd, nil
}

func parseBlockGroupFlags(flags blockGroupFlag) blockGroupFlags {
	return blockGroupFlags{
		inodesUninitialized:      flags&blockGroupFlagInodesUninitialized == blockGroupFlagInodesUninitialized,
		blockBitmapUninitialized: flags&blockGroupFlagBlockBitmapUninitialized == blockGroupFlagBlockBitmapUninitialized,
		inodeTableZeroed:         flags&blockGroupFlagInodeTableZeroed == blockGroupFlagInodeTableZeroed,
	}
}

// groupDescriptorChecksum calculate the checksum for a block group descriptor
func groupDescriptorChecksum(b []byte, sb *superblock, blockGroup uint32) uint16 {
	const checksumOffset = 0x1e

	if sb.features.metadataChecksums {
		checksum32 := crc32c_update_u32(sb.checksumSeed, blockGroup)
		checksum32 = crc32c_update(checksum32, b[:checksumOffset])
		checksum32 = crc32c_update(checksum32, []byte{0, 0})
		if offset := checksumOffset + 2; offset < len(b) {
			checksum32 = crc32c_update(checksum32, b[offset:])
		}
		return uint16(checksum32 & 0xffff)
	}

	if sb.features.gdtChecksum {
		checksum := crc16_update(^uint16(0), sb.rawUUID)
		checksum = crc16_update_u32(checksum, blockGroup)
		checksum = crc16_update(checksum, b[:checksumOffset])
		if offset := checksumOffset + 2; sb.features.fs64Bit && offset < len(b) {
			checksum = crc16_update(checksum, b[offset:])
		}
		return checksum
	}

	return 0
}

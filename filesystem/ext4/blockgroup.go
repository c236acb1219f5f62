package ext4

import (
	"encoding/binary"
	"fmt"

	"github.com/bits-and-blooms/bitset"
)

// bitmap wraps a decoded allocation bitmap of one block group
type bitmap struct {
	bits *bitset.BitSet
}

// bitmapFromBytes decode an on-disk little-endian allocation bitmap
func bitmapFromBytes(b []byte) *bitmap {
	words := make([]uint64, (len(b)+7)/8)
	for i := range words {
		start := i * 8
		end := start + 8
		if end > len(b) {
			padded := make([]byte, 8)
			copy(padded, b[start:])
			words[i] = binary.LittleEndian.Uint64(padded)
			continue
		}
		words[i] = binary.LittleEndian.Uint64(b[start:end])
	}
	return &bitmap{bits: bitset.From(words)}
}

// inUse the number of set bits, i.e. allocated blocks or inodes
func (bm *bitmap) inUse() uint {
	return bm.bits.Count()
}

// Stats is a summary of filesystem usage, partly from the superblock and
// partly counted out of the per-group allocation bitmaps.
type Stats struct {
	BlockSize       uint64
	BlockCount      uint64
	FreeBlocks      uint64
	InodeCount      uint32
	FreeInodes      uint32
	Groups          int
	AllocatedBlocks uint64 // counted from block bitmaps
	AllocatedInodes uint64 // counted from inode bitmaps
	VolumeLabel     string
	UUID            string
}

// Stats walks every block group's bitmaps and returns usage accounting.
// Groups whose bitmaps are flagged uninitialized are fully free and skipped.
func (fs *FileSystem) Stats() (Stats, error) {
	sb := fs.superblock
	st := Stats{
		BlockSize:   sb.blockSize,
		BlockCount:  sb.blockCount,
		FreeBlocks:  sb.freeBlocks,
		InodeCount:  sb.inodeCount,
		FreeInodes:  sb.freeInodes,
		Groups:      len(fs.groupDescriptors.descriptors),
		VolumeLabel: sb.volumeLabel,
		UUID:        sb.uuid,
	}

	inodeBitmapLen := int(sb.inodesPerGroup+7) / 8
	for _, gd := range fs.groupDescriptors.descriptors {
		if !gd.flags.blockBitmapUninitialized {
			b, err := fs.readBlock(gd.blockBitmapLocation)
			if err != nil {
				return st, fmt.Errorf("block bitmap of group %d: %w", gd.blockGroupNumber, err)
			}
			st.AllocatedBlocks += uint64(bitmapFromBytes(b).inUse())
		}
		if !gd.flags.inodesUninitialized {
			b, err := fs.readBlock(gd.inodeBitmapLocation)
			if err != nil {
				return st, fmt.Errorf("inode bitmap of group %d: %w", gd.blockGroupNumber, err)
			}
			if len(b) > inodeBitmapLen {
				b = b[:inodeBitmapLen]
			}
			st.AllocatedInodes += uint64(bitmapFromBytes(b).inUse())
		}
	}
	return st, nil
}

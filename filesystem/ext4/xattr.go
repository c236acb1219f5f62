package ext4

import (
	"encoding/binary"
	"fmt"
)

const (
	// xattrSignature marks both the in-inode attribute area and external
	// attribute blocks
	xattrSignature uint32 = 0xea020000
	// xattrBlockHeaderLength is the header of an external attribute block;
	// in-inode areas carry only the 4-byte signature
	xattrBlockHeaderLength int = 32
	xattrEntryHeaderLength int = 16
)

// xattrPrefixes maps the name index of an attribute entry to the prefix it
// replaces on disk
var xattrPrefixes = map[byte]string{
	0: "",
	1: "user.",
	2: "system.posix_acl_access",
	3: "system.posix_acl_default",
	4: "trusted.",
	6: "security.",
	7: "system.",
}

// Xattrs decodes the extended attributes of an inode: first the in-inode area
// after the fixed fields, then the external attribute block if one is
// referenced. Entries seen first win on duplicate names, which matches the
// on-disk precedence. A decode failure returns the entries gathered so far
// along with the error; attributes are supplementary metadata and callers
// treat such failures as warnings.
func (fs *FileSystem) Xattrs(in *Inode) (map[string][]byte, error) {
	attrs := map[string][]byte{}

	// in-inode attributes live between the end of the inode record proper and
	// the end of the on-disk inode slot
	inodeStart := minInodeSize + int(in.extraIsize)
	if int(fs.superblock.inodeSize) > inodeStart+4 {
		raw, err := fs.readRawInode(in.Number)
		if err != nil {
			return attrs, err
		}
		area := raw[inodeStart:]
		if binary.LittleEndian.Uint32(area[0:4]) == xattrSignature {
			// values are addressed relative to the start of the entry array
			if err := parseXattrEntries(area[4:], area[4:], attrs); err != nil {
				return attrs, fmt.Errorf("inode %d in-inode attributes: %w", in.Number, err)
			}
		}
	}

	if in.xattrBlock == 0 {
		return attrs, nil
	}
	if in.xattrBlock >= fs.superblock.blockCount {
		return attrs, fmt.Errorf("%w: inode %d attribute block %d lies outside the device", ErrCorruptMetadata, in.Number, in.xattrBlock)
	}
	b, err := fs.readBlock(in.xattrBlock)
	if err != nil {
		return attrs, fmt.Errorf("inode %d: could not read attribute block %d: %w", in.Number, in.xattrBlock, err)
	}
	if len(b) < xattrBlockHeaderLength {
		return attrs, fmt.Errorf("%w: inode %d attribute block too small", ErrCorruptMetadata, in.Number)
	}
	if binary.LittleEndian.Uint32(b[0:4]) != xattrSignature {
		return attrs, fmt.Errorf("%w: inode %d attribute block has signature %#x", ErrCorruptMetadata, in.Number, binary.LittleEndian.Uint32(b[0:4]))
	}
	// values in an external block are addressed relative to the block start
	if err := parseXattrEntries(b[xattrBlockHeaderLength:], b, attrs); err != nil {
		return attrs, fmt.Errorf("inode %d attribute block: %w", in.Number, err)
	}
	return attrs, nil
}

// parseXattrEntries walks the entry array until the zero terminator, adding
// name/value pairs to attrs. Existing names are kept: first seen wins.
func parseXattrEntries(entries, valueBase []byte, attrs map[string][]byte) error {
	offset := 0
	for {
		if len(entries)-offset < 4 {
			return nil
		}
		if binary.LittleEndian.Uint32(entries[offset:offset+4]) == 0 {
			// end of entry array
			return nil
		}
		if len(entries)-offset < xattrEntryHeaderLength {
			return fmt.Errorf("%w: truncated attribute entry at offset %d", ErrCorruptMetadata, offset)
		}

		nameLen := int(entries[offset])
		nameIndex := entries[offset+1]
		valueOffs := int(binary.LittleEndian.Uint16(entries[offset+2 : offset+4]))
		valueSize := int(binary.LittleEndian.Uint32(entries[offset+8 : offset+12]))

		if len(entries)-offset-xattrEntryHeaderLength < nameLen {
			return fmt.Errorf("%w: attribute name of %d bytes does not fit at offset %d", ErrCorruptMetadata, nameLen, offset)
		}
		name := string(entries[offset+xattrEntryHeaderLength : offset+xattrEntryHeaderLength+nameLen])
		prefix, ok := xattrPrefixes[nameIndex]
		if !ok {
			prefix = fmt.Sprintf("unknown%d.", nameIndex)
		}
		fullName := prefix + name

		if valueOffs+valueSize > len(valueBase) {
			return fmt.Errorf("%w: attribute %q value of %d bytes at offset %d lies outside the area", ErrCorruptMetadata, fullName, valueSize, valueOffs)
		}
		if _, seen := attrs[fullName]; !seen {
			value := make([]byte, valueSize)
			copy(value, valueBase[valueOffs:valueOffs+valueSize])
			attrs[fullName] = value
		}

		// entries are padded to 4-byte alignment
		entryLen := xattrEntryHeaderLength + (nameLen+3)&^3
		offset += entryLen
	}
}

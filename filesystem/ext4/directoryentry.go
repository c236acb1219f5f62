package ext4

import (
	"encoding/binary"
	"fmt"
)

const (
	// minDirEntryLength is the minimum record length: 8 bytes of header plus
	// at least one name byte, rounded up to the 4-byte alignment
	minDirEntryLength int = 12
	dirEntryHeaderLen int = 8
)

// DirEntry is a single directory entry
type DirEntry struct {
	Inode    uint32
	Name     string
	FileType FileType
}

// parseDirEntriesBlock parses the entries of one directory data block. Each
// block is independent: entries never span block boundaries, and slack after
// the last entry is padding. Deleted entries (inode 0) are skipped without
// terminating the scan, since valid entries may follow them.
func parseDirEntriesBlock(b []byte, hasFileType bool) ([]*DirEntry, error) {
	var entries []*DirEntry
	for offset := 0; offset < len(b); {
		if len(b)-offset < dirEntryHeaderLen {
			return nil, fmt.Errorf("%w: %d trailing bytes cannot hold an entry header", ErrCorruptDirectory, len(b)-offset)
		}
		recLen := int(binary.LittleEndian.Uint16(b[offset+0x4 : offset+0x6]))
		if recLen < minDirEntryLength {
			return nil, fmt.Errorf("%w: record length %d below minimum %d at offset %d", ErrCorruptDirectory, recLen, minDirEntryLength, offset)
		}
		if recLen%4 != 0 {
			return nil, fmt.Errorf("%w: record length %d not 4-byte aligned at offset %d", ErrCorruptDirectory, recLen, offset)
		}
		if offset+recLen > len(b) {
			return nil, fmt.Errorf("%w: record length %d at offset %d crosses the block boundary", ErrCorruptDirectory, recLen, offset)
		}

		inodeNumber := binary.LittleEndian.Uint32(b[offset : offset+0x4])
		if inodeNumber == 0 {
			// deleted entry; its record still claims space
			offset += recLen
			continue
		}

		var nameLen int
		var fileType FileType
		if hasFileType {
			nameLen = int(b[offset+0x6])
			fileType = FileType(b[offset+0x7])
		} else {
			nameLen = int(binary.LittleEndian.Uint16(b[offset+0x6 : offset+0x8]))
			fileType = FileTypeUnknown
		}
		if dirEntryHeaderLen+nameLen > recLen {
			return nil, fmt.Errorf("%w: name length %d does not fit record length %d at offset %d", ErrCorruptDirectory, nameLen, recLen, offset)
		}

		entries = append(entries, &DirEntry{
			Inode:    inodeNumber,
			Name:     string(b[offset+dirEntryHeaderLen : offset+dirEntryHeaderLen+nameLen]),
			FileType: fileType,
		})
		offset += recLen
	}
	return entries, nil
}

// parseDirEntries parses directory content block by block
func parseDirEntries(b []byte, sb *superblock) ([]*DirEntry, error) {
	blockSize := int(sb.blockSize)
	hasFileType := sb.features.directoryEntriesRecordFileType
	var entries []*DirEntry
	for start := 0; start < len(b); start += blockSize {
		end := start + blockSize
		if end > len(b) {
			end = len(b)
		}
		blockEntries, err := parseDirEntriesBlock(b[start:end], hasFileType)
		if err != nil {
			return nil, fmt.Errorf("directory block %d: %w", start/blockSize, err)
		}
		entries = append(entries, blockEntries...)
	}
	return entries, nil
}

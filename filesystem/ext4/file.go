package ext4

import (
	"fmt"
	"io"
	"sort"
)

// File streams the content of a regular file inode. Reads follow the extent
// map directly: holes and uninitialized extents are synthesized as zero bytes
// rather than read from the device, and the last extent is truncated to the
// declared file size.
type File struct {
	fs      *FileSystem
	inode   *Inode
	extents []Extent
	offset  int64
}

// FileReader open the content of an inode for reading. The extent tree is
// resolved once up front so that corrupt trees fail here, not mid-copy.
func (fs *FileSystem) FileReader(in *Inode) (*File, error) {
	if in.InlineData() {
		// inline files carry their content in the inode; model it as an
		// empty extent list and serve reads from the block data
		if in.Size > uint64(blockDataSize) {
			return nil, fmt.Errorf("%w: inode %d declares %d bytes of inline data", ErrCorruptMetadata, in.Number, in.Size)
		}
		return &File{fs: fs, inode: in}, nil
	}
	extents, err := fs.Extents(in)
	if err != nil {
		return nil, err
	}
	return &File{fs: fs, inode: in, extents: extents}, nil
}

// Read reads up to len(p) bytes from the file.
// At end of file, Read returns 0, io.EOF.
func (fl *File) Read(p []byte) (int, error) {
	size := int64(fl.inode.Size)
	if fl.offset >= size {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}

	if fl.inode.InlineData() {
		n := copy(p, fl.inode.blockData[fl.offset:size])
		fl.offset += int64(n)
		return n, nil
	}

	blockSize := int64(fl.fs.superblock.blockSize)
	logical := uint64(fl.offset / blockSize)
	within := fl.offset % blockSize

	// how much of the request fits in the current block and the file
	n := int64(len(p))
	if rest := blockSize - within; n > rest {
		n = rest
	}
	if rest := size - fl.offset; n > rest {
		n = rest
	}

	e, ok := fl.findExtent(logical)
	if !ok || e.Uninitialized {
		// hole or preallocated space: zero bytes, no device read
		for i := int64(0); i < n; i++ {
			p[i] = 0
		}
		fl.offset += n
		return int(n), nil
	}

	physical := int64(e.StartingBlock+(logical-uint64(e.FileBlock))) * blockSize
	read, err := fl.fs.file.ReadAt(p[:n], fl.fs.start+physical+within)
	if err != nil {
		return read, fmt.Errorf("failed to read file block %d: %w", logical, err)
	}
	fl.offset += int64(read)
	return read, nil
}

// Seek set the offset for the next Read
func (fl *File) Seek(offset int64, whence int) (int64, error) {
	var newOffset int64
	switch whence {
	case io.SeekStart:
		newOffset = offset
	case io.SeekEnd:
		newOffset = int64(fl.inode.Size) + offset
	case io.SeekCurrent:
		newOffset = fl.offset + offset
	default:
		return fl.offset, fmt.Errorf("invalid whence %d", whence)
	}
	if newOffset < 0 {
		return fl.offset, fmt.Errorf("cannot set offset %d before start of file", offset)
	}
	fl.offset = newOffset
	return fl.offset, nil
}

// findExtent the extent covering a logical block, if any
func (fl *File) findExtent(logical uint64) (Extent, bool) {
	// extents are sorted by FileBlock; find the last one starting at or
	// before the target block
	i := sort.Search(len(fl.extents), func(i int) bool {
		return uint64(fl.extents[i].FileBlock) > logical
	})
	if i == 0 {
		return Extent{}, false
	}
	e := fl.extents[i-1]
	if logical >= uint64(e.FileBlock)+uint64(e.Count) {
		return Extent{}, false
	}
	return e, true
}

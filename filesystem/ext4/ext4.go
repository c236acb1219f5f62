// Package ext4 decodes the ext4 on-disk format: superblock, group
// descriptors, inode tables, extent trees, directory entries and extended
// attributes. It is strictly read-only and never trusts on-disk lengths,
// counts or depths without validating them first.
package ext4

import (
	"fmt"

	"github.com/hexedit/ext4extract/backend"
)

// FileSystem is a decoded ext4 filesystem on a device. All metadata decoded
// at open time (superblock, group descriptors) is cached for the run; inodes
// and data blocks are read on demand.
type FileSystem struct {
	superblock       *superblock
	groupDescriptors *groupDescriptors
	size             int64
	start            int64
	file             backend.File
}

// Read reads a filesystem from a device or image file.
//
// size is the size of the filesystem in bytes and start is how far in bytes
// from the beginning of the file the filesystem begins, so a filesystem
// inside a partition can be read without carving it out first.
func Read(file backend.File, size, start int64) (*FileSystem, error) {
	// read the superblock; it lives at a fixed offset regardless of geometry
	superblockBytes := make([]byte, SuperblockSize)
	n, err := file.ReadAt(superblockBytes, start+superblockOffset)
	if err != nil {
		return nil, fmt.Errorf("could not read superblock bytes from file: %w", err)
	}
	if n < SuperblockSize {
		return nil, fmt.Errorf("%w: only could read %d superblock bytes from file", ErrCorruptSuperblock, n)
	}

	sb, err := superblockFromBytes(superblockBytes)
	if err != nil {
		return nil, err
	}

	// now read the group descriptor table from the block after the superblock
	blockGroupCount := sb.blockGroupCount()
	gdSize := sb.getGroupDescriptorSize()
	gdtSize := int64(gdSize) * int64(blockGroupCount)
	gdtStart := start + int64(sb.gdtLocation()*sb.blockSize)
	if gdtStart+gdtSize > start+size {
		return nil, fmt.Errorf("%w: group descriptor table of %d bytes extends past the %d byte device", ErrCorruptMetadata, gdtSize, size)
	}
	gdtBytes := make([]byte, gdtSize)
	n, err = file.ReadAt(gdtBytes, gdtStart)
	if err != nil {
		return nil, fmt.Errorf("could not read group descriptor table bytes from file: %w", err)
	}
	if int64(n) < gdtSize {
		return nil, fmt.Errorf("%w: only could read %d group descriptor table bytes from file instead of %d", ErrCorruptMetadata, n, gdtSize)
	}

	gdt, err := groupDescriptorsFromBytes(gdtBytes, sb)
	if err != nil {
		return nil, err
	}

	return &FileSystem{
		superblock:       sb,
		groupDescriptors: gdt,
		size:             size,
		start:            start,
		file:             file,
	}, nil
}

// BlockSize the filesystem block size in bytes
func (fs *FileSystem) BlockSize() uint64 {
	return fs.superblock.blockSize
}

// Label the volume label
func (fs *FileSystem) Label() string {
	return fs.superblock.volumeLabel
}

// UUID the volume UUID in canonical form
func (fs *FileSystem) UUID() string {
	return fs.superblock.uuid
}

// InodeCount the total number of inodes in the filesystem
func (fs *FileSystem) InodeCount() uint32 {
	return fs.superblock.inodeCount
}

// readBlock read a single filesystem block
func (fs *FileSystem) readBlock(blockNumber uint64) ([]byte, error) {
	blockSize := fs.superblock.blockSize
	b := make([]byte, blockSize)
	offset := fs.start + int64(blockNumber*blockSize)
	n, err := fs.file.ReadAt(b, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to read block %d: %w", blockNumber, err)
	}
	if uint64(n) < blockSize {
		return nil, fmt.Errorf("%w: read %d bytes of block %d instead of %d", ErrCorruptMetadata, n, blockNumber, blockSize)
	}
	return b, nil
}

// readRawInode read the undecoded on-disk record of a single inode
func (fs *FileSystem) readRawInode(inodeNumber uint32) ([]byte, error) {
	sb := fs.superblock
	if inodeNumber < 1 || inodeNumber > sb.inodeCount {
		return nil, fmt.Errorf("%w: inode %d outside [1, %d]", ErrInvalidInodeNumber, inodeNumber, sb.inodeCount)
	}

	// figure out which block group the inode is in, and where its record
	// lives within that group's inode table
	bg := (int64(inodeNumber) - 1) / int64(sb.inodesPerGroup)
	if bg >= int64(len(fs.groupDescriptors.descriptors)) {
		return nil, fmt.Errorf("%w: inode %d maps to block group %d of %d", ErrCorruptMetadata, inodeNumber, bg, len(fs.groupDescriptors.descriptors))
	}
	gd := fs.groupDescriptors.descriptors[bg]
	offsetInode := (int64(inodeNumber) - 1) % int64(sb.inodesPerGroup)
	byteStart := fs.start + int64(gd.inodeTableLocation*sb.blockSize) + offsetInode*int64(sb.inodeSize)
	if byteStart+int64(sb.inodeSize) > fs.start+fs.size {
		return nil, fmt.Errorf("%w: inode %d record lies outside the device", ErrCorruptMetadata, inodeNumber)
	}

	inodeBytes := make([]byte, sb.inodeSize)
	n, err := fs.file.ReadAt(inodeBytes, byteStart)
	if err != nil {
		return nil, fmt.Errorf("failed to read inode %d from block group %d: %w", inodeNumber, bg, err)
	}
	if n != int(sb.inodeSize) {
		return nil, fmt.Errorf("%w: read %d bytes for inode %d instead of inode size of %d", ErrCorruptMetadata, n, inodeNumber, sb.inodeSize)
	}
	return inodeBytes, nil
}

// ReadInode locate and decode a single inode by number. Inode numbers are
// 1-based; inode 2 is the root directory.
func (fs *FileSystem) ReadInode(inodeNumber uint32) (*Inode, error) {
	b, err := fs.readRawInode(inodeNumber)
	if err != nil {
		return nil, err
	}
	return inodeFromBytes(b, fs.superblock, inodeNumber)
}

// Root decode the root directory inode
func (fs *FileSystem) Root() (*Inode, error) {
	return fs.ReadInode(RootInode)
}

// readFileBytes read the full content described by an inode into memory:
// extents are copied from their physical blocks, holes and uninitialized
// extents read as zeros. Intended for directories and symlink targets; file
// data is streamed with FileReader instead.
func (fs *FileSystem) readFileBytes(in *Inode) ([]byte, error) {
	if in.InlineData() {
		if in.Size > uint64(blockDataSize) {
			return nil, fmt.Errorf("%w: inode %d declares %d bytes of inline data", ErrCorruptMetadata, in.Number, in.Size)
		}
		return in.blockData[:in.Size], nil
	}

	extents, err := fs.Extents(in)
	if err != nil {
		return nil, err
	}

	blockSize := fs.superblock.blockSize
	res := make([]byte, in.Size)
	for _, e := range extents {
		if e.Uninitialized {
			continue
		}
		logicalStart := uint64(e.FileBlock) * blockSize
		if logicalStart >= in.Size {
			// extents past the declared size map preallocated space
			continue
		}
		count := uint64(e.Count) * blockSize
		if logicalStart+count > in.Size {
			count = in.Size - logicalStart
		}
		n, err := fs.file.ReadAt(res[logicalStart:logicalStart+count], fs.start+int64(e.StartingBlock*blockSize))
		if err != nil {
			return nil, fmt.Errorf("failed to read bytes for extent at file block %d: %w", e.FileBlock, err)
		}
		if uint64(n) != count {
			return nil, fmt.Errorf("%w: read %d bytes instead of %d for extent at file block %d", ErrCorruptMetadata, n, count, e.FileBlock)
		}
	}
	return res, nil
}

// ReadDirInode read the directory entries of a directory inode, in on-disk
// order. "." and ".." are included; deleted entries are not.
func (fs *FileSystem) ReadDirInode(in *Inode) ([]*DirEntry, error) {
	if in.FileType != FileTypeDirectory {
		return nil, fmt.Errorf("%w: inode %d is a %s, not a directory", ErrCorruptDirectory, in.Number, in.FileType)
	}
	b, err := fs.readFileBytes(in)
	if err != nil {
		return nil, fmt.Errorf("error reading content of directory inode %d: %w", in.Number, err)
	}
	entries, err := parseDirEntries(b, fs.superblock)
	if err != nil {
		return nil, fmt.Errorf("directory inode %d: %w", in.Number, err)
	}
	return entries, nil
}

// Readlink read the target of a symlink inode. Fast symlinks store the
// target directly in the block-mapping area; slow symlinks store it in data
// blocks like file content.
func (fs *FileSystem) Readlink(in *Inode) (string, error) {
	if in.FileType != FileTypeSymlink {
		return "", fmt.Errorf("inode %d is a %s, not a symlink", in.Number, in.FileType)
	}
	if in.Size < uint64(blockDataSize) && !in.UsesExtents() {
		return string(in.blockData[:in.Size]), nil
	}
	b, err := fs.readFileBytes(in)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

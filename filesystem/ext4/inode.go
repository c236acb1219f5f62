package ext4

import (
	"encoding/binary"
	"fmt"
	"io/fs"
	"time"
)

type inodeFlag uint32

const (
	// minInodeSize is the size of the original fixed inode record; anything
	// beyond it is the extra field area introduced with ext4
	minInodeSize int = 128
	// blockDataSize is the size of the i_block area: 60 bytes holding the
	// extent tree root, inline data, or a fast symlink target
	blockDataSize int = 60

	inodeFlagSecureDeletion          inodeFlag = 0x1
	inodeFlagPreserveForUndeletion   inodeFlag = 0x2
	inodeFlagCompressed              inodeFlag = 0x4
	inodeFlagSynchronous             inodeFlag = 0x8
	inodeFlagImmutable               inodeFlag = 0x10
	inodeFlagAppendOnly              inodeFlag = 0x20
	inodeFlagNoDump                  inodeFlag = 0x40
	inodeFlagNoAccessTimeUpdate      inodeFlag = 0x80
	inodeFlagHashedDirectoryIndexes  inodeFlag = 0x1000
	inodeFlagAFSMagicDirectory       inodeFlag = 0x2000
	inodeFlagAlwaysJournal           inodeFlag = 0x4000
	inodeFlagNoMergeTail             inodeFlag = 0x8000
	inodeFlagSyncDirectoryData       inodeFlag = 0x10000
	inodeFlagTopDirectory            inodeFlag = 0x20000
	inodeFlagHugeFile                inodeFlag = 0x40000
	inodeFlagUsesExtents             inodeFlag = 0x80000
	inodeFlagExtendedAttributeInode  inodeFlag = 0x200000
	inodeFlagBlocksPastEOF           inodeFlag = 0x400000
	inodeFlagSnapshot                inodeFlag = 0x1000000
	inodeFlagDeletingSnapshot        inodeFlag = 0x4000000
	inodeFlagCompletedSnapshotShrink inodeFlag = 0x8000000
	inodeFlagInlineData              inodeFlag = 0x10000000
	inodeFlagInheritProject          inodeFlag = 0x20000000

	// inode mode file type bits
	modeTypeMask            uint16 = 0xf000
	modeTypeFifo            uint16 = 0x1000
	modeTypeCharacterDevice uint16 = 0x2000
	modeTypeDirectory       uint16 = 0x4000
	modeTypeBlockDevice     uint16 = 0x6000
	modeTypeRegularFile     uint16 = 0x8000
	modeTypeSymbolicLink    uint16 = 0xa000
	modeTypeSocket          uint16 = 0xc000

	// RootInode is the inode number of the root directory, fixed by the format
	RootInode uint32 = 2
)

// FileType is the file type of an inode, as also recorded in directory
// entries when the filetype feature is enabled.
type FileType uint8

const (
	FileTypeUnknown         FileType = 0
	FileTypeRegularFile     FileType = 1
	FileTypeDirectory       FileType = 2
	FileTypeCharacterDevice FileType = 3
	FileTypeBlockDevice     FileType = 4
	FileTypeFifo            FileType = 5
	FileTypeSocket          FileType = 6
	FileTypeSymlink         FileType = 7
)

func (ft FileType) String() string {
	switch ft {
	case FileTypeRegularFile:
		return "file"
	case FileTypeDirectory:
		return "dir"
	case FileTypeCharacterDevice:
		return "chardev"
	case FileTypeBlockDevice:
		return "blockdev"
	case FileTypeFifo:
		return "fifo"
	case FileTypeSocket:
		return "socket"
	case FileTypeSymlink:
		return "symlink"
	}
	return "unknown"
}

// inodeFlags is a structure holding the flags of an inode
type inodeFlags struct {
	secureDeletion          bool
	preserveForUndeletion   bool
	compressed              bool
	synchronous             bool
	immutable               bool
	appendOnly              bool
	noDump                  bool
	noAccessTimeUpdate      bool
	hashedDirectoryIndexes  bool
	AFSMagicDirectory       bool
	alwaysJournal           bool
	noMergeTail             bool
	syncDirectoryData       bool
	topDirectory            bool
	hugeFile                bool
	usesExtents             bool
	extendedAttributeInode  bool
	blocksPastEOF           bool
	snapshot                bool
	deletingSnapshot        bool
	completedSnapshotShrink bool
	inlineData              bool
	inheritProject          bool
}

// Inode is a decoded inode record. The 60-byte block-mapping area is kept raw;
// interpreting it as an extent tree, inline data or a fast symlink target is
// the business of the extent walker and the symlink reader, not the decoder.
type Inode struct {
	Number     uint32
	FileType   FileType
	Perm       uint16 // permission and setuid/setgid/sticky bits
	UID        uint32
	GID        uint32
	Size       uint64
	Links      uint16
	Blocks     uint64
	AccessTime time.Time
	ChangeTime time.Time
	ModifyTime time.Time
	CreateTime time.Time
	DeleteTime uint32

	flags      inodeFlags
	blockData  [blockDataSize]byte
	xattrBlock uint64
	extraIsize uint16
	generation uint32
}

// Mode maps the inode type and permission bits onto an fs.FileMode
func (in *Inode) Mode() fs.FileMode {
	mode := fs.FileMode(in.Perm & 0o777)
	switch in.FileType {
	case FileTypeDirectory:
		mode |= fs.ModeDir
	case FileTypeSymlink:
		mode |= fs.ModeSymlink
	case FileTypeCharacterDevice:
		mode |= fs.ModeDevice | fs.ModeCharDevice
	case FileTypeBlockDevice:
		mode |= fs.ModeDevice
	case FileTypeFifo:
		mode |= fs.ModeNamedPipe
	case FileTypeSocket:
		mode |= fs.ModeSocket
	}
	if in.Perm&0o4000 != 0 {
		mode |= fs.ModeSetuid
	}
	if in.Perm&0o2000 != 0 {
		mode |= fs.ModeSetgid
	}
	if in.Perm&0o1000 != 0 {
		mode |= fs.ModeSticky
	}
	return mode
}

// UsesExtents whether the inode maps its data with an extent tree
func (in *Inode) UsesExtents() bool { return in.flags.usesExtents }

// InlineData whether the inode stores its data directly in the inode record
func (in *Inode) InlineData() bool { return in.flags.inlineData }

// inodeFromBytes create an Inode struct from bytes
func inodeFromBytes(b []byte, sb *superblock, number uint32) (*Inode, error) {
	if len(b) < minInodeSize {
		return nil, fmt.Errorf("%w: cannot read inode from %d bytes, minimum %d", ErrCorruptMetadata, len(b), minInodeSize)
	}

	// uid/gid/size/xattr block have high words scattered through the record
	owner := make([]byte, 4)
	group := make([]byte, 4)
	fileSize := make([]byte, 8)
	xattrBlock := make([]byte, 8)
	blocks := make([]byte, 8)

	mode := binary.LittleEndian.Uint16(b[0x0:0x2])

	copy(owner[0:2], b[0x2:0x4])
	copy(owner[2:4], b[0x78:0x7a])
	copy(group[0:2], b[0x18:0x1a])
	copy(group[2:4], b[0x7a:0x7c])
	copy(fileSize[0:4], b[0x4:0x8])
	copy(fileSize[4:8], b[0x6c:0x70])
	copy(xattrBlock[0:4], b[0x68:0x6c])
	copy(xattrBlock[4:6], b[0x76:0x78])
	copy(blocks[0:4], b[0x1c:0x20])
	copy(blocks[4:6], b[0x74:0x76])

	flags := parseInodeFlags(binary.LittleEndian.Uint32(b[0x20:0x24]))

	in := Inode{
		Number:     number,
		FileType:   fileTypeFromMode(mode),
		Perm:       mode &^ modeTypeMask,
		UID:        binary.LittleEndian.Uint32(owner),
		GID:        binary.LittleEndian.Uint32(group),
		Size:       binary.LittleEndian.Uint64(fileSize),
		Links:      binary.LittleEndian.Uint16(b[0x1a:0x1c]),
		Blocks:     binary.LittleEndian.Uint64(blocks),
		DeleteTime: binary.LittleEndian.Uint32(b[0x14:0x18]),
		flags:      flags,
		xattrBlock: binary.LittleEndian.Uint64(xattrBlock),
		generation: binary.LittleEndian.Uint32(b[0x64:0x68]),
	}
	copy(in.blockData[:], b[0x28:0x64])

	// directories never use the size_high word; it aliases the directory acl
	// in older revisions, so mask it off
	if in.FileType == FileTypeDirectory {
		in.Size = uint64(binary.LittleEndian.Uint32(b[0x4:0x8]))
	}

	// the extra field area carries sub-second timestamps and epoch extension
	// bits, present only when the inode record is larger than 128 bytes
	hasExtra := false
	if int(sb.inodeSize) > minInodeSize {
		in.extraIsize = binary.LittleEndian.Uint16(b[0x80:0x82])
		hasExtra = int(in.extraIsize) >= 0x20 && len(b) >= minInodeSize+int(in.extraIsize)
	}

	decodeTime := func(secOffset, extraOffset int) time.Time {
		seconds := int64(int32(binary.LittleEndian.Uint32(b[secOffset : secOffset+4])))
		var nanoseconds int64
		if hasExtra {
			extra := binary.LittleEndian.Uint32(b[extraOffset : extraOffset+4])
			seconds += int64(extra&0x3) << 32
			nanoseconds = int64(extra >> 2)
		}
		return time.Unix(seconds, nanoseconds)
	}

	in.AccessTime = decodeTime(0x8, 0x8c)
	in.ChangeTime = decodeTime(0xc, 0x84)
	in.ModifyTime = decodeTime(0x10, 0x88)
	if hasExtra {
		in.CreateTime = decodeTime(0x90, 0x94)
	}

	return &in, nil
}

func fileTypeFromMode(mode uint16) FileType {
	switch mode & modeTypeMask {
	case modeTypeFifo:
		return FileTypeFifo
	case modeTypeCharacterDevice:
		return FileTypeCharacterDevice
	case modeTypeDirectory:
		return FileTypeDirectory
	case modeTypeBlockDevice:
		return FileTypeBlockDevice
	case modeTypeRegularFile:
		return FileTypeRegularFile
	case modeTypeSymbolicLink:
		return FileTypeSymlink
	case modeTypeSocket:
		return FileTypeSocket
	}
	return FileTypeUnknown
}

func parseInodeFlags(flags uint32) inodeFlags {
	f := inodeFlag(flags)
	return inodeFlags{
		secureDeletion:          f&inodeFlagSecureDeletion == inodeFlagSecureDeletion,
		preserveForUndeletion:   f&inodeFlagPreserveForUndeletion == inodeFlagPreserveForUndeletion,
		compressed:              f&inodeFlagCompressed == inodeFlagCompressed,
		synchronous:             f&inodeFlagSynchronous == inodeFlagSynchronous,
		immutable:               f&inodeFlagImmutable == inodeFlagImmutable,
		appendOnly:              f&inodeFlagAppendOnly == inodeFlagAppendOnly,
		noDump:                  f&inodeFlagNoDump == inodeFlagNoDump,
		noAccessTimeUpdate:      f&inodeFlagNoAccessTimeUpdate == inodeFlagNoAccessTimeUpdate,
		hashedDirectoryIndexes:  f&inodeFlagHashedDirectoryIndexes == inodeFlagHashedDirectoryIndexes,
		AFSMagicDirectory:       f&inodeFlagAFSMagicDirectory == inodeFlagAFSMagicDirectory,
		alwaysJournal:           f&inodeFlagAlwaysJournal == inodeFlagAlwaysJournal,
		noMergeTail:             f&inodeFlagNoMergeTail == inodeFlagNoMergeTail,
		syncDirectoryData:       f&inodeFlagSyncDirectoryData == inodeFlagSyncDirectoryData,
		topDirectory:            f&inodeFlagTopDirectory == inodeFlagTopDirectory,
		hugeFile:                f&inodeFlagHugeFile == inodeFlagHugeFile,
		usesExtents:             f&inodeFlagUsesExtents == inodeFlagUsesExtents,
		extendedAttributeInode:  f&inodeFlagExtendedAttributeInode == inodeFlagExtendedAttributeInode,
		blocksPastEOF:           f&inodeFlagBlocksPastEOF == inodeFlagBlocksPastEOF,
		snapshot:                f&inodeFlagSnapshot == inodeFlagSnapshot,
		deletingSnapshot:        f&inodeFlagDeletingSnapshot == inodeFlagDeletingSnapshot,
		completedSnapshotShrink: f&inodeFlagCompletedSnapshotShrink == inodeFlagCompletedSnapshotShrink,
		inlineData:              f&inodeFlagInlineData == inodeFlagInlineData,
		inheritProject:          f&inodeFlagInheritProject == inodeFlagInheritProject,
	}
}

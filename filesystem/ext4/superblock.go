package ext4

import (
	"encoding/binary"
	"fmt"
	"time"

	uuid "github.com/satori/go.uuid"
)

type filesystemState uint16
type errorBehaviour uint16
type osFlag uint32
type feature uint32

const (
	// superblockSignature is the signature for every superblock
	superblockSignature uint16 = 0xef53
	// superblockOffset is where the superblock lives in every ext4 filesystem,
	// regardless of block size: 1024 bytes from the start of the device
	superblockOffset int64 = 1024
	// SuperblockSize is the on-disk size of the superblock
	SuperblockSize int = 1024

	// optional states for the filesystem
	fsStateCleanlyUnmounted filesystemState = 0x0001
	fsStateErrors           filesystemState = 0x0002
	fsStateOrphansRecovered filesystemState = 0x0004
	// how to handle errors
	errorsContinue        errorBehaviour = 1
	errorsRemountReadOnly errorBehaviour = 2
	errorsPanic           errorBehaviour = 3
	// checksum type
	checksumTypeCRC32c byte = 1
	// oses
	osLinux   osFlag = 0
	osHurd    osFlag = 1
	osMasix   osFlag = 2
	osFreeBSD osFlag = 3
	osLites   osFlag = 4

	// compatible, incompatible, and compatibleReadOnly feature flags
	compatFeatureDirectoryPreAllocate             feature = 0x1
	compatFeatureImagicInodes                     feature = 0x2
	compatFeatureHasJournal                       feature = 0x4
	compatFeatureExtendedAttributes               feature = 0x8
	compatFeatureReservedGDTBlocksForExpansion    feature = 0x10
	compatFeatureDirectoryIndices                 feature = 0x20
	compatFeatureLazyBlockGroup                   feature = 0x40
	compatFeatureExcludeInode                     feature = 0x80
	compatFeatureExcludeBitmap                    feature = 0x100
	compatFeatureSparseSuperBlockV2               feature = 0x200
	incompatFeatureCompression                    feature = 0x1
	incompatFeatureDirectoryEntriesRecordFileType feature = 0x2
	incompatFeatureRecoveryNeeded                 feature = 0x4
	incompatFeatureSeparateJournalDevice          feature = 0x8
	incompatFeatureMetaBlockGroups                feature = 0x10
	incompatFeatureExtents                        feature = 0x40
	incompatFeature64Bit                          feature = 0x80
	incompatFeatureMultipleMountProtection        feature = 0x100
	incompatFeatureFlexBlockGroups                feature = 0x200
	incompatFeatureExtendedAttributeInodes        feature = 0x400
	incompatFeatureDataInDirectoryEntries         feature = 0x1000
	incompatFeatureChecksumSeedInSuperblock       feature = 0x2000
	incompatFeatureLargeDirectory                 feature = 0x4000
	incompatFeatureDataInInode                    feature = 0x8000
	incompatFeatureEncryptInodes                  feature = 0x10000
	roCompatFeatureSparseSuperblock               feature = 0x1
	roCompatFeatureLargeFile                      feature = 0x2
	roCompatFeatureBtreeDirectory                 feature = 0x4
	roCompatFeatureHugeFile                       feature = 0x8
	roCompatFeatureGDTChecksum                    feature = 0x10
	roCompatFeatureLargeSubdirectoryCount         feature = 0x20
	roCompatFeatureLargeInodes                    feature = 0x40
	roCompatFeatureSnapshot                       feature = 0x80
	roCompatFeatureQuota                          feature = 0x100
	roCompatFeatureBigalloc                       feature = 0x200
	roCompatFeatureMetadataChecksums              feature = 0x400

	minBlockLogSize = 0 /* 1 KiB */
	maxBlockLogSize = 6 /* 64 KiB */
)

// superblock holds the decoded ext4 superblock. It is decoded once per run
// and treated as immutable afterwards.
type superblock struct {
	inodeCount            uint32
	blockCount            uint64
	reservedBlocks        uint64
	freeBlocks            uint64
	freeInodes            uint32
	firstDataBlock        uint32
	blockSize             uint64
	blocksPerGroup        uint32
	inodesPerGroup        uint32
	mountTime             time.Time
	writeTime             time.Time
	mountCount            uint16
	mountsToFsck          uint16
	filesystemState       filesystemState
	errorBehaviour        errorBehaviour
	lastCheck             time.Time
	checkInterval         uint32
	creatorOS             osFlag
	revisionLevel         uint32
	firstNonReservedInode uint32
	inodeSize             uint16
	blockGroup            uint16
	features              featureFlags
	uuid                  string
	rawUUID               []byte
	volumeLabel           string
	lastMountedDirectory  string
	groupDescriptorSize   uint16
	inodeMinBytes         uint16
	inodeReserveBytes     uint16
	checksumType          byte
	checksumSeed          uint32
}

// superblockFromBytes create a superblock struct from bytes
func superblockFromBytes(b []byte) (*superblock, error) {
	bLen := len(b)
	if bLen != SuperblockSize {
		return nil, fmt.Errorf("%w: cannot read superblock from %d bytes instead of expected %d", ErrCorruptSuperblock, bLen, SuperblockSize)
	}

	// check the magic signature
	actualSignature := binary.LittleEndian.Uint16(b[0x38:0x3a])
	if actualSignature != superblockSignature {
		return nil, fmt.Errorf("%w: erroneous signature at location 0x38 was %x instead of expected %x", ErrCorruptSuperblock, actualSignature, superblockSignature)
	}

	sb := superblock{}

	// first read feature flags of various types
	compatFlags := feature(binary.LittleEndian.Uint32(b[0x5c:0x60]))
	incompatFlags := feature(binary.LittleEndian.Uint32(b[0x60:0x64]))
	roCompatFlags := feature(binary.LittleEndian.Uint32(b[0x64:0x68]))
	sb.features = parseFeatureFlags(compatFlags, incompatFlags, roCompatFlags)

	// the whole product scope is extent-based files; a filesystem without the
	// extents feature only contains mapped files, which we do not decode
	if !sb.features.extents {
		return nil, fmt.Errorf("%w: filesystem does not have the extents feature, only mapped (indirect-block) files", ErrUnsupportedFeature)
	}

	sb.inodeCount = binary.LittleEndian.Uint32(b[0:4])

	// block count, reserved block count and free blocks depend on whether the fs is 64-bit or not
	blockCount := make([]byte, 8)
	reservedBlocks := make([]byte, 8)
	freeBlocks := make([]byte, 8)

	copy(blockCount[0:4], b[0x4:0x8])
	copy(reservedBlocks[0:4], b[0x8:0xc])
	copy(freeBlocks[0:4], b[0xc:0x10])

	if sb.features.fs64Bit {
		copy(blockCount[4:8], b[0x150:0x154])
		copy(reservedBlocks[4:8], b[0x154:0x158])
		copy(freeBlocks[4:8], b[0x158:0x15c])
	}
	sb.blockCount = binary.LittleEndian.Uint64(blockCount)
	sb.reservedBlocks = binary.LittleEndian.Uint64(reservedBlocks)
	sb.freeBlocks = binary.LittleEndian.Uint64(freeBlocks)

	sb.freeInodes = binary.LittleEndian.Uint32(b[0x10:0x14])
	sb.firstDataBlock = binary.LittleEndian.Uint32(b[0x14:0x18])

	logBlockSize := binary.LittleEndian.Uint32(b[0x18:0x1c])
	if logBlockSize < minBlockLogSize || logBlockSize > maxBlockLogSize {
		return nil, fmt.Errorf("%w: invalid log block size %d", ErrCorruptSuperblock, logBlockSize)
	}
	sb.blockSize = uint64(1) << (10 + logBlockSize)

	sb.blocksPerGroup = binary.LittleEndian.Uint32(b[0x20:0x24])
	if sb.blocksPerGroup == 0 {
		return nil, fmt.Errorf("%w: zero blocks per group", ErrCorruptSuperblock)
	}
	sb.inodesPerGroup = binary.LittleEndian.Uint32(b[0x28:0x2c])
	if sb.inodesPerGroup == 0 {
		return nil, fmt.Errorf("%w: zero inodes per group", ErrCorruptSuperblock)
	}
	sb.mountTime = time.Unix(int64(binary.LittleEndian.Uint32(b[0x2c:0x30])), 0)
	sb.writeTime = time.Unix(int64(binary.LittleEndian.Uint32(b[0x30:0x34])), 0)
	sb.mountCount = binary.LittleEndian.Uint16(b[0x34:0x36])
	sb.mountsToFsck = binary.LittleEndian.Uint16(b[0x36:0x38])

	sb.filesystemState = filesystemState(binary.LittleEndian.Uint16(b[0x3a:0x3c]))
	sb.errorBehaviour = errorBehaviour(binary.LittleEndian.Uint16(b[0x3c:0x3e]))

	sb.lastCheck = time.Unix(int64(binary.LittleEndian.Uint32(b[0x40:0x44])), 0)
	sb.checkInterval = binary.LittleEndian.Uint32(b[0x44:0x48])

	sb.creatorOS = osFlag(binary.LittleEndian.Uint32(b[0x48:0x4c]))
	sb.revisionLevel = binary.LittleEndian.Uint32(b[0x4c:0x50])

	sb.firstNonReservedInode = binary.LittleEndian.Uint32(b[0x54:0x58])
	sb.inodeSize = binary.LittleEndian.Uint16(b[0x58:0x5a])
	sb.blockGroup = binary.LittleEndian.Uint16(b[0x5a:0x5c])
	if sb.revisionLevel == 0 {
		// the original revision has fixed-size inodes and reserved inodes
		sb.inodeSize = 128
		sb.firstNonReservedInode = 11
	}
	if sb.inodeSize < 128 || uint64(sb.inodeSize) > sb.blockSize {
		return nil, fmt.Errorf("%w: invalid inode size %d", ErrCorruptSuperblock, sb.inodeSize)
	}

	sb.rawUUID = make([]byte, 16)
	copy(sb.rawUUID, b[0x68:0x78])
	voluuid, err := uuid.FromBytes(bytesToUUIDBytes(b[0x68:0x78]))
	if err != nil {
		return nil, fmt.Errorf("unable to read volume UUID: %v", err)
	}
	sb.uuid = voluuid.String()
	sb.volumeLabel = cstring(b[0x78:0x88])
	sb.lastMountedDirectory = cstring(b[0x88:0xc8])

	sb.groupDescriptorSize = 32
	if sb.features.fs64Bit {
		sb.groupDescriptorSize = binary.LittleEndian.Uint16(b[0xfe:0x100])
		if sb.groupDescriptorSize == 0 {
			sb.groupDescriptorSize = 64
		}
	}

	sb.inodeMinBytes = binary.LittleEndian.Uint16(b[0x15c:0x15e])
	sb.inodeReserveBytes = binary.LittleEndian.Uint16(b[0x15e:0x160])

	sb.checksumType = b[0x175]
	if sb.features.metadataChecksums && sb.checksumType != checksumTypeCRC32c {
		return nil, fmt.Errorf("%w: invalid checksum type %d, only valid is %d", ErrCorruptSuperblock, sb.checksumType, checksumTypeCRC32c)
	}

	sb.checksumSeed = binary.LittleEndian.Uint32(b[0x270:0x274])
	if !sb.features.checksumSeedInSuperblock {
		sb.checksumSeed = crc32c_update(^uint32(0), sb.rawUUID)
	}

	// validate the superblock checksum - crc32c over everything before the
	// checksum field itself
	if sb.features.metadataChecksums {
		checksum := binary.LittleEndian.Uint32(b[0x3fc:0x400])
		actualChecksum := crc32c_update(^uint32(0), b[0:0x3fc])
		if actualChecksum != checksum {
			return nil, fmt.Errorf("%w: invalid superblock checksum, actual was %x, on disk was %x", ErrCorruptSuperblock, actualChecksum, checksum)
		}
	}

	return &sb, nil
}

// blockGroupCount how many block groups the filesystem has, derived from the
// block count and blocks per group
func (sb *superblock) blockGroupCount() uint64 {
	blocks := sb.blockCount - uint64(sb.firstDataBlock)
	per := uint64(sb.blocksPerGroup)
	return (blocks + per - 1) / per
}

// getGroupDescriptorSize descriptor size in bytes: 32 in 32-bit mode, usually
// 64 in 64-bit mode
func (sb *superblock) getGroupDescriptorSize() int {
	return int(sb.groupDescriptorSize)
}

// gdtLocation the first block of the group descriptor table: the block right
// after the superblock
func (sb *superblock) gdtLocation() uint64 {
	if sb.blockSize == 1024 {
		return uint64(sb.firstDataBlock) + 1
	}
	return 1
}

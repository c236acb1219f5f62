package ext4

import (
	"encoding/binary"
	"io"
)

// memFile serves positioned reads from a byte slice, standing in for an
// image file in tests.
type memFile struct {
	b []byte
}

func (m *memFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.b)) {
		return 0, io.EOF
	}
	n := copy(p, m.b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *memFile) Close() error { return nil }
func (m *memFile) Size() int64  { return int64(len(m.b)) }

func le16(b []byte, off int, v uint16) { binary.LittleEndian.PutUint16(b[off:off+2], v) }
func le32(b []byte, off int, v uint32) { binary.LittleEndian.PutUint32(b[off:off+4], v) }

// Fixture image geometry: 1 KiB blocks, one block group, 16 inodes of 256
// bytes. The layout is fixed so tests can reference blocks by number.
const (
	imgBlockSize  = 1024
	imgBlockCount = 32
	imgInodeCount = 16
	imgInodeSize  = 256

	imgGDTBlock        = 2
	imgBlockBitmapBlk  = 3
	imgInodeBitmapBlk  = 4
	imgInodeTableBlk   = 5 // four blocks
	imgRootDirBlk      = 9
	imgFileBlkA        = 10
	imgFileBlkB        = 11
	imgSubDirBlk       = 12
	imgSlowLinkBlk     = 13
	imgSparseBlk       = 14
	imgTreeLeafBlk     = 15
	imgTreeBadChildBlk = 16
)

// inodeSpec describes one inode record to place into the fixture's inode
// table.
type inodeSpec struct {
	number     uint32
	mode       uint16
	uid, gid   uint32
	size       uint32
	links      uint16
	atime      uint32
	ctime      uint32
	mtime      uint32
	flags      uint32
	blockData  []byte
	extraIsize uint16
	tail       []byte // written after the 128-byte record, for xattr areas
}

func writeInode(img []byte, spec inodeSpec) {
	off := imgInodeTableBlk*imgBlockSize + int(spec.number-1)*imgInodeSize
	slot := img[off : off+imgInodeSize]

	le16(slot, 0x0, spec.mode)
	le16(slot, 0x2, uint16(spec.uid))
	le32(slot, 0x4, spec.size)
	le32(slot, 0x8, spec.atime)
	le32(slot, 0xc, spec.ctime)
	le32(slot, 0x10, spec.mtime)
	le16(slot, 0x18, uint16(spec.gid))
	le16(slot, 0x1a, spec.links)
	le32(slot, 0x20, spec.flags)
	copy(slot[0x28:0x64], spec.blockData)
	le16(slot, 0x80, spec.extraIsize)
	copy(slot[minInodeSize+int(spec.extraIsize):], spec.tail)
}

// extentNode assembles an extent tree node: a header followed by 12-byte
// entries, either leaf extents or index entries depending on depth.
func extentNode(depth uint16, max uint16, entries ...[]byte) []byte {
	node := make([]byte, extentTreeHeaderLength+len(entries)*extentTreeEntryLength)
	le16(node, 0x0, extentHeaderSignature)
	le16(node, 0x2, uint16(len(entries)))
	le16(node, 0x4, max)
	le16(node, 0x6, depth)
	for i, e := range entries {
		copy(node[extentTreeHeaderLength+i*extentTreeEntryLength:], e)
	}
	return node
}

func leafExtent(fileBlock uint32, count uint16, physBlock uint32) []byte {
	e := make([]byte, extentTreeEntryLength)
	le32(e, 0x0, fileBlock)
	le16(e, 0x4, count)
	// 0x6:0x8 is the physical block high word, zero here
	le32(e, 0x8, physBlock)
	return e
}

func uninitLeafExtent(fileBlock uint32, count uint16, physBlock uint32) []byte {
	e := leafExtent(fileBlock, 0, physBlock)
	le16(e, 0x4, maxBlocksPerExtent+count)
	return e
}

func indexEntry(fileBlock, childBlock uint32) []byte {
	e := make([]byte, extentTreeEntryLength)
	le32(e, 0x0, fileBlock)
	le32(e, 0x4, childBlock)
	return e
}

// dirent assembles one on-disk directory entry record
func dirent(inode uint32, name string, fileType FileType, recLen int) []byte {
	e := make([]byte, recLen)
	le32(e, 0x0, inode)
	le16(e, 0x4, uint16(recLen))
	e[0x6] = byte(len(name))
	e[0x7] = byte(fileType)
	copy(e[dirEntryHeaderLen:], name)
	return e
}

func fillDirBlock(img []byte, block int, entries ...[]byte) {
	off := block * imgBlockSize
	for _, e := range entries {
		copy(img[off:], e)
		off += len(e)
	}
}

// fileContentByte is the deterministic content pattern of the fixture's
// regular file
func fileContentByte(i int) byte { return byte(i % 251) }

const (
	fixtureFileSize   = 1300
	fixtureFileMTime  = 1600000000
	fixtureFileATime  = 1600000001
	fixtureFileCTime  = 1600000002
	fixtureSparseSize = 3072
	fixtureXattrName  = "user.demo"
	fixtureXattrValue = "demo-value"
	fixtureSlowTarget = "/a/deliberately/long/target/path/that/cannot/fit/in/the/inode/itself"
)

// buildTestImage assembles a small but fully consistent single-group ext4
// image:
//
//	/hello.txt    1300 byte file spanning two blocks
//	/sub/         empty subdirectory (plus an entry for inner.txt)
//	/sub/inner.txt  empty file
//	/link         fast symlink to hello.txt
//	/sparse.bin   3072 byte file whose first two blocks are uninitialized
//	/attr.txt     empty file with an in-inode extended attribute
//
// Inodes 7 through 10 are not linked from any directory and exist for
// decoder tests: 7 has a corrupt extent root, 8 a child with a wrong
// depth, 9 a valid two-level tree, 10 is a slow symlink.
func buildTestImage() []byte {
	img := make([]byte, imgBlockCount*imgBlockSize)

	// superblock
	sb := img[1024:2048]
	le32(sb, 0x0, imgInodeCount)
	le32(sb, 0x4, imgBlockCount)
	le32(sb, 0xc, 17) // free blocks
	le32(sb, 0x10, 1) // free inodes
	le32(sb, 0x14, 1) // first data block
	le32(sb, 0x18, 0) // log block size: 1 KiB
	le32(sb, 0x20, 8192)
	le32(sb, 0x28, imgInodeCount)
	le16(sb, 0x38, superblockSignature)
	le16(sb, 0x3a, 1) // cleanly unmounted
	le32(sb, 0x4c, 1) // dynamic revision
	le32(sb, 0x54, 11)
	le16(sb, 0x58, imgInodeSize)
	le32(sb, 0x60, uint32(incompatFeatureExtents|incompatFeatureDirectoryEntriesRecordFileType))
	for i := 0; i < 16; i++ {
		sb[0x68+i] = byte(i + 1)
	}
	copy(sb[0x78:], "testimg")
	copy(sb[0x88:], "/mnt/test")

	// single group descriptor
	gd := img[imgGDTBlock*imgBlockSize:]
	le32(gd, 0x0, imgBlockBitmapBlk)
	le32(gd, 0x4, imgInodeBitmapBlk)
	le32(gd, 0x8, imgInodeTableBlk)
	le16(gd, 0xc, 17)
	le16(gd, 0xe, 1)
	le16(gd, 0x10, 2)

	// allocation bitmaps: 15 blocks and 15 inodes in use
	img[imgBlockBitmapBlk*imgBlockSize] = 0xff
	img[imgBlockBitmapBlk*imgBlockSize+1] = 0x7f
	img[imgInodeBitmapBlk*imgBlockSize] = 0xff
	img[imgInodeBitmapBlk*imgBlockSize+1] = 0x7f

	// root directory
	writeInode(img, inodeSpec{
		number: RootInode, mode: 0x41ed, size: imgBlockSize, links: 3,
		flags:     uint32(inodeFlagUsesExtents),
		blockData: extentNode(0, 4, leafExtent(0, 1, imgRootDirBlk)),
	})
	fillDirBlock(img, imgRootDirBlk,
		dirent(RootInode, ".", FileTypeDirectory, 12),
		dirent(RootInode, "..", FileTypeDirectory, 12),
		dirent(11, "hello.txt", FileTypeRegularFile, 20),
		dirent(0, "deleted", FileTypeRegularFile, 16),
		dirent(12, "sub", FileTypeDirectory, 12),
		dirent(13, "link", FileTypeSymlink, 12),
		dirent(14, "sparse.bin", FileTypeRegularFile, 20),
		dirent(15, "attr.txt", FileTypeRegularFile, 920),
	)

	// hello.txt
	writeInode(img, inodeSpec{
		number: 11, mode: 0x81a4, uid: 1000, gid: 1000,
		size: fixtureFileSize, links: 1,
		atime: fixtureFileATime, ctime: fixtureFileCTime, mtime: fixtureFileMTime,
		flags:     uint32(inodeFlagUsesExtents),
		blockData: extentNode(0, 4, leafExtent(0, 2, imgFileBlkA)),
	})
	for i := 0; i < fixtureFileSize; i++ {
		img[imgFileBlkA*imgBlockSize+i] = fileContentByte(i)
	}

	// sub directory and its empty inner file
	writeInode(img, inodeSpec{
		number: 12, mode: 0x41ed, size: imgBlockSize, links: 2,
		flags:     uint32(inodeFlagUsesExtents),
		blockData: extentNode(0, 4, leafExtent(0, 1, imgSubDirBlk)),
	})
	fillDirBlock(img, imgSubDirBlk,
		dirent(12, ".", FileTypeDirectory, 12),
		dirent(RootInode, "..", FileTypeDirectory, 12),
		dirent(16, "inner.txt", FileTypeRegularFile, 1000),
	)
	writeInode(img, inodeSpec{
		number: 16, mode: 0x81a4, size: 0, links: 1,
		flags:     uint32(inodeFlagUsesExtents),
		blockData: extentNode(0, 4),
	})

	// fast symlink
	writeInode(img, inodeSpec{
		number: 13, mode: 0xa1ff, size: 9, links: 1,
		blockData: []byte("hello.txt"),
	})

	// slow symlink: target too long for the inline area, stored in a block
	writeInode(img, inodeSpec{
		number: 10, mode: 0xa1ff, size: uint32(len(fixtureSlowTarget)), links: 1,
		flags:     uint32(inodeFlagUsesExtents),
		blockData: extentNode(0, 4, leafExtent(0, 1, imgSlowLinkBlk)),
	})
	copy(img[imgSlowLinkBlk*imgBlockSize:], fixtureSlowTarget)

	// sparse file: logical blocks 0 and 1 are an uninitialized extent whose
	// physical blocks hold other data, which must never leak into reads
	writeInode(img, inodeSpec{
		number: 14, mode: 0x81a4, size: fixtureSparseSize, links: 1,
		flags: uint32(inodeFlagUsesExtents),
		blockData: extentNode(0, 4,
			uninitLeafExtent(0, 2, imgFileBlkA),
			leafExtent(2, 1, imgSparseBlk),
		),
	})
	for i := 0; i < imgBlockSize; i++ {
		img[imgSparseBlk*imgBlockSize+i] = 0xab
	}

	// attr.txt: empty file with an in-inode extended attribute
	attrTail := make([]byte, imgInodeSize-minInodeSize-0x20)
	le32(attrTail, 0x0, xattrSignature)
	entry := attrTail[4:]
	entry[0] = 4 // name length
	entry[1] = 1 // user. prefix
	le16(entry, 0x2, 40)
	le32(entry, 0x8, uint32(len(fixtureXattrValue)))
	copy(entry[xattrEntryHeaderLength:], "demo")
	copy(entry[40:], fixtureXattrValue)
	writeInode(img, inodeSpec{
		number: 15, mode: 0x8180, size: 0, links: 1,
		flags:      uint32(inodeFlagUsesExtents),
		blockData:  extentNode(0, 4),
		extraIsize: 0x20,
		tail:       attrTail,
	})

	// inode 7: extent root with a bad signature
	badRoot := extentNode(0, 4, leafExtent(0, 1, imgFileBlkA))
	badRoot[0] = 0xde
	badRoot[1] = 0xad
	writeInode(img, inodeSpec{
		number: 7, mode: 0x8000, size: imgBlockSize, links: 1,
		flags: uint32(inodeFlagUsesExtents), blockData: badRoot,
	})

	// inode 8: interior root whose child declares the same depth again
	writeInode(img, inodeSpec{
		number: 8, mode: 0x8000, size: imgBlockSize, links: 1,
		flags:     uint32(inodeFlagUsesExtents),
		blockData: extentNode(1, 4, indexEntry(0, imgTreeBadChildBlk)),
	})
	copy(img[imgTreeBadChildBlk*imgBlockSize:], extentNode(1, 84, indexEntry(0, imgTreeLeafBlk)))

	// inode 9: valid two-level tree over the hello.txt blocks
	writeInode(img, inodeSpec{
		number: 9, mode: 0x8000, size: 2 * imgBlockSize, links: 1,
		flags:     uint32(inodeFlagUsesExtents),
		blockData: extentNode(1, 4, indexEntry(0, imgTreeLeafBlk)),
	})
	copy(img[imgTreeLeafBlk*imgBlockSize:], extentNode(0, 84,
		leafExtent(0, 1, imgFileBlkA),
		leafExtent(1, 1, imgFileBlkB),
	))

	return img
}

func testFS() (*FileSystem, error) {
	img := buildTestImage()
	f := &memFile{b: img}
	return Read(f, f.Size(), 0)
}

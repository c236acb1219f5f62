package extract

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

const (
	blockSize  = 1024
	blockCount = 32
	inodeSize  = 256

	fileSize  = 1300
	fileMTime = 1600000000
	fileATime = 1600000001
)

func contentByte(i int) byte { return byte(i % 251) }

func putInode(img []byte, number uint32, mode uint16, size uint32, mtime uint32, flags uint32, blockData []byte) {
	off := 5*blockSize + int(number-1)*inodeSize
	slot := img[off : off+inodeSize]
	le16(slot, 0x0, mode)
	le32(slot, 0x4, size)
	le32(slot, 0x8, fileATime)
	le32(slot, 0x10, mtime)
	le16(slot, 0x1a, 1)
	le32(slot, 0x20, flags)
	copy(slot[0x28:0x64], blockData)
}

func leafNode(fileBlock uint32, count uint16, physBlock uint32) []byte {
	node := make([]byte, 24)
	le16(node, 0x0, 0xf30a) // node signature
	le16(node, 0x2, 1)
	le16(node, 0x4, 4)
	le32(node, 0xc, fileBlock)
	le16(node, 0x10, count)
	le32(node, 0x14, physBlock)
	return node
}

func putDirent(img []byte, off int, inode uint32, name string, fileType byte, recLen int) int {
	le32(img, off, inode)
	le16(img, off+0x4, uint16(recLen))
	img[off+0x6] = byte(len(name))
	img[off+0x7] = fileType
	copy(img[off+8:], name)
	return off + recLen
}

// buildImage assembles a single-group ext4 image holding:
//
//	/hello.txt    1300 byte file
//	/sub/         empty subdirectory
//	/link         fast symlink to hello.txt
//	/sparse.bin   3072 byte file whose first two blocks are a hole
//	/bad.bin      file whose extent tree root is corrupt
//	/mapped.bin   file using legacy indirect-block addressing
//
// Blocks: 3 block bitmap, 4 inode bitmap, 5-8 inode table, 9 root
// directory, 10-11 file content, 12 subdirectory, 14 sparse tail.
func buildImage() []byte {
	img := make([]byte, blockCount*blockSize)

	sb := img[1024:2048]
	le32(sb, 0x0, 16) // inodes
	le32(sb, 0x4, blockCount)
	le32(sb, 0x14, 1) // first data block
	le32(sb, 0x20, 8192)
	le32(sb, 0x28, 16)
	le16(sb, 0x38, 0xef53)
	le32(sb, 0x4c, 1)
	le32(sb, 0x54, 11)
	le16(sb, 0x58, inodeSize)
	le32(sb, 0x60, 0x42) // extents plus dirent filetype
	for i := 0; i < 16; i++ {
		sb[0x68+i] = byte(i + 1)
	}
	copy(sb[0x78:], "extract-test")

	gd := img[2*blockSize:]
	le32(gd, 0x0, 3)
	le32(gd, 0x4, 4)
	le32(gd, 0x8, 5)

	// root directory
	putInode(img, 2, 0x41ed, blockSize, fileMTime, 0x80000, leafNode(0, 1, 9))
	off := 9 * blockSize
	off = putDirent(img, off, 2, ".", 2, 12)
	off = putDirent(img, off, 2, "..", 2, 12)
	off = putDirent(img, off, 11, "hello.txt", 1, 20)
	off = putDirent(img, off, 12, "sub", 2, 12)
	off = putDirent(img, off, 13, "link", 7, 12)
	off = putDirent(img, off, 14, "sparse.bin", 1, 20)
	off = putDirent(img, off, 7, "bad.bin", 1, 20)
	putDirent(img, off, 6, "mapped.bin", 1, blockSize-(off-9*blockSize))

	// hello.txt, with one in-inode extended attribute
	putInode(img, 11, 0x81a4, fileSize, fileMTime, 0x80000, leafNode(0, 2, 10))
	for i := 0; i < fileSize; i++ {
		img[10*blockSize+i] = contentByte(i)
	}
	slot := img[5*blockSize+10*inodeSize:]
	le16(slot, 0x80, 0x20) // extra isize
	area := slot[160:inodeSize]
	le32(area, 0x0, 0xea020000)
	entry := area[4:]
	entry[0] = 4 // name length
	entry[1] = 1 // user. prefix
	le16(entry, 0x2, 40)
	le32(entry, 0x8, uint32(len("demo-value")))
	copy(entry[16:], "demo")
	copy(entry[40:], "demo-value")

	// sub, owner-only so mode restoration is observable
	putInode(img, 12, 0x41c0, blockSize, fileMTime, 0x80000, leafNode(0, 1, 12))
	off = 12 * blockSize
	off = putDirent(img, off, 12, ".", 2, 12)
	putDirent(img, off, 2, "..", 2, blockSize-12)

	// link
	putInode(img, 13, 0xa1ff, 9, fileMTime, 0, []byte("hello.txt"))

	// sparse.bin
	putInode(img, 14, 0x81a4, 3*blockSize, fileMTime, 0x80000, leafNode(2, 1, 14))
	for i := 0; i < blockSize; i++ {
		img[14*blockSize+i] = 0xab
	}

	// bad.bin: extent root with a wrecked signature
	bad := leafNode(0, 1, 10)
	bad[0] = 0xde
	bad[1] = 0xad
	putInode(img, 7, 0x81a4, blockSize, fileMTime, 0x80000, bad)

	// mapped.bin: legacy indirect-block addressing, no extents flag
	legacy := make([]byte, 60)
	le32(legacy, 0x0, 10)
	putInode(img, 6, 0x81a4, blockSize, fileMTime, 0, legacy)

	return img
}

// buildLoopImage is buildImage with /sub/back pointing at the root
// directory inode, forming a directory cycle.
func buildLoopImage() []byte {
	img := buildImage()
	off := 12 * blockSize
	off = putDirent(img, off, 12, ".", 2, 12)
	off = putDirent(img, off, 2, "..", 2, 12)
	putDirent(img, off, 2, "back", 2, blockSize-24)
	return img
}

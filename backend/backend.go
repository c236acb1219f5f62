// Package backend provides random access to the raw bytes of an ext4 image,
// whether it is a plain file, a block device, or a compressed image file.
package backend

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// File is the random-access handle the decoder reads from. Every read is a
// self-contained positioned request, so a File may be shared by concurrent
// callers.
type File interface {
	io.ReaderAt
	io.Closer
	Size() int64
}

var (
	xzMagic   = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

type deviceFile struct {
	f    *os.File
	size int64
}

func (d *deviceFile) ReadAt(b []byte, off int64) (int, error) { return d.f.ReadAt(b, off) }
func (d *deviceFile) Close() error                            { return d.f.Close() }
func (d *deviceFile) Size() int64                             { return d.size }

// Open opens an image file or block device read-only. If the file starts with
// an xz, lz4 or zstd signature, it is decompressed into an unlinked temporary
// file first, since the decoder needs random access and the compressed
// streams only support sequential reads.
func Open(path string) (File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	magic := make([]byte, 6)
	n, err := f.ReadAt(magic, 0)
	if err != nil && err != io.EOF {
		f.Close()
		return nil, fmt.Errorf("could not read image signature: %w", err)
	}
	magic = magic[:n]

	var decompress func(io.Reader) (io.Reader, error)
	switch {
	case bytes.HasPrefix(magic, xzMagic):
		decompress = func(r io.Reader) (io.Reader, error) { return xz.NewReader(r) }
	case bytes.HasPrefix(magic, lz4Magic):
		decompress = func(r io.Reader) (io.Reader, error) { return lz4.NewReader(r), nil }
	case bytes.HasPrefix(magic, zstdMagic):
		decompress = func(r io.Reader) (io.Reader, error) { return zstd.NewReader(r) }
	default:
		size, err := deviceSize(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		return &deviceFile{f: f, size: size}, nil
	}

	defer f.Close()
	r, err := decompress(f)
	if err != nil {
		return nil, fmt.Errorf("could not open compressed image %s: %w", path, err)
	}
	return spool(r)
}

// spool copies a sequential stream into an unlinked temp file so the rest of
// the decoder can use positioned reads against it.
func spool(r io.Reader) (File, error) {
	tmp, err := os.CreateTemp("", "ext4extract-*.img")
	if err != nil {
		return nil, err
	}
	// unlink immediately; the handle keeps the data alive
	os.Remove(tmp.Name())

	size, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return nil, fmt.Errorf("could not decompress image: %w", err)
	}
	return &deviceFile{f: tmp, size: size}, nil
}

func deviceSize(f *os.File) (int64, error) {
	st, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if st.Mode().IsRegular() {
		return st.Size(), nil
	}
	// block devices report zero size from Stat; seek to the end instead
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	return size, nil
}

package ext4

// bytesToUUIDBytes rearranges the on-disk UUID byte order into the order
// expected by the uuid library
func bytesToUUIDBytes(b []byte) []byte {
	u := make([]byte, 16)
	copy(u, b[:16])
	return u
}

// cstring converts a fixed-size NUL-padded byte field into a string
func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

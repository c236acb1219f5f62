package ext4

import "errors"

// Error kinds for decode failures. Callers match with errors.Is; every
// wrapped error carries the context of what was being decoded.
var (
	// ErrCorruptSuperblock means the superblock magic or geometry is invalid.
	// Nothing downstream of the superblock is trustworthy, so this is fatal.
	ErrCorruptSuperblock = errors.New("corrupt superblock")
	// ErrUnsupportedFeature means the filesystem or an inode uses a feature
	// this decoder does not implement, such as mapped (indirect-block) files.
	ErrUnsupportedFeature = errors.New("unsupported feature")
	// ErrCorruptMetadata means group descriptors or inode table reads landed
	// outside the device or came back short.
	ErrCorruptMetadata = errors.New("corrupt metadata")
	// ErrInvalidInodeNumber means an inode number outside [1, inodeCount].
	ErrInvalidInodeNumber = errors.New("invalid inode number")
	// ErrCorruptExtentTree means an extent tree node failed validation.
	ErrCorruptExtentTree = errors.New("corrupt extent tree")
	// ErrCorruptDirectory means a directory entry had an impossible record
	// length or crossed a block boundary.
	ErrCorruptDirectory = errors.New("corrupt directory")
)

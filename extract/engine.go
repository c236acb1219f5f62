// Package extract walks a decoded ext4 filesystem and materializes its
// tree on the host: directories, regular files and symlinks, with
// ownership-independent metadata (permissions, timestamps, extended
// attributes) restored where the host allows it.
package extract

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/xattr"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/hexedit/ext4extract/filesystem/ext4"
)

// SymlinkMode selects how symlink inodes are materialized on the host.
type SymlinkMode int

const (
	// SymlinkSave creates real symlinks pointing at the stored target
	SymlinkSave SymlinkMode = iota
	// SymlinkText creates regular files whose content is the target path
	SymlinkText
	// SymlinkEmpty creates empty placeholder files
	SymlinkEmpty
	// SymlinkSkip creates nothing; the link still appears in the tables
	SymlinkSkip
)

func (m SymlinkMode) String() string {
	switch m {
	case SymlinkSave:
		return "save"
	case SymlinkText:
		return "text"
	case SymlinkEmpty:
		return "empty"
	case SymlinkSkip:
		return "skip"
	}
	return "unknown"
}

// Options configures an extraction run.
type Options struct {
	// OutputDir is the host directory the tree is extracted into. It is
	// created if missing.
	OutputDir string
	// SymlinkMode selects how symlinks are materialized
	SymlinkMode SymlinkMode
	// ApplyAttrs re-applies extended attributes to extracted entries using
	// the host's xattr support. Usually needs privileges for anything
	// outside the user namespace.
	ApplyAttrs bool
	// OnEntry, when set, is called once per processed entry. Used to drive
	// progress reporting.
	OnEntry func(imagePath string)
	// Logger receives per-entry warnings. Defaults to the logrus standard
	// logger.
	Logger *logrus.Logger
}

// Summary is the accounting of one extraction run.
type Summary struct {
	Directories int
	Files       int
	Symlinks    int
	Skipped     int
	Warnings    int
}

// Record is the metadata of one extracted entry, kept for the symlink and
// metadata tables. Every visited entry gets one regardless of whether it was
// materialized.
type Record struct {
	Inode  uint32 `yaml:"inode"`
	Type   string `yaml:"type"`
	Size   uint64 `yaml:"size"`
	CTime  int64  `yaml:"ctime"`
	MTime  int64  `yaml:"mtime"`
	UID    uint32 `yaml:"uid"`
	GID    uint32 `yaml:"gid"`
	Mode   uint16 `yaml:"-"`
	Path   string `yaml:"path"`
	Target string `yaml:"target,omitempty"`

	Xattrs map[string]string `yaml:"xattrs,omitempty"`
}

// Engine extracts the content of one filesystem. Not safe for concurrent
// use; run one engine per filesystem.
type Engine struct {
	fs      *ext4.FileSystem
	opts    Options
	log     *logrus.Logger
	records []Record
	summary Summary
}

// New builds an engine over an already opened filesystem.
func New(fs *ext4.FileSystem, opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Engine{fs: fs, opts: opts, log: log}
}

// Records returns the entries visited by the last Run, in traversal order.
func (e *Engine) Records() []Record {
	return e.records
}

// dirTimes remembers a directory whose timestamps must be restored after its
// children have been written into it.
type dirTimes struct {
	path  string
	inode *ext4.Inode
}

// Run extracts the whole tree under the root directory into OutputDir.
//
// Failures decoding or materializing a single entry are warnings: the entry
// is skipped and the walk continues, so one corrupt inode cannot sink the
// rest of the image. Only failures that make the walk itself impossible,
// like an unreadable root inode, are returned as errors.
func (e *Engine) Run() (Summary, error) {
	e.records = nil
	e.summary = Summary{}

	root, err := e.fs.Root()
	if err != nil {
		return e.summary, fmt.Errorf("cannot read root directory: %w", err)
	}
	if err := os.MkdirAll(e.opts.OutputDir, 0o755); err != nil {
		return e.summary, fmt.Errorf("cannot create output directory: %w", err)
	}

	type frame struct {
		inode     *ext4.Inode
		imagePath string
	}
	stack := []frame{{inode: root, imagePath: "/"}}
	var dirs []dirTimes
	// a well-formed tree names every directory inode once; an entry pointing
	// back at a visited directory is a loop and must not be walked again
	visited := map[uint32]bool{root.Number: true}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := e.fs.ReadDirInode(f.inode)
		if err != nil {
			e.warnf("directory %s: %v", f.imagePath, err)
			continue
		}
		for _, entry := range entries {
			if entry.Name == "." || entry.Name == ".." {
				continue
			}
			if strings.ContainsAny(entry.Name, "/\x00") {
				e.warnf("directory %s: entry name %q is not a valid file name", f.imagePath, entry.Name)
				continue
			}
			imagePath := path.Join(f.imagePath, entry.Name)
			hostPath := filepath.Join(e.opts.OutputDir, filepath.FromSlash(imagePath))

			in, err := e.fs.ReadInode(entry.Inode)
			if err != nil {
				e.warnf("%s: %v", imagePath, err)
				continue
			}
			if e.opts.OnEntry != nil {
				e.opts.OnEntry(imagePath)
			}

			switch in.FileType {
			case ext4.FileTypeDirectory:
				if visited[in.Number] {
					e.warnf("%s: directory inode %d creates a loop in the directory tree", imagePath, in.Number)
					continue
				}
				visited[in.Number] = true
				if err := os.MkdirAll(hostPath, 0o755); err != nil {
					e.warnf("%s: %v", imagePath, err)
					continue
				}
				e.record(in, imagePath, "")
				e.applyAttrs(in, hostPath, imagePath, false)
				dirs = append(dirs, dirTimes{path: hostPath, inode: in})
				stack = append(stack, frame{inode: in, imagePath: imagePath})
				e.summary.Directories++

			case ext4.FileTypeRegularFile:
				if err := e.extractFile(in, hostPath); err != nil {
					e.warnf("%s: %v", imagePath, err)
					continue
				}
				e.record(in, imagePath, "")
				e.applyAttrs(in, hostPath, imagePath, false)
				e.summary.Files++

			case ext4.FileTypeSymlink:
				target, err := e.fs.Readlink(in)
				if err != nil {
					e.warnf("%s: %v", imagePath, err)
					continue
				}
				e.record(in, imagePath, target)
				if err := e.extractSymlink(in, hostPath, imagePath, target); err != nil {
					e.warnf("%s: %v", imagePath, err)
					continue
				}
				e.summary.Symlinks++

			default:
				// devices, fifos and sockets cannot be created without
				// privileges; record them and move on
				e.record(in, imagePath, "")
				e.log.Debugf("skipping %s %s", in.FileType, imagePath)
				e.summary.Skipped++
			}
		}
	}

	// directory modes and timestamps are restored deepest-first, after every
	// child write that would have refreshed them and after restrictive modes
	// can no longer get in the way of creating children
	for i := len(dirs) - 1; i >= 0; i-- {
		d := dirs[i]
		if err := os.Chmod(d.path, d.inode.Mode().Perm()); err != nil {
			e.warnf("%s: restoring mode: %v", d.path, err)
		}
		if err := os.Chtimes(d.path, d.inode.AccessTime, d.inode.ModifyTime); err != nil {
			e.warnf("%s: restoring times: %v", d.path, err)
		}
	}
	return e.summary, nil
}

// extractFile streams the content of a regular file inode to the host.
func (e *Engine) extractFile(in *ext4.Inode, hostPath string) error {
	src, err := e.fs.FileReader(in)
	if err != nil {
		return err
	}
	dst, err := os.OpenFile(hostPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(in.Perm&0o777)|0o200)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("copying content: %w", err)
	}
	if err := dst.Close(); err != nil {
		return err
	}
	if err := os.Chmod(hostPath, in.Mode().Perm()); err != nil {
		return err
	}
	return os.Chtimes(hostPath, in.AccessTime, in.ModifyTime)
}

// extractSymlink materializes a symlink inode according to the configured
// mode.
func (e *Engine) extractSymlink(in *ext4.Inode, hostPath, imagePath, target string) error {
	switch e.opts.SymlinkMode {
	case SymlinkSave:
		// symlink to a temporary name first so re-extraction over an
		// existing tree replaces the link atomically
		tmp := hostPath + ".ext4extract-tmp"
		if err := os.Symlink(target, tmp); err != nil {
			return err
		}
		if err := os.Rename(tmp, hostPath); err != nil {
			os.Remove(tmp)
			return err
		}
		e.applyAttrs(in, hostPath, imagePath, true)
		if err := lutimes(hostPath, in.AccessTime, in.ModifyTime); err != nil {
			return fmt.Errorf("restoring times: %w", err)
		}
		return nil

	case SymlinkText:
		if err := os.WriteFile(hostPath, []byte(target), 0o644); err != nil {
			return err
		}
		return os.Chtimes(hostPath, in.AccessTime, in.ModifyTime)

	case SymlinkEmpty:
		if err := os.WriteFile(hostPath, nil, 0o644); err != nil {
			return err
		}
		return os.Chtimes(hostPath, in.AccessTime, in.ModifyTime)

	case SymlinkSkip:
		return nil
	}
	return fmt.Errorf("unknown symlink mode %d", e.opts.SymlinkMode)
}

// applyAttrs re-applies the extended attributes of an inode to the extracted
// entry. Attribute failures never fail an entry, they only warn: the common
// case is running unprivileged, where security.* and trusted.* cannot be set.
func (e *Engine) applyAttrs(in *ext4.Inode, hostPath, imagePath string, symlink bool) {
	if !e.opts.ApplyAttrs {
		return
	}
	attrs, err := e.fs.Xattrs(in)
	if err != nil {
		e.warnf("%s: reading attributes: %v", imagePath, err)
	}
	for name, value := range attrs {
		if symlink {
			err = xattr.LSet(hostPath, name, value)
		} else {
			err = xattr.Set(hostPath, name, value)
		}
		if err != nil {
			e.warnf("%s: setting %s: %v", imagePath, name, err)
		}
	}
}

func (e *Engine) record(in *ext4.Inode, imagePath, target string) {
	// attribute decode failures never fail an entry; the table just goes
	// without them
	attrs, err := e.fs.Xattrs(in)
	if err != nil {
		e.log.Debugf("%s: attributes: %v", imagePath, err)
	}
	var xattrs map[string]string
	if len(attrs) > 0 {
		xattrs = make(map[string]string, len(attrs))
		for name, value := range attrs {
			xattrs[name] = string(value)
		}
	}
	e.records = append(e.records, Record{
		Inode:  in.Number,
		Type:   in.FileType.String(),
		Size:   in.Size,
		CTime:  in.ChangeTime.Unix(),
		MTime:  in.ModifyTime.Unix(),
		UID:    in.UID,
		GID:    in.GID,
		Mode:   in.Perm,
		Path:   imagePath,
		Target: target,
		Xattrs: xattrs,
	})
}

func (e *Engine) warnf(format string, args ...interface{}) {
	e.summary.Warnings++
	e.log.Warnf(format, args...)
}

// lutimes sets the access and modification times of a symlink itself rather
// than its target.
func lutimes(path string, atime, mtime time.Time) error {
	tv := []unix.Timeval{
		unix.NsecToTimeval(atime.UnixNano()),
		unix.NsecToTimeval(mtime.UnixNano()),
	}
	return unix.Lutimes(path, tv)
}

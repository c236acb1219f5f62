package extract

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// WriteSymlinkTable writes one "path -> target" line per symlink visited by
// the last Run, in traversal order.
func (e *Engine) WriteSymlinkTable(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cannot create symlink table: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, r := range e.records {
		if r.Type != "symlink" {
			continue
		}
		fmt.Fprintf(w, "%s -> %s\n", r.Path, r.Target)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteMetadataTable writes one line per visited entry with its inode
// number, type, size, change and modification times, owner, permission bits
// and path. A path ending in .yaml or .yml selects YAML output instead.
func (e *Engine) WriteMetadataTable(path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return e.writeMetadataYAML(path)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cannot create metadata table: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, r := range e.records {
		fmt.Fprintf(w, "%d %s %d %d %d %d %d %04o %s",
			r.Inode, r.Type, r.Size, r.CTime, r.MTime, r.UID, r.GID, r.Mode, r.Path)
		names := make([]string, 0, len(r.Xattrs))
		for name := range r.Xattrs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(w, " %s=%q", name, r.Xattrs[name])
		}
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// yamlRecord shadows Record to give the permission bits an octal string
// rendering in YAML.
type yamlRecord struct {
	Record `yaml:",inline"`
	Mode   string `yaml:"mode"`
}

func (e *Engine) writeMetadataYAML(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cannot create metadata table: %w", err)
	}
	out := make([]yamlRecord, len(e.records))
	for i, r := range e.records {
		out[i] = yamlRecord{Record: r, Mode: fmt.Sprintf("%04o", r.Mode)}
	}
	enc := yaml.NewEncoder(f)
	if err := enc.Encode(out); err != nil {
		f.Close()
		return fmt.Errorf("encoding metadata table: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Command ext4extract extracts the contents of an ext4 image without
// mounting it.
package main

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hexedit/ext4extract/backend"
	"github.com/hexedit/ext4extract/extract"
	"github.com/hexedit/ext4extract/filesystem/ext4"
)

var (
	verbose       bool
	outputDir     string
	symlinkTable  string
	metadataTable string
	applyAttrs    bool

	saveSymlinks  bool
	textSymlinks  bool
	emptySymlinks bool
	skipSymlinks  bool
)

func main() {
	root := &cobra.Command{
		Use:   "ext4extract [flags] IMAGE",
		Short: "extract the contents of an ext4 image without mounting it",
		Long: `ext4extract reads a raw ext4 filesystem image, a block device, or an
xz/lz4/zstd compressed image, and extracts its directories, files and
symlinks into a host directory. Requires no privileges and never mounts
anything.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE:         runExtract,
	}

	flags := root.Flags()
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	flags.StringVarP(&outputDir, "directory", "D", ".", "a directory to extract into")
	flags.StringVarP(&symlinkTable, "dump-symlink-table", "S", "", "write a path -> target table of all symlinks to this file")
	flags.StringVarP(&metadataTable, "dump-metadata", "M", "", "write a metadata table of all entries to this file (.yaml/.yml for YAML)")
	flags.BoolVar(&applyAttrs, "xattrs", false, "re-apply extended attributes to extracted entries")
	flags.BoolVar(&saveSymlinks, "save-symlinks", false, "extract symlinks as symlinks (default)")
	flags.BoolVar(&textSymlinks, "text-symlinks", false, "extract symlinks as text files holding the target path")
	flags.BoolVar(&emptySymlinks, "empty-symlinks", false, "extract symlinks as empty files")
	flags.BoolVar(&skipSymlinks, "skip-symlinks", false, "do not extract symlinks")
	root.MarkFlagsMutuallyExclusive("save-symlinks", "text-symlinks", "empty-symlinks", "skip-symlinks")

	info := &cobra.Command{
		Use:   "info IMAGE",
		Short: "print superblock and allocation information about an image",
		Args:  cobra.ExactArgs(1),
		RunE:  runInfo,
	}
	root.AddCommand(info)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging() *logrus.Logger {
	log := logrus.StandardLogger()
	log.SetOutput(os.Stderr)
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}

func openFilesystem(path string) (backend.File, *ext4.FileSystem, error) {
	file, err := backend.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot open image %s: %w", path, err)
	}
	fs, err := ext4.Read(file, file.Size(), 0)
	if err != nil {
		file.Close()
		return nil, nil, fmt.Errorf("cannot read filesystem in %s: %w", path, err)
	}
	return file, fs, nil
}

func runExtract(cmd *cobra.Command, args []string) error {
	log := setupLogging()

	mode := extract.SymlinkSave
	switch {
	case textSymlinks:
		mode = extract.SymlinkText
	case emptySymlinks:
		mode = extract.SymlinkEmpty
	case skipSymlinks:
		mode = extract.SymlinkSkip
	}

	file, fs, err := openFilesystem(args[0])
	if err != nil {
		return err
	}
	defer file.Close()

	log.Debugf("filesystem: label %q uuid %s block size %d", fs.Label(), fs.UUID(), fs.BlockSize())

	opts := extract.Options{
		OutputDir:   outputDir,
		SymlinkMode: mode,
		ApplyAttrs:  applyAttrs,
		Logger:      log,
	}
	if !verbose {
		bar := progressbar.NewOptions(-1,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("extracting"),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionClearOnFinish(),
		)
		opts.OnEntry = func(string) { _ = bar.Add(1) }
		defer bar.Finish()
	} else {
		opts.OnEntry = func(p string) { log.Debug(p) }
	}

	engine := extract.New(fs, opts)
	summary, err := engine.Run()
	if err != nil {
		return err
	}

	if symlinkTable != "" {
		if err := engine.WriteSymlinkTable(symlinkTable); err != nil {
			return err
		}
	}
	if metadataTable != "" {
		if err := engine.WriteMetadataTable(metadataTable); err != nil {
			return err
		}
	}

	log.Infof("extracted %d directories, %d files, %d symlinks (%d skipped, %d warnings)",
		summary.Directories, summary.Files, summary.Symlinks, summary.Skipped, summary.Warnings)
	return nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	setupLogging()

	file, fs, err := openFilesystem(args[0])
	if err != nil {
		return err
	}
	defer file.Close()

	st, err := fs.Stats()
	if err != nil {
		return err
	}
	fmt.Printf("label:            %s\n", st.VolumeLabel)
	fmt.Printf("uuid:             %s\n", st.UUID)
	fmt.Printf("block size:       %d\n", st.BlockSize)
	fmt.Printf("block groups:     %d\n", st.Groups)
	fmt.Printf("blocks:           %d (%d free, %d allocated per bitmaps)\n", st.BlockCount, st.FreeBlocks, st.AllocatedBlocks)
	fmt.Printf("inodes:           %d (%d free, %d allocated per bitmaps)\n", st.InodeCount, st.FreeInodes, st.AllocatedInodes)
	return nil
}

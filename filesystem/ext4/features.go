package ext4

// featureFlags is a structure holding which flags are set - compatible, incompatible and read-only compatible
type featureFlags struct {
	// compatible features: safe to ignore for reading
	directoryPreAllocate          bool
	imagicInodes                  bool
	hasJournal                    bool
	extendedAttributes            bool
	reservedGDTBlocksForExpansion bool
	directoryIndices              bool
	lazyBlockGroup                bool
	excludeInode                  bool
	excludeBitmap                 bool
	sparseSuperBlockV2            bool
	// incompatible features: a reader that does not understand one of these
	// cannot safely interpret the filesystem
	compression                    bool
	directoryEntriesRecordFileType bool
	recoveryNeeded                 bool
	separateJournalDevice          bool
	metaBlockGroups                bool
	extents                        bool
	fs64Bit                        bool
	multipleMountProtection        bool
	flexBlockGroups                bool
	extendedAttributeInodes        bool
	dataInDirectoryEntries         bool
	checksumSeedInSuperblock       bool
	largeDirectory                 bool
	dataInInode                    bool
	encryptInodes                  bool
	// read-only compatible features: safe to read, unsafe to write
	sparseSuperblock       bool
	largeFile              bool
	btreeDirectory         bool
	hugeFile               bool
	gdtChecksum            bool
	largeSubdirectoryCount bool
	largeInodes            bool
	snapshot               bool
	quota                  bool
	bigalloc               bool
	metadataChecksums      bool
}

func parseFeatureFlags(compatFlags, incompatFlags, roCompatFlags feature) featureFlags {
	f := featureFlags{
		directoryPreAllocate:           compatFlags&compatFeatureDirectoryPreAllocate == compatFeatureDirectoryPreAllocate,
		imagicInodes:                   compatFlags&compatFeatureImagicInodes == compatFeatureImagicInodes,
		hasJournal:                     compatFlags&compatFeatureHasJournal == compatFeatureHasJournal,
		extendedAttributes:             compatFlags&compatFeatureExtendedAttributes == compatFeatureExtendedAttributes,
		reservedGDTBlocksForExpansion:  compatFlags&compatFeatureReservedGDTBlocksForExpansion == compatFeatureReservedGDTBlocksForExpansion,
		directoryIndices:               compatFlags&compatFeatureDirectoryIndices == compatFeatureDirectoryIndices,
		lazyBlockGroup:                 compatFlags&compatFeatureLazyBlockGroup == compatFeatureLazyBlockGroup,
		excludeInode:                   compatFlags&compatFeatureExcludeInode == compatFeatureExcludeInode,
		excludeBitmap:                  compatFlags&compatFeatureExcludeBitmap == compatFeatureExcludeBitmap,
		sparseSuperBlockV2:             compatFlags&compatFeatureSparseSuperBlockV2 == compatFeatureSparseSuperBlockV2,
		compression:                    incompatFlags&incompatFeatureCompression == incompatFeatureCompression,
		directoryEntriesRecordFileType: incompatFlags&incompatFeatureDirectoryEntriesRecordFileType == incompatFeatureDirectoryEntriesRecordFileType,
		recoveryNeeded:                 incompatFlags&incompatFeatureRecoveryNeeded == incompatFeatureRecoveryNeeded,
		separateJournalDevice:          incompatFlags&incompatFeatureSeparateJournalDevice == incompatFeatureSeparateJournalDevice,
		metaBlockGroups:                incompatFlags&incompatFeatureMetaBlockGroups == incompatFeatureMetaBlockGroups,
		extents:                        incompatFlags&incompatFeatureExtents == incompatFeatureExtents,
		fs64Bit:                        incompatFlags&incompatFeature64Bit == incompatFeature64Bit,
		multipleMountProtection:        incompatFlags&incompatFeatureMultipleMountProtection == incompatFeatureMultipleMountProtection,
		flexBlockGroups:                incompatFlags&incompatFeatureFlexBlockGroups == incompatFeatureFlexBlockGroups,
		extendedAttributeInodes:        incompatFlags&incompatFeatureExtendedAttributeInodes == incompatFeatureExtendedAttributeInodes,
		dataInDirectoryEntries:         incompatFlags&incompatFeatureDataInDirectoryEntries == incompatFeatureDataInDirectoryEntries,
		checksumSeedInSuperblock:       incompatFlags&incompatFeatureChecksumSeedInSuperblock == incompatFeatureChecksumSeedInSuperblock,
		largeDirectory:                 incompatFlags&incompatFeatureLargeDirectory == incompatFeatureLargeDirectory,
		dataInInode:                    incompatFlags&incompatFeatureDataInInode == incompatFeatureDataInInode,
		encryptInodes:                  incompatFlags&incompatFeatureEncryptInodes == incompatFeatureEncryptInodes,
		sparseSuperblock:               roCompatFlags&roCompatFeatureSparseSuperblock == roCompatFeatureSparseSuperblock,
		largeFile:                      roCompatFlags&roCompatFeatureLargeFile == roCompatFeatureLargeFile,
		btreeDirectory:                 roCompatFlags&roCompatFeatureBtreeDirectory == roCompatFeatureBtreeDirectory,
		hugeFile:                       roCompatFlags&roCompatFeatureHugeFile == roCompatFeatureHugeFile,
		gdtChecksum:                    roCompatFlags&roCompatFeatureGDTChecksum == roCompatFeatureGDTChecksum,
		largeSubdirectoryCount:         roCompatFlags&roCompatFeatureLargeSubdirectoryCount == roCompatFeatureLargeSubdirectoryCount,
		largeInodes:                    roCompatFlags&roCompatFeatureLargeInodes == roCompatFeatureLargeInodes,
		snapshot:                       roCompatFlags&roCompatFeatureSnapshot == roCompatFeatureSnapshot,
		quota:                          roCompatFlags&roCompatFeatureQuota == roCompatFeatureQuota,
		bigalloc:                       roCompatFlags&roCompatFeatureBigalloc == roCompatFeatureBigalloc,
		metadataChecksums:              roCompatFlags&roCompatFeatureMetadataChecksums == roCompatFeatureMetadataChecksums,
	}

	return f
}

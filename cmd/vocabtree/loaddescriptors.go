package main

import (
	"strings"

	"github.com/arborimage/vocabtree/descriptor"
)

// loadEntryDescriptors reads the descriptors named by one list entry,
// applying minScale feature filtering to text key files. Binary descriptor
// files (identified by a ".bin" suffix, the one extension spec.md's binary
// format doesn't otherwise distinguish from a key file) carry no keypoint
// metadata, so minScale has no effect on them.
func loadEntryDescriptors(entry descriptor.ListEntry, minScale float64) ([]descriptor.Descriptor, error) {
	if strings.HasSuffix(entry.Path, ".bin") {
		return descriptor.ReadBinary(entry.Path, descriptor.Dim)
	}
	kf, err := descriptor.ReadKeyFile(entry.Path)
	if err != nil {
		return nil, err
	}
	return kf.Filtered(minScale), nil
}

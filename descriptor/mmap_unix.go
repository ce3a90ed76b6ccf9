//go:build linux || darwin

package descriptor

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/arborimage/vocabtree/internal/verr"
)

// loadBinary maps a binary descriptor file read-only. Training sets
// regularly exceed available RAM by the time tens of millions of
// descriptors are flattened into one file, so mapping avoids the copy
// io.ReadFull would otherwise require.
func loadBinary(path string) (data []byte, closeFn func(), err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, verr.Wrap(verr.Io, "descriptor.loadBinary", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, nil, verr.Wrap(verr.Io, "descriptor.loadBinary", err)
	}
	if st.Size() == 0 {
		return nil, nil, verr.New(verr.InvalidInput, "descriptor.loadBinary", "empty descriptor file")
	}

	mapped, err := unix.Mmap(int(f.Fd()), 0, int(st.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, verr.Wrap(verr.Io, "descriptor.loadBinary", err)
	}

	return mapped, func() { _ = unix.Munmap(mapped) }, nil
}

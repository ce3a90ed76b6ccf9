//go:build !linux && !darwin

package descriptor

import (
	"io"
	"os"

	"github.com/arborimage/vocabtree/internal/verr"
)

// loadBinary reads a binary descriptor file into memory on platforms
// without the unix mmap syscalls.
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

	buf := make([]byte, st.Size())
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, nil, verr.Wrap(verr.Io, "descriptor.loadBinary", err)
	}
	return buf, func() {}, nil
}

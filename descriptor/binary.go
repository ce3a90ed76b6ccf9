package descriptor

import (
	"encoding/binary"
	"os"

	"github.com/arborimage/vocabtree/internal/verr"
)

// ReadBinary reads a binary descriptor file: a little-endian u32 count
// followed by count*dim bytes. This is the raw format VocabLearn writes
// when it flattens a directory of key files into one training blob.
func ReadBinary(path string, dim int) ([]Descriptor, error) {
	data, closeFn, err := loadBinary(path)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	if len(data) < 4 {
		return nil, verr.New(verr.InvalidInput, "descriptor.ReadBinary", "file too short for count header")
	}
	count := int(binary.LittleEndian.Uint32(data[:4]))
	want := 4 + count*dim
	if len(data) < want {
		return nil, verr.Newf(verr.InvalidInput, "descriptor.ReadBinary",
			"file truncated: header declares %d descriptors (%d bytes) but file has %d bytes", count, want, len(data))
	}

	out := make([]Descriptor, count)
	body := data[4:want]
	for i := 0; i < count; i++ {
		d := make(Descriptor, dim)
		copy(d, body[i*dim:(i+1)*dim])
		out[i] = d
	}
	return out, nil
}

// WriteBinary writes descs to path in the format ReadBinary understands.
func WriteBinary(path string, dim int, descs []Descriptor) error {
	f, err := os.Create(path)
	if err != nil {
		return verr.Wrap(verr.Io, "descriptor.WriteBinary", err)
	}
	defer f.Close()

	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(descs)))
	if _, err := f.Write(hdr[:]); err != nil {
		return verr.Wrap(verr.Io, "descriptor.WriteBinary", err)
	}
	for _, d := range descs {
		if len(d) != dim {
			return verr.Newf(verr.InvalidInput, "descriptor.WriteBinary", "descriptor length %d does not match dim %d", len(d), dim)
		}
		if _, err := f.Write(d); err != nil {
			return verr.Wrap(verr.Io, "descriptor.WriteBinary", err)
		}
	}
	return nil
}

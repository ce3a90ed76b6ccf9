// Package codec implements the little-endian building blocks of a
// vocabulary tree file: the fixed header, fixed-width primitive helpers,
// the node tag values, and the KT128-based checksum and
// topology-fingerprint helpers used to detect corruption and to verify
// that two trees share compatible structure before a Combine. The DFS
// pre-order node records themselves are encoded by the vocabtree package.
package codec

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/codahale/thyrse/hazmat/kt128"

	"github.com/arborimage/vocabtree/internal/verr"
)

// Tag identifies which variant a node record holds.
type Tag byte

const (
	TagInterior Tag = 0
	TagLeaf     Tag = 1
)

// Header is the fixed-size preamble written before the node arena.
type Header struct {
	BranchFactor int32
	Depth        int32
	Dim          int32
	DistanceType int32
	// State persists the tree's population lifecycle (Pending/Weighted/
	// Normalized) across a save/load boundary. The source format has no
	// equivalent field — it always re-derives nothing, since the C++ tool
	// chain combines, weights, and normalizes in one process lifetime. A
	// format that splits those steps across separate invocations (the
	// `combine` subcommand loads trees built by an earlier `build-db` run)
	// needs to know which step a loaded tree already completed, so State
	// is persisted explicitly here.
	State     byte
	NumImages uint32
	NodeCount uint64
}

const headerSize = 4 + 4 + 4 + 4 + 1 + 4 + 8

// WriteHeader writes h in the fixed little-endian layout.
func WriteHeader(w io.Writer, h Header) error {
	var buf [headerSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.BranchFactor))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.Depth))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.Dim))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(h.DistanceType))
	buf[16] = h.State
	binary.LittleEndian.PutUint32(buf[17:21], h.NumImages)
	binary.LittleEndian.PutUint64(buf[21:29], h.NodeCount)
	if _, err := w.Write(buf[:]); err != nil {
		return verr.Wrap(verr.Io, "codec.WriteHeader", err)
	}
	return nil
}

// ReadHeader reads a Header in the layout WriteHeader produces.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [headerSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, verr.Wrap(verr.Io, "codec.ReadHeader", err)
	}
	return Header{
		BranchFactor: int32(binary.LittleEndian.Uint32(buf[0:4])),
		Depth:        int32(binary.LittleEndian.Uint32(buf[4:8])),
		Dim:          int32(binary.LittleEndian.Uint32(buf[8:12])),
		DistanceType: int32(binary.LittleEndian.Uint32(buf[12:16])),
		State:        buf[16],
		NumImages:    binary.LittleEndian.Uint32(buf[17:21]),
		NodeCount:    binary.LittleEndian.Uint64(buf[21:29]),
	}, nil
}

func WriteU32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return verr.Wrap(verr.Io, "codec.WriteU32", err)
}

func ReadU32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, verr.Wrap(verr.Io, "codec.ReadU32", err)
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func WriteU64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return verr.Wrap(verr.Io, "codec.WriteU64", err)
}

func ReadU64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, verr.Wrap(verr.Io, "codec.ReadU64", err)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func WriteF32(w io.Writer, v float32) error {
	return WriteU32(w, math.Float32bits(v))
}

func ReadF32(r io.Reader) (float32, error) {
	bits, err := ReadU32(r)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(bits), nil
}

// checksumSize is the trailing KT128 digest length written after the node
// arena to detect truncation or bit-level corruption before any byte is
// trusted as a routing decision.
const checksumSize = 32

// Checksum returns the KT128 digest of data.
func Checksum(data []byte) [checksumSize]byte {
	h := kt128.New()
	_, _ = h.Write(data)
	var out [checksumSize]byte
	copy(out[:], h.Sum(nil))
	return out
}

// WriteChecksum appends data's KT128 digest to w.
func WriteChecksum(w io.Writer, data []byte) error {
	sum := Checksum(data)
	_, err := w.Write(sum[:])
	return verr.Wrap(verr.Io, "codec.WriteChecksum", err)
}

// ReadAndVerifyChecksum reads a trailing digest from r and compares it
// against the digest of data, returning an Io-kind error on any mismatch
// (truncation or corruption both surface here).
func ReadAndVerifyChecksum(r io.Reader, data []byte) error {
	var got [checksumSize]byte
	if _, err := io.ReadFull(r, got[:]); err != nil {
		return verr.Wrap(verr.Io, "codec.ReadAndVerifyChecksum", err)
	}
	want := Checksum(data)
	if got != want {
		return verr.New(verr.Io, "codec.ReadAndVerifyChecksum", "tree file checksum mismatch (truncated or corrupt)")
	}
	return nil
}

// TopologyFingerprint hashes the structural parameters and concatenated
// centroid bytes of a tree (in DFS pre-order) into a single digest used to
// verify that two trees were built from a shared topology before Combine
// concatenates their posting lists.
func TopologyFingerprint(bf, depth, dim, distanceType int32, centroidsInOrder [][]byte) [checksumSize]byte {
	h := kt128.New()
	var hdr [16]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(bf))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(depth))
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(dim))
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(distanceType))
	_, _ = h.Write(hdr[:])
	for _, c := range centroidsInOrder {
		_, _ = h.Write(c)
	}
	var out [checksumSize]byte
	copy(out[:], h.Sum(nil))
	return out
}

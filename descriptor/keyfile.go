package descriptor

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/arborimage/vocabtree/internal/verr"
)

// Keypoint carries the spatial metadata that accompanies a descriptor in a
// key file: subpixel row/column location, scale, and orientation.
type Keypoint struct {
	X, Y   float64
	Scale  float64
	Orient float64
}

// tokenScanner tokenizes a key file the way C's fscanf does: on runs of
// whitespace, ignoring line boundaries. The original format happens to put
// one logical record per line, but nothing in the reader actually requires
// that, so a pure whitespace scanner is both correct and simpler than a
// line-oriented parser.
type tokenScanner struct {
	sc *bufio.Scanner
}

func newTokenScanner(r io.Reader) *tokenScanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	sc.Split(bufio.ScanWords)
	return &tokenScanner{sc: sc}
}

func (t *tokenScanner) next() (string, bool) {
	if !t.sc.Scan() {
		return "", false
	}
	return t.sc.Text(), true
}

func (t *tokenScanner) int() (int, error) {
	tok, ok := t.next()
	if !ok {
		return 0, io.ErrUnexpectedEOF
	}
	return strconv.Atoi(tok)
}

func (t *tokenScanner) float() (float64, error) {
	tok, ok := t.next()
	if !ok {
		return 0, io.ErrUnexpectedEOF
	}
	return strconv.ParseFloat(tok, 64)
}

// KeyFile is the parsed contents of one key file: aligned slices of
// keypoints and their descriptors.
type KeyFile struct {
	Dim         int
	Keypoints   []Keypoint
	Descriptors []Descriptor
}

// ReadKeyFile reads a plain-text key file. If path does not exist, it tries
// path+".gz" as a gzip-compressed fallback, matching the original tool's
// open-then-fallback behavior.
func ReadKeyFile(path string) (*KeyFile, error) {
	f, err := os.Open(path)
	if err != nil {
		gz, gzErr := os.Open(path + ".gz")
		if gzErr != nil {
			return nil, verr.Wrap(verr.Io, "descriptor.ReadKeyFile", err)
		}
		defer gz.Close()
		zr, err := gzip.NewReader(gz)
		if err != nil {
			return nil, verr.Wrap(verr.InvalidInput, "descriptor.ReadKeyFile", err)
		}
		defer zr.Close()
		return parseKeyFile(zr)
	}
	defer f.Close()
	return parseKeyFile(f)
}

func parseKeyFile(r io.Reader) (*KeyFile, error) {
	ts := newTokenScanner(r)

	num, err := ts.int()
	if err != nil {
		return nil, verr.Wrap(verr.InvalidInput, "descriptor.parseKeyFile", fmt.Errorf("invalid keypoint file header: %w", err))
	}
	dim, err := ts.int()
	if err != nil {
		return nil, verr.Wrap(verr.InvalidInput, "descriptor.parseKeyFile", fmt.Errorf("invalid keypoint file header: %w", err))
	}
	if dim != Dim {
		return nil, verr.Newf(verr.InvalidInput, "descriptor.parseKeyFile",
			"keypoint descriptor length %d invalid, expected %d", dim, Dim)
	}

	kf := &KeyFile{Dim: dim, Keypoints: make([]Keypoint, 0, num), Descriptors: make([]Descriptor, 0, num)}

	for i := 0; i < num; i++ {
		y, err := ts.float()
		if err != nil {
			return nil, verr.Wrap(verr.InvalidInput, "descriptor.parseKeyFile", err)
		}
		x, err := ts.float()
		if err != nil {
			return nil, verr.Wrap(verr.InvalidInput, "descriptor.parseKeyFile", err)
		}
		scale, err := ts.float()
		if err != nil {
			return nil, verr.Wrap(verr.InvalidInput, "descriptor.parseKeyFile", err)
		}
		orient, err := ts.float()
		if err != nil {
			return nil, verr.Wrap(verr.InvalidInput, "descriptor.parseKeyFile", err)
		}

		d := make(Descriptor, dim)
		for j := 0; j < dim; j++ {
			v, err := ts.int()
			if err != nil {
				return nil, verr.Wrap(verr.InvalidInput, "descriptor.parseKeyFile", err)
			}
			if v < 0 || v > 255 {
				return nil, verr.Newf(verr.InvalidInput, "descriptor.parseKeyFile", "descriptor value %d out of byte range", v)
			}
			d[j] = byte(v)
		}

		kf.Keypoints = append(kf.Keypoints, Keypoint{X: x, Y: y, Scale: scale, Orient: orient})
		kf.Descriptors = append(kf.Descriptors, d)
	}

	return kf, nil
}

// Filtered returns the descriptors whose keypoint scale is at least
// minScale. minScale == 0 is treated as "no filtering" and returns every
// descriptor without allocating a new backing slice per element.
func (kf *KeyFile) Filtered(minScale float64) []Descriptor {
	if minScale <= 0 {
		return kf.Descriptors
	}
	out := make([]Descriptor, 0, len(kf.Descriptors))
	for i, kp := range kf.Keypoints {
		if kp.Scale < minScale {
			continue
		}
		out = append(out, kf.Descriptors[i])
	}
	return out
}

// ListEntry is one line of a list file: a descriptor file path and, when
// HasID is set, the integer id that preceded it.
type ListEntry struct {
	Path string
	ID   int
	HasID bool
}

// ReadList reads a newline-delimited list file. Blank lines and lines
// starting with '#' are skipped. Each remaining line is a path to a key
// file or binary descriptor file, optionally prefixed by an integer
// landmark/image id and whitespace (as VocabLearn's list files allow).
func ReadList(path string) ([]ListEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, verr.Wrap(verr.Io, "descriptor.ReadList", err)
	}
	defer f.Close()

	var entries []ListEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		entry := ListEntry{Path: fields[0]}
		if len(fields) > 1 {
			if id, err := strconv.Atoi(fields[0]); err == nil {
				entry.ID = id
				entry.HasID = true
				entry.Path = fields[1]
			}
		}
		entries = append(entries, entry)
	}
	if err := sc.Err(); err != nil {
		return nil, verr.Wrap(verr.Io, "descriptor.ReadList", err)
	}
	return entries, nil
}

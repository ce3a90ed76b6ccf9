package vocabtree

import (
	"bytes"
	"io"
	"os"

	"github.com/arborimage/vocabtree/codec"
	"github.com/arborimage/vocabtree/internal/verr"
)

// Write serializes the tree to path in the binary format described by the
// codec package: a fixed header, the node arena in DFS pre-order, and a
// trailing KT128 checksum of everything written before it.
func (t *Tree) Write(path string) error {
	var body bytes.Buffer
	if err := codec.WriteHeader(&body, codec.Header{
		BranchFactor: int32(t.BranchFactor),
		Depth:        int32(t.Depth),
		Dim:          int32(t.Dim),
		DistanceType: int32(t.DistanceType),
		State:        byte(t.State),
		NumImages:    uint32(t.NumImages),
		NodeCount:    uint64(len(t.Nodes)),
	}); err != nil {
		return err
	}
	for _, n := range t.Nodes {
		if err := writeNode(&body, n, t.BranchFactor); err != nil {
			return err
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return verr.Wrap(verr.Io, "vocabtree.Tree.Write", err)
	}
	defer f.Close()

	if _, err := f.Write(body.Bytes()); err != nil {
		return verr.Wrap(verr.Io, "vocabtree.Tree.Write", err)
	}
	return codec.WriteChecksum(f, body.Bytes())
}

func writeNode(w io.Writer, n Node, bf int) error {
	tag := byte(n.Tag)
	if _, err := w.Write([]byte{tag}); err != nil {
		return verr.Wrap(verr.Io, "vocabtree.writeNode", err)
	}
	if _, err := w.Write(n.Centroid); err != nil {
		return verr.Wrap(verr.Io, "vocabtree.writeNode", err)
	}
	if err := codec.WriteU64(w, n.ID); err != nil {
		return err
	}

	switch n.Tag {
	case TagInterior:
		return writeChildBitmap(w, n.Children, bf)
	case TagLeaf:
		if err := codec.WriteF32(w, n.Weight); err != nil {
			return err
		}
		if err := codec.WriteU32(w, uint32(len(n.Postings))); err != nil {
			return err
		}
		for _, e := range n.Postings {
			if err := codec.WriteU32(w, e.ImageID); err != nil {
				return err
			}
			if err := codec.WriteF32(w, e.Count); err != nil {
				return err
			}
		}
		return nil
	default:
		return verr.Newf(verr.InvalidInput, "vocabtree.writeNode", "unknown node tag %d", n.Tag)
	}
}

func writeChildBitmap(w io.Writer, children []int32, bf int) error {
	bitmap := make([]byte, (bf+7)/8)
	for i, c := range children {
		if c >= 0 {
			bitmap[i/8] |= 1 << uint(i%8)
		}
	}
	if _, err := w.Write(bitmap); err != nil {
		return verr.Wrap(verr.Io, "vocabtree.writeChildBitmap", err)
	}
	return nil
}

// Read deserializes a tree previously written by Write, verifying the
// trailing checksum before trusting any byte as a routing decision.
func Read(path string) (*Tree, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, verr.Wrap(verr.Io, "vocabtree.Read", err)
	}
	if len(raw) < 32 {
		return nil, verr.New(verr.InvalidInput, "vocabtree.Read", "tree file too short")
	}
	body := raw[:len(raw)-32]
	trailer := raw[len(raw)-32:]

	if err := codec.ReadAndVerifyChecksum(bytes.NewReader(trailer), body); err != nil {
		return nil, err
	}

	r := bytes.NewReader(body)
	hdr, err := codec.ReadHeader(r)
	if err != nil {
		return nil, err
	}

	t := newTree(int(hdr.Dim), int(hdr.Depth), int(hdr.BranchFactor), DistanceType(hdr.DistanceType))
	t.State = State(hdr.State)
	t.NumImages = int(hdr.NumImages)
	if t.NumImages > 0 {
		t.hasAddedImage = true
	}
	rd := &reader{r: r, bf: t.BranchFactor, dim: t.Dim, tree: t}
	rootIdx, err := rd.readNode()
	if err != nil {
		return nil, err
	}
	if rootIdx != 0 {
		return nil, verr.New(verr.InvalidInput, "vocabtree.Read", "root node did not land at arena index 0")
	}
	if uint64(len(t.Nodes)) != hdr.NodeCount {
		return nil, verr.Newf(verr.InvalidInput, "vocabtree.Read", "header declares %d nodes, read %d", hdr.NodeCount, len(t.Nodes))
	}
	return t, nil
}

type reader struct {
	r    io.Reader
	bf   int
	dim  int
	tree *Tree
}

func (rd *reader) readNode() (int, error) {
	var tagByte [1]byte
	if _, err := io.ReadFull(rd.r, tagByte[:]); err != nil {
		return 0, verr.Wrap(verr.Io, "vocabtree.reader.readNode", err)
	}
	tag := Tag(tagByte[0])

	centroid := make([]byte, rd.dim)
	if _, err := io.ReadFull(rd.r, centroid); err != nil {
		return 0, verr.Wrap(verr.Io, "vocabtree.reader.readNode", err)
	}
	id, err := codec.ReadU64(rd.r)
	if err != nil {
		return 0, err
	}

	idx := len(rd.tree.Nodes)
	if uint64(idx) != id {
		return 0, verr.Newf(verr.InvalidInput, "vocabtree.reader.readNode", "node id %d does not match arena position %d", id, idx)
	}
	rd.tree.Nodes = append(rd.tree.Nodes, Node{}) // placeholder reserved at idx

	switch tag {
	case TagInterior:
		children, err := rd.readChildren()
		if err != nil {
			return 0, err
		}
		rd.tree.Nodes[idx] = Node{Tag: TagInterior, Centroid: centroid, ID: id, Children: children}
		return idx, nil
	case TagLeaf:
		weight, err := codec.ReadF32(rd.r)
		if err != nil {
			return 0, err
		}
		count, err := codec.ReadU32(rd.r)
		if err != nil {
			return 0, err
		}
		postings := make([]PostingEntry, count)
		for i := range postings {
			imgID, err := codec.ReadU32(rd.r)
			if err != nil {
				return 0, err
			}
			c, err := codec.ReadF32(rd.r)
			if err != nil {
				return 0, err
			}
			postings[i] = PostingEntry{ImageID: imgID, Count: c}
		}
		rd.tree.Nodes[idx] = Node{Tag: TagLeaf, Centroid: centroid, ID: id, Weight: weight, Postings: postings}
		return idx, nil
	default:
		return 0, verr.Newf(verr.InvalidInput, "vocabtree.reader.readNode", "unknown node tag %d", tag)
	}
}

func (rd *reader) readChildren() ([]int32, error) {
	bitmapLen := (rd.bf + 7) / 8
	bitmap := make([]byte, bitmapLen)
	if _, err := io.ReadFull(rd.r, bitmap); err != nil {
		return nil, verr.Wrap(verr.Io, "vocabtree.reader.readChildren", err)
	}

	children := make([]int32, rd.bf)
	for i := 0; i < rd.bf; i++ {
		present := bitmap[i/8]&(1<<uint(i%8)) != 0
		if !present {
			children[i] = -1
			continue
		}
		childIdx, err := rd.readNode()
		if err != nil {
			return nil, err
		}
		children[i] = int32(childIdx)
	}
	return children, nil
}

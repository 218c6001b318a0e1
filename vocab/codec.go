package vocab

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/c360studio/semvocab/vocabulary"
	"github.com/klauspost/compress/gzip"
)

// dumpVersion is the current snapshot file format version.
const dumpVersion = 1

// LoadError lists every problem found in a vocabulary dump. Decoding does
// not stop at the first problem so an operator sees the whole picture.
type LoadError struct {
	Path     string
	Problems []string
}

func (e *LoadError) Error() string {
	where := e.Path
	if where == "" {
		where = "vocabulary dump"
	}
	return fmt.Sprintf("%s: %d problem(s): %s", where, len(e.Problems), strings.Join(e.Problems, "; "))
}

type dumpFile struct {
	Version int          `json:"version"`
	Trees   []dumpTree   `json:"trees"`
	Terms   []StoredTerm `json:"terms,omitempty"`
	Remaps  []RemapEdge  `json:"remaps,omitempty"`
}

type dumpTree struct {
	SchemaPrefix string     `json:"schemaPrefix"`
	PropURI      string     `json:"propURI"`
	GroupNest    []string   `json:"groupNest,omitempty"`
	Nodes        []dumpNode `json:"nodes"`
}

type dumpNode struct {
	Node
	ParentURI string `json:"parentURI,omitempty"`
}

// LoadFile reads a snapshot dump, gzip-compressed or plain JSON.
func LoadFile(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vocabulary dump: %w", err)
	}
	defer f.Close()

	snap, err := Decode(f)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.Path = path
		}
		return nil, err
	}
	return snap, nil
}

// Decode reads a dump from r. Input starting with the gzip magic number is
// decompressed first.
func Decode(r io.Reader) (*Snapshot, error) {
	br := bufio.NewReader(r)
	magic, _ := br.Peek(2)

	var src io.Reader = br
	if bytes.Equal(magic, []byte{0x1f, 0x8b}) {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("open gzip stream: %w", err)
		}
		defer zr.Close()
		src = zr
	}

	var dump dumpFile
	if err := json.NewDecoder(src).Decode(&dump); err != nil {
		return nil, fmt.Errorf("decode vocabulary dump: %w", err)
	}
	return fromDump(&dump)
}

func fromDump(dump *dumpFile) (*Snapshot, error) {
	var problems []string
	if dump.Version > dumpVersion {
		problems = append(problems, fmt.Sprintf("unsupported version %d", dump.Version))
	}

	b := NewBuilder()
	for i, dt := range dump.Trees {
		key := NewTreeKey(dt.SchemaPrefix, dt.PropURI, dt.GroupNest)
		if key.SchemaPrefix == "" || key.PropURI == "" {
			problems = append(problems, fmt.Sprintf("tree %d: schemaPrefix and propURI are required", i))
			continue
		}
		if b.View(key) != nil {
			problems = append(problems, fmt.Sprintf("tree %s: duplicate key", key))
			continue
		}
		tree := NewTree()
		for _, dn := range dt.Nodes {
			n := dn.Node
			n.URI = vocabulary.Expand(n.URI)
			parent := vocabulary.Expand(dn.ParentURI)
			switch {
			case n.URI == "":
				problems = append(problems, fmt.Sprintf("tree %s: node without uri", key))
			case tree.Contains(n.URI):
				problems = append(problems, fmt.Sprintf("tree %s: duplicate node %s", key, n.URI))
			case parent == "":
				tree.AddRoots(n)
			case !tree.Contains(parent):
				problems = append(problems, fmt.Sprintf("tree %s: node %s references unknown parent %s", key, n.URI, parent))
			default:
				tree.AddNodes(parent, []Node{n})
			}
		}
		b.SetTree(key, tree)
	}

	for _, t := range dump.Terms {
		t.URI = vocabulary.Expand(t.URI)
		if t.URI == "" {
			problems = append(problems, "term without uri")
			continue
		}
		b.Terms().Put(t)
	}
	b.IndexTreeTerms()

	for _, e := range dump.Remaps {
		if err := b.Remaps().DefineRemapping(vocabulary.Expand(e.From), vocabulary.Expand(e.To)); err != nil {
			problems = append(problems, err.Error())
		}
	}

	if len(problems) > 0 {
		return nil, &LoadError{Problems: problems}
	}
	return b.Build()
}

// Encode writes snap to w as gzip-compressed JSON.
func Encode(w io.Writer, snap *Snapshot) error {
	dump := dumpFile{
		Version: dumpVersion,
		Terms:   snap.Terms(),
		Remaps:  snap.Remaps(),
	}
	for _, key := range snap.Keys() {
		dt := dumpTree{
			SchemaPrefix: key.SchemaPrefix,
			PropURI:      key.PropURI,
			GroupNest:    key.GroupNestURIs(),
		}
		flat := snap.TreeByKey(key).Flat()
		for _, fn := range flat {
			dn := dumpNode{Node: fn.Node}
			if fn.Parent >= 0 {
				dn.ParentURI = flat[fn.Parent].URI
			}
			dt.Nodes = append(dt.Nodes, dn)
		}
		dump.Trees = append(dump.Trees, dt)
	}

	zw := gzip.NewWriter(w)
	if err := json.NewEncoder(zw).Encode(&dump); err != nil {
		_ = zw.Close()
		return fmt.Errorf("encode vocabulary dump: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("flush gzip stream: %w", err)
	}
	return nil
}

// SaveFile writes snap to path, replacing the file atomically.
func SaveFile(path string, snap *Snapshot) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create dump directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".vocab-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp dump: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Encode(tmp, snap); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp dump: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace vocabulary dump: %w", err)
	}
	return nil
}

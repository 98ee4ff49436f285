package flat

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/poiesic/tabvec/vectorstore"
)

var indexMagic = [4]byte{'T', 'V', 'F', 'I'}

const indexVersion = 1

// ErrCorruptIndex is returned when index.bin and metadata.json disagree.
var ErrCorruptIndex = errors.New("corrupt flat index")

// entryMeta is an entry without its vector.
type entryMeta struct {
	ChunkID     string            `json:"chunk_id"`
	Seq         uint64            `json:"seq"`
	Document    string            `json:"document"`
	ChunkMethod string            `json:"chunk_method"`
	SourceFile  string            `json:"source_file"`
	SourceRows  []int             `json:"source_rows"`
	Metadata    map[string]string `json:"metadata"`
}

type metadataDoc struct {
	Collection string      `json:"collection"`
	Dimension  int         `json:"dimension"`
	NextSeq    uint64      `json:"next_seq"`
	Entries    []entryMeta `json:"entries"`
}

// save writes both files through temporary names and renames them into place.
func save(dir string, c *collection) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	doc := metadataDoc{Collection: c.name, Dimension: c.dim, NextSeq: c.nextSeq, Entries: make([]entryMeta, len(c.entries))}
	for i, e := range c.entries {
		doc.Entries[i] = entryMeta{
			ChunkID:     e.ChunkID,
			Seq:         e.Seq,
			Document:    e.Document,
			ChunkMethod: e.ChunkMethod,
			SourceFile:  e.SourceFile,
			SourceRows:  e.SourceRows,
			Metadata:    e.Metadata,
		}
	}

	if err := writeFile(filepath.Join(dir, indexFile), func(w io.Writer) error {
		return writeIndex(w, c.dim, c.entries)
	}); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	if err := writeFile(filepath.Join(dir, metadataFile), func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	}); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

func writeFile(path string, write func(io.Writer) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := write(bw); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// writeIndex writes magic, version, dimension and count, then the vectors.
func writeIndex(w io.Writer, dim int, entries []vectorstore.Entry) error {
	header := []any{indexMagic, uint32(indexVersion), uint32(dim), uint32(len(entries))}
	for _, h := range header {
		if err := binary.Write(w, binary.LittleEndian, h); err != nil {
			return err
		}
	}
	buf := make([]byte, 4*dim)
	for _, e := range entries {
		for i, v := range e.Vector {
			binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
		}
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

func readIndex(r io.Reader) (dim int, vectors [][]float32, err error) {
	var magic [4]byte
	var version, d, count uint32
	for _, h := range []any{&magic, &version, &d, &count} {
		if err := binary.Read(r, binary.LittleEndian, h); err != nil {
			return 0, nil, fmt.Errorf("%w: header: %v", ErrCorruptIndex, err)
		}
	}
	if magic != indexMagic || version != indexVersion {
		return 0, nil, fmt.Errorf("%w: bad header", ErrCorruptIndex)
	}
	vectors = make([][]float32, count)
	buf := make([]byte, 4*d)
	for i := range vectors {
		if _, err := io.ReadFull(r, buf); err != nil {
			return 0, nil, fmt.Errorf("%w: vector %d: %v", ErrCorruptIndex, i, err)
		}
		v := make([]float32, d)
		for j := range v {
			v[j] = math.Float32frombits(binary.LittleEndian.Uint32(buf[j*4:]))
		}
		vectors[i] = v
	}
	return int(d), vectors, nil
}

// load reads a persisted collection. A missing index returns os.ErrNotExist.
func load(dir, name string) (*collection, error) {
	f, err := os.Open(filepath.Join(dir, indexFile))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dim, vectors, err := readIndex(bufio.NewReader(f))
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
	}
	var doc metadataDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrCorruptIndex, err)
	}
	if len(doc.Entries) != len(vectors) || doc.Dimension != dim {
		return nil, fmt.Errorf("%w: %d entries for %d vectors", ErrCorruptIndex, len(doc.Entries), len(vectors))
	}

	c := &collection{name: name, dim: dim, nextSeq: doc.NextSeq, byID: make(map[string]int, len(vectors))}
	c.entries = make([]vectorstore.Entry, len(vectors))
	for i, m := range doc.Entries {
		c.entries[i] = vectorstore.Entry{
			ChunkID:     m.ChunkID,
			Seq:         m.Seq,
			Document:    m.Document,
			ChunkMethod: m.ChunkMethod,
			SourceFile:  m.SourceFile,
			SourceRows:  m.SourceRows,
			Metadata:    m.Metadata,
			Vector:      vectors[i],
		}
		c.byID[m.ChunkID] = i
	}
	return c, nil
}

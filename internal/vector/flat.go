package vector

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
)

const BackendFlat = "file"

var flatMagic = [4]byte{'P', 'M', 'V', 'X'}

const flatVersion uint16 = 1

// FlatBackend stores each generation as a single little-endian float32 file
// and answers queries by exhaustive squared-L2 scan.
//
// File layout: magic[4] version:u16 dim:u32 count:u32 idLen:u16 buildID
// followed by count*dim float32 values.
type FlatBackend struct{}

func NewFlatBackend() *FlatBackend { return &FlatBackend{} }

func (b *FlatBackend) Name() string { return BackendFlat }

func (b *FlatBackend) Write(_ context.Context, genDir, buildID string, vectors [][]float32) error {
	if len(vectors) == 0 {
		return ErrNoInput
	}
	dim := len(vectors[0])

	var buf bytes.Buffer
	buf.Grow(flatHeaderLen + len(buildID) + len(vectors)*dim*4)
	buf.Write(flatMagic[:])
	_ = binary.Write(&buf, binary.LittleEndian, flatVersion)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(dim))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(vectors)))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(len(buildID)))
	buf.WriteString(buildID)

	word := make([]byte, 4)
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("%w: vector %d", ErrDimensionMismatch, i)
		}
		for _, f := range v {
			binary.LittleEndian.PutUint32(word, math.Float32bits(f))
			buf.Write(word)
		}
	}

	return writeFileAtomic(filepath.Join(genDir, vectorsFile), buf.Bytes())
}

func (b *FlatBackend) Open(_ context.Context, genDir string, m Manifest) (Searcher, error) {
	f, err := os.Open(filepath.Join(genDir, vectorsFile)) // #nosec G304 -- path is built from the configured index dir
	if err != nil {
		return nil, fmt.Errorf("%w: open vectors: %v", ErrCorruptIndex, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat vectors: %v", ErrCorruptIndex, err)
	}
	s, err := readFlat(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
	}
	if s.buildID != m.BuildID {
		return nil, fmt.Errorf("%w: vectors belong to build %s, manifest to %s", ErrCorruptIndex, s.buildID, m.BuildID)
	}
	if s.dim != m.Dimension {
		return nil, fmt.Errorf("%w: vectors have %d dimensions, manifest says %d", ErrCorruptIndex, s.dim, m.Dimension)
	}
	return s, nil
}

func (b *FlatBackend) Drop(context.Context, string, string) error { return nil }

type flatSearcher struct {
	buildID string
	dim     int
	count   int
	data    []float32
}

// flatHeaderLen is the fixed header size before the build id.
const flatHeaderLen = 16

// readFlat decodes a vector file of the given size. The header is checked
// against size before anything is allocated.
func readFlat(r io.Reader, size int64) (*flatSearcher, error) {
	var hdr struct {
		Magic   [4]byte
		Version uint16
		Dim     uint32
		Count   uint32
		IDLen   uint16
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if hdr.Magic != flatMagic {
		return nil, errors.New("not a vector file")
	}
	if hdr.Version != flatVersion {
		return nil, fmt.Errorf("unsupported vector file version %d", hdr.Version)
	}
	if hdr.Dim == 0 {
		return nil, errors.New("vector file has zero dimensions")
	}
	body := size - flatHeaderLen - int64(hdr.IDLen)
	row := int64(hdr.Dim) * 4
	if body < 0 || body%row != 0 || body/row != int64(hdr.Count) {
		return nil, fmt.Errorf("header describes %d vectors of %d dimensions, file has %d bytes", hdr.Count, hdr.Dim, size)
	}

	id := make([]byte, hdr.IDLen)
	if _, err := io.ReadFull(r, id); err != nil {
		return nil, fmt.Errorf("read build id: %w", err)
	}

	n := int(hdr.Dim) * int(hdr.Count)
	raw := make([]byte, n*4)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("read vectors: %w", err)
	}
	if extra, _ := io.Copy(io.Discard, r); extra != 0 {
		return nil, fmt.Errorf("%d trailing bytes after vectors", extra)
	}

	data := make([]float32, n)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return &flatSearcher{buildID: string(id), dim: int(hdr.Dim), count: int(hdr.Count), data: data}, nil
}

func (s *flatSearcher) Count(context.Context) (int, error) { return s.count, nil }

func (s *flatSearcher) Search(_ context.Context, q []float32, k int) ([]Hit, error) {
	if len(q) != s.dim {
		return nil, ErrDimensionMismatch
	}
	hits := make([]Hit, s.count)
	for i := 0; i < s.count; i++ {
		hits[i] = Hit{Index: i, Distance: l2Squared(s.data[i*s.dim:(i+1)*s.dim], q)}
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].Distance < hits[b].Distance })
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

func l2Squared(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

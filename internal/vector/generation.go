package vector

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	currentFile  = "CURRENT"
	manifestFile = "manifest.json"
	recordsFile  = "chunks_map.json"
	vectorsFile  = "vectors.idx"
)

type Manifest struct {
	BuildID   string    `json:"build_id"`
	Model     string    `json:"model"`
	Dimension int       `json:"dimension"`
	Count     int       `json:"count"`
	Metric    string    `json:"metric"`
	Backend   string    `json:"backend"`
	CreatedAt time.Time `json:"created_at"`
}

// writeFileAtomic writes to a temp file in the same directory and renames
// it over path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func writeManifest(genDir string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode manifest: %v", ErrPersistence, err)
	}
	if err := writeFileAtomic(filepath.Join(genDir, manifestFile), data); err != nil {
		return fmt.Errorf("%w: write manifest: %v", ErrPersistence, err)
	}
	return nil
}

func readManifest(genDir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(genDir, manifestFile)) // #nosec G304 -- path is built from the configured index dir
	if err != nil {
		return nil, fmt.Errorf("%w: read manifest: %v", ErrCorruptIndex, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: decode manifest: %v", ErrCorruptIndex, err)
	}
	return &m, nil
}

// The chunk map is keyed by the decimal global index, {"0": {...}}.
func writeRecords(genDir string, records map[int]Record) error {
	out := make(map[string]Record, len(records))
	for i, r := range records {
		out[strconv.Itoa(i)] = r
	}
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("%w: encode chunk map: %v", ErrPersistence, err)
	}
	if err := writeFileAtomic(filepath.Join(genDir, recordsFile), data); err != nil {
		return fmt.Errorf("%w: write chunk map: %v", ErrPersistence, err)
	}
	return nil
}

func readRecords(genDir string) (map[int]Record, error) {
	data, err := os.ReadFile(filepath.Join(genDir, recordsFile)) // #nosec G304 -- path is built from the configured index dir
	if err != nil {
		return nil, fmt.Errorf("%w: read chunk map: %v", ErrCorruptIndex, err)
	}
	var raw map[string]Record
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode chunk map: %v", ErrCorruptIndex, err)
	}
	records := make(map[int]Record, len(raw))
	for k, r := range raw {
		i, err := strconv.Atoi(k)
		if err != nil || i < 0 {
			return nil, fmt.Errorf("%w: chunk map key %q is not a global index", ErrCorruptIndex, k)
		}
		records[i] = r
	}
	return records, nil
}

func readCurrent(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, currentFile)) // #nosec G304 -- path is built from the configured index dir
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrIndexNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %v", ErrPersistence, currentFile, err)
	}
	id := strings.TrimSpace(string(data))
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("%w: %s does not name a generation", ErrCorruptIndex, currentFile)
	}
	return id, nil
}

// publish swaps CURRENT to buildID. Rename is atomic, so readers see either
// the old or the new generation.
func publish(dir, buildID string) error {
	if err := writeFileAtomic(filepath.Join(dir, currentFile), []byte(buildID+"\n")); err != nil {
		return fmt.Errorf("%w: publish generation: %v", ErrPersistence, err)
	}
	return nil
}

func listGenerations(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := uuid.Parse(e.Name()); err == nil {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

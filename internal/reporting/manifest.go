// internal/reporting/manifest.go
package reporting

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/zeebo/blake3"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ManifestFile names the manifest inside a queue entry.
const ManifestFile = "entry.json"

// Manifest describes a queued error run.
type Manifest struct {
	RunID             string         `json:"run_id"`
	RunType           string         `json:"run_type"`
	CreatedAt         time.Time      `json:"created_at"`
	Health            string         `json:"health"`
	HealthDescription string         `json:"health_description"`
	Files             []ManifestItem `json:"files"`
	// Digest covers every file name and content; receivers use it to drop
	// duplicate alerts for the same entry.
	Digest string `json:"digest"`
}

// ManifestItem is one artifact file in an entry.
type ManifestItem struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	Digest string `json:"digest"`
}

// buildManifest hashes every regular file in dir, excluding the manifest itself.
func buildManifest(dir string, m Manifest) (Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return m, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	m.Files = m.Files[:0]
	for _, e := range entries {
		if !e.Type().IsRegular() || e.Name() == ManifestFile {
			continue
		}
		item, err := hashFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return m, err
		}
		item.Name = e.Name()
		m.Files = append(m.Files, item)
	}
	sort.Slice(m.Files, func(i, j int) bool { return m.Files[i].Name < m.Files[j].Name })

	h := blake3.New()
	for _, f := range m.Files {
		fmt.Fprintf(h, "%s\x00%s\n", f.Name, f.Digest)
	}
	m.Digest = hex.EncodeToString(h.Sum(nil))
	return m, nil
}

func hashFile(path string) (ManifestItem, error) {
	f, err := os.Open(path)
	if err != nil {
		return ManifestItem{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := blake3.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return ManifestItem{}, fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return ManifestItem{Size: n, Digest: hex.EncodeToString(h.Sum(nil))}, nil
}

// WriteManifest writes m as dir/entry.json.
func WriteManifest(dir string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// ReadManifest loads dir/entry.json.
func ReadManifest(dir string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("failed to decode manifest in %s: %w", dir, err)
	}
	return m, nil
}

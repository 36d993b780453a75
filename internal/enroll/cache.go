package enroll

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// CacheFile is the embedding cache name, kept next to the reference images.
const CacheFile = ".embeddings.json"

type cacheEntry struct {
	Label     string    `json:"label"`
	Embedding []float64 `json:"embedding"`
}

type cacheFile struct {
	Labels     []string     `json:"labels"`
	Identities []cacheEntry `json:"identities"`
}

// loadCache returns the cached label -> embedding mapping. A missing file is not an error.
func loadCache(path string) (map[string][]float64, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var cf cacheFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, false, fmt.Errorf("corrupt embedding cache %s: %w", path, err)
	}

	out := make(map[string][]float64, len(cf.Identities))
	for _, e := range cf.Identities {
		out[e.Label] = e.Embedding
	}
	return out, true, nil
}

// saveCache writes the identities atomically (temp file + rename).
func saveCache(path string, ids []Identity) error {
	cf := cacheFile{
		Labels:     make([]string, 0, len(ids)),
		Identities: make([]cacheEntry, 0, len(ids)),
	}
	for _, id := range ids {
		cf.Labels = append(cf.Labels, id.Label)
		cf.Identities = append(cf.Identities, cacheEntry{Label: id.Label, Embedding: id.Embedding})
	}
	sort.Strings(cf.Labels)

	data, err := json.Marshal(cf)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".embeddings-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// sameLabels reports strict set equality between the cache keys and the current labels.
func sameLabels(cached map[string][]float64, labels []string) bool {
	if len(cached) != len(labels) {
		return false
	}
	for _, l := range labels {
		if _, ok := cached[l]; !ok {
			return false
		}
	}
	return true
}

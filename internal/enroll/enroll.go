package enroll

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
)

// ErrNoEnrollments means no reference image produced a usable embedding.
// The capture loop must not start in that case.
var ErrNoEnrollments = errors.New("no reference image produced a usable embedding")

// Identity is one enrolled person. Label is the matching key, Roll the optional
// secondary identifier used for backend lookups.
type Identity struct {
	Label     string
	Roll      string
	Embedding []float64
}

// Gallery holds the enrolled identities in enrollment order. It is read-only once built.
type Gallery struct {
	ids []Identity
}

// NewGallery wraps already computed identities.
func NewGallery(ids []Identity) *Gallery {
	return &Gallery{ids: ids}
}

// Identities returns the enrolled identities in enrollment order.
func (g *Gallery) Identities() []Identity { return g.ids }

// Len returns the number of enrolled identities.
func (g *Gallery) Len() int { return len(g.ids) }

// Embedder is the external embedding capability.
type Embedder interface {
	Embed(ctx context.Context, img []byte) ([]types.Face, error)
}

// Options configures Build.
type Options struct {
	Dir       string
	CachePath string // defaults to Dir/.embeddings.json, "-" disables caching
	Rebuild   bool
	Progress  io.Writer
	Log       logrus.FieldLogger
}

// Stats summarises one Build call.
type Stats struct {
	Files     int
	Enrolled  int
	Skipped   int
	FromCache bool
}

type reference struct {
	path  string
	label string
	roll  string
}

// Build enrolls every reference image in opts.Dir.
// The cache is reused only when its label set equals the current label set.
func Build(ctx context.Context, emb Embedder, opts Options) (*Gallery, Stats, error) {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	cachePath := opts.CachePath
	if cachePath == "" {
		cachePath = filepath.Join(opts.Dir, CacheFile)
	}

	refs, err := listReferences(opts.Dir, log)
	if err != nil {
		return nil, Stats{}, err
	}
	stats := Stats{Files: len(refs)}
	if len(refs) == 0 {
		return nil, stats, fmt.Errorf("%w: %s has no reference images", ErrNoEnrollments, opts.Dir)
	}

	labels := make([]string, len(refs))
	for i, r := range refs {
		labels[i] = r.label
	}

	// 1. Try the cache
	if !opts.Rebuild && cachePath != "-" {
		cached, ok, err := loadCache(cachePath)
		if err != nil {
			log.WithError(err).Warn("Ignoring unreadable embedding cache")
		}
		if ok && sameLabels(cached, labels) && consistent(cached) {
			ids := make([]Identity, len(refs))
			for i, r := range refs {
				ids[i] = Identity{Label: r.label, Roll: r.roll, Embedding: cached[r.label]}
			}
			stats.Enrolled = len(ids)
			stats.FromCache = true
			log.WithField("identities", len(ids)).Info("Loaded embeddings from cache")
			return NewGallery(ids), stats, nil
		}
		if ok {
			log.Info("Reference images changed, rebuilding embedding cache")
		}
	}

	// 2. Recompute
	progress := opts.Progress
	if progress == nil {
		progress = io.Discard
	}
	bar := progressbar.NewOptions(len(refs),
		progressbar.OptionSetDescription("🧬 Enrolling faces"),
		progressbar.OptionSetWriter(progress),
		progressbar.OptionShowCount(),
	)

	var ids []Identity
	dim := 0
	for _, r := range refs {
		bar.Add(1)
		vec, err := embedReference(ctx, emb, r.path)
		if ctx.Err() != nil {
			return nil, stats, ctx.Err()
		}
		if err != nil {
			stats.Skipped++
			log.WithError(err).WithField("file", filepath.Base(r.path)).Warn("Skipping reference image")
			continue
		}
		if dim == 0 {
			dim = len(vec)
		} else if len(vec) != dim {
			stats.Skipped++
			log.WithFields(logrus.Fields{"file": filepath.Base(r.path), "dim": len(vec), "want": dim}).
				Warn("Skipping reference image with mismatched embedding size")
			continue
		}
		ids = append(ids, Identity{Label: r.label, Roll: r.roll, Embedding: vec})
	}
	bar.Finish()

	stats.Enrolled = len(ids)
	if len(ids) == 0 {
		return nil, stats, fmt.Errorf("%w: all %d reference images in %s failed", ErrNoEnrollments, len(refs), opts.Dir)
	}

	// 3. Overwrite the cache. Enrollment still succeeds if this fails.
	if cachePath != "-" {
		if err := saveCache(cachePath, ids); err != nil {
			log.WithError(err).Warn("Failed to write embedding cache")
		}
	}
	return NewGallery(ids), stats, nil
}

func listReferences(dir string, log logrus.FieldLogger) ([]reference, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: reference directory %s does not exist", ErrNoEnrollments, dir)
	}
	if err != nil {
		return nil, fmt.Errorf("read reference directory: %w", err)
	}

	seen := make(map[string]string)
	var refs []reference
	for _, e := range entries {
		if e.IsDir() || !isReferenceImage(e.Name()) {
			continue
		}
		label, roll := ParseLabel(e.Name())
		if first, dup := seen[label]; dup {
			log.WithFields(logrus.Fields{"file": e.Name(), "kept": first}).Warn("Duplicate label, skipping")
			continue
		}
		seen[label] = e.Name()
		refs = append(refs, reference{path: filepath.Join(dir, e.Name()), label: label, roll: roll})
	}
	return refs, nil
}

func embedReference(ctx context.Context, emb Embedder, path string) ([]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	faces, err := emb.Embed(ctx, data)
	if err != nil {
		return nil, err
	}
	face, ok := types.Largest(faces)
	if !ok {
		return nil, errors.New("no face detected")
	}
	if len(face.Vec) == 0 {
		return nil, errors.New("empty embedding")
	}
	return face.Vec, nil
}

// consistent rejects caches with empty or mixed-size vectors.
func consistent(cached map[string][]float64) bool {
	dim := -1
	for _, v := range cached {
		if len(v) == 0 {
			return false
		}
		if dim == -1 {
			dim = len(v)
		} else if len(v) != dim {
			return false
		}
	}
	return true
}

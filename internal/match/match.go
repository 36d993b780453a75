// Package match assigns identities to query embeddings by nearest Euclidean distance.
package match

import (
	"errors"
	"fmt"
	"math"

	"github.com/andresmejia3/rollcall/internal/enroll"
	"github.com/andresmejia3/rollcall/internal/types"
)

// DefaultThreshold is tuned for unnormalized ArcFace embeddings. Another model or metric
// needs a new value.
const DefaultThreshold = 10.0

var (
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrEmptyGallery      = errors.New("gallery is empty")
	ErrNonFiniteDistance = errors.New("embedding distance is not finite")
)

// Outcome classifies one recognition attempt.
type Outcome int

const (
	Recognized Outcome = iota
	Unknown
	NoFace
	Error
	// Pending means no recognition attempt has finished yet.
	Pending
)

func (o Outcome) String() string {
	switch o {
	case Recognized:
		return "recognized"
	case Unknown:
		return "unknown"
	case NoFace:
		return "no-face-detected"
	case Pending:
		return "pending"
	default:
		return "error"
	}
}

// Result is produced once per processed frame.
type Result struct {
	Outcome     Outcome
	Identity    enroll.Identity // nearest identity; only meaningful when HasDistance
	Distance    float64
	HasDistance bool
	Err         error
}

// Text is the overlay string shown to the operator.
func (r Result) Text() string {
	switch r.Outcome {
	case Recognized:
		return r.Identity.Label + " (Present)"
	case Unknown:
		return "Unknown"
	case NoFace:
		return "No face detected"
	case Pending:
		return ""
	default:
		return "Error"
	}
}

// Euclidean returns the L2 distance between a and b.
func Euclidean(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

// Matcher applies a fixed distance threshold.
type Matcher struct {
	Threshold float64
}

// Nearest returns the index and distance of the closest identity.
// Ties keep the identity enrolled first.
func (m Matcher) Nearest(q []float64, ids []enroll.Identity) (int, float64, error) {
	if len(ids) == 0 {
		return -1, 0, ErrEmptyGallery
	}
	best, bestDist := -1, math.Inf(1)
	for i, id := range ids {
		d, err := Euclidean(q, id.Embedding)
		if err != nil {
			return -1, 0, fmt.Errorf("compare with %q: %w", id.Label, err)
		}
		if math.IsNaN(d) || math.IsInf(d, 0) {
			return -1, 0, fmt.Errorf("%w: compare with %q", ErrNonFiniteDistance, id.Label)
		}
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return best, bestDist, nil
}

// Match resolves q against the gallery. dist < Threshold is a recognition.
func (m Matcher) Match(q []float64, g *enroll.Gallery) Result {
	ids := g.Identities()
	idx, dist, err := m.Nearest(q, ids)
	if err != nil {
		return Result{Outcome: Error, Err: err}
	}
	res := Result{Outcome: Unknown, Identity: ids[idx], Distance: dist, HasDistance: true}
	if dist < m.Threshold {
		res.Outcome = Recognized
	}
	return res
}

// Classify turns a raw embedding call into a Result. The largest face in the frame is used.
func (m Matcher) Classify(faces []types.Face, embedErr error, g *enroll.Gallery) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Outcome: Error, Err: fmt.Errorf("matcher panic: %v", r)}
		}
	}()

	if embedErr != nil {
		return Result{Outcome: Error, Err: embedErr}
	}
	face, ok := types.Largest(faces)
	if !ok {
		return Result{Outcome: NoFace}
	}
	return m.Match(face.Vec, g)
}

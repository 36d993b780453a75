package types

import "time"

// Frame is a single JPEG-encoded image pulled from a capture source
type Frame struct {
	Index int
	Data  []byte
	At    time.Time
}

// Face is one detection returned by the embedding worker
type Face struct {
	Box     [4]int    // [top, right, bottom, left]
	Vec     []float64 // face embedding, dimension set by the model
	Quality float64
}

// Area returns the pixel area of the face box.
func (f Face) Area() int {
	h := f.Box[2] - f.Box[0]
	w := f.Box[1] - f.Box[3]
	if h < 0 || w < 0 {
		return 0
	}
	return h * w
}

// Largest picks the face with the biggest box. Ties keep the earlier face.
func Largest(faces []Face) (Face, bool) {
	if len(faces) == 0 {
		return Face{}, false
	}
	best := faces[0]
	for _, f := range faces[1:] {
		if f.Area() > best.Area() {
			best = f
		}
	}
	return best, true
}

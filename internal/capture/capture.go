// Package capture pulls JPEG frames from a camera.
package capture

import (
	"io"
	"time"

	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/pkg/errors"
)

// ErrClosed is returned by Read after Close.
var ErrClosed = errors.New("capture source closed")

// Source is a camera-like frame producer. Read blocks until the next frame.
// Any Read error ends the stream.
type Source interface {
	Read() (types.Frame, error)
	Close() error
}

// Option selects and tunes a source
type Option struct {
	Driver      string // "v4l2" or "ffmpeg"
	Device      string
	InputFormat string // ffmpeg -f value, e.g. "v4l2"; empty for files
	Width       int
	Height      int
	WaitTimeout time.Duration
}

// Open creates the source named by opt.Driver.
func Open(opt Option) (Source, error) {
	switch opt.Driver {
	case "", "v4l2":
		cam, err := OpenWebcam(opt)
		if err != nil {
			return nil, err
		}
		return cam, nil
	case "ffmpeg":
		ff, err := OpenFFmpeg(opt)
		if err != nil {
			return nil, err
		}
		return ff, nil
	default:
		return nil, errors.Errorf("unknown capture driver %q", opt.Driver)
	}
}

// IsEndOfStream reports whether err is a normal end of the stream rather than a failure.
func IsEndOfStream(err error) bool {
	cause := errors.Cause(err)
	return cause == io.EOF || cause == io.ErrUnexpectedEOF || cause == ErrClosed
}

type stamper struct {
	index int
}

func (s *stamper) next(data []byte) types.Frame {
	s.index++
	return types.Frame{Index: s.index, Data: data, At: time.Now()}
}

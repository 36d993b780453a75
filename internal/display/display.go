// Package display shows the latest recognition result to the operator.
package display

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"
	"path/filepath"

	"github.com/andresmejia3/rollcall/internal/match"
	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	green = color.RGBA{0, 255, 0, 255}
	red   = color.RGBA{255, 64, 64, 255}
	black = color.RGBA{0, 0, 0, 160}
)

// Annotate draws text in the top-left corner of a JPEG frame and re-encodes it.
func Annotate(jpegData []byte, text string, c color.Color) ([]byte, error) {
	src, err := imaging.Decode(bytes.NewReader(jpegData))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	img := imaging.Clone(src)

	face := basicfont.Face7x13
	d := &font.Drawer{Dst: img, Src: image.NewUniform(c), Face: face}
	width := d.MeasureString(text).Ceil()

	// Backdrop so the label stays readable on bright frames
	box := image.Rect(14, 24, 26+width, 24+face.Height+10)
	draw.Draw(img, box, image.NewUniform(black), image.Point{}, draw.Over)

	d.Dot = fixed.P(20, 24+face.Ascent+5)
	d.DrawString(text)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

func colorFor(res match.Result) color.Color {
	if res.Outcome == match.Recognized {
		return green
	}
	return red
}

// PreviewSink keeps a JPEG file on disk showing the live frame and the current result.
// Point an image viewer with auto-reload at it.
type PreviewSink struct {
	Path  string
	Every int // write every Nth frame, 0 or 1 writes all
}

// Show writes the frame atomically, annotated once a result exists.
func (p *PreviewSink) Show(frame types.Frame, res match.Result) error {
	if p.Every > 1 && frame.Index%p.Every != 0 {
		return nil
	}
	out := frame.Data
	if text := res.Text(); text != "" {
		annotated, err := Annotate(frame.Data, text, colorFor(res))
		if err != nil {
			return err
		}
		out = annotated
	}

	tmp, err := os.CreateTemp(filepath.Dir(p.Path), ".preview-*.jpg")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p.Path)
}

// LogSink logs the result whenever the displayed text changes.
type LogSink struct {
	Log  logrus.FieldLogger
	last string
}

// Show implements the sink.
func (l *LogSink) Show(frame types.Frame, res match.Result) error {
	text := res.Text()
	if text == l.last {
		return nil
	}
	l.last = text

	entry := l.Log.WithFields(logrus.Fields{"frame": frame.Index, "result": res.Outcome.String()})
	if res.HasDistance {
		entry = entry.WithField("distance", fmt.Sprintf("%.3f", res.Distance))
	}
	if res.Err != nil {
		entry = entry.WithError(res.Err)
	}
	entry.Info("👁️  " + text)
	return nil
}

// Multi fans a frame out to several sinks and returns the first error.
type Multi []interface {
	Show(types.Frame, match.Result) error
}

// Show implements the sink.
func (m Multi) Show(frame types.Frame, res match.Result) error {
	var first error
	for _, s := range m {
		if err := s.Show(frame, res); err != nil && first == nil {
			first = err
		}
	}
	return first
}

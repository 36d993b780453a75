package display

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresmejia3/rollcall/internal/enroll"
	"github.com/andresmejia3/rollcall/internal/match"
	"github.com/andresmejia3/rollcall/internal/types"
)

func blankJpeg(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 320, 240))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestAnnotate(t *testing.T) {
	src := blankJpeg(t)
	out, err := Annotate(src, "Alice (Present)", color.RGBA{0, 255, 0, 255})
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 320, img.Bounds().Dx())

	// Some pixel in the label area must be bright green-ish after drawing.
	found := false
	for y := 24; y < 45 && !found; y++ {
		for x := 20; x < 120; x++ {
			_, g, _, _ := img.At(x, y).RGBA()
			if g>>8 > 60 {
				found = true
				break
			}
		}
	}
	assert.True(t, found, "expected text pixels in the label area")

	_, err = Annotate([]byte("nope"), "x", color.White)
	assert.Error(t, err)
}

func TestPreviewSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preview.jpg")
	sink := &PreviewSink{Path: path, Every: 2}

	frame := types.Frame{Index: 1, Data: blankJpeg(t)}
	require.NoError(t, sink.Show(frame, match.Result{Outcome: match.Unknown}))
	assert.NoFileExists(t, path)

	frame.Index = 2
	require.NoError(t, sink.Show(frame, match.Result{Outcome: match.Unknown}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	_, err = jpeg.DecodeConfig(bytes.NewReader(data))
	assert.NoError(t, err)
}

func TestLogSink_OnlyOnChange(t *testing.T) {
	logger, hook := test.NewNullLogger()
	sink := &LogSink{Log: logger}

	alice := match.Result{Outcome: match.Recognized, Identity: enroll.Identity{Label: "Alice"}, Distance: 2, HasDistance: true}
	require.NoError(t, sink.Show(types.Frame{Index: 1}, alice))
	require.NoError(t, sink.Show(types.Frame{Index: 2}, alice))
	require.NoError(t, sink.Show(types.Frame{Index: 3}, match.Result{Outcome: match.NoFace}))

	require.Len(t, hook.AllEntries(), 2)
	assert.Contains(t, hook.AllEntries()[0].Message, "Alice (Present)")
	assert.Equal(t, "2.000", hook.AllEntries()[0].Data["distance"])
	assert.Contains(t, hook.LastEntry().Message, "No face detected")
}

func TestSinks_PendingShowsNoText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preview.jpg")
	src := blankJpeg(t)
	frame := types.Frame{Index: 1, Data: src}
	pending := match.Result{Outcome: match.Pending}

	require.NoError(t, (&PreviewSink{Path: path}).Show(frame, pending))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, src, data, "frame is written untouched before the first result")

	logger, hook := test.NewNullLogger()
	require.NoError(t, (&LogSink{Log: logger}).Show(frame, pending))
	assert.Empty(t, hook.AllEntries())
}

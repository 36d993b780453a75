package capture

import (
	"bytes"
	"io"
	"testing"

	"github.com/blackjack/webcam"
	"github.com/pkg/errors"
)

type nopReadCloser struct{ io.Reader }

func (nopReadCloser) Close() error { return nil }

func TestFFmpegReader(t *testing.T) {
	a := []byte{0xFF, 0xD8, 0x01, 0xFF, 0xD9}
	b := []byte{0xFF, 0xD8, 0x02, 0x02, 0xFF, 0xD9}
	stream := append(append([]byte{0x00}, a...), b...)

	f := newFFmpegReader(nil, nopReadCloser{bytes.NewReader(stream)}, nil)

	first, err := f.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if first.Index != 1 || !bytes.Equal(first.Data, a) {
		t.Errorf("Unexpected first frame %d %X", first.Index, first.Data)
	}

	second, err := f.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if second.Index != 2 || !bytes.Equal(second.Data, b) {
		t.Errorf("Unexpected second frame %d %X", second.Index, second.Data)
	}

	if _, err := f.Read(); err != io.EOF {
		t.Errorf("Expected io.EOF at end of stream, got %v", err)
	}

	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Read(); err != ErrClosed {
		t.Errorf("Expected ErrClosed after Close, got %v", err)
	}
	// Second Close is a no-op
	if err := f.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
}

func TestFFmpegLogs(t *testing.T) {
	stderr := bytes.NewBufferString("/dev/video9: No such file or directory\n")
	f := newFFmpegReader(nil, nopReadCloser{bytes.NewReader(nil)}, stderr)
	if _, err := f.Read(); err != io.EOF {
		t.Fatalf("Expected io.EOF, got %v", err)
	}
	if got := f.Logs(); got != stderr.String() {
		t.Errorf("Logs() = %q", got)
	}

	silent := newFFmpegReader(nil, nopReadCloser{bytes.NewReader(nil)}, nil)
	if got := silent.Logs(); got != "" {
		t.Errorf("Logs() without stderr = %q", got)
	}
}

func TestIsEndOfStream(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{io.EOF, true},
		{errors.Wrap(io.EOF, "read"), true},
		{ErrClosed, true},
		{errors.New("device unplugged"), false},
	}
	for _, tt := range tests {
		if got := IsEndOfStream(tt.err); got != tt.want {
			t.Errorf("IsEndOfStream(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestFindMJPEG(t *testing.T) {
	formats := map[webcam.PixelFormat]string{
		0x56595559: "YUYV 4:2:2",
		0x47504A4D: "Motion-JPEG",
	}
	f, ok := findMJPEG(formats)
	if !ok || f != 0x47504A4D {
		t.Errorf("Expected MJPEG format, got %x %v", f, ok)
	}

	if _, ok := findMJPEG(map[webcam.PixelFormat]string{1: "YUYV 4:2:2"}); ok {
		t.Error("Expected no MJPEG format")
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open(Option{Driver: "gstreamer"}); err == nil {
		t.Error("Expected error for unknown driver")
	}
}

package capture

import (
	"bufio"
	"bytes"
	"io"
	"os/exec"

	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/andresmejia3/rollcall/internal/utils"
	"github.com/pkg/errors"
)

const megabyte = 1024 * 1024

// FFmpeg decodes any ffmpeg input (camera or video file) into MJPEG frames.
type FFmpeg struct {
	cmd     *exec.Cmd
	out     io.ReadCloser
	scanner *bufio.Scanner
	stderr  *bytes.Buffer
	stamp   stamper
	closed  bool
}

// OpenFFmpeg starts ffmpeg on opt.Device.
func OpenFFmpeg(opt Option) (*FFmpeg, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, errors.Wrap(err, "ffmpeg not found")
	}
	cmd := utils.NewFFmpegCmd(opt.Device, opt.InputFormat)
	return startFFmpeg(cmd)
}

func startFFmpeg(cmd *exec.Cmd) (*FFmpeg, error) {
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "Failed to create FFmpeg stdout pipe")
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "Failed to start FFmpeg")
	}

	return newFFmpegReader(cmd, out, stderr), nil
}

func newFFmpegReader(cmd *exec.Cmd, out io.ReadCloser, stderr *bytes.Buffer) *FFmpeg {
	scanner := bufio.NewScanner(out)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)
	return &FFmpeg{cmd: cmd, out: out, scanner: scanner, stderr: stderr}
}

// Read returns the next JPEG. io.EOF marks the end of the input.
func (f *FFmpeg) Read() (types.Frame, error) {
	if f.closed {
		return types.Frame{}, ErrClosed
	}
	if !f.scanner.Scan() {
		if err := f.scanner.Err(); err != nil {
			return types.Frame{}, errors.Wrap(err, "Frame scanner failed")
		}
		return types.Frame{}, io.EOF
	}
	data := make([]byte, len(f.scanner.Bytes()))
	copy(data, f.scanner.Bytes())
	return f.stamp.next(data), nil
}

// Close stops ffmpeg and reaps the process.
func (f *FFmpeg) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	f.out.Close()
	if f.cmd != nil && f.cmd.Process != nil {
		f.cmd.Process.Kill()
		f.cmd.Wait()
	}
	return nil
}

// Logs returns what ffmpeg wrote to stderr.
func (f *FFmpeg) Logs() string {
	if f.stderr == nil {
		return ""
	}
	return f.stderr.String()
}

package capture

import (
	"strings"

	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/blackjack/webcam"
	"github.com/pkg/errors"
)

// maxTimeouts bounds consecutive frame wait timeouts before the device counts as gone.
const maxTimeouts = 5

// Webcam reads MJPEG frames from a V4L2 device.
type Webcam struct {
	cam      *webcam.Webcam
	timeout  uint32
	stamp    stamper
	closed   bool
	timeouts int
}

// OpenWebcam opens the device, selects an MJPEG format and starts streaming.
func OpenWebcam(opt Option) (*Webcam, error) {
	cam, err := webcam.Open(opt.Device)
	if err != nil {
		return nil, errors.Wrap(err, "Can not open device "+opt.Device)
	}

	format, ok := findMJPEG(cam.GetSupportedFormats())
	if !ok {
		cam.Close()
		return nil, errors.Errorf("device %s does not offer MJPEG frames", opt.Device)
	}

	width, height := uint32(opt.Width), uint32(opt.Height)
	if width == 0 || height == 0 {
		width, height = 640, 480
	}
	if _, _, _, err := cam.SetImageFormat(format, width, height); err != nil {
		cam.Close()
		return nil, errors.Wrap(err, "Can not set image format")
	}

	if err := cam.StartStreaming(); err != nil {
		cam.Close()
		return nil, errors.Wrap(err, "Can not start streaming")
	}

	timeout := uint32(opt.WaitTimeout.Seconds())
	if timeout == 0 {
		timeout = 2
	}
	return &Webcam{cam: cam, timeout: timeout}, nil
}

func findMJPEG(formats map[webcam.PixelFormat]string) (webcam.PixelFormat, bool) {
	for f, desc := range formats {
		d := strings.ToUpper(desc)
		if strings.Contains(d, "MJPEG") || strings.Contains(d, "MOTION-JPEG") || strings.Contains(d, "JPEG") {
			return f, true
		}
	}
	return 0, false
}

// Read waits for the next frame. Repeated timeouts are reported as a lost device.
func (w *Webcam) Read() (types.Frame, error) {
	if w.closed {
		return types.Frame{}, ErrClosed
	}
	for {
		err := w.cam.WaitForFrame(w.timeout)
		switch err.(type) {
		case nil:
		case *webcam.Timeout:
			w.timeouts++
			if w.timeouts >= maxTimeouts {
				return types.Frame{}, errors.Wrap(err, "camera stopped delivering frames")
			}
			continue
		default:
			return types.Frame{}, errors.Wrap(err, "Failed when waiting for frame")
		}

		frame, err := w.cam.ReadFrame()
		if err != nil {
			return types.Frame{}, errors.Wrap(err, "Can not read frame")
		}
		if len(frame) == 0 {
			continue
		}
		w.timeouts = 0

		// The driver reuses its buffer on the next read
		data := make([]byte, len(frame))
		copy(data, frame)
		return w.stamp.next(data), nil
	}
}

// Close stops streaming and releases the device.
func (w *Webcam) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.cam.StopStreaming()
	return w.cam.Close()
}

package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/andresmejia3/rollcall/internal/utils"
)

const (
	statusOK    = 0
	statusError = 1

	maxFaces = 64
	maxDim   = 4096
	// largest legal reply is well under this: maxFaces faces of maxDim floats
	maxResponse = 8 << 20
)

// ErrTimeout is returned when the worker does not answer within Config.ReadTimeout.
var ErrTimeout = errors.New("embedding worker timed out")

// WorkerError is a logic error reported by the Python side. The process is still healthy.
type WorkerError struct {
	Msg string
}

func (e *WorkerError) Error() string { return "python worker error: " + e.Msg }

// Config controls how the embedding engine is launched
type Config struct {
	Command            string
	Args               []string
	Debug              bool
	DetectionThreshold float64
	ReadTimeout        time.Duration
}

// PythonWorker drives one embedding engine process.
// Frames go in on stdin, results come back on a dedicated pipe (FD 3) so Python's
// print statements cannot corrupt the stream.
type PythonWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	cfg    Config
	mu     sync.Mutex
	broken bool
}

// NewPythonWorker starts the engine process.
func NewPythonWorker(ctx context.Context, id int, cfg Config) (*PythonWorker, error) {
	w := &PythonWorker{ID: id, cfg: cfg}
	if err := w.spawn(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *PythonWorker) spawn(ctx context.Context) error {
	py := utils.NewSafeCommand(w.cfg.Command, w.cfg.Args...)
	py.Cmd.Env = append(os.Environ(),
		"ROLLCALL_WORKER_ID="+strconv.Itoa(w.ID),
		"ROLLCALL_DETECTION_THRESHOLD="+strconv.FormatFloat(w.cfg.DetectionThreshold, 'f', -1, 64),
		"ROLLCALL_DEBUG="+strconv.FormatBool(w.cfg.Debug),
	)

	r, wr, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("failed to create pipe: %w", err)
	}
	// The write-end shows up as FD 3 in the child.
	py.Cmd.ExtraFiles = []*os.File{wr}

	stdin, err := py.StdinPipe()
	if err != nil {
		wr.Close()
		r.Close()
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		wr.Close()
		r.Close()
		return fmt.Errorf("worker %d failed to start: %w", w.ID, err)
	}

	// Only the child holds the write-end now
	wr.Close()

	w.Cmd = py
	w.Stdin = stdin
	w.DataPipe = r
	w.broken = false
	return nil
}

// Embed runs one image through the engine, bounded by Config.ReadTimeout and ctx.
// A timed out or crashed engine is killed and respawned on the next call.
func (w *PythonWorker) Embed(ctx context.Context, img []byte) ([]types.Face, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.broken {
		if w.Cmd == nil {
			return nil, errors.New("embedding worker is not running")
		}
		w.shutdown()
		if err := w.spawn(ctx); err != nil {
			return nil, err
		}
	}

	type reply struct {
		faces []types.Face
		err   error
	}
	done := make(chan reply, 1)
	stdin, pipe := w.Stdin, w.DataPipe
	go func() {
		faces, err := processFrame(stdin, pipe, img)
		done <- reply{faces, err}
	}()

	var timeout <-chan time.Time
	if w.cfg.ReadTimeout > 0 {
		t := time.NewTimer(w.cfg.ReadTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case r := <-done:
		var logicErr *WorkerError
		if r.err != nil && !errors.As(r.err, &logicErr) {
			w.broken = true
		}
		return r.faces, r.err
	case <-timeout:
		w.broken = true
		w.kill()
		return nil, ErrTimeout
	case <-ctx.Done():
		w.broken = true
		w.kill()
		return nil, ctx.Err()
	}
}

func processFrame(stdin io.Writer, pipe io.Reader, data []byte) ([]types.Face, error) {
	resp, err := communicate(stdin, pipe, data)
	if err != nil {
		return nil, err
	}
	return decodeFaces(resp)
}

// communicate implements the framing: [uint32 length][bytes] in both directions.
func communicate(stdin io.Writer, pipe io.Reader, data []byte) ([]byte, error) {
	if err := binary.Write(stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := stdin.Write(data); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(pipe, header); err != nil {
		return nil, err // a Python crash (e.g. ModuleNotFoundError) surfaces here
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxResponse {
		return nil, fmt.Errorf("worker response of %d bytes exceeds %d byte limit", respLen, maxResponse)
	}
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(pipe, respBody)
	return respBody, err
}

func decodeFaces(resp []byte) ([]types.Face, error) {
	r := bytes.NewReader(resp)
	status, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("empty worker response: %w", err)
	}

	switch status {
	case statusOK:
	case statusError:
		var n uint32
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return nil, fmt.Errorf("truncated worker error: %w", err)
		}
		msg := make([]byte, n)
		if _, err := io.ReadFull(r, msg); err != nil {
			return nil, fmt.Errorf("truncated worker error: %w", err)
		}
		return nil, &WorkerError{Msg: string(msg)}
	default:
		return nil, fmt.Errorf("unknown worker status byte %d", status)
	}

	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("read face count: %w", err)
	}
	if count > maxFaces {
		return nil, fmt.Errorf("worker reported %d faces (max %d)", count, maxFaces)
	}

	faces := make([]types.Face, 0, count)
	for i := uint32(0); i < count; i++ {
		var box [4]int32
		if err := binary.Read(r, binary.BigEndian, &box); err != nil {
			return nil, fmt.Errorf("face %d box: %w", i, err)
		}
		var dim uint32
		if err := binary.Read(r, binary.BigEndian, &dim); err != nil {
			return nil, fmt.Errorf("face %d dim: %w", i, err)
		}
		if dim == 0 || dim > maxDim {
			return nil, fmt.Errorf("face %d has invalid embedding size %d", i, dim)
		}
		raw := make([]float32, dim)
		if err := binary.Read(r, binary.BigEndian, raw); err != nil {
			return nil, fmt.Errorf("face %d vec: %w", i, err)
		}
		var quality float32
		if err := binary.Read(r, binary.BigEndian, &quality); err != nil {
			return nil, fmt.Errorf("face %d quality: %w", i, err)
		}

		vec := make([]float64, dim)
		for j, v := range raw {
			vec[j] = float64(v)
		}
		faces = append(faces, types.Face{
			Box:     [4]int{int(box[0]), int(box[1]), int(box[2]), int(box[3])},
			Vec:     vec,
			Quality: float64(quality),
		})
	}
	return faces, nil
}

func (w *PythonWorker) kill() {
	if w.Cmd != nil && w.Cmd.Process != nil {
		_ = w.Cmd.Process.Kill()
	}
}

func (w *PythonWorker) shutdown() {
	if w.Stdin != nil {
		w.Stdin.Close()
	}
	if w.DataPipe != nil {
		w.DataPipe.Close()
	}
	if w.Cmd != nil && w.Cmd.Process != nil {
		w.Cmd.Wait()
	}
}

// Close ends the engine. Closing stdin lets a healthy worker exit on its own.
func (w *PythonWorker) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.broken {
		w.kill()
	}
	w.shutdown()
}

package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"strings"
	"testing"
	"time"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

func newMock() *MockCloser { return &MockCloser{Buffer: new(bytes.Buffer)} }

// writeResponse frames a payload the way the Python side does.
func writeResponse(dst io.Writer, payload []byte) {
	binary.Write(dst, binary.BigEndian, uint32(len(payload)))
	dst.Write(payload)
}

func facePayload(vecs ...[]float32) []byte {
	payload := new(bytes.Buffer)
	payload.WriteByte(statusOK)
	binary.Write(payload, binary.BigEndian, uint32(len(vecs)))
	for i, vec := range vecs {
		binary.Write(payload, binary.BigEndian, [4]int32{10, int32(20 + i*10), int32(20 + i*10), 10})
		binary.Write(payload, binary.BigEndian, uint32(len(vec)))
		binary.Write(payload, binary.BigEndian, vec)
		binary.Write(payload, binary.BigEndian, float32(0.99))
	}
	return payload.Bytes()
}

func TestProcessFrame(t *testing.T) {
	stdinMock := newMock()
	dataPipeMock := newMock()

	vec := make([]float32, 512)
	vec[0] = 0.5
	writeResponse(dataPipeMock, facePayload(vec))

	w := &PythonWorker{
		ID:       1,
		Stdin:    stdinMock,
		DataPipe: dataPipeMock,
		// Cmd is nil because we aren't testing process management, just the protocol
	}

	inputFrame := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	faces, err := processFrame(w.Stdin, w.DataPipe, inputFrame)
	if err != nil {
		t.Fatalf("processFrame failed: %v", err)
	}

	// Verify Go sent the correct data TO Python: 4 bytes header + frame
	sentData := stdinMock.Bytes()
	if len(sentData) != 4+len(inputFrame) {
		t.Errorf("Expected %d bytes sent, got %d", 4+len(inputFrame), len(sentData))
	}
	if binary.BigEndian.Uint32(sentData[:4]) != uint32(len(inputFrame)) {
		t.Errorf("Length header mismatch: %X", sentData[:4])
	}

	if len(faces) != 1 {
		t.Fatalf("Expected 1 face, got %d", len(faces))
	}
	if len(faces[0].Vec) != 512 {
		t.Fatalf("Expected 512-d vector, got %d", len(faces[0].Vec))
	}
	if math.Abs(faces[0].Vec[0]-0.5) > 1e-9 {
		t.Errorf("Expected vector[0] approx 0.5, got %f", faces[0].Vec[0])
	}
	if faces[0].Box != [4]int{10, 20, 20, 10} {
		t.Errorf("Unexpected box %v", faces[0].Box)
	}
}

func TestProcessFrame_NoFaces(t *testing.T) {
	dataPipeMock := newMock()
	writeResponse(dataPipeMock, facePayload())

	w := &PythonWorker{ID: 1, Stdin: newMock(), DataPipe: dataPipeMock}
	faces, err := processFrame(w.Stdin, w.DataPipe, []byte("frame"))
	if err != nil {
		t.Fatalf("processFrame failed: %v", err)
	}
	if len(faces) != 0 {
		t.Errorf("Expected no faces, got %d", len(faces))
	}
}

func TestProcessFrame_Error(t *testing.T) {
	stdinMock := newMock()
	dataPipeMock := newMock()

	payload := new(bytes.Buffer)
	payload.WriteByte(statusError)
	errMsg := "Python Exception: Import Error"
	binary.Write(payload, binary.BigEndian, uint32(len(errMsg)))
	payload.WriteString(errMsg)
	writeResponse(dataPipeMock, payload.Bytes())

	w := &PythonWorker{ID: 1, Stdin: stdinMock, DataPipe: dataPipeMock}

	_, err := processFrame(w.Stdin, w.DataPipe, []byte("frame"))
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if err.Error() != "python worker error: "+errMsg {
		t.Errorf("Expected error message '%s', got '%v'", "python worker error: "+errMsg, err)
	}
	var we *WorkerError
	if !errors.As(err, &we) {
		t.Errorf("Expected *WorkerError, got %T", err)
	}
}

func TestProcessFrame_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"empty payload", []byte{}},
		{"unknown status", []byte{7}},
		{"truncated count", []byte{statusOK, 0x00}},
		{"too many faces", append([]byte{statusOK}, 0x00, 0x00, 0x10, 0x00)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pipe := newMock()
			writeResponse(pipe, tt.payload)
			w := &PythonWorker{ID: 1, Stdin: newMock(), DataPipe: pipe}
			if _, err := processFrame(w.Stdin, w.DataPipe, []byte("frame")); err == nil {
				t.Error("Expected decode error, got nil")
			}
		})
	}
}

func TestProcessFrame_OversizedResponse(t *testing.T) {
	pipe := newMock()
	binary.Write(pipe, binary.BigEndian, uint32(math.MaxUint32))
	pipe.Write(facePayload())

	w := &PythonWorker{ID: 1, Stdin: newMock(), DataPipe: pipe}
	_, err := processFrame(w.Stdin, w.DataPipe, []byte("frame"))
	if err == nil {
		t.Fatal("Expected size limit error, got nil")
	}
	if !strings.Contains(err.Error(), "exceeds") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestEmbed_LogicErrorKeepsWorker(t *testing.T) {
	pipe := newMock()
	payload := new(bytes.Buffer)
	payload.WriteByte(statusError)
	binary.Write(payload, binary.BigEndian, uint32(3))
	payload.WriteString("bad")
	writeResponse(pipe, payload.Bytes())
	writeResponse(pipe, facePayload([]float32{1, 2}))

	w := &PythonWorker{ID: 1, Stdin: newMock(), DataPipe: pipe}

	if _, err := w.Embed(context.Background(), []byte("a")); err == nil {
		t.Fatal("Expected worker error")
	}
	if w.broken {
		t.Fatal("Logic error must not mark the worker as broken")
	}
	faces, err := w.Embed(context.Background(), []byte("b"))
	if err != nil {
		t.Fatalf("Second call failed: %v", err)
	}
	if len(faces) != 1 {
		t.Errorf("Expected 1 face, got %d", len(faces))
	}
}

func TestEmbed_Timeout(t *testing.T) {
	// Nobody ever writes to the data pipe, so the read blocks forever.
	pr, pw := io.Pipe()
	defer pw.Close()

	w := &PythonWorker{
		ID:       1,
		Stdin:    newMock(),
		DataPipe: pr,
		cfg:      Config{ReadTimeout: 50 * time.Millisecond},
	}

	start := time.Now()
	_, err := w.Embed(context.Background(), []byte("frame"))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("Embed did not honour the read timeout")
	}
	if !w.broken {
		t.Error("Timed out worker should be marked broken")
	}

	// Without a process to respawn, the worker refuses further work.
	if _, err := w.Embed(context.Background(), []byte("frame")); err == nil {
		t.Error("Expected error from broken worker without process")
	}
}

// Package console turns single keypresses on the controlling terminal into a stop signal.
package console

import (
	"bytes"
	"io"
	"os"
	"sync"

	"golang.org/x/term"
)

const (
	keyCtrlC = 0x03
	keyEsc   = 0x1b
)

// IsStopKey reports whether b ends a session: ESC, q or Ctrl+C.
// Raw mode swallows SIGINT, so Ctrl+C arrives here as a byte.
func IsStopKey(b byte) bool {
	return b == keyEsc || b == 'q' || b == 'Q' || b == keyCtrlC
}

// Watch reads r until a stop key arrives or r fails, then closes the returned channel.
func Watch(r io.Reader) <-chan struct{} {
	stop := make(chan struct{})
	go func() {
		defer close(stop)
		buf := make([]byte, 1)
		for {
			n, err := r.Read(buf)
			if n == 1 && IsStopKey(buf[0]) {
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return stop
}

// Interactive reports whether stdin is a terminal, i.e. whether WatchKeys will enter raw mode.
func Interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// RawWriter returns a writer that turns "\n" into "\r\n". Raw mode turns off output
// processing, so plain newlines would leave the cursor in the current column.
func RawWriter(w io.Writer) io.Writer {
	return rawWriter{w: w}
}

type rawWriter struct {
	w io.Writer
}

func (r rawWriter) Write(p []byte) (int, error) {
	if _, err := r.w.Write(bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WatchKeys puts stdin into raw mode when it is a terminal and watches it for a stop key.
// restore must be called to give the terminal back. When stdin is not a terminal the
// returned channel is never closed, so only signals end the session.
func WatchKeys() (stop <-chan struct{}, restore func(), err error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return make(chan struct{}), func() {}, nil
	}

	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, nil, err
	}
	var once sync.Once
	restore = func() {
		once.Do(func() { _ = term.Restore(fd, state) })
	}
	return Watch(os.Stdin), restore, nil
}

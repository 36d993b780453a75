package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Scope selects how the local log decides whether a name is already present.
type Scope string

const (
	// ScopeFile scans the whole log file for the name as a raw substring. A name that is a
	// substring of an earlier entry is suppressed, and entries from earlier runs count.
	ScopeFile Scope = "file"
	// ScopeRun only remembers exact names appended during this run.
	ScopeRun Scope = "run"
)

// StatusPresent is the value written to the Status column.
const StatusPresent = "Present"

var header = []string{"Name", "Status"}

// Ledger is the append-only local attendance log (CSV with a Name,Status header).
type Ledger struct {
	path  string
	scope Scope

	mu   sync.Mutex
	seen map[string]bool
}

// OpenLedger prepares the log, writing the header if the file is missing or empty.
func OpenLedger(path string, scope Scope) (*Ledger, error) {
	switch scope {
	case ScopeFile, ScopeRun:
	case "":
		scope = ScopeFile
	default:
		return nil, fmt.Errorf("unknown ledger scope %q", scope)
	}

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create attendance log: %w", err)
		}
		if err == nil {
			if err := writeHeader(f); err != nil {
				return nil, err
			}
		}
	case err != nil:
		return nil, fmt.Errorf("stat attendance log: %w", err)
	case info.Size() == 0:
		// Left empty by a truncation or a crash before the header landed
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open attendance log: %w", err)
		}
		if err := writeHeader(f); err != nil {
			return nil, err
		}
	}

	return &Ledger{path: path, scope: scope, seen: make(map[string]bool)}, nil
}

// writeHeader writes the column names and closes f.
func writeHeader(f *os.File) error {
	w := csv.NewWriter(f)
	w.Write(header)
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("write attendance log header: %w", err)
	}
	return f.Close()
}

// Path returns the log location.
func (l *Ledger) Path() string { return l.path }

// MarkPresent appends (name, Present) unless the name is already logged.
// It reports whether a row was written.
func (l *Ledger) MarkPresent(name string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	present, err := l.contains(name)
	if err != nil {
		return false, err
	}
	if present {
		return false, nil
	}

	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return false, fmt.Errorf("open attendance log: %w", err)
	}
	w := csv.NewWriter(f)
	w.Write([]string{name, StatusPresent})
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return false, fmt.Errorf("append attendance log: %w", err)
	}
	if err := f.Close(); err != nil {
		return false, err
	}

	l.seen[name] = true
	return true, nil
}

func (l *Ledger) contains(name string) (bool, error) {
	if l.scope == ScopeRun {
		return l.seen[name], nil
	}
	existing, err := os.ReadFile(l.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("read attendance log: %w", err)
	}
	return strings.Contains(string(existing), name), nil
}

// Entry is one parsed log row.
type Entry struct {
	Name   string
	Status string
}

// ReadEntries parses the log, skipping the header row.
func ReadEntries(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var out []Entry
	first := true
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse attendance log: %w", err)
		}
		if first {
			first = false
			if len(row) == 2 && row[0] == header[0] && row[1] == header[1] {
				continue
			}
		}
		e := Entry{Name: row[0]}
		if len(row) > 1 {
			e.Status = row[1]
		}
		out = append(out, e)
	}
	return out, nil
}

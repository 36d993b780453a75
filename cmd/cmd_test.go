package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/andresmejia3/rollcall/internal/enroll"
	"github.com/andresmejia3/rollcall/internal/report"
	"github.com/andresmejia3/rollcall/internal/store"
)

func TestDatabaseURL(t *testing.T) {
	tests := []struct {
		name     string
		explicit string
		env      map[string]string
		want     string
	}{
		{"explicit wins", "postgres://db/x", map[string]string{"POSTGRES_HOST": "other"}, "postgres://db/x"},
		{"disabled", "", nil, ""},
		{
			name: "from environment",
			env:  map[string]string{"POSTGRES_HOST": "pg", "POSTGRES_USER": "u", "POSTGRES_PASSWORD": "p", "POSTGRES_DB": "rollcall"},
			want: "postgres://u:p@pg:5432/rollcall",
		},
		{
			name: "custom port",
			env:  map[string]string{"POSTGRES_HOST": "pg", "POSTGRES_PORT": "6543"},
			want: "postgres://:@pg:6543/",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"POSTGRES_HOST", "POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_DB", "POSTGRES_PORT"} {
				t.Setenv(k, "")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if got := databaseURL(tt.explicit); got != tt.want {
				t.Errorf("databaseURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestListLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "attendance.csv")

	var out bytes.Buffer
	if err := listLedger(&out, path); err != nil {
		t.Fatalf("missing log: %v", err)
	}
	if !strings.Contains(out.String(), "No attendance recorded yet.") {
		t.Errorf("unexpected output for missing log: %q", out.String())
	}

	ledger, err := report.OpenLedger(path, report.ScopeRun)
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"Alice", "Bob(22CS01)"} {
		if _, err := ledger.MarkPresent(name); err != nil {
			t.Fatal(err)
		}
	}

	out.Reset()
	if err := listLedger(&out, path); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"NAME", "Alice", "Bob(22CS01)", "Present"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestWriteRecordsAndSessions(t *testing.T) {
	sid := 7
	var out bytes.Buffer
	writeRecords(&out, []store.Record{
		{SessionID: "0123456789abcdef", Label: "Bob(22CS01)", RollNumber: "22CS01", StudentID: &sid, Status: "present", MarkedAt: time.Now()},
		{SessionID: "0123456789abcdef", Label: "Alice", Status: "present", MarkedAt: time.Now()},
	})
	text := out.String()
	if !strings.Contains(text, "01234567 ") || strings.Contains(text, "0123456789abcdef") {
		t.Errorf("session ids should be shortened:\n%s", text)
	}
	if !strings.Contains(text, "22CS01") || !strings.Contains(text, " 7 ") {
		t.Errorf("missing roll or student id:\n%s", text)
	}

	out.Reset()
	writeSessions(&out, []store.Session{{ID: "s1", Course: "CS101", Semester: "fall", ClassID: 3, StartedAt: time.Now()}})
	if !strings.Contains(out.String(), "running") {
		t.Errorf("open session should show as running:\n%s", out.String())
	}
}

func TestRemoveCaches(t *testing.T) {
	root := t.TempDir()
	dirs := []string{filepath.Join(root, "CS101", "fall"), filepath.Join(root, "CS102", "spring")}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(d, enroll.CacheFile), []byte("{}"), 0644); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(d, "Alice.jpg"), []byte("jpeg"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	n, err := removeCaches(root)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("removed %d caches, want 2", n)
	}
	for _, d := range dirs {
		if _, err := os.Stat(filepath.Join(d, enroll.CacheFile)); !os.IsNotExist(err) {
			t.Errorf("cache in %s still present", d)
		}
		if _, err := os.Stat(filepath.Join(d, "Alice.jpg")); err != nil {
			t.Errorf("reference image in %s was removed", d)
		}
	}

	if n, err := removeCaches(filepath.Join(root, "missing")); err != nil || n != 0 {
		t.Errorf("missing root: n=%d err=%v", n, err)
	}
}

func TestCommandsRegistered(t *testing.T) {
	for _, name := range []string{"attend", "enroll", "identify", "list", "reset", "serve"} {
		c, _, err := rootCmd.Find([]string{name})
		if err != nil || c.Name() != name {
			t.Errorf("command %q not registered", name)
		}
	}
}

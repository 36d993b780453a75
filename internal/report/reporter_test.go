package report

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresmejia3/rollcall/internal/backend"
	"github.com/andresmejia3/rollcall/internal/enroll"
	"github.com/andresmejia3/rollcall/internal/store"
)

type fakeRelay struct {
	students  map[string]backend.Student
	lookupErr error
	submitErr error
	lookups   []string
	marks     []backend.AttendanceMark
}

func (f *fakeRelay) LookupStudent(_ context.Context, roll string) (*backend.Student, error) {
	f.lookups = append(f.lookups, roll)
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	s, ok := f.students[roll]
	if !ok {
		return nil, backend.ErrNotFound
	}
	return &s, nil
}

func (f *fakeRelay) MarkAttendance(_ context.Context, mark backend.AttendanceMark) error {
	f.marks = append(f.marks, mark)
	return f.submitErr
}

type fakeMirror struct {
	records []store.Record
	err     error
}

func (f *fakeMirror) RecordAttendance(_ context.Context, rec store.Record) error {
	f.records = append(f.records, rec)
	return f.err
}

var (
	alice = enroll.Identity{Label: "Alice"}
	bob   = enroll.Identity{Label: "Bob(22CS01)", Roll: "22CS01"}
)

func newReporter(t *testing.T, relay Relay, mirror Mirror) (*Reporter, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "attendance.csv")
	ledger, err := OpenLedger(path, ScopeFile)
	require.NoError(t, err)

	logger, _ := test.NewNullLogger()
	fixed := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	return New(ledger, relay, mirror, Config{
		ClassID:   3,
		SessionID: "sess-1",
		Log:       logger,
		Now:       func() time.Time { return fixed },
	}), path
}

func TestReport_BobResolvedAndSubmitted(t *testing.T) {
	relay := &fakeRelay{students: map[string]backend.Student{"22CS01": {ID: 7, FullName: "Bob Builder"}}}
	mirror := &fakeMirror{}
	r, path := newReporter(t, relay, mirror)

	out := r.Report(context.Background(), bob)
	require.NoError(t, out.Err())
	assert.True(t, out.FirstSighting)
	assert.True(t, out.Logged)
	assert.True(t, out.Relayed)
	assert.Equal(t, []string{"22CS01"}, relay.lookups)
	assert.Equal(t, []backend.AttendanceMark{{StudentID: 7, ClassID: 3, Status: "present"}}, relay.marks)

	entries, err := ReadEntries(path)
	require.NoError(t, err)
	assert.Equal(t, []Entry{{Name: "Bob(22CS01)", Status: "Present"}}, entries)

	require.Len(t, mirror.records, 1)
	assert.Equal(t, "sess-1", mirror.records[0].SessionID)
	require.NotNil(t, mirror.records[0].StudentID)
	assert.Equal(t, 7, *mirror.records[0].StudentID)
}

func TestReport_OncePerRun(t *testing.T) {
	relay := &fakeRelay{students: map[string]backend.Student{"22CS01": {ID: 7}}}
	r, path := newReporter(t, relay, nil)

	first := r.Report(context.Background(), bob)
	second := r.Report(context.Background(), bob)

	assert.True(t, first.FirstSighting)
	assert.False(t, second.FirstSighting)
	assert.False(t, second.Logged)
	assert.Len(t, relay.marks, 1)
	assert.True(t, r.Seen("Bob(22CS01)"))

	entries, err := ReadEntries(path)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestReport_NoRollSkipsBackend(t *testing.T) {
	relay := &fakeRelay{}
	r, _ := newReporter(t, relay, nil)

	out := r.Report(context.Background(), alice)
	assert.True(t, out.Logged)
	assert.False(t, out.Relayed)
	assert.Empty(t, relay.lookups)
}

func TestReport_RemoteFailuresKeepLocalAppend(t *testing.T) {
	t.Run("lookup error", func(t *testing.T) {
		relay := &fakeRelay{lookupErr: errors.New("connection refused")}
		r, path := newReporter(t, relay, nil)

		out := r.Report(context.Background(), bob)
		assert.True(t, out.Logged)
		assert.Error(t, out.LookupErr)
		assert.Empty(t, relay.marks)

		entries, err := ReadEntries(path)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("submit error", func(t *testing.T) {
		relay := &fakeRelay{
			students:  map[string]backend.Student{"22CS01": {ID: 7}},
			submitErr: errors.New("503"),
		}
		mirror := &fakeMirror{err: errors.New("db down")}
		r, _ := newReporter(t, relay, mirror)

		out := r.Report(context.Background(), bob)
		assert.True(t, out.Logged)
		assert.False(t, out.Relayed)
		assert.Error(t, out.SubmitErr)
		assert.Error(t, out.MirrorErr)
		assert.Error(t, out.Err())
	})
}

// An unenrolled roll number returns 404: submission is skipped and nothing crashes.
func TestReport_UnknownRollAgainstBackend(t *testing.T) {
	var posts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			posts++
			w.WriteHeader(http.StatusOK)
			return
		}
		http.Error(w, `{"detail":"not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	r, path := newReporter(t, backend.NewClient(srv.URL, time.Second), nil)
	ghost := enroll.Identity{Label: "Ghost(00XX00)", Roll: "00XX00"}

	out := r.Report(context.Background(), ghost)
	assert.ErrorIs(t, out.LookupErr, backend.ErrNotFound)
	assert.False(t, out.Relayed)
	assert.Zero(t, posts)

	entries, err := ReadEntries(path)
	require.NoError(t, err)
	assert.Equal(t, []Entry{{Name: "Ghost(00XX00)", Status: "Present"}}, entries)
}

func TestNew_Defaults(t *testing.T) {
	ledger, err := OpenLedger(filepath.Join(t.TempDir(), "a.csv"), ScopeRun)
	require.NoError(t, err)
	r := New(ledger, nil, nil, Config{})
	assert.Equal(t, logrus.StandardLogger(), r.cfg.Log)
	assert.NotNil(t, r.cfg.Now)
}

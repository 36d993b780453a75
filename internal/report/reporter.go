package report

import (
	"context"
	"errors"
	"time"

	"github.com/andresmejia3/rollcall/internal/backend"
	"github.com/andresmejia3/rollcall/internal/enroll"
	"github.com/andresmejia3/rollcall/internal/store"
	"github.com/sirupsen/logrus"
)

// Relay is the remote attendance service.
type Relay interface {
	LookupStudent(ctx context.Context, roll string) (*backend.Student, error)
	MarkAttendance(ctx context.Context, mark backend.AttendanceMark) error
}

// Mirror is an optional database copy of every mark.
type Mirror interface {
	RecordAttendance(ctx context.Context, rec store.Record) error
}

// Config holds the fixed values attached to every report
type Config struct {
	ClassID   int
	SessionID string
	Log       logrus.FieldLogger
	Now       func() time.Time
}

// Outcome describes what one Report call did. Remote and mirror failures never undo
// the local append.
type Outcome struct {
	Identity      enroll.Identity
	FirstSighting bool

	Logged    bool
	LedgerErr error

	Student   *backend.Student
	Relayed   bool
	LookupErr error
	SubmitErr error

	MirrorErr error
}

// Err joins every failure recorded in the outcome.
func (o Outcome) Err() error {
	return errors.Join(o.LedgerErr, o.LookupErr, o.SubmitErr, o.MirrorErr)
}

// Reporter marks recognized identities present. Each identity is handled once per run.
type Reporter struct {
	ledger *Ledger
	relay  Relay
	mirror Mirror
	cfg    Config
	seen   map[string]bool
}

// New creates a Reporter. relay and mirror may be nil.
func New(ledger *Ledger, relay Relay, mirror Mirror, cfg Config) *Reporter {
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Reporter{
		ledger: ledger,
		relay:  relay,
		mirror: mirror,
		cfg:    cfg,
		seen:   make(map[string]bool),
	}
}

// Seen reports whether the identity was already handled in this run.
func (r *Reporter) Seen(label string) bool { return r.seen[label] }

// Report runs the local append, the remote relay and the mirror for a recognized identity.
func (r *Reporter) Report(ctx context.Context, id enroll.Identity) Outcome {
	out := Outcome{Identity: id}
	if r.seen[id.Label] {
		return out
	}
	r.seen[id.Label] = true
	out.FirstSighting = true

	log := r.cfg.Log.WithFields(logrus.Fields{"identity": id.Label, "roll": id.Roll})

	// 1. Local append
	out.Logged, out.LedgerErr = r.ledger.MarkPresent(id.Label)
	switch {
	case out.LedgerErr != nil:
		log.WithError(out.LedgerErr).Error("Failed to append attendance log")
	case out.Logged:
		log.Info("✅ Marked present in local log")
	default:
		log.Debug("Already present in local log")
	}

	// 2. Remote relay
	if r.relay != nil && id.Roll != "" {
		r.relayPresence(ctx, id, &out, log)
	} else if id.Roll == "" {
		log.Debug("No roll number in label, skipping backend")
	}

	// 3. Mirror
	if r.mirror != nil {
		rec := store.Record{
			SessionID:  r.cfg.SessionID,
			Label:      id.Label,
			RollNumber: id.Roll,
			Status:     backend.StatusPresent,
			MarkedAt:   r.cfg.Now(),
		}
		if out.Student != nil {
			sid := out.Student.ID
			rec.StudentID = &sid
		}
		if out.MirrorErr = r.mirror.RecordAttendance(ctx, rec); out.MirrorErr != nil {
			log.WithError(out.MirrorErr).Warn("Failed to record attendance in database")
		}
	}

	return out
}

func (r *Reporter) relayPresence(ctx context.Context, id enroll.Identity, out *Outcome, log logrus.FieldLogger) {
	student, err := r.relay.LookupStudent(ctx, id.Roll)
	if err != nil {
		out.LookupErr = err
		if errors.Is(err, backend.ErrNotFound) {
			log.Warn("Roll number not registered in backend")
		} else {
			log.WithError(err).Warn("Student lookup failed")
		}
		return
	}
	out.Student = student

	mark := backend.AttendanceMark{
		StudentID: student.ID,
		ClassID:   r.cfg.ClassID,
		Status:    backend.StatusPresent,
	}
	if err := r.relay.MarkAttendance(ctx, mark); err != nil {
		out.SubmitErr = err
		log.WithError(err).Warn("Attendance submission failed")
		return
	}
	out.Relayed = true
	log.WithField("student", student.FullName).Info("📤 Attendance sent to backend")
}

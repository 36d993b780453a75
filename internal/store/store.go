package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Store manages the PostgreSQL attendance ledger.
type Store struct {
	conn *pgx.Conn
}

// Session is one run of the recognizer for a class.
type Session struct {
	ID        string
	Course    string
	Semester  string
	ClassID   int
	StartedAt time.Time
	EndedAt   *time.Time
}

// Record is one presence mark.
type Record struct {
	SessionID  string
	Label      string
	RollNumber string
	StudentID  *int // nil when the backend could not resolve the roll number
	Status     string
	MarkedAt   time.Time
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the ledger tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS attendance_sessions (
			id TEXT PRIMARY KEY,
			course TEXT NOT NULL,
			semester TEXT NOT NULL,
			class_id INT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			ended_at TIMESTAMPTZ
		);
		CREATE TABLE IF NOT EXISTS attendance_records (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES attendance_sessions(id) ON DELETE CASCADE,
			label TEXT NOT NULL,
			roll_number TEXT NOT NULL DEFAULT '',
			student_id INT,
			status TEXT NOT NULL,
			marked_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (session_id, label)
		);
		CREATE INDEX IF NOT EXISTS attendance_records_session_idx ON attendance_records (session_id);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// StartSession registers a new recognizer run.
func (s *Store) StartSession(ctx context.Context, sess Session) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO attendance_sessions (id, course, semester, class_id, started_at)
		VALUES ($1, $2, $3, $4, $5)
	`, sess.ID, sess.Course, sess.Semester, sess.ClassID, sess.StartedAt)
	return err
}

// EndSession stamps the end time of a run.
func (s *Store) EndSession(ctx context.Context, id string, at time.Time) error {
	_, err := s.conn.Exec(ctx, "UPDATE attendance_sessions SET ended_at = $1 WHERE id = $2", at, id)
	return err
}

// RecordAttendance saves a presence mark. A second mark for the same label in the same
// session is ignored.
func (s *Store) RecordAttendance(ctx context.Context, rec Record) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO attendance_records (session_id, label, roll_number, student_id, status, marked_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id, label) DO NOTHING
	`, rec.SessionID, rec.Label, rec.RollNumber, rec.StudentID, rec.Status, rec.MarkedAt)
	return err
}

// ListAttendance returns the marks of one session, or of every session when sessionID is empty.
func (s *Store) ListAttendance(ctx context.Context, sessionID string) ([]Record, error) {
	query := `
		SELECT session_id, label, roll_number, student_id, status, marked_at
		FROM attendance_records
		WHERE $1 = '' OR session_id = $1
		ORDER BY marked_at ASC, id ASC
	`
	rows, err := s.conn.Query(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.SessionID, &r.Label, &r.RollNumber, &r.StudentID, &r.Status, &r.MarkedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListSessions returns every run, newest first.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT id, course, semester, class_id, started_at, ended_at
		FROM attendance_sessions
		ORDER BY started_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.Course, &sess.Semester, &sess.ClassID, &sess.StartedAt, &sess.EndedAt); err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS attendance_records CASCADE;
		DROP TABLE IF EXISTS attendance_sessions CASCADE;
	`)
	return err
}

package backend

import (
	"errors"
	"fmt"
)

// StatusPresent is the only status the recognizer ever submits.
const StatusPresent = "present"

// ErrNotFound is returned when the backend has no student for a roll number.
var ErrNotFound = errors.New("student not found")

// Student is the canonical record the backend returns for a roll number
type Student struct {
	ID         int    `json:"id"`
	FullName   string `json:"full_name"`
	RollNumber string `json:"roll_number"`
}

// AttendanceMark is the body of POST /attendance/mark
type AttendanceMark struct {
	StudentID int    `json:"student_id"`
	ClassID   int    `json:"class_id"`
	Status    string `json:"status"`
}

// APIError carries a non-2xx response.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d on %s %s: %s", e.StatusCode, e.Method, e.Path, e.Body)
}

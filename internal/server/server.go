// Package server is the HTTP launcher for attendance sessions. It runs at most one
// session at a time in the background.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/andresmejia3/rollcall/internal/attend"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
)

// Session states reported by the status endpoint.
const (
	StateIdle     = "idle"
	StateStarting = "starting"
	StateRunning  = "running"
	StateFinished = "finished"
	StateFailed   = "failed"
)

var ErrBusy = errors.New("an attendance session is already running")

// StartRequest selects the class to take attendance for.
type StartRequest struct {
	Course   string `json:"course" form:"course" validate:"required"`
	Semester string `json:"semester" form:"semester" validate:"required"`
}

// Runner runs one session until stop is closed or ctx ends. onStart is called once the
// camera loop is about to begin. A nil stats result with a nil error means nothing ran.
type Runner func(ctx context.Context, req StartRequest, stop <-chan struct{}, onStart func(id string, s *attend.Session)) (*attend.Stats, error)

// Status is the JSON body of GET /attendance/status.
type Status struct {
	State      string     `json:"state"`
	SessionID  string     `json:"session_id,omitempty"`
	Course     string     `json:"course,omitempty"`
	Semester   string     `json:"semester,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	Frames     int        `json:"frames"`
	Attempts   int        `json:"attempts"`
	Recognized int        `json:"recognized"`
	Reported   int        `json:"reported"`
	LastResult string     `json:"last_result,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	Error      string     `json:"error,omitempty"`
}

type response struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type job struct {
	req       StartRequest
	startedAt time.Time
	stop      chan struct{}
	stopOnce  sync.Once
	done      chan struct{}

	// guarded by Launcher.mu
	id      string
	session *attend.Session
	stats   *attend.Stats
	err     error
}

func (j *job) finished() bool {
	select {
	case <-j.done:
		return true
	default:
		return false
	}
}

// Launcher owns the background session.
type Launcher struct {
	run Runner
	ctx context.Context
	log logrus.FieldLogger

	mu  sync.Mutex
	cur *job
}

// NewLauncher creates a launcher. Sessions are cancelled when ctx ends.
func NewLauncher(ctx context.Context, run Runner, log logrus.FieldLogger) *Launcher {
	return &Launcher{run: run, ctx: ctx, log: log}
}

// Start launches a session in the background.
func (l *Launcher) Start(req StartRequest) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cur != nil && !l.cur.finished() {
		return ErrBusy
	}

	j := &job{req: req, startedAt: time.Now(), stop: make(chan struct{}), done: make(chan struct{})}
	l.cur = j

	go func() {
		defer close(j.done)
		stats, err := l.run(l.ctx, req, j.stop, func(id string, s *attend.Session) {
			l.mu.Lock()
			j.id, j.session = id, s
			l.mu.Unlock()
		})

		l.mu.Lock()
		j.stats, j.err = stats, err
		l.mu.Unlock()

		entry := l.log.WithFields(logrus.Fields{"course": req.Course, "semester": req.Semester})
		if err != nil {
			entry.WithError(err).Error("Attendance session failed")
		} else {
			entry.Info("Attendance session ended")
		}
	}()
	return nil
}

// Stop asks the running session to end. It reports false when nothing is running.
func (l *Launcher) Stop() bool {
	l.mu.Lock()
	j := l.cur
	l.mu.Unlock()
	if j == nil || j.finished() {
		return false
	}
	j.stopOnce.Do(func() { close(j.stop) })
	return true
}

// Wait blocks until the current session, if any, has ended or ctx is done.
func (l *Launcher) Wait(ctx context.Context) error {
	l.mu.Lock()
	j := l.cur
	l.mu.Unlock()
	if j == nil {
		return nil
	}
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status describes the current or last session.
func (l *Launcher) Status() Status {
	l.mu.Lock()
	j := l.cur
	if j == nil {
		l.mu.Unlock()
		return Status{State: StateIdle}
	}
	id, session, stats, err := j.id, j.session, j.stats, j.err
	l.mu.Unlock()

	started := j.startedAt
	st := Status{
		SessionID: id,
		Course:    j.req.Course,
		Semester:  j.req.Semester,
		StartedAt: &started,
	}

	var last string
	if session != nil {
		s, res := session.Snapshot()
		if stats == nil {
			stats = &s
		}
		last = res.Text()
	}
	if stats != nil {
		st.Frames, st.Attempts = stats.Frames, stats.Attempts
		st.Recognized, st.Reported = stats.Recognized, stats.Reported
		st.Reason = stats.Reason
	}

	switch {
	case !j.finished() && session == nil:
		st.State = StateStarting
	case !j.finished():
		st.State = StateRunning
		st.LastResult = last
	case err != nil:
		st.State = StateFailed
		st.Error = err.Error()
	default:
		st.State = StateFinished
	}
	return st
}

type requestValidator struct {
	v *validator.Validate
}

func (r *requestValidator) Validate(i interface{}) error { return r.v.Struct(i) }

// Options configures the HTTP server.
type Options struct {
	Origins        []string
	DisableReqLogs bool
	Log            logrus.FieldLogger
}

// New builds the echo application.
func New(l *Launcher, opts Options) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = &requestValidator{v: validator.New()}

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	if len(opts.Origins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:     opts.Origins,
			AllowCredentials: true,
		}))
	}
	if !opts.DisableReqLogs && opts.Log != nil {
		e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
			LogMethod: true,
			LogURI:    true,
			LogStatus: true,
			LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
				opts.Log.WithFields(logrus.Fields{"method": v.Method, "uri": v.URI, "status": v.Status}).Info("request")
				return nil
			},
		}))
	}

	h := &handlers{l: l}
	e.GET("/", h.home)
	e.POST("/start-attendance", h.start)
	e.POST("/stop-attendance", h.stop)
	e.GET("/attendance/status", h.status)
	return e
}

type handlers struct {
	l *Launcher
}

const homePage = `<html>
    <body>
        <h2>AI Attendance System</h2>
        <form action="/start-attendance" method="post">
            <input name="course" placeholder="Course" required>
            <input name="semester" placeholder="Semester" required>
            <button type="submit" style="padding: 10px 20px; font-size: 16px;">Start Attendance</button>
        </form>
        <form action="/stop-attendance" method="post">
            <button type="submit" style="padding: 10px 20px; font-size: 16px;">Stop Attendance</button>
        </form>
    </body>
</html>`

func (h *handlers) home(c echo.Context) error {
	return c.HTML(http.StatusOK, homePage)
}

func (h *handlers) start(c echo.Context) error {
	var req StartRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, response{Status: "error", Message: "malformed request"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, response{Status: "error", Message: "course and semester are required"})
	}

	if err := h.l.Start(req); err != nil {
		if errors.Is(err, ErrBusy) {
			return c.JSON(http.StatusConflict, response{Status: "busy", Message: err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, response{Status: "error", Message: err.Error()})
	}
	return c.JSON(http.StatusOK, response{Status: "started", Message: "Attendance system launched"})
}

func (h *handlers) stop(c echo.Context) error {
	if !h.l.Stop() {
		return c.JSON(http.StatusConflict, response{Status: "idle", Message: "no attendance session is running"})
	}
	return c.JSON(http.StatusOK, response{Status: "stopping", Message: "Attendance session is stopping"})
}

func (h *handlers) status(c echo.Context) error {
	return c.JSON(http.StatusOK, h.l.Status())
}

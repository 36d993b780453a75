// Package attend runs the live capture, recognize and report loop.
package attend

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/andresmejia3/rollcall/internal/capture"
	"github.com/andresmejia3/rollcall/internal/enroll"
	"github.com/andresmejia3/rollcall/internal/match"
	"github.com/andresmejia3/rollcall/internal/report"
	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/andresmejia3/rollcall/internal/utils"
	"github.com/sirupsen/logrus"
)

// DefaultCooldown is the minimum spacing between two recognition attempts.
const DefaultCooldown = 2 * time.Second

// Reasons a session ended.
const (
	ReasonEndOfStream = "end-of-stream"
	ReasonCapture     = "capture-failed"
	ReasonStopped     = "stopped"
	ReasonCanceled    = "canceled"
)

var ErrAlreadyRun = errors.New("session already ran")

// Reporter records a recognized identity.
type Reporter interface {
	Report(ctx context.Context, id enroll.Identity) report.Outcome
}

// Sink presents a frame with the most recent result.
type Sink interface {
	Show(frame types.Frame, res match.Result) error
}

// Config tunes the loop.
type Config struct {
	NthFrame       int
	Cooldown       time.Duration
	DownscaleWidth int
	Stop           <-chan struct{} // closed by the operator to end the session
	Log            logrus.FieldLogger
	Now            func() time.Time
}

// Stats summarizes a run.
type Stats struct {
	Frames     int
	Attempts   int
	Recognized int
	Reported   int
	Reason     string
	ReadErr    error // the capture error that ended the run, if any
}

// Session owns one camera for the duration of Run.
type Session struct {
	cam      capture.Source
	emb      enroll.Embedder
	gallery  *enroll.Gallery
	matcher  match.Matcher
	reporter Reporter
	sink     Sink
	throttle *Throttle
	cfg      Config

	mu    sync.Mutex
	stats Stats
	last  match.Result
	ran   bool
}

// NewSession wires the loop. reporter and sink may be nil.
func NewSession(cam capture.Source, emb enroll.Embedder, g *enroll.Gallery, m match.Matcher, reporter Reporter, sink Sink, cfg Config) *Session {
	if cfg.NthFrame < 1 {
		cfg.NthFrame = 1
	}
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	return &Session{
		cam:      cam,
		emb:      emb,
		gallery:  g,
		matcher:  m,
		reporter: reporter,
		sink:     sink,
		throttle: NewThrottle(cfg.Cooldown, cfg.Now),
		cfg:      cfg,
		last:     match.Result{Outcome: match.Pending},
	}
}

// Snapshot returns the running stats and the latest result. Safe to call from other goroutines.
func (s *Session) Snapshot() (Stats, match.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats, s.last
}

// Run reads frames until the source fails, the operator stops the session or ctx is done.
// All of these are normal terminations. The source is closed exactly once before Run returns.
func (s *Session) Run(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	if s.ran {
		s.mu.Unlock()
		return Stats{}, ErrAlreadyRun
	}
	s.ran = true
	s.mu.Unlock()

	defer s.cam.Close()

	log := s.cfg.Log
	for {
		frame, err := s.cam.Read()
		if err != nil {
			reason := ReasonCapture
			if capture.IsEndOfStream(err) {
				reason = ReasonEndOfStream
				err = nil
			} else {
				log.WithError(err).Warn("⚠️  Camera read failed, ending session")
			}
			return s.finish(reason, err), nil
		}

		s.mu.Lock()
		s.stats.Frames++
		eligible := s.stats.Frames%s.cfg.NthFrame == 0
		s.mu.Unlock()

		if eligible && s.throttle.Allow() {
			s.attempt(ctx, frame)
		}

		s.mu.Lock()
		last := s.last
		s.mu.Unlock()
		if s.sink != nil {
			if err := s.sink.Show(frame, last); err != nil {
				log.WithError(err).Debug("display sink failed")
			}
		}

		select {
		case <-s.cfg.Stop:
			return s.finish(ReasonStopped, nil), nil
		case <-ctx.Done():
			return s.finish(ReasonCanceled, nil), nil
		default:
		}
	}
}

func (s *Session) attempt(ctx context.Context, frame types.Frame) {
	log := s.cfg.Log.WithField("frame", frame.Index)

	data := frame.Data
	if s.cfg.DownscaleWidth > 0 {
		small, err := utils.Downscale(data, s.cfg.DownscaleWidth)
		if err != nil {
			log.WithError(err).Debug("downscale failed, using full frame")
		} else {
			data = small
		}
	}

	faces, err := s.emb.Embed(ctx, data)
	res := s.matcher.Classify(faces, err, s.gallery)
	if res.Err != nil {
		log.WithError(res.Err).Debug("recognition attempt failed")
	}

	reported := false
	if res.Outcome == match.Recognized && s.reporter != nil {
		out := s.reporter.Report(ctx, res.Identity)
		reported = out.FirstSighting
	}

	s.mu.Lock()
	s.stats.Attempts++
	if res.Outcome == match.Recognized {
		s.stats.Recognized++
	}
	if reported {
		s.stats.Reported++
	}
	s.last = res
	s.mu.Unlock()
}

func (s *Session) finish(reason string, readErr error) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Reason = reason
	s.stats.ReadErr = readErr
	return s.stats
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/andresmejia3/rollcall/internal/attend"
	"github.com/andresmejia3/rollcall/internal/backend"
	"github.com/andresmejia3/rollcall/internal/capture"
	"github.com/andresmejia3/rollcall/internal/config"
	"github.com/andresmejia3/rollcall/internal/console"
	"github.com/andresmejia3/rollcall/internal/display"
	"github.com/andresmejia3/rollcall/internal/enroll"
	"github.com/andresmejia3/rollcall/internal/match"
	"github.com/andresmejia3/rollcall/internal/report"
	"github.com/andresmejia3/rollcall/internal/store"
	"github.com/andresmejia3/rollcall/internal/utils"
	"github.com/andresmejia3/rollcall/internal/worker"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var attendRebuild bool

var attendCmd = &cobra.Command{
	Use:   "attend <course> <semester>",
	Short: "Recognize faces from the camera and mark attendance",
	Long: `Enrolls the reference images in <faces-dir>/<course>/<semester>, then watches the camera
and marks every recognized person present. Press ESC or q to stop.

With ROLLCALL_HEADLESS (or HEADLESS) set, only the enrollment runs.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		job := attendJob{Course: args[0], Semester: args[1], Rebuild: attendRebuild}
		if !Conf.Headless {
			job.WatchKeys = watchKeys
		}

		stats, err := runAttendance(cmd.Context(), job)
		if err != nil {
			return err
		}
		if stats != nil {
			printSummary(*stats)
		}
		return nil
	},
}

func init() {
	f := attendCmd.Flags()
	f.BoolVar(&attendRebuild, "rebuild", false, "Ignore the embedding cache and re-embed every reference image")
	f.IntP("nth-frame", "n", 1, "Only every Nth frame is eligible for recognition")
	f.Duration("cooldown", 2*time.Second, "Minimum time between two recognition attempts")
	f.Float64P("threshold", "t", match.DefaultThreshold, "Maximum Euclidean distance for a match (lower is stricter)")
	f.Int("downscale-width", 0, "Shrink frames to this width before recognition (0 keeps them)")
	f.String("camera", "/dev/video0", "Camera device, or any ffmpeg input with --camera-driver ffmpeg")
	f.String("camera-driver", "v4l2", "Capture driver (v4l2, ffmpeg)")
	f.String("preview", "", "Write the annotated live frame to this JPEG file")
	f.String("ledger-scope", "file", "Duplicate check for the local log (file, run)")

	configFlag(attendCmd, "nth-frame", "nth_frame")
	configFlag(attendCmd, "cooldown", "cooldown")
	configFlag(attendCmd, "threshold", "threshold")
	configFlag(attendCmd, "downscale-width", "downscale_width")
	configFlag(attendCmd, "camera", "camera.device")
	configFlag(attendCmd, "camera-driver", "camera.driver")
	configFlag(attendCmd, "preview", "preview.path")
	configFlag(attendCmd, "ledger-scope", "ledger.scope")

	rootCmd.AddCommand(attendCmd)
}

// attendJob is one attendance session request, from the CLI or the HTTP launcher.
type attendJob struct {
	Course   string
	Semester string
	Rebuild  bool
	Stop     <-chan struct{}
	// WatchKeys, when set, replaces Stop. It is called once the camera is open and
	// its restore func runs as soon as the loop ends.
	WatchKeys func() (stop <-chan struct{}, restore func(), err error)
	// OnStart, when set, receives the session right before its loop starts.
	OnStart func(id string, s *attend.Session)
}

// watchKeys enters raw mode for the stop keys. Log lines get "\r\n" while it lasts.
func watchKeys() (<-chan struct{}, func(), error) {
	fmt.Fprintln(os.Stderr, "⌨️  Press ESC or q to stop...")
	if !console.Interactive() {
		return console.WatchKeys()
	}
	stop, restore, err := console.WatchKeys()
	if err != nil {
		return nil, nil, err
	}
	out := log.Out
	log.SetOutput(console.RawWriter(out))
	return stop, func() {
		restore()
		log.SetOutput(out)
	}, nil
}

func workerConfig(cfg *config.Config) worker.Config {
	return worker.Config{
		Command:            cfg.Embedder.Command,
		Args:               cfg.Embedder.Args,
		Debug:              cfg.Embedder.Debug,
		DetectionThreshold: cfg.Embedder.DetectionThreshold,
		ReadTimeout:        cfg.Embedder.ReadTimeout,
	}
}

// startEngine launches the embedding worker and enrolls the reference directory of a course.
func startEngine(ctx context.Context, course, semester string, rebuild bool) (*worker.PythonWorker, *enroll.Gallery, error) {
	dir := Conf.ReferenceDir(course, semester)

	fmt.Fprintln(os.Stderr, "🚀 Starting AI Engine...")
	w, err := worker.NewPythonWorker(ctx, 0, workerConfig(Conf))
	if err != nil {
		utils.ShowError("Failed to start AI worker", err, nil)
		return nil, nil, err
	}

	fmt.Fprintf(os.Stderr, "📂 Enrolling reference images from %s\n", dir)
	gallery, stats, err := enroll.Build(ctx, w, enroll.Options{
		Dir:      dir,
		Rebuild:  rebuild,
		Progress: os.Stderr,
		Log:      log,
	})
	if err != nil {
		if errors.Is(err, enroll.ErrNoEnrollments) {
			utils.ShowError(fmt.Sprintf("No usable reference images in %s", dir), err, w.Cmd)
		} else {
			utils.ShowError("Enrollment failed", err, w.Cmd)
		}
		w.Close()
		return nil, nil, err
	}

	source := "embedded"
	if stats.FromCache {
		source = "loaded from cache"
	}
	fmt.Fprintf(os.Stderr, "👥 %d identities %s (%d skipped)\n", stats.Enrolled, source, stats.Skipped)
	return w, gallery, nil
}

// runAttendance enrolls, then runs the live loop until the camera ends, the job is
// stopped or ctx is cancelled. In headless mode it returns after enrollment with nil stats.
func runAttendance(ctx context.Context, job attendJob) (*attend.Stats, error) {
	w, gallery, err := startEngine(ctx, job.Course, job.Semester, job.Rebuild)
	if err != nil {
		return nil, err
	}
	defer w.Close()

	if Conf.Headless {
		fmt.Fprintln(os.Stderr, "🙈 Headless mode: enrollment done, camera not opened.")
		return nil, nil
	}

	sessionID := uuid.NewString()
	sessLog := log.WithFields(logrus.Fields{"session": sessionID[:8], "course": job.Course, "semester": job.Semester})

	ledger, err := report.OpenLedger(Conf.Ledger.Path, report.Scope(Conf.Ledger.Scope))
	if err != nil {
		utils.ShowError("Failed to open attendance log", err, nil)
		return nil, err
	}

	// Interfaces stay nil (not typed nil) when a sink is disabled
	var relay report.Relay
	if Conf.Backend.URL != "" {
		relay = backend.NewClient(Conf.Backend.URL, Conf.Backend.Timeout)
	}
	var mirror report.Mirror
	if DB != nil {
		mirror = DB
		if err := DB.StartSession(ctx, store.Session{
			ID:        sessionID,
			Course:    job.Course,
			Semester:  job.Semester,
			ClassID:   Conf.Backend.ClassID,
			StartedAt: time.Now(),
		}); err != nil {
			sessLog.WithError(err).Warn("Failed to register session in database")
		}
		defer func() {
			if err := DB.EndSession(context.Background(), sessionID, time.Now()); err != nil {
				sessLog.WithError(err).Warn("Failed to close session in database")
			}
		}()
	}

	reporter := report.New(ledger, relay, mirror, report.Config{
		ClassID:   Conf.Backend.ClassID,
		SessionID: sessionID,
		Log:       sessLog,
	})

	cam, err := capture.Open(capture.Option{
		Driver:      Conf.Camera.Driver,
		Device:      Conf.Camera.Device,
		InputFormat: Conf.Camera.InputFormat,
		Width:       Conf.Camera.Width,
		Height:      Conf.Camera.Height,
		WaitTimeout: Conf.Camera.WaitTimeout,
	})
	if err != nil {
		utils.ShowError("Failed to open camera", err, nil)
		return nil, err
	}

	sinks := display.Multi{&display.LogSink{Log: sessLog}}
	if Conf.Preview.Path != "" {
		sinks = append(sinks, &display.PreviewSink{Path: Conf.Preview.Path, Every: Conf.Preview.Every})
		fmt.Fprintf(os.Stderr, "🖼️  Live preview: %s\n", Conf.Preview.Path)
	}

	fmt.Fprintf(os.Stderr, "🎥 Attendance session %s started on %s\n", sessionID[:8], Conf.Camera.Device)
	stats, err := runLive(ctx, job, cam, func(stop <-chan struct{}) *attend.Session {
		session := attend.NewSession(cam, w, gallery, match.Matcher{Threshold: Conf.Threshold}, reporter, sinks, attend.Config{
			NthFrame:       Conf.NthFrame,
			Cooldown:       Conf.Cooldown,
			DownscaleWidth: Conf.DownscaleWidth,
			Stop:           stop,
			Log:            sessLog,
		})
		if job.OnStart != nil {
			job.OnStart(sessionID, session)
		}
		return session
	})
	if err != nil {
		return nil, err
	}
	if cameraFailed(stats) {
		utils.ShowErrorLogs("Camera stopped delivering frames", stats.ReadErr, "FFMPEG", captureLogs(cam))
	}
	return &stats, nil
}

// runLive starts the key watcher, if the job has one, and runs the session built for its
// stop channel. The terminal is restored before runLive returns.
func runLive(ctx context.Context, job attendJob, cam capture.Source, build func(stop <-chan struct{}) *attend.Session) (attend.Stats, error) {
	stop := job.Stop
	if job.WatchKeys != nil {
		keys, restore, err := job.WatchKeys()
		if err != nil {
			cam.Close()
			utils.ShowError("Failed to read keyboard", err, nil)
			return attend.Stats{}, err
		}
		defer restore()
		stop = keys
	}
	return build(stop).Run(ctx)
}

// cameraFailed reports whether the source broke. A stream that ends before its first frame
// counts too: ffmpeg exits right away on a bad input.
func cameraFailed(stats attend.Stats) bool {
	return stats.Reason == attend.ReasonCapture ||
		(stats.Reason == attend.ReasonEndOfStream && stats.Frames == 0)
}

// captureLogs returns the source's own diagnostics, if it keeps any.
func captureLogs(src capture.Source) string {
	if l, ok := src.(interface{ Logs() string }); ok {
		return l.Logs()
	}
	return ""
}

func printSummary(stats attend.Stats) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "📊 SESSION SUMMARY (%s)\n", stats.Reason)
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")

	w := tabwriter.NewWriter(os.Stderr, 0, 0, 3, ' ', 0)
	fmt.Fprintf(w, "Frames read\t%d\n", stats.Frames)
	fmt.Fprintf(w, "Recognition attempts\t%d\n", stats.Attempts)
	fmt.Fprintf(w, "Recognized\t%d\n", stats.Recognized)
	fmt.Fprintf(w, "Marked present\t%d\n", stats.Reported)
	w.Flush()
}

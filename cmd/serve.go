package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/andresmejia3/rollcall/internal/attend"
	"github.com/andresmejia3/rollcall/internal/server"
	"github.com/andresmejia3/rollcall/internal/utils"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP launcher for attendance sessions",
	Long: `Serves a small control page and JSON API:

  GET  /                    control page
  POST /start-attendance    {"course": "...", "semester": "..."}
  POST /stop-attendance
  GET  /attendance/status`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().String("addr", ":5000", "Listen address")
	configFlag(serveCmd, "addr", "serve.addr")
	rootCmd.AddCommand(serveCmd)
}

// launchSession adapts runAttendance to the HTTP launcher.
func launchSession(ctx context.Context, req server.StartRequest, stop <-chan struct{}, onStart func(string, *attend.Session)) (*attend.Stats, error) {
	return runAttendance(ctx, attendJob{
		Course:   req.Course,
		Semester: req.Semester,
		Stop:     stop,
		OnStart:  onStart,
	})
}

func runServe(ctx context.Context) error {
	launcher := server.NewLauncher(ctx, launchSession, log)
	e := server.New(launcher, server.Options{Origins: Conf.Serve.Origins, Log: log})

	ln, err := net.Listen("tcp", Conf.Serve.Addr)
	if err != nil {
		utils.ShowError(fmt.Sprintf("Failed to listen on %s", Conf.Serve.Addr), err, nil)
		return err
	}
	e.Listener = ln

	errc := make(chan error, 1)
	go func() { errc <- e.Start("") }()

	fmt.Fprintf(os.Stderr, "🌐 Attendance launcher listening on %s\n", ln.Addr())
	// No-op when not started by systemd
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.WithError(err).Debug("sd_notify failed")
	}

	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	fmt.Fprintln(os.Stderr, "🛑 Shutting down launcher...")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	launcher.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := launcher.Wait(shutdownCtx); err != nil {
		log.WithError(err).Warn("Attendance session did not stop in time")
	}
	return e.Shutdown(shutdownCtx)
}

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/rollcall/internal/config"
	"github.com/andresmejia3/rollcall/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	// DB is the optional database connection shared by subcommands. nil when no database is configured.
	DB *store.Store
	// Conf is the loaded configuration
	Conf *config.Config

	v       = config.NewViper()
	log     = logrus.New()
	envFile string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "rollcall",
	Short:   "Face Recognition Attendance Recorder",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(envFile); err != nil {
			return err
		}
		if err := bindConfigFlags(cmd); err != nil {
			return err
		}
		var err error
		Conf, err = config.Load(v)
		if err != nil {
			return err
		}

		level, err := logrus.ParseLevel(Conf.LogLevel)
		if err != nil {
			return err
		}
		log.SetLevel(level)

		dbURL := databaseURL(Conf.DatabaseURL)
		if dbURL == "" {
			return nil
		}
		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), dbURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// The main context might be cancelled already (Ctrl+C) and we still need to close the DB.
			DB.Close(context.Background())
		}
	},
}

// databaseURL returns the explicit connection string, or one built from the POSTGRES_* environment.
// An empty result means the database mirror is disabled.
func databaseURL(explicit string) string {
	if explicit != "" {
		return explicit
	}
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}
	user := os.Getenv("POSTGRES_USER")
	pass := os.Getenv("POSTGRES_PASSWORD")
	name := os.Getenv("POSTGRES_DB")
	port := os.Getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

const configKey = "config-key"

// configFlag marks a flag as the command line override of a config key.
func configFlag(cmd *cobra.Command, flag, key string) {
	fs := cmd.Flags()
	if fs.Lookup(flag) == nil {
		fs = cmd.PersistentFlags()
	}
	if err := fs.SetAnnotation(flag, configKey, []string{key}); err != nil {
		panic(err)
	}
}

// bindConfigFlags binds the flags of the running command only, so two commands may
// override the same key with their own flag.
func bindConfigFlags(cmd *cobra.Command) error {
	var err error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if keys, ok := f.Annotations[configKey]; ok && err == nil {
			err = v.BindPFlag(keys[0], f)
		}
	})
	return err
}

func init() {
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&envFile, "env-file", ".env", "Load environment variables from this file when it exists")
	pf.String("db", "", "PostgreSQL connection string for the attendance mirror (default: built from POSTGRES_* or disabled)")
	pf.String("faces-dir", "Faces", "Root of the reference images (<faces-dir>/<course>/<semester>)")
	pf.String("ledger", "attendance.csv", "Local attendance log")
	pf.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	pf.String("backend-url", "", "Attendance backend base URL (empty disables the relay)")
	pf.Int("class-id", 1, "Class id sent with every attendance mark")

	configFlag(rootCmd, "db", "db")
	configFlag(rootCmd, "faces-dir", "faces_dir")
	configFlag(rootCmd, "ledger", "ledger.path")
	configFlag(rootCmd, "log-level", "log_level")
	configFlag(rootCmd, "backend-url", "backend.url")
	configFlag(rootCmd, "class-id", "backend.class_id")
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/rollcall/internal/report"
	"github.com/andresmejia3/rollcall/internal/store"
	"github.com/andresmejia3/rollcall/internal/utils"
	"github.com/spf13/cobra"
)

var (
	listSession  string
	listSessions bool
	listLog      bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Show recorded attendance",
	Long:  "Prints the database ledger when a database is configured, otherwise the local attendance log.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		ctx := cmd.Context()

		if DB == nil || listLog {
			return listLedger(os.Stdout, Conf.Ledger.Path)
		}
		if listSessions {
			return listDBSessions(ctx, os.Stdout)
		}
		return listDBRecords(ctx, os.Stdout, listSession)
	},
}

func init() {
	listCmd.Flags().StringVar(&listSession, "session", "", "Only show marks of this session id")
	listCmd.Flags().BoolVar(&listSessions, "sessions", false, "List attendance sessions instead of marks")
	listCmd.Flags().BoolVar(&listLog, "log", false, "Read the local attendance log even when a database is configured")
	rootCmd.AddCommand(listCmd)
}

func listLedger(out io.Writer, path string) error {
	entries, err := report.ReadEntries(path)
	if errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(out, "No attendance recorded yet.")
		return nil
	}
	if err != nil {
		utils.ShowError("Failed to read attendance log", err, nil)
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No attendance recorded yet.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATUS")
	fmt.Fprintln(w, "----\t------")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\n", e.Name, e.Status)
	}
	return w.Flush()
}

func listDBRecords(ctx context.Context, out io.Writer, sessionID string) error {
	records, err := DB.ListAttendance(ctx, sessionID)
	if err != nil {
		utils.ShowError("Failed to list attendance", err, nil)
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(out, "No attendance found in database.")
		return nil
	}
	writeRecords(out, records)
	return nil
}

func writeRecords(out io.Writer, records []store.Record) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "SESSION\tNAME\tROLL\tSTUDENT\tSTATUS\tMARKED")
	fmt.Fprintln(w, "-------\t----\t----\t-------\t------\t------")
	for _, r := range records {
		roll, student := "-", "-"
		if r.RollNumber != "" {
			roll = r.RollNumber
		}
		if r.StudentID != nil {
			student = fmt.Sprint(*r.StudentID)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", shortID(r.SessionID), r.Label, roll, student, r.Status, r.MarkedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}

func listDBSessions(ctx context.Context, out io.Writer) error {
	sessions, err := DB.ListSessions(ctx)
	if err != nil {
		utils.ShowError("Failed to list sessions", err, nil)
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions found in database.")
		return nil
	}
	writeSessions(out, sessions)
	return nil
}

func writeSessions(out io.Writer, sessions []store.Session) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tCOURSE\tSEMESTER\tCLASS\tSTARTED\tENDED")
	fmt.Fprintln(w, "--\t------\t--------\t-----\t-------\t-----")
	for _, s := range sessions {
		ended := "running"
		if s.EndedAt != nil {
			ended = s.EndedAt.Local().Format("15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n", s.ID, s.Course, s.Semester, s.ClassID, s.StartedAt.Local().Format("2006-01-02 15:04"), ended)
	}
	w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

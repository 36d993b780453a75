package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/rollcall/internal/enroll"
	"github.com/andresmejia3/rollcall/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetDB    bool
	resetLog   bool
	resetCache bool
	resetYes   bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset system state (Attendance Log, Embedding Caches, Database)",
	Long:  "Clears all data. By default, it resets everything. Use flags to clear specific components.",
	Run: func(cmd *cobra.Command, args []string) {
		// If no flags are set, default to clearing EVERYTHING
		if !resetDB && !resetLog && !resetCache {
			resetDB = true
			resetLog = true
			resetCache = true
		}

		reader := bufio.NewReader(os.Stdin)

		if resetLog {
			if confirm(reader, fmt.Sprintf("⚠️  Are you sure you want to delete the attendance log %s?", Conf.Ledger.Path)) {
				fmt.Println("🗑️  Clearing Attendance Log...")
				removeFile(Conf.Ledger.Path)
			}
		}

		if resetCache {
			if confirm(reader, fmt.Sprintf("⚠️  Are you sure you want to delete all embedding caches under %s?", Conf.FacesDir)) {
				fmt.Println("🗑️  Clearing Embedding Caches...")
				n, err := removeCaches(Conf.FacesDir)
				if err != nil {
					fmt.Fprintf(os.Stderr, "⚠️  Failed to walk %s: %v\n", Conf.FacesDir, err)
				}
				fmt.Printf("   %d cache file(s) removed\n", n)
			}
		}

		if resetDB {
			if DB == nil {
				if cmd.Flags().Changed("db-tables") {
					fmt.Fprintln(os.Stderr, "⚠️  No database configured, nothing to clear.")
				}
			} else if confirm(reader, "⚠️  Are you sure you want to DROP all database tables?") {
				fmt.Println("🗑️  Clearing Database...")
				if err := DB.Reset(cmd.Context()); err != nil {
					utils.Die("Failed to reset database", err, nil)
				}
			}
		}

		fmt.Println("✨ System Reset Complete.")
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "db-tables", false, "Clear PostgreSQL attendance tables")
	resetCmd.Flags().BoolVar(&resetLog, "log", false, "Delete the local attendance log")
	resetCmd.Flags().BoolVar(&resetCache, "cache", false, "Delete embedding caches")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, prompt string) bool {
	if resetYes {
		return true
	}
	fmt.Printf("%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeFile(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}

// removeCaches deletes every embedding cache file below root and returns how many went away.
func removeCaches(root string) (int, error) {
	removed := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || d.Name() != enroll.CacheFile {
			return nil
		}
		if err := os.Remove(path); err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
			return nil
		}
		removed++
		return nil
	})
	return removed, err
}

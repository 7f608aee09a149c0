package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/challenwang408408/challenwang-braiwave/internal/db"
)

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd, sessionsDeleteCmd)
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage stored recordings",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored recordings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log, closer := setupLogging(cfg, true)
		defer closer.Close()

		store, err := openStore(cfg, log, nil)
		if err != nil {
			return err
		}
		defer store.Close()

		list, err := store.ListSessions()
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		return printSessions(cmd.OutOrStdout(), list)
	},
}

func printSessions(out io.Writer, list []db.SessionInfo) error {
	if len(list) == 0 {
		_, err := fmt.Fprintln(out, "No sessions found.")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tDURATION\tCHUNKS\tBYTES\tCREATED")
	for _, s := range list {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%s\n",
			s.ID,
			s.Status,
			(time.Duration(s.DurationMs) * time.Millisecond).Round(100*time.Millisecond),
			s.Chunks,
			s.PayloadBytes,
			s.CreatedAt.Local().Format("2006-01-02 15:04:05"),
		)
	}
	return w.Flush()
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a stored recording",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid session ID: %s", args[0])
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log, closer := setupLogging(cfg, true)
		defer closer.Close()

		store, err := openStore(cfg, log, nil)
		if err != nil {
			return err
		}
		defer store.Close()

		return deleteSession(cmd.OutOrStdout(), store, id)
	},
}

func deleteSession(out io.Writer, store *db.Store, id int64) error {
	if err := store.DeleteSession(id); err != nil {
		return fmt.Errorf("delete session %d: %w", id, err)
	}
	_, err := fmt.Fprintf(out, "Session %d deleted.\n", id)
	return err
}

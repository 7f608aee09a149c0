package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/challenwang408408/challenwang-braiwave/internal/db"
	"github.com/challenwang408408/challenwang-braiwave/internal/export"
)

var (
	exportSession int64
	exportOut     string
)

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().Int64Var(&exportSession, "session", 0, "session ID (default: latest completed)")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output WAV file")
	exportCmd.MarkFlagRequired("out")
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a stored recording to a WAV file",
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

		sess, err := findSession(store, exportSession)
		if err != nil {
			return err
		}
		chunks, err := store.SessionChunks(sess.ID)
		if err != nil {
			return fmt.Errorf("read session %d: %w", sess.ID, err)
		}
		rate := sess.SampleRate
		if rate <= 0 {
			rate = db.SampleRate
		}
		samples, err := export.WriteWAVFile(exportOut, chunks, rate)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Session %d written to %s (%.1fs).\n",
			sess.ID, exportOut, float64(samples)/float64(rate))
		return nil
	},
}

// findSession returns the session with id, or the latest completed one
// when id is zero.
func findSession(store *db.Store, id int64) (*db.Session, error) {
	if id == 0 {
		sess, err := store.LatestCompletedSession()
		if err != nil {
			return nil, fmt.Errorf("find latest session: %w", err)
		}
		if sess == nil {
			return nil, errors.New("no completed session found")
		}
		return sess, nil
	}
	sess, err := store.Session(id)
	if err != nil {
		return nil, fmt.Errorf("find session %d: %w", id, err)
	}
	if sess == nil {
		return nil, fmt.Errorf("session %d: %w", id, db.ErrSessionNotFound)
	}
	return sess, nil
}

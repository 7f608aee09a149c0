package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/challenwang408408/challenwang-braiwave/internal/db"
	"github.com/challenwang408408/challenwang-braiwave/internal/protocol"
	"github.com/challenwang408408/challenwang-braiwave/internal/recorder"
)

var replayTimeout time.Duration

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().DurationVar(&replayTimeout, "timeout", 2*time.Minute, "give up if the transcript has not arrived by then")
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay the latest recording and print its transcript",
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

		engine := newEngine(cfg, log, nil)
		replayer := recorder.NewReplayer(recorder.ReplayerOptions{
			Sender: engine,
			Store:  store,
			Model:  cfg.Model,
			Settle: cfg.Timing.ReplaySettle,
			Poll:   cfg.Timing.ReplayPoll,
			Pacing: cfg.Replay.Pacing,
			Logger: log,
		})

		ctx, cancel := context.WithTimeout(cmd.Context(), replayTimeout)
		defer cancel()
		return replayAndPrint(ctx, engine, replayer, cmd.OutOrStdout())
	},
}

type transcriptSource interface {
	Events() <-chan protocol.Event
	Run(ctx context.Context) error
	Transcript() string
}

type sessionReplayer interface {
	ReplayLatest(ctx context.Context) (*db.Session, error)
}

// replayAndPrint connects, replays the latest session and writes the
// transcript once the backend reports the turn complete.
func replayAndPrint(ctx context.Context, engine transcriptSource, replayer sessionReplayer, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return engine.Run(gctx)
	})
	g.Go(func() error {
		defer cancel()
		return awaitTranscript(gctx, engine, replayer, out)
	})
	return g.Wait()
}

func awaitTranscript(ctx context.Context, engine transcriptSource, replayer sessionReplayer, out io.Writer) error {
	result := make(chan error, 1)
	go func() {
		_, err := replayer.ReplayLatest(ctx)
		result <- err
	}()

	replayed := false
	events := engine.Events()
	for {
		select {
		case err := <-result:
			if err != nil {
				return fmt.Errorf("replay: %w", err)
			}
			replayed = true
		case ev, ok := <-events:
			if !ok {
				return fmt.Errorf("waiting for transcript: %w", context.Cause(ctx))
			}
			if !replayed {
				select {
				case err := <-result:
					if err != nil {
						return fmt.Errorf("replay: %w", err)
					}
					replayed = true
				default:
				}
			}
			switch {
			case ev.Kind == protocol.EventRemoteError:
				return ev.Err
			case ev.TurnComplete && replayed:
				_, err := fmt.Fprintln(out, engine.Transcript())
				return err
			}
		case <-ctx.Done():
			return fmt.Errorf("waiting for transcript: %w", ctx.Err())
		}
	}
}

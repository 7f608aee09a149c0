package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/challenwang408408/challenwang-braiwave/internal/app"
	"github.com/challenwang408408/challenwang-braiwave/internal/capture"
	"github.com/challenwang408408/challenwang-braiwave/internal/enhance"
	"github.com/challenwang408408/challenwang-braiwave/internal/metrics"
	"github.com/challenwang408408/challenwang-braiwave/internal/recorder"
)

var runStart bool

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runStart, "start", false, "start recording as soon as the server is connected")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Open the recording interface",
	Args:  cobra.NoArgs,
	RunE:  runTUI,
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, closer := setupLogging(cfg, false)
	defer closer.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	engine := newEngine(cfg, log, m)

	// The client keeps working without local storage; recordings are
	// simply not kept.
	var sessions recorder.SessionStore
	store, err := openStore(cfg, log, m)
	if err != nil {
		log.Warnw("session store unavailable, recordings will not be kept", "path", cfg.Store.Path, "error", err)
	} else {
		defer store.Close()
		sessions = store
	}

	rt := &recorder.Runtime{}
	ctrl := recorder.NewController(recorder.ControllerOptions{
		Runtime:      rt,
		Device:       capture.NewPortAudioDevice(cfg.Audio.SampleRate, cfg.Audio.Channels, cfg.Audio.BlockSize),
		Sender:       engine,
		Store:        sessions,
		Model:        cfg.Model,
		FrameSamples: cfg.Audio.FrameSamples,
		StopDrain:    cfg.Timing.StopDrain,
		StopSettle:   cfg.Timing.StopSettle,
		Logger:       log,
		Metrics:      m,
	})
	defer ctrl.Close()

	replayer := recorder.NewReplayer(recorder.ReplayerOptions{
		Runtime: rt,
		Sender:  engine,
		Store:   sessions,
		Model:   cfg.Model,
		Settle:  cfg.Timing.ReplaySettle,
		Poll:    cfg.Timing.ReplayPoll,
		Pacing:  cfg.Replay.Pacing,
		Logger:  log,
		Metrics: m,
	})

	g, gctx := errgroup.WithContext(ctx)

	model := app.New(app.Options{
		Context:   gctx,
		Events:    engine.Events(),
		Engine:    engine,
		Recorder:  ctrl,
		Replayer:  replayer,
		Enhancer:  enhance.New(cfg.Server.HTTPURL, 0),
		AutoCopy:  cfg.UI.AutoCopy,
		AutoStart: cfg.UI.AutoStart || runStart,
		Logger:    log,
	})
	prog := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(gctx))

	g.Go(func() error {
		return engine.Run(gctx)
	})
	if cfg.Metrics.Addr != "" {
		serveMetrics(g, gctx, cfg.Metrics.Addr, reg, log)
	}
	g.Go(func() error {
		// Leaving the interface shuts everything else down.
		defer cancel()
		if _, err := prog.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			return fmt.Errorf("run interface: %w", err)
		}
		return nil
	})

	err = g.Wait()

	// The interface may quit while a stop is still running; the store and
	// stream are closed only once the session is completed.
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if serr := ctrl.Finish(stopCtx); serr != nil {
		log.Infow("recording finished on exit without reaching the server", "error", serr)
	}
	stopCancel()
	return err
}

// serveMetrics exposes the registry on addr until ctx is done.
func serveMetrics(g *errgroup.Group, ctx context.Context, addr string, reg *prometheus.Registry, log *zap.SugaredLogger) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           metrics.Handler(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		log.Infow("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

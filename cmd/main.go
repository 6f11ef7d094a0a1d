package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vibe-report/pkg/api"
	"vibe-report/pkg/client"
	"vibe-report/pkg/config"
	"vibe-report/pkg/flow"
	"vibe-report/pkg/logging"
	"vibe-report/pkg/pipeline"
	"vibe-report/pkg/recorder"
	"vibe-report/pkg/session"
	"vibe-report/pkg/storage"
	"vibe-report/pkg/terminal"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const usage = `usage: vibe-report <command> [flags]

commands:
  serve   run the HTTP and WebSocket kiosk server
  run     walk through a session in this terminal
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "vibe-report: %v\n", err)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		err = serve(cfg, os.Args[2:])
	case "run":
		err = run(cfg, os.Args[2:])
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "vibe-report: %v\n", err)
		os.Exit(1)
	}
}

// app holds the components shared by both commands.
type app struct {
	logger   *zap.Logger
	store    *storage.Tiered
	client   *client.Client
	pipeline *pipeline.Manager
	device   recorder.Device
}

func setup(cfg *config.Config) (*app, error) {
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)

	// Initialize storage
	diskStore, err := storage.NewDiskStore(cfg.Storage.Path, cfg.Storage.TTL)
	if err != nil {
		return nil, fmt.Errorf("init disk storage: %w", err)
	}
	store := &storage.Tiered{
		Memory: storage.NewMemoryStore(storage.WithExpiry(cfg.Storage.TTL)),
		Disk:   diskStore,
	}

	c := client.New(cfg.API,
		client.WithLogger(logger),
		client.WithUploadLimits(cfg.Upload),
	)

	return &app{
		logger:   logger,
		store:    store,
		client:   c,
		pipeline: pipeline.NewManager(cfg.Export, c, store, logger),
		device:   recorder.NewFFmpegDevice(cfg.Recording.FFmpegPath, cfg.Recording.InputDevice, logger),
	}, nil
}

func (a *app) close() {
	a.pipeline.Stop()
	if err := a.store.Disk.Close(); err != nil {
		a.logger.Warn("close disk storage", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func sessionOptions(cfg *config.Config, a *app, autoSubmit bool) session.Options {
	return session.Options{
		Processor: a.pipeline,
		Device:    a.device,
		Recorder: recorder.Options{
			MaxDuration:      cfg.Recording.MaxDurationSeconds(),
			TickInterval:     cfg.Recording.TickInterval,
			ProgressInterval: cfg.Recording.ProgressInterval,
			Logger:           a.logger,
		},
		AutoSubmit:    autoSubmit,
		SubmitTimeout: cfg.API.Timeout,
		Logger:        a.logger,
	}
}

func serve(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", cfg.Server.Address, "listen address")
	fs.Parse(args)

	// JSON responses carry plain text.
	color.NoColor = true

	a, err := setup(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	// Start export workers
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.pipeline.Start(ctx); err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}

	sessions := session.NewManager(sessionOptions(cfg, a, true),
		session.WithIdleTimeout(cfg.Server.SessionIdleTimeout),
	)
	defer sessions.Close()
	go sessions.Run(ctx, cfg.Server.SweepInterval)

	handlers := api.NewHandlers(api.Options{
		Sessions: sessions,
		Store:    a.store,
		Exporter: a.pipeline,
		Backend:  a.client,
		Upload:   cfg.Upload,
		Variant:  cfg.Report.Variant,
		Logger:   a.logger,
	})

	srv := &http.Server{
		Addr:         *addr,
		Handler:      api.NewRouter(handlers),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("server starting", zap.String("addr", *addr), zap.String("backend", cfg.API.BaseURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	a.logger.Info("shutting down server")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	a.logger.Info("server exited")
	return nil
}

func run(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	variantFlag := fs.String("variant", string(flow.VariantVoice), "voice or survey")
	pdfVariant := fs.String("pdf", cfg.Report.Variant, "PDF layout: professional or compact")
	outDir := fs.String("out", cfg.Report.OutputDir, "directory for saved PDFs")
	fs.Parse(args)

	variant, err := flow.ParseVariant(*variantFlag)
	if err != nil {
		return err
	}

	a, err := setup(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.pipeline.Start(ctx); err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}

	s := session.New(uuid.NewString(), variant, sessionOptions(cfg, a, false))
	defer s.Close()

	term := terminal.New(os.Stdin, os.Stdout, s, terminal.Options{
		Exporter:  a.pipeline,
		ReportDir: *outDir,
		Variant:   *pdfVariant,
		Logger:    a.logger,
	})

	err = term.Run(ctx)
	if errors.Is(err, terminal.ErrAborted) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

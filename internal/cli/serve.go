package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yegors/shiftcheck/internal/api"
	"github.com/yegors/shiftcheck/internal/config"
	"github.com/yegors/shiftcheck/internal/guide"
	"github.com/yegors/shiftcheck/internal/metrics"
	"github.com/yegors/shiftcheck/internal/photo"
	"github.com/yegors/shiftcheck/internal/storage/sqlite"
	"github.com/yegors/shiftcheck/internal/voicews"
	"github.com/yegors/shiftcheck/pkg/logger"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and voice websocket",
		Run:   runServe,
	}

	cmd.Flags().IntP("port", "p", 0, "Listen port (overrides server.port)")

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		exitErr("load config", err)
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Server.Port = port
	}

	log, err := newLogger(cfg, os.Stdout)
	if err != nil {
		exitErr("create logger", err)
	}
	defer log.Sync()

	if err := serve(cmd.Context(), cfg, log); err != nil {
		log.Error("Server failed", logger.Error(err))
		os.Exit(1)
	}
}

// serve runs the server until ctx is cancelled or a signal arrives
func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.NewStore(cfg.Storage.SQLitePath, log)
	if err != nil {
		return err
	}
	defer store.Close()

	var (
		collector     *metrics.Collector
		observer      guide.Observer
		photoObserver photo.Observer
	)
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Runtime)
		observer = collector
		photoObserver = collector
	}

	reviewer, err := newReviewer(cfg, store, photoObserver, log)
	if err != nil {
		return err
	}

	handler := api.NewHandler(api.HandlerOptions{
		Store:          store,
		Reviewer:       reviewer,
		Observer:       observer,
		Guide:          cfg.Guide.Controller(),
		Voice:          voicews.DefaultConfig(),
		AllowedOrigins: cfg.Server.CORSAllowedOrigins,
		Logger:         log,
	})
	router := api.NewRouter(handler, collector, cfg, log)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting server", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		log.Info("Shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Walks run on hijacked connections that server.Shutdown does not
	// track. They must finish writing before the store closes.
	if err := handler.Shutdown(shutdownCtx); err != nil {
		log.Warn("Walks still running at shutdown", logger.Error(err))
	}
	return server.Shutdown(shutdownCtx)
}

// newReviewer stores photos on disk and analyzes them when AI is enabled
func newReviewer(cfg *config.Config, store *sqlite.Store, observer photo.Observer, log *logger.Logger) (*photo.Reviewer, error) {
	var analyzer photo.Analyzer
	if cfg.Photo.AIEnabled {
		openai, err := photo.NewOpenAIAnalyzer(photo.OpenAIConfig{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.Model,
			Timeout: cfg.OpenAI.Timeout,
		}, log)
		if err != nil {
			return nil, err
		}
		analyzer = openai
		log.Info("Photo analysis enabled", logger.String("model", cfg.OpenAI.Model))
	}

	return photo.NewReviewer(photo.ReviewerOptions{
		Store:         photo.NewDiskStore(cfg.Photo.Dir),
		Analyzer:      analyzer,
		Logs:          store.Photos,
		Observer:      observer,
		MinConfidence: cfg.Photo.MinConfidence,
		MaxBytes:      cfg.Photo.MaxBytes,
		Logger:        log,
	})
}

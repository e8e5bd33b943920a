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

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/jmerrifield20/researchledger/internal/api/handler"
	"github.com/jmerrifield20/researchledger/internal/auth"
	"github.com/jmerrifield20/researchledger/internal/config"
	"github.com/jmerrifield20/researchledger/internal/export"
	"github.com/jmerrifield20/researchledger/internal/integrity"
	"github.com/jmerrifield20/researchledger/internal/ledger"
	"github.com/jmerrifield20/researchledger/internal/metrics"
	"github.com/jmerrifield20/researchledger/internal/notify"
	"github.com/jmerrifield20/researchledger/internal/session"
	"github.com/jmerrifield20/researchledger/internal/telemetry"
	"github.com/jmerrifield20/researchledger/internal/verifier"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("researchd exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Tracing ──────────────────────────────────────────────────────────────
	shutdownTracer, err := telemetry.InitTracer("researchd", cfg.TraceExporter, os.Stdout, logger)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(sctx); err != nil {
			logger.Warn("tracer shutdown error", zap.Error(err))
		}
	}()

	// ── Journal ──────────────────────────────────────────────────────────────
	journal, closeJournal, err := openJournal(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeJournal()

	// ── Export sinks ─────────────────────────────────────────────────────────
	sinks, err := buildSinks(ctx, cfg)
	if err != nil {
		return err
	}

	// ── Notifications ────────────────────────────────────────────────────────
	notifier := notify.New(cfg.NotifyURLs, cfg.NotifySecret, logger,
		notify.WithMetricsRecorder(metrics.RecordNotification),
	)
	if len(cfg.NotifyURLs) > 0 && cfg.NotifySecret == "" {
		logger.Warn("notify.secret is empty; export notifications are unsigned")
	}

	// ── Operator tokens ──────────────────────────────────────────────────────
	var tokens *auth.Issuer
	if cfg.AuthSecret != "" {
		tokens, err = auth.NewIssuer(cfg.AuthSecret, cfg.AuthIssuer, cfg.AuthTokenTTL)
		if err != nil {
			return fmt.Errorf("operator tokens: %w", err)
		}
		logger.Info("operator token enforcement enabled")
	} else {
		logger.Warn("auth.secret not set; write and export routes are open")
	}

	// ── Sessions ─────────────────────────────────────────────────────────────
	var verifyOpts []verifier.Option
	if len(cfg.RequiredMarkers) > 0 {
		verifyOpts = append(verifyOpts, verifier.WithRequiredMarkers(cfg.RequiredMarkers...))
	}
	manager := session.NewManager(
		session.WithJournal(journal),
		session.WithLedgerOptions(ledger.WithLogger(logger)),
		session.WithSinks(sinks...),
		session.WithNotifier(notifier),
		session.WithVerifierOptions(verifyOpts...),
		session.WithLogger(logger),
		session.WithTracerProvider(otel.GetTracerProvider()),
	)

	restored, err := manager.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore sessions: %w", err)
	}
	logger.Info("sessions restored from journal", zap.Int("count", restored))

	// ── Background: re-verify stored chains ──────────────────────────────────
	if cfg.IntegrityInterval > 0 && cfg.JournalDriver != config.JournalMemory {
		monitor := integrity.New(journal, integrity.Config{Interval: cfg.IntegrityInterval}, logger, verifyOpts...)
		monitor.SetAlert(func(ctx context.Context, sessionID string, r verifier.Report) {
			notifier.ChainBroken(ctx, sessionID, r.Chain.BrokenAt)
		})
		monitor.SetBrokenGauge(metrics.SetJournalBroken)
		go monitor.Run(ctx)
	}

	router := handler.NewRouter(ctx, handler.RouterConfig{
		Sessions:     manager,
		Tokens:       tokens,
		CORSOrigins:  cfg.CORSOrigins,
		RateLimitRPS: cfg.RateLimitRPS,
		MaxBodyBytes: cfg.MaxBodyBytes,
		Logger:       logger,
	})

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("researchd HTTP listening", zap.Int("port", cfg.Port))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("HTTP listen: %w", err)
	}
	logger.Info("shutting down researchd...")

	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(sctx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
	notifier.Wait()

	logger.Info("researchd stopped")
	return nil
}

func openJournal(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ledger.Journal, func(), error) {
	switch cfg.JournalDriver {
	case config.JournalSQLite:
		j, err := ledger.OpenSQLiteJournal(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("journal: sqlite", zap.String("path", cfg.SQLitePath))
		return j, func() { _ = j.Close() }, nil

	case config.JournalPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("journal: postgres")
		return ledger.NewPostgresJournal(pool, logger), pool.Close, nil
	}

	logger.Warn("journal: memory; sessions are lost on restart")
	return ledger.NewMemoryJournal(), func() {}, nil
}

func buildSinks(ctx context.Context, cfg *config.Config) ([]export.Sink, error) {
	sinks := make([]export.Sink, 0, len(cfg.ExportSinks))
	for _, kind := range cfg.ExportSinks {
		switch kind {
		case config.SinkDir:
			sinks = append(sinks, export.DirSink{Root: cfg.ExportDir})
		case config.SinkZip:
			sinks = append(sinks, export.ZipSink{Root: cfg.ExportDir})
		case config.SinkS3:
			s, err := export.NewS3Sink(ctx, export.S3Config{
				Bucket:   cfg.S3Bucket,
				Region:   cfg.S3Region,
				Endpoint: cfg.S3Endpoint,
				Prefix:   cfg.S3Prefix,
			})
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, s)
		}
	}
	return sinks, nil
}

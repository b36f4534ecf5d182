// Phishing report triage service.
//
// Reported messages arrive either by polling the reporting mailbox over
// IMAP or on the optional SMTP intake listener. Each one is parsed, scored
// against URL reputation, keyword and attachment rules, answered with a
// verdict reply and recorded. Recorded verdicts are served over the HTTP
// API and streamed on /ws.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/welldanyogia/webrana-phishtriage/internal/analysis"
	"github.com/welldanyogia/webrana-phishtriage/internal/api"
	"github.com/welldanyogia/webrana-phishtriage/internal/api/handlers"
	"github.com/welldanyogia/webrana-phishtriage/internal/config"
	"github.com/welldanyogia/webrana-phishtriage/internal/database"
	"github.com/welldanyogia/webrana-phishtriage/internal/delivery"
	"github.com/welldanyogia/webrana-phishtriage/internal/logger"
	"github.com/welldanyogia/webrana-phishtriage/internal/mailbox"
	"github.com/welldanyogia/webrana-phishtriage/internal/pipeline"
	"github.com/welldanyogia/webrana-phishtriage/internal/poller"
	"github.com/welldanyogia/webrana-phishtriage/internal/report"
	"github.com/welldanyogia/webrana-phishtriage/internal/repository"
	"github.com/welldanyogia/webrana-phishtriage/internal/reputation"
	intake "github.com/welldanyogia/webrana-phishtriage/internal/smtp"
	"github.com/welldanyogia/webrana-phishtriage/internal/storage"
	"github.com/welldanyogia/webrana-phishtriage/internal/websocket"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.LoadWithValidation()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)
	cfg.LogConfig(log)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
	log.Info("Server stopped")
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("Starting phishing triage service...")

	// --- Report store ---
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close(db)

	if err := database.Migrate(db); err != nil {
		return err
	}

	archive, err := storage.NewLocalArchive(cfg.ArchivePath)
	if err != nil {
		return err
	}

	// --- Pipeline ---
	processor, err := newProcessor(ctx, cfg, log)
	if err != nil {
		return err
	}

	repo := repository.NewReportRepository(db)

	// The hub outlives ctx so that verdicts of work drained during
	// shutdown are still announced.
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := websocket.NewHub(log)
	go hub.Run(hubCtx)

	recorder := report.NewRecorder(repo, hub, log)

	// --- Reporting mailbox ---
	var (
		poll     *poller.Poller
		pollDone = make(chan struct{})
	)
	if cfg.PollingEnabled() {
		source, err := mailbox.NewIMAPSource(mailbox.Config{
			Host:     cfg.IMAPHost,
			Port:     cfg.IMAPPort,
			Username: cfg.IMAPUsername,
			Password: cfg.IMAPPassword,
			Mailbox:  cfg.IMAPMailbox,
			TLS:      cfg.IMAPTLS,
		}, log)
		if err != nil {
			return err
		}

		poll, err = poller.New(poller.Config{
			Source:    source,
			Processor: processor,
			Recorder:  recorder,
			Archive:   archive,
			Interval:  cfg.PollInterval,
			BatchSize: cfg.PollBatchSize,
			Workers:   cfg.Workers,
			Logger:    log,
		})
		if err != nil {
			return err
		}
		go func() {
			defer close(pollDone)
			poll.Run(ctx)
		}()
	} else {
		close(pollDone)
		log.Warn("IMAP_HOST not set - mailbox polling disabled")
	}

	// --- Direct SMTP intake ---
	var (
		smtpServer  *gosmtp.Server
		smtpBackend *intake.Backend
		serveErrs   = make(chan error, 2)
	)
	if cfg.SMTPIntakeEnabled {
		tlsConfig, err := intake.LoadTLSConfig(cfg.SMTPIntakeTLSCert, cfg.SMTPIntakeTLSKey)
		if err != nil {
			return err
		}

		smtpBackend, err = intake.NewBackend(&intake.BackendConfig{
			Processor:     processor,
			Recorder:      recorder,
			Archive:       archive,
			AcceptDomains: []string{cfg.SMTPIntakeDomain},
			Workers:       cfg.Workers,
			Logger:        log,
		})
		if err != nil {
			return err
		}

		smtpServer = intake.NewSecureServer(smtpBackend, &intake.ServerConfig{
			Addr:      fmt.Sprintf(":%d", cfg.SMTPIntakePort),
			Domain:    cfg.SMTPIntakeDomain,
			TLSConfig: tlsConfig,
		})

		go func() {
			log.Info("SMTP intake listening", slog.String("addr", smtpServer.Addr), slog.String("domain", cfg.SMTPIntakeDomain))
			if err := smtpServer.ListenAndServe(); err != nil && !errors.Is(err, gosmtp.ErrServerClosed) {
				serveErrs <- fmt.Errorf("smtp intake: %w", err)
			}
		}()
	}

	// --- HTTP API ---
	var pollAPI handlers.Poller
	if poll != nil {
		pollAPI = poll
	}

	e := api.NewRouter(&api.RouterConfig{
		DB:             db,
		Repo:           repo,
		Analyzer:       processor,
		Poller:         pollAPI,
		Hub:            hub,
		Logger:         log,
		Intake:         map[string]bool{"imap": poll != nil, "smtp": smtpBackend != nil},
		APIKey:         cfg.APIKey,
		AllowedOrigins: cfg.AllowedOrigins,
		AppEnv:         cfg.AppEnv,
		RateLimit:      cfg.RateLimitRequests,
		RateBurst:      cfg.RateLimitBurst,
	})

	go func() {
		addr := fmt.Sprintf(":%d", cfg.APIPort)
		log.Info("HTTP API listening", slog.String("addr", addr))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrs <- fmt.Errorf("http api: %w", err)
		}
	}()

	// --- Graceful shutdown ---
	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("Shutting down server...")
	case serveErr = <-serveErrs:
		log.Error("listener failed, shutting down", slog.Any("error", serveErr))
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP shutdown error", slog.Any("error", err))
	}
	if smtpServer != nil {
		if err := smtpServer.Close(); err != nil && !errors.Is(err, gosmtp.ErrServerClosed) {
			log.Error("SMTP intake close error", slog.Any("error", err))
		}
		if err := smtpBackend.Shutdown(shutdownCtx); err != nil {
			log.Error("SMTP intake did not drain in time", slog.Any("error", err))
		}
	}
	select {
	case <-pollDone:
	case <-shutdownCtx.Done():
		log.Error("mailbox poll did not finish in time")
	}

	return serveErr
}

// newProcessor builds the pipeline with the configured reputation service,
// scoring policy and reply sender.
func newProcessor(ctx context.Context, cfg *config.Config, log *slog.Logger) (*pipeline.Processor, error) {
	var rep reputation.Service = reputation.NewNoop()
	if cfg.ReputationProvider == config.ReputationVirusTotal {
		rep = reputation.NewVirusTotal(reputation.VirusTotalConfig{
			APIKey:            cfg.VirusTotalAPIKey,
			BaseURL:           cfg.VirusTotalBaseURL,
			RequestsPerSecond: cfg.ReputationRate,
			Timeout:           cfg.ReputationTimeout,
		})
	}
	if cfg.RedisURL != "" {
		rdb, err := reputation.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		rep = reputation.NewCached(rep, rdb, cfg.ReputationCacheTTL, log)
		log.Info("reputation cache enabled", slog.Duration("ttl", cfg.ReputationCacheTTL))
	}

	policy := analysis.DefaultPolicy()
	if cfg.ScoringPolicyPath != "" {
		p, err := analysis.LoadPolicy(cfg.ScoringPolicyPath)
		if err != nil {
			return nil, err
		}
		policy = p
	}
	scorer, err := analysis.NewScorer(policy)
	if err != nil {
		return nil, err
	}

	var sender pipeline.Sender
	if cfg.DeliveryEnabled() {
		s, err := delivery.NewSMTPSender(delivery.SMTPConfig{
			Host:        cfg.SMTPHost,
			Port:        cfg.SMTPPort,
			Username:    cfg.SMTPUsername,
			Password:    cfg.SMTPPassword,
			From:        cfg.SMTPFrom,
			FromName:    cfg.SMTPFromName,
			ImplicitTLS: cfg.SMTPImplicitTLS,
		}, log)
		if err != nil {
			return nil, err
		}
		sender = s
	} else {
		log.Warn("SMTP_HOST not set - verdict replies are only logged")
		sender = delivery.NewLogOnly(log)
	}

	return pipeline.NewProcessor(pipeline.Config{
		Scorer:        scorer,
		Composer:      analysis.NewComposer(cfg.SMTPFromName),
		Reputation:    rep,
		Sender:        sender,
		LookupTimeout: cfg.ReputationTimeout,
		SelfAddress:   cfg.SMTPFrom,
		Logger:        logger.NewPipelineLogger(log),
	})
}

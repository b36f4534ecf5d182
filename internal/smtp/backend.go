// Package smtp accepts reported messages forwarded straight to the service.
package smtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-smtp"
	"golang.org/x/sync/errgroup"

	"github.com/welldanyogia/webrana-phishtriage/internal/models"
	"github.com/welldanyogia/webrana-phishtriage/internal/pipeline"
	"github.com/welldanyogia/webrana-phishtriage/internal/storage"
)

// Security limits
const (
	DefaultMaxMessageSize = 25 * 1024 * 1024 // 25 MB
	DefaultMaxRecipients  = 10
	DefaultReadTimeout    = 60 * time.Second
	DefaultWriteTimeout   = 60 * time.Second
	DefaultMaxLineLength  = 2000
)

// Processor runs one artifact through the pipeline.
type Processor interface {
	Process(ctx context.Context, a pipeline.Artifact) *pipeline.Result
}

// Recorder persists pipeline results.
type Recorder interface {
	Record(ctx context.Context, source, archivePath string, res *pipeline.Result) (*models.Report, error)
}

// Backend implements the go-smtp Backend interface. Accepted messages are
// processed in the background by at most Workers goroutines; once all of
// them are busy, DATA waits for a free slot.
type Backend struct {
	processor Processor
	recorder  Recorder
	archive   storage.Archive
	// acceptDomains limits RCPT TO
	acceptDomains map[string]bool
	logger        *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
	once   sync.Once
}

// BackendConfig holds configuration for the SMTP backend
type BackendConfig struct {
	Processor Processor
	Recorder  Recorder
	// Archive is optional; without it raw artifacts are not kept.
	Archive       storage.Archive
	AcceptDomains []string
	Workers       int
	Logger        *slog.Logger
}

// NewBackend creates a new SMTP backend
func NewBackend(cfg *BackendConfig) (*Backend, error) {
	if cfg.Processor == nil || cfg.Recorder == nil {
		return nil, fmt.Errorf("smtp backend: processor and recorder are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}

	domains := make(map[string]bool, len(cfg.AcceptDomains))
	for _, d := range cfg.AcceptDomains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			domains[d] = true
		}
	}
	// Verdicts go to the header From; the intake is never an open relay.
	if len(domains) == 0 {
		return nil, fmt.Errorf("smtp backend: at least one accepted domain is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	g := new(errgroup.Group)
	g.SetLimit(workers)

	return &Backend{
		processor:     cfg.Processor,
		recorder:      cfg.Recorder,
		archive:       cfg.Archive,
		acceptDomains: domains,
		logger:        logger,
		ctx:           ctx,
		cancel:        cancel,
		group:         g,
	}, nil
}

// NewSession creates a new SMTP session
func (b *Backend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	remote := ""
	if c != nil && c.Conn() != nil {
		remote = c.Conn().RemoteAddr().String()
	}
	b.logger.Debug("new SMTP connection", slog.String("remote_addr", remote))
	return NewSession(b, remote), nil
}

// Shutdown waits for queued artifacts to finish. Work still running when
// ctx expires is canceled.
func (b *Backend) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		_ = b.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.once.Do(b.cancel)
		return nil
	case <-ctx.Done():
		b.once.Do(b.cancel)
		<-done
		return ctx.Err()
	}
}

// accepts reports whether mail for domain is taken in.
func (b *Backend) accepts(domain string) bool {
	return b.acceptDomains[strings.ToLower(domain)]
}

// enqueue archives the artifact and schedules its processing.
func (b *Backend) enqueue(a pipeline.Artifact) {
	log := b.logger.With(slog.String("artifact_id", a.ID))

	path := ""
	if b.archive != nil {
		p, err := b.archive.Store(a.Raw)
		if err != nil {
			log.Warn("failed to archive artifact", slog.Any("error", err))
		} else {
			path = p
		}
	}

	b.group.Go(func() error {
		b.handle(log, a, path)
		return nil
	})
}

func (b *Backend) handle(log *slog.Logger, a pipeline.Artifact, path string) {
	res := b.processor.Process(b.ctx, a)

	if path != "" {
		if moved, err := b.archive.MarkProcessed(path); err != nil {
			log.Warn("failed to move artifact to processed", slog.String("path", path), slog.Any("error", err))
		} else {
			path = moved
		}
	}

	// Recording outlives a shutdown-canceled pipeline pass.
	if _, err := b.recorder.Record(context.WithoutCancel(b.ctx), models.SourceSMTP, path, res); err != nil {
		log.Error("failed to record report", slog.Any("error", err))
	}
}

// ServerConfig holds security configuration for the SMTP server
type ServerConfig struct {
	Addr           string
	Domain         string
	MaxMessageSize int64
	MaxRecipients  int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	TLSConfig      *tls.Config
}

// NewSecureServer creates a new SMTP server with security settings
func NewSecureServer(backend *Backend, cfg *ServerConfig) *smtp.Server {
	s := smtp.NewServer(backend)

	s.Addr = cfg.Addr
	s.Domain = cfg.Domain

	if cfg.MaxMessageSize > 0 {
		s.MaxMessageBytes = cfg.MaxMessageSize
	} else {
		s.MaxMessageBytes = DefaultMaxMessageSize
	}

	if cfg.MaxRecipients > 0 {
		s.MaxRecipients = cfg.MaxRecipients
	} else {
		s.MaxRecipients = DefaultMaxRecipients
	}

	if cfg.ReadTimeout > 0 {
		s.ReadTimeout = cfg.ReadTimeout
	} else {
		s.ReadTimeout = DefaultReadTimeout
	}

	if cfg.WriteTimeout > 0 {
		s.WriteTimeout = cfg.WriteTimeout
	} else {
		s.WriteTimeout = DefaultWriteTimeout
	}

	// The intake never authenticates clients.
	s.AllowInsecureAuth = false

	if cfg.TLSConfig != nil {
		s.TLSConfig = cfg.TLSConfig
	}

	// Set max line length to prevent buffer overflow attacks
	s.MaxLineLength = DefaultMaxLineLength

	return s
}

// LoadTLSConfig loads a certificate pair for STARTTLS. Empty paths yield
// a nil config.
func LoadTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	if certFile == "" && keyFile == "" {
		return nil, nil
	}
	if certFile == "" || keyFile == "" {
		return nil, fmt.Errorf("both TLS certificate and key are required")
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS key pair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

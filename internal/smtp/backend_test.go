package smtp

import (
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-smtp"

	"github.com/welldanyogia/webrana-phishtriage/internal/models"
	"github.com/welldanyogia/webrana-phishtriage/internal/pipeline"
	"github.com/welldanyogia/webrana-phishtriage/internal/storage"
)

type stubProcessor struct {
	mu        sync.Mutex
	artifacts []pipeline.Artifact
	block     chan struct{}
}

func (p *stubProcessor) Process(ctx context.Context, a pipeline.Artifact) *pipeline.Result {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return &pipeline.Result{ArtifactID: a.ID, Outcome: pipeline.OutcomeFailed, Reason: ctx.Err().Error()}
		}
	}
	p.mu.Lock()
	p.artifacts = append(p.artifacts, a)
	p.mu.Unlock()
	return &pipeline.Result{ArtifactID: a.ID, Outcome: pipeline.OutcomeResponded}
}

type recordCall struct {
	source string
	path   string
	result *pipeline.Result
}

type stubRecorder struct {
	mu    sync.Mutex
	calls []recordCall
}

func (r *stubRecorder) Record(ctx context.Context, source, archivePath string, res *pipeline.Result) (*models.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordCall{source: source, path: archivePath, result: res})
	return &models.Report{ArtifactID: res.ArtifactID}, nil
}

func (r *stubRecorder) snapshot() []recordCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordCall(nil), r.calls...)
}

func newTestBackend(t *testing.T, proc *stubProcessor, rec *stubRecorder, archive storage.Archive, domains ...string) *Backend {
	t.Helper()
	if len(domains) == 0 {
		domains = []string{"triage.example"}
	}
	b, err := NewBackend(&BackendConfig{
		Processor:     proc,
		Recorder:      rec,
		Archive:       archive,
		AcceptDomains: domains,
	})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	return b
}

// startServer serves backend on a loopback port and returns its address.
func startServer(t *testing.T, backend *Backend) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	server := NewSecureServer(backend, &ServerConfig{Domain: "triage.example"})
	go server.Serve(ln)
	t.Cleanup(func() { server.Close() })
	return ln.Addr().String()
}

const forwardedReport = "From: Alice <alice@corp.example>\r\n" +
	"To: report@triage.example\r\n" +
	"Subject: Fwd: Urgent\r\n" +
	"\r\n" +
	"Please verify your account urgently.\r\n"

func TestNewSecureServer(t *testing.T) {
	backend := &Backend{}

	t.Run("default configuration", func(t *testing.T) {
		cfg := &ServerConfig{
			Addr:   ":2525",
			Domain: "localhost",
		}

		server := NewSecureServer(backend, cfg)

		if server.Addr != ":2525" {
			t.Errorf("expected addr :2525, got %s", server.Addr)
		}
		if server.Domain != "localhost" {
			t.Errorf("expected domain localhost, got %s", server.Domain)
		}
		if server.MaxMessageBytes != DefaultMaxMessageSize {
			t.Errorf("expected max message size %d, got %d", DefaultMaxMessageSize, server.MaxMessageBytes)
		}
		if server.MaxRecipients != DefaultMaxRecipients {
			t.Errorf("expected max recipients %d, got %d", DefaultMaxRecipients, server.MaxRecipients)
		}
		if server.ReadTimeout != DefaultReadTimeout {
			t.Errorf("expected read timeout %v, got %v", DefaultReadTimeout, server.ReadTimeout)
		}
		if server.WriteTimeout != DefaultWriteTimeout {
			t.Errorf("expected write timeout %v, got %v", DefaultWriteTimeout, server.WriteTimeout)
		}
		if server.AllowInsecureAuth {
			t.Error("expected AllowInsecureAuth to be false")
		}
		if server.MaxLineLength != DefaultMaxLineLength {
			t.Errorf("expected max line length %d, got %d", DefaultMaxLineLength, server.MaxLineLength)
		}
	})

	t.Run("custom configuration", func(t *testing.T) {
		cfg := &ServerConfig{
			Addr:           ":25",
			Domain:         "mail.example.com",
			MaxMessageSize: 10 * 1024 * 1024,
			MaxRecipients:  50,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
		}

		server := NewSecureServer(backend, cfg)

		if server.MaxMessageBytes != 10*1024*1024 {
			t.Errorf("expected max message size 10MB, got %d", server.MaxMessageBytes)
		}
		if server.MaxRecipients != 50 {
			t.Errorf("expected max recipients 50, got %d", server.MaxRecipients)
		}
		if server.ReadTimeout != 30*time.Second {
			t.Errorf("expected read timeout 30s, got %v", server.ReadTimeout)
		}
		if server.WriteTimeout != 30*time.Second {
			t.Errorf("expected write timeout 30s, got %v", server.WriteTimeout)
		}
	})
}

func TestNewBackend_RequiresCollaborators(t *testing.T) {
	if _, err := NewBackend(&BackendConfig{}); err == nil {
		t.Fatal("expected error without processor and recorder")
	}
}

func TestNewBackend_RequiresAcceptedDomain(t *testing.T) {
	_, err := NewBackend(&BackendConfig{
		Processor:     &stubProcessor{},
		Recorder:      &stubRecorder{},
		AcceptDomains: []string{"", "  "},
	})
	if err == nil {
		t.Fatal("expected error without an accepted domain")
	}
}

func TestLoadTLSConfig(t *testing.T) {
	cfg, err := LoadTLSConfig("", "")
	if err != nil || cfg != nil {
		t.Errorf("expected nil config without files, got %v, %v", cfg, err)
	}

	if _, err := LoadTLSConfig("cert.pem", ""); err == nil {
		t.Error("expected error when only the certificate is given")
	}

	if _, err := LoadTLSConfig("/nonexistent/cert.pem", "/nonexistent/key.pem"); err == nil {
		t.Error("expected error for missing files")
	}
}

func TestParseEmailAddress(t *testing.T) {
	tests := []struct {
		in         string
		wantLocal  string
		wantDomain string
		wantErr    bool
	}{
		{"report@triage.example", "report", "triage.example", false},
		{"<Report@Triage.Example>", "report", "triage.example", false},
		{"no-at-sign", "", "", true},
		{"", "", "", true},
	}

	for _, tt := range tests {
		local, domain, err := parseEmailAddress(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseEmailAddress(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if local != tt.wantLocal || domain != tt.wantDomain {
			t.Errorf("parseEmailAddress(%q) = %q, %q", tt.in, local, domain)
		}
	}
}

func TestSession_RcptRejectsForeignDomain(t *testing.T) {
	b := newTestBackend(t, &stubProcessor{}, &stubRecorder{}, nil, "triage.example")
	s := NewSession(b, "")

	if err := s.Rcpt("report@triage.example", nil); err != nil {
		t.Fatalf("expected accepted recipient, got %v", err)
	}

	err := s.Rcpt("someone@elsewhere.example", nil)
	smtpErr, ok := err.(*smtp.SMTPError)
	if !ok || smtpErr.Code != 550 {
		t.Fatalf("expected 550 relaying denied, got %v", err)
	}

	err = s.Rcpt("not an address", nil)
	if smtpErr, ok := err.(*smtp.SMTPError); !ok || smtpErr.Code != 550 {
		t.Fatalf("expected 550 for invalid address, got %v", err)
	}
}

func TestSession_DataWithoutRecipients(t *testing.T) {
	s := NewSession(newTestBackend(t, &stubProcessor{}, &stubRecorder{}, nil), "")

	err := s.Data(strings.NewReader(forwardedReport))
	if smtpErr, ok := err.(*smtp.SMTPError); !ok || smtpErr.Code != 503 {
		t.Fatalf("expected 503, got %v", err)
	}
}

func TestSession_ResetClearsEnvelope(t *testing.T) {
	s := NewSession(newTestBackend(t, &stubProcessor{}, &stubRecorder{}, nil), "")
	_ = s.Mail("alice@corp.example", nil)
	_ = s.Rcpt("report@triage.example", nil)

	s.Reset()

	if s.from != "" || len(s.recipients) != 0 {
		t.Errorf("expected empty envelope after reset, got %q %v", s.from, s.recipients)
	}
}

func TestIntake_EndToEnd(t *testing.T) {
	proc := &stubProcessor{}
	rec := &stubRecorder{}
	archive, err := storage.NewLocalArchive(t.TempDir())
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	backend := newTestBackend(t, proc, rec, archive, "triage.example")
	addr := startServer(t, backend)

	client, err := smtp.Dial(addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if err := client.SendMail("alice@corp.example", []string{"report@triage.example"}, strings.NewReader(forwardedReport)); err != nil {
		t.Fatalf("SendMail: %v", err)
	}
	if err := client.Quit(); err != nil {
		t.Fatalf("Quit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := backend.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	calls := rec.snapshot()
	if len(calls) != 1 {
		t.Fatalf("expected 1 recorded report, got %d", len(calls))
	}
	call := calls[0]
	if call.source != models.SourceSMTP {
		t.Errorf("expected source smtp, got %s", call.source)
	}
	if !strings.HasPrefix(call.result.ArtifactID, "smtp-") {
		t.Errorf("unexpected artifact id %s", call.result.ArtifactID)
	}
	if !strings.HasPrefix(call.path, storage.ProcessedDir+"/") {
		t.Errorf("expected processed archive path, got %q", call.path)
	}
	if !strings.Contains(string(proc.artifacts[0].Raw), "verify your account") {
		t.Error("processor did not receive the message body")
	}
}

func TestIntake_ShutdownCancelsStuckWork(t *testing.T) {
	proc := &stubProcessor{block: make(chan struct{})}
	rec := &stubRecorder{}
	backend := newTestBackend(t, proc, rec, nil)

	s := NewSession(backend, "")
	_ = s.Rcpt("report@triage.example", nil)
	if err := s.Data(strings.NewReader(forwardedReport)); err != nil {
		t.Fatalf("Data: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := backend.Shutdown(ctx); err != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	calls := rec.snapshot()
	if len(calls) != 1 || calls[0].result.Outcome != pipeline.OutcomeFailed {
		t.Fatalf("expected the canceled artifact to be recorded as failed, got %+v", calls)
	}
}

func TestSecurityDefaults(t *testing.T) {
	if DefaultMaxMessageSize != int64(25*1024*1024) {
		t.Errorf("expected default max message size 25MB, got %d", DefaultMaxMessageSize)
	}
	if DefaultReadTimeout != 60*time.Second {
		t.Errorf("expected default read timeout 60s, got %v", DefaultReadTimeout)
	}
	if DefaultMaxLineLength != 2000 {
		t.Errorf("expected default max line length 2000, got %d", DefaultMaxLineLength)
	}
}

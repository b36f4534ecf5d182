// Package mailbox reads reported messages from the reporting mailbox over
// IMAP and marks them consumed once processed.
package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"strconv"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/charset"
)

// Config holds the reporting mailbox connection settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	Mailbox  string
	// TLS dials implicit TLS (port 993); otherwise STARTTLS is required.
	TLS       bool
	TLSConfig *tls.Config
}

// Message is one unseen message fetched from the mailbox.
type Message struct {
	UID         uint32
	UIDValidity uint32
	Subject     string
	Raw         []byte
}

// ArtifactID is the stable identifier of the message across polls.
func (m Message) ArtifactID() string {
	return ArtifactID(m.UIDValidity, m.UID)
}

// ArtifactID formats the identifier of a mailbox message. A UID is only
// unique together with the mailbox UIDVALIDITY.
func ArtifactID(uidValidity, uid uint32) string {
	return fmt.Sprintf("imap-%d-%d", uidValidity, uid)
}

// IMAPSource fetches unseen messages. Every call opens its own session, so
// an IMAPSource is safe for concurrent use.
type IMAPSource struct {
	cfg    Config
	logger *slog.Logger
}

// NewIMAPSource creates a source for cfg.
func NewIMAPSource(cfg Config, logger *slog.Logger) (*IMAPSource, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("imap host is required")
	}
	if cfg.Username == "" {
		return nil, fmt.Errorf("imap username is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 993
	}
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	if cfg.TLSConfig == nil {
		cfg.TLSConfig = &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IMAPSource{cfg: cfg, logger: logger}, nil
}

// connect dials, authenticates and selects the configured mailbox. The
// session is torn down when ctx is done.
func (s *IMAPSource) connect(ctx context.Context) (*imapclient.Client, *imap.SelectData, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, nil, err
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	opts := &imapclient.Options{
		TLSConfig: s.cfg.TLSConfig,
		// Decode non-UTF-8 encoded words in envelope subjects.
		WordDecoder: &mime.WordDecoder{CharsetReader: charset.Reader},
	}

	var client *imapclient.Client
	var err error
	if s.cfg.TLS {
		client, err = imapclient.DialTLS(addr, opts)
	} else {
		client, err = imapclient.DialStartTLS(addr, opts)
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	release := func() {
		stop()
		_ = client.Logout().Wait()
		_ = client.Close()
	}

	if err := client.Login(s.cfg.Username, s.cfg.Password).Wait(); err != nil {
		release()
		return nil, nil, nil, fmt.Errorf("imap login as %s: %w", s.cfg.Username, err)
	}

	selected, err := client.Select(s.cfg.Mailbox, nil).Wait()
	if err != nil {
		release()
		return nil, nil, nil, fmt.Errorf("selecting %s: %w", s.cfg.Mailbox, err)
	}

	return client, selected, release, nil
}

// FetchUnseen returns up to limit unseen messages, oldest first. Bodies are
// fetched with PEEK so the server does not set \Seen implicitly; a message
// stays unseen until MarkSeen is called for it.
func (s *IMAPSource) FetchUnseen(ctx context.Context, limit int) ([]Message, error) {
	client, selected, release, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	searchData, err := client.UIDSearch(&imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching unseen messages: %w", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}
	if limit > 0 && len(uids) > limit {
		uids = uids[:limit]
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		UID:         true,
		Envelope:    true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	})
	defer fetchCmd.Close()

	messages := make([]Message, 0, len(uids))
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			s.logger.Warn("failed to collect IMAP message", slog.Any("error", err))
			continue
		}

		m := Message{
			UID:         uint32(buf.UID),
			UIDValidity: selected.UIDValidity,
			Raw:         buf.FindBodySection(bodySection),
		}
		if buf.Envelope != nil {
			m.Subject = buf.Envelope.Subject
		}
		messages = append(messages, m)
	}

	if err := fetchCmd.Close(); err != nil {
		return messages, fmt.Errorf("fetching messages: %w", err)
	}

	s.logger.Debug("fetched unseen messages",
		slog.String("mailbox", s.cfg.Mailbox),
		slog.Int("count", len(messages)),
	)
	return messages, nil
}

// MarkSeen flags the given messages as \Seen.
func (s *IMAPSource) MarkSeen(ctx context.Context, uids ...uint32) error {
	if len(uids) == 0 {
		return nil
	}

	client, _, release, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer release()

	set := make([]imap.UID, 0, len(uids))
	for _, uid := range uids {
		set = append(set, imap.UID(uid))
	}

	storeCmd := client.Store(imap.UIDSetNum(set...), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil)
	if err := storeCmd.Close(); err != nil {
		return fmt.Errorf("marking messages seen: %w", err)
	}
	return nil
}

// Package poller drains the reporting mailbox on a fixed interval.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/welldanyogia/webrana-phishtriage/internal/mailbox"
	"github.com/welldanyogia/webrana-phishtriage/internal/models"
	"github.com/welldanyogia/webrana-phishtriage/internal/pipeline"
	"github.com/welldanyogia/webrana-phishtriage/internal/storage"
)

// Defaults
const (
	DefaultInterval    = 5 * time.Minute
	DefaultBatchSize   = 50
	DefaultMaxAttempts = 3
)

// Source yields unseen reported messages.
type Source interface {
	FetchUnseen(ctx context.Context, limit int) ([]mailbox.Message, error)
	MarkSeen(ctx context.Context, uids ...uint32) error
}

// Processor runs one artifact through the pipeline.
type Processor interface {
	Process(ctx context.Context, a pipeline.Artifact) *pipeline.Result
}

// Recorder persists pipeline results.
type Recorder interface {
	Recorded(ctx context.Context, artifactID string) (bool, error)
	Record(ctx context.Context, source, archivePath string, res *pipeline.Result) (*models.Report, error)
}

// Config holds the poller collaborators and tuning.
type Config struct {
	Source    Source
	Processor Processor
	Recorder  Recorder
	// Archive is optional; without it raw artifacts are not kept.
	Archive   storage.Archive
	Interval  time.Duration
	BatchSize int
	Workers   int
	// MaxAttempts bounds how often a message whose reply was not delivered,
	// or whose report could not be stored, is processed before it is given
	// up on and marked seen.
	MaxAttempts int
	Logger      *slog.Logger
}

// Summary counts what one poll did.
type Summary struct {
	Fetched   int `json:"fetched"`
	Processed int `json:"processed"`
	// Duplicates were already recorded by an earlier poll and only marked seen.
	Duplicates int `json:"duplicates"`
	// Failed messages stay unseen and are retried on the next poll.
	Failed int `json:"failed"`
	// Abandoned messages failed MaxAttempts times and were marked seen.
	Abandoned int `json:"abandoned"`
}

// disposition is what one poll did with a message.
type disposition int

const (
	processed disposition = iota
	duplicate
	retry
	abandoned
)

// Poller drains the reporting mailbox.
type Poller struct {
	cfg Config
	// mu keeps RunOnce calls from the ticker and the API from overlapping
	mu sync.Mutex

	attemptsMu sync.Mutex
	// attempts counts unsettled passes per artifact ID
	attempts map[string]int
}

// New creates a Poller, applying defaults to zero settings.
func New(cfg Config) (*Poller, error) {
	if cfg.Source == nil || cfg.Processor == nil || cfg.Recorder == nil {
		return nil, fmt.Errorf("poller: source, processor and recorder are required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Poller{cfg: cfg, attempts: make(map[string]int)}, nil
}

// Run polls immediately and then every Interval until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.cfg.Logger.Info("mailbox poller started",
		slog.Duration("interval", p.cfg.Interval),
		slog.Int("workers", p.cfg.Workers))

	for {
		if _, err := p.RunOnce(ctx); err != nil && ctx.Err() == nil {
			p.cfg.Logger.Error("mailbox poll failed", slog.Any("error", err))
		}

		select {
		case <-ctx.Done():
			p.cfg.Logger.Info("mailbox poller stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce fetches one batch of unseen messages and processes them. The
// returned error only reports a failed fetch; per-message failures are
// logged and counted.
func (p *Poller) RunOnce(ctx context.Context) (Summary, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var sum Summary
	msgs, err := p.cfg.Source.FetchUnseen(ctx, p.cfg.BatchSize)
	if err != nil {
		return sum, fmt.Errorf("fetch unseen: %w", err)
	}
	sum.Fetched = len(msgs)
	if len(msgs) == 0 {
		return sum, nil
	}

	var (
		mu   sync.Mutex
		done []uint32
	)

	g := new(errgroup.Group)
	g.SetLimit(p.cfg.Workers)
	for _, msg := range msgs {
		if ctx.Err() != nil {
			break
		}
		msg := msg
		g.Go(func() error {
			d := p.handle(ctx, msg)

			mu.Lock()
			defer mu.Unlock()
			switch d {
			case processed:
				sum.Processed++
			case duplicate:
				sum.Duplicates++
			case retry:
				sum.Failed++
				return nil
			case abandoned:
				sum.Abandoned++
			}
			done = append(done, msg.UID)
			return nil
		})
	}
	_ = g.Wait()

	if len(done) > 0 {
		// Marking uses a fresh context so a shutdown does not leave
		// already answered messages unseen.
		markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := p.cfg.Source.MarkSeen(markCtx, done...); err != nil {
			p.cfg.Logger.Error("failed to mark messages seen",
				slog.Int("count", len(done)),
				slog.Any("error", err))
		}
	}

	p.cfg.Logger.Info("mailbox poll completed",
		slog.Int("fetched", sum.Fetched),
		slog.Int("processed", sum.Processed),
		slog.Int("duplicates", sum.Duplicates),
		slog.Int("failed", sum.Failed),
		slog.Int("abandoned", sum.Abandoned))
	return sum, nil
}

// handle runs one message through archive, pipeline and recorder.
func (p *Poller) handle(ctx context.Context, msg mailbox.Message) disposition {
	id := msg.ArtifactID()
	log := p.cfg.Logger.With(slog.String("artifact_id", id))

	recorded, err := p.cfg.Recorder.Recorded(ctx, id)
	if err != nil {
		log.Error("failed to check report", slog.Any("error", err))
		return retry
	}
	if recorded {
		log.Info("artifact already recorded, marking seen")
		p.settle(id)
		return duplicate
	}

	path := p.archive(log, msg.Raw)

	res := p.cfg.Processor.Process(ctx, pipeline.Artifact{ID: id, Raw: msg.Raw})

	if path != "" {
		if moved, err := p.cfg.Archive.MarkProcessed(path); err != nil {
			log.Warn("failed to move artifact to processed", slog.String("path", path), slog.Any("error", err))
		} else {
			path = moved
		}
	}

	if _, err := p.cfg.Recorder.Record(ctx, models.SourceIMAP, path, res); err != nil {
		log.Error("failed to record report", slog.Any("error", err))
		// A sent reply must not be sent again on the next poll.
		if res.Outcome == pipeline.OutcomeResponded {
			p.settle(id)
			return processed
		}
		return p.unsettled(log, id)
	}

	if res.Outcome == pipeline.OutcomeDeliveryFailed {
		log.Warn("reply not delivered, leaving message unseen", slog.String("reason", res.Reason))
		return p.unsettled(log, id)
	}
	p.settle(id)
	return processed
}

// unsettled counts a pass that must be retried and gives up after
// MaxAttempts of them.
func (p *Poller) unsettled(log *slog.Logger, id string) disposition {
	p.attemptsMu.Lock()
	defer p.attemptsMu.Unlock()

	p.attempts[id]++
	if n := p.attempts[id]; n >= p.cfg.MaxAttempts {
		delete(p.attempts, id)
		log.Error("giving up on artifact, marking seen", slog.Int("attempts", n))
		return abandoned
	}
	return retry
}

func (p *Poller) settle(id string) {
	p.attemptsMu.Lock()
	delete(p.attempts, id)
	p.attemptsMu.Unlock()
}

func (p *Poller) archive(log *slog.Logger, raw []byte) string {
	if p.cfg.Archive == nil {
		return ""
	}
	path, err := p.cfg.Archive.Store(raw)
	if err != nil {
		log.Warn("failed to archive artifact", slog.Any("error", err))
		return ""
	}
	return path
}

// Package report persists pipeline results and announces new verdicts.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/welldanyogia/webrana-phishtriage/internal/models"
	"github.com/welldanyogia/webrana-phishtriage/internal/pipeline"
	"github.com/welldanyogia/webrana-phishtriage/internal/repository"
	"github.com/welldanyogia/webrana-phishtriage/internal/websocket"
)

// Notifier receives every recorded verdict.
type Notifier interface {
	BroadcastVerdict(payload *websocket.VerdictPayload)
}

// Recorder stores one Report per artifact.
type Recorder struct {
	repo     repository.ReportRepository
	notifier Notifier
	logger   *slog.Logger
}

// NewRecorder creates a Recorder. notifier may be nil.
func NewRecorder(repo repository.ReportRepository, notifier Notifier, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{repo: repo, notifier: notifier, logger: logger}
}

// Record stores the result of processing an artifact. Recording the same
// artifact twice is not an error; the first report is kept unless its reply
// was never delivered, in which case the new result supersedes it.
func (r *Recorder) Record(ctx context.Context, source, archivePath string, res *pipeline.Result) (*models.Report, error) {
	if res == nil {
		return nil, fmt.Errorf("record report: nil result")
	}

	rep := Build(source, archivePath, res)
	err := r.repo.Create(ctx, rep)
	if errors.Is(err, repository.ErrDuplicateEntry) {
		existing, getErr := r.repo.GetByArtifactID(ctx, res.ArtifactID)
		if getErr != nil {
			return nil, fmt.Errorf("record report %s: %w", res.ArtifactID, getErr)
		}
		if existing.Outcome != string(pipeline.OutcomeDeliveryFailed) {
			r.logger.Info("report already recorded", slog.String("artifact_id", res.ArtifactID))
			return existing, nil
		}
		r.logger.Info("replacing report of undelivered reply",
			slog.String("artifact_id", res.ArtifactID),
			slog.String("outcome", rep.Outcome))
		err = r.repo.Replace(ctx, rep)
	}
	if err != nil {
		return nil, fmt.Errorf("record report %s: %w", res.ArtifactID, err)
	}

	if r.notifier != nil {
		r.notifier.BroadcastVerdict(&websocket.VerdictPayload{
			ReportID:       rep.ID,
			ArtifactID:     rep.ArtifactID,
			Source:         rep.Source,
			Outcome:        rep.Outcome,
			OriginalSender: rep.OriginalSender,
			Subject:        rep.Subject,
			Score:          rep.Score,
			ThreatLevel:    rep.ThreatLevel,
			RecordedAt:     rep.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return rep, nil
}

// Recorded reports whether artifactID has a settled report. A report whose
// reply failed to deliver is not settled, so the artifact may be retried.
func (r *Recorder) Recorded(ctx context.Context, artifactID string) (bool, error) {
	rep, err := r.repo.GetByArtifactID(ctx, artifactID)
	switch {
	case err == nil:
		return rep.Outcome != string(pipeline.OutcomeDeliveryFailed), nil
	case errors.Is(err, repository.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Build maps a pipeline result onto its persisted form.
func Build(source, archivePath string, res *pipeline.Result) *models.Report {
	rep := &models.Report{
		ArtifactID:  res.ArtifactID,
		Source:      source,
		Outcome:     string(res.Outcome),
		Reason:      res.Reason,
		ArchivePath: archivePath,
	}

	if p := res.Parsed; p != nil {
		rep.OriginalSender = truncate(p.OriginalSender, models.MaxAddressLength)
		rep.ReporterAddress = truncate(p.ReporterAddress, models.MaxAddressLength)
		rep.Subject = p.Subject
		rep.MessageID = truncate(p.MessageID, models.MaxMessageIDLength)
		rep.Snippet = truncate(p.Snippet, models.MaxSnippetLength)
	}

	if a := res.Assessment; a != nil {
		rep.Score = a.Score
		rep.ThreatLevel = string(a.Level)
		rep.ReputationScore = a.Breakdown.Reputation
		rep.KeywordScore = a.Breakdown.Keywords
		rep.AttachmentScore = a.Breakdown.Attachments
		rep.MatchedKeywords = a.Breakdown.MatchedKeywords
	}

	if res.Reply != nil {
		rep.ReplySubject = res.Reply.Subject
	}

	if res.Parsed != nil {
		degraded := make(map[string]bool, len(res.DegradedLinks))
		for _, l := range res.DegradedLinks {
			degraded[l] = true
		}
		for _, link := range res.Parsed.Links {
			rl := models.ReportLink{URL: link, Degraded: degraded[link]}
			if v, ok := res.Reputation[link]; ok {
				rl.Malicious, rl.Suspicious = v.Malicious, v.Suspicious
			}
			rep.Links = append(rep.Links, rl)
		}

		risky := map[string]bool{}
		if res.Assessment != nil {
			for _, n := range res.Assessment.Breakdown.RiskyAttachments {
				risky[n] = true
			}
		}
		for _, name := range res.Parsed.AttachmentNames {
			rep.Attachments = append(rep.Attachments, models.ReportAttachment{
				Filename: truncate(name, models.MaxFilenameLength),
				Risky:    risky[name],
			})
		}
	}

	return rep
}

// truncate cuts s to at most limit characters, keeping runes whole.
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}

// Package pipeline sequences the analysis of one reported artifact:
// parse, reputation lookups, scoring and the verdict reply.
package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/welldanyogia/webrana-phishtriage/internal/analysis"
	"github.com/welldanyogia/webrana-phishtriage/internal/delivery"
	"github.com/welldanyogia/webrana-phishtriage/internal/logger"
	"github.com/welldanyogia/webrana-phishtriage/internal/reputation"
	"github.com/welldanyogia/webrana-phishtriage/internal/validator"
)

// DefaultLookupTimeout bounds a single reputation lookup.
const DefaultLookupTimeout = 10 * time.Second

// Artifact is one raw reported message and the identifier its source gave it.
type Artifact struct {
	ID  string
	Raw []byte
}

// Outcome is the final state of one pipeline pass.
type Outcome string

const (
	// OutcomeResponded means the verdict reply was delivered.
	OutcomeResponded Outcome = "responded"
	// OutcomeSkipped means the artifact was analyzed but nobody could be replied to.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeFailed means the artifact could not be analyzed.
	OutcomeFailed Outcome = "failed"
	// OutcomeDeliveryFailed means the analysis succeeded but the reply was not delivered.
	OutcomeDeliveryFailed Outcome = "delivery_failed"
	// OutcomeAnalyzed is the outcome of a dry run, which never delivers.
	OutcomeAnalyzed Outcome = "analyzed"
)

// Result describes one pipeline pass. Parsed, Assessment and Reply are nil
// when the outcome is OutcomeFailed.
type Result struct {
	ArtifactID string
	Outcome    Outcome
	// Reason explains a failure, a skip or a delivery failure.
	Reason     string
	Parsed     *analysis.ParsedMessage
	Reputation map[string]reputation.Result
	// DegradedLinks lists links whose lookup failed and counted as clean.
	DegradedLinks []string
	Assessment    *analysis.Assessment
	Reply         *delivery.Reply
}

// Sender delivers a composed reply.
type Sender interface {
	Send(ctx context.Context, reply delivery.Reply) error
}

// Config holds the collaborators of a Processor. Zero fields get defaults.
type Config struct {
	Scorer        *analysis.Scorer
	Composer      analysis.Composer
	Reputation    reputation.Service
	Sender        Sender
	LookupTimeout time.Duration
	// SelfAddress is the service's own From address; reports coming from
	// it are skipped so replies never loop back into the mailbox.
	SelfAddress string
	Logger      *logger.PipelineLogger
}

// Processor runs the pipeline. It keeps no per-artifact state and is safe
// for concurrent use as long as its collaborators are.
type Processor struct {
	scorer        *analysis.Scorer
	composer      analysis.Composer
	reputation    reputation.Service
	sender        Sender
	lookupTimeout time.Duration
	selfAddress   string
	log           *logger.PipelineLogger
}

// NewProcessor creates a Processor from cfg.
func NewProcessor(cfg Config) (*Processor, error) {
	p := &Processor{
		scorer:        cfg.Scorer,
		composer:      cfg.Composer,
		reputation:    cfg.Reputation,
		sender:        cfg.Sender,
		lookupTimeout: cfg.LookupTimeout,
		selfAddress:   strings.ToLower(strings.TrimSpace(cfg.SelfAddress)),
		log:           cfg.Logger,
	}

	if p.scorer == nil {
		s, err := analysis.NewScorer(analysis.DefaultPolicy())
		if err != nil {
			return nil, err
		}
		p.scorer = s
	}
	if p.reputation == nil {
		p.reputation = reputation.NewNoop()
	}
	if p.sender == nil {
		p.sender = delivery.NewLogOnly(nil)
	}
	if p.lookupTimeout <= 0 {
		p.lookupTimeout = DefaultLookupTimeout
	}
	if p.log == nil {
		p.log = logger.NewPipelineLogger(nil)
	}
	return p, nil
}

// Process analyzes the artifact and, when a reply can be addressed, delivers
// the verdict. It never panics and never returns nil; every failure is
// reported in the Result.
func (p *Processor) Process(ctx context.Context, a Artifact) (res *Result) {
	res = &Result{ArtifactID: a.ID}

	defer func() {
		if r := recover(); r != nil {
			res.Outcome = OutcomeFailed
			res.Reason = fmt.Sprintf("panic: %v", r)
			p.log.Event("artifact_panic", map[string]string{
				"artifact_id": a.ID,
				"stack":       string(debug.Stack()),
			})
			p.log.ArtifactFailed(a.ID, res.Reason)
		}
	}()

	if err := p.analyze(ctx, a, res); err != nil {
		res.Outcome = OutcomeFailed
		res.Reason = err.Error()
		p.log.ArtifactFailed(a.ID, res.Reason)
		return res
	}

	to, reason := p.recipient(res.Parsed)
	if to == "" {
		res.Outcome = OutcomeSkipped
		res.Reason = reason
		p.log.ArtifactSkipped(a.ID, reason)
		p.logProcessed(res)
		return res
	}
	res.Reply.To = to

	if err := p.sender.Send(ctx, *res.Reply); err != nil {
		res.Outcome = OutcomeDeliveryFailed
		res.Reason = err.Error()
		p.log.DeliveryFailed(a.ID, to, err)
		p.logProcessed(res)
		return res
	}

	res.Outcome = OutcomeResponded
	p.logProcessed(res)
	return res
}

// Analyze runs the pipeline without delivering anything. The returned
// Result has OutcomeAnalyzed and an unaddressed Reply; the error is non-nil
// only when the artifact could not be parsed.
func (p *Processor) Analyze(ctx context.Context, a Artifact) (res *Result, err error) {
	res = &Result{ArtifactID: a.ID}

	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("analyze artifact %s: panic: %v", a.ID, r)
		}
	}()

	if err := p.analyze(ctx, a, res); err != nil {
		return nil, err
	}
	res.Outcome = OutcomeAnalyzed
	return res, nil
}

func (p *Processor) analyze(ctx context.Context, a Artifact, res *Result) error {
	parsed, err := analysis.Parse(a.Raw)
	if err != nil {
		return err
	}
	res.Parsed = parsed

	res.Reputation = make(map[string]reputation.Result, len(parsed.Links))
	for _, link := range parsed.Links {
		rep, err := p.lookup(ctx, link)
		if err != nil {
			p.log.ReputationDegraded(a.ID, link, err)
			res.DegradedLinks = append(res.DegradedLinks, link)
			rep = reputation.Result{}
		}
		res.Reputation[link] = rep.Normalize()
	}

	assessment := p.scorer.Score(parsed, res.Reputation)
	res.Assessment = &assessment

	res.Reply = &delivery.Reply{
		Subject:   analysis.ReplySubject(assessment.Level, parsed.Subject),
		Body:      p.composer.Compose(assessment, parsed.Subject, analysis.CountsOf(parsed)),
		InReplyTo: parsed.MessageID,
	}
	return nil
}

// lookup queries the reputation service under its own timeout. A panicking
// service is treated like a failing one.
func (p *Processor) lookup(ctx context.Context, url string) (rep reputation.Result, err error) {
	ctx, cancel := context.WithTimeout(ctx, p.lookupTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			rep, err = reputation.Result{}, fmt.Errorf("reputation service panic: %v", r)
		}
	}()

	return p.reputation.Lookup(ctx, url)
}

// recipient decides who receives the verdict. The original sender must be
// resolvable for a reply to be sent, and the reply goes to whoever reported
// the message, never to the original sender.
func (p *Processor) recipient(parsed *analysis.ParsedMessage) (string, string) {
	sender := parsed.OriginalSender
	if sender == "" || sender == analysis.UnknownSender || validator.ValidateEmail(sender) != nil {
		return "", "original sender not resolvable"
	}

	to := strings.TrimSpace(parsed.ReporterAddress)
	if err := validator.ValidateRecipient(to); err != nil {
		return "", "no reporter address to reply to"
	}
	if p.selfAddress != "" && strings.ToLower(to) == p.selfAddress {
		return "", "report sent by this service"
	}
	return to, ""
}

func (p *Processor) logProcessed(res *Result) {
	p.log.ArtifactProcessed(
		res.ArtifactID,
		string(res.Outcome),
		string(res.Assessment.Level),
		res.Assessment.Score,
		len(res.Parsed.Links),
		len(res.Parsed.AttachmentNames),
	)
}

package analysis

import (
	"strings"

	"github.com/welldanyogia/webrana-phishtriage/internal/reputation"
)

// Scorer applies a Policy to parsed messages. It holds no mutable state and
// is safe for concurrent use.
type Scorer struct {
	policy Policy
}

// NewScorer validates the policy and returns a Scorer holding a private
// copy of it.
func NewScorer(policy Policy) (*Scorer, error) {
	policy = policy.normalized()
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{policy: policy}, nil
}

// Policy returns a copy of the scorer's policy.
func (s *Scorer) Policy() Policy {
	return s.policy.normalized()
}

// Score sums the independent rule contributions for a message and
// classifies the total. Links missing from reps contribute nothing.
func (s *Scorer) Score(parsed *ParsedMessage, reps map[string]reputation.Result) Assessment {
	var b Breakdown

	for _, link := range parsed.Links {
		rep, ok := reps[link]
		if !ok {
			continue
		}
		rep = rep.Normalize()
		contribution := rep.Malicious*s.policy.MaliciousWeight + rep.Suspicious*s.policy.SuspiciousWeight
		if contribution > 0 {
			b.Reputation += contribution
			b.FlaggedLinks = append(b.FlaggedLinks, link)
		}
	}

	body := strings.ToLower(parsed.BodyText)
	for _, term := range s.policy.Keywords {
		if strings.Contains(body, term) {
			b.Keywords += s.policy.KeywordWeight
			b.MatchedKeywords = append(b.MatchedKeywords, term)
		}
	}

	for _, name := range parsed.AttachmentNames {
		if s.riskyName(name) {
			b.Attachments += s.policy.AttachmentWeight
			b.RiskyAttachments = append(b.RiskyAttachments, name)
		}
	}

	score := b.Reputation + b.Keywords + b.Attachments
	return Assessment{
		Score:     score,
		Level:     s.Classify(score),
		Breakdown: b,
	}
}

// Classify maps a score to its threat level.
func (s *Scorer) Classify(score int) ThreatLevel {
	switch {
	case score >= s.policy.HighThreshold:
		return LevelHigh
	case score >= s.policy.MediumThreshold:
		return LevelMedium
	default:
		return LevelLow
	}
}

func (s *Scorer) riskyName(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, ext := range s.policy.RiskyExtensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// Package analysis turns a raw reported mail artifact into a scored threat
// assessment and the canned reply that describes it.
package analysis

import "strings"

// UnknownSender is the OriginalSender of a message whose sender could not be
// resolved.
const UnknownSender = "unknown"

// ThreatLevel is the three-tier classification of an artifact.
type ThreatLevel string

const (
	LevelLow    ThreatLevel = "low"
	LevelMedium ThreatLevel = "medium"
	LevelHigh   ThreatLevel = "high"
)

// Valid reports whether l is one of the three known levels.
func (l ThreatLevel) Valid() bool {
	switch l {
	case LevelLow, LevelMedium, LevelHigh:
		return true
	}
	return false
}

// ParseThreatLevel maps a level name (any case) to a ThreatLevel.
func ParseThreatLevel(s string) (ThreatLevel, bool) {
	l := ThreatLevel(strings.ToLower(strings.TrimSpace(s)))
	return l, l.Valid()
}

// ParsedMessage is the normalized record extracted from one artifact. Every
// field is defined after parsing; absence is an empty value.
type ParsedMessage struct {
	// OriginalSender is the author of the reported mail, unwrapped from one
	// forwarded layer when present, or UnknownSender.
	OriginalSender string
	// ReporterAddress is the top-level From address, i.e. whoever forwarded
	// the artifact. Empty when absent.
	ReporterAddress string
	Subject         string
	MessageID       string
	BodyText        string
	BodyHTML        string
	Snippet         string
	// Links is the sorted set of URLs found in BodyText and BodyHTML.
	Links           []string
	AttachmentNames []string
}

// Counts are the indicator totals interpolated into a reply.
type Counts struct {
	Links       int
	Attachments int
}

// CountsOf returns the indicator totals of a parsed message.
func CountsOf(p *ParsedMessage) Counts {
	return Counts{Links: len(p.Links), Attachments: len(p.AttachmentNames)}
}

// Breakdown records what each scoring rule contributed.
type Breakdown struct {
	Reputation       int      `json:"reputation"`
	Keywords         int      `json:"keywords"`
	Attachments      int      `json:"attachments"`
	FlaggedLinks     []string `json:"flagged_links,omitempty"`
	MatchedKeywords  []string `json:"matched_keywords,omitempty"`
	RiskyAttachments []string `json:"risky_attachments,omitempty"`
}

// Assessment is the scored classification of a parsed message.
type Assessment struct {
	Score     int         `json:"score"`
	Level     ThreatLevel `json:"level"`
	Breakdown Breakdown   `json:"breakdown"`
}

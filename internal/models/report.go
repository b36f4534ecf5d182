package models

import (
	"time"
)

// Report sources
const (
	SourceIMAP = "imap"
	SourceSMTP = "smtp"
)

// Column limits of the bounded Report fields
const (
	MaxAddressLength   = 255
	MaxMessageIDLength = 998
	MaxSnippetLength   = 255
	MaxFilenameLength  = 255
)

// Report is the persisted outcome of one pipeline pass over an artifact
type Report struct {
	ID              uint   `gorm:"primaryKey" json:"id"`
	ArtifactID      string `gorm:"not null;size:255;uniqueIndex" json:"artifact_id"`
	Source          string `gorm:"not null;size:16;index" json:"source"`
	Outcome         string `gorm:"not null;size:32;index" json:"outcome"`
	Reason          string `json:"reason,omitempty"`
	OriginalSender  string `gorm:"size:255;index" json:"original_sender"`
	ReporterAddress string `gorm:"size:255" json:"reporter_address,omitempty"`
	Subject         string `json:"subject,omitempty"`
	MessageID       string `gorm:"size:998" json:"message_id,omitempty"`
	Snippet         string `gorm:"size:255" json:"snippet,omitempty"`

	// Assessment
	Score           int       `gorm:"not null;default:0" json:"score"`
	ThreatLevel     string    `gorm:"size:16;index" json:"threat_level,omitempty"`
	ReputationScore int       `gorm:"not null;default:0" json:"reputation_score"`
	KeywordScore    int       `gorm:"not null;default:0" json:"keyword_score"`
	AttachmentScore int       `gorm:"not null;default:0" json:"attachment_score"`
	MatchedKeywords []string  `gorm:"serializer:json" json:"matched_keywords,omitempty"`
	ReplySubject    string    `json:"reply_subject,omitempty"`
	ArchivePath     string    `gorm:"size:500" json:"archive_path,omitempty"`
	CreatedAt       time.Time `gorm:"autoCreateTime;index" json:"created_at"`

	// Relationships
	Links       []ReportLink       `gorm:"foreignKey:ReportID;constraint:OnDelete:CASCADE" json:"links,omitempty"`
	Attachments []ReportAttachment `gorm:"foreignKey:ReportID;constraint:OnDelete:CASCADE" json:"attachments,omitempty"`
}

// TableName returns the table name for Report
func (Report) TableName() string {
	return "reports"
}

// ReportLink is one URL found in a reported message with its reputation
type ReportLink struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	ReportID   uint   `gorm:"not null;index" json:"report_id"`
	URL        string `gorm:"not null;type:text" json:"url"`
	Malicious  int    `gorm:"not null;default:0" json:"malicious"`
	Suspicious int    `gorm:"not null;default:0" json:"suspicious"`
	// Degraded is set when the reputation lookup failed and counted as clean.
	Degraded bool `gorm:"default:false" json:"degraded"`
}

// TableName returns the table name for ReportLink
func (ReportLink) TableName() string {
	return "report_links"
}

// ReportAttachment is one attachment filename of a reported message
type ReportAttachment struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	ReportID uint   `gorm:"not null;index" json:"report_id"`
	Filename string `gorm:"size:255" json:"filename"`
	Risky    bool   `gorm:"default:false" json:"risky"`
}

// TableName returns the table name for ReportAttachment
func (ReportAttachment) TableName() string {
	return "report_attachments"
}

// ReportListItem is a lightweight version for list views
type ReportListItem struct {
	ID              uint      `json:"id"`
	ArtifactID      string    `json:"artifact_id"`
	Source          string    `json:"source"`
	Outcome         string    `json:"outcome"`
	OriginalSender  string    `json:"original_sender"`
	Subject         string    `json:"subject,omitempty"`
	Snippet         string    `json:"snippet,omitempty"`
	Score           int       `json:"score"`
	ThreatLevel     string    `json:"threat_level,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	LinkCount       int       `json:"link_count"`
	AttachmentCount int       `json:"attachment_count"`
}

// ReportFilter narrows a report listing. Empty fields match everything.
type ReportFilter struct {
	ThreatLevel    string
	Outcome        string
	Source         string
	OriginalSender string
}

package repository

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/welldanyogia/webrana-phishtriage/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ReportRepositoryTestSuite is the test suite for ReportRepository
type ReportRepositoryTestSuite struct {
	suite.Suite
	db   *gorm.DB
	repo ReportRepository
}

// SetupSuite runs once before all tests
func (s *ReportRepositoryTestSuite) SetupSuite() {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(s.T(), err)

	// A single connection keeps every query on the same in-memory database.
	sqlDB, err := db.DB()
	require.NoError(s.T(), err)
	sqlDB.SetMaxOpenConns(1)

	db.Exec("PRAGMA foreign_keys = ON")

	err = db.AutoMigrate(&models.Report{}, &models.ReportLink{}, &models.ReportAttachment{})
	require.NoError(s.T(), err)

	s.db = db
	s.repo = NewReportRepository(db)
}

// TearDownSuite runs once after all tests
func (s *ReportRepositoryTestSuite) TearDownSuite() {
	sqlDB, _ := s.db.DB()
	if sqlDB != nil {
		sqlDB.Close()
	}
}

// SetupTest runs before each test
func (s *ReportRepositoryTestSuite) SetupTest() {
	s.db.Exec("DELETE FROM report_attachments")
	s.db.Exec("DELETE FROM report_links")
	s.db.Exec("DELETE FROM reports")
}

func TestReportRepositoryTestSuite(t *testing.T) {
	suite.Run(t, new(ReportRepositoryTestSuite))
}

func newReport(artifactID, level, outcome string) *models.Report {
	return &models.Report{
		ArtifactID:      artifactID,
		Source:          models.SourceIMAP,
		Outcome:         outcome,
		OriginalSender:  "attacker@evil.example",
		ReporterAddress: "alice@corp.example",
		Subject:         "Urgent: verify your account",
		Score:           18,
		ThreatLevel:     level,
		KeywordScore:    18,
		MatchedKeywords: []string{"account", "urgent", "verify"},
		Links: []models.ReportLink{
			{URL: "https://files.evil.example/doc", Malicious: 1},
			{URL: "https://ok.example/", Degraded: true},
		},
		Attachments: []models.ReportAttachment{
			{Filename: "invoice.docm", Risky: true},
		},
	}
}

// ==================== Create Tests ====================

func (s *ReportRepositoryTestSuite) TestCreate_Success() {
	ctx := context.Background()
	report := newReport("imap-1-1", "high", "responded")

	err := s.repo.Create(ctx, report)

	s.NoError(err)
	s.NotZero(report.ID)
	s.False(report.CreatedAt.IsZero())
	for _, l := range report.Links {
		s.Equal(report.ID, l.ReportID)
		s.NotZero(l.ID)
	}
	s.Equal(report.ID, report.Attachments[0].ReportID)
}

func (s *ReportRepositoryTestSuite) TestCreate_DuplicateArtifact() {
	ctx := context.Background()
	require.NoError(s.T(), s.repo.Create(ctx, newReport("imap-1-2", "high", "responded")))

	err := s.repo.Create(ctx, newReport("imap-1-2", "low", "responded"))

	s.ErrorIs(err, ErrDuplicateEntry)

	var links int64
	s.db.Model(&models.ReportLink{}).Count(&links)
	s.Equal(int64(2), links, "rolled back duplicate must not leave links behind")
}

func (s *ReportRepositoryTestSuite) TestCreate_InvalidInput() {
	ctx := context.Background()

	s.ErrorIs(s.repo.Create(ctx, nil), ErrInvalidInput)
	s.ErrorIs(s.repo.Create(ctx, &models.Report{}), ErrInvalidInput)
}

func (s *ReportRepositoryTestSuite) TestCreate_WithoutAssociations() {
	ctx := context.Background()
	report := &models.Report{
		ArtifactID: "smtp-abc",
		Source:     models.SourceSMTP,
		Outcome:    "failed",
		Reason:     "parse artifact: empty artifact",
	}

	s.NoError(s.repo.Create(ctx, report))
	s.NotZero(report.ID)
}

func (s *ReportRepositoryTestSuite) TestCreate_LongURL() {
	ctx := context.Background()
	report := newReport("imap-1-4", "high", "skipped")
	long := "https://track.evil.example/c?u=" + strings.Repeat("a", 4000)
	report.Links = append(report.Links, models.ReportLink{URL: long})

	s.Require().NoError(s.repo.Create(ctx, report))

	found, err := s.repo.GetByArtifactID(ctx, "imap-1-4")
	s.Require().NoError(err)
	s.Len(found.Links, 3)
	s.Equal(long, found.Links[2].URL)
}

// ==================== Replace Tests ====================

func (s *ReportRepositoryTestSuite) TestReplace_SwapsReportAndAssociations() {
	ctx := context.Background()
	first := newReport("imap-2-1", "high", "delivery_failed")
	s.Require().NoError(s.repo.Create(ctx, first))

	retry := newReport("imap-2-1", "high", "responded")
	retry.Links = retry.Links[:1]
	retry.Attachments = nil

	err := s.repo.Replace(ctx, retry)

	s.Require().NoError(err)
	s.NotZero(retry.ID)
	found, err := s.repo.GetByArtifactID(ctx, "imap-2-1")
	s.Require().NoError(err)
	s.Equal("responded", found.Outcome)
	s.Len(found.Links, 1)
	s.Empty(found.Attachments)

	var reports, links, attachments int64
	s.db.Model(&models.Report{}).Count(&reports)
	s.db.Model(&models.ReportLink{}).Count(&links)
	s.db.Model(&models.ReportAttachment{}).Count(&attachments)
	s.Equal(int64(1), reports)
	s.Equal(int64(1), links, "links of the replaced report are removed")
	s.Equal(int64(0), attachments)
}

func (s *ReportRepositoryTestSuite) TestReplace_Errors() {
	ctx := context.Background()

	s.ErrorIs(s.repo.Replace(ctx, newReport("imap-2-9", "low", "responded")), ErrNotFound)
	s.ErrorIs(s.repo.Replace(ctx, nil), ErrInvalidInput)
}

// ==================== Get Tests ====================

func (s *ReportRepositoryTestSuite) TestGetByID_PreloadsAssociations() {
	ctx := context.Background()
	report := newReport("imap-1-3", "high", "responded")
	require.NoError(s.T(), s.repo.Create(ctx, report))

	found, err := s.repo.GetByID(ctx, report.ID)

	s.NoError(err)
	s.Equal("imap-1-3", found.ArtifactID)
	s.Len(found.Links, 2)
	s.Len(found.Attachments, 1)
	s.Equal([]string{"account", "urgent", "verify"}, found.MatchedKeywords)
}

func (s *ReportRepositoryTestSuite) TestGetByID_NotFound() {
	_, err := s.repo.GetByID(context.Background(), 99999)

	s.ErrorIs(err, ErrNotFound)
}

func (s *ReportRepositoryTestSuite) TestGetByArtifactID() {
	ctx := context.Background()
	require.NoError(s.T(), s.repo.Create(ctx, newReport("imap-7-42", "medium", "responded")))

	found, err := s.repo.GetByArtifactID(ctx, "imap-7-42")
	s.NoError(err)
	s.Equal("medium", found.ThreatLevel)

	_, err = s.repo.GetByArtifactID(ctx, "imap-7-43")
	s.ErrorIs(err, ErrNotFound)
}

// ==================== List Tests ====================

func (s *ReportRepositoryTestSuite) TestList_OrderAndCounts() {
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		r := newReport(fmt.Sprintf("imap-1-%d", 10+i), "high", "responded")
		r.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(s.T(), s.repo.Create(ctx, r))
	}

	items, total, err := s.repo.List(ctx, models.ReportFilter{}, 10, 0)

	s.NoError(err)
	s.Equal(int64(3), total)
	s.Require().Len(items, 3)
	s.Equal("imap-1-12", items[0].ArtifactID, "newest first")
	s.Equal(2, items[0].LinkCount)
	s.Equal(1, items[0].AttachmentCount)
}

func (s *ReportRepositoryTestSuite) TestList_Pagination() {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(s.T(), s.repo.Create(ctx, newReport(fmt.Sprintf("imap-2-%d", i), "low", "responded")))
	}

	items, total, err := s.repo.List(ctx, models.ReportFilter{}, 2, 4)

	s.NoError(err)
	s.Equal(int64(5), total)
	s.Len(items, 1)
}

func (s *ReportRepositoryTestSuite) TestList_Filters() {
	ctx := context.Background()
	require.NoError(s.T(), s.repo.Create(ctx, newReport("imap-3-1", "high", "responded")))
	require.NoError(s.T(), s.repo.Create(ctx, newReport("imap-3-2", "low", "responded")))
	skipped := newReport("smtp-x", "low", "skipped")
	skipped.Source = models.SourceSMTP
	skipped.OriginalSender = "unknown"
	require.NoError(s.T(), s.repo.Create(ctx, skipped))

	tests := []struct {
		name   string
		filter models.ReportFilter
		want   int64
	}{
		{"level", models.ReportFilter{ThreatLevel: "low"}, 2},
		{"outcome", models.ReportFilter{Outcome: "skipped"}, 1},
		{"source", models.ReportFilter{Source: models.SourceIMAP}, 2},
		{"sender", models.ReportFilter{OriginalSender: "unknown"}, 1},
		{"combined", models.ReportFilter{ThreatLevel: "low", Source: models.SourceIMAP}, 1},
		{"no match", models.ReportFilter{ThreatLevel: "medium"}, 0},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			items, total, err := s.repo.List(ctx, tt.filter, 10, 0)
			s.NoError(err)
			s.Equal(tt.want, total)
			s.Len(items, int(tt.want))
		})
	}
}

// ==================== Stats Tests ====================

func (s *ReportRepositoryTestSuite) TestCountByLevelAndOutcome() {
	ctx := context.Background()
	require.NoError(s.T(), s.repo.Create(ctx, newReport("a", "high", "responded")))
	require.NoError(s.T(), s.repo.Create(ctx, newReport("b", "high", "delivery_failed")))
	require.NoError(s.T(), s.repo.Create(ctx, newReport("c", "low", "responded")))
	require.NoError(s.T(), s.repo.Create(ctx, &models.Report{ArtifactID: "d", Source: models.SourceSMTP, Outcome: "failed"}))

	levels, err := s.repo.CountByLevel(ctx)
	s.NoError(err)
	s.Equal(map[string]int64{"high": 2, "low": 1}, levels)

	outcomes, err := s.repo.CountByOutcome(ctx)
	s.NoError(err)
	s.Equal(map[string]int64{"responded": 2, "delivery_failed": 1, "failed": 1}, outcomes)
}

func TestIsDuplicateKeyError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{gorm.ErrDuplicatedKey, true},
		{fmt.Errorf("failed to create report links: %w", gorm.ErrDuplicatedKey), true},
		{gorm.ErrForeignKeyViolated, false},
		{fmt.Errorf("connection refused"), false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, isDuplicateKeyError(tt.err))
	}
}

package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/welldanyogia/webrana-phishtriage/internal/models"
)

// ReportRepository defines the interface for triage report data access
type ReportRepository interface {
	Create(ctx context.Context, report *models.Report) error
	Replace(ctx context.Context, report *models.Report) error
	GetByID(ctx context.Context, id uint) (*models.Report, error)
	GetByArtifactID(ctx context.Context, artifactID string) (*models.Report, error)
	List(ctx context.Context, filter models.ReportFilter, limit, offset int) ([]models.ReportListItem, int64, error)
	CountByLevel(ctx context.Context) (map[string]int64, error)
	CountByOutcome(ctx context.Context) (map[string]int64, error)
}

// reportRepository implements ReportRepository using GORM
type reportRepository struct {
	db *gorm.DB
}

// NewReportRepository creates a new ReportRepository instance
func NewReportRepository(db *gorm.DB) ReportRepository {
	return &reportRepository{db: db}
}

// Create stores a report together with its links and attachments in one
// transaction. A second report for the same artifact yields ErrDuplicateEntry.
func (r *reportRepository) Create(ctx context.Context, report *models.Report) error {
	if report == nil || report.ArtifactID == "" {
		return ErrInvalidInput
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return createReport(tx, report)
	})
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateEntry
		}
		return fmt.Errorf("failed to create report: %w", err)
	}
	return nil
}

// Replace swaps the stored report of report.ArtifactID, links and
// attachments included, for report. It yields ErrNotFound when the artifact
// has no report yet.
func (r *reportRepository) Replace(ctx context.Context, report *models.Report) error {
	if report == nil || report.ArtifactID == "" {
		return ErrInvalidInput
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Report
		if err := tx.Select("id").Where("artifact_id = ?", report.ArtifactID).First(&existing).Error; err != nil {
			return err
		}

		if err := tx.Where("report_id = ?", existing.ID).Delete(&models.ReportLink{}).Error; err != nil {
			return fmt.Errorf("failed to delete report links: %w", err)
		}
		if err := tx.Where("report_id = ?", existing.ID).Delete(&models.ReportAttachment{}).Error; err != nil {
			return fmt.Errorf("failed to delete report attachments: %w", err)
		}
		if err := tx.Delete(&models.Report{}, existing.ID).Error; err != nil {
			return fmt.Errorf("failed to delete report: %w", err)
		}

		report.ID = 0
		return createReport(tx, report)
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to replace report: %w", err)
	}
	return nil
}

func createReport(tx *gorm.DB, report *models.Report) error {
	links, attachments := report.Links, report.Attachments

	if err := tx.Omit("Links", "Attachments").Create(report).Error; err != nil {
		return err
	}

	for i := range links {
		links[i].ID = 0
		links[i].ReportID = report.ID
	}
	if len(links) > 0 {
		if err := tx.Create(&links).Error; err != nil {
			return fmt.Errorf("failed to create report links: %w", err)
		}
	}

	for i := range attachments {
		attachments[i].ID = 0
		attachments[i].ReportID = report.ID
	}
	if len(attachments) > 0 {
		if err := tx.Create(&attachments).Error; err != nil {
			return fmt.Errorf("failed to create report attachments: %w", err)
		}
	}

	report.Links, report.Attachments = links, attachments
	return nil
}

// GetByID retrieves a report by its ID with preloaded links and attachments
func (r *reportRepository) GetByID(ctx context.Context, id uint) (*models.Report, error) {
	var report models.Report
	result := r.db.WithContext(ctx).Preload("Links").Preload("Attachments").First(&report, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get report by ID: %w", result.Error)
	}
	return &report, nil
}

// GetByArtifactID retrieves the report of an artifact
func (r *reportRepository) GetByArtifactID(ctx context.Context, artifactID string) (*models.Report, error) {
	var report models.Report
	result := r.db.WithContext(ctx).Preload("Links").Preload("Attachments").
		Where("artifact_id = ?", artifactID).First(&report)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get report by artifact ID: %w", result.Error)
	}
	return &report, nil
}

// List retrieves reports matching filter, newest first, with pagination
func (r *reportRepository) List(ctx context.Context, filter models.ReportFilter, limit, offset int) ([]models.ReportListItem, int64, error) {
	var total int64
	if err := r.filtered(ctx, filter).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count reports: %w", err)
	}

	var results []models.ReportListItem
	err := r.filtered(ctx, filter).
		Select(`reports.id, reports.artifact_id, reports.source, reports.outcome,
			reports.original_sender, reports.subject, reports.snippet, reports.score,
			reports.threat_level, reports.created_at,
			COALESCE((SELECT COUNT(*) FROM report_links l WHERE l.report_id = reports.id), 0) AS link_count,
			COALESCE((SELECT COUNT(*) FROM report_attachments a WHERE a.report_id = reports.id), 0) AS attachment_count`).
		Order("reports.created_at DESC, reports.id DESC").
		Limit(limit).
		Offset(offset).
		Scan(&results).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list reports: %w", err)
	}

	return results, total, nil
}

func (r *reportRepository) filtered(ctx context.Context, filter models.ReportFilter) *gorm.DB {
	q := r.db.WithContext(ctx).Model(&models.Report{})
	if filter.ThreatLevel != "" {
		q = q.Where("reports.threat_level = ?", filter.ThreatLevel)
	}
	if filter.Outcome != "" {
		q = q.Where("reports.outcome = ?", filter.Outcome)
	}
	if filter.Source != "" {
		q = q.Where("reports.source = ?", filter.Source)
	}
	if filter.OriginalSender != "" {
		q = q.Where("reports.original_sender = ?", filter.OriginalSender)
	}
	return q
}

// CountByLevel counts reports per threat level. Failed reports, which
// carry no level, are not counted.
func (r *reportRepository) CountByLevel(ctx context.Context) (map[string]int64, error) {
	return r.countBy(ctx, "threat_level")
}

// CountByOutcome counts reports per pipeline outcome.
func (r *reportRepository) CountByOutcome(ctx context.Context) (map[string]int64, error) {
	return r.countBy(ctx, "outcome")
}

func (r *reportRepository) countBy(ctx context.Context, column string) (map[string]int64, error) {
	var rows []struct {
		Bucket string
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&models.Report{}).
		Select(column + " AS bucket, COUNT(*) AS count").
		Where(column + " <> ''").
		Group(column).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count reports by %s: %w", column, err)
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Bucket] = row.Count
	}
	return counts, nil
}

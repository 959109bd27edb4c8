package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/unisubmit-api/internal/models"
	appErrors "github.com/noah-isme/unisubmit-api/pkg/errors"
	"github.com/noah-isme/unisubmit-api/pkg/export"
)

type rosterSource interface {
	HODStudents(ctx context.Context, principal *models.Principal) ([]models.StudentSummary, error)
}

// ReportFile is a rendered export ready to download.
type ReportFile struct {
	FileName    string
	ContentType string
	Content     []byte
}

// ReportService renders department exports for HODs.
type ReportService struct {
	roster      rosterSource
	departments departmentLister
	logger      *zap.Logger
	now         func() time.Time
}

// NewReportService constructs the report service.
func NewReportService(roster rosterSource, departments departmentLister, logger *zap.Logger) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportService{
		roster:      roster,
		departments: departments,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// StudentRoster exports the HOD's students with their submission totals.
func (s *ReportService) StudentRoster(ctx context.Context, principal *models.Principal, rawFormat string) (*ReportFile, error) {
	format, err := export.ParseFormat(rawFormat)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "format must be csv or pdf")
	}
	students, err := s.roster.HODStudents(ctx, principal)
	if err != nil {
		return nil, err
	}

	dataset := export.Dataset{
		Title:   fmt.Sprintf("%s students", s.departmentName(ctx, principal.Department)),
		Headers: []string{"Name", "Email", "Joined", "Submissions"},
		Rows:    make([][]string, 0, len(students)),
	}
	for _, st := range students {
		dataset.Rows = append(dataset.Rows, []string{
			st.Name,
			st.Email,
			st.CreatedAt.Format("2 Jan 2006"),
			strconv.Itoa(st.Total),
		})
	}

	exporter, err := export.ForFormat(format)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "format must be csv or pdf")
	}
	content, err := exporter.Render(dataset)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	s.logger.Info("student roster exported",
		zap.String("department", principal.Department),
		zap.String("format", string(format)),
		zap.Int("rows", len(dataset.Rows)),
	)
	return &ReportFile{
		FileName:    fmt.Sprintf("%s-students-%s.%s", principal.Department, s.now().Format("20060102"), exporter.Extension()),
		ContentType: exporter.ContentType(),
		Content:     content,
	}, nil
}

func (s *ReportService) departmentName(ctx context.Context, slug string) string {
	if s.departments == nil {
		return slug
	}
	departments, err := s.departments.List(ctx)
	if err != nil {
		s.logger.Warn("failed to resolve department name", zap.String("department", slug), zap.Error(err))
		return slug
	}
	for _, d := range departments {
		if d.Slug == slug {
			return d.Name
		}
	}
	return slug
}

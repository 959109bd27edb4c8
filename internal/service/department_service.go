package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/unisubmit-api/internal/models"
	appErrors "github.com/noah-isme/unisubmit-api/pkg/errors"
	"github.com/noah-isme/unisubmit-api/pkg/sanitize"
)

const departmentsCacheKey = "departments:all"

type departmentStore interface {
	List(ctx context.Context) ([]models.Department, error)
	FindByNameOrSlug(ctx context.Context, name, slug string) (*models.Department, error)
	Create(ctx context.Context, department *models.Department) error
	Delete(ctx context.Context, id string) error
}

// DepartmentService manages the department directory.
type DepartmentService struct {
	repo   departmentStore
	cache  *CacheService
	logger *zap.Logger
}

// NewDepartmentService constructs a DepartmentService. cache may be nil.
func NewDepartmentService(repo departmentStore, cache *CacheService, logger *zap.Logger) *DepartmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DepartmentService{repo: repo, cache: cache, logger: logger}
}

// List returns every department sorted by name.
func (s *DepartmentService) List(ctx context.Context) ([]models.Department, error) {
	var cached []models.Department
	if s.cache.Get(ctx, departmentsCacheKey, &cached) {
		return cached, nil
	}
	departments, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list departments")
	}
	s.cache.Set(ctx, departmentsCacheKey, departments, 0)
	return departments, nil
}

// Create adds a department with a slug derived from its name.
func (s *DepartmentService) Create(ctx context.Context, name string) (*models.Department, error) {
	name = sanitize.Text(name)
	if name == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "department name is required")
	}
	slug := models.DepartmentSlug(name)
	if slug == "" || strings.Trim(slug, "_-") == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "department name must contain letters or digits")
	}

	if _, err := s.repo.FindByNameOrSlug(ctx, name, slug); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "department already exists")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check department")
	}

	department := &models.Department{Name: name, Slug: slug}
	if err := s.repo.Create(ctx, department); err != nil {
		if isUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "department already exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create department")
	}
	s.cache.Invalidate(ctx, departmentsCacheKey)
	s.logger.Info("department created", zap.String("department_id", department.ID), zap.String("slug", slug))
	return department, nil
}

// Delete removes a department. Accounts that reference it keep the dangling slug.
func (s *DepartmentService) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return appErrors.Clone(appErrors.ErrValidation, "invalid department id")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "department not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete department")
	}
	s.cache.Invalidate(ctx, departmentsCacheKey)
	s.logger.Info("department deleted", zap.String("department_id", id))
	return nil
}

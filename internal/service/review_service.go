package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/unisubmit-api/internal/models"
	appErrors "github.com/noah-isme/unisubmit-api/pkg/errors"
)

type reviewAssignmentStore interface {
	FindByID(ctx context.Context, id string) (*models.Assignment, error)
	TransitionReviewState(ctx context.Context, id string, guard models.TransitionGuard, patch models.ReviewPatch) (*models.Assignment, error)
}

type reviewNotifier interface {
	ReviewUpdated(assignment *models.Assignment)
}

// transitionRule describes one workflow edge. Open statuses accept any actor of
// the department; Locked statuses only accept the professor already recorded as
// reviewer. Repeating a decision the reviewer already made changes nothing.
type transitionRule struct {
	Actor  models.UserRole
	Open   []models.AssignmentStatus
	Locked []models.AssignmentStatus
	To     models.AssignmentStatus
}

var transitionRules = map[models.ReviewAction]transitionRule{
	models.ReviewActionApprove: {
		Actor:  models.RoleProfessor,
		Open:   []models.AssignmentStatus{models.AssignmentStatusPending},
		Locked: []models.AssignmentStatus{models.AssignmentStatusApproved, models.AssignmentStatusRejected, models.AssignmentStatusRechecking},
		To:     models.AssignmentStatusApproved,
	},
	models.ReviewActionReject: {
		Actor:  models.RoleProfessor,
		Open:   []models.AssignmentStatus{models.AssignmentStatusPending},
		Locked: []models.AssignmentStatus{models.AssignmentStatusApproved, models.AssignmentStatusRejected, models.AssignmentStatusRechecking},
		To:     models.AssignmentStatusRejected,
	},
	models.ReviewActionSubmit: {
		Actor: models.RoleHOD,
		Open:  []models.AssignmentStatus{models.AssignmentStatusApproved},
		To:    models.AssignmentStatusSubmitted,
	},
	models.ReviewActionRecheck: {
		Actor: models.RoleHOD,
		Open:  []models.AssignmentStatus{models.AssignmentStatusApproved},
		To:    models.AssignmentStatusRechecking,
	},
}

// ReviewService drives the assignment review state machine.
type ReviewService struct {
	store    reviewAssignmentStore
	notifier reviewNotifier
	metrics  *MetricsService
	logger   *zap.Logger
	now      func() time.Time
}

// NewReviewService constructs a ReviewService.
func NewReviewService(store reviewAssignmentStore, notifier reviewNotifier, metrics *MetricsService, logger *zap.Logger) *ReviewService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReviewService{
		store:    store,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ProfessorReview applies approve or reject.
func (s *ReviewService) ProfessorReview(ctx context.Context, principal *models.Principal, assignmentID string, action models.ReviewAction) (*models.Assignment, error) {
	if action != models.ReviewActionApprove && action != models.ReviewActionReject {
		s.metrics.RecordTransition(action, OutcomeInvalid)
		return nil, appErrors.Clone(appErrors.ErrValidation, "action must be approve or reject")
	}
	return s.Transition(ctx, principal, assignmentID, action)
}

// HODReview applies submit or recheck.
func (s *ReviewService) HODReview(ctx context.Context, principal *models.Principal, assignmentID string, action models.ReviewAction) (*models.Assignment, error) {
	if action != models.ReviewActionSubmit && action != models.ReviewActionRecheck {
		s.metrics.RecordTransition(action, OutcomeInvalid)
		return nil, appErrors.Clone(appErrors.ErrValidation, "action must be submit or recheck")
	}
	return s.Transition(ctx, principal, assignmentID, action)
}

// Transition applies an action atomically. The precondition is evaluated by the
// store inside the update, so concurrent reviewers cannot both succeed.
func (s *ReviewService) Transition(ctx context.Context, principal *models.Principal, assignmentID string, action models.ReviewAction) (*models.Assignment, error) {
	if principal == nil {
		return nil, appErrors.ErrUnauthorized
	}
	rule, ok := transitionRules[action]
	if !ok {
		s.metrics.RecordTransition(action, OutcomeInvalid)
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown action %q", action))
	}
	if _, err := uuid.Parse(assignmentID); err != nil {
		s.metrics.RecordTransition(action, OutcomeInvalid)
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid assignment id")
	}
	if principal.Role != rule.Actor {
		s.metrics.RecordTransition(action, OutcomeForbidden)
		return nil, appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("only a %s may %s assignments", rule.Actor, action))
	}

	guard := models.TransitionGuard{
		Department: principal.Department,
		Open:       rule.Open,
		Locked:     rule.writableLocked(),
		ActorID:    principal.ID,
	}
	updated, err := s.store.TransitionReviewState(ctx, assignmentID, guard, s.patchFor(action, rule, principal))
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.metrics.RecordTransition(action, OutcomeError)
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update assignment")
		}
		current, outcome, rejectErr := s.classifyRejection(ctx, assignmentID, action, rule, principal)
		s.metrics.RecordTransition(action, outcome)
		if rejectErr == nil {
			s.logger.Debug("review transition unchanged",
				zap.String("assignment_id", assignmentID),
				zap.String("action", string(action)),
				zap.String("actor_id", principal.ID),
			)
			return current, nil
		}
		s.logger.Info("review transition rejected",
			zap.String("assignment_id", assignmentID),
			zap.String("action", string(action)),
			zap.String("actor_id", principal.ID),
			zap.String("outcome", outcome),
		)
		return nil, rejectErr
	}

	s.metrics.RecordTransition(action, OutcomeApplied)
	s.logger.Info("review transition applied",
		zap.String("assignment_id", updated.ID),
		zap.String("action", string(action)),
		zap.String("actor_id", principal.ID),
		zap.String("status", string(updated.Status)),
	)
	if s.notifier != nil {
		s.notifier.ReviewUpdated(updated)
	}
	return updated, nil
}

func (s *ReviewService) patchFor(action models.ReviewAction, rule transitionRule, principal *models.Principal) models.ReviewPatch {
	now := s.now()
	to := rule.To
	id, name := principal.ID, principal.Name
	patch := models.ReviewPatch{Status: &to}
	switch action {
	case models.ReviewActionApprove, models.ReviewActionReject:
		patch.ReviewerID = &id
		patch.ReviewerName = &name
		patch.ReviewedAt = &now
		patch.ClearRecheckNote = true
	case models.ReviewActionSubmit:
		patch.HODID = &id
		patch.HODName = &name
		patch.HODReviewedAt = &now
	case models.ReviewActionRecheck:
		note := models.RecheckNote
		patch.RecheckNote = &note
	}
	return patch
}

// classifyRejection re-reads the record after a guarded update matched nothing.
// A nil error means the reviewer repeated their own decision and the current
// record is returned as is.
func (s *ReviewService) classifyRejection(ctx context.Context, assignmentID string, action models.ReviewAction, rule transitionRule, principal *models.Principal) (*models.Assignment, string, error) {
	current, err := s.store.FindByID(ctx, assignmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, OutcomeNotFound, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, OutcomeError, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment")
	}
	if current.Department != principal.Department {
		return nil, OutcomeForbidden, appErrors.Clone(appErrors.ErrForbidden, "assignment belongs to another department")
	}
	for _, status := range rule.Locked {
		if current.Status != status {
			continue
		}
		if !current.ReviewedBy(principal.ID) {
			return nil, OutcomeForbidden, appErrors.Clone(appErrors.ErrForbidden, "assignment is locked by another reviewer")
		}
		if status == rule.To {
			return current, OutcomeUnchanged, nil
		}
	}
	return nil, OutcomeConflict, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("cannot %s an assignment that is %s", action, current.Status))
}

// writableLocked drops the target status from the locked set so a repeated
// decision never reaches the update.
func (r transitionRule) writableLocked() []models.AssignmentStatus {
	out := make([]models.AssignmentStatus, 0, len(r.Locked))
	for _, status := range r.Locked {
		if status != r.To {
			out = append(out, status)
		}
	}
	return out
}

package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/unisubmit-api/internal/models"
	"github.com/noah-isme/unisubmit-api/pkg/jobs"
	"github.com/noah-isme/unisubmit-api/pkg/mail"
)

// Notification kinds.
const (
	NotificationSignupOTP       = "signup_otp"
	NotificationAccountApproved = "account_approved"
	NotificationAccountRejected = "account_rejected"
	NotificationReviewUpdate    = "review_update"
)

// NotificationConfig sizes the delivery worker pool.
type NotificationConfig struct {
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
}

// NotificationService delivers account and workflow emails. Verification codes
// are sent synchronously; everything else goes through a retrying worker pool
// and never fails the caller.
type NotificationService struct {
	sender  mail.Sender
	queue   *jobs.Queue
	metrics *MetricsService
	logger  *zap.Logger
}

// NewNotificationService constructs the service and its delivery queue.
func NewNotificationService(sender mail.Sender, metrics *MetricsService, logger *zap.Logger, cfg NotificationConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{sender: sender, metrics: metrics, logger: logger}
	s.queue = jobs.NewQueue("notifications", s.deliver, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return s
}

// Start launches the delivery workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains buffered notifications and stops the workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// SendSignupOTP delivers a verification code and reports failure to the caller.
func (s *NotificationService) SendSignupOTP(ctx context.Context, name, email, otp string, ttl time.Duration) error {
	msg := mail.Message{
		To:      email,
		ToName:  name,
		Subject: "Your Verification OTP",
		Body:    fmt.Sprintf("Your OTP code is: %s. It will expire in %d minutes.", otp, int(ttl.Minutes())),
	}
	err := s.sender.Send(ctx, msg)
	s.metrics.RecordNotification(NotificationSignupOTP, err == nil)
	return err
}

// AccountApproved queues the approval email.
func (s *NotificationService) AccountApproved(name, email string) {
	s.enqueue(NotificationAccountApproved, mail.Message{
		To:      email,
		ToName:  name,
		Subject: "Your account has been approved",
		Body:    fmt.Sprintf("Hello %s,\n\nYour account is approved. You may now log in.\n\n- Admin", name),
	})
}

// AccountRejected queues the rejection email.
func (s *NotificationService) AccountRejected(name, email string) {
	s.enqueue(NotificationAccountRejected, mail.Message{
		To:      email,
		ToName:  name,
		Subject: "Signup Request Rejected",
		Body:    fmt.Sprintf("Hello %s,\n\nYour signup request was rejected.\n\n- Admin", name),
	})
}

// ReviewUpdated queues a status email to the student who owns the assignment.
func (s *NotificationService) ReviewUpdated(assignment *models.Assignment) {
	if assignment == nil {
		return
	}
	body := fmt.Sprintf("Hello %s,\n\nYour assignment %q is now %s.", assignment.StudentName, assignment.Title, assignment.Status)
	if assignment.Status == models.AssignmentStatusRechecking && assignment.RecheckNote != nil {
		body += "\n\n" + *assignment.RecheckNote
	}
	s.enqueue(NotificationReviewUpdate, mail.Message{
		To:      assignment.StudentEmail,
		ToName:  assignment.StudentName,
		Subject: "Assignment status updated",
		Body:    body,
	})
}

func (s *NotificationService) enqueue(kind string, msg mail.Message) {
	job := jobs.Job{ID: uuid.NewString(), Type: kind, Payload: msg}
	if err := s.queue.Enqueue(job); err != nil {
		s.metrics.RecordNotification(kind, false)
		s.logger.Warn("notification dropped", zap.String("kind", kind), zap.String("to", msg.To), zap.Error(err))
	}
}

func (s *NotificationService) deliver(ctx context.Context, job jobs.Job) error {
	msg, ok := job.Payload.(mail.Message)
	if !ok {
		s.logger.Error("unexpected notification payload", zap.String("job_id", job.ID), zap.String("type", job.Type))
		return nil
	}
	sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	err := s.sender.Send(sendCtx, msg)
	s.metrics.RecordNotification(job.Type, err == nil)
	return err
}

package pipeline

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
)

// Submission limits.
const (
	MaxTargetLen           = 2048
	MaxCandidateProfileLen = 20000
)

// ErrValidation marks a submission rejected before any row was created.
var ErrValidation = eris.New("pipeline: invalid submission")

// ValidationError describes which input was rejected. It matches
// ErrValidation under errors.Is.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Is makes errors.Is(err, ErrValidation) true.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Scheduler is the part of Pool the service drives.
type Scheduler interface {
	Enqueue(requestID string) bool
	Cancel(requestID string) bool
}

// Service is the entry point for submitting, reading, and cancelling
// requests on behalf of an owner.
type Service struct {
	store     store.RequestStore
	scheduler Scheduler
}

// NewService creates a Service. A nil scheduler leaves submitted requests
// pending for the caller to run.
func NewService(st store.RequestStore, scheduler Scheduler) *Service {
	return &Service{store: st, scheduler: scheduler}
}

// ValidateSubmission checks submission inputs.
func ValidateSubmission(ownerID, target, candidateProfile string) error {
	if strings.TrimSpace(ownerID) == "" {
		return &ValidationError{Field: "owner", Message: "owner is required"}
	}
	target = strings.TrimSpace(target)
	if target == "" {
		return &ValidationError{Field: "target", Message: "target is required"}
	}
	if len(target) > MaxTargetLen {
		return &ValidationError{Field: "target", Message: "target must be at most 2048 characters"}
	}
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ValidationError{Field: "target", Message: "target must be an absolute http(s) URL"}
	}
	if utf8.RuneCountInString(candidateProfile) > MaxCandidateProfileLen {
		return &ValidationError{Field: "candidateProfile", Message: "candidateProfile must be at most 20000 characters"}
	}
	return nil
}

// Submit validates, creates a pending request, and schedules it. The
// request is durable before Submit returns even if the queue is full.
func (s *Service) Submit(ctx context.Context, ownerID, target, candidateProfile string) (*model.PipelineRequest, error) {
	if err := ValidateSubmission(ownerID, target, candidateProfile); err != nil {
		return nil, err
	}
	req, err := s.store.CreateRequest(ctx, ownerID, strings.TrimSpace(target), candidateProfile)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create request")
	}
	queued := false
	if s.scheduler != nil {
		queued = s.scheduler.Enqueue(req.ID)
	}
	zap.L().Info("pipeline: submitted",
		zap.String("request_id", req.ID),
		zap.String("owner_id", ownerID),
		zap.Bool("queued", queued),
	)
	return req, nil
}

// Get returns ownerID's request. Requests of other owners report
// store.ErrNotFound.
func (s *Service) Get(ctx context.Context, ownerID, requestID string) (*model.PipelineRequest, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.OwnerID != ownerID {
		return nil, eris.Wrapf(store.ErrNotFound, "pipeline: request %s", requestID)
	}
	return req, nil
}

// List returns ownerID's requests, newest first, optionally by status.
func (s *Service) List(ctx context.Context, ownerID string, status model.RequestStatus, limit int) ([]model.PipelineRequest, error) {
	if status != "" && !status.IsValid() {
		return nil, &ValidationError{Field: "status", Message: "unknown status " + string(status)}
	}
	return s.store.ListRequests(ctx, store.RequestFilter{OwnerID: ownerID, Status: status, Limit: limit})
}

// Cancel moves ownerID's request to cancelled and stops its run. Terminal
// requests yield store.ErrInvalidTransition.
func (s *Service) Cancel(ctx context.Context, ownerID, requestID string) error {
	if _, err := s.Get(ctx, ownerID, requestID); err != nil {
		return err
	}
	if err := s.store.TransitionStatus(ctx, requestID, model.RequestStatusCancelled, ""); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return err
		}
		return eris.Wrap(err, "pipeline: cancel request")
	}
	if s.scheduler != nil {
		s.scheduler.Cancel(requestID)
	}
	zap.L().Info("pipeline: cancelled", zap.String("request_id", requestID))
	return nil
}

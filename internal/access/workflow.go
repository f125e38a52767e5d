package access

import (
	"context"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"arewa.org/internal/apperr"
	"arewa.org/internal/clock"
	"arewa.org/internal/ids"
)

// Rules bound what a new access request may contain.
type Rules struct {
	CodePrefix     string
	PurposeMin     int
	PurposeMax     int
	MinDays        int
	MaxDays        int
	ApprovalWindow time.Duration
}

// DefaultRules mirrors the web catalogue form.
func DefaultRules() Rules {
	return Rules{
		CodePrefix:     "ACC",
		PurposeMin:     50,
		PurposeMax:     1000,
		MinDays:        1,
		MaxDays:        30,
		ApprovalWindow: DefaultApprovalWindow,
	}
}

// NewRequest is the user-supplied part of an access request.
type NewRequest struct {
	UserID       string
	Resource     ResourceRef
	Type         RequestType
	Purpose      string
	DurationDays int
}

// Workflow drives access requests through pending → approved|denied.
type Workflow struct {
	repo  RequestRepository
	rules Rules
	clock clock.Clock
}

// WorkflowOption configures Workflow.
type WorkflowOption func(*Workflow)

func WithRules(r Rules) WorkflowOption {
	return func(w *Workflow) {
		def := DefaultRules()
		if r.CodePrefix == "" {
			r.CodePrefix = def.CodePrefix
		}
		if r.MinDays <= 0 {
			r.MinDays = def.MinDays
		}
		if r.MaxDays < r.MinDays {
			r.MaxDays = def.MaxDays
		}
		if r.PurposeMax <= 0 {
			r.PurposeMax = def.PurposeMax
		}
		if r.ApprovalWindow <= 0 {
			r.ApprovalWindow = def.ApprovalWindow
		}
		w.rules = r
	}
}

func WithWorkflowClock(c clock.Clock) WorkflowOption {
	return func(w *Workflow) {
		if c != nil {
			w.clock = c
		}
	}
}

func NewWorkflow(repo RequestRepository, opts ...WorkflowOption) *Workflow {
	w := &Workflow{repo: repo, rules: DefaultRules(), clock: clock.System}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Rules returns the active rules.
func (w *Workflow) Rules() Rules { return w.rules }

// Create validates in and stores a pending request with a fresh request code.
func (w *Workflow) Create(ctx context.Context, in NewRequest) (*AccessRequest, error) {
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return nil, apperr.Invalid("user_id", "user is required")
	}
	if strings.TrimSpace(in.Resource.ID) == "" {
		return nil, apperr.Invalid("resource_id", "resource is required")
	}
	if _, err := ParseResourceKind(string(in.Resource.Kind)); err != nil {
		return nil, err
	}
	typ, err := ParseRequestType(string(in.Type))
	if err != nil {
		return nil, err
	}
	purpose := SanitizePurpose(in.Purpose)
	n := utf8.RuneCountInString(purpose)
	if n < w.rules.PurposeMin {
		return nil, apperr.Invalid("purpose", "must be at least %d characters", w.rules.PurposeMin)
	}
	if n > w.rules.PurposeMax {
		return nil, apperr.Invalid("purpose", "must be at most %d characters", w.rules.PurposeMax)
	}
	if in.DurationDays < w.rules.MinDays || in.DurationDays > w.rules.MaxDays {
		return nil, apperr.Invalid("duration_days", "must be between %d and %d", w.rules.MinDays, w.rules.MaxDays)
	}

	now := w.clock.Now()
	code, err := ids.RequestCode(w.rules.CodePrefix, now)
	if err != nil {
		return nil, apperr.Infrastructure("access.request_code", err)
	}
	req := &AccessRequest{
		ID:           ids.New(),
		Code:         code,
		UserID:       userID,
		Resource:     in.Resource,
		Type:         typ,
		Purpose:      purpose,
		DurationDays: in.DurationDays,
		Status:       StatusPending,
		RequestedAt:  now,
	}
	if err := w.repo.Create(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// Approve moves a pending request to approved.
func (w *Workflow) Approve(ctx context.Context, id, reviewer string) (*AccessRequest, error) {
	return w.transition(ctx, id, StatusApproved, reviewer)
}

// Deny moves a pending request to denied.
func (w *Workflow) Deny(ctx context.Context, id, reviewer string) (*AccessRequest, error) {
	return w.transition(ctx, id, StatusDenied, reviewer)
}

func (w *Workflow) transition(ctx context.Context, id string, to RequestStatus, reviewer string) (*AccessRequest, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperr.Invalid("id", "request id is required")
	}
	return w.repo.Transition(ctx, id, StatusPending, to, strings.TrimSpace(reviewer), w.clock.Now())
}

// Get returns a request by id.
func (w *Workflow) Get(ctx context.Context, id string) (*AccessRequest, error) {
	return w.repo.Find(ctx, strings.TrimSpace(id))
}

// HasStandingApproval reports whether an approved request for the pair was made within the window ending at now.
func (w *Workflow) HasStandingApproval(ctx context.Context, userID string, ref ResourceRef, now time.Time) (bool, error) {
	approvals, err := w.approvals(ctx, userID, ref, now)
	if err != nil {
		return false, err
	}
	for _, r := range approvals {
		if r.Standing(now, w.rules.ApprovalWindow) {
			return true, nil
		}
	}
	return false, nil
}

func (w *Workflow) approvals(ctx context.Context, userID string, ref ResourceRef, now time.Time) ([]AccessRequest, error) {
	return w.repo.Approved(ctx, userID, ref, now.Add(-w.rules.ApprovalWindow))
}

// ListForUser returns the user's requests with approvals past their window shown as expired.
func (w *Workflow) ListForUser(ctx context.Context, userID string) ([]AccessRequest, error) {
	reqs, err := w.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := w.clock.Now()
	for i := range reqs {
		reqs[i].Status = reqs[i].EffectiveStatus(now, w.rules.ApprovalWindow)
	}
	return reqs, nil
}

// SanitizePurpose trims s and drops control characters other than newlines and tabs.
func SanitizePurpose(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

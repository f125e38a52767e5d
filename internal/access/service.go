package access

import (
	"context"

	"arewa.org/internal/apperr"
	"arewa.org/internal/clock"
)

// Service is the entry point collaborators use to decide access and open requests.
type Service struct {
	workflow *Workflow
	policy   Policy
	clock    clock.Clock
}

func NewService(workflow *Workflow, c clock.Clock) *Service {
	return &Service{
		workflow: workflow,
		policy:   Policy{ApprovalWindow: workflow.rules.ApprovalWindow},
		clock:    clock.OrSystem(c),
	}
}

// Workflow exposes the underlying request workflow for review operations.
func (s *Service) Workflow() *Workflow { return s.workflow }

// DecideAccess evaluates the policy for user on res. Approvals are only loaded
// for restricted resources and authenticated users.
func (s *Service) DecideAccess(ctx context.Context, user *User, res Resource) (Decision, error) {
	now := s.clock.Now()
	var approvals []AccessRequest
	if res.AccessLevel == LevelRestricted && user != nil && user.ID != "" {
		var err error
		approvals, err = s.workflow.approvals(ctx, user.ID, res.Ref, now)
		if err != nil {
			return Decision{}, err
		}
	}
	return s.policy.Decide(user, res, approvals, now), nil
}

// CreateAccessRequest opens a request for res on behalf of user. Users that
// already reach res through a non-restricted tier are turned away.
func (s *Service) CreateAccessRequest(ctx context.Context, user User, res Resource, in NewRequest) (*AccessRequest, error) {
	if res.AccessLevel != LevelRestricted {
		d := s.policy.Decide(&user, res, nil, s.clock.Now())
		if d.Allowed {
			return nil, apperr.Invalid("resource_id", "access is already granted (%s)", d.Reason)
		}
	}
	in.UserID = user.ID
	in.Resource = res.Ref
	return s.workflow.Create(ctx, in)
}

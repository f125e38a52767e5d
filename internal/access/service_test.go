package access

import (
	"context"
	"errors"
	"testing"
	"time"

	"arewa.org/internal/apperr"
	"arewa.org/internal/clock"
)

func TestResearcherRestrictedLifecycle(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC))
	svc := NewService(NewWorkflow(NewMemoryRequests(), WithWorkflowClock(clk)), clk)

	u := User{ID: "u-res", Type: UserResearcher, Active: true}
	manuscripts := Resource{Ref: ResourceRef{Kind: KindCollection, ID: "c-7"}, AccessLevel: LevelResearchersOnly}
	letters := Resource{Ref: ResourceRef{Kind: KindAsset, ID: "a-9"}, AccessLevel: LevelRestricted}

	d, err := svc.DecideAccess(ctx, &u, manuscripts)
	if err != nil || !d.Allowed {
		t.Fatalf("researcher should reach researchers_only: %+v %v", d, err)
	}

	d, err = svc.DecideAccess(ctx, &u, letters)
	if err != nil {
		t.Fatalf("DecideAccess: %v", err)
	}
	if d.Allowed || d.Reason != ReasonRestrictedNoApproval {
		t.Fatalf("expected restricted_no_approval, got %+v", d)
	}
	if !errors.Is(d.Err(), apperr.ErrAccessDenied) || apperr.ReasonOf(d.Err()) != ReasonRestrictedNoApproval {
		t.Fatalf("unexpected denial error %v", d.Err())
	}

	req, err := svc.CreateAccessRequest(ctx, u, letters, NewRequest{Purpose: longPurpose, DurationDays: 10, Type: TypeResearch})
	if err != nil {
		t.Fatalf("CreateAccessRequest: %v", err)
	}
	if req.Status != StatusPending || req.UserID != u.ID || req.Resource != letters.Ref {
		t.Fatalf("unexpected request %+v", req)
	}

	if _, err := svc.Workflow().Approve(ctx, req.ID, "admin-1"); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	d, _ = svc.DecideAccess(ctx, &u, letters)
	if !d.Allowed || d.Reason != ReasonStandingApproval {
		t.Fatalf("expected allow after approval, got %+v", d)
	}

	clk.Advance(31 * 24 * time.Hour)
	d, _ = svc.DecideAccess(ctx, &u, letters)
	if d.Allowed {
		t.Fatalf("expected deny after 31 days, got %+v", d)
	}
}

func TestCreateAccessRequestRejectsExistingAccess(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewWorkflow(NewMemoryRequests()), nil)
	u := User{ID: "u-1", Type: UserResearcher, Active: true}

	for _, level := range []AccessLevel{LevelPublic, LevelRegisteredUsers, LevelResearchersOnly} {
		res := Resource{Ref: ResourceRef{Kind: KindCollection, ID: string(level)}, AccessLevel: level}
		_, err := svc.CreateAccessRequest(ctx, u, res, NewRequest{Purpose: longPurpose, DurationDays: 30})
		if apperr.FieldOf(err) != "resource_id" {
			t.Fatalf("%s: expected resource_id rejection, got %v", level, err)
		}
	}

	// A donor may still ask for a researchers-only collection.
	donor := User{ID: "u-2", Type: UserDonor, Active: true}
	res := Resource{Ref: ResourceRef{Kind: KindCollection, ID: "c-1"}, AccessLevel: LevelResearchersOnly}
	if _, err := svc.CreateAccessRequest(ctx, donor, res, NewRequest{Purpose: longPurpose, DurationDays: 30}); err != nil {
		t.Fatalf("donor request: %v", err)
	}
}

func TestDecideAccessSurfacesRepositoryFailure(t *testing.T) {
	boom := apperr.Infrastructure("requests.approved", errors.New("db down"))
	svc := NewService(NewWorkflow(failingRepo{err: boom}), nil)
	u := User{ID: "u", Type: UserResearcher}

	_, err := svc.DecideAccess(context.Background(), &u, Resource{Ref: asset, AccessLevel: LevelRestricted})
	if !errors.Is(err, apperr.ErrInfrastructure) {
		t.Fatalf("expected infrastructure error, got %v", err)
	}

	// Non-restricted tiers never touch the repository.
	d, err := svc.DecideAccess(context.Background(), &u, Resource{Ref: asset, AccessLevel: LevelResearchersOnly})
	if err != nil || !d.Allowed {
		t.Fatalf("unexpected result %+v %v", d, err)
	}
}

type failingRepo struct {
	RequestRepository
	err error
}

func (f failingRepo) Approved(context.Context, string, ResourceRef, time.Time) ([]AccessRequest, error) {
	return nil, f.err
}

package access

import (
	"testing"
	"time"
)

var (
	asset  = ResourceRef{Kind: KindAsset, ID: "asset-1"}
	now    = time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)
	levels = []AccessLevel{LevelPublic, LevelRegisteredUsers, LevelResearchersOnly, LevelRestricted}
)

func userOf(typ UserType) *User {
	return &User{ID: "u-" + string(typ), Type: typ, Active: true}
}

func TestPublicAlwaysAllowed(t *testing.T) {
	res := Resource{Ref: asset, AccessLevel: LevelPublic}
	users := []*User{nil, userOf(UserAdmin), userOf(UserResearcher), userOf(UserDonor), userOf(UserConservator), userOf(UserVolunteer)}
	for _, u := range users {
		if d := Decide(u, res, nil, now); !d.Allowed || d.Reason != ReasonPublic {
			t.Fatalf("public must allow %+v, got %+v", u, d)
		}
	}
}

func TestAnonymousOnlyReachesPublic(t *testing.T) {
	for _, level := range levels[1:] {
		d := Decide(nil, Resource{Ref: asset, AccessLevel: level}, nil, now)
		if d.Allowed {
			t.Fatalf("anonymous allowed on %s", level)
		}
		if d.Reason != ReasonLoginRequired {
			t.Fatalf("unexpected reason on %s: %s", level, d.Reason)
		}
	}
}

func TestTierMatrix(t *testing.T) {
	cases := []struct {
		user   UserType
		level  AccessLevel
		allow  bool
		reason string
	}{
		{UserDonor, LevelRegisteredUsers, true, ReasonRegisteredUser},
		{UserVolunteer, LevelRegisteredUsers, true, ReasonRegisteredUser},
		{UserResearcher, LevelResearchersOnly, true, ReasonResearcher},
		{UserAdmin, LevelResearchersOnly, false, ReasonNotResearcher},
		{UserConservator, LevelResearchersOnly, false, ReasonNotResearcher},
		{UserAdmin, LevelRestricted, false, ReasonRestrictedNoApproval},
		{UserResearcher, LevelRestricted, false, ReasonRestrictedNoApproval},
	}
	for _, tc := range cases {
		d := Decide(userOf(tc.user), Resource{Ref: asset, AccessLevel: tc.level}, nil, now)
		if d.Allowed != tc.allow || d.Reason != tc.reason {
			t.Fatalf("%s on %s: got %+v, want allow=%v reason=%s", tc.user, tc.level, d, tc.allow, tc.reason)
		}
	}
}

func TestUnknownLevelFailsClosed(t *testing.T) {
	for _, u := range []*User{nil, userOf(UserAdmin)} {
		d := Decide(u, Resource{Ref: asset, AccessLevel: "Public "}, nil, now)
		if d.Allowed || d.Reason != ReasonUnknownAccessLevel {
			t.Fatalf("unknown level must deny, got %+v", d)
		}
		if d.Err() == nil {
			t.Fatalf("denial must convert to an error")
		}
	}
}

func TestRestrictedApprovalWindowBoundary(t *testing.T) {
	u := userOf(UserResearcher)
	res := Resource{Ref: asset, AccessLevel: LevelRestricted}
	requested := now.Add(-DefaultApprovalWindow)
	approvals := []AccessRequest{{UserID: u.ID, Resource: asset, Status: StatusApproved, RequestedAt: requested}}

	if d := Decide(u, res, approvals, now.Add(-time.Second)); !d.Allowed {
		t.Fatalf("expected allow one second before the boundary, got %+v", d)
	}
	if d := Decide(u, res, approvals, now); !d.Allowed || d.Reason != ReasonStandingApproval {
		t.Fatalf("expected allow at exactly 30 days, got %+v", d)
	}
	if d := Decide(u, res, approvals, now.Add(time.Second)); d.Allowed || d.Reason != ReasonRestrictedNoApproval {
		t.Fatalf("expected deny one second after the boundary, got %+v", d)
	}
}

func TestRestrictedIgnoresOtherPairsAndStates(t *testing.T) {
	u := userOf(UserDonor)
	res := Resource{Ref: asset, AccessLevel: LevelRestricted}
	approvals := []AccessRequest{
		{UserID: "someone-else", Resource: asset, Status: StatusApproved, RequestedAt: now},
		{UserID: u.ID, Resource: ResourceRef{Kind: KindAsset, ID: "asset-2"}, Status: StatusApproved, RequestedAt: now},
		{UserID: u.ID, Resource: ResourceRef{Kind: KindCollection, ID: "asset-1"}, Status: StatusApproved, RequestedAt: now},
		{UserID: u.ID, Resource: asset, Status: StatusPending, RequestedAt: now},
		{UserID: u.ID, Resource: asset, Status: StatusDenied, RequestedAt: now},
	}
	if d := Decide(u, res, approvals, now); d.Allowed {
		t.Fatalf("expected deny, got %+v", d)
	}
}

func TestApprovalAnchoredOnRequestTime(t *testing.T) {
	// Approved on day 29 of the window: only one day of access remains.
	reviewed := now.Add(-24 * time.Hour)
	req := AccessRequest{
		UserID:      "u",
		Resource:    asset,
		Status:      StatusApproved,
		RequestedAt: now.Add(-29 * 24 * time.Hour),
		ReviewedAt:  &reviewed,
	}
	if !req.Standing(now, DefaultApprovalWindow) {
		t.Fatalf("expected standing approval")
	}
	if req.Standing(now.Add(24*time.Hour+time.Second), DefaultApprovalWindow) {
		t.Fatalf("approval must lapse 30 days after the request, not the review")
	}
	if got := req.EffectiveStatus(now.Add(48*time.Hour), DefaultApprovalWindow); got != StatusExpired {
		t.Fatalf("expected expired, got %s", got)
	}
}

func TestAccessLevelRank(t *testing.T) {
	for i, l := range levels {
		if l.Rank() != i {
			t.Fatalf("unexpected rank for %s: %d", l, l.Rank())
		}
	}
	if _, err := ParseAccessLevel("classified"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	if l, err := ParseAccessLevel(" Researchers_Only "); err != nil || l != LevelResearchersOnly {
		t.Fatalf("unexpected parse: %v %v", l, err)
	}
}

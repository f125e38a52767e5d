package access

import (
	"time"

	"arewa.org/internal/apperr"
)

// DefaultApprovalWindow is how long an approval stands, counted from the request.
const DefaultApprovalWindow = 30 * 24 * time.Hour

// Decision reasons.
const (
	ReasonPublic           = "public"
	ReasonRegisteredUser   = "registered_user"
	ReasonResearcher       = "researcher"
	ReasonStandingApproval = "standing_approval"

	ReasonLoginRequired        = "login_required"
	ReasonNotResearcher        = "researchers_only_not_researcher"
	ReasonRestrictedNoApproval = "restricted_no_approval"
	ReasonUnknownAccessLevel   = "unknown_access_level"
)

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// Err converts a denial to apperr.ErrAccessDenied carrying the reason.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return apperr.Denied(d.Reason)
}

func allow(reason string) Decision { return Decision{Allowed: true, Reason: reason} }
func deny(reason string) Decision  { return Decision{Reason: reason} }

// Policy maps (user, resource, approvals) to a Decision. It performs no I/O.
type Policy struct {
	ApprovalWindow time.Duration
}

// Decide evaluates with the default approval window.
func Decide(user *User, res Resource, approvals []AccessRequest, now time.Time) Decision {
	return Policy{ApprovalWindow: DefaultApprovalWindow}.Decide(user, res, approvals, now)
}

// Decide evaluates the tier of res for user. A nil user is anonymous. Only
// approvals for exactly (user, res) are considered; anything unrecognised denies.
func (p Policy) Decide(user *User, res Resource, approvals []AccessRequest, now time.Time) Decision {
	if res.AccessLevel == LevelPublic {
		return allow(ReasonPublic)
	}
	if !res.AccessLevel.Valid() {
		return deny(ReasonUnknownAccessLevel)
	}
	if user == nil || user.ID == "" {
		return deny(ReasonLoginRequired)
	}

	switch res.AccessLevel {
	case LevelRegisteredUsers:
		return allow(ReasonRegisteredUser)
	case LevelResearchersOnly:
		if user.Type == UserResearcher {
			return allow(ReasonResearcher)
		}
		return deny(ReasonNotResearcher)
	case LevelRestricted:
		window := p.ApprovalWindow
		if window <= 0 {
			window = DefaultApprovalWindow
		}
		for _, req := range approvals {
			if req.UserID != user.ID || req.Resource != res.Ref {
				continue
			}
			if req.Standing(now, window) {
				return allow(ReasonStandingApproval)
			}
		}
		return deny(ReasonRestrictedNoApproval)
	}
	return deny(ReasonUnknownAccessLevel)
}

package access

import (
	"fmt"
	"strings"
	"time"

	"arewa.org/internal/apperr"
)

// UserType classifies an archive account.
type UserType string

const (
	UserAdmin       UserType = "admin"
	UserResearcher  UserType = "researcher"
	UserDonor       UserType = "donor"
	UserConservator UserType = "conservator"
	UserVolunteer   UserType = "volunteer"
)

func (t UserType) Valid() bool {
	switch t {
	case UserAdmin, UserResearcher, UserDonor, UserConservator, UserVolunteer:
		return true
	}
	return false
}

// User is the read-only identity view the policy works on.
type User struct {
	ID     string   `json:"id"`
	Name   string   `json:"name,omitempty"`
	Email  string   `json:"email"`
	Type   UserType `json:"user_type"`
	Active bool     `json:"-"`
}

// NewUser validates and builds a User.
func NewUser(id, email string, typ UserType, active bool) (User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, apperr.Invalid("id", "user id is required")
	}
	if !typ.Valid() {
		return User{}, apperr.Invalid("user_type", "unsupported user type %q", typ)
	}
	return User{ID: id, Email: strings.TrimSpace(strings.ToLower(email)), Type: typ, Active: active}, nil
}

// AccessLevel is the tier protecting a resource.
type AccessLevel string

const (
	LevelPublic          AccessLevel = "public"
	LevelRegisteredUsers AccessLevel = "registered_users"
	LevelResearchersOnly AccessLevel = "researchers_only"
	LevelRestricted      AccessLevel = "restricted"
)

// Rank orders tiers from least to most restrictive; unknown tiers rank -1.
func (l AccessLevel) Rank() int {
	switch l {
	case LevelPublic:
		return 0
	case LevelRegisteredUsers:
		return 1
	case LevelResearchersOnly:
		return 2
	case LevelRestricted:
		return 3
	}
	return -1
}

func (l AccessLevel) Valid() bool { return l.Rank() >= 0 }

// ParseAccessLevel normalises s and rejects unknown tiers.
func ParseAccessLevel(s string) (AccessLevel, error) {
	l := AccessLevel(strings.TrimSpace(strings.ToLower(s)))
	if !l.Valid() {
		return "", apperr.Invalid("access_level", "unknown access level %q", s)
	}
	return l, nil
}

// ResourceKind distinguishes digital assets from catalogue collections.
type ResourceKind string

const (
	KindAsset      ResourceKind = "asset"
	KindCollection ResourceKind = "collection"
)

func ParseResourceKind(s string) (ResourceKind, error) {
	switch k := ResourceKind(strings.TrimSpace(strings.ToLower(s))); k {
	case KindAsset, KindCollection:
		return k, nil
	}
	return "", apperr.Invalid("resource_kind", "unknown resource kind %q", s)
}

// ResourceRef identifies a resource across both catalogues.
type ResourceRef struct {
	Kind ResourceKind `json:"kind"`
	ID   string       `json:"id"`
}

func (r ResourceRef) String() string { return string(r.Kind) + ":" + r.ID }

// Resource is an asset or collection with its protecting tier. The level is
// kept as read from storage; unknown values are denied by the policy.
type Resource struct {
	Ref         ResourceRef `json:"ref"`
	Title       string      `json:"title,omitempty"`
	AccessLevel AccessLevel `json:"access_level"`
}

// RequestStatus is the workflow state of an AccessRequest.
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusDenied   RequestStatus = "denied"
	StatusExpired  RequestStatus = "expired"
)

// RequestType records why access is requested.
type RequestType string

const (
	TypeDigitalAccess RequestType = "digital_access"
	TypeResearch      RequestType = "research"
	TypeEducation     RequestType = "education"
	TypePublication   RequestType = "publication"
)

func ParseRequestType(s string) (RequestType, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return TypeDigitalAccess, nil
	}
	switch t := RequestType(s); t {
	case TypeDigitalAccess, TypeResearch, TypeEducation, TypePublication:
		return t, nil
	}
	return "", apperr.Invalid("request_type", "unsupported request type %q", s)
}

// AccessRequest asks for a restricted resource to be unlocked for one user.
type AccessRequest struct {
	ID           string        `json:"id"`
	Code         string        `json:"request_code"`
	UserID       string        `json:"user_id"`
	Resource     ResourceRef   `json:"resource"`
	Type         RequestType   `json:"request_type"`
	Purpose      string        `json:"purpose"`
	DurationDays int           `json:"duration_days"`
	Status       RequestStatus `json:"status"`
	RequestedAt  time.Time     `json:"requested_at"`
	ReviewedBy   string        `json:"reviewed_by,omitempty"`
	ReviewedAt   *time.Time    `json:"reviewed_at,omitempty"`
}

// Standing reports whether r grants access at now. Validity is anchored on the
// request timestamp, not on the review timestamp.
func (r AccessRequest) Standing(now time.Time, window time.Duration) bool {
	if r.Status != StatusApproved {
		return false
	}
	return !r.RequestedAt.Before(now.Add(-window))
}

// EffectiveStatus reports expired for approvals that no longer stand.
func (r AccessRequest) EffectiveStatus(now time.Time, window time.Duration) RequestStatus {
	if r.Status == StatusApproved && !r.Standing(now, window) {
		return StatusExpired
	}
	return r.Status
}

func (r AccessRequest) String() string {
	return fmt.Sprintf("%s(%s %s %s)", r.Code, r.UserID, r.Resource, r.Status)
}

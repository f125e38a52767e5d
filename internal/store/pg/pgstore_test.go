package pg

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"arewa.org/internal/access"
	"arewa.org/internal/apperr"
	"arewa.org/internal/token"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return New(db), mock
}

var (
	requestCols = []string{"id", "request_code", "user_id", "resource_kind", "resource_id", "request_type", "purpose",
		"duration_days", "status", "requested_at", "reviewed_by", "reviewed_at"}
	requestedAt = time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC)
	letters     = access.ResourceRef{Kind: access.KindAsset, ID: "a-7"}
)

func pendingRequest() *access.AccessRequest {
	return &access.AccessRequest{
		ID:           "01J0REQ",
		Code:         "ACC-20240901-Q7K2ZX",
		UserID:       "u-1",
		Resource:     letters,
		Type:         access.TypeResearch,
		Purpose:      "Transcribing correspondence for an edited volume.",
		DurationDays: 14,
		Status:       access.StatusPending,
		RequestedAt:  requestedAt,
	}
}

func TestRequestCreateMapsPendingConflict(t *testing.T) {
	s, mock := newMock(t)
	req := pendingRequest()

	mock.ExpectExec("insert into access_requests").
		WithArgs(req.ID, req.Code, "u-1", "asset", "a-7", "research", req.Purpose, 14, "pending", requestedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))
	if err := s.Requests().Create(context.Background(), req); err != nil {
		t.Fatalf("Create: %v", err)
	}

	mock.ExpectExec("insert into access_requests").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: pendingIndex})
	if err := s.Requests().Create(context.Background(), req); !errors.Is(err, apperr.ErrDuplicateRequest) {
		t.Fatalf("expected duplicate, got %v", err)
	}

	mock.ExpectExec("insert into access_requests").WillReturnError(errors.New("connection reset"))
	if err := s.Requests().Create(context.Background(), req); !errors.Is(err, apperr.ErrInfrastructure) {
		t.Fatalf("expected infrastructure, got %v", err)
	}
}

func TestRequestTransition(t *testing.T) {
	s, mock := newMock(t)
	reviewedAt := requestedAt.Add(3 * time.Hour)

	mock.ExpectQuery("update access_requests").
		WithArgs("01J0REQ", "pending", "approved", sqlmock.AnyArg(), reviewedAt).
		WillReturnRows(sqlmock.NewRows(requestCols).AddRow("01J0REQ", "ACC-20240901-Q7K2ZX", "u-1", "asset", "a-7",
			"research", "purpose", 14, "approved", requestedAt, "admin-1", reviewedAt))
	req, err := s.Requests().Transition(context.Background(), "01J0REQ", access.StatusPending, access.StatusApproved, "admin-1", reviewedAt)
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if req.Status != access.StatusApproved || req.ReviewedBy != "admin-1" || req.ReviewedAt == nil {
		t.Fatalf("unexpected request %+v", req)
	}

	mock.ExpectQuery("update access_requests").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("select status from access_requests").WithArgs("01J0REQ").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("approved"))
	_, err = s.Requests().Transition(context.Background(), "01J0REQ", access.StatusPending, access.StatusDenied, "admin-2", reviewedAt)
	if !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}

	mock.ExpectQuery("update access_requests").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("select status from access_requests").WillReturnError(sql.ErrNoRows)
	_, err = s.Requests().Transition(context.Background(), "missing", access.StatusPending, access.StatusDenied, "admin-2", reviewedAt)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRequestApprovedQueriesWindow(t *testing.T) {
	s, mock := newMock(t)
	since := requestedAt.Add(-30 * 24 * time.Hour)

	mock.ExpectQuery("from access_requests").
		WithArgs("u-1", "asset", "a-7", since).
		WillReturnRows(sqlmock.NewRows(requestCols).AddRow("01J0REQ", "ACC-20240901-Q7K2ZX", "u-1", "asset", "a-7",
			"research", "purpose", 14, "approved", requestedAt, nil, nil))
	list, err := s.Requests().Approved(context.Background(), "u-1", letters, since)
	if err != nil {
		t.Fatalf("Approved: %v", err)
	}
	if len(list) != 1 || list[0].Resource != letters || list[0].ReviewedAt != nil {
		t.Fatalf("unexpected approvals %+v", list)
	}
}

func TestTokenRepository(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()
	issued := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	tok := &token.Token{ID: "01J0TOK", UserID: "u-1", Hash: "abc123", IssuedAt: issued, ExpiresAt: issued.Add(24 * time.Hour)}

	mock.ExpectExec("insert into api_tokens").
		WithArgs("01J0TOK", "u-1", "abc123", sql.NullString{}, issued, issued.Add(24*time.Hour), sql.NullTime{}).
		WillReturnResult(sqlmock.NewResult(1, 1))
	if err := s.Tokens().Create(ctx, tok); err != nil {
		t.Fatalf("Create: %v", err)
	}

	mock.ExpectQuery("from api_tokens").WithArgs("nope").WillReturnError(sql.ErrNoRows)
	if _, err := s.Tokens().FindByID(ctx, "nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	mock.ExpectQuery("from api_tokens").WithArgs("01J0TOK").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "token_hash", "device_id", "issued_at", "expires_at", "last_used_at"}).
			AddRow("01J0TOK", "u-1", "abc123", "kiosk", issued, issued.Add(24*time.Hour), nil))
	got, err := s.Tokens().FindByID(ctx, "01J0TOK")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.DeviceID != "kiosk" || got.LastUsedAt != nil {
		t.Fatalf("unexpected token %+v", got)
	}

	cutoff := issued.Add(-24 * time.Hour)
	mock.ExpectExec("delete from api_tokens where user_id").WithArgs("u-1", cutoff).WillReturnResult(sqlmock.NewResult(0, 2))
	if n, err := s.Tokens().DeleteExpired(ctx, "u-1", cutoff); err != nil || n != 2 {
		t.Fatalf("DeleteExpired: %d %v", n, err)
	}
	mock.ExpectExec("delete from api_tokens where expires_at").WithArgs(cutoff).WillReturnResult(sqlmock.NewResult(0, 5))
	if n, err := s.Tokens().PurgeExpired(ctx, cutoff); err != nil || n != 5 {
		t.Fatalf("PurgeExpired: %d %v", n, err)
	}
}

func TestIdentityRepository(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()

	// The stored address keeps its original case; the lookup compares lower(email).
	mock.ExpectQuery(regexp.QuoteMeta("where lower(email) = $1")).WithArgs("amina@example.org").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "user_type", "is_active", "password_hash"}).
			AddRow("u-1", "Amina", "Amina@Example.org", "researcher", true, "$2a$10$hash"))
	creds, err := s.Identities().FindByEmail(ctx, " Amina@Example.org ")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if creds.User.Type != access.UserResearcher || !creds.User.Active || creds.PasswordHash == "" {
		t.Fatalf("unexpected credentials %+v", creds)
	}

	mock.ExpectQuery("from users where id").WithArgs("ghost").WillReturnError(sql.ErrNoRows)
	if _, err := s.Identities().FindByID(ctx, "ghost"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCachedResources(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectQuery("from resources").WithArgs("asset", "a-7").
		WillReturnRows(sqlmock.NewRows([]string{"title", "access_level"}).AddRow("Letters to Kano", "restricted"))
	cached := NewCachedResources(s.Resources(), 16, time.Minute)

	for i := 0; i < 3; i++ {
		res, err := cached.FindResource(ctx, letters)
		if err != nil {
			t.Fatalf("FindResource: %v", err)
		}
		if res.AccessLevel != access.LevelRestricted || res.Title != "Letters to Kano" {
			t.Fatalf("unexpected resource %+v", res)
		}
	}

	cached.Invalidate(letters)
	mock.ExpectQuery("from resources").WithArgs("asset", "a-7").WillReturnError(sql.ErrNoRows)
	if _, err := cached.FindResource(ctx, letters); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

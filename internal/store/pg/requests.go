package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"arewa.org/internal/access"
	"arewa.org/internal/apperr"
)

var _ access.RequestRepository = (*RequestRepository)(nil)

// pendingIndex enforces one pending request per (user, resource).
const pendingIndex = "access_requests_one_pending"

// RequestRepository stores access requests.
type RequestRepository struct {
	db *sql.DB
}

const requestColumns = `id, request_code, user_id, resource_kind, resource_id, request_type, purpose,
	duration_days, status, requested_at, reviewed_by, reviewed_at`

func scanRequest(row scanner) (*access.AccessRequest, error) {
	var (
		req        access.AccessRequest
		reviewedBy sql.NullString
		reviewedAt sql.NullTime
	)
	err := row.Scan(&req.ID, &req.Code, &req.UserID, &req.Resource.Kind, &req.Resource.ID, &req.Type, &req.Purpose,
		&req.DurationDays, &req.Status, &req.RequestedAt, &reviewedBy, &reviewedAt)
	if err != nil {
		return nil, err
	}
	req.RequestedAt = req.RequestedAt.UTC()
	req.ReviewedBy = reviewedBy.String
	req.ReviewedAt = timePtr(reviewedAt)
	return &req, nil
}

// Create inserts req. The partial unique index turns a concurrent second
// pending request for the same pair into apperr.ErrDuplicateRequest.
func (r *RequestRepository) Create(ctx context.Context, req *access.AccessRequest) error {
	_, err := r.db.ExecContext(ctx, `
		insert into access_requests (id, request_code, user_id, resource_kind, resource_id, request_type, purpose,
			duration_days, status, requested_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, req.ID, req.Code, req.UserID, string(req.Resource.Kind), req.Resource.ID, string(req.Type), req.Purpose,
		req.DurationDays, string(req.Status), req.RequestedAt)
	if err == nil {
		return nil
	}
	if pgErr, ok := maybePgError(err); ok {
		switch {
		case pgErr.Code == pgErrUniqueViolation && pgErr.ConstraintName == pendingIndex:
			return apperr.ErrDuplicateRequest
		case pgErr.Code == pgErrForeignKeyViolation:
			return apperr.Invalid("user_id", "unknown user")
		}
	}
	return apperr.Infrastructure("pg.requests.create", err)
}

func (r *RequestRepository) Find(ctx context.Context, id string) (*access.AccessRequest, error) {
	req, err := scanRequest(r.db.QueryRowContext(ctx, `select `+requestColumns+` from access_requests where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("access request " + id)
	}
	if err != nil {
		return nil, apperr.Infrastructure("pg.requests.find", err)
	}
	return req, nil
}

// Transition is a conditional update, so two reviewers racing on the same
// request cannot both succeed.
func (r *RequestRepository) Transition(ctx context.Context, id string, from, to access.RequestStatus, reviewer string, at time.Time) (*access.AccessRequest, error) {
	req, err := scanRequest(r.db.QueryRowContext(ctx, `
		update access_requests
		set status = $3, reviewed_by = $4, reviewed_at = $5
		where id = $1 and status = $2
		returning `+requestColumns,
		id, string(from), string(to), nullIfEmpty(reviewer), at))
	if err == nil {
		return req, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.Infrastructure("pg.requests.transition", err)
	}

	var current string
	err = r.db.QueryRowContext(ctx, `select status from access_requests where id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("access request " + id)
	}
	if err != nil {
		return nil, apperr.Infrastructure("pg.requests.transition", err)
	}
	return nil, apperr.InvalidState("request %s is %s, not %s", id, current, from)
}

func (r *RequestRepository) Approved(ctx context.Context, userID string, ref access.ResourceRef, since time.Time) ([]access.AccessRequest, error) {
	rows, err := r.db.QueryContext(ctx, `
		select `+requestColumns+`
		from access_requests
		where user_id = $1 and resource_kind = $2 and resource_id = $3
		  and status = 'approved' and requested_at >= $4
		order by requested_at desc
	`, userID, string(ref.Kind), ref.ID, since)
	if err != nil {
		return nil, apperr.Infrastructure("pg.requests.approved", err)
	}
	return collectRequests(rows, "pg.requests.approved")
}

func (r *RequestRepository) ListByUser(ctx context.Context, userID string) ([]access.AccessRequest, error) {
	rows, err := r.db.QueryContext(ctx, `
		select `+requestColumns+`
		from access_requests
		where user_id = $1
		order by requested_at desc
	`, userID)
	if err != nil {
		return nil, apperr.Infrastructure("pg.requests.list", err)
	}
	return collectRequests(rows, "pg.requests.list")
}

func collectRequests(rows *sql.Rows, op string) ([]access.AccessRequest, error) {
	defer rows.Close()
	var out []access.AccessRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, apperr.Infrastructure(op, err)
		}
		out = append(out, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Infrastructure(op, err)
	}
	return out, nil
}

package request

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over a pgx pool.
type PostgresStore struct {
	Pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{Pool: pool}
}

const requestColumns = `id, requester_id, agent_id, amount, lat, lng, status,
	user_confirmed, agent_confirmed, created_at, updated_at, accepted_at,
	completed_at, expires_at`

const activeRequesterIndex = "requests_one_active_per_requester"

func (s *PostgresStore) Create(ctx context.Context, req *Request) error {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	err := s.Pool.QueryRow(queryCtx, `
		INSERT INTO requests (id, requester_id, amount, lat, lng, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`, req.ID, req.RequesterID, req.Amount, req.Location.Lat, req.Location.Lng,
		req.Status, req.ExpiresAt,
	).Scan(&req.CreatedAt, &req.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == activeRequesterIndex {
			return &ConflictError{Reason: ReasonActiveRequestExists}
		}
		return fmt.Errorf("failed to create request: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Request, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	row := s.Pool.QueryRow(queryCtx,
		`SELECT `+requestColumns+` FROM requests WHERE id = $1`, id)

	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Kind: "request", ID: id}
		}
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	return req, nil
}

// Accept is a single conditional UPDATE: the row must still be PENDING and
// not yet expired, so concurrent accepts resolve to exactly one winner.
func (s *PostgresStore) Accept(ctx context.Context, id, agentID string, at time.Time) (*Request, bool, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	row := s.Pool.QueryRow(queryCtx, `
		UPDATE requests
		SET status = $3, agent_id = $2, accepted_at = $4, updated_at = $4
		WHERE id = $1 AND status = $5 AND expires_at > $4
		RETURNING `+requestColumns,
		id, agentID, StatusMatched, at, StatusPending)

	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to accept request: %w", err)
	}
	return req, true, nil
}

// Confirm locks the row, applies the side's flag and lands on IN_PROGRESS
// or, once both flags hold, COMPLETED. Runs SERIALIZABLE with bounded
// retry on serialization failures.
func (s *PostgresStore) Confirm(ctx context.Context, id string, actor Actor, at time.Time) (*Request, Status, bool, error) {
	const maxRetries = 3

	for attempt := 0; attempt < maxRetries; attempt++ {
		req, prior, ok, err := s.confirmOnce(ctx, id, actor, at)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "40001" {
				if attempt == maxRetries-1 {
					return nil, "", false, fmt.Errorf("failed to confirm after %d retries due to serialization failure: %w", maxRetries, err)
				}
				time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
				continue
			}
			return nil, "", false, fmt.Errorf("failed to confirm request: %w", err)
		}
		return req, prior, ok, nil
	}
	return nil, "", false, nil
}

func (s *PostgresStore) confirmOnce(ctx context.Context, id string, actor Actor, at time.Time) (*Request, Status, bool, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := s.Pool.Acquire(queryCtx)
	if err != nil {
		return nil, "", false, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	dbTx, err := conn.BeginTx(queryCtx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return nil, "", false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback(queryCtx)

	row := dbTx.QueryRow(queryCtx,
		`SELECT `+requestColumns+` FROM requests WHERE id = $1 FOR UPDATE`, id)
	prior, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", false, nil
		}
		return nil, "", false, fmt.Errorf("failed to lock request: %w", err)
	}

	if prior.Status != StatusMatched && prior.Status != StatusInProgress {
		return nil, prior.Status, false, nil
	}

	userConfirmed := prior.UserConfirmed || actor == ActorRequester
	agentConfirmed := prior.AgentConfirmed || actor == ActorAgent
	next := StatusInProgress
	completedAt := prior.CompletedAt
	if userConfirmed && agentConfirmed {
		next = StatusCompleted
		completedAt = &at
	}

	row = dbTx.QueryRow(queryCtx, `
		UPDATE requests
		SET user_confirmed = $2, agent_confirmed = $3, status = $4,
			completed_at = $5, updated_at = $6
		WHERE id = $1
		RETURNING `+requestColumns,
		id, userConfirmed, agentConfirmed, next, completedAt, at)
	req, err := scanRequest(row)
	if err != nil {
		return nil, "", false, fmt.Errorf("failed to update confirmation: %w", err)
	}

	if err := dbTx.Commit(queryCtx); err != nil {
		return nil, "", false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return req, prior.Status, true, nil
}

func (s *PostgresStore) Cancel(ctx context.Context, id string, at time.Time) (*Request, Status, bool, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	row := s.Pool.QueryRow(queryCtx, `
		UPDATE requests
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status IN ($4, $5)
		RETURNING `+requestColumns,
		id, StatusCancelled, at, StatusPending, StatusMatched)

	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", false, nil
		}
		return nil, "", false, fmt.Errorf("failed to cancel request: %w", err)
	}

	// A cancelled row that was never accepted came from PENDING.
	prior := StatusMatched
	if req.AcceptedAt == nil {
		prior = StatusPending
	}
	return req, prior, true, nil
}

func (s *PostgresStore) ExpireDue(ctx context.Context, now time.Time) ([]Expiry, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rows, err := s.Pool.Query(queryCtx, `
		UPDATE requests
		SET status = $2, updated_at = $1
		WHERE status IN ($3, $4) AND expires_at <= $1
		RETURNING id, accepted_at
	`, now, StatusExpired, StatusPending, StatusMatched)
	if err != nil {
		return nil, fmt.Errorf("failed to expire requests: %w", err)
	}
	defer rows.Close()

	var expired []Expiry
	for rows.Next() {
		var id string
		var acceptedAt sql.NullTime
		if err := rows.Scan(&id, &acceptedAt); err != nil {
			return nil, fmt.Errorf("failed to scan expired request: %w", err)
		}
		from := StatusPending
		if acceptedAt.Valid {
			from = StatusMatched
		}
		expired = append(expired, Expiry{ID: id, From: from})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate expired requests: %w", err)
	}
	return expired, nil
}

func scanRequest(row pgx.Row) (*Request, error) {
	var req Request
	var agentID sql.NullString
	var acceptedAt, completedAt sql.NullTime

	err := row.Scan(
		&req.ID, &req.RequesterID, &agentID, &req.Amount,
		&req.Location.Lat, &req.Location.Lng, &req.Status,
		&req.UserConfirmed, &req.AgentConfirmed,
		&req.CreatedAt, &req.UpdatedAt, &acceptedAt, &completedAt, &req.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}

	if agentID.Valid {
		req.AgentID = &agentID.String
	}
	if acceptedAt.Valid {
		t := acceptedAt.Time
		req.AcceptedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		req.CompletedAt = &t
	}
	return &req, nil
}

package directory

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

	"github.com/example/agentcash/internal/geo"
)

// PostgresStore implements Store over a pgx pool.
type PostgresStore struct {
	Pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{Pool: pool}
}

const accountColumns = `id, phone, balance, is_agent, is_available,
	last_lat, last_lng, last_accuracy_m, last_fix_at,
	profile_lat, profile_lng, rating, review_count, networks, max_handle,
	created_at, updated_at`

// Create inserts a new account. The phone must already be in canonical
// form; callers normalize at the boundary.
func (s *PostgresStore) Create(ctx context.Context, account *Account) error {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if account.ID == "" {
		account.ID = uuid.NewString()
	}

	var (
		fixLat, fixLng, fixAcc *float64
		fixAt                  *time.Time
		profLat, profLng       *float64
	)
	if f := account.LastFix; f != nil {
		fixLat, fixLng, fixAcc = &f.Point.Lat, &f.Point.Lng, &f.AccuracyM
		fixAt = &f.RecordedAt
	}
	if p := account.Profile; p != nil {
		profLat, profLng = &p.Lat, &p.Lng
	}

	err := s.Pool.QueryRow(queryCtx, `
		INSERT INTO accounts (
			id, phone, balance, is_agent, is_available,
			last_lat, last_lng, last_accuracy_m, last_fix_at,
			profile_lat, profile_lng, rating, review_count, networks, max_handle
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at, updated_at
	`, account.ID, account.Phone, account.Balance, account.IsAgent, account.IsAvailable,
		fixLat, fixLng, fixAcc, fixAt, profLat, profLng,
		account.Rating, account.ReviewCount, account.Networks, account.MaxHandle,
	).Scan(&account.CreatedAt, &account.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return &DuplicatePhoneError{Phone: account.Phone}
		}
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

// Lookup retrieves an account by id.
func (s *PostgresStore) Lookup(ctx context.Context, id string) (*Account, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	row := s.Pool.QueryRow(queryCtx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)

	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{ID: id}
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// LookupByPhone retrieves an account by canonical phone number.
func (s *PostgresStore) LookupByPhone(ctx context.Context, canonicalPhone string) (*Account, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	row := s.Pool.QueryRow(queryCtx,
		`SELECT `+accountColumns+` FROM accounts WHERE phone = $1`, canonicalPhone)

	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{ID: canonicalPhone}
		}
		return nil, fmt.Errorf("failed to get account by phone: %w", err)
	}
	return account, nil
}

// ListAgents returns every profile flagged as an agent, available or not.
// Radius and availability filtering happens in the matching engine.
func (s *PostgresStore) ListAgents(ctx context.Context) ([]*Account, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rows, err := s.Pool.Query(queryCtx,
		`SELECT `+accountColumns+` FROM accounts WHERE is_agent ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var agents []*Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate agents: %w", err)
	}
	return agents, nil
}

// Update applies a partial mutation and returns the updated account.
func (s *PostgresStore) Update(ctx context.Context, id string, partial Update) (*Account, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var (
		fixLat, fixLng, fixAcc *float64
		fixAt                  *time.Time
		profLat, profLng       *float64
	)
	if f := partial.LastFix; f != nil {
		fixLat, fixLng, fixAcc = &f.Point.Lat, &f.Point.Lng, &f.AccuracyM
		fixAt = &f.RecordedAt
	}
	if p := partial.Profile; p != nil {
		profLat, profLng = &p.Lat, &p.Lng
	}

	row := s.Pool.QueryRow(queryCtx, `
		UPDATE accounts SET
			is_available    = COALESCE($2, is_available),
			is_agent        = COALESCE($3, is_agent),
			last_lat        = COALESCE($4, last_lat),
			last_lng        = COALESCE($5, last_lng),
			last_accuracy_m = COALESCE($6, last_accuracy_m),
			last_fix_at     = COALESCE($7, last_fix_at),
			profile_lat     = COALESCE($8, profile_lat),
			profile_lng     = COALESCE($9, profile_lng),
			rating          = COALESCE($10, rating),
			review_count    = COALESCE($11, review_count),
			networks        = COALESCE($12, networks),
			max_handle      = COALESCE($13, max_handle),
			updated_at      = now()
		WHERE id = $1
		RETURNING `+accountColumns,
		id, partial.IsAvailable, partial.IsAgent,
		fixLat, fixLng, fixAcc, fixAt, profLat, profLng,
		partial.Rating, partial.ReviewCount, partial.Networks, partial.MaxHandle)

	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{ID: id}
		}
		return nil, fmt.Errorf("failed to update account: %w", err)
	}
	return account, nil
}

// SetBalance overwrites the cached balance. Only the reconciler calls this;
// everything else treats the ledger as the source of truth.
func (s *PostgresStore) SetBalance(ctx context.Context, id string, balance float64) error {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := s.Pool.Exec(queryCtx,
		`UPDATE accounts SET balance = $2, updated_at = now() WHERE id = $1`,
		id, balance)
	if err != nil {
		return fmt.Errorf("failed to set balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{ID: id}
	}
	return nil
}

func scanAccount(row pgx.Row) (*Account, error) {
	var (
		account               Account
		lastLat, lastLng, acc sql.NullFloat64
		lastAt                sql.NullTime
		profLat, profLng      sql.NullFloat64
	)

	err := row.Scan(
		&account.ID, &account.Phone, &account.Balance, &account.IsAgent, &account.IsAvailable,
		&lastLat, &lastLng, &acc, &lastAt, &profLat, &profLng,
		&account.Rating, &account.ReviewCount, &account.Networks, &account.MaxHandle,
		&account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lastLat.Valid && lastLng.Valid {
		account.LastFix = &GPSFix{
			Point:     geo.Point{Lat: lastLat.Float64, Lng: lastLng.Float64},
			AccuracyM: acc.Float64,
		}
		if lastAt.Valid {
			account.LastFix.RecordedAt = lastAt.Time
		}
	}
	if profLat.Valid && profLng.Valid {
		account.Profile = &geo.Point{Lat: profLat.Float64, Lng: profLng.Float64}
	}
	return &account, nil
}

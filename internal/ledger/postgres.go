package ledger

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

const transactionColumns = `id, from_party, to_party, amount, type, status,
	request_id, gateway_ref, network_code, created_at, completed_at`

func (s *PostgresStore) Insert(ctx context.Context, tx *Transaction) error {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}

	err := s.Pool.QueryRow(queryCtx, `
		INSERT INTO transactions (
			id, from_party, to_party, amount, type, status,
			request_id, gateway_ref, network_code, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`, tx.ID, tx.FromParty, tx.ToParty, tx.Amount, tx.Type, tx.Status,
		tx.RequestID, tx.GatewayRef, tx.NetworkCode, tx.CompletedAt,
	).Scan(&tx.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Transaction, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	row := s.Pool.QueryRow(queryCtx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)

	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{ID: id}
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx, nil
}

func (s *PostgresStore) ListForAccount(ctx context.Context, accountID string, limit int) ([]*Transaction, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.Pool.Query(queryCtx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE from_party = $1 OR to_party = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

func (s *PostgresStore) ListCompletedForAccount(ctx context.Context, accountID string) ([]*Transaction, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rows, err := s.Pool.Query(queryCtx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE status = 'completed' AND (from_party = $1 OR to_party = $1)
		ORDER BY created_at ASC
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list completed transactions: %w", err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

func (s *PostgresStore) CompletedCounts(ctx context.Context, accountIDs []string) (map[string]int, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	counts := make(map[string]int, len(accountIDs))
	if len(accountIDs) == 0 {
		return counts, nil
	}

	rows, err := s.Pool.Query(queryCtx, `
		SELECT party, COUNT(*)
		FROM (
			SELECT from_party AS party FROM transactions
			WHERE status = 'completed' AND from_party = ANY($1)
			UNION ALL
			SELECT to_party FROM transactions
			WHERE status = 'completed' AND to_party = ANY($1)
		) parties
		GROUP BY party
	`, accountIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to count completed transactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[id] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate counts: %w", err)
	}
	return counts, nil
}

// InsertSettlement appends request-tagged transactions exactly once per
// (request id, type). SERIALIZABLE with bounded retry on serialization
// failures; a partial unique index backs the EXISTS guard.
func (s *PostgresStore) InsertSettlement(ctx context.Context, txs []*Transaction) (int, error) {
	const maxRetries = 3

	for attempt := 0; attempt < maxRetries; attempt++ {
		inserted, err := s.insertSettlementOnce(ctx, txs)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "40001" {
				if attempt == maxRetries-1 {
					return 0, fmt.Errorf("failed to settle after %d retries due to serialization failure: %w", maxRetries, err)
				}
				time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
				continue
			}
			return 0, fmt.Errorf("failed to settle: %w", err)
		}
		return inserted, nil
	}
	return 0, nil
}

func (s *PostgresStore) insertSettlementOnce(ctx context.Context, txs []*Transaction) (int, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := s.Pool.Acquire(queryCtx)
	if err != nil {
		return 0, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	dbTx, err := conn.BeginTx(queryCtx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback(queryCtx)

	inserted := 0
	for _, tx := range txs {
		if tx.RequestID == nil {
			return 0, fmt.Errorf("settlement transaction of type %s carries no request id", tx.Type)
		}

		var exists bool
		err := dbTx.QueryRow(queryCtx,
			`SELECT EXISTS(SELECT 1 FROM transactions WHERE request_id = $1 AND type = $2)`,
			tx.RequestID, tx.Type).Scan(&exists)
		if err != nil {
			return 0, fmt.Errorf("failed to check settlement existence: %w", err)
		}
		if exists {
			continue
		}

		if tx.ID == "" {
			tx.ID = uuid.NewString()
		}
		_, err = dbTx.Exec(queryCtx, `
			INSERT INTO transactions (
				id, from_party, to_party, amount, type, status,
				request_id, gateway_ref, network_code, completed_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, tx.ID, tx.FromParty, tx.ToParty, tx.Amount, tx.Type, tx.Status,
			tx.RequestID, tx.GatewayRef, tx.NetworkCode, tx.CompletedAt)
		if err != nil {
			return 0, fmt.Errorf("failed to insert settlement transaction: %w", err)
		}
		inserted++
	}

	if err := dbTx.Commit(queryCtx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return inserted, nil
}

func (s *PostgresStore) FinalizeGateway(ctx context.Context, id string, status Status, completedAt time.Time) (bool, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := s.Pool.Exec(queryCtx, `
		UPDATE transactions
		SET status = $2, completed_at = $3
		WHERE id = $1 AND status = 'pending'
	`, id, status, completedAt)
	if err != nil {
		return false, fmt.Errorf("failed to finalize transaction: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ListPendingGateway(ctx context.Context, cutoff time.Time) ([]*Transaction, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rows, err := s.Pool.Query(queryCtx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE status = 'pending' AND gateway_ref IS NOT NULL AND created_at < $1
		ORDER BY created_at ASC
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending gateway transactions: %w", err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

func (s *PostgresStore) ListCompletedRequestsWithoutCommission(ctx context.Context) ([]*UnsettledRequest, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rows, err := s.Pool.Query(queryCtx, `
		SELECT r.id, r.requester_id, r.agent_id, r.amount
		FROM requests r
		WHERE r.status = 'COMPLETED'
		AND r.agent_id IS NOT NULL
		AND NOT EXISTS (
			SELECT 1 FROM transactions t
			WHERE t.request_id = r.id AND t.type = 'agent_commission'
		)
		ORDER BY r.completed_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list unsettled requests: %w", err)
	}
	defer rows.Close()

	var out []*UnsettledRequest
	for rows.Next() {
		var u UnsettledRequest
		if err := rows.Scan(&u.ID, &u.RequesterID, &u.AgentID, &u.Amount); err != nil {
			return nil, fmt.Errorf("failed to scan unsettled request: %w", err)
		}
		out = append(out, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate unsettled requests: %w", err)
	}
	return out, nil
}

func collectTransactions(rows pgx.Rows) ([]*Transaction, error) {
	var out []*Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return out, nil
}

func scanTransaction(row pgx.Row) (*Transaction, error) {
	var (
		tx                        Transaction
		fromParty, toParty        sql.NullString
		requestID, gwRef, netCode sql.NullString
		completedAt               sql.NullTime
	)

	err := row.Scan(
		&tx.ID, &fromParty, &toParty, &tx.Amount, &tx.Type, &tx.Status,
		&requestID, &gwRef, &netCode, &tx.CreatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	tx.FromParty = strPtr(fromParty)
	tx.ToParty = strPtr(toParty)
	tx.RequestID = strPtr(requestID)
	tx.GatewayRef = strPtr(gwRef)
	tx.NetworkCode = strPtr(netCode)
	tx.CompletedAt = timePtr(completedAt)
	return &tx, nil
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	return &nt.Time
}

// Package postgres implements ports/table.Store on PostgreSQL via pgx. All
// rows live in one table keyed by (partition, key); batch commits run in a
// single transaction that validates every token precondition before writing.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/egil/evstore/ports/table"
)

const (
	schemaSQL = `
CREATE TABLE IF NOT EXISTS evstore_rows (
    partition  text   NOT NULL,
    key        text   NOT NULL,
    seq        bigint NOT NULL DEFAULT 0,
    value      bytea  NOT NULL,
    token      text   NOT NULL,
    PRIMARY KEY (partition, key)
);
CREATE INDEX IF NOT EXISTS evstore_rows_seq ON evstore_rows (partition, seq);
`

	readSQL = `
SELECT key, seq, value, token
FROM evstore_rows
WHERE partition = $1 AND key = $2;
`

	selectSQL = `
SELECT key, seq, value, token
FROM evstore_rows
WHERE partition = $1
ORDER BY key ASC;
`

	lockTokenSQL = `
SELECT token
FROM evstore_rows
WHERE partition = $1 AND key = $2
FOR UPDATE;
`

	upsertSQL = `
INSERT INTO evstore_rows (partition, key, seq, value, token)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (partition, key)
DO UPDATE SET seq = EXCLUDED.seq, value = EXCLUDED.value, token = EXCLUDED.token;
`

	deleteSQL = `
DELETE FROM evstore_rows
WHERE partition = $1 AND key = $2;
`
)

// Store is a PostgreSQL-backed table store.
type Store struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewStore constructs a Store backed by the provided pool.
func NewStore(pool *pgxpool.Pool, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{pool: pool, log: log.With(slog.String("store", "postgres"))}
}

// EnsureSchema creates the backing table and index if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Read(ctx context.Context, partition, key string) (table.Row, error) {
	var row table.Row
	var seq int64
	err := s.pool.QueryRow(ctx, readSQL, partition, key).Scan(&row.Key, &seq, &row.Value, &row.Token)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return table.Row{}, fmt.Errorf("%w: %s/%s", table.ErrRowNotFound, partition, key)
		}
		return table.Row{}, err
	}
	row.Seq = uint64(seq)
	return row, nil
}

func (s *Store) Select(ctx context.Context, partition string, q table.Query) ([]table.Row, error) {
	rows, err := s.pool.Query(ctx, selectSQL, partition)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []table.Row
	for rows.Next() {
		var row table.Row
		var seq int64
		if err := rows.Scan(&row.Key, &seq, &row.Value, &row.Token); err != nil {
			return nil, err
		}
		row.Seq = uint64(seq)
		if q.Matches(row) {
			out = append(out, row)
		}
	}
	return out, rows.Err()
}

func (s *Store) Commit(ctx context.Context, b table.Batch) (map[string]string, error) {
	if len(b.Ops) > table.MaxBatchRows {
		return nil, fmt.Errorf("%w: %d ops", table.ErrBatchTooLarge, len(b.Ops))
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// Validate every precondition under row locks before any mutation, so a
	// failed batch leaves nothing applied.
	for _, op := range b.Ops {
		var stored string
		err := tx.QueryRow(ctx, lockTokenSQL, b.Partition, op.Row.Key).Scan(&stored)
		exists := true
		if err != nil {
			if !errors.Is(err, pgx.ErrNoRows) {
				return nil, err
			}
			exists = false
		}
		switch op.Kind {
		case table.OpPut:
			if op.Row.Token == "" && exists {
				return nil, fmt.Errorf("%w: %s/%s", table.ErrRowExists, b.Partition, op.Row.Key)
			}
			if op.Row.Token != "" {
				if !exists {
					return nil, fmt.Errorf("%w: %s/%s", table.ErrRowNotFound, b.Partition, op.Row.Key)
				}
				if stored != op.Row.Token {
					return nil, fmt.Errorf("%w: %s/%s", table.ErrTokenMismatch, b.Partition, op.Row.Key)
				}
			}
		case table.OpDelete:
			if !exists {
				return nil, fmt.Errorf("%w: %s/%s", table.ErrRowNotFound, b.Partition, op.Row.Key)
			}
			if op.Row.Token != "" && stored != op.Row.Token {
				return nil, fmt.Errorf("%w: %s/%s", table.ErrTokenMismatch, b.Partition, op.Row.Key)
			}
		}
	}

	tokens := make(map[string]string, len(b.Ops))
	for _, op := range b.Ops {
		switch op.Kind {
		case table.OpPut:
			token := uuid.NewString()
			if _, err := tx.Exec(ctx, upsertSQL, b.Partition, op.Row.Key, int64(op.Row.Seq), op.Row.Value, token); err != nil {
				return nil, err
			}
			tokens[op.Row.Key] = token
		case table.OpDelete:
			if _, err := tx.Exec(ctx, deleteSQL, b.Partition, op.Row.Key); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return tokens, nil
}

var _ table.Store = (*Store)(nil)

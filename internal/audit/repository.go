package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/psique-app/platform/internal/shared/database"
	"github.com/psique-app/platform/internal/shared/errors"
)

// chainLockKey serializes appends across instances.
const chainLockKey = 7243001

// Store is the append-only audit persistence.
type Store interface {
	// Append seals the entry onto the end of the chain and stores it.
	Append(ctx context.Context, e *Entry) error
	List(ctx context.Context, filter ListFilter) ([]Entry, int, error)
	// Chain returns every entry in sequence order.
	Chain(ctx context.Context) ([]Entry, error)
}

// Repository stores the audit chain in Postgres
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new audit repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const selectEntry = `
	SELECT sequence, id, timestamp, hash, prev_hash,
		actor_type, actor_id, actor_role,
		action, resource_type, resource_id,
		changes, correlation_id
	FROM audit_entries`

func scanEntry(row pgx.Row) (*Entry, error) {
	e := &Entry{}
	var changes []byte
	err := row.Scan(
		&e.Sequence, &e.ID, &e.Timestamp, &e.Hash, &e.PrevHash,
		&e.ActorType, &e.ActorID, &e.ActorRole,
		&e.Action, &e.ResourceType, &e.ResourceID,
		&changes, &e.CorrelationID,
	)
	if err != nil {
		return nil, err
	}
	if len(changes) > 0 {
		if err := json.Unmarshal(changes, &e.Changes); err != nil {
			return nil, fmt.Errorf("decode changes: %w", err)
		}
	}
	return e, nil
}

// Append links the entry to the latest hash under a transaction-scoped
// advisory lock and inserts it.
func (r *Repository) Append(ctx context.Context, e *Entry) error {
	var changes []byte
	if len(e.Changes) > 0 {
		var err error
		if changes, err = json.Marshal(e.Changes); err != nil {
			return errors.Wrap(err, "failed to encode audit changes")
		}
	}

	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, chainLockKey); err != nil {
			return errors.Wrap(err, "failed to lock audit chain")
		}

		var prevHash string
		err := tx.QueryRow(ctx, `SELECT hash FROM audit_entries ORDER BY sequence DESC LIMIT 1`).Scan(&prevHash)
		if err != nil && err != pgx.ErrNoRows {
			return errors.Wrap(err, "failed to read last audit hash")
		}
		e.Seal(prevHash)

		err = tx.QueryRow(ctx, `
			INSERT INTO audit_entries (
				id, timestamp, hash, prev_hash,
				actor_type, actor_id, actor_role,
				action, resource_type, resource_id,
				changes, correlation_id
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			RETURNING sequence`,
			e.ID, e.Timestamp, e.Hash, e.PrevHash,
			e.ActorType, e.ActorID, e.ActorRole,
			e.Action, e.ResourceType, e.ResourceID,
			changes, e.CorrelationID,
		).Scan(&e.Sequence)
		if err != nil {
			return errors.Wrap(err, "failed to append audit entry")
		}
		return nil
	})
}

// List returns a page of entries, newest first, and the total match count
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Entry, int, error) {
	var conditions []string
	var args []any
	argNum := 1

	if filter.ActorID != nil {
		conditions = append(conditions, fmt.Sprintf("actor_id = $%d", argNum))
		args = append(args, *filter.ActorID)
		argNum++
	}
	if filter.Action != "" {
		conditions = append(conditions, fmt.Sprintf("action LIKE $%d", argNum))
		args = append(args, escapeLike(filter.Action)+"%")
		argNum++
	}
	if filter.ResourceType != "" {
		conditions = append(conditions, fmt.Sprintf("resource_type = $%d", argNum))
		args = append(args, filter.ResourceType)
		argNum++
	}
	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("timestamp >= $%d", argNum))
		args = append(args, *filter.From)
		argNum++
	}
	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("timestamp <= $%d", argNum))
		args = append(args, *filter.To)
		argNum++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_entries"+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count audit entries")
	}

	query := fmt.Sprintf("%s%s ORDER BY sequence DESC LIMIT $%d OFFSET $%d", selectEntry, whereClause, argNum, argNum+1)
	args = append(args, filter.EffectiveLimit(), max(filter.Offset, 0))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list audit entries")
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, "failed to scan audit entry")
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, "failed to list audit entries")
	}
	return entries, total, nil
}

// Chain returns the whole chain in sequence order
func (r *Repository) Chain(ctx context.Context) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, selectEntry+" ORDER BY sequence ASC")
	if err != nil {
		return nil, errors.Wrap(err, "failed to read audit chain")
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan audit entry")
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read audit chain")
	}
	return entries, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/pumpshort/internal/domain"
)

// AuditStore implements domain.AuditStore using PostgreSQL. Every state
// transition taken by a strategy instance is persisted with the indicator
// snapshot that justified it.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates a new AuditStore backed by the given connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// LogTransition appends one state-transition record. The decision snapshot is
// stored as JSONB keyed by variant identity.
func (s *AuditStore) LogTransition(ctx context.Context, entry domain.AuditEntry) error {
	snapJSON, err := json.Marshal(entry.Snapshot)
	if err != nil {
		return fmt.Errorf("postgres: marshal transition snapshot: %w", err)
	}

	const query = `
		INSERT INTO state_transitions
			(strategy_id, symbol, from_state, to_state, trigger_group, snapshot, tick_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = s.pool.Exec(ctx, query,
		entry.StrategyID,
		entry.Symbol,
		string(entry.FromState),
		string(entry.ToState),
		string(entry.TriggerGroup),
		snapJSON,
		entry.TickTime,
	)
	if err != nil {
		return fmt.Errorf("postgres: log transition %s/%s: %w", entry.StrategyID, entry.Symbol, err)
	}
	return nil
}

// List returns transition records with pagination and optional time filtering,
// most recent first.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query := `
		SELECT id, strategy_id, symbol, from_state, to_state, trigger_group, snapshot, tick_time, created_at
		FROM state_transitions WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transitions: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var (
			e         domain.AuditEntry
			fromState string
			toState   string
			trigger   string
			snapJSON  []byte
		)

		if err := rows.Scan(&e.ID, &e.StrategyID, &e.Symbol, &fromState, &toState, &trigger, &snapJSON, &e.TickTime, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan transition: %w", err)
		}

		e.FromState = domain.State(fromState)
		e.ToState = domain.State(toState)
		e.TriggerGroup = domain.TriggerGroup(trigger)

		if snapJSON != nil {
			if err := json.Unmarshal(snapJSON, &e.Snapshot); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal transition snapshot: %w", err)
			}
		}

		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list transitions rows: %w", err)
	}
	return entries, nil
}

// Compile-time interface check.
var _ domain.AuditStore = (*AuditStore)(nil)

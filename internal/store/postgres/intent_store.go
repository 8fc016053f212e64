package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/celomarket/internal/domain"
)

const intentColumns = `id::text, listing_id, kind, outcome, actor, tx_hashes, error, started_at, finished_at`

// IntentStore implements domain.IntentJournal on the intent_journal table.
type IntentStore struct {
	pool *pgxpool.Pool
}

// NewIntentStore creates an IntentStore backed by pool.
func NewIntentStore(pool *pgxpool.Pool) *IntentStore {
	return &IntentStore{pool: pool}
}

// Record appends a finished intent. Recording the same intent twice is a
// no-op.
func (s *IntentStore) Record(ctx context.Context, rec domain.IntentRecord) error {
	const query = `
		INSERT INTO intent_journal
			(id, listing_id, kind, outcome, actor, tx_hashes, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`

	hashes := rec.TxHashes
	if hashes == nil {
		hashes = []string{}
	}
	_, err := s.pool.Exec(ctx, query,
		rec.ID, int64(rec.ListingID), string(rec.Kind), string(rec.Outcome),
		rec.Actor, hashes, rec.Error, rec.StartedAt, rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record intent %s: %w", rec.ID, err)
	}
	return nil
}

// List returns journaled intents, newest first, filtered by opts.
func (s *IntentStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.IntentRecord, error) {
	query, args := buildListQuery(opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list intents: %w", err)
	}
	return collectIntents(rows)
}

// ListBefore returns up to limit intents finished before the cutoff,
// oldest first.
func (s *IntentStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.IntentRecord, error) {
	query := `SELECT ` + intentColumns + ` FROM intent_journal
		WHERE finished_at < $1 ORDER BY finished_at ASC LIMIT $2`
	rows, err := s.pool.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list intents before %s: %w", before.Format(time.RFC3339), err)
	}
	return collectIntents(rows)
}

// DeleteBefore removes intents finished before the cutoff and returns how
// many were removed.
func (s *IntentStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM intent_journal WHERE finished_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete intents before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

// buildListQuery assembles the filtered, paginated journal query.
func buildListQuery(opts domain.ListOpts) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if opts.Since != nil {
		add("finished_at >= $%d", *opts.Since)
	}
	if opts.Until != nil {
		add("finished_at <= $%d", *opts.Until)
	}
	if opts.ListingID != nil {
		add("listing_id = $%d", int64(*opts.ListingID))
	}
	if opts.Kind != "" {
		add("kind = $%d", string(opts.Kind))
	}
	if opts.Actor != "" {
		add("lower(actor) = lower($%d)", opts.Actor)
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + intentColumns + " FROM intent_journal")
	if len(conds) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	sb.WriteString(" ORDER BY finished_at DESC")

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		fmt.Fprintf(&sb, " OFFSET $%d", len(args))
	}
	return sb.String(), args
}

func collectIntents(rows pgx.Rows) ([]domain.IntentRecord, error) {
	defer rows.Close()
	recs := []domain.IntentRecord{}
	for rows.Next() {
		var (
			rec       domain.IntentRecord
			listingID int64
			kind      string
			outcome   string
		)
		if err := rows.Scan(&rec.ID, &listingID, &kind, &outcome, &rec.Actor,
			&rec.TxHashes, &rec.Error, &rec.StartedAt, &rec.FinishedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan intent: %w", err)
		}
		rec.ListingID = uint64(listingID)
		rec.Kind = domain.IntentKind(kind)
		rec.Outcome = domain.Phase(outcome)
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: intent rows: %w", err)
	}
	return recs, nil
}

var _ domain.IntentJournal = (*IntentStore)(nil)

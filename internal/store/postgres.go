package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/rudnitski/HealthUp-sub005/internal/model/query"
)

// NameKind selects which canonical-name table a fuzzy search runs against.
type NameKind string

const (
	KindParameter NameKind = "parameter"
	KindAnalyte   NameKind = "analyte"
)

// fuzzyTables maps a NameKind to its table. SQL identifiers come only from
// this map, never from caller input.
var fuzzyTables = map[NameKind]string{
	KindParameter: "parameters",
	KindAnalyte:   "analytes",
}

// Config carries datastore connection settings.
type Config struct {
	URL              string
	MaxConns         int32
	StatementTimeout time.Duration
}

// Store wraps the shared connection pool. Every call acquires a connection for
// the minimum necessary scope (one transaction or one statement) and releases
// it before returning; nothing is held across a model call.
type Store struct {
	pool        *pgxpool.Pool
	stmtTimeout time.Duration
}

// New connects the pool and verifies it with a ping.
func New(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, "parse database url")
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errors.Wrap(err, "create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping database")
	}

	stmtTimeout := cfg.StatementTimeout
	if stmtTimeout <= 0 {
		stmtTimeout = 5 * time.Second
	}

	return &Store{pool: pool, stmtTimeout: stmtTimeout}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// FuzzySearch looks up canonical names approximately matching term. The
// similarity threshold is a transaction-local setting on the engine side, so
// the whole lookup runs inside one explicit transaction on one pooled
// connection: begin, set threshold, query, commit. On any failure the
// transaction is rolled back and the connection returns to the pool clean.
func (s *Store) FuzzySearch(ctx context.Context, kind NameKind, term string, limit int, threshold float64) ([]query.FuzzyMatch, error) {
	table, ok := fuzzyTables[kind]
	if !ok {
		return nil, errors.Errorf("unknown name kind %q", kind)
	}
	if threshold < 0 || threshold > 1 {
		return nil, errors.Errorf("similarity threshold %v outside [0,1]", threshold)
	}
	if limit <= 0 {
		limit = 10
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "begin fuzzy search transaction")
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	// SET LOCAL does not take bind parameters; the value is validated above
	// and rendered as a bare float.
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL pg_trgm.similarity_threshold = %.4f", threshold)); err != nil {
		return nil, errors.Wrap(err, "set similarity threshold")
	}

	sql := "SELECT name, id::text, similarity(name, $1)::float8 AS sim " +
		"FROM " + table + " WHERE name % $1 ORDER BY sim DESC, name ASC LIMIT $2"

	rows, err := tx.Query(ctx, sql, term, limit)
	if err != nil {
		return nil, errors.Wrapf(err, "fuzzy search %s names", kind)
	}

	matches := make([]query.FuzzyMatch, 0, limit)
	for rows.Next() {
		var m query.FuzzyMatch
		if err := rows.Scan(&m.Candidate, &m.ID, &m.Similarity); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan fuzzy match")
		}
		matches = append(matches, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate fuzzy matches")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit fuzzy search transaction")
	}

	log.Debug().Str("kind", string(kind)).Str("term", term).Int("matches", len(matches)).Msg("fuzzy search")
	return matches, nil
}

// Query executes already-validated SQL inside a read-only transaction with a
// statement timeout and returns the shaped rows. Used for both exploratory
// and finalized queries.
func (s *Store) Query(ctx context.Context, sql string) (query.Result, error) {
	var res query.Result

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return res, errors.Wrap(err, "begin read-only transaction")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := s.setStatementTimeout(ctx, tx); err != nil {
		return res, err
	}

	rows, err := tx.Query(ctx, sql)
	if err != nil {
		return res, errors.Wrap(err, "execute query")
	}

	for _, fd := range rows.FieldDescriptions() {
		res.Columns = append(res.Columns, fd.Name)
	}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			rows.Close()
			return query.Result{}, errors.Wrap(err, "read row values")
		}
		row := make(map[string]any, len(values))
		for i, v := range values {
			row[res.Columns[i]] = v
		}
		res.Rows = append(res.Rows, row)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return query.Result{}, errors.Wrap(err, "iterate rows")
	}

	if err := tx.Commit(ctx); err != nil {
		return query.Result{}, errors.Wrap(err, "commit read-only transaction")
	}
	return res, nil
}

// Explain runs an explain-only pass over sanitized SQL so the validator can
// surface the engine's own error text without touching data. The transaction
// is always rolled back.
func (s *Store) Explain(ctx context.Context, sql string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return errors.Wrap(err, "begin explain transaction")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := s.setStatementTimeout(ctx, tx); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, "EXPLAIN "+sql); err != nil {
		return err
	}
	return nil
}

func (s *Store) setStatementTimeout(ctx context.Context, tx pgx.Tx) error {
	stmt := fmt.Sprintf("SET LOCAL statement_timeout = '%dms'", s.stmtTimeout.Milliseconds())
	if _, err := tx.Exec(ctx, stmt); err != nil {
		return errors.Wrap(err, "set statement timeout")
	}
	return nil
}

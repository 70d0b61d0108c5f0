package quotestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/quotebot/quotegallery/internal/quotes"
)

const (
	postgresQuotesTableName  = "quotes"
	postgresOperationTimeout = 5 * time.Second
	postgresColumns          = "id, user_id, template, font, theme, orientation, animated, caption, quoted_user_id, image_url, storage_key, created_at"
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresStore keeps artifacts in one postgres table, created on first use.
type PostgresStore struct {
	dsn       string
	tableName string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, quotes.ErrInvalidInput
	}
	return &PostgresStore{
		dsn:       dsn,
		tableName: postgresQuotesTableName,
		openDB:    sql.Open,
	}, nil
}

func (s *PostgresStore) ensureReady() error {
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		table := quoteIdentifier(s.tableName)
		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				template TEXT NOT NULL DEFAULT '',
				font TEXT NOT NULL DEFAULT '',
				theme TEXT NOT NULL DEFAULT '',
				orientation TEXT NOT NULL DEFAULT '',
				animated BOOLEAN NOT NULL DEFAULT FALSE,
				caption TEXT NOT NULL DEFAULT '',
				quoted_user_id TEXT NOT NULL DEFAULT '',
				image_url TEXT NOT NULL DEFAULT '',
				storage_key TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS %s ON %s (user_id, created_at DESC)`,
			table, quoteIdentifier(s.tableName+"_owner_created_idx"), table)
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		s.db = db
	})
	return s.initErr
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArtifact(row rowScanner) (quotes.Artifact, error) {
	var a quotes.Artifact
	err := row.Scan(&a.ID, &a.OwnerID, &a.Template, &a.Font, &a.Theme, &a.Orientation,
		&a.Animated, &a.Caption, &a.QuotedUserID, &a.ImageURL, &a.StorageKey, &a.CreatedAt)
	return a, err
}

// whereClause renders the owner and filter conditions with their args.
func whereClause(ownerID string, q quotes.PageQuery) (string, []any) {
	conds := []string{"user_id = $1"}
	args := []any{ownerID}
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if q.Search != "" {
		add("caption ILIKE $%d", "%"+escapeLike(q.Search)+"%")
	}
	if q.Template != "" {
		add("template = $%d", q.Template)
	}
	switch q.Animated {
	case quotes.AnimatedOnly:
		add("animated = $%d", true)
	case quotes.AnimatedStatic:
		add("animated = $%d", false)
	}
	if q.QuotedUserID != "" {
		add("quoted_user_id = $%d", q.QuotedUserID)
	}
	return strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func orderClause(q quotes.PageQuery) string {
	column := "created_at"
	if q.SortKey == quotes.SortTemplate {
		column = "template"
	}
	dir := "DESC"
	if q.SortDir == quotes.SortAsc {
		dir = "ASC"
	}
	return fmt.Sprintf("%s %s, id %s", column, dir, dir)
}

func (s *PostgresStore) List(ctx context.Context, ownerID string, q quotes.PageQuery) ([]quotes.Artifact, int, error) {
	if err := s.ensureReady(); err != nil {
		return nil, 0, err
	}
	q = q.Normalize()
	where, args := whereClause(ownerID, q)
	table := quoteIdentifier(s.tableName)

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", table, where)
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count quotes: %w", err)
	}

	pageArgs := append(append([]any(nil), args...), q.PageSize, q.Offset())
	listQuery := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s LIMIT $%d OFFSET $%d",
		postgresColumns, table, where, orderClause(q), len(args)+1, len(args)+2)
	rows, err := s.db.QueryContext(ctx, listQuery, pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list quotes: %w", err)
	}
	defer rows.Close()
	items := []quotes.Artifact{}
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (s *PostgresStore) Count(ctx context.Context, ownerID string) (int, error) {
	if err := s.ensureReady(); err != nil {
		return 0, err
	}
	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE user_id = $1", quoteIdentifier(s.tableName))
	if err := s.db.QueryRowContext(ctx, query, ownerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count quotes: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) Find(ctx context.Context, id string) (quotes.Artifact, error) {
	if err := s.ensureReady(); err != nil {
		return quotes.Artifact{}, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", postgresColumns, quoteIdentifier(s.tableName))
	a, err := scanArtifact(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return quotes.Artifact{}, quotes.ErrNotFound
	}
	return a, err
}

func (s *PostgresStore) Insert(ctx context.Context, a quotes.Artifact) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		quoteIdentifier(s.tableName), postgresColumns)
	_, err := s.db.ExecContext(ctx, query, a.ID, a.OwnerID, a.Template, a.Font, a.Theme, a.Orientation,
		a.Animated, a.Caption, a.QuotedUserID, a.ImageURL, a.StorageKey, a.CreatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w: duplicate id %s", quotes.ErrInvalidInput, a.ID)
	}
	return err
}

func (s *PostgresStore) UpdateCaption(ctx context.Context, ownerID, id, caption string) (quotes.Artifact, error) {
	if err := s.ensureReady(); err != nil {
		return quotes.Artifact{}, err
	}
	query := fmt.Sprintf("UPDATE %s SET caption = $3 WHERE user_id = $1 AND id = $2 RETURNING %s",
		quoteIdentifier(s.tableName), postgresColumns)
	a, err := scanArtifact(s.db.QueryRowContext(ctx, query, ownerID, id, caption))
	if errors.Is(err, sql.ErrNoRows) {
		return quotes.Artifact{}, quotes.ErrNotFound
	}
	return a, err
}

func (s *PostgresStore) Delete(ctx context.Context, ownerID, id string) (quotes.Artifact, error) {
	removed, err := s.DeleteMany(ctx, ownerID, []string{id})
	if err != nil {
		return quotes.Artifact{}, err
	}
	return removed[0], nil
}

func (s *PostgresStore) DeleteMany(ctx context.Context, ownerID string, ids []string) ([]quotes.Artifact, error) {
	if len(ids) == 0 {
		return nil, quotes.ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	query := fmt.Sprintf("DELETE FROM %s WHERE user_id = $1 AND id = ANY($2) RETURNING %s",
		quoteIdentifier(s.tableName), postgresColumns)
	rows, err := tx.QueryContext(ctx, query, ownerID, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("delete quotes: %w", err)
	}
	removed := make([]quotes.Artifact, 0, len(ids))
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		removed = append(removed, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(removed) != len(ids) {
		return nil, fmt.Errorf("%w: %d of %d quotes", quotes.ErrNotFound, len(ids)-len(removed), len(ids))
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return removed, nil
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func quoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return `""`
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}

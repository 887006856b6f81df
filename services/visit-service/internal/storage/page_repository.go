package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/visitwindow/libs/db"
	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/model"
)

// PageRepository stores each page as one JSONB document next to a version
// column that every conditional write compares and increments.
type PageRepository struct {
	pool *db.Pool
}

func NewPageRepository(pool *db.Pool) *PageRepository {
	return &PageRepository{pool: pool}
}

// projectedDoc keeps only the top-level keys of doc listed in the text[]
// parameter param. An empty list keeps the whole document.
func projectedDoc(param string) string {
	return `CASE WHEN cardinality(` + param + `::text[]) = 0 THEN doc ELSE (
		SELECT COALESCE(jsonb_object_agg(key, value), '{}'::jsonb)
		FROM jsonb_each(doc) WHERE key = ANY(` + param + `::text[])
	) END`
}

func (r *PageRepository) Fetch(ctx context.Context, reference string, fields ...string) (*model.Page, error) {
	var (
		version int64
		raw     []byte
	)
	err := r.pool.QueryRow(ctx, `
		SELECT version, `+projectedDoc("$2")+`
		FROM pages
		WHERE reference = $1
	`, reference, nonNil(fields)).Scan(&version, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeRow(reference, version, raw)
}

func (r *PageRepository) Insert(ctx context.Context, page *model.Page) error {
	now := time.Now().UTC()
	page.CreatedAt, page.UpdatedAt = now, now
	doc, err := json.Marshal(page)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO pages (reference, doc, version, created_at, updated_at)
		VALUES ($1, $2::jsonb, 1, $3, $3)
	`, page.Reference, doc, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrExists
		}
		return err
	}
	page.Version = 1
	return nil
}

func (r *PageRepository) Put(ctx context.Context, page *model.Page, pre *Precondition) error {
	page.UpdatedAt = time.Now().UTC()
	doc, err := json.Marshal(page)
	if err != nil {
		return err
	}

	var version int64
	if pre == nil {
		err = r.pool.QueryRow(ctx, `
			INSERT INTO pages (reference, doc, version, updated_at)
			VALUES ($1, $2::jsonb, 1, $3)
			ON CONFLICT (reference) DO UPDATE
			SET doc = EXCLUDED.doc, version = pages.version + 1, updated_at = EXCLUDED.updated_at
			RETURNING version
		`, page.Reference, doc, page.UpdatedAt).Scan(&version)
	} else {
		err = r.pool.QueryRow(ctx, `
			UPDATE pages
			SET doc = $2::jsonb, version = version + 1, updated_at = $4
			WHERE reference = $1 AND version = $3
			RETURNING version
		`, page.Reference, doc, pre.Version, page.UpdatedAt).Scan(&version)
		if errors.Is(err, pgx.ErrNoRows) {
			return r.missOrConflict(ctx, page.Reference)
		}
	}
	if err != nil {
		return err
	}
	page.Version = version
	return nil
}

func (r *PageRepository) ConditionalUpdate(ctx context.Context, reference string, attrs Attributes, pre Precondition) (int64, error) {
	now := time.Now().UTC()
	patch, err := json.Marshal(withUpdatedAt(attrs, now))
	if err != nil {
		return 0, err
	}

	var version int64
	err = r.pool.QueryRow(ctx, `
		UPDATE pages
		SET doc = doc || $2::jsonb, version = version + 1, updated_at = $4
		WHERE reference = $1 AND version = $3
		RETURNING version
	`, reference, patch, pre.Version, now).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, r.missOrConflict(ctx, reference)
	}
	if err != nil {
		return 0, err
	}
	return version, nil
}

func (r *PageRepository) Delete(ctx context.Context, reference string, pre *Precondition) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	if pre == nil {
		tag, err = r.pool.Exec(ctx, `DELETE FROM pages WHERE reference = $1`, reference)
	} else {
		tag, err = r.pool.Exec(ctx, `DELETE FROM pages WHERE reference = $1 AND version = $2`, reference, pre.Version)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.missOrConflict(ctx, reference)
	}
	return nil
}

func (r *PageRepository) Scan(ctx context.Context, fields []string, fn func(*model.Page) error) error {
	rows, err := r.pool.Query(ctx, `
		SELECT reference, version, `+projectedDoc("$1")+`
		FROM pages
		ORDER BY reference
	`, nonNil(fields))
	if err != nil {
		return err
	}

	var pages []*model.Page
	for rows.Next() {
		var (
			reference string
			version   int64
			raw       []byte
		)
		if err := rows.Scan(&reference, &version, &raw); err != nil {
			rows.Close()
			return err
		}
		page, err := decodeRow(reference, version, raw)
		if err != nil {
			rows.Close()
			return err
		}
		pages = append(pages, page)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, page := range pages {
		if err := fn(page); err != nil {
			return err
		}
	}
	return nil
}

// missOrConflict tells a missing row from a version mismatch after a write
// matched nothing.
func (r *PageRepository) missOrConflict(ctx context.Context, reference string) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pages WHERE reference = $1)`, reference).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

func decodeRow(reference string, version int64, raw []byte) (*model.Page, error) {
	var page model.Page
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, err
	}
	page.Reference = reference
	page.Version = version
	return &page, nil
}

func nonNil(fields []string) []string {
	if fields == nil {
		return []string{}
	}
	return fields
}

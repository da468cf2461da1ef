package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/hidden-spots/internal/domain"
)

// postgresBackend stores each spot as a JSONB document guarded by a version column.
type postgresBackend struct {
	pool *pgxpool.Pool
}

func (p *postgresBackend) insert(ctx context.Context, doc spotDocument) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal spot document: %w", err)
	}

	const query = `
        INSERT INTO spots (id, version, document, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5)
    `
	_, err = p.pool.Exec(ctx, query, doc.ID, doc.Version, payload, doc.CreatedAt, doc.UpdatedAt)
	return err
}

func (p *postgresBackend) load(ctx context.Context, id string) (spotDocument, error) {
	const query = `SELECT version, document FROM spots WHERE id = $1`
	doc, err := scanDocument(p.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return spotDocument{}, ErrNotFound
		}
		return spotDocument{}, err
	}
	return doc, nil
}

func (p *postgresBackend) replace(ctx context.Context, doc spotDocument, expectedVersion int64) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal spot document: %w", err)
	}

	const query = `
        UPDATE spots
        SET document = $3,
            version = $4,
            updated_at = $5
        WHERE id = $1 AND version = $2
    `
	tag, err := p.pool.Exec(ctx, query, doc.ID, expectedVersion, payload, doc.Version, doc.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM spots WHERE id = $1)`, doc.ID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

func (p *postgresBackend) list(ctx context.Context, q listQuery) ([]spotDocument, error) {
	where := make([]string, 0)
	args := make([]interface{}, 0)
	arg := func(value interface{}) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.Type != nil {
		where = append(where, fmt.Sprintf("document->>'type' = %s", arg(*q.Type)))
	}
	if q.Query != nil {
		pattern := arg("%" + escapeLike(*q.Query) + "%")
		where = append(where, fmt.Sprintf("(document->>'title' ILIKE %s OR document->>'description' ILIKE %s)", pattern, pattern))
	}
	if q.Cursor != nil {
		cursorCreated := arg(q.Cursor.CreatedAt)
		cursorID := arg(q.Cursor.ID)
		where = append(where, fmt.Sprintf("(created_at, id) < (%s, %s)", cursorCreated, cursorID))
	}

	queryBuilder := strings.Builder{}
	queryBuilder.WriteString("SELECT version, document FROM spots")
	if len(where) > 0 {
		queryBuilder.WriteString(" WHERE ")
		queryBuilder.WriteString(strings.Join(where, " AND "))
	}
	queryBuilder.WriteString(" ORDER BY created_at DESC, id DESC")
	if q.Limit > 0 {
		queryBuilder.WriteString(fmt.Sprintf(" LIMIT %d", q.Limit))
	}

	return p.query(ctx, queryBuilder.String(), args...)
}

func (p *postgresBackend) within(ctx context.Context, box domain.BoundingBox) ([]spotDocument, error) {
	query := `
        SELECT version, document FROM spots
        WHERE (document->'location'->>'latitude')::float8 BETWEEN $1 AND $2
    `
	args := []interface{}{box.MinLat, box.MaxLat}
	if !box.AllLongitudes {
		query += ` AND (document->'location'->>'longitude')::float8 BETWEEN $3 AND $4`
		args = append(args, box.MinLng, box.MaxLng)
	}
	return p.query(ctx, query, args...)
}

func (p *postgresBackend) query(ctx context.Context, query string, args ...interface{}) ([]spotDocument, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make([]spotDocument, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

func scanDocument(row pgx.Row) (spotDocument, error) {
	var (
		version int64
		payload []byte
	)
	if err := row.Scan(&version, &payload); err != nil {
		return spotDocument{}, err
	}
	var doc spotDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		return spotDocument{}, fmt.Errorf("decode spot document: %w", err)
	}
	doc.Version = version
	return doc, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Repository implements StoreInterface against PostgreSQL.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new cleanup repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CountExpiredTokens(ctx context.Context, cutoff time.Time) (int, error) {
	var count int
	query := `
		SELECT COUNT(*)
		FROM intake.form_tokens
		WHERE created_at < $1
	`
	err := r.db.QueryRowContext(ctx, query, cutoff).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count expired tokens: %w", err)
	}
	return count, nil
}

func (r *Repository) ListExpiredTokens(ctx context.Context, cutoff time.Time, afterID string, limit int) ([]Token, error) {
	// Keyset pagination on id keeps paging stable while earlier pages are
	// being deleted underneath us.
	query := `
		SELECT id, product_id, COALESCE(entity_id, ''), created_at
		FROM intake.form_tokens
		WHERE created_at < $1 AND id > $2
		ORDER BY id ASC
		LIMIT $3
	`
	rows, err := r.db.QueryContext(ctx, query, cutoff, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired tokens: %w", err)
	}
	defer rows.Close()

	var tokens []Token
	for rows.Next() {
		var tok Token
		if err := rows.Scan(&tok.ID, &tok.ProductID, &tok.EntityID, &tok.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		tokens = append(tokens, tok)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tokens: %w", err)
	}

	return tokens, nil
}

func (r *Repository) FindRelationships(ctx context.Context, productID string, since time.Time) ([]Relationship, error) {
	query := `
		SELECT id, product_id, entity_id, status, created_at
		FROM intake.relations
		WHERE product_id = $1 AND created_at >= $2
	`
	rows, err := r.db.QueryContext(ctx, query, productID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query relationships for product %s: %w", productID, err)
	}
	defer rows.Close()

	var rels []Relationship
	for rows.Next() {
		var rel Relationship
		if err := rows.Scan(&rel.ID, &rel.ProductID, &rel.EntityID, &rel.Status, &rel.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan relationship: %w", err)
		}
		rels = append(rels, rel)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating relationships: %w", err)
	}

	return rels, nil
}

// PurgeOrphan hard-deletes an orphaned session: the session's relationship
// (if any), the entity's corpus items, the entity, and the token, all in one
// transaction. Children go before the parent so referential constraints
// hold at every statement. Missing rows are fine: a previous run killed
// mid-flight may already have removed some of them.
func (r *Repository) PurgeOrphan(ctx context.Context, tok Token, relationshipID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if relationshipID != "" {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM intake.relations WHERE id = $1`, relationshipID); err != nil {
			return wrapDeleteError("relationship", relationshipID, err)
		}
	}

	if tok.HasEntity() {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM intake.corpus_items WHERE entity_id = $1`, tok.EntityID); err != nil {
			return wrapDeleteError("corpus items of entity", tok.EntityID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM intake.entities WHERE id = $1`, tok.EntityID); err != nil {
			return wrapDeleteError("entity", tok.EntityID, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM intake.form_tokens WHERE id = $1`, tok.ID); err != nil {
		return wrapDeleteError("token", tok.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit purge of token %s: %w", tok.ID, err)
	}

	return nil
}

func (r *Repository) DeleteToken(ctx context.Context, tokenID string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM intake.form_tokens WHERE id = $1`, tokenID); err != nil {
		return wrapDeleteError("token", tokenID, err)
	}
	return nil
}

func wrapDeleteError(kind, id string, err error) error {
	if pqErr, ok := err.(*pq.Error); ok {
		switch pqErr.Code {
		case "23503": // foreign_key_violation
			return fmt.Errorf("failed to delete %s %s: still referenced by another row: %w", kind, id, err)
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("failed to delete %s %s: concurrent modification, will retry next run: %w", kind, id, err)
		}
	}
	return fmt.Errorf("failed to delete %s %s: %w", kind, id, err)
}

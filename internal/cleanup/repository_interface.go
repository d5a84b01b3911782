package cleanup

import (
	"context"
	"time"
)

// StoreInterface defines the contract for the cleanup job's data access
type StoreInterface interface {
	// CountExpiredTokens returns the number of tokens created strictly
	// before the cutoff.
	CountExpiredTokens(ctx context.Context, cutoff time.Time) (int, error)

	// ListExpiredTokens returns one page of tokens created strictly before
	// the cutoff, ordered by id, starting after afterID. An empty page means
	// the backlog is exhausted.
	ListExpiredTokens(ctx context.Context, cutoff time.Time, afterID string, limit int) ([]Token, error)

	// FindRelationships returns the relationships for a product created at
	// or after the given time.
	FindRelationships(ctx context.Context, productID string, since time.Time) ([]Relationship, error)

	// PurgeOrphan deletes, in a single transaction, the session relationship
	// (when relationshipID is non-empty), the entity's corpus items, the
	// entity itself, and the token. Rows already absent are not an error.
	PurgeOrphan(ctx context.Context, tok Token, relationshipID string) error

	// DeleteToken deletes only the token. Deleting a missing token is a
	// no-op success.
	DeleteToken(ctx context.Context, tokenID string) error
}

// Ensure Repository implements StoreInterface
var _ StoreInterface = (*Repository)(nil)

package cleanup

import "context"

// Classifier decides whether a candidate token's entity is still claimed by
// an active business process or is safe to delete.
//
// A relationship only counts as a liveness signal when it references the
// token's own entity and was created at or after the token itself: a
// relationship that merely shares the product id — pre-existing or belonging
// to another visitor's session — says nothing about this session's form
// being submitted.
type Classifier struct {
	store StoreInterface
	live  map[string]bool
}

// NewClassifier creates a classifier using the given set of live statuses.
func NewClassifier(store StoreInterface, liveStatuses []string) *Classifier {
	live := make(map[string]bool, len(liveStatuses))
	for _, s := range liveStatuses {
		live[s] = true
	}
	return &Classifier{store: store, live: live}
}

// Classify determines the disposition for one candidate token.
//
// A token that never got an entity is trivially orphaned: there is nothing a
// relationship could be anchored to, so no lookup is performed. Otherwise,
// the token's own entity's relationships created at or after the token are
// inspected: any in a live status marks the candidate live; one in a
// terminal status belongs to this abandoned session and is returned for the
// cascade, so a half-finished relationship cannot block cleanup forever.
func (c *Classifier) Classify(ctx context.Context, tok Token) (Disposition, error) {
	if !tok.HasEntity() {
		return Disposition{}, nil
	}

	rels, err := c.store.FindRelationships(ctx, tok.ProductID, tok.CreatedAt)
	if err != nil {
		return Disposition{}, &ClassificationError{TokenID: tok.ID, Err: err}
	}

	var sessionRelID string
	for _, rel := range rels {
		if rel.EntityID != tok.EntityID {
			// Same product, different visitor. Not this session's
			// relationship, and never a cascade target.
			continue
		}
		if c.live[rel.Status] {
			return Disposition{Live: true}, nil
		}
		if sessionRelID == "" {
			sessionRelID = rel.ID
		}
	}

	return Disposition{RelationshipID: sessionRelID}, nil
}

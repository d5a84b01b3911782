package cleanup

import (
	"context"
	"log"
	"time"

	"github.com/FormVault/intake-service/internal/messaging"
)

// Deleter executes a candidate's disposition. Each candidate is processed in
// its own transaction: either the full orphan cascade commits, or only the
// token is removed for a live candidate.
type Deleter struct {
	store     StoreInterface
	publisher messaging.PublisherInterface
	dryRun    bool
}

// NewDeleter creates a deleter. The publisher may be nil, in which case no
// events are emitted.
func NewDeleter(store StoreInterface, publisher messaging.PublisherInterface, dryRun bool) *Deleter {
	return &Deleter{store: store, publisher: publisher, dryRun: dryRun}
}

// Execute applies the disposition for one token.
func (d *Deleter) Execute(ctx context.Context, tok Token, disp Disposition) error {
	if d.dryRun {
		if disp.Live {
			log.Printf("[dry-run] would delete token %s (entity %s is live)", tok.ID, tok.EntityID)
		} else {
			log.Printf("[dry-run] would purge token %s with entity %q", tok.ID, tok.EntityID)
		}
		return nil
	}

	if disp.Live {
		if err := d.store.DeleteToken(ctx, tok.ID); err != nil {
			return &CascadeError{TokenID: tok.ID, Err: err}
		}
		d.publishTokenExpired(ctx, tok)
		return nil
	}

	if err := d.store.PurgeOrphan(ctx, tok, disp.RelationshipID); err != nil {
		return &CascadeError{TokenID: tok.ID, Err: err}
	}

	if tok.HasEntity() {
		d.publishEntityPurged(ctx, tok, disp.RelationshipID)
	} else {
		d.publishTokenExpired(ctx, tok)
	}
	return nil
}

// Event publishing is best effort: the deletion has already committed, and a
// broker outage must not turn a successful candidate into a counted failure.

func (d *Deleter) publishTokenExpired(ctx context.Context, tok Token) {
	if d.publisher == nil {
		return
	}
	event := messaging.NewTokenExpiredEvent(tok.ID, tok.ProductID, time.Now().UTC())
	if err := d.publisher.Publish(ctx, messaging.EventTokenExpired, event); err != nil {
		log.Printf("Warning: failed to publish %s for token %s: %v", messaging.EventTokenExpired, tok.ID, err)
	}
}

func (d *Deleter) publishEntityPurged(ctx context.Context, tok Token, relationshipID string) {
	if d.publisher == nil {
		return
	}
	event := messaging.NewEntityPurgedEvent(tok.EntityID, tok.ID, tok.ProductID, relationshipID, time.Now().UTC())
	if err := d.publisher.Publish(ctx, messaging.EventEntityPurged, event); err != nil {
		log.Printf("Warning: failed to publish %s for entity %s: %v", messaging.EventEntityPurged, tok.EntityID, err)
	}
}

package cleanup

import "time"

// Token represents one visitor session on a public form. It is created when
// the form is opened and anchors any partial answers until submission.
type Token struct {
	ID        string
	ProductID string
	// EntityID is empty when the session never got as far as creating an
	// entity. An empty id means "no entity to delete", never a lookup key.
	EntityID  string
	CreatedAt time.Time
}

// HasEntity reports whether the token references an entity at all.
func (t Token) HasEntity() bool {
	return t.EntityID != ""
}

// Relationship links an entity to a product. Its presence (in a live status,
// created after the session opened) is the signal that the visitor submitted.
type Relationship struct {
	ID        string
	ProductID string
	EntityID  string
	Status    string
	CreatedAt time.Time
}

// Disposition is the classifier's verdict for one candidate token.
type Disposition struct {
	// Live means the entity is claimed by an active relationship and only
	// the token may be removed.
	Live bool
	// RelationshipID identifies the abandoned session's own relationship,
	// if one exists, to be removed as part of the cascade. Empty for live
	// candidates and for sessions that never created a relationship.
	RelationshipID string
}

// RunSummary is the terminal tally of one cleanup run, reported to the
// scheduler and published on the event bus.
type RunSummary struct {
	CandidatesSeen int `json:"candidates_seen"`
	Deleted        int `json:"deleted"`
	SkippedLive    int `json:"skipped_live"`
	Errors         int `json:"errors"`
}

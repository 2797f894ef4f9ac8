package model

import "time"

// Hold statuses.  A hold only ever moves forward: ACTIVE is the initial
// status and RELEASED, CONVERTED and EXPIRED are terminal.
const (
	HoldStatusActive    = "ACTIVE"
	HoldStatusReleased  = "RELEASED"
	HoldStatusConverted = "CONVERTED"
	HoldStatusExpired   = "EXPIRED"
)

// Hold is a time-bounded claim on one unit of an option's capacity.
// While ACTIVE it counts against the option's reserved_count (and the
// bucket's current_held when QuotaBucketID is set).  At most one ACTIVE
// hold may exist per (user, option); a unique index enforces this.
//
// Fields:
//  ID            – primary key identifier.
//  OptionID      – option whose capacity is claimed.
//  UserID        – user holding the unit.
//  ReleaseID     – release the option belongs to.
//  QuotaBucketID – quota bucket charged for this hold (nullable).
//  Status        – ACTIVE, RELEASED, CONVERTED or EXPIRED.
//  ExpiresAt     – when the hold lapses if not converted or released.
//  CreatedAt     – creation timestamp.
type Hold struct {
	ID            uint64    // holds.id
	OptionID      uint64    // holds.option_id
	UserID        uint64    // holds.user_id
	ReleaseID     uint64    // holds.release_id
	QuotaBucketID *uint64   // holds.quota_bucket_id (nullable)
	Status        string    // holds.status
	ExpiresAt     time.Time // holds.expires_at
	CreatedAt     time.Time // holds.created_at
}

// Expired reports whether the hold's TTL has lapsed at the given time.
func (h Hold) Expired(now time.Time) bool {
	return h.ExpiresAt.Before(now)
}

package model

import (
	"encoding/json"
	"time"
)

// Participation is the single row tracking a user's journey through a
// release.  There is at most one participation per (user, release).  The
// State column is only ever changed through the lifecycle state machine;
// no other code path writes it.
//
// Fields:
//  ID                – primary key identifier.
//  UserID            – participating user.
//  ReleaseID         – release being participated in.
//  State             – current lifecycle state (see internal/lifecycle).
//  EligibilityResult – JSON snapshot of the eligibility decision taken
//                      when the participation was created.
//  SubmittedAt       – when the survey was submitted (nullable).
//  ApprovedAt        – when the submission was approved (nullable).
//  AllocatedAt       – when an allocation was assigned (nullable).
//  StateUpdatedAt    – when the state last changed.
//  CreatedAt         – creation timestamp.
type Participation struct {
	ID                uint64          // participations.id
	UserID            uint64          // participations.user_id
	ReleaseID         uint64          // participations.release_id
	State             string          // participations.state
	EligibilityResult json.RawMessage // participations.eligibility_result (JSON)
	SubmittedAt       *time.Time      // participations.submitted_at (nullable)
	ApprovedAt        *time.Time      // participations.approved_at (nullable)
	AllocatedAt       *time.Time      // participations.allocated_at (nullable)
	StateUpdatedAt    time.Time       // participations.state_updated_at
	CreatedAt         time.Time       // participations.created_at
}

// Selection links a submitted participation to one chosen option.
//
// Fields:
//  ID              – primary key identifier.
//  ParticipationID – submission this selection belongs to.
//  OptionID        – option that was chosen.
//  QuotaBucketID   – bucket the unit was charged to (nullable).
//  CreatedAt       – creation timestamp.
type Selection struct {
	ID              uint64    // selections.id
	ParticipationID uint64    // selections.participation_id
	OptionID        uint64    // selections.option_id
	QuotaBucketID   *uint64   // selections.quota_bucket_id (nullable)
	CreatedAt       time.Time // selections.created_at
}

// Allocation records the outcome of an admin allocation pass for one
// approved participation.  Its existence is what the APPROVED->ALLOCATED
// guard checks.
//
// Fields:
//  ID              – primary key identifier.
//  ParticipationID – participation that was allocated (unique).
//  OptionID        – option assigned by the pass.
//  CreatedAt       – creation timestamp.
type Allocation struct {
	ID              uint64    // allocations.id
	ParticipationID uint64    // allocations.participation_id
	OptionID        uint64    // allocations.option_id
	CreatedAt       time.Time // allocations.created_at
}

package model

import "time"

// QuotaBucket reserves a named sub-pool of an option's capacity for a
// category of users, typically a group such as a department.  Bucket
// counters follow the same non-negativity and non-exceedance rules as
// Capacity but are checked independently from the option aggregate.
//
// Fields:
//  ID            – primary key identifier.
//  OptionID      – option whose capacity this bucket subdivides.
//  RuleKey       – group name the bucket is reserved for.
//  Quota         – maximum units this bucket may consume.
//  CurrentHeld   – units claimed by active holds against this bucket.
//  CurrentFilled – units consumed by converted holds.
//  CreatedAt     – creation timestamp.
//  UpdatedAt     – last update timestamp.
type QuotaBucket struct {
	ID            uint64    // quota_buckets.id
	OptionID      uint64    // quota_buckets.option_id
	RuleKey       string    // quota_buckets.rule_key
	Quota         uint32    // quota_buckets.quota
	CurrentHeld   uint32    // quota_buckets.current_held
	CurrentFilled uint32    // quota_buckets.current_filled
	CreatedAt     time.Time // quota_buckets.created_at
	UpdatedAt     time.Time // quota_buckets.updated_at
}

// Available returns the number of units this bucket can still take.
func (b QuotaBucket) Available() int {
	return int(b.Quota) - int(b.CurrentHeld) - int(b.CurrentFilled)
}

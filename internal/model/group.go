package model

import "time"

// Group is a named category of users, e.g. a department or cohort.
// Groups drive group_member eligibility rules and quota bucket matching
// (quota_buckets.rule_key references groups.name).
//
// Fields:
//  ID        – primary key identifier.
//  Name      – unique group name.
//  CreatedAt – creation timestamp.
type Group struct {
	ID        uint64    // groups.id
	Name      string    // groups.name
	CreatedAt time.Time // groups.created_at
}

// GroupMembership links a user to a group.
//
// Fields:
//  ID        – primary key identifier.
//  GroupID   – group the user belongs to.
//  UserID    – member user.
//  CreatedAt – creation timestamp.
type GroupMembership struct {
	ID        uint64    // group_memberships.id
	GroupID   uint64    // group_memberships.group_id
	UserID    uint64    // group_memberships.user_id
	CreatedAt time.Time // group_memberships.created_at
}

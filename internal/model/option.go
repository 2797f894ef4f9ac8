package model

import "time"

// Option is a selectable choice within a release, such as a section, a
// cohort track or a time slot.  Every option owns exactly one Capacity
// record which tracks how many units are reserved and filled.
//
// Fields:
//  ID        – primary key identifier.
//  ReleaseID – release this option belongs to.
//  Name      – display name of the option.
//  Position  – ordering hint for display.
//  CreatedAt – creation timestamp.
//  UpdatedAt – last update timestamp.
type Option struct {
	ID        uint64    // options.id
	ReleaseID uint64    // options.release_id
	Name      string    // options.name
	Position  uint32    // options.position
	CreatedAt time.Time // options.created_at
	UpdatedAt time.Time // options.updated_at
}

// Capacity is the shared counter row for an option.  It is the only
// record mutated when units are held, converted or released, and it is
// only ever touched under a row lock taken inside the hold manager.
// Invariant: 0 <= ReservedCount, 0 <= FilledCount and
// ReservedCount+FilledCount <= TotalCapacity at every commit point.
//
// Fields:
//  ID            – primary key identifier.
//  OptionID      – option this capacity belongs to (unique).
//  TotalCapacity – maximum number of units for the option.
//  ReservedCount – units currently claimed by active holds.
//  FilledCount   – units consumed by converted (submitted) holds.
//  UpdatedAt     – last update timestamp.
type Capacity struct {
	ID            uint64    // capacities.id
	OptionID      uint64    // capacities.option_id
	TotalCapacity uint32    // capacities.total_capacity
	ReservedCount uint32    // capacities.reserved_count
	FilledCount   uint32    // capacities.filled_count
	UpdatedAt     time.Time // capacities.updated_at
}

// Available returns the number of units that can still be held.  It must
// only be trusted when the receiver was read under a row lock.
func (c Capacity) Available() int {
	return int(c.TotalCapacity) - int(c.ReservedCount) - int(c.FilledCount)
}

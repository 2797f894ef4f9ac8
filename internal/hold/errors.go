package hold

import "fmt"

// CapacityFullError is returned when an option has no available units
// left at the instant the capacity row lock is held.  It is a
// recoverable conflict, not an internal failure.
type CapacityFullError struct {
	OptionID uint64
}

func (e *CapacityFullError) Error() string {
	return fmt.Sprintf("option %d has no available capacity", e.OptionID)
}

// QuotaExhaustedError is returned when the requested quota bucket has no
// available units, independently of the option's aggregate capacity.
type QuotaExhaustedError struct {
	BucketID uint64
}

func (e *QuotaExhaustedError) Error() string {
	return fmt.Sprintf("quota bucket %d has no available units", e.BucketID)
}

// DuplicateHoldError is returned when the user already has an ACTIVE
// hold on the option.  It is raised off the unique index over
// (user_id, option_id, ACTIVE), never by a read-then-check.
type DuplicateHoldError struct {
	UserID   uint64
	OptionID uint64
}

func (e *DuplicateHoldError) Error() string {
	return fmt.Sprintf("user %d already holds option %d", e.UserID, e.OptionID)
}

// HoldExpiredError is returned on conversion when the user's holds have
// expired (or were already swept).  The caller must restart selection.
type HoldExpiredError struct {
	HoldID uint64 // zero when no active hold was found at all
}

func (e *HoldExpiredError) Error() string {
	if e.HoldID == 0 {
		return "no active hold to convert"
	}
	return fmt.Sprintf("hold %d has expired", e.HoldID)
}

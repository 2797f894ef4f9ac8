// Package hold implements the capacity/hold concurrency controller.  All
// mutations to capacity and quota counters happen here, inside a
// transaction that first acquired the capacity row lock; no other code
// path is permitted to touch those counters.
package hold

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/iliyamo/survey-participation/internal/model"
	"github.com/iliyamo/survey-participation/internal/queue"
	"github.com/iliyamo/survey-participation/internal/repository"
)

// DefaultTTL is the lifetime of a hold when none is configured.
const DefaultTTL = 5 * time.Minute

// Manager creates, converts and releases holds against the capacity
// store and runs the periodic expiry sweep.  Lock order is always the
// option capacity row first, then the quota bucket row, so concurrent
// transactions cannot deadlock across the two.
type Manager struct {
	capacities CapacityStore
	quotas     QuotaStore
	holds      HoldStore
	runner     TxRunner
	audit      AuditSink
	waitlist   WaitlistNotifier
	ttl        time.Duration
}

// NewManager wires the manager.  audit and waitlist may be nil; ttl <= 0
// falls back to DefaultTTL.
func NewManager(capacities CapacityStore, quotas QuotaStore, holds HoldStore, runner TxRunner, audit AuditSink, waitlist WaitlistNotifier, ttl time.Duration) *Manager {
	if capacities == nil || quotas == nil || holds == nil {
		panic("nil store passed to hold.NewManager")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		capacities: capacities,
		quotas:     quotas,
		holds:      holds,
		runner:     runner,
		audit:      audit,
		waitlist:   waitlist,
		ttl:        ttl,
	}
}

// TTL returns the configured hold lifetime.
func (m *Manager) TTL() time.Duration { return m.ttl }

// CreateHold claims one unit of the option's capacity for the user.
// Availability is recomputed from the row read under the lock, never
// from anything read earlier in the request; that is what makes the
// check race-free.  Returns *CapacityFullError, *QuotaExhaustedError or
// *DuplicateHoldError as typed conflicts.
func (m *Manager) CreateHold(ctx context.Context, tx *sql.Tx, optionID, userID, releaseID uint64, bucketID *uint64) (*model.Hold, error) {
	cap, err := m.capacities.LockByOptionTx(ctx, tx, optionID)
	if err != nil {
		return nil, err
	}
	if cap.Available() <= 0 {
		return nil, &CapacityFullError{OptionID: optionID}
	}
	if bucketID != nil {
		bucket, err := m.quotas.LockByIDTx(ctx, tx, *bucketID)
		if err != nil {
			return nil, err
		}
		if bucket.OptionID != optionID {
			return nil, fmt.Errorf("quota bucket %d does not belong to option %d", *bucketID, optionID)
		}
		if bucket.Available() <= 0 {
			return nil, &QuotaExhaustedError{BucketID: *bucketID}
		}
	}
	now := time.Now().UTC()
	h := &model.Hold{
		OptionID:      optionID,
		UserID:        userID,
		ReleaseID:     releaseID,
		QuotaBucketID: bucketID,
		Status:        model.HoldStatusActive,
		ExpiresAt:     now.Add(m.ttl),
		CreatedAt:     now,
	}
	if err := m.holds.CreateTx(ctx, tx, h); err != nil {
		if errors.Is(err, repository.ErrDuplicateHold) {
			return nil, &DuplicateHoldError{UserID: userID, OptionID: optionID}
		}
		return nil, err
	}
	if err := m.capacities.AdjustTx(ctx, tx, optionID, +1, 0); err != nil {
		return nil, err
	}
	if bucketID != nil {
		if err := m.quotas.AdjustTx(ctx, tx, *bucketID, +1, 0); err != nil {
			return nil, err
		}
	}
	m.emit(ctx, userID, "hold.create", h.ID, map[string]any{
		"option_id":  optionID,
		"release_id": releaseID,
		"expires_at": h.ExpiresAt.Format(time.RFC3339),
	})
	return h, nil
}

// lockHoldsWithCapacities returns the user's ACTIVE holds on the release
// with their capacity rows and their own rows locked.  Capacity rows are
// locked first, in ascending option order, matching the sweep and
// CreateHold; hold rows only after, so no two operations ever acquire
// the same locks in opposite orders.  The unlocked planning read is
// stable because the caller already holds the participation row lock,
// which serializes all hold mutations for this user and release.
func (m *Manager) lockHoldsWithCapacities(ctx context.Context, tx *sql.Tx, userID, releaseID uint64) ([]model.Hold, error) {
	planned, err := m.holds.ActiveByUserAndReleaseTx(ctx, tx, userID, releaseID)
	if err != nil {
		return nil, err
	}
	for _, h := range planned {
		if _, err := m.capacities.LockByOptionTx(ctx, tx, h.OptionID); err != nil {
			return nil, err
		}
	}
	return m.holds.ActiveByUserAndReleaseForUpdateTx(ctx, tx, userID, releaseID)
}

// ConvertActive turns all of the user's ACTIVE holds on the release into
// CONVERTED ones, moving each unit from reserved to filled on the option
// and on the quota bucket.  Expired or missing holds abort the whole
// conversion with *HoldExpiredError; the caller must restart selection.
func (m *Manager) ConvertActive(ctx context.Context, tx *sql.Tx, userID, releaseID uint64) ([]model.Hold, error) {
	holds, err := m.lockHoldsWithCapacities(ctx, tx, userID, releaseID)
	if err != nil {
		return nil, err
	}
	if len(holds) == 0 {
		return nil, &HoldExpiredError{}
	}
	now := time.Now().UTC()
	for _, h := range holds {
		if h.Expired(now) {
			return nil, &HoldExpiredError{HoldID: h.ID}
		}
	}
	for i := range holds {
		h := &holds[i]
		if err := m.holds.UpdateStatusTx(ctx, tx, h.ID, model.HoldStatusConverted); err != nil {
			return nil, err
		}
		if err := m.capacities.AdjustTx(ctx, tx, h.OptionID, -1, +1); err != nil {
			return nil, err
		}
		if h.QuotaBucketID != nil {
			if err := m.quotas.AdjustTx(ctx, tx, *h.QuotaBucketID, -1, +1); err != nil {
				return nil, err
			}
		}
		h.Status = model.HoldStatusConverted
	}
	m.emit(ctx, userID, "hold.convert", 0, map[string]any{
		"release_id": releaseID,
		"count":      len(holds),
	})
	return holds, nil
}

// ReleaseActive voluntarily releases all of the user's ACTIVE holds on
// the release and gives the reserved units back.  Releasing when nothing
// is held is not an error; the count released is returned.
func (m *Manager) ReleaseActive(ctx context.Context, tx *sql.Tx, userID, releaseID uint64) (int, error) {
	holds, err := m.lockHoldsWithCapacities(ctx, tx, userID, releaseID)
	if err != nil {
		return 0, err
	}
	for _, h := range holds {
		if err := m.holds.UpdateStatusTx(ctx, tx, h.ID, model.HoldStatusReleased); err != nil {
			return 0, err
		}
		if err := m.capacities.AdjustTx(ctx, tx, h.OptionID, -1, 0); err != nil {
			return 0, err
		}
		if h.QuotaBucketID != nil {
			if err := m.quotas.AdjustTx(ctx, tx, *h.QuotaBucketID, -1, 0); err != nil {
				return 0, err
			}
		}
	}
	if len(holds) > 0 {
		m.emit(ctx, userID, "hold.release", 0, map[string]any{
			"release_id": releaseID,
			"count":      len(holds),
		})
	}
	return len(holds), nil
}

// ReleaseFilled gives one filled unit back to the option (and bucket),
// used when a submission is rejected.  The decrement floors at zero in
// the store, so repeated releases cannot drive counters negative.
func (m *Manager) ReleaseFilled(ctx context.Context, tx *sql.Tx, optionID uint64, bucketID *uint64) error {
	if _, err := m.capacities.LockByOptionTx(ctx, tx, optionID); err != nil {
		return err
	}
	if err := m.capacities.AdjustTx(ctx, tx, optionID, 0, -1); err != nil {
		return err
	}
	if bucketID != nil {
		if err := m.quotas.AdjustTx(ctx, tx, *bucketID, 0, -1); err != nil {
			return err
		}
	}
	return nil
}

// SweepExpired finds ACTIVE holds whose TTL has lapsed, marks them
// EXPIRED and releases their capacity, one transaction per option so a
// failure on one option does not block the rest.  Because only ACTIVE
// rows are swept, running the sweep twice expires a hold once.  Freed
// capacity is reported to the waitlist notifier.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	optionIDs, err := m.holds.OptionsWithExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, optID := range optionIDs {
		freed := 0
		var releaseID uint64
		err := m.runner.RunInTx(ctx, func(tx *sql.Tx) error {
			freed = 0
			if _, err := m.capacities.LockByOptionTx(ctx, tx, optID); err != nil {
				return err
			}
			expired, err := m.holds.ExpiredByOptionForUpdateTx(ctx, tx, optID, now)
			if err != nil {
				return err
			}
			for _, h := range expired {
				if err := m.holds.UpdateStatusTx(ctx, tx, h.ID, model.HoldStatusExpired); err != nil {
					return err
				}
				if err := m.capacities.AdjustTx(ctx, tx, optID, -1, 0); err != nil {
					return err
				}
				if h.QuotaBucketID != nil {
					if err := m.quotas.AdjustTx(ctx, tx, *h.QuotaBucketID, -1, 0); err != nil {
						return err
					}
				}
				releaseID = h.ReleaseID
				freed++
			}
			return nil
		})
		if err != nil {
			log.Printf("hold-sweep: option %d: %v", optID, err)
			continue
		}
		if freed > 0 {
			total += freed
			if m.waitlist != nil {
				m.waitlist.NotifyNext(ctx, queue.WaitlistEvent{
					OptionID:  optID,
					ReleaseID: releaseID,
					Freed:     freed,
					FreedAt:   now.Format(time.RFC3339),
				})
			}
			m.emit(ctx, 0, "hold.expire", optID, map[string]any{
				"option_id": optID,
				"count":     freed,
			})
		}
	}
	return total, nil
}

func (m *Manager) emit(ctx context.Context, actor uint64, action string, entityID uint64, meta map[string]any) {
	if m.audit == nil {
		return
	}
	m.audit.Emit(ctx, queue.AuditEvent{
		Actor:    actor,
		Action:   action,
		Entity:   "hold",
		EntityID: entityID,
		Metadata: meta,
		At:       time.Now().UTC().Format(time.RFC3339),
	})
}

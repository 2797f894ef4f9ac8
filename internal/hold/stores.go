package hold

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/survey-participation/internal/model"
	"github.com/iliyamo/survey-participation/internal/queue"
)

// CapacityStore is the locked view of option capacity rows.  LockByOptionTx
// must acquire a row lock (SELECT ... FOR UPDATE) that lasts until the
// transaction ends; AdjustTx must floor counters at zero in SQL.
type CapacityStore interface {
	LockByOptionTx(ctx context.Context, tx *sql.Tx, optionID uint64) (*model.Capacity, error)
	AdjustTx(ctx context.Context, tx *sql.Tx, optionID uint64, reservedDelta, filledDelta int) error
}

// QuotaStore is the locked view of quota bucket rows, with the same lock
// and floor contract as CapacityStore.
type QuotaStore interface {
	LockByIDTx(ctx context.Context, tx *sql.Tx, bucketID uint64) (*model.QuotaBucket, error)
	AdjustTx(ctx context.Context, tx *sql.Tx, bucketID uint64, heldDelta, filledDelta int) error
}

// HoldStore persists hold rows.  CreateTx must surface a unique index
// violation over (user_id, option_id, ACTIVE) as repository.ErrDuplicateHold.
// Both multi-row reads return holds ordered by option id; the manager
// relies on that ordering to acquire row locks consistently.
type HoldStore interface {
	CreateTx(ctx context.Context, tx *sql.Tx, h *model.Hold) error
	ActiveByUserAndReleaseTx(ctx context.Context, tx *sql.Tx, userID, releaseID uint64) ([]model.Hold, error)
	ActiveByUserAndReleaseForUpdateTx(ctx context.Context, tx *sql.Tx, userID, releaseID uint64) ([]model.Hold, error)
	ExpiredByOptionForUpdateTx(ctx context.Context, tx *sql.Tx, optionID uint64, now time.Time) ([]model.Hold, error)
	UpdateStatusTx(ctx context.Context, tx *sql.Tx, holdID uint64, status string) error
	OptionsWithExpired(ctx context.Context, now time.Time) ([]uint64, error)
}

// TxRunner runs a function inside one transaction, retrying transient
// failures.  The sweep uses it to get its own transactions; request
// scoped operations run inside the caller's transaction instead.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(tx *sql.Tx) error) error
}

// AuditSink receives capacity mutation events, fire-and-forget.
type AuditSink interface {
	Emit(ctx context.Context, ev queue.AuditEvent)
}

// WaitlistNotifier is told when the sweep frees capacity on an option so
// the next eligible candidate can be notified.
type WaitlistNotifier interface {
	NotifyNext(ctx context.Context, ev queue.WaitlistEvent)
}

package purchase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sikshyalaya/api/api/weberr"
)

func Fetch(ctx context.Context, db sqlx.ExtContext, id string) (Purchase, error) {
	const q = `SELECT * FROM purchases WHERE purchase_id = $1`

	var p Purchase
	if err := sqlx.GetContext(ctx, db, &p, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Purchase{}, weberr.NotFound(err)
		}
		return Purchase{}, fmt.Errorf("selecting purchase[%s]: %w", id, err)
	}

	return p, nil
}

// Create writes a new pending ledger row. Amount must be a finite
// positive number; course and user existence is enforced by the
// foreign keys.
func Create(ctx context.Context, db sqlx.ExtContext, p Purchase) error {
	if p.Amount <= 0 || math.IsNaN(p.Amount) || math.IsInf(p.Amount, 0) {
		return weberr.Validation(fmt.Errorf("amount %v is not a positive number", p.Amount))
	}

	const q = `
	INSERT INTO purchases
		(purchase_id, course_id, user_id, amount, status, payment_method, payment_reference, transaction_id, created_at, updated_at)
	VALUES
		(:purchase_id, :course_id, :user_id, :amount, :status, :payment_method, :payment_reference, :transaction_id, :created_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, p); err != nil {
		return fmt.Errorf("inserting purchase: %w", err)
	}

	return nil
}

// SetReference stores the provider's in-flight id after a successful
// initiation.
func SetReference(ctx context.Context, db sqlx.ExtContext, id, ref string, now time.Time) error {
	const q = `UPDATE purchases SET payment_reference = $2, updated_at = $3 WHERE purchase_id = $1`

	if _, err := db.ExecContext(ctx, q, id, ref, now); err != nil {
		return fmt.Errorf("setting payment reference: %w", err)
	}

	return nil
}

// MarkCompleted moves a pending purchase to completed and records the
// provider's settlement id. Completing an already completed purchase is
// a no-op; a purchase that already failed cannot complete (a purchase
// gets at most one terminal transition).
func MarkCompleted(ctx context.Context, db sqlx.ExtContext, id, transactionID string, now time.Time) error {
	const q = `
	UPDATE purchases
	SET status = 'completed', transaction_id = $2, updated_at = $3
	WHERE purchase_id = $1 AND status = 'pending'`

	res, err := db.ExecContext(ctx, q, id, transactionID, now)
	if err != nil {
		return fmt.Errorf("updating purchase[%s] to completed: %w", id, err)
	}

	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	} else if n == 1 {
		return nil
	}

	p, err := Fetch(ctx, db, id)
	if err != nil {
		return err
	}

	switch p.Status {
	case Completed:
		return nil
	default:
		return fmt.Errorf("purchase[%s] already terminal with status %q", id, p.Status)
	}
}

// MarkFailed moves a pending purchase to failed. A completed purchase
// is left untouched: a late failure signal never downgrades it.
func MarkFailed(ctx context.Context, db sqlx.ExtContext, id string, now time.Time) error {
	const q = `
	UPDATE purchases
	SET status = 'failed', updated_at = $2
	WHERE purchase_id = $1 AND status = 'pending'`

	res, err := db.ExecContext(ctx, q, id, now)
	if err != nil {
		return fmt.Errorf("updating purchase[%s] to failed: %w", id, err)
	}

	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	} else if n == 1 {
		return nil
	}

	// Either terminal already (no-op) or missing (not found).
	if _, err := Fetch(ctx, db, id); err != nil {
		return err
	}
	return nil
}

// Delete removes a ledger row. Used only to compensate a failed
// gateway initiation; settled purchases are never deleted.
func Delete(ctx context.Context, db sqlx.ExtContext, id string) error {
	const q = `DELETE FROM purchases WHERE purchase_id = $1`

	if _, err := db.ExecContext(ctx, q, id); err != nil {
		return fmt.Errorf("deleting purchase[%s]: %w", id, err)
	}

	return nil
}

// FailStalePending fails every purchase that has been pending longer
// than ttl and returns how many rows it touched.
func FailStalePending(ctx context.Context, db sqlx.ExtContext, ttl time.Duration, now time.Time) (int64, error) {
	const q = `
	UPDATE purchases
	SET status = 'failed', updated_at = $2
	WHERE status = 'pending' AND created_at < $1`

	res, err := db.ExecContext(ctx, q, now.Add(-ttl), now)
	if err != nil {
		return 0, fmt.Errorf("failing stale pending purchases: %w", err)
	}

	return res.RowsAffected()
}

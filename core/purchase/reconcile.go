package purchase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sikshyalaya/api/api/weberr"
	"github.com/sikshyalaya/api/core/course"
	"github.com/sikshyalaya/api/core/enrollment"
	"github.com/sikshyalaya/api/core/payment"
	"github.com/sikshyalaya/api/core/user"
	"github.com/sikshyalaya/api/validate"
)

// ErrNotSettled reports a provider confirmation that did not confirm
// settlement. The purchase is marked failed before it is returned.
var ErrNotSettled = errors.New("payment not settled")

// CheckoutResult is what the buyer's browser needs to reach the
// provider: a redirect URL, plus form fields for form-post providers.
type CheckoutResult struct {
	PurchaseID    string            `json:"purchaseId"`
	PaymentMethod payment.Method    `json:"paymentMethod"`
	PaymentURL    string            `json:"paymentUrl"`
	PaymentParams map[string]string `json:"paymentParams,omitempty"`
}

// ComputeAmount applies the course discount to its price, rounding to
// two decimals exactly once. Rejects malformed inputs.
func ComputeAmount(price, discount float64) (float64, error) {
	if math.IsNaN(price) || math.IsInf(price, 0) || price < 0 {
		return 0, fmt.Errorf("invalid course price %v", price)
	}
	if math.IsNaN(discount) || math.IsInf(discount, 0) || discount < 0 || discount > 100 {
		return 0, fmt.Errorf("invalid discount value %v", discount)
	}

	amount := price - discount*price/100
	return math.Round(amount*100) / 100, nil
}

// Checkout creates a pending ledger row and initiates payment with the
// selected provider. A failed initiation deletes the row again: no
// pending purchase may exist that the provider never heard about.
func Checkout(ctx context.Context, db *sqlx.DB, gws payment.Registry, userID string, cn CheckoutNew) (*CheckoutResult, error) {
	method, err := payment.ParseMethod(cn.PaymentMethod)
	if err != nil {
		return nil, weberr.Validation(err)
	}

	gw, err := gws.Get(method)
	if err != nil {
		return nil, weberr.Validation(err)
	}

	usr, err := user.Fetch(ctx, db, userID)
	if err != nil {
		return nil, fmt.Errorf("fetching user[%s]: %w", userID, err)
	}

	crs, err := course.Fetch(ctx, db, cn.CourseID)
	if err != nil {
		return nil, fmt.Errorf("fetching course[%s]: %w", cn.CourseID, err)
	}

	if !crs.Published {
		err := errors.New("course is not available for purchase")
		return nil, weberr.NewError(err, err.Error(), http.StatusUnprocessableEntity)
	}

	amount, err := ComputeAmount(crs.Price, crs.Discount)
	if err != nil {
		return nil, weberr.Validation(err)
	}

	now := time.Now().UTC()
	p := Purchase{
		ID:            validate.GenerateID(),
		CourseID:      crs.ID,
		UserID:        usr.ID,
		Amount:        amount,
		Status:        Pending,
		PaymentMethod: method,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := Create(ctx, db, p); err != nil {
		return nil, fmt.Errorf("creating purchase: %w", err)
	}

	init, err := gw.Initiate(ctx, payment.Checkout{
		PurchaseID:  p.ID,
		ProductName: crs.Title,
		Amount:      amount,
		Customer: payment.Customer{
			Name:  usr.Name,
			Email: usr.Email,
			Phone: usr.Phone,
		},
	})
	if err != nil {
		// Compensating delete: the provider never learned about this
		// purchase, so the row must not linger in pending.
		if errDel := Delete(ctx, db, p.ID); errDel != nil {
			return nil, fmt.Errorf("rolling back purchase[%s] after initiation failure %v: %w", p.ID, err, errDel)
		}

		return nil, weberr.NewError(err, "payment initialization failed", http.StatusBadGateway)
	}

	if err := SetReference(ctx, db, p.ID, init.Reference, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("persisting reference of purchase[%s]: %w", p.ID, err)
	}

	return &CheckoutResult{
		PurchaseID:    p.ID,
		PaymentMethod: method,
		PaymentURL:    init.PaymentURL,
		PaymentParams: init.Params,
	}, nil
}

// Settle applies a provider-verified confirmation to the ledger and,
// on settlement, grants enrollment. Safe under duplicate delivery:
// MarkCompleted is a no-op for a completed purchase and the granter
// only ever set-inserts.
func Settle(ctx context.Context, db *sqlx.DB, conf payment.Confirmation) error {
	if conf.PurchaseID == "" {
		return weberr.BadRequest(errors.New("confirmation carries no purchase id"))
	}

	p, err := Fetch(ctx, db, conf.PurchaseID)
	if err != nil {
		return fmt.Errorf("fetching purchase[%s]: %w", conf.PurchaseID, err)
	}

	if !conf.Settled {
		if err := MarkFailed(ctx, db, p.ID, time.Now().UTC()); err != nil {
			return fmt.Errorf("marking purchase[%s] failed: %w", p.ID, err)
		}
		return fmt.Errorf("purchase[%s]: %w", p.ID, ErrNotSettled)
	}

	// The redirect chooses which row to settle, so never trust it
	// blindly: the provider-verified total must match the ledger.
	if conf.Amount > 0 && math.Abs(conf.Amount-p.Amount) > 0.009 {
		return weberr.BadRequest(fmt.Errorf(
			"verified amount %.2f does not match purchase[%s] amount %.2f",
			conf.Amount, p.ID, p.Amount))
	}

	if err := MarkCompleted(ctx, db, p.ID, conf.TransactionID, time.Now().UTC()); err != nil {
		return fmt.Errorf("marking purchase[%s] completed: %w", p.ID, err)
	}

	if err := enrollment.Grant(ctx, db, p.UserID, p.CourseID); err != nil {
		return fmt.Errorf("purchase[%s] completed but enrollment failed: %w", p.ID, err)
	}

	return nil
}

// Package purchase owns the purchase ledger and the reconciliation
// flow around it: a pending row is written before the provider is
// contacted, and only a provider-verified confirmation moves it to a
// terminal state.
package purchase

import (
	"time"

	"github.com/sikshyalaya/api/core/payment"
)

type Status string

const (
	Pending   Status = "pending"
	Completed Status = "completed"
	Failed    Status = "failed"
)

// Purchase is one attempt to buy one course. CourseID and UserID are
// fixed at creation; status moves pending -> completed|failed exactly
// once, and completed is sticky.
type Purchase struct {
	ID            string         `json:"id" db:"purchase_id"`
	CourseID      string         `json:"courseId" db:"course_id"`
	UserID        string         `json:"userId" db:"user_id"`
	Amount        float64        `json:"amount" db:"amount"`
	Status        Status         `json:"status" db:"status"`
	PaymentMethod payment.Method `json:"paymentMethod" db:"payment_method"`

	// PaymentReference is the provider's in-flight id (Khalti pidx,
	// eSewa transaction_uuid, Stripe session id), set after initiation.
	PaymentReference string `json:"paymentReference" db:"payment_reference"`

	// TransactionID is the provider's settlement id, set on completion.
	TransactionID string `json:"transactionId" db:"transaction_id"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

type CheckoutNew struct {
	CourseID      string `json:"courseId" validate:"required,uuid"`
	PaymentMethod string `json:"paymentMethod" validate:"required,oneof=khalti esewa stripe"`
}

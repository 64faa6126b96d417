// Package payment holds the gateway adapters for the three supported
// providers. Each adapter translates one provider's request/response
// shapes and signature scheme into the common Gateway contract; nothing
// provider-specific leaks past this package.
package payment

import (
	"context"
	"errors"
	"fmt"
)

type Method string

const (
	MethodKhalti Method = "khalti"
	MethodEsewa  Method = "esewa"
	MethodStripe Method = "stripe"
)

func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MethodKhalti, MethodEsewa, MethodStripe:
		return Method(s), nil
	}
	return "", fmt.Errorf("invalid payment method %q", s)
}

type Customer struct {
	Name  string
	Email string
	Phone string
}

// Checkout describes a single-course purchase to initiate. Amount is in
// major currency units with two decimals; adapters that need minor
// units convert internally.
type Checkout struct {
	PurchaseID  string
	ProductName string
	Amount      float64
	Customer    Customer
}

// Initiation is what the caller needs to send the buyer to the
// provider. Params is set only by providers whose checkout is a browser
// form post (eSewa).
type Initiation struct {
	PaymentURL string
	Reference  string
	Params     map[string]string
}

// Callback carries one provider confirmation, opaque to everyone but
// the adapter that understands it. Exactly the fields for the chosen
// provider are set.
type Callback struct {
	// Khalti redirect: pidx plus the claimed purchase order id.
	Reference  string
	PurchaseID string

	// eSewa redirect: base64-encoded JSON blob.
	Data string

	// Stripe webhook: raw unparsed body and the signature header. The
	// body must reach Verify untouched or the signature check fails.
	Body      []byte
	Signature string
}

// Confirmation is the adapter's verdict on a callback. Amount is the
// provider-verified total in major units, zero when the provider does
// not report one.
type Confirmation struct {
	Settled       bool
	PurchaseID    string
	TransactionID string
	Amount        float64
}

// ErrEventIgnored marks a provider event that is authentic but not
// relevant to purchase settlement.
var ErrEventIgnored = errors.New("event ignored")

type Gateway interface {
	Initiate(ctx context.Context, co Checkout) (*Initiation, error)
	Verify(ctx context.Context, cb Callback) (Confirmation, error)
}

// Registry maps the ledger's payment method tag to its adapter.
type Registry map[Method]Gateway

func (r Registry) Get(m Method) (Gateway, error) {
	gw, ok := r[m]
	if !ok {
		return nil, fmt.Errorf("no gateway registered for method %q", m)
	}
	return gw, nil
}

package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/sikshyalaya/api/config"
)

// Khalti talks to the Khalti ePayment API. Initiation is a server-side
// call returning a hosted payment URL; verification is a lookup by the
// pidx the initiation handed out.
type Khalti struct {
	cfg    config.Khalti
	client *http.Client
}

func NewKhalti(cfg config.Khalti) *Khalti {
	return &Khalti{
		cfg: cfg,

		// Gateway calls are routinely slow; a tight timeout here only
		// converts slow successes into ambiguous failures.
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

type khaltiInitiateReq struct {
	ReturnURL  string         `json:"return_url"`
	WebsiteURL string         `json:"website_url"`
	Amount     int64          `json:"amount"`
	OrderID    string         `json:"purchase_order_id"`
	OrderName  string         `json:"purchase_order_name"`
	Customer   khaltiCustomer `json:"customer_info"`
}

type khaltiCustomer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type khaltiError struct {
	Detail  string `json:"detail"`
	Message string `json:"message"`
}

func (k *Khalti) Initiate(ctx context.Context, co Checkout) (*Initiation, error) {
	cust := khaltiCustomer{Name: co.Customer.Name, Email: co.Customer.Email, Phone: co.Customer.Phone}
	if cust.Name == "" {
		cust.Name = "Test User"
	}
	if cust.Email == "" {
		cust.Email = "test@example.com"
	}
	if cust.Phone == "" {
		cust.Phone = "9800000000"
	}

	req := khaltiInitiateReq{
		ReturnURL:  k.cfg.ReturnURL,
		WebsiteURL: k.cfg.WebsiteURL,
		Amount:     toPaisa(co.Amount),
		OrderID:    co.PurchaseID,
		OrderName:  co.ProductName,
		Customer:   cust,
	}

	var resp struct {
		PaymentURL string `json:"payment_url"`
		Pidx       string `json:"pidx"`
	}

	if err := k.post(ctx, "/epayment/initiate/", req, &resp); err != nil {
		return nil, fmt.Errorf("initiating khalti payment: %w", err)
	}

	return &Initiation{PaymentURL: resp.PaymentURL, Reference: resp.Pidx}, nil
}

// Verify looks the pidx up against Khalti. The purchase id is the one
// claimed by the redirect; Khalti's lookup does not echo it, so the
// caller cross-checks the verified amount against the ledger instead.
func (k *Khalti) Verify(ctx context.Context, cb Callback) (Confirmation, error) {
	req := struct {
		Pidx string `json:"pidx"`
	}{Pidx: cb.Reference}

	var resp struct {
		Status        string `json:"status"`
		TransactionID string `json:"transaction_id"`
		TotalAmount   int64  `json:"total_amount"`
	}

	if err := k.post(ctx, "/epayment/lookup/", req, &resp); err != nil {
		return Confirmation{}, fmt.Errorf("looking up khalti payment[%s]: %w", cb.Reference, err)
	}

	return Confirmation{
		Settled:       resp.Status == "Completed",
		PurchaseID:    cb.PurchaseID,
		TransactionID: resp.TransactionID,
		Amount:        fromPaisa(resp.TotalAmount),
	}, nil
}

func (k *Khalti) post(ctx context.Context, path string, body any, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	r, err := http.NewRequestWithContext(ctx, http.MethodPost, k.cfg.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	r.Header.Set("Authorization", "key "+k.cfg.Secret)
	r.Header.Set("Content-Type", "application/json")

	w, err := k.client.Do(r)
	if err != nil {
		return fmt.Errorf("calling provider: %w", err)
	}
	defer w.Body.Close()

	if w.StatusCode < 200 || w.StatusCode > 299 {
		var ke khaltiError
		_ = json.NewDecoder(w.Body).Decode(&ke)
		msg := ke.Detail
		if msg == "" {
			msg = ke.Message
		}
		if msg == "" {
			msg = w.Status
		}
		return fmt.Errorf("provider returned %d: %s", w.StatusCode, msg)
	}

	if err := json.NewDecoder(w.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding provider response: %w", err)
	}

	return nil
}

// toPaisa converts a major-unit amount to paisa, rounding to the
// nearest integer to avoid float drift.
func toPaisa(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

func fromPaisa(paisa int64) float64 {
	return float64(paisa) / 100
}

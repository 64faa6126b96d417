package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/sikshyalaya/api/config"
)

// Esewa implements the eSewa ePay v2 form-post flow. Initiation is
// purely local: the browser posts a signed form straight to eSewa, so
// no network call happens here. Verification decodes the base64 JSON
// blob eSewa appends to its redirect.
type Esewa struct {
	cfg config.Esewa
}

func NewEsewa(cfg config.Esewa) *Esewa {
	return &Esewa{cfg: cfg}
}

func (e *Esewa) Initiate(ctx context.Context, co Checkout) (*Initiation, error) {
	total := formatAmount(co.Amount)

	params := map[string]string{
		"amount":                  total,
		"tax_amount":              "0",
		"product_service_charge":  "0",
		"product_delivery_charge": "0",
		"total_amount":            total,
		"transaction_uuid":        co.PurchaseID,
		"product_code":            e.cfg.ProductCode,
		"signed_field_names":      "total_amount,transaction_uuid,product_code",
		"signature":               e.sign(total, co.PurchaseID),
		"success_url":             e.cfg.SuccessURL,
		"failure_url":             e.cfg.FailureURL,
	}

	return &Initiation{
		PaymentURL: e.cfg.FormURL,
		Reference:  co.PurchaseID,
		Params:     params,
	}, nil
}

// sign computes the HMAC-SHA256 signature eSewa expects, over the
// literal comma-separated field string named by signed_field_names.
func (e *Esewa) sign(totalAmount, transactionUUID string) string {
	msg := fmt.Sprintf("total_amount=%s,transaction_uuid=%s,product_code=%s",
		totalAmount, transactionUUID, e.cfg.ProductCode)

	mac := hmac.New(sha256.New, []byte(e.cfg.Secret))
	mac.Write([]byte(msg))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

type esewaCallback struct {
	TransactionCode string `json:"transaction_code"`
	Status          string `json:"status"`
	TotalAmount     any    `json:"total_amount"`
	TransactionUUID string `json:"transaction_uuid"`
}

func (e *Esewa) Verify(ctx context.Context, cb Callback) (Confirmation, error) {
	raw, err := decodeBase64(cb.Data)
	if err != nil {
		return Confirmation{}, fmt.Errorf("decoding esewa callback data: %w", err)
	}

	var data esewaCallback
	if err := json.Unmarshal(raw, &data); err != nil {
		return Confirmation{}, fmt.Errorf("parsing esewa callback data: %w", err)
	}

	return Confirmation{
		Settled:       data.Status == "COMPLETE",
		PurchaseID:    data.TransactionUUID,
		TransactionID: data.TransactionCode,
		Amount:        parseEsewaAmount(data.TotalAmount),
	}, nil
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)

	// eSewa is not consistent about padding or URL-safety.
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, fmt.Errorf("data is not valid base64")
}

// parseEsewaAmount tolerates both numeric and thousand-separated string
// totals ("1,000.0"). Zero means the provider total is unusable and the
// caller skips the amount cross-check.
func parseEsewaAmount(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, err := strconv.ParseFloat(strings.ReplaceAll(t, ",", ""), 64)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}

// formatAmount renders a major-unit amount the way eSewa signs it:
// no trailing zeros, no exponent.
func formatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', -1, 64)
}

package test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/sikshyalaya/api/core/purchase"
	"github.com/stripe/stripe-go/v74/webhook"
)

type checkoutResponse struct {
	PurchaseID    string            `json:"purchaseId"`
	PaymentMethod string            `json:"paymentMethod"`
	PaymentURL    string            `json:"paymentUrl"`
	PaymentParams map[string]string `json:"paymentParams"`
}

type verifyResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (e *TestEnv) request(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()

	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling request body: %v", err)
		}
		buf = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, e.URL+path, buf)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading response body: %v", err)
	}

	return resp, raw
}

func (e *TestEnv) checkout(t *testing.T, method string) checkoutResponse {
	t.Helper()

	resp, raw := e.request(t, http.MethodPost, "/purchases", e.Token(t, e.Student), map[string]string{
		"courseId":      e.Course.ID,
		"paymentMethod": method,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("checkout status = %d, body %s", resp.StatusCode, raw)
	}

	var out checkoutResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decoding checkout response: %v", err)
	}
	return out
}

func (e *TestEnv) enrollmentCount(t *testing.T) int {
	t.Helper()

	var n int
	const q = `SELECT COUNT(*) FROM enrollments WHERE user_id = $1 AND course_id = $2`
	if err := e.DB.Get(&n, q, e.Student.ID, e.Course.ID); err != nil {
		t.Fatalf("counting enrollments: %v", err)
	}
	return n
}

func (e *TestEnv) purchaseCount(t *testing.T) int {
	t.Helper()

	var n int
	const q = `SELECT COUNT(*) FROM purchases WHERE user_id = $1`
	if err := e.DB.Get(&n, q, e.Student.ID); err != nil {
		t.Fatalf("counting purchases: %v", err)
	}
	return n
}

func (e *TestEnv) fetchPurchase(t *testing.T, id string) purchase.Purchase {
	t.Helper()

	p, err := purchase.Fetch(context.Background(), e.DB, id)
	if err != nil {
		t.Fatalf("fetching purchase[%s]: %v", id, err)
	}
	return p
}

func TestKhaltiPurchaseFlow(t *testing.T) {
	env, err := NewTestEnv(t, "khalti_flow")
	if err != nil {
		t.Fatal(err)
	}

	co := env.checkout(t, "khalti")
	if co.PaymentURL == "" {
		t.Fatal("expected a khalti payment url")
	}

	// Price 1000 with 10% off: 900.00 on the ledger, 90000 paisa on
	// the wire.
	p := env.fetchPurchase(t, co.PurchaseID)
	if p.Status != purchase.Pending {
		t.Fatalf("status = %q after checkout, want pending", p.Status)
	}
	if p.Amount != 900 {
		t.Fatalf("amount = %v, want 900", p.Amount)
	}
	if env.Khalti.LastAmount != 90000 {
		t.Fatalf("initiated amount = %d paisa, want 90000", env.Khalti.LastAmount)
	}
	if env.Khalti.LastOrderID != co.PurchaseID {
		t.Fatalf("purchase_order_id = %q, want %q", env.Khalti.LastOrderID, co.PurchaseID)
	}
	if p.PaymentReference != env.Khalti.LastPidx {
		t.Fatalf("stored reference = %q, want the pidx %q", p.PaymentReference, env.Khalti.LastPidx)
	}

	if n := env.enrollmentCount(t); n != 0 {
		t.Fatalf("enrollments before settlement = %d, want 0", n)
	}

	verify := map[string]string{
		"pidx":            env.Khalti.LastPidx,
		"purchaseOrderId": co.PurchaseID,
	}

	resp, raw := env.request(t, http.MethodPost, "/purchases/khalti/verify", env.Token(t, env.Student), verify)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify status = %d, body %s", resp.StatusCode, raw)
	}

	var vr verifyResponse
	if err := json.Unmarshal(raw, &vr); err != nil {
		t.Fatal(err)
	}
	if !vr.Success {
		t.Fatalf("verify success = false, message %q", vr.Message)
	}

	p = env.fetchPurchase(t, co.PurchaseID)
	if p.Status != purchase.Completed {
		t.Fatalf("status = %q after verification, want completed", p.Status)
	}
	if p.TransactionID != "txn-"+env.Khalti.LastPidx {
		t.Fatalf("transaction id = %q", p.TransactionID)
	}
	if n := env.enrollmentCount(t); n != 1 {
		t.Fatalf("enrollments = %d, want 1", n)
	}

	// A replayed callback must neither fail nor double-enroll.
	resp, raw = env.request(t, http.MethodPost, "/purchases/khalti/verify", env.Token(t, env.Student), verify)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("replayed verify status = %d, body %s", resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, &vr); err != nil {
		t.Fatal(err)
	}
	if !vr.Success {
		t.Fatalf("replayed verify success = false, message %q", vr.Message)
	}
	if n := env.enrollmentCount(t); n != 1 {
		t.Fatalf("enrollments after replay = %d, want 1", n)
	}

	// Enrollment shows up on the buyer's course list.
	resp, raw = env.request(t, http.MethodGet, "/users/current/courses", env.Token(t, env.Student), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("listing enrolled courses status = %d, body %s", resp.StatusCode, raw)
	}

	var enrolled []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &enrolled); err != nil {
		t.Fatal(err)
	}
	if len(enrolled) != 1 || enrolled[0].ID != env.Course.ID {
		t.Fatalf("enrolled courses = %+v, want just course %s", enrolled, env.Course.ID)
	}
}

func TestKhaltiVerifyNotSettled(t *testing.T) {
	env, err := NewTestEnv(t, "khalti_not_settled")
	if err != nil {
		t.Fatal(err)
	}

	co := env.checkout(t, "khalti")

	env.Khalti.LookupStatus = "Pending"

	verify := map[string]string{
		"pidx":            env.Khalti.LastPidx,
		"purchaseOrderId": co.PurchaseID,
	}

	resp, raw := env.request(t, http.MethodPost, "/purchases/khalti/verify", env.Token(t, env.Student), verify)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify status = %d, body %s", resp.StatusCode, raw)
	}

	var vr verifyResponse
	if err := json.Unmarshal(raw, &vr); err != nil {
		t.Fatal(err)
	}
	if vr.Success {
		t.Fatal("an unsettled lookup must not report success")
	}

	p := env.fetchPurchase(t, co.PurchaseID)
	if p.Status != purchase.Failed {
		t.Fatalf("status = %q, want failed", p.Status)
	}
	if n := env.enrollmentCount(t); n != 0 {
		t.Fatalf("enrollments = %d, want 0", n)
	}

	// Failed is terminal: a later Completed lookup cannot resurrect
	// the purchase.
	env.Khalti.LookupStatus = "Completed"

	resp, _ = env.request(t, http.MethodPost, "/purchases/khalti/verify", env.Token(t, env.Student), verify)
	if resp.StatusCode == http.StatusOK {
		t.Fatalf("verify of a failed purchase status = %d, want an error", resp.StatusCode)
	}

	p = env.fetchPurchase(t, co.PurchaseID)
	if p.Status != purchase.Failed {
		t.Fatalf("status = %q after late confirmation, want failed", p.Status)
	}
	if n := env.enrollmentCount(t); n != 0 {
		t.Fatalf("enrollments = %d, want 0", n)
	}
}

func TestKhaltiAmountMismatch(t *testing.T) {
	env, err := NewTestEnv(t, "khalti_amount_mismatch")
	if err != nil {
		t.Fatal(err)
	}

	co := env.checkout(t, "khalti")

	// The lookup now reports a settled total that disagrees with the
	// ledger row the callback points at.
	env.Khalti.LastAmount = 50000

	verify := map[string]string{
		"pidx":            env.Khalti.LastPidx,
		"purchaseOrderId": co.PurchaseID,
	}

	resp, raw := env.request(t, http.MethodPost, "/purchases/khalti/verify", env.Token(t, env.Student), verify)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("verify status = %d, want 400, body %s", resp.StatusCode, raw)
	}

	p := env.fetchPurchase(t, co.PurchaseID)
	if p.Status != purchase.Pending {
		t.Fatalf("status = %q after mismatch, want pending (ledger untouched)", p.Status)
	}
	if n := env.enrollmentCount(t); n != 0 {
		t.Fatalf("enrollments = %d, want 0", n)
	}
}

func TestCheckoutRollsBackOnInitiationFailure(t *testing.T) {
	env, err := NewTestEnv(t, "checkout_rollback")
	if err != nil {
		t.Fatal(err)
	}

	env.Khalti.FailInitiate = true

	resp, raw := env.request(t, http.MethodPost, "/purchases", env.Token(t, env.Student), map[string]string{
		"courseId":      env.Course.ID,
		"paymentMethod": "khalti",
	})
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("checkout status = %d, want 502, body %s", resp.StatusCode, raw)
	}

	if n := env.purchaseCount(t); n != 0 {
		t.Fatalf("purchases left behind = %d, want 0", n)
	}
}

func TestEsewaPurchaseFlow(t *testing.T) {
	env, err := NewTestEnv(t, "esewa_flow")
	if err != nil {
		t.Fatal(err)
	}

	co := env.checkout(t, "esewa")
	if co.PaymentParams["signature"] == "" {
		t.Fatal("expected signed form parameters")
	}
	if co.PaymentParams["transaction_uuid"] != co.PurchaseID {
		t.Fatalf("transaction_uuid = %q, want the purchase id", co.PaymentParams["transaction_uuid"])
	}

	blob, err := json.Marshal(map[string]any{
		"transaction_code": "000AWEO",
		"status":           "COMPLETE",
		"total_amount":     "900.0",
		"transaction_uuid": co.PurchaseID,
		"product_code":     "EPAYTEST",
	})
	if err != nil {
		t.Fatal(err)
	}
	data := base64.StdEncoding.EncodeToString(blob)

	path := "/purchases/esewa/verify?data=" + url.QueryEscape(data)

	resp, raw := env.request(t, http.MethodGet, path, env.Token(t, env.Student), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify status = %d, body %s", resp.StatusCode, raw)
	}

	var vr verifyResponse
	if err := json.Unmarshal(raw, &vr); err != nil {
		t.Fatal(err)
	}
	if !vr.Success {
		t.Fatalf("verify success = false, message %q", vr.Message)
	}

	p := env.fetchPurchase(t, co.PurchaseID)
	if p.Status != purchase.Completed {
		t.Fatalf("status = %q, want completed", p.Status)
	}
	if p.TransactionID != "000AWEO" {
		t.Fatalf("transaction id = %q", p.TransactionID)
	}
	if n := env.enrollmentCount(t); n != 1 {
		t.Fatalf("enrollments = %d, want 1", n)
	}

	// Redelivery of the same success blob stays idempotent.
	resp, _ = env.request(t, http.MethodGet, path, env.Token(t, env.Student), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("replayed verify status = %d", resp.StatusCode)
	}
	if n := env.enrollmentCount(t); n != 1 {
		t.Fatalf("enrollments after replay = %d, want 1", n)
	}
}

func TestStripeWebhookFlow(t *testing.T) {
	env, err := NewTestEnv(t, "stripe_flow")
	if err != nil {
		t.Fatal(err)
	}

	co := env.checkout(t, "stripe")
	if co.PaymentURL == "" {
		t.Fatal("expected a hosted checkout url")
	}
	if env.Stripe.Metadata["purchaseId"] != co.PurchaseID {
		t.Fatalf("session metadata purchaseId = %q, want %q", env.Stripe.Metadata["purchaseId"], co.PurchaseID)
	}
	if env.Stripe.UnitAmount != "90000" {
		t.Fatalf("unit_amount = %q cents, want 90000", env.Stripe.UnitAmount)
	}

	body, sig := env.signedStripeEvent(t, "payment_intent.succeeded", map[string]any{
		"id":              "pi_test_flow",
		"object":          "payment_intent",
		"amount":          90000,
		"amount_received": 90000,
	})

	deliver := func() (*http.Response, []byte) {
		req, err := http.NewRequest(http.MethodPost, env.URL+"/webhooks/stripe", bytes.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Stripe-Signature", sig)

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatal(err)
		}
		return resp, raw
	}

	// Stripe retries webhooks; two deliveries must land as one
	// settlement.
	for i := 0; i < 2; i++ {
		resp, raw := deliver()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("delivery %d status = %d, body %s", i+1, resp.StatusCode, raw)
		}
	}

	p := env.fetchPurchase(t, co.PurchaseID)
	if p.Status != purchase.Completed {
		t.Fatalf("status = %q, want completed", p.Status)
	}
	if p.TransactionID != "pi_test_flow" {
		t.Fatalf("transaction id = %q, want the payment intent id", p.TransactionID)
	}
	if n := env.enrollmentCount(t); n != 1 {
		t.Fatalf("enrollments = %d, want 1", n)
	}
}

func TestStripeWebhookRejectsUnsigned(t *testing.T) {
	env, err := NewTestEnv(t, "stripe_unsigned")
	if err != nil {
		t.Fatal(err)
	}

	resp, raw := env.request(t, http.MethodPost, "/webhooks/stripe", "", map[string]string{"type": "payment_intent.succeeded"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unsigned webhook status = %d, want 400, body %s", resp.StatusCode, raw)
	}
}

func TestStripeWebhookIgnoresUnrelatedEvents(t *testing.T) {
	env, err := NewTestEnv(t, "stripe_ignored")
	if err != nil {
		t.Fatal(err)
	}

	body, sig := env.signedStripeEvent(t, "charge.refunded", map[string]any{
		"id":     "ch_test_1",
		"object": "charge",
	})

	req, err := http.NewRequest(http.MethodPost, env.URL+"/webhooks/stripe", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Stripe-Signature", sig)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unrelated event status = %d, want 200", resp.StatusCode)
	}
}

func (e *TestEnv) signedStripeEvent(t *testing.T, eventType string, object map[string]any) ([]byte, string) {
	t.Helper()

	evt := map[string]any{
		"id":          "evt_" + fmt.Sprint(time.Now().UnixNano()),
		"object":      "event",
		"api_version": "2022-11-15",
		"type":        eventType,
		"data":        map[string]any{"object": object},
	}

	body, err := json.Marshal(evt)
	if err != nil {
		t.Fatal(err)
	}

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   body,
		Secret:    webhookSecret,
		Timestamp: time.Now(),
	})

	return body, signed.Header
}

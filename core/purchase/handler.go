package purchase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/jmoiron/sqlx"
	"github.com/sikshyalaya/api/api/web"
	"github.com/sikshyalaya/api/api/weberr"
	"github.com/sikshyalaya/api/core/claims"
	"github.com/sikshyalaya/api/core/payment"
	"github.com/sikshyalaya/api/validate"
)

type verifyResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// HandleCheckout starts a purchase: it writes the pending ledger row,
// initiates payment with the chosen provider and returns the redirect
// URL (plus form fields for eSewa).
func HandleCheckout(db *sqlx.DB, gws payment.Registry) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		var cn CheckoutNew
		if err := web.Decode(w, r, &cn); err != nil {
			return weberr.BadRequest(fmt.Errorf("decoding checkout: %w", err))
		}

		if err := validate.Check(cn); err != nil {
			return weberr.Validation(err)
		}

		res, err := Checkout(ctx, db, gws, clm.UserID, cn)
		if err != nil {
			return fmt.Errorf("checking out course[%s] for user[%s]: %w", cn.CourseID, clm.UserID, err)
		}

		return web.Respond(ctx, w, res, http.StatusOK)
	}
}

// HandleKhaltiVerify is the redirect callback for Khalti. The pidx is
// looked up against the provider; the purchase order id only selects
// the ledger row and is cross-checked by amount inside Settle.
func HandleKhaltiVerify(db *sqlx.DB, gws payment.Registry) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var in struct {
			Pidx            string `json:"pidx" validate:"required"`
			PurchaseOrderID string `json:"purchaseOrderId" validate:"required,uuid"`
		}
		if err := web.Decode(w, r, &in); err != nil {
			return weberr.BadRequest(fmt.Errorf("decoding khalti callback: %w", err))
		}

		if err := validate.Check(in); err != nil {
			return weberr.Validation(err)
		}

		gw, err := gws.Get(payment.MethodKhalti)
		if err != nil {
			return err
		}

		conf, err := gw.Verify(ctx, payment.Callback{
			Reference:  in.Pidx,
			PurchaseID: in.PurchaseOrderID,
		})
		if err != nil {
			return weberr.NewError(err, "payment verification failed", http.StatusBadGateway)
		}

		return respondSettle(ctx, w, db, conf)
	}
}

// HandleEsewaVerify is the redirect callback for eSewa: a base64 JSON
// blob in the data query parameter.
func HandleEsewaVerify(db *sqlx.DB, gws payment.Registry) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		data := web.Query(r, "data")
		if data == "" {
			return weberr.BadRequest(errors.New("missing data query parameter"))
		}

		gw, err := gws.Get(payment.MethodEsewa)
		if err != nil {
			return err
		}

		conf, err := gw.Verify(ctx, payment.Callback{Data: data})
		if err != nil {
			return weberr.BadRequest(fmt.Errorf("verifying esewa callback: %w", err))
		}

		return respondSettle(ctx, w, db, conf)
	}
}

func respondSettle(ctx context.Context, w http.ResponseWriter, db *sqlx.DB, conf payment.Confirmation) error {
	if err := Settle(ctx, db, conf); err != nil {
		if errors.Is(err, ErrNotSettled) {
			return web.Respond(ctx, w, verifyResponse{
				Success: false,
				Message: "payment not completed",
			}, http.StatusOK)
		}
		return err
	}

	return web.Respond(ctx, w, verifyResponse{
		Success: true,
		Message: "payment verified and course enrolled",
	}, http.StatusOK)
}

// HandleStripeWebhook receives Stripe's asynchronous confirmation. The
// raw body goes to the adapter untouched; any reconciliation failure
// returns a non-2xx so Stripe redelivers the event.
func HandleStripeWebhook(db *sqlx.DB, gws payment.Registry) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return weberr.BadRequest(fmt.Errorf("reading webhook body: %w", err))
		}

		sig := r.Header.Get("Stripe-Signature")
		if sig == "" {
			return weberr.BadRequest(errors.New("received stripe event is not signed"))
		}

		gw, err := gws.Get(payment.MethodStripe)
		if err != nil {
			return err
		}

		conf, err := gw.Verify(ctx, payment.Callback{Body: body, Signature: sig})
		if err != nil {
			if errors.Is(err, payment.ErrEventIgnored) {
				return web.Respond(ctx, w, map[string]bool{"received": true}, http.StatusOK)
			}
			return weberr.BadRequest(fmt.Errorf("verifying stripe event: %w", err))
		}

		if err := Settle(ctx, db, conf); err != nil && !errors.Is(err, ErrNotSettled) {
			return fmt.Errorf("settling stripe confirmation: %w", err)
		}

		return web.Respond(ctx, w, map[string]bool{"received": true}, http.StatusOK)
	}
}

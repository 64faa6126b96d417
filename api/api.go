package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/sikshyalaya/api/api/middleware"
	"github.com/sikshyalaya/api/api/web"
	"github.com/sikshyalaya/api/core/auth"
	"github.com/sikshyalaya/api/core/course"
	"github.com/sikshyalaya/api/core/lecture"
	"github.com/sikshyalaya/api/core/payment"
	"github.com/sikshyalaya/api/core/progress"
	"github.com/sikshyalaya/api/core/purchase"
	"github.com/sikshyalaya/api/core/user"
	"github.com/sikshyalaya/api/rate"
	"github.com/sirupsen/logrus"
)

type APIConfig struct {
	CorsOrigin  string
	Log         logrus.FieldLogger
	DB          *sqlx.DB
	JWTSecret   string
	Gateways    payment.Registry
	VerifyLimit *rate.Limiter
}

type api struct {
	*mux.Router
	mw  []web.Middleware
	log logrus.FieldLogger
}

func APIMux(cfg APIConfig) http.Handler {
	a := &api{
		Router: mux.NewRouter(),
		log:    cfg.Log,
	}

	a.mw = append(a.mw, middleware.RequestID())
	a.mw = append(a.mw, middleware.Logger(cfg.Log))
	a.mw = append(a.mw, middleware.Errors(cfg.Log))
	a.mw = append(a.mw, middleware.Panics())

	if cfg.CorsOrigin != "" {
		a.mw = append(a.mw, middleware.Cors(cfg.CorsOrigin))

		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			w.WriteHeader(http.StatusNoContent)
			return nil
		}

		a.Handle(http.MethodOptions, "/{path:.*}", h)
	}

	authen := auth.Authenticate(cfg.JWTSecret)
	maybe := auth.Optional(cfg.JWTSecret)

	var limited web.Middleware
	if cfg.VerifyLimit != nil {
		limited = middleware.RateLimit(cfg.VerifyLimit)
	}

	a.Handle(http.MethodGet, "/users/current", user.HandleShowCurrent(cfg.DB), authen)
	a.Handle(http.MethodGet, "/users/current/courses", user.HandleListEnrolled(cfg.DB), authen)

	a.Handle(http.MethodGet, "/courses/{course_id}/lectures", lecture.HandleListByCourse(cfg.DB), maybe)
	a.Handle(http.MethodGet, "/courses/{course_id}/progress", progress.HandleShow(cfg.DB), authen)
	a.Handle(http.MethodPut, "/courses/{course_id}/progress", progress.HandleCompleteLecture(cfg.DB), authen)
	a.Handle(http.MethodPost, "/courses/{id}/ratings", course.HandleCreateRating(cfg.DB), authen)
	a.Handle(http.MethodGet, "/courses/{id}", course.HandleShow(cfg.DB))
	a.Handle(http.MethodGet, "/courses", course.HandleList(cfg.DB))

	a.Handle(http.MethodPost, "/purchases", purchase.HandleCheckout(cfg.DB, cfg.Gateways), authen)
	a.Handle(http.MethodPost, "/purchases/khalti/verify", purchase.HandleKhaltiVerify(cfg.DB, cfg.Gateways), authen, limited)
	a.Handle(http.MethodGet, "/purchases/esewa/verify", purchase.HandleEsewaVerify(cfg.DB, cfg.Gateways), authen, limited)

	// Stripe authenticates by webhook signature, not by bearer token.
	a.Handle(http.MethodPost, "/webhooks/stripe", purchase.HandleStripeWebhook(cfg.DB, cfg.Gateways), limited)

	return a.Router
}

func (a *api) Handle(method string, path string, handler web.Handler, mw ...web.Middleware) {

	handler = web.WrapMiddleware(mw, handler)

	handler = web.WrapMiddleware(a.mw, handler)

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		ctx := r.Context()

		if err := handler(ctx, w, r); err != nil {

			a.log.WithFields(logrus.Fields{
				"req_id":  middleware.ContextRequestID(ctx),
				"message": err,
			}).Error("ERROR")
		}
	})

	a.Router.Handle(path, h).Methods(method)
}

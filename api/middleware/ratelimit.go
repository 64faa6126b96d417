package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/sikshyalaya/api/api/web"
	"github.com/sikshyalaya/api/api/weberr"
	"github.com/sikshyalaya/api/rate"
)

// RateLimit throttles callers by remote address. It guards the payment
// verification callbacks, which providers and impatient users are both
// happy to hammer.
func RateLimit(lim *rate.Limiter) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}

			if !lim.Check(host) {
				err := errors.New("rate limit exceeded")
				return weberr.NewError(err, err.Error(), http.StatusTooManyRequests)
			}

			return handler(ctx, w, r)
		}
		return h
	}
	return m
}

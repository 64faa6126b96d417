// Package auth verifies the bearer tokens issued by the identity
// service and resolves the current user into the request context.
// Token issuance (signup/login) lives outside this API.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/sikshyalaya/api/api/web"
	"github.com/sikshyalaya/api/api/weberr"
	"github.com/sikshyalaya/api/core/claims"
)

type tokenClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticate parses the Authorization bearer token and sets the
// caller's claims into the context. Requests without a valid token are
// rejected.
func Authenticate(secret string) web.Middleware {
	key := []byte(secret)

	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			header := r.Header.Get("Authorization")
			if header == "" {
				return weberr.NotAuthorized(errors.New("missing authorization header"))
			}

			raw := strings.TrimPrefix(header, "Bearer ")
			if raw == header {
				return weberr.NotAuthorized(errors.New("authorization header is not a bearer token"))
			}

			var tc tokenClaims
			_, err := jwt.ParseWithClaims(raw, &tc, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
				}
				return key, nil
			})
			if err != nil {
				return weberr.NotAuthorized(fmt.Errorf("parsing token: %w", err))
			}

			if tc.Subject == "" {
				return weberr.NotAuthorized(errors.New("token carries no subject"))
			}

			role := tc.Role
			if role == "" {
				role = claims.RoleStudent
			}

			ctx = claims.Set(ctx, claims.Claims{UserID: tc.Subject, Role: role})
			return handler(ctx, w, r)
		}
		return h
	}
	return m
}

// Optional resolves claims when a bearer token is present but lets
// anonymous requests through. Used on routes that only enrich their
// response for known users.
func Optional(secret string) web.Middleware {
	authen := Authenticate(secret)

	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			if r.Header.Get("Authorization") == "" {
				return handler(ctx, w, r)
			}
			return authen(handler)(ctx, w, r)
		}
		return h
	}
	return m
}

// Educator allows only callers carrying the educator role.
func Educator() web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			if !claims.IsEducator(ctx) {
				return weberr.NotAuthorized(errors.New("caller is not an educator"))
			}
			return handler(ctx, w, r)
		}
		return h
	}
	return m
}

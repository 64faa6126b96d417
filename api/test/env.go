package test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/jmoiron/sqlx"
	"github.com/ory/dockertest/v3"
	"github.com/sikshyalaya/api/api"
	"github.com/sikshyalaya/api/config"
	"github.com/sikshyalaya/api/core/course"
	"github.com/sikshyalaya/api/core/payment"
	"github.com/sikshyalaya/api/core/user"
	"github.com/sikshyalaya/api/database"
	"github.com/sikshyalaya/api/random"
	"github.com/sikshyalaya/api/validate"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v74"
	stripecl "github.com/stripe/stripe-go/v74/client"
	mock "github.com/stripe/stripe-mock/param"
)

const (
	jwtSecret     = "test-jwt-secret"
	webhookSecret = "whsec_test_secret"
	esewaSecret   = "8gBm/:&EnhH.1/q"
)

// TestEnv runs the full API against a throwaway dockertest Postgres and
// fake provider backends.
type TestEnv struct {
	DB     *sqlx.DB
	URL    string
	Server *httptest.Server

	Khalti *mockKhalti
	Stripe *mockStripe

	Student  user.User
	Educator user.User
	Course   course.Course
}

func NewTestEnv(t *testing.T, name string) (*TestEnv, error) {
	t.Helper()

	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("skipping %s: dockertest pool: %v", name, err)
	}
	if err := pool.Client.Ping(); err != nil {
		t.Skipf("skipping %s: docker not available: %v", name, err)
	}

	resource, err := pool.Run("postgres", "15-alpine", []string{
		"POSTGRES_USER=postgres",
		"POSTGRES_PASSWORD=postgres",
		"POSTGRES_DB=sikshya",
	})
	if err != nil {
		return nil, fmt.Errorf("starting postgres container: %w", err)
	}
	resource.Expire(300)
	t.Cleanup(func() { pool.Purge(resource) })

	var cfg config.Config
	cfg.DB.User = "postgres"
	cfg.DB.Password = "postgres"
	cfg.DB.Name = "sikshya"
	cfg.DB.Host = resource.GetHostPort("5432/tcp")
	cfg.DB.DisableTLS = true

	var db *sqlx.DB
	if err := pool.Retry(func() error {
		var err error
		db, err = database.Open(cfg)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return database.StatusCheck(ctx, db)
	}); err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	env := &TestEnv{DB: db}

	if err := env.seed(); err != nil {
		return nil, fmt.Errorf("seeding fixtures: %w", err)
	}

	env.Khalti = newMockKhalti()
	t.Cleanup(env.Khalti.srv.Close)

	env.Stripe = newMockStripe()
	t.Cleanup(env.Stripe.srv.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL: stripe.String(env.Stripe.srv.URL),
	})
	strp := &stripecl.API{}
	strp.Init("sk_test_key", &stripe.Backends{API: backend, Connect: backend, Uploads: backend})

	gateways := payment.Registry{
		payment.MethodKhalti: payment.NewKhalti(config.Khalti{
			Secret:     "test-khalti-secret",
			BaseURL:    env.Khalti.srv.URL,
			ReturnURL:  "https://shop.test/payment/success",
			WebsiteURL: "https://shop.test",
		}),
		payment.MethodEsewa: payment.NewEsewa(config.Esewa{
			Secret:      esewaSecret,
			ProductCode: "EPAYTEST",
			FormURL:     "https://rc-epay.esewa.com.np/api/epay/main/v2/form",
			SuccessURL:  "https://shop.test/payment/success",
			FailureURL:  "https://shop.test/payment/failure",
		}),
		payment.MethodStripe: payment.NewStripe(config.Stripe{
			APISecret:     "sk_test_key",
			WebhookSecret: webhookSecret,
			Currency:      "usd",
			SuccessURL:    "https://shop.test/payment/success",
			CancelURL:     "https://shop.test/payment/failure",
		}, strp),
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	mux := api.APIMux(api.APIConfig{
		Log:       log,
		DB:        db,
		JWTSecret: jwtSecret,
		Gateways:  gateways,
	})

	env.Server = httptest.NewServer(mux)
	env.URL = env.Server.URL
	t.Cleanup(env.Server.Close)

	return env, nil
}

func (e *TestEnv) seed() error {
	ctx := context.Background()
	now := time.Now().UTC()

	e.Educator = user.User{
		ID:        validate.GenerateID(),
		Name:      "Gita Koirala",
		Email:     random.String(12) + "@test.com",
		Phone:     "9841000000",
		Role:      "educator",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := user.Create(ctx, e.DB, e.Educator); err != nil {
		return err
	}

	e.Student = user.User{
		ID:        validate.GenerateID(),
		Name:      "Sita Sharma",
		Email:     random.String(12) + "@test.com",
		Phone:     "9811111111",
		Role:      "student",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := user.Create(ctx, e.DB, e.Student); err != nil {
		return err
	}

	e.Course = course.Course{
		ID:          validate.GenerateID(),
		EducatorID:  e.Educator.ID,
		Title:       "Intro to Go",
		Description: "Build backends in Go",
		Price:       1000,
		Discount:    10,
		Published:   true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return course.Create(ctx, e.DB, e.Course)
}

// Token mints a bearer token the way the upstream identity service
// would.
func (e *TestEnv) Token(t *testing.T, u user.User) string {
	t.Helper()

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  u.ID,
		"role": u.Role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	signed, err := tok.SignedString([]byte(jwtSecret))
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return signed
}

// mockKhalti fakes the ePayment initiate and lookup endpoints.
type mockKhalti struct {
	mu sync.Mutex

	srv *httptest.Server

	FailInitiate bool
	LookupStatus string

	LastAmount  int64
	LastOrderID string
	LastPidx    string
}

func newMockKhalti() *mockKhalti {
	m := &mockKhalti{LookupStatus: "Completed"}

	mux := http.NewServeMux()

	mux.HandleFunc("/epayment/initiate/", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()

		if m.FailInitiate {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"detail": "initiation refused"})
			return
		}

		var req struct {
			Amount  int64  `json:"amount"`
			OrderID string `json:"purchase_order_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		m.LastAmount = req.Amount
		m.LastOrderID = req.OrderID
		m.LastPidx = "pidx-" + random.String(8)

		json.NewEncoder(w).Encode(map[string]string{
			"pidx":        m.LastPidx,
			"payment_url": "https://test-pay.khalti.com/?pidx=" + m.LastPidx,
		})
	})

	mux.HandleFunc("/epayment/lookup/", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()

		var req struct {
			Pidx string `json:"pidx"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Pidx != m.LastPidx {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"detail": "unknown pidx"})
			return
		}

		json.NewEncoder(w).Encode(map[string]any{
			"status":         m.LookupStatus,
			"transaction_id": "txn-" + req.Pidx,
			"total_amount":   m.LastAmount,
		})
	})

	m.srv = httptest.NewServer(mux)
	return m
}

// mockStripe fakes checkout-session creation and listing.
type mockStripe struct {
	mu sync.Mutex

	srv *httptest.Server

	SessionID  string
	Metadata   map[string]string
	UnitAmount string
}

func newMockStripe() *mockStripe {
	m := &mockStripe{}

	mux := http.NewServeMux()

	mux.HandleFunc("/v1/checkout/sessions", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()

		switch r.Method {
		case http.MethodPost:
			params, err := mock.ParseParams(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}

			m.Metadata = map[string]string{}
			if md, ok := params["metadata"].(map[string]any); ok {
				for k, v := range md {
					m.Metadata[k] = fmt.Sprint(v)
				}
			}

			if lines, ok := params["line_items"].(map[string]any); ok {
				for _, li := range lines {
					it := li.(map[string]any)
					pd := it["price_data"].(map[string]any)
					m.UnitAmount = fmt.Sprint(pd["unit_amount"])
				}
			}

			m.SessionID = "cs_test_" + random.String(6)
			json.NewEncoder(w).Encode(map[string]any{
				"id":       m.SessionID,
				"object":   "checkout.session",
				"url":      "https://checkout.stripe.com/c/pay/" + m.SessionID,
				"metadata": m.Metadata,
			})

		case http.MethodGet:
			json.NewEncoder(w).Encode(map[string]any{
				"object":   "list",
				"has_more": false,
				"url":      "/v1/checkout/sessions",
				"data": []map[string]any{{
					"id":       m.SessionID,
					"object":   "checkout.session",
					"metadata": m.Metadata,
				}},
			})

		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	m.srv = httptest.NewServer(mux)
	return m
}

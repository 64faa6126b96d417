package config

import "time"

// Config holds every knob the server reads from the environment.
// Provider credentials are carried here and injected into the gateway
// adapters at construction: nothing below cmd/server reads ambient
// environment state.
type Config struct {
	Web struct {
		Address         string        `conf:"default:0.0.0.0:4000"`
		ReadTimeout     time.Duration `conf:"default:5s"`
		WriteTimeout    time.Duration `conf:"default:90s"`
		IdleTimeout     time.Duration `conf:"default:120s"`
		ShutdownTimeout time.Duration `conf:"default:20s"`
	}

	Cors struct {
		Origin string `conf:"default:"`
	}

	DB struct {
		User       string `conf:"default:postgres"`
		Password   string `conf:"default:postgres,mask"`
		Host       string `conf:"default:localhost"`
		Name       string `conf:"default:sikshya"`
		DisableTLS bool   `conf:"default:true"`
	}

	Auth struct {
		JWTSecret string `conf:"default:secret,mask"`
	}

	Khalti Khalti

	Esewa Esewa

	Stripe Stripe

	Sweep struct {
		// Interval of zero disables the pending-purchase sweeper.
		Interval time.Duration `conf:"default:1h"`
		TTL      time.Duration `conf:"default:24h"`
	}

	Verify struct {
		RateBurst  int `conf:"default:5"`
		RatePerMin int `conf:"default:30"`
	}
}

type Khalti struct {
	Secret     string `conf:"mask"`
	BaseURL    string `conf:"default:https://a.khalti.com/api/v2"`
	ReturnURL  string `conf:"default:http://localhost:3000/payment/success"`
	WebsiteURL string `conf:"default:http://localhost:3000"`
}

type Esewa struct {
	Secret      string `conf:"mask"`
	ProductCode string `conf:"default:EPAYTEST"`
	FormURL     string `conf:"default:https://rc-epay.esewa.com.np/api/epay/main/v2/form"`
	SuccessURL  string `conf:"default:http://localhost:3000/payment/success"`
	FailureURL  string `conf:"default:http://localhost:3000/payment/failure"`
}

type Stripe struct {
	APISecret     string `conf:"mask"`
	WebhookSecret string `conf:"mask"`
	Currency      string `conf:"default:usd"`
	SuccessURL    string `conf:"default:http://localhost:3000/payment/success"`
	CancelURL     string `conf:"default:http://localhost:3000/payment/failure"`
}

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/sikshyalaya/api/api"
	"github.com/sikshyalaya/api/config"
	"github.com/sikshyalaya/api/core/payment"
	"github.com/sikshyalaya/api/core/purchase"
	"github.com/sikshyalaya/api/database"
	"github.com/sikshyalaya/api/rate"
	"github.com/sirupsen/logrus"
	stripecl "github.com/stripe/stripe-go/v74/client"
)

func main() {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	if err := Run(log); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func Run(logger *logrus.Logger) error {
	logger.Infof("starting server")
	defer logger.Info("shutdown complete")

	const prefix = "SIKSHYA"
	var cfg config.Config
	if _, err := conf.Parse(prefix, &cfg); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}

	lw := logger.Writer()
	defer lw.Close()
	errLog := log.New(lw, "", 0)

	db, err := database.Open(cfg)
	if err != nil {
		return fmt.Errorf("failed to open db connection: %w", err)
	}

	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("failed to migrate db schema: %w", err)
	}

	strp := &stripecl.API{}
	strp.Init(cfg.Stripe.APISecret, nil)

	gateways := payment.Registry{
		payment.MethodKhalti: payment.NewKhalti(cfg.Khalti),
		payment.MethodEsewa:  payment.NewEsewa(cfg.Esewa),
		payment.MethodStripe: payment.NewStripe(cfg.Stripe, strp),
	}

	var verifyLimit *rate.Limiter
	if cfg.Verify.RatePerMin > 0 {
		verifyLimit = rate.NewLimiter(
			cfg.Verify.RateBurst,
			10,
			rate.Every(time.Minute/time.Duration(cfg.Verify.RatePerMin)),
		)
	}

	mux := api.APIMux(api.APIConfig{
		CorsOrigin:  cfg.Cors.Origin,
		Log:         logger,
		DB:          db,
		JWTSecret:   cfg.Auth.JWTSecret,
		Gateways:    gateways,
		VerifyLimit: verifyLimit,
	})

	server := http.Server{
		Handler:      mux,
		Addr:         cfg.Web.Address,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     errLog,
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()

	if cfg.Sweep.Interval > 0 {
		sweeper := &purchase.Sweeper{
			DB:       db,
			Log:      logger,
			Interval: cfg.Sweep.Interval,
			TTL:      cfg.Sweep.TTL,
		}
		go sweeper.Run(sweepCtx)
	}

	serverErrors := make(chan error, 1)

	go func() {
		logger.Infof("starting api router at %s", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Infof("shutting down: signal %s", sig)
		stopSweep()

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			server.Close()
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
	}
	return nil
}

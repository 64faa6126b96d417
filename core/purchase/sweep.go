package purchase

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// Sweeper periodically fails purchases stuck in pending, typically
// abandoned checkouts. The TTL is kept far beyond any provider's
// payment-link lifetime so a sweep can never race a live payment; the
// underlying update only ever touches pending rows.
type Sweeper struct {
	DB       *sqlx.DB
	Log      logrus.FieldLogger
	Interval time.Duration
	TTL      time.Duration
}

// Run sweeps until the context is canceled. It never returns an error:
// a failed pass is logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := FailStalePending(ctx, s.DB, s.TTL, time.Now().UTC())
			if err != nil {
				s.Log.WithField("message", err).Error("sweeping pending purchases")
				continue
			}
			if n > 0 {
				s.Log.WithField("expired", n).Info("swept stale pending purchases")
			}
		}
	}
}

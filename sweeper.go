package tempaccess

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultSweepInterval is how often the expiry sweep runs.
const DefaultSweepInterval = 60 * time.Second

// Sweeper periodically finds grants whose expiry has just elapsed and
// emits one expiry event per grant. It never mutates IsActive: time-based
// EXPIRED is always derived, so stored state cannot drift from wall-clock
// truth. Run exactly one sweeper per deployment.
type Sweeper struct {
	store     Store
	publisher ExpiryPublisher
	log       *zap.SugaredLogger
	interval  time.Duration
	now       func() time.Time
}

// NewSweeper builds a Sweeper. A zero interval falls back to
// DefaultSweepInterval; a nil clock falls back to time.Now.
func NewSweeper(store Store, publisher ExpiryPublisher, log *zap.SugaredLogger, interval time.Duration, now func() time.Time) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Sweeper{
		store:     store,
		publisher: publisher,
		log:       log,
		interval:  interval,
		now:       now,
	}
}

// Run sweeps on a fixed interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one pass. A failure on one grant is logged and does not
// abort the rest of the pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := s.now()
	grants, err := s.store.ExpiredUnnotified(ctx, now)
	if err != nil {
		s.log.Errorw("expiry sweep failed", "error", err)
		return
	}

	for i := range grants {
		grant := &grants[i]
		if s.publisher != nil {
			if err := s.publisher.PublishGrantExpired(ctx, grant); err != nil {
				s.log.Warnw("failed to publish expiry event", "grant", grant.ID, "error", err)
				continue
			}
		}

		notified := now
		if _, err := s.store.Update(ctx, grant.ID, func(g *AccessGrant) error {
			g.ExpiryNotifiedAt = &notified
			return nil
		}); err != nil {
			s.log.Warnw("failed to mark grant as notified", "grant", grant.ID, "error", err)
			continue
		}

		sweepExpiredTotal.Inc()
		s.log.Infow("grant expired", "grant", grant.ID, "username", grant.Username, "expiredAt", grant.ExpiresAt)
	}
}

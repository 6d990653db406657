// Package tempaccess implements temporary privileged access management: a
// root operator grants other principals time-bounded, role-scoped access
// to an administrative surface, tracks their sessions, and can revoke or
// extend that access at any time.
package tempaccess

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Config holds the configuration for the access management service.
type Config struct {
	DB          *gorm.DB
	RedisClient *redis.Client
	CacheTTL    time.Duration
	CachePrefix string
	AutoMigrate bool

	Gate GateConfig

	LockoutThreshold int
	SweepInterval    time.Duration

	// Publisher receives expiry events from the sweep; nil disables them.
	Publisher ExpiryPublisher

	Log *zap.SugaredLogger

	// Clock overrides time.Now, mainly for tests.
	Clock func() time.Time
}

// Service bundles the components behind the admin surface.
type Service struct {
	Store    *GrantStore
	Grants   *Lifecycle
	Sessions *SessionRecorder
	Gate     *Gate
	Sweeper  *Sweeper

	log   *zap.SugaredLogger
	clock func() time.Time
}

// New initializes the access management service.
func New(cfg Config) (*Service, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("database is required")
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop().Sugar()
	}

	if cfg.AutoMigrate {
		if err := cfg.DB.AutoMigrate(&AccessGrant{}, &SessionRecord{}, &AuditEntry{}); err != nil {
			return nil, fmt.Errorf("failed to auto-migrate: %w", err)
		}
	}

	gate, err := NewGate(cfg.Gate)
	if err != nil {
		return nil, err
	}

	store := NewGrantStore(cfg.DB, cfg.RedisClient, cfg.CacheTTL, cfg.CachePrefix, cfg.Clock)
	grants := NewLifecycle(store, cfg.Log, cfg.LockoutThreshold, cfg.Clock)
	sessions := NewSessionRecorder(store, cfg.Clock)
	sweeper := NewSweeper(store, cfg.Publisher, cfg.Log, cfg.SweepInterval, cfg.Clock)

	return &Service{
		Store:    store,
		Grants:   grants,
		Sessions: sessions,
		Gate:     gate,
		Sweeper:  sweeper,
		log:      cfg.Log,
		clock:    cfg.Clock,
	}, nil
}

// API builds the HTTP admin surface over the service. openReads exposes
// the read-only endpoints without an authority token.
func (s *Service) API(openReads bool) *API {
	return NewAPI(APIConfig{
		Grants:    s.Grants,
		Sessions:  s.Sessions,
		Store:     s.Store,
		Gate:      s.Gate,
		Log:       s.log,
		OpenReads: openReads,
		Clock:     s.clock,
	})
}

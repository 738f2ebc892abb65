package auth

import (
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/shopdesk/merchant-portal/internal/config"
	"github.com/shopdesk/merchant-portal/internal/ratelimit"
)

// NewFromConfig wires the service against the database pool. With a Redis
// client the throttle and revocation list are shared between instances;
// without one they live in process memory.
func NewFromConfig(cfg *config.Config, d *gorm.DB, rdb redis.UniversalClient, log logrus.FieldLogger) (*Service, error) {
	settings := ratelimit.Settings{Burst: cfg.RateLimit.Burst, Refill: cfg.RateLimit.Refill}

	var (
		limiter ratelimit.Limiter
		revoker Revoker
	)
	if rdb != nil {
		limiter = ratelimit.NewRedis(rdb, settings)
		revoker = NewRedisRevoker(rdb)
	} else {
		limiter = ratelimit.NewLocal(settings)
		revoker = NewMemoryRevoker()
	}

	return NewService(Options{
		Users:      NewGormUserStore(d),
		Tokens:     NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL),
		Revoker:    revoker,
		Limiter:    limiter,
		BcryptCost: cfg.Auth.BcryptCost,
		Log:        log.WithField("component", "auth"),
	})
}

package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/fiscalsync/internal/clock"
	"github.com/smallbiznis/fiscalsync/internal/config"
	"github.com/smallbiznis/fiscalsync/internal/fiscalerr"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const keySyncTrigger = "sync:trigger:%s:%s:%s"

// ErrLimited is returned for manual triggers past the allowance. The
// authority rejects callers that poll too often (cStat 656).
var ErrLimited = fiscalerr.Conflict("sync_rate_limited", "too many manual syncs for this company and scope")

// TriggerLimiter bounds manual sync triggers per (account, company, scope).
// The scheduler sweep is not limited.
type TriggerLimiter struct {
	bucket Bucket
	rate   float64
	burst  int
}

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Cfg       config.Config
	Log       *zap.Logger
	Clock     clock.Clock
}

// Provide returns nil when the limit is disabled. Buckets live in Redis when
// REDIS_ADDR is set so every API instance shares them.
func Provide(p Params) *TriggerLimiter {
	burst, every := p.Cfg.Sync.TriggerBurst, p.Cfg.Sync.TriggerEvery
	if burst <= 0 || every <= 0 {
		p.Log.Info("sync trigger limit disabled")
		return nil
	}

	addr := strings.TrimSpace(p.Cfg.RedisAddr)
	if addr == "" {
		return NewTriggerLimiter(NewLocalBucket(p.Clock), burst, every)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(p.Cfg.RedisPassword),
		DB:       p.Cfg.RedisDB,
	})
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return NewTriggerLimiter(NewTokenBucket(client), burst, every)
}

func NewTriggerLimiter(bucket Bucket, burst int, every time.Duration) *TriggerLimiter {
	return &TriggerLimiter{
		bucket: bucket,
		rate:   1 / every.Seconds(),
		burst:  burst,
	}
}

func (l *TriggerLimiter) Allow(ctx context.Context, accountID, companyID, scope string) (Result, error) {
	if l == nil {
		return Result{Allowed: true}, nil
	}
	key := fmt.Sprintf(keySyncTrigger,
		strings.TrimSpace(accountID),
		strings.TrimSpace(companyID),
		strings.ToUpper(strings.TrimSpace(scope)),
	)
	return l.bucket.Allow(ctx, key, l.rate, l.burst)
}

package token

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/Laisky/errors/v2"

	"github.com/Laisky/plugin-artifact-gateway/library/db/redis"
)

// Ledger records redemptions so maxDownloads can be enforced across requests.
type Ledger interface {
	// Redeem counts one download and returns the total so far.
	Redeem(ctx context.Context, p *Payload) (int64, error)
}

// Counter is the subset of the redis wrapper a RedisLedger needs.
type Counter interface {
	IncrUntil(ctx context.Context, key string, expireAt time.Time) (int64, error)
}

// RedisLedger keeps one counter per token, expiring together with the token.
type RedisLedger struct {
	counter Counter
}

// NewRedisLedger creates a ledger backed by counter.
func NewRedisLedger(counter Counter) *RedisLedger {
	return &RedisLedger{counter: counter}
}

// Redeem implements Ledger.
func (l *RedisLedger) Redeem(ctx context.Context, p *Payload) (int64, error) {
	if l == nil || l.counter == nil {
		return 0, errors.New("redemption ledger is not configured")
	}

	n, err := l.counter.IncrUntil(ctx, RedemptionKey(p.Token), p.ExpiresAt)
	if err != nil {
		return 0, errors.Wrap(err, "count token redemption")
	}

	return n, nil
}

// RedemptionKey is the redis key of a token counter, the raw token never reaches redis.
func RedemptionKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return redis.KeyPrefixTokenRedemption + hex.EncodeToString(sum[:])
}

// Redeem counts one delivered download of an already validated token.
// It is called after the artifact was opened, so failed downloads are never counted.
// A counter beyond MaxDownloads is DownloadsExhausted, a nil ledger always yields Valid.
func Redeem(ctx context.Context, ledger Ledger, p *Payload) (Outcome, error) {
	if ledger == nil {
		return Valid, nil
	}

	n, err := ledger.Redeem(ctx, p)
	if err != nil {
		return "", err
	}
	if n > int64(p.MaxDownloads) {
		return DownloadsExhausted, nil
	}

	return Valid, nil
}

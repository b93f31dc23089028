package oracle

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// RedisOracle reads rates published to Redis by an external price feeder
// under rate:{SYMBOL} keys. Every Rate call hits Redis — no client-side
// caching, so each settlement sees the freshest published value.
type RedisOracle struct {
	rdb *redis.Client
}

// NewRedisOracle creates an oracle backed by the given Redis client.
func NewRedisOracle(rdb *redis.Client) *RedisOracle {
	return &RedisOracle{rdb: rdb}
}

func (o *RedisOracle) Rate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	raw, err := o.rdb.Get(ctx, rateKey(symbol)).Result()
	if err == redis.Nil {
		return decimal.Zero, fmt.Errorf("oracle: no rate published for %s", symbol)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("oracle: read rate for %s: %w", symbol, err)
	}

	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("oracle: malformed rate %q for %s: %w", raw, symbol, err)
	}
	return rate, nil
}

func rateKey(symbol string) string { return fmt.Sprintf("rate:%s", symbol) }

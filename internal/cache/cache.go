// Package cache содержит кэш доступного баланса на основе Redis.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const availableTTL = time.Minute

// BalanceCache кэширует доступный баланс счёта. Кэш необязателен: методы
// безопасны при nil-получателе, промах или недоступность Redis не являются ошибкой.
type BalanceCache struct {
	client *redis.Client
	logger *zap.Logger
}

// New подключается к Redis по указанному адресу. Недоступность Redis не
// препятствует запуску: кэш просто будет промахиваться.
func New(addr string, logger *zap.Logger) *BalanceCache {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		logger.Warn("unable to reach redis", zap.Error(err))
	}

	return &BalanceCache{
		client: client,
		logger: logger,
	}
}

// Close закрывает соединение с Redis.
func (c *BalanceCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func availableKey(accountID int64) string {
	return fmt.Sprintf("balance:available:%d", accountID)
}

// GetAvailable возвращает закэшированный доступный баланс счёта.
func (c *BalanceCache) GetAvailable(ctx context.Context, accountID int64) (int64, bool) {
	if c == nil || c.client == nil {
		return 0, false
	}

	val, err := c.client.Get(ctx, availableKey(accountID)).Result()
	if err != nil {
		return 0, false
	}

	parsed, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false
	}

	return parsed, true
}

// SetAvailable сохраняет доступный баланс счёта в кэше.
func (c *BalanceCache) SetAvailable(ctx context.Context, accountID, available int64) {
	if c == nil || c.client == nil {
		return
	}

	if err := c.client.Set(ctx, availableKey(accountID), available, availableTTL).Err(); err != nil {
		c.logger.Warn("cache set failed", zap.Error(err))
	}
}

// Invalidate сбрасывает закэшированный баланс счёта после мутации журнала.
func (c *BalanceCache) Invalidate(ctx context.Context, accountID int64) {
	if c == nil || c.client == nil {
		return
	}

	if err := c.client.Del(ctx, availableKey(accountID)).Err(); err != nil {
		c.logger.Warn("cache invalidation failed", zap.Error(err))
	}
}

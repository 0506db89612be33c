package startup

import (
	"context"
	"time"

	"github.com/chatrelay/internal/storage"
	"github.com/chatrelay/internal/storage/memory"
	redisstorage "github.com/chatrelay/internal/storage/redis"
)

// ConnectRedisWithRetry подключается к Redis с повторами.
func ConnectRedisWithRetry(ctx context.Context, redisURL string, maxWait time.Duration, logPrefix string) (*redisstorage.Client, error) {
	var client *redisstorage.Client
	err := retry(ctx, "redis connect", maxWait, logPrefix, func(ctx context.Context) error {
		connCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		c, err := redisstorage.New(connCtx, redisURL)
		if err != nil {
			return err
		}
		client = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

// TokenStore выбирает хранилище отозванных токенов: Redis, если задан URL, иначе in-memory
// (только для одного процесса).
func TokenStore(ctx context.Context, redisURL string, maxWait time.Duration, logPrefix string) (storage.TokenStore, error) {
	if redisURL == "" {
		return memory.New(), nil
	}
	return ConnectRedisWithRetry(ctx, redisURL, maxWait, logPrefix)
}

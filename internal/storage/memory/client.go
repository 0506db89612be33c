package memory

import (
	"context"
	"sync"
	"time"
)

const (
	connectRateWindow = time.Minute
	connectRateMax    = 30
)

// Client — TokenStore в памяти процесса (для -memory и тестов, без Redis).
type Client struct {
	mu      sync.RWMutex
	revoked map[string]time.Time
	limit   map[string][]time.Time
	now     func() time.Time
}

func New() *Client {
	return &Client{
		revoked: make(map[string]time.Time),
		limit:   make(map[string][]time.Time),
		now:     time.Now,
	}
}

func (c *Client) Close() error { return nil }

// RevokeToken помечает токен отозванным до истечения ttl (обычно — до exp токена).
func (c *Client) RevokeToken(ctx context.Context, tokenID string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for id, exp := range c.revoked {
		if now.After(exp) {
			delete(c.revoked, id)
		}
	}
	c.revoked[tokenID] = now.Add(ttl)
	return nil
}

func (c *Client) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	exp, ok := c.revoked[tokenID]
	if !ok || c.now().After(exp) {
		return false, nil
	}
	return true, nil
}

// AllowConnect — скользящее окно: не больше connectRateMax подключений пользователя в минуту.
func (c *Client) AllowConnect(ctx context.Context, userID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	cut := now.Add(-connectRateWindow)
	var kept []time.Time
	for _, t := range c.limit[userID] {
		if t.After(cut) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= connectRateMax {
		c.limit[userID] = kept
		return false, nil
	}
	c.limit[userID] = append(kept, now)
	return true, nil
}

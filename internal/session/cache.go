package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zeroloop/zeroloop/config"
	"github.com/zeroloop/zeroloop/internal/agent/core"
)

// HistoryCache mirrors conversation windows into Redis so another node, or
// this one after a restart, can rebuild detector context.
type HistoryCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewHistoryCache(cfg config.RedisConfig, ttl time.Duration) *HistoryCache {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Host + ":" + cfg.Port,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &HistoryCache{client: client, ttl: ttl}
}

func historyKey(conversationID string) string {
	return fmt.Sprintf("conversation:%s:history", conversationID)
}

// Append pushes one message and trims the list to the rolling window.
func (c *HistoryCache) Append(ctx context.Context, conversationID string, msg core.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	key := historyKey(conversationID)
	pipe := c.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, int64(-maxHistory), -1)
	pipe.Expire(ctx, key, c.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// Load returns up to n most recent messages, oldest first.
func (c *HistoryCache) Load(ctx context.Context, conversationID string, n int) ([]core.Message, error) {
	vals, err := c.client.LRange(ctx, historyKey(conversationID), int64(-n), -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]core.Message, 0, len(vals))
	for _, v := range vals {
		var msg core.Message
		if err := json.Unmarshal([]byte(v), &msg); err != nil {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// Client exposes the underlying connection for shared uses such as the
// scheduler lock.
func (c *HistoryCache) Client() *redis.Client { return c.client }

// Package cache holds the rendered pin collection per (app, page) in
// Redis. The listing is read on every page load of every visitor with the
// widget enabled; mutations are rare by comparison. Cache errors degrade
// to a database read, never to a request failure.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const defaultTTL = time.Minute

// Pins caches pin collection payloads.
type Pins struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to Redis from a URL. A zero ttl defaults to one minute.
func New(ctx context.Context, redisURL string, ttl time.Duration) (*Pins, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return NewWithClient(client, ttl), nil
}

// NewWithClient wraps an existing client, used by tests with miniredis.
func NewWithClient(client *redis.Client, ttl time.Duration) *Pins {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Pins{client: client, ttl: ttl}
}

func (c *Pins) Close() error {
	return c.client.Close()
}

func key(appID, pagePath string) string {
	return "pins:" + appID + ":" + pagePath
}

// Get loads a cached collection into out. A miss, a decode failure, or a
// Redis error all report false.
func (c *Pins) Get(ctx context.Context, appID, pagePath string, out any) bool {
	raw, err := c.client.Get(ctx, key(appID, pagePath)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Debug().Err(err).Msg("cache: get")
		}
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		log.Debug().Err(err).Msg("cache: decode")
		return false
	}
	return true
}

// Set stores a collection payload under its (app, page) key.
func (c *Pins) Set(ctx context.Context, appID, pagePath string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		log.Debug().Err(err).Msg("cache: encode")
		return
	}
	if err := c.client.Set(ctx, key(appID, pagePath), raw, c.ttl).Err(); err != nil {
		log.Debug().Err(err).Msg("cache: set")
	}
}

// Invalidate drops the cached collection for one page.
func (c *Pins) Invalidate(ctx context.Context, appID, pagePath string) {
	if err := c.client.Del(ctx, key(appID, pagePath)).Err(); err != nil {
		log.Debug().Err(err).Msg("cache: invalidate")
	}
}

package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/claim_pair.lua
var claimPairScript string

//go:embed scripts/complete_pair.lua
var completePairScript string

const keyPrefix = "grocery-pricing:acq:"

// Claim outcomes returned by the claim script
const (
	claimOK       = 1
	claimInFlight = 0
	claimRecent   = 2
)

type Client struct {
	rdb            *redis.Client
	claimScript    *redis.Script
	completeScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return newClient(rdb), nil
}

func newClient(rdb *redis.Client) *Client {
	return &Client{
		rdb:            rdb,
		claimScript:    redis.NewScript(claimPairScript),
		completeScript: redis.NewScript(completePairScript),
	}
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks Redis connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// ClaimPair atomically marks a pair in flight across instances.
// Returns false if another instance is fetching it or fetched it recently.
func (c *Client) ClaimPair(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	result, err := c.claimScript.Run(ctx, c.rdb,
		[]string{inFlightKey(key), recentKey(key)},
		ttl.Milliseconds(),
	).Result()
	if err != nil {
		return false, fmt.Errorf("claim pair script failed: %w", err)
	}

	status, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type %T", result)
	}

	switch status {
	case claimOK:
		return true, nil
	case claimInFlight, claimRecent:
		return false, nil
	default:
		return false, fmt.Errorf("unexpected claim status %d", status)
	}
}

// CompletePair releases the in-flight claim and, on success, marks the pair
// recently fetched for recentTTL
func (c *Client) CompletePair(ctx context.Context, key string, success bool, recentTTL time.Duration) error {
	flag := "0"
	if success {
		flag = "1"
	}

	_, err := c.completeScript.Run(ctx, c.rdb,
		[]string{inFlightKey(key), recentKey(key)},
		flag, recentTTL.Milliseconds(),
	).Result()
	if err != nil {
		return fmt.Errorf("complete pair script failed: %w", err)
	}
	return nil
}

func inFlightKey(key string) string {
	return keyPrefix + "inflight:" + key
}

func recentKey(key string) string {
	return keyPrefix + "recent:" + key
}

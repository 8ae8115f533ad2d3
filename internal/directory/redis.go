package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisDirectoryKey = "directory:entries"

// Redis keeps the directory as a hash of email -> display name, shared by
// every server instance that points at the same Redis.
type Redis struct {
	client *redis.Client
	key    string
}

// NewRedis connects to redisURL and verifies the connection.
func NewRedis(redisURL string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisWithClient(client), nil
}

func NewRedisWithClient(client *redis.Client) *Redis {
	return &Redis{client: client, key: redisDirectoryKey}
}

func (r *Redis) Name() string {
	return "redis"
}

func (r *Redis) Suggest(ctx context.Context, q Query) ([]Suggestion, error) {
	values, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("load directory: %w", err)
	}
	entries := make([]Entry, 0, len(values))
	for email, display := range values {
		entries = append(entries, Entry{Email: email, Display: display})
	}
	return filterEntries(entries, q), nil
}

// Seed upserts entries into the shared hash.
func (r *Redis) Seed(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	values := make(map[string]any, len(entries))
	for _, entry := range entries {
		values[entry.Email] = entry.Display
	}
	if err := r.client.HSet(ctx, r.key, values).Err(); err != nil {
		return fmt.Errorf("seed directory: %w", err)
	}
	return nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

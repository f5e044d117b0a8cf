package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type revocation struct {
	UserID    string    `json:"user_id"`
	RevokedAt time.Time `json:"revoked_at"`
}

// RedisRevoker keeps one key per revoked token id, expiring with the token.
type RedisRevoker struct {
	client *redis.Client
	prefix string
}

func NewRedisRevoker(redisURL string) (*RedisRevoker, error) {
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
	return NewRedisRevokerWithClient(client), nil
}

func NewRedisRevokerWithClient(client *redis.Client) *RedisRevoker {
	return &RedisRevoker{client: client, prefix: "formvault:revoked:"}
}

func (r *RedisRevoker) key(tokenID string) string {
	return r.prefix + tokenID
}

// Revoke stores tokenID until expiresAt. Tokens that already expired are
// ignored.
func (r *RedisRevoker) Revoke(ctx context.Context, tokenID, userID string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(revocation{UserID: userID, RevokedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal revocation: %w", err)
	}
	if err := r.client.Set(ctx, r.key(tokenID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (r *RedisRevoker) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	err := r.client.Get(ctx, r.key(tokenID)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup revocation: %w", err)
	}
	return true, nil
}

func (r *RedisRevoker) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRevoker) Close() error {
	return r.client.Close()
}

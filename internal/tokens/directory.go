// Package tokens maps user identifiers to their active device push tokens.
package tokens

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nvasko/push-delivery-system/internal/domain"
)

// ReportListKey is the Redis list drained by the identity system to pick
// up tokens flagged invalid by the push gateway.
const ReportListKey = "invalid_token_reports"

// Source is the durable token registry behind the directory.
type Source interface {
	ActiveTokensForUsers(ctx context.Context, userIDs []string) (map[string][]string, error)
	UpsertDeviceToken(ctx context.Context, userID, token, platform string) (*domain.DeviceToken, error)
	DeactivateToken(ctx context.Context, token string) error
}

// Directory resolves device tokens for recipients, caching lookups in
// Redis. Resolution is read-mostly; the write path exists so that cache
// entries are invalidated alongside registry changes.
type Directory struct {
	source   Source
	redis    *redis.Client
	logger   *slog.Logger
	cacheTTL time.Duration
}

func NewDirectory(source Source, redisClient *redis.Client, cacheTTL time.Duration, logger *slog.Logger) *Directory {
	return &Directory{
		source:   source,
		redis:    redisClient,
		logger:   logger,
		cacheTTL: cacheTTL,
	}
}

func cacheKey(userID string) string {
	return "tokens:" + userID
}

// ResolveTokens returns the active tokens for every requested user. Users
// with zero tokens get an explicit empty entry so the caller can fail
// those items without a gateway round trip.
func (d *Directory) ResolveTokens(ctx context.Context, userIDs []string) (map[string][]string, error) {
	result := make(map[string][]string, len(userIDs))
	var misses []string

	for _, userID := range userIDs {
		cached, err := d.redis.Get(ctx, cacheKey(userID)).Result()
		if err != nil {
			// Cache miss or Redis trouble: fall through to the registry.
			misses = append(misses, userID)
			continue
		}
		var tokens []string
		if err := json.Unmarshal([]byte(cached), &tokens); err != nil {
			misses = append(misses, userID)
			continue
		}
		result[userID] = tokens
	}

	if len(misses) > 0 {
		fetched, err := d.source.ActiveTokensForUsers(ctx, misses)
		if err != nil {
			return nil, err
		}

		pipe := d.redis.Pipeline()
		for _, userID := range misses {
			tokens := fetched[userID]
			if tokens == nil {
				tokens = []string{}
			}
			result[userID] = tokens

			encoded, err := json.Marshal(tokens)
			if err != nil {
				continue
			}
			pipe.Set(ctx, cacheKey(userID), encoded, d.cacheTTL)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			d.logger.Warn("failed to cache token lookups", "error", err)
		}
	}

	return result, nil
}

// RegisterToken upserts a device token and drops the owner's cache entry.
func (d *Directory) RegisterToken(ctx context.Context, userID, token, platform string) (*domain.DeviceToken, error) {
	dt, err := d.source.UpsertDeviceToken(ctx, userID, token, platform)
	if err != nil {
		return nil, err
	}
	d.invalidate(ctx, userID)
	return dt, nil
}

// RemoveToken deactivates a token and drops the owner's cache entry.
func (d *Directory) RemoveToken(ctx context.Context, userID, token string) error {
	if err := d.source.DeactivateToken(ctx, token); err != nil {
		return err
	}
	if userID != "" {
		d.invalidate(ctx, userID)
	}
	return nil
}

type invalidTokenReport struct {
	UserID     string    `json:"user_id"`
	Token      string    `json:"token"`
	ReportedAt time.Time `json:"reported_at"`
}

// ReportInvalidToken flags a token the gateway rejected as permanently
// invalid. Best-effort: the token is deactivated, the owner's cache entry
// dropped, and a report pushed for the identity system. Failures are
// logged and never block delivery processing.
func (d *Directory) ReportInvalidToken(ctx context.Context, userID, token string) {
	if err := d.source.DeactivateToken(ctx, token); err != nil {
		d.logger.Warn("failed to deactivate invalid token",
			"user_id", userID,
			"error", err,
		)
	}
	d.invalidate(ctx, userID)

	report, err := json.Marshal(invalidTokenReport{
		UserID:     userID,
		Token:      token,
		ReportedAt: time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if err := d.redis.LPush(ctx, ReportListKey, report).Err(); err != nil {
		d.logger.Warn("failed to push invalid token report",
			"user_id", userID,
			"error", err,
		)
	}
}

func (d *Directory) invalidate(ctx context.Context, userID string) {
	if err := d.redis.Del(ctx, cacheKey(userID)).Err(); err != nil {
		d.logger.Warn("failed to invalidate token cache", "user_id", userID, "error", err)
	}
}

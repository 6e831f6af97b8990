package store

import (
	"context"
	"fmt"

	"github.com/nvasko/push-delivery-system/internal/domain"
)

// UpsertDeviceToken registers a token or refreshes its owner. A token
// re-registered by a different user moves to that user and is reactivated.
func (s *PostgresStore) UpsertDeviceToken(ctx context.Context, userID, token, platform string) (*domain.DeviceToken, error) {
	var dt domain.DeviceToken
	err := s.pool.QueryRow(ctx, `
		INSERT INTO device_tokens (token, user_id, platform)
		VALUES ($1, $2, $3)
		ON CONFLICT (token) DO UPDATE
		SET user_id = EXCLUDED.user_id, platform = EXCLUDED.platform, is_active = TRUE, updated_at = NOW()
		RETURNING user_id, token, platform, is_active, created_at, updated_at
	`, token, userID, platform).Scan(
		&dt.UserID, &dt.Token, &dt.Platform, &dt.IsActive, &dt.CreatedAt, &dt.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("upserting device token: %w", err)
	}
	return &dt, nil
}

// DeactivateToken flags a token inactive. The row is kept for audit;
// inactive tokens are excluded from resolution.
func (s *PostgresStore) DeactivateToken(ctx context.Context, token string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE device_tokens SET is_active = FALSE, updated_at = NOW() WHERE token = $1
	`, token)
	if err != nil {
		return fmt.Errorf("deactivating token: %w", err)
	}
	return nil
}

// ActiveTokensForUsers returns the active tokens for each of the given
// users. Users without tokens are simply absent from the map.
func (s *PostgresStore) ActiveTokensForUsers(ctx context.Context, userIDs []string) (map[string][]string, error) {
	tokens := make(map[string][]string)
	if len(userIDs) == 0 {
		return tokens, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT user_id, token FROM device_tokens
		WHERE user_id = ANY($1) AND is_active = TRUE
		ORDER BY created_at ASC
	`, userIDs)
	if err != nil {
		return nil, fmt.Errorf("querying device tokens: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var userID, token string
		if err := rows.Scan(&userID, &token); err != nil {
			return nil, fmt.Errorf("scanning device token: %w", err)
		}
		tokens[userID] = append(tokens[userID], token)
	}

	return tokens, nil
}

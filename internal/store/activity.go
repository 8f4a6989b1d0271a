package store

import (
	"context"
	"fmt"

	"github.com/ykst615/learn-zhihu-api/internal/models"
)

// --- Activity operations ---

// AddActivity is an upsert keyed by (user_id, event_id), so redelivered
// events do not duplicate entries.
func (s *Store) AddActivity(ctx context.Context, a models.Activity) error {
	if err := s.Session.Query(`
		INSERT INTO activity_by_user (user_id, event_id, kind, target_id, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		a.UserID, a.EventID, a.Kind, a.TargetID, a.Created,
	).WithContext(ctx).Exec(); err != nil {
		logg.Error("store", "Failed to add activity", err)
		return fmt.Errorf("add activity: %w", err)
	}
	return nil
}

// ListActivity returns the newest entries first.
func (s *Store) ListActivity(ctx context.Context, userID string, limit int) ([]models.Activity, error) {
	iter := s.Session.Query(`
		SELECT user_id, event_id, kind, target_id, created_at
		FROM activity_by_user WHERE user_id = ? LIMIT ?`,
		userID, limit,
	).WithContext(ctx).Iter()

	res := []models.Activity{}
	var a models.Activity
	for iter.Scan(&a.UserID, &a.EventID, &a.Kind, &a.TargetID, &a.Created) {
		res = append(res, a)
	}

	if err := iter.Close(); err != nil {
		logg.Error("store", "Failed to list activity", err)
		return nil, fmt.Errorf("list activity: %w", err)
	}
	return res, nil
}

package store

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"
	"github.com/ykst615/learn-zhihu-api/internal/models"
)

// --- Follow operations ---

// Follow adds targetID to the actor's following set and records the reverse
// edge in followers_by_followee. Both writes go in one logged batch and are
// set/upsert operations, so repeating a follow changes nothing.
func (s *Store) Follow(ctx context.Context, actorID, targetID string) error {
	if actorID == targetID {
		return ErrSelfFollow
	}

	batch := s.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`UPDATE users SET following = following + ? WHERE user_id = ?`, []string{targetID}, actorID)
	batch.Query(`INSERT INTO followers_by_followee (followee_id, follower_id) VALUES (?, ?)`, targetID, actorID)

	if err := s.Session.ExecuteBatch(batch); err != nil {
		logg.Error("store", "Failed to create follow relationship", err)
		return fmt.Errorf("follow: %w", err)
	}

	logg.Info("store", "Follow relationship created (user IDs anonymized)")
	return nil
}

// Unfollow removes targetID from the actor's following set and drops the
// reverse edge. Unfollowing someone not followed is a no-op.
func (s *Store) Unfollow(ctx context.Context, actorID, targetID string) error {
	batch := s.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`UPDATE users SET following = following - ? WHERE user_id = ?`, []string{targetID}, actorID)
	batch.Query(`DELETE FROM followers_by_followee WHERE followee_id = ? AND follower_id = ?`, targetID, actorID)

	if err := s.Session.ExecuteBatch(batch); err != nil {
		logg.Error("store", "Failed to remove follow relationship", err)
		return fmt.Errorf("unfollow: %w", err)
	}

	logg.Info("store", "Follow relationship removed (user IDs anonymized)")
	return nil
}

// ListFollowing resolves the users id follows.
func (s *Store) ListFollowing(ctx context.Context, id string) ([]models.User, error) {
	u, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.GetUsers(ctx, u.Following)
}

// ListFollowers reads the reverse index. It does not check that id exists.
func (s *Store) ListFollowers(ctx context.Context, id string) ([]models.User, error) {
	iter := s.Session.Query(
		`SELECT follower_id FROM followers_by_followee WHERE followee_id = ?`,
		id,
	).WithContext(ctx).Iter()

	var follower string
	var ids []string
	for iter.Scan(&follower) {
		ids = append(ids, follower)
	}

	if err := iter.Close(); err != nil {
		logg.Error("store", "Failed to get followers", err)
		return nil, fmt.Errorf("list followers: %w", err)
	}

	logg.Debug("store", "Retrieved followers (user IDs anonymized)")
	return s.GetUsers(ctx, ids)
}

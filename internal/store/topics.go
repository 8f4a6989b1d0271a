package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/ykst615/learn-zhihu-api/internal/models"
)

const topicColumns = `topic_id, name, avatar_url, introduction, created_at`

func scanTopic(sc scanner) (models.Topic, bool) {
	var t models.Topic
	ok := sc.Scan(&t.ID, &t.Name, &t.AvatarURL, &t.Introduction, &t.Created)
	return t, ok
}

// --- Topic operations ---

func (s *Store) CreateTopic(ctx context.Context, t models.Topic) (models.Topic, error) {
	t.ID = gocql.TimeUUID().String()
	t.Created = time.Now().UTC()

	if err := s.Session.Query(`
		INSERT INTO topics (topic_id, name, avatar_url, introduction, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.AvatarURL, t.Introduction, t.Created,
	).WithContext(ctx).Exec(); err != nil {
		logg.Error("store", "Failed to create topic", err)
		return models.Topic{}, fmt.Errorf("insert topic: %w", err)
	}

	logg.Info("store", "Topic created")
	return t, nil
}

func (s *Store) GetTopic(ctx context.Context, id string) (models.Topic, error) {
	iter := s.Session.Query(
		`SELECT `+topicColumns+` FROM topics WHERE topic_id = ?`, id,
	).WithContext(ctx).Iter()

	t, found := scanTopic(iter)
	if err := iter.Close(); err != nil {
		logg.Error("store", "Failed to get topic", err)
		return models.Topic{}, fmt.Errorf("get topic: %w", err)
	}
	if !found {
		return models.Topic{}, ErrTopicNotFound
	}
	return t, nil
}

// GetTopics returns the existing topics among ids keyed by id.
func (s *Store) GetTopics(ctx context.Context, ids []string) (map[string]models.Topic, error) {
	res := make(map[string]models.Topic, len(ids))
	if len(ids) == 0 {
		return res, nil
	}
	iter := s.Session.Query(
		`SELECT `+topicColumns+` FROM topics WHERE topic_id IN ?`, dedupe(ids),
	).WithContext(ctx).Iter()

	for {
		t, ok := scanTopic(iter)
		if !ok {
			break
		}
		res[t.ID] = t
	}
	if err := iter.Close(); err != nil {
		logg.Error("store", "Failed to resolve topics", err)
		return nil, fmt.Errorf("get topics: %w", err)
	}
	return res, nil
}

func (s *Store) ListTopics(ctx context.Context) ([]models.Topic, error) {
	iter := s.Session.Query(`SELECT ` + topicColumns + ` FROM topics`).WithContext(ctx).Iter()

	res := []models.Topic{}
	for {
		t, ok := scanTopic(iter)
		if !ok {
			break
		}
		res = append(res, t)
	}
	if err := iter.Close(); err != nil {
		logg.Error("store", "Failed to list topics", err)
		return nil, fmt.Errorf("list topics: %w", err)
	}
	return res, nil
}

// UpdateTopic merges the non-nil fields of patch and returns the result.
func (s *Store) UpdateTopic(ctx context.Context, id string, patch models.TopicPatch) (models.Topic, error) {
	if patch.Empty() {
		return s.GetTopic(ctx, id)
	}

	var set []string
	var values []interface{}
	if patch.Name != nil {
		set = append(set, "name = ?")
		values = append(values, *patch.Name)
	}
	if patch.AvatarURL != nil {
		set = append(set, "avatar_url = ?")
		values = append(values, *patch.AvatarURL)
	}
	if patch.Introduction != nil {
		set = append(set, "introduction = ?")
		values = append(values, *patch.Introduction)
	}
	values = append(values, id)

	result := make(map[string]interface{})
	applied, err := s.Session.Query(
		`UPDATE topics SET `+strings.Join(set, ", ")+` WHERE topic_id = ? IF EXISTS`,
		values...,
	).WithContext(ctx).MapScanCAS(result)
	if err != nil {
		logg.Error("store", "Failed to update topic", err)
		return models.Topic{}, fmt.Errorf("update topic: %w", err)
	}
	if !applied {
		return models.Topic{}, ErrTopicNotFound
	}
	return s.GetTopic(ctx, id)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

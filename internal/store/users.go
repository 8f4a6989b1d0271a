package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/ykst615/learn-zhihu-api/internal/models"
)

const userColumns = `user_id, name, password_hash, avatar_url, gender, headline,
	locations, business, employments, educations, following, created_at`

type scanner interface {
	Scan(dest ...interface{}) bool
}

func scanUser(sc scanner) (models.User, bool) {
	var u models.User
	ok := sc.Scan(
		&u.ID, &u.Name, &u.PasswordHash, &u.AvatarURL, &u.Gender, &u.Headline,
		&u.Locations, &u.Business, &u.Employments, &u.Educations, &u.Following, &u.Created,
	)
	return u, ok
}

// --- User operations ---

// CreateUser reserves the name with a lightweight transaction before writing
// the user row, so concurrent creates with the same name cannot both succeed.
func (s *Store) CreateUser(ctx context.Context, u models.User) (models.User, error) {
	u.ID = gocql.TimeUUID().String()
	u.Created = time.Now().UTC()

	claimed, err := s.claimName(ctx, u.Name, u.ID)
	if err != nil {
		return models.User{}, err
	}
	if !claimed {
		return models.User{}, ErrNameTaken
	}

	err = s.Session.Query(`
		INSERT INTO users (user_id, name, password_hash, avatar_url, gender, headline,
			locations, business, employments, educations, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.PasswordHash, u.AvatarURL, u.Gender, u.Headline,
		u.Locations, u.Business, u.Employments, u.Educations, u.Created,
	).WithContext(ctx).Exec()
	if err != nil {
		logg.Error("store", "Failed to create user in main table", err)
		s.releaseName(ctx, u.Name, u.ID)
		return models.User{}, fmt.Errorf("insert user: %w", err)
	}

	logg.Info("store", "User created successfully (username anonymized)")
	return u, nil
}

func (s *Store) claimName(ctx context.Context, name, userID string) (bool, error) {
	result := make(map[string]interface{})
	applied, err := s.Session.Query(`
		INSERT INTO users_by_name (name, user_id)
		VALUES (?, ?) IF NOT EXISTS`,
		name, userID,
	).WithContext(ctx).MapScanCAS(result)
	if err != nil {
		logg.Error("store", "Failed to reserve user name", err)
		return false, fmt.Errorf("reserve name: %w", err)
	}
	return applied, nil
}

// releaseName drops a reservation only if it still belongs to userID.
func (s *Store) releaseName(ctx context.Context, name, userID string) {
	result := make(map[string]interface{})
	_, err := s.Session.Query(
		`DELETE FROM users_by_name WHERE name = ? IF user_id = ?`,
		name, userID,
	).WithContext(ctx).MapScanCAS(result)
	if err != nil {
		logg.Error("store", "Failed to release user name", err)
	}
}

func (s *Store) GetUser(ctx context.Context, id string) (models.User, error) {
	iter := s.Session.Query(
		`SELECT `+userColumns+` FROM users WHERE user_id = ?`, id,
	).WithContext(ctx).Iter()

	u, found := scanUser(iter)
	if err := iter.Close(); err != nil {
		logg.Error("store", "Failed to get user", err)
		return models.User{}, fmt.Errorf("get user: %w", err)
	}
	if !found {
		return models.User{}, ErrUserNotFound
	}
	return u, nil
}

func (s *Store) GetUserByName(ctx context.Context, name string) (models.User, error) {
	var id string
	err := s.Session.Query(
		`SELECT user_id FROM users_by_name WHERE name = ?`, name,
	).WithContext(ctx).Scan(&id)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return models.User{}, ErrUserNotFound
		}
		logg.Error("store", "Failed to query user by name", err)
		return models.User{}, fmt.Errorf("get user by name: %w", err)
	}
	return s.GetUser(ctx, id)
}

// GetUsers returns the users with the given ids in the same order, skipping
// ids that no longer exist.
func (s *Store) GetUsers(ctx context.Context, ids []string) ([]models.User, error) {
	if len(ids) == 0 {
		return []models.User{}, nil
	}
	iter := s.Session.Query(
		`SELECT `+userColumns+` FROM users WHERE user_id IN ?`, ids,
	).WithContext(ctx).Iter()

	byID := make(map[string]models.User, len(ids))
	for {
		u, ok := scanUser(iter)
		if !ok {
			break
		}
		byID[u.ID] = u
	}
	if err := iter.Close(); err != nil {
		logg.Error("store", "Failed to resolve users", err)
		return nil, fmt.Errorf("get users: %w", err)
	}

	res := make([]models.User, 0, len(byID))
	for _, id := range ids {
		if u, ok := byID[id]; ok {
			res = append(res, u)
		}
	}
	return res, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	iter := s.Session.Query(`SELECT ` + userColumns + ` FROM users`).WithContext(ctx).Iter()

	res := []models.User{}
	for {
		u, ok := scanUser(iter)
		if !ok {
			break
		}
		res = append(res, u)
	}
	if err := iter.Close(); err != nil {
		logg.Error("store", "Failed to list users", err)
		return nil, fmt.Errorf("list users: %w", err)
	}
	return res, nil
}

// UpdateUser merges the non-nil fields of patch into the user row. A rename
// claims the new name first and releases the old one afterwards.
func (s *Store) UpdateUser(ctx context.Context, id string, patch models.UserPatch) error {
	current, err := s.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if patch.Empty() {
		return nil
	}

	renamed := patch.Name != nil && *patch.Name != current.Name
	if renamed {
		claimed, err := s.claimName(ctx, *patch.Name, id)
		if err != nil {
			return err
		}
		if !claimed {
			return ErrNameTaken
		}
	}

	set, values := userAssignments(patch)
	values = append(values, id)
	result := make(map[string]interface{})
	applied, err := s.Session.Query(
		`UPDATE users SET `+strings.Join(set, ", ")+` WHERE user_id = ? IF EXISTS`,
		values...,
	).WithContext(ctx).MapScanCAS(result)
	if err != nil || !applied {
		if renamed {
			s.releaseName(ctx, *patch.Name, id)
		}
		if err != nil {
			logg.Error("store", "Failed to update user", err)
			return fmt.Errorf("update user: %w", err)
		}
		return ErrUserNotFound
	}

	if renamed {
		s.releaseName(ctx, current.Name, id)
	}
	logg.Info("store", "User updated (user IDs anonymized)")
	return nil
}

func userAssignments(p models.UserPatch) ([]string, []interface{}) {
	var set []string
	var values []interface{}
	add := func(col string, v interface{}) {
		set = append(set, col+" = ?")
		values = append(values, v)
	}
	if p.Name != nil {
		add("name", *p.Name)
	}
	if p.PasswordHash != nil {
		add("password_hash", *p.PasswordHash)
	}
	if p.AvatarURL != nil {
		add("avatar_url", *p.AvatarURL)
	}
	if p.Gender != nil {
		add("gender", *p.Gender)
	}
	if p.Headline != nil {
		add("headline", *p.Headline)
	}
	if p.Locations != nil {
		add("locations", *p.Locations)
	}
	if p.Business != nil {
		add("business", *p.Business)
	}
	if p.Employments != nil {
		add("employments", *p.Employments)
	}
	if p.Educations != nil {
		add("educations", *p.Educations)
	}
	return set, values
}

// DeleteUser removes the user row, its name reservation and the follower
// index entries it authored. Other users' following sets are left as is.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	u, err := s.GetUser(ctx, id)
	if err != nil {
		return err
	}

	batch := s.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`DELETE FROM users WHERE user_id = ?`, id)
	batch.Query(`DELETE FROM users_by_name WHERE name = ?`, u.Name)
	for _, followee := range u.Following {
		batch.Query(`DELETE FROM followers_by_followee WHERE followee_id = ? AND follower_id = ?`, followee, id)
	}

	if err := s.Session.ExecuteBatch(batch); err != nil {
		logg.Error("store", "Failed to delete user", err)
		return fmt.Errorf("delete user: %w", err)
	}

	logg.Info("store", "User deleted (user IDs anonymized)")
	return nil
}

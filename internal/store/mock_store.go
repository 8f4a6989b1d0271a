package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ykst615/learn-zhihu-api/internal/models"
)

// MockStore simulates Cassandra operations for testing. It keeps the same
// semantics as Store: set-valued following, a follower index, unique names.
type MockStore struct {
	mu         sync.Mutex
	Users      map[string]models.User
	Names      map[string]string
	Followers  map[string]map[string]struct{}
	Topics     map[string]models.Topic
	Activity   map[string][]models.Activity
	Writes     int
	ShouldFail bool // flag to simulate failures
}

var errMock = errors.New("mock: operation failed")

// NewMock initializes a new mock store
func NewMock() *MockStore {
	return &MockStore{
		Users:     make(map[string]models.User),
		Names:     make(map[string]string),
		Followers: make(map[string]map[string]struct{}),
		Topics:    make(map[string]models.Topic),
		Activity:  make(map[string][]models.Activity),
	}
}

func (m *MockStore) Close() {}

func cloneUser(u models.User) models.User {
	u.Locations = append([]string(nil), u.Locations...)
	u.Employments = append([]models.Employment(nil), u.Employments...)
	u.Educations = append([]models.Education(nil), u.Educations...)
	u.Following = append([]string(nil), u.Following...)
	return u
}

func (m *MockStore) CreateUser(_ context.Context, u models.User) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return models.User{}, errMock
	}
	if _, taken := m.Names[u.Name]; taken {
		return models.User{}, ErrNameTaken
	}
	u.ID = uuid.NewString()
	u.Created = time.Now().UTC()
	u.Following = nil
	m.Users[u.ID] = cloneUser(u)
	m.Names[u.Name] = u.ID
	m.Writes++
	return cloneUser(u), nil
}

func (m *MockStore) GetUser(_ context.Context, id string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getUser(id)
}

func (m *MockStore) getUser(id string) (models.User, error) {
	if m.ShouldFail {
		return models.User{}, errMock
	}
	u, ok := m.Users[id]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	return cloneUser(u), nil
}

func (m *MockStore) GetUserByName(_ context.Context, name string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return models.User{}, errMock
	}
	id, ok := m.Names[name]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	return m.getUser(id)
}

func (m *MockStore) GetUsers(_ context.Context, ids []string) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getUsers(ids)
}

func (m *MockStore) getUsers(ids []string) ([]models.User, error) {
	if m.ShouldFail {
		return nil, errMock
	}
	res := []models.User{}
	for _, id := range ids {
		if u, ok := m.Users[id]; ok {
			res = append(res, cloneUser(u))
		}
	}
	return res, nil
}

func (m *MockStore) ListUsers(_ context.Context) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return nil, errMock
	}
	res := []models.User{}
	for _, u := range m.Users {
		res = append(res, cloneUser(u))
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Created.Before(res[j].Created) })
	return res, nil
}

func (m *MockStore) UpdateUser(_ context.Context, id string, p models.UserPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return errMock
	}
	u, ok := m.Users[id]
	if !ok {
		return ErrUserNotFound
	}
	if p.Name != nil && *p.Name != u.Name {
		if _, taken := m.Names[*p.Name]; taken {
			return ErrNameTaken
		}
		delete(m.Names, u.Name)
		m.Names[*p.Name] = id
		u.Name = *p.Name
	}
	if p.PasswordHash != nil {
		u.PasswordHash = *p.PasswordHash
	}
	if p.AvatarURL != nil {
		u.AvatarURL = *p.AvatarURL
	}
	if p.Gender != nil {
		u.Gender = *p.Gender
	}
	if p.Headline != nil {
		u.Headline = *p.Headline
	}
	if p.Locations != nil {
		u.Locations = *p.Locations
	}
	if p.Business != nil {
		u.Business = *p.Business
	}
	if p.Employments != nil {
		u.Employments = *p.Employments
	}
	if p.Educations != nil {
		u.Educations = *p.Educations
	}
	m.Users[id] = cloneUser(u)
	m.Writes++
	return nil
}

func (m *MockStore) DeleteUser(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return errMock
	}
	u, ok := m.Users[id]
	if !ok {
		return ErrUserNotFound
	}
	for _, followee := range u.Following {
		delete(m.Followers[followee], id)
	}
	delete(m.Users, id)
	delete(m.Names, u.Name)
	m.Writes++
	return nil
}

// Follow mirrors the Cassandra set-add: the following list stays sorted and
// duplicate-free.
func (m *MockStore) Follow(_ context.Context, actorID, targetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return errMock
	}
	if actorID == targetID {
		return ErrSelfFollow
	}
	u, ok := m.Users[actorID]
	if !ok {
		return ErrUserNotFound
	}
	i := sort.SearchStrings(u.Following, targetID)
	if i < len(u.Following) && u.Following[i] == targetID {
		return nil
	}
	u.Following = append(u.Following, "")
	copy(u.Following[i+1:], u.Following[i:])
	u.Following[i] = targetID
	m.Users[actorID] = u

	if m.Followers[targetID] == nil {
		m.Followers[targetID] = make(map[string]struct{})
	}
	m.Followers[targetID][actorID] = struct{}{}
	m.Writes++
	return nil
}

func (m *MockStore) Unfollow(_ context.Context, actorID, targetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return errMock
	}
	u, ok := m.Users[actorID]
	if !ok {
		return ErrUserNotFound
	}
	i := sort.SearchStrings(u.Following, targetID)
	if i == len(u.Following) || u.Following[i] != targetID {
		return nil
	}
	u.Following = append(u.Following[:i], u.Following[i+1:]...)
	m.Users[actorID] = u
	delete(m.Followers[targetID], actorID)
	m.Writes++
	return nil
}

func (m *MockStore) ListFollowing(_ context.Context, id string) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.getUser(id)
	if err != nil {
		return nil, err
	}
	return m.getUsers(u.Following)
}

func (m *MockStore) ListFollowers(_ context.Context, id string) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return nil, errMock
	}
	ids := make([]string, 0, len(m.Followers[id]))
	for follower := range m.Followers[id] {
		ids = append(ids, follower)
	}
	sort.Strings(ids)
	return m.getUsers(ids)
}

func (m *MockStore) CreateTopic(_ context.Context, t models.Topic) (models.Topic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return models.Topic{}, errMock
	}
	t.ID = uuid.NewString()
	t.Created = time.Now().UTC()
	m.Topics[t.ID] = t
	m.Writes++
	return t, nil
}

func (m *MockStore) GetTopic(_ context.Context, id string) (models.Topic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return models.Topic{}, errMock
	}
	t, ok := m.Topics[id]
	if !ok {
		return models.Topic{}, ErrTopicNotFound
	}
	return t, nil
}

func (m *MockStore) GetTopics(_ context.Context, ids []string) (map[string]models.Topic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return nil, errMock
	}
	res := make(map[string]models.Topic, len(ids))
	for _, id := range ids {
		if t, ok := m.Topics[id]; ok {
			res[id] = t
		}
	}
	return res, nil
}

func (m *MockStore) ListTopics(_ context.Context) ([]models.Topic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return nil, errMock
	}
	res := []models.Topic{}
	for _, t := range m.Topics {
		res = append(res, t)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Created.Before(res[j].Created) })
	return res, nil
}

func (m *MockStore) UpdateTopic(_ context.Context, id string, p models.TopicPatch) (models.Topic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return models.Topic{}, errMock
	}
	t, ok := m.Topics[id]
	if !ok {
		return models.Topic{}, ErrTopicNotFound
	}
	if p.Name != nil {
		t.Name = *p.Name
	}
	if p.AvatarURL != nil {
		t.AvatarURL = *p.AvatarURL
	}
	if p.Introduction != nil {
		t.Introduction = *p.Introduction
	}
	m.Topics[id] = t
	m.Writes++
	return t, nil
}

// AddActivity ignores an event already recorded for the user.
func (m *MockStore) AddActivity(_ context.Context, a models.Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return errMock
	}
	for _, existing := range m.Activity[a.UserID] {
		if existing.EventID == a.EventID {
			return nil
		}
	}
	m.Activity[a.UserID] = append(m.Activity[a.UserID], a)
	return nil
}

func (m *MockStore) ListActivity(_ context.Context, userID string, limit int) ([]models.Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return nil, errMock
	}
	entries := m.Activity[userID]
	res := make([]models.Activity, 0, len(entries))
	for i := len(entries) - 1; i >= 0 && len(res) < limit; i-- {
		res = append(res, entries[i])
	}
	return res, nil
}

// ---------------------------------------------
// MockStoreFail always returns errors for negative tests
type MockStoreFail struct{}

var errMockFail = errors.New("mock store failure")

func (MockStoreFail) Close() {}

func (MockStoreFail) CreateUser(context.Context, models.User) (models.User, error) {
	return models.User{}, errMockFail
}

func (MockStoreFail) GetUser(context.Context, string) (models.User, error) {
	return models.User{}, errMockFail
}

func (MockStoreFail) GetUserByName(context.Context, string) (models.User, error) {
	return models.User{}, errMockFail
}

func (MockStoreFail) GetUsers(context.Context, []string) ([]models.User, error) {
	return nil, errMockFail
}

func (MockStoreFail) ListUsers(context.Context) ([]models.User, error) {
	return nil, errMockFail
}

func (MockStoreFail) UpdateUser(context.Context, string, models.UserPatch) error {
	return errMockFail
}

func (MockStoreFail) DeleteUser(context.Context, string) error { return errMockFail }

func (MockStoreFail) Follow(context.Context, string, string) error { return errMockFail }

func (MockStoreFail) Unfollow(context.Context, string, string) error { return errMockFail }

func (MockStoreFail) ListFollowing(context.Context, string) ([]models.User, error) {
	return nil, errMockFail
}

func (MockStoreFail) ListFollowers(context.Context, string) ([]models.User, error) {
	return nil, errMockFail
}

func (MockStoreFail) CreateTopic(context.Context, models.Topic) (models.Topic, error) {
	return models.Topic{}, errMockFail
}

func (MockStoreFail) GetTopic(context.Context, string) (models.Topic, error) {
	return models.Topic{}, errMockFail
}

func (MockStoreFail) GetTopics(context.Context, []string) (map[string]models.Topic, error) {
	return nil, errMockFail
}

func (MockStoreFail) ListTopics(context.Context) ([]models.Topic, error) {
	return nil, errMockFail
}

func (MockStoreFail) UpdateTopic(context.Context, string, models.TopicPatch) (models.Topic, error) {
	return models.Topic{}, errMockFail
}

func (MockStoreFail) AddActivity(context.Context, models.Activity) error { return errMockFail }

func (MockStoreFail) ListActivity(context.Context, string, int) ([]models.Activity, error) {
	return nil, errMockFail
}

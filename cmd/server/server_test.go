package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ykst615/learn-zhihu-api/internal/auth"
	appkafka "github.com/ykst615/learn-zhihu-api/internal/broker"
	"github.com/ykst615/learn-zhihu-api/internal/middleware"
	"github.com/ykst615/learn-zhihu-api/internal/models"
	"github.com/ykst615/learn-zhihu-api/internal/store"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "test-secret-test-secret-test-secret"

//
// --- Setup test server ---
//

type testEnv struct {
	ts     *httptest.Server
	store  *store.MockStore
	kafka  *appkafka.MockKafka
	tokens *auth.Tokens
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	return setupTestServerWith(t, func(*Deps) {})
}

func setupTestServerWith(t *testing.T, tweak func(*Deps)) *testEnv {
	t.Helper()
	mockStore := store.NewMock()
	mockKafka := &appkafka.MockKafka{Store: mockStore}
	tokens, err := auth.NewTokens(testSecret, time.Hour)
	require.NoError(t, err)

	limiter := middleware.NewMemoryRateLimiter()
	t.Cleanup(limiter.Close)

	d := Deps{
		Store:       mockStore,
		KafkaWriter: mockKafka,
		Tokens:      tokens,
		Passwords:   auth.NewPasswords(bcrypt.MinCost),
		Limiter:     limiter,
		LoginLimit:  3,
		LoginWindow: time.Minute,
	}
	tweak(&d)

	ts := httptest.NewServer(New(d).Router())
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, store: mockStore, kafka: mockKafka, tokens: tokens}
}

//
// --- Helpers ---
//

// sendJSONRequest sends body as JSON with an optional bearer token and
// checks the status code.
func sendJSONRequest(t *testing.T, method, url string, body any, token string, expectedStatus int) []byte {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, expectedStatus, resp.StatusCode, "body: %s", b)
	return b
}

// createUserHelper creates a user over HTTP and returns its id and a token.
func (e *testEnv) createUserHelper(t *testing.T, name string) (string, string) {
	t.Helper()
	b := sendJSONRequest(t, http.MethodPost, e.ts.URL+"/users",
		map[string]string{"name": name, "password": "secret-" + name}, "", http.StatusCreated)

	var u models.UserView
	require.NoError(t, json.Unmarshal(b, &u))
	require.NotEmpty(t, u.ID)

	token, err := e.tokens.Issue(u.ID, name)
	require.NoError(t, err)
	return u.ID, token
}

func decodeUsers(t *testing.T, b []byte) []models.UserView {
	t.Helper()
	var users []models.UserView
	require.NoError(t, json.Unmarshal(b, &users))
	return users
}

func userIDs(users []models.UserView) []string {
	ids := []string{}
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	return ids
}

//
// --- Users ---
//

func TestCreateUser(t *testing.T) {
	env := setupTestServer(t)

	b := sendJSONRequest(t, http.MethodPost, env.ts.URL+"/users",
		map[string]string{"name": "almaz", "password": "hunter22"}, "", http.StatusCreated)

	assert.NotContains(t, string(b), "password")
	assert.NotContains(t, string(b), "hunter22")

	var u models.UserView
	require.NoError(t, json.Unmarshal(b, &u))
	assert.Equal(t, "almaz", u.Name)
	assert.Equal(t, "unknown", u.Gender)

	stored, err := env.store.GetUser(context.Background(), u.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "hunter22", stored.PasswordHash)
}

func TestCreateUser_DuplicateName(t *testing.T) {
	env := setupTestServer(t)
	env.createUserHelper(t, "almaz")

	sendJSONRequest(t, http.MethodPost, env.ts.URL+"/users",
		map[string]string{"name": "almaz", "password": "another"}, "", http.StatusConflict)

	users, err := env.store.ListUsers(context.Background())
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestCreateUser_InvalidBody(t *testing.T) {
	env := setupTestServer(t)

	resp, err := http.Post(env.ts.URL+"/users", "application/json", bytes.NewBufferString(`{"name":123}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	b := sendJSONRequest(t, http.MethodPost, env.ts.URL+"/users",
		map[string]string{"password": "x"}, "", http.StatusUnprocessableEntity)
	var verr ValidationErrorResponse
	require.NoError(t, json.Unmarshal(b, &verr))
	assert.Equal(t, "required", verr.Fields["name"])
	assert.Equal(t, "min", verr.Fields["password"])
}

// bcrypt limits passwords to 72 bytes, and CJK runes take 3 bytes each.
func TestCreateUser_PasswordByteLimit(t *testing.T) {
	env := setupTestServer(t)

	b := sendJSONRequest(t, http.MethodPost, env.ts.URL+"/users",
		map[string]string{"name": "li", "password": strings.Repeat("密", 30)}, "", http.StatusUnprocessableEntity)
	var verr ValidationErrorResponse
	require.NoError(t, json.Unmarshal(b, &verr))
	assert.Equal(t, "bcryptmax", verr.Fields["password"])

	sendJSONRequest(t, http.MethodPost, env.ts.URL+"/users",
		map[string]string{"name": "li", "password": strings.Repeat("密", 24)}, "", http.StatusCreated)
	b = sendJSONRequest(t, http.MethodPost, env.ts.URL+"/users/login",
		map[string]string{"name": "li", "password": strings.Repeat("密", 24)}, "", http.StatusOK)
	assert.Contains(t, string(b), "token")
}

func TestListUsers(t *testing.T) {
	env := setupTestServer(t)
	env.createUserHelper(t, "almaz")
	env.createUserHelper(t, "nur")

	b := sendJSONRequest(t, http.MethodGet, env.ts.URL+"/users", nil, "", http.StatusOK)
	users := decodeUsers(t, b)
	assert.Len(t, users, 2)
	assert.NotContains(t, string(b), "password")
}

func TestGetUser_Fields(t *testing.T) {
	env := setupTestServer(t)
	id, token := env.createUserHelper(t, "almaz")

	topic, err := env.store.CreateTopic(context.Background(), models.Topic{Name: "Beijing"})
	require.NoError(t, err)
	sendJSONRequest(t, http.MethodPatch, env.ts.URL+"/users/"+id,
		map[string]any{"locations": []string{topic.ID}, "headline": "hi"}, token, http.StatusNoContent)

	// base fields only
	b := sendJSONRequest(t, http.MethodGet, env.ts.URL+"/users/"+id, nil, "", http.StatusOK)
	var base models.UserView
	require.NoError(t, json.Unmarshal(b, &base))
	assert.Equal(t, "hi", base.Headline)
	assert.Empty(t, base.Locations)

	// password is silently dropped, locations are populated
	b = sendJSONRequest(t, http.MethodGet, env.ts.URL+"/users/"+id+"?fields=password;locations;", nil, "", http.StatusOK)
	assert.NotContains(t, string(b), "password")
	var full models.UserView
	require.NoError(t, json.Unmarshal(b, &full))
	require.Len(t, full.Locations, 1)
	assert.Equal(t, models.TopicRef{ID: topic.ID, Name: "Beijing"}, full.Locations[0])

	sendJSONRequest(t, http.MethodGet, env.ts.URL+"/users/"+id+"?fields=salary", nil, "", http.StatusBadRequest)
	sendJSONRequest(t, http.MethodGet, env.ts.URL+"/users/missing", nil, "", http.StatusNotFound)
}

func TestUpdateUser(t *testing.T) {
	env := setupTestServer(t)
	id, token := env.createUserHelper(t, "almaz")
	env.createUserHelper(t, "nur")

	sendJSONRequest(t, http.MethodPatch, env.ts.URL+"/users/"+id,
		map[string]any{"name": "almaz2", "password": "new-secret"}, token, http.StatusNoContent)

	u, err := env.store.GetUser(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "almaz2", u.Name)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("new-secret")))

	// renaming onto a taken name
	sendJSONRequest(t, http.MethodPatch, env.ts.URL+"/users/"+id,
		map[string]any{"name": "nur"}, token, http.StatusConflict)

	sendJSONRequest(t, http.MethodPatch, env.ts.URL+"/users/"+id,
		map[string]any{"gender": "robot"}, token, http.StatusUnprocessableEntity)
}

func TestUpdateUser_RejectsEmptyValues(t *testing.T) {
	env := setupTestServer(t)
	id, token := env.createUserHelper(t, "almaz")

	for _, body := range []map[string]any{
		{"gender": ""},
		{"name": ""},
		{"password": ""},
		{"password": strings.Repeat("密", 30)},
	} {
		sendJSONRequest(t, http.MethodPatch, env.ts.URL+"/users/"+id, body, token, http.StatusUnprocessableEntity)
	}

	u, err := env.store.GetUser(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "unknown", u.Gender)
	assert.Equal(t, "almaz", u.Name)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("secret-almaz")))
}

func TestUpdateDeleteUser_PermissionDenied(t *testing.T) {
	env := setupTestServer(t)
	_, token1 := env.createUserHelper(t, "almaz")
	id2, _ := env.createUserHelper(t, "nur")

	sendJSONRequest(t, http.MethodPatch, env.ts.URL+"/users/"+id2,
		map[string]any{"headline": "x"}, token1, http.StatusForbidden)
	sendJSONRequest(t, http.MethodDelete, env.ts.URL+"/users/"+id2, nil, token1, http.StatusForbidden)
	sendJSONRequest(t, http.MethodDelete, env.ts.URL+"/users/"+id2, nil, "", http.StatusUnauthorized)

	_, err := env.store.GetUser(context.Background(), id2)
	assert.NoError(t, err)
}

func TestUpdateDeleteUser_Missing(t *testing.T) {
	env := setupTestServer(t)
	token, err := env.tokens.Issue("ghost", "ghost")
	require.NoError(t, err)

	sendJSONRequest(t, http.MethodPatch, env.ts.URL+"/users/ghost",
		map[string]any{"headline": "x"}, token, http.StatusNotFound)
	sendJSONRequest(t, http.MethodDelete, env.ts.URL+"/users/ghost", nil, token, http.StatusNotFound)
}

func TestDeleteUser(t *testing.T) {
	env := setupTestServer(t)
	id, token := env.createUserHelper(t, "almaz")

	sendJSONRequest(t, http.MethodDelete, env.ts.URL+"/users/"+id, nil, token, http.StatusNoContent)
	sendJSONRequest(t, http.MethodGet, env.ts.URL+"/users/"+id, nil, "", http.StatusNotFound)

	// the name is free again
	env.createUserHelper(t, "almaz")
}

//
// --- Login ---
//

func TestLogin(t *testing.T) {
	env := setupTestServer(t)
	id, _ := env.createUserHelper(t, "almaz")

	b := sendJSONRequest(t, http.MethodPost, env.ts.URL+"/users/login",
		map[string]string{"name": "almaz", "password": "secret-almaz"}, "", http.StatusOK)
	var res map[string]string
	require.NoError(t, json.Unmarshal(b, &res))

	claims, err := env.tokens.Parse(res["token"])
	require.NoError(t, err)
	assert.Equal(t, id, claims.UserID)
	assert.Equal(t, "almaz", claims.Name)

	wrong := sendJSONRequest(t, http.MethodPost, env.ts.URL+"/users/login",
		map[string]string{"name": "almaz", "password": "nope"}, "", http.StatusUnauthorized)
	unknown := sendJSONRequest(t, http.MethodPost, env.ts.URL+"/users/login",
		map[string]string{"name": "nobody", "password": "nope"}, "", http.StatusUnauthorized)
	assert.JSONEq(t, string(wrong), string(unknown))
}

func TestLogin_RateLimited(t *testing.T) {
	env := setupTestServer(t)
	body := map[string]string{"name": "nobody", "password": "nope"}

	for i := 0; i < 3; i++ {
		sendJSONRequest(t, http.MethodPost, env.ts.URL+"/users/login", body, "", http.StatusUnauthorized)
	}
	sendJSONRequest(t, http.MethodPost, env.ts.URL+"/users/login", body, "", http.StatusTooManyRequests)
}

// postLogin sends a failed login from the given X-Forwarded-For address.
func postLogin(t *testing.T, url, forwardedFor string) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url+"/users/login",
		strings.NewReader(`{"name":"nobody","password":"nope"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", forwardedFor)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestLogin_RateLimitIgnoresForwardedFor(t *testing.T) {
	env := setupTestServer(t)

	codes := make([]int, 0, 5)
	for i := 0; i < 5; i++ {
		codes = append(codes, postLogin(t, env.ts.URL, fmt.Sprintf("10.0.0.%d", i)))
	}
	assert.Equal(t, []int{
		http.StatusUnauthorized, http.StatusUnauthorized, http.StatusUnauthorized,
		http.StatusTooManyRequests, http.StatusTooManyRequests,
	}, codes)
}

func TestLogin_TrustProxyUsesForwardedFor(t *testing.T) {
	env := setupTestServerWith(t, func(d *Deps) { d.TrustProxy = true })

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusUnauthorized, postLogin(t, env.ts.URL, fmt.Sprintf("10.0.0.%d", i)))
	}
	for i := 0; i < 3; i++ {
		postLogin(t, env.ts.URL, "10.0.0.99")
	}
	assert.Equal(t, http.StatusTooManyRequests, postLogin(t, env.ts.URL, "10.0.0.99"))
}

//
// --- Relationships ---
//

// full flow: follow twice -> [u2], unfollow twice -> []
func TestFollowUnfollowIdempotent(t *testing.T) {
	env := setupTestServer(t)
	id1, token1 := env.createUserHelper(t, "almaz")
	id2, _ := env.createUserHelper(t, "nur")

	sendJSONRequest(t, http.MethodPut, env.ts.URL+"/users/following/"+id2, nil, token1, http.StatusNoContent)
	sendJSONRequest(t, http.MethodPut, env.ts.URL+"/users/following/"+id2, nil, token1, http.StatusNoContent)

	b := sendJSONRequest(t, http.MethodGet, env.ts.URL+"/users/"+id1+"/following", nil, "", http.StatusOK)
	assert.Equal(t, []string{id2}, userIDs(decodeUsers(t, b)))

	b = sendJSONRequest(t, http.MethodGet, env.ts.URL+"/users/"+id1+"?fields=following", nil, "", http.StatusOK)
	var u models.UserView
	require.NoError(t, json.Unmarshal(b, &u))
	assert.Equal(t, []string{id2}, u.Following)

	b = sendJSONRequest(t, http.MethodGet, env.ts.URL+"/users/"+id2+"/follower", nil, "", http.StatusOK)
	assert.Equal(t, []string{id1}, userIDs(decodeUsers(t, b)))

	sendJSONRequest(t, http.MethodDelete, env.ts.URL+"/users/following/"+id2, nil, token1, http.StatusNoContent)
	sendJSONRequest(t, http.MethodDelete, env.ts.URL+"/users/following/"+id2, nil, token1, http.StatusNoContent)

	b = sendJSONRequest(t, http.MethodGet, env.ts.URL+"/users/"+id1+"/following", nil, "", http.StatusOK)
	assert.Equal(t, "[]", strings.TrimSpace(string(b)))

	b = sendJSONRequest(t, http.MethodGet, env.ts.URL+"/users/"+id2+"/follower", nil, "", http.StatusOK)
	assert.Empty(t, decodeUsers(t, b))
}

func TestFollow_Rejections(t *testing.T) {
	env := setupTestServer(t)
	id1, token1 := env.createUserHelper(t, "almaz")

	sendJSONRequest(t, http.MethodPut, env.ts.URL+"/users/following/"+id1, nil, token1, http.StatusBadRequest)
	sendJSONRequest(t, http.MethodPut, env.ts.URL+"/users/following/missing", nil, token1, http.StatusNotFound)
	sendJSONRequest(t, http.MethodDelete, env.ts.URL+"/users/following/missing", nil, token1, http.StatusNotFound)
	sendJSONRequest(t, http.MethodPut, env.ts.URL+"/users/following/"+id1, nil, "", http.StatusUnauthorized)
	sendJSONRequest(t, http.MethodPut, env.ts.URL+"/users/following/"+id1, nil, "not-a-token", http.StatusUnauthorized)
}

func TestFollow_DeletedCaller(t *testing.T) {
	env := setupTestServer(t)
	id1, token1 := env.createUserHelper(t, "almaz")
	id2, _ := env.createUserHelper(t, "nur")
	require.NoError(t, env.store.DeleteUser(context.Background(), id1))

	sendJSONRequest(t, http.MethodPut, env.ts.URL+"/users/following/"+id2, nil, token1, http.StatusUnauthorized)
	_, err := env.store.GetUser(context.Background(), id1)
	assert.ErrorIs(t, err, store.ErrUserNotFound)
}

func TestListFollowing_SkipsDeletedUsers(t *testing.T) {
	env := setupTestServer(t)
	id1, token1 := env.createUserHelper(t, "almaz")
	id2, _ := env.createUserHelper(t, "nur")
	id3, _ := env.createUserHelper(t, "aida")

	sendJSONRequest(t, http.MethodPut, env.ts.URL+"/users/following/"+id2, nil, token1, http.StatusNoContent)
	sendJSONRequest(t, http.MethodPut, env.ts.URL+"/users/following/"+id3, nil, token1, http.StatusNoContent)
	require.NoError(t, env.store.DeleteUser(context.Background(), id3))

	b := sendJSONRequest(t, http.MethodGet, env.ts.URL+"/users/"+id1+"/following", nil, "", http.StatusOK)
	assert.Equal(t, []string{id2}, userIDs(decodeUsers(t, b)))

	sendJSONRequest(t, http.MethodGet, env.ts.URL+"/users/missing/following", nil, "", http.StatusNotFound)
}

//
// --- Topics ---
//

func TestTopics(t *testing.T) {
	env := setupTestServer(t)
	_, token := env.createUserHelper(t, "almaz")

	body := map[string]string{"name": "Go", "introduction": "A programming language"}
	sendJSONRequest(t, http.MethodPost, env.ts.URL+"/topics", body, "", http.StatusUnauthorized)
	b := sendJSONRequest(t, http.MethodPost, env.ts.URL+"/topics", body, token, http.StatusCreated)

	var created models.Topic
	require.NoError(t, json.Unmarshal(b, &created))
	require.NotEmpty(t, created.ID)

	b = sendJSONRequest(t, http.MethodGet, env.ts.URL+"/topics/"+created.ID, nil, "", http.StatusOK)
	var got models.Topic
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "Go", got.Name)
	assert.Empty(t, got.Introduction)

	b = sendJSONRequest(t, http.MethodGet, env.ts.URL+"/topics/"+created.ID+"?fields=introduction", nil, "", http.StatusOK)
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "A programming language", got.Introduction)

	b = sendJSONRequest(t, http.MethodPatch, env.ts.URL+"/topics/"+created.ID,
		map[string]string{"name": "Golang"}, token, http.StatusOK)
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "Golang", got.Name)
	assert.Equal(t, "A programming language", got.Introduction)

	b = sendJSONRequest(t, http.MethodGet, env.ts.URL+"/topics", nil, "", http.StatusOK)
	var list []models.Topic
	require.NoError(t, json.Unmarshal(b, &list))
	require.Len(t, list, 1)
	assert.Empty(t, list[0].Introduction)

	sendJSONRequest(t, http.MethodGet, env.ts.URL+"/topics/missing", nil, "", http.StatusNotFound)
	sendJSONRequest(t, http.MethodPatch, env.ts.URL+"/topics/missing",
		map[string]string{"name": "x"}, token, http.StatusNotFound)
	sendJSONRequest(t, http.MethodGet, env.ts.URL+"/topics/"+created.ID+"?fields=followers", nil, "", http.StatusBadRequest)
}

//
// --- Activity and events ---
//

func TestActivity(t *testing.T) {
	env := setupTestServer(t)
	id1, token1 := env.createUserHelper(t, "almaz")
	id2, _ := env.createUserHelper(t, "nur")
	sendJSONRequest(t, http.MethodPut, env.ts.URL+"/users/following/"+id2, nil, token1, http.StatusNoContent)

	b := sendJSONRequest(t, http.MethodGet, env.ts.URL+"/users/"+id1+"/activity", nil, "", http.StatusOK)
	var entries []models.Activity
	require.NoError(t, json.Unmarshal(b, &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, appkafka.Followed, entries[0].Kind)
	assert.Equal(t, id2, entries[0].TargetID)
	assert.Equal(t, appkafka.UserCreated, entries[1].Kind)

	b = sendJSONRequest(t, http.MethodGet, env.ts.URL+"/users/"+id1+"/activity?limit=1", nil, "", http.StatusOK)
	require.NoError(t, json.Unmarshal(b, &entries))
	assert.Len(t, entries, 1)

	sendJSONRequest(t, http.MethodGet, env.ts.URL+"/users/"+id1+"/activity?limit=abc", nil, "", http.StatusBadRequest)
}

func TestPublishFailureDoesNotFailRequest(t *testing.T) {
	env := setupTestServerWith(t, func(d *Deps) { d.KafkaWriter = &appkafka.MockKafkaFail{} })
	env.createUserHelper(t, "almaz")
}

func TestStoreFailure(t *testing.T) {
	env := setupTestServerWith(t, func(d *Deps) { d.Store = store.MockStoreFail{} })

	b := sendJSONRequest(t, http.MethodGet, env.ts.URL+"/users", nil, "", http.StatusInternalServerError)
	assert.JSONEq(t, `{"error":"internal error"}`, string(b))
}

func TestHealthAndMetrics(t *testing.T) {
	env := setupTestServer(t)

	sendJSONRequest(t, http.MethodGet, env.ts.URL+"/healthz", nil, "", http.StatusOK)
	b := sendJSONRequest(t, http.MethodGet, env.ts.URL+"/metrics", nil, "", http.StatusOK)
	assert.Contains(t, string(b), "zhihu_api_http_requests_total")
}

package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	appkafka "github.com/ykst615/learn-zhihu-api/internal/broker"
	"github.com/ykst615/learn-zhihu-api/internal/middleware"
	"github.com/ykst615/learn-zhihu-api/internal/models"
	"github.com/ykst615/learn-zhihu-api/internal/store"
)

const (
	defaultActivityLimit = 20
	maxActivityLimit     = 100
)

// --- HTTP Handlers ---

// createUserHandler handles POST /users.
// Expects JSON body: {"name": "example", "password": "secret"}
// Returns 201 with the user's base fields.
func (s *Server) createUserHandler(w http.ResponseWriter, r *http.Request) {
	var body createUserRequest
	if err := decodeJSON(w, r, &body); err != nil {
		logg.Debug("http/users", "Invalid request body: "+err.Error())
		middleware.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.validate.Struct(body); err != nil {
		respondValidation(w, err)
		return
	}

	hash, err := s.passwords.Hash(body.Password)
	if err != nil {
		respondErr(w, "http/users", "Failed to hash password", err)
		return
	}
	gender := body.Gender
	if gender == "" {
		gender = "unknown"
	}

	u, err := s.store.CreateUser(r.Context(), models.User{
		Name:         body.Name,
		PasswordHash: hash,
		AvatarURL:    body.AvatarURL,
		Gender:       gender,
		Headline:     body.Headline,
	})
	if err != nil {
		respondErr(w, "http/users", "Failed to create user", err)
		return
	}

	logg.Info("http/users", "User created successfully with user_id="+u.ID)
	s.publish(appkafka.UserCreated, u.ID, u.ID)
	middleware.RespondJSON(w, http.StatusCreated, models.BaseUserView(u))
}

// loginHandler exchanges a name and password for a bearer token.
func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if err := decodeJSON(w, r, &body); err != nil {
		middleware.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.validate.Struct(body); err != nil {
		respondValidation(w, err)
		return
	}

	u, err := s.store.GetUserByName(r.Context(), body.Name)
	if errors.Is(err, store.ErrUserNotFound) {
		err = s.passwords.VerifyMissing(body.Password)
	} else if err == nil {
		err = s.passwords.Verify(u.PasswordHash, body.Password)
	}
	if err != nil {
		respondErr(w, "http/login", "Login failed", err)
		return
	}

	token, err := s.tokens.Issue(u.ID, u.Name)
	if err != nil {
		respondErr(w, "http/login", "Failed to sign token", err)
		return
	}
	logg.Info("http/login", "User logged in user_id="+u.ID)
	middleware.RespondJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) listUsersHandler(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		respondErr(w, "http/users", "Failed to list users", err)
		return
	}
	middleware.RespondJSON(w, http.StatusOK, models.BaseUserViews(users))
}

// getUserHandler returns one user. Query parameters: ?fields=locations;business
func (s *Server) getUserHandler(w http.ResponseWriter, r *http.Request) {
	sel, err := models.UserProjection.Parse(r.URL.Query().Get("fields"))
	if err != nil {
		respondErr(w, "http/users", "Invalid fields parameter", err)
		return
	}

	u, err := s.store.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, "http/users", "Failed to get user", err)
		return
	}

	var topics map[string]models.Topic
	if needsTopics(sel) {
		if ids := u.TopicIDs(); len(ids) > 0 {
			topics, err = s.store.GetTopics(r.Context(), ids)
			if err != nil {
				respondErr(w, "http/users", "Failed to resolve topics for user_id="+u.ID, err)
				return
			}
		}
	}
	middleware.RespondJSON(w, http.StatusOK, models.NewUserView(u, sel, topics))
}

func needsTopics(sel models.Selection) bool {
	return sel.Has("locations") || sel.Has("business") || sel.Has("employments") || sel.Has("educations")
}

// updateUserHandler merges the supplied fields into the caller's profile.
func (s *Server) updateUserHandler(w http.ResponseWriter, r *http.Request) {
	var body updateUserRequest
	if err := decodeJSON(w, r, &body); err != nil {
		middleware.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.validate.Struct(body); err != nil {
		respondValidation(w, err)
		return
	}

	patch := body.patch()
	if body.Password != nil {
		hash, err := s.passwords.Hash(*body.Password)
		if err != nil {
			respondErr(w, "http/users", "Failed to hash password", err)
			return
		}
		patch.PasswordHash = &hash
	}

	id := chi.URLParam(r, "id")
	if err := s.store.UpdateUser(r.Context(), id, patch); err != nil {
		respondErr(w, "http/users", "Failed to update user_id="+id, err)
		return
	}

	logg.Info("http/users", "User updated user_id="+id)
	s.publish(appkafka.UserUpdated, id, id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteUserHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.DeleteUser(r.Context(), id); err != nil {
		respondErr(w, "http/users", "Failed to delete user_id="+id, err)
		return
	}

	logg.Info("http/users", "User deleted user_id="+id)
	s.publish(appkafka.UserDeleted, id, id)
	w.WriteHeader(http.StatusNoContent)
}

// --- Relationships ---

// caller returns the authenticated user, answering 401 when the token's
// subject no longer exists.
func (s *Server) caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		middleware.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	if _, err := s.store.GetUser(r.Context(), id.ID); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			middleware.RespondError(w, http.StatusUnauthorized, "unauthorized")
			return "", false
		}
		respondErr(w, "http/follow", "Failed to load caller", err)
		return "", false
	}
	return id.ID, true
}

// followHandler adds the target to the caller's following set. Following
// twice is a no-op.
func (s *Server) followHandler(w http.ResponseWriter, r *http.Request) {
	actorID, ok := s.caller(w, r)
	if !ok {
		return
	}
	targetID := chi.URLParam(r, "id")

	if err := s.store.Follow(r.Context(), actorID, targetID); err != nil {
		respondErr(w, "http/follow", "Failed to follow", err)
		return
	}

	logg.Info("http/follow", "User "+actorID+" followed "+targetID)
	s.publish(appkafka.Followed, actorID, targetID)
	w.WriteHeader(http.StatusNoContent)
}

// unfollowHandler removes the target from the caller's following set.
// Unfollowing a user that is not followed is a no-op.
func (s *Server) unfollowHandler(w http.ResponseWriter, r *http.Request) {
	actorID, ok := s.caller(w, r)
	if !ok {
		return
	}
	targetID := chi.URLParam(r, "id")

	if err := s.store.Unfollow(r.Context(), actorID, targetID); err != nil {
		respondErr(w, "http/follow", "Failed to unfollow", err)
		return
	}

	logg.Info("http/follow", "User "+actorID+" unfollowed "+targetID)
	s.publish(appkafka.Unfollowed, actorID, targetID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listFollowingHandler(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListFollowing(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, "http/follow", "Failed to list following", err)
		return
	}
	middleware.RespondJSON(w, http.StatusOK, models.BaseUserViews(users))
}

func (s *Server) listFollowersHandler(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListFollowers(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, "http/follow", "Failed to list followers", err)
		return
	}
	middleware.RespondJSON(w, http.StatusOK, models.BaseUserViews(users))
}

// listActivityHandler returns the user's newest activity first.
// Query parameters: ?limit=20
func (s *Server) listActivityHandler(w http.ResponseWriter, r *http.Request) {
	limit := defaultActivityLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		l, err := strconv.Atoi(raw)
		if err != nil || l <= 0 {
			middleware.RespondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(l, maxActivityLimit)
	}

	userID := chi.URLParam(r, "id")
	entries, err := s.store.ListActivity(r.Context(), userID, limit)
	if err != nil {
		respondErr(w, "http/activity", "Failed to get activity for user_id="+userID, err)
		return
	}
	middleware.RespondJSON(w, http.StatusOK, entries)
}

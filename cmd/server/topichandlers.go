package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	appkafka "github.com/ykst615/learn-zhihu-api/internal/broker"
	"github.com/ykst615/learn-zhihu-api/internal/middleware"
	"github.com/ykst615/learn-zhihu-api/internal/models"
)

// --- Topic handlers ---

func (s *Server) listTopicsHandler(w http.ResponseWriter, r *http.Request) {
	topics, err := s.store.ListTopics(r.Context())
	if err != nil {
		respondErr(w, "http/topics", "Failed to list topics", err)
		return
	}
	out := make([]models.Topic, 0, len(topics))
	for _, t := range topics {
		out = append(out, models.TopicView(t, nil))
	}
	middleware.RespondJSON(w, http.StatusOK, out)
}

// getTopicHandler returns one topic. Query parameters: ?fields=introduction
func (s *Server) getTopicHandler(w http.ResponseWriter, r *http.Request) {
	sel, err := models.TopicProjection.Parse(r.URL.Query().Get("fields"))
	if err != nil {
		respondErr(w, "http/topics", "Invalid fields parameter", err)
		return
	}

	t, err := s.store.GetTopic(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, "http/topics", "Failed to get topic", err)
		return
	}
	middleware.RespondJSON(w, http.StatusOK, models.TopicView(t, sel))
}

func (s *Server) createTopicHandler(w http.ResponseWriter, r *http.Request) {
	var body createTopicRequest
	if err := decodeJSON(w, r, &body); err != nil {
		middleware.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.validate.Struct(body); err != nil {
		respondValidation(w, err)
		return
	}

	t, err := s.store.CreateTopic(r.Context(), models.Topic{
		Name:         body.Name,
		AvatarURL:    body.AvatarURL,
		Introduction: body.Introduction,
	})
	if err != nil {
		respondErr(w, "http/topics", "Failed to create topic", err)
		return
	}

	caller, _ := middleware.IdentityFromContext(r.Context())
	logg.Info("http/topics", "Topic created topic_id="+t.ID)
	s.publish(appkafka.TopicCreated, caller.ID, t.ID)
	middleware.RespondJSON(w, http.StatusCreated, t)
}

func (s *Server) updateTopicHandler(w http.ResponseWriter, r *http.Request) {
	var body updateTopicRequest
	if err := decodeJSON(w, r, &body); err != nil {
		middleware.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.validate.Struct(body); err != nil {
		respondValidation(w, err)
		return
	}

	id := chi.URLParam(r, "id")
	t, err := s.store.UpdateTopic(r.Context(), id, models.TopicPatch{
		Name:         body.Name,
		AvatarURL:    body.AvatarURL,
		Introduction: body.Introduction,
	})
	if err != nil {
		respondErr(w, "http/topics", "Failed to update topic_id="+id, err)
		return
	}

	caller, _ := middleware.IdentityFromContext(r.Context())
	logg.Info("http/topics", "Topic updated topic_id="+id)
	s.publish(appkafka.TopicUpdated, caller.ID, t.ID)
	middleware.RespondJSON(w, http.StatusOK, t)
}

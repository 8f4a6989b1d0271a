package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/ykst615/learn-zhihu-api/internal/auth"
	appkafka "github.com/ykst615/learn-zhihu-api/internal/broker"
	config "github.com/ykst615/learn-zhihu-api/internal/init"
	"github.com/ykst615/learn-zhihu-api/internal/logger"
	"github.com/ykst615/learn-zhihu-api/internal/middleware"
	"github.com/ykst615/learn-zhihu-api/internal/store"
)

type Server struct {
	store       store.StoreInterface
	publisher   *appkafka.Publisher
	tokens      *auth.Tokens
	passwords   *auth.Passwords
	validate    *validator.Validate
	limiter     middleware.RateLimiter
	metrics     *middleware.Metrics
	loginLimit  int
	loginWindow time.Duration
	trustProxy  bool
}

// Deps are the collaborators a Server is built from.
type Deps struct {
	Store       store.StoreInterface
	KafkaWriter appkafka.KafkaWriter // nil disables event publishing
	Tokens      *auth.Tokens
	Passwords   *auth.Passwords
	Limiter     middleware.RateLimiter // nil disables login rate limiting
	Registry    *prometheus.Registry
	LoginLimit  int
	LoginWindow time.Duration
	TrustProxy  bool // take the client address from X-Forwarded-For / X-Real-IP
}

var logg = logger.New()

// New wires a Server. A nil Registry gets a fresh one.
func New(d Deps) *Server {
	reg := d.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	s := &Server{
		store:       d.Store,
		tokens:      d.Tokens,
		passwords:   d.Passwords,
		validate:    newValidator(),
		limiter:     d.Limiter,
		metrics:     middleware.NewMetrics(reg),
		loginLimit:  d.LoginLimit,
		loginWindow: d.LoginWindow,
		trustProxy:  d.TrustProxy,
	}
	if d.KafkaWriter != nil {
		s.publisher = appkafka.NewPublisher(d.KafkaWriter)
	}
	return s
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	if s.trustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(chimw.Recoverer)
	r.Use(s.metrics.Instrument)

	requireAuth := middleware.JWTAuth(s.tokens)
	requireOwner := middleware.RequireOwner("id")

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		middleware.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/users", func(r chi.Router) {
		r.Get("/", s.listUsersHandler)
		r.Post("/", s.createUserHandler)
		r.With(middleware.RateLimit(s.limiter, "login", s.loginLimit, s.loginWindow, s.metrics)).
			Post("/login", s.loginHandler)

		r.With(requireAuth, s.requireUserExists("id")).Put("/following/{id}", s.followHandler)
		r.With(requireAuth, s.requireUserExists("id")).Delete("/following/{id}", s.unfollowHandler)

		r.Get("/{id}", s.getUserHandler)
		r.With(requireAuth, requireOwner).Patch("/{id}", s.updateUserHandler)
		r.With(requireAuth, requireOwner).Delete("/{id}", s.deleteUserHandler)
		r.Get("/{id}/following", s.listFollowingHandler)
		r.Get("/{id}/follower", s.listFollowersHandler)
		r.Get("/{id}/activity", s.listActivityHandler)
	})

	r.Route("/topics", func(r chi.Router) {
		r.Get("/", s.listTopicsHandler)
		r.With(requireAuth).Post("/", s.createTopicHandler)
		r.Get("/{id}", s.getTopicHandler)
		r.With(requireAuth).Patch("/{id}", s.updateTopicHandler)
	})

	return r
}

// requireUserExists answers 404 unless the user named by param exists.
func (s *Server) requireUserExists(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := s.store.GetUser(r.Context(), chi.URLParam(r, param)); err != nil {
				respondErr(w, "http/users", "Target user lookup failed", err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// publish records an event; failures are logged because the write it
// describes has already been committed.
func (s *Server) publish(kind, actorID, targetID string) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(appkafka.NewEvent(kind, actorID, targetID)); err != nil {
		logg.Error("http/events", "Failed to publish "+kind+" event", err)
	}
}

// Run starts the HTTP(S) server and shuts it down gracefully when ctx ends.
func Run(ctx context.Context, cfg *config.Config, st store.StoreInterface, writer appkafka.KafkaWriter, limiter middleware.RateLimiter) error {
	tokens, err := auth.NewTokens(cfg.JWTSecret, cfg.JWTTTL)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	s := New(Deps{
		Store:       st,
		KafkaWriter: writer,
		Tokens:      tokens,
		Passwords:   auth.NewPasswords(cfg.BcryptCost),
		Limiter:     limiter,
		Registry:    reg,
		LoginLimit:  cfg.LoginRateLimit,
		LoginWindow: cfg.LoginRateWindow,
		TrustProxy:  cfg.TrustProxyHeaders,
	})

	srv := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second, // prevent slowloris attacks
		WriteTimeout:      10 * time.Second,
	}

	errCh := make(chan error, 1)

	// --- Start server in a goroutine ---
	go func() {
		var err error
		if cfg.TLSCertFile != "" {
			logg.Info("server", "Starting HTTPS server on "+cfg.ServerAddr)
			err = srv.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			logg.Info("server", "Starting HTTP server on "+cfg.ServerAddr)
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error("server", "Server stopped unexpectedly", err)
			errCh <- err
		}
	}()

	// --- Graceful shutdown ---
	select {
	case <-ctx.Done():
		logg.Info("server", "Shutdown signal received")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logg.Error("server", "Error during server shutdown", err)
		return err
	}
	logg.Info("server", "Server stopped gracefully")
	return nil
}

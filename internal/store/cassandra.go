package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/gocql/gocql"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/cassandra"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	config "github.com/ykst615/learn-zhihu-api/internal/init"
	"github.com/ykst615/learn-zhihu-api/internal/logger"
	"github.com/ykst615/learn-zhihu-api/internal/models"
)

var logg = logger.New()

// --- Interfaces ---

type SessionInterface interface {
	Query(stmt string, values ...interface{}) *gocql.Query
	NewBatch(batchType gocql.BatchType) *gocql.Batch
	ExecuteBatch(batch *gocql.Batch) error
	Close()
}

type StoreInterface interface {
	// Users
	CreateUser(ctx context.Context, u models.User) (models.User, error)
	GetUser(ctx context.Context, id string) (models.User, error)
	GetUserByName(ctx context.Context, name string) (models.User, error)
	GetUsers(ctx context.Context, ids []string) ([]models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	UpdateUser(ctx context.Context, id string, patch models.UserPatch) error
	DeleteUser(ctx context.Context, id string) error

	// Relationships
	Follow(ctx context.Context, actorID, targetID string) error
	Unfollow(ctx context.Context, actorID, targetID string) error
	ListFollowing(ctx context.Context, id string) ([]models.User, error)
	ListFollowers(ctx context.Context, id string) ([]models.User, error)

	// Topics
	CreateTopic(ctx context.Context, t models.Topic) (models.Topic, error)
	GetTopic(ctx context.Context, id string) (models.Topic, error)
	GetTopics(ctx context.Context, ids []string) (map[string]models.Topic, error)
	ListTopics(ctx context.Context) ([]models.Topic, error)
	UpdateTopic(ctx context.Context, id string, patch models.TopicPatch) (models.Topic, error)

	// Activity
	AddActivity(ctx context.Context, a models.Activity) error
	ListActivity(ctx context.Context, userID string, limit int) ([]models.Activity, error)

	Close()
}

// --- Store Implementation ---

type Store struct {
	Session SessionInterface
}

// New ensures the keyspace and schema exist and opens a session.
func New(cfg *config.Config) (StoreInterface, error) {
	if err := Migrate(cfg); err != nil {
		return nil, err
	}

	cluster := newCluster(cfg)
	cluster.Keyspace = cfg.CassandraKeyspace
	cluster.Consistency = gocql.Quorum

	sess, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create Cassandra session: %w", err)
	}

	logg.Info("store", "Connected to Cassandra keyspace (host anonymized)")
	return &Store{Session: sess}, nil
}

// Migrate creates the keyspace when missing and applies pending migrations.
func Migrate(cfg *config.Config) error {
	if err := ensureKeyspace(cfg); err != nil {
		return fmt.Errorf("failed to ensure keyspace: %w", err)
	}
	if err := runMigrations(cfg); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func newCluster(cfg *config.Config) *gocql.ClusterConfig {
	cluster := gocql.NewCluster(cfg.CassandraHost)
	cluster.Timeout = cfg.CassandraTimeout
	cluster.ConnectTimeout = cfg.CassandraTimeout

	if cfg.CassandraUsername != "" && cfg.CassandraPassword != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.CassandraUsername,
			Password: cfg.CassandraPassword,
		}
	}

	if cfg.CassandraDC != "" {
		cluster.HostFilter = gocql.DataCentreHostFilter(cfg.CassandraDC)
	}
	return cluster
}

// --- Ensure keyspace exists before migrations ---

func ensureKeyspace(cfg *config.Config) error {
	cluster := newCluster(cfg)
	cluster.Keyspace = "system"
	sess, err := cluster.CreateSession()
	if err != nil {
		return fmt.Errorf("failed to connect to Cassandra system keyspace: %w", err)
	}
	defer sess.Close()

	query := fmt.Sprintf(`
        CREATE KEYSPACE IF NOT EXISTS %s
        WITH replication = {'class': 'SimpleStrategy', 'replication_factor': 1};
    `, cfg.CassandraKeyspace)

	if err := sess.Query(query).Exec(); err != nil {
		return fmt.Errorf("failed to create keyspace: %w", err)
	}

	logg.Info("store", "Ensured Cassandra keyspace exists (keyspace name anonymized)")
	return nil
}

// --- Migration runner ---

func runMigrations(cfg *config.Config) error {
	sourceURL := fmt.Sprintf("file://%s", cfg.MigrationsPath)
	dbURL := fmt.Sprintf(
		"cassandra://%s/%s?x-migrations-table=schema_migrations&x-multi-statement=true",
		cfg.CassandraHost, cfg.CassandraKeyspace,
	)
	if cfg.CassandraUsername != "" && cfg.CassandraPassword != "" {
		dbURL += "&username=" + url.QueryEscape(cfg.CassandraUsername) + "&password=" + url.QueryEscape(cfg.CassandraPassword)
	}

	m, err := migrate.New(sourceURL, dbURL)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		logg.Info("store", "No new migrations to apply")
	} else {
		logg.Info("store", "Migrations applied successfully")
	}
	return nil
}

// Close gracefully closes Cassandra session.
func (s *Store) Close() {
	if s.Session != nil {
		s.Session.Close()
		logg.Info("store", "Cassandra session closed")
	}
}

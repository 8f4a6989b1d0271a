package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	// App mode & server
	Mode        string
	ServerAddr  string
	TLSCertFile string
	TLSKeyFile  string
	LogLevel    string

	// Auth
	JWTSecret  string
	JWTTTL     time.Duration
	BcryptCost int

	// Login rate limiting (Redis when RedisAddr is set, in-memory otherwise)
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	LoginRateLimit  int
	LoginRateWindow time.Duration

	// Only enable behind a proxy that overwrites X-Forwarded-For
	TrustProxyHeaders bool

	// Kafka
	KafkaBroker  string
	KafkaTopic   string
	KafkaGroupID string
	KafkaReadTO  time.Duration
	KafkaWriteTO time.Duration
	WorkerCount  int

	// Cassandra
	CassandraHost     string
	CassandraKeyspace string
	CassandraUsername string
	CassandraPassword string
	CassandraTimeout  time.Duration
	CassandraDC       string
	MigrationsPath    string
}

// Init loads the config using a fresh Viper instance and returns it.
// The result is meant to be passed explicitly to every component.
func Init() *Config {
	return load(viper.New())
}

func load(v *viper.Viper) *Config {
	v.SetDefault("MODE", "server")
	v.SetDefault("SERVER_ADDR", ":8080")
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("JWT_TTL", "24h")
	v.SetDefault("BCRYPT_COST", 10)

	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("LOGIN_RATE_LIMIT", 10)
	v.SetDefault("LOGIN_RATE_WINDOW", "1m")
	v.SetDefault("TRUST_PROXY_HEADERS", false)

	v.SetDefault("KAFKA_BROKER", "localhost:29092")
	v.SetDefault("KAFKA_TOPIC", "user-activity")
	v.SetDefault("KAFKA_GROUP_ID", "activity-worker")
	v.SetDefault("KAFKA_READ_TIMEOUT", "10s")
	v.SetDefault("KAFKA_WRITE_TIMEOUT", "10s")
	v.SetDefault("WORKER_COUNT", 0)

	v.SetDefault("CASSANDRA_HOST", "localhost")
	v.SetDefault("CASSANDRA_KEYSPACE", "zhihu")
	v.SetDefault("CASSANDRA_TIMEOUT", "10s")
	v.SetDefault("MIGRATIONS_PATH", "./migrations/cassandra")
	// Optional: Cassandra username/password/DC, TLS files and Redis can be empty

	// Load env variables
	v.AutomaticEnv()

	// Optional config file support
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	_ = v.ReadInConfig() // ignore error if no file

	return &Config{
		Mode:              v.GetString("MODE"),
		ServerAddr:        v.GetString("SERVER_ADDR"),
		TLSCertFile:       v.GetString("TLS_CERT_FILE"),
		TLSKeyFile:        v.GetString("TLS_KEY_FILE"),
		LogLevel:          v.GetString("LOG_LEVEL"),
		JWTSecret:         v.GetString("JWT_SECRET"),
		JWTTTL:            parseDuration(v.GetString("JWT_TTL"), 24*time.Hour),
		BcryptCost:        v.GetInt("BCRYPT_COST"),
		RedisAddr:         v.GetString("REDIS_ADDR"),
		RedisPassword:     v.GetString("REDIS_PASSWORD"),
		RedisDB:           v.GetInt("REDIS_DB"),
		LoginRateLimit:    v.GetInt("LOGIN_RATE_LIMIT"),
		LoginRateWindow:   parseDuration(v.GetString("LOGIN_RATE_WINDOW"), time.Minute),
		TrustProxyHeaders: v.GetBool("TRUST_PROXY_HEADERS"),
		KafkaBroker:       v.GetString("KAFKA_BROKER"),
		KafkaTopic:        v.GetString("KAFKA_TOPIC"),
		KafkaGroupID:      v.GetString("KAFKA_GROUP_ID"),
		KafkaReadTO:       parseDuration(v.GetString("KAFKA_READ_TIMEOUT"), 10*time.Second),
		KafkaWriteTO:      parseDuration(v.GetString("KAFKA_WRITE_TIMEOUT"), 10*time.Second),
		WorkerCount:       v.GetInt("WORKER_COUNT"),
		CassandraHost:     v.GetString("CASSANDRA_HOST"),
		CassandraKeyspace: v.GetString("CASSANDRA_KEYSPACE"),
		CassandraUsername: v.GetString("CASSANDRA_USERNAME"),
		CassandraPassword: v.GetString("CASSANDRA_PASSWORD"),
		CassandraTimeout:  parseDuration(v.GetString("CASSANDRA_TIMEOUT"), 10*time.Second),
		CassandraDC:       v.GetString("CASSANDRA_DC"),
		MigrationsPath:    v.GetString("MIGRATIONS_PATH"),
	}
}

// Validate reports configuration that would make the server unusable.
func (c *Config) Validate() error {
	if c.Mode == "server" && len(c.JWTSecret) < 32 {
		return errors.New("JWT_SECRET must be at least 32 characters")
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return errors.New("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}
	return nil
}

func parseDuration(s string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

package appkafka

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaWriter defines an interface for writing messages to Kafka.
type KafkaWriter interface {
	WriteMessages(messages ...kafka.Message) error
	Close() error
}

// KafkaReader defines an interface for reading messages from Kafka.
type KafkaReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaConfig holds configuration parameters for Kafka.
type KafkaConfig struct {
	Brokers      []string      // list of Kafka brokers
	Topic        string        // topic name
	WriteTimeout time.Duration // write timeout duration
	ReadTimeout  time.Duration // max wait for a fetch (used for consumer group)
	GroupID      string        // consumer group ID
}

func (cfg *KafkaConfig) applyDefaults() {
	if len(cfg.Brokers) == 0 {
		cfg.Brokers = []string{"localhost:9092"}
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
}

// RealKafkaWriter implements KafkaWriter with a hash-balanced kafka.Writer,
// so messages with the same key land on the same partition.
type RealKafkaWriter struct {
	writer *kafka.Writer
	config KafkaConfig
}

// NewKafkaWriter creates a new Kafka writer.
func NewKafkaWriter(cfg KafkaConfig) (*RealKafkaWriter, error) {
	cfg.applyDefaults()
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		WriteTimeout:           cfg.WriteTimeout,
		AllowAutoTopicCreation: true,
	}
	return &RealKafkaWriter{writer: w, config: cfg}, nil
}

func (w *RealKafkaWriter) WriteMessages(messages ...kafka.Message) error {
	if w.writer == nil {
		return errors.New("kafka writer is nil")
	}
	ctx, cancel := context.WithTimeout(context.Background(), w.config.WriteTimeout)
	defer cancel()
	return w.writer.WriteMessages(ctx, messages...)
}

func (w *RealKafkaWriter) Close() error {
	if w.writer != nil {
		return w.writer.Close()
	}
	return nil
}

// RealKafkaReader implements KafkaReader using kafka.Reader (consumer group).
type RealKafkaReader struct {
	reader *kafka.Reader
}

// NewKafkaReader creates a new Kafka consumer group reader.
func NewKafkaReader(cfg KafkaConfig) KafkaReader {
	cfg.applyDefaults()

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          cfg.Topic,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        cfg.ReadTimeout,
		CommitInterval: time.Second,
	})
	return &RealKafkaReader{reader: r}
}

func (r *RealKafkaReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	return r.reader.ReadMessage(ctx)
}

func (r *RealKafkaReader) Close() error {
	return r.reader.Close()
}

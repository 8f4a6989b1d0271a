package appkafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/segmentio/kafka-go"
	"github.com/ykst615/learn-zhihu-api/internal/models"
)

// Event kinds published after successful writes.
const (
	UserCreated  = "user_created"
	UserUpdated  = "user_updated"
	UserDeleted  = "user_deleted"
	Followed     = "followed"
	Unfollowed   = "unfollowed"
	TopicCreated = "topic_created"
	TopicUpdated = "topic_updated"
)

var ErrUnknownKind = errors.New("unknown event kind")

// Event describes one action taken by a user.
type Event struct {
	ID       string    `json:"id"`
	Kind     string    `json:"kind"`
	ActorID  string    `json:"actor_id"`
	TargetID string    `json:"target_id,omitempty"`
	Created  time.Time `json:"created"`
}

// NewEvent stamps an event with a time-based id usable as a Cassandra timeuuid.
func NewEvent(kind, actorID, targetID string) Event {
	return Event{
		ID:       gocql.TimeUUID().String(),
		Kind:     kind,
		ActorID:  actorID,
		TargetID: targetID,
		Created:  time.Now().UTC(),
	}
}

// Validate checks the fields the worker relies on.
func (e Event) Validate() error {
	switch e.Kind {
	case UserCreated, UserUpdated, UserDeleted, Followed, Unfollowed, TopicCreated, TopicUpdated:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
	if e.ID == "" || e.ActorID == "" {
		return errors.New("event id and actor id are required")
	}
	return nil
}

// Activity converts the event into the actor's activity log entry.
func (e Event) Activity() models.Activity {
	return models.Activity{
		UserID:   e.ActorID,
		EventID:  e.ID,
		Kind:     e.Kind,
		TargetID: e.TargetID,
		Created:  e.Created,
	}
}

// Encode keys the message by actor so one user's events stay ordered
// within a partition.
func Encode(e Event) (kafka.Message, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal event: %w", err)
	}
	return kafka.Message{Key: []byte(e.ActorID), Value: data}, nil
}

func Decode(msg kafka.Message) (Event, error) {
	var e Event
	if err := json.Unmarshal(msg.Value, &e); err != nil {
		return Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}

// Publisher sends events to Kafka.
type Publisher struct {
	writer KafkaWriter
}

func NewPublisher(w KafkaWriter) *Publisher {
	return &Publisher{writer: w}
}

func (p *Publisher) Publish(e Event) error {
	msg, err := Encode(e)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(msg); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

package appkafka

import (
	"context"
	"errors"
	"sync"

	"github.com/segmentio/kafka-go"
	"github.com/ykst615/learn-zhihu-api/internal/store"
)

// MockKafka records written messages and, when Store is set, applies them to
// the activity log right away the way the worker would.
type MockKafka struct {
	mu              sync.Mutex
	Store           store.StoreInterface
	WrittenMessages []kafka.Message // stores messages written via WriteMessages
	ReadMessages    []kafka.Message // queue of messages to be read via ReadMessage
	ShouldFail      bool            // flag to simulate failures during write or read operations
}

// WriteMessages stores the messages and mirrors them into the activity log.
func (m *MockKafka) WriteMessages(messages ...kafka.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return errors.New("mock kafka write failed")
	}
	m.WrittenMessages = append(m.WrittenMessages, messages...)

	if m.Store == nil {
		return nil
	}
	for _, msg := range messages {
		e, err := Decode(msg)
		if err != nil {
			return err
		}
		if err := m.Store.AddActivity(context.Background(), e.Activity()); err != nil {
			return err
		}
	}
	return nil
}

// Written returns the events written so far.
func (m *MockKafka) Written() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := make([]Event, 0, len(m.WrittenMessages))
	for _, msg := range m.WrittenMessages {
		if e, err := Decode(msg); err == nil {
			events = append(events, e)
		}
	}
	return events
}

// ReadMessage pops the next queued message.
func (m *MockKafka) ReadMessage(ctx context.Context) (kafka.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return kafka.Message{}, errors.New("mock kafka read failed")
	}
	if len(m.ReadMessages) == 0 {
		return kafka.Message{}, errors.New("no messages")
	}
	// Take the first message from the queue and remove it
	msg := m.ReadMessages[0]
	m.ReadMessages = m.ReadMessages[1:]
	return msg, nil
}

// Close is a no-op.
func (m *MockKafka) Close() error { return nil }

// MockKafkaFail always fails.
type MockKafkaFail struct{}

func (m *MockKafkaFail) WriteMessages(messages ...kafka.Message) error {
	return errors.New("mock kafka write failed")
}

func (m *MockKafkaFail) ReadMessage(ctx context.Context) (kafka.Message, error) {
	return kafka.Message{}, errors.New("mock kafka read failed")
}

func (m *MockKafkaFail) Close() error { return nil }

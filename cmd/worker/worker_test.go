package worker

import (
	"context"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appkafka "github.com/ykst615/learn-zhihu-api/internal/broker"
	"github.com/ykst615/learn-zhihu-api/internal/store"
)

// runWorkerOnce processes a single Kafka message for testing.
func runWorkerOnce(ctx context.Context, st store.StoreInterface, kafkaReader appkafka.KafkaReader) error {
	msg, err := kafkaReader.ReadMessage(ctx)
	if err != nil {
		return err
	}
	if len(msg.Value) == 0 {
		return nil
	}
	return New(st, kafkaReader, 1, 1).handle(ctx, msg)
}

func encode(t *testing.T, e appkafka.Event) kafka.Message {
	t.Helper()
	msg, err := appkafka.Encode(e)
	require.NoError(t, err)
	return msg
}

// ---------- Positive tests ----------

func TestWorker_RecordsActivity(t *testing.T) {
	mockStore := store.NewMock()
	e := appkafka.NewEvent(appkafka.Followed, "u1", "u2")

	mockKafka := &appkafka.MockKafka{
		ReadMessages: []kafka.Message{encode(t, e)},
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, runWorkerOnce(ctx, mockStore, mockKafka))

	entries, err := mockStore.ListActivity(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, e.ID, entries[0].EventID)
	assert.Equal(t, appkafka.Followed, entries[0].Kind)
	assert.Equal(t, "u2", entries[0].TargetID)
}

func TestWorker_RedeliveryIsIdempotent(t *testing.T) {
	mockStore := store.NewMock()
	msg := encode(t, appkafka.NewEvent(appkafka.UserUpdated, "u1", "u1"))

	mockKafka := &appkafka.MockKafka{ReadMessages: []kafka.Message{msg, msg}}
	ctx := context.Background()

	require.NoError(t, runWorkerOnce(ctx, mockStore, mockKafka))
	require.NoError(t, runWorkerOnce(ctx, mockStore, mockKafka))

	entries, err := mockStore.ListActivity(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// ---------- Negative tests ----------

// Simulate Kafka read error
func TestWorker_KafkaReadError(t *testing.T) {
	mockStore := store.NewMock()
	mockKafka := &appkafka.MockKafkaFail{}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.Error(t, runWorkerOnce(ctx, mockStore, mockKafka))
}

func TestWorker_InvalidEventJSON(t *testing.T) {
	mockStore := store.NewMock()
	mockKafka := &appkafka.MockKafka{
		ReadMessages: []kafka.Message{
			{Value: []byte("{invalid-json}")},
		},
	}

	require.Error(t, runWorkerOnce(context.Background(), mockStore, mockKafka))
}

func TestWorker_UnknownKind(t *testing.T) {
	mockStore := store.NewMock()
	mockKafka := &appkafka.MockKafka{
		ReadMessages: []kafka.Message{
			{Value: []byte(`{"id":"e1","kind":"post_created","actor_id":"u1"}`)},
		},
	}

	err := runWorkerOnce(context.Background(), mockStore, mockKafka)
	require.ErrorIs(t, err, appkafka.ErrUnknownKind)
}

// Simulate store failure when recording activity
func TestWorker_StoreAddActivityFail(t *testing.T) {
	mockKafka := &appkafka.MockKafka{
		ReadMessages: []kafka.Message{encode(t, appkafka.NewEvent(appkafka.UserCreated, "u1", "u1"))},
	}

	require.Error(t, runWorkerOnce(context.Background(), store.MockStoreFail{}, mockKafka))
}

func TestWorker_EmptyKafkaMessage(t *testing.T) {
	mockStore := store.NewMock()
	mockKafka := &appkafka.MockKafka{
		ReadMessages: []kafka.Message{{Value: nil}},
	}

	require.NoError(t, runWorkerOnce(context.Background(), mockStore, mockKafka))
}

func TestWaitWithContext(t *testing.T) {
	assert.True(t, waitWithContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, waitWithContext(ctx, time.Second))
}

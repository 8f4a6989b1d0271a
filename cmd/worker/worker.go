package worker

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	appkafka "github.com/ykst615/learn-zhihu-api/internal/broker"
	"github.com/ykst615/learn-zhihu-api/internal/logger"
	"github.com/ykst615/learn-zhihu-api/internal/store"
)

var logg = logger.New()

// Worker consumes activity events from Kafka and writes them to the
// per-user activity log concurrently.
type Worker struct {
	store        store.StoreInterface
	reader       appkafka.KafkaReader
	workerCount  int
	jobQueueSize int
}

// New creates a new concurrent Worker using pre-initialized dependencies.
func New(store store.StoreInterface, reader appkafka.KafkaReader, workerCount, jobQueueSize int) *Worker {
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}
	if jobQueueSize <= 0 {
		jobQueueSize = workerCount * 10
	}
	return &Worker{
		store:        store,
		reader:       reader,
		workerCount:  workerCount,
		jobQueueSize: jobQueueSize,
	}
}

// Run starts message reading and concurrent processing. It returns once ctx
// is cancelled and every worker has stopped.
func (w *Worker) Run(ctx context.Context) {
	if w.workerCount <= 0 {
		w.workerCount = 1
	}
	if w.jobQueueSize <= 0 {
		w.jobQueueSize = 10
	}

	logg.Info("worker", "Starting "+fmt.Sprint(w.workerCount)+" workers with queue size "+fmt.Sprint(w.jobQueueSize))

	jobs := make(chan kafka.Message, w.jobQueueSize)
	var wg sync.WaitGroup

	for i := 0; i < w.workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.processLoop(ctx, jobs)
		}()
	}

	w.readLoop(ctx, jobs)

	close(jobs)
	wg.Wait()
	logg.Info("worker", "All workers stopped gracefully")
}

// readLoop reads Kafka messages and pushes them into a job queue.
func (w *Worker) readLoop(ctx context.Context, jobs chan<- kafka.Message) {
	var retry int
	for {
		select {
		case <-ctx.Done():
			return
		default:
			msg, err := w.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				backoff := time.Duration(math.Min(1000, math.Pow(2, float64(retry)))) * time.Millisecond
				logg.Error("worker", "Kafka read error, backing off", err)
				if !waitWithContext(ctx, backoff) {
					return
				}
				retry++
				continue
			}
			retry = 0

			if len(msg.Value) == 0 {
				if !waitWithContext(ctx, 50*time.Millisecond) {
					return
				}
				continue
			}

			// Block until a worker is free; a full queue must not drop the message.
			for enqueued := false; !enqueued; {
				select {
				case jobs <- msg:
					enqueued = true
				case <-ctx.Done():
					return
				case <-time.After(100 * time.Millisecond):
					logg.Info("worker", "Queue full, waiting to enqueue Kafka message")
				}
			}
		}
	}
}

// processLoop decodes events and records them in the activity log.
func (w *Worker) processLoop(ctx context.Context, jobs <-chan kafka.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-jobs:
			if !ok {
				return
			}
			if err := w.handle(ctx, msg); err != nil {
				logg.Error("worker", "Failed to process activity event", err)
			}
		}
	}
}

// handle applies one message. Undecodable messages are reported and skipped
// by the caller; redelivered events are absorbed by the store's upsert.
func (w *Worker) handle(ctx context.Context, msg kafka.Message) error {
	e, err := appkafka.Decode(msg)
	if err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	if err := w.store.AddActivity(ctx, e.Activity()); err != nil {
		return fmt.Errorf("record %s event: %w", e.Kind, err)
	}
	logg.Debug("worker", "Recorded "+e.Kind+" event for user_id="+e.ActorID)
	return nil
}

// waitWithContext waits for duration or context cancellation.
func waitWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Close shuts down Kafka reader and Cassandra session.
func (w *Worker) Close() error {
	logg.Info("worker", "Closing Kafka reader")
	if err := w.reader.Close(); err != nil {
		logg.Error("worker", "Error closing Kafka reader", err)
		return err
	}

	logg.Info("worker", "Closing Cassandra session")
	w.store.Close()
	return nil
}

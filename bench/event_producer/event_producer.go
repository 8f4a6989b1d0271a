package main

import (
	"context"
	"flag"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocql/gocql"
	"github.com/segmentio/kafka-go"
	appkafka "github.com/ykst615/learn-zhihu-api/internal/broker"
)

var kinds = []string{appkafka.Followed, appkafka.Unfollowed, appkafka.UserUpdated, appkafka.TopicCreated}

func main() {
	var (
		total       int
		batchSize   int
		numWorkers  int
		actors      int
		kafkaBroker string
		topic       string
	)
	flag.IntVar(&total, "n", 100000, "total number of events to send")
	flag.IntVar(&batchSize, "batch", 100, "batch size for sending messages")
	flag.IntVar(&numWorkers, "workers", 4, "number of parallel goroutines")
	flag.IntVar(&actors, "actors", 50, "number of distinct acting users")
	flag.StringVar(&kafkaBroker, "broker", "localhost:9092", "Kafka broker address")
	flag.StringVar(&topic, "topic", "user-activity", "Kafka topic")
	flag.Parse()

	// Kafka writer with asynchronous sending enabled
	w := &kafka.Writer{
		Addr:     kafka.TCP(kafkaBroker),
		Topic:    topic,
		Balancer: &kafka.Hash{},
		Async:    true,
	}
	defer w.Close()

	// Synthetic actors, so the worker fans out over many partitions
	actorIDs := make([]string, actors)
	for i := range actorIDs {
		actorIDs[i] = gocql.TimeUUID().String()
	}
	start := time.Now()

	var successCount uint64
	var failCount uint64

	// Channel for feeding message indexes to worker goroutines
	jobs := make(chan int, total)
	var wg sync.WaitGroup

	flush := func(batch []kafka.Message) {
		if err := w.WriteMessages(context.Background(), batch...); err != nil {
			atomic.AddUint64(&failCount, uint64(len(batch)))
			fmt.Printf("write error: %v\n", err)
			return
		}
		atomic.AddUint64(&successCount, uint64(len(batch)))
	}

	// --- Start worker goroutines ---
	for wID := 0; wID < numWorkers; wID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			batch := make([]kafka.Message, 0, batchSize)

			for i := range jobs {
				actor := actorIDs[i%len(actorIDs)]
				target := actorIDs[(i+1)%len(actorIDs)]
				msg, err := appkafka.Encode(appkafka.NewEvent(kinds[i%len(kinds)], actor, target))
				if err != nil {
					atomic.AddUint64(&failCount, 1)
					fmt.Printf("encode error: %v\n", err)
					continue
				}

				batch = append(batch, msg)
				if len(batch) >= batchSize {
					flush(batch)
					batch = batch[:0]
				}
			}

			// Send any remaining messages after finishing loop
			if len(batch) > 0 {
				flush(batch)
			}
		}()
	}

	// Feed jobs channel with indexes
	for i := 0; i < total; i++ {
		jobs <- i
	}
	close(jobs)

	// Wait for all worker goroutines to finish
	wg.Wait()

	// --- Benchmark results ---
	elapsed := time.Since(start)
	fmt.Printf("Total events: %d\n", total)
	fmt.Printf("Successful: %d, Failed: %d\n", successCount, failCount)
	fmt.Printf("Elapsed time: %s\n", elapsed)
	fmt.Printf("Throughput: %.2f msg/s\n", float64(successCount)/elapsed.Seconds())
}

// action-producer publishes synthetic progression actions to Kafka for
// load testing the consumer pipeline. Messages are keyed by user ID so
// each user's actions land on one partition and stay ordered.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
)

// Action mirrors the consumer's inbound message format
type Action struct {
	UserID         string         `json:"user_id"`
	Kind           string         `json:"kind"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	QuestID        string         `json:"quest_id,omitempty"`
	ObjectiveID    string         `json:"objective_id,omitempty"`
	NodeID         string         `json:"node_id,omitempty"`
	Amount         int64          `json:"amount,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

var actionKinds = []string{
	"quiz_completed",
	"lesson_completed",
	"daily_login",
	"code_review_submitted",
}

func main() {
	// Command line flags
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "progression-actions", "Kafka topic")
	users := flag.String("users", "", "User IDs to produce for (comma-separated, required)")
	actionsPerSecond := flag.Int("rate", 50, "Actions per second")
	duration := flag.Duration("duration", 0, "Duration to run (0 = forever)")
	flag.Parse()

	if *users == "" {
		log.Fatal("at least one user ID is required (-users)")
	}
	userIDs := strings.Split(*users, ",")

	fmt.Println("Progression action producer")
	fmt.Printf("  Brokers:     %s\n", *brokers)
	fmt.Printf("  Topic:       %s\n", *topic)
	fmt.Printf("  Users:       %d\n", len(userIDs))
	fmt.Printf("  Actions/sec: %d\n", *actionsPerSecond)
	fmt.Println()

	// Configure Sarama producer
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	// Create producer
	producer, err := sarama.NewAsyncProducer(strings.Split(*brokers, ","), config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}
	defer producer.Close()

	// Handle producer errors and successes
	var successCount, errorCount int64
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			log.Printf("Producer error: %v", err)
		}
	}()

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})

	shutdown := func() {
		close(done)
		producer.AsyncClose()
		wg.Wait()
		fmt.Printf("\nCompleted. Sent: %d, Errors: %d\n",
			atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
	}

	// Send message helper: keyed by user so per-user ordering holds
	sendAction := func(action Action) {
		data, err := json.Marshal(action)
		if err != nil {
			log.Printf("Failed to marshal action: %v", err)
			return
		}

		msg := &sarama.ProducerMessage{
			Topic: *topic,
			Key:   sarama.StringEncoder(action.UserID),
			Value: sarama.ByteEncoder(data),
		}

		select {
		case producer.Input() <- msg:
		case <-done:
		}
	}

	fmt.Println("Producing actions, press Ctrl+C to stop")

	interval := time.Second / time.Duration(*actionsPerSecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	var endTime time.Time
	if *duration > 0 {
		endTime = time.Now().Add(*duration)
	}

	var produced int64

	for {
		select {
		case <-sigChan:
			fmt.Println("\nShutting down...")
			shutdown()
			return

		case <-ticker.C:
			if *duration > 0 && time.Now().After(endTime) {
				fmt.Println("\nDuration reached, shutting down...")
				shutdown()
				return
			}

			action := Action{
				UserID:         userIDs[rand.Intn(len(userIDs))],
				Kind:           actionKinds[rand.Intn(len(actionKinds))],
				IdempotencyKey: uuid.New().String(),
			}
			sendAction(action)
			atomic.AddInt64(&produced, 1)

		case <-statsTicker.C:
			fmt.Printf("[%s] Produced: %d | Sent: %d | Errors: %d\n",
				time.Now().Format("15:04:05"),
				atomic.LoadInt64(&produced),
				atomic.LoadInt64(&successCount),
				atomic.LoadInt64(&errorCount),
			)
		}
	}
}

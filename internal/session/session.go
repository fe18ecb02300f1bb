package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	ierr "github.com/mark3labs/taskr/internal/errors"
	"github.com/mark3labs/taskr/internal/logger"
	"github.com/mark3labs/taskr/internal/nats"
	"github.com/nats-io/nats.go/jetstream"
)

// Event represents a generic event stored in the JetStream event log.
// All task operations (creation, updates, steps, messages) are stored as events
// following an append-only event sourcing pattern.
type Event struct {
	ID        string          `json:"id"`        // NATS message sequence ID
	Timestamp time.Time       `json:"timestamp"` // When the event occurred
	Task      string          `json:"task"`      // Task ID
	Type      string          `json:"type"`      // Event type: task, step, message
	Action    string          `json:"action"`    // Action type: create, update, reset, append
	Meta      json.RawMessage `json:"meta"`      // Action-specific metadata
	Data      string          `json:"data"`      // Primary content (goal, message text)
}

// Store manages task state through JetStream event sourcing.
// It provides methods for publishing events and loading tasks from the event stream.
type Store struct {
	js     jetstream.JetStream // JetStream context for operations
	stream jetstream.Stream    // The taskr_events stream
}

// NewStore creates a new Store instance with the given JetStream context and stream.
func NewStore(js jetstream.JetStream, stream jetstream.Stream) *Store {
	return &Store{
		js:     js,
		stream: stream,
	}
}

// PublishEvent appends an event to the JetStream event log.
// Events are published to subjects following the pattern: taskr.{task}.{type}
// Returns the published ACK or an error if publishing fails.
func (s *Store) PublishEvent(ctx context.Context, event Event) (*jetstream.PubAck, error) {
	if err := validateID(event.Task); err != nil {
		return nil, err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		logger.Error("Failed to marshal event: %v", err)
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	subject := nats.SubjectForEvent(event.Task, event.Type)

	logger.Debug("Publishing event: task=%s type=%s action=%s", event.Task, event.Type, event.Action)

	ack, err := s.js.Publish(ctx, subject, data)
	if err != nil {
		logger.Error("Failed to publish event to subject %s: %v", subject, err)
		return nil, fmt.Errorf("failed to publish event: %w", err)
	}

	logger.Debug("Event published successfully: seq=%d", ack.Sequence)
	return ack, nil
}

// LoadTask reconstructs the current state of a task by reading and reducing
// all of its events from the JetStream event log. A task that was never
// created comes back with an empty ID.
func (s *Store) LoadTask(ctx context.Context, id string) (*Task, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	logger.Debug("Loading task: %s", id)

	// Create a consumer filtered to this task's events
	consumer, err := s.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		FilterSubject:     nats.SubjectForTask(id),
		DeliverPolicy:     jetstream.DeliverAllPolicy, // Start from beginning
		AckPolicy:         jetstream.AckExplicitPolicy,
		InactiveThreshold: 30 * time.Second,
	})
	if err != nil {
		logger.Error("Failed to create consumer for task %s: %v", id, err)
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	task := &Task{}

	// Fetch events in batches and reduce into the task
	const batchSize = 1000
	malformedCount := 0
	totalEvents := 0
	for {
		msgs, err := consumer.FetchNoWait(batchSize)
		if err != nil {
			logger.Debug("Finished reading events (batch fetch complete)")
			break
		}

		msgCount := 0
		for msg := range msgs.Messages() {
			msgCount++
			totalEvents++
			var event Event
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				// Skip, but acknowledge to prevent redelivery
				malformedCount++
				meta, _ := msg.Metadata()
				logger.Warn("Skipping malformed event (seq=%d): %v", meta.Sequence.Stream, err)
				_ = msg.Ack()
				continue
			}

			if event.ID == "" {
				meta, _ := msg.Metadata()
				event.ID = fmt.Sprintf("%d", meta.Sequence.Stream)
			}

			task.Apply(event)
			_ = msg.Ack()
		}

		logger.Debug("Processed batch: %d events", msgCount)

		if msgCount < batchSize {
			break
		}
	}

	if malformedCount > 0 {
		logger.Warn("Skipped %d malformed events while loading task %s", malformedCount, id)
		fmt.Fprintf(os.Stderr, "Warning: Skipped %d malformed events while loading task %s\n", malformedCount, id)
	}

	logger.Debug("Task loaded: %d total events, %d steps, %d messages",
		totalEvents, len(task.Steps), len(task.Messages))

	return task, nil
}

// List returns every task in the stream, newest first.
func (s *Store) List(ctx context.Context) ([]*Task, error) {
	subjects, err := nats.TaskSubjects(ctx, s.stream)
	if err != nil {
		return nil, err
	}

	tasks := make([]*Task, 0, len(subjects))
	for _, subject := range subjects {
		id := nats.TaskIDFromSubject(subject)
		if id == "" {
			continue
		}
		task, err := s.LoadTask(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load task %s: %w", id, err)
		}
		if task.ID != "" {
			tasks = append(tasks, task)
		}
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	return tasks, nil
}

// validateID rejects IDs that would not form a single subject token.
func validateID(id string) error {
	if id == "" {
		return ierr.Validation("task", "task ID is required")
	}
	if strings.ContainsAny(id, ".*> \t\r\n") {
		return ierr.Validation("task", "invalid task ID %q", id)
	}
	return nil
}

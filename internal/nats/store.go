package nats

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Subject pattern constants and helpers
const (
	streamName    = "taskr_events"
	subjectPrefix = "taskr"

	// Event types
	EventTypeTask    = "task"
	EventTypeStep    = "step"
	EventTypeMessage = "message"
)

// SubjectForTask returns the wildcard subject pattern for all events of a task.
// Example: "taskr.add-readme-cq1v2k.>"
func SubjectForTask(taskID string) string {
	return fmt.Sprintf("%s.%s.>", subjectPrefix, taskID)
}

// SubjectForEvent returns the specific subject for an event type of a task.
// Example: "taskr.add-readme-cq1v2k.step"
func SubjectForEvent(taskID, eventType string) string {
	return fmt.Sprintf("%s.%s.%s", subjectPrefix, taskID, eventType)
}

// TaskIDFromSubject extracts the task ID from an event subject.
// Returns "" if the subject does not belong to the taskr stream.
func TaskIDFromSubject(subject string) string {
	parts := strings.Split(subject, ".")
	if len(parts) != 3 || parts[0] != subjectPrefix {
		return ""
	}
	return parts[1]
}

// SetupStream creates or updates the JetStream stream for taskr events.
// The stream captures all events for all tasks with 30-day retention.
// Subject pattern: taskr.> matches all tasks and event types.
func SetupStream(ctx context.Context, js jetstream.JetStream) (jetstream.Stream, error) {
	return js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{subjectPrefix + ".>"},
		Storage:  jetstream.FileStorage,
		MaxAge:   30 * 24 * time.Hour, // 30 day retention
	})
}

// TaskSubjects returns the creation subject of every task in the stream.
func TaskSubjects(ctx context.Context, stream jetstream.Stream) ([]string, error) {
	info, err := stream.Info(ctx, jetstream.WithSubjectFilter(SubjectForEvent("*", EventTypeTask)))
	if err != nil {
		return nil, fmt.Errorf("failed to read stream info: %w", err)
	}
	subjects := make([]string, 0, len(info.State.Subjects))
	for subject := range info.State.Subjects {
		subjects = append(subjects, subject)
	}
	return subjects, nil
}

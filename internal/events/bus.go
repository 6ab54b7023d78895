// Package events publishes run lifecycle notifications over an in-process
// watermill pub/sub.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/domain"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
)

const (
	TopicRunStarted   = "run.started"
	TopicRunCompleted = "run.completed"

	metadataRunID = "run_id"
)

// RunEvent is the payload of both topics.
type RunEvent struct {
	RunID           string           `json:"runId"`
	WorkflowID      string           `json:"workflowId"`
	WorkflowName    string           `json:"workflowName"`
	WorkflowVersion int              `json:"workflowVersion"`
	Trigger         domain.Trigger   `json:"trigger"`
	Status          domain.RunStatus `json:"status"`
	Error           string           `json:"error,omitempty"`
	Steps           int              `json:"steps"`
	OccurredAt      time.Time        `json:"occurredAt"`
}

func newRunEvent(run *domain.Run) RunEvent {
	ev := RunEvent{
		RunID:           run.ID,
		WorkflowID:      run.WorkflowID,
		WorkflowName:    run.WorkflowName,
		WorkflowVersion: run.WorkflowVersion,
		Trigger:         run.Trigger,
		Status:          run.Status,
		Steps:           len(run.StepResults),
		OccurredAt:      time.Now().UTC(),
	}
	if run.Error.Valid {
		ev.Error = run.Error.String
	}
	return ev
}

// Bus implements engine.Publisher.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	pubsub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            256,
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		},
		watermill.NewSlogLogger(logger),
	)
	return &Bus{pubsub: pubsub, logger: logger}
}

func (b *Bus) RunStarted(ctx context.Context, run *domain.Run) {
	b.publish(ctx, TopicRunStarted, run)
}

func (b *Bus) RunCompleted(ctx context.Context, run *domain.Run) {
	b.publish(ctx, TopicRunCompleted, run)
}

func (b *Bus) publish(ctx context.Context, topic string, run *domain.Run) {
	payload, err := json.Marshal(newRunEvent(run))
	if err != nil {
		b.logger.ErrorContext(ctx, "Failed to encode run event", "topic", topic, "run_id", run.ID, "error", err)
		return
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set(metadataRunID, run.ID)
	if err := b.pubsub.Publish(topic, msg); err != nil {
		b.logger.ErrorContext(ctx, "Failed to publish run event", "topic", topic, "run_id", run.ID, "error", err)
	}
}

// Subscribe streams decoded events of one topic until ctx is done.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan RunEvent, error) {
	messages, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	out := make(chan RunEvent)
	go func() {
		defer close(out)
		for msg := range messages {
			ev, ok := b.decode(msg)
			if !ok {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (b *Bus) decode(msg *message.Message) (RunEvent, bool) {
	defer msg.Ack()
	var ev RunEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		b.logger.Warn("Dropping malformed run event", "message_uuid", msg.UUID, "error", err)
		return ev, false
	}
	return ev, true
}

// Waiter collects completions from the moment it is created, so a caller can
// subscribe, submit a run and then wait without missing a fast finish.
type Waiter struct {
	bus      *Bus
	messages <-chan *message.Message
	cancel   context.CancelFunc
}

func (b *Bus) NewWaiter(ctx context.Context) (*Waiter, error) {
	subCtx, cancel := context.WithCancel(ctx)
	messages, err := b.pubsub.Subscribe(subCtx, TopicRunCompleted)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", TopicRunCompleted, err)
	}
	return &Waiter{bus: b, messages: messages, cancel: cancel}, nil
}

// Wait returns the completion event of runID; events of other runs are skipped.
func (w *Waiter) Wait(ctx context.Context, runID string) (RunEvent, error) {
	for {
		select {
		case <-ctx.Done():
			return RunEvent{}, ctx.Err()
		case msg, ok := <-w.messages:
			if !ok {
				return RunEvent{}, fmt.Errorf("event subscription closed while waiting for run %s", runID)
			}
			if msg.Metadata.Get(metadataRunID) != runID {
				msg.Ack()
				continue
			}
			ev, ok := w.bus.decode(msg)
			if ok {
				return ev, nil
			}
		}
	}
}

func (w *Waiter) Close() {
	w.cancel()
}

func (b *Bus) Close() error {
	return b.pubsub.Close()
}

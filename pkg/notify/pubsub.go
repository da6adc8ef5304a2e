package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-opsdash/pkg/poll"
	"github.com/rs/zerolog"
)

const (
	// AttrItem carries the item name on every published message.
	AttrItem = "item"
	// AttrOutcome is one of OutcomeOK, OutcomeFailed or OutcomeDiscarded.
	AttrOutcome = "outcome"

	OutcomeOK        = "ok"
	OutcomeFailed    = "failed"
	OutcomeDiscarded = "discarded"

	defaultResultTimeout = 30 * time.Second
)

// FetchNotification is the JSON payload published for each completed fetch.
type FetchNotification struct {
	Item       string    `json:"item"`
	Handle     uuid.UUID `json:"handle"`
	Started    time.Time `json:"started"`
	Finished   time.Time `json:"finished"`
	DurationMS int64     `json:"duration_ms"`
	OK         bool      `json:"ok"`
	Error      string    `json:"error,omitempty"`
	Discarded  bool      `json:"discarded,omitempty"`
}

// NewFetchNotification converts a fetch event into its published form.
func NewFetchNotification(event poll.FetchEvent) FetchNotification {
	n := FetchNotification{
		Item:       event.Item,
		Handle:     event.Handle,
		Started:    event.Started,
		Finished:   event.Finished,
		DurationMS: event.Duration().Milliseconds(),
		OK:         event.Err == nil,
		Discarded:  event.Discarded,
	}
	if event.Err != nil {
		n.Error = event.Err.Error()
	}
	return n
}

// Outcome classifies the notification for the message attributes.
func (n FetchNotification) Outcome() string {
	switch {
	case !n.OK:
		return OutcomeFailed
	case n.Discarded:
		return OutcomeDiscarded
	default:
		return OutcomeOK
	}
}

// PubSubNotifierConfig holds the configuration for a PubSubNotifier.
type PubSubNotifierConfig struct {
	TopicID string
	// FailuresOnly suppresses notifications for successful fetches.
	FailuresOnly bool
	// ResultTimeout bounds how long the background check waits for the
	// publish result before logging a failure.
	ResultTimeout time.Duration
}

// NewPubSubNotifierDefaults provides a config with sensible defaults.
func NewPubSubNotifierDefaults(topicID string) *PubSubNotifierConfig {
	return &PubSubNotifierConfig{
		TopicID:       topicID,
		ResultTimeout: defaultResultTimeout,
	}
}

// PubSubNotifier publishes fetch outcomes to a Pub/Sub topic.
// It implements poll.Observer.
type PubSubNotifier struct {
	topic         *pubsub.Topic
	failuresOnly  bool
	resultTimeout time.Duration
	logger        zerolog.Logger
}

// NewPubSubNotifier creates a notifier for an existing topic.
// It accepts a context to verify that the target topic exists before returning.
func NewPubSubNotifier(ctx context.Context, cfg *PubSubNotifierConfig, client *pubsub.Client, logger zerolog.Logger) (*PubSubNotifier, error) {
	if cfg == nil {
		return nil, errors.New("notifier config cannot be nil")
	}
	if client == nil {
		return nil, errors.New("pubsub client cannot be nil")
	}
	topic := client.Topic(cfg.TopicID)

	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for topic %s: %w", cfg.TopicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", cfg.TopicID)
	}

	timeout := cfg.ResultTimeout
	if timeout <= 0 {
		timeout = defaultResultTimeout
	}
	return &PubSubNotifier{
		topic:         topic,
		failuresOnly:  cfg.FailuresOnly,
		resultTimeout: timeout,
		logger:        logger.With().Str("component", "PubSubNotifier").Str("topic_id", cfg.TopicID).Logger(),
	}, nil
}

// OnFetch queues the notification and returns without waiting for the
// publish result, which is logged from a separate goroutine.
func (n *PubSubNotifier) OnFetch(event poll.FetchEvent) {
	notification := NewFetchNotification(event)
	if n.failuresOnly && notification.OK {
		return
	}
	payload, err := json.Marshal(notification)
	if err != nil {
		n.logger.Error().Err(err).Str("item", event.Item).Msg("Failed to marshal fetch notification.")
		return
	}

	result := n.topic.Publish(context.Background(), &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			AttrItem:    notification.Item,
			AttrOutcome: notification.Outcome(),
		},
	})

	go func() {
		getCtx, cancel := context.WithTimeout(context.Background(), n.resultTimeout)
		defer cancel()

		msgID, err := result.Get(getCtx)
		if err != nil {
			n.logger.Error().Err(err).Str("item", notification.Item).Msg("Failed to publish fetch notification.")
			return
		}
		n.logger.Debug().Str("published_msg_id", msgID).Str("item", notification.Item).Msg("Fetch notification sent.")
	}()
}

// Stop flushes any pending messages for the topic, respecting the context's timeout.
func (n *PubSubNotifier) Stop(ctx context.Context) error {
	if n.topic == nil {
		return nil
	}

	// topic.Stop() is blocking, so we wrap it to respect the context timeout.
	stopDone := make(chan struct{})
	go func() {
		n.topic.Stop()
		close(stopDone)
	}()

	select {
	case <-stopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

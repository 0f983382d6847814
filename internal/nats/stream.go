package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/support-desk/internal/model"
	"github.com/capitalize-ai/support-desk/pkg/metrics"
)

const (
	// StreamName is the name of the conversation events stream.
	StreamName = "SUPPORT_EVENTS"

	// SubjectPrefix is the prefix for all conversation event subjects.
	SubjectPrefix = "support"
)

// StreamManager handles JetStream stream operations.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStream ensures the events stream exists with proper configuration.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      30 * 24 * time.Hour,
		MaxBytes:    10 * 1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		DenyDelete:  true,
		Description: "Support conversation lifecycle events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	m.client.logger.Info("created JetStream stream", zap.String("stream", StreamName))
	return nil
}

// token makes s safe to use as a single subject token.
func token(s string) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(s)
}

// EventSubject returns the subject for an event.
func EventSubject(tenantID, sessionID string, eventType model.EventType) string {
	return fmt.Sprintf("%s.%s.%s.event.%s", SubjectPrefix, token(tenantID), token(sessionID), eventType)
}

// ConversationFilter returns the filter subject for all events of a conversation.
func ConversationFilter(tenantID, sessionID string) string {
	return fmt.Sprintf("%s.%s.%s.event.>", SubjectPrefix, token(tenantID), token(sessionID))
}

// PublishEvent publishes an event to JetStream. event.ConversationID carries
// the session id.
func (m *StreamManager) PublishEvent(ctx context.Context, event *model.ConversationEvent) (uint64, error) {
	subject := EventSubject(event.TenantID, event.ConversationID, event.Type)

	data, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	ack, err := m.client.JetStream().Publish(ctx, subject, data, jetstream.WithMsgID(event.ID))
	if err != nil {
		return 0, fmt.Errorf("failed to publish event: %w", err)
	}

	return ack.Sequence, nil
}

// Subscribe delivers the conversation's events to fn until ctx is done or fn
// returns an error. With afterSequence 0 only new events are delivered;
// otherwise delivery resumes after that stream sequence.
func (m *StreamManager) Subscribe(ctx context.Context, tenantID, sessionID string, afterSequence uint64, fn func(*model.ConversationEvent) error) error {
	cfg := jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{ConversationFilter(tenantID, sessionID)},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	}
	if afterSequence > 0 {
		cfg.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		cfg.OptStartSeq = afterSequence + 1
	}

	consumer, err := m.client.JetStream().OrderedConsumer(ctx, StreamName, cfg)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}
	iter, err := consumer.Messages()
	if err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}

	stop := context.AfterFunc(ctx, iter.Stop)
	defer func() {
		stop()
		iter.Stop()
	}()

	for {
		msg, err := iter.Next()
		if err != nil {
			if errors.Is(err, jetstream.ErrMsgIteratorClosed) {
				return ctx.Err()
			}
			return fmt.Errorf("failed to read event: %w", err)
		}

		var event model.ConversationEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			m.client.logger.Warn("skipping undecodable event",
				zap.String("subject", msg.Subject()),
				zap.Error(err),
			)
			continue
		}
		if meta, err := msg.Metadata(); err == nil {
			event.Sequence = meta.Sequence.Stream
		}
		if err := fn(&event); err != nil {
			return err
		}
	}
}

// CollectStats updates the stream gauges every interval until ctx is done.
func (m *StreamManager) CollectStats(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := m.recordStats(ctx); err != nil {
			m.client.logger.Debug("failed to read stream stats", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *StreamManager) recordStats(ctx context.Context) error {
	stream, err := m.client.JetStream().Stream(ctx, StreamName)
	if err != nil {
		return err
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return err
	}
	metrics.NATSStreamMessages.WithLabelValues(StreamName).Set(float64(info.State.Msgs))
	metrics.NATSStreamBytes.WithLabelValues(StreamName).Set(float64(info.State.Bytes))
	return nil
}

// Package events publishes conversation and voice session events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"voice-support-client/internal/models"
	"voice-support-client/internal/observability/metrics"
)

// Publisher writes message events and session events to separate topics.
// Enqueue never blocks the caller; a background loop started by Run does
// the writes.
type Publisher struct {
	writerMessages *kafka.Writer
	writerSession  *kafka.Writer
	principal      string
	topicMessages  string
	topicSession   string
	enabled        bool
	metrics        *metrics.Metrics
	queue          chan queued
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers       []string
	TopicMessages string
	TopicSession  string
	Principal     string
	Enabled       bool
	// QueueSize bounds the events waiting for Run. Defaults to 256.
	QueueSize int
}

type queued struct {
	session bool
	key     string
	event   any
}

// New creates a Kafka event publisher.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{
			enabled: false,
			metrics: m,
			queue:   make(chan queued, 256),
		}
	}

	size := cfg.QueueSize
	if size <= 0 {
		size = 256
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:     cfg.Principal,
			topicMessages: cfg.TopicMessages,
			topicSession:  cfg.TopicSession,
			enabled:       false,
			metrics:       m,
			queue:         make(chan queued, size),
		}
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicMessages", cfg.TopicMessages).
		Str("topicSession", cfg.TopicSession).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerMessages: newWriter(cfg.TopicMessages),
		writerSession:  newWriter(cfg.TopicSession),
		principal:      cfg.Principal,
		topicMessages:  cfg.TopicMessages,
		topicSession:   cfg.TopicSession,
		enabled:        true,
		metrics:        m,
		queue:          make(chan queued, size),
	}
}

// PublishMessage writes a conversation message event, keyed by message ID.
func (p *Publisher) PublishMessage(ctx context.Context, msg models.ConversationMessage) error {
	event := models.MessageEvent{
		EventType: models.EventMessageAppended,
		Principal: p.principal,
		Message:   msg,
		Timestamp: time.Now().UnixMilli(),
	}
	return p.publish(ctx, p.writerMessages, p.topicMessages, event.EventType, msg.ID, event)
}

// PublishSession writes a session event, keyed by session ID so that one
// session's events stay ordered on a partition.
func (p *Publisher) PublishSession(ctx context.Context, ev models.SessionEvent) error {
	return p.publish(ctx, p.writerSession, p.topicSession, ev.EventType, ev.SessionID, ev)
}

// PublishSchedule writes a scheduling state event to the session topic.
func (p *Publisher) PublishSchedule(ctx context.Context, key string, state *models.ScheduleState) error {
	event := models.ScheduleEvent{
		EventType: models.EventScheduleUpdated,
		State:     state,
		Timestamp: time.Now().UnixMilli(),
	}
	return p.publish(ctx, p.writerSession, p.topicSession, event.EventType, key, event)
}

// EnqueueMessage queues a message event for Run. It drops the event when
// the queue is full.
func (p *Publisher) EnqueueMessage(msg models.ConversationMessage) {
	p.enqueue(queued{key: msg.ID, event: msg})
}

// EnqueueSession queues a session event for Run.
func (p *Publisher) EnqueueSession(ev models.SessionEvent) {
	p.enqueue(queued{session: true, key: ev.SessionID, event: ev})
}

func (p *Publisher) enqueue(q queued) {
	select {
	case p.queue <- q:
	default:
		log.Warn().Str("key", q.key).Msg("Event queue full, dropping event")
	}
}

// Run drains the queue until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case q := <-p.queue:
			switch ev := q.event.(type) {
			case models.ConversationMessage:
				p.PublishMessage(ctx, ev)
			case models.SessionEvent:
				p.PublishSession(ctx, ev)
			}
		}
	}
}

// publish is the internal method that writes to a specific Kafka writer.
func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	// If Kafka is disabled, just log
	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Enabled reports whether events reach Kafka.
func (p *Publisher) Enabled() bool { return p.enabled }

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerMessages != nil {
		if e := p.writerMessages.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing message writer")
			err = e
		}
	}
	if p.writerSession != nil {
		if e := p.writerSession.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing session writer")
			err = e
		}
	}
	return err
}

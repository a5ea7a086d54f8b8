package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tufanozkan/agentic-exam-evaluator/internal/models"
	"github.com/tufanozkan/agentic-exam-evaluator/internal/observability"
)

const defaultEventBufferSize = 64

// ErrStreamClosed is returned when publishing to a job whose stream already ended.
var ErrStreamClosed = errors.New("job stream already closed")

// EventBrokerConfig configures delivery of job events.
type EventBrokerConfig struct {
	BufferSize  int
	ReplaySize  int
	Redis       *redis.Client
	ChannelBase string
	NATS        *nats.Conn
	Logger      zerolog.Logger
}

// EventBroker fans job events out to live subscribers. Delivery is best effort: an event
// published while nobody listens is only kept if a replay buffer is configured, and a subscriber
// that cannot keep up is disconnected instead of stalling the job.
type EventBroker struct {
	mu      sync.Mutex
	streams map[string]*jobStream

	bufferSize   int
	replaySize   int
	redis        *redis.Client
	redisChannel string
	nats         *nats.Conn
	natsSubject  string
	nodeID       string
	logger       zerolog.Logger
}

type jobStream struct {
	mu          sync.Mutex
	sequence    uint64
	subscribers map[chan models.StreamEvent]struct{}
	replay      []models.StreamEvent
	closed      bool
}

type brokerEnvelope struct {
	Source string             `json:"source"`
	Event  models.StreamEvent `json:"event"`
	SentAt time.Time          `json:"sent_at"`
}

// NewEventBroker constructs a broker. Redis and NATS are optional and only used to share events
// between API nodes.
func NewEventBroker(cfg EventBrokerConfig) *EventBroker {
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultEventBufferSize
	}
	replaySize := cfg.ReplaySize
	if replaySize < 0 {
		replaySize = 0
	}

	channel := ""
	subject := ""
	if cfg.ChannelBase != "" {
		channel = cfg.ChannelBase + ":job-events"
		subject = strings.ReplaceAll(cfg.ChannelBase, ":", ".") + ".job-events"
	}

	return &EventBroker{
		streams:      make(map[string]*jobStream),
		bufferSize:   bufferSize,
		replaySize:   replaySize,
		redis:        cfg.Redis,
		redisChannel: channel,
		nats:         cfg.NATS,
		natsSubject:  subject,
		nodeID:       uuid.NewString(),
		logger:       cfg.Logger.With().Str("component", "event_broker").Logger(),
	}
}

// Distributed reports whether events may originate on another node.
func (b *EventBroker) Distributed() bool {
	return (b.redis != nil && b.redisChannel != "") || (b.nats != nil && b.natsSubject != "")
}

// Start consumes events published by other nodes until ctx is cancelled.
func (b *EventBroker) Start(ctx context.Context) {
	if b.redis != nil && b.redisChannel != "" {
		go b.consumeRedis(ctx)
	}
	if b.nats != nil && b.natsSubject != "" {
		go b.consumeNATS(ctx)
	}
}

func (b *EventBroker) stream(jobID string) *jobStream {
	b.mu.Lock()
	defer b.mu.Unlock()

	stream, ok := b.streams[jobID]
	if !ok {
		stream = &jobStream{subscribers: make(map[chan models.StreamEvent]struct{})}
		b.streams[jobID] = stream
	}
	return stream
}

// Publish stamps the next sequence number of the job onto the event and delivers it. Terminal
// events close every subscriber after delivery.
func (b *EventBroker) Publish(ctx context.Context, jobID string, kind models.EventKind, data interface{}) (models.StreamEvent, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return models.StreamEvent{}, fmt.Errorf("encode %s event: %w", kind, err)
	}

	stream := b.stream(jobID)
	stream.mu.Lock()
	defer stream.mu.Unlock()

	if stream.closed {
		return models.StreamEvent{}, ErrStreamClosed
	}

	stream.sequence++
	event := models.StreamEvent{Event: kind, JobID: jobID, Sequence: stream.sequence, Data: raw}
	b.deliverLocked(stream, event)
	observability.StreamEvents().WithLabelValues(string(kind)).Inc()

	if err := b.fanOut(ctx, event); err != nil {
		b.logger.Warn().Err(err).Str("job_id", jobID).Msg("failed to forward job event")
	}

	return event, nil
}

// deliverLocked must be called with stream.mu held.
func (b *EventBroker) deliverLocked(stream *jobStream, event models.StreamEvent) {
	if b.replaySize > 0 {
		stream.replay = append(stream.replay, event)
		if overflow := len(stream.replay) - b.replaySize; overflow > 0 {
			stream.replay = append([]models.StreamEvent(nil), stream.replay[overflow:]...)
		}
	}

	for ch := range stream.subscribers {
		select {
		case ch <- event:
		default:
			delete(stream.subscribers, ch)
			close(ch)
			observability.StreamEvictions().Inc()
			b.logger.Warn().Str("job_id", event.JobID).Msg("evicted slow job stream subscriber")
		}
	}

	if event.Event.IsTerminal() {
		stream.closed = true
		for ch := range stream.subscribers {
			delete(stream.subscribers, ch)
			close(ch)
		}
	}
}

// Subscribe returns the live event channel of the job, prefilled with any buffered replay. The
// channel is closed after the terminal event, on eviction or when cancel is called.
func (b *EventBroker) Subscribe(jobID string) (<-chan models.StreamEvent, func()) {
	stream := b.stream(jobID)
	stream.mu.Lock()
	defer stream.mu.Unlock()

	ch := make(chan models.StreamEvent, b.bufferSize+len(stream.replay))
	for _, event := range stream.replay {
		ch <- event
	}

	if stream.closed {
		close(ch)
		return ch, func() {}
	}

	stream.subscribers[ch] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			stream.mu.Lock()
			defer stream.mu.Unlock()
			if _, ok := stream.subscribers[ch]; ok {
				delete(stream.subscribers, ch)
				close(ch)
			}
		})
	}
	return ch, cancel
}

func (b *EventBroker) fanOut(ctx context.Context, event models.StreamEvent) error {
	if !b.Distributed() {
		return nil
	}

	payload, err := json.Marshal(brokerEnvelope{Source: b.nodeID, Event: event, SentAt: time.Now().UTC()})
	if err != nil {
		return err
	}

	if b.redis != nil && b.redisChannel != "" {
		if err := b.redis.Publish(ctx, b.redisChannel, payload).Err(); err != nil {
			return err
		}
	}

	if b.nats != nil && b.natsSubject != "" {
		if err := b.nats.Publish(b.natsSubject, payload); err != nil {
			return err
		}
	}

	return nil
}

func (b *EventBroker) consumeRedis(ctx context.Context) {
	pubsub := b.redis.Subscribe(ctx, b.redisChannel)
	defer func() { _ = pubsub.Close() }()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			b.logger.Error().Err(err).Msg("job event redis subscription closed")
			return
		}
		b.handleRemote([]byte(msg.Payload))
	}
}

func (b *EventBroker) consumeNATS(ctx context.Context) {
	// Plain subscription: every node must see every event to serve its own clients.
	sub, err := b.nats.Subscribe(b.natsSubject, func(msg *nats.Msg) {
		b.handleRemote(msg.Data)
	})
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to subscribe to nats job events subject")
		return
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			b.logger.Warn().Err(err).Msg("failed to drain job events nats subscription")
		}
	}()
}

func (b *EventBroker) handleRemote(payload []byte) {
	var envelope brokerEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		b.logger.Warn().Err(err).Msg("invalid job event payload")
		return
	}
	if envelope.Source == b.nodeID || envelope.Event.JobID == "" {
		return
	}

	stream := b.stream(envelope.Event.JobID)
	stream.mu.Lock()
	defer stream.mu.Unlock()

	// Redis and NATS may both carry the same event.
	if stream.closed || envelope.Event.Sequence <= stream.sequence {
		return
	}
	stream.sequence = envelope.Event.Sequence
	b.deliverLocked(stream, envelope.Event)
}

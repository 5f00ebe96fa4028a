package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Cyoda-platform/uruguay-climate-change/internal/breaker"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/metrics"
)

const (
	kafkaQueueSize   = 256
	kafkaBreakerName = "kafka-alert-events"
	sinkKafka        = "kafka"
)

var errPublisherStopped = errors.New("kafka publisher stopped")

// KafkaConfig configures the Kafka sink.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
	Breaker      breaker.Config
}

type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher queues events and writes them in the background through a
// circuit breaker. A full queue drops the event.
type KafkaPublisher struct {
	cfg     KafkaConfig
	writer  kafkaMessageWriter
	breaker *breaker.Breaker
	logger  *zap.Logger

	queue    chan kafka.Message
	done     chan struct{}
	stopOnce sync.Once
	mu       sync.RWMutex
	stopped  bool
}

// NewKafkaPublisher creates and starts a publisher for cfg.Topic.
func NewKafkaPublisher(cfg KafkaConfig, logger *zap.Logger) (*KafkaPublisher, error) {
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("kafka topic must not be empty")
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: false,
		WriteTimeout:           cfg.WriteTimeout,
	}
	return newKafkaPublisher(cfg, w, logger), nil
}

func newKafkaPublisher(cfg KafkaConfig, w kafkaMessageWriter, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &KafkaPublisher{
		cfg:     cfg,
		writer:  w,
		breaker: breaker.New(kafkaBreakerName, cfg.Breaker, logger),
		logger:  logger.Named("kafka"),
		queue:   make(chan kafka.Message, kafkaQueueSize),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

// Publish enqueues e keyed by fingerprint. It never blocks.
func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		metrics.EventsPublishedTotal.WithLabelValues(sinkKafka, "encode_error").Inc()
		return fmt.Errorf("encode event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(e.Key()),
		Value: value,
		Time:  e.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
		},
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return errPublisherStopped
	}
	select {
	case p.queue <- msg:
		return nil
	default:
		metrics.EventsPublishedTotal.WithLabelValues(sinkKafka, "dropped").Inc()
		p.logger.Warn("event queue full, dropping", zap.String("type", string(e.Type)), zap.String("fingerprint", e.Key()))
		return fmt.Errorf("kafka event queue full")
	}
}

func (p *KafkaPublisher) run() {
	defer close(p.done)
	for msg := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.WriteTimeout)
		err := p.breaker.Execute(ctx, func(ctx context.Context) error {
			return p.writer.WriteMessages(ctx, msg)
		})
		cancel()
		if err != nil {
			status := "error"
			if errors.Is(err, breaker.ErrOpen) {
				status = "breaker_open"
			}
			metrics.EventsPublishedTotal.WithLabelValues(sinkKafka, status).Inc()
			p.logger.Warn("kafka write failed", zap.String("key", string(msg.Key)), zap.Error(err))
			continue
		}
		metrics.EventsPublishedTotal.WithLabelValues(sinkKafka, "success").Inc()
	}
}

// Close drains queued events and closes the writer.
func (p *KafkaPublisher) Close() error {
	var err error
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		close(p.queue)
		p.mu.Unlock()
		<-p.done
		err = p.writer.Close()
	})
	return err
}

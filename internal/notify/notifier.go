// Package notify publishes run lifecycle events to Kafka so downstream
// consumers can react to fresh loads. The notifier is optional and strictly
// fire-and-forget: publish failures are logged and never fail a run.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/epar-io/eparload/internal/config"
	"github.com/epar-io/eparload/internal/load"
)

const (
	defaultTopic        = "eparload.runs"
	defaultWriteTimeout = 10 * time.Second
)

// Event kinds.
const (
	EventRunStarted   = "run_started"
	EventRunSucceeded = "run_succeeded"
	EventRunFailed    = "run_failed"
)

// ErrTopicEmpty is returned when brokers are configured without a topic.
var ErrTopicEmpty = errors.New("notifier topic cannot be empty")

// Config holds notifier settings. No brokers means notifications are
// disabled.
type Config struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// LoadConfig loads notifier configuration from environment variables with
// fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		Brokers:      config.ParseCommaSeparatedList(config.GetEnvStr("KAFKA_BROKERS", "")),
		Topic:        config.GetEnvStr("KAFKA_TOPIC", defaultTopic),
		WriteTimeout: config.GetEnvDuration("KAFKA_WRITE_TIMEOUT", defaultWriteTimeout),
	}
}

// Enabled reports whether any broker is configured.
func (c *Config) Enabled() bool {
	return len(c.Brokers) > 0
}

// Validate checks the notifier configuration.
func (c *Config) Validate() error {
	if c.Enabled() && c.Topic == "" {
		return ErrTopicEmpty
	}

	return nil
}

// Event is the JSON message published per lifecycle transition.
type Event struct {
	Kind             string     `json:"kind"`
	RunID            int64      `json:"run_id"`
	Strategy         string     `json:"strategy"`
	RecordsProcessed *int64     `json:"records_processed,omitempty"`
	HighWaterMark    *time.Time `json:"high_water_mark,omitempty"`
	Reason           string     `json:"reason,omitempty"`
	At               time.Time  `json:"at"`
}

// messageWriter is the slice of kafka.Writer the notifier uses; tests
// substitute it.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Compile-time interface assertion.
var _ load.RunObserver = (*Notifier)(nil)

// Notifier publishes run events. The zero-value-disabled pattern keeps call
// sites unconditional: a Notifier built from a broker-less config publishes
// nothing.
type Notifier struct {
	writer  messageWriter
	timeout time.Duration
	logger  *slog.Logger
}

// NewNotifier creates a notifier, or a disabled one when no brokers are
// configured.
func NewNotifier(cfg *Config, logger *slog.Logger) (*Notifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	if !cfg.Enabled() {
		return &Notifier{logger: logger}, nil
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		WriteTimeout: cfg.WriteTimeout,
		// One lifecycle event at a time; batching adds only latency.
		BatchSize: 1,
	}

	return &Notifier{writer: writer, timeout: cfg.WriteTimeout, logger: logger}, nil
}

// RunStarted publishes a run_started event.
func (n *Notifier) RunStarted(ctx context.Context, runID int64, strategy load.Strategy) {
	n.publish(ctx, Event{
		Kind:     EventRunStarted,
		RunID:    runID,
		Strategy: strategy.String(),
		At:       time.Now().UTC(),
	})
}

// RunSucceeded publishes a run_succeeded event with the run's outcome.
func (n *Notifier) RunSucceeded(ctx context.Context, result *load.RunResult) {
	n.publish(ctx, Event{
		Kind:             EventRunSucceeded,
		RunID:            result.RunID,
		Strategy:         result.Strategy.String(),
		RecordsProcessed: &result.RecordsProcessed,
		HighWaterMark:    result.HighWaterMark,
		At:               time.Now().UTC(),
	})
}

// RunFailed publishes a run_failed event.
func (n *Notifier) RunFailed(ctx context.Context, runID int64, strategy load.Strategy, cause error) {
	event := Event{
		Kind:     EventRunFailed,
		RunID:    runID,
		Strategy: strategy.String(),
		At:       time.Now().UTC(),
	}

	if cause != nil {
		event.Reason = cause.Error()
	}

	n.publish(ctx, event)
}

// Close releases the underlying writer.
func (n *Notifier) Close() error {
	if closer, ok := n.writer.(interface{ Close() error }); ok {
		return closer.Close()
	}

	return nil
}

// publish sends one event, best effort.
func (n *Notifier) publish(ctx context.Context, event Event) {
	if n.writer == nil {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		n.logger.Error("failed to encode run event", slog.Any("error", err))

		return
	}

	// The run must not block on a slow broker; bound the write and detach
	// from run cancellation so failure events still go out.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()

	message := kafka.Message{
		Key:   []byte(strconv.FormatInt(event.RunID, 10)),
		Value: payload,
	}

	if err := n.writer.WriteMessages(writeCtx, message); err != nil {
		n.logger.Warn("failed to publish run event",
			slog.String("kind", event.Kind),
			slog.Int64("run_id", event.RunID),
			slog.Any("error", fmt.Errorf("kafka write: %w", err)),
		)
	}
}

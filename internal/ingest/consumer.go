// Package ingest provides the kafka consumer that drives triage scans.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ciwatch-io/ciwatch/internal/config"
	"github.com/ciwatch-io/ciwatch/internal/scan"
)

// Consumer defaults.
const (
	defaultTopic    = "ci.build-events"
	defaultGroupID  = "ciwatch-ingester"
	defaultMinBytes = 1
	defaultMaxBytes = 1 << 20 // 1 MB
	defaultMaxWait  = 3 * time.Second
)

// Sentinel errors for consumer configuration.
var (
	// ErrNoBrokers indicates the consumer was configured without kafka brokers.
	ErrNoBrokers = errors.New("at least one kafka broker is required")

	// ErrNilScanner indicates the consumer was constructed without a scanner.
	ErrNilScanner = errors.New("scanner cannot be nil")
)

type (
	// ScanRunner is the subset of the scan package the consumer needs to
	// turn a build event into a scan result.
	ScanRunner interface {
		ScanBuild(ctx context.Context, pipeline string, buildNumber int) (*scan.Result, error)
	}

	// ScanWriter persists completed scan results. Implemented by
	// storage.ScanStore; nil disables persistence (scan-and-log mode).
	ScanWriter interface {
		StoreScan(ctx context.Context, result *scan.Result) (bool, error)
	}

	// ConsumerConfig holds kafka consumer configuration.
	// Pure configuration only - no runtime dependencies.
	ConsumerConfig struct {
		Brokers  []string
		Topic    string
		GroupID  string
		MinBytes int
		MaxBytes int
		MaxWait  time.Duration
	}

	// Consumer reads build events from kafka, validates them, and runs a
	// triage scan for each build that warrants one.
	Consumer struct {
		reader    *kafka.Reader
		scanner   ScanRunner
		store     ScanWriter
		validator *Validator
		logger    *slog.Logger
	}
)

// LoadConsumerConfig loads kafka consumer configuration from environment
// variables with sensible defaults.
func LoadConsumerConfig() *ConsumerConfig {
	return &ConsumerConfig{
		Brokers: config.ParseCommaSeparatedList(
			config.GetEnvStr("CIWATCH_KAFKA_BROKERS", "localhost:9092"),
		),
		Topic:    config.GetEnvStr("CIWATCH_KAFKA_TOPIC", defaultTopic),
		GroupID:  config.GetEnvStr("CIWATCH_KAFKA_GROUP_ID", defaultGroupID),
		MinBytes: config.GetEnvInt("CIWATCH_KAFKA_MIN_BYTES", defaultMinBytes),
		MaxBytes: config.GetEnvInt("CIWATCH_KAFKA_MAX_BYTES", defaultMaxBytes),
		MaxWait:  config.GetEnvDuration("CIWATCH_KAFKA_MAX_WAIT", defaultMaxWait),
	}
}

// Validate validates the consumer configuration.
func (c *ConsumerConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return ErrNoBrokers
	}

	return nil
}

// NewConsumer creates a kafka consumer bound to the build-events topic.
//
// Parameters:
//   - cfg: Consumer configuration (brokers, topic, consumer group)
//   - scanner: Scan orchestrator invoked for each scannable build
//   - store: Scan result persistence (nil disables persistence)
//   - logger: Structured logger for consumer lifecycle and event handling
func NewConsumer(cfg *ConsumerConfig, scanner ScanRunner, store ScanWriter, logger *slog.Logger) (*Consumer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid consumer configuration: %w", err)
	}

	if scanner == nil {
		return nil, ErrNilScanner
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: cfg.MinBytes,
		MaxBytes: cfg.MaxBytes,
		MaxWait:  cfg.MaxWait,
	})

	return &Consumer{
		reader:    reader,
		scanner:   scanner,
		store:     store,
		validator: NewValidator(),
		logger:    logger,
	}, nil
}

// Run consumes build events until the context is canceled or a transient
// failure occurs.
//
// Offset semantics: malformed and invalid events are committed and skipped
// (redelivery cannot fix them), while scan and storage failures leave the
// offset uncommitted and stop the consumer so the event is redelivered after
// restart.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("Build event consumer started",
		slog.String("topic", c.reader.Config().Topic),
		slog.String("group_id", c.reader.Config().GroupID),
	)

	var scanned, skipped int

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				c.logger.Info("Build event consumer stopping",
					slog.Int("events_scanned", scanned),
					slog.Int("events_skipped", skipped),
				)

				return nil
			}

			return fmt.Errorf("fetch message: %w", err)
		}

		skip, err := c.handleMessage(ctx, msg)
		if err != nil {
			return err
		}

		if skip {
			skipped++
		} else {
			scanned++
		}

		// Handled or deliberately skipped: either way the offset moves on.
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("commit message: %w", err)
		}
	}
}

// handleMessage processes one kafka message. It returns skip=true for
// messages that should be committed without producing a scan (malformed,
// invalid, or non-scannable events) and an error for transient failures
// that should stop the consumer without committing.
func (c *Consumer) handleMessage(ctx context.Context, msg kafka.Message) (bool, error) {
	var event BuildEvent

	if err := json.Unmarshal(msg.Value, &event); err != nil {
		c.logger.Error("Discarding malformed build event",
			slog.Int64("offset", msg.Offset),
			slog.Int("partition", msg.Partition),
			slog.String("error", err.Error()),
		)

		return true, nil
	}

	if err := c.validator.ValidateBuildEvent(&event); err != nil {
		c.logger.Error("Discarding invalid build event",
			slog.Int64("offset", msg.Offset),
			slog.String("pipeline", event.Pipeline),
			slog.Int("build_number", event.BuildNumber),
			slog.String("error", err.Error()),
		)

		return true, nil
	}

	eventID := event.EnsureEventID()

	if !event.ShouldScan() {
		c.logger.Debug("Skipping build event",
			slog.String("event_id", eventID),
			slog.String("pipeline", event.Pipeline),
			slog.Int("build_number", event.BuildNumber),
			slog.String("state", event.State),
		)

		return true, nil
	}

	scanStart := time.Now()

	result, err := c.scanner.ScanBuild(ctx, event.Pipeline, event.BuildNumber)
	if err != nil {
		return false, fmt.Errorf("scan build %s#%d: %w", event.Pipeline, event.BuildNumber, err)
	}

	duplicate := false

	if c.store != nil {
		duplicate, err = c.store.StoreScan(ctx, result)
		if err != nil {
			return false, fmt.Errorf("store scan %s#%d: %w", event.Pipeline, event.BuildNumber, err)
		}
	}

	c.logger.Info("Build scanned",
		slog.String("event_id", eventID),
		slog.String("pipeline", event.Pipeline),
		slog.Int("build_number", event.BuildNumber),
		slog.Int("failures", len(result.Failures)),
		slog.Bool("partial", result.Partial),
		slog.Bool("duplicate", duplicate),
		slog.Duration("scan_latency", time.Since(scanStart)),
	)

	return false, nil
}

// Close releases the underlying kafka reader.
func (c *Consumer) Close() error {
	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("close kafka reader: %w", err)
	}

	return nil
}

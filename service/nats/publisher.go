package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/solstake/service/metrics"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher defines the interface for publishing stake events to NATS.
type Publisher interface {
	// PublishAccounts publishes a wallet's tracked stake accounts.
	PublishAccounts(ctx context.Context, event *StakeAccountsEvent) error

	// PublishRewardsProgress publishes one completed batch of reward epochs.
	PublishRewardsProgress(ctx context.Context, event *RewardsProgressEvent) error

	// PublishReport publishes a scheduled stake report.
	PublishReport(ctx context.Context, event *StakeReportEvent) error

	// Close closes the connection to NATS.
	Close() error
}

// JetStreamPublisher publishes stake events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	metrics *metrics.Metrics
	logger  *slog.Logger
}

const (
	// StreamName is the name of the JetStream stream for stake events.
	StreamName = "STAKE"

	// SubjectPrefix starts every stake event subject.
	SubjectPrefix = "stake."

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = "stake.>"

	// StreamRetention is how long messages are retained. Events are
	// notifications for live clients, not a record of state.
	StreamRetention = time.Hour
)

// NewPublisher creates a new JetStream publisher.
// It connects to NATS and ensures the stream exists.
func NewPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (*JetStreamPublisher, error) {
	nc, err := Connect(natsURL, "solstake-publisher")
	if err != nil {
		return nil, err
	}

	// Create JetStream context
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		metrics: m,
		logger:  logger,
	}

	// Ensure stream exists
	if err := publisher.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)

	return publisher, nil
}

// Connect dials NATS with the reconnect policy shared by publishers and
// subscribers.
func Connect(natsURL, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name(name),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1), // Unlimited reconnects
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

// ensureStream creates the JetStream stream if it doesn't exist.
func (p *JetStreamPublisher) ensureStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Try to get existing stream
	stream, err := p.js.Stream(ctx, StreamName)
	if err == nil {
		info, err := stream.Info(ctx)
		if err == nil {
			p.logger.Debug("JetStream stream already exists",
				"stream", StreamName,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}

	p.logger.Info("creating JetStream stream", "stream", StreamName)

	streamConfig := jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Stake account snapshots, reward progress and reports",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.MemoryStorage,
		Replicas:    1,
	}

	_, err = p.js.CreateStream(ctx, streamConfig)
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	p.logger.Info("JetStream stream created successfully", "stream", StreamName)
	return nil
}

// PublishAccounts publishes a tracked-list snapshot.
func (p *JetStreamPublisher) PublishAccounts(ctx context.Context, event *StakeAccountsEvent) error {
	return p.publish(ctx, Subject(event.Wallet, KindAccounts), event)
}

// PublishRewardsProgress publishes reward progress.
func (p *JetStreamPublisher) PublishRewardsProgress(ctx context.Context, event *RewardsProgressEvent) error {
	return p.publish(ctx, Subject(event.Wallet, KindRewards), event)
}

// PublishReport publishes a stake report.
func (p *JetStreamPublisher) PublishReport(ctx context.Context, event *StakeReportEvent) error {
	return p.publish(ctx, Subject(event.Wallet, KindReport), event)
}

func (p *JetStreamPublisher) publish(ctx context.Context, subject string, event any) error {
	start := time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = p.js.Publish(ctx, subject, data)
	if p.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		p.metrics.RecordNATSPublish(KindFromSubject(subject), status, time.Since(start).Seconds())
	}
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	p.logger.Debug("published stake event",
		"subject", subject,
		"bytes", len(data),
	)

	return nil
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}

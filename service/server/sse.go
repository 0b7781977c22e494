package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/solstake/service/metrics"
	natspkg "github.com/brojonat/solstake/service/nats"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const sseKeepalive = 10 * time.Second

// StreamEvent is one published wallet event, passed through verbatim.
type StreamEvent struct {
	Kind string // accounts, rewards or report
	Data []byte // JSON payload
}

// EventStream delivers a wallet's events until ctx is done. Implementations
// may close the channel to end the stream early.
type EventStream interface {
	Subscribe(ctx context.Context, wallet string) (<-chan StreamEvent, error)
}

// SSEPublisher streams wallet events from NATS JetStream to SSE clients.
type SSEPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

var _ EventStream = (*SSEPublisher)(nil)

// NewSSEPublisher creates a new SSE publisher that subscribes to NATS internally.
func NewSSEPublisher(natsURL string, logger *slog.Logger) (*SSEPublisher, error) {
	nc, err := natspkg.Connect(natsURL, "solstake-sse-publisher")
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	logger.Info("SSE publisher initialized", "nats_url", natsURL)

	return &SSEPublisher{
		nc:     nc,
		js:     js,
		logger: logger,
	}, nil
}

// Close closes the NATS connection.
func (p *SSEPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("SSE publisher closed")
	}
	return nil
}

// Subscribe creates an ephemeral consumer for the wallet's subjects that only
// delivers events published from now on.
func (p *SSEPublisher) Subscribe(ctx context.Context, wallet string) (<-chan StreamEvent, error) {
	cons, err := p.js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, jetstream.ConsumerConfig{
		FilterSubject: natspkg.WalletSubjects(wallet),
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	out := make(chan StreamEvent, 10)
	cc, err := cons.Consume(func(msg jetstream.Msg) {
		ev := StreamEvent{Kind: natspkg.KindFromSubject(msg.Subject()), Data: msg.Data()}
		select {
		case out <- ev:
			msg.Ack()
		case <-ctx.Done():
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming messages: %w", err)
	}

	go func() {
		<-ctx.Done()
		cc.Stop()
	}()
	return out, nil
}

// handleStream handles SSE streaming of a wallet's stake events. Each NATS
// event becomes an SSE event named after its kind.
// GET /api/v1/stream/{wallet}
func handleStream(stream EventStream, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wallet := r.PathValue("wallet")
		if err := validateAddress(wallet); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		ctx := r.Context()
		events, err := stream.Subscribe(ctx, wallet)
		if err != nil {
			logger.ErrorContext(ctx, "failed to subscribe to wallet events",
				"wallet", wallet,
				"error", err,
			)
			writeError(w, "failed to subscribe", http.StatusServiceUnavailable)
			return
		}

		// Streams outlive the server's write timeout.
		_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		flusher, _ := w.(http.Flusher)
		flush := func() {
			if flusher != nil {
				flusher.Flush()
			}
		}

		if m != nil {
			m.RecordSSEConnectionChange(wallet, 1)
			defer m.RecordSSEConnectionChange(wallet, -1)
		}
		logger.DebugContext(ctx, "SSE client connected",
			"wallet", wallet,
			"remote_addr", r.RemoteAddr,
		)

		fmt.Fprintf(w, "event: connected\ndata: {\"wallet\":%q}\n\n", wallet)
		flush()

		keepalive := time.NewTicker(sseKeepalive)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				flush()

			case ev, ok := <-events:
				if !ok {
					return
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, ev.Data)
				flush()
				if m != nil {
					m.RecordSSEEventSent(wallet, ev.Kind)
				}

			case <-ctx.Done():
				logger.DebugContext(ctx, "SSE client disconnected",
					"wallet", wallet,
					"remote_addr", r.RemoteAddr,
				)
				return
			}
		}
	})
}

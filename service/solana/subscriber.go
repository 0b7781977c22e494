package solana

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/brojonat/solstake/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
)

// Subscriber delivers ledger change notifications. Each returned channel is
// closed when ctx is cancelled or the underlying subscription fails.
type Subscriber interface {
	SubscribeProgram(ctx context.Context, programID solana.PublicKey, filter ProgramFilter) (<-chan AccountNotification, error)
	SubscribeAccount(ctx context.Context, address solana.PublicKey) (<-chan AccountNotification, error)
	Close() error
}

// WSSubscriber implements Subscriber over the PubSub websocket API.
type WSSubscriber struct {
	mu         sync.Mutex
	conn       *ws.Client
	commitment rpc.CommitmentType
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewWSSubscriber connects to the PubSub endpoint at wsURL.
func NewWSSubscriber(ctx context.Context, wsURL string, commitment rpc.CommitmentType, m *metrics.Metrics, logger *slog.Logger) (*WSSubscriber, error) {
	conn, err := ws.Connect(ctx, wsURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", EndpointLabel(wsURL), err)
	}
	logger.Info("connected to solana websocket", "endpoint", EndpointLabel(wsURL))

	return &WSSubscriber{
		conn:       conn,
		commitment: commitment,
		metrics:    m,
		logger:     logger,
	}, nil
}

// SubscribeProgram streams changes to accounts owned by programID that match filter.
func (s *WSSubscriber) SubscribeProgram(ctx context.Context, programID solana.PublicKey, filter ProgramFilter) (<-chan AccountNotification, error) {
	s.mu.Lock()
	sub, err := s.conn.ProgramSubscribeWithOpts(
		programID,
		s.commitment,
		solana.EncodingBase64,
		[]rpc.RPCFilter{
			{DataSize: filter.DataSize},
			{Memcmp: &rpc.RPCFilterMemcmp{
				Offset: filter.AuthorityOffset,
				Bytes:  solana.Base58(filter.Authority.Bytes()),
			}},
		},
	)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("program subscribe failed: %w", err)
	}

	out := make(chan AccountNotification, 16)
	s.track("program", 1)
	go func() {
		defer close(out)
		defer s.track("program", -1)
		defer sub.Unsubscribe()

		for {
			res, err := sub.Recv(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.WarnContext(ctx, "program subscription ended",
						"program", programID.String(),
						"error", err,
					)
				}
				return
			}
			if res == nil || res.Value.Account == nil {
				continue
			}
			s.notified("program")

			n := AccountNotification{
				Address: res.Value.Pubkey,
				Slot:    res.Context.Slot,
				Account: notificationAccount(res.Value.Pubkey, res.Value.Account, res.Context.Slot),
			}
			select {
			case out <- n:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// SubscribeAccount streams changes to a single account, including its closure.
func (s *WSSubscriber) SubscribeAccount(ctx context.Context, address solana.PublicKey) (<-chan AccountNotification, error) {
	s.mu.Lock()
	sub, err := s.conn.AccountSubscribeWithOpts(address, s.commitment, solana.EncodingBase64)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("account subscribe failed: %w", err)
	}

	out := make(chan AccountNotification, 4)
	s.track("account", 1)
	go func() {
		defer close(out)
		defer s.track("account", -1)
		defer sub.Unsubscribe()

		for {
			res, err := sub.Recv(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.WarnContext(ctx, "account subscription ended",
						"address", address.String(),
						"error", err,
					)
				}
				return
			}
			if res == nil {
				continue
			}
			s.notified("account")

			n := AccountNotification{
				Address: address,
				Slot:    res.Context.Slot,
				Account: notificationAccount(address, res.Value, res.Context.Slot),
			}
			select {
			case out <- n:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Close tears down the websocket connection and every subscription on it.
func (s *WSSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.Close()
	return nil
}

func (s *WSSubscriber) track(kind string, delta float64) {
	if s.metrics != nil {
		s.metrics.RecordSubscriptionChange(kind, delta)
	}
}

func (s *WSSubscriber) notified(kind string) {
	if s.metrics != nil {
		s.metrics.RecordSubscriptionNotification(kind)
	}
}

// notificationAccount converts a pushed account. A drained account (no
// lamports) is reported as gone.
func notificationAccount(address solana.PublicKey, acct *rpc.Account, slot uint64) *Account {
	if acct == nil || acct.Lamports == 0 {
		return nil
	}
	return accountFromRPC(address, acct, slot)
}

package nats

import (
	"context"

	"github.com/brojonat/solstake/service/stake"
	solanago "github.com/gagliardetto/solana-go"
)

// Notifier publishes session changes through a Publisher.
type Notifier struct {
	publisher Publisher
}

var _ stake.Notifier = (*Notifier)(nil)

// NewNotifier returns a stake.Notifier backed by publisher.
func NewNotifier(publisher Publisher) *Notifier {
	return &Notifier{publisher: publisher}
}

// AccountsChanged publishes the tracked list after a change.
func (n *Notifier) AccountsChanged(ctx context.Context, owner solanago.PublicKey, records []*stake.Record) error {
	return n.publisher.PublishAccounts(ctx, NewStakeAccountsEvent(owner, records))
}

// RewardsProgressed publishes one batch of reward history.
func (n *Notifier) RewardsProgressed(ctx context.Context, owner solanago.PublicKey, p stake.RewardsProgress) error {
	return n.publisher.PublishRewardsProgress(ctx, NewRewardsProgressEvent(owner, p))
}

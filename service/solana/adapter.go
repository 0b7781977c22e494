package solana

import (
	"context"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

// realRPCClient adapts the solana-go RPC client to our RPCClient interface.
type realRPCClient struct {
	client *rpc.Client
}

// RPCOptions configures the HTTP transport beneath the RPC client.
type RPCOptions struct {
	// RateLimit is the sustained requests per second; 0 disables limiting.
	RateLimit float64
	// RateBurst is the limiter's bucket size. Defaults to 1 when RateLimit is set.
	RateBurst int
	// Timeout bounds each HTTP request. Defaults to 30s.
	Timeout time.Duration
	// OnWait observes time spent blocked on the limiter.
	OnWait func(time.Duration)
}

// NewRPCClient creates a new RPCClient that wraps the solana-go RPC client.
// For premium RPC endpoints that require API keys, include the key in the URL:
// - Helius: https://mainnet.helius-rpc.com/?api-key=YOUR-KEY
// - QuickNode: https://YOUR-ENDPOINT.quiknode.pro/YOUR-KEY/
func NewRPCClient(rpcURL string, opts RPCOptions) RPCClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var transport http.RoundTripper = http.DefaultTransport
	if opts.RateLimit > 0 {
		transport = &RateLimitedTransport{
			Limiter: NewLimiter(opts.RateLimit, opts.RateBurst),
			OnWait:  opts.OnWait,
		}
	}

	httpClient := &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}

	return &realRPCClient{
		client: rpc.NewWithCustomRPCClient(jsonrpc.NewClientWithOpts(rpcURL, &jsonrpc.RPCClientOpts{
			HTTPClient: httpClient,
		})),
	}
}

func (r *realRPCClient) GetProgramAccountsWithOpts(
	ctx context.Context,
	programID solana.PublicKey,
	opts *rpc.GetProgramAccountsOpts,
) (rpc.GetProgramAccountsResult, error) {
	return r.client.GetProgramAccountsWithOpts(ctx, programID, opts)
}

func (r *realRPCClient) GetAccountInfoWithOpts(
	ctx context.Context,
	account solana.PublicKey,
	opts *rpc.GetAccountInfoOpts,
) (*rpc.GetAccountInfoResult, error) {
	return r.client.GetAccountInfoWithOpts(ctx, account, opts)
}

func (r *realRPCClient) GetInflationReward(
	ctx context.Context,
	addresses []solana.PublicKey,
	opts *rpc.GetInflationRewardOpts,
) ([]*rpc.GetInflationRewardResult, error) {
	return r.client.GetInflationReward(ctx, addresses, opts)
}

func (r *realRPCClient) GetEpochInfo(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetEpochInfoResult, error) {
	return r.client.GetEpochInfo(ctx, commitment)
}

func (r *realRPCClient) GetEpochSchedule(ctx context.Context) (*rpc.GetEpochScheduleResult, error) {
	return r.client.GetEpochSchedule(ctx)
}

func (r *realRPCClient) GetBlockTime(ctx context.Context, slot uint64) (*solana.UnixTimeSeconds, error) {
	return r.client.GetBlockTime(ctx, slot)
}

func (r *realRPCClient) GetBalance(
	ctx context.Context,
	account solana.PublicKey,
	commitment rpc.CommitmentType,
) (*rpc.GetBalanceResult, error) {
	return r.client.GetBalance(ctx, account, commitment)
}

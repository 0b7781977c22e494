package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/brojonat/solstake/service/stake"
)

// Session describes a wallet session running on the server.
type Session struct {
	ID        string    `json:"id"`
	Wallet    string    `json:"wallet"`
	StartedAt time.Time `json:"started_at"`
	Accounts  int       `json:"accounts"`
	Created   bool      `json:"created"`
}

// NextSeed is the suggested seed and address for a new stake account.
type NextSeed struct {
	Wallet  string `json:"wallet"`
	Seed    string `json:"seed"`
	Address string `json:"address"`
}

// Yields is the APY report for a wallet's stake accounts.
type Yields struct {
	Wallet string            `json:"wallet"`
	Epoch  uint64            `json:"epoch"`
	Yields []stake.YieldView `json:"yields"`
}

// Event is a single server-sent event.
type Event struct {
	Kind string
	Data json.RawMessage
}

// Client is the HTTP client for the solstake session service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new session service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// StartSession asks the server to start tracking a wallet. Starting a wallet
// that is already tracked returns the running session with Created false.
func (c *Client) StartSession(ctx context.Context, wallet string) (*Session, error) {
	var sess Session
	err := c.do(ctx, http.MethodPost, "/api/v1/sessions", map[string]string{"wallet": wallet}, &sess, http.StatusCreated, http.StatusOK)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("session started", "wallet", wallet, "id", sess.ID, "created", sess.Created)
	return &sess, nil
}

// StopSession asks the server to stop tracking a wallet.
func (c *Client) StopSession(ctx context.Context, wallet string) error {
	if err := c.do(ctx, http.MethodDelete, walletPath(wallet, ""), nil, nil, http.StatusNoContent); err != nil {
		return err
	}
	c.logger.Debug("session stopped", "wallet", wallet)
	return nil
}

// ListSessions returns every running session.
func (c *Client) ListSessions(ctx context.Context) ([]Session, error) {
	var resp struct {
		Sessions []Session `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/sessions", nil, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

// StakeAccounts returns the wallet's tracked stake accounts, ordered by seed.
func (c *Client) StakeAccounts(ctx context.Context, wallet string) ([]stake.RecordView, error) {
	var resp struct {
		Accounts []stake.RecordView `json:"accounts"`
	}
	if err := c.do(ctx, http.MethodGet, walletPath(wallet, "/stake-accounts"), nil, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return resp.Accounts, nil
}

// AddStakeAccount inserts a freshly created stake account into the wallet's
// tracked list.
func (c *Client) AddStakeAccount(ctx context.Context, wallet, address, seed string) (*stake.RecordView, error) {
	var rec stake.RecordView
	body := map[string]string{"address": address, "seed": seed}
	if err := c.do(ctx, http.MethodPost, walletPath(wallet, "/stake-accounts"), body, &rec, http.StatusCreated); err != nil {
		return nil, err
	}
	return &rec, nil
}

// NextSeed returns the first unused numeric seed for the wallet.
func (c *Client) NextSeed(ctx context.Context, wallet string) (*NextSeed, error) {
	var resp NextSeed
	if err := c.do(ctx, http.MethodGet, walletPath(wallet, "/next-seed"), nil, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Yields returns the APY of each tracked account.
func (c *Client) Yields(ctx context.Context, wallet string) (*Yields, error) {
	var resp Yields
	if err := c.do(ctx, http.MethodGet, walletPath(wallet, "/yields"), nil, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Summary returns staked versus liquid balance for the wallet.
func (c *Client) Summary(ctx context.Context, wallet string) (*stake.SummaryView, error) {
	var resp stake.SummaryView
	if err := c.do(ctx, http.MethodGet, walletPath(wallet, "/summary"), nil, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Epoch returns the current epoch snapshot.
func (c *Client) Epoch(ctx context.Context) (*stake.EpochView, error) {
	var resp stake.EpochView
	if err := c.do(ctx, http.MethodGet, "/api/v1/epoch", nil, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stream reads the wallet's server-sent events and calls fn for each one
// until ctx is done, the server closes the stream, or fn returns an error.
// Keepalive comments are skipped.
func (c *Client) Stream(ctx context.Context, wallet string, fn func(Event) error) error {
	u := c.baseURL + "/api/v1/stream/" + url.PathEscape(wallet)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The configured client timeout would cut the stream short.
	streamClient := *c.httpClient
	streamClient.Timeout = 0
	resp, err := streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to SSE endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var kind string
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if kind != "" && len(data) > 0 {
				if err := fn(Event{Kind: kind, Data: json.RawMessage(strings.Join(data, "\n"))}); err != nil {
					return err
				}
			}
			kind, data = "", nil
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			kind = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("error reading SSE stream: %w", err)
	}
	return nil
}

func walletPath(wallet, suffix string) string {
	return "/api/v1/sessions/" + url.PathEscape(wallet) + suffix
}

// do sends a JSON request and decodes the response into out when the status
// is one of want.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}, want ...int) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	ok := false
	for _, code := range want {
		if resp.StatusCode == code {
			ok = true
			break
		}
	}
	if !ok {
		return c.parseErrorResponse(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
}

// APIError is a non-success response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/brojonat/solstake/service/stake"
	"github.com/brojonat/solstake/service/temporal"
	solanago "github.com/gagliardetto/solana-go"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB - plenty for session requests
	maxAddressLength   = 100     // Solana addresses are 44 chars, give buffer
	maxSeedLength      = 32      // create-with-seed limit
)

var (
	// Valid Solana address characters: base58 (no 0, O, I, l)
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

type sessionResponse struct {
	ID        string    `json:"id"`
	Wallet    string    `json:"wallet"`
	StartedAt time.Time `json:"started_at"`
	Accounts  int       `json:"accounts"`
	Created   bool      `json:"created"`
}

type stakeAccountsResponse struct {
	Wallet   string             `json:"wallet"`
	Accounts []stake.RecordView `json:"accounts"`
}

type nextSeedResponse struct {
	Wallet  string `json:"wallet"`
	Seed    string `json:"seed"`
	Address string `json:"address"`
}

type yieldsResponse struct {
	Wallet string            `json:"wallet"`
	Epoch  uint64            `json:"epoch"`
	Yields []stake.YieldView `json:"yields"`
}

// handleStartSession returns a handler that starts tracking a wallet.
// A report schedule is upserted when a scheduler is configured; scheduling
// failures are logged and do not fail the session.
// POST /api/v1/sessions
func handleStartSession(reg *Registry, scheduler temporal.Scheduler, reportInterval time.Duration, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req struct {
			Wallet string `json:"wallet"`
		}
		if !decodeBody(w, r, &req, logger) {
			return
		}

		owner, err := parseAddress(req.Wallet)
		if err != nil {
			logger.Debug("invalid wallet", "wallet", req.Wallet, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		info, created, err := reg.Start(r.Context(), owner)
		if err != nil {
			writeStakeError(w, r, err, logger)
			return
		}

		if created && scheduler != nil {
			if err := scheduler.UpsertReportSchedule(r.Context(), info.Wallet, reportInterval); err != nil {
				logger.WarnContext(r.Context(), "failed to schedule stake report",
					"wallet", info.Wallet,
					"error", err,
				)
			}
		}

		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		writeJSON(w, sessionResponse{
			ID:        info.ID,
			Wallet:    info.Wallet,
			StartedAt: info.StartedAt,
			Accounts:  info.Accounts,
			Created:   created,
		}, status)
	})
}

// handleListSessions returns a handler that lists running sessions.
// GET /api/v1/sessions
func handleListSessions(reg *Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"sessions": reg.List()}, http.StatusOK)
	})
}

// handleStopSession returns a handler that stops tracking a wallet.
// DELETE /api/v1/sessions/{wallet}
func handleStopSession(reg *Registry, scheduler temporal.Scheduler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner, ok := walletFromPath(w, r)
		if !ok {
			return
		}

		if err := reg.Stop(r.Context(), owner); err != nil {
			writeStakeError(w, r, err, logger)
			return
		}

		if scheduler != nil {
			if err := scheduler.DeleteReportSchedule(r.Context(), owner.String()); err != nil {
				logger.WarnContext(r.Context(), "failed to delete stake report schedule",
					"wallet", owner.String(),
					"error", err,
				)
			}
		}

		w.WriteHeader(http.StatusNoContent)
	})
}

// handleListStakeAccounts returns a handler that lists a wallet's tracked accounts.
// GET /api/v1/sessions/{wallet}/stake-accounts
func handleListStakeAccounts(reg *Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := sessionFromPath(w, r, reg, logger)
		if !ok {
			return
		}
		writeJSON(w, stakeAccountsResponse{
			Wallet:   sess.Owner().String(),
			Accounts: stake.RecordViews(sess.Accounts()),
		}, http.StatusOK)
	})
}

// handleAddStakeAccount returns a handler that inserts an account the user
// just created, without waiting for a change notification.
// POST /api/v1/sessions/{wallet}/stake-accounts
func handleAddStakeAccount(reg *Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		sess, ok := sessionFromPath(w, r, reg, logger)
		if !ok {
			return
		}

		var req struct {
			Address string `json:"address"`
			Seed    string `json:"seed"`
		}
		if !decodeBody(w, r, &req, logger) {
			return
		}

		address, err := parseAddress(req.Address)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := validateSeed(req.Seed); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		rec, err := sess.AddTrackedAccount(r.Context(), address, req.Seed)
		if err != nil {
			writeStakeError(w, r, err, logger)
			return
		}
		writeJSON(w, rec.View(), http.StatusCreated)
	})
}

// handleNextSeed returns a handler that suggests the seed for a new account.
// GET /api/v1/sessions/{wallet}/next-seed
func handleNextSeed(reg *Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := sessionFromPath(w, r, reg, logger)
		if !ok {
			return
		}

		seed, address, err := sess.NextAccount()
		if err != nil {
			writeStakeError(w, r, err, logger)
			return
		}
		writeJSON(w, nextSeedResponse{
			Wallet:  sess.Owner().String(),
			Seed:    seed,
			Address: address.String(),
		}, http.StatusOK)
	})
}

// handleYields returns a handler that reports the APY of each tracked account.
// GET /api/v1/sessions/{wallet}/yields
func handleYields(reg *Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := sessionFromPath(w, r, reg, logger)
		if !ok {
			return
		}

		epoch, err := sess.Epoch(r.Context())
		if err != nil {
			writeStakeError(w, r, err, logger)
			return
		}
		yields, err := sess.Yields(r.Context())
		if err != nil {
			writeStakeError(w, r, err, logger)
			return
		}

		views := make([]stake.YieldView, len(yields))
		for i, y := range yields {
			views[i] = y.View()
		}
		writeJSON(w, yieldsResponse{
			Wallet: sess.Owner().String(),
			Epoch:  epoch.Epoch,
			Yields: views,
		}, http.StatusOK)
	})
}

// handleSummary returns a handler that reports staked versus liquid balance.
// GET /api/v1/sessions/{wallet}/summary
func handleSummary(reg *Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := sessionFromPath(w, r, reg, logger)
		if !ok {
			return
		}

		summary, err := sess.Summary(r.Context())
		if err != nil {
			writeStakeError(w, r, err, logger)
			return
		}
		writeJSON(w, summary.View(), http.StatusOK)
	})
}

// handleEpoch returns a handler that reports the current epoch and its progress.
// GET /api/v1/epoch
func handleEpoch(epochs *stake.EpochTracker, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap, err := epochs.Current(r.Context())
		if err != nil {
			writeStakeError(w, r, err, logger)
			return
		}
		writeJSON(w, snap.View(), http.StatusOK)
	})
}

// decodeBody decodes a JSON request body, writing the error response itself
// when decoding fails.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}, logger *slog.Logger) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		logger.Debug("failed to decode request", "path", r.URL.Path, "error", err)
		if strings.Contains(err.Error(), "http: request body too large") {
			writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
			return false
		}
		writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

func walletFromPath(w http.ResponseWriter, r *http.Request) (solanago.PublicKey, bool) {
	owner, err := parseAddress(r.PathValue("wallet"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return solanago.PublicKey{}, false
	}
	return owner, true
}

func sessionFromPath(w http.ResponseWriter, r *http.Request, reg *Registry, logger *slog.Logger) (*stake.Session, bool) {
	owner, ok := walletFromPath(w, r)
	if !ok {
		return nil, false
	}
	sess, err := reg.Get(r.Context(), owner)
	if err != nil {
		writeStakeError(w, r, err, logger)
		return nil, false
	}
	return sess, true
}

// writeStakeError maps engine errors to HTTP status codes.
func writeStakeError(w http.ResponseWriter, r *http.Request, err error, logger *slog.Logger) {
	switch {
	case errors.Is(err, stake.ErrUnknownWallet):
		writeError(w, "no session for wallet", http.StatusNotFound)
	case errors.Is(err, stake.ErrAccountNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, stake.ErrParseAccount):
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, stake.ErrSessionClosed), errors.Is(err, ErrRegistryClosed):
		writeError(w, "session is shutting down", http.StatusConflict)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, "request cancelled", http.StatusServiceUnavailable)
	default:
		logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// parseAddress validates an address and decodes it into a public key.
func parseAddress(address string) (solanago.PublicKey, error) {
	if err := validateAddress(address); err != nil {
		return solanago.PublicKey{}, err
	}
	key, err := solanago.PublicKeyFromBase58(address)
	if err != nil {
		return solanago.PublicKey{}, errorf("invalid address: %v", err)
	}
	return key, nil
}

// validateAddress validates a wallet address for security and format.
func validateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}

	if len(address) > maxAddressLength {
		return errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	// Check for null bytes and control characters
	for _, r := range address {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in address: control characters not allowed")
		}
	}

	if !validAddressRegex.MatchString(address) {
		return errorf("invalid address format: must contain only valid base58 characters")
	}

	return nil
}

// validateSeed validates a derivation seed label.
func validateSeed(seed string) error {
	if seed == "" {
		return errorf("seed is required")
	}
	if len(seed) > maxSeedLength {
		return errorf("seed too long: maximum length is %d bytes", maxSeedLength)
	}
	for _, r := range seed {
		if unicode.IsControl(r) {
			return errorf("invalid characters in seed: control characters not allowed")
		}
	}
	return nil
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}

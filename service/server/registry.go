package server

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/brojonat/solstake/service/stake"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

// ErrRegistryClosed is returned when a session is requested after shutdown began.
var ErrRegistryClosed = errors.New("session registry closed")

// SessionFactory builds an unstarted session for a wallet.
type SessionFactory func(owner solanago.PublicKey) (*stake.Session, error)

// SessionInfo describes a live session.
type SessionInfo struct {
	ID        string    `json:"id"`
	Wallet    string    `json:"wallet"`
	StartedAt time.Time `json:"started_at"`
	Accounts  int       `json:"accounts"`
}

type registryEntry struct {
	info    SessionInfo
	session *stake.Session
	ready   chan struct{} // closed once session or err is set
	err     error
}

// Registry owns at most one session per wallet. Sessions outlive the request
// that started them and end on Stop or Close.
type Registry struct {
	factory SessionFactory
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*registryEntry
	closed   bool
}

// NewRegistry creates an empty registry.
func NewRegistry(factory SessionFactory, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		factory:  factory,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
		sessions: make(map[string]*registryEntry),
	}
}

// Start returns the wallet's session, starting one if none exists. created
// reports whether this call started it. A newly started session fetches its
// reward history in the background.
func (r *Registry) Start(ctx context.Context, owner solanago.PublicKey) (info SessionInfo, created bool, err error) {
	key := owner.String()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return SessionInfo{}, false, ErrRegistryClosed
	}
	if e, ok := r.sessions[key]; ok {
		r.mu.Unlock()
		if err := r.wait(ctx, e); err != nil {
			return SessionInfo{}, false, err
		}
		return r.describe(e), false, nil
	}
	e := &registryEntry{
		info: SessionInfo{
			ID:        uuid.NewString(),
			Wallet:    key,
			StartedAt: time.Now().UTC(),
		},
		ready: make(chan struct{}),
	}
	r.sessions[key] = e
	r.mu.Unlock()

	sess, err := r.factory(owner)
	if err == nil {
		err = sess.Start(r.ctx)
	}
	if err != nil {
		if sess != nil {
			sess.Close()
		}
		r.mu.Lock()
		if r.sessions[key] == e {
			delete(r.sessions, key)
		}
		r.mu.Unlock()
		e.err = err
		close(e.ready)
		r.logger.ErrorContext(ctx, "failed to start session", "wallet", key, "error", err)
		return SessionInfo{}, false, err
	}

	e.session = sess
	// The refresh goroutine is counted before ready is closed so Close, which
	// waits on ready, never reaches wg.Wait ahead of the Add.
	r.mu.Lock()
	closed := r.closed
	if !closed {
		r.wg.Add(1)
	}
	r.mu.Unlock()
	close(e.ready)
	if closed {
		// Close owns the session now and shuts it down.
		return SessionInfo{}, false, ErrRegistryClosed
	}

	go func() {
		defer r.wg.Done()
		if err := sess.RefreshRewards(r.ctx); err != nil &&
			!errors.Is(err, context.Canceled) && !errors.Is(err, stake.ErrSessionClosed) {
			r.logger.Warn("reward history refresh failed", "wallet", key, "error", err)
		}
	}()

	r.logger.InfoContext(ctx, "session started", "wallet", key, "session_id", e.info.ID)
	return r.describe(e), true, nil
}

// Get returns the wallet's session, or stake.ErrUnknownWallet.
func (r *Registry) Get(ctx context.Context, owner solanago.PublicKey) (*stake.Session, error) {
	r.mu.Lock()
	e, ok := r.sessions[owner.String()]
	r.mu.Unlock()
	if !ok {
		return nil, stake.ErrUnknownWallet
	}
	if err := r.wait(ctx, e); err != nil {
		return nil, err
	}
	return e.session, nil
}

// Stop closes and forgets the wallet's session.
func (r *Registry) Stop(ctx context.Context, owner solanago.PublicKey) error {
	key := owner.String()
	r.mu.Lock()
	e, ok := r.sessions[key]
	if ok {
		delete(r.sessions, key)
	}
	r.mu.Unlock()
	if !ok {
		return stake.ErrUnknownWallet
	}
	if err := r.wait(ctx, e); err != nil {
		return err
	}
	e.session.Close()
	r.logger.InfoContext(ctx, "session stopped", "wallet", key, "session_id", e.info.ID)
	return nil
}

// List describes every running session, ordered by wallet.
func (r *Registry) List() []SessionInfo {
	r.mu.Lock()
	entries := make([]*registryEntry, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	out := make([]SessionInfo, 0, len(entries))
	for _, e := range entries {
		select {
		case <-e.ready:
			if e.err == nil {
				out = append(out, r.describe(e))
			}
		default:
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Wallet < out[j].Wallet })
	return out
}

// Close stops every session and rejects new ones.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	entries := r.sessions
	r.sessions = make(map[string]*registryEntry)
	r.mu.Unlock()

	r.cancel()
	for _, e := range entries {
		<-e.ready
		if e.session != nil {
			e.session.Close()
		}
	}
	r.wg.Wait()
	r.logger.Info("session registry closed", "sessions", len(entries))
}

func (r *Registry) wait(ctx context.Context, e *registryEntry) error {
	select {
	case <-e.ready:
		return e.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) describe(e *registryEntry) SessionInfo {
	info := e.info
	if e.session != nil {
		info.Accounts = len(e.session.Accounts())
	}
	return info
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/brojonat/solstake/service/solana"
	"github.com/brojonat/solstake/service/stake"
	"github.com/brojonat/solstake/service/temporal"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serverFixture struct {
	owner     solanago.PublicKey
	ledger    *fakeLedger
	scheduler *temporal.MockScheduler
	stream    *fakeStream
	registry  *Registry
	handler   http.Handler
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	f := &serverFixture{
		owner:     solanago.NewWallet().PublicKey(),
		ledger:    newFakeLedger(),
		scheduler: temporal.NewMockScheduler(),
		stream:    &fakeStream{},
	}
	f.registry = NewRegistry(func(owner solanago.PublicKey) (*stake.Session, error) {
		return stake.NewSession(stake.SessionConfig{
			Owner:            owner,
			Ledger:           f.ledger,
			BlockTimeBackoff: quickBackoff(),
			ConfirmAttempts:  2,
			ConfirmDelay:     time.Millisecond,
			Logger:           testLogger(),
		})
	}, testLogger())
	t.Cleanup(f.registry.Close)

	resolver := stake.NewBlockTimeResolver(f.ledger, quickBackoff(), nil, testLogger())
	epochs := stake.NewEpochTracker(stake.NewEpochEstimator(f.ledger, resolver, testLogger()))
	srv := New(":0", f.registry, epochs, f.scheduler, time.Hour, f.stream, nil, testLogger())
	f.handler = srv.Handler()
	return f
}

func (f *serverFixture) derive(t *testing.T, seed string) solanago.PublicKey {
	t.Helper()
	addr, err := stake.DeriveAddress(f.owner, seed, solana.StakeProgramID)
	require.NoError(t, err)
	return addr
}

func (f *serverFixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func (f *serverFixture) start(t *testing.T) sessionResponse {
	t.Helper()
	w := f.do(http.MethodPost, "/api/v1/sessions", `{"wallet":"`+f.owner.String()+`"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp sessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestStartSession(t *testing.T) {
	f := newServerFixture(t)
	f.ledger.put(f.derive(t, "0"), 2*stake.LamportsPerSOL, delegatedData(f.owner, 15))

	first := f.start(t)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, f.owner.String(), first.Wallet)
	assert.Equal(t, 1, first.Accounts)
	assert.True(t, first.Created)

	interval, ok := f.scheduler.GetScheduleInterval(f.owner.String())
	require.True(t, ok)
	assert.Equal(t, time.Hour, interval)

	// Starting again returns the running session.
	w := f.do(http.MethodPost, "/api/v1/sessions", `{"wallet":"`+f.owner.String()+`"}`)
	require.Equal(t, http.StatusOK, w.Code)
	again := decode[sessionResponse](t, w)
	assert.Equal(t, first.ID, again.ID)
	assert.False(t, again.Created)

	w = f.do(http.MethodGet, "/api/v1/sessions", "")
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Sessions []SessionInfo `json:"sessions"`
	}](t, w)
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, first.ID, list.Sessions[0].ID)
}

func TestStartSession_InvalidInput(t *testing.T) {
	f := newServerFixture(t)

	tests := []struct {
		name        string
		body        string
		errContains string
	}{
		{name: "invalid json", body: `{"wallet":`, errContains: "invalid request body"},
		{name: "missing wallet", body: `{}`, errContains: "address is required"},
		{name: "invalid characters", body: `{"wallet":"0OIl"}`, errContains: "base58"},
		{name: "control characters", body: `{"wallet":"abc\u0000def"}`, errContains: "control characters"},
		{name: "too long", body: `{"wallet":"` + strings.Repeat("A", 101) + `"}`, errContains: "too long"},
		{name: "not a key", body: `{"wallet":"abc"}`, errContains: "invalid address"},
		{name: "body too large", body: `{"wallet":"` + strings.Repeat("A", 2<<20) + `"}`, errContains: "request body too large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodPost, "/api/v1/sessions", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tt.errContains)
		})
	}
	assert.Equal(t, 0, f.scheduler.ScheduleCount())
}

func TestStartSession_ScanFailure(t *testing.T) {
	f := newServerFixture(t)
	f.ledger.scanErr = errors.New("rpc down")

	w := f.do(http.MethodPost, "/api/v1/sessions", `{"wallet":"`+f.owner.String()+`"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Empty(t, f.registry.List())
	assert.False(t, f.scheduler.ScheduleExists(f.owner.String()))

	// A later attempt can succeed.
	f.ledger.mu.Lock()
	f.ledger.scanErr = nil
	f.ledger.mu.Unlock()
	f.start(t)
}

func TestStartSession_ScheduleFailureIsNotFatal(t *testing.T) {
	f := newServerFixture(t)
	f.scheduler.SetUpsertError(errors.New("temporal down"))
	f.start(t)
	assert.Len(t, f.registry.List(), 1)
}

func TestStopSession(t *testing.T) {
	f := newServerFixture(t)
	f.start(t)

	w := f.do(http.MethodDelete, "/api/v1/sessions/"+f.owner.String(), "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.False(t, f.scheduler.ScheduleExists(f.owner.String()))
	assert.Empty(t, f.registry.List())

	w = f.do(http.MethodDelete, "/api/v1/sessions/"+f.owner.String(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodDelete, "/api/v1/sessions/not-base58!", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListStakeAccounts(t *testing.T) {
	f := newServerFixture(t)
	f.ledger.put(f.derive(t, "1"), stake.LamportsPerSOL, delegatedData(f.owner, 15))
	f.ledger.put(f.derive(t, "0"), stake.LamportsPerSOL, delegatedData(f.owner, 15))

	w := f.do(http.MethodGet, "/api/v1/sessions/"+f.owner.String()+"/stake-accounts", "")
	assert.Equal(t, http.StatusNotFound, w.Code, "no session yet")

	f.start(t)
	w = f.do(http.MethodGet, "/api/v1/sessions/"+f.owner.String()+"/stake-accounts", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[stakeAccountsResponse](t, w)
	require.Len(t, resp.Accounts, 2)
	assert.Equal(t, "0", resp.Accounts[0].Seed)
	assert.Equal(t, "1", resp.Accounts[1].Seed)
	assert.Equal(t, stake.KindDelegated, resp.Accounts[0].State)
	assert.Equal(t, "1", resp.Accounts[0].SOL)
}

func TestAddStakeAccount(t *testing.T) {
	f := newServerFixture(t)
	f.start(t)
	path := "/api/v1/sessions/" + f.owner.String() + "/stake-accounts"

	addr := f.derive(t, "0")
	f.ledger.put(addr, stake.LamportsPerSOL, delegatedData(f.owner, 19))
	w := f.do(http.MethodPost, path, `{"address":"`+addr.String()+`","seed":"0"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	rec := decode[stake.RecordView](t, w)
	assert.Equal(t, addr.String(), rec.Address)
	assert.Equal(t, "0", rec.Seed)

	w = f.do(http.MethodGet, path, "")
	assert.Len(t, decode[stakeAccountsResponse](t, w).Accounts, 1)

	t.Run("not found", func(t *testing.T) {
		missing := solanago.NewWallet().PublicKey()
		w := f.do(http.MethodPost, path, `{"address":"`+missing.String()+`","seed":"1"}`)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("undecodable", func(t *testing.T) {
		bad := solanago.NewWallet().PublicKey()
		data := make([]byte, solana.StakeAccountSize)
		data[0] = 200
		f.ledger.put(bad, 1, data)
		w := f.do(http.MethodPost, path, `{"address":"`+bad.String()+`","seed":"2"}`)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("invalid seed", func(t *testing.T) {
		w := f.do(http.MethodPost, path, `{"address":"`+addr.String()+`","seed":""}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		w = f.do(http.MethodPost, path, `{"address":"`+addr.String()+`","seed":"`+strings.Repeat("x", 33)+`"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestNextSeed(t *testing.T) {
	f := newServerFixture(t)
	f.ledger.put(f.derive(t, "0"), stake.LamportsPerSOL, delegatedData(f.owner, 15))
	f.start(t)

	w := f.do(http.MethodGet, "/api/v1/sessions/"+f.owner.String()+"/next-seed", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[nextSeedResponse](t, w)
	assert.Equal(t, "1", resp.Seed)
	assert.Equal(t, f.derive(t, "1").String(), resp.Address)
}

func TestYieldsAndSummary(t *testing.T) {
	f := newServerFixture(t)
	f.ledger.put(f.derive(t, "0"), 3*stake.LamportsPerSOL, delegatedData(f.owner, 15))
	f.ledger.balance = stake.LamportsPerSOL
	f.start(t)

	w := f.do(http.MethodGet, "/api/v1/sessions/"+f.owner.String()+"/yields", "")
	require.Equal(t, http.StatusOK, w.Code)
	yields := decode[yieldsResponse](t, w)
	assert.Equal(t, uint64(20), yields.Epoch)
	require.Len(t, yields.Yields, 1)
	assert.Nil(t, yields.Yields[0].APY, "activation time is unknown")
	assert.NotContains(t, w.Body.String(), `"apy"`)

	w = f.do(http.MethodGet, "/api/v1/sessions/"+f.owner.String()+"/summary", "")
	require.Equal(t, http.StatusOK, w.Code)
	summary := decode[stake.SummaryView](t, w)
	assert.Equal(t, 75, summary.StakedPercent)
	assert.Equal(t, "3", summary.TotalStakedSOL)
	assert.Equal(t, 1, summary.Accounts)
}

func TestEpoch(t *testing.T) {
	f := newServerFixture(t)

	w := f.do(http.MethodGet, "/api/v1/epoch", "")
	require.Equal(t, http.StatusOK, w.Code)
	epoch := decode[stake.EpochView](t, w)
	assert.Equal(t, uint64(20), epoch.Epoch)
	assert.Equal(t, uint64(3_116_256), epoch.FirstSlot)
	assert.InDelta(t, 0.5, epoch.Progress, 1e-9)
	require.NotNil(t, epoch.StartTime)

	f.ledger.setEpochErr(errors.New("rpc down"))
	w = f.do(http.MethodGet, "/api/v1/epoch", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, w.Body.String())
}

func TestStream(t *testing.T) {
	f := newServerFixture(t)
	f.stream.events = []StreamEvent{
		{Kind: "accounts", Data: []byte(`{"wallet":"w","accounts":[]}`)},
		{Kind: "rewards", Data: []byte(`{"completed":4}`)},
	}

	w := f.do(http.MethodGet, "/api/v1/stream/"+f.owner.String(), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.True(t, strings.HasPrefix(body, "event: connected\ndata: {\"wallet\":\""+f.owner.String()+"\"}\n\n"))
	assert.Contains(t, body, "event: accounts\ndata: {\"wallet\":\"w\",\"accounts\":[]}\n\n")
	assert.Contains(t, body, "event: rewards\ndata: {\"completed\":4}\n\n")
}

func TestStream_Errors(t *testing.T) {
	f := newServerFixture(t)

	w := f.do(http.MethodGet, "/api/v1/stream/bad-wallet!", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.stream.err = errors.New("nats down")
	w = f.do(http.MethodGet, "/api/v1/stream/"+f.owner.String(), "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestStream_Disabled(t *testing.T) {
	f := newServerFixture(t)
	srv := New(":0", f.registry, nil, nil, time.Hour, nil, nil, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stream/"+f.owner.String(), nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthAndCORS(t *testing.T) {
	f := newServerFixture(t)

	w := f.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = f.do(http.MethodOptions, "/api/v1/sessions", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "DELETE")
}

func TestShutdownClosesSessions(t *testing.T) {
	f := newServerFixture(t)
	srv := New(":0", f.registry, nil, f.scheduler, time.Hour, nil, nil, testLogger())
	f.start(t)

	require.NoError(t, srv.Shutdown(context.Background()))
	assert.Empty(t, f.registry.List())

	_, _, err := f.registry.Start(context.Background(), f.owner)
	assert.ErrorIs(t, err, ErrRegistryClosed)
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, map[string]int{"a": 1}, http.StatusTeapot)
	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"a":1}`, w.Body.String())
}

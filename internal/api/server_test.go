package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/referral-dashboard/internal/circuitbreaker"
	apperrors "github.com/referral-dashboard/internal/errors"
	"github.com/referral-dashboard/internal/ratelimit"
	"github.com/referral-dashboard/internal/types"
	"github.com/referral-dashboard/internal/wallet"
)

var (
	alice = common.HexToAddress("0xa11ce00000000000000000000000000000000001")
	carol = common.HexToAddress("0xca20100000000000000000000000000000000003")
)

// Mock services for testing
type mockSessionService struct {
	session         types.Session
	connectFunc     func(ctx context.Context) error
	logoutFunc      func(ctx context.Context) error
	switchFunc      func(ctx context.Context) error
	refreshFunc     func(ctx context.Context) (*types.AggregateResult, error)
	registeredFunc  func(ctx context.Context) (bool, error)
	registerFunc    func(ctx context.Context, code string) (*types.Registration, error)
	resolveFunc     func(ctx context.Context, code string) (*big.Int, common.Address, error)
	registeredCodes []string
}

func (m *mockSessionService) Session() types.Session {
	return m.session
}

func (m *mockSessionService) Connect(ctx context.Context, p wallet.Provider) error {
	if m.connectFunc != nil {
		return m.connectFunc(ctx)
	}
	m.session = types.Session{Account: alice.Hex(), ChainID: 204, Status: types.StatusConnected, Generation: 1, HasProvider: true}
	return nil
}

func (m *mockSessionService) Logout(ctx context.Context) error {
	if m.logoutFunc != nil {
		return m.logoutFunc(ctx)
	}
	m.session = types.Session{Status: types.StatusDisconnected, Generation: m.session.Generation + 1}
	return nil
}

func (m *mockSessionService) SwitchNetwork(ctx context.Context) error {
	if m.switchFunc != nil {
		return m.switchFunc(ctx)
	}
	m.session.Status = types.StatusConnected
	return nil
}

func (m *mockSessionService) Refresh(ctx context.Context) (*types.AggregateResult, error) {
	if m.refreshFunc != nil {
		return m.refreshFunc(ctx)
	}
	return &types.AggregateResult{
		RequestID:  "req-1",
		Account:    alice,
		Generation: 1,
		Profile:    types.Available(&types.UserRecord{Address: alice, ID: 1, Exists: true}),
		Team:       types.Unavailable[*types.TeamRecord](types.ReasonReadFailed, apperrors.NewReadFailedError("tusers", nil)),
	}, nil
}

func (m *mockSessionService) IsRegistered(ctx context.Context) (bool, error) {
	if m.registeredFunc != nil {
		return m.registeredFunc(ctx)
	}
	return true, nil
}

func (m *mockSessionService) Register(ctx context.Context, code string) (*types.Registration, error) {
	m.registeredCodes = append(m.registeredCodes, code)
	if m.registerFunc != nil {
		return m.registerFunc(ctx, code)
	}
	return &types.Registration{User: alice, Referrer: carol, BlockNumber: 10}, nil
}

func (m *mockSessionService) ResolveReferrer(ctx context.Context, code string) (*big.Int, common.Address, error) {
	if m.resolveFunc != nil {
		return m.resolveFunc(ctx, code)
	}
	id, _ := new(big.Int).SetString(code, 10)
	return id, carol, nil
}

type mockNotices struct {
	notices []types.Notice
}

func (m *mockNotices) Drain() []types.Notice {
	drained := m.notices
	m.notices = nil
	return drained
}

type mockBreakers struct{}

func (mockBreakers) GetAllStats() []circuitbreaker.Stats {
	return []circuitbreaker.Stats{{Name: "users", State: circuitbreaker.StateClosed}}
}

func newTestServer(sessions SessionService, notices NoticeSource, limiter ratelimit.Limiter) *Server {
	return NewServer(&ServerConfig{Host: "127.0.0.1", Port: "0"}, sessions, notices, mockBreakers{}, limiter, nil)
}

func doRequest(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "192.0.2.1:5555"
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) types.ServiceError {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestHealth(t *testing.T) {
	s := newTestServer(&mockSessionService{session: types.Session{Status: types.StatusDisconnected}}, nil, nil)

	rec := doRequest(t, s, http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "disconnected", body["session"])
	assert.Len(t, body["breakers"], 1)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestRequestIDIsPropagated(t *testing.T) {
	s := newTestServer(&mockSessionService{}, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestSessionLifecycle(t *testing.T) {
	sessions := &mockSessionService{session: types.Session{Status: types.StatusDisconnected}}
	s := newTestServer(sessions, nil, nil)

	rec := doRequest(t, s, http.MethodPost, "/api/session/connect", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view types.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, types.StatusConnected, view.Status)
	assert.Equal(t, alice.Hex(), view.Account)

	rec = doRequest(t, s, http.MethodGet, "/api/session", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/api/session/logout", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, types.StatusDisconnected, view.Status)
}

func TestConnectErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"rejected", apperrors.NewUserRejectedError("account access", nil), http.StatusConflict, "USER_REJECTED"},
		{"wrong network", apperrors.NewWrongNetworkError(97), http.StatusConflict, "WRONG_NETWORK"},
		{"no provider", apperrors.NewProviderUnavailableError(wallet.ErrNoProvider), http.StatusServiceUnavailable, "PROVIDER_UNAVAILABLE"},
		{"internal", apperrors.NewInternalError("eth_accounts failed", io.ErrUnexpectedEOF), http.StatusInternalServerError, ErrCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(&mockSessionService{
				connectFunc: func(ctx context.Context) error { return tt.err },
			}, nil, nil)

			rec := doRequest(t, s, http.MethodPost, "/api/session/connect", nil)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, rec).Code)
		})
	}
}

func TestWrongNetworkCarriesChainID(t *testing.T) {
	s := newTestServer(&mockSessionService{
		switchFunc: func(ctx context.Context) error { return apperrors.NewChainNotAddedError(204, nil) },
	}, nil, nil)

	rec := doRequest(t, s, http.MethodPost, "/api/session/switch-network", nil)

	require.Equal(t, http.StatusConflict, rec.Code)
	svcErr := decodeError(t, rec)
	assert.Equal(t, "CHAIN_NOT_ADDED", svcErr.Code)
	assert.Equal(t, float64(204), svcErr.Details["chainId"])
	assert.Equal(t, "wrong_network", svcErr.Details["category"])
}

func TestDashboard(t *testing.T) {
	s := newTestServer(&mockSessionService{}, nil, nil)

	rec := doRequest(t, s, http.MethodGet, "/api/dashboard", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var result struct {
		Account common.Address
		Profile types.Source[*types.UserRecord]
		Team    types.Source[*types.TeamRecord]
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, alice, result.Account)
	assert.True(t, result.Profile.Available)
	assert.Equal(t, uint64(1), result.Profile.Value.ID)
	assert.False(t, result.Team.Available)
	assert.Equal(t, types.ReasonReadFailed, result.Team.Reason)
	assert.NotEmpty(t, result.Team.Error)
}

func TestDashboardStale(t *testing.T) {
	s := newTestServer(&mockSessionService{
		refreshFunc: func(ctx context.Context) (*types.AggregateResult, error) {
			return nil, apperrors.NewStaleSnapshotError(3)
		},
	}, nil, nil)

	rec := doRequest(t, s, http.MethodGet, "/api/dashboard", nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "STALE_SNAPSHOT", decodeError(t, rec).Code)
}

func TestNoticesAreDrained(t *testing.T) {
	notices := &mockNotices{notices: []types.Notice{{Kind: types.NoticeAccountChanged, Message: "account changed, log in again"}}}
	s := newTestServer(&mockSessionService{}, notices, nil)

	rec := doRequest(t, s, http.MethodGet, "/api/notices", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp NoticesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Notices, 1)
	assert.Equal(t, types.NoticeAccountChanged, resp.Notices[0].Kind)

	rec = doRequest(t, s, http.MethodGet, "/api/notices", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Notices)
}

func TestRegistrationStatus(t *testing.T) {
	s := newTestServer(&mockSessionService{session: types.Session{Account: alice.Hex(), Status: types.StatusConnected}}, nil, nil)

	rec := doRequest(t, s, http.MethodGet, "/api/registration", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var status RegistrationStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Registered)
	assert.Equal(t, alice.Hex(), status.Account)
}

func TestRegister(t *testing.T) {
	sessions := &mockSessionService{}
	s := newTestServer(sessions, nil, nil)

	rec := doRequest(t, s, http.MethodPost, "/api/register", RegisterRequest{ReferralLink: "https://dapp.example/ref/12"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/api/register", RegisterRequest{ReferralCode: " 7 "})
	require.Equal(t, http.StatusCreated, rec.Code)

	assert.Equal(t, []string{"12", "7"}, sessions.registeredCodes)
}

func TestRegister_BadBody(t *testing.T) {
	s := newTestServer(&mockSessionService{}, nil, nil)

	rec := doRequest(t, s, http.MethodPost, "/api/register", map[string]string{"unexpected": "1"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ErrCodeInvalidInput, decodeError(t, rec).Code)
}

func TestRegister_NoConfirmationEvent(t *testing.T) {
	s := newTestServer(&mockSessionService{
		registerFunc: func(ctx context.Context, code string) (*types.Registration, error) {
			return nil, apperrors.NewNoConfirmationEventError("regUser", "regLevelEvent", "0xabc")
		},
	}, nil, nil)

	rec := doRequest(t, s, http.MethodPost, "/api/register", RegisterRequest{ReferralCode: "1"})

	require.Equal(t, http.StatusBadGateway, rec.Code)
	svcErr := decodeError(t, rec)
	assert.Equal(t, "NO_CONFIRMATION_EVENT", svcErr.Code)
	assert.Equal(t, "0xabc", svcErr.Details["txHash"])
}

func TestResolveReferrer(t *testing.T) {
	s := newTestServer(&mockSessionService{}, nil, nil)

	rec := doRequest(t, s, http.MethodGet, "/api/referrals/resolve?link=https%3A%2F%2Fdapp.example%2F%3Fref%3D42", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ReferrerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "42", resp.Code)
	assert.Equal(t, "42", resp.ReferrerID)
	assert.Equal(t, carol, resp.Referrer)
}

func TestResolveReferrer_ValidationError(t *testing.T) {
	s := newTestServer(&mockSessionService{
		resolveFunc: func(ctx context.Context, code string) (*big.Int, common.Address, error) {
			return nil, common.Address{}, apperrors.NewInvalidParameterError("referralCode", "code is empty")
		},
	}, nil, nil)

	rec := doRequest(t, s, http.MethodGet, "/api/referrals/resolve", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_PARAMETER", decodeError(t, rec).Code)
}

func TestRateLimitChargesRouteCost(t *testing.T) {
	limiter := ratelimit.NewLocalLimiter(0.001, ratelimit.CostDashboard)
	s := newTestServer(&mockSessionService{}, nil, limiter)

	rec := doRequest(t, s, http.MethodGet, "/api/dashboard", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/api/session", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, ErrCodeRateLimitExceeded, decodeError(t, rec).Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestRateLimitUsage(t *testing.T) {
	limiter := ratelimit.NewLocalLimiter(0.001, 10)
	s := newTestServer(&mockSessionService{}, nil, limiter)

	rec := doRequest(t, s, http.MethodGet, "/api/ratelimit", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var usage ratelimit.Usage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &usage))
	assert.Equal(t, "local", usage.Backend)
	assert.Equal(t, "192.0.2.1", usage.Client)
	assert.Equal(t, 10, usage.Budget)
	assert.Equal(t, ratelimit.DefaultCost, usage.Used)
	assert.Equal(t, 1, usage.Clients)
}

func TestRateLimitUsage_Disabled(t *testing.T) {
	s := newTestServer(&mockSessionService{}, nil, nil)

	rec := doRequest(t, s, http.MethodGet, "/api/ratelimit", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, ErrCodeNotFound, decodeError(t, rec).Code)
}

func TestCORSMiddleware(t *testing.T) {
	handler := CORSMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("preflight reached the handler")
	}))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/session", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCompression(t *testing.T) {
	s := newTestServer(&mockSessionService{}, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	gz, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	var view types.Session
	require.NoError(t, json.NewDecoder(gz).Decode(&view))
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestShutdown(t *testing.T) {
	s := newTestServer(&mockSessionService{}, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Shutdown(ctx))
}

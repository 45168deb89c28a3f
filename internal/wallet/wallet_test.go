package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/referral-dashboard/internal/retry"
)

var testAccount = common.HexToAddress("0x1000000000000000000000000000000000000001")

type ethService struct{}

func (s *ethService) Accounts() []common.Address {
	return []common.Address{testAccount}
}

func (s *ethService) RequestAccounts() ([]common.Address, error) {
	return nil, &ProviderError{Code: CodeUserRejected, Message: "User rejected the request."}
}

func (s *ethService) ChainId() *hexutil.Big {
	return (*hexutil.Big)(hexutil.MustDecodeBig("0x15eb"))
}

type walletService struct{}

func (s *walletService) AccountsChanged(ctx context.Context) (*rpc.Subscription, error) {
	notifier, ok := rpc.NotifierFromContext(ctx)
	if !ok {
		return nil, rpc.ErrNotificationsUnsupported
	}
	sub := notifier.CreateSubscription()
	go func() {
		_ = notifier.Notify(sub.ID, []common.Address{testAccount})
	}()
	return sub, nil
}

func (s *walletService) ChainChanged(ctx context.Context) (*rpc.Subscription, error) {
	notifier, ok := rpc.NotifierFromContext(ctx)
	if !ok {
		return nil, rpc.ErrNotificationsUnsupported
	}
	sub := notifier.CreateSubscription()
	go func() {
		_ = notifier.Notify(sub.ID, "0xcc")
	}()
	return sub, nil
}

func newInProcProvider(t *testing.T) *RPCProvider {
	t.Helper()
	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("eth", &ethService{}))
	require.NoError(t, server.RegisterName("wallet", &walletService{}))
	t.Cleanup(server.Stop)

	p := NewRPCProvider("inproc", rpc.DialInProc(server))
	t.Cleanup(p.Close)
	return p
}

func TestRPCProvider_Requests(t *testing.T) {
	p := newInProcProvider(t)
	ctx := context.Background()

	accounts, err := Accounts(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{testAccount}, accounts)

	_, err = RequestAccounts(ctx, p)
	require.Error(t, err)
	assert.True(t, IsUserRejection(err))
	code, ok := ErrorCode(err)
	require.True(t, ok)
	assert.Equal(t, CodeUserRejected, code)

	chainID, err := p.Backend().ChainID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5611), chainID.Uint64())
}

func TestRPCProvider_Subscribe(t *testing.T) {
	p := newInProcProvider(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events := make(chan Event, 2)
	sub, err := p.Subscribe(ctx, events)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	seen := map[EventKind]Event{}
	for len(seen) < 2 {
		select {
		case ev := <-events:
			seen[ev.Kind] = ev
		case <-ctx.Done():
			t.Fatalf("timed out waiting for events, got %v", seen)
		}
	}
	assert.Equal(t, []common.Address{testAccount}, seen[EventAccountsChanged].Accounts)
	assert.Equal(t, "0xcc", seen[EventChainChanged].ChainID)
}

func TestIsUserRejection(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"code 4001", &ProviderError{Code: CodeUserRejected, Message: "rejected"}, true},
		{"wrapped code", fmt.Errorf("send: %w", &ProviderError{Code: CodeUserRejected}), true},
		{"message only", errors.New("MetaMask Tx Signature: User denied transaction signature."), true},
		{"other code", &ProviderError{Code: CodeChainNotAdded, Message: "unrecognized chain"}, false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsUserRejection(tt.err))
		})
	}

	assert.True(t, IsRequestPending(&ProviderError{Code: CodeRequestPending}))
}

type stubProvider struct {
	Provider
	name string
}

func (s *stubProvider) Name() string { return s.name }

func TestDiscovery_WaitTimesOut(t *testing.T) {
	d := NewDiscovery()

	start := time.Now()
	_, err := d.Wait(context.Background(), 30*time.Millisecond)
	assert.ErrorIs(t, err, ErrNoProvider)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestDiscovery_AnnounceWakesWaiter(t *testing.T) {
	d := NewDiscovery()
	go func() {
		time.Sleep(10 * time.Millisecond)
		d.Announce(&stubProvider{name: "late"})
	}()

	p, err := d.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "late", p.Name())

	d.Announce(&stubProvider{name: "replacement"})
	current, ok := d.Current()
	require.True(t, ok)
	assert.Equal(t, "replacement", current.Name())
}

func TestDiscovery_ContextCancelled(t *testing.T) {
	d := NewDiscovery()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Wait(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDialAndAnnounce(t *testing.T) {
	d := NewDiscovery()
	var attempts int32
	dial := func(ctx context.Context, endpoint string) (Provider, error) {
		atomic.AddInt32(&attempts, 1)
		if endpoint == "ws://down" {
			return nil, errors.New("connection refused")
		}
		return &stubProvider{name: endpoint}, nil
	}
	cfg := &retry.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}

	err := DialAndAnnounce(context.Background(), d, dial, []string{"ws://down", "ws://up"}, cfg)
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))

	p, ok := d.Current()
	require.True(t, ok)
	assert.Equal(t, "ws://up", p.Name())

	err = DialAndAnnounce(context.Background(), NewDiscovery(), dial, []string{"ws://down"}, cfg)
	assert.Error(t, err)
}

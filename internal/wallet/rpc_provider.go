package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/referral-dashboard/internal/logging"
)

// RPCProvider is a wallet reachable over JSON-RPC. Push notifications are
// consumed through the wallet_subscribe namespace.
type RPCProvider struct {
	name    string
	client  *rpc.Client
	backend *ethclient.Client
}

// DialRPCProvider connects to a wallet JSON-RPC endpoint
func DialRPCProvider(ctx context.Context, endpoint string) (*RPCProvider, error) {
	client, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial wallet %s: %w", endpoint, err)
	}
	return NewRPCProvider(endpoint, client), nil
}

// NewRPCProvider wraps an existing RPC client
func NewRPCProvider(name string, client *rpc.Client) *RPCProvider {
	return &RPCProvider{
		name:    name,
		client:  client,
		backend: ethclient.NewClient(client),
	}
}

// Name returns the endpoint the provider was dialed on
func (p *RPCProvider) Name() string {
	return p.name
}

// Request performs a JSON-RPC call against the wallet
func (p *RPCProvider) Request(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	return p.client.CallContext(ctx, result, method, params...)
}

// Backend returns an ethclient sharing the wallet connection
func (p *RPCProvider) Backend() Backend {
	return p.backend
}

// Close closes the underlying connection
func (p *RPCProvider) Close() {
	p.client.Close()
}

// Subscribe forwards accountsChanged and chainChanged notifications to ch.
// Transports without notification support yield a subscription that never fires.
func (p *RPCProvider) Subscribe(ctx context.Context, ch chan<- Event) (Subscription, error) {
	accountsCh := make(chan []common.Address)
	accountsSub, err := p.client.Subscribe(ctx, "wallet", accountsCh, string(EventAccountsChanged))
	if errors.Is(err, rpc.ErrNotificationsUnsupported) {
		logging.FromContext(ctx).WithField("provider", p.name).Warn("Wallet transport does not support notifications")
		return newForwarder(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("subscribe accountsChanged: %w", err)
	}

	chainCh := make(chan string)
	chainSub, err := p.client.Subscribe(ctx, "wallet", chainCh, string(EventChainChanged))
	if err != nil {
		accountsSub.Unsubscribe()
		return nil, fmt.Errorf("subscribe chainChanged: %w", err)
	}

	fwd := newForwarder()
	go func() {
		defer accountsSub.Unsubscribe()
		defer chainSub.Unsubscribe()

		for {
			var ev Event
			select {
			case accounts := <-accountsCh:
				ev = Event{Kind: EventAccountsChanged, Accounts: accounts}
			case chainID := <-chainCh:
				ev = Event{Kind: EventChainChanged, ChainID: chainID}
			case err := <-accountsSub.Err():
				fwd.fail(err)
				return
			case err := <-chainSub.Err():
				fwd.fail(err)
				return
			case <-fwd.quit:
				return
			}

			select {
			case ch <- ev:
			case <-fwd.quit:
				return
			}
		}
	}()
	return fwd, nil
}

// forwarder is the Subscription handed out by RPCProvider
type forwarder struct {
	errCh chan error
	quit  chan struct{}
	once  sync.Once
}

func newForwarder() *forwarder {
	return &forwarder{
		errCh: make(chan error, 1),
		quit:  make(chan struct{}),
	}
}

func (f *forwarder) Err() <-chan error {
	return f.errCh
}

func (f *forwarder) Unsubscribe() {
	f.once.Do(func() { close(f.quit) })
}

func (f *forwarder) fail(err error) {
	if err == nil {
		return
	}
	select {
	case f.errCh <- err:
	default:
	}
}

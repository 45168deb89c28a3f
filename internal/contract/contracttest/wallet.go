package contracttest

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/referral-dashboard/internal/chain"
	"github.com/referral-dashboard/internal/contract"
	"github.com/referral-dashboard/internal/wallet"
)

// Wallet is a scripted wallet provider backed by a Chain
type Wallet struct {
	chain *Chain
	name  string

	mu             sync.Mutex
	authorized     []common.Address
	grant          []common.Address
	rejectAccounts bool
	rejectSends    bool
	switchErr      error
	sent           []contract.TransactionArgs
	requests       map[string]int
	subscribers    []*subscription
	closed         bool
}

// NewWallet creates a wallet that has already authorized accounts
func NewWallet(c *Chain, accounts ...common.Address) *Wallet {
	return &Wallet{
		chain:      c,
		name:       "contracttest",
		authorized: accounts,
		requests:   make(map[string]int),
	}
}

// Grant sets the accounts eth_requestAccounts authorizes
func (w *Wallet) Grant(accounts ...common.Address) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.grant = accounts
}

// RejectAccountRequests makes eth_requestAccounts fail with code 4001
func (w *Wallet) RejectAccountRequests(reject bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rejectAccounts = reject
}

// RejectTransactions makes eth_sendTransaction fail with code 4001
func (w *Wallet) RejectTransactions(reject bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rejectSends = reject
}

// FailSwitch makes wallet_switchEthereumChain return err
func (w *Wallet) FailSwitch(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.switchErr = err
}

// Requests returns how many times method was requested
func (w *Wallet) Requests(method string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.requests[method]
}

// Sent returns the submitted transactions
func (w *Wallet) Sent() []contract.TransactionArgs {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]contract.TransactionArgs(nil), w.sent...)
}

// Subscribers returns the number of live subscriptions
func (w *Wallet) Subscribers() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	live := 0
	for _, s := range w.subscribers {
		if !s.done() {
			live++
		}
	}
	return live
}

// Name implements wallet.Provider
func (w *Wallet) Name() string {
	return w.name
}

// Backend implements wallet.Provider
func (w *Wallet) Backend() wallet.Backend {
	return w.chain
}

// Close implements wallet.Provider
func (w *Wallet) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
}

// Request implements wallet.Provider
func (w *Wallet) Request(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	w.mu.Lock()
	w.requests[method]++
	w.mu.Unlock()

	switch method {
	case "eth_accounts":
		w.mu.Lock()
		accounts := append([]common.Address{}, w.authorized...)
		w.mu.Unlock()
		*result.(*[]common.Address) = accounts
		return nil

	case "eth_requestAccounts":
		w.mu.Lock()
		if w.rejectAccounts {
			w.mu.Unlock()
			return &wallet.ProviderError{Code: wallet.CodeUserRejected, Message: "User rejected the request."}
		}
		if w.grant != nil {
			w.authorized = w.grant
		}
		accounts := append([]common.Address{}, w.authorized...)
		w.mu.Unlock()
		*result.(*[]common.Address) = accounts
		return nil

	case "wallet_switchEthereumChain":
		w.mu.Lock()
		err := w.switchErr
		w.mu.Unlock()
		if err != nil {
			return err
		}
		arg, ok := params[0].(map[string]string)
		if !ok {
			return fmt.Errorf("unexpected switch params %T", params[0])
		}
		id, err := chain.ParseChainID(arg["chainId"])
		if err != nil {
			return err
		}
		w.chain.SetChainID(id)
		return nil

	case "eth_sendTransaction":
		args, ok := params[0].(contract.TransactionArgs)
		if !ok {
			return fmt.Errorf("unexpected transaction params %T", params[0])
		}
		w.mu.Lock()
		if w.rejectSends {
			w.mu.Unlock()
			return &wallet.ProviderError{Code: wallet.CodeUserRejected, Message: "User denied transaction signature."}
		}
		w.sent = append(w.sent, args)
		w.mu.Unlock()

		hash, err := w.chain.mine(args)
		if err != nil {
			return err
		}
		*result.(*common.Hash) = hash
		return nil
	}
	return fmt.Errorf("method %s not supported", method)
}

// Subscribe implements wallet.Provider
func (w *Wallet) Subscribe(ctx context.Context, ch chan<- wallet.Event) (wallet.Subscription, error) {
	sub := &subscription{ch: ch, errCh: make(chan error, 1), quit: make(chan struct{})}
	w.mu.Lock()
	w.subscribers = append(w.subscribers, sub)
	w.mu.Unlock()
	return sub, nil
}

// SwitchAccounts changes the authorized accounts and notifies subscribers
func (w *Wallet) SwitchAccounts(accounts ...common.Address) {
	w.mu.Lock()
	w.authorized = accounts
	w.mu.Unlock()
	w.emit(wallet.Event{Kind: wallet.EventAccountsChanged, Accounts: accounts})
}

// SwitchChain changes the node chain id and notifies subscribers
func (w *Wallet) SwitchChain(id uint64) {
	w.chain.SetChainID(id)
	w.emit(wallet.Event{Kind: wallet.EventChainChanged, ChainID: chain.HexChainID(id)})
}

func (w *Wallet) emit(ev wallet.Event) {
	w.mu.Lock()
	subs := append([]*subscription(nil), w.subscribers...)
	w.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- ev:
		case <-s.quit:
		}
	}
}

type subscription struct {
	ch    chan<- wallet.Event
	errCh chan error
	quit  chan struct{}
	once  sync.Once
}

func (s *subscription) Err() <-chan error {
	return s.errCh
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() { close(s.quit) })
}

func (s *subscription) done() bool {
	select {
	case <-s.quit:
		return true
	default:
		return false
	}
}

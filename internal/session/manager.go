// Package session owns the wallet session: which account is logged in, on
// which chain, and through which provider. Every transition happens under
// the Manager's mutex and bumps a generation counter so that work started
// against an older session can be recognised and discarded.
package session

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/referral-dashboard/internal/contract"
	apperrors "github.com/referral-dashboard/internal/errors"
	"github.com/referral-dashboard/internal/ledger"
	"github.com/referral-dashboard/internal/logging"
	"github.com/referral-dashboard/internal/types"
	"github.com/referral-dashboard/internal/wallet"
)

// ErrStaleSnapshot marks a snapshot fetched for a session that has since changed
var ErrStaleSnapshot = errors.New("stale snapshot")

// errSuperseded is returned when the session changed while an action was in flight
var errSuperseded = errors.New("session changed while the request was in flight")

// eventBuffer is the capacity of the provider event channel
const eventBuffer = 8

// Gateway is the subset of the contract gateway the session needs
type Gateway interface {
	Bind(ctx context.Context, p wallet.Provider) (*contract.Binding, error)
	SwitchChain(ctx context.Context, p wallet.Provider, chainID uint64) error
	User(ctx context.Context, b *contract.Binding, addr common.Address) (*types.UserRecord, error)
	ReferrerByCode(ctx context.Context, b *contract.Binding, code *big.Int) (common.Address, error)
	Register(ctx context.Context, b *contract.Binding, from common.Address, referrerID *big.Int) (*types.Registration, error)
}

// Aggregator builds dashboard snapshots
type Aggregator interface {
	FetchSnapshot(ctx context.Context, req ledger.Request) *types.AggregateResult
}

// Discoverer hands out the wallet provider announced by the environment
type Discoverer interface {
	Wait(ctx context.Context, timeout time.Duration) (wallet.Provider, error)
}

// AccountStore persists the last connected account
type AccountStore interface {
	Load(ctx context.Context) (common.Address, bool, error)
	Save(ctx context.Context, account common.Address) error
	Clear(ctx context.Context) error
}

// Prompter surfaces notices to the user and answers network switch prompts
type Prompter interface {
	Notify(notice types.Notice)
	ConfirmSwitch(ctx context.Context, observed, target uint64) bool
}

// Config holds session behaviour settings
type Config struct {
	DiscoveryTimeout time.Duration
	SwitchTargetID   uint64
}

// Manager is the single wallet session of the process
type Manager struct {
	cfg        Config
	gateway    Gateway
	aggregator Aggregator
	discovery  Discoverer
	store      AccountStore
	prompter   Prompter
	logger     *logging.Logger

	mu          sync.Mutex
	status      types.SessionStatus
	account     common.Address
	chainID     uint64
	provider    wallet.Provider
	binding     *contract.Binding
	sub         wallet.Subscription
	cancelWatch context.CancelFunc
	generation  uint64
	latest      *types.AggregateResult

	wg sync.WaitGroup
}

// NewManager creates a disconnected session
func NewManager(cfg Config, gateway Gateway, aggregator Aggregator, discovery Discoverer, store AccountStore, prompter Prompter) *Manager {
	if cfg.DiscoveryTimeout <= 0 {
		cfg.DiscoveryTimeout = 3 * time.Second
	}
	return &Manager{
		cfg:        cfg,
		gateway:    gateway,
		aggregator: aggregator,
		discovery:  discovery,
		store:      store,
		prompter:   prompter,
		logger:     logging.GetGlobalLogger().WithField("component", "session"),
		status:     types.StatusDisconnected,
	}
}

// Session returns a read-only view of the session
func (m *Manager) Session() types.Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	view := types.Session{
		ChainID:     m.chainID,
		Status:      m.status,
		Generation:  m.generation,
		HasProvider: m.provider != nil,
	}
	if m.account != (common.Address{}) {
		view.Account = m.account.Hex()
	}
	return view
}

// Latest returns the last accepted snapshot, or nil
func (m *Manager) Latest() *types.AggregateResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest
}

// Restore reconnects the persisted account if its wallet is still authorized.
// It never fails: every problem ends in Disconnected and is logged.
func (m *Manager) Restore(ctx context.Context) types.SessionStatus {
	logger := m.logger

	account, ok, err := m.store.Load(ctx)
	if err != nil {
		logger.WithError(err).Warn("Failed to load persisted account")
	}
	if !ok {
		return m.Session().Status
	}

	gen := m.beginConnecting()
	logger = logger.WithField("account", account.Hex())

	provider, err := m.discovery.Wait(ctx, m.cfg.DiscoveryTimeout)
	if err != nil {
		logger.WithError(apperrors.NewProviderUnavailableError(err)).Info("No wallet provider for session restore")
		m.abandon(gen)
		return m.Session().Status
	}

	accounts, err := wallet.Accounts(ctx, provider)
	if err != nil || len(accounts) == 0 || accounts[0] != account {
		if err != nil {
			logger.WithError(err).Warn("eth_accounts failed during restore")
		} else {
			logger.Info("Persisted account is no longer authorized")
		}
		if clearErr := m.store.Clear(ctx); clearErr != nil {
			logger.WithError(clearErr).Warn("Failed to clear persisted account")
		}
		m.abandon(gen)
		return m.Session().Status
	}

	if err := m.install(ctx, provider, account, gen); err != nil && !apperrors.IsWrongNetwork(err) {
		logger.WithError(err).Warn("Session restore failed")
		m.abandon(gen)
	}
	return m.Session().Status
}

// Connect logs in through p, prompting for accounts only when none are
// authorized yet. A nil p waits for the discovered provider.
func (m *Manager) Connect(ctx context.Context, p wallet.Provider) error {
	gen := m.beginConnecting()

	if p == nil {
		discovered, err := m.discovery.Wait(ctx, m.cfg.DiscoveryTimeout)
		if err != nil {
			m.abandon(gen)
			return apperrors.NewProviderUnavailableError(err)
		}
		p = discovered
	}

	accounts, err := wallet.Accounts(ctx, p)
	if err != nil {
		m.abandon(gen)
		return apperrors.NewInternalError("eth_accounts failed", err)
	}
	if len(accounts) == 0 {
		accounts, err = wallet.RequestAccounts(ctx, p)
		switch {
		case wallet.IsUserRejection(err):
			m.abandon(gen)
			return apperrors.NewUserRejectedError("account access", err)
		case wallet.IsRequestPending(err):
			m.abandon(gen)
			return apperrors.NewRequestPendingError("account access", err)
		case err != nil:
			m.abandon(gen)
			return apperrors.NewInternalError("eth_requestAccounts failed", err)
		case len(accounts) == 0:
			m.abandon(gen)
			return apperrors.NewNoAccountsError()
		}
	}

	// Saved before the watcher starts so a forced logout always clears it
	account := accounts[0]
	if saveErr := m.store.Save(ctx, account); saveErr != nil {
		m.logger.WithError(saveErr).Warn("Failed to persist account")
	}

	err = m.install(ctx, p, account, gen)
	if err != nil && !apperrors.IsWrongNetwork(err) && m.abandon(gen) {
		if clearErr := m.store.Clear(ctx); clearErr != nil {
			m.logger.WithError(clearErr).Warn("Failed to clear persisted account")
		}
	}
	return err
}

// Logout returns to Disconnected from any state and forgets the account
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	release := m.resetLocked()
	m.mu.Unlock()
	release()

	m.logger.Info("Logged out")
	return m.store.Clear(ctx)
}

// SwitchNetwork asks the wallet to move to the configured target chain and
// rebinds on success. A failed switch leaves the session as it was.
func (m *Manager) SwitchNetwork(ctx context.Context) error {
	m.mu.Lock()
	if m.status != types.StatusWrongNetwork && m.status != types.StatusConnected {
		status := m.status
		m.mu.Unlock()
		return apperrors.NewNotConnectedError(status)
	}
	p, sub := m.provider, m.sub
	m.mu.Unlock()

	return m.switchAndRebind(ctx, p, sub)
}

// Refresh fetches a snapshot for the current session and keeps it only if the
// session did not change meanwhile.
func (m *Manager) Refresh(ctx context.Context) (*types.AggregateResult, error) {
	m.mu.Lock()
	req := ledger.Request{
		Account:    m.account,
		Generation: m.generation,
		Status:     m.status,
		Binding:    m.binding,
	}
	m.mu.Unlock()

	result := m.aggregator.FetchSnapshot(ctx, req)
	if err := m.Accept(result); err != nil {
		return nil, err
	}
	return result, nil
}

// Accept attaches result if it was fetched for the current account and generation
func (m *Manager) Accept(result *types.AggregateResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if result == nil || result.Account != m.account || result.Generation != m.generation {
		var generation uint64
		if result != nil {
			generation = result.Generation
		}
		staleErr := apperrors.NewStaleSnapshotError(generation)
		staleErr.Cause = ErrStaleSnapshot
		return staleErr
	}
	m.latest = result
	return nil
}

// Close drops the session without forgetting the persisted account and waits
// for the event watcher to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	release := m.resetLocked()
	m.mu.Unlock()
	release()
	m.wg.Wait()
}

// beginConnecting drops any current session and enters Connecting
func (m *Manager) beginConnecting() uint64 {
	m.mu.Lock()
	release := m.resetLocked()
	m.status = types.StatusConnecting
	gen := m.generation
	m.mu.Unlock()
	release()
	return gen
}

// abandon returns to Disconnected if the connect attempt gen is still current
// and reports whether it was
func (m *Manager) abandon(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != gen {
		return false
	}
	m.status = types.StatusDisconnected
	return true
}

// install binds p and, if the connect attempt gen is still current, makes it
// the session and starts watching provider events. A wrong network still
// installs the session and returns the wrong network error.
func (m *Manager) install(ctx context.Context, p wallet.Provider, account common.Address, gen uint64) error {
	binding, bindErr := m.gateway.Bind(ctx, p)

	status := types.StatusConnected
	var chainID uint64
	switch {
	case bindErr == nil:
		chainID = binding.ChainID
	case apperrors.IsWrongNetwork(bindErr):
		status = types.StatusWrongNetwork
		chainID, _ = apperrors.ChainIDOf(bindErr)
	default:
		return bindErr
	}

	events := make(chan wallet.Event, eventBuffer)
	watchCtx, cancel := context.WithCancel(logging.WithLogger(context.Background(), m.logger))
	sub, err := p.Subscribe(watchCtx, events)
	if err != nil {
		cancel()
		return apperrors.NewInternalError("failed to subscribe to wallet events", err)
	}

	m.mu.Lock()
	if m.generation != gen || m.status != types.StatusConnecting {
		m.mu.Unlock()
		sub.Unsubscribe()
		cancel()
		return apperrors.NewNotConnectedError(types.StatusDisconnected)
	}
	m.generation++
	m.status = status
	m.account = account
	m.chainID = chainID
	m.provider = p
	m.binding = binding
	m.sub = sub
	m.cancelWatch = cancel
	m.latest = nil
	m.wg.Add(1)
	go m.watch(watchCtx, sub, events)
	m.mu.Unlock()

	m.logger.WithFields(map[string]interface{}{
		"account":  account.Hex(),
		"chainId":  chainID,
		"status":   status,
		"provider": p.Name(),
	}).Info("Wallet session established")

	if status == types.StatusWrongNetwork {
		m.notify(types.NoticeWrongNetwork, bindErr.Error())
	}
	return bindErr
}

// rebind rebuilds the binding for the session owning sub
func (m *Manager) rebind(ctx context.Context, p wallet.Provider, sub wallet.Subscription) error {
	binding, err := m.gateway.Bind(ctx, p)
	if err != nil && !apperrors.IsWrongNetwork(err) {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if sub == nil || m.sub != sub {
		return errSuperseded
	}
	m.generation++
	m.latest = nil
	if err != nil {
		m.status = types.StatusWrongNetwork
		m.binding = nil
		m.chainID, _ = apperrors.ChainIDOf(err)
		return err
	}
	m.status = types.StatusConnected
	m.binding = binding
	m.chainID = binding.ChainID
	return nil
}

// switchAndRebind asks p to switch to the target chain, then rebinds
func (m *Manager) switchAndRebind(ctx context.Context, p wallet.Provider, sub wallet.Subscription) error {
	if err := m.gateway.SwitchChain(ctx, p, m.cfg.SwitchTargetID); err != nil {
		return err
	}
	if err := m.rebind(ctx, p, sub); err != nil {
		return err
	}
	m.notify(types.NoticeNetworkSwitch, "switched to a supported network")
	return nil
}

// resetLocked clears the session. The returned func releases the dropped
// subscription and must be called after unlocking.
func (m *Manager) resetLocked() func() {
	sub, cancel := m.sub, m.cancelWatch

	m.generation++
	m.status = types.StatusDisconnected
	m.account = common.Address{}
	m.chainID = 0
	m.provider = nil
	m.binding = nil
	m.sub = nil
	m.cancelWatch = nil
	m.latest = nil

	return func() {
		if sub != nil {
			sub.Unsubscribe()
		}
		if cancel != nil {
			cancel()
		}
	}
}

// forceLogout drops the session owning sub and tells the user why
func (m *Manager) forceLogout(ctx context.Context, sub wallet.Subscription, kind, message string) {
	m.mu.Lock()
	if m.sub != sub {
		m.mu.Unlock()
		return
	}
	release := m.resetLocked()
	m.mu.Unlock()
	release()

	if err := m.store.Clear(ctx); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Failed to clear persisted account")
	}
	m.notify(kind, message)
}

func (m *Manager) notify(kind, message string) {
	if m.prompter == nil {
		return
	}
	m.prompter.Notify(types.Notice{Kind: kind, Message: message, CreatedAt: time.Now()})
}

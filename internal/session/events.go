package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/referral-dashboard/internal/chain"
	apperrors "github.com/referral-dashboard/internal/errors"
	"github.com/referral-dashboard/internal/logging"
	"github.com/referral-dashboard/internal/types"
	"github.com/referral-dashboard/internal/wallet"
)

// watch consumes provider events for one session until it is dropped
func (m *Manager) watch(ctx context.Context, sub wallet.Subscription, events <-chan wallet.Event) {
	defer m.wg.Done()
	logger := logging.FromContext(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-sub.Err():
			if !ok {
				return
			}
			if err != nil {
				logger.WithError(err).Warn("Wallet event subscription failed")
				m.forceLogout(ctx, sub, types.NoticeError, "lost connection to the wallet, log in again")
			}
			return
		case ev := <-events:
			switch ev.Kind {
			case wallet.EventAccountsChanged:
				m.onAccountsChanged(ctx, sub, ev)
			case wallet.EventChainChanged:
				m.onChainChanged(ctx, sub, ev)
			default:
				logger.WithField("kind", ev.Kind).Debug("Ignoring wallet event")
			}
		}
	}
}

// onAccountsChanged logs the user out unless the primary account is unchanged
func (m *Manager) onAccountsChanged(ctx context.Context, sub wallet.Subscription, ev wallet.Event) {
	m.mu.Lock()
	current := m.account
	owned := m.sub == sub
	m.mu.Unlock()

	if !owned {
		return
	}
	if len(ev.Accounts) > 0 && ev.Accounts[0] == current {
		return
	}

	logging.FromContext(ctx).WithField("account", current.Hex()).Info("Wallet account changed, ending session")
	m.forceLogout(ctx, sub, types.NoticeAccountChanged, "account changed, log in again")
}

// onChainChanged rebinds on an accepted chain, otherwise enters WrongNetwork
// and offers a switch. A declined or failed switch logs the user out.
func (m *Manager) onChainChanged(ctx context.Context, sub wallet.Subscription, ev wallet.Event) {
	logger := logging.FromContext(ctx)

	id, err := chain.ParseChainID(ev.ChainID)
	if err != nil {
		logger.WithError(err).WithField("chainId", ev.ChainID).Warn("Ignoring malformed chainChanged event")
		return
	}

	m.mu.Lock()
	if m.sub != sub {
		m.mu.Unlock()
		return
	}
	if m.status == types.StatusConnected && m.chainID == id {
		m.mu.Unlock()
		return
	}
	p := m.provider
	m.mu.Unlock()

	err = m.rebind(ctx, p, sub)
	switch {
	case err == nil:
		logger.WithField("chainId", id).Info("Rebound contract after chain change")
		return
	case apperrors.IsWrongNetwork(err):
		// offer a switch below
	case errors.Is(err, errSuperseded):
		return
	default:
		logger.WithError(err).Warn("Rebind after chain change failed")
		m.forceLogout(ctx, sub, types.NoticeError, "could not read the new network, log in again")
		return
	}

	m.notify(types.NoticeWrongNetwork, fmt.Sprintf("chain %d is not supported", id))

	if m.prompter == nil || !m.prompter.ConfirmSwitch(ctx, id, m.cfg.SwitchTargetID) {
		m.forceLogout(ctx, sub, types.NoticeLoggedOut, "network switch declined, logged out")
		return
	}
	if err := m.switchAndRebind(ctx, p, sub); err != nil {
		if errors.Is(err, errSuperseded) {
			return
		}
		logger.WithError(err).Warn("Network switch failed")
		m.forceLogout(ctx, sub, types.NoticeLoggedOut, fmt.Sprintf("network switch failed (%s), logged out", apperrors.Categorize(err).Message))
	}
}

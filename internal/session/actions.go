package session

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/referral-dashboard/internal/contract"
	apperrors "github.com/referral-dashboard/internal/errors"
	"github.com/referral-dashboard/internal/referral"
	"github.com/referral-dashboard/internal/types"
)

// connected returns the account and binding of a Connected session
func (m *Manager) connected() (common.Address, *contract.Binding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status != types.StatusConnected || m.binding == nil {
		return common.Address{}, nil, apperrors.NewNotConnectedError(m.status)
	}
	return m.account, m.binding, nil
}

// IsRegistered reports whether the session account exists in the contract
func (m *Manager) IsRegistered(ctx context.Context) (bool, error) {
	account, binding, err := m.connected()
	if err != nil {
		return false, err
	}
	user, err := m.gateway.User(ctx, binding, account)
	if err != nil {
		return false, err
	}
	return user.Exists, nil
}

// ResolveReferrer validates code and returns the referrer it names
func (m *Manager) ResolveReferrer(ctx context.Context, code string) (*big.Int, common.Address, error) {
	_, binding, err := m.connected()
	if err != nil {
		return nil, common.Address{}, err
	}
	return m.resolveReferrer(ctx, binding, code)
}

func (m *Manager) resolveReferrer(ctx context.Context, binding *contract.Binding, code string) (*big.Int, common.Address, error) {
	id, err := referral.ParseCode(code)
	if err != nil {
		return nil, common.Address{}, err
	}
	referrer, err := m.gateway.ReferrerByCode(ctx, binding, id)
	if err != nil {
		return nil, common.Address{}, err
	}
	if referrer == (common.Address{}) {
		return nil, common.Address{}, apperrors.NewInvalidParameterError("referralCode", "no registered user has this code")
	}
	return id, referrer, nil
}

// Register submits the registration transaction for the session account
// under the referrer named by code.
func (m *Manager) Register(ctx context.Context, code string) (*types.Registration, error) {
	account, binding, err := m.connected()
	if err != nil {
		return nil, err
	}

	id, referrer, err := m.resolveReferrer(ctx, binding, code)
	if err != nil {
		return nil, err
	}

	user, err := m.gateway.User(ctx, binding, account)
	if err != nil {
		return nil, err
	}
	if user.Exists {
		return nil, apperrors.NewInvalidParameterError("account", "account is already registered")
	}

	logger := m.logger.WithFields(map[string]interface{}{
		"account":    account.Hex(),
		"referrerId": id.String(),
		"referrer":   referrer.Hex(),
	})
	logger.Info("Submitting registration")

	registration, err := m.gateway.Register(ctx, binding, account, id)
	if err != nil {
		logger.WithError(err).Warn("Registration failed")
		return nil, err
	}

	logger.WithField("txHash", registration.TxHash.Hex()).Info("Registration confirmed")
	return registration, nil
}

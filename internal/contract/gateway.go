// Package contract binds a wallet provider to the referral program contract
// and exposes typed reads and the registration write path.
package contract

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"

	"github.com/referral-dashboard/internal/chain"
	"github.com/referral-dashboard/internal/circuitbreaker"
	apperrors "github.com/referral-dashboard/internal/errors"
	"github.com/referral-dashboard/internal/logging"
	"github.com/referral-dashboard/internal/types"
	"github.com/referral-dashboard/internal/wallet"
)

// Config configures a Gateway
type Config struct {
	Address               common.Address
	RegistrationFeeWei    *big.Int
	GasPriceBufferPercent int64
	ReadRPS               float64
	ReadBurst             int
	ReceiptPollInterval   time.Duration
	ConfirmationTimeout   time.Duration
	Breaker               *circuitbreaker.Config
}

// DefaultConfig returns the gateway configuration for the deployed contract
func DefaultConfig() Config {
	fee, _ := new(big.Int).SetString("5000000000000", 10)
	return Config{
		Address:               common.HexToAddress("0xB3e87A325fDc19DAB850eD85e8057E5b91391C3b"),
		RegistrationFeeWei:    fee,
		GasPriceBufferPercent: 20,
		ReadRPS:               20,
		ReadBurst:             20,
		ReceiptPollInterval:   2 * time.Second,
		ConfirmationTimeout:   2 * time.Minute,
	}
}

// Binding is an immutable pairing of a provider, the chain it was validated
// on and a contract instance. It is rebuilt whenever either changes.
type Binding struct {
	Provider wallet.Provider
	ChainID  uint64
	Address  common.Address

	contract *bind.BoundContract
	backend  wallet.Backend
}

// Gateway is the only component that talks to the contract
type Gateway struct {
	cfg       Config
	validator *chain.Validator
	abi       abi.ABI
	limiter   *rate.Limiter
	breakers  *circuitbreaker.CircuitBreakerManager
}

// NewGateway creates a gateway validating chains with validator
func NewGateway(cfg Config, validator *chain.Validator) *Gateway {
	if cfg.ReceiptPollInterval <= 0 {
		cfg.ReceiptPollInterval = 2 * time.Second
	}
	if cfg.ConfirmationTimeout <= 0 {
		cfg.ConfirmationTimeout = 2 * time.Minute
	}
	if cfg.RegistrationFeeWei == nil {
		cfg.RegistrationFeeWei = new(big.Int)
	}

	limit := rate.Inf
	if cfg.ReadRPS > 0 {
		limit = rate.Limit(cfg.ReadRPS)
	}
	burst := cfg.ReadBurst
	if burst <= 0 {
		burst = 1
	}

	breaker := cfg.Breaker
	if breaker == nil {
		breaker = circuitbreaker.DefaultConfig("")
	}
	if breaker.IsFailure == nil {
		copied := *breaker
		copied.IsFailure = isTransportFailure
		breaker = &copied
	}

	return &Gateway{
		cfg:       cfg,
		validator: validator,
		abi:       referralABI,
		limiter:   rate.NewLimiter(limit, burst),
		breakers:  circuitbreaker.NewCircuitBreakerManager(breaker),
	}
}

// isTransportFailure keeps contract reverts from tripping the breaker
func isTransportFailure(err error) bool {
	return !strings.Contains(err.Error(), "execution reverted")
}

// Breakers exposes per-method breaker statistics
func (g *Gateway) Breakers() *circuitbreaker.CircuitBreakerManager {
	return g.breakers
}

// RegistrationFee returns the value sent with regUser
func (g *Gateway) RegistrationFee() *big.Int {
	return new(big.Int).Set(g.cfg.RegistrationFeeWei)
}

// Bind validates the provider's chain and constructs a contract binding.
// An unaccepted chain yields a wrong network error carrying the observed id.
func (g *Gateway) Bind(ctx context.Context, p wallet.Provider) (*Binding, error) {
	if p == nil {
		return nil, apperrors.NewProviderUnavailableError(nil)
	}

	backend := p.Backend()
	id, err := backend.ChainID(ctx)
	if err != nil {
		return nil, apperrors.NewReadFailedError("eth_chainId", err)
	}

	var chainID uint64
	if id.IsUint64() {
		chainID = id.Uint64()
	}
	if !g.validator.IsAccepted(chainID) {
		return nil, apperrors.NewWrongNetworkError(chainID)
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"provider": p.Name(),
		"chainId":  chainID,
		"contract": g.cfg.Address.Hex(),
	}).Debug("Contract binding created")

	return &Binding{
		Provider: p,
		ChainID:  chainID,
		Address:  g.cfg.Address,
		contract: bind.NewBoundContract(g.cfg.Address, g.abi, backend, backend, backend),
		backend:  backend,
	}, nil
}

// Call issues a read-only contract call and returns the decoded outputs.
// Every failure, including throttling and an open breaker, is a read failure.
func (g *Gateway) Call(ctx context.Context, b *Binding, method string, args ...interface{}) ([]interface{}, error) {
	if b == nil {
		return nil, apperrors.NewNotConnectedError(types.StatusDisconnected)
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, apperrors.NewReadFailedError(method, err)
	}

	var out []interface{}
	err := g.breakers.GetOrCreate(method).Execute(ctx, func(ctx context.Context) error {
		out = nil
		return b.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...)
	})
	if err != nil {
		return nil, apperrors.NewReadFailedError(method, err)
	}
	return out, nil
}

// SwitchChain asks the wallet to switch to chainID
func (g *Gateway) SwitchChain(ctx context.Context, p wallet.Provider, chainID uint64) error {
	if p == nil {
		return apperrors.NewProviderUnavailableError(nil)
	}

	params := map[string]string{"chainId": chain.HexChainID(chainID)}
	err := p.Request(ctx, nil, "wallet_switchEthereumChain", params)
	switch {
	case err == nil:
		return nil
	case wallet.IsUserRejection(err):
		return apperrors.NewUserRejectedError("network switch", err)
	case wallet.IsRequestPending(err):
		return apperrors.NewRequestPendingError("network switch", err)
	}
	if code, ok := wallet.ErrorCode(err); ok && code == wallet.CodeChainNotAdded {
		return apperrors.NewChainNotAddedError(chainID, err)
	}
	return apperrors.NewInternalError("network switch failed", err)
}

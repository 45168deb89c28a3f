// Package wallet is the boundary to an EIP-1193 style wallet provider.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

// Provider error codes defined by EIP-1193 and the wallet_ namespace
const (
	CodeUserRejected   = 4001
	CodeUnauthorized   = 4100
	CodeChainNotAdded  = 4902
	CodeRequestPending = -32002
)

// Backend is the node-facing side of a provider used for reads, gas and receipts
type Backend interface {
	bind.ContractBackend
	ChainID(ctx context.Context) (*big.Int, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
}

// EventKind names a provider push notification
type EventKind string

const (
	EventAccountsChanged EventKind = "accountsChanged"
	EventChainChanged    EventKind = "chainChanged"
)

// Event is a provider push notification
type Event struct {
	Kind     EventKind
	Accounts []common.Address // set for accountsChanged
	ChainID  string           // set for chainChanged, hex or decimal
}

// Subscription is a live provider event subscription
type Subscription interface {
	Err() <-chan error
	Unsubscribe()
}

// Provider is a wallet able to authorize accounts, sign and send
// transactions, and push account or chain changes.
type Provider interface {
	Name() string
	Request(ctx context.Context, result interface{}, method string, params ...interface{}) error
	Subscribe(ctx context.Context, ch chan<- Event) (Subscription, error)
	Backend() Backend
	Close()
}

// ProviderError is an error returned by a wallet provider
type ProviderError struct {
	Code    int
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}

// ErrorCode implements rpc.Error
func (e *ProviderError) ErrorCode() int {
	return e.Code
}

// ErrorCode extracts the provider or JSON-RPC error code from err
func ErrorCode(err error) (int, bool) {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr.ErrorCode(), true
	}
	return 0, false
}

// IsUserRejection reports whether err means the user declined a wallet prompt.
// Some wallets only report the rejection in the message text.
func IsUserRejection(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := ErrorCode(err); ok && code == CodeUserRejected {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "user denied") ||
		strings.Contains(msg, "user rejected") ||
		strings.Contains(msg, "rejected by user")
}

// IsRequestPending reports whether err means a prompt of the same kind is already open
func IsRequestPending(err error) bool {
	code, ok := ErrorCode(err)
	return ok && code == CodeRequestPending
}

// Accounts returns the accounts the provider already authorized without prompting
func Accounts(ctx context.Context, p Provider) ([]common.Address, error) {
	var accounts []common.Address
	if err := p.Request(ctx, &accounts, "eth_accounts"); err != nil {
		return nil, err
	}
	return accounts, nil
}

// RequestAccounts prompts the user to authorize accounts
func RequestAccounts(ctx context.Context, p Provider) ([]common.Address, error) {
	var accounts []common.Address
	if err := p.Request(ctx, &accounts, "eth_requestAccounts"); err != nil {
		return nil, err
	}
	return accounts, nil
}

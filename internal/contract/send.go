package contract

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	apperrors "github.com/referral-dashboard/internal/errors"
	"github.com/referral-dashboard/internal/logging"
	"github.com/referral-dashboard/internal/types"
	"github.com/referral-dashboard/internal/wallet"
)

// TxRequest describes a state-changing contract call
type TxRequest struct {
	From        common.Address
	Method      string
	Args        []interface{}
	Value       *big.Int
	ExpectEvent string // event that must appear in the receipt, empty for none
}

// TransactionArgs is the eth_sendTransaction parameter object
type TransactionArgs struct {
	From     common.Address `json:"from"`
	To       common.Address `json:"to"`
	Gas      hexutil.Uint64 `json:"gas"`
	GasPrice *hexutil.Big   `json:"gasPrice"`
	Value    *hexutil.Big   `json:"value"`
	Data     hexutil.Bytes  `json:"data"`
}

// Confirmation is a mined transaction together with its decoded event
type Confirmation struct {
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
	Event       map[string]interface{}
}

// Send estimates, submits and waits for a contract transaction. The gas
// price is the node suggestion plus the configured buffer. A mined
// transaction without the expected event is reported even on success status.
func (g *Gateway) Send(ctx context.Context, b *Binding, req TxRequest) (*Confirmation, error) {
	if b == nil {
		return nil, apperrors.NewNotConnectedError(types.StatusDisconnected)
	}
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"method": req.Method,
		"from":   req.From.Hex(),
	})

	data, err := g.abi.Pack(req.Method, req.Args...)
	if err != nil {
		return nil, apperrors.NewInvalidParameterError(req.Method, err.Error())
	}
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	suggested, err := b.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, apperrors.NewTransactionFailedError(req.Method, "gas price unavailable", err)
	}
	gasPrice := BufferedGasPrice(suggested, g.cfg.GasPriceBufferPercent)

	to := b.Address
	gas, err := b.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  req.From,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return nil, apperrors.NewTransactionFailedError(req.Method, "gas estimation failed", err)
	}

	args := TransactionArgs{
		From:     req.From,
		To:       to,
		Gas:      hexutil.Uint64(gas),
		GasPrice: (*hexutil.Big)(gasPrice),
		Value:    (*hexutil.Big)(value),
		Data:     data,
	}
	var hash common.Hash
	if err := b.Provider.Request(ctx, &hash, "eth_sendTransaction", args); err != nil {
		switch {
		case wallet.IsUserRejection(err):
			return nil, apperrors.NewUserRejectedError("transaction", err)
		case wallet.IsRequestPending(err):
			return nil, apperrors.NewRequestPendingError("transaction", err)
		}
		return nil, apperrors.NewTransactionFailedError(req.Method, "submission failed", err)
	}
	logger = logger.WithField("txHash", hash.Hex())
	logger.WithFields(map[string]interface{}{
		"gas":      gas,
		"gasPrice": gasPrice.String(),
	}).Info("Transaction submitted")

	receipt, err := g.waitMined(ctx, b, hash)
	if err != nil {
		failed := apperrors.NewTransactionFailedError(req.Method, "not confirmed in time", err)
		failed.Details["txHash"] = hash.Hex()
		return nil, failed
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		failed := apperrors.NewTransactionFailedError(req.Method, "reverted", nil)
		failed.Details["txHash"] = hash.Hex()
		return nil, failed
	}

	confirmation := &Confirmation{
		TxHash:  hash,
		GasUsed: receipt.GasUsed,
	}
	if receipt.BlockNumber != nil {
		confirmation.BlockNumber = receipt.BlockNumber.Uint64()
	}

	if req.ExpectEvent != "" {
		fields, ok := g.findEvent(ctx, b, receipt, req.ExpectEvent)
		if !ok {
			logger.WithField("event", req.ExpectEvent).Error("Transaction mined without confirmation event")
			return nil, apperrors.NewNoConfirmationEventError(req.Method, req.ExpectEvent, hash.Hex())
		}
		confirmation.Event = fields
	}

	logger.WithField("block", confirmation.BlockNumber).Info("Transaction confirmed")
	return confirmation, nil
}

// BufferedGasPrice returns price * (100 + percent) / 100
func BufferedGasPrice(price *big.Int, percent int64) *big.Int {
	buffered := new(big.Int).Mul(price, big.NewInt(100+percent))
	return buffered.Div(buffered, big.NewInt(100))
}

func (g *Gateway) waitMined(ctx context.Context, b *Binding, hash common.Hash) (*gethtypes.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.ConfirmationTimeout)
	defer cancel()

	ticker := time.NewTicker(g.cfg.ReceiptPollInterval)
	defer ticker.Stop()

	logger := logging.FromContext(ctx)
	for {
		receipt, err := b.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			logger.WithError(err).WithField("txHash", hash.Hex()).Debug("Receipt lookup failed")
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (g *Gateway) findEvent(ctx context.Context, b *Binding, receipt *gethtypes.Receipt, name string) (map[string]interface{}, bool) {
	event, ok := g.abi.Events[name]
	if !ok {
		return nil, false
	}

	var indexed abi.Arguments
	for _, arg := range event.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}

	for _, lg := range receipt.Logs {
		if lg == nil || lg.Address != b.Address || len(lg.Topics) == 0 || lg.Topics[0] != event.ID {
			continue
		}
		fields := make(map[string]interface{})
		if len(lg.Data) > 0 {
			if err := g.abi.UnpackIntoMap(fields, name, lg.Data); err != nil {
				logging.FromContext(ctx).WithError(err).Warn("Undecodable event data")
				continue
			}
		}
		if err := abi.ParseTopicsIntoMap(fields, indexed, lg.Topics[1:]); err != nil {
			logging.FromContext(ctx).WithError(err).Warn("Undecodable event topics")
			continue
		}
		return fields, true
	}
	return nil, false
}

// Register submits regUser for referrerID with the registration fee and
// waits for regLevelEvent.
func (g *Gateway) Register(ctx context.Context, b *Binding, from common.Address, referrerID *big.Int) (*types.Registration, error) {
	confirmation, err := g.Send(ctx, b, TxRequest{
		From:        from,
		Method:      MethodRegister,
		Args:        []interface{}{referrerID},
		Value:       g.RegistrationFee(),
		ExpectEvent: EventRegistered,
	})
	if err != nil {
		return nil, err
	}

	registration := &types.Registration{
		TxHash:      confirmation.TxHash,
		BlockNumber: confirmation.BlockNumber,
		GasUsed:     confirmation.GasUsed,
	}
	registration.User, _ = confirmation.Event["_user"].(common.Address)
	registration.Referrer, _ = confirmation.Event["_referrer"].(common.Address)
	if t, ok := confirmation.Event["_time"].(*big.Int); ok && t.IsInt64() {
		registration.Time = t.Int64()
	}
	return registration, nil
}

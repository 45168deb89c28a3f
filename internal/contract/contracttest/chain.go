// Package contracttest provides an in-memory referral contract and wallet
// for exercising the gateway and its callers without a node.
package contracttest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/referral-dashboard/internal/contract"
	"github.com/referral-dashboard/internal/wallet"
)

// ContractAddress is the address the fake contract is deployed at
var ContractAddress = common.HexToAddress("0xB3e87A325fDc19DAB850eD85e8057E5b91391C3b")

// User is the on-chain state of one participant
type User struct {
	ID          uint64
	ReferrerID  uint64
	Joined      int64
	Eligibility int
	Referrals   []common.Address
}

type team struct {
	direct, indirect, earning *big.Int
}

// CallHook runs before every contract read, outside the chain lock
type CallHook func(method string, args []interface{})

// Chain is a fake node serving the referral contract. Methods it does not
// implement panic through the embedded nil Backend.
type Chain struct {
	wallet.Backend

	abi abi.ABI

	mu           sync.Mutex
	chainID      uint64
	users        map[common.Address]*User
	teams        map[common.Address]team
	prices       map[int]*big.Int
	incomes      map[common.Address]map[int]*big.Int
	userList     map[uint64]common.Address
	failures     map[string]error
	userFailures map[common.Address]error
	calls        map[string]int
	levelCalls   map[int]int
	gasPrice     *big.Int
	estimates    []ethereum.CallMsg
	receipts     map[common.Hash]*gethtypes.Receipt
	omitEvent    bool
	revert       bool
	nextID       uint64
	nonce        int64
	blockTime    int64
	hook         CallHook
}

// NewChain creates an empty contract on chainID
func NewChain(chainID uint64) *Chain {
	return &Chain{
		abi:          contract.ABI(),
		chainID:      chainID,
		users:        make(map[common.Address]*User),
		teams:        make(map[common.Address]team),
		prices:       make(map[int]*big.Int),
		incomes:      make(map[common.Address]map[int]*big.Int),
		userList:     make(map[uint64]common.Address),
		failures:     make(map[string]error),
		userFailures: make(map[common.Address]error),
		calls:        make(map[string]int),
		levelCalls:   make(map[int]int),
		gasPrice:     big.NewInt(1_000_000_000),
		receipts:     make(map[common.Hash]*gethtypes.Receipt),
		nextID:       1,
		blockTime:    1_700_000_000,
	}
}

// AddUser registers addr with the given state
func (c *Chain) AddUser(addr common.Address, u User) {
	c.mu.Lock()
	defer c.mu.Unlock()

	copied := u
	copied.Referrals = append([]common.Address(nil), u.Referrals...)
	c.users[addr] = &copied
	c.userList[u.ID] = addr
	if u.ID >= c.nextID {
		c.nextID = u.ID + 1
	}
}

// SetTeam sets tusers(addr)
func (c *Chain) SetTeam(addr common.Address, direct, indirect int64, earningWei *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teams[addr] = team{big.NewInt(direct), big.NewInt(indirect), earningWei}
}

// SetLevelPrice sets LEVEL_PRICE(level)
func (c *Chain) SetLevelPrice(level int, priceWei int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[level] = big.NewInt(priceWei)
}

// SetIncomeCount sets getUserIncomeCount(addr, level)
func (c *Chain) SetIncomeCount(addr common.Address, level int, count int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.incomes[addr] == nil {
		c.incomes[addr] = make(map[int]*big.Int)
	}
	c.incomes[addr][level] = big.NewInt(count)
}

// Fail makes every read of method return err. A nil err clears the failure.
func (c *Chain) Fail(method string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.failures, method)
		return
	}
	c.failures[method] = err
}

// FailUser makes users(addr) return err
func (c *Chain) FailUser(addr common.Address, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userFailures[addr] = err
}

// SetChainID changes the chain the node reports
func (c *Chain) SetChainID(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chainID = id
}

// SetGasPrice sets the suggested gas price
func (c *Chain) SetGasPrice(price *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gasPrice = price
}

// OmitEvents mines transactions without emitting their events
func (c *Chain) OmitEvents(omit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.omitEvent = omit
}

// RevertTransactions mines transactions with failed status
func (c *Chain) RevertTransactions(revert bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.revert = revert
}

// SetCallHook installs a hook run before each read
func (c *Chain) SetCallHook(hook CallHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hook = hook
}

// Calls returns how many times method was read
func (c *Chain) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

// LevelCalls returns how many level-scoped reads targeted level
func (c *Chain) LevelCalls(level int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.levelCalls[level]
}

// Estimates returns the messages passed to EstimateGas
func (c *Chain) Estimates() []ethereum.CallMsg {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ethereum.CallMsg(nil), c.estimates...)
}

// User returns a copy of the on-chain state of addr
func (c *Chain) User(addr common.Address) (User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.users[addr]
	if !ok {
		return User{}, false
	}
	return *u, true
}

// ChainID implements wallet.Backend
func (c *Chain) ChainID(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).SetUint64(c.chainID), nil
}

// CodeAt implements bind.ContractCaller
func (c *Chain) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return []byte{0x60, 0x80}, nil
}

// CallContract implements bind.ContractCaller
func (c *Chain) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if len(msg.Data) < 4 {
		return nil, errors.New("calldata too short")
	}
	method, err := c.abi.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	hook := c.hook
	c.mu.Unlock()
	if hook != nil {
		hook(method.Name, args)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls[method.Name]++
	if err := c.failures[method.Name]; err != nil {
		return nil, err
	}

	var out []interface{}
	switch method.Name {
	case contract.MethodUsers:
		addr := args[0].(common.Address)
		if err := c.userFailures[addr]; err != nil {
			return nil, err
		}
		u, ok := c.users[addr]
		if !ok {
			out = []interface{}{false, new(big.Int), new(big.Int), new(big.Int), new(big.Int), []common.Address{}}
			break
		}
		out = []interface{}{
			true,
			new(big.Int).SetUint64(u.ID),
			new(big.Int).SetUint64(u.ReferrerID),
			big.NewInt(u.Joined),
			big.NewInt(int64(u.Eligibility)),
			append([]common.Address{}, u.Referrals...),
		}
	case contract.MethodTeam:
		t, ok := c.teams[args[0].(common.Address)]
		if !ok {
			t = team{new(big.Int), new(big.Int), new(big.Int)}
		}
		out = []interface{}{t.direct, t.indirect, t.earning}
	case contract.MethodLevelPrice:
		level := int(args[0].(*big.Int).Int64())
		c.levelCalls[level]++
		out = []interface{}{orZero(c.prices[level])}
	case contract.MethodIncomeCount:
		level := int(args[1].(*big.Int).Int64())
		c.levelCalls[level]++
		out = []interface{}{orZero(c.incomes[args[0].(common.Address)][level])}
	case contract.MethodUserList:
		out = []interface{}{c.userList[args[0].(*big.Int).Uint64()]}
	default:
		return nil, fmt.Errorf("method %s is not a read", method.Name)
	}
	return method.Outputs.Pack(out...)
}

// SuggestGasPrice implements bind.ContractTransactor
func (c *Chain) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failures["gasPrice"]; err != nil {
		return nil, err
	}
	return new(big.Int).Set(c.gasPrice), nil
}

// EstimateGas implements bind.ContractTransactor
func (c *Chain) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.estimates = append(c.estimates, msg)
	if err := c.failures["estimateGas"]; err != nil {
		return 0, err
	}
	return 150_000, nil
}

// TransactionReceipt implements wallet.Backend
func (c *Chain) TransactionReceipt(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.receipts[hash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

// mine applies a regUser transaction and stores its receipt
func (c *Chain) mine(args contract.TransactionArgs) (common.Hash, error) {
	if len(args.Data) < 4 {
		return common.Hash{}, errors.New("calldata too short")
	}
	method, err := c.abi.MethodById(args.Data[:4])
	if err != nil {
		return common.Hash{}, err
	}
	if method.Name != contract.MethodRegister {
		return common.Hash{}, fmt.Errorf("unsupported transaction %s", method.Name)
	}
	inputs, err := method.Inputs.Unpack(args.Data[4:])
	if err != nil {
		return common.Hash{}, err
	}
	referrerID := inputs[0].(*big.Int).Uint64()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.nonce++
	hash := common.BigToHash(big.NewInt(c.nonce))
	receipt := &gethtypes.Receipt{
		TxHash:      hash,
		BlockNumber: big.NewInt(1000 + c.nonce),
		GasUsed:     120_000,
	}
	c.receipts[hash] = receipt

	if c.revert {
		receipt.Status = gethtypes.ReceiptStatusFailed
		return hash, nil
	}
	receipt.Status = gethtypes.ReceiptStatusSuccessful

	referrer := c.userList[referrerID]
	id := c.nextID
	c.nextID++
	c.users[args.From] = &User{ID: id, ReferrerID: referrerID, Joined: c.blockTime}
	c.userList[id] = args.From
	if parent, ok := c.users[referrer]; ok {
		parent.Referrals = append(parent.Referrals, args.From)
	}

	if c.omitEvent {
		return hash, nil
	}
	event := c.abi.Events[contract.EventRegistered]
	data, err := event.Inputs.NonIndexed().Pack(big.NewInt(c.blockTime))
	if err != nil {
		return common.Hash{}, err
	}
	receipt.Logs = []*gethtypes.Log{{
		Address: ContractAddress,
		Topics: []common.Hash{
			event.ID,
			common.BytesToHash(args.From.Bytes()),
			common.BytesToHash(referrer.Bytes()),
		},
		Data:   data,
		TxHash: hash,
	}}
	return hash, nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

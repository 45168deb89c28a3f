// Package types provides common type definitions for the referral dashboard.
package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// SessionStatus represents the wallet session state
type SessionStatus string

const (
	// StatusDisconnected is the rest state: no account, no binding
	StatusDisconnected SessionStatus = "disconnected"
	// StatusConnecting means a provider handshake is in progress
	StatusConnecting SessionStatus = "connecting"
	// StatusConnected means the account is bound to an accepted chain
	StatusConnected SessionStatus = "connected"
	// StatusWrongNetwork means the account is known but the chain is not accepted
	StatusWrongNetwork SessionStatus = "wrong_network"
)

// LevelStatus represents whether an income level is unlocked for a user
type LevelStatus string

const (
	// LevelActive represents a level at or below the user's eligibility
	LevelActive LevelStatus = "active"
	// LevelInactive represents a level above the user's eligibility
	LevelInactive LevelStatus = "inactive"
)

// MaxLevel is the highest income tier in the referral program
const MaxLevel = 9

// MaxGenealogyDepth is the deepest level rendered in the genealogy tree
const MaxGenealogyDepth = 2

// Reasons attached to an unavailable data source
const (
	ReasonNotConnected          = "not_connected"
	ReasonReadFailed            = "read_failed"
	ReasonDependencyUnavailable = "dependency_unavailable"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

// Session is the read-only view of the process-wide wallet session
type Session struct {
	Account     string        `json:"account,omitempty"`
	ChainID     uint64        `json:"chainId,omitempty"`
	Status      SessionStatus `json:"status"`
	Generation  uint64        `json:"generation"`
	HasProvider bool          `json:"hasProvider"`
}

// UserRecord mirrors the on-chain users(address) record
type UserRecord struct {
	Address          common.Address   `json:"address"`
	ID               uint64           `json:"id"`
	ReferrerID       uint64           `json:"referrerId"`
	JoinedAt         int64            `json:"joinedAt"` // Unix seconds
	JoinedDate       time.Time        `json:"joinedDate"`
	Exists           bool             `json:"exists"`
	LevelEligibility int              `json:"levelEligibility"`
	DirectReferrals  []common.Address `json:"directReferrals"`
}

// TeamRecord mirrors the on-chain tusers(address) record
type TeamRecord struct {
	DirectReferralCount   int64    `json:"directReferralCount"`
	IndirectReferralCount int64    `json:"indirectReferralCount"`
	TotalReferralCount    int64    `json:"totalReferralCount"` // direct + indirect
	CumulativeEarningWei  *big.Int `json:"cumulativeEarningWei"`
}

// LevelEntry is one row of the per-level income table
type LevelEntry struct {
	Level       int             `json:"level"`
	Status      LevelStatus     `json:"status"`
	PriceWei    *big.Int        `json:"priceWei"`
	IncomeCount *big.Int        `json:"incomeCount"`
	IncomeWei   *big.Int        `json:"incomeWei"`
	Income      decimal.Decimal `json:"income"` // Native display units
}

// LevelTable is the full 1..9 level breakdown for an account
type LevelTable struct {
	Eligibility int             `json:"eligibility"`
	Entries     []LevelEntry    `json:"entries"`
	TotalWei    *big.Int        `json:"totalWei"`
	Total       decimal.Decimal `json:"total"`
}

// GenealogyNode is a node of the bounded two-level referral tree
type GenealogyNode struct {
	Address  common.Address   `json:"address"`
	ID       uint64           `json:"id"`
	Children []*GenealogyNode `json:"children"`
}

// Depth returns the number of edges on the longest path below this node
func (n *GenealogyNode) Depth() int {
	deepest := 0
	for _, child := range n.Children {
		if d := child.Depth() + 1; d > deepest {
			deepest = d
		}
	}
	return deepest
}

// Size returns the number of nodes in the tree including the root
func (n *GenealogyNode) Size() int {
	size := 1
	for _, child := range n.Children {
		size += child.Size()
	}
	return size
}

// IncomeSummary is the derived income breakdown shown on the dashboard
type IncomeSummary struct {
	DirectReferralCount  int64           `json:"directReferralCount"`
	DirectReferralRate   decimal.Decimal `json:"directReferralRate"`
	DirectReferralIncome decimal.Decimal `json:"directReferralIncome"`
	TeamBonus            decimal.Decimal `json:"teamBonus"`
	LevelTotal           decimal.Decimal `json:"levelTotal"`
	TotalIncome          decimal.Decimal `json:"totalIncome"`
	TeamBonusWei         *big.Int        `json:"teamBonusWei"`
	LevelTotalWei        *big.Int        `json:"levelTotalWei"`
}

// Source holds either a value for one logical data source or an unavailable marker
type Source[T any] struct {
	Value     T      `json:"value"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Available wraps a value as an available source
func Available[T any](value T) Source[T] {
	return Source[T]{Value: value, Available: true}
}

// Unavailable builds an unavailable marker with a reason and optional cause
func Unavailable[T any](reason string, cause error) Source[T] {
	s := Source[T]{Reason: reason}
	if cause != nil {
		s.Error = cause.Error()
	}
	return s
}

// AggregateResult is one dashboard snapshot, tagged with the account and
// session generation it was issued for
type AggregateResult struct {
	RequestID  string                 `json:"requestId"`
	Account    common.Address         `json:"account"`
	Generation uint64                 `json:"generation"`
	FetchedAt  time.Time              `json:"fetchedAt"`
	Profile    Source[*UserRecord]    `json:"profile"`
	Team       Source[*TeamRecord]    `json:"team"`
	Levels     Source[*LevelTable]    `json:"levels"`
	Genealogy  Source[*GenealogyNode] `json:"genealogy"`
	Income     Source[*IncomeSummary] `json:"income"`
}

// Registration is the confirmed result of a regUser transaction
type Registration struct {
	TxHash      common.Hash    `json:"txHash"`
	BlockNumber uint64         `json:"blockNumber"`
	GasUsed     uint64         `json:"gasUsed"`
	User        common.Address `json:"user"`
	Referrer    common.Address `json:"referrer"`
	Time        int64          `json:"time"`
}

// Notice is a user-visible prompt raised by the session manager
type Notice struct {
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// Notice kinds
const (
	NoticeAccountChanged = "account_changed"
	NoticeWrongNetwork   = "wrong_network"
	NoticeNetworkSwitch  = "network_switched"
	NoticeLoggedOut      = "logged_out"
	NoticeError          = "error"
)

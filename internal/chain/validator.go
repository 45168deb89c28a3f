// Package chain decides which networks the referral contract may be used on.
package chain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Known opBNB chain ids
const (
	OPBNBMainnet uint64 = 204
	OPBNBTestnet uint64 = 5611
)

// Validator is a fixed set of accepted chain ids
type Validator struct {
	accepted map[uint64]struct{}
}

// NewValidator creates a validator accepting exactly ids
func NewValidator(ids ...uint64) *Validator {
	accepted := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		accepted[id] = struct{}{}
	}
	return &Validator{accepted: accepted}
}

// DefaultValidator accepts opBNB mainnet and testnet
func DefaultValidator() *Validator {
	return NewValidator(OPBNBMainnet, OPBNBTestnet)
}

// IsAccepted reports whether chainID belongs to the accepted set
func (v *Validator) IsAccepted(chainID uint64) bool {
	_, ok := v.accepted[chainID]
	return ok
}

// Accepted returns the accepted ids in ascending order
func (v *Validator) Accepted() []uint64 {
	ids := make([]uint64, 0, len(v.accepted))
	for id := range v.accepted {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ParseChainID decodes a chain id as carried by wallet notifications,
// either 0x-prefixed hex ("0x15eb") or decimal ("5611").
func ParseChainID(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty chain id")
	}

	var (
		id  uint64
		err error
	)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		id, err = strconv.ParseUint(s[2:], 16, 64)
	} else {
		id, err = strconv.ParseUint(s, 10, 64)
	}
	if err != nil {
		return 0, fmt.Errorf("invalid chain id %q: %w", s, err)
	}
	return id, nil
}

// HexChainID encodes a chain id for wallet_switchEthereumChain
func HexChainID(id uint64) string {
	return "0x" + strconv.FormatUint(id, 16)
}

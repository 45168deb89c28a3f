package contract

import (
	"context"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	apperrors "github.com/referral-dashboard/internal/errors"
	"github.com/referral-dashboard/internal/types"
)

// User reads users(addr)
func (g *Gateway) User(ctx context.Context, b *Binding, addr common.Address) (*types.UserRecord, error) {
	out, err := g.Call(ctx, b, MethodUsers, addr)
	if err != nil {
		return nil, err
	}
	if len(out) != 6 {
		return nil, apperrors.NewInvalidValueError(MethodUsers, "outputs", len(out))
	}

	exists, ok := out[0].(bool)
	if !ok {
		return nil, apperrors.NewInvalidValueError(MethodUsers, "isExist", out[0])
	}
	id, err := toUint64(MethodUsers, "id", out[1])
	if err != nil {
		return nil, err
	}
	referrerID, err := toUint64(MethodUsers, "referrerID", out[2])
	if err != nil {
		return nil, err
	}
	joined, err := toCount(MethodUsers, "joined", out[3])
	if err != nil {
		return nil, err
	}
	eligibility, err := toUint64(MethodUsers, "levelEligibility", out[4])
	if err != nil {
		return nil, err
	}
	if eligibility > types.MaxLevel {
		eligibility = types.MaxLevel
	}
	referrals, ok := out[5].([]common.Address)
	if !ok {
		return nil, apperrors.NewInvalidValueError(MethodUsers, "referral", out[5])
	}

	return &types.UserRecord{
		Address:          addr,
		ID:               id,
		ReferrerID:       referrerID,
		JoinedAt:         joined,
		JoinedDate:       time.Unix(joined, 0).UTC(),
		Exists:           exists,
		LevelEligibility: int(eligibility),
		DirectReferrals:  referrals,
	}, nil
}

// Team reads tusers(addr)
func (g *Gateway) Team(ctx context.Context, b *Binding, addr common.Address) (*types.TeamRecord, error) {
	out, err := g.Call(ctx, b, MethodTeam, addr)
	if err != nil {
		return nil, err
	}
	if len(out) != 3 {
		return nil, apperrors.NewInvalidValueError(MethodTeam, "outputs", len(out))
	}

	direct, err := toCount(MethodTeam, "directReferralCount", out[0])
	if err != nil {
		return nil, err
	}
	indirect, err := toCount(MethodTeam, "indirectReferralCount", out[1])
	if err != nil {
		return nil, err
	}
	earning, err := toBig(MethodTeam, "earning", out[2])
	if err != nil {
		return nil, err
	}
	if indirect > math.MaxInt64-direct {
		return nil, apperrors.NewInvalidValueError(MethodTeam, "totalReferralCount",
			new(big.Int).Add(big.NewInt(direct), big.NewInt(indirect)))
	}

	return &types.TeamRecord{
		DirectReferralCount:   direct,
		IndirectReferralCount: indirect,
		TotalReferralCount:    direct + indirect,
		CumulativeEarningWei:  earning,
	}, nil
}

// LevelPrice reads LEVEL_PRICE(level)
func (g *Gateway) LevelPrice(ctx context.Context, b *Binding, level int) (*big.Int, error) {
	if level < 1 || level > types.MaxLevel {
		return nil, apperrors.NewInvalidParameterError("level", "must be between 1 and 9")
	}
	out, err := g.Call(ctx, b, MethodLevelPrice, big.NewInt(int64(level)))
	if err != nil {
		return nil, err
	}
	return single(MethodLevelPrice, out)
}

// IncomeCount reads getUserIncomeCount(addr, level)
func (g *Gateway) IncomeCount(ctx context.Context, b *Binding, addr common.Address, level int) (*big.Int, error) {
	if level < 1 || level > types.MaxLevel {
		return nil, apperrors.NewInvalidParameterError("level", "must be between 1 and 9")
	}
	out, err := g.Call(ctx, b, MethodIncomeCount, addr, big.NewInt(int64(level)))
	if err != nil {
		return nil, err
	}
	return single(MethodIncomeCount, out)
}

// ReferrerByCode resolves a referral code to the referrer address via userList.
// The zero address means the code is unknown.
func (g *Gateway) ReferrerByCode(ctx context.Context, b *Binding, code *big.Int) (common.Address, error) {
	out, err := g.Call(ctx, b, MethodUserList, code)
	if err != nil {
		return common.Address{}, err
	}
	if len(out) != 1 {
		return common.Address{}, apperrors.NewInvalidValueError(MethodUserList, "outputs", len(out))
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, apperrors.NewInvalidValueError(MethodUserList, "address", out[0])
	}
	return addr, nil
}

func single(method string, out []interface{}) (*big.Int, error) {
	if len(out) != 1 {
		return nil, apperrors.NewInvalidValueError(method, "outputs", len(out))
	}
	return toBig(method, "value", out[0])
}

func toBig(method, field string, v interface{}) (*big.Int, error) {
	n, ok := v.(*big.Int)
	if !ok || n == nil || n.Sign() < 0 {
		return nil, apperrors.NewInvalidValueError(method, field, v)
	}
	return n, nil
}

func toUint64(method, field string, v interface{}) (uint64, error) {
	n, err := toBig(method, field, v)
	if err != nil {
		return 0, err
	}
	if !n.IsUint64() {
		return 0, apperrors.NewInvalidValueError(method, field, n)
	}
	return n.Uint64(), nil
}

// toCount converts a counter that must fit a non-negative int64
func toCount(method, field string, v interface{}) (int64, error) {
	n, err := toBig(method, field, v)
	if err != nil {
		return 0, err
	}
	if !n.IsInt64() {
		return 0, apperrors.NewInvalidValueError(method, field, n)
	}
	return n.Int64(), nil
}

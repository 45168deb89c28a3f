package contract

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Contract method and event names
const (
	MethodUsers       = "users"
	MethodTeam        = "tusers"
	MethodLevelPrice  = "LEVEL_PRICE"
	MethodIncomeCount = "getUserIncomeCount"
	MethodUserList    = "userList"
	MethodRegister    = "regUser"

	EventRegistered = "regLevelEvent"
)

// ReferralABI is the subset of the referral program ABI used by the dashboard
const ReferralABI = `[
	{"type":"function","name":"users","stateMutability":"view",
	 "inputs":[{"name":"","type":"address"}],
	 "outputs":[
		{"name":"isExist","type":"bool"},
		{"name":"id","type":"uint256"},
		{"name":"referrerID","type":"uint256"},
		{"name":"joined","type":"uint256"},
		{"name":"levelEligibility","type":"uint256"},
		{"name":"referral","type":"address[]"}]},
	{"type":"function","name":"tusers","stateMutability":"view",
	 "inputs":[{"name":"","type":"address"}],
	 "outputs":[
		{"name":"directReferralCount","type":"uint256"},
		{"name":"indirectReferralCount","type":"uint256"},
		{"name":"earning","type":"uint256"}]},
	{"type":"function","name":"LEVEL_PRICE","stateMutability":"view",
	 "inputs":[{"name":"","type":"uint256"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getUserIncomeCount","stateMutability":"view",
	 "inputs":[{"name":"_user","type":"address"},{"name":"_level","type":"uint256"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"userList","stateMutability":"view",
	 "inputs":[{"name":"","type":"uint256"}],
	 "outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"regUser","stateMutability":"payable",
	 "inputs":[{"name":"_referrerID","type":"uint256"}],
	 "outputs":[]},
	{"type":"event","name":"regLevelEvent","anonymous":false,
	 "inputs":[
		{"name":"_user","type":"address","indexed":true},
		{"name":"_referrer","type":"address","indexed":true},
		{"name":"_time","type":"uint256","indexed":false}]}
]`

var referralABI = mustParseABI(ReferralABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("contract: invalid referral ABI: " + err.Error())
	}
	return parsed
}

// ABI returns the parsed referral program ABI
func ABI() abi.ABI {
	return referralABI
}

package types

import (
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenealogyNodeDepth(t *testing.T) {
	leaf := &GenealogyNode{Address: common.HexToAddress("0x3")}
	mid := &GenealogyNode{Address: common.HexToAddress("0x2"), Children: []*GenealogyNode{leaf}}
	root := &GenealogyNode{Address: common.HexToAddress("0x1"), Children: []*GenealogyNode{mid, {Address: common.HexToAddress("0x4")}}}

	assert.Equal(t, 0, leaf.Depth())
	assert.Equal(t, 1, mid.Depth())
	assert.Equal(t, 2, root.Depth())
	assert.Equal(t, 4, root.Size())
}

func TestSourceMarkers(t *testing.T) {
	ok := Available(42)
	assert.True(t, ok.Available)
	assert.Equal(t, 42, ok.Value)

	missing := Unavailable[*TeamRecord](ReasonReadFailed, assert.AnError)
	assert.False(t, missing.Available)
	assert.Nil(t, missing.Value)
	assert.Equal(t, ReasonReadFailed, missing.Reason)
	assert.Equal(t, assert.AnError.Error(), missing.Error)
}

func TestRecordJSON(t *testing.T) {
	team, err := json.Marshal(&TeamRecord{DirectReferralCount: 2, IndirectReferralCount: 3, TotalReferralCount: 5, CumulativeEarningWei: big.NewInt(1)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"directReferralCount":2,"indirectReferralCount":3,"totalReferralCount":5,"cumulativeEarningWei":1}`, string(team))

	user, err := json.Marshal(&UserRecord{JoinedAt: 1700000000, JoinedDate: time.Unix(1700000000, 0).UTC()})
	require.NoError(t, err)
	assert.Contains(t, string(user), `"joinedDate":"2023-11-14T22:13:20Z"`)
}

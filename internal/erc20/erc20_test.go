package erc20

import (
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

func TestEncodeTransfer(t *testing.T) {
	to := common.HexToAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	data := EncodeTransfer(to, big.NewInt(1_000_000))

	assert.Len(t, data, 4+32+32)
	assert.Equal(t, "a9059cbb", hex.EncodeToString(data[:4]))
	assert.Equal(t, to.Bytes(), data[4+12:4+32])
	assert.Equal(t, 0, new(big.Int).SetBytes(data[36:]).Cmp(big.NewInt(1_000_000)))
}

func TestEncodeTransferZeroAmount(t *testing.T) {
	to := common.HexToAddress("0x01")
	data := EncodeTransfer(to, big.NewInt(0))
	assert.Len(t, data, 68, "zero amount still pads to a full word")
}

func TestRestrictionsBlocked(t *testing.T) {
	boolPtr := func(v bool) *bool { return &v }

	tests := []struct {
		name    string
		r       Restrictions
		blocked bool
	}{
		{name: "no guards", r: Restrictions{}, blocked: false},
		{name: "paused", r: Restrictions{Paused: true}, blocked: true},
		{name: "transfers disabled", r: Restrictions{TransferDisabled: true}, blocked: true},
		{name: "executor blacklisted", r: Restrictions{BlacklistedFrom: true}, blocked: true},
		{name: "recipient blacklisted", r: Restrictions{BlacklistedTo: true}, blocked: true},
		{
			name:    "whitelist on, executor not listed",
			r:       Restrictions{OnlyWhitelisted: true, FromWhitelisted: boolPtr(false), ToWhitelisted: boolPtr(true)},
			blocked: true,
		},
		{
			name:    "whitelist on, both listed",
			r:       Restrictions{OnlyWhitelisted: true, FromWhitelisted: boolPtr(true), ToWhitelisted: boolPtr(true)},
			blocked: false,
		},
		{
			name:    "whitelist on, membership unknown",
			r:       Restrictions{OnlyWhitelisted: true},
			blocked: false,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.blocked, tc.r.Blocked())
		})
	}
}

func TestRestrictionsSummary(t *testing.T) {
	assert.Equal(t, "none", Restrictions{}.Summary())

	r := Restrictions{Paused: true}
	assert.Equal(t, "paused", r.Summary())

	v := false
	r = Restrictions{BlacklistedFrom: true, OnlyWhitelisted: true, FromWhitelisted: &v}
	s := r.Summary()
	assert.Contains(t, s, "from:blacklisted")
	assert.Contains(t, s, "whitelist:on (from=no,to=unknown)")
}

package rescue

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ligun0805/token-rescue/internal/chain"
)

func gwei(g int64) *big.Int { return new(big.Int).Mul(big.NewInt(g), big.NewInt(1_000_000_000)) }

func TestRescueHappyPath(t *testing.T) {
	gw := newMockGateway()
	cfg := testConfig(gw)
	gw.pending[addrOf(testSponsorKey)] = 5
	gw.pending[addrOf(testExecutorKey)] = 0

	result, err := Rescue(context.Background(), cfg)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, uint32(1), result.Attempts)
	require.NotNil(t, result.FundingHash)
	assert.Len(t, result.TransferHashes, 1)

	funding := gw.submittedBy(addrOf(testSponsorKey))
	require.Len(t, funding, 1)
	assert.Equal(t, uint64(5), funding[0].Nonce())
	transfers := gw.submittedBy(addrOf(testExecutorKey))
	require.Len(t, transfers, 1)
	assert.Equal(t, uint64(0), transfers[0].Nonce())
}

// Funding lands, the transfer reverts once; the partial-progress path re-signs
// the transfer alone with one escalation step and no second funding tx.
func TestRescuePartialProgress(t *testing.T) {
	gw := newMockGateway()
	executor := addrOf(testExecutorKey)

	var mu sync.Mutex
	transferReceipts := 0
	gw.receiptFor = func(tx *types.Transaction) (*chain.Receipt, error) {
		status := types.ReceiptStatusSuccessful
		if senderOf(gw.chainID, tx) == executor {
			mu.Lock()
			transferReceipts++
			if transferReceipts == 1 {
				status = types.ReceiptStatusFailed
			}
			mu.Unlock()
		}
		return &chain.Receipt{BlockNumber: 1001, GasUsed: tx.Gas(), Status: status}, nil
	}

	cfg := testConfig(gw)
	result, err := Rescue(context.Background(), cfg)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, uint32(2), result.Attempts)

	// exactly one funding tx over the whole cycle
	funding := gw.submittedBy(addrOf(testSponsorKey))
	require.Len(t, funding, 1)

	transfers := gw.submittedBy(executor)
	require.Len(t, transfers, 2)
	assert.Equal(t, 0, transfers[0].GasFeeCap().Cmp(gwei(2)))
	// 1.30x escalation on the re-sent transfer
	assert.Equal(t, 0, transfers[1].GasFeeCap().Cmp(big.NewInt(2_600_000_000)))
}

// Three consecutive partial failures exhaust the ladder: planned fee caps
// follow the 100 / 130 / 169 escalation sequence.
func TestRescueExhaustsRetryLadder(t *testing.T) {
	gw := newMockGateway()
	executor := addrOf(testExecutorKey)
	gw.receiptFor = func(tx *types.Transaction) (*chain.Receipt, error) {
		status := types.ReceiptStatusSuccessful
		if senderOf(gw.chainID, tx) == executor {
			status = types.ReceiptStatusFailed
		}
		return &chain.Receipt{BlockNumber: 1001, GasUsed: tx.Gas(), Status: status}, nil
	}

	cfg := testConfig(gw)
	result, err := Rescue(context.Background(), cfg)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, uint32(MaxRetryAttempts), result.Attempts)
	assert.Contains(t, result.LastError, "transfers failed")

	funding := gw.submittedBy(addrOf(testSponsorKey))
	require.Len(t, funding, MaxRetryAttempts)
	assert.Equal(t, 0, funding[0].GasFeeCap().Cmp(gwei(2)))
	assert.Equal(t, 0, funding[1].GasFeeCap().Cmp(big.NewInt(2_600_000_000)))
	assert.Equal(t, 0, funding[2].GasFeeCap().Cmp(big.NewInt(3_380_000_000)))
}

// The sponsor's pending nonce moves while the first attempt is in flight;
// the re-plan picks the fresh nonce and the second attempt lands.
func TestRescueSponsorNonceContention(t *testing.T) {
	gw := newMockGateway()
	sponsor := addrOf(testSponsorKey)

	var mu sync.Mutex
	fundingWaits := 0
	gw.receiptFor = func(tx *types.Transaction) (*chain.Receipt, error) {
		if senderOf(gw.chainID, tx) == sponsor {
			mu.Lock()
			fundingWaits++
			first := fundingWaits == 1
			mu.Unlock()
			if first {
				// another sponsor tx claimed the nonce; ours never lands
				gw.mu.Lock()
				gw.pending[sponsor] = 6
				gw.mu.Unlock()
				return nil, chain.ErrDropped
			}
		}
		return &chain.Receipt{BlockNumber: 1001, GasUsed: tx.Gas(), Status: types.ReceiptStatusSuccessful}, nil
	}

	cfg := testConfig(gw)
	gw.pending[sponsor] = 5

	result, err := Rescue(context.Background(), cfg)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, uint32(2), result.Attempts)

	funding := gw.submittedBy(sponsor)
	require.Len(t, funding, 2)
	assert.Equal(t, uint64(5), funding[0].Nonce())
	assert.Equal(t, uint64(6), funding[1].Nonce())
}

func TestRescueValidation(t *testing.T) {
	gw := newMockGateway()

	cfg := testConfig(gw)
	cfg.Calls = nil
	_, err := Rescue(context.Background(), cfg)
	assert.Error(t, err)

	cfg = testConfig(gw)
	cfg.ExecutorKey = nil
	_, err = Rescue(context.Background(), cfg)
	assert.Error(t, err)

	cfg = testConfig(gw)
	cfg.Calls[0].GasLimit = 0
	_, err = Rescue(context.Background(), cfg)
	assert.Error(t, err)
}

// Only the failing transfers ride the partial-progress path; the confirmed
// one is not re-sent.
func TestRescuePartialResendsOnlyFailed(t *testing.T) {
	gw := newMockGateway()
	executor := addrOf(testExecutorKey)

	var mu sync.Mutex
	failedOnce := false
	gw.receiptFor = func(tx *types.Transaction) (*chain.Receipt, error) {
		status := types.ReceiptStatusSuccessful
		if senderOf(gw.chainID, tx) == executor && tx.Nonce() == 1 {
			mu.Lock()
			if !failedOnce {
				failedOnce = true
				status = types.ReceiptStatusFailed
			}
			mu.Unlock()
		}
		return &chain.Receipt{BlockNumber: 1001, GasUsed: tx.Gas(), Status: status}, nil
	}

	cfg := testConfig(gw)
	cfg.Calls = append(cfg.Calls, TransferCall{To: cfg.Calls[0].To, Calldata: []byte{0x02}, GasLimit: 70_000})

	result, err := Rescue(context.Background(), cfg)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, uint32(2), result.Attempts)
	assert.Len(t, result.TransferHashes, 2)

	// 2 transfers in attempt 1 plus exactly 1 re-sent transfer
	transfers := gw.submittedBy(executor)
	require.Len(t, transfers, 3)
	assert.Equal(t, []byte{0x02}, transfers[2].Data(), "the re-sent tx carries the failed call's calldata")
}

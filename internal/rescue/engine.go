package rescue

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ligun0805/token-rescue/internal/chain"
	"github.com/ligun0805/token-rescue/internal/metrics"
	"github.com/ligun0805/token-rescue/internal/signer"
)

// runAttempt drives a single burst-submission attempt: nonce guard, fan-out
// to primary plus private endpoints, confirmation waits, outcome
// classification. The engine owns the bundle for the duration of the call.
func runAttempt(ctx context.Context, cfg *Config, b *Bundle) AttemptOutcome {
	logger := cfg.logger()

	// Nonce-staleness guard. A sweep tx arriving between signing and
	// submission consumes the executor nonce and invalidates every signed
	// transfer. The funding tx is sponsor-keyed and stays valid.
	executorAddr := signer.Address(cfg.ExecutorKey)
	currentNonce, err := cfg.Primary.NonceAt(ctx, executorAddr, chain.Pending)
	if err != nil {
		return AttemptOutcome{Kind: OutcomeFundingFailed, Reason: fmt.Errorf("nonce guard: %w", err)}
	}
	if currentNonce != b.ExecutorNonce {
		logger.Event("NONCE GUARD").
			Uint64("signed_nonce", b.ExecutorNonce).
			Uint64("pending_nonce", currentNonce).
			Msg("executor nonce moved; re-signing transfers")
		txs, err := signTransfers(cfg, cfg.Calls, b.ChainID, b.Quote, currentNonce)
		if err != nil {
			return AttemptOutcome{Kind: OutcomeFundingFailed, Reason: fmt.Errorf("nonce guard re-sign: %w", err)}
		}
		b.TransferTxs = txs
		b.ExecutorNonce = currentNonce
	}

	// Burst. Private endpoints see the funding tx first, then the primary's
	// awaited submission establishes funding-before-transfers order on the
	// one gateway whose receipts we can observe.
	for _, pg := range cfg.Private {
		pg := pg
		go pg.Broadcast(ctx, b.FundingTx)
	}
	fundingHash, err := cfg.Primary.SendRawTx(ctx, b.FundingTx)
	if err != nil {
		// Transfers are discarded from the wait set even if a private
		// endpoint took them; their receipts are not observable here.
		logger.Event("FAILED").Str("tx", "funding").Msgf("primary refused: %v", err)
		return AttemptOutcome{Kind: OutcomeRefused, Reason: fmt.Errorf("funding refused: %w", err)}
	}
	logger.Event("SENT").Str("tx", "funding").Str("hash", fundingHash.Hex()).
		Str("value_eth", fmtETH(b.FundingTx.Value())).Msg("funding submitted")

	accepted, refused := submitTransfers(ctx, cfg, b.TransferTxs)
	if len(refused) > 0 {
		logger.Event("FAILED").Ints("indexes", refused).Msg("primary refused transfer submissions")
	}

	// Funding confirmation.
	rcpt, err := cfg.Primary.AwaitReceipt(ctx, fundingHash)
	if err != nil {
		logger.Event("FAILED").Str("tx", "funding").Str("hash", fundingHash.Hex()).Msgf("not confirmed: %v", err)
		kind := OutcomeFundingFailed
		if errors.Is(err, chain.ErrReceiptTimeout) {
			kind = OutcomeTimeout
		}
		return AttemptOutcome{
			Kind:        kind,
			FundingHash: fundingHash,
			Reason:      fmt.Errorf("funding not confirmed: %w", err),
		}
	}
	if rcpt.Status != types.ReceiptStatusSuccessful {
		return AttemptOutcome{
			Kind:        OutcomeFundingFailed,
			FundingHash: fundingHash,
			Reason:      fmt.Errorf("funding reverted in block %d", rcpt.BlockNumber),
		}
	}
	logger.Event("CONFIRMED").Str("tx", "funding").Str("hash", fundingHash.Hex()).
		Uint64("block", rcpt.BlockNumber).Msg("funding landed")

	// Funded-enough sanity check. A sweep may have intercepted part of the
	// balance; remaining funds can still carry some transfers, so no abort.
	if bal, err := cfg.Primary.Balance(ctx, executorAddr); err == nil {
		half := new(big.Int).Div(b.TotalExecutorGasCost, big.NewInt(2))
		if bal.Cmp(half) < 0 {
			logger.Warning().
				Str("balance_eth", fmtETH(bal)).
				Str("expected_eth", fmtETH(b.TotalExecutorGasCost)).
				Msg("executor balance below half the funded amount; sweeper likely intercepted")
		}
	}

	observed, confirmed, failing := awaitTransfers(ctx, cfg, accepted)
	failing = append(failing, refused...)
	sort.Ints(failing)

	if len(failing) == 0 {
		return AttemptOutcome{Kind: OutcomeSuccess, FundingHash: fundingHash, TransferHashes: observed, Confirmed: confirmed}
	}
	return AttemptOutcome{
		Kind:           OutcomePartial,
		FundingHash:    fundingHash,
		TransferHashes: observed,
		Confirmed:      confirmed,
		FailingIndexes: failing,
		Reason:         fmt.Errorf("%d of %d transfers failed", len(failing), len(b.TransferTxs)),
	}
}

// submitTransfers fans the transfer txs out in input order: every private
// endpoint first (fire-and-forget), then the primary. Primary submissions
// run in parallel with each other; none is awaited before the next is
// issued. Returns accepted index->hash and the refused indexes.
func submitTransfers(ctx context.Context, cfg *Config, txs []*types.Transaction) (map[int]common.Hash, []int) {
	logger := cfg.logger()

	type submitResult struct {
		idx  int
		hash common.Hash
		err  error
	}
	results := make(chan submitResult, len(txs))
	for i, tx := range txs {
		for _, pg := range cfg.Private {
			pg, tx := pg, tx
			go pg.Broadcast(ctx, tx)
		}
		i, tx := i, tx
		go func() {
			hash, err := cfg.Primary.SendRawTx(ctx, tx)
			results <- submitResult{idx: i, hash: hash, err: err}
		}()
	}

	accepted := make(map[int]common.Hash, len(txs))
	var refused []int
	for range txs {
		r := <-results
		if r.err != nil {
			metrics.TransfersFailed.Inc()
			refused = append(refused, r.idx)
			continue
		}
		accepted[r.idx] = r.hash
		logger.Event("SENT").Int("index", r.idx).Str("hash", r.hash.Hex()).Msg("transfer submitted")
	}
	sort.Ints(refused)
	return accepted, refused
}

// awaitTransfers waits for all accepted submissions in parallel. Status 0,
// a dropped tx and a receipt timeout all count as failures. Both hash lists
// come back in index order: observed covers every accepted submission,
// confirmed only the status-1 ones.
func awaitTransfers(ctx context.Context, cfg *Config, accepted map[int]common.Hash) ([]common.Hash, []common.Hash, []int) {
	logger := cfg.logger()

	type waitResult struct {
		idx  int
		hash common.Hash
		ok   bool
	}
	results := make(chan waitResult, len(accepted))
	for idx, hash := range accepted {
		idx, hash := idx, hash
		go func() {
			rcpt, err := cfg.Primary.AwaitReceipt(ctx, hash)
			ok := err == nil && rcpt.Status == types.ReceiptStatusSuccessful
			if ok {
				logger.Event("CONFIRMED").Int("index", idx).Str("hash", hash.Hex()).
					Uint64("block", rcpt.BlockNumber).Msg("transfer landed")
			} else if err != nil {
				logger.Event("FAILED").Int("index", idx).Str("hash", hash.Hex()).Msgf("receipt wait: %v", err)
			} else {
				logger.Event("FAILED").Int("index", idx).Str("hash", hash.Hex()).Msg("transfer reverted")
			}
			results <- waitResult{idx: idx, hash: hash, ok: ok}
		}()
	}

	byIndex := make(map[int]common.Hash, len(accepted))
	okByIndex := make(map[int]bool, len(accepted))
	var failing []int
	for range accepted {
		r := <-results
		byIndex[r.idx] = r.hash
		okByIndex[r.idx] = r.ok
		if r.ok {
			metrics.TransfersConfirmed.Inc()
		} else {
			metrics.TransfersFailed.Inc()
			failing = append(failing, r.idx)
		}
	}

	indexes := make([]int, 0, len(byIndex))
	for idx := range byIndex {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	observed := make([]common.Hash, 0, len(indexes))
	var confirmed []common.Hash
	for _, idx := range indexes {
		observed = append(observed, byIndex[idx])
		if okByIndex[idx] {
			confirmed = append(confirmed, byIndex[idx])
		}
	}
	return observed, confirmed, failing
}

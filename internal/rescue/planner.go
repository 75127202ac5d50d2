package rescue

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ligun0805/token-rescue/internal/chain"
	"github.com/ligun0805/token-rescue/internal/metrics"
	"github.com/ligun0805/token-rescue/internal/signer"
)

// PlanError marks a failed dependent gateway call during bundle
// construction. Retryable at the attempt level.
type PlanError struct {
	Cause error
}

func (e *PlanError) Error() string { return fmt.Sprintf("planning failed: %v", e.Cause) }
func (e *PlanError) Unwrap() error { return e.Cause }

// quoteFees derives the attempt's fee quote. Integer arithmetic in wei
// throughout; gasFactor is a percentage (100 = no escalation).
//
// The cap bounds the escalation ladder: on a low-fee L2 an uncapped ladder
// would burn sponsor balance against an opponent whose own tip is bounded.
// The floor baseFee*2 + priority absorbs one base-fee doubling between
// signing and inclusion.
func quoteFees(baseFee, priorityFee, maxFee *big.Int, gasFactor uint64) FeeQuote {
	scaled := new(big.Int).Mul(maxFee, new(big.Int).SetUint64(gasFactor))
	scaled.Div(scaled, big.NewInt(100))

	feeCap := gweiToWei(MaxFeeCapGwei)
	if scaled.Cmp(feeCap) > 0 {
		scaled = feeCap
	}

	floor := new(big.Int).Mul(baseFee, big.NewInt(2))
	floor.Add(floor, priorityFee)
	if scaled.Cmp(floor) < 0 {
		scaled = floor
	}

	return FeeQuote{
		BaseFee:     new(big.Int).Set(baseFee),
		PriorityFee: new(big.Int).Set(priorityFee),
		MaxFee:      scaled,
	}
}

// plan reads chain state through the primary gateway and signs a fresh
// bundle: funding tx at the sponsor's pending nonce, transfer txs at the
// executor's sequential pending nonces, all sharing one fee quote.
func plan(ctx context.Context, cfg *Config, gasFactor uint64) (*Bundle, error) {
	logger := cfg.logger()

	chainID, err := cfg.Primary.ChainID(ctx)
	if err != nil {
		return nil, &PlanError{Cause: err}
	}
	head, err := cfg.Primary.LatestHeader(ctx)
	if err != nil {
		return nil, &PlanError{Cause: err}
	}

	quote := quoteFees(head.BaseFee, cfg.PriorityFee, cfg.MaxFee, gasFactor)
	metrics.EffectiveMaxFeeGwei.Set(weiToGweiFloat(quote.MaxFee))

	executorAddr := signer.Address(cfg.ExecutorKey)
	sponsorAddr := signer.Address(cfg.SponsorKey)

	// Pending nonces for both wallets, queried in parallel. Pending is
	// required: a sweep attempt may already sit in the pool and the
	// transfers must queue behind it.
	var (
		wg                        sync.WaitGroup
		executorNonce, sponsNonce uint64
		executorErr, sponsErr     error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		executorNonce, executorErr = cfg.Primary.NonceAt(ctx, executorAddr, chain.Pending)
	}()
	go func() {
		defer wg.Done()
		sponsNonce, sponsErr = cfg.Primary.NonceAt(ctx, sponsorAddr, chain.Pending)
	}()
	wg.Wait()
	if executorErr != nil {
		return nil, &PlanError{Cause: executorErr}
	}
	if sponsErr != nil {
		return nil, &PlanError{Cause: sponsErr}
	}

	totalGas := uint64(0)
	for _, call := range cfg.Calls {
		totalGas += call.GasLimit
	}
	fundingValue := new(big.Int).Mul(new(big.Int).SetUint64(totalGas), quote.MaxFee)

	fundingGas := uint64(FundingGasEOA)
	if cfg.ExecutorIsContract {
		fundingGas = FundingGasDelegated
	}
	fundingTx, err := signer.Sign(cfg.SponsorKey, signer.Template{
		ChainID:     chainID,
		Nonce:       sponsNonce,
		To:          &executorAddr,
		Value:       fundingValue,
		GasLimit:    fundingGas,
		MaxFee:      quote.MaxFee,
		PriorityFee: quote.PriorityFee,
	})
	if err != nil {
		return nil, &PlanError{Cause: err}
	}

	transferTxs, err := signTransfers(cfg, cfg.Calls, chainID, quote, executorNonce)
	if err != nil {
		return nil, &PlanError{Cause: err}
	}

	logger.Event("PLAN").
		Uint64("gas_factor", gasFactor).
		Str("max_fee_gwei", fmtGwei(quote.MaxFee)).
		Str("priority_fee_gwei", fmtGwei(quote.PriorityFee)).
		Uint64("executor_nonce", executorNonce).
		Uint64("sponsor_nonce", sponsNonce).
		Str("funding_value_eth", fmtETH(fundingValue)).
		Int("transfers", len(cfg.Calls)).
		Msg("bundle signed")

	return &Bundle{
		ChainID:              chainID,
		FundingTx:            fundingTx,
		TransferTxs:          transferTxs,
		Quote:                quote,
		ExecutorNonce:        executorNonce,
		SponsorNonce:         sponsNonce,
		TotalExecutorGasCost: fundingValue,
	}, nil
}

// signTransfers signs the given calls in order against sequential executor
// nonces starting at startNonce, reusing one fee quote. The nonce guard and
// the partial-progress path re-enter here with a fresh nonce.
func signTransfers(cfg *Config, calls []TransferCall, chainID *big.Int, quote FeeQuote, startNonce uint64) ([]*types.Transaction, error) {
	txs := make([]*types.Transaction, 0, len(calls))
	for i, call := range calls {
		to := call.To
		tx, err := signer.Sign(cfg.ExecutorKey, signer.Template{
			ChainID:     chainID,
			Nonce:       startNonce + uint64(i),
			To:          &to,
			Value:       big.NewInt(0),
			Data:        call.Calldata,
			GasLimit:    call.GasLimit,
			MaxFee:      quote.MaxFee,
			PriorityFee: quote.PriorityFee,
		})
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

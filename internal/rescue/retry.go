package rescue

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ligun0805/token-rescue/internal/chain"
	"github.com/ligun0805/token-rescue/internal/metrics"
	"github.com/ligun0805/token-rescue/internal/signer"
)

// Rescue runs the bounded retry loop around the submission engine: plan,
// attempt, escalate. Partial progress (funding landed, transfers did not)
// takes a transfer-only fast path before the next full attempt.
func Rescue(ctx context.Context, cfg Config) (*Result, error) {
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	logger := cfg.logger()

	gasFactor := uint64(100)
	var (
		lastErr     error
		lastFunding *common.Hash
	)
	for attempt := uint32(1); attempt <= MaxRetryAttempts; attempt++ {
		if attempt > 1 {
			gasFactor = gasFactor * GasEscalationFactor / 100
			logger.Event("RETRY").Uint32("attempt", attempt).
				Uint64("gas_factor", gasFactor).
				Msgf("re-planning: %v", lastErr)
		}
		metrics.RescueAttempts.Inc()

		b, err := plan(ctx, &cfg, gasFactor)
		if err != nil {
			lastErr = err
			continue
		}

		out := runAttempt(ctx, &cfg, b)
		metrics.RescueOutcomes.WithLabelValues(out.Kind.String()).Inc()
		if out.FundingHash != (common.Hash{}) {
			h := out.FundingHash
			lastFunding = &h
		}

		switch out.Kind {
		case OutcomeSuccess:
			logger.Event("SUCCESS").Uint32("attempts", attempt).Msg("all transfers confirmed")
			return &Result{
				FundingHash:    lastFunding,
				TransferHashes: out.Confirmed,
				Success:        true,
				Attempts:       attempt,
			}, nil

		case OutcomePartial:
			lastErr = out.Reason
			if attempt < MaxRetryAttempts {
				// Funding already sits as executor balance; burn one extra
				// escalation step on the failed transfers alone. The step is
				// local: the outer ladder stays 100, 130, 169.
				subFactor := gasFactor * GasEscalationFactor / 100
				confirmed, ok, subErr := retryTransfersOnly(ctx, &cfg, b, out, subFactor)
				if ok {
					all := append(append([]common.Hash{}, out.Confirmed...), confirmed...)
					logger.Event("SUCCESS").Uint32("attempts", attempt+1).Msg("transfers confirmed on partial-progress path")
					return &Result{
						FundingHash:    lastFunding,
						TransferHashes: all,
						Success:        true,
						Attempts:       attempt + 1,
					}, nil
				}
				if subErr != nil {
					lastErr = subErr
				}
			}

		default:
			lastErr = out.Reason
		}
	}

	reason := ""
	if lastErr != nil {
		reason = lastErr.Error()
	}
	logger.Event("FAILED").Uint32("attempts", MaxRetryAttempts).Msgf("rescue exhausted: %s", reason)
	return &Result{
		FundingHash: lastFunding,
		Success:     false,
		Attempts:    MaxRetryAttempts,
		LastError:   reason,
	}, nil
}

// retryTransfersOnly is the partial-progress fast path: no funding tx is
// signed or submitted. The failed calls are re-signed against the freshly
// queried pending nonce with one more escalation step on the fee quote and
// fanned out exactly like a full attempt.
func retryTransfersOnly(ctx context.Context, cfg *Config, b *Bundle, out AttemptOutcome, gasFactor uint64) ([]common.Hash, bool, error) {
	logger := cfg.logger()

	failed := make([]TransferCall, 0, len(out.FailingIndexes))
	for _, idx := range out.FailingIndexes {
		if idx >= 0 && idx < len(cfg.Calls) {
			failed = append(failed, cfg.Calls[idx])
		}
	}
	if len(failed) == 0 {
		return nil, false, errors.New("partial progress with no failing transfers")
	}

	head, err := cfg.Primary.LatestHeader(ctx)
	if err != nil {
		return nil, false, &PlanError{Cause: err}
	}
	quote := quoteFees(head.BaseFee, cfg.PriorityFee, cfg.MaxFee, gasFactor)

	executorAddr := signer.Address(cfg.ExecutorKey)
	nonce, err := cfg.Primary.NonceAt(ctx, executorAddr, chain.Pending)
	if err != nil {
		return nil, false, &PlanError{Cause: err}
	}

	logger.Event("RETRY").
		Uint64("gas_factor", gasFactor).
		Str("max_fee_gwei", fmtGwei(quote.MaxFee)).
		Uint64("executor_nonce", nonce).
		Int("transfers", len(failed)).
		Msg("partial progress: re-sending transfers without funding")

	txs, err := signTransfers(cfg, failed, b.ChainID, quote, nonce)
	if err != nil {
		return nil, false, &PlanError{Cause: err}
	}

	accepted, refused := submitTransfers(ctx, cfg, txs)
	_, confirmed, failing := awaitTransfers(ctx, cfg, accepted)
	failing = append(failing, refused...)
	sort.Ints(failing)
	if len(failing) > 0 {
		return confirmed, false, fmt.Errorf("%d of %d re-sent transfers failed", len(failing), len(txs))
	}
	return confirmed, true, nil
}

func validate(cfg *Config) error {
	if cfg.Primary == nil {
		return errors.New("no primary gateway")
	}
	if cfg.ExecutorKey == nil || cfg.SponsorKey == nil {
		return errors.New("both executor and sponsor keys are required")
	}
	if len(cfg.Calls) == 0 {
		return errors.New("no transfer calls")
	}
	if cfg.PriorityFee == nil || cfg.MaxFee == nil {
		return errors.New("priority and max fee are required")
	}
	for i, call := range cfg.Calls {
		if call.GasLimit == 0 {
			return fmt.Errorf("transfer %d has zero gas limit", i)
		}
	}
	return nil
}

package rescue

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ligun0805/token-rescue/internal/chain"
	"github.com/ligun0805/token-rescue/internal/log"
)

// Calibration constants.
const (
	MaxRetryAttempts    = 3
	GasEscalationFactor = 130 // percent per attempt
	MaxFeeCapGwei       = 10
	FundingGasEOA       = 21_000
	FundingGasDelegated = 100_000 // EIP-7702 delegation compensation
	DefaultTransferGas  = 65_000
)

// TransferCall describes one token transfer the executor must emit. The
// calldata is ready-made; the orchestrator never inspects it.
type TransferCall struct {
	To       common.Address
	Calldata []byte
	GasLimit uint64
}

// FeeQuote holds the per-attempt gas pricing. All values in wei.
// MaxFee >= BaseFee*2 + PriorityFee holds whenever a quote is used.
type FeeQuote struct {
	BaseFee     *big.Int
	PriorityFee *big.Int
	MaxFee      *big.Int
}

// Bundle is a causally ordered set of signed transactions: one sponsor ->
// executor funding tx and the executor's transfer txs at sequential nonces.
type Bundle struct {
	ChainID     *big.Int
	FundingTx   *types.Transaction
	TransferTxs []*types.Transaction
	Quote       FeeQuote

	// Nonces observed at signing time, kept for staleness detection.
	ExecutorNonce uint64
	SponsorNonce  uint64

	// Value of FundingTx, kept for the funded-enough check.
	TotalExecutorGasCost *big.Int
}

// OutcomeKind tags one attempt's result.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeFundingFailed
	OutcomePartial // funding landed, one or more transfers did not
	OutcomeRefused
	OutcomeTimeout
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeFundingFailed:
		return "funding_failed"
	case OutcomePartial:
		return "funding_landed_transfers_failed"
	case OutcomeRefused:
		return "submission_refused"
	case OutcomeTimeout:
		return "timeout"
	}
	return "unknown"
}

// AttemptOutcome is the sum-typed result of a single submission attempt. The
// retry controller's behavior is a total function of Kind.
type AttemptOutcome struct {
	Kind           OutcomeKind
	FundingHash    common.Hash
	TransferHashes []common.Hash // every submission the primary accepted
	Confirmed      []common.Hash // the status-1 subset, index order
	FailingIndexes []int
	Reason         error
}

// Result is what an invocation returns to the caller.
type Result struct {
	FundingHash    *common.Hash
	TransferHashes []common.Hash
	Success        bool
	Attempts       uint32
	LastError      string
}

// Config carries every input of one rescue invocation. All tunables are
// parameters; nothing is read from the environment here.
type Config struct {
	Primary chain.Gateway
	Private []chain.Broadcaster

	ExecutorKey *ecdsa.PrivateKey
	SponsorKey  *ecdsa.PrivateKey

	Calls []TransferCall

	// Wei. Gwei is a display unit only; the CLI converts at the boundary.
	PriorityFee *big.Int
	MaxFee      *big.Int

	ExecutorIsContract bool

	Log *log.Logger
}

func (c *Config) logger() *log.Logger {
	if c.Log == nil {
		return log.NewNopLogger()
	}
	return c.Log
}

var oneGwei = big.NewInt(1_000_000_000)

func gweiToWei(g int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(g), oneGwei)
}

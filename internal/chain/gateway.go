package chain

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// NonceTag selects which account state a nonce query reads.
type NonceTag int

const (
	// Latest reads the nonce at the latest mined block.
	Latest NonceTag = iota
	// Pending includes transactions the endpoint accepted into its pool,
	// whoever broadcast them.
	Pending
)

// Header carries the two block fields the planner needs.
type Header struct {
	Number  uint64
	BaseFee *big.Int
}

// Receipt is the trimmed-down inclusion record for a submitted transaction.
type Receipt struct {
	BlockNumber uint64
	GasUsed     uint64
	Status      uint64 // 1 = success, 0 = revert
}

// CallMsg describes a call for gas estimation.
type CallMsg struct {
	From common.Address
	To   common.Address
	Data []byte
}

// ErrReceiptTimeout is returned when a receipt did not arrive inside the
// endpoint's wait window. The transaction may still land later.
var ErrReceiptTimeout = errors.New("timed out waiting for receipt")

// ErrDropped is returned when the endpoint no longer knows the transaction.
var ErrDropped = errors.New("transaction dropped from pool")

// Gateway is a uniform view over one JSON-RPC endpoint.
type Gateway interface {
	ChainID(ctx context.Context) (*big.Int, error)
	LatestHeader(ctx context.Context) (*Header, error)
	NonceAt(ctx context.Context, addr common.Address, tag NonceTag) (uint64, error)
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)
	Code(ctx context.Context, addr common.Address) ([]byte, error)
	EstimateGas(ctx context.Context, msg CallMsg) (uint64, error)

	// SendRawTx hands the signed transaction to the endpoint's pool. It
	// returns once the pool accepted or rejected it, never blocking on
	// inclusion.
	SendRawTx(ctx context.Context, tx *types.Transaction) (common.Hash, error)

	// AwaitReceipt blocks until the transaction has one confirmation, the
	// wait window closes (ErrReceiptTimeout) or the pool forgot the hash
	// (ErrDropped).
	AwaitReceipt(ctx context.Context, hash common.Hash) (*Receipt, error)
}

// Broadcaster is the fire-and-forget shape of a private endpoint. Broadcast
// errors are logged and swallowed; a Broadcaster never participates in
// receipt waits.
type Broadcaster interface {
	Name() string
	Broadcast(ctx context.Context, tx *types.Transaction)
}

package chain

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/ligun0805/token-rescue/internal/log"
)

const (
	defaultReceiptWindow = 90 * time.Second
	receiptPollInterval  = 500 * time.Millisecond
)

// Endpoint implements Gateway over an ethclient connection.
type Endpoint struct {
	url           string
	ec            *ethclient.Client
	receiptWindow time.Duration
	logger        *log.Logger
}

// Dial connects to a JSON-RPC endpoint.
func Dial(url string, logger *log.Logger) (*Endpoint, error) {
	ec, err := ethclient.Dial(url)
	if err != nil {
		return nil, err
	}
	return NewEndpoint(url, ec, logger), nil
}

// NewEndpoint wraps an existing client.
func NewEndpoint(url string, ec *ethclient.Client, logger *log.Logger) *Endpoint {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Endpoint{url: url, ec: ec, receiptWindow: defaultReceiptWindow, logger: logger}
}

// SetReceiptWindow overrides the per-receipt wait window.
func (e *Endpoint) SetReceiptWindow(d time.Duration) {
	if d > 0 {
		e.receiptWindow = d
	}
}

func (e *Endpoint) URL() string { return e.url }

// Client exposes the underlying connection for collaborator reads
// (token discovery, eth_call preflight).
func (e *Endpoint) Client() *ethclient.Client { return e.ec }

func (e *Endpoint) ChainID(ctx context.Context) (*big.Int, error) {
	return e.ec.ChainID(ctx)
}

func (e *Endpoint) LatestHeader(ctx context.Context) (*Header, error) {
	h, err := e.ec.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, err
	}
	baseFee := h.BaseFee
	if baseFee == nil {
		// pre-1559 chain; the fee floor math still works with zero
		baseFee = big.NewInt(0)
	}
	return &Header{Number: h.Number.Uint64(), BaseFee: new(big.Int).Set(baseFee)}, nil
}

func (e *Endpoint) NonceAt(ctx context.Context, addr common.Address, tag NonceTag) (uint64, error) {
	if tag == Pending {
		return e.ec.PendingNonceAt(ctx, addr)
	}
	return e.ec.NonceAt(ctx, addr, nil)
}

func (e *Endpoint) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	return e.ec.BalanceAt(ctx, addr, nil)
}

func (e *Endpoint) Code(ctx context.Context, addr common.Address) ([]byte, error) {
	return e.ec.CodeAt(ctx, addr, nil)
}

func (e *Endpoint) EstimateGas(ctx context.Context, msg CallMsg) (uint64, error) {
	to := msg.To
	return estimateGasWithRetry(ctx, e.ec, ethereum.CallMsg{From: msg.From, To: &to, Data: msg.Data})
}

func (e *Endpoint) SendRawTx(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	if err := e.ec.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, err
	}
	return tx.Hash(), nil
}

// AwaitReceipt polls for the receipt until the wait window closes. A hash
// the node does not know is polled like a pending one; this implementation
// never returns ErrDropped, a dropped tx surfaces as ErrReceiptTimeout.
func (e *Endpoint) AwaitReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, e.receiptWindow)
	defer cancel()
	for {
		rcpt, err := e.ec.TransactionReceipt(waitCtx, hash)
		if err == nil && rcpt != nil && rcpt.BlockNumber != nil {
			return &Receipt{
				BlockNumber: rcpt.BlockNumber.Uint64(),
				GasUsed:     rcpt.GasUsed,
				Status:      rcpt.Status,
			}, nil
		}
		if err != nil && err != ethereum.NotFound {
			// transport failures inside the window are retried; a closed
			// window surfaces as timeout below
			if waitCtx.Err() != nil {
				return nil, ErrReceiptTimeout
			}
		}
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, ErrReceiptTimeout
		case <-time.After(receiptPollInterval):
		}
	}
}

// --- small RPC helpers (retry + backoff) ---

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "Too Many Requests") || strings.Contains(s, "-32005")
}

// estimateGasWithRetry performs eth_estimateGas up to 3 times on any error,
// sleeping 200ms between tries; the sleep doubles only after rate-limit errors.
func estimateGasWithRetry(ctx context.Context, ec *ethclient.Client, msg ethereum.CallMsg) (uint64, error) {
	const maxAttempts = 3
	backoff := 200 * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		g, err := ec.EstimateGas(ctx, msg)
		if err == nil {
			return g, nil
		}
		lastErr = err
		if attempt < maxAttempts {
			time.Sleep(backoff)
			if isRateLimitError(err) {
				backoff *= 2
			}
		}
	}
	return 0, lastErr
}

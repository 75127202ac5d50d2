package chain

import (
	"context"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/ligun0805/token-rescue/internal/log"
	"github.com/ligun0805/token-rescue/internal/metrics"
)

// PrivateEndpoint submits raw transactions to an MEV-protected RPC whose
// mempool is not publicly readable. Errors are logged and swallowed; receipts
// are never observed through it.
type PrivateEndpoint struct {
	url    string
	ec     *ethclient.Client
	logger *log.Logger
}

var _ Broadcaster = (*PrivateEndpoint)(nil)

// DialPrivate connects to a private endpoint.
func DialPrivate(url string, logger *log.Logger) (*PrivateEndpoint, error) {
	ec, err := ethclient.Dial(url)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &PrivateEndpoint{url: url, ec: ec, logger: logger}, nil
}

func (p *PrivateEndpoint) Name() string { return p.url }

func (p *PrivateEndpoint) Broadcast(ctx context.Context, tx *types.Transaction) {
	if err := p.ec.SendTransaction(ctx, tx); err != nil {
		metrics.PrivateBroadcastErrors.WithLabelValues(p.url).Inc()
		p.logger.Event("PRIVATE RPC").Str("endpoint", p.url).Str("tx", tx.Hash().Hex()).Msgf("broadcast error: %v", err)
		return
	}
	p.logger.Event("PRIVATE RPC").Str("endpoint", p.url).Str("tx", tx.Hash().Hex()).Msg("broadcast accepted")
}

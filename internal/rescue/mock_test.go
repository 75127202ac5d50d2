package rescue

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ligun0805/token-rescue/internal/chain"
)

// Well-known throwaway dev keys.
var (
	testExecutorKey, _ = crypto.HexToECDSA("ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	testSponsorKey, _  = crypto.HexToECDSA("59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d")
)

func addrOf(key *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(key.PublicKey)
}

func senderOf(chainID *big.Int, tx *types.Transaction) common.Address {
	from, _ := types.Sender(types.LatestSignerForChainID(chainID), tx)
	return from
}

// mockGateway is an in-memory Gateway with hooks for nonce movement and
// receipt outcomes.
type mockGateway struct {
	mu sync.Mutex

	chainID *big.Int
	baseFee *big.Int
	block   uint64

	pending  map[common.Address]uint64
	balances map[common.Address]*big.Int
	codes    map[common.Address][]byte

	headerErr error
	nonceErr  error

	estimate    uint64
	estimateErr error

	// ordered log of every SendRawTx call the pool check accepted
	submitted []*types.Transaction
	byHash    map[common.Hash]*types.Transaction

	// refuse decides pool rejection; nil accepts everything
	refuse func(tx *types.Transaction) error
	// receiptFor decides receipt outcomes; nil confirms with status 1
	receiptFor func(tx *types.Transaction) (*chain.Receipt, error)
	// onSend runs after a tx is accepted, under the lock
	onSend func(m *mockGateway, tx *types.Transaction)
}

var _ chain.Gateway = (*mockGateway)(nil)

func newMockGateway() *mockGateway {
	return &mockGateway{
		chainID:  big.NewInt(8453),
		baseFee:  big.NewInt(20_000_000),
		block:    1000,
		pending:  map[common.Address]uint64{},
		balances: map[common.Address]*big.Int{},
		codes:    map[common.Address][]byte{},
		byHash:   map[common.Hash]*types.Transaction{},
	}
}

func (m *mockGateway) ChainID(ctx context.Context) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.chainID), nil
}

func (m *mockGateway) LatestHeader(ctx context.Context) (*chain.Header, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.headerErr != nil {
		return nil, m.headerErr
	}
	return &chain.Header{Number: m.block, BaseFee: new(big.Int).Set(m.baseFee)}, nil
}

func (m *mockGateway) NonceAt(ctx context.Context, addr common.Address, tag chain.NonceTag) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nonceErr != nil {
		return 0, m.nonceErr
	}
	return m.pending[addr], nil
}

func (m *mockGateway) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.balances[addr]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

func (m *mockGateway) Code(ctx context.Context, addr common.Address) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[addr], nil
}

func (m *mockGateway) EstimateGas(ctx context.Context, msg chain.CallMsg) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.estimateErr != nil {
		return 0, m.estimateErr
	}
	return m.estimate, nil
}

func (m *mockGateway) SendRawTx(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refuse != nil {
		if err := m.refuse(tx); err != nil {
			return common.Hash{}, err
		}
	}
	m.submitted = append(m.submitted, tx)
	m.byHash[tx.Hash()] = tx
	if m.onSend != nil {
		m.onSend(m, tx)
	}
	return tx.Hash(), nil
}

func (m *mockGateway) AwaitReceipt(ctx context.Context, hash common.Hash) (*chain.Receipt, error) {
	m.mu.Lock()
	tx, ok := m.byHash[hash]
	receiptFor := m.receiptFor
	block := m.block
	m.mu.Unlock()
	if !ok {
		return nil, chain.ErrDropped
	}
	if receiptFor != nil {
		return receiptFor(tx)
	}
	return &chain.Receipt{BlockNumber: block + 1, GasUsed: tx.Gas(), Status: types.ReceiptStatusSuccessful}, nil
}

// submittedBy filters the submission log by sender.
func (m *mockGateway) submittedBy(addr common.Address) []*types.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Transaction
	for _, tx := range m.submitted {
		if senderOf(m.chainID, tx) == addr {
			out = append(out, tx)
		}
	}
	return out
}

func (m *mockGateway) submissionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.submitted)
}

// mockBroadcaster records the raw bytes of every fire-and-forget broadcast.
type mockBroadcaster struct {
	mu   sync.Mutex
	name string
	raws map[common.Hash][]byte
}

var _ chain.Broadcaster = (*mockBroadcaster)(nil)

func newMockBroadcaster(name string) *mockBroadcaster {
	return &mockBroadcaster{name: name, raws: map[common.Hash][]byte{}}
}

func (b *mockBroadcaster) Name() string { return b.name }

func (b *mockBroadcaster) Broadcast(ctx context.Context, tx *types.Transaction) {
	raw, _ := tx.MarshalBinary()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.raws[tx.Hash()] = raw
}

func (b *mockBroadcaster) sawRaw(tx *types.Transaction) bool {
	want, _ := tx.MarshalBinary()
	b.mu.Lock()
	defer b.mu.Unlock()
	got, ok := b.raws[tx.Hash()]
	if !ok {
		return false
	}
	return string(got) == string(want)
}

// testConfig builds a one-transfer config against the given gateway.
func testConfig(gw chain.Gateway, broadcasters ...chain.Broadcaster) Config {
	return Config{
		Primary:     gw,
		Private:     broadcasters,
		ExecutorKey: testExecutorKey,
		SponsorKey:  testSponsorKey,
		Calls: []TransferCall{
			{
				To:       common.HexToAddress("0x00000000000000000000000000000000000a11ce"),
				Calldata: common.FromHex("0xa9059cbb"),
				GasLimit: 65_000,
			},
		},
		PriorityFee: big.NewInt(1_000_000_000), // 1 gwei
		MaxFee:      big.NewInt(2_000_000_000), // 2 gwei
	}
}

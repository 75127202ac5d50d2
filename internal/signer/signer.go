package signer

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Template fully parametrizes one EIP-1559 transaction. No defaults: every
// field the wire format carries must be set by the caller.
type Template struct {
	ChainID     *big.Int
	Nonce       uint64
	To          *common.Address
	Value       *big.Int
	Data        []byte
	GasLimit    uint64
	MaxFee      *big.Int
	PriorityFee *big.Int
}

// Sign produces a signed type-2 transaction. Pure function of its inputs;
// identical inputs yield bytewise identical raw transactions.
func Sign(key *ecdsa.PrivateKey, t Template) (*types.Transaction, error) {
	if key == nil {
		return nil, errors.New("nil signing key")
	}
	if t.ChainID == nil {
		return nil, errors.New("template missing chain id")
	}
	if t.MaxFee == nil || t.PriorityFee == nil {
		return nil, errors.New("template missing fee caps")
	}
	if t.Value == nil {
		return nil, errors.New("template missing value")
	}
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   t.ChainID,
		Nonce:     t.Nonce,
		GasTipCap: new(big.Int).Set(t.PriorityFee),
		GasFeeCap: new(big.Int).Set(t.MaxFee),
		Gas:       t.GasLimit,
		To:        t.To,
		Value:     new(big.Int).Set(t.Value),
		Data:      t.Data,
	})
	return types.SignTx(tx, types.LatestSignerForChainID(t.ChainID), key)
}

// ParseKey parses a hex ECDSA private key (with / without 0x).
func ParseKey(s string) (*ecdsa.PrivateKey, error) {
	h := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if len(h) == 0 {
		return nil, errors.New("empty private key")
	}
	return gethcrypto.HexToECDSA(h)
}

// Address derives the account address of a key.
func Address(key *ecdsa.PrivateKey) common.Address {
	return gethcrypto.PubkeyToAddress(key.PublicKey)
}

// RawHex hex-encodes the RLP wire form of a signed transaction.
func RawHex(tx *types.Transaction) string {
	b, _ := tx.MarshalBinary()
	return "0x" + hex.EncodeToString(b)
}

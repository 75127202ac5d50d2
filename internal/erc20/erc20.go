package erc20

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

var tokenABI abi.ABI

func init() {
	const erc20 = `[
	  {"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"type":"bool"}]},
	  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"a","type":"address"}],"outputs":[{"type":"uint256"}]},
	  {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"type":"uint8"}]},
	  {"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"type":"string"}]}
	]`
	ab, _ := abi.JSON(strings.NewReader(erc20))
	tokenABI = ab
}

// EncodeTransfer builds transfer(to, amount) calldata.
func EncodeTransfer(to common.Address, amount *big.Int) []byte {
	selector := common.FromHex("0xa9059cbb")
	arg1 := common.LeftPadBytes(to.Bytes(), 32)
	arg2 := common.LeftPadBytes(amount.Bytes(), 32)
	return append(selector, append(arg1, arg2...)...)
}

// BalanceOf reads the token balance of an account.
func BalanceOf(ctx context.Context, ec *ethclient.Client, token, account common.Address) (*big.Int, error) {
	data, err := tokenABI.Pack("balanceOf", account)
	if err != nil {
		return nil, err
	}
	ret, err := callWithRetry(ctx, ec, ethereum.CallMsg{To: &token, Data: data})
	if err != nil {
		return nil, err
	}
	if len(ret) < 32 {
		return big.NewInt(0), nil
	}
	return new(big.Int).SetBytes(ret[len(ret)-32:]), nil
}

// Decimals reads the token decimals, defaulting to 18 when the call fails
// (some tokens omit the method).
func Decimals(ctx context.Context, ec *ethclient.Client, token common.Address) uint8 {
	data, err := tokenABI.Pack("decimals")
	if err != nil {
		return 18
	}
	ret, err := callWithRetry(ctx, ec, ethereum.CallMsg{To: &token, Data: data})
	if err != nil || len(ret) == 0 {
		return 18
	}
	out, err := tokenABI.Methods["decimals"].Outputs.Unpack(ret)
	if err != nil || len(out) != 1 {
		return 18
	}
	if d, ok := out[0].(uint8); ok {
		return d
	}
	return 18
}

// Symbol reads the token symbol; best-effort.
func Symbol(ctx context.Context, ec *ethclient.Client, token common.Address) string {
	data, err := tokenABI.Pack("symbol")
	if err != nil {
		return ""
	}
	ret, err := callWithRetry(ctx, ec, ethereum.CallMsg{To: &token, Data: data})
	if err != nil || len(ret) == 0 {
		return ""
	}
	out, err := tokenABI.Methods["symbol"].Outputs.Unpack(ret)
	if err != nil || len(out) != 1 {
		return ""
	}
	if s, ok := out[0].(string); ok {
		return s
	}
	return ""
}

// PreflightTransfer simulates token.transfer(to, amount) from the holder via
// eth_call. Returns (false, reason) when the transfer would revert or return
// false; tokens with pre-ERC20 empty returns pass.
func PreflightTransfer(ctx context.Context, ec *ethclient.Client, token, from, to common.Address, amount *big.Int) (bool, string, error) {
	data := EncodeTransfer(to, amount)
	msg := ethereum.CallMsg{From: from, To: &token, Data: data, Value: big.NewInt(0)}
	ret, err := callWithRetry(ctx, ec, msg)
	if err != nil {
		return false, "revert on transfer()", nil
	}
	if len(ret) == 0 {
		return true, "", nil
	}
	out, err := tokenABI.Methods["transfer"].Outputs.Unpack(ret)
	if err != nil {
		return false, "unexpected return data", nil
	}
	if len(out) == 1 {
		if b, _ := out[0].(bool); b {
			return true, "", nil
		}
	}
	return false, "transfer() returned false", nil
}

// --- small RPC helpers (retry + backoff) ---

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "Too Many Requests") || strings.Contains(s, "-32005")
}

// callWithRetry performs eth_call up to 3 times on any error, sleeping 200ms
// between tries; the sleep doubles only after rate-limit errors.
func callWithRetry(ctx context.Context, ec *ethclient.Client, msg ethereum.CallMsg) ([]byte, error) {
	const maxAttempts = 3
	backoff := 200 * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ret, err := ec.CallContract(ctx, msg, nil)
		if err == nil {
			return ret, nil
		}
		lastErr = err
		if attempt < maxAttempts {
			time.Sleep(backoff)
			if isRateLimitError(err) {
				backoff *= 2
			}
		}
	}
	return nil, lastErr
}

package rescue

import (
	"math/big"
)

// Human-readable helpers (ETH/gwei). Display only, never on the fee path.
func fmtETH(x *big.Int) string {
	if x == nil {
		return "0"
	}
	r := new(big.Rat).SetFrac(new(big.Int).Set(x), big.NewInt(1_000_000_000_000_000_000))
	return r.FloatString(6)
}

func fmtGwei(x *big.Int) string {
	if x == nil {
		return "0"
	}
	r := new(big.Rat).SetFrac(new(big.Int).Set(x), big.NewInt(1_000_000_000))
	return r.FloatString(2)
}

func weiToGweiFloat(x *big.Int) float64 {
	if x == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(x), big.NewFloat(1e9)).Float64()
	return f
}

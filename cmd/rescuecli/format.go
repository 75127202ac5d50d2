package main

import (
	"math/big"
	"strings"
)

func formatGwei(v *big.Int) string {
	if v == nil {
		return "0"
	}
	r := new(big.Rat).SetFrac(v, big.NewInt(1_000_000_000))
	return r.FloatString(2)
}

func formatEther(v *big.Int) string {
	if v == nil {
		return "0"
	}
	s := new(big.Rat).SetFrac(v, big.NewInt(1_000_000_000_000_000_000))
	return s.FloatString(6)
}

// formatTokens renders a raw token amount using the token's decimals.
func formatTokens(v *big.Int, decimals uint8) string {
	if v == nil {
		return "0"
	}
	div := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	r := new(big.Rat).SetFrac(v, div)
	out := r.FloatString(int(decimals))
	if decimals > 0 {
		out = strings.TrimRight(out, "0")
		out = strings.TrimRight(out, ".")
	}
	if out == "" {
		return "0"
	}
	return out
}

// gweiToWei converts a fractional gwei amount into integer wei. Gwei floats
// live only at this boundary; everything past it is wei arithmetic.
func gweiToWei(g float64) *big.Int {
	f := new(big.Float).Mul(big.NewFloat(g), big.NewFloat(1e9))
	wei, _ := f.Int(nil)
	if wei.Sign() < 0 {
		return big.NewInt(0)
	}
	return wei
}

package config

import (
	"os"
	"strconv"
	"strings"
)

// Settings keeps all configuration options.
// Naming mirrors the env keys the CLI documents.
type Settings struct {
	PrimaryRPC      string
	PrivateRPCs     []string
	ChainID         string // read from env only; the CLI takes the chain id from the primary endpoint
	SponsorPKHex    string
	ExecutorPKHex   string
	RecipientHex    string
	TokenAddrs      []string
	PriorityFeeGwei float64
	MaxFeeGwei      float64
	ReceiptWindowS  int
	MetricsPort     string
}

// Load reads settings from environment supporting both UPPER_CASE and lower_case keys.
func Load() Settings {
	get := func(keys []string, def string) string {
		for _, k := range keys {
			if v := strings.TrimSpace(os.Getenv(k)); v != "" {
				return v
			}
		}
		return def
	}
	getInt := func(keys []string, def int) int {
		s := get(keys, "")
		if s == "" {
			return def
		}
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return n
		}
		return def
	}
	getFloat := func(keys []string, def float64) float64 {
		s := get(keys, "")
		if s == "" {
			return def
		}
		if n, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return n
		}
		return def
	}
	splitCSV := func(s string) []string {
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		return out
	}

	st := Settings{}
	st.PrimaryRPC = get([]string{"rpc_url", "RPC_URL"}, "https://eth.llamarpc.com")
	st.PrivateRPCs = splitCSV(get([]string{"private_rpc_urls", "PRIVATE_RPC_URLS"}, ""))
	st.ChainID = get([]string{"chain_id", "CHAIN_ID"}, "")
	st.SponsorPKHex = get([]string{"sponsor_private_key", "SPONSOR_PRIVATE_KEY", "SAFE_PRIVATE_KEY"}, "")
	st.ExecutorPKHex = get([]string{"executor_private_key", "EXECUTOR_PRIVATE_KEY", "COMPROMISED_PRIVATE_KEY"}, "")
	st.RecipientHex = get([]string{"recipient", "RECIPIENT"}, "")
	st.TokenAddrs = splitCSV(get([]string{"token_addresses", "TOKEN_ADDRESSES"}, ""))
	st.PriorityFeeGwei = getFloat([]string{"priority_fee_gwei", "PRIORITY_FEE_GWEI"}, 2)
	st.MaxFeeGwei = getFloat([]string{"max_fee_gwei", "MAX_FEE_GWEI"}, 5)
	st.ReceiptWindowS = getInt([]string{"receipt_window_sec", "RECEIPT_WINDOW_SEC"}, 90)
	st.MetricsPort = get([]string{"metrics_port", "METRICS_PORT"}, "")

	return st
}

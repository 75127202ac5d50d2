package erc20

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Pause probes seen in the wild. Methods named *Enabled report the inverse
// of paused.
var pausedProbes = []struct {
	sig    string
	invert bool
}{
	{"paused()", false},
	{"isPaused()", false},
	{"transfersPaused()", false},
	{"tradingPaused()", false},
	{"isTradingPaused()", false},
	{"pausedTransfers()", false},
	{"globalPaused()", false},
	{"transferEnabled()", true},
	{"isTransferEnabled()", true},
	{"tradingEnabled()", true},
	{"isTradingEnabled()", true},
}

var (
	blacklistAddrSigs = []string{
		"isBlacklisted(address)", "isBlackListed(address)", "blacklisted(address)", "isInBlacklist(address)",
	}
	whitelistAddrSigs = []string{
		"isWhitelisted(address)", "whitelisted(address)",
	}
	onlyWhitelistGlobalSigs = []string{
		"onlyWhitelisted()", "whitelistEnabled()",
	}
	transferDisabledGlobalSigs = []string{
		"transferDisabled()", "isTransferDisabled()", "transfersPaused()",
	}
)

func sel(sig string) []byte {
	h := gethcrypto.Keccak256([]byte(sig))
	return h[:4]
}

// CheckPaused probes the pause signatures one by one. known reports whether
// any probe answered at all.
func CheckPaused(ctx context.Context, ec *ethclient.Client, token common.Address) (known, paused bool, err error) {
	for _, p := range pausedProbes {
		res, e := callWithRetry(ctx, ec, ethereum.CallMsg{To: &token, Data: sel(p.sig)})
		if e != nil || len(res) == 0 {
			continue
		}
		set := res[len(res)-1] == 1
		if p.invert {
			return true, !set, nil
		}
		return true, set, nil
	}
	return false, false, nil
}

// Restrictions aggregates the transfer guards a token may enforce against
// the executor/recipient pair.
type Restrictions struct {
	Paused           bool
	TransferDisabled bool
	OnlyWhitelisted  bool
	FromWhitelisted  *bool
	ToWhitelisted    *bool
	BlacklistedFrom  bool
	BlacklistedTo    bool
}

// Blocked reports whether the transfer cannot go through as-is.
func (r Restrictions) Blocked() bool {
	if r.Paused || r.TransferDisabled || r.BlacklistedFrom || r.BlacklistedTo {
		return true
	}
	if r.OnlyWhitelisted {
		if r.FromWhitelisted != nil && !*r.FromWhitelisted {
			return true
		}
		if r.ToWhitelisted != nil && !*r.ToWhitelisted {
			return true
		}
	}
	return false
}

// Summary renders the active guards for the log stream.
func (r Restrictions) Summary() string {
	var parts []string
	if r.Paused {
		parts = append(parts, "paused")
	}
	if r.TransferDisabled {
		parts = append(parts, "transferDisabled")
	}
	if r.BlacklistedFrom {
		parts = append(parts, "from:blacklisted")
	}
	if r.BlacklistedTo {
		parts = append(parts, "to:blacklisted")
	}
	if r.OnlyWhitelisted {
		render := func(v *bool) string {
			if v == nil {
				return "unknown"
			}
			if *v {
				return "yes"
			}
			return "no"
		}
		parts = append(parts, fmt.Sprintf("whitelist:on (from=%s,to=%s)", render(r.FromWhitelisted), render(r.ToWhitelisted)))
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}

// CheckRestrictions probes pause, transfer-disable, whitelist and blacklist
// state for a from->to transfer. Probes that no contract answers are
// treated as absent; the guard is best-effort and errs on the permissive
// side.
func CheckRestrictions(ctx context.Context, ec *ethclient.Client, token, from, to common.Address) (Restrictions, error) {
	var out Restrictions

	if known, paused, _ := CheckPaused(ctx, ec, token); known && paused {
		out.Paused = true
		return out, nil
	}

	call := func(data []byte) ([]byte, bool) {
		res, err := callWithRetry(ctx, ec, ethereum.CallMsg{To: &token, Data: data})
		if err != nil || len(res) == 0 {
			return nil, false
		}
		return res, true
	}
	boolOf := func(b []byte) bool {
		return len(b) > 0 && b[len(b)-1] == 1
	}

	for _, s := range transferDisabledGlobalSigs {
		if ret, ok := call(sel(s)); ok && boolOf(ret) {
			out.TransferDisabled = true
			return out, nil
		}
	}
	for _, s := range onlyWhitelistGlobalSigs {
		if ret, ok := call(sel(s)); ok && boolOf(ret) {
			out.OnlyWhitelisted = true
			break
		}
	}

	whitelisted := func(addr common.Address) *bool {
		for _, s := range whitelistAddrSigs {
			data := append(sel(s), common.LeftPadBytes(addr.Bytes(), 32)...)
			if ret, ok := call(data); ok {
				v := boolOf(ret)
				return &v
			}
		}
		return nil
	}
	if out.OnlyWhitelisted {
		out.FromWhitelisted = whitelisted(from)
		out.ToWhitelisted = whitelisted(to)
	}

	blacklisted := func(addr common.Address) bool {
		for _, s := range blacklistAddrSigs {
			data := append(sel(s), common.LeftPadBytes(addr.Bytes(), 32)...)
			if ret, ok := call(data); ok && boolOf(ret) {
				return true
			}
		}
		return false
	}
	out.BlacklistedFrom = blacklisted(from)
	out.BlacklistedTo = blacklisted(to)

	return out, nil
}

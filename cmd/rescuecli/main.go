package main

import (
	"bufio"
	"context"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ligun0805/token-rescue/internal/chain"
	"github.com/ligun0805/token-rescue/internal/config"
	"github.com/ligun0805/token-rescue/internal/erc20"
	"github.com/ligun0805/token-rescue/internal/log"
	"github.com/ligun0805/token-rescue/internal/rescue"
	"github.com/ligun0805/token-rescue/internal/signer"
)

func main() {
	_ = godotenv.Load()
	_ = godotenv.Overload(".env.local")

	ctx := context.Background()
	cfg := config.Load()
	logger := log.NewLogger()
	reader := bufio.NewReader(os.Stdin)

	if cfg.MetricsPort != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(":"+cfg.MetricsPort, mux); err != nil {
				logger.Error().Msgf("metrics listener: %v", err)
			}
		}()
	}

	// Keys. Prompt with hidden input when the env leaves them out.
	sponsorHex := cfg.SponsorPKHex
	if sponsorHex == "" {
		sponsorHex = readPassword("Sponsor private key: ")
	}
	sponsorKey, err := signer.ParseKey(sponsorHex)
	if err != nil {
		die("bad sponsor private key: " + err.Error())
	}
	executorHex := cfg.ExecutorPKHex
	if executorHex == "" {
		executorHex = readPassword("Compromised (executor) private key: ")
	}
	executorKey, err := signer.ParseKey(executorHex)
	if err != nil {
		die("bad executor private key: " + err.Error())
	}
	sponsorAddr := signer.Address(sponsorKey)
	executorAddr := signer.Address(executorKey)

	recipientHex := cfg.RecipientHex
	if recipientHex == "" {
		recipientHex = readLine(reader, "Recipient address [ENTER = sponsor]: ")
		if recipientHex == "" {
			recipientHex = sponsorAddr.Hex()
		}
	}
	if !common.IsHexAddress(recipientHex) {
		die("bad recipient address: " + recipientHex)
	}
	recipient := common.HexToAddress(recipientHex)

	primary, err := chain.Dial(cfg.PrimaryRPC, logger)
	if err != nil {
		die("dial primary RPC: " + err.Error())
	}
	if cfg.ReceiptWindowS > 0 {
		primary.SetReceiptWindow(time.Duration(cfg.ReceiptWindowS) * time.Second)
	}
	var private []chain.Broadcaster
	for _, url := range cfg.PrivateRPCs {
		pe, err := chain.DialPrivate(url, logger)
		if err != nil {
			logger.Warning().Str("endpoint", url).Msgf("skipping private RPC: %v", err)
			continue
		}
		private = append(private, pe)
	}

	chainID, err := primary.ChainID(ctx)
	if err != nil {
		die("chain id: " + err.Error())
	}
	sponsorBal, _ := primary.Balance(ctx, sponsorAddr)

	fmt.Println("=== CONFIG (.env) ===")
	fmt.Println("RPC_URL             :", cfg.PrimaryRPC)
	fmt.Println("PRIVATE_RPC_URLS    :", strings.Join(cfg.PrivateRPCs, ","))
	fmt.Println("CHAIN_ID            :", chainID.String())
	fmt.Println("SPONSOR_PRIVATE_KEY :", maskHex(sponsorHex))
	fmt.Println("  -> Sponsor addr   :", sponsorAddr.Hex())
	fmt.Println("  -> Sponsor balance:", formatEther(sponsorBal), "ETH")
	fmt.Println("Executor addr       :", executorAddr.Hex())
	fmt.Println("Recipient           :", recipient.Hex())
	fmt.Println("Priority fee (gwei) :", formatGwei(gweiToWei(cfg.PriorityFeeGwei)))
	fmt.Println("Max fee (gwei)      :", formatGwei(gweiToWei(cfg.MaxFeeGwei)))
	fmt.Println("=====================")

	// EIP-7702 probe: a delegated executor carries code, which changes the
	// funding tx gas limit.
	executorCode, err := primary.Code(ctx, executorAddr)
	if err != nil {
		die("code probe: " + err.Error())
	}
	executorIsContract := len(executorCode) > 0
	if executorIsContract {
		fmt.Println("  [*] Executor carries delegated code (EIP-7702)")
	}

	calls := buildTransferCalls(ctx, reader, primary, cfg, executorAddr, recipient)
	if len(calls) == 0 {
		die("nothing to rescue: no token with a non-zero balance")
	}

	priorityFee := gweiToWei(cfg.PriorityFeeGwei)
	maxFee := gweiToWei(cfg.MaxFeeGwei)

	// Pre-flight funds check: the sponsor must cover funding value plus the
	// funding tx's own gas at the planned cap. Refuse before the
	// orchestrator runs.
	if err := checkSponsorFunds(ctx, primary, sponsorBal, calls, priorityFee, maxFee, executorIsContract); err != nil {
		die(err.Error())
	}

	if !yes(strings.ToLower(readLine(reader, fmt.Sprintf("Rescue %d transfer(s) now? [y/N]: ", len(calls))))) {
		die("aborted")
	}

	result, err := rescue.Rescue(ctx, rescue.Config{
		Primary:            primary,
		Private:            private,
		ExecutorKey:        executorKey,
		SponsorKey:         sponsorKey,
		Calls:              calls,
		PriorityFee:        priorityFee,
		MaxFee:             maxFee,
		ExecutorIsContract: executorIsContract,
		Log:                logger,
	})
	if err != nil {
		die(err.Error())
	}

	printResult(result)
	if !result.Success {
		os.Exit(1)
	}
}

// buildTransferCalls discovers token balances and produces the ordered call
// list: transfer(recipient, fullBalance) per token, gas estimated with a
// conservative fallback when the node refuses (executor holds no ETH yet).
func buildTransferCalls(ctx context.Context, reader *bufio.Reader, primary *chain.Endpoint, cfg config.Settings, executorAddr, recipient common.Address) []rescue.TransferCall {
	tokens := cfg.TokenAddrs
	if len(tokens) == 0 {
		tokens = strings.Split(readLine(reader, "Token addresses (CSV): "), ",")
	}

	ec := primary.Client()
	var calls []rescue.TransferCall
	for _, raw := range tokens {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !common.IsHexAddress(raw) {
			die("bad token address: " + raw)
		}
		token := common.HexToAddress(raw)

		dec := erc20.Decimals(ctx, ec, token)
		sym := erc20.Symbol(ctx, ec, token)
		bal, err := erc20.BalanceOf(ctx, ec, token, executorAddr)
		if err != nil {
			fmt.Printf("  [!] %s: balanceOf failed (%v) — skipping\n", token.Hex(), err)
			continue
		}
		if bal.Sign() == 0 {
			fmt.Printf("  [-] %s %s: zero balance — skipping\n", token.Hex(), sym)
			continue
		}
		fmt.Printf("  [+] %s %s: balance %s\n", token.Hex(), sym, formatTokens(bal, dec))

		// Restriction guard: a paused/blacklisted/whitelist-gated token would
		// revert and waste the sponsor's funding, so it leaves the bundle.
		if restr, err := erc20.CheckRestrictions(ctx, ec, token, executorAddr, recipient); err == nil && restr.Blocked() {
			fmt.Printf("      [X] restricted (%s) — skipping\n", restr.Summary())
			continue
		}

		if ok, why, err := erc20.PreflightTransfer(ctx, ec, token, executorAddr, recipient, bal); err == nil && !ok {
			fmt.Printf("      [!] transfer preflight: %s — keeping it in the bundle anyway\n", why)
		}

		calldata := erc20.EncodeTransfer(recipient, bal)
		gasLimit := uint64(rescue.DefaultTransferGas)
		if est, err := primary.EstimateGas(ctx, chain.CallMsg{From: executorAddr, To: token, Data: calldata}); err == nil && est > 0 {
			gasLimit = est
		} else if err != nil {
			// expected while the executor holds no native balance
			fmt.Printf("      [*] estimateGas failed (%v) — fallback gas=%d\n", err, gasLimit)
		}

		calls = append(calls, rescue.TransferCall{To: token, Calldata: calldata, GasLimit: gasLimit})
	}
	return calls
}

// checkSponsorFunds refuses to start when the sponsor balance cannot cover
// funding value + funding gas at the attempt-1 fee quote.
func checkSponsorFunds(ctx context.Context, primary *chain.Endpoint, sponsorBal *big.Int, calls []rescue.TransferCall, priorityFee, maxFee *big.Int, executorIsContract bool) error {
	head, err := primary.LatestHeader(ctx)
	if err != nil {
		return fmt.Errorf("funds check: %v", err)
	}
	floor := new(big.Int).Mul(head.BaseFee, big.NewInt(2))
	floor.Add(floor, priorityFee)
	effective := new(big.Int).Set(maxFee)
	feeCap := new(big.Int).Mul(big.NewInt(rescue.MaxFeeCapGwei), big.NewInt(1_000_000_000))
	if effective.Cmp(feeCap) > 0 {
		effective = feeCap
	}
	if effective.Cmp(floor) < 0 {
		effective = floor
	}

	totalGas := uint64(0)
	for _, c := range calls {
		totalGas += c.GasLimit
	}
	fundingGas := uint64(rescue.FundingGasEOA)
	if executorIsContract {
		fundingGas = rescue.FundingGasDelegated
	}
	need := new(big.Int).Mul(new(big.Int).SetUint64(totalGas+fundingGas), effective)
	if sponsorBal == nil || sponsorBal.Cmp(need) < 0 {
		return fmt.Errorf("insufficient sponsor balance: need >= %s ETH, have %s ETH",
			formatEther(need), formatEther(sponsorBal))
	}
	return nil
}

func printResult(r *rescue.Result) {
	fmt.Println("=== RESULT ===")
	if r.FundingHash != nil {
		fmt.Println("funding tx :", r.FundingHash.Hex())
	}
	for i, h := range r.TransferHashes {
		fmt.Printf("transfer %d : %s\n", i, h.Hex())
	}
	if r.Success {
		fmt.Printf("rescued in %d attempt(s)\n", r.Attempts)
	} else {
		fmt.Printf("FAILED after %d attempt(s): %s\n", r.Attempts, r.LastError)
	}
	fmt.Println("==============")
}

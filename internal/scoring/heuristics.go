package scoring

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/mbd888/txsentinel/internal/chain"
)

// Known flash-loan event signature topics. Read-only after init.
var flashLoanTopics = map[string]struct{}{
	"0x0d3648bd0f6ba80134a33ba9275ac585d9d315f0ad8355cddefde31afa28d0e9": {}, // Aave V2 FlashLoan
	"0x668357d96ad1aefac431bd09379a808ce82d4de6fd57d06f2dbce9df0b20b002": {}, // Aave V3 FlashLoan
	"0x3bf4f32020bfe69d137e446fdcb4172018122468b28043650fd752672eb65e29": {}, // Balancer FlashLoan
	"0x3659d15bd4bb92ab352a8d35bc3119ec6e7e0ab48e4d46201c8a28e02b6a8a86": {}, // DyDx style FlashLoan
	"0x93ca6fb053a3a5322256122f2ddca24108629fd4895725364e3c65fbec910a97": {}, // Generic FlashLoan variant
	"0x0d7d75e01ab95780d3cd1c8ec0dd6c2ce19e3a20427eec8bf53283b6fb8e95f0": {}, // Simple flash loan
}

// DetectFlashLoan scans receipt log topics against the known flash-loan event
// signatures. It returns the deduplicated, lower-cased emitter addresses on a
// match, and nil when no log matches — absence means "no signal" and must be
// omitted from the payload, never encoded as present:false.
func DetectFlashLoan(logs []chain.Log) *FlashLoanSignal {
	if len(logs) == 0 {
		return nil
	}

	seen := make(map[string]struct{})
	var providers []string
	for _, log := range logs {
		if len(log.Topics) == 0 {
			continue
		}
		topic0 := strings.ToLower(log.Topics[0])
		if _, ok := flashLoanTopics[topic0]; !ok {
			continue
		}
		addr := strings.ToLower(log.Address)
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		providers = append(providers, addr)
	}

	if len(providers) == 0 {
		return nil
	}
	return &FlashLoanSignal{Present: true, Providers: providers}
}

// buildDexRoute reconstructs swap insight for a transaction. The decoded swap
// path wins when present; otherwise a best-effort path is derived from token
// transfers. Returns nil when there is no swap metadata and no usable path.
//
// priceImpactBps compares the declared minimum output against the actual
// output summed from observed transfers. That reconstruction is an
// approximation, not the DEX's true execution price; treat it as a heuristic
// signal only.
func buildDexRoute(sender string, transfers []chain.TokenTransfer, meta *SwapMetadata, symbols map[string]string) *DexRoute {
	sender = strings.ToLower(sender)

	var path []string
	if meta != nil && len(meta.Path) > 0 {
		path = meta.Path
	} else {
		path = derivePathFromTransfers(transfers, sender)
	}
	if meta == nil && len(path) < 2 {
		return nil
	}

	route := &DexRoute{Path: path}
	if len(path) == 0 {
		route.Path = nil
	}

	recipient := sender
	if meta != nil && meta.Recipient != "" {
		recipient = meta.Recipient
	}
	route.Recipient = recipient

	var firstToken, lastToken string
	if len(path) > 0 {
		firstToken = path[0]
		lastToken = path[len(path)-1]
	}

	var amountIn *big.Int
	if meta != nil && meta.AmountIn != "" {
		amountIn, _ = new(big.Int).SetString(meta.AmountIn, 10)
	}
	if amountIn == nil && firstToken != "" {
		amountIn = sumTransfers(transfers, func(t chain.TokenTransfer) bool {
			return strings.ToLower(t.Token) == firstToken && strings.ToLower(t.From) == sender
		})
	}

	var amountOut *big.Int
	if lastToken != "" {
		amountOut = sumTransfers(transfers, func(t chain.TokenTransfer) bool {
			return strings.ToLower(t.Token) == lastToken && strings.ToLower(t.To) == recipient
		})
	}

	if amountIn != nil {
		route.AmountIn = amountIn.String()
	} else if meta != nil {
		route.AmountIn = meta.AmountIn
	}
	if amountOut != nil {
		route.AmountOut = amountOut.String()
	}
	if meta != nil {
		route.MinAmountOut = meta.MinAmountOut
	}

	if route.MinAmountOut != "" && amountOut != nil {
		if minOut, ok := new(big.Int).SetString(route.MinAmountOut, 10); ok && minOut.Sign() > 0 {
			diff := new(big.Int).Sub(minOut, amountOut)
			if diff.Sign() < 0 {
				diff.SetInt64(0)
			}
			bps := new(big.Int).Div(new(big.Int).Mul(diff, big.NewInt(10000)), minOut)
			impact := int(bps.Int64())
			route.PriceImpactBps = &impact
		}
	}

	if len(path) > 0 {
		names := make([]string, len(path))
		for i, token := range path {
			if sym, ok := symbols[token]; ok && sym != "" {
				names[i] = sym
			} else {
				names[i] = shortenAddress(token)
			}
		}
		route.RouteSummary = strings.Join(names, " -> ")

		hops := len(path) - 1
		if hops < 0 {
			hops = 0
		}
		route.SwapCount = &hops
	}

	return route
}

// derivePathFromTransfers partitions transfers into tokens sent by the sender
// (outbound) and tokens received by the sender (inbound), deduplicates per
// token, and concatenates outbound-then-inbound.
func derivePathFromTransfers(transfers []chain.TokenTransfer, sender string) []string {
	if len(transfers) == 0 {
		return nil
	}

	var outbound, inbound []string
	for _, t := range transfers {
		token := strings.ToLower(t.Token)
		if token == "" {
			continue
		}
		switch {
		case sender != "" && strings.ToLower(t.From) == sender:
			if !containsString(outbound, token) {
				outbound = append(outbound, token)
			}
		case sender != "" && strings.ToLower(t.To) == sender:
			if !containsString(inbound, token) {
				inbound = append(inbound, token)
			}
		}
	}

	path := outbound
	for _, token := range inbound {
		if !containsString(outbound, token) {
			path = append(path, token)
		}
	}
	return path
}

// sumTransfers totals the amounts of transfers matching the predicate.
// Returns nil when nothing matched, so callers can tell "zero" from "unknown".
func sumTransfers(transfers []chain.TokenTransfer, match func(chain.TokenTransfer) bool) *big.Int {
	var total *big.Int
	for _, t := range transfers {
		if t.Amount == nil || !match(t) {
			continue
		}
		if total == nil {
			total = new(big.Int)
		}
		total.Add(total, t.Amount)
	}
	return total
}

// computeFeePaid returns gasUsed * effectiveGasPrice (falling back to
// gasPrice) as a decimal string, or "" when either operand is unknown.
func computeFeePaid(receipt *chain.Receipt) string {
	if receipt == nil || receipt.GasUsed == nil {
		return ""
	}
	price := receipt.EffectiveGasPrice
	if price == nil {
		price = receipt.GasPrice
	}
	if price == nil {
		return ""
	}
	return new(big.Int).Mul(receipt.GasUsed, price).String()
}

func shortenAddress(address string) string {
	if len(address) < 10 {
		return address
	}
	return fmt.Sprintf("%s…%s", address[:6], address[len(address)-4:])
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

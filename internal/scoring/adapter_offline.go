package scoring

import (
	"context"
	"fmt"
)

// Offline rule thresholds and constants. Fixed, not learned.
const (
	offlineAdapterName    = "rules-offline"
	offlineModelVersion   = "poc-v1"
	concernImpactBps      = 1500
	suspiciousImpactBps   = 800
	impactSeverityDivisor = 2000.0
)

// RulesAdapter is the deterministic offline scorer: a pure function of the
// feature payload that needs no network access and never fails. It is the
// guaranteed fallback when no remote model is configured.
type RulesAdapter struct{}

// NewRulesAdapter creates the offline rule-engine adapter.
func NewRulesAdapter() *RulesAdapter {
	return &RulesAdapter{}
}

// Name implements Adapter.
func (a *RulesAdapter) Name() string { return offlineAdapterName }

// Score implements Adapter.
//
// Verdict table: security_concern when a flash loan is present and price
// impact exceeds 1500 bps; suspicious above 800 bps; normal otherwise.
func (a *RulesAdapter) Score(_ context.Context, req *ScoreRequest) (*Envelope, error) {
	results := make([]ResponseItem, 0, len(req.Transactions))
	for _, tx := range req.Transactions {
		verdict := deriveVerdict(tx.Payload)

		overall := 0.6
		if verdict == VerdictNormal {
			overall = 0.2
		}

		results = append(results, ResponseItem{
			TxHash:      tx.TxHash,
			Verdict:     verdict,
			Confidence:  ResultConfidence{Overall: overall},
			Descriptors: buildRuleDescriptors(tx.Payload),
		})
	}

	return &Envelope{
		RequestHash: req.RequestHash,
		Model:       ModelInfo{Name: offlineAdapterName, Version: offlineModelVersion},
		Results:     results,
	}, nil
}

func deriveVerdict(payload *FeaturePayload) Verdict {
	impact := 0
	if payload != nil && payload.DexRoute != nil && payload.DexRoute.PriceImpactBps != nil {
		impact = *payload.DexRoute.PriceImpactBps
	}
	flashLoan := payload != nil && payload.FlashLoan != nil && payload.FlashLoan.Present

	switch {
	case flashLoan && impact > concernImpactBps:
		return VerdictSecurityConcern
	case impact > suspiciousImpactBps:
		return VerdictSuspicious
	default:
		return VerdictNormal
	}
}

func buildRuleDescriptors(payload *FeaturePayload) []ModelDescriptor {
	descriptors := []ModelDescriptor{}
	if payload == nil {
		return descriptors
	}

	if payload.DexRoute != nil && payload.DexRoute.PriceImpactBps != nil && *payload.DexRoute.PriceImpactBps != 0 {
		impact := *payload.DexRoute.PriceImpactBps
		descriptors = append(descriptors, ModelDescriptor{
			ID:         "dex.high_price_impact",
			Severity:   clamp01(float64(impact) / impactSeverityDivisor),
			Confidence: 0.5,
			Why:        fmt.Sprintf("Price impact %.2f%%", float64(impact)/100),
		})
	}

	if payload.FlashLoan != nil && payload.FlashLoan.Present {
		descriptors = append(descriptors, ModelDescriptor{
			ID:         "flash.loan_detected",
			Severity:   0.7,
			Confidence: 0.6,
			Why:        "Flash-loan pattern observed in execution trace.",
		})
	}

	return descriptors
}

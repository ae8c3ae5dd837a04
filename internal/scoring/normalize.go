package scoring

import "time"

// NormalizerVersion stamps every normalized score so downstream consumers can
// tell which clamping/bucketing rules produced it.
const NormalizerVersion = "tx-risk-normalizer/poc-v1"

// Human labels for the known descriptor catalog; unknown ids fall back to the
// id itself.
var descriptorLabels = map[string]string{
	"dex.high_price_impact":      "High DEX price impact",
	"flash.loan_detected":        "Flash-loan pattern detected",
	"bridge.unknown_destination": "Unknown bridge destination",
}

// NormalizeEnvelope converts a validated model response into persisted score
// records, one per result, order-preserving. Confidences and severities are
// clamped into [0,1], severities bucketed, descriptor labels resolved, and
// version metadata stamped. Both timestamps carry the same instant: scoring
// is a single round trip and this layer does not track dispatch separately.
func NormalizeEnvelope(envelope *Envelope, featureVersion string) []*NormalizedScore {
	now := time.Now().UTC()

	scores := make([]*NormalizedScore, 0, len(envelope.Results))
	for _, result := range envelope.Results {
		descriptors := make([]NormalizedDescriptor, 0, len(result.Descriptors))
		for _, desc := range result.Descriptors {
			descriptors = append(descriptors, NormalizedDescriptor{
				ID:             desc.ID,
				Label:          descriptorLabel(desc.ID),
				SeverityScore:  clamp01(desc.Severity),
				SeverityBucket: severityBucket(desc.Severity),
				Confidence:     clamp01(desc.Confidence),
				Why:            desc.Why,
			})
		}

		score := &NormalizedScore{
			TxHash:            result.TxHash,
			RequestHash:       envelope.RequestHash,
			FeatureVersion:    featureVersion,
			NormalizerVersion: NormalizerVersion,
			ModelName:         envelope.Model.Name,
			ModelVersion:      envelope.Model.Version,
			Verdict:           result.Verdict,
			ConfidenceOverall: clamp01(result.Confidence.Overall),
			Descriptors:       descriptors,
			RawResponse:       envelope,
			Status:            StatusOK,
			RequestedAt:       now,
			ReceivedAt:        now,
		}
		if result.Error != nil && *result.Error != "" {
			score.Status = StatusError
			score.Error = *result.Error
		}
		scores = append(scores, score)
	}

	return scores
}

func descriptorLabel(id string) string {
	if label, ok := descriptorLabels[id]; ok {
		return label
	}
	return id
}

func severityBucket(score float64) SeverityBucket {
	switch {
	case score < 0.34:
		return BucketLow
	case score < 0.67:
		return BucketMedium
	default:
		return BucketHigh
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

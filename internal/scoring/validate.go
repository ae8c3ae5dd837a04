package scoring

import (
	"encoding/json"
	"fmt"
)

// ValidateEnvelope structurally checks a raw decoded model response and
// returns the typed envelope. Any violation rejects the whole response —
// there is no partial acceptance of a malformed envelope. The offline
// adapter's output is constructed to satisfy this contract and skips
// validation.
func ValidateEnvelope(raw any) (*Envelope, error) {
	obj, ok := raw.(map[string]any)
	if !ok || obj == nil {
		return nil, fmt.Errorf("model response is not an object")
	}

	requestHash, ok := obj["request_hash"].(string)
	if !ok || requestHash == "" {
		return nil, fmt.Errorf("model response missing request_hash")
	}

	modelObj, ok := obj["model"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("model response missing model section")
	}
	modelName, nameOK := modelObj["name"].(string)
	modelVersion, versionOK := modelObj["version"].(string)
	if !nameOK || !versionOK {
		return nil, fmt.Errorf("model response missing model name/version")
	}

	rawResults, ok := obj["results"].([]any)
	if !ok {
		return nil, fmt.Errorf("model response results must be array")
	}

	results := make([]ResponseItem, 0, len(rawResults))
	for i, rawItem := range rawResults {
		item, err := validateResultItem(rawItem)
		if err != nil {
			return nil, fmt.Errorf("model response result %d: %w", i, err)
		}
		results = append(results, *item)
	}

	return &Envelope{
		RequestHash: requestHash,
		Model:       ModelInfo{Name: modelName, Version: modelVersion},
		Results:     results,
	}, nil
}

func validateResultItem(raw any) (*ResponseItem, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("not an object")
	}

	txHash, ok := obj["tx_hash"].(string)
	if !ok {
		return nil, fmt.Errorf("missing tx_hash")
	}

	verdict, ok := obj["verdict"].(string)
	if !ok || !ValidVerdict(verdict) {
		return nil, fmt.Errorf("invalid verdict %q", obj["verdict"])
	}

	confObj, ok := obj["confidence"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("missing confidence")
	}
	overall, ok := asNumber(confObj["overall"])
	if !ok {
		return nil, fmt.Errorf("confidence.overall must be a number")
	}

	rawDescriptors, ok := obj["descriptors"].([]any)
	if !ok {
		return nil, fmt.Errorf("descriptors must be array")
	}
	descriptors := make([]ModelDescriptor, 0, len(rawDescriptors))
	for i, rawDesc := range rawDescriptors {
		desc, err := validateDescriptor(rawDesc)
		if err != nil {
			return nil, fmt.Errorf("descriptor %d: %w", i, err)
		}
		descriptors = append(descriptors, *desc)
	}

	item := &ResponseItem{
		TxHash:      txHash,
		Verdict:     Verdict(verdict),
		Confidence:  ResultConfidence{Overall: overall},
		Descriptors: descriptors,
	}

	if rawErr, present := obj["error"]; present && rawErr != nil {
		errStr, ok := rawErr.(string)
		if !ok {
			return nil, fmt.Errorf("error must be a string or null")
		}
		item.Error = &errStr
	}

	return item, nil
}

func validateDescriptor(raw any) (*ModelDescriptor, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("not an object")
	}

	id, ok := obj["id"].(string)
	if !ok {
		return nil, fmt.Errorf("missing id")
	}
	severity, ok := asNumber(obj["severity"])
	if !ok {
		return nil, fmt.Errorf("missing severity")
	}
	confidence, ok := asNumber(obj["confidence"])
	if !ok {
		return nil, fmt.Errorf("missing confidence")
	}

	desc := &ModelDescriptor{ID: id, Severity: severity, Confidence: confidence}

	if rawWhy, present := obj["why"]; present {
		why, ok := rawWhy.(string)
		if !ok {
			return nil, fmt.Errorf("why must be a string")
		}
		desc.Why = why
	}

	return desc, nil
}

// asNumber accepts both float64 (default decoding) and json.Number.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

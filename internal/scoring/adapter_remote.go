package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const (
	remoteAdapterName    = "openai-http"
	defaultModelTimeout  = 15 * time.Second
	modelTemperature     = 0.1
	modelMaxOutputTokens = 1500
	requestCaller        = "txsentinel-ai-scorer"
)

// ErrNoJSONPayload is returned when no valid JSON payload can be located in
// the model's response envelope.
var ErrNoJSONPayload = errors.New("model response missing JSON schema output payload")

const systemPrompt = `You are an expert on-chain risk analyst for a blockchain explorer. For each transaction you receive:
- Determine an overall verdict: "normal", "suspicious", or "security_concern".
- Use severity and confidence scores in [0,1].
- Prefer known descriptor ids when they fit (dex.high_price_impact, flash.loan_detected, bridge.unknown_destination, contract.unverified_creation, address.watchlist_hit, protocol.sandwich_pattern, protocol.flash_loan_attack, protocol.bridge_anomaly, generic.unusual_value_transfer). Create new ids only if necessary, using kebab-case with a domain prefix (e.g. protocol.sandwich-pattern).
- Include concise "why" explanations referencing concrete evidence from the supplied features (addresses, selectors, price impact, etc.).
- Do not invent details not present in the features.
- If data is incomplete, mark verdict "suspicious" only with moderate confidence; use "security_concern" only with strong signals (e.g. flash loan + high price impact, known malicious addresses, suspicious bridge routes).
Respond strictly in the JSON schema provided.`

// RemoteAdapterOptions configures the HTTP model adapter.
type RemoteAdapterOptions struct {
	BaseURL      string
	APIKey       string
	Model        string
	Organization string
	Timeout      time.Duration
	HTTPClient   *http.Client // optional, defaults to http.DefaultClient
}

// RemoteAdapter scores transactions through an OpenAI-compatible HTTP model
// endpoint, constrained by a strict JSON response schema. Every response is
// run through ValidateEnvelope before it is trusted.
type RemoteAdapter struct {
	opts   RemoteAdapterOptions
	client *http.Client
}

// NewRemoteAdapter creates the HTTP model adapter.
func NewRemoteAdapter(opts RemoteAdapterOptions) *RemoteAdapter {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultModelTimeout
	}
	client := opts.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &RemoteAdapter{opts: opts, client: client}
}

// Name implements Adapter.
func (a *RemoteAdapter) Name() string { return remoteAdapterName }

// responseSchema is the JSON schema the model must answer in. Mirrors the
// Envelope shape with snake_case keys.
var responseSchema = map[string]any{
	"type":     "object",
	"required": []string{"request_hash", "model", "results"},
	"properties": map[string]any{
		"request_hash": map[string]any{"type": "string"},
		"model": map[string]any{
			"type":     "object",
			"required": []string{"name", "version"},
			"properties": map[string]any{
				"name":    map[string]any{"type": "string"},
				"version": map[string]any{"type": "string"},
			},
		},
		"results": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []string{"tx_hash", "verdict", "confidence", "descriptors"},
				"properties": map[string]any{
					"tx_hash": map[string]any{"type": "string"},
					"verdict": map[string]any{
						"type": "string",
						"enum": []string{"normal", "suspicious", "security_concern"},
					},
					"confidence": map[string]any{
						"type":     "object",
						"required": []string{"overall"},
						"properties": map[string]any{
							"overall": map[string]any{"type": "number"},
						},
					},
					"descriptors": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type":     "object",
							"required": []string{"id", "severity", "confidence"},
							"properties": map[string]any{
								"id":         map[string]any{"type": "string"},
								"severity":   map[string]any{"type": "number"},
								"confidence": map[string]any{"type": "number"},
								"why":        map[string]any{"type": "string"},
							},
						},
					},
					"error": map[string]any{"type": []string{"string", "null"}},
				},
			},
		},
	},
}

// Score implements Adapter. The call is bounded by the configured timeout;
// on expiry the in-flight request is aborted and the attempt fails with a
// context deadline error.
func (a *RemoteAdapter) Score(ctx context.Context, req *ScoreRequest) (*Envelope, error) {
	ctx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()

	userPayload, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal score request: %w", err)
	}

	body := map[string]any{
		"model":             a.opts.Model,
		"temperature":       modelTemperature,
		"max_output_tokens": modelMaxOutputTokens,
		"response_format": map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   "tx_ai_risk_response",
				"schema": responseSchema,
			},
		},
		"input": []map[string]any{
			{
				"role":    "system",
				"content": []map[string]any{{"type": "text", "text": systemPrompt}},
			},
			{
				"role":    "user",
				"content": []map[string]any{{"type": "text", "text": string(userPayload)}},
			},
		},
		"metadata": map[string]any{
			"request_hash": req.RequestHash,
			"caller":       requestCaller,
		},
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal model request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.opts.BaseURL+"/responses", bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("build model request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.opts.APIKey)
	if a.opts.Organization != "" {
		httpReq.Header.Set("OpenAI-Organization", a.opts.Organization)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("model request timed out after %s: %w", a.opts.Timeout, ctx.Err())
		}
		return nil, fmt.Errorf("model request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("model request failed with status %d", resp.StatusCode)
	}

	var raw struct {
		Output []struct {
			Type    string `json:"type"`
			Content []struct {
				Type string          `json:"type"`
				JSON json.RawMessage `json:"json"`
				Text string          `json:"text"`
			} `json:"content"`
		} `json:"output"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode model response: %w", err)
	}

	// Locate the schema-constrained JSON slot; fall back to a text block
	// parsed as JSON when the structured slot is absent.
	var payload json.RawMessage
	var textFallback string
	for _, item := range raw.Output {
		if item.Type != "output_json_schema" {
			continue
		}
		for _, part := range item.Content {
			switch part.Type {
			case "output_json_schema", "json":
				if payload == nil && len(part.JSON) > 0 {
					payload = part.JSON
				}
			case "text":
				if textFallback == "" {
					textFallback = part.Text
				}
			}
		}
	}

	if payload == nil && textFallback != "" {
		if !json.Valid([]byte(textFallback)) {
			return nil, fmt.Errorf("model response provided text output that is not valid JSON")
		}
		payload = json.RawMessage(textFallback)
	}
	if payload == nil {
		return nil, ErrNoJSONPayload
	}

	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("decode model JSON payload: %w", err)
	}

	return ValidateEnvelope(decoded)
}

// Package scoring assigns a machine-generated risk verdict to individual
// transactions and persists a normalized, versioned result keyed by
// transaction hash.
//
// The pipeline per transaction: decode calldata against a fixed registry of
// router swap signatures, derive heuristic signals (flash loans, route and
// price impact, fee paid), assemble a canonical feature payload, hash it for
// request identity, score it through a pluggable model adapter (remote LLM or
// offline rule engine), validate and normalize the response, and upsert the
// result. Enrichment failures degrade to absent fields; only adapter and
// validation failures abort a scoring attempt, and never the pipeline.
package scoring

import (
	"context"
	"errors"
	"time"

	"github.com/mbd888/txsentinel/internal/pagination"
)

// Verdict is the model's overall judgment of a transaction.
type Verdict string

const (
	VerdictNormal          Verdict = "normal"
	VerdictSuspicious      Verdict = "suspicious"
	VerdictSecurityConcern Verdict = "security_concern"
)

// ValidVerdict reports whether s is one of the three known verdicts.
func ValidVerdict(s string) bool {
	switch Verdict(s) {
	case VerdictNormal, VerdictSuspicious, VerdictSecurityConcern:
		return true
	}
	return false
}

// DecodedParam is one typed argument recovered from calldata. Value holds a
// JSON-friendly rendering: decimal strings for integers, lower-cased hex for
// addresses and byte data, nested slices for array arguments.
type DecodedParam struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// PayloadTransfer is a token transfer as it appears in the feature payload.
type PayloadTransfer struct {
	Standard  string `json:"standard"`
	From      string `json:"from"`
	To        string `json:"to"`
	Token     string `json:"token"`
	Amount    string `json:"amount,omitempty"`
	TokenID   string `json:"tokenId,omitempty"`
	Direction string `json:"direction,omitempty"`
}

// ContractMetadata describes a contract created by the transaction.
type ContractMetadata struct {
	AgeSeconds     int64   `json:"ageSeconds"`
	Verified       bool    `json:"verified"`
	BytecodeHash   *string `json:"bytecodeHash"`
	Implementation *string `json:"implementation"`
	ProxyType      *string `json:"proxyType"`
}

// AddressInfo carries optional enrichment about an address.
type AddressInfo struct {
	FirstSeenAt string   `json:"firstSeenAt,omitempty"`
	Labels      []string `json:"labels,omitempty"`
}

// AddressMetadata groups sender/recipient enrichment.
type AddressMetadata struct {
	From *AddressInfo `json:"from,omitempty"`
	To   *AddressInfo `json:"to,omitempty"`
}

// DexRoute is the reconstructed swap insight for a transaction. All fields
// are best-effort; anything unknown is omitted rather than zeroed so the
// request hash stays stable. PriceImpactBps is a heuristic comparing the
// declared minimum output against transfer-derived actual output, not the
// DEX's true execution price.
type DexRoute struct {
	RouteSummary   string   `json:"routeSummary,omitempty"`
	PriceImpactBps *int     `json:"priceImpactBps,omitempty"`
	Path           []string `json:"path,omitempty"`
	AmountIn       string   `json:"amountIn,omitempty"`
	AmountOut      string   `json:"amountOut,omitempty"`
	MinAmountOut   string   `json:"minAmountOut,omitempty"`
	Recipient      string   `json:"recipient,omitempty"`
	SwapCount      *int     `json:"swapCount,omitempty"`
}

// FlashLoanSignal marks flash-loan activity. A nil *FlashLoanSignal means
// "no signal" and is omitted from the payload entirely; it is never encoded
// as present:false.
type FlashLoanSignal struct {
	Present   bool     `json:"present"`
	Providers []string `json:"providers,omitempty"`
}

// BridgeMetadata describes cross-chain bridge involvement, when known.
type BridgeMetadata struct {
	BridgeID  string `json:"bridgeId,omitempty"`
	Direction string `json:"direction,omitempty"`
}

// CapturedLog is a bounded preview of one receipt log.
type CapturedLog struct {
	Address     string `json:"address"`
	Topic0      string `json:"topic0,omitempty"`
	Topic1      string `json:"topic1,omitempty"`
	Topic2      string `json:"topic2,omitempty"`
	Topic3      string `json:"topic3,omitempty"`
	DataPreview string `json:"dataPreview,omitempty"`
}

// FeaturePayload is the canonical, versioned description of one transaction
// submitted to the model. Invariants: every address and hex value is
// lower-cased, numeric chain values are decimal strings, and absent optional
// fields are omitted (never null placeholders) so hashing is deterministic.
type FeaturePayload struct {
	ChainID              string            `json:"chainId"`
	BlockNumber          string            `json:"blockNumber"`
	BlockTimestamp       string            `json:"blockTimestamp"`
	TxHash               string            `json:"txHash"`
	From                 string            `json:"from"`
	To                   *string           `json:"to"`
	Value                string            `json:"value"`
	Gas                  string            `json:"gas,omitempty"`
	GasPrice             string            `json:"gasPrice,omitempty"`
	MaxFeePerGas         string            `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas string            `json:"maxPriorityFeePerGas,omitempty"`
	Input                string            `json:"input"`
	FunctionSelector     string            `json:"functionSelector"`
	ReceiptStatus        *int              `json:"receiptStatus,omitempty"`
	GasUsed              string            `json:"gasUsed,omitempty"`
	CumulativeGasUsed    string            `json:"cumulativeGasUsed,omitempty"`
	EffectiveGasPrice    string            `json:"effectiveGasPrice,omitempty"`
	FeePaid              string            `json:"feePaid,omitempty"`
	Error                *string           `json:"error,omitempty"`
	RevertReason         *string           `json:"revertReason,omitempty"`
	Confirmations        *int              `json:"confirmations,omitempty"`
	DecodedParams        []DecodedParam    `json:"decodedParams"`
	TokenTransfers       []PayloadTransfer `json:"tokenTransfers"`
	IsContractCreation   bool              `json:"isContractCreation"`
	ContractMetadata     *ContractMetadata `json:"contractMetadata,omitempty"`
	AddressMetadata      AddressMetadata   `json:"addressMetadata"`
	DexRoute             *DexRoute         `json:"dexRoute,omitempty"`
	FlashLoan            *FlashLoanSignal  `json:"flashLoan,omitempty"`
	BridgeMetadata       *BridgeMetadata   `json:"bridgeMetadata,omitempty"`
	Logs                 []CapturedLog     `json:"logs"`
}

// RequestTransaction pairs a transaction hash with its feature payload.
type RequestTransaction struct {
	TxHash  string          `json:"tx_hash"`
	Payload *FeaturePayload `json:"features"`
}

// ScoreRequest is one scoring call to an adapter. RequestHash is derived
// solely from (featureVersion, txHash, payload); see RequestHash.
type ScoreRequest struct {
	FeatureVersion string               `json:"feature_version"`
	RequestHash    string               `json:"request_hash"`
	Transactions   []RequestTransaction `json:"transactions"`
}

// ModelDescriptor is one named risk signal in a model response. Severity and
// confidence are untrusted until validated and clamped.
type ModelDescriptor struct {
	ID         string  `json:"id"`
	Severity   float64 `json:"severity"`
	Confidence float64 `json:"confidence"`
	Why        string  `json:"why,omitempty"`
}

// ResultConfidence wraps the model's overall confidence for one result.
type ResultConfidence struct {
	Overall float64 `json:"overall"`
}

// ResponseItem is the model's judgment of one transaction.
type ResponseItem struct {
	TxHash      string            `json:"tx_hash"`
	Verdict     Verdict           `json:"verdict"`
	Confidence  ResultConfidence  `json:"confidence"`
	Descriptors []ModelDescriptor `json:"descriptors"`
	Error       *string           `json:"error,omitempty"`
}

// ModelInfo identifies the model that produced a response.
type ModelInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Envelope is the full model response for a score request.
type Envelope struct {
	RequestHash string         `json:"request_hash"`
	Model       ModelInfo      `json:"model"`
	Results     []ResponseItem `json:"results"`
}

// SeverityBucket is the coarse severity class of a normalized descriptor.
type SeverityBucket string

const (
	BucketLow    SeverityBucket = "low"
	BucketMedium SeverityBucket = "medium"
	BucketHigh   SeverityBucket = "high"
)

// NormalizedDescriptor is a descriptor after clamping and labeling.
type NormalizedDescriptor struct {
	ID             string         `json:"id"`
	Label          string         `json:"label"`
	SeverityScore  float64        `json:"severityScore"`
	SeverityBucket SeverityBucket `json:"severityBucket"`
	Confidence     float64        `json:"confidence"`
	Why            string         `json:"why,omitempty"`
}

// Score status values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// NormalizedScore is the persisted scoring record for one transaction.
// It is immutable after normalization; a re-score overwrites the prior
// record via upsert keyed by TxHash.
type NormalizedScore struct {
	TxHash            string                 `json:"txHash"`
	RequestHash       string                 `json:"requestHash"`
	FeatureVersion    string                 `json:"featureVersion"`
	NormalizerVersion string                 `json:"normalizerVersion"`
	ModelName         string                 `json:"modelName"`
	ModelVersion      string                 `json:"modelVersion"`
	Verdict           Verdict                `json:"verdict"`
	ConfidenceOverall float64                `json:"confidenceOverall"`
	Descriptors       []NormalizedDescriptor `json:"descriptors"`
	RawResponse       *Envelope              `json:"rawResponse,omitempty"`
	Status            string                 `json:"status"`
	Error             string                 `json:"error,omitempty"`
	RequestedAt       time.Time              `json:"requestedAt"`
	ReceivedAt        time.Time              `json:"receivedAt"`
}

// Adapter turns a score request into a model response envelope. The remote
// variant calls an LLM over HTTP; the offline variant is a deterministic rule
// engine that never fails.
type Adapter interface {
	Name() string
	Score(ctx context.Context, req *ScoreRequest) (*Envelope, error)
}

// ErrScoreNotFound is returned by stores when no score exists for a hash.
var ErrScoreNotFound = errors.New("risk score not found")

// Store persists normalized risk scores keyed by transaction hash.
type Store interface {
	Upsert(ctx context.Context, score *NormalizedScore) error
	GetByTxHash(ctx context.Context, txHash string) (*NormalizedScore, error)
	// ListRecent returns scores ordered by received_at descending, optionally
	// filtered by verdict, starting strictly after the cursor position.
	// Callers fetch limit+1 rows to detect whether more pages exist.
	ListRecent(ctx context.Context, verdict Verdict, limit int, cursor *pagination.Cursor) ([]*NormalizedScore, error)
}

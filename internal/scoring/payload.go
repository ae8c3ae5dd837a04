package scoring

import (
	"strings"

	"github.com/mbd888/txsentinel/internal/chain"
)

// maxCapturedLogs bounds the number of receipt logs carried in a payload.
const maxCapturedLogs = 12

// logDataPreviewLen keeps one 32-byte word of log data (plus 0x prefix).
const logDataPreviewLen = 66

// PayloadInput is the raw material for one feature payload. Optional fields
// left at their zero value degrade to absence in the payload — never to a
// sentinel that would alter the request hash.
type PayloadInput struct {
	ChainID              string
	BlockNumber          string
	BlockTimestamp       string
	TxHash               string
	From                 string
	To                   *string
	Value                string
	Gas                  string
	GasPrice             string
	MaxFeePerGas         string
	MaxPriorityFeePerGas string
	Data                 string
	DecodedParams        []DecodedParam
	TokenTransfers       []PayloadTransfer
	IsContractCreation   bool
	ContractMetadata     *ContractMetadata
	AddressMetadata      AddressMetadata
	DexRoute             *DexRoute
	FlashLoan            *FlashLoanSignal
	BridgeMetadata       *BridgeMetadata
	ReceiptStatus        *int
	GasUsed              string
	CumulativeGasUsed    string
	EffectiveGasPrice    string
	FeePaid              string
	Error                *string
	RevertReason         *string
	Confirmations        *int
	Logs                 []chain.Log
}

// BuildPayload assembles the canonical feature payload: identifiers
// lower-cased, captured logs truncated, the function selector derived from
// calldata. Pure assembly; it never fails on missing optional data.
func BuildPayload(in PayloadInput) *FeaturePayload {
	rawInput := "0x"
	if in.Data != "" {
		rawInput = strings.ToLower(in.Data)
	}
	selector := rawInput
	if len(rawInput) > 10 {
		selector = rawInput[:10]
	}

	var to *string
	if in.To != nil {
		lowered := strings.ToLower(*in.To)
		to = &lowered
	}

	transfers := make([]PayloadTransfer, len(in.TokenTransfers))
	for i, t := range in.TokenTransfers {
		t.From = strings.ToLower(t.From)
		t.To = strings.ToLower(t.To)
		t.Token = strings.ToLower(t.Token)
		transfers[i] = t
	}

	logs := in.Logs
	if len(logs) > maxCapturedLogs {
		logs = logs[:maxCapturedLogs]
	}
	captured := make([]CapturedLog, len(logs))
	for i, log := range logs {
		entry := CapturedLog{Address: strings.ToLower(log.Address)}
		topics := []*string{&entry.Topic0, &entry.Topic1, &entry.Topic2, &entry.Topic3}
		for j, topic := range log.Topics {
			if j >= len(topics) {
				break
			}
			*topics[j] = strings.ToLower(topic)
		}
		if log.Data != "" {
			preview := log.Data
			if len(preview) > logDataPreviewLen {
				preview = preview[:logDataPreviewLen]
			}
			entry.DataPreview = preview
		}
		captured[i] = entry
	}

	params := in.DecodedParams
	if params == nil {
		params = []DecodedParam{}
	}

	return &FeaturePayload{
		ChainID:              in.ChainID,
		BlockNumber:          in.BlockNumber,
		BlockTimestamp:       in.BlockTimestamp,
		TxHash:               in.TxHash,
		From:                 strings.ToLower(in.From),
		To:                   to,
		Value:                in.Value,
		Gas:                  in.Gas,
		GasPrice:             in.GasPrice,
		MaxFeePerGas:         in.MaxFeePerGas,
		MaxPriorityFeePerGas: in.MaxPriorityFeePerGas,
		Input:                rawInput,
		FunctionSelector:     selector,
		ReceiptStatus:        in.ReceiptStatus,
		GasUsed:              in.GasUsed,
		CumulativeGasUsed:    in.CumulativeGasUsed,
		EffectiveGasPrice:    in.EffectiveGasPrice,
		FeePaid:              in.FeePaid,
		Error:                in.Error,
		RevertReason:         in.RevertReason,
		Confirmations:        in.Confirmations,
		DecodedParams:        params,
		TokenTransfers:       transfers,
		IsContractCreation:   in.IsContractCreation,
		ContractMetadata:     in.ContractMetadata,
		AddressMetadata:      in.AddressMetadata,
		DexRoute:             in.DexRoute,
		FlashLoan:            in.FlashLoan,
		BridgeMetadata:       in.BridgeMetadata,
		Logs:                 captured,
	}
}

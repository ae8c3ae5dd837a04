package scoring

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/txsentinel/internal/chain"
)

func TestBuildPayload_Defaults(t *testing.T) {
	payload := BuildPayload(PayloadInput{
		ChainID: "0x1",
		TxHash:  "0xabc",
		From:    "0x1111",
	})

	assert.Equal(t, "0x", payload.Input)
	assert.Equal(t, "0x", payload.FunctionSelector)
	assert.Nil(t, payload.To)
	assert.NotNil(t, payload.DecodedParams)
	assert.Empty(t, payload.DecodedParams)
	assert.Empty(t, payload.Logs)
}

func TestBuildPayload_SelectorFromCalldata(t *testing.T) {
	payload := BuildPayload(PayloadInput{
		Data: "0x38ED1739000000000000000000000000000000000000000000000000000000000007a120",
	})

	assert.Equal(t, "0x38ed1739", payload.FunctionSelector)
	assert.Equal(t, strings.ToLower("0x38ED1739000000000000000000000000000000000000000000000000000000000007a120"), payload.Input)
}

func TestBuildPayload_ShortCalldataIsItsOwnSelector(t *testing.T) {
	payload := BuildPayload(PayloadInput{Data: "0x38ed17"})
	assert.Equal(t, "0x38ed17", payload.FunctionSelector)
}

func TestBuildPayload_LowercasesAddresses(t *testing.T) {
	to := "0xABCDEF0123456789abcdef0123456789ABCDEF01"
	payload := BuildPayload(PayloadInput{
		From: "0x1111111111111111111111111111111111111111",
		To:   &to,
		TokenTransfers: []PayloadTransfer{
			{From: "0xAAAA", To: "0xBBBB", Token: "0xCCCC"},
		},
	})

	require.NotNil(t, payload.To)
	assert.Equal(t, strings.ToLower(to), *payload.To)
	assert.Equal(t, "0xaaaa", payload.TokenTransfers[0].From)
	assert.Equal(t, "0xbbbb", payload.TokenTransfers[0].To)
	assert.Equal(t, "0xcccc", payload.TokenTransfers[0].Token)
}

func TestBuildPayload_TruncatesLogs(t *testing.T) {
	logs := make([]chain.Log, 20)
	for i := range logs {
		logs[i] = chain.Log{Address: "0xAAAA", Topics: []string{"0xT0", "0xT1"}}
	}

	payload := BuildPayload(PayloadInput{Logs: logs})

	assert.Len(t, payload.Logs, maxCapturedLogs)
	assert.Equal(t, "0xaaaa", payload.Logs[0].Address)
	assert.Equal(t, "0xt0", payload.Logs[0].Topic0)
	assert.Equal(t, "0xt1", payload.Logs[0].Topic1)
	assert.Empty(t, payload.Logs[0].Topic2)
}

func TestBuildPayload_LogDataPreviewBounded(t *testing.T) {
	longData := "0x" + strings.Repeat("ab", 200)
	payload := BuildPayload(PayloadInput{
		Logs: []chain.Log{{Address: "0xaaaa", Data: longData}},
	})

	require.Len(t, payload.Logs, 1)
	assert.Len(t, payload.Logs[0].DataPreview, logDataPreviewLen)
	assert.Equal(t, longData[:logDataPreviewLen], payload.Logs[0].DataPreview)
}

func TestBuildPayload_ContractCreation(t *testing.T) {
	ref := "hash:1024"
	payload := BuildPayload(PayloadInput{
		IsContractCreation: true,
		ContractMetadata:   &ContractMetadata{BytecodeHash: &ref},
	})

	assert.True(t, payload.IsContractCreation)
	assert.Nil(t, payload.To)
	require.NotNil(t, payload.ContractMetadata)
	assert.Equal(t, "hash:1024", *payload.ContractMetadata.BytecodeHash)
	assert.Nil(t, payload.ContractMetadata.Implementation)
}

package chain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addressTopic(addr string) common.Hash {
	return common.BytesToHash(common.HexToAddress(addr).Bytes())
}

func word(v int64) []byte {
	return common.BigToHash(big.NewInt(v)).Bytes()
}

func TestExtractTokenTransfers_ERC20(t *testing.T) {
	logs := []*types.Log{{
		Address: common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
		Topics: []common.Hash{
			transferEventSig,
			addressTopic("0x1111111111111111111111111111111111111111"),
			addressTopic("0x2222222222222222222222222222222222222222"),
		},
		Data: word(1500000),
	}}

	transfers := ExtractTokenTransfers(logs)
	require.Len(t, transfers, 1)

	tr := transfers[0]
	assert.Equal(t, StandardERC20, tr.Standard)
	assert.Equal(t, "0x1111111111111111111111111111111111111111", tr.From)
	assert.Equal(t, "0x2222222222222222222222222222222222222222", tr.To)
	assert.Equal(t, "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", tr.Token)
	assert.Equal(t, int64(1500000), tr.Amount.Int64())
	assert.Nil(t, tr.TokenID)
}

func TestExtractTokenTransfers_ERC721(t *testing.T) {
	logs := []*types.Log{{
		Address: common.HexToAddress("0xBC4CA0EdA7647A8aB7C2061c2E118A18a936f13D"),
		Topics: []common.Hash{
			transferEventSig,
			addressTopic("0x1111111111111111111111111111111111111111"),
			addressTopic("0x2222222222222222222222222222222222222222"),
			common.BigToHash(big.NewInt(7777)),
		},
	}}

	transfers := ExtractTokenTransfers(logs)
	require.Len(t, transfers, 1)

	tr := transfers[0]
	assert.Equal(t, StandardERC721, tr.Standard)
	assert.Equal(t, int64(7777), tr.TokenID.Int64())
	assert.Nil(t, tr.Amount)
}

func TestExtractTokenTransfers_ERC1155(t *testing.T) {
	data := append(word(42), word(100)...)
	logs := []*types.Log{{
		Address: common.HexToAddress("0x3333333333333333333333333333333333333333"),
		Topics: []common.Hash{
			transferSingleEventSig,
			addressTopic("0x4444444444444444444444444444444444444444"), // operator
			addressTopic("0x1111111111111111111111111111111111111111"),
			addressTopic("0x2222222222222222222222222222222222222222"),
		},
		Data: data,
	}}

	transfers := ExtractTokenTransfers(logs)
	require.Len(t, transfers, 1)

	tr := transfers[0]
	assert.Equal(t, StandardERC1155, tr.Standard)
	assert.Equal(t, "0x1111111111111111111111111111111111111111", tr.From)
	assert.Equal(t, "0x2222222222222222222222222222222222222222", tr.To)
	assert.Equal(t, int64(42), tr.TokenID.Int64())
	assert.Equal(t, int64(100), tr.Amount.Int64())
}

func TestExtractTokenTransfers_SkipsMalformed(t *testing.T) {
	logs := []*types.Log{
		// no topics at all
		{Address: common.HexToAddress("0x1"), Topics: nil},
		// unrelated event signature
		{
			Address: common.HexToAddress("0x2"),
			Topics:  []common.Hash{common.HexToHash("0xdeadbeef")},
		},
		// Transfer with too few topics
		{
			Address: common.HexToAddress("0x3"),
			Topics: []common.Hash{
				transferEventSig,
				addressTopic("0x1111111111111111111111111111111111111111"),
			},
		},
		// TransferSingle with truncated data
		{
			Address: common.HexToAddress("0x4"),
			Topics: []common.Hash{
				transferSingleEventSig,
				addressTopic("0x4444444444444444444444444444444444444444"),
				addressTopic("0x1111111111111111111111111111111111111111"),
				addressTopic("0x2222222222222222222222222222222222222222"),
			},
			Data: word(42),
		},
	}

	assert.Empty(t, ExtractTokenTransfers(logs))
}

func TestExtractTokenTransfers_MixedBatch(t *testing.T) {
	logs := []*types.Log{
		{
			Address: common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
			Topics: []common.Hash{
				transferEventSig,
				addressTopic("0x1111111111111111111111111111111111111111"),
				addressTopic("0x2222222222222222222222222222222222222222"),
			},
			Data: word(1),
		},
		{
			Address: common.HexToAddress("0x5"),
			Topics:  []common.Hash{common.HexToHash("0xdeadbeef")},
		},
		{
			Address: common.HexToAddress("0xBC4CA0EdA7647A8aB7C2061c2E118A18a936f13D"),
			Topics: []common.Hash{
				transferEventSig,
				addressTopic("0x2222222222222222222222222222222222222222"),
				addressTopic("0x1111111111111111111111111111111111111111"),
				common.BigToHash(big.NewInt(9)),
			},
		},
	}

	transfers := ExtractTokenTransfers(logs)
	require.Len(t, transfers, 2)
	assert.Equal(t, StandardERC20, transfers[0].Standard)
	assert.Equal(t, StandardERC721, transfers[1].Standard)
}

func TestBuildReceipt_LegacyGasPriceFallback(t *testing.T) {
	tx := types.NewTx(&types.LegacyTx{GasPrice: big.NewInt(30)})

	rec := buildReceipt(&types.Receipt{
		Status:            types.ReceiptStatusSuccessful,
		GasUsed:           21000,
		CumulativeGasUsed: 21000,
	}, tx)

	require.NotNil(t, rec.Status)
	assert.Equal(t, 1, *rec.Status)
	assert.Equal(t, int64(21000), rec.GasUsed.Int64())
	assert.Nil(t, rec.EffectiveGasPrice)
	require.NotNil(t, rec.GasPrice)
	assert.Equal(t, int64(30), rec.GasPrice.Int64())
}

func TestBuildReceipt_PrefersEffectiveGasPrice(t *testing.T) {
	tx := types.NewTx(&types.DynamicFeeTx{GasFeeCap: big.NewInt(50), GasTipCap: big.NewInt(2)})

	rec := buildReceipt(&types.Receipt{
		Status:            types.ReceiptStatusSuccessful,
		GasUsed:           21000,
		CumulativeGasUsed: 21000,
		EffectiveGasPrice: big.NewInt(27),
	}, tx)

	require.NotNil(t, rec.EffectiveGasPrice)
	assert.Equal(t, int64(27), rec.EffectiveGasPrice.Int64())
	assert.Nil(t, rec.GasPrice)
}

package tokens

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_PutAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Get(ctx, "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2")
	assert.ErrorIs(t, err, ErrTokenNotFound)

	require.NoError(t, store.Put(ctx, &Metadata{
		Address:  "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
		Symbol:   "WETH",
		Decimals: 18,
	}))

	meta, err := store.Get(ctx, "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2")
	require.NoError(t, err)
	assert.Equal(t, "WETH", meta.Symbol)
	assert.Equal(t, 18, meta.Decimals)
}

func TestMemoryStore_CaseInsensitiveLookup(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &Metadata{
		Address: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
		Symbol:  "USDC",
	}))

	meta, err := store.Get(ctx, "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	require.NoError(t, err)
	assert.Equal(t, "USDC", meta.Symbol)
}

func TestMemoryStore_PutOverwrites(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &Metadata{Address: "0xabc", Symbol: "OLD", Decimals: 6}))
	require.NoError(t, store.Put(ctx, &Metadata{Address: "0xABC", Symbol: "NEW", Decimals: 8}))

	meta, err := store.Get(ctx, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, "NEW", meta.Symbol)
	assert.Equal(t, 8, meta.Decimals)
}

package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	encoded := Encode(ts, "0xabc")

	cursor, err := Decode(encoded)
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.True(t, cursor.Timestamp.Equal(ts))
	assert.Equal(t, "0xabc", cursor.ID)
}

func TestDecodeEmpty(t *testing.T) {
	cursor, err := Decode("")
	require.NoError(t, err)
	assert.Nil(t, cursor)
}

func TestDecodeInvalid(t *testing.T) {
	for _, input := range []string{
		"@@not-base64@@",
		"bm8tc2VwYXJhdG9y", // "no-separator"
		"YWJjfGRlZg",       // wrong padding for "abc|def"
	} {
		_, err := Decode(input)
		assert.Error(t, err, input)
	}
}

func TestDecodeIDWithSeparator(t *testing.T) {
	// Only the first separator splits; IDs may contain one.
	encoded := Encode(time.Unix(0, 42), "a|b")
	cursor, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, "a|b", cursor.ID)
}

func TestComputePage(t *testing.T) {
	type row struct {
		ts time.Time
		id string
	}
	extract := func(r row) (time.Time, string) { return r.ts, r.id }
	base := time.Unix(1000, 0).UTC()
	rows := []row{
		{base.Add(3 * time.Second), "c"},
		{base.Add(2 * time.Second), "b"},
		{base.Add(1 * time.Second), "a"},
	}

	// Fewer items than limit: no next page
	page, next, hasMore := ComputePage(rows, 5, extract)
	assert.Len(t, page, 3)
	assert.Empty(t, next)
	assert.False(t, hasMore)

	// Exactly limit+1 items: trimmed, cursor points at last kept row
	page, next, hasMore = ComputePage(rows, 2, extract)
	require.Len(t, page, 2)
	assert.True(t, hasMore)

	cursor, err := Decode(next)
	require.NoError(t, err)
	assert.True(t, cursor.Timestamp.Equal(base.Add(2*time.Second)))
	assert.Equal(t, "b", cursor.ID)
}

package validation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestIsValidTxHash(t *testing.T) {
	valid := "0x" + strings.Repeat("ab", 32)
	assert.True(t, IsValidTxHash(valid))

	// Too short, missing prefix, upper case (callers lower first), non-hex,
	// too long.
	for _, hash := range []string{
		"",
		"0x",
		"0x123",
		strings.Repeat("ab", 32),
		"0x" + strings.Repeat("AB", 32),
		"0x" + strings.Repeat("zz", 32),
		"0x" + strings.Repeat("ab", 32) + "0",
	} {
		assert.False(t, IsValidTxHash(hash), hash)
	}
}

func TestIsValidEthAddress(t *testing.T) {
	assert.True(t, IsValidEthAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"))
	assert.True(t, IsValidEthAddress("0x"+strings.Repeat("0", 40)))

	assert.False(t, IsValidEthAddress("A0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"))
	assert.False(t, IsValidEthAddress("0x123"))
	assert.False(t, IsValidEthAddress("0x"+strings.Repeat("g", 40)))
}

func TestSanitizeAddress(t *testing.T) {
	assert.Equal(t, "0xabcdef", SanitizeAddress("  0xABCDEF  "))
	assert.Equal(t,
		"0x"+strings.Repeat("a", 40),
		SanitizeAddress(strings.Repeat("A", 40)))
	// Short bare strings are not prefixed
	assert.Equal(t, "abc", SanitizeAddress("abc"))
}

func TestTxHashParamMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/tx/:transactionHash", TxHashParamMiddleware(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	tests := []struct {
		hash string
		want int
	}{
		{"0x" + strings.Repeat("ab", 32), http.StatusOK},
		{"0x" + strings.Repeat("AB", 32), http.StatusOK}, // matched case-insensitively
		{"0x123", http.StatusBadRequest},
		{"nothex", http.StatusBadRequest},
	}

	for _, tt := range tests {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/tx/"+tt.hash, nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, tt.want, w.Code, tt.hash)
	}
}

func TestRequestSizeMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/echo", RequestSizeMiddleware(16), func(c *gin.Context) {
		if _, err := c.GetRawData(); err != nil {
			c.AbortWithStatus(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/echo", strings.NewReader("small"))
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/echo", strings.NewReader(strings.Repeat("x", 64)))
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

// Package validation provides input validation helpers and middleware for
// the txsentinel API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

var (
	// txHashRegex validates transaction hashes (0x + 32 bytes hex)
	txHashRegex = regexp.MustCompile(`^0x[a-f0-9]{64}$`)
	// ethAddressRegex validates Ethereum addresses
	ethAddressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidTxHash checks if a string is a lower-cased transaction hash.
func IsValidTxHash(hash string) bool {
	return txHashRegex.MatchString(hash)
}

// IsValidEthAddress checks if a string is a valid Ethereum address
func IsValidEthAddress(addr string) bool {
	return ethAddressRegex.MatchString(addr)
}

// SanitizeAddress normalizes an Ethereum address
func SanitizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.ToLower(addr)

	if !strings.HasPrefix(addr, "0x") && len(addr) == 40 {
		addr = "0x" + addr
	}

	return addr
}

// TxHashParamMiddleware validates the :transactionHash URL parameter on
// routes that use it, rejecting malformed hashes before the handler runs.
// Hashes are matched case-insensitively; handlers receive them as given.
func TxHashParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		hash := c.Param("transactionHash")
		if hash != "" && !IsValidTxHash(strings.ToLower(hash)) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "transaction hash must be 0x-prefixed 32-byte hex",
			})
			return
		}
		c.Next()
	}
}

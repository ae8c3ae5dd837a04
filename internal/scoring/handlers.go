package scoring

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/txsentinel/internal/pagination"
	"github.com/mbd888/txsentinel/internal/validation"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Handler provides HTTP endpoints for risk score lookups.
type Handler struct {
	service *Service
}

// NewHandler creates a new risk score handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public risk score routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/transactions/:transactionHash/risk-score",
		validation.TxHashParamMiddleware(), h.GetRiskScore)
	r.GET("/risk-scores", h.ListRiskScores)
}

// GetRiskScore handles GET /v1/transactions/:transactionHash/risk-score
func (h *Handler) GetRiskScore(c *gin.Context) {
	txHash := strings.ToLower(c.Param("transactionHash"))

	score, err := h.service.GetScore(c.Request.Context(), txHash)
	if err != nil {
		if errors.Is(err, ErrScoreNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "No risk score recorded for this transaction",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	// Raw model envelopes stay in the store for audit; the API serves the
	// normalized view only.
	score.RawResponse = nil

	c.JSON(http.StatusOK, gin.H{"risk_score": score})
}

// ListRiskScores handles GET /v1/risk-scores?verdict=&limit=&cursor=
func (h *Handler) ListRiskScores(c *gin.Context) {
	verdict := Verdict(c.Query("verdict"))
	if verdict != "" && !ValidVerdict(string(verdict)) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "verdict must be one of: normal, suspicious, security_concern",
		})
		return
	}

	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "limit must be a positive integer",
			})
			return
		}
		if parsed > maxListLimit {
			parsed = maxListLimit
		}
		limit = parsed
	}

	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "invalid cursor",
		})
		return
	}

	// Fetch one extra row to detect whether more pages exist
	scores, err := h.service.ListScores(c.Request.Context(), verdict, limit+1, cursor)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	scores, next, hasMore := pagination.ComputePage(scores, limit, func(s *NormalizedScore) (time.Time, string) {
		return s.ReceivedAt, s.TxHash
	})
	if scores == nil {
		scores = []*NormalizedScore{}
	}
	for _, s := range scores {
		s.RawResponse = nil
	}

	c.JSON(http.StatusOK, gin.H{
		"risk_scores": scores,
		"next_cursor": next,
		"has_more":    hasMore,
	})
}

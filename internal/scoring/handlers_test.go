package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(store Store) *gin.Engine {
	gin.SetMode(gin.TestMode)
	svc := NewService(Options{Enabled: true, Adapter: NewRulesAdapter(), Store: store})
	router := gin.New()
	NewHandler(svc).RegisterRoutes(router.Group("/v1"))
	return router
}

func seedScore(t *testing.T, store Store, txHash string, verdict Verdict, receivedAt time.Time) {
	t.Helper()
	require.NoError(t, store.Upsert(context.Background(), &NormalizedScore{
		TxHash:            txHash,
		RequestHash:       "req-" + txHash,
		FeatureVersion:    "v1",
		NormalizerVersion: NormalizerVersion,
		ModelName:         "rules-offline",
		ModelVersion:      "poc-v1",
		Verdict:           verdict,
		ConfidenceOverall: 0.5,
		Descriptors:       []NormalizedDescriptor{},
		Status:            StatusOK,
		RequestedAt:       receivedAt,
		ReceivedAt:        receivedAt,
	}))
}

func validHash(i int) string {
	return fmt.Sprintf("0x%064x", i)
}

func TestGetRiskScore_InvalidHash(t *testing.T) {
	router := newTestRouter(NewMemoryStore())

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/transactions/not-a-hash/risk-score", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_request")
}

func TestGetRiskScore_NotFound(t *testing.T) {
	router := newTestRouter(NewMemoryStore())

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/transactions/"+validHash(1)+"/risk-score", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "not_found")
}

func TestGetRiskScore_Found(t *testing.T) {
	store := NewMemoryStore()
	seedScore(t, store, validHash(1), VerdictSuspicious, time.Now().UTC())
	router := newTestRouter(store)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/transactions/"+validHash(1)+"/risk-score", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		RiskScore NormalizedScore `json:"risk_score"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, VerdictSuspicious, body.RiskScore.Verdict)
	assert.Equal(t, validHash(1), body.RiskScore.TxHash)
}

func TestGetRiskScore_OmitsRawResponse(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Upsert(context.Background(), &NormalizedScore{
		TxHash:      validHash(1),
		Verdict:     VerdictNormal,
		Descriptors: []NormalizedDescriptor{},
		RawResponse: &Envelope{RequestHash: "abc"},
		Status:      StatusOK,
	}))
	router := newTestRouter(store)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/transactions/"+validHash(1)+"/risk-score", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "rawResponse")
}

func TestGetRiskScore_MixedCaseHash(t *testing.T) {
	store := NewMemoryStore()
	seedScore(t, store, validHash(0xab), VerdictNormal, time.Now().UTC())
	router := newTestRouter(store)

	upper := "0x" + "00000000000000000000000000000000000000000000000000000000000000AB"
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/transactions/"+upper+"/risk-score", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestListRiskScores_Empty(t *testing.T) {
	router := newTestRouter(NewMemoryStore())

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/risk-scores", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"risk_scores":[]`)
	assert.Contains(t, w.Body.String(), `"has_more":false`)
}

func TestListRiskScores_FilterAndPaginate(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 1; i <= 5; i++ {
		verdict := VerdictNormal
		if i%2 == 0 {
			verdict = VerdictSuspicious
		}
		seedScore(t, store, validHash(i), verdict, base.Add(time.Duration(i)*time.Minute))
	}
	router := newTestRouter(store)

	// First page of 2, newest first
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/risk-scores?limit=2", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var page struct {
		RiskScores []NormalizedScore `json:"risk_scores"`
		NextCursor string            `json:"next_cursor"`
		HasMore    bool              `json:"has_more"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.RiskScores, 2)
	assert.Equal(t, validHash(5), page.RiskScores[0].TxHash)
	assert.Equal(t, validHash(4), page.RiskScores[1].TxHash)
	assert.True(t, page.HasMore)
	require.NotEmpty(t, page.NextCursor)

	// Second page continues after the cursor
	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/v1/risk-scores?limit=2&cursor="+page.NextCursor, nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.RiskScores, 2)
	assert.Equal(t, validHash(3), page.RiskScores[0].TxHash)
	assert.Equal(t, validHash(2), page.RiskScores[1].TxHash)

	// Verdict filter
	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/v1/risk-scores?verdict=suspicious", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.RiskScores, 2)
	for _, score := range page.RiskScores {
		assert.Equal(t, VerdictSuspicious, score.Verdict)
	}
}

func TestListRiskScores_BadInputs(t *testing.T) {
	router := newTestRouter(NewMemoryStore())

	for _, path := range []string{
		"/v1/risk-scores?verdict=benign",
		"/v1/risk-scores?limit=0",
		"/v1/risk-scores?limit=abc",
		"/v1/risk-scores?cursor=@@not-a-cursor@@",
	} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", path, nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}
}

package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func remoteRequest() *ScoreRequest {
	return &ScoreRequest{
		FeatureVersion: "v1",
		RequestHash:    "req-hash",
		Transactions: []RequestTransaction{
			{TxHash: "0xabc", Payload: &FeaturePayload{TxHash: "0xabc"}},
		},
	}
}

const remoteEnvelopeJSON = `{
	"request_hash": "req-hash",
	"model": {"name": "gpt-4o-mini", "version": "2024-07"},
	"results": [{
		"tx_hash": "0xabc",
		"verdict": "normal",
		"confidence": {"overall": 0.3},
		"descriptors": []
	}]
}`

func structuredResponse(envelope string) string {
	return fmt.Sprintf(`{
		"output": [{
			"type": "output_json_schema",
			"content": [{"type": "output_json_schema", "json": %s}]
		}]
	}`, envelope)
}

func newTestAdapter(url string, timeout time.Duration) *RemoteAdapter {
	return NewRemoteAdapter(RemoteAdapterOptions{
		BaseURL:      url,
		APIKey:       "sk-test",
		Model:        "gpt-4o-mini",
		Organization: "org-test",
		Timeout:      timeout,
	})
}

func TestRemoteAdapter_Success(t *testing.T) {
	var gotPath, gotAuth, gotOrg string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotOrg = r.Header.Get("OpenAI-Organization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, structuredResponse(remoteEnvelopeJSON))
	}))
	defer srv.Close()

	adapter := newTestAdapter(srv.URL, 0)
	envelope, err := adapter.Score(context.Background(), remoteRequest())
	require.NoError(t, err)

	assert.Equal(t, "/responses", gotPath)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "org-test", gotOrg)
	assert.Equal(t, "gpt-4o-mini", gotBody["model"])
	assert.Equal(t, 0.1, gotBody["temperature"])
	assert.Equal(t, float64(1500), gotBody["max_output_tokens"])

	metadata, ok := gotBody["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "req-hash", metadata["request_hash"])

	assert.Equal(t, "req-hash", envelope.RequestHash)
	require.Len(t, envelope.Results, 1)
	assert.Equal(t, VerdictNormal, envelope.Results[0].Verdict)
}

func TestRemoteAdapter_TextFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{
			"output": [{
				"type": "output_json_schema",
				"content": [{"type": "text", "text": %q}]
			}]
		}`, remoteEnvelopeJSON)
	}))
	defer srv.Close()

	adapter := newTestAdapter(srv.URL, 0)
	envelope, err := adapter.Score(context.Background(), remoteRequest())
	require.NoError(t, err)
	assert.Equal(t, "req-hash", envelope.RequestHash)
}

func TestRemoteAdapter_TextFallbackNotJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"output": [{
				"type": "output_json_schema",
				"content": [{"type": "text", "text": "I cannot answer that."}]
			}]
		}`)
	}))
	defer srv.Close()

	adapter := newTestAdapter(srv.URL, 0)
	_, err := adapter.Score(context.Background(), remoteRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid JSON")
}

func TestRemoteAdapter_NoPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"output": []}`)
	}))
	defer srv.Close()

	adapter := newTestAdapter(srv.URL, 0)
	_, err := adapter.Score(context.Background(), remoteRequest())
	assert.ErrorIs(t, err, ErrNoJSONPayload)
}

func TestRemoteAdapter_Non2xxStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	adapter := newTestAdapter(srv.URL, 0)
	_, err := adapter.Score(context.Background(), remoteRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
}

func TestRemoteAdapter_Timeout(t *testing.T) {
	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blocked
	}))
	defer srv.Close()
	defer close(blocked)

	adapter := newTestAdapter(srv.URL, 50*time.Millisecond)
	start := time.Now()
	_, err := adapter.Score(context.Background(), remoteRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRemoteAdapter_InvalidEnvelopeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, structuredResponse(`{"request_hash": "req-hash", "model": {"name": "m", "version": "v"}, "results": "nope"}`))
	}))
	defer srv.Close()

	adapter := newTestAdapter(srv.URL, 0)
	_, err := adapter.Score(context.Background(), remoteRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "results must be array")
}

package server_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/keiro/api"
	"github.com/ashita-ai/keiro/internal/auth"
	"github.com/ashita-ai/keiro/internal/mcp"
	"github.com/ashita-ai/keiro/internal/model"
	"github.com/ashita-ai/keiro/internal/ratelimit"
	"github.com/ashita-ai/keiro/internal/reliability"
	"github.com/ashita-ai/keiro/internal/server"
)

var (
	testSrv     *httptest.Server
	adminToken  string
	agentToken  string
	readerToken string
)

func TestMain(m *testing.M) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	engine, err := reliability.New(reliability.DefaultConfig(), logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create engine: %v\n", err)
		os.Exit(1)
	}

	keyring, err := auth.ParseKeyring(testKeyringSpec())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse keyring: %v\n", err)
		os.Exit(1)
	}

	jwtMgr, err := auth.NewJWTManager("", "", 24*time.Hour)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create JWT manager: %v\n", err)
		os.Exit(1)
	}

	limiter := ratelimit.NewMemoryLimiter()
	broker := server.NewBroker(0, logger)
	mcpSrv := mcp.New(engine, logger, "test")

	srv := server.New(server.ServerConfig{
		Engine:              engine,
		JWTMgr:              jwtMgr,
		Logger:              logger,
		Keyring:             keyring,
		Limiter:             limiter,
		Broker:              broker,
		MCPServer:           mcpSrv.MCPServer(),
		ReadTimeout:         30 * time.Second,
		WriteTimeout:        30 * time.Second,
		Version:             "test",
		MaxRequestBodyBytes: 1 * 1024 * 1024,
		OpenAPISpec:         api.OpenAPISpec,
	})

	testSrv = httptest.NewServer(srv.Handler())

	adminToken = getToken(testSrv.URL, "ops", "test-admin-key")
	agentToken = getToken(testSrv.URL, "planner", "test-agent-key")
	readerToken = getToken(testSrv.URL, "viewer", "test-reader-key")

	code := m.Run()

	testSrv.Close()
	_ = limiter.Close()
	os.Exit(code)
}

// testKeyringSpec hashes the test API keys and assembles the keyring string
// the same way a deployment passes it via KEIRO_API_KEYS.
func testKeyringSpec() string {
	entries := []struct{ id, role, key string }{
		{"ops", "admin", "test-admin-key"},
		{"planner", "agent", "test-agent-key"},
		{"viewer", "reader", "test-reader-key"},
	}
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		hash, err := auth.HashAPIKey(e.key)
		if err != nil {
			panic(fmt.Sprintf("hash key for %s: %v", e.id, err))
		}
		parts = append(parts, e.id+":"+e.role+":"+hash)
	}
	return strings.Join(parts, ",")
}

func getToken(baseURL, clientID, apiKey string) string {
	body, _ := json.Marshal(model.AuthTokenRequest{ClientID: clientID, APIKey: apiKey})
	resp, err := http.Post(baseURL+"/v1/auth/token", "application/json", bytes.NewReader(body))
	if err != nil {
		panic(fmt.Sprintf("getToken: request failed: %v", err))
	}
	defer func() { _ = resp.Body.Close() }()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		panic(fmt.Sprintf("getToken: status %d, body: %s", resp.StatusCode, string(data)))
	}
	var result struct {
		Data model.AuthTokenResponse `json:"data"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		panic(fmt.Sprintf("getToken: unmarshal failed: %v, body: %s", err, string(data)))
	}
	if result.Data.Token == "" {
		panic(fmt.Sprintf("getToken: empty token, body: %s", string(data)))
	}
	return result.Data.Token
}

func authedRequest(method, url, token string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return http.DefaultClient.Do(req)
}

// recordOutcome posts one outcome and fails the test on any non-202 response.
func recordOutcome(t *testing.T, token, source, target string, success bool, confidence float64, latencyMS *float64) {
	t.Helper()
	resp, err := authedRequest("POST", testSrv.URL+"/v1/outcomes", token, model.RecordOutcomeRequest{
		Source:     source,
		Target:     target,
		Success:    &success,
		Confidence: &confidence,
		LatencyMS:  latencyMS,
	})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("recordOutcome: status %d, body: %s", resp.StatusCode, string(body))
	}
}

func postRaw(t *testing.T, path, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest("POST", testSrv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func ptrFloat64(v float64) *float64 { return &v }

func TestHealthEndpoint(t *testing.T) {
	resp, err := http.Get(testSrv.URL + "/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data model.HealthResponse `json:"data"`
	}
	data, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(data, &result)
	assert.Equal(t, "healthy", result.Data.Status)
	assert.Equal(t, "test", result.Data.Version)
}

func TestOpenAPISpecEndpoint(t *testing.T) {
	resp, err := http.Get(testSrv.URL + "/openapi.yaml")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/yaml", resp.Header.Get("Content-Type"))

	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "openapi:")
	assert.Contains(t, string(body), "/v1/outcomes")
}

func TestAuthFlow(t *testing.T) {
	// Valid credentials.
	token := getToken(testSrv.URL, "ops", "test-admin-key")
	assert.NotEmpty(t, token)

	// Invalid credentials.
	body, _ := json.Marshal(model.AuthTokenRequest{ClientID: "ops", APIKey: "wrong"})
	resp, err := http.Post(testSrv.URL+"/v1/auth/token", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Unknown client.
	body2, _ := json.Marshal(model.AuthTokenRequest{ClientID: "nobody", APIKey: "whatever"})
	resp2, err := http.Post(testSrv.URL+"/v1/auth/token", "application/json", bytes.NewReader(body2))
	require.NoError(t, err)
	defer func() { _ = resp2.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)

	// Malformed client ID.
	body3, _ := json.Marshal(model.AuthTokenRequest{ClientID: "bad id!", APIKey: "whatever"})
	resp3, err := http.Post(testSrv.URL+"/v1/auth/token", "application/json", bytes.NewReader(body3))
	require.NoError(t, err)
	defer func() { _ = resp3.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp3.StatusCode)
}

func TestUnauthenticatedAccess(t *testing.T) {
	resp, err := http.Get(testSrv.URL + "/v1/reliability?source=a&target=b")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRecordOutcomeAndReliability(t *testing.T) {
	// First outcome: too few records for a computed score.
	recordOutcome(t, agentToken, "router-a", "gpt-worker", true, 1.0, nil)

	resp, err := authedRequest("GET", testSrv.URL+"/v1/reliability?source=router-a&target=gpt-worker", agentToken, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data model.ReliabilityResponse `json:"data"`
	}
	data, _ := io.ReadAll(resp.Body)
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, "low_sample", result.Data.Basis)
	assert.InDelta(t, 0.6, result.Data.Reliability, 1e-9)

	// Four more outcomes cross the minimum sample size.
	for i := 0; i < 4; i++ {
		recordOutcome(t, agentToken, "router-a", "gpt-worker", true, 1.0, nil)
	}

	resp2, err := authedRequest("GET", testSrv.URL+"/v1/reliability?source=router-a&target=gpt-worker", agentToken, nil)
	require.NoError(t, err)
	defer func() { _ = resp2.Body.Close() }()

	var result2 struct {
		Data model.ReliabilityResponse `json:"data"`
	}
	data2, _ := io.ReadAll(resp2.Body)
	require.NoError(t, json.Unmarshal(data2, &result2))
	assert.Equal(t, "computed", result2.Data.Basis)
	assert.InDelta(t, 0.95, result2.Data.Reliability, 1e-9)
}

func TestRecordOutcomeResponseFields(t *testing.T) {
	success := true
	confidence := 0.9
	resp, err := authedRequest("POST", testSrv.URL+"/v1/outcomes", agentToken, model.RecordOutcomeRequest{
		Source:     "router-fields",
		Target:     "worker-fields",
		Success:    &success,
		Confidence: &confidence,
		LatencyMS:  ptrFloat64(850),
	})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var result struct {
		Data model.RecordOutcomeResponse `json:"data"`
	}
	data, _ := io.ReadAll(resp.Body)
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, "router-fields", result.Data.Source)
	assert.Equal(t, "worker-fields", result.Data.Target)
	assert.Equal(t, 1, result.Data.Records)
}

func TestRecordOutcomeValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing success", `{"source":"router-v","target":"w","confidence":0.9}`},
		{"missing confidence", `{"source":"router-v","target":"w","success":true}`},
		{"confidence out of range", `{"source":"router-v","target":"w","success":true,"confidence":1.5}`},
		{"invalid target characters", `{"source":"router-v","target":"bad target!","success":true,"confidence":0.9}`},
		{"negative latency", `{"source":"router-v","target":"w","success":true,"confidence":0.9,"latency_ms":-10}`},
		{"unknown field", `{"source":"router-v","target":"w","success":true,"confidence":0.9,"bogus":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postRaw(t, "/v1/outcomes", agentToken, tt.body)
			defer func() { _ = resp.Body.Close() }()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var apiErr model.APIError
			data, _ := io.ReadAll(resp.Body)
			require.NoError(t, json.Unmarshal(data, &apiErr))
			assert.Equal(t, model.ErrCodeInvalidInput, apiErr.Error.Code)
		})
	}
}

func TestReliabilityRequiresParams(t *testing.T) {
	resp, err := authedRequest("GET", testSrv.URL+"/v1/reliability", agentToken, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBestTargetEndpoint(t *testing.T) {
	for i := 0; i < 5; i++ {
		recordOutcome(t, agentToken, "router-b", "worker-good", true, 1.0, nil)
		recordOutcome(t, agentToken, "router-b", "worker-bad", false, 0.1, nil)
	}

	resp, err := authedRequest("POST", testSrv.URL+"/v1/route/best", agentToken,
		model.BestTargetRequest{
			Source:     "router-b",
			Candidates: []string{"worker-bad", "worker-good"},
		})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data model.BestTargetResponse `json:"data"`
	}
	data, _ := io.ReadAll(resp.Body)
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, "worker-good", result.Data.Target)
	assert.InDelta(t, 0.95, result.Data.Reliability, 1e-9)

	t.Run("no candidates yields empty target", func(t *testing.T) {
		resp, err := authedRequest("POST", testSrv.URL+"/v1/route/best", agentToken,
			model.BestTargetRequest{Source: "router-b"})
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var result struct {
			Data model.BestTargetResponse `json:"data"`
		}
		data, _ := io.ReadAll(resp.Body)
		require.NoError(t, json.Unmarshal(data, &result))
		assert.Empty(t, result.Data.Target)
		assert.Zero(t, result.Data.Reliability)
	})

	t.Run("unobserved candidates score the default", func(t *testing.T) {
		resp, err := authedRequest("POST", testSrv.URL+"/v1/route/best", agentToken,
			model.BestTargetRequest{
				Source:     "router-b",
				Candidates: []string{"never-seen-1", "never-seen-2"},
			})
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()

		var result struct {
			Data model.BestTargetResponse `json:"data"`
		}
		data, _ := io.ReadAll(resp.Body)
		require.NoError(t, json.Unmarshal(data, &result))
		// Ties break toward the earliest candidate.
		assert.Equal(t, "never-seen-1", result.Data.Target)
		assert.InDelta(t, 0.5, result.Data.Reliability, 1e-9)
	})
}

func TestAlternativesEndpoint(t *testing.T) {
	for i := 0; i < 5; i++ {
		recordOutcome(t, agentToken, "router-c", "worker-fast", true, 1.0, nil)
		recordOutcome(t, agentToken, "router-c", "worker-slow", false, 0.1, nil)
	}

	// Candidates omitted: every observed target for the source is considered.
	resp, err := authedRequest("POST", testSrv.URL+"/v1/route/alternatives", agentToken,
		model.AlternativesRequest{
			Source:        "router-c",
			CurrentTarget: "worker-slow",
		})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data model.AlternativesResponse `json:"data"`
	}
	data, _ := io.ReadAll(resp.Body)
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, "router-c", result.Data.Source)
	assert.Equal(t, "worker-slow", result.Data.CurrentTarget)
	require.Len(t, result.Data.Alternatives, 1)
	assert.Equal(t, "worker-fast", result.Data.Alternatives[0].Target)
	assert.InDelta(t, 0.95, result.Data.Alternatives[0].Reliability, 1e-9)

	t.Run("no alternative clears the margin", func(t *testing.T) {
		resp, err := authedRequest("POST", testSrv.URL+"/v1/route/alternatives", agentToken,
			model.AlternativesRequest{
				Source:        "router-c",
				CurrentTarget: "worker-fast",
			})
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()

		var result struct {
			Data model.AlternativesResponse `json:"data"`
		}
		data, _ := io.ReadAll(resp.Body)
		require.NoError(t, json.Unmarshal(data, &result))
		assert.Empty(t, result.Data.Alternatives)
	})

	t.Run("missing current target rejected", func(t *testing.T) {
		resp, err := authedRequest("POST", testSrv.URL+"/v1/route/alternatives", agentToken,
			model.AlternativesRequest{Source: "router-c"})
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestMatrixEndpoint(t *testing.T) {
	// TestBestTargetEndpoint seeded router-b with two targets.
	resp, err := authedRequest("GET", testSrv.URL+"/v1/matrix", agentToken, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data model.MatrixResponse `json:"data"`
	}
	data, _ := io.ReadAll(resp.Body)
	require.NoError(t, json.Unmarshal(data, &result))
	require.Contains(t, result.Data.Matrix, "router-b")
	assert.InDelta(t, 0.95, result.Data.Matrix["router-b"]["worker-good"], 1e-9)

	t.Run("filtered by source and target", func(t *testing.T) {
		resp, err := authedRequest("GET", testSrv.URL+"/v1/matrix?sources=router-b&targets=worker-bad", agentToken, nil)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()

		var result struct {
			Data model.MatrixResponse `json:"data"`
		}
		data, _ := io.ReadAll(resp.Body)
		require.NoError(t, json.Unmarshal(data, &result))
		require.Len(t, result.Data.Matrix, 1)
		require.Len(t, result.Data.Matrix["router-b"], 1)
		assert.InDelta(t, 0.08, result.Data.Matrix["router-b"]["worker-bad"], 1e-9)
	})
}

func TestStatsEndpoint(t *testing.T) {
	recordOutcome(t, agentToken, "stats-src", "stats-target", true, 0.8, ptrFloat64(400))
	recordOutcome(t, agentToken, "stats-src", "stats-target", true, 0.8, ptrFloat64(400))
	recordOutcome(t, agentToken, "stats-src", "stats-target", false, 0.5, ptrFloat64(700))

	resp, err := authedRequest("GET", testSrv.URL+"/v1/stats?source=stats-src", agentToken, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data model.StatsResponse `json:"data"`
	}
	data, _ := io.ReadAll(resp.Body)
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, 3, result.Data.TotalRecords)
	assert.Equal(t, []string{"stats-src"}, result.Data.Sources)
	require.NotNil(t, result.Data.AvgSuccessRate)
	assert.InDelta(t, 2.0/3.0, *result.Data.AvgSuccessRate, 1e-9)
	require.NotNil(t, result.Data.AvgConfidence)
	assert.InDelta(t, 0.7, *result.Data.AvgConfidence, 1e-9)
	require.NotNil(t, result.Data.AvgLatencyMS)
	assert.InDelta(t, 500, *result.Data.AvgLatencyMS, 1e-6)

	t.Run("unfiltered stats cover everything", func(t *testing.T) {
		resp, err := authedRequest("GET", testSrv.URL+"/v1/stats", agentToken, nil)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()

		var result struct {
			Data model.StatsResponse `json:"data"`
		}
		data, _ := io.ReadAll(resp.Body)
		require.NoError(t, json.Unmarshal(data, &result))
		assert.GreaterOrEqual(t, result.Data.TotalRecords, 3)
		assert.Contains(t, result.Data.Sources, "stats-src")
	})
}

func TestRoleEnforcement(t *testing.T) {
	t.Run("reader cannot record outcomes", func(t *testing.T) {
		success := true
		confidence := 0.9
		resp, err := authedRequest("POST", testSrv.URL+"/v1/outcomes", readerToken,
			model.RecordOutcomeRequest{Source: "viewer", Target: "w", Success: &success, Confidence: &confidence})
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("reader can query scores", func(t *testing.T) {
		resp, err := authedRequest("GET", testSrv.URL+"/v1/reliability?source=router-b&target=worker-good", readerToken, nil)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("agent cannot clear history", func(t *testing.T) {
		resp, err := authedRequest("DELETE", testSrv.URL+"/v1/history?source=router-b", agentToken, nil)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("agent cannot prune", func(t *testing.T) {
		resp, err := authedRequest("POST", testSrv.URL+"/v1/history/prune", agentToken, nil)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

func TestClearHistory(t *testing.T) {
	recordOutcome(t, agentToken, "clear-src", "t1", true, 0.9, nil)
	recordOutcome(t, agentToken, "clear-src", "t1", true, 0.9, nil)
	recordOutcome(t, agentToken, "clear-src", "t2", false, 0.4, nil)

	t.Run("target without source rejected", func(t *testing.T) {
		resp, err := authedRequest("DELETE", testSrv.URL+"/v1/history?target=t1", adminToken, nil)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		var apiErr model.APIError
		data, _ := io.ReadAll(resp.Body)
		require.NoError(t, json.Unmarshal(data, &apiErr))
		assert.Equal(t, model.ErrCodeInvalidInput, apiErr.Error.Code)
	})

	t.Run("clear one pair", func(t *testing.T) {
		resp, err := authedRequest("DELETE", testSrv.URL+"/v1/history?source=clear-src&target=t1", adminToken, nil)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var result struct {
			Data model.ClearHistoryResponse `json:"data"`
		}
		data, _ := io.ReadAll(resp.Body)
		require.NoError(t, json.Unmarshal(data, &result))
		assert.Equal(t, 2, result.Data.Removed)
	})

	t.Run("clear remaining source history", func(t *testing.T) {
		resp, err := authedRequest("DELETE", testSrv.URL+"/v1/history?source=clear-src", adminToken, nil)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var result struct {
			Data model.ClearHistoryResponse `json:"data"`
		}
		data, _ := io.ReadAll(resp.Body)
		require.NoError(t, json.Unmarshal(data, &result))
		assert.Equal(t, 1, result.Data.Removed)
	})
}

func TestEventStream(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", testSrv.URL+"/v1/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+readerToken)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Headers are flushed before the handler registers its subscription,
	// so give it a moment before publishing.
	time.Sleep(100 * time.Millisecond)

	recordOutcome(t, agentToken, "sse-src", "sse-target", true, 0.9, ptrFloat64(120))

	reader := bufio.NewReader(resp.Body)
	var eventType, eventData string
	for eventType == "" || eventData == "" {
		line, err := reader.ReadString('\n')
		require.NoError(t, err, "stream ended before the outcome event arrived")
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			eventType = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			eventData = strings.TrimPrefix(line, "data: ")
		}
	}

	assert.Equal(t, "outcome", eventType)
	var event model.OutcomeEvent
	require.NoError(t, json.Unmarshal([]byte(eventData), &event))
	assert.Equal(t, "sse-src", event.Source)
	assert.Equal(t, "sse-target", event.Target)
	assert.True(t, event.Success)
	require.NotNil(t, event.LatencyMS)
	assert.InDelta(t, 120, *event.LatencyMS, 1e-9)
}

// newMCPClient creates an MCP client that connects to the test server's /mcp
// endpoint with the given bearer token for authentication.
func newMCPClient(t *testing.T, token string) *mcpclient.Client {
	t.Helper()
	c, err := mcpclient.NewStreamableHttpClient(
		testSrv.URL+"/mcp",
		mcptransport.WithHTTPHeaders(map[string]string{
			"Authorization": "Bearer " + token,
		}),
	)
	require.NoError(t, err)
	return c
}

func TestMCPInitialize(t *testing.T) {
	c := newMCPClient(t, agentToken)
	defer func() { _ = c.Close() }()

	ctx := context.Background()
	initResult, err := c.Initialize(ctx, mcplib.InitializeRequest{
		Params: mcplib.InitializeParams{
			ClientInfo: mcplib.Implementation{Name: "test-client", Version: "1.0"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "keiro", initResult.ServerInfo.Name)
	assert.Equal(t, "test", initResult.ServerInfo.Version)
}

func TestMCPListTools(t *testing.T) {
	c := newMCPClient(t, agentToken)
	defer func() { _ = c.Close() }()

	ctx := context.Background()
	_, err := c.Initialize(ctx, mcplib.InitializeRequest{
		Params: mcplib.InitializeParams{
			ClientInfo: mcplib.Implementation{Name: "test-client", Version: "1.0"},
		},
	})
	require.NoError(t, err)

	toolsResult, err := c.ListTools(ctx, mcplib.ListToolsRequest{})
	require.NoError(t, err)
	assert.Len(t, toolsResult.Tools, 6)

	toolNames := make(map[string]bool)
	for _, tool := range toolsResult.Tools {
		toolNames[tool.Name] = true
	}
	assert.True(t, toolNames["keiro_best_target"], "expected keiro_best_target tool")
	assert.True(t, toolNames["keiro_record_outcome"], "expected keiro_record_outcome tool")
	assert.True(t, toolNames["keiro_alternatives"], "expected keiro_alternatives tool")
	assert.True(t, toolNames["keiro_reliability"], "expected keiro_reliability tool")
	assert.True(t, toolNames["keiro_stats"], "expected keiro_stats tool")
	assert.True(t, toolNames["keiro_prune"], "expected keiro_prune tool")
}

func TestMCPRecordAndBestTarget(t *testing.T) {
	c := newMCPClient(t, agentToken)
	defer func() { _ = c.Close() }()

	ctx := context.Background()
	_, err := c.Initialize(ctx, mcplib.InitializeRequest{
		Params: mcplib.InitializeParams{
			ClientInfo: mcplib.Implementation{Name: "test-client", Version: "1.0"},
		},
	})
	require.NoError(t, err)

	// Build up history: one reliable target, one failing one.
	for i := 0; i < 5; i++ {
		for _, rec := range []struct {
			target     string
			outcome    bool
			confidence float64
		}{
			{"mcp-worker-a", true, 1.0},
			{"mcp-worker-b", false, 0.1},
		} {
			recordResult, err := c.CallTool(ctx, mcplib.CallToolRequest{
				Params: mcplib.CallToolParams{
					Name: "keiro_record_outcome",
					Arguments: map[string]any{
						"source":     "mcp-router",
						"target":     rec.target,
						"success":    rec.outcome,
						"confidence": rec.confidence,
					},
				},
			})
			require.NoError(t, err)
			require.False(t, recordResult.IsError, "record tool returned error: %v", recordResult.Content)
		}
	}

	// Pick the best target; candidates default to observed targets.
	bestResult, err := c.CallTool(ctx, mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name: "keiro_best_target",
			Arguments: map[string]any{
				"source": "mcp-router",
			},
		},
	})
	require.NoError(t, err)
	require.False(t, bestResult.IsError, "best_target tool returned error: %v", bestResult.Content)

	var best struct {
		Target      string  `json:"target"`
		Reliability float64 `json:"reliability"`
	}
	for _, content := range bestResult.Content {
		if tc, ok := content.(mcplib.TextContent); ok {
			require.NoError(t, json.Unmarshal([]byte(tc.Text), &best))
			break
		}
	}
	assert.Equal(t, "mcp-worker-a", best.Target)
	assert.InDelta(t, 0.95, best.Reliability, 1e-9)
}

func TestMCPReliabilityNoData(t *testing.T) {
	c := newMCPClient(t, agentToken)
	defer func() { _ = c.Close() }()

	ctx := context.Background()
	_, err := c.Initialize(ctx, mcplib.InitializeRequest{
		Params: mcplib.InitializeParams{
			ClientInfo: mcplib.Implementation{Name: "test-client", Version: "1.0"},
		},
	})
	require.NoError(t, err)

	result, err := c.CallTool(ctx, mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name: "keiro_reliability",
			Arguments: map[string]any{
				"source": "mcp-unseen",
				"target": "mcp-unseen-target",
			},
		},
	})
	require.NoError(t, err)
	require.False(t, result.IsError, "reliability tool returned error: %v", result.Content)

	var rel struct {
		Reliability float64 `json:"reliability"`
		Basis       string  `json:"basis"`
	}
	var note string
	for _, content := range result.Content {
		tc, ok := content.(mcplib.TextContent)
		if !ok {
			continue
		}
		if strings.HasPrefix(tc.Text, "NOTE:") {
			note = tc.Text
			continue
		}
		require.NoError(t, json.Unmarshal([]byte(tc.Text), &rel))
	}
	assert.InDelta(t, 0.5, rel.Reliability, 1e-9)
	assert.Equal(t, "no_data", rel.Basis)
	assert.Contains(t, note, "no outcomes recorded")
}

func TestMCPRecordRequiresAgentRole(t *testing.T) {
	c := newMCPClient(t, readerToken)
	defer func() { _ = c.Close() }()

	ctx := context.Background()
	_, err := c.Initialize(ctx, mcplib.InitializeRequest{
		Params: mcplib.InitializeParams{
			ClientInfo: mcplib.Implementation{Name: "test-client", Version: "1.0"},
		},
	})
	require.NoError(t, err)

	result, err := c.CallTool(ctx, mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name: "keiro_record_outcome",
			Arguments: map[string]any{
				"target":     "w",
				"success":    true,
				"confidence": 0.9,
			},
		},
	})
	require.NoError(t, err)
	require.True(t, result.IsError, "reader should not be able to record outcomes")

	for _, content := range result.Content {
		if tc, ok := content.(mcplib.TextContent); ok {
			assert.Contains(t, tc.Text, "agent role")
			break
		}
	}
}

func TestMCPPruneRequiresAdminRole(t *testing.T) {
	c := newMCPClient(t, agentToken)
	defer func() { _ = c.Close() }()

	ctx := context.Background()
	_, err := c.Initialize(ctx, mcplib.InitializeRequest{
		Params: mcplib.InitializeParams{
			ClientInfo: mcplib.Implementation{Name: "test-client", Version: "1.0"},
		},
	})
	require.NoError(t, err)

	result, err := c.CallTool(ctx, mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      "keiro_prune",
			Arguments: map[string]any{},
		},
	})
	require.NoError(t, err)
	require.True(t, result.IsError, "agent should not be able to prune history")
}

func TestMCPReadResources(t *testing.T) {
	c := newMCPClient(t, agentToken)
	defer func() { _ = c.Close() }()

	ctx := context.Background()
	_, err := c.Initialize(ctx, mcplib.InitializeRequest{
		Params: mcplib.InitializeParams{
			ClientInfo: mcplib.Implementation{Name: "test-client", Version: "1.0"},
		},
	})
	require.NoError(t, err)

	// Seed one pair so the per-source routing table has content.
	recordResult, err := c.CallTool(ctx, mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name: "keiro_record_outcome",
			Arguments: map[string]any{
				"source":     "mcp-res",
				"target":     "mcp-res-target",
				"success":    true,
				"confidence": 0.9,
			},
		},
	})
	require.NoError(t, err)
	require.False(t, recordResult.IsError)

	resourcesResult, err := c.ListResources(ctx, mcplib.ListResourcesRequest{})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(resourcesResult.Resources), 2, "expected at least matrix and stats")

	result, err := c.ReadResource(ctx, mcplib.ReadResourceRequest{
		Params: mcplib.ReadResourceParams{
			URI: "keiro://matrix",
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Contents)

	result, err = c.ReadResource(ctx, mcplib.ReadResourceRequest{
		Params: mcplib.ReadResourceParams{
			URI: "keiro://stats",
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Contents)

	result, err = c.ReadResource(ctx, mcplib.ReadResourceRequest{
		Params: mcplib.ReadResourceParams{
			URI: "keiro://source/mcp-res/targets",
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.Contents)
	if tc, ok := result.Contents[0].(mcplib.TextResourceContents); ok {
		assert.Contains(t, tc.Text, "mcp-res-target")
	}
}

func TestMCPPrompts(t *testing.T) {
	c := newMCPClient(t, agentToken)
	defer func() { _ = c.Close() }()

	ctx := context.Background()
	_, err := c.Initialize(ctx, mcplib.InitializeRequest{
		Params: mcplib.InitializeParams{
			ClientInfo: mcplib.Implementation{Name: "test-client", Version: "1.0"},
		},
	})
	require.NoError(t, err)

	// List prompts.
	promptsResult, err := c.ListPrompts(ctx, mcplib.ListPromptsRequest{})
	require.NoError(t, err)
	assert.Len(t, promptsResult.Prompts, 3, "expected 3 prompts")

	promptNames := make(map[string]bool)
	for _, p := range promptsResult.Prompts {
		promptNames[p.Name] = true
	}
	assert.True(t, promptNames["before-routing"], "expected before-routing prompt")
	assert.True(t, promptNames["after-task"], "expected after-task prompt")
	assert.True(t, promptNames["agent-setup"], "expected agent-setup prompt")

	// Get the agent-setup prompt (no arguments needed).
	setupResult, err := c.GetPrompt(ctx, mcplib.GetPromptRequest{
		Params: mcplib.GetPromptParams{
			Name: "agent-setup",
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, setupResult.Messages, "expected at least one message in agent-setup prompt")
	for _, msg := range setupResult.Messages {
		if tc, ok := msg.Content.(mcplib.TextContent); ok {
			assert.Contains(t, tc.Text, "Route by Evidence", "expected agent-setup to describe the routing pattern")
			break
		}
	}

	// Get the before-routing prompt with an argument.
	beforeResult, err := c.GetPrompt(ctx, mcplib.GetPromptRequest{
		Params: mcplib.GetPromptParams{
			Name:      "before-routing",
			Arguments: map[string]string{"source": "planner"},
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, beforeResult.Messages)
}

func TestMCPUnauthenticated(t *testing.T) {
	// MCP endpoint should require auth.
	resp, err := http.Post(testSrv.URL+"/mcp", "application/json", nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// Runs last: the zero-age prune wipes every record, so anything that needs
// seeded history must run before this.
func TestPruneEndpoint(t *testing.T) {
	recordOutcome(t, agentToken, "prune-src", "prune-target", true, 0.9, nil)
	recordOutcome(t, agentToken, "prune-src", "prune-target", false, 0.4, nil)

	t.Run("default retention keeps recent records", func(t *testing.T) {
		resp, err := authedRequest("POST", testSrv.URL+"/v1/history/prune", adminToken, nil)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var result struct {
			Data model.PruneResponse `json:"data"`
		}
		data, _ := io.ReadAll(resp.Body)
		require.NoError(t, json.Unmarshal(data, &result))
		assert.Zero(t, result.Data.Removed)
	})

	t.Run("negative age rejected", func(t *testing.T) {
		resp, err := authedRequest("POST", testSrv.URL+"/v1/history/prune", adminToken,
			model.PruneRequest{MaxAgeSeconds: ptrFloat64(-5)})
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("zero age removes everything", func(t *testing.T) {
		resp, err := authedRequest("POST", testSrv.URL+"/v1/history/prune", adminToken,
			model.PruneRequest{MaxAgeSeconds: ptrFloat64(0)})
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var result struct {
			Data model.PruneResponse `json:"data"`
		}
		data, _ := io.ReadAll(resp.Body)
		require.NoError(t, json.Unmarshal(data, &result))
		assert.GreaterOrEqual(t, result.Data.Removed, 2)

		// The engine is empty afterwards.
		resp2, err := http.Get(testSrv.URL + "/health")
		require.NoError(t, err)
		defer func() { _ = resp2.Body.Close() }()

		var health struct {
			Data model.HealthResponse `json:"data"`
		}
		data2, _ := io.ReadAll(resp2.Body)
		require.NoError(t, json.Unmarshal(data2, &health))
		assert.Zero(t, health.Data.Records)
	})
}

// provider-sim is a stand-in upstream for local development: point the
// relay's provider endpoints at it and it answers /v1/messages with
// deterministic completions and the quota surface of the configured
// provider family.
//
// Configuration via environment:
//
//	PORT       listen port (default 8091)
//	PROVIDER   claude | claude-console | codex | gemini (default claude-console)
//	API_KEY    credential to require; empty accepts any
//	LATENCY_MS simulated upstream latency (default 150)
//
// Magic model names steer behavior so failure paths can be exercised on
// demand: a model containing "rate-limited" returns 429 with Retry-After,
// "badkey" returns 401, "flaky" returns 500 on every other call.
package main

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

const (
	defaultPort      = "8091"
	defaultProvider  = "claude-console"
	defaultLatencyMs = "150"
)

var (
	provider  = getEnv("PROVIDER", defaultProvider)
	apiKey    = getEnv("API_KEY", "")
	latencyMs = getEnvInt("LATENCY_MS", defaultLatencyMs)

	// calls drives the simulated utilization ramp: every request nudges
	// the reported quota usage upward until it caps out.
	calls atomic.Int64
)

type messageRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content any    `json:"content"`
	} `json:"messages"`
}

type usageBlock struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type messageResponse struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Role    string         `json:"role"`
	Model   string         `json:"model"`
	Content []contentBlock `json:"content"`
	Usage   usageBlock     `json:"usage"`
}

type errorResponse struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func main() {
	port := getEnv("PORT", defaultPort)

	http.HandleFunc("/health", handleHealth)
	http.HandleFunc("/v1/messages", handleMessages)

	log.Printf("provider-sim starting on port %s", port)
	log.Printf("provider family: %s", provider)
	if apiKey == "" {
		log.Printf("credential check: disabled (set API_KEY to enable)")
	} else {
		log.Printf("credential check: enabled")
	}
	log.Printf("simulated latency: %dms", latencyMs)

	if err := http.ListenAndServe(":"+port, nil); err != nil {
		log.Fatal(err)
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":   "healthy",
		"service":  "provider-sim",
		"provider": provider,
	})
}

func handleMessages(w http.ResponseWriter, r *http.Request) {
	time.Sleep(time.Duration(latencyMs) * time.Millisecond)
	log.Printf("request: %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)

	if r.Method != http.MethodPost {
		sendError(w, http.StatusMethodNotAllowed, "invalid_request_error", "method not allowed")
		return
	}
	if !credentialOK(r) {
		sendError(w, http.StatusUnauthorized, "authentication_error", "invalid credential")
		return
	}

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid_request_error", "unparseable body: "+err.Error())
		return
	}
	if req.Model == "" {
		sendError(w, http.StatusBadRequest, "invalid_request_error", "model is required")
		return
	}

	n := calls.Add(1)

	switch {
	case strings.Contains(req.Model, "rate-limited"):
		w.Header().Set("Retry-After", "30")
		sendError(w, http.StatusTooManyRequests, "rate_limit_error", "simulated rate limit")
		return
	case strings.Contains(req.Model, "badkey"):
		sendError(w, http.StatusUnauthorized, "authentication_error", "simulated credential rejection")
		return
	case strings.Contains(req.Model, "flaky") && n%2 == 0:
		sendError(w, http.StatusInternalServerError, "api_error", "simulated upstream failure")
		return
	}

	writeQuotaHeaders(w, n)

	resp := buildResponse(req, n)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)

	log.Printf("completed: model=%s call=%d in=%d out=%d",
		req.Model, n, resp.Usage.InputTokens, resp.Usage.OutputTokens)
}

func credentialOK(r *http.Request) bool {
	if apiKey == "" {
		return true
	}
	switch provider {
	case "claude":
		return r.Header.Get("X-Api-Key") == apiKey
	case "gemini":
		return r.Header.Get("X-Goog-Api-Key") == apiKey
	default:
		return r.Header.Get("Authorization") == "Bearer "+apiKey
	}
}

// writeQuotaHeaders emits the quota surface of the configured provider
// family so the pool's extractor has something real to chew on. The
// utilization ramps with the call count and caps below exhaustion.
func writeQuotaHeaders(w http.ResponseWriter, n int64) {
	used := min(95, n*5)
	reset := time.Now().Add(2 * time.Hour).UTC().Format(time.RFC3339)

	switch provider {
	case "claude-console":
		w.Header().Set("Anthropic-Ratelimit-Unified-Status", "allowed")
		w.Header().Set("Anthropic-Ratelimit-Unified-5h-Utilization", strconv.FormatInt(used, 10))
		w.Header().Set("Anthropic-Ratelimit-Unified-5h-Reset", reset)
	case "codex":
		const limit = 200000
		remaining := limit - used*limit/100
		w.Header().Set("X-Ratelimit-Limit-Tokens", strconv.Itoa(limit))
		w.Header().Set("X-Ratelimit-Remaining-Tokens", strconv.FormatInt(remaining, 10))
		w.Header().Set("X-Ratelimit-Reset-Tokens", "2h0m0s")
	}
	// The claude and gemini families report quota on separate endpoints,
	// not on completion responses.
}

// buildResponse derives a deterministic completion from the request, so
// the same prompt always produces the same tokens and text.
func buildResponse(req messageRequest, n int64) messageResponse {
	raw, _ := json.Marshal(req.Messages)
	hash := sha256.Sum256(raw)

	inputTokens := 20 + int(hash[0])
	outputTokens := 30 + int(hash[1])
	lines := []string{
		"Understood, proceeding as requested.",
		"Here is a short answer to keep things moving.",
		"Simulated completion; no model was consulted.",
		"All set on this end.",
	}

	return messageResponse{
		ID:    fmt.Sprintf("msg_sim_%x", hash[:6]),
		Type:  "message",
		Role:  "assistant",
		Model: req.Model,
		Content: []contentBlock{
			{Type: "text", Text: lines[int(hash[2])%len(lines)]},
		},
		Usage: usageBlock{InputTokens: inputTokens, OutputTokens: outputTokens},
	}
}

func sendError(w http.ResponseWriter, code int, errType, message string) {
	var body errorResponse
	body.Type = "error"
	body.Error.Type = errType
	body.Error.Message = message

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
	log.Printf("error response: %d %s", code, message)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key, fallback string) int {
	value := getEnv(key, fallback)
	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("invalid integer for %s, using default %s", key, fallback)
		parsed, _ = strconv.Atoi(fallback)
	}
	return parsed
}

package threat

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockThreatIntelServer is an httptest server speaking the VirusTotal v3 and
// AbuseIPDB v2 lookup APIs, for backend and end-to-end tests
type MockThreatIntelServer struct {
	server *httptest.Server

	mu          sync.RWMutex
	requests    []CapturedThreatIntelRequest
	responses   map[string]ThreatIntelResponse
	vtStats     map[string]VirusTotalStats
	abuseScores map[string]int
	failNext    int
	failStatus  int
	delay       time.Duration
	rateLimited bool
	retryAfter  string
	apiKey      string
}

// CapturedThreatIntelRequest is a request seen by the mock server
type CapturedThreatIntelRequest struct {
	Method     string
	Path       string
	Query      string
	APIKey     string
	CapturedAt time.Time
}

// ThreatIntelResponse overrides the reply for one indicator key ("ip:1.2.3.4")
type ThreatIntelResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
}

// VirusTotalStats mirrors last_analysis_stats
type VirusTotalStats struct {
	Malicious  int `json:"malicious"`
	Suspicious int `json:"suspicious"`
	Harmless   int `json:"harmless"`
	Undetected int `json:"undetected"`
}

// MockAPIKey is the key the mock server accepts by default
const MockAPIKey = "test-api-key"

// NewMockThreatIntelServer starts a mock threat intelligence server
func NewMockThreatIntelServer() *MockThreatIntelServer {
	m := &MockThreatIntelServer{
		responses:   make(map[string]ThreatIntelResponse),
		vtStats:     make(map[string]VirusTotalStats),
		abuseScores: make(map[string]int),
		failStatus:  http.StatusInternalServerError,
		apiKey:      MockAPIKey,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/ip_addresses/", m.handleVirusTotal("ip", "/api/v3/ip_addresses/"))
	mux.HandleFunc("/api/v3/domains/", m.handleVirusTotal("domain", "/api/v3/domains/"))
	mux.HandleFunc("/api/v3/files/", m.handleVirusTotal("hash", "/api/v3/files/"))
	mux.HandleFunc("/api/v2/check", m.handleAbuseIPDB)

	m.server = httptest.NewServer(mux)
	return m
}

func (m *MockThreatIntelServer) handleVirusTotal(kind, prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		value := strings.ToLower(strings.TrimPrefix(r.URL.Path, prefix))
		key := kind + ":" + value
		if !m.preamble(w, r, r.Header.Get("x-apikey"), key) {
			return
		}

		m.mu.RLock()
		stats, ok := m.vtStats[key]
		m.mu.RUnlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error": {"code": "NotFoundError"}}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"id": value,
				"attributes": map[string]interface{}{
					"last_analysis_stats": stats,
				},
			},
		})
	}
}

func (m *MockThreatIntelServer) handleAbuseIPDB(w http.ResponseWriter, r *http.Request) {
	ip := r.URL.Query().Get("ipAddress")
	key := "ip:" + ip
	if !m.preamble(w, r, r.Header.Get("Key"), key) {
		return
	}

	m.mu.RLock()
	score := m.abuseScores[key]
	m.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data": map[string]interface{}{
			"ipAddress":            ip,
			"abuseConfidenceScore": score,
			"isWhitelisted":        false,
			"totalReports":         score / 10,
		},
	})
}

// preamble records the request and applies auth, rate limiting, failures and
// per-key overrides. It returns false if the response has been written.
func (m *MockThreatIntelServer) preamble(w http.ResponseWriter, r *http.Request, apiKey, key string) bool {
	m.mu.Lock()
	m.requests = append(m.requests, CapturedThreatIntelRequest{
		Method:     r.Method,
		Path:       r.URL.Path,
		Query:      r.URL.RawQuery,
		APIKey:     apiKey,
		CapturedAt: time.Now(),
	})
	delay := m.delay
	rateLimited := m.rateLimited
	retryAfter := m.retryAfter
	fail := m.failNext != 0
	if m.failNext > 0 {
		m.failNext--
	}
	failStatus := m.failStatus
	override, hasOverride := m.responses[key]
	wantKey := m.apiKey
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return false
		}
	}
	if apiKey != wantKey {
		w.WriteHeader(http.StatusUnauthorized)
		return false
	}
	if rateLimited {
		if retryAfter != "" {
			w.Header().Set("Retry-After", retryAfter)
		}
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"code": "QuotaExceededError"}}`))
		return false
	}
	if fail {
		w.WriteHeader(failStatus)
		return false
	}
	if hasOverride {
		for k, v := range override.Headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(override.StatusCode)
		_, _ = w.Write([]byte(override.Body))
		return false
	}
	return true
}

// SetVirusTotalStats sets the analysis stats returned for an indicator key; unknown keys get 404
func (m *MockThreatIntelServer) SetVirusTotalStats(key string, stats VirusTotalStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vtStats[key] = stats
}

// SetAbuseScore sets the AbuseIPDB confidence score for an IP; unknown IPs score 0
func (m *MockThreatIntelServer) SetAbuseScore(ip string, score int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.abuseScores["ip:"+ip] = score
}

// SetResponse overrides the full reply for an indicator key
func (m *MockThreatIntelServer) SetResponse(key string, response ThreatIntelResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[key] = response
}

// FailNext makes the next n requests fail with statusCode; n < 0 fails all requests
func (m *MockThreatIntelServer) FailNext(n int, statusCode int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
	m.failStatus = statusCode
}

// SetDelay delays every response
func (m *MockThreatIntelServer) SetDelay(delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = delay
}

// SetRateLimited answers every request with 429 and the given Retry-After seconds (0 omits the header)
func (m *MockThreatIntelServer) SetRateLimited(rateLimited bool, retryAfterSeconds int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateLimited = rateLimited
	m.retryAfter = ""
	if retryAfterSeconds > 0 {
		m.retryAfter = strconv.Itoa(retryAfterSeconds)
	}
}

// SetAPIKey changes the accepted API key
func (m *MockThreatIntelServer) SetAPIKey(apiKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apiKey = apiKey
}

// GetRequests returns a copy of the captured requests
func (m *MockThreatIntelServer) GetRequests() []CapturedThreatIntelRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]CapturedThreatIntelRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// RequestCount returns the number of requests received
func (m *MockThreatIntelServer) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// URL returns the server base URL
func (m *MockThreatIntelServer) URL() string {
	return m.server.URL
}

// Close shuts the server down
func (m *MockThreatIntelServer) Close() {
	m.server.Close()
}

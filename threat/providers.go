package threat

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"soctriage/core"
)

// Default API endpoints
const (
	DefaultVirusTotalURL = "https://www.virustotal.com"
	DefaultAbuseIPDBURL  = "https://api.abuseipdb.com"
)

// Backend looks up the reputation of a single indicator. Errors should be
// *BackendError values so the client can tell transient failures from permanent ones.
type Backend interface {
	Name() string
	Lookup(ctx context.Context, kind core.IndicatorKind, value string) (Reputation, error)
}

func newHTTPClient(timeout time.Duration) *http.Client {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}
	transport := &http.Transport{
		TLSClientConfig: tlsConfig,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// VirusTotalBackend queries the VirusTotal v3 API
type VirusTotalBackend struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewVirusTotalBackend creates a VirusTotal backend. An empty baseURL uses the public API.
func NewVirusTotalBackend(apiKey, baseURL string, timeout time.Duration) *VirusTotalBackend {
	if baseURL == "" {
		baseURL = DefaultVirusTotalURL
	}
	return &VirusTotalBackend{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  newHTTPClient(timeout),
	}
}

// Name returns the provider name
func (b *VirusTotalBackend) Name() string {
	return "virustotal"
}

// Lookup returns the share of engines flagging the indicator as malicious, scaled to 0-100.
// Indicators VirusTotal has never seen are reported clean.
func (b *VirusTotalBackend) Lookup(ctx context.Context, kind core.IndicatorKind, value string) (Reputation, error) {
	var collection string
	switch kind {
	case core.IndicatorIP:
		collection = "ip_addresses"
	case core.IndicatorDomain:
		collection = "domains"
	case core.IndicatorFileHash:
		collection = "files"
	default:
		return Reputation{}, &BackendError{Provider: b.Name(), Kind: ErrorKindPermanent, Err: ErrUnsupportedKind}
	}

	endpoint := fmt.Sprintf("%s/api/v3/%s/%s", b.baseURL, collection, url.PathEscape(value))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Reputation{}, &BackendError{Provider: b.Name(), Kind: ErrorKindPermanent, Err: err}
	}
	req.Header.Set("x-apikey", b.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return Reputation{}, &BackendError{Provider: b.Name(), Kind: ErrorKindTransient, Err: err}
	}
	defer drainAndClose(resp)

	if resp.StatusCode == http.StatusNotFound {
		return Reputation{Score: 0, HasDetections: true}, nil
	}
	if err := statusError(b.Name(), resp); err != nil {
		return Reputation{}, err
	}

	var vtResponse struct {
		Data struct {
			Attributes struct {
				LastAnalysisStats struct {
					Malicious  int `json:"malicious"`
					Suspicious int `json:"suspicious"`
					Harmless   int `json:"harmless"`
					Undetected int `json:"undetected"`
				} `json:"last_analysis_stats"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&vtResponse); err != nil {
		return Reputation{}, &BackendError{Provider: b.Name(), Kind: ErrorKindPermanent, Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	stats := vtResponse.Data.Attributes.LastAnalysisStats
	total := stats.Malicious + stats.Suspicious + stats.Harmless + stats.Undetected
	score := 0
	if total > 0 {
		score = int(math.Round(float64(stats.Malicious) / float64(total) * 100))
	}

	return Reputation{
		Score:         score,
		Detections:    stats.Malicious,
		HasDetections: true,
	}, nil
}

// AbuseIPDBBackend queries the AbuseIPDB check API (IP addresses only)
type AbuseIPDBBackend struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewAbuseIPDBBackend creates an AbuseIPDB backend. An empty baseURL uses the public API.
func NewAbuseIPDBBackend(apiKey, baseURL string, timeout time.Duration) *AbuseIPDBBackend {
	if baseURL == "" {
		baseURL = DefaultAbuseIPDBURL
	}
	return &AbuseIPDBBackend{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  newHTTPClient(timeout),
	}
}

// Name returns the provider name
func (b *AbuseIPDBBackend) Name() string {
	return "abuseipdb"
}

// Lookup returns the abuse confidence score, which is already on a 0-100 scale
func (b *AbuseIPDBBackend) Lookup(ctx context.Context, kind core.IndicatorKind, value string) (Reputation, error) {
	if kind != core.IndicatorIP {
		return Reputation{}, &BackendError{Provider: b.Name(), Kind: ErrorKindPermanent, Err: ErrUnsupportedKind}
	}

	query := url.Values{}
	query.Set("ipAddress", value)
	query.Set("maxAgeInDays", "90")
	endpoint := fmt.Sprintf("%s/api/v2/check?%s", b.baseURL, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Reputation{}, &BackendError{Provider: b.Name(), Kind: ErrorKindPermanent, Err: err}
	}
	req.Header.Set("Key", b.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return Reputation{}, &BackendError{Provider: b.Name(), Kind: ErrorKindTransient, Err: err}
	}
	defer drainAndClose(resp)

	if err := statusError(b.Name(), resp); err != nil {
		return Reputation{}, err
	}

	var abuseResponse struct {
		Data struct {
			AbuseConfidenceScore int  `json:"abuseConfidenceScore"`
			IsWhitelisted        bool `json:"isWhitelisted"`
			TotalReports         int  `json:"totalReports"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&abuseResponse); err != nil {
		return Reputation{}, &BackendError{Provider: b.Name(), Kind: ErrorKindPermanent, Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	data := abuseResponse.Data
	score := data.AbuseConfidenceScore
	if data.IsWhitelisted {
		score = 0
	}
	return Reputation{
		Score:         score,
		Detections:    data.TotalReports,
		HasDetections: true,
	}, nil
}

// statusError maps a non-200 response to a classified error
func statusError(provider string, resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return &BackendError{
			Provider:   provider,
			Kind:       ErrorKindRateLimited,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	case resp.StatusCode >= 500:
		return &BackendError{Provider: provider, Kind: ErrorKindTransient, StatusCode: resp.StatusCode}
	default:
		return &BackendError{Provider: provider, Kind: ErrorKindPermanent, StatusCode: resp.StatusCode}
	}
}

// parseRetryAfter accepts delta-seconds or an HTTP date; zero means no hint
func parseRetryAfter(header string, now time.Time) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	_ = resp.Body.Close()
}

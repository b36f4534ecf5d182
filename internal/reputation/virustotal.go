package reputation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/welldanyogia/webrana-phishtriage/internal/errors"
	"golang.org/x/time/rate"
)

// Default VirusTotal client settings
const (
	DefaultVirusTotalBaseURL = "https://www.virustotal.com/api/v3"
	DefaultTimeout           = 10 * time.Second
	maxResponseBytes         = 1 << 20
)

// VirusTotalConfig holds configuration for the VirusTotal client
type VirusTotalConfig struct {
	APIKey  string
	BaseURL string
	// RequestsPerSecond bounds the call rate shared by every caller.
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	HTTPClient        *http.Client
}

// VirusTotal looks up URL verdicts through the VirusTotal v3 API.
type VirusTotal struct {
	apiKey  string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

type vtURLResponse struct {
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

// NewVirusTotal creates a VirusTotal client
func NewVirusTotal(cfg VirusTotalConfig) *VirusTotal {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultVirusTotalBaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	return &VirusTotal{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// URLIdentifier returns the VirusTotal identifier for a URL: unpadded
// URL-safe base64 of the URL itself.
func URLIdentifier(url string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(url))
}

// Lookup fetches the last analysis stats for url. Unknown URLs yield a zero
// Result without error.
func (v *VirusTotal) Lookup(ctx context.Context, url string) (Result, error) {
	if err := v.limiter.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("%w: rate limiter: %v", apperrors.ErrLookup, err)
	}

	endpoint := v.baseURL + "/urls/" + URLIdentifier(url)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Result{}, fmt.Errorf("%w: build request: %v", apperrors.ErrLookup, err)
	}
	req.Header.Set("x-apikey", v.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", apperrors.ErrLookup, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Result{}, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return Result{}, fmt.Errorf("%w: quota exceeded", apperrors.ErrLookup)
	case resp.StatusCode != http.StatusOK:
		return Result{}, fmt.Errorf("%w: unexpected status %d", apperrors.ErrLookup, resp.StatusCode)
	}

	var body vtURLResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil {
		return Result{}, fmt.Errorf("%w: decode response: %v", apperrors.ErrLookup, err)
	}

	stats := body.Data.Attributes.LastAnalysisStats
	return Result{Malicious: stats.Malicious, Suspicious: stats.Suspicious}.Normalize(), nil
}

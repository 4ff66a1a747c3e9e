// Package mathengine is the client of the external weight-calculation service.
package mathengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/wonny/folio/internal/contracts"
	"github.com/wonny/folio/pkg/httputil"
	"github.com/wonny/folio/pkg/logger"
)

const calculatePath = "/calculate"

// ErrEngine is matched by every error this package returns
var ErrEngine = errors.New("weight engine failure")

// Error wraps a failed engine call
type Error struct {
	Status int // HTTP status, 0 when no response was received
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("math engine request failed with status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("math engine request failed: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrEngine }

// Client calls POST {baseURL}/calculate
type Client struct {
	http    *httputil.Client
	baseURL string
	logger  *logger.Logger
}

// NewClient creates an engine client
func NewClient(httpClient *httputil.Client, baseURL string, log *logger.Logger) *Client {
	return &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  log,
	}
}

type calculateRequest struct {
	Tickers []string `json:"tickers"`
	Cap     *float64 `json:"cap"`
	TopN    *int     `json:"top_n"`
}

type calculateResponse struct {
	Weights *[]weightPair `json:"weights"`
}

type weightPair struct {
	Ticker string    `json:"ticker"`
	Weight flexFloat `json:"weight"`
}

// flexFloat accepts 0.41 as well as "0.41"
type flexFloat struct {
	Value float64
	Set   bool
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid weight %q", s)
	}
	f.Value, f.Set = v, true
	return nil
}

// CalculateWeights returns the per-ticker weight fractions for tickers.
// cap and topN are optional cap-and-redistribute parameters.
func (c *Client) CalculateWeights(ctx context.Context, tickers []string, cap *float64, topN *int) (contracts.Weights, error) {
	if c.baseURL == "" {
		return nil, &Error{Err: errors.New("ENGINE_URL is not set")}
	}

	body := calculateRequest{Tickers: tickers, Cap: cap, TopN: topN}
	log := c.logger.WithFields(map[string]interface{}{
		"tickers": tickers,
		"cap":     cap,
		"top_n":   topN,
	})
	log.Info("Calling math engine")

	resp, err := c.http.PostJSON(ctx, c.baseURL+calculatePath, body)
	if err != nil {
		return nil, &Error{Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{Status: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	}

	weights, err := parseWeights(payload)
	if err != nil {
		return nil, &Error{Status: resp.StatusCode, Err: err}
	}

	log.WithField("weights", weights).Debug("Math engine responded")
	return weights, nil
}

func parseWeights(payload []byte) (contracts.Weights, error) {
	var decoded calculateResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}
	if decoded.Weights == nil {
		return nil, errors.New("malformed response: missing weights")
	}

	weights := make(contracts.Weights, len(*decoded.Weights))
	for i, pair := range *decoded.Weights {
		if pair.Ticker == "" || !pair.Weight.Set {
			return nil, fmt.Errorf("malformed response: incomplete weight at index %d", i)
		}
		weights[pair.Ticker] = pair.Weight.Value
	}
	return weights, nil
}

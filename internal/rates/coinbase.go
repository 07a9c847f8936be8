package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultCoinbaseURL is the production spot-price API base.
const DefaultCoinbaseURL = "https://api.coinbase.com"

// Coinbase fetches BTC spot prices from the Coinbase public API.
type Coinbase struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewCoinbase builds the adapter. baseURL may be empty to use the production
// endpoint; tests point it at a local server.
func NewCoinbase(baseURL string, logger *zap.Logger) *Coinbase {
	if baseURL == "" {
		baseURL = DefaultCoinbaseURL
	}
	return &Coinbase{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

func (c *Coinbase) Name() string { return "coinbase" }

// RateFor queries GET /v2/prices/BTC-<CUR>/spot and parses the quoted amount.
func (c *Coinbase) RateFor(ctx context.Context, currency string) (float64, error) {
	reqURL := fmt.Sprintf("%s/v2/prices/BTC-%s/spot", c.baseURL, strings.ToUpper(currency))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, fmt.Errorf("building rate request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetching rate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("rate endpoint returned status %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		Data struct {
			Amount   string `json:"amount"`
			Currency string `json:"currency"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("parsing rate response: %w", err)
	}

	rate, err := strconv.ParseFloat(payload.Data.Amount, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing rate amount %q: %w", payload.Data.Amount, err)
	}

	c.logger.Debug("rate fetched",
		zap.String("adapter", c.Name()),
		zap.String("currency", currency),
		zap.Float64("rate", rate),
	)
	return rate, nil
}

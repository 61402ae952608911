package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/ultratrader/internal/domain"
)

// DataClient is the REST client for the Polymarket data API, which exposes
// on-chain trade activity per wallet. The wallet watcher polls it to turn a
// tracked wallet's trades into copy signals.
type DataClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewDataClient creates a new data API client.
//
// baseURL is the data API root, e.g. "https://data-api.polymarket.com".
func NewDataClient(baseURL string) *DataClient {
	return &DataClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// GetWalletTrades returns the most recent trades executed by wallet, newest
// first. limit caps the page size; the API defaults to 100.
func (d *DataClient) GetWalletTrades(ctx context.Context, wallet string, limit int) ([]domain.WalletSignal, error) {
	params := url.Values{}
	params.Set("user", wallet)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/trades?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("polymarket/data: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("polymarket/data: get trades for %s: %w", wallet, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("polymarket/data: read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, fmt.Errorf("polymarket/data: get trades for %s: %w", wallet, err)
	}

	var apiTrades []APITrade
	if err := json.Unmarshal(body, &apiTrades); err != nil {
		return nil, fmt.Errorf("polymarket/data: decode trades: %w", err)
	}

	signals := make([]domain.WalletSignal, 0, len(apiTrades))
	for i := range apiTrades {
		signals = append(signals, apiTrades[i].ToDomainSignal())
	}

	return signals, nil
}

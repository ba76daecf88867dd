package marketdata

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const polygonBaseURL = "https://api.polygon.io"

// defaultOptionsPageLimit is the per-page size for options-chain listings.
const defaultOptionsPageLimit = 250

// PolygonClient talks to the Polygon.io REST API.
type PolygonClient struct {
	rest   restClient
	apiKey string
}

// NewPolygonClient creates a Polygon client. The API key is passed as a
// query parameter on every request.
func NewPolygonClient(apiKey string, opts ...ClientOption) *PolygonClient {
	return &PolygonClient{
		rest:   newRESTClient("polygon", polygonBaseURL, opts...),
		apiKey: apiKey,
	}
}

type polygonAgg struct {
	T int64   `json:"t"`
	O float64 `json:"o"`
	H float64 `json:"h"`
	L float64 `json:"l"`
	C float64 `json:"c"`
	V float64 `json:"v"`
}

type polygonAggsResponse struct {
	Ticker       string       `json:"ticker"`
	ResultsCount int          `json:"resultsCount"`
	Results      []polygonAgg `json:"results"`
}

// polygonTimespan maps a timespan to Polygon's multiplier/unit pair.
func polygonTimespan(timespan Timespan) (int, string, error) {
	switch timespan {
	case Timespan1Min:
		return 1, "minute", nil
	case Timespan15Min:
		return 15, "minute", nil
	case Timespan1Hour:
		return 1, "hour", nil
	case TimespanDay:
		return 1, "day", nil
	case TimespanMonth:
		return 1, "month", nil
	}
	return 0, "", fmt.Errorf("unsupported timespan %q", timespan)
}

// Aggs fetches aggregate bars for symbol between from and to.
func (c *PolygonClient) Aggs(ctx context.Context, symbol string, timespan Timespan, from, to time.Time) ([]Candle, error) {
	multiplier, unit, err := polygonTimespan(timespan)
	if err != nil {
		return nil, err
	}

	path := fmt.Sprintf("/v2/aggs/ticker/%s/range/%d/%s/%s/%s",
		strings.ToUpper(symbol), multiplier, unit,
		from.Format("2006-01-02"), to.Format("2006-01-02"))

	query := url.Values{}
	query.Set("adjusted", "true")
	query.Set("sort", "asc")
	query.Set("limit", "50000")
	query.Set("apiKey", c.apiKey)

	var resp polygonAggsResponse
	if err := c.rest.get(ctx, path, query, &resp); err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(resp.Results))
	for _, r := range resp.Results {
		candles = append(candles, Candle{T: r.T, O: r.O, H: r.H, L: r.L, C: r.C, V: r.V})
	}
	return candles, nil
}

// Candles fetches bars for the trailing window ending now. The "max"
// window is resolved per timespan before the range is computed.
func (c *PolygonClient) Candles(ctx context.Context, symbol string, timespan Timespan, window string) ([]Candle, error) {
	delta, err := ParseWindow(ResolveWindow(window, timespan))
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return c.Aggs(ctx, symbol, timespan, now.Add(-delta), now)
}

// PrevClose fetches the previous trading day's bar for symbol.
func (c *PolygonClient) PrevClose(ctx context.Context, symbol string) (Candle, error) {
	path := fmt.Sprintf("/v2/aggs/ticker/%s/prev", strings.ToUpper(symbol))

	query := url.Values{}
	query.Set("adjusted", "true")
	query.Set("apiKey", c.apiKey)

	var resp polygonAggsResponse
	if err := c.rest.get(ctx, path, query, &resp); err != nil {
		return Candle{}, err
	}
	if len(resp.Results) == 0 {
		return Candle{}, fmt.Errorf("no previous close for %s", symbol)
	}
	r := resp.Results[0]
	return Candle{T: r.T, O: r.O, H: r.H, L: r.L, C: r.C, V: r.V}, nil
}

type polygonTickersResponse struct {
	Results []struct {
		Ticker string `json:"ticker"`
		Name   string `json:"name"`
	} `json:"results"`
}

// SearchTickers searches active tickers matching query.
func (c *PolygonClient) SearchTickers(ctx context.Context, search string, limit int) ([]SymbolMatch, error) {
	query := url.Values{}
	query.Set("search", search)
	query.Set("active", "true")
	query.Set("limit", strconv.Itoa(limit))
	query.Set("apiKey", c.apiKey)

	var resp polygonTickersResponse
	if err := c.rest.get(ctx, "/v3/reference/tickers", query, &resp); err != nil {
		return nil, err
	}

	matches := make([]SymbolMatch, 0, len(resp.Results))
	for _, r := range resp.Results {
		matches = append(matches, SymbolMatch{Symbol: r.Ticker, Name: r.Name})
	}
	return matches, nil
}

type polygonContractsResponse struct {
	Results []struct {
		Ticker            string  `json:"ticker"`
		UnderlyingTicker  string  `json:"underlying_ticker"`
		ContractType      string  `json:"contract_type"`
		ExpirationDate    string  `json:"expiration_date"`
		StrikePrice       float64 `json:"strike_price"`
		ExerciseStyle     string  `json:"exercise_style"`
		SharesPerContract int     `json:"shares_per_contract"`
		PrimaryExchange   string  `json:"primary_exchange"`
	} `json:"results"`
	NextURL string `json:"next_url"`
}

// OptionContracts lists reference option contracts for an underlying,
// following cursor pages until the chain is exhausted.
func (c *PolygonClient) OptionContracts(ctx context.Context, underlying string, filter OptionsFilter) ([]OptionContract, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultOptionsPageLimit
	}

	var contracts []OptionContract
	cursor := ""

	for {
		query := url.Values{}
		query.Set("underlying_ticker", strings.ToUpper(underlying))
		query.Set("limit", strconv.Itoa(limit))
		query.Set("order", "asc")
		query.Set("sort", "expiration_date")
		query.Set("apiKey", c.apiKey)
		if filter.Expiration != "" {
			query.Set("expiration_date", filter.Expiration)
		}
		if filter.ContractType != "" {
			query.Set("contract_type", filter.ContractType)
		}
		if cursor != "" {
			query.Set("cursor", cursor)
		}

		var resp polygonContractsResponse
		if err := c.rest.get(ctx, "/v3/reference/options/contracts", query, &resp); err != nil {
			return nil, err
		}

		for _, r := range resp.Results {
			contracts = append(contracts, OptionContract{
				Ticker:            r.Ticker,
				Underlying:        r.UnderlyingTicker,
				ContractType:      r.ContractType,
				ExpirationDate:    r.ExpirationDate,
				StrikePrice:       r.StrikePrice,
				ExerciseStyle:     r.ExerciseStyle,
				SharesPerContract: r.SharesPerContract,
				PrimaryExchange:   r.PrimaryExchange,
			})
		}

		cursor = cursorFromNextURL(resp.NextURL)
		if cursor == "" {
			break
		}
	}

	return contracts, nil
}

// OptionExpirations returns the distinct expiration dates of the chain,
// ascending.
func (c *PolygonClient) OptionExpirations(ctx context.Context, underlying string) ([]string, error) {
	contracts, err := c.OptionContracts(ctx, underlying, OptionsFilter{Limit: 1000})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var dates []string
	for _, contract := range contracts {
		if contract.ExpirationDate == "" || seen[contract.ExpirationDate] {
			continue
		}
		seen[contract.ExpirationDate] = true
		dates = append(dates, contract.ExpirationDate)
	}
	sort.Strings(dates)
	return dates, nil
}

// Quote builds a snapshot from the previous daily bar and the intraday
// minute tail.
func (c *PolygonClient) Quote(ctx context.Context, symbol string) (Quote, error) {
	prev, err := c.PrevClose(ctx, symbol)
	if err != nil {
		return Quote{}, err
	}

	q := Quote{Symbol: strings.ToUpper(symbol), PrevClose: prev.C}

	now := time.Now().UTC()
	bars, err := c.Aggs(ctx, symbol, Timespan1Min, now.Add(-24*time.Hour), now)
	if err == nil && len(bars) > 0 {
		last := bars[len(bars)-1]
		q.Price = last.C
		q.Open = bars[0].O
		q.High = bars[0].H
		q.Low = bars[0].L
		for _, b := range bars {
			if b.H > q.High {
				q.High = b.H
			}
			if b.L < q.Low {
				q.Low = b.L
			}
			q.Volume += b.V
		}
		q.UpdatedAt = last.Time()
	} else {
		// No intraday bars (closed session); report the previous bar.
		q.Price = prev.C
		q.Open = prev.O
		q.High = prev.H
		q.Low = prev.L
		q.Volume = prev.V
		q.UpdatedAt = prev.Time()
	}

	q.Change = q.Price - q.PrevClose
	if q.PrevClose != 0 {
		q.ChangePct = q.Change / q.PrevClose * 100.0
	}
	return q, nil
}

// cursorFromNextURL extracts the cursor parameter from a next_url link.
func cursorFromNextURL(nextURL string) string {
	if nextURL == "" {
		return ""
	}
	u, err := url.Parse(nextURL)
	if err != nil {
		return ""
	}
	return u.Query().Get("cursor")
}

package marketdata

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const yahooBaseURL = "https://query1.finance.yahoo.com"

// YahooClient talks to the public Yahoo Finance chart API. It needs no
// API key but rejects requests without a browser User-Agent.
type YahooClient struct {
	rest restClient
}

// NewYahooClient creates a Yahoo Finance client.
func NewYahooClient(opts ...ClientOption) *YahooClient {
	c := &YahooClient{
		rest: newRESTClient("yahoo", yahooBaseURL, opts...),
	}
	if c.rest.headers == nil {
		c.rest.headers = map[string]string{}
	}
	c.rest.headers["User-Agent"] = browserUserAgent
	return c
}

type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				ChartPreviousClose float64 `json:"chartPreviousClose"`
				RegularMarketTime  int64   `json:"regularMarketTime"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
	} `json:"chart"`
}

// yahooInterval maps a timespan to Yahoo's interval parameter.
func yahooInterval(timespan Timespan) string {
	switch timespan {
	case Timespan1Min:
		return "1m"
	case Timespan15Min:
		return "15m"
	case Timespan1Hour:
		return "60m"
	case TimespanDay:
		return "1d"
	}
	return "1mo"
}

// Candles fetches bars for the window. The window string is passed to
// Yahoo's range parameter as-is; Yahoo understands "max" natively.
func (c *YahooClient) Candles(ctx context.Context, symbol string, timespan Timespan, window string) ([]Candle, error) {
	candles, _, err := c.chart(ctx, symbol, yahooInterval(timespan), window)
	return candles, err
}

func (c *YahooClient) chart(ctx context.Context, symbol, interval, chartRange string) ([]Candle, *yahooChartResponse, error) {
	path := "/v8/finance/chart/" + url.PathEscape(symbol)
	query := url.Values{}
	query.Set("interval", interval)
	query.Set("range", chartRange)

	var resp yahooChartResponse
	if err := c.rest.get(ctx, path, query, &resp); err != nil {
		return nil, nil, err
	}
	if len(resp.Chart.Result) == 0 {
		return nil, nil, fmt.Errorf("no chart data from yahoo for %s", symbol)
	}

	res := resp.Chart.Result[0]
	var quote struct {
		Open   []*float64
		High   []*float64
		Low    []*float64
		Close  []*float64
		Volume []*float64
	}
	if len(res.Indicators.Quote) > 0 {
		q := res.Indicators.Quote[0]
		quote.Open, quote.High, quote.Low, quote.Close, quote.Volume = q.Open, q.High, q.Low, q.Close, q.Volume
	}

	n := len(res.Timestamp)
	for _, series := range [][]*float64{quote.Open, quote.High, quote.Low, quote.Close} {
		if len(series) < n {
			n = len(series)
		}
	}

	candles := make([]Candle, 0, n)
	for i := 0; i < n; i++ {
		o, h, l, cl := quote.Open[i], quote.High[i], quote.Low[i], quote.Close[i]
		if o == nil || h == nil || l == nil || cl == nil {
			continue
		}
		var v float64
		if i < len(quote.Volume) && quote.Volume[i] != nil {
			v = *quote.Volume[i]
		}
		candles = append(candles, Candle{
			T: res.Timestamp[i] * 1000, // Yahoo timestamps are seconds
			O: *o,
			H: *h,
			L: *l,
			C: *cl,
			V: v,
		})
	}
	return candles, &resp, nil
}

type yahooSearchResponse struct {
	Quotes []struct {
		Symbol    string `json:"symbol"`
		ShortName string `json:"shortname"`
		LongName  string `json:"longname"`
	} `json:"quotes"`
}

// Search looks up symbols matching query.
func (c *YahooClient) Search(ctx context.Context, search string, limit int) ([]SymbolMatch, error) {
	query := url.Values{}
	query.Set("q", search)
	query.Set("quotesCount", strconv.Itoa(limit))
	query.Set("newsCount", "0")

	var resp yahooSearchResponse
	if err := c.rest.get(ctx, "/v1/finance/search", query, &resp); err != nil {
		return nil, err
	}

	var matches []SymbolMatch
	for _, q := range resp.Quotes {
		if q.Symbol == "" {
			continue
		}
		name := q.ShortName
		if name == "" {
			name = q.LongName
		}
		matches = append(matches, SymbolMatch{Symbol: q.Symbol, Name: name})
		if len(matches) >= limit {
			break
		}
	}
	return matches, nil
}

// Quote builds a snapshot from the 1-day minute chart and its meta block.
func (c *YahooClient) Quote(ctx context.Context, symbol string) (Quote, error) {
	bars, resp, err := c.chart(ctx, symbol, "1m", "1d")
	if err != nil {
		return Quote{}, err
	}
	meta := resp.Chart.Result[0].Meta

	q := Quote{
		Symbol:    strings.ToUpper(symbol),
		Price:     meta.RegularMarketPrice,
		PrevClose: meta.ChartPreviousClose,
	}
	if len(bars) > 0 {
		last := bars[len(bars)-1]
		if q.Price == 0 {
			q.Price = last.C
		}
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
	} else if meta.RegularMarketTime > 0 {
		q.UpdatedAt = time.Unix(meta.RegularMarketTime, 0)
	}

	q.Change = q.Price - q.PrevClose
	if q.PrevClose != 0 {
		q.ChangePct = q.Change / q.PrevClose * 100.0
	}
	return q, nil
}

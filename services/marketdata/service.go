package marketdata

import (
	"context"
	"log"
)

// Service fetches market data with provider fallback. Polygon is the
// primary provider when an API key is configured; any Polygon failure
// falls back to Yahoo. Options-chain lookups are Polygon-only.
type Service struct {
	polygon *PolygonClient
	yahoo   *YahooClient
}

// NewService creates a service. An empty polygonAPIKey disables the
// Polygon paths entirely.
func NewService(polygonAPIKey string) *Service {
	s := &Service{
		yahoo: NewYahooClient(),
	}
	if polygonAPIKey != "" {
		s.polygon = NewPolygonClient(polygonAPIKey)
	}
	return s
}

// NewServiceWithClients assembles a service from preconfigured clients.
// A nil polygon client disables the Polygon paths.
func NewServiceWithClients(polygon *PolygonClient, yahoo *YahooClient) *Service {
	return &Service{polygon: polygon, yahoo: yahoo}
}

// HasPolygon reports whether the primary provider is configured.
func (s *Service) HasPolygon() bool {
	return s.polygon != nil
}

// FetchCandles fetches bars for a symbol at the given timespan/window.
func (s *Service) FetchCandles(ctx context.Context, symbol string, timespan Timespan, window string) ([]Candle, error) {
	if s.polygon != nil {
		candles, err := s.polygon.Candles(ctx, symbol, timespan, window)
		if err == nil {
			return candles, nil
		}
		log.Printf("Polygon candles failed for %s, falling back to Yahoo: %v", symbol, err)
	}
	return s.yahoo.Candles(ctx, symbol, timespan, window)
}

// SearchSymbols looks up symbols matching query.
func (s *Service) SearchSymbols(ctx context.Context, query string, limit int) ([]SymbolMatch, error) {
	if limit <= 0 {
		limit = 10
	}
	if s.polygon != nil {
		matches, err := s.polygon.SearchTickers(ctx, query, limit)
		if err == nil {
			return matches, nil
		}
		log.Printf("Polygon symbol search failed for %q, falling back to Yahoo: %v", query, err)
	}
	return s.yahoo.Search(ctx, query, limit)
}

// FetchQuote fetches the latest price snapshot for a symbol.
func (s *Service) FetchQuote(ctx context.Context, symbol string) (Quote, error) {
	if s.polygon != nil {
		quote, err := s.polygon.Quote(ctx, symbol)
		if err == nil {
			return quote, nil
		}
		log.Printf("Polygon quote failed for %s, falling back to Yahoo: %v", symbol, err)
	}
	return s.yahoo.Quote(ctx, symbol)
}

// FetchOptionsChain lists option contracts for an underlying.
func (s *Service) FetchOptionsChain(ctx context.Context, underlying string, filter OptionsFilter) ([]OptionContract, error) {
	if s.polygon == nil {
		return nil, ErrNoProviderKey
	}
	return s.polygon.OptionContracts(ctx, underlying, filter)
}

// ListOptionExpirations returns the distinct expiration dates for an
// underlying's chain, ascending.
func (s *Service) ListOptionExpirations(ctx context.Context, underlying string) ([]string, error) {
	if s.polygon == nil {
		return nil, ErrNoProviderKey
	}
	return s.polygon.OptionExpirations(ctx, underlying)
}

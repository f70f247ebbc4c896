package provider

import (
	"context"
	"sync"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	apperrors "z88-quant/internal/errors"
	"z88-quant/internal/models"
)

// kiteClient is the subset of the Kite Connect client used here.
type kiteClient interface {
	GetInstruments() (kiteconnect.Instruments, error)
	GetHistoricalData(instrumentToken int, interval string, fromDate time.Time, toDate time.Time, continuous bool, OI bool) ([]kiteconnect.HistoricalData, error)
}

// KiteProvider fetches daily candles from Kite Connect.
type KiteProvider struct {
	client   kiteClient
	exchange string

	mu     sync.RWMutex
	tokens map[string]int
}

// NewKiteProvider creates a provider from an API key and a session access token.
func NewKiteProvider(apiKey, accessToken string, exchange models.Exchange) (*KiteProvider, error) {
	if apiKey == "" || accessToken == "" {
		return nil, apperrors.Wrap(apperrors.ErrConfigInvalid, "kite provider needs api_key and access_token")
	}
	client := kiteconnect.New(apiKey)
	client.SetAccessToken(accessToken)
	return newKiteProvider(client, exchange), nil
}

func newKiteProvider(client kiteClient, exchange models.Exchange) *KiteProvider {
	return &KiteProvider{
		client:   client,
		exchange: string(exchange),
	}
}

func (p *KiteProvider) Name() string {
	return "kite"
}

// History resolves the instrument token and requests the day interval.
func (p *KiteProvider) History(ctx context.Context, symbol string, from, to time.Time) (models.PriceSeries, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	symbol = models.NormalizeSymbol(symbol)

	token, err := p.instrumentToken(symbol)
	if err != nil {
		return nil, err
	}

	data, err := p.client.GetHistoricalData(token, "day", from, to, false, false)
	if err != nil {
		return nil, apperrors.NewDataError("series", symbol, "kite historical data", err)
	}

	bars := make([]models.PriceBar, 0, len(data))
	for _, d := range data {
		bars = append(bars, models.PriceBar{
			Date:   d.Date.Time,
			Open:   d.Open,
			High:   d.High,
			Low:    d.Low,
			Close:  d.Close,
			Volume: int64(d.Volume),
		})
	}
	return models.NewPriceSeries(bars)
}

// instrumentToken looks up the token, loading the instrument dump once.
func (p *KiteProvider) instrumentToken(symbol string) (int, error) {
	p.mu.RLock()
	loaded := p.tokens != nil
	token, ok := p.tokens[symbol]
	p.mu.RUnlock()
	if ok {
		return token, nil
	}
	if loaded {
		return 0, apperrors.NewDataError("instrument", symbol, "not listed on "+p.exchange, apperrors.ErrSymbolNotFound)
	}

	instruments, err := p.client.GetInstruments()
	if err != nil {
		return 0, apperrors.NewDataError("instrument", symbol, "failed to get instruments", err)
	}

	tokens := make(map[string]int)
	for _, inst := range instruments {
		if inst.Exchange == p.exchange {
			tokens[inst.Tradingsymbol] = inst.InstrumentToken
		}
	}

	p.mu.Lock()
	p.tokens = tokens
	p.mu.Unlock()

	token, ok = tokens[symbol]
	if !ok {
		return 0, apperrors.NewDataError("instrument", symbol, "not listed on "+p.exchange, apperrors.ErrSymbolNotFound)
	}
	return token, nil
}

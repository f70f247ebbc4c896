package indicators

import (
	"z88-quant/internal/models"
)

// Snapshot field names, also used as keys for per-field errors.
const (
	FieldRSI       = "rsi14"
	FieldMACD      = "macd"
	FieldBollinger = "bollinger"
)

// Snapshot holds indicator values aligned to the last bar. A nil field is undefined.
type Snapshot struct {
	RSI14             *float64 `json:"rsi14,omitempty"`
	MACD              *float64 `json:"macd,omitempty"`
	MACDSignal        *float64 `json:"macd_signal,omitempty"`
	MACDLowConfidence bool     `json:"macd_low_confidence"`
	BollingerUpper    *float64 `json:"bollinger_upper,omitempty"`
	BollingerLower    *float64 `json:"bollinger_lower,omitempty"`
	MovingAverage20   *float64 `json:"moving_average_20,omitempty"`
}

// Set is the indicator configuration used to build a Snapshot.
type Set struct {
	RSI       *RSI
	MACD      *MACD
	Bollinger *BollingerBands
}

// DefaultSet returns RSI(14), MACD(12,26,9) and Bollinger(20,2).
func DefaultSet() Set {
	return Set{
		RSI:       NewRSI(DefaultRSIPeriod),
		MACD:      NewMACD(DefaultMACDFast, DefaultMACDSlow, DefaultMACDSignal),
		Bollinger: NewBollingerBands(DefaultBollingerPeriod, DefaultBollingerStdDev),
	}
}

// Compute builds a Snapshot with the default set.
func Compute(series models.PriceSeries) (Snapshot, map[string]error) {
	return DefaultSet().Compute(series)
}

// Compute evaluates every indicator independently. A failure only leaves its
// own fields nil and is reported under the field name.
func (s Set) Compute(series models.PriceSeries) (Snapshot, map[string]error) {
	var snap Snapshot
	errs := make(map[string]error)

	if rsi, err := s.RSI.Last(series); err != nil {
		errs[FieldRSI] = err
	} else {
		snap.RSI14 = ptr(rsi)
	}

	if lines, err := s.MACD.Calculate(series); err != nil {
		errs[FieldMACD] = err
	} else {
		last := len(series) - 1
		snap.MACD = ptr(lines["macd"][last])
		snap.MACDSignal = ptr(lines["signal"][last])
		snap.MACDLowConfidence = len(series) < s.MACD.Period()
	}

	if bands, err := s.Bollinger.Calculate(series); err != nil {
		errs[FieldBollinger] = err
	} else {
		last := len(series) - 1
		snap.BollingerUpper = ptr(bands["upper"][last])
		snap.BollingerLower = ptr(bands["lower"][last])
		snap.MovingAverage20 = ptr(bands["middle"][last])
	}

	return snap, errs
}

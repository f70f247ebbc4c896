package ingest

import (
	"io"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	apperrors "z88-quant/internal/errors"
	"z88-quant/internal/models"
)

// Accepted date layouts for history files.
var dateLayouts = []string{
	models.DateLayout,
	"2006-01-02 15:04:05",
	time.RFC3339,
	"02/01/2006",
	"2006/01/02",
}

var seriesColumns = map[string]string{
	"date":      "date",
	"timestamp": "date",
	"open":      "open",
	"high":      "high",
	"low":       "low",
	"close":     "close",
	"price":     "close",
	"volume":    "volume",
	"vol":       "volume",
}

type seriesRow struct {
	Date   string `csv:"date"`
	Open   string `csv:"open"`
	High   string `csv:"high"`
	Low    string `csv:"low"`
	Close  string `csv:"close"`
	Volume string `csv:"volume"`
}

// ReadSeries parses a daily OHLCV history file (Date,Open,High,Low,Close,Volume,
// any header case, extra columns ignored). Rows with a blank close are skipped
// and the result is sorted and validated.
func ReadSeries(r io.Reader) (models.PriceSeries, error) {
	data, header, err := rewriteHeader(r, func(name string) string {
		return seriesColumns[strings.ToLower(name)]
	})
	if err != nil {
		return nil, err
	}
	if err := hasColumns(header, "date", "open", "high", "low", "close"); err != nil {
		return nil, err
	}

	var rows []*seriesRow
	if err := gocsv.UnmarshalBytes(data, &rows); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "decoding series: "+err.Error())
	}

	bars := make([]models.PriceBar, 0, len(rows))
	for i, row := range rows {
		if strings.TrimSpace(row.Close) == "" || strings.EqualFold(strings.TrimSpace(row.Close), "null") {
			continue
		}
		bar, err := row.toBar()
		if err != nil {
			return nil, apperrors.Wrapf(err, "line %d", i+2)
		}
		bars = append(bars, bar)
	}
	return models.NewPriceSeries(bars)
}

func (row *seriesRow) toBar() (models.PriceBar, error) {
	date, err := parseDate(row.Date)
	if err != nil {
		return models.PriceBar{}, err
	}
	bar := models.PriceBar{Date: date}
	for _, f := range []struct {
		name string
		raw  string
		dst  *float64
	}{
		{"open", row.Open, &bar.Open},
		{"high", row.High, &bar.High},
		{"low", row.Low, &bar.Low},
		{"close", row.Close, &bar.Close},
	} {
		v, err := ParseNumber(f.name, f.raw)
		if err != nil {
			return models.PriceBar{}, err
		}
		*f.dst = v
	}
	vol, err := ParseNumber("volume", row.Volume)
	if err != nil {
		return models.PriceBar{}, err
	}
	bar.Volume = int64(vol)
	return bar, nil
}

func parseDate(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return models.Day(t), nil
		}
	}
	return time.Time{}, apperrors.NewValidationError("date", raw, "unrecognised date")
}

type seriesOutRow struct {
	Date   string  `csv:"Date"`
	Open   float64 `csv:"Open"`
	High   float64 `csv:"High"`
	Low    float64 `csv:"Low"`
	Close  float64 `csv:"Close"`
	Volume int64   `csv:"Volume"`
}

// WriteSeries writes a series in the shape ReadSeries accepts.
func WriteSeries(w io.Writer, series models.PriceSeries) error {
	rows := make([]*seriesOutRow, len(series))
	for i, b := range series {
		rows[i] = &seriesOutRow{
			Date:   b.Date.Format(models.DateLayout),
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: b.Volume,
		}
	}
	return gocsv.Marshal(&rows, w)
}

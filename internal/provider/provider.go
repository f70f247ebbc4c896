// Package provider supplies historical daily series from files, Kite Connect
// and the local store.
package provider

import (
	"context"
	"time"

	"z88-quant/internal/models"
)

// SeriesProvider fetches daily bars for a symbol with from <= date <= to.
type SeriesProvider interface {
	Name() string
	History(ctx context.Context, symbol string, from, to time.Time) (models.PriceSeries, error)
}

// Window returns the [from, to] range covering days calendar days up to now.
func Window(now time.Time, days int) (time.Time, time.Time) {
	to := models.Day(now)
	return to.AddDate(0, 0, -days), to
}

// clip keeps bars inside [from, to]; zero bounds are open.
func clip(series models.PriceSeries, from, to time.Time) models.PriceSeries {
	out := make(models.PriceSeries, 0, len(series))
	for _, b := range series {
		if !from.IsZero() && b.Date.Before(models.Day(from)) {
			continue
		}
		if !to.IsZero() && b.Date.After(models.Day(to)) {
			continue
		}
		out = append(out, b)
	}
	return out
}

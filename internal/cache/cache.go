// Package cache memoises analysis results keyed by their inputs.
package cache

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"math"

	"github.com/cespare/xxhash/v2"

	"z88-quant/internal/analysis"
	"z88-quant/internal/models"
)

// ResultCache stores analysis results by key.
type ResultCache interface {
	Get(ctx context.Context, key string) (*analysis.Result, bool, error)
	Set(ctx context.Context, key string, result *analysis.Result) error
}

// Nop is a cache that never hits.
type Nop struct{}

func (Nop) Get(context.Context, string) (*analysis.Result, bool, error) { return nil, false, nil }
func (Nop) Set(context.Context, string, *analysis.Result) error { return nil }

type hasher struct {
	d   *xxhash.Digest
	buf [8]byte
}

func newHasher() *hasher {
	return &hasher{d: xxhash.New()}
}

func (h *hasher) float(v float64) {
	binary.LittleEndian.PutUint64(h.buf[:], math.Float64bits(v))
	h.d.Write(h.buf[:])
}

func (h *hasher) int(v int64) {
	binary.LittleEndian.PutUint64(h.buf[:], uint64(v))
	h.d.Write(h.buf[:])
}

func (h *hasher) str(s string) {
	h.int(int64(len(s)))
	h.d.WriteString(s)
}

func (h *hasher) hex() string {
	binary.BigEndian.PutUint64(h.buf[:], h.d.Sum64())
	return hex.EncodeToString(h.buf[:])
}

func (h *hasher) series(series models.PriceSeries) {
	h.int(int64(len(series)))
	for _, b := range series {
		h.int(b.Date.Unix())
		h.float(b.Open)
		h.float(b.High)
		h.float(b.Low)
		h.float(b.Close)
		h.int(b.Volume)
	}
}

// SeriesVersion fingerprints a series; any changed bar changes the version.
func SeriesVersion(series models.PriceSeries) string {
	h := newHasher()
	h.series(series)
	return h.hex()
}

// Key derives the cache key for one analysis. salt carries whatever else the
// result depends on (configuration, and the day under roll-forward cycles).
func Key(snapshot models.StockSnapshot, series models.PriceSeries, salt string) string {
	h := newHasher()
	h.str(models.NormalizeSymbol(snapshot.Symbol))
	h.str(snapshot.CompanyName)
	h.float(snapshot.Close)
	h.float(snapshot.LiquidityInflowPct)
	h.float(snapshot.Pivot)
	h.float(snapshot.Support1)
	h.float(snapshot.Resistance1)
	h.str(salt)
	return models.NormalizeSymbol(snapshot.Symbol) + ":" + SeriesVersion(series) + ":" + h.hex()
}

package ingest

import (
	"io"
	"strings"

	"github.com/gocarina/gocsv"

	apperrors "z88-quant/internal/errors"
	"z88-quant/internal/models"
)

// Canonical snapshot columns.
const (
	ColSymbol          = "symbol"
	ColCompany         = "company"
	ColClose           = "close"
	ColLiquidityInflow = "liquidity_inflow"
	ColPivot           = "pivot"
	ColSupport1        = "support_1"
	ColResistance1     = "resistance_1"
)

// snapshotAliases maps header names found in broker exports to canonical columns.
var snapshotAliases = map[string]string{
	"الرمز":                          ColSymbol,
	"symbol":                         ColSymbol,
	"ticker":                         ColSymbol,
	"code":                           ColSymbol,
	"اسم الشركه":                     ColCompany,
	"اسم الشركة":                     ColCompany,
	"company":                        ColCompany,
	"company name":                   ColCompany,
	"name":                           ColCompany,
	"إغلاق":                          ColClose,
	"اغلاق":                          ColClose,
	"close":                          ColClose,
	"last":                           ColClose,
	"نسبة السيولة الداخلة الى السهم": ColLiquidityInflow,
	"نسبة السيولة الداخلة إلى السهم": ColLiquidityInflow,
	"liquidity inflow":               ColLiquidityInflow,
	"liquidity_inflow":               ColLiquidityInflow,
	"inflow %":                       ColLiquidityInflow,
	"الارتكاز":                       ColPivot,
	"pivot":                          ColPivot,
	"دعم 1":                          ColSupport1,
	"support 1":                      ColSupport1,
	"support_1":                      ColSupport1,
	"s1":                             ColSupport1,
	"مقاومة 1":                       ColResistance1,
	"resistance 1":                   ColResistance1,
	"resistance_1":                   ColResistance1,
	"r1":                             ColResistance1,
}

func canonicalSnapshotColumn(name string) string {
	key := strings.ToLower(strings.Join(strings.Fields(name), " "))
	return snapshotAliases[key]
}

type snapshotRow struct {
	Symbol          string `csv:"symbol"`
	Company         string `csv:"company"`
	Close           string `csv:"close"`
	LiquidityInflow string `csv:"liquidity_inflow"`
	Pivot           string `csv:"pivot"`
	Support1        string `csv:"support_1"`
	Resistance1     string `csv:"resistance_1"`
}

// ReadSnapshots parses a snapshot CSV. Rows without a symbol are skipped and
// the first row wins when a symbol repeats.
func ReadSnapshots(r io.Reader) ([]models.StockSnapshot, error) {
	data, header, err := rewriteHeader(r, canonicalSnapshotColumn)
	if err != nil {
		return nil, err
	}
	if err := hasColumns(header, ColSymbol, ColClose); err != nil {
		return nil, err
	}

	var rows []*snapshotRow
	if err := gocsv.UnmarshalBytes(data, &rows); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "decoding snapshot: "+err.Error())
	}

	seen := make(map[string]bool, len(rows))
	snapshots := make([]models.StockSnapshot, 0, len(rows))
	for i, row := range rows {
		symbol := models.NormalizeSymbol(row.Symbol)
		if symbol == "" || seen[symbol] {
			continue
		}
		snap, err := row.toSnapshot(symbol)
		if err != nil {
			// header is line 1
			return nil, apperrors.Wrapf(err, "line %d", i+2)
		}
		seen[symbol] = true
		snapshots = append(snapshots, snap)
	}
	return snapshots, nil
}

func (row *snapshotRow) toSnapshot(symbol string) (models.StockSnapshot, error) {
	snap := models.StockSnapshot{
		Symbol:      symbol,
		CompanyName: strings.TrimSpace(row.Company),
	}
	fields := []struct {
		name string
		raw  string
		dst  *float64
	}{
		{ColClose, row.Close, &snap.Close},
		{ColLiquidityInflow, row.LiquidityInflow, &snap.LiquidityInflowPct},
		{ColPivot, row.Pivot, &snap.Pivot},
		{ColSupport1, row.Support1, &snap.Support1},
		{ColResistance1, row.Resistance1, &snap.Resistance1},
	}
	for _, f := range fields {
		v, err := ParseNumber(f.name, f.raw)
		if err != nil {
			return models.StockSnapshot{}, err
		}
		*f.dst = v
	}
	return snap, nil
}

// Find returns the snapshot for symbol, matching case- and space-insensitively.
func Find(snapshots []models.StockSnapshot, symbol string) (models.StockSnapshot, error) {
	want := models.NormalizeSymbol(symbol)
	for _, s := range snapshots {
		if models.NormalizeSymbol(s.Symbol) == want {
			return s, nil
		}
	}
	return models.StockSnapshot{}, apperrors.NewDataError("snapshot", want, "symbol not in snapshot", apperrors.ErrSymbolNotFound)
}

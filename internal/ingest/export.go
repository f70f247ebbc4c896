package ingest

import (
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"

	"z88-quant/internal/analysis"
	"z88-quant/internal/models"
)

// resultRow is one flat export line; absent values are blank.
type resultRow struct {
	Symbol          string `csv:"symbol"`
	Company         string `csv:"company"`
	Close           string `csv:"close"`
	LiquidityInflow string `csv:"liquidity_inflow_pct"`
	Pivot           string `csv:"pivot"`
	Support1        string `csv:"support_1"`
	Resistance1     string `csv:"resistance_1"`
	Gann90          string `csv:"gann_90"`
	Gann180         string `csv:"gann_180"`
	Gann270         string `csv:"gann_270"`
	Gann360         string `csv:"gann_360"`
	Target161       string `csv:"target_161"`
	Target261       string `csv:"target_261"`
	Wave3           string `csv:"wave3_target"`
	Wave5           string `csv:"wave5_target"`
	GrandCycleEnd   string `csv:"grand_cycle_end"`
	SubWave         string `csv:"sub_wave_target"`
	SubCycleEnd     string `csv:"sub_cycle_end"`
	WindowStart     string `csv:"next_window_start"`
	WindowEnd       string `csv:"next_window_end"`
	RSI14           string `csv:"rsi14"`
	MACD            string `csv:"macd"`
	MACDSignal      string `csv:"macd_signal"`
	BollingerUpper  string `csv:"bollinger_upper"`
	BollingerLower  string `csv:"bollinger_lower"`
	Label           string `csv:"label"`
	Score           string `csv:"score"`
	Bars            int    `csv:"bars"`
	Absent          string `csv:"absent"`
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func optNum(v *float64) string {
	if v == nil {
		return ""
	}
	return num(*v)
}

// WriteResults writes one row per result. Nil results are skipped.
func WriteResults(w io.Writer, results []*analysis.Result) error {
	rows := make([]*resultRow, 0, len(results))
	for _, r := range results {
		if r == nil {
			continue
		}
		rows = append(rows, toResultRow(r))
	}
	return gocsv.Marshal(&rows, w)
}

func toResultRow(r *analysis.Result) *resultRow {
	row := &resultRow{
		Symbol:          r.Symbol,
		Company:         r.CompanyName,
		Close:           num(r.Close),
		LiquidityInflow: num(r.LiquidityInflowPct),
		Pivot:           num(r.Levels.Pivot),
		Support1:        num(r.Levels.Support1),
		Resistance1:     num(r.Levels.Resistance1),
		Bars:            r.SeriesBars,
	}
	if r.Gann != nil {
		cells := map[int]*string{90: &row.Gann90, 180: &row.Gann180, 270: &row.Gann270, 360: &row.Gann360}
		for _, l := range r.Gann.Levels {
			if dst, ok := cells[l.Angle]; ok {
				*dst = num(l.Price)
			}
		}
	}
	if r.Targets != nil {
		row.Target161 = num(r.Targets.Target161)
		row.Target261 = num(r.Targets.Target261)
	}
	if w := r.Waves; w != nil {
		row.Wave3 = num(w.Wave3Target)
		row.Wave5 = num(w.Wave5Target)
		row.GrandCycleEnd = w.GrandCycleEndDate.Format(models.DateLayout)
		row.SubWave = num(w.SubWaveTarget)
		row.SubCycleEnd = w.SubCycleEndDate.Format(models.DateLayout)
		row.WindowStart = w.NextCycleWindow.Start.Format(models.DateLayout)
		row.WindowEnd = w.NextCycleWindow.End.Format(models.DateLayout)
	}
	if ind := r.Indicators; ind != nil {
		row.RSI14 = optNum(ind.RSI14)
		row.MACD = optNum(ind.MACD)
		row.MACDSignal = optNum(ind.MACDSignal)
		row.BollingerUpper = optNum(ind.BollingerUpper)
		row.BollingerLower = optNum(ind.BollingerLower)
	}
	if c := r.Classification; c != nil {
		row.Label = string(c.Label)
		row.Score = strconv.FormatFloat(c.Score, 'f', 0, 64)
	}
	if len(r.Absent) > 0 {
		fields := make([]string, 0, len(r.Absent))
		for f := range r.Absent {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		row.Absent = strings.Join(fields, ";")
	}
	return row
}

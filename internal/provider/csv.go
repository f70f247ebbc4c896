package provider

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	apperrors "z88-quant/internal/errors"
	"z88-quant/internal/ingest"
	"z88-quant/internal/models"
)

// CSVProvider reads <dir>/<SYMBOL>.csv history files.
type CSVProvider struct {
	dir string
}

// NewCSVProvider creates a provider rooted at dir.
func NewCSVProvider(dir string) *CSVProvider {
	return &CSVProvider{dir: dir}
}

func (p *CSVProvider) Name() string {
	return "csv"
}

// Path returns the history file for a symbol.
func (p *CSVProvider) Path(symbol string) string {
	return filepath.Join(p.dir, models.NormalizeSymbol(symbol)+".csv")
}

// History loads and clips the symbol's file.
func (p *CSVProvider) History(ctx context.Context, symbol string, from, to time.Time) (models.PriceSeries, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(p.Path(symbol))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.NewDataError("series", models.NormalizeSymbol(symbol), "no history file", apperrors.ErrDataNotFound)
		}
		return nil, err
	}
	defer f.Close()

	series, err := ingest.ReadSeries(f)
	if err != nil {
		return nil, apperrors.Wrapf(err, "reading %s", p.Path(symbol))
	}
	return clip(series, from, to), nil
}

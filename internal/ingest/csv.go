// Package ingest reads the daily snapshot and historical series CSV files and
// writes analysis results back out as CSV.
package ingest

import (
	"bytes"
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	apperrors "z88-quant/internal/errors"
)

const utf8BOM = "\ufeff"

// rewriteHeader reads a CSV document, maps every header cell through canon and
// returns the re-encoded document for gocsv. Unknown headers get a unique
// placeholder so gocsv ignores them.
func rewriteHeader(r io.Reader, canon func(string) string) ([]byte, []string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, apperrors.Wrap(apperrors.ErrInvalidInput, "malformed csv: "+err.Error())
	}
	if len(records) == 0 {
		return nil, nil, apperrors.NewValidationError("header", "", "empty csv document")
	}

	header := make([]string, len(records[0]))
	for i, name := range records[0] {
		if i == 0 {
			name = strings.TrimPrefix(name, utf8BOM)
		}
		header[i] = canon(strings.TrimSpace(name))
		if header[i] == "" {
			header[i] = "_ignored_" + strconv.Itoa(i)
		}
	}
	records[0] = header

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(records); err != nil {
		return nil, nil, err
	}
	return buf.Bytes(), header, nil
}

func hasColumns(header []string, required ...string) error {
	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[h] = true
	}
	for _, col := range required {
		if !present[col] {
			return apperrors.NewValidationError("header", col, "required column missing")
		}
	}
	return nil
}

var digitReplacer = strings.NewReplacer(
	"٠", "0", "١", "1", "٢", "2", "٣", "3", "٤", "4",
	"٥", "5", "٦", "6", "٧", "7", "٨", "8", "٩", "9",
	"٫", ".", "٬", "", ",", "", "%", "", " ", "", " ", "",
)

// ParseNumber parses a spreadsheet cell. Blank cells are zero; percent signs,
// thousands separators and Arabic-Indic digits are accepted.
func ParseNumber(field, raw string) (float64, error) {
	s := digitReplacer.Replace(strings.TrimSpace(raw))
	if s == "" || s == "-" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, apperrors.NewValidationError(field, raw, "not a number")
	}
	return v, nil
}

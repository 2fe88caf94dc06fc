package market

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// CSVSource serves bars from per-instrument CSV files in a directory. Each
// file is named <SYMBOL>.<MARKET>.csv with the header
//
//	asof,open,high,low,close,dividend
//
// and asof in RFC 3339. Rows must be sorted ascending.
type CSVSource struct {
	dir string
}

func NewCSVSource(dir string) *CSVSource {
	return &CSVSource{dir: dir}
}

// Quote implements QuoteFunc over the directory's files. A missing file means
// no bars, not an error, so unused FX pairs do not break deposits.
func (s *CSVSource) Quote(_ context.Context, symbol, mkt string, begin, end time.Time) ([]Bar, error) {
	path := filepath.Join(s.dir, fmt.Sprintf("%s.%s.csv", symbol, mkt))

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	if _, err := r.Read(); err != nil { // header
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	var bars []Bar
	for line := 2; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		bar, err := parseBarRow(rec)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		if !bar.AsOf.After(begin) || bar.AsOf.After(end) {
			continue
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func parseBarRow(rec []string) (Bar, error) {
	if len(rec) < 5 {
		return Bar{}, fmt.Errorf("expected at least 5 fields, got %d", len(rec))
	}

	asof, err := time.Parse(time.RFC3339, rec[0])
	if err != nil {
		return Bar{}, err
	}

	vals := make([]float64, 0, 5)
	for _, s := range rec[1:] {
		if s == "" {
			vals = append(vals, 0)
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Bar{}, err
		}
		vals = append(vals, v)
	}
	for len(vals) < 5 {
		vals = append(vals, 0)
	}

	return Bar{
		AsOf:     asof,
		Open:     vals[0],
		High:     vals[1],
		Low:      vals[2],
		Close:    vals[3],
		Dividend: vals[4],
	}, nil
}

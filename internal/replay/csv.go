package replay

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/danielpatrickdp/abtest/internal/engine"
)

// ErrMissingColumns is returned when a CSV header lacks a required column.
var ErrMissingColumns = errors.New("missing columns")

// #region columns
// Accepted header spellings per column. The Spanish names match the export
// format of the original calculator; the English ones are canonical.
var columnAliases = map[string][]string{
	"period":     {"period", "día", "dia", "day", "label"},
	"events_a":   {"events_a", "conversiones a", "clicks a", "successes_a", "counts_a"},
	"exposure_a": {"exposure_a", "visitas a", "trials_a", "visits_a"},
	"events_b":   {"events_b", "conversiones b", "clicks b", "successes_b", "counts_b"},
	"exposure_b": {"exposure_b", "visitas b", "trials_b", "visits_b"},
}

var requiredColumns = []string{"period", "events_a", "exposure_a", "events_b", "exposure_b"}

// #endregion columns

// #region csv-loader

// LoadCSVFile reads periods from a CSV file.
func LoadCSVFile(path string) ([]engine.Batch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv %s: %w", path, err)
	}
	defer f.Close()
	batches, err := LoadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("csv %s: %w", path, err)
	}
	return batches, nil
}

// LoadCSV parses one batch per row. A purely numeric period n becomes the
// label "Día n"; any other value is used verbatim.
func LoadCSV(r io.Reader) ([]engine.Batch, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx, err := mapColumns(header)
	if err != nil {
		return nil, err
	}

	var batches []engine.Batch
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		var counts [4]int64
		for i, col := range requiredColumns[1:] {
			v, err := parseCount(rec[idx[col]])
			if err != nil {
				return nil, fmt.Errorf("line %d column %s: %w", line, header[idx[col]], err)
			}
			counts[i] = v
		}
		batches = append(batches, engine.Batch{
			Label: periodLabel(rec[idx["period"]]),
			A:     engine.Observation{Events: counts[0], Exposure: counts[1]},
			B:     engine.Observation{Events: counts[2], Exposure: counts[3]},
		})
	}
	return batches, nil
}

func mapColumns(header []string) (map[string]int, error) {
	idx := make(map[string]int, len(requiredColumns))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		for col, aliases := range columnAliases {
			for _, a := range aliases {
				if name == a {
					if _, seen := idx[col]; !seen {
						idx[col] = i
					}
				}
			}
		}
	}
	var missing []string
	for _, col := range requiredColumns {
		if _, ok := idx[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}
	return idx, nil
}

// parseCount accepts integers and integral floats such as "12.0".
func parseCount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt64/2 {
		return 0, fmt.Errorf("not an integer count: %q", s)
	}
	return int64(f), nil
}

func periodLabel(s string) string {
	s = strings.TrimSpace(s)
	if n, err := parseCount(s); err == nil {
		return fmt.Sprintf("Día %d", n)
	}
	return s
}

// #endregion csv-loader

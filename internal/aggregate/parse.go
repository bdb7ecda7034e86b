// Package aggregate turns raw Lighthouse reports into per-metric
// (min, median, max) statistics.
package aggregate

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/shyim/perfaudit/internal/catalog"
)

// ErrNoMetrics is returned for reports without a metrics details table.
// Callers skip such reports.
var ErrNoMetrics = errors.New("aggregate: report has no metrics details")

type report struct {
	Audits struct {
		Metrics *struct {
			Details *struct {
				Items []map[string]json.RawMessage `json:"items"`
			} `json:"details"`
		} `json:"metrics"`
	} `json:"audits"`
	Categories struct {
		Performance struct {
			Score *float64 `json:"score"`
		} `json:"performance"`
	} `json:"categories"`
}

// Parse extracts the catalog metrics of one report. Values that are absent
// or not numeric are left out of the result.
func Parse(data []byte) (map[catalog.Metric]float64, error) {
	var r report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("aggregate: decode report: %w", err)
	}

	m := r.Audits.Metrics
	if m == nil || m.Details == nil || len(m.Details.Items) == 0 || m.Details.Items[0] == nil {
		return nil, ErrNoMetrics
	}
	items := m.Details.Items[0]

	out := make(map[catalog.Metric]float64, len(catalog.Metrics()))
	for _, metric := range catalog.Metrics() {
		if metric == catalog.Score {
			continue
		}
		raw, ok := items[metric.DisplayKey()]
		if !ok {
			continue
		}
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			continue
		}
		out[metric] = v
	}

	if s := r.Categories.Performance.Score; s != nil {
		out[catalog.Score] = float64(ScoreToPercent(*s))
	}

	return out, nil
}

// ScoreToPercent rescales a 0..1 score to an integer percentage. The product
// is first snapped to nine decimals so that binary noise such as
// 0.29*100 = 28.999999999999996 does not leak into the result, then rounded
// half away from zero.
func ScoreToPercent(score float64) int {
	p := math.Round(score*100*1e9) / 1e9
	return int(math.Round(p))
}

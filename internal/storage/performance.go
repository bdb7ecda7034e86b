package storage

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/shyim/perfaudit/internal/aggregate"
	"github.com/shyim/perfaudit/internal/catalog"
)

// InsertPerformance appends rows to performance_logs with COPY. Rows are
// never updated; every batch adds a new day.
func (db *DB) InsertPerformance(ctx context.Context, rows []aggregate.Row) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	columns := []string{"site_id", "emulated_device", "action_id", "key", "min", "median", "max", "created_at"}
	data := make([][]any, 0, len(rows))
	for _, r := range rows {
		data = append(data, []any{
			int32(r.SiteID),
			int16(r.Device.ID()),
			r.ActionID,
			r.Key,
			r.Min,
			r.Median,
			r.Max,
			r.Day,
		})
	}

	n, err := db.pool.CopyFrom(ctx, pgx.Identifier{"performance_logs"}, columns, pgx.CopyFromRows(data))
	if err != nil {
		return 0, fmt.Errorf("storage: copy performance logs: %w", err)
	}
	return n, nil
}

type PeriodQuery struct {
	SiteID int
	Device catalog.Device
	Metric catalog.Metric
	From   time.Time
	To     time.Time
}

// PeriodStat is the combined statistic of one URL over a period.
type PeriodStat struct {
	ActionID int64
	URL      string
	Min      int64
	Median   float64
	Max      int64
}

// DailyRow is one stored aggregate as read back for period statistics.
type DailyRow struct {
	ActionID  int64
	Name      string
	URLPrefix *int16
	Min       int64
	Median    int64
	Max       int64
}

// PeriodStatistics combines the daily rows of a period per URL.
func (db *DB) PeriodStatistics(ctx context.Context, q PeriodQuery) ([]PeriodStat, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT lp.action_id, a.name, a.url_prefix, lp.min, lp.median, lp.max
		FROM performance_logs lp
		INNER JOIN actions a ON a.id = lp.action_id
		WHERE lp.site_id = $1
		  AND lp.created_at BETWEEN $2 AND $3
		  AND lp.emulated_device = $4
		  AND lp.key = $5
		ORDER BY lp.action_id, lp.median, lp.id`,
		q.SiteID, q.From, q.To, int16(q.Device.ID()), q.Metric.DisplayKey())
	if err != nil {
		return nil, fmt.Errorf("storage: query period statistics: %w", err)
	}
	defer rows.Close()

	var daily []DailyRow
	for rows.Next() {
		var r DailyRow
		if err := rows.Scan(&r.ActionID, &r.Name, &r.URLPrefix, &r.Min, &r.Median, &r.Max); err != nil {
			return nil, fmt.Errorf("storage: scan period row: %w", err)
		}
		daily = append(daily, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate period rows: %w", err)
	}

	return ReducePeriod(daily), nil
}

// ReducePeriod groups rows per action, orders each group by median and
// keeps only its middle row (odd count) or two middle rows (even count).
// Those rows combine into MIN(min), AVG(median) rounded to one decimal and
// MAX(max). Daily medians are already rounded, so the result can drift
// from a median over the raw samples.
func ReducePeriod(rows []DailyRow) []PeriodStat {
	groups := map[int64][]DailyRow{}
	var order []int64
	for _, r := range rows {
		if _, ok := groups[r.ActionID]; !ok {
			order = append(order, r.ActionID)
		}
		groups[r.ActionID] = append(groups[r.ActionID], r)
	}
	slices.Sort(order)

	stats := make([]PeriodStat, 0, len(order))
	for _, id := range order {
		g := groups[id]
		slices.SortStableFunc(g, func(a, b DailyRow) int {
			switch {
			case a.Median < b.Median:
				return -1
			case a.Median > b.Median:
				return 1
			}
			return 0
		})

		n := len(g)
		middle := []int{n / 2}
		if n%2 == 0 {
			middle = []int{n/2 - 1, n / 2}
		}

		s := PeriodStat{
			ActionID: id,
			URL:      ReconstructURL(g[0].Name, g[0].URLPrefix),
			Min:      g[middle[0]].Min,
			Max:      g[middle[0]].Max,
		}
		var sum int64
		for _, i := range middle {
			s.Min = min(s.Min, g[i].Min)
			s.Max = max(s.Max, g[i].Max)
			sum += g[i].Median
		}
		s.Median = math.Round(float64(sum)/float64(len(middle))*10) / 10
		stats = append(stats, s)
	}
	return stats
}

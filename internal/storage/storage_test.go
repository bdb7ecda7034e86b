package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func prefix(p int16) *int16 { return &p }

func TestReconstructURL(t *testing.T) {
	assert.Equal(t, "http://example.com/a", ReconstructURL("example.com/a", prefix(0)))
	assert.Equal(t, "http://www.example.com/a", ReconstructURL("example.com/a", prefix(1)))
	assert.Equal(t, "https://example.com/a", ReconstructURL("example.com/a", prefix(2)))
	assert.Equal(t, "https://www.example.com/a", ReconstructURL("example.com/a", prefix(3)))
	assert.Equal(t, "example.com/a", ReconstructURL("example.com/a", prefix(9)))
	assert.Equal(t, "https://example.com/raw", ReconstructURL("https://example.com/raw", nil))
}

func TestReducePeriodOddCount(t *testing.T) {
	stats := ReducePeriod([]DailyRow{
		{ActionID: 1, Name: "example.com/", URLPrefix: prefix(2), Min: 100, Median: 300, Max: 900},
		{ActionID: 1, Name: "example.com/", URLPrefix: prefix(2), Min: 50, Median: 100, Max: 150},
		{ActionID: 1, Name: "example.com/", URLPrefix: prefix(2), Min: 180, Median: 200, Max: 260},
	})

	assert.Equal(t, []PeriodStat{
		{ActionID: 1, URL: "https://example.com/", Min: 180, Median: 200, Max: 260},
	}, stats)
}

func TestReducePeriodEvenCount(t *testing.T) {
	stats := ReducePeriod([]DailyRow{
		{ActionID: 2, Name: "a.com/x", Min: 90, Median: 101, Max: 120},
		{ActionID: 2, Name: "a.com/x", Min: 10, Median: 50, Max: 60},
		{ActionID: 2, Name: "a.com/x", Min: 95, Median: 104, Max: 130},
		{ActionID: 2, Name: "a.com/x", Min: 300, Median: 400, Max: 500},
	})

	// middle rows are the medians 101 and 104
	assert.Equal(t, []PeriodStat{
		{ActionID: 2, URL: "a.com/x", Min: 90, Median: 102.5, Max: 130},
	}, stats)
}

func TestReducePeriodGroupsPerAction(t *testing.T) {
	stats := ReducePeriod([]DailyRow{
		{ActionID: 9, Name: "b", Min: 1, Median: 1, Max: 1},
		{ActionID: 3, Name: "a", Min: 2, Median: 2, Max: 2},
		{ActionID: 3, Name: "a", Min: 3, Median: 3, Max: 3},
		{ActionID: 3, Name: "a", Min: 3, Median: 4, Max: 4},
	})

	assert.Len(t, stats, 2)
	assert.Equal(t, int64(3), stats[0].ActionID)
	assert.Equal(t, 3.0, stats[0].Median)
	assert.Equal(t, int64(9), stats[1].ActionID)
	assert.Equal(t, 1.0, stats[1].Median)
}

func TestReducePeriodRoundsToOneDecimal(t *testing.T) {
	stats := ReducePeriod([]DailyRow{
		{ActionID: 1, Median: 1},
		{ActionID: 1, Median: 2},
	})
	assert.Equal(t, 1.5, stats[0].Median)

	assert.Empty(t, ReducePeriod(nil))
}

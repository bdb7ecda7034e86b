package aggregate

import (
	"slices"
	"time"

	"github.com/shyim/perfaudit/internal/catalog"
)

type (
	deviceSamples map[catalog.Device]map[catalog.Metric][]float64
	deviceStats   map[catalog.Device]map[catalog.Metric]Stat
)

// Collection accumulates samples keyed by site, URL hash, device and metric.
// It is not safe for concurrent use.
type Collection struct {
	samples map[int]map[string]deviceSamples
	reports int
}

func NewCollection() *Collection {
	return &Collection{samples: map[int]map[string]deviceSamples{}}
}

// Add appends the values of one parsed report.
func (c *Collection) Add(site int, urlHash string, device catalog.Device, values map[catalog.Metric]float64) {
	byHash, ok := c.samples[site]
	if !ok {
		byHash = map[string]deviceSamples{}
		c.samples[site] = byHash
	}
	byDevice, ok := byHash[urlHash]
	if !ok {
		byDevice = deviceSamples{}
		byHash[urlHash] = byDevice
	}
	byMetric, ok := byDevice[device]
	if !ok {
		byMetric = map[catalog.Metric][]float64{}
		byDevice[device] = byMetric
	}
	for m, v := range values {
		byMetric[m] = append(byMetric[m], v)
	}
	c.reports++
}

// Len reports how many reports were added.
func (c *Collection) Len() int { return c.reports }

func (c *Collection) Samples(site int, urlHash string, device catalog.Device, metric catalog.Metric) []float64 {
	return c.samples[site][urlHash][device][metric]
}

func (c *Collection) Reduce() Result {
	res := Result{}
	for site, byHash := range c.samples {
		res[site] = map[string]deviceStats{}
		for hash, byDevice := range byHash {
			res[site][hash] = deviceStats{}
			for device, byMetric := range byDevice {
				stats := make(map[catalog.Metric]Stat, len(byMetric))
				for m, samples := range byMetric {
					if len(samples) == 0 {
						continue
					}
					stats[m] = Reduce(samples)
				}
				res[site][hash][device] = stats
			}
		}
	}
	return res
}

// Result maps site, URL hash, device and metric to the reduced statistics.
type Result map[int]map[string]deviceStats

func (r Result) Stat(site int, urlHash string, device catalog.Device, metric catalog.Metric) (Stat, bool) {
	s, ok := r[site][urlHash][device][metric]
	return s, ok
}

// Hashes returns the URL hashes of a site in sorted order.
func (r Result) Hashes(site int) []string {
	hashes := make([]string, 0, len(r[site]))
	for h := range r[site] {
		hashes = append(hashes, h)
	}
	slices.Sort(hashes)
	return hashes
}

// Row is one persisted aggregate.
type Row struct {
	SiteID   int
	Device   catalog.Device
	ActionID int64
	Key      string
	Min      int64
	Median   int64
	Max      int64
	Day      time.Time
}

// Rows flattens the statistics of one site. Hashes absent from lookup are
// returned in missing and produce no rows.
func (r Result) Rows(site int, lookup map[string]int64, day time.Time) (rows []Row, missing []string) {
	for _, hash := range r.Hashes(site) {
		actionID, ok := lookup[hash]
		if !ok {
			missing = append(missing, hash)
			continue
		}
		byDevice := r[site][hash]
		for _, device := range []catalog.Device{catalog.Mobile, catalog.Desktop} {
			stats, ok := byDevice[device]
			if !ok {
				continue
			}
			for _, m := range catalog.Metrics() {
				s, ok := stats[m]
				if !ok {
					continue
				}
				rows = append(rows, Row{
					SiteID:   site,
					Device:   device,
					ActionID: actionID,
					Key:      m.DisplayKey(),
					Min:      s.Min,
					Median:   s.Median,
					Max:      s.Max,
					Day:      day,
				})
			}
		}
	}
	return rows, missing
}

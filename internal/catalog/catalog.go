// Package catalog holds the closed sets of emulated devices and audit metrics.
package catalog

import (
	"fmt"
	"strings"
)

type Device int

const (
	Mobile  Device = 1
	Desktop Device = 2
)

func (d Device) String() string {
	switch d {
	case Mobile:
		return "mobile"
	case Desktop:
		return "desktop"
	}
	return fmt.Sprintf("device(%d)", int(d))
}

// ID is the numeric identifier persisted alongside every aggregate row.
func (d Device) ID() int { return int(d) }

func ParseDevice(s string) (Device, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mobile":
		return Mobile, nil
	case "desktop":
		return Desktop, nil
	}
	return 0, fmt.Errorf("catalog: unknown device %q", s)
}

// DeviceSelection is the per-site setting. "both" expands into the
// concrete devices and is never stored.
type DeviceSelection string

const (
	SelectMobile  DeviceSelection = "mobile"
	SelectDesktop DeviceSelection = "desktop"
	SelectBoth    DeviceSelection = "both"
)

func ParseDeviceSelection(s string) (DeviceSelection, error) {
	switch sel := DeviceSelection(strings.ToLower(strings.TrimSpace(s))); sel {
	case SelectMobile, SelectDesktop, SelectBoth:
		return sel, nil
	}
	return "", fmt.Errorf("catalog: unknown emulated device %q", s)
}

func (s DeviceSelection) Devices() []Device {
	switch s {
	case SelectMobile:
		return []Device{Mobile}
	case SelectDesktop:
		return []Device{Desktop}
	case SelectBoth:
		return []Device{Desktop, Mobile}
	}
	return nil
}

type Unit int

const (
	Milliseconds Unit = iota
	Unitless
	Percent
)

type Metric int

const (
	FirstContentfulPaint Metric = iota
	SpeedIndex
	LargestContentfulPaint
	Interactive
	TotalBlockingTime
	CumulativeLayoutShift
	Score
)

type metricInfo struct {
	key, display string
	unit         Unit
}

var metricTable = [...]metricInfo{
	FirstContentfulPaint:   {"first-contentful-paint", "firstContentfulPaint", Milliseconds},
	SpeedIndex:             {"speed-index", "speedIndex", Milliseconds},
	LargestContentfulPaint: {"largest-contentful-paint", "largestContentfulPaint", Milliseconds},
	Interactive:            {"interactive", "interactive", Milliseconds},
	TotalBlockingTime:      {"total-blocking-time", "totalBlockingTime", Milliseconds},
	CumulativeLayoutShift:  {"cumulative-layout-shift", "cumulativeLayoutShift", Unitless},
	Score:                  {"score", "score", Percent},
}

// Metrics returns every metric in catalog order.
func Metrics() []Metric {
	out := make([]Metric, len(metricTable))
	for i := range metricTable {
		out[i] = Metric(i)
	}
	return out
}

func (m Metric) valid() bool { return m >= 0 && int(m) < len(metricTable) }

// Key is the symbolic Lighthouse identifier, e.g. "first-contentful-paint".
func (m Metric) Key() string {
	if !m.valid() {
		return ""
	}
	return metricTable[m].key
}

// DisplayKey is the camel-case name used in the report details and in storage.
func (m Metric) DisplayKey() string {
	if !m.valid() {
		return ""
	}
	return metricTable[m].display
}

func (m Metric) Unit() Unit {
	if !m.valid() {
		return Unitless
	}
	return metricTable[m].unit
}

func (m Metric) String() string {
	if !m.valid() {
		return fmt.Sprintf("metric(%d)", int(m))
	}
	return metricTable[m].display
}

func MetricByDisplayKey(k string) (Metric, bool) {
	for i, info := range metricTable {
		if info.display == k {
			return Metric(i), true
		}
	}
	return 0, false
}

func MetricByKey(k string) (Metric, bool) {
	for i, info := range metricTable {
		if info.key == k {
			return Metric(i), true
		}
	}
	return 0, false
}

// AuditIDs lists the Lighthouse audits to enable: every metric that is an
// audit of its own plus "metrics", which carries the details table.
func AuditIDs() []string {
	ids := make([]string, 0, len(metricTable))
	for _, info := range metricTable {
		if info.key == "score" {
			continue
		}
		ids = append(ids, info.key)
	}
	return append(ids, "metrics")
}

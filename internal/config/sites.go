package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shyim/perfaudit/internal/catalog"
)

const (
	DefaultRunCount = 3
	MinRunCount     = 1
	MaxRunCount     = 5
)

// SiteConfig is a site entry as written in the config file. Unset fields
// take their defaults during ResolveSites.
type SiteConfig struct {
	ID                   int     `mapstructure:"id"`
	Name                 string  `mapstructure:"name"`
	IsEnabled            *bool   `mapstructure:"is_enabled"`
	HasExtendedTimeout   *bool   `mapstructure:"has_extended_timeout"`
	RunCount             *int    `mapstructure:"run_count"`
	EmulatedDevice       *string `mapstructure:"emulated_device"`
	HasGroupedURLs       *bool   `mapstructure:"has_grouped_urls"`
	HasExtraHTTPHeader   *bool   `mapstructure:"has_extra_http_header"`
	ExtraHTTPHeaderKey   string  `mapstructure:"extra_http_header_key"`
	ExtraHTTPHeaderValue string  `mapstructure:"extra_http_header_value"`
}

type Header struct {
	Key   string
	Value string
}

// Settings are the validated audit settings of one site.
type Settings struct {
	SiteID          int
	Name            string
	Enabled         bool
	ExtendedTimeout bool
	RunCount        int
	Devices         catalog.DeviceSelection
	GroupedURLs     bool
	ExtraHeader     *Header
}

// Runs returns the run indexes 1..RunCount.
func (s Settings) Runs() []int {
	runs := make([]int, s.RunCount)
	for i := range runs {
		runs[i] = i + 1
	}
	return runs
}

// Headers returns the extra request headers, if any.
func (s Settings) Headers() map[string]string {
	if s.ExtraHeader == nil {
		return nil
	}
	return map[string]string{s.ExtraHeader.Key: s.ExtraHeader.Value}
}

// DefaultSettings are used for sites without an entry.
func DefaultSettings(siteID int) Settings {
	return Settings{
		SiteID:   siteID,
		Enabled:  true,
		RunCount: DefaultRunCount,
		Devices:  catalog.SelectMobile,
	}
}

// ResolveSites validates every site entry and applies defaults.
func ResolveSites(sites []SiteConfig) (map[int]Settings, error) {
	out := make(map[int]Settings, len(sites))
	var errs []error
	for i, sc := range sites {
		if sc.ID <= 0 {
			errs = append(errs, fmt.Errorf("sites[%d]: id must be positive", i))
			continue
		}
		if _, dup := out[sc.ID]; dup {
			errs = append(errs, fmt.Errorf("sites[%d]: duplicate id %d", i, sc.ID))
			continue
		}
		s, err := sc.Resolve()
		if err != nil {
			errs = append(errs, fmt.Errorf("sites[%d]: %w", i, err))
			continue
		}
		out[sc.ID] = s
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return out, nil
}

// Resolve validates one site entry.
func (sc SiteConfig) Resolve() (Settings, error) {
	s := DefaultSettings(sc.ID)
	s.Name = sc.Name

	if sc.IsEnabled != nil {
		s.Enabled = *sc.IsEnabled
	}
	if sc.HasExtendedTimeout != nil {
		s.ExtendedTimeout = *sc.HasExtendedTimeout
	}
	if sc.HasGroupedURLs != nil {
		s.GroupedURLs = *sc.HasGroupedURLs
	}

	var errs []error
	if sc.RunCount != nil {
		if err := validateRunCount(*sc.RunCount); err != nil {
			errs = append(errs, err)
		} else {
			s.RunCount = *sc.RunCount
		}
	}
	if sc.EmulatedDevice != nil {
		sel, err := validateEmulatedDevice(*sc.EmulatedDevice)
		if err != nil {
			errs = append(errs, err)
		} else {
			s.Devices = sel
		}
	}
	if sc.HasExtraHTTPHeader != nil && *sc.HasExtraHTTPHeader {
		keyErr := validateHeaderKey(sc.ExtraHTTPHeaderKey)
		valueErr := validateHeaderValue(sc.ExtraHTTPHeaderValue)
		if keyErr != nil || valueErr != nil {
			errs = append(errs, keyErr, valueErr)
		} else {
			s.ExtraHeader = &Header{Key: sc.ExtraHTTPHeaderKey, Value: sc.ExtraHTTPHeaderValue}
		}
	}

	if err := errors.Join(errs...); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func validateRunCount(n int) error {
	if n < MinRunCount || n > MaxRunCount {
		return fmt.Errorf("run_count must be between %d and %d, got %d", MinRunCount, MaxRunCount, n)
	}
	return nil
}

func validateEmulatedDevice(v string) (catalog.DeviceSelection, error) {
	if strings.TrimSpace(v) == "" {
		return "", errors.New("emulated_device must not be empty")
	}
	sel, err := catalog.ParseDeviceSelection(v)
	if err != nil {
		return "", fmt.Errorf("emulated_device must be one of mobile, desktop or both, got %q", v)
	}
	return sel, nil
}

func validateHeaderKey(k string) error {
	switch k {
	case "Authorization", "Cookie":
		return nil
	case "":
		return errors.New("extra_http_header_key must not be empty")
	}
	return fmt.Errorf("extra_http_header_key must be Authorization or Cookie, got %q", k)
}

func validateHeaderValue(v string) error {
	if v == "" {
		return errors.New("extra_http_header_value must not be empty")
	}
	for _, r := range v {
		if r > 0x7f || r == '\n' || r == '\r' {
			return errors.New("extra_http_header_value must be ASCII without line breaks")
		}
	}
	return nil
}

// Site returns the settings of siteID, falling back to the defaults.
func (c *Config) Site(siteID int) Settings {
	if s, ok := c.Settings[siteID]; ok {
		return s
	}
	return DefaultSettings(siteID)
}

// SiteIDs returns the configured site ids in file order.
func (c *Config) SiteIDs() []int {
	ids := make([]int, 0, len(c.Sites))
	for _, sc := range c.Sites {
		ids = append(ids, sc.ID)
	}
	return ids
}

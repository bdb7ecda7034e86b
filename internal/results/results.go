// Package results keeps raw audit reports between the audit run and the
// aggregation of a site batch.
package results

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shyim/perfaudit/internal/catalog"
)

var (
	ErrNotFound   = errors.New("results: not found")
	ErrInvalidKey = errors.New("results: invalid key")
)

// Key identifies one raw report.
type Key struct {
	Site    int
	Device  catalog.Device
	URLHash string
	Run     int
	Debug   bool
}

// Name renders the key as "<site>-<device>-<hash>-[debug-]<run>.json".
func (k Key) Name() string {
	marker := ""
	if k.Debug {
		marker = "debug-"
	}
	return fmt.Sprintf("%d-%s-%s-%s%d.json", k.Site, k.Device, k.URLHash, marker, k.Run)
}

func ParseKey(name string) (Key, error) {
	base, ok := strings.CutSuffix(name, ".json")
	if !ok {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, name)
	}

	parts := strings.Split(base, "-")
	var k Key
	switch {
	case len(parts) == 4:
	case len(parts) == 5 && parts[3] == "debug":
		k.Debug = true
		parts = append(parts[:3], parts[4])
	default:
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, name)
	}

	site, err := strconv.Atoi(parts[0])
	if err != nil {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, name)
	}
	device, err := catalog.ParseDevice(parts[1])
	if err != nil {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, name)
	}
	run, err := strconv.Atoi(parts[3])
	if err != nil || parts[2] == "" {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, name)
	}

	k.Site, k.Device, k.URLHash, k.Run = site, device, parts[2], run
	return k, nil
}

// Store persists raw reports. List only returns keys of the given site
// whose debug marker matches debug.
type Store interface {
	Put(ctx context.Context, key Key, data []byte) error
	Get(ctx context.Context, key Key) ([]byte, error)
	List(ctx context.Context, site int, debug bool) ([]Key, error)
	Delete(ctx context.Context, key Key) error
}

func matches(name string, site int, debug bool) (Key, bool) {
	k, err := ParseKey(name)
	if err != nil {
		return Key{}, false
	}
	return k, k.Site == site && k.Debug == debug
}

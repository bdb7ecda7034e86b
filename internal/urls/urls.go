// Package urls selects and normalizes the page URLs that get audited.
package urls

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
)

// DefaultSubdomain is stripped before hashing so that www and apex URLs
// share an identifier.
const DefaultSubdomain = "www"

// Source yields the page URLs visited on a site since a point in time.
type Source interface {
	PageURLs(ctx context.Context, siteID int, since time.Time) ([]string, error)
}

// Candidates returns the http(s) page URLs of the trailing window ending at
// now, deduplicated in first-seen order.
func Candidates(ctx context.Context, src Source, siteID int, now time.Time, window time.Duration) ([]string, error) {
	since := now.Add(-window)
	raw, err := src.PageURLs(ctx, siteID, since)
	if err != nil {
		return nil, fmt.Errorf("urls: fetch page urls of site %d: %w", siteID, err)
	}
	return Dedupe(FilterHTTP(raw)), nil
}

// FilterHTTP keeps URLs that start with "http".
func FilterHTTP(in []string) []string {
	out := make([]string, 0, len(in))
	for _, u := range in {
		if strings.HasPrefix(u, "http") {
			out = append(out, u)
		}
	}
	return out
}

// Dedupe removes exact duplicates and keeps the first occurrence.
func Dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, u := range in {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// GroupByPath collapses URLs that only differ in their query string. The
// last URL seen for a path wins; paths keep their first-seen position.
func GroupByPath(in []string) []string {
	order := make([]string, 0, len(in))
	latest := make(map[string]string, len(in))
	for _, u := range in {
		base, _, _ := strings.Cut(u, "?")
		if _, ok := latest[base]; !ok {
			order = append(order, base)
		}
		latest[base] = u
	}

	out := make([]string, 0, len(order))
	for _, base := range order {
		out = append(out, latest[base])
	}
	return Dedupe(out)
}

// StripProtocolAndSubdomain removes the scheme and an optional leading
// subdomain label, e.g. "https://www.example.com/a" -> "example.com/a".
func StripProtocolAndSubdomain(u, subdomain string) string {
	return prefixPattern(subdomain).ReplaceAllString(u, "")
}

// compiled prefix patterns by subdomain
var prefixPatterns sync.Map

func prefixPattern(subdomain string) *regexp.Regexp {
	if re, ok := prefixPatterns.Load(subdomain); ok {
		return re.(*regexp.Regexp)
	}
	pattern := `^https?://`
	if subdomain != "" {
		pattern += `(` + regexp.QuoteMeta(subdomain) + `\.)?`
	}
	re, _ := prefixPatterns.LoadOrStore(subdomain, regexp.MustCompile(pattern))
	return re.(*regexp.Regexp)
}

// Hash is the hex SHA-1 of the normalized URL. It matches the hash the
// action lookup computes over stored action names.
func Hash(u, subdomain string) string {
	sum := sha1.Sum([]byte(StripProtocolAndSubdomain(u, subdomain)))
	return hex.EncodeToString(sum[:])
}

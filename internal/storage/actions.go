package storage

import (
	"context"
	"fmt"
	"time"
)

// ActionTypePageURL is the action type of page URLs.
const ActionTypePageURL = 1

var urlPrefixes = map[int16]string{
	0: "http://",
	1: "http://www.",
	2: "https://",
	3: "https://www.",
}

// ReconstructURL joins a stored action name with its url_prefix id. Names
// without a known prefix are returned unchanged.
func ReconstructURL(name string, prefix *int16) string {
	if prefix == nil {
		return name
	}
	p, ok := urlPrefixes[*prefix]
	if !ok {
		return name
	}
	return p + name
}

// PageURLs returns the absolute URLs of page views on siteID since the
// given time, ordered by their first visit.
func (db *DB) PageURLs(ctx context.Context, siteID int, since time.Time) ([]string, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT a.name, a.url_prefix
		FROM page_views pv
		INNER JOIN actions a ON a.id = pv.action_id
		WHERE pv.site_id = $1 AND pv.visited_at >= $2 AND a.type = $3
		GROUP BY a.id, a.name, a.url_prefix
		ORDER BY MIN(pv.visited_at), a.id`,
		siteID, since, ActionTypePageURL)
	if err != nil {
		return nil, fmt.Errorf("storage: query page urls: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var name string
		var prefix *int16
		if err := rows.Scan(&name, &prefix); err != nil {
			return nil, fmt.Errorf("storage: scan page url: %w", err)
		}
		urls = append(urls, ReconstructURL(name, prefix))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate page urls: %w", err)
	}
	return urls, nil
}

// ResolveActionIDs maps SHA-1 hashes of page URL action names to action ids.
// Hashes without a matching action are absent from the result.
func (db *DB) ResolveActionIDs(ctx context.Context, hashes []string) (map[string]int64, error) {
	lookup := make(map[string]int64, len(hashes))
	if len(hashes) == 0 {
		return lookup, nil
	}

	rows, err := db.pool.Query(ctx, `
		SELECT id, encode(digest(name, 'sha1'), 'hex') AS hash
		FROM actions
		WHERE type = $1 AND encode(digest(name, 'sha1'), 'hex') = ANY($2)`,
		ActionTypePageURL, hashes)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve action ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var hash string
		if err := rows.Scan(&id, &hash); err != nil {
			return nil, fmt.Errorf("storage: scan action: %w", err)
		}
		lookup[hash] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate actions: %w", err)
	}

	db.logger.Debug().Int("requested", len(hashes)).Int("resolved", len(lookup)).Msg("action lookup table built")
	return lookup, nil
}

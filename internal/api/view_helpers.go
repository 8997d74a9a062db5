package api

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"gleaner/internal/queue"
)

// ItemTitle returns the item's title, falling back to its URL host and path.
func ItemTitle(item QueueItem) string {
	if title := strings.TrimSpace(item.Title); title != "" {
		return title
	}
	if short := ShortURL(item.URL); short != "" {
		return short
	}
	return "Unknown"
}

// ShortURL renders a URL as host plus path without scheme or query.
func ShortURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(raw)
	}
	return strings.TrimPrefix(u.Host, "www.") + strings.TrimSuffix(u.Path, "/")
}

// TagNames extracts tag names in stored order.
func TagNames(tags []queue.Tag) []string {
	names := make([]string, 0, len(tags))
	for _, tag := range tags {
		names = append(names, tag.Name)
	}
	return names
}

// AttemptsLabel renders attempts against the configured budget.
func AttemptsLabel(attempts, limit int) string {
	if limit <= 0 {
		return strconv.Itoa(attempts)
	}
	return fmt.Sprintf("%d/%d", attempts, limit)
}

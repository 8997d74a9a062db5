package intake

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"

	"gleaner/internal/services"
)

// trackingParams are query keys removed during normalization.
var trackingParams = map[string]bool{
	"fbclid":  true,
	"gclid":   true,
	"mc_cid":  true,
	"mc_eid":  true,
	"ref":     true,
	"ref_src": true,
	"igshid":  true,
}

// NormalizeURL returns the form used for duplicate detection: lower-case
// scheme and host without "www." or a default port, no fragment, no
// tracking parameters, sorted query, and no trailing slash except at the
// root.
func NormalizeURL(raw string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "intake", "normalize url", raw, err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", services.Wrap(services.ErrValidation, "intake", "normalize url",
			fmt.Sprintf("unsupported scheme %q", parsed.Scheme), nil)
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return "", services.Wrap(services.ErrValidation, "intake", "normalize url", "missing host", nil)
	}
	host = strings.TrimPrefix(host, "www.")
	if port := parsed.Port(); port != "" && !(scheme == "http" && port == "80") && !(scheme == "https" && port == "443") {
		host = net.JoinHostPort(host, port)
	}

	path := parsed.EscapedPath()
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	if path == "" {
		path = "/"
	}

	query := parsed.Query()
	keys := make([]string, 0, len(query))
	for key := range query {
		lower := strings.ToLower(key)
		if trackingParams[lower] || strings.HasPrefix(lower, "utm_") {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, key := range keys {
		values := query[key]
		sort.Strings(values)
		for _, v := range values {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(key))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}

	out := scheme + "://" + host + path
	if b.Len() > 0 {
		out += "?" + b.String()
	}
	return out, nil
}

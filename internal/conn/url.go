package conn

import (
	"fmt"
	"net/url"
	"strings"
)

// EndpointSuffix is the canonical streaming endpoint path appended to the
// configured platform URL.
const EndpointSuffix = "/ws/events"

// NormalizeURL converts a configured platform URL into its streaming form:
// http becomes ws, https becomes wss, and the canonical endpoint suffix is
// appended exactly once with no duplicated separator.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("platform URL is empty")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse platform URL: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
		// Already in streaming form.
	default:
		return "", fmt.Errorf("unsupported URL scheme %q (expected http, https, ws, or wss)", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("platform URL %q has no host", raw)
	}

	path := strings.TrimRight(u.Path, "/")
	if !strings.HasSuffix(path, EndpointSuffix) {
		path += EndpointSuffix
	}
	u.Path = path

	return u.String(), nil
}

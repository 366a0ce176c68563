package relaylist

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/nbd-wtf/go-nostr"
)

// ErrInvalidURL is returned for relay urls that cannot be used as endpoints
var ErrInvalidURL = errors.New("invalid relay url")

// NormalizeURL turns user input into a canonical websocket relay url.
// A missing scheme defaults to wss, http(s) is mapped to ws(s).
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	if strings.ContainsAny(raw, " \t\n") {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}

	normalized := nostr.NormalizeURL(raw)
	if normalized == "" || !nostr.IsValidRelayURL(normalized) {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}

	u, err := url.Parse(normalized)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Hostname() == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	return normalized, nil
}

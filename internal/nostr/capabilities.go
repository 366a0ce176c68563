package nostr

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/sandwichfarm/zapline/internal/cache"
)

// NIP11RelayInfo represents relay information document (NIP-11)
type NIP11RelayInfo struct {
	URL           string `json:"-"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	PubKey        string `json:"pubkey"`
	Contact       string `json:"contact"`
	SupportedNIPs []int  `json:"supported_nips"`
	Software      string `json:"software"`
	Version       string `json:"version"`
}

// SupportsNIP reports whether the relay advertises nip
func (i *NIP11RelayInfo) SupportsNIP(nip int) bool {
	for _, n := range i.SupportedNIPs {
		if n == nip {
			return true
		}
	}
	return false
}

const relayInfoTTL = 7 * 24 * time.Hour

// RelayInfoFetcher reads NIP-11 documents, optionally caching them
type RelayInfoFetcher struct {
	http  *resty.Client
	cache cache.Store
}

// NewRelayInfoFetcher creates a fetcher; store may be nil
func NewRelayInfoFetcher(timeout time.Duration, store cache.Store) *RelayInfoFetcher {
	return &RelayInfoFetcher{
		http: resty.New().
			SetTimeout(timeout).
			SetHeader("Accept", "application/nostr+json"),
		cache: store,
	}
}

// Fetch returns the relay information document for a ws(s) url.
// Cached documents are reused for a week.
func (f *RelayInfoFetcher) Fetch(ctx context.Context, wsURL string) (*NIP11RelayInfo, error) {
	key := "nip11:" + wsURL
	if f.cache != nil {
		if data, ok, err := f.cache.Get(ctx, key); err == nil && ok {
			var info NIP11RelayInfo
			if json.Unmarshal(data, &info) == nil {
				info.URL = wsURL
				return &info, nil
			}
		}
	}

	// Convert ws:// or wss:// to http:// or https://
	httpURL := strings.Replace(wsURL, "ws://", "http://", 1)
	httpURL = strings.Replace(httpURL, "wss://", "https://", 1)

	resp, err := f.http.R().SetContext(ctx).Get(httpURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch NIP-11 info: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("NIP-11 request failed: status %d", resp.StatusCode())
	}

	var info NIP11RelayInfo
	if err := json.Unmarshal(resp.Body(), &info); err != nil {
		return nil, fmt.Errorf("failed to parse NIP-11 response: %w", err)
	}
	info.URL = wsURL

	if f.cache != nil {
		_ = f.cache.Set(ctx, key, resp.Body(), relayInfoTTL)
	}
	return &info, nil
}

package zap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/go-resty/resty/v2"

	internalnostr "github.com/sandwichfarm/zapline/internal/nostr"
)

// PayEndpoint is a resolved LNURL-pay service (LUD-06) with its NIP-57 extension
type PayEndpoint struct {
	Callback    string
	MinSendable int64 // msats
	MaxSendable int64 // msats
	AllowsNostr bool
	NostrPubkey string
	// LNURL is the bech32 encoding of the resolved url, sent in the zap request
	LNURL string
}

// Accepts reports whether msats is within the endpoint's sendable range
func (p *PayEndpoint) Accepts(msats int64) bool {
	if p.MinSendable > 0 && msats < p.MinSendable {
		return false
	}
	if p.MaxSendable > 0 && msats > p.MaxSendable {
		return false
	}
	return true
}

type lnurlStatus struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type payResponse struct {
	lnurlStatus
	Tag         string `json:"tag"`
	Callback    string `json:"callback"`
	MinSendable int64  `json:"minSendable"`
	MaxSendable int64  `json:"maxSendable"`
	AllowsNostr bool   `json:"allowsNostr"`
	NostrPubkey string `json:"nostrPubkey"`
}

type invoiceResponse struct {
	lnurlStatus
	PR string `json:"pr"`
}

// LNURLResolver resolves lightning addresses and requests invoices
type LNURLResolver struct {
	http   *resty.Client
	scheme string
}

// ResolverOption configures an LNURLResolver
type ResolverOption func(*LNURLResolver)

// WithInsecureScheme resolves lightning addresses over plain http
func WithInsecureScheme() ResolverOption {
	return func(r *LNURLResolver) { r.scheme = "http" }
}

// NewLNURLResolver creates a resolver whose calls are bounded by timeout
func NewLNURLResolver(timeout time.Duration, opts ...ResolverOption) *LNURLResolver {
	r := &LNURLResolver{
		http: resty.New().
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
		scheme: "https",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddressURL maps a lud16 lightning address to its LNURL-pay url
func (r *LNURLResolver) AddressURL(lud16 string) (string, error) {
	name, domain, ok := strings.Cut(strings.TrimSpace(lud16), "@")
	if !ok || name == "" || domain == "" {
		return "", fmt.Errorf("invalid lightning address %q", lud16)
	}
	return fmt.Sprintf("%s://%s/.well-known/lnurlp/%s", r.scheme, domain, url.PathEscape(name)), nil
}

// DecodeLNURL decodes a bech32 lnurl (lud06) to its url
func DecodeLNURL(lnurl string) (string, error) {
	hrp, data, err := bech32.DecodeNoLimit(strings.ToLower(strings.TrimSpace(lnurl)))
	if err != nil {
		return "", fmt.Errorf("failed to decode lnurl: %w", err)
	}
	if hrp != "lnurl" {
		return "", fmt.Errorf("expected lnurl prefix, got %s", hrp)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", fmt.Errorf("failed to convert lnurl data: %w", err)
	}
	return string(raw), nil
}

// EncodeLNURL encodes a url as a bech32 lnurl
func EncodeLNURL(rawURL string) (string, error) {
	conv, err := bech32.ConvertBits([]byte(rawURL), 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode("lnurl", conv)
}

// Resolve finds the pay endpoint for a profile, preferring lud16 over lud06
func (r *LNURLResolver) Resolve(ctx context.Context, profile *internalnostr.ProfileMetadata) (*PayEndpoint, error) {
	var (
		payURL string
		err    error
	)
	switch {
	case profile.Lud16 != "":
		payURL, err = r.AddressURL(profile.Lud16)
	case profile.Lud06 != "":
		payURL, err = DecodeLNURL(profile.Lud06)
	default:
		return nil, errors.New("profile has no lightning address")
	}
	if err != nil {
		return nil, err
	}

	resp, err := r.http.R().SetContext(ctx).Get(payURL)
	if err != nil {
		return nil, fmt.Errorf("failed to reach %s: %w", payURL, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("lnurl request failed: status %d", resp.StatusCode())
	}

	var pr payResponse
	if err := json.Unmarshal(resp.Body(), &pr); err != nil {
		return nil, fmt.Errorf("failed to parse lnurl response: %w", err)
	}
	if strings.EqualFold(pr.Status, "ERROR") {
		return nil, fmt.Errorf("lnurl error: %s", pr.Reason)
	}
	if pr.Callback == "" {
		return nil, errors.New("lnurl response has no callback")
	}

	encoded, err := EncodeLNURL(payURL)
	if err != nil {
		return nil, fmt.Errorf("failed to encode lnurl: %w", err)
	}

	return &PayEndpoint{
		Callback:    pr.Callback,
		MinSendable: pr.MinSendable,
		MaxSendable: pr.MaxSendable,
		AllowsNostr: pr.AllowsNostr,
		NostrPubkey: pr.NostrPubkey,
		LNURL:       encoded,
	}, nil
}

// RequestInvoice calls the endpoint's callback with a signed zap request and
// returns the bolt11 invoice
func (r *LNURLResolver) RequestInvoice(ctx context.Context, ep *PayEndpoint, msats int64, zapRequest string) (string, error) {
	params := map[string]string{
		"amount": strconv.FormatInt(msats, 10),
		"lnurl":  ep.LNURL,
	}
	if zapRequest != "" {
		params["nostr"] = zapRequest
	}

	resp, err := r.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(ep.Callback)
	if err != nil {
		return "", fmt.Errorf("invoice request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("invoice request failed: status %d", resp.StatusCode())
	}

	var ir invoiceResponse
	if err := json.Unmarshal(resp.Body(), &ir); err != nil {
		return "", fmt.Errorf("failed to parse invoice response: %w", err)
	}
	if strings.EqualFold(ir.Status, "ERROR") {
		return "", fmt.Errorf("invoice error: %s", ir.Reason)
	}
	if !strings.HasPrefix(strings.ToLower(ir.PR), "ln") {
		return "", errors.New("invoice response has no payment request")
	}
	return ir.PR, nil
}

package zap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"

	internalnostr "github.com/sandwichfarm/zapline/internal/nostr"
	"github.com/sandwichfarm/zapline/internal/ops"
)

// Wallet connection kinds (NIP-47)
const (
	KindNWCRequest  = 23194
	KindNWCResponse = 23195
)

// NWCConnection is a parsed nostr+walletconnect:// descriptor
type NWCConnection struct {
	WalletPubkey string
	Relay        string
	Secret       string
	ClientPubkey string
	Lud16        string
}

// ParseNWCURI parses a wallet connection descriptor
func ParseNWCURI(uri string) (*NWCConnection, error) {
	uri = strings.TrimSpace(uri)
	rest, ok := strings.CutPrefix(uri, "nostr+walletconnect://")
	if !ok {
		rest, ok = strings.CutPrefix(uri, "nostrwalletconnect://")
	}
	if !ok {
		return nil, errors.New("not a nostr+walletconnect uri")
	}

	pubkey, rawQuery, _ := strings.Cut(rest, "?")
	pubkey = strings.TrimSuffix(pubkey, "/")
	if !internalnostr.IsHex64(pubkey) {
		return nil, fmt.Errorf("invalid wallet pubkey %q", pubkey)
	}

	q, err := url.ParseQuery(rawQuery)
	if err != nil {
		return nil, fmt.Errorf("invalid connection parameters: %w", err)
	}
	relay := q.Get("relay")
	if !nostr.IsValidRelayURL(relay) {
		return nil, fmt.Errorf("invalid wallet relay %q", relay)
	}
	secret := q.Get("secret")
	clientPubkey, err := nostr.GetPublicKey(secret)
	if err != nil || !internalnostr.IsHex64(secret) {
		return nil, errors.New("invalid connection secret")
	}

	return &NWCConnection{
		WalletPubkey: pubkey,
		Relay:        nostr.NormalizeURL(relay),
		Secret:       secret,
		ClientPubkey: clientPubkey,
		Lud16:        q.Get("lud16"),
	}, nil
}

type nwcRequest struct {
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
}

type nwcResponse struct {
	ResultType string `json:"result_type"`
	Error      *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Result struct {
		Preimage string `json:"preimage"`
	} `json:"result"`
}

// NWCChannel pays through a remote wallet over a wallet connection
type NWCChannel struct {
	conn      *NWCConnection
	connected atomic.Bool
	logger    *ops.Logger
}

// NewNWCChannel creates the external channel. A nil connection is never available.
func NewNWCChannel(conn *NWCConnection, logger *ops.Logger) *NWCChannel {
	if logger == nil {
		logger = ops.Default()
	}
	c := &NWCChannel{conn: conn, logger: logger.WithComponent("nwc")}
	c.connected.Store(conn != nil)
	return c
}

func (c *NWCChannel) Kind() ChannelKind { return External }

// Available reports whether a connection is configured and marked connected
func (c *NWCChannel) Available() bool {
	return c.conn != nil && c.connected.Load()
}

// SetConnected marks the wallet connection usable or not
func (c *NWCChannel) SetConnected(v bool) {
	c.connected.Store(v)
}

// Attempt sends a pay_invoice request and waits for the wallet's response
func (c *NWCChannel) Attempt(ctx context.Context, invoice string) error {
	if c.conn == nil {
		return errors.New("no wallet connection")
	}

	shared, err := nip04.ComputeSharedSecret(c.conn.WalletPubkey, c.conn.Secret)
	if err != nil {
		return fmt.Errorf("failed to derive shared secret: %w", err)
	}

	payload, err := json.Marshal(nwcRequest{
		Method: "pay_invoice",
		Params: map[string]any{"invoice": invoice},
	})
	if err != nil {
		return err
	}
	content, err := nip04.Encrypt(string(payload), shared)
	if err != nil {
		return fmt.Errorf("failed to encrypt request: %w", err)
	}

	req := nostr.Event{
		Kind:      KindNWCRequest,
		CreatedAt: nostr.Now(),
		Content:   content,
		Tags:      nostr.Tags{{"p", c.conn.WalletPubkey}},
		PubKey:    c.conn.ClientPubkey,
	}
	if err := req.Sign(c.conn.Secret); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	relay, err := nostr.RelayConnect(ctx, c.conn.Relay)
	if err != nil {
		return fmt.Errorf("failed to connect to wallet relay: %w", err)
	}
	defer relay.Close()

	// Subscribe before publishing so the response cannot be missed
	sub, err := relay.Subscribe(ctx, nostr.Filters{{
		Kinds:   []int{KindNWCResponse},
		Authors: []string{c.conn.WalletPubkey},
		Tags:    nostr.TagMap{"e": {req.ID}},
	}})
	if err != nil {
		return fmt.Errorf("failed to subscribe for wallet response: %w", err)
	}
	defer sub.Unsub()

	if err := relay.Publish(ctx, req); err != nil {
		return fmt.Errorf("failed to send request to wallet: %w", err)
	}
	c.logger.Debug("pay_invoice sent", "request", req.ID, "relay", c.conn.Relay)

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("wallet did not respond: %w", ctx.Err())
		case ev, ok := <-sub.Events:
			if !ok {
				return errors.New("wallet subscription closed")
			}
			if ev.PubKey != c.conn.WalletPubkey {
				continue
			}
			return c.handleResponse(ev, shared)
		}
	}
}

func (c *NWCChannel) handleResponse(ev *nostr.Event, shared []byte) error {
	plain, err := nip04.Decrypt(ev.Content, shared)
	if err != nil {
		return fmt.Errorf("failed to decrypt wallet response: %w", err)
	}

	var resp nwcResponse
	if err := json.Unmarshal([]byte(plain), &resp); err != nil {
		return fmt.Errorf("failed to parse wallet response: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("wallet error %s: %s", resp.Error.Code, resp.Error.Message)
	}
	if resp.ResultType != "pay_invoice" {
		return fmt.Errorf("unexpected wallet result %q", resp.ResultType)
	}
	return nil
}

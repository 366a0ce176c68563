package zap

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandwichfarm/zapline/internal/config"
	"github.com/sandwichfarm/zapline/internal/devrelay"
	"github.com/sandwichfarm/zapline/internal/nostr/nostrtest"
	"github.com/sandwichfarm/zapline/internal/ops"
)

func TestProviderChannel(t *testing.T) {
	var got string
	ch := NewProviderChannel(ProviderFunc(func(_ context.Context, invoice string) (string, error) {
		got = invoice
		return "preimage", nil
	}))
	assert.Equal(t, InEnvironment, ch.Kind())
	assert.True(t, ch.Available())
	require.NoError(t, ch.Attempt(context.Background(), "lnbc1"))
	assert.Equal(t, "lnbc1", got)

	failing := NewProviderChannel(ProviderFunc(func(context.Context, string) (string, error) {
		return "", errors.New("no route")
	}))
	assert.ErrorContains(t, failing.Attempt(context.Background(), "lnbc1"), "no route")

	assert.False(t, NewProviderChannel(nil).Available())
}

func TestCommandProvider(t *testing.T) {
	if _, err := exec.LookPath("echo"); err != nil {
		t.Skip("echo not available")
	}

	preimage, err := (&CommandProvider{Args: []string{"echo"}}).SendPayment(context.Background(), "lnbc100n1x")
	require.NoError(t, err)
	assert.Equal(t, "lnbc100n1x", preimage)

	_, err = (&CommandProvider{Args: []string{"false"}}).SendPayment(context.Background(), "lnbc100n1x")
	assert.Error(t, err)

	_, err = (&CommandProvider{}).SendPayment(context.Background(), "lnbc100n1x")
	assert.Error(t, err)
}

func TestParseNWCURI(t *testing.T) {
	wallet := nostrtest.NewIdentity()
	client := nostrtest.NewIdentity()

	conn, err := ParseNWCURI("nostr+walletconnect://" + wallet.PublicKey +
		"?relay=wss%3A%2F%2Frelay.wallet.test&secret=" + client.SecretKey + "&lud16=alice@wallet.test")
	require.NoError(t, err)
	assert.Equal(t, wallet.PublicKey, conn.WalletPubkey)
	assert.Equal(t, "wss://relay.wallet.test", conn.Relay)
	assert.Equal(t, client.PublicKey, conn.ClientPubkey)
	assert.Equal(t, "alice@wallet.test", conn.Lud16)

	bad := []string{
		"https://example.com",
		"nostr+walletconnect://nothex?relay=wss://r.test&secret=" + client.SecretKey,
		"nostr+walletconnect://" + wallet.PublicKey + "?secret=" + client.SecretKey,
		"nostr+walletconnect://" + wallet.PublicKey + "?relay=wss://r.test&secret=zz",
	}
	for _, uri := range bad {
		_, err := ParseNWCURI(uri)
		assert.Error(t, err, uri)
	}
}

func TestChannelsFromConfig(t *testing.T) {
	wallet := nostrtest.NewIdentity()
	client := nostrtest.NewIdentity()

	cfg := config.Zaps{
		NWCURI:          "nostr+walletconnect://" + wallet.PublicKey + "?relay=wss://r.test&secret=" + client.SecretKey,
		ProviderCommand: []string{"pay-invoice"},
	}
	channels, err := ChannelsFromConfig(&cfg, ops.Discard())
	require.NoError(t, err)
	require.Len(t, channels, 2)
	assert.Equal(t, External, channels[0].Kind())
	assert.Equal(t, InEnvironment, channels[1].Kind())

	cfg.NWCURI = "garbage"
	_, err = ChannelsFromConfig(&cfg, ops.Discard())
	assert.Error(t, err)
}

// runFakeWallet answers pay_invoice requests on relayURL until ctx ends
func runFakeWallet(t *testing.T, ctx context.Context, relayURL string, wallet nostrtest.Identity, walletErr string) {
	t.Helper()

	relay, err := nostr.RelayConnect(ctx, relayURL)
	require.NoError(t, err)
	sub, err := relay.Subscribe(ctx, nostr.Filters{{
		Kinds: []int{KindNWCRequest},
		Tags:  nostr.TagMap{"p": {wallet.PublicKey}},
	}})
	require.NoError(t, err)

	select {
	case <-sub.EndOfStoredEvents:
	case <-time.After(5 * time.Second):
		t.Fatal("wallet subscription never reached EOSE")
	}

	go func() {
		defer relay.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.Events:
				if !ok {
					return
				}
				shared, err := nip04.ComputeSharedSecret(ev.PubKey, wallet.SecretKey)
				if err != nil {
					continue
				}
				if _, err := nip04.Decrypt(ev.Content, shared); err != nil {
					continue
				}

				body := `{"result_type":"pay_invoice","result":{"preimage":"00"}}`
				if walletErr != "" {
					body = `{"result_type":"pay_invoice","error":{"code":"INSUFFICIENT_BALANCE","message":"` + walletErr + `"}}`
				}
				content, _ := nip04.Encrypt(body, shared)
				resp := nostr.Event{
					Kind:      KindNWCResponse,
					CreatedAt: nostr.Now(),
					Content:   content,
					Tags:      nostr.Tags{{"e", ev.ID}, {"p", ev.PubKey}},
					PubKey:    wallet.PublicKey,
				}
				if err := resp.Sign(wallet.SecretKey); err == nil {
					_ = relay.Publish(ctx, resp)
				}
			}
		}
	}()
}

func startWalletRelay(t *testing.T) string {
	t.Helper()
	rl, err := devrelay.New("wallet", ops.Discard())
	require.NoError(t, err)
	srv := newRelayServer(rl)
	t.Cleanup(func() {
		srv.Close()
		rl.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestNWCChannelPaysThroughWallet(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	relayURL := startWalletRelay(t)
	wallet := nostrtest.NewIdentity()
	client := nostrtest.NewIdentity()
	runFakeWallet(t, ctx, relayURL, wallet, "")

	ch := NewNWCChannel(&NWCConnection{
		WalletPubkey: wallet.PublicKey,
		Relay:        relayURL,
		Secret:       client.SecretKey,
		ClientPubkey: client.PublicKey,
	}, ops.Discard())
	require.True(t, ch.Available())

	actx, acancel := context.WithTimeout(ctx, 5*time.Second)
	defer acancel()
	require.NoError(t, ch.Attempt(actx, "lnbc100n1"+invoiceData))

	ch.SetConnected(false)
	assert.False(t, ch.Available())
}

func TestNWCChannelWalletError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	relayURL := startWalletRelay(t)
	wallet := nostrtest.NewIdentity()
	client := nostrtest.NewIdentity()
	runFakeWallet(t, ctx, relayURL, wallet, "not enough sats")

	ch := NewNWCChannel(&NWCConnection{
		WalletPubkey: wallet.PublicKey,
		Relay:        relayURL,
		Secret:       client.SecretKey,
		ClientPubkey: client.PublicKey,
	}, ops.Discard())

	actx, acancel := context.WithTimeout(ctx, 5*time.Second)
	defer acancel()
	err := ch.Attempt(actx, "lnbc100n1"+invoiceData)
	assert.ErrorContains(t, err, "not enough sats")
}

func TestNWCChannelWithoutWalletTimesOut(t *testing.T) {
	relayURL := startWalletRelay(t)
	client := nostrtest.NewIdentity()

	ch := NewNWCChannel(&NWCConnection{
		WalletPubkey: nostrtest.NewIdentity().PublicKey,
		Relay:        relayURL,
		Secret:       client.SecretKey,
		ClientPubkey: client.PublicKey,
	}, ops.Discard())

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	assert.Error(t, ch.Attempt(ctx, "lnbc100n1"+invoiceData))
}

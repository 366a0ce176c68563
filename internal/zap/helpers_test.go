package zap

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/zapline/internal/aggregates"
	"github.com/sandwichfarm/zapline/internal/config"
	internalnostr "github.com/sandwichfarm/zapline/internal/nostr"
	"github.com/sandwichfarm/zapline/internal/nostr/nostrtest"
	"github.com/sandwichfarm/zapline/internal/ops"
)

// bech32 data without a '1', so the human readable part ends at the last '1'
const invoiceData = "p3kx5e2pp5qqqsyqcyq5rqwzqfqqqsyqcyq5rqwzqfqqqsyqcyq5rqwzqfqypq"

// lnurlServer is a fake LNURL-pay service for the lightning address "alice@<host>"
type lnurlServer struct {
	*httptest.Server

	// InvoiceError makes the callback answer with an LNURL error
	InvoiceError bool
	// AllowsNostr is advertised in the pay response
	AllowsNostr bool

	mu       sync.Mutex
	requests []*nostr.Event
}

func newLNURLServer(t *testing.T) *lnurlServer {
	t.Helper()
	ls := &lnurlServer{AllowsNostr: true}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/lnurlp/alice", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"tag":         "payRequest",
			"callback":    ls.URL + "/callback",
			"minSendable": 1000,
			"maxSendable": 100_000_000,
			"metadata":    `[["text/plain","alice"]]`,
			"allowsNostr": ls.AllowsNostr,
			"nostrPubkey": strings.Repeat("ab", 32),
		})
	})
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		if ls.InvoiceError {
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "ERROR", "reason": "wallet offline"})
			return
		}
		msats, err := strconv.ParseInt(r.URL.Query().Get("amount"), 10, 64)
		if err != nil {
			http.Error(w, "bad amount", http.StatusBadRequest)
			return
		}
		var req nostr.Event
		if err := json.Unmarshal([]byte(r.URL.Query().Get("nostr")), &req); err != nil {
			http.Error(w, "bad zap request", http.StatusBadRequest)
			return
		}
		if ok, _ := req.CheckSignature(); !ok {
			http.Error(w, "bad signature", http.StatusBadRequest)
			return
		}
		ls.mu.Lock()
		ls.requests = append(ls.requests, &req)
		ls.mu.Unlock()

		_ = json.NewEncoder(w).Encode(map[string]any{
			"pr":     invoiceFor(msats),
			"routes": []any{},
		})
	})

	ls.Server = httptest.NewServer(mux)
	t.Cleanup(ls.Close)
	return ls
}

func (ls *lnurlServer) Address() string {
	return "alice@" + strings.TrimPrefix(ls.URL, "http://")
}

func (ls *lnurlServer) Requests() []*nostr.Event {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return append([]*nostr.Event(nil), ls.requests...)
}

func invoiceFor(msats int64) string {
	return fmt.Sprintf("lnbc%dn1%s", msats/100, invoiceData)
}

type fixture struct {
	endpoint  *nostrtest.Endpoint
	gateway   *internalnostr.Gateway
	lnurl     *lnurlServer
	sender    nostrtest.Identity
	recipient nostrtest.Identity
	service   nostrtest.Identity
	note      *nostr.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		endpoint:  nostrtest.NewEndpoint("wss://relay.test"),
		lnurl:     newLNURLServer(t),
		sender:    nostrtest.NewIdentity(),
		recipient: nostrtest.NewIdentity(),
		service:   nostrtest.NewIdentity(),
	}
	f.gateway = internalnostr.NewGateway([]internalnostr.Endpoint{f.endpoint},
		internalnostr.WithLogger(ops.Discard()),
		internalnostr.WithPublishPolicy(1, 0, time.Second),
	)
	f.note = f.recipient.Event(t, 1, "zap me", nil, nostr.Now()-60)
	f.endpoint.Add(f.note)
	return f
}

func (f *fixture) addProfile(t *testing.T, content string) {
	f.endpoint.Add(f.recipient.Event(t, 0, content, nil, nostr.Now()-120))
}

func (f *fixture) addLightningProfile(t *testing.T) {
	f.addProfile(t, fmt.Sprintf(`{"name":"alice","lud16":%q}`, f.lnurl.Address()))
}

func (f *fixture) engine(signer internalnostr.Signer, opts ...Option) *Engine {
	cfg := config.Default().Zaps
	resolver := NewLNURLResolver(2*time.Second, WithInsecureScheme())
	opts = append([]Option{
		WithLogger(ops.Discard()),
		WithPolling(20*time.Millisecond, 2*time.Second),
		WithDeadlines(200*time.Millisecond, 200*time.Millisecond),
	}, opts...)
	return NewEngine(f.gateway, signer, resolver, &cfg, opts...)
}

func (f *fixture) params(sats int64) Params {
	return Params{Target: aggregates.TargetFromEvent(f.note), AmountSats: sats, Comment: "great post"}
}

// publishReceipt simulates the recipient's payment service confirming invoice
func (f *fixture) publishReceipt(t *testing.T, s *Session) *nostr.Event {
	receipt := f.service.Event(t, aggregates.KindZapReceipt, "", nostr.Tags{
		{"p", f.recipient.PublicKey},
		{"e", f.note.ID},
		{"bolt11", s.Invoice()},
		{"description", s.Request().String()},
	}, nostr.Now())
	f.endpoint.Add(receipt)
	return receipt
}

// fakeChannel records attempts and returns err
type fakeChannel struct {
	kind      ChannelKind
	available bool
	err       error

	mu       sync.Mutex
	invoices []string
}

func (c *fakeChannel) Kind() ChannelKind { return c.kind }

func (c *fakeChannel) Available() bool { return c.available }

func (c *fakeChannel) Attempt(_ context.Context, invoice string) error {
	c.mu.Lock()
	c.invoices = append(c.invoices, invoice)
	c.mu.Unlock()
	return c.err
}

func (c *fakeChannel) attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.invoices)
}

func newRelayServer(h http.Handler) *httptest.Server {
	return httptest.NewServer(h)
}

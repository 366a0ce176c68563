// Package zap orchestrates zap payments: request signing, invoice acquisition,
// channel fallback and asynchronous receipt confirmation.
package zap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/zapline/internal/aggregates"
	"github.com/sandwichfarm/zapline/internal/config"
	internalnostr "github.com/sandwichfarm/zapline/internal/nostr"
	"github.com/sandwichfarm/zapline/internal/ops"
)

// receiptSlack widens the receipt search window for clock skew between the
// caller and the recipient's payment service
const receiptSlack = 60

// Params describes one zap
type Params struct {
	// Recipient defaults to Target.Author
	Recipient  string
	Target     aggregates.Target
	AmountSats int64
	Comment    string
	// OnSuccess runs once when the zap settles
	OnSuccess func(*Session)
}

// Engine runs zap sessions
type Engine struct {
	gateway  *internalnostr.Gateway
	signer   internalnostr.Signer
	resolver *LNURLResolver
	channels []Channel
	// discovery finds the recipient's read relays for receipts
	discovery *internalnostr.Discovery

	receiptRelays  []string
	pollInterval   time.Duration
	window         time.Duration
	invoiceTimeout time.Duration
	channelTimeout time.Duration
	lookupDeadline time.Duration
	queryDeadline  time.Duration

	logger  *ops.Logger
	metrics *ops.Metrics
}

// Option configures an Engine
type Option func(*Engine)

// WithChannels sets the ordered channel chain tried before manual payment
func WithChannels(channels ...Channel) Option {
	return func(e *Engine) { e.channels = channels }
}

// WithPolling sets the receipt poll interval and confirmation window
func WithPolling(interval, window time.Duration) Option {
	return func(e *Engine) {
		if interval > 0 {
			e.pollInterval = interval
		}
		if window > 0 {
			e.window = window
		}
	}
}

// WithLogger sets the engine logger
func WithLogger(l *ops.Logger) Option {
	return func(e *Engine) { e.logger = l.WithComponent("zap") }
}

// WithMetrics records state transitions
func WithMetrics(m *ops.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithDeadlines overrides the profile lookup and receipt query deadlines
func WithDeadlines(lookup, query time.Duration) Option {
	return func(e *Engine) {
		if lookup > 0 {
			e.lookupDeadline = lookup
		}
		if query > 0 {
			e.queryDeadline = query
		}
	}
}

// NewEngine creates an engine using cfg for timeouts and receipt relays
func NewEngine(gw *internalnostr.Gateway, signer internalnostr.Signer, resolver *LNURLResolver, cfg *config.Zaps, opts ...Option) *Engine {
	e := &Engine{
		gateway:        gw,
		signer:         signer,
		resolver:       resolver,
		receiptRelays:  cfg.ReceiptRelays,
		pollInterval:   cfg.PollInterval(),
		window:         cfg.ConfirmationWindow(),
		invoiceTimeout: cfg.InvoiceTimeout(),
		channelTimeout: cfg.ChannelTimeout(),
		lookupDeadline: internalnostr.DeadlineLookup,
		queryDeadline:  internalnostr.DeadlineAggregate,
		logger:         ops.Default().WithComponent("zap"),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.discovery = internalnostr.NewDiscovery(gw, e.lookupDeadline)
	return e
}

// maxInboxRelays caps how many of the recipient's read relays a request names
const maxInboxRelays = 3

// receiptRelaysFor lists where the receipt should be published: the
// configured receipt relays, or the default set plus a few of the
// recipient's read relays.
func (e *Engine) receiptRelaysFor(ctx context.Context, recipient string) []string {
	if len(e.receiptRelays) > 0 {
		return e.receiptRelays
	}

	relays := e.gateway.URLs()
	seen := make(map[string]bool, len(relays))
	for _, u := range relays {
		seen[u] = true
	}
	added := 0
	for _, u := range e.discovery.InboxRelays(ctx, recipient) {
		if added == maxInboxRelays {
			break
		}
		u = nostr.NormalizeURL(u)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		relays = append(relays, u)
		added++
	}
	return relays
}

// ChannelsFromConfig builds the configured channel chain: the wallet
// connection first, then the in-environment payment command
func ChannelsFromConfig(cfg *config.Zaps, logger *ops.Logger) ([]Channel, error) {
	var channels []Channel
	if cfg.NWCURI != "" {
		conn, err := ParseNWCURI(cfg.NWCURI)
		if err != nil {
			return nil, fmt.Errorf("invalid wallet connection: %w", err)
		}
		channels = append(channels, NewNWCChannel(conn, logger))
	}
	if len(cfg.ProviderCommand) > 0 {
		channels = append(channels, NewProviderChannel(&CommandProvider{Args: cfg.ProviderCommand}))
	}
	return channels, nil
}

func (e *Engine) observe(s *Session, tr Transition) {
	e.logger.LogZapTransition(s.ID, string(tr.From), string(tr.To), tr.Reason)
	e.metrics.ObserveZapTransition(string(tr.To))
}

// Zap runs a zap until it settles through a channel, fails, or awaits manual
// payment. In the last case a background poll confirms it; the poll ends with
// ctx, Session.Cancel, a matching receipt or the confirmation window.
// The returned session is never nil.
func (e *Engine) Zap(ctx context.Context, p Params) (*Session, *SettlementError) {
	if p.Recipient == "" {
		p.Recipient = p.Target.Author
	}
	s := newSession(uuid.NewString(), p, e.observe)

	flowCtx, cancel := context.WithCancel(ctx)
	s.setCancel(cancel)

	abort := func(err *SettlementError, reason string) (*Session, *SettlementError) {
		s.fail(err, reason)
		cancel()
		return s, s.Err()
	}

	if _, err := internalnostr.RequireIdentity(flowCtx, e.signer); err != nil {
		return abort(newError(CodeUnauthenticated, err), "")
	}
	if p.AmountSats <= 0 {
		return abort(newError(CodeInvalidAmount, nil), "")
	}
	if !internalnostr.IsHex64(p.Recipient) {
		return abort(newError(CodeAuthorNotFound, fmt.Errorf("invalid recipient %q", p.Recipient)), "")
	}

	profileEv := e.gateway.Latest(flowCtx, p.Recipient, internalnostr.KindProfile, e.lookupDeadline)
	if profileEv == nil {
		return abort(newError(CodeAuthorNotFound, nil), "")
	}
	profile, err := internalnostr.ParseProfile(profileEv)
	if err != nil {
		return abort(newError(CodeAuthorNotFound, err), "")
	}
	if profile.Lud16 == "" && profile.Lud06 == "" {
		return abort(newError(CodeNoPaymentIdentifier, nil), "")
	}

	s.transition(StateRequestingInvoice, "resolving payment endpoint", nil)

	rctx, rcancel := context.WithTimeout(flowCtx, e.invoiceTimeout)
	payEp, err := e.resolver.Resolve(rctx, profile)
	rcancel()
	if err != nil {
		return abort(newError(CodeNoPaymentEndpoint, err), "")
	}
	if !payEp.AllowsNostr || payEp.NostrPubkey == "" {
		return abort(&SettlementError{
			Code:    CodeNoPaymentEndpoint,
			Message: "recipient's wallet does not support zaps",
		}, "")
	}

	msats := p.AmountSats * 1000
	if !payEp.Accepts(msats) {
		return abort(&SettlementError{
			Code: CodeInvoiceFailed,
			Message: fmt.Sprintf("amount must be between %d and %d sats",
				payEp.MinSendable/1000, payEp.MaxSendable/1000),
		}, "")
	}

	relays := e.receiptRelaysFor(flowCtx, p.Recipient)
	request := BuildZapRequest(RequestParams{
		Recipient:  p.Recipient,
		Target:     p.Target,
		AmountMsat: msats,
		Comment:    p.Comment,
		LNURL:      payEp.LNURL,
		Relays:     relays,
	})
	if err := internalnostr.Sign(flowCtx, e.signer, request); err != nil {
		code := CodeSignerDeclined
		if errors.Is(err, internalnostr.ErrUnauthenticated) {
			code = CodeUnauthenticated
		}
		return abort(newError(code, err), "")
	}

	ictx, icancel := context.WithTimeout(flowCtx, e.invoiceTimeout)
	invoice, err := e.resolver.RequestInvoice(ictx, payEp, msats, request.String())
	icancel()
	if err != nil {
		return abort(newError(CodeInvoiceFailed, err), "")
	}
	if got, err := aggregates.ParseInvoiceMsats(invoice); err == nil && got != msats {
		return abort(newError(CodeInvoiceFailed, fmt.Errorf("invoice is for %d msats, requested %d", got, msats)), "")
	}

	s.mu.Lock()
	s.request = request
	s.invoice = invoice
	s.relays = relays
	s.mu.Unlock()

	for _, ch := range e.channels {
		if !ch.Available() {
			continue
		}
		if flowCtx.Err() != nil {
			return abort(newError(CodeAbandoned, flowCtx.Err()), "cancelled")
		}
		kind := ch.Kind()
		s.transition(StateChannelAttempt, kind.String(), nil)

		actx, acancel := context.WithTimeout(flowCtx, e.channelTimeout)
		err := ch.Attempt(actx, invoice)
		acancel()
		if err == nil {
			if s.transition(StateSettled, "paid via "+kind.String(), func(s *Session) { s.channel = kind }) {
				e.settled(flowCtx, s, p)
			}
			cancel()
			return s, s.Err()
		}
		e.logger.WithFields("session", s.ID, "channel", kind.String()).
			Warn("payment channel failed, falling back", "error", err)
	}

	if !s.transition(StateAwaitingManualPayment, "invoice ready", nil) {
		cancel()
		return s, s.Err()
	}
	go e.poll(flowCtx, cancel, s, p, request.CreatedAt-receiptSlack)
	return s, nil
}

func (e *Engine) receiptFilter(s *Session, since nostr.Timestamp) nostr.Filters {
	if s.Target.ID != "" || s.Target.IsAddressable() {
		return nostr.Filters{aggregates.ReceiptFilter(s.Target, since)}
	}
	return nostr.Filters{{
		Kinds: []int{aggregates.KindZapReceipt},
		Tags:  nostr.TagMap{"p": {s.Recipient}},
		Since: &since,
	}}
}

func (e *Engine) poll(ctx context.Context, cancel context.CancelFunc, s *Session, p Params, since nostr.Timestamp) {
	defer cancel()

	window := time.NewTimer(e.window)
	defer window.Stop()
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	filters := e.receiptFilter(s, since)
	invoice := s.Invoice()
	s.mu.Lock()
	relays := s.relays
	s.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			s.fail(newError(CodeAbandoned, ctx.Err()), "cancelled")
			return
		case <-window.C:
			s.fail(newError(CodeConfirmationTimeout, nil), "no receipt within "+e.window.String())
			return
		case <-ticker.C:
			for _, receipt := range e.gateway.QueryFrom(ctx, relays, filters, e.queryDeadline) {
				if receipt.Kind != aggregates.KindZapReceipt || !aggregates.ReceiptMatchesInvoice(receipt, invoice) {
					continue
				}
				if s.transition(StateSettled, "receipt observed", func(s *Session) { s.receipt = receipt }) {
					e.settled(ctx, s, p)
				}
				return
			}
		}
	}
}

func (e *Engine) settled(ctx context.Context, s *Session, p Params) {
	if s.Target.ID != "" || s.Target.IsAddressable() {
		e.gateway.Invalidate(ctx, aggregates.ZapCacheKey(s.Target))
	}
	if p.OnSuccess != nil {
		p.OnSuccess(s)
	}
}

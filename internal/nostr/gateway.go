package nostr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nbd-wtf/go-nostr"
	"golang.org/x/sync/errgroup"

	"github.com/sandwichfarm/zapline/internal/cache"
	"github.com/sandwichfarm/zapline/internal/ops"
)

// Deadline presets for the different query families
const (
	DeadlineLookup        = 1500 * time.Millisecond
	DeadlineNotifications = 3 * time.Second
	DeadlineAggregate     = 5 * time.Second
)

// KindDeletion is the NIP-09 deletion request kind
const KindDeletion = 5

// ErrNotAccepted means no endpoint accepted a published event
var ErrNotAccepted = errors.New("no relay accepted the event")

// Gateway fans queries out to a set of endpoints and merges the results.
// Transport failures never surface as errors from reads.
type Gateway struct {
	endpoints []Endpoint
	dial      func(url string) Endpoint

	mu    sync.Mutex
	byURL map[string]Endpoint

	cache    cache.Store
	cacheTTL func(key string) time.Duration

	publishAttempts int
	publishBackoff  time.Duration
	publishTimeout  time.Duration

	logger  *ops.Logger
	metrics *ops.Metrics
}

// GatewayOption configures a Gateway
type GatewayOption func(*Gateway)

// WithCache enables the read-through cache; ttl picks a TTL per key
func WithCache(store cache.Store, ttl func(key string) time.Duration) GatewayOption {
	return func(g *Gateway) {
		g.cache = store
		if ttl != nil {
			g.cacheTTL = ttl
		}
	}
}

// WithLogger sets the gateway logger
func WithLogger(l *ops.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = l.WithComponent("gateway") }
}

// WithMetrics records query and publish metrics
func WithMetrics(m *ops.Metrics) GatewayOption {
	return func(g *Gateway) { g.metrics = m }
}

// WithPublishPolicy sets attempts per endpoint, the fixed wait between them and
// the bound on a single attempt
func WithPublishPolicy(attempts int, wait, timeout time.Duration) GatewayOption {
	return func(g *Gateway) {
		if attempts > 0 {
			g.publishAttempts = attempts
		}
		g.publishBackoff = wait
		if timeout > 0 {
			g.publishTimeout = timeout
		}
	}
}

// WithDialer lets the gateway reach relays outside its default set
func WithDialer(dial func(url string) Endpoint) GatewayOption {
	return func(g *Gateway) { g.dial = dial }
}

// NewGateway creates a gateway whose default read and write set is endpoints
func NewGateway(endpoints []Endpoint, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		endpoints:       endpoints,
		byURL:           make(map[string]Endpoint, len(endpoints)),
		cacheTTL:        func(string) time.Duration { return 30 * time.Second },
		publishAttempts: 3,
		publishBackoff:  time.Second,
		publishTimeout:  5 * time.Second,
		logger:          ops.Default().WithComponent("gateway"),
	}
	for _, ep := range endpoints {
		g.byURL[ep.URL()] = ep
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// URLs returns the default endpoint set
func (g *Gateway) URLs() []string {
	urls := make([]string, 0, len(g.endpoints))
	for _, ep := range g.endpoints {
		urls = append(urls, ep.URL())
	}
	return urls
}

// resolve maps urls to endpoints, dialing unknown ones when a dialer is set.
// An empty list means the default set.
func (g *Gateway) resolve(urls []string) ([]Endpoint, []string) {
	if len(urls) == 0 {
		return g.endpoints, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	seen := make(map[string]bool, len(urls))
	endpoints := make([]Endpoint, 0, len(urls))
	var missing []string
	for _, raw := range urls {
		u := nostr.NormalizeURL(raw)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true

		ep, ok := g.byURL[u]
		if !ok && g.dial != nil {
			ep = g.dial(u)
			g.byURL[u] = ep
			ok = true
		}
		if !ok {
			missing = append(missing, u)
			continue
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, missing
}

// Query fans filters out to the default endpoints
func (g *Gateway) Query(ctx context.Context, filters nostr.Filters, deadline time.Duration) []*nostr.Event {
	return g.QueryFrom(ctx, nil, filters, deadline)
}

// QueryFrom fans filters out to urls (or the default set when empty). Each endpoint
// gets its own deadline; failures and timeouts are logged and dropped. The merged
// result is deduplicated by id and sorted newest first.
func (g *Gateway) QueryFrom(ctx context.Context, urls []string, filters nostr.Filters, deadline time.Duration) []*nostr.Event {
	endpoints, missing := g.resolve(urls)
	for _, u := range missing {
		g.logger.Debug("no endpoint for relay, skipping", "relay", u)
	}

	var (
		mu     sync.Mutex
		merged = make(map[string]*nostr.Event)
		eg     errgroup.Group
	)
	for _, ep := range endpoints {
		eg.Go(func() error {
			qctx, cancel := context.WithTimeout(ctx, deadline)
			defer cancel()

			start := time.Now()
			events, err := ep.Query(qctx, filters)
			elapsed := time.Since(start)
			g.metrics.ObserveQuery(ep.URL(), elapsed, len(events), err)
			g.logger.LogRelayQuery(ep.URL(), elapsed, len(events), err)

			mu.Lock()
			defer mu.Unlock()
			for _, ev := range events {
				if ev == nil || ev.ID == "" {
					continue
				}
				if _, ok := merged[ev.ID]; !ok {
					merged[ev.ID] = ev
				}
			}
			return nil
		})
	}
	_ = eg.Wait()

	result := make([]*nostr.Event, 0, len(merged))
	for _, ev := range merged {
		result = append(result, ev)
	}
	SortNewestFirst(result)
	return result
}

// QueryCached serves filters from the cache under key, falling back to Query.
// Only non-empty results are cached.
func (g *Gateway) QueryCached(ctx context.Context, key string, filters nostr.Filters, deadline time.Duration) []*nostr.Event {
	if g.cache == nil {
		return g.Query(ctx, filters, deadline)
	}

	data, ok, err := g.cache.Get(ctx, key)
	if err != nil {
		g.logger.Warn("cache read failed", "key", key, "error", err)
	}
	if ok {
		var events []*nostr.Event
		if err := json.Unmarshal(data, &events); err == nil {
			g.metrics.ObserveCache(true)
			g.logger.LogCacheOperation("get", key, true)
			return events
		}
		g.logger.Warn("cache entry corrupt, refetching", "key", key)
	}
	g.metrics.ObserveCache(false)
	g.logger.LogCacheOperation("get", key, false)

	events := g.Query(ctx, filters, deadline)
	if len(events) > 0 {
		if data, err := json.Marshal(events); err == nil {
			if err := g.cache.Set(ctx, key, data, g.cacheTTL(key)); err != nil {
				g.logger.Warn("cache write failed", "key", key, "error", err)
			}
		}
	}
	return events
}

// Invalidate drops every cached query whose key starts with prefix
func (g *Gateway) Invalidate(ctx context.Context, prefix string) {
	if g.cache == nil {
		return
	}
	if err := g.cache.DeletePrefix(ctx, prefix); err != nil {
		g.logger.Warn("cache invalidation failed", "prefix", prefix, "error", err)
	}
}

// Latest returns the newest event of kind by author on the default endpoints
func (g *Gateway) Latest(ctx context.Context, author string, kind int, deadline time.Duration) *nostr.Event {
	return g.LatestFrom(ctx, nil, author, kind, deadline)
}

// LatestFrom returns the newest event of kind by author on urls, or nil
func (g *Gateway) LatestFrom(ctx context.Context, urls []string, author string, kind int, deadline time.Duration) *nostr.Event {
	events := g.QueryFrom(ctx, urls, nostr.Filters{{
		Kinds:   []int{kind},
		Authors: []string{author},
		Limit:   1,
	}}, deadline)
	return LatestOf(events, func(ev *nostr.Event) bool {
		return ev.PubKey == author && ev.Kind == kind
	})
}

// FetchEvent looks an event up by id, or returns nil
func (g *Gateway) FetchEvent(ctx context.Context, id string, deadline time.Duration) *nostr.Event {
	events := g.Query(ctx, nostr.Filters{{IDs: []string{id}, Limit: 1}}, deadline)
	for _, ev := range events {
		if ev.ID == id {
			return ev
		}
	}
	return nil
}

// Tombstoned returns the ids among events that their own author has requested
// deleted. Deletion requests from anyone else are ignored.
func (g *Gateway) Tombstoned(ctx context.Context, events []*nostr.Event, deadline time.Duration) map[string]bool {
	tombstoned := make(map[string]bool)
	if len(events) == 0 {
		return tombstoned
	}

	authors := make(map[string]string, len(events))
	ids := make([]string, 0, len(events))
	for _, ev := range events {
		authors[ev.ID] = ev.PubKey
		ids = append(ids, ev.ID)
	}

	deletions := g.Query(ctx, nostr.Filters{{
		Kinds: []int{KindDeletion},
		Tags:  nostr.TagMap{"e": ids},
	}}, deadline)

	for _, del := range deletions {
		if del.Kind != KindDeletion {
			continue
		}
		for _, tag := range del.Tags {
			if len(tag) < 2 || tag[0] != "e" {
				continue
			}
			if author, ok := authors[tag[1]]; ok && author == del.PubKey {
				tombstoned[tag[1]] = true
			}
		}
	}
	return tombstoned
}

// EndpointOutcome is the result of publishing to one endpoint
type EndpointOutcome struct {
	URL      string
	Attempts int
	Err      error
}

// Accepted reports whether the endpoint accepted the event
func (o EndpointOutcome) Accepted() bool {
	return o.Err == nil
}

// PublishReport collects per-endpoint outcomes of one publish
type PublishReport struct {
	EventID  string
	Outcomes []EndpointOutcome
}

// OK reports whether at least one endpoint accepted the event
func (r PublishReport) OK() bool {
	for _, o := range r.Outcomes {
		if o.Accepted() {
			return true
		}
	}
	return false
}

// AcceptedBy lists the endpoints that accepted the event
func (r PublishReport) AcceptedBy() []string {
	var urls []string
	for _, o := range r.Outcomes {
		if o.Accepted() {
			urls = append(urls, o.URL)
		}
	}
	return urls
}

// Failed lists the endpoints that rejected the event after all attempts
func (r PublishReport) Failed() []EndpointOutcome {
	var failed []EndpointOutcome
	for _, o := range r.Outcomes {
		if !o.Accepted() {
			failed = append(failed, o)
		}
	}
	return failed
}

// Err returns ErrNotAccepted when no endpoint accepted the event
func (r PublishReport) Err() error {
	if r.OK() {
		return nil
	}
	return fmt.Errorf("event %s: %w", r.EventID, ErrNotAccepted)
}

// Publish sends a signed event to urls (or the default set when empty). Every
// endpoint runs its own retry sequence concurrently.
func (g *Gateway) Publish(ctx context.Context, event *nostr.Event, urls []string) PublishReport {
	endpoints, missing := g.resolve(urls)
	report := PublishReport{
		EventID:  event.ID,
		Outcomes: make([]EndpointOutcome, len(endpoints), len(endpoints)+len(missing)),
	}

	var eg errgroup.Group
	for i, ep := range endpoints {
		eg.Go(func() error {
			report.Outcomes[i] = g.publishOne(ctx, ep, *event)
			return nil
		})
	}
	_ = eg.Wait()

	for _, u := range missing {
		report.Outcomes = append(report.Outcomes, EndpointOutcome{URL: u, Err: fmt.Errorf("no endpoint for %s", u)})
	}
	return report
}

func (g *Gateway) publishOne(ctx context.Context, ep Endpoint, event nostr.Event) EndpointOutcome {
	outcome := EndpointOutcome{URL: ep.URL()}

	op := func() error {
		outcome.Attempts++
		actx, cancel := context.WithTimeout(ctx, g.publishTimeout)
		defer cancel()

		err := ep.Publish(actx, event)
		g.metrics.ObservePublish(ep.URL(), err)
		g.logger.LogPublishAttempt(ep.URL(), event.ID, outcome.Attempts, err)
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(g.publishBackoff), uint64(g.publishAttempts-1)),
		ctx,
	)
	outcome.Err = backoff.Retry(op, policy)
	return outcome
}

// SignAndPublish signs draft with signer and publishes it to urls
func (g *Gateway) SignAndPublish(ctx context.Context, signer Signer, draft *nostr.Event, urls []string) (PublishReport, error) {
	if err := Sign(ctx, signer, draft); err != nil {
		return PublishReport{}, err
	}
	report := g.Publish(ctx, draft, urls)
	if failed := report.Failed(); len(failed) > 0 && report.OK() {
		g.logger.Warn("event published with partial failures",
			"event_id", draft.ID,
			"kind", draft.Kind,
			"accepted", len(report.AcceptedBy()),
			"failed", len(failed))
	}
	return report, report.Err()
}

// SortNewestFirst orders events by created_at descending, ties broken by id
func SortNewestFirst(events []*nostr.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].CreatedAt != events[j].CreatedAt {
			return events[i].CreatedAt > events[j].CreatedAt
		}
		return events[i].ID < events[j].ID
	})
}

// SortOldestFirst orders events by created_at ascending, ties broken by id
func SortOldestFirst(events []*nostr.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].CreatedAt != events[j].CreatedAt {
			return events[i].CreatedAt < events[j].CreatedAt
		}
		return events[i].ID < events[j].ID
	})
}

// LatestOf picks the event with the greatest created_at among those accepted by keep;
// equal timestamps resolve to the lowest id. Returns nil when none qualify.
func LatestOf(events []*nostr.Event, keep func(*nostr.Event) bool) *nostr.Event {
	var latest *nostr.Event
	for _, ev := range events {
		if keep != nil && !keep(ev) {
			continue
		}
		if latest == nil ||
			ev.CreatedAt > latest.CreatedAt ||
			(ev.CreatedAt == latest.CreatedAt && ev.ID < latest.ID) {
			latest = ev
		}
	}
	return latest
}

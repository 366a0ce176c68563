package nostr_test

import (
	"context"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandwichfarm/zapline/internal/cache"
	internalnostr "github.com/sandwichfarm/zapline/internal/nostr"
	"github.com/sandwichfarm/zapline/internal/nostr/nostrtest"
	"github.com/sandwichfarm/zapline/internal/ops"
)

func newGateway(endpoints ...internalnostr.Endpoint) *internalnostr.Gateway {
	return internalnostr.NewGateway(endpoints,
		internalnostr.WithLogger(ops.Discard()),
		internalnostr.WithPublishPolicy(3, time.Millisecond, time.Second),
	)
}

func TestQueryMergesAndDeduplicates(t *testing.T) {
	alice := nostrtest.NewIdentity()
	e1 := alice.Event(t, 1, "one", nil, 100)
	e2 := alice.Event(t, 1, "two", nil, 200)
	e3 := alice.Event(t, 1, "three", nil, 300)

	a := nostrtest.NewEndpoint("wss://a.test")
	b := nostrtest.NewEndpoint("wss://b.test")
	a.Add(e1, e2)
	b.Add(e2, e3)

	events := newGateway(a, b).Query(context.Background(), nostr.Filters{{Kinds: []int{1}}}, time.Second)

	require.Len(t, events, 3)
	assert.Equal(t, e3.ID, events[0].ID)
	assert.Equal(t, e2.ID, events[1].ID)
	assert.Equal(t, e1.ID, events[2].ID)
}

func TestQueryPartialSuccess(t *testing.T) {
	alice := nostrtest.NewIdentity()
	note := alice.Event(t, 1, "hello", nil, 100)

	fast := nostrtest.NewEndpoint("wss://fast.test")
	fast.Add(note)
	slow1 := nostrtest.NewEndpoint("wss://slow1.test")
	slow1.Delay = time.Second
	slow1.Add(alice.Event(t, 1, "late", nil, 200))
	slow2 := nostrtest.NewEndpoint("wss://slow2.test")
	slow2.Delay = time.Second

	start := time.Now()
	events := newGateway(fast, slow1, slow2).Query(context.Background(), nostr.Filters{{Kinds: []int{1}}}, 50*time.Millisecond)
	elapsed := time.Since(start)

	require.Len(t, events, 1)
	assert.Equal(t, note.ID, events[0].ID)
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestQueryAllFailingIsEmpty(t *testing.T) {
	a := nostrtest.NewEndpoint("wss://a.test")
	a.QueryErr = assert.AnError
	b := nostrtest.NewEndpoint("wss://b.test")
	b.Delay = time.Second

	events := newGateway(a, b).Query(context.Background(), nostr.Filters{{Kinds: []int{1}}}, 20*time.Millisecond)
	assert.Empty(t, events)
}

func TestPublishRetriesPerEndpoint(t *testing.T) {
	alice := nostrtest.NewIdentity()
	ev := alice.Event(t, 1, "hi", nil, nostr.Now())

	flaky := nostrtest.NewEndpoint("wss://flaky.test")
	flaky.PublishFailures = 2
	dead := nostrtest.NewEndpoint("wss://dead.test")
	dead.RejectAll = true
	good := nostrtest.NewEndpoint("wss://good.test")

	report := newGateway(flaky, dead, good).Publish(context.Background(), ev, nil)

	assert.True(t, report.OK())
	assert.NoError(t, report.Err())
	assert.ElementsMatch(t, []string{"wss://flaky.test", "wss://good.test"}, report.AcceptedBy())

	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "wss://dead.test", failed[0].URL)
	assert.Equal(t, 3, failed[0].Attempts)
	assert.Equal(t, 3, flaky.PublishCount())
	assert.Equal(t, 1, good.PublishCount())
	assert.True(t, flaky.Has(ev.ID))
}

func TestPublishNoneAccepted(t *testing.T) {
	alice := nostrtest.NewIdentity()
	ev := alice.Event(t, 1, "hi", nil, nostr.Now())

	dead := nostrtest.NewEndpoint("wss://dead.test")
	dead.RejectAll = true

	report := newGateway(dead).Publish(context.Background(), ev, nil)
	assert.False(t, report.OK())
	assert.ErrorIs(t, report.Err(), internalnostr.ErrNotAccepted)
}

func TestPublishToUnknownRelay(t *testing.T) {
	alice := nostrtest.NewIdentity()
	ev := alice.Event(t, 1, "hi", nil, nostr.Now())

	known := nostrtest.NewEndpoint("wss://known.test")
	report := newGateway(known).Publish(context.Background(), ev, []string{"wss://known.test", "wss://other.test"})

	require.Len(t, report.Outcomes, 2)
	assert.ElementsMatch(t, []string{"wss://known.test"}, report.AcceptedBy())
	assert.Equal(t, "wss://other.test", report.Failed()[0].URL)
}

func TestPublishDialsUnknownRelay(t *testing.T) {
	alice := nostrtest.NewIdentity()
	ev := alice.Event(t, 1, "hi", nil, nostr.Now())

	other := nostrtest.NewEndpoint("wss://other.test")
	gw := internalnostr.NewGateway(nil,
		internalnostr.WithLogger(ops.Discard()),
		internalnostr.WithDialer(func(url string) internalnostr.Endpoint {
			if url == other.URL() {
				return other
			}
			return nostrtest.NewEndpoint(url)
		}),
	)

	report := gw.Publish(context.Background(), ev, []string{"wss://other.test/"})
	assert.True(t, report.OK())
	assert.True(t, other.Has(ev.ID))
}

func TestSignAndPublish(t *testing.T) {
	alice := nostrtest.NewIdentity()
	ep := nostrtest.NewEndpoint("wss://a.test")
	gw := newGateway(ep)

	draft := &nostr.Event{Kind: 1, Content: "signed", CreatedAt: nostr.Now()}
	report, err := gw.SignAndPublish(context.Background(), alice.Signer(), draft, nil)
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, alice.PublicKey, draft.PubKey)
	ok, err := draft.CheckSignature()
	require.NoError(t, err)
	assert.True(t, ok)

	declining := alice.Signer()
	declining.Decline = true
	_, err = gw.SignAndPublish(context.Background(), declining, &nostr.Event{Kind: 1}, nil)
	assert.ErrorIs(t, err, internalnostr.ErrSignerDeclined)
	assert.Equal(t, 1, ep.PublishCount())
}

func TestLatestPicksNewestAcrossEndpoints(t *testing.T) {
	alice := nostrtest.NewIdentity()
	older := alice.Event(t, 3, "", nostr.Tags{{"p", "old"}}, 100)
	newer := alice.Event(t, 3, "", nostr.Tags{{"p", "new"}}, 200)

	a := nostrtest.NewEndpoint("wss://a.test")
	b := nostrtest.NewEndpoint("wss://b.test")
	a.Add(older)
	b.Add(newer)

	latest := newGateway(a, b).Latest(context.Background(), alice.PublicKey, 3, time.Second)
	require.NotNil(t, latest)
	assert.Equal(t, newer.ID, latest.ID)

	assert.Nil(t, newGateway(a, b).Latest(context.Background(), alice.PublicKey, 0, time.Second))
}

func TestLatestOfTieBreak(t *testing.T) {
	x := &nostr.Event{ID: "bbb", CreatedAt: 10}
	y := &nostr.Event{ID: "aaa", CreatedAt: 10}
	z := &nostr.Event{ID: "ccc", CreatedAt: 5}

	assert.Equal(t, "aaa", internalnostr.LatestOf([]*nostr.Event{x, y, z}, nil).ID)
	assert.Equal(t, "aaa", internalnostr.LatestOf([]*nostr.Event{y, x, z}, nil).ID)
	assert.Nil(t, internalnostr.LatestOf(nil, nil))
}

func TestTombstonedOnlyByOwnAuthor(t *testing.T) {
	alice := nostrtest.NewIdentity()
	mallory := nostrtest.NewIdentity()

	r1 := alice.Event(t, 7, "+", nostr.Tags{{"e", "target"}}, 100)
	r2 := alice.Event(t, 7, "+", nostr.Tags{{"e", "target"}}, 101)
	ownDelete := alice.Event(t, 5, "", nostr.Tags{{"e", r1.ID}}, 110)
	foreignDelete := mallory.Event(t, 5, "", nostr.Tags{{"e", r2.ID}}, 111)

	ep := nostrtest.NewEndpoint("wss://a.test")
	ep.Add(r1, r2, ownDelete, foreignDelete)

	tomb := newGateway(ep).Tombstoned(context.Background(), []*nostr.Event{r1, r2}, time.Second)
	assert.True(t, tomb[r1.ID])
	assert.False(t, tomb[r2.ID])
}

func TestQueryCached(t *testing.T) {
	alice := nostrtest.NewIdentity()
	ep := nostrtest.NewEndpoint("wss://a.test")
	ep.Add(alice.Event(t, 9735, "", nostr.Tags{{"e", "target"}}, 100))

	store := cache.NewMemoryStore()
	gw := internalnostr.NewGateway([]internalnostr.Endpoint{ep},
		internalnostr.WithLogger(ops.Discard()),
		internalnostr.WithCache(store, nil),
	)
	ctx := context.Background()
	filters := nostr.Filters{{Kinds: []int{9735}, Tags: nostr.TagMap{"e": {"target"}}}}

	first := gw.QueryCached(ctx, "zaps:target", filters, time.Second)
	require.Len(t, first, 1)
	second := gw.QueryCached(ctx, "zaps:target", filters, time.Second)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, 1, ep.QueryCount())

	ep.Add(alice.Event(t, 9735, "", nostr.Tags{{"e", "target"}}, 200))
	gw.Invalidate(ctx, "zaps:")

	third := gw.QueryCached(ctx, "zaps:target", filters, time.Second)
	assert.Len(t, third, 2)
	assert.Equal(t, 2, ep.QueryCount())
}

func TestDiscoveryRelays(t *testing.T) {
	alice := nostrtest.NewIdentity()
	list := alice.Event(t, internalnostr.KindRelayList, "", nostr.Tags{
		{"r", "wss://inbox.test", "read"},
		{"r", "wss://outbox.test", "write"},
	}, 100)

	ep := nostrtest.NewEndpoint("wss://a.test")
	ep.Add(list)
	d := internalnostr.NewDiscovery(newGateway(ep), time.Second)
	ctx := context.Background()

	assert.Equal(t, []string{"wss://inbox.test"}, d.InboxRelays(ctx, alice.PublicKey))
	assert.Equal(t, []string{"wss://outbox.test"}, d.OutboxRelays(ctx, alice.PublicKey))
	assert.Empty(t, d.InboxRelays(ctx, nostrtest.NewIdentity().PublicKey))
}

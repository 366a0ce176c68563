package aggregates

import (
	"context"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandwichfarm/zapline/internal/nostr/nostrtest"
	"github.com/sandwichfarm/zapline/internal/ops"
)

func ids(events []*nostr.Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.ID)
	}
	return out
}

// chain publishes A <- B <- C with marked NIP-10 tags
func chain(t *testing.T, ep *nostrtest.Endpoint) (a, b, c *nostr.Event) {
	user := nostrtest.NewIdentity()
	now := nostr.Now()
	a = user.Event(t, 1, "root", nil, now-300)
	b = user.Event(t, 1, "reply", nostr.Tags{{"e", a.ID, "", "root"}}, now-200)
	c = user.Event(t, 1, "nested", nostr.Tags{
		{"e", a.ID, "", "root"},
		{"e", b.ID, "", "reply"},
	}, now-100)
	ep.Add(a, b, c)
	return a, b, c
}

func TestGetRepliesDirectChildrenOnly(t *testing.T) {
	ctx := context.Background()
	ep := nostrtest.NewEndpoint("wss://relay.test")
	a, b, c := chain(t, ep)

	th := NewThreads(newTestGateway(ep), testDeadline, 3, ops.Discard())

	assert.Equal(t, []string{b.ID}, ids(th.GetReplies(ctx, a.ID)))
	assert.Equal(t, []string{c.ID}, ids(th.GetReplies(ctx, b.ID)))
	assert.Empty(t, th.GetReplies(ctx, c.ID))
}

func TestGetRepliesPositionalTags(t *testing.T) {
	ctx := context.Background()
	ep := nostrtest.NewEndpoint("wss://relay.test")
	user := nostrtest.NewIdentity()

	a := user.Event(t, 1, "root", nil, nostr.Now()-300)
	b := user.Event(t, 1, "reply", nostr.Tags{{"e", a.ID}}, nostr.Now()-200)
	c := user.Event(t, 1, "nested", nostr.Tags{{"e", a.ID}, {"e", b.ID}}, nostr.Now()-100)
	ep.Add(a, b, c)

	th := NewThreads(newTestGateway(ep), testDeadline, 3, ops.Discard())
	assert.Equal(t, []string{b.ID}, ids(th.GetReplies(ctx, a.ID)))
	assert.Equal(t, []string{c.ID}, ids(th.GetReplies(ctx, b.ID)))
}

func TestBuildThreadDepthLimit(t *testing.T) {
	ctx := context.Background()
	ep := nostrtest.NewEndpoint("wss://relay.test")
	a, b, c := chain(t, ep)

	th := NewThreads(newTestGateway(ep), testDeadline, 3, ops.Discard())

	full := th.BuildThread(ctx, a.ID, 0)
	require.Len(t, full.Nodes, 3)
	assert.Equal(t, a.ID, full.Root().Event.ID)
	assert.Equal(t, []string{b.ID}, full.Root().ChildIDs)
	assert.Equal(t, b.ID, full.Nodes[c.ID].ParentID)
	assert.Equal(t, 2, full.Nodes[c.ID].Depth)

	shallow := th.BuildThread(ctx, a.ID, 1)
	require.Len(t, shallow.Nodes, 2)
	assert.NotContains(t, shallow.Nodes, c.ID)
	assert.Equal(t, 1, shallow.Nodes[b.ID].HiddenReplies)

	var walked []string
	full.Walk(func(n *ThreadNode) { walked = append(walked, n.ID) })
	assert.Equal(t, []string{a.ID, b.ID, c.ID}, walked)
}

func TestAncestors(t *testing.T) {
	ctx := context.Background()
	ep := nostrtest.NewEndpoint("wss://relay.test")
	a, b, c := chain(t, ep)

	th := NewThreads(newTestGateway(ep), testDeadline, 3, ops.Discard())

	assert.Equal(t, []string{a.ID, b.ID}, ids(th.Ancestors(ctx, c, 10)))
	assert.Equal(t, []string{b.ID}, ids(th.Ancestors(ctx, c, 1)))
	assert.Empty(t, th.Ancestors(ctx, a, 10))
}

func TestGetRepliesFollowsLastETag(t *testing.T) {
	ctx := context.Background()
	ep := nostrtest.NewEndpoint("wss://relay.test")
	user := nostrtest.NewIdentity()
	now := nostr.Now()

	a := user.Event(t, 1, "parent", nil, now-300)
	m := user.Event(t, 1, "quoted", nil, now-250)
	x := user.Event(t, 1, "reply then mention", nostr.Tags{
		{"e", a.ID, "", "reply"},
		{"e", m.ID, "", "mention"},
	}, now-200)
	y := user.Event(t, 1, "lone mention", nostr.Tags{{"e", a.ID, "", "mention"}}, now-100)
	ep.Add(a, m, x, y)

	th := NewThreads(newTestGateway(ep), testDeadline, 3, ops.Discard())

	assert.Equal(t, []string{y.ID}, ids(th.GetReplies(ctx, a.ID)))
	assert.Equal(t, []string{x.ID}, ids(th.GetReplies(ctx, m.ID)))

	thread := th.BuildThread(ctx, m.ID, 0)
	assert.Equal(t, m.ID, thread.Nodes[x.ID].ParentID)
	assert.Equal(t, []string{m.ID}, ids(th.Ancestors(ctx, x, 5)))
}

package aggregates

import (
	"context"
	"time"

	"github.com/nbd-wtf/go-nostr"

	internalnostr "github.com/sandwichfarm/zapline/internal/nostr"
	"github.com/sandwichfarm/zapline/internal/ops"
)

// DefaultThreadDepth is how many reply levels BuildThread expands by default
const DefaultThreadDepth = 3

// ThreadNode is one event in a thread arena. Children are referenced by id.
type ThreadNode struct {
	ID       string
	Event    *nostr.Event
	ParentID string
	ChildIDs []string
	Depth    int
	// HiddenReplies counts direct replies that were not expanded because the
	// node sits at the depth limit
	HiddenReplies int
}

// Thread is an arena of nodes keyed by event id
type Thread struct {
	RootID   string
	Nodes    map[string]*ThreadNode
	MaxDepth int
}

// Root returns the root node
func (t *Thread) Root() *ThreadNode {
	return t.Nodes[t.RootID]
}

// Children returns the child nodes of id, oldest first
func (t *Thread) Children(id string) []*ThreadNode {
	node, ok := t.Nodes[id]
	if !ok {
		return nil
	}
	children := make([]*ThreadNode, 0, len(node.ChildIDs))
	for _, childID := range node.ChildIDs {
		if child, ok := t.Nodes[childID]; ok {
			children = append(children, child)
		}
	}
	return children
}

// Walk visits nodes depth first starting at the root, children oldest first
func (t *Thread) Walk(fn func(*ThreadNode)) {
	var visit func(id string)
	seen := make(map[string]bool, len(t.Nodes))
	visit = func(id string) {
		if seen[id] {
			return
		}
		seen[id] = true
		node, ok := t.Nodes[id]
		if !ok {
			return
		}
		fn(node)
		for _, childID := range node.ChildIDs {
			visit(childID)
		}
	}
	visit(t.RootID)
}

// Threads reconstructs reply trees from kind 1 back-references
type Threads struct {
	gateway  *internalnostr.Gateway
	deadline time.Duration
	maxDepth int
	logger   *ops.Logger
}

// NewThreads creates a thread reconstructor. maxDepth <= 0 uses DefaultThreadDepth.
func NewThreads(gw *internalnostr.Gateway, deadline time.Duration, maxDepth int, logger *ops.Logger) *Threads {
	if deadline <= 0 {
		deadline = internalnostr.DeadlineLookup
	}
	if maxDepth <= 0 {
		maxDepth = DefaultThreadDepth
	}
	if logger == nil {
		logger = ops.Default()
	}
	return &Threads{
		gateway:  gw,
		deadline: deadline,
		maxDepth: maxDepth,
		logger:   logger.WithComponent("threads"),
	}
}

// MaxDepth is the configured expansion limit
func (th *Threads) MaxDepth() int {
	return th.maxDepth
}

func replyFilter(ids []string) nostr.Filters {
	return nostr.Filters{{
		Kinds: []int{internalnostr.KindNote},
		Tags:  nostr.TagMap{"e": ids},
		Limit: interactionLimit,
	}}
}

// GetReplies returns the direct replies to eventID, oldest first. A note is a
// direct reply only when its last e tag is eventID.
func (th *Threads) GetReplies(ctx context.Context, eventID string) []*nostr.Event {
	events := th.gateway.Query(ctx, replyFilter([]string{eventID}), th.deadline)

	replies := make([]*nostr.Event, 0, len(events))
	for _, ev := range events {
		if ev.ID == eventID || ev.Kind != internalnostr.KindNote {
			continue
		}
		if IsReplyTo(ev, eventID) {
			replies = append(replies, ev)
		}
	}
	internalnostr.SortOldestFirst(replies)
	return replies
}

// BuildThread expands the reply tree under rootID one level per query. Nodes at
// maxDepth are not expanded; their direct replies are only counted.
func (th *Threads) BuildThread(ctx context.Context, rootID string, maxDepth int) *Thread {
	if maxDepth <= 0 {
		maxDepth = th.maxDepth
	}

	thread := &Thread{
		RootID:   rootID,
		Nodes:    make(map[string]*ThreadNode),
		MaxDepth: maxDepth,
	}
	thread.Nodes[rootID] = &ThreadNode{
		ID:    rootID,
		Event: th.gateway.FetchEvent(ctx, rootID, th.deadline),
	}

	frontier := []string{rootID}
	for depth := 0; len(frontier) > 0; depth++ {
		if err := ctx.Err(); err != nil {
			break
		}

		inFrontier := make(map[string]bool, len(frontier))
		for _, id := range frontier {
			inFrontier[id] = true
		}

		events := th.gateway.Query(ctx, replyFilter(frontier), th.deadline)
		internalnostr.SortOldestFirst(events)

		var next []string
		for _, ev := range events {
			if ev.Kind != internalnostr.KindNote {
				continue
			}
			parentID := parentOf(ev)
			if !inFrontier[parentID] {
				continue
			}
			parent := thread.Nodes[parentID]

			if depth >= maxDepth {
				parent.HiddenReplies++
				continue
			}
			// Visited guard: a node already placed keeps its first position
			if _, seen := thread.Nodes[ev.ID]; seen {
				continue
			}

			thread.Nodes[ev.ID] = &ThreadNode{
				ID:       ev.ID,
				Event:    ev,
				ParentID: parentID,
				Depth:    depth + 1,
			}
			parent.ChildIDs = append(parent.ChildIDs, ev.ID)
			next = append(next, ev.ID)
		}

		if depth >= maxDepth {
			break
		}
		frontier = next
	}

	th.logger.Debug("thread built", "root", rootID, "nodes", len(thread.Nodes), "max_depth", maxDepth)
	return thread
}

// Ancestors walks parent references upward from event and returns up to limit
// ancestors, root first. The walk stops at the first parent that cannot be found.
func (th *Threads) Ancestors(ctx context.Context, event *nostr.Event, limit int) []*nostr.Event {
	if limit <= 0 {
		limit = th.maxDepth
	}

	var chain []*nostr.Event
	visited := map[string]bool{event.ID: true}
	current := event
	for len(chain) < limit {
		parentID := parentOf(current)
		if parentID == "" || visited[parentID] {
			break
		}
		visited[parentID] = true

		parent := th.gateway.FetchEvent(ctx, parentID, th.deadline)
		if parent == nil {
			break
		}
		chain = append(chain, parent)
		current = parent
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}
